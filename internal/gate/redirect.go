package gate

import (
	"net/url"
	"strings"
)

// SafeCallbackPath はログイン後の戻り先として安全な相対パスを返す。
// 単一の "/" で始まり、スキームやホストを含まないパスのみ許可し、それ以外は "/" を返す。
func SafeCallbackPath(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.HasPrefix(raw, "/") {
		return "/"
	}
	if strings.HasPrefix(raw, "//") || strings.ContainsAny(raw, "\\\r\n\t") {
		return "/"
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" || u.User != nil {
		return "/"
	}
	return raw
}
