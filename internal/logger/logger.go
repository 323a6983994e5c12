// Package logger は構造化ログの出力設定を提供する。
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// redacted はマスク後の値。
const redacted = "[REDACTED]"

// sensitiveKeys はログに値を出力しない属性キー。
// トークン・認可コード・Cookieはログから漏れてはならない。
var sensitiveKeys = map[string]struct{}{
	"token":          {},
	"id_token":       {},
	"access_token":   {},
	"refresh_token":  {},
	"custom_token":   {},
	"code":           {},
	"cookie":         {},
	"session_cookie": {},
	"authorization":  {},
	"secret":         {},
}

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// writerが指定された場合はそのwriterに出力する。
func Setup(w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       slog.LevelInfo,
		ReplaceAttr: redactSensitive,
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// writerが指定された場合はそのwriterに出力する。
// 本番ではos.Stdoutを渡すことを想定している。
func SetupDefault(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	logger := Setup(w)
	slog.SetDefault(logger)
}

func redactSensitive(_ []string, a slog.Attr) slog.Attr {
	if _, ok := sensitiveKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, redacted)
	}
	return a
}
