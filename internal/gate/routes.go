// Package gate はリクエストパスを分類し、セッションのないリクエストを
// ログインページへリダイレクトするリクエストゲートを提供する。
package gate

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Class はパスの分類。
type Class int

const (
	// Protected はセッションCookieを必要とするパス（既定）。
	Protected Class = iota
	// Public は常に通過させるパス。
	Public
	// AuthProcessing はセッションを確立する途中のパス。セッションなしでも通過させる。
	AuthProcessing
)

// String はメトリクスのラベルに使用する名前を返す。
func (c Class) String() string {
	switch c {
	case Public:
		return "public"
	case AuthProcessing:
		return "auth_processing"
	default:
		return "protected"
	}
}

// RouteTable はパス分類の定義。起動時に1回だけ構築し、以降は読み取り専用とする。
type RouteTable struct {
	// PublicPaths は完全一致（末尾スラッシュ付きも含む）で公開するパス。
	PublicPaths []string `yaml:"public_paths"`
	// AuthPrefixes は認証処理中のパスのプレフィックス。
	AuthPrefixes []string `yaml:"auth_prefixes"`
	// StaticPrefixes は静的アセットのプレフィックス。ゲートを経由しない。
	StaticPrefixes []string `yaml:"static_prefixes"`
}

// DefaultRouteTable は既定のパス分類を返す。
func DefaultRouteTable() RouteTable {
	return RouteTable{
		PublicPaths: []string{"/", "/login", "/signup", "/terms", "/privacy", "/health", "/metrics"},
		AuthPrefixes: []string{
			"/auth/",
			"/api/auth/",
			"/api/login",
			"/api/logout",
			"/api/webhooks/",
		},
		StaticPrefixes: []string{"/_next/", "/static/", "/assets/", "/favicon.ico", "/robots.txt"},
	}
}

// LoadRouteTable はYAMLファイルからパス分類を読み込む。
// pathが空の場合は既定値を返す。ファイルに記載したリストは既定値を置き換える。
func LoadRouteTable(path string) (RouteTable, error) {
	table := DefaultRouteTable()
	if path == "" {
		return table, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return RouteTable{}, fmt.Errorf("failed to read gate config: %w", err)
	}

	var loaded RouteTable
	decoder := yaml.NewDecoder(bytes.NewReader(b))
	decoder.KnownFields(true)
	if err := decoder.Decode(&loaded); err != nil {
		return RouteTable{}, fmt.Errorf("failed to parse gate config: %w", err)
	}

	if loaded.PublicPaths != nil {
		table.PublicPaths = loaded.PublicPaths
	}
	if loaded.AuthPrefixes != nil {
		table.AuthPrefixes = loaded.AuthPrefixes
	}
	if loaded.StaticPrefixes != nil {
		table.StaticPrefixes = loaded.StaticPrefixes
	}

	if err := table.validate(); err != nil {
		return RouteTable{}, err
	}
	return table, nil
}

func (t RouteTable) validate() error {
	for _, list := range [][]string{t.PublicPaths, t.AuthPrefixes, t.StaticPrefixes} {
		for _, p := range list {
			if !strings.HasPrefix(p, "/") {
				return fmt.Errorf("gate path %q must start with /", p)
			}
		}
	}
	return nil
}

// Classify はパスを Public → AuthProcessing → Protected の順に判定する。
func (t RouteTable) Classify(path string) Class {
	if t.isPublic(path) {
		return Public
	}
	for _, prefix := range t.AuthPrefixes {
		if hasSegmentPrefix(path, prefix) {
			return AuthProcessing
		}
	}
	return Protected
}

// IsStatic は静的アセットのパスかどうかを返す。
func (t RouteTable) IsStatic(path string) bool {
	for _, prefix := range t.StaticPrefixes {
		if hasSegmentPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (t RouteTable) isPublic(path string) bool {
	for _, p := range t.PublicPaths {
		if path == p {
			return true
		}
		if p != "/" && path == p+"/" {
			return true
		}
	}
	return false
}

// hasSegmentPrefix はパスセグメント単位でプレフィックス一致を判定する。
// "/api/login" は "/api/login" と "/api/login/x" に一致し、"/api/loginx" には一致しない。
func hasSegmentPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if strings.HasSuffix(prefix, "/") || len(path) == len(prefix) {
		return true
	}
	return path[len(prefix)] == '/'
}
