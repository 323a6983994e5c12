// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/hitoshi/tsunagu/internal/identity"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL,notEmpty"`

	// LINEログイン
	LineChannelID     string `env:"LINE_CHANNEL_ID,notEmpty"`
	LineChannelSecret string `env:"LINE_CHANNEL_SECRET,notEmpty"`
	LineRedirectURL   string `env:"LINE_REDIRECT_URL,notEmpty"`

	// モックサーバーに向ける場合のみ設定する。空の場合はLINEの本番エンドポイント
	LineAuthURL    string `env:"LINE_AUTH_URL"`
	LineTokenURL   string `env:"LINE_TOKEN_URL"`
	LineProfileURL string `env:"LINE_PROFILE_URL"`

	// LINE Messaging API（Webhookとプッシュ通知）。未設定の場合は無効
	LineMessagingChannelSecret string `env:"LINE_MESSAGING_CHANNEL_SECRET"`
	LineMessagingAccessToken   string `env:"LINE_MESSAGING_ACCESS_TOKEN"`

	// Stripe Webhook。未設定の場合は無効
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`

	// 内部IdP
	IdentityBackend         string `env:"IDENTITY_BACKEND" envDefault:"firebase"`
	FirebaseProjectID       string `env:"FIREBASE_PROJECT_ID"`
	FirebaseCredentialsFile string `env:"FIREBASE_CREDENTIALS_FILE"`
	FirebaseWebAPIKey       string `env:"FIREBASE_WEB_API_KEY"`
	LocalIdPSecret          string `env:"LOCAL_IDP_SECRET"`

	// Session
	SessionLifetime  time.Duration `env:"SESSION_LIFETIME" envDefault:"120h"`
	RevokeOnLogout   bool          `env:"REVOKE_ON_LOGOUT" envDefault:"true"`
	DevSignInEnabled bool          `env:"DEV_SIGN_IN_ENABLED" envDefault:"false"`
	OutboundTimeout  time.Duration `env:"OUTBOUND_TIMEOUT" envDefault:"10s"`
	GateConfigPath   string        `env:"GATE_CONFIG_PATH"`
	StaticDir        string        `env:"STATIC_DIR"`

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitAuth    int `env:"RATE_LIMIT_AUTH" envDefault:"30"`
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`

	// Tracing。未設定の場合はトレースをエクスポートしない
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL,notEmpty"`

	// TrustedProxies はX-Forwarded-For等を信頼するリバースプロキシのCIDR（カンマ区切り）
	TrustedProxies []netip.Prefix `env:"TRUSTED_PROXIES"`

	// Cookie
	CookieSecure bool   `env:"-"` // BASE_URLから導出する
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合や値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.SessionLifetime < identity.MinSessionLifetime || c.SessionLifetime > identity.MaxSessionLifetime {
		return fmt.Errorf("SESSION_LIFETIME must be between %s and %s, got %s",
			identity.MinSessionLifetime, identity.MaxSessionLifetime, c.SessionLifetime)
	}
	if c.OutboundTimeout <= 0 {
		return fmt.Errorf("OUTBOUND_TIMEOUT must be positive, got %s", c.OutboundTimeout)
	}
	if c.RateLimitAuth <= 0 || c.RateLimitGeneral <= 0 {
		return fmt.Errorf("rate limits must be positive (RATE_LIMIT_AUTH=%d, RATE_LIMIT_GENERAL=%d)",
			c.RateLimitAuth, c.RateLimitGeneral)
	}

	switch identity.Backend(c.IdentityBackend) {
	case identity.BackendFirebase:
		if c.FirebaseProjectID == "" {
			return fmt.Errorf("FIREBASE_PROJECT_ID is required when IDENTITY_BACKEND=firebase")
		}
	case identity.BackendLocal:
		if c.LocalIdPSecret == "" {
			return fmt.Errorf("LOCAL_IDP_SECRET is required when IDENTITY_BACKEND=local")
		}
	default:
		return fmt.Errorf("IDENTITY_BACKEND must be %q or %q, got %q",
			identity.BackendFirebase, identity.BackendLocal, c.IdentityBackend)
	}
	return nil
}

// IdentityConfig は内部IdPの初期化設定を返す。
func (c *Config) IdentityConfig() identity.Config {
	return identity.Config{
		Backend: identity.Backend(c.IdentityBackend),
		Firebase: identity.FirebaseConfig{
			ProjectID:       c.FirebaseProjectID,
			CredentialsFile: c.FirebaseCredentialsFile,
			WebAPIKey:       c.FirebaseWebAPIKey,
			Timeout:         c.OutboundTimeout,
		},
		LocalSecret: c.LocalIdPSecret,
	}
}
