package handler

import (
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/tsunagu/internal/gate"
	"github.com/hitoshi/tsunagu/internal/metrics"
	"github.com/hitoshi/tsunagu/internal/middleware"
	"github.com/hitoshi/tsunagu/internal/repository"
)

// SessionServiceInterface はセッションの確立・検証・破棄をまとめたインターフェース。
// session.Managerが満たす。
type SessionServiceInterface interface {
	SessionManagerInterface
	middleware.SessionVerifier
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	RouteTable        gate.RouteTable
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler
	HealthChecker     repository.HealthChecker
	CORSAllowedOrigin string
	CookieSecure      bool
	CookieDomain      string
	RateLimiter       *middleware.RateLimiter // nilの場合はデフォルト設定で生成する
	// TrustedProxies からの接続に限りX-Forwarded-For等を信頼する。空の場合は常にRemoteAddrを使う
	TrustedProxies []netip.Prefix

	// 認証・セッション
	AuthService AuthServiceInterface
	Sessions    SessionServiceInterface
	// DevSignIn がnilでない場合のみ開発用サインインエンドポイントを公開する
	DevSignIn CustomTokenSigner

	// プロフィール
	ProfileService ProfileServiceInterface

	// Webhook。nilの場合はルートを登録しない
	LineWebhook   http.Handler
	StripeWebhook http.Handler

	// StaticDir が指定された場合、未定義のパスはフロントエンドの静的ファイルとして配信する
	StaticDir string
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RealIP（信頼済みプロキシのみ） → Logging → SecurityHeaders → CORS → RequestGate
//
// 保護されたAPIは更に Session → RateLimit(General) → CSRF を通過する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limiter := deps.RateLimiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewTrustedRealIPMiddleware(deps.TrustedProxies))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.CookieSecure))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(gate.NewMiddleware(deps.RouteTable, gate.DefaultLoginPath, deps.Metrics))

	csrfConfig := middleware.CSRFConfig{CookieSecure: deps.CookieSecure, CookieDomain: deps.CookieDomain}
	sessionMW := middleware.NewSessionMiddleware(deps.Sessions)

	authHandler := NewAuthHandler(deps.AuthService, AuthHandlerConfig{CookieSecure: deps.CookieSecure})
	sessionHandler := NewSessionHandler(deps.Sessions, deps.ProfileService, deps.DevSignIn)
	profileHandler := NewProfileHandler(deps.ProfileService)

	// --- 運用エンドポイント ---
	if deps.HealthChecker != nil {
		r.Get("/health", NewHealthHandler(deps.HealthChecker))
	}
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(csrfConfig).ServeHTTP)

	// --- ログインとセッション確立（IP単位のレート制限） ---
	r.Group(func(r chi.Router) {
		r.Use(limiter.AuthMiddleware())

		r.Get("/auth/line/login", authHandler.Login)
		r.Get("/auth/line/callback", authHandler.Callback)

		// どちらのログイン経路も同じセッション有効期間を使う
		r.Post("/api/auth/session", sessionHandler.CreateSession)
		r.Post("/api/login", sessionHandler.CreateSession)

		if deps.DevSignIn != nil {
			r.Post("/api/auth/dev/sign-in", sessionHandler.DevSignIn)
		}
	})
	r.Post("/api/logout", sessionHandler.Logout)

	// --- Webhook（署名で認証する） ---
	if deps.LineWebhook != nil {
		r.Method(http.MethodPost, "/api/webhooks/line", deps.LineWebhook)
	}
	if deps.StripeWebhook != nil {
		r.Method(http.MethodPost, "/api/webhooks/stripe", deps.StripeWebhook)
	}

	// --- 認証が必要なAPI ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(sessionMW)
		r.Use(limiter.GeneralMiddleware())

		r.Get("/api/auth/check", sessionHandler.Check)

		r.Route("/api/profile", func(r chi.Router) {
			r.Use(middleware.NewCSRFMiddleware(csrfConfig))
			r.Get("/", profileHandler.GetProfile)
			r.Put("/tags", profileHandler.UpdateTags)
			r.Put("/agreement", profileHandler.UpdateAgreement)
		})
	})

	if deps.StaticDir != "" {
		r.NotFound(newStaticHandler(deps.StaticDir).ServeHTTP)
	}

	return r
}

// newStaticHandler はビルド済みフロントエンドを配信するハンドラーを返す。
// ファイルが存在しないパスはindex.htmlを返す（クライアントサイドルーティング）。
func newStaticHandler(dir string) http.Handler {
	fileServer := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			middleware.WriteJSONError(w, http.StatusNotFound, "not found")
			return
		}
		p := filepath.Join(dir, filepath.FromSlash(filepath.Clean("/"+r.URL.Path)))
		if info, err := os.Stat(p); err != nil || info.IsDir() {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}
