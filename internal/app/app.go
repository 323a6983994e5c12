package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/tsunagu/internal/auth"
	"github.com/hitoshi/tsunagu/internal/config"
	"github.com/hitoshi/tsunagu/internal/database"
	"github.com/hitoshi/tsunagu/internal/gate"
	"github.com/hitoshi/tsunagu/internal/handler"
	"github.com/hitoshi/tsunagu/internal/identity"
	"github.com/hitoshi/tsunagu/internal/line"
	"github.com/hitoshi/tsunagu/internal/logger"
	"github.com/hitoshi/tsunagu/internal/metrics"
	"github.com/hitoshi/tsunagu/internal/middleware"
	"github.com/hitoshi/tsunagu/internal/profile"
	"github.com/hitoshi/tsunagu/internal/repository"
	"github.com/hitoshi/tsunagu/internal/security"
	"github.com/hitoshi/tsunagu/internal/session"
	"github.com/hitoshi/tsunagu/internal/telemetry"
	"github.com/hitoshi/tsunagu/internal/webhook"
)

const (
	dbPingTimeout   = 5 * time.Second
	shutdownTimeout = 30 * time.Second
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("identity_backend", cfg.IdentityBackend),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. トレース
	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Error("failed to flush traces", slog.String("error", err.Error()))
		}
	}()

	// 2. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")

	// 3. 内部IdPの初期化（プロセスで1回）
	idp, err := identity.Init(ctx, cfg.IdentityConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize identity provider: %w", err)
	}
	defer identity.Shutdown(context.Background())

	// 4. ルーターの構築
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv, err := newServer(cfg, postgresStores(db), idp, reg)
	if err != nil {
		return err
	}
	defer srv.close()

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// server はワイヤリング済みのHTTPハンドラーとその後始末をまとめたもの。
type server struct {
	handler http.Handler
	close   func()
}

// stores はサーバーが使う永続化層。
type stores struct {
	identities repository.IdentityRepository
	profiles   repository.ProfileRepository
	health     repository.HealthChecker
}

// postgresStores はPostgreSQL実装のstoresを返す。
func postgresStores(db *sql.DB) stores {
	return stores{
		identities: repository.NewPostgresIdentityRepo(db),
		profiles:   repository.NewPostgresProfileRepo(db),
		health:     db,
	}
}

// newServer はリポジトリ・サービス・ハンドラーを組み立ててルーターを返す。
func newServer(cfg *config.Config, st stores, idp identity.Provider, reg *prometheus.Registry) (*server, error) {
	mc := metrics.NewCollector(reg)
	sanitizer := security.NewTextSanitizer()

	identRepo := st.identities
	profileRepo := st.profiles

	// LINEログイン: 交換 → 紐付け → 発行
	oauthProvider := auth.NewLineOAuthProvider(auth.LineOAuthConfig{
		ChannelID:     cfg.LineChannelID,
		ChannelSecret: cfg.LineChannelSecret,
		RedirectURL:   cfg.LineRedirectURL,
		Timeout:       cfg.OutboundTimeout,
		AuthURL:       cfg.LineAuthURL,
		TokenURL:      cfg.LineTokenURL,
		ProfileURL:    cfg.LineProfileURL,
	})
	authService := auth.NewService(
		oauthProvider,
		auth.NewLinker(identRepo, sanitizer),
		auth.NewMinter(idp),
		mc,
	)

	// セッション
	sessions, err := session.NewManager(idp, session.Config{
		Lifetime:       cfg.SessionLifetime,
		Cookie:         session.CookieConfig{Domain: cfg.CookieDomain, Secure: cfg.CookieSecure},
		RevokeOnLogout: cfg.RevokeOnLogout,
	}, mc)
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	routes, err := gate.LoadRouteTable(cfg.GateConfigPath)
	if err != nil {
		return nil, err
	}

	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.RateLimitAuth, cfg.RateLimitGeneral))

	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		RouteTable:        routes,
		Metrics:           mc,
		MetricsHandler:    metrics.Handler(reg),
		HealthChecker:     st.health,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CookieSecure:      cfg.CookieSecure,
		CookieDomain:      cfg.CookieDomain,
		RateLimiter:       limiter,
		TrustedProxies:    cfg.TrustedProxies,

		AuthService:    authService,
		Sessions:       sessions,
		ProfileService: profile.NewService(profileRepo, sanitizer),

		StaticDir: cfg.StaticDir,
	}

	if cfg.DevSignInEnabled {
		slog.Warn("dev sign-in endpoint is enabled")
		deps.DevSignIn = idp
	}

	// Webhook（シークレット未設定の場合は受け付けない）
	if cfg.LineMessagingChannelSecret != "" {
		var pusher webhook.Pusher
		if cfg.LineMessagingAccessToken != "" {
			pusher = line.NewClient(&http.Client{Timeout: cfg.OutboundTimeout}, slog.Default(), cfg.LineMessagingAccessToken)
		}
		deps.LineWebhook = webhook.NewLineHandler(cfg.LineMessagingChannelSecret, identRepo, profileRepo, pusher, mc)
	}
	if cfg.StripeWebhookSecret != "" {
		deps.StripeWebhook = webhook.NewStripeHandler(cfg.StripeWebhookSecret, profileRepo, mc)
	}

	return &server{
		handler: handler.NewRouter(deps),
		close:   limiter.Stop,
	}, nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	u.RawQuery = ""
	if _, ok := u.User.Password(); !ok {
		return u.String()
	}
	// url.UserPasswordは*をエスケープするため、ユーザー情報を外してから組み立てる
	username := url.User(u.User.Username()).String()
	u.User = nil
	return strings.Replace(u.String(), "://", "://"+username+":***@", 1)
}
