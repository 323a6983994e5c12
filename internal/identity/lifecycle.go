package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Backend は内部IdPのバックエンド種別。
type Backend string

const (
	BackendFirebase Backend = "firebase"
	BackendLocal    Backend = "local"
)

// Config はInitに渡すバックエンド設定。
type Config struct {
	Backend     Backend
	Firebase    FirebaseConfig
	LocalSecret string
}

// ErrNotInitialized はInit前にCurrentが呼ばれたことを表す。
var ErrNotInitialized = errors.New("identity: provider is not initialized")

// プロセス全体で共有するプロバイダー。起動時にInitで1回だけ初期化し、
// リクエストハンドラーには依存注入で渡す。
var (
	mu      sync.Mutex
	current Provider
)

// Init はプロセス全体の内部IdPプロバイダーを初期化する。
// 既に初期化済みの場合は何もせず既存のプロバイダーを返す（冪等）。
func Init(ctx context.Context, cfg Config) (Provider, error) {
	mu.Lock()
	defer mu.Unlock()

	if current != nil {
		return current, nil
	}

	var (
		p   Provider
		err error
	)
	switch cfg.Backend {
	case BackendFirebase:
		p, err = NewFirebaseProvider(ctx, cfg.Firebase)
	case BackendLocal:
		p, err = NewLocalProvider([]byte(cfg.LocalSecret))
	default:
		return nil, fmt.Errorf("unknown identity backend: %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	current = p
	slog.Info("identity provider initialized", slog.String("backend", string(cfg.Backend)))
	return current, nil
}

// Current は初期化済みのプロバイダーを返す。
func Current() (Provider, error) {
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		return nil, ErrNotInitialized
	}
	return current, nil
}

// Shutdown はプロバイダーを解放する。未初期化でもエラーにならない（冪等）。
// Firebase Admin SDKは明示的なクローズを持たないため参照を破棄するのみ。
func Shutdown(_ context.Context) error {
	mu.Lock()
	defer mu.Unlock()
	if current != nil {
		slog.Info("identity provider shut down")
	}
	current = nil
	return nil
}
