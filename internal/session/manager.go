// Package session はIDトークンとセッションCookieの交換、検証、破棄を提供する。
// Cookie値の署名と検証は内部IdPに委譲する。
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/tsunagu/internal/identity"
	"github.com/hitoshi/tsunagu/internal/metrics"
	"github.com/hitoshi/tsunagu/internal/model"
)

// Config はセッション管理の設定。
type Config struct {
	// Lifetime は全てのログイン経路で共通のセッション有効期間。
	Lifetime       time.Duration
	Cookie         CookieConfig
	RevokeOnLogout bool
}

// Manager はセッションのライフサイクルを管理する。
type Manager struct {
	idp     identity.Provider
	config  Config
	metrics metrics.MetricsCollector
}

// NewManager はManagerを生成する。有効期間が内部IdPの許容範囲外の場合はエラーを返す。
func NewManager(idp identity.Provider, config Config, mc metrics.MetricsCollector) (*Manager, error) {
	if config.Lifetime < identity.MinSessionLifetime || config.Lifetime > identity.MaxSessionLifetime {
		return nil, fmt.Errorf("session lifetime %s must be between %s and %s",
			config.Lifetime, identity.MinSessionLifetime, identity.MaxSessionLifetime)
	}
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &Manager{idp: idp, config: config, metrics: mc}, nil
}

// Lifetime はセッションの有効期間を返す。
func (m *Manager) Lifetime() time.Duration {
	return m.config.Lifetime
}

// Establish はIDトークンを検証してセッションCookieに交換し、レスポンスに設定する。
// IDトークンが無効または期限切れの場合は理由invalid-id-tokenのUnauthorizedErrorを返す。
func (m *Manager) Establish(ctx context.Context, w http.ResponseWriter, idToken string) (*identity.Token, error) {
	if idToken == "" {
		m.metrics.RecordSession("establish", model.ReasonInvalidIDToken)
		return nil, &model.UnauthorizedError{Reason: model.ReasonInvalidIDToken, Err: errors.New("empty id token")}
	}

	tok, err := m.idp.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, m.establishError(err)
	}

	cookie, err := m.idp.CreateSessionCookie(ctx, idToken, m.config.Lifetime)
	if err != nil {
		return nil, m.establishError(err)
	}

	Write(w, cookie, m.config.Lifetime, m.config.Cookie)
	m.metrics.RecordSession("establish", "success")
	slog.Info("session established", slog.String("user_id", tok.UID))
	return tok, nil
}

func (m *Manager) establishError(err error) error {
	if errors.Is(err, identity.ErrUnavailable) {
		m.metrics.RecordSession("establish", "error")
		return fmt.Errorf("failed to establish session: %w", err)
	}
	m.metrics.RecordSession("establish", model.ReasonInvalidIDToken)
	return &model.UnauthorizedError{Reason: model.ReasonInvalidIDToken, Err: err}
}

// Verify はセッションCookie値を検証する。失敗はUnauthorizedErrorとして返す。
func (m *Manager) Verify(ctx context.Context, cookie string, checkRevoked bool) (*identity.Token, error) {
	if cookie == "" {
		m.metrics.RecordSession("verify", model.ReasonSessionCookieMissing)
		return nil, &model.UnauthorizedError{Reason: model.ReasonSessionCookieMissing}
	}

	tok, err := m.idp.VerifySessionCookie(ctx, cookie, checkRevoked)
	if err != nil {
		var reason string
		switch {
		case errors.Is(err, identity.ErrTokenExpired):
			reason = model.ReasonSessionCookieExpired
		case errors.Is(err, identity.ErrTokenRevoked):
			reason = model.ReasonSessionCookieRevoked
		case errors.Is(err, identity.ErrUnavailable):
			m.metrics.RecordSession("verify", "error")
			return nil, fmt.Errorf("failed to verify session: %w", err)
		default:
			reason = model.ReasonSessionCookieInvalid
		}
		m.metrics.RecordSession("verify", reason)
		return nil, &model.UnauthorizedError{Reason: reason, Err: err}
	}

	m.metrics.RecordSession("verify", "success")
	return tok, nil
}

// VerifyRequest はリクエストのセッションCookieを検証する。
func (m *Manager) VerifyRequest(r *http.Request, checkRevoked bool) (*identity.Token, error) {
	value, _ := Read(r)
	return m.Verify(r.Context(), value, checkRevoked)
}

// Destroy はセッションCookieを削除する。
// RevokeOnLogoutが有効でCookieが検証できた場合は内部IdPのセッションも失効させる。
// 失効に失敗してもCookieは削除する。
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if value, ok := Read(r); ok && m.config.RevokeOnLogout {
		tok, err := m.idp.VerifySessionCookie(ctx, value, false)
		if err == nil {
			if err := m.idp.RevokeSessions(ctx, tok.UID); err != nil {
				slog.Error("failed to revoke sessions",
					slog.String("user_id", tok.UID),
					slog.String("error", err.Error()),
				)
			} else {
				slog.Info("sessions revoked", slog.String("user_id", tok.UID))
			}
		}
	}

	Clear(w, m.config.Cookie)
	m.metrics.RecordSession("destroy", "success")
}
