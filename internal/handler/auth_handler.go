// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hitoshi/tsunagu/internal/auth"
	"github.com/hitoshi/tsunagu/internal/gate"
)

const (
	oauthStateCookie    = "oauth_state"
	loginCallbackCookie = "login_callback"
	oauthCookieMaxAge   = 600 // 10分

	verifyPath = "/auth/verify"
	errorPath  = "/auth/error"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleLineCallback(ctx context.Context, code string) (*auth.LoginResult, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieSecure bool
}

// AuthHandler はLINEログインのHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// Login はLINEログインを開始する。
// GET /auth/line/login?callbackUrl=/path
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		redirectToError(w, r, auth.ReasonAuthorizationFailed)
		return
	}

	// stateをCookieに保存（CSRF対策）
	h.setShortCookie(w, oauthStateCookie, state, oauthCookieMaxAge)

	// ログイン後の戻り先は安全な相対パスのみ保持する
	if cb := r.URL.Query().Get("callbackUrl"); cb != "" {
		h.setShortCookie(w, loginCallbackCookie, url.QueryEscape(gate.SafeCallbackPath(cb)), oauthCookieMaxAge)
	}

	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusFound)
}

// Callback はLINEからのリダイレクトを処理する。
// GET /auth/line/callback?code=xxx&state=yyy
// 成功時はカスタムトークンを付けて/auth/verifyへ、失敗時は理由コードを付けて/auth/errorへリダイレクトする。
// プロバイダーのレスポンス本文はリダイレクト先に含めない。
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	callbackURL := ""
	if c, err := r.Cookie(loginCallbackCookie); err == nil {
		if v, err := url.QueryUnescape(c.Value); err == nil {
			callbackURL = gate.SafeCallbackPath(v)
		}
	}
	h.clearShortCookie(w, oauthStateCookie)
	h.clearShortCookie(w, loginCallbackCookie)

	// 1. 同意画面でのキャンセルなど、LINEがエラーを返した場合
	if providerErr := q.Get("error"); providerErr != "" {
		slog.Warn("line authorization returned error",
			slog.String("error", providerErr),
			slog.String("error_description", q.Get("error_description")),
		)
		reason := auth.ReasonAuthorizationFailed
		if providerErr == "access_denied" {
			reason = auth.ReasonAccessDenied
		}
		redirectToError(w, r, reason)
		return
	}

	// 2. stateの検証（CSRF対策）
	state := q.Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(stateCookie.Value), []byte(state)) != 1 {
		slog.Warn("oauth state mismatch")
		redirectToError(w, r, auth.ReasonInvalidState)
		return
	}

	// 3. 認可コードの取得
	code := q.Get("code")
	if code == "" {
		redirectToError(w, r, auth.ReasonMissingCode)
		return
	}

	// 4. 交換 → 紐付け → カスタムトークン発行
	result, err := h.service.HandleLineCallback(r.Context(), code)
	if err != nil {
		slog.Error("line callback failed", slog.String("error", err.Error()))
		redirectToError(w, r, auth.FailureReason(err))
		return
	}

	v := url.Values{}
	v.Set("token", result.Credential)
	v.Set("isNewUser", strconv.FormatBool(result.IsNewUser))
	if callbackURL != "" && callbackURL != "/" {
		v.Set("callbackUrl", callbackURL)
	}
	http.Redirect(w, r, verifyPath+"?"+v.Encode(), http.StatusFound)
}

func redirectToError(w http.ResponseWriter, r *http.Request, reason string) {
	v := url.Values{}
	v.Set("error", "line_auth_failed")
	v.Set("message", reason)
	http.Redirect(w, r, errorPath+"?"+v.Encode(), http.StatusFound)
}

func (h *AuthHandler) setShortCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearShortCookie(w http.ResponseWriter, name string) {
	h.setShortCookie(w, name, "", -1)
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
