package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/tsunagu/internal/identity"
	"github.com/hitoshi/tsunagu/internal/middleware"
	"github.com/hitoshi/tsunagu/internal/model"
)

// maxSessionBodyBytes はセッション確立リクエストのボディ上限。
const maxSessionBodyBytes = 64 << 10

// SessionManagerInterface はセッションハンドラーが必要とするセッション管理のインターフェース。
type SessionManagerInterface interface {
	Establish(ctx context.Context, w http.ResponseWriter, idToken string) (*identity.Token, error)
	Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request)
}

// ProfileReader はプロフィール取得のインターフェース。
type ProfileReader interface {
	Get(ctx context.Context, userID string) (*model.Profile, error)
}

// CustomTokenSigner はカスタムトークンをIDトークンに交換するインターフェース。
// 開発用サインインエンドポイントでのみ使用する。
type CustomTokenSigner interface {
	SignInWithCustomToken(ctx context.Context, customToken string) (string, error)
}

// SessionHandler はセッション確立・破棄・確認のHTTPハンドラー。
type SessionHandler struct {
	sessions SessionManagerInterface
	profiles ProfileReader
	signer   CustomTokenSigner
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(sessions SessionManagerInterface, profiles ProfileReader, signer CustomTokenSigner) *SessionHandler {
	return &SessionHandler{sessions: sessions, profiles: profiles, signer: signer}
}

type createSessionRequest struct {
	IDToken string `json:"idToken"`
}

// CreateSession はIDトークンをセッションCookieに交換する。
// POST /api/auth/session, POST /api/login
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSessionBodyBytes)).Decode(&req); err != nil || req.IDToken == "" {
		middleware.WriteJSONError(w, http.StatusBadRequest, "idToken is required")
		return
	}

	if _, err := h.sessions.Establish(r.Context(), w, req.IDToken); err != nil {
		if reason, ok := model.UnauthorizedReason(err); ok {
			middleware.WriteUnauthorized(w, reason)
			return
		}
		slog.Error("failed to create session", slog.String("error", err.Error()))
		middleware.WriteJSONError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// Logout はセッションCookieを削除する。
// POST /api/logout
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Destroy(r.Context(), w, r)
	middleware.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Check はセッションの有効性と規約同意状態を返す。SessionMiddlewareの後に配置する。
// GET /api/auth/check
func (h *SessionHandler) Check(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthorized(w, model.ReasonSessionCookieMissing)
		return
	}

	p, err := h.profiles.Get(r.Context(), userID)
	if err != nil {
		slog.Error("failed to get profile", slog.String("user_id", userID), slog.String("error", err.Error()))
		middleware.WriteJSONError(w, http.StatusInternalServerError, "failed to check session")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]bool{"agreement": p.Agreement})
}

type devSignInRequest struct {
	Token string `json:"token"`
}

// DevSignIn はカスタムトークンをIDトークンに交換する。ブラウザSDKを使わない開発環境向け。
// POST /api/auth/dev/sign-in
func (h *SessionHandler) DevSignIn(w http.ResponseWriter, r *http.Request) {
	var req devSignInRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSessionBodyBytes)).Decode(&req); err != nil || req.Token == "" {
		middleware.WriteJSONError(w, http.StatusBadRequest, "token is required")
		return
	}

	idToken, err := h.signer.SignInWithCustomToken(r.Context(), req.Token)
	if err != nil {
		if errors.Is(err, identity.ErrUnavailable) {
			slog.Error("dev sign-in failed", slog.String("error", err.Error()))
			middleware.WriteJSONError(w, http.StatusInternalServerError, "sign-in failed")
			return
		}
		middleware.WriteUnauthorized(w, model.ReasonInvalidIDToken)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]string{"idToken": idToken})
}
