// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/tsunagu/internal/identity"
	"github.com/hitoshi/tsunagu/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
	userIDContextKey = contextKey("user_id")
	// userIDHolderKey は外側のロギングミドルウェアへユーザーIDを伝えるためのキー。
	userIDHolderKey = contextKey("user_id_holder")
)

type userIDHolder struct {
	userID string
}

func withUserIDHolder(ctx context.Context, h *userIDHolder) context.Context {
	return context.WithValue(ctx, userIDHolderKey, h)
}

// SessionVerifier はセッションCookieの検証に必要なインターフェース。
// session.Managerが満たす。
type SessionVerifier interface {
	VerifyRequest(r *http.Request, checkRevoked bool) (*identity.Token, error)
}

// NewSessionMiddleware はセッションCookieを内部IdPで検証するミドルウェアを返す。
// リクエストゲートはCookieの有無のみを確認するため、保護されたAPIはこのミドルウェアで
// 署名と失効状態まで検証する。認証済みユーザーIDをリクエストコンテキストに注入し、
// 未認証リクエストには理由コード付きの401を返す。
func NewSessionMiddleware(verifier SessionVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, err := verifier.VerifyRequest(r, true)
			if err != nil {
				if reason, ok := model.UnauthorizedReason(err); ok {
					WriteUnauthorized(w, reason)
					return
				}
				slog.Error("failed to verify session",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			if h, ok := r.Context().Value(userIDHolderKey).(*userIDHolder); ok {
				h.userID = tok.UID
			}
			ctx := context.WithValue(r.Context(), userIDContextKey, tok.UID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", errors.New("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
