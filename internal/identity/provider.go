// Package identity は内部IdP（Firebase互換の認証サービス）への窓口を提供する。
// カスタムトークンの発行、IDトークンの検証、セッションCookieの発行と検証を
// バックエンドに委譲する。暗号署名そのものはバックエンドが行う。
package identity

import (
	"context"
	"errors"
	"time"
)

// バックエンドのエラーを分類するセンチネル。
var (
	ErrTokenExpired  = errors.New("identity: token expired")
	ErrTokenInvalid  = errors.New("identity: token invalid")
	ErrTokenRevoked  = errors.New("identity: token revoked")
	ErrUserNotFound  = errors.New("identity: user not found")
	ErrInvalidClaims = errors.New("identity: invalid claims")
	ErrUnavailable   = errors.New("identity: service unavailable")
)

// Token は検証済みのIDトークンまたはセッションCookieの内容。
type Token struct {
	UID       string
	IssuedAt  time.Time
	ExpiresAt time.Time
	AuthTime  time.Time
	Claims    map[string]any
}

// Provider は内部IdPのインターフェース。
type Provider interface {
	// MintCustomToken はuidに対する短命のカスタムトークンを発行する。
	MintCustomToken(ctx context.Context, uid string, claims map[string]any) (string, error)
	// SignInWithCustomToken はカスタムトークンでサインインし、IDトークンを返す。
	// 通常はクライアントSDKが行う処理で、開発用エンドポイントから使用する。
	SignInWithCustomToken(ctx context.Context, customToken string) (string, error)
	// VerifyIDToken はIDトークンを検証する。
	VerifyIDToken(ctx context.Context, idToken string) (*Token, error)
	// CreateSessionCookie はIDトークンを有効期間付きのセッションCookie値に交換する。
	CreateSessionCookie(ctx context.Context, idToken string, expiresIn time.Duration) (string, error)
	// VerifySessionCookie はセッションCookie値を検証する。
	// checkRevokedがtrueの場合は失効済みセッションも拒否する。
	VerifySessionCookie(ctx context.Context, cookie string, checkRevoked bool) (*Token, error)
	// RevokeSessions はuidに発行済みのセッションを失効させる。
	RevokeSessions(ctx context.Context, uid string) error
}

// 発行可能なセッションCookieの有効期間の範囲。
const (
	MinSessionLifetime = 5 * time.Minute
	MaxSessionLifetime = 14 * 24 * time.Hour
)

// reservedClaims はカスタムトークンに含めることができないクレーム名。
var reservedClaims = map[string]bool{
	"acr": true, "amr": true, "at_hash": true, "aud": true, "auth_time": true,
	"azp": true, "cnf": true, "c_hash": true, "exp": true, "firebase": true,
	"iat": true, "iss": true, "jti": true, "nbf": true, "nonce": true, "sub": true,
}

// validateClaims はカスタムクレームに予約語が含まれていないことを確認する。
func validateClaims(claims map[string]any) error {
	for k := range claims {
		if reservedClaims[k] {
			return errors.Join(ErrInvalidClaims, errors.New("reserved claim: "+k))
		}
	}
	return nil
}
