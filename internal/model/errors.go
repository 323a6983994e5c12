// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidBody     = "INVALID_BODY"
	ErrCodeTooManyTags     = "TOO_MANY_TAGS"
	ErrCodeInvalidTag      = "INVALID_TAG"
	ErrCodePayloadTooLarge = "PAYLOAD_TOO_LARGE"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
)

// 認証サブシステムのエラー分類。errors.Is で判定する。
var (
	ErrExternalAuth     = errors.New("external auth failed")
	ErrCredentialMint   = errors.New("credential mint failed")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrValidation       = errors.New("validation failed")
	ErrWebhookSignature = errors.New("webhook signature invalid")
)

// maxProviderBodyLen はログ用に保持するプロバイダーレスポンスの最大長。
const maxProviderBodyLen = 512

// ExternalAuthError は外部IdPのトークン/プロフィール取得の失敗を表す。
// Bodyはログ専用であり、ブラウザへのリダイレクト先には含めない。
type ExternalAuthError struct {
	Stage  string // "token" または "profile"
	Status int
	Body   string
	Err    error
}

// NewExternalAuthError はExternalAuthErrorを生成する。Bodyは切り詰めて保持する。
func NewExternalAuthError(stage string, status int, body []byte, err error) *ExternalAuthError {
	b := string(body)
	if len(b) > maxProviderBodyLen {
		b = b[:maxProviderBodyLen]
	}
	return &ExternalAuthError{Stage: stage, Status: status, Body: b, Err: err}
}

func (e *ExternalAuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("external auth %s failed with status %d: %s", e.Stage, e.Status, e.Body)
	}
	if e.Err != nil {
		return fmt.Sprintf("external auth %s failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("external auth %s failed", e.Stage)
}

func (e *ExternalAuthError) Unwrap() error { return e.Err }

// Is は errors.Is(err, ErrExternalAuth) を成立させる。
func (e *ExternalAuthError) Is(target error) bool { return target == ErrExternalAuth }

// CredentialMintError は内部IdPがカスタムトークンの発行を拒否したことを表す。
type CredentialMintError struct {
	UserID string
	Err    error
}

func (e *CredentialMintError) Error() string {
	return fmt.Sprintf("failed to mint credential for user %s: %v", e.UserID, e.Err)
}

func (e *CredentialMintError) Unwrap() error { return e.Err }

func (e *CredentialMintError) Is(target error) bool { return target == ErrCredentialMint }

// Unauthorized の理由コード。レスポンスで機械的に区別できる文字列とする。
const (
	ReasonInvalidIDToken       = "invalid-id-token"
	ReasonSessionCookieMissing = "session-cookie-missing"
	ReasonSessionCookieExpired = "session-cookie-expired"
	ReasonSessionCookieRevoked = "session-cookie-revoked"
	ReasonSessionCookieInvalid = "session-cookie-invalid"
)

// UnauthorizedError はセッションまたはIDトークンが無効であることを表す。
type UnauthorizedError struct {
	Reason string
	Err    error
}

func (e *UnauthorizedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unauthorized (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("unauthorized (%s)", e.Reason)
}

func (e *UnauthorizedError) Unwrap() error { return e.Err }

func (e *UnauthorizedError) Is(target error) bool { return target == ErrUnauthorized }

// UnauthorizedReason はerrがUnauthorizedErrorであればその理由を返す。
func UnauthorizedReason(err error) (string, bool) {
	var ue *UnauthorizedError
	if errors.As(err, &ue) {
		return ue.Reason, true
	}
	return "", false
}

// ValidationError はリクエストボディの不正を表す。
// APIErrorをそのままレスポンスに使用する。
type ValidationError struct {
	APIError *APIError
}

func (e *ValidationError) Error() string { return e.APIError.Error() }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// WebhookSignatureError はWebhookの署名検証失敗を表す。
type WebhookSignatureError struct {
	Provider string
	Err      error
}

func (e *WebhookSignatureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s webhook signature invalid: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s webhook signature invalid", e.Provider)
}

func (e *WebhookSignatureError) Unwrap() error { return e.Err }

func (e *WebhookSignatureError) Is(target error) bool { return target == ErrWebhookSignature }

// NewInvalidBodyError はリクエストボディの形式不正エラーを生成する。
func NewInvalidBodyError(reason string) *ValidationError {
	return &ValidationError{APIError: &APIError{
		Code:     ErrCodeInvalidBody,
		Message:  fmt.Sprintf("リクエストの形式が正しくありません: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}}
}

// NewTooManyTagsError はタグ数上限超過エラーを生成する。
func NewTooManyTagsError(count int) *ValidationError {
	return &ValidationError{APIError: &APIError{
		Code:     ErrCodeTooManyTags,
		Message:  fmt.Sprintf("タグは%d件までです（%d件指定されました）。", MaxProfileTags, count),
		Category: "validation",
		Action:   "タグの数を減らしてください。",
	}}
}

// NewInvalidTagError は不正なタグのエラーを生成する。
func NewInvalidTagError(reason string) *ValidationError {
	return &ValidationError{APIError: &APIError{
		Code:     ErrCodeInvalidTag,
		Message:  fmt.Sprintf("無効なタグです: %s", reason),
		Category: "validation",
		Action:   fmt.Sprintf("タグは1〜%d文字で指定してください。", MaxTagLength),
	}}
}

// NewPayloadTooLargeError はリクエストボディのサイズ超過エラーを生成する。
func NewPayloadTooLargeError() *ValidationError {
	return &ValidationError{APIError: &APIError{
		Code:     ErrCodePayloadTooLarge,
		Message:  "リクエストのサイズが大きすぎます。",
		Category: "validation",
		Action:   "送信内容を減らしてください。",
	}}
}

// NewUnauthorizedAPIError は未認証エラーを生成する。
func NewUnauthorizedAPIError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "ログインが必要です。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}
