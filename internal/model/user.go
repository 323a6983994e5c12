// Package model はドメインモデルを定義する。
package model

import "time"

// ProviderLINE はLINEログインのプロバイダー識別子。
const ProviderLINE = "line"

// LinkedIdentity は外部IdPアカウントとファーストパーティのユーザーIDの紐付けを表す。
// (Provider, ProviderUserID) の組は一意であり、既存ユーザー判定の自然キーとなる。
type LinkedIdentity struct {
	UserID         string
	Provider       string
	ProviderUserID string
	LinkedAt       time.Time
	UpdatedAt      time.Time
}

// Profile は認証サブシステムが読み書きするユーザードキュメントの一部を表す。
// 他のフローが所有するフィールドは含まない。
type Profile struct {
	UserID             string
	DisplayName        string
	AvatarURL          string
	Agreement          bool
	Tags               []string
	VerificationStatus VerificationStatus
	LineNotifyEnabled  bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// VerificationStatus は本人確認の状態を表す。
type VerificationStatus string

const (
	VerificationStatusNone          VerificationStatus = ""
	VerificationStatusProcessing    VerificationStatus = "processing"
	VerificationStatusRequiresInput VerificationStatus = "requires_input"
	VerificationStatusVerified      VerificationStatus = "verified"
)

// MaxProfileTags はプロフィールに設定できるタグの上限数。
const MaxProfileTags = 20

// MaxTagLength はタグ1件あたりの最大文字数（rune数）。
const MaxTagLength = 30
