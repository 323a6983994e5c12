package auth

import (
	"context"

	"github.com/hitoshi/tsunagu/internal/identity"
	"github.com/hitoshi/tsunagu/internal/model"
)

// カスタムトークンに載せる紐付けプロバイダーのクレーム名。
const (
	ClaimProvider   = "provider"
	ClaimLineUserID = "line_user_id"
)

// Minter は内部IdPにカスタムトークンの発行を依頼する。ローカルな状態は持たない。
type Minter struct {
	idp identity.Provider
}

// NewMinter はMinterを生成する。
func NewMinter(idp identity.Provider) *Minter {
	return &Minter{idp: idp}
}

// Mint はuidに対する短命のカスタムトークンを発行する。
// 失敗は全て*model.CredentialMintErrorとして返す。
func (m *Minter) Mint(ctx context.Context, uid string, claims map[string]any) (string, error) {
	token, err := m.idp.MintCustomToken(ctx, uid, claims)
	if err != nil {
		return "", &model.CredentialMintError{UserID: uid, Err: err}
	}
	return token, nil
}

// LineClaims はLINE連携ユーザー用のクレームを返す。
func LineClaims(lineUserID string) map[string]any {
	return map[string]any{
		ClaimProvider:   model.ProviderLINE,
		ClaimLineUserID: lineUserID,
	}
}
