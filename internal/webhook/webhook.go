// Package webhook はLINEとStripeからのWebhookを受け付ける。
// 生のリクエストボディで署名を検証してから、イベント種別ごとの副作用を実行する。
package webhook

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/tsunagu/internal/model"
)

// maxBodyBytes はWebhookリクエストボディの上限サイズ。
const maxBodyBytes = 1 << 20

// IdentityFinder は外部IdPのユーザーIDからファーストパーティのユーザーを引くためのインターフェース。
// repository.IdentityRepositoryの部分集合として定義する。
type IdentityFinder interface {
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.LinkedIdentity, error)
}

// ProfileUpdater はWebhookが更新するプロフィール項目のインターフェース。
// repository.ProfileRepositoryの部分集合として定義する。
type ProfileUpdater interface {
	UpdateVerificationStatus(ctx context.Context, userID string, status model.VerificationStatus) error
	UpdateLineNotify(ctx context.Context, userID string, enabled bool) error
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
