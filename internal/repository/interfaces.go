// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/tsunagu/internal/model"
)

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idで紐付けを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.LinkedIdentity, error)

	// LinkOrCreate は紐付けを原子的に取得または作成する。
	// (provider, provider_user_id) が未登録の場合のみidentity.UserIDで新規作成し、
	// 登録済みの場合は既存のUserIDを返す。createdは新規作成した場合にtrueとなる。
	// 新規作成した場合のみ、profileの表示名とアバターを同一トランザクションでusersにマージする。
	LinkOrCreate(ctx context.Context, identity *model.LinkedIdentity, profile *model.Profile) (linked *model.LinkedIdentity, created bool, err error)
}

// ProfileRepository はユーザープロフィールの永続化インターフェース。
// 更新はすべて対象カラムのみのupsertであり、他のフローが所有するカラムは変更しない。
type ProfileRepository interface {
	// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, userID string) (*model.Profile, error)

	// UpdateTags はタグ一覧を置き換える。
	UpdateTags(ctx context.Context, userID string, tags []string) error

	// UpdateAgreement は利用規約への同意状態を更新する。
	UpdateAgreement(ctx context.Context, userID string, agreed bool) error

	// UpdateVerificationStatus は本人確認の状態を更新する。
	UpdateVerificationStatus(ctx context.Context, userID string, status model.VerificationStatus) error

	// UpdateLineNotify はLINE通知の有効/無効を更新する。
	UpdateLineNotify(ctx context.Context, userID string, enabled bool) error
}

// HealthChecker はデータベースの疎通確認用インターフェース。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}
