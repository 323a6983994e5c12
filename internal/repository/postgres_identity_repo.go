package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/tsunagu/internal/model"
)

// PostgresIdentityRepo はPostgreSQLを使用した紐付けリポジトリ。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// FindByProviderAndProviderUserID はproviderとprovider_user_idで紐付けを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.LinkedIdentity, error) {
	li := &model.LinkedIdentity{}
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, provider, provider_user_id, linked_at, updated_at
		 FROM linked_identities
		 WHERE provider = $1 AND provider_user_id = $2`,
		provider, providerUserID,
	).Scan(&li.UserID, &li.Provider, &li.ProviderUserID, &li.LinkedAt, &li.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find linked identity: %w", err)
	}

	return li, nil
}

// LinkOrCreate は紐付けを原子的に取得または作成する。
// ユニーク制約に対するINSERT ... ON CONFLICTで同時初回ログインも1つのuser_idに収束する。
// users行への外部キーはDEFERRABLEのため、紐付けを先に確定させてから新規の場合のみusersをupsertする。
func (r *PostgresIdentityRepo) LinkOrCreate(ctx context.Context, identity *model.LinkedIdentity, profile *model.Profile) (*model.LinkedIdentity, bool, error) {
	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	linked := &model.LinkedIdentity{
		Provider:       identity.Provider,
		ProviderUserID: identity.ProviderUserID,
	}
	var created bool
	err = tx.QueryRowContext(ctx,
		`INSERT INTO linked_identities (provider, provider_user_id, user_id, linked_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (provider, provider_user_id)
		 DO UPDATE SET updated_at = EXCLUDED.updated_at
		 RETURNING user_id, linked_at, updated_at, (xmax = 0) AS inserted`,
		identity.Provider, identity.ProviderUserID, identity.UserID, now,
	).Scan(&linked.UserID, &linked.LinkedAt, &linked.UpdatedAt, &created)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert linked identity: %w", err)
	}

	// 既存の紐付けではusers行に触れない。表示名はユーザーが変更している可能性がある。
	if created {
		var displayName, avatarURL string
		if profile != nil {
			displayName = profile.DisplayName
			avatarURL = profile.AvatarURL
		}

		// 表示名とアバターのみをマージする。空値で既存の値を上書きしない。
		_, err = tx.ExecContext(ctx,
			`INSERT INTO users (id, display_name, avatar_url, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $4)
			 ON CONFLICT (id) DO UPDATE SET
			   display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), users.display_name),
			   avatar_url = COALESCE(NULLIF(EXCLUDED.avatar_url, ''), users.avatar_url),
			   updated_at = EXCLUDED.updated_at`,
			linked.UserID, displayName, avatarURL, now,
		)
		if err != nil {
			return nil, false, fmt.Errorf("failed to upsert user: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return linked, created, nil
}

// compile-time interface check
var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
