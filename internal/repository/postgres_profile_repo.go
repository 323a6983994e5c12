package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/tsunagu/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByID(ctx context.Context, userID string) (*model.Profile, error) {
	p := &model.Profile{}
	var status string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, display_name, avatar_url, agreement, tags, verification_status,
		        line_notify_enabled, created_at, updated_at
		 FROM users WHERE id = $1`,
		userID,
	).Scan(&p.UserID, &p.DisplayName, &p.AvatarURL, &p.Agreement, pq.Array(&p.Tags), &status,
		&p.LineNotifyEnabled, &p.CreatedAt, &p.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}

	p.VerificationStatus = model.VerificationStatus(status)
	return p, nil
}

// UpdateTags はタグ一覧を置き換える。
func (r *PostgresProfileRepo) UpdateTags(ctx context.Context, userID string, tags []string) error {
	if tags == nil {
		tags = []string{}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, tags, created_at, updated_at)
		 VALUES ($1, $2, $3, $3)
		 ON CONFLICT (id) DO UPDATE SET tags = EXCLUDED.tags, updated_at = EXCLUDED.updated_at`,
		userID, pq.Array(tags), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update tags: %w", err)
	}
	return nil
}

// UpdateAgreement は利用規約への同意状態を更新する。
func (r *PostgresProfileRepo) UpdateAgreement(ctx context.Context, userID string, agreed bool) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, agreement, created_at, updated_at)
		 VALUES ($1, $2, $3, $3)
		 ON CONFLICT (id) DO UPDATE SET agreement = EXCLUDED.agreement, updated_at = EXCLUDED.updated_at`,
		userID, agreed, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update agreement: %w", err)
	}
	return nil
}

// UpdateVerificationStatus は本人確認の状態を更新する。
func (r *PostgresProfileRepo) UpdateVerificationStatus(ctx context.Context, userID string, status model.VerificationStatus) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, verification_status, created_at, updated_at)
		 VALUES ($1, $2, $3, $3)
		 ON CONFLICT (id) DO UPDATE SET
		   verification_status = EXCLUDED.verification_status,
		   updated_at = EXCLUDED.updated_at`,
		userID, string(status), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update verification status: %w", err)
	}
	return nil
}

// UpdateLineNotify はLINE通知の有効/無効を更新する。
func (r *PostgresProfileRepo) UpdateLineNotify(ctx context.Context, userID string, enabled bool) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, line_notify_enabled, created_at, updated_at)
		 VALUES ($1, $2, $3, $3)
		 ON CONFLICT (id) DO UPDATE SET
		   line_notify_enabled = EXCLUDED.line_notify_enabled,
		   updated_at = EXCLUDED.updated_at`,
		userID, enabled, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update line notify: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
