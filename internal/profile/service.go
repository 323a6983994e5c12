// Package profile は認証サブシステムが所有するプロフィール項目の更新ロジックを提供する。
package profile

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/hitoshi/tsunagu/internal/model"
	"github.com/hitoshi/tsunagu/internal/repository"
	"github.com/hitoshi/tsunagu/internal/security"
)

// Service はプロフィールのサービス層。
type Service struct {
	repo      repository.ProfileRepository
	sanitizer security.TextSanitizer
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.ProfileRepository, sanitizer security.TextSanitizer) *Service {
	return &Service{repo: repo, sanitizer: sanitizer}
}

// Get はプロフィールを取得する。未作成の場合は既定値のプロフィールを返す。
func (s *Service) Get(ctx context.Context, userID string) (*model.Profile, error) {
	p, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}
	if p == nil {
		return &model.Profile{UserID: userID, Tags: []string{}}, nil
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	return p, nil
}

// UpdateTags はタグ一覧を検証して置き換え、保存したタグを返す。
// 件数は正規化前の入力で判定する。各タグは無害化とトリムの後に1〜30文字である必要がある。
// 重複は最初の出現のみ残す。
func (s *Service) UpdateTags(ctx context.Context, userID string, tags []string) ([]string, error) {
	if len(tags) > model.MaxProfileTags {
		return nil, model.NewTooManyTagsError(len(tags))
	}

	normalized := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, raw := range tags {
		tag := s.sanitizer.SanitizeText(raw)
		n := utf8.RuneCountInString(tag)
		if n == 0 {
			return nil, model.NewInvalidTagError("空のタグは指定できません")
		}
		if n > model.MaxTagLength {
			return nil, model.NewInvalidTagError(fmt.Sprintf("%d文字を超えています", model.MaxTagLength))
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		normalized = append(normalized, tag)
	}

	if err := s.repo.UpdateTags(ctx, userID, normalized); err != nil {
		return nil, fmt.Errorf("failed to update tags: %w", err)
	}

	slog.Info("profile tags updated",
		slog.String("user_id", userID),
		slog.Int("count", len(normalized)),
	)
	return normalized, nil
}

// UpdateAgreement は利用規約への同意状態を更新する。
func (s *Service) UpdateAgreement(ctx context.Context, userID string, agreed bool) error {
	if err := s.repo.UpdateAgreement(ctx, userID, agreed); err != nil {
		return fmt.Errorf("failed to update agreement: %w", err)
	}
	slog.Info("agreement updated",
		slog.String("user_id", userID),
		slog.Bool("agreed", agreed),
	)
	return nil
}
