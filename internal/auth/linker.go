package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hitoshi/tsunagu/internal/model"
	"github.com/hitoshi/tsunagu/internal/repository"
	"github.com/hitoshi/tsunagu/internal/security"
)

// ErrAccountLink は外部アカウントとユーザーIDの紐付けに失敗したことを表す。
var ErrAccountLink = errors.New("account link failed")

// LinkResult は紐付けの結果を表す。
type LinkResult struct {
	UserID    string
	IsNewUser bool
}

// Linker は外部IdPのプロフィールをファーストパーティのユーザーIDに対応付ける。
// 同じ (provider, providerUserID) に対しては常に同じユーザーIDを返す。
type Linker struct {
	identRepo repository.IdentityRepository
	sanitizer security.TextSanitizer
	newID     func() string
}

// NewLinker はLinkerを生成する。
func NewLinker(identRepo repository.IdentityRepository, sanitizer security.TextSanitizer) *Linker {
	return &Linker{
		identRepo: identRepo,
		sanitizer: sanitizer,
		newID:     func() string { return uuid.New().String() },
	}
}

// Link はプロフィールに対応するユーザーIDを返す。
// 未登録の場合は新しいユーザーIDを生成し、紐付けとプロフィールを同一トランザクションで作成する。
func (l *Linker) Link(ctx context.Context, profile *ThirdPartyProfile) (*LinkResult, error) {
	if profile == nil || profile.ProviderUserID == "" {
		return nil, fmt.Errorf("%w: provider user id is required", ErrAccountLink)
	}

	displayName := profile.DisplayName
	if l.sanitizer != nil {
		displayName = l.sanitizer.SanitizeText(displayName)
	}

	linked, created, err := l.identRepo.LinkOrCreate(ctx,
		&model.LinkedIdentity{
			UserID:         l.newID(),
			Provider:       model.ProviderLINE,
			ProviderUserID: profile.ProviderUserID,
		},
		&model.Profile{
			DisplayName: displayName,
			AvatarURL:   profile.AvatarURL,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAccountLink, err)
	}

	if created {
		slog.Info("new user linked",
			slog.String("user_id", linked.UserID),
			slog.String("provider", model.ProviderLINE),
		)
	} else {
		slog.Info("existing user logged in",
			slog.String("user_id", linked.UserID),
			slog.String("provider", model.ProviderLINE),
		)
	}

	return &LinkResult{UserID: linked.UserID, IsNewUser: created}, nil
}
