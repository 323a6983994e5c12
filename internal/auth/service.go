// Package auth はLINEログインのOAuthフロー、アカウント紐付け、カスタムトークン発行を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hitoshi/tsunagu/internal/metrics"
	"github.com/hitoshi/tsunagu/internal/model"
)

const tracerName = "github.com/hitoshi/tsunagu/internal/auth"

// ThirdPartyProfile は外部IdPから取得したプロフィールを表す。永続化はしない。
type ThirdPartyProfile struct {
	ProviderUserID string
	DisplayName    string
	AvatarURL      string
	Email          string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、プロフィールを取得する。
	ExchangeCode(ctx context.Context, code string) (*ThirdPartyProfile, error)
}

// IdentityLinker はプロフィールをユーザーIDに対応付けるインターフェース。
type IdentityLinker interface {
	Link(ctx context.Context, profile *ThirdPartyProfile) (*LinkResult, error)
}

// CredentialMinter はカスタムトークンを発行するインターフェース。
type CredentialMinter interface {
	Mint(ctx context.Context, uid string, claims map[string]any) (string, error)
}

// コールバック失敗時にブラウザへ返す理由コード。プロバイダーのレスポンスは含めない。
const (
	ReasonAccessDenied         = "access_denied"
	ReasonAuthorizationFailed  = "authorization_failed"
	ReasonInvalidState         = "invalid_state"
	ReasonMissingCode          = "missing_code"
	ReasonTokenExchangeFailed  = "token_exchange_failed"
	ReasonProfileFetchFailed   = "profile_fetch_failed"
	ReasonAccountLinkFailed    = "account_link_failed"
	ReasonCredentialMintFailed = "credential_mint_failed"
)

// LoginResult はLINEログインの結果を表す。
type LoginResult struct {
	Credential string
	UserID     string
	IsNewUser  bool
}

// Service はLINEログインのビジネスロジックを提供する。
// 交換 → 紐付け → 発行 の順に逐次実行する。
type Service struct {
	oauth   OAuthProvider
	linker  IdentityLinker
	minter  CredentialMinter
	metrics metrics.MetricsCollector
	tracer  trace.Tracer
}

// NewService はServiceを生成する。mcがnilの場合はメトリクスを記録しない。
func NewService(oauth OAuthProvider, linker IdentityLinker, minter CredentialMinter, mc metrics.MetricsCollector) *Service {
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &Service{
		oauth:   oauth,
		linker:  linker,
		minter:  minter,
		metrics: mc,
		tracer:  otel.Tracer(tracerName),
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleLineCallback は認可コードからカスタムトークンを得るまでのログイン処理を行う。
func (s *Service) HandleLineCallback(ctx context.Context, code string) (result *LoginResult, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "auth.HandleLineCallback")
	defer func() {
		s.metrics.RecordLoginLatency(time.Since(start))
		if err != nil {
			reason := FailureReason(err)
			s.metrics.RecordLogin(reason)
			span.SetAttributes(attribute.String("login.failure_reason", reason))
			span.RecordError(err)
			span.SetStatus(codes.Error, reason)
		} else {
			s.metrics.RecordLogin("success")
			span.SetAttributes(attribute.Bool("login.new_user", result.IsNewUser))
		}
		span.End()
	}()

	// 1. 認可コードをトークンに交換し、プロフィールを取得
	profile, err := s.exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	// 2. ユーザーIDに紐付け
	link, err := s.link(ctx, profile)
	if err != nil {
		return nil, err
	}

	// 3. カスタムトークンを発行
	credential, err := s.mint(ctx, link.UserID, profile.ProviderUserID)
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		Credential: credential,
		UserID:     link.UserID,
		IsNewUser:  link.IsNewUser,
	}, nil
}

func (s *Service) exchange(ctx context.Context, code string) (*ThirdPartyProfile, error) {
	ctx, span := s.tracer.Start(ctx, "line.ExchangeCode")
	defer span.End()

	profile, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		var extErr *model.ExternalAuthError
		if errors.As(err, &extErr) {
			if extErr.Stage == StageProfile {
				s.metrics.RecordOutboundStatus(StageToken, http.StatusOK)
			}
			if extErr.Status != 0 {
				s.metrics.RecordOutboundStatus(extErr.Stage, extErr.Status)
			}
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to exchange line code: %w", err)
	}
	s.metrics.RecordOutboundStatus(StageToken, http.StatusOK)
	s.metrics.RecordOutboundStatus(StageProfile, http.StatusOK)
	return profile, nil
}

func (s *Service) link(ctx context.Context, profile *ThirdPartyProfile) (*LinkResult, error) {
	ctx, span := s.tracer.Start(ctx, "identity.Link")
	defer span.End()

	link, err := s.linker.Link(ctx, profile)
	if err != nil {
		span.RecordError(err)
		if !errors.Is(err, ErrAccountLink) {
			err = fmt.Errorf("%w: %w", ErrAccountLink, err)
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("user.id", link.UserID))
	return link, nil
}

func (s *Service) mint(ctx context.Context, uid, lineUserID string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "identity.MintCustomToken")
	defer span.End()

	credential, err := s.minter.Mint(ctx, uid, LineClaims(lineUserID))
	if err != nil {
		span.RecordError(err)
		if !errors.Is(err, model.ErrCredentialMint) {
			err = &model.CredentialMintError{UserID: uid, Err: err}
		}
		slog.Error("credential mint failed", slog.String("user_id", uid), slog.String("error", err.Error()))
		return "", err
	}
	return credential, nil
}

// FailureReason はログイン処理のエラーをブラウザに返す理由コードに変換する。
func FailureReason(err error) string {
	var extErr *model.ExternalAuthError
	switch {
	case errors.As(err, &extErr):
		if extErr.Stage == StageProfile {
			return ReasonProfileFetchFailed
		}
		return ReasonTokenExchangeFailed
	case errors.Is(err, ErrAccountLink):
		return ReasonAccountLinkFailed
	case errors.Is(err, model.ErrCredentialMint):
		return ReasonCredentialMintFailed
	default:
		return ReasonAuthorizationFailed
	}
}
