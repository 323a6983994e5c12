package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/hitoshi/tsunagu/internal/model"
)

const (
	defaultLineAuthURL    = "https://access.line.me/oauth2/v2.1/authorize"
	defaultLineTokenURL   = "https://api.line.me/oauth2/v2.1/token"
	defaultLineProfileURL = "https://api.line.me/v2/profile"
	lineIDTokenIssuer     = "https://access.line.me"

	defaultOutboundTimeout = 10 * time.Second
	maxProfileBodySize     = 1 << 20
)

// 外部呼び出しのステージ名。ExternalAuthError.Stageとメトリクスのラベルに使用する。
const (
	StageToken   = "token"
	StageProfile = "profile"
)

// LineOAuthConfig はLINEログインプロバイダーの設定。
type LineOAuthConfig struct {
	ChannelID     string
	ChannelSecret string
	RedirectURL   string
	Timeout       time.Duration // 外部呼び出し1回あたりの上限
	HTTPClient    *http.Client

	// テスト用にオーバーライド可能なURL
	AuthURL    string
	TokenURL   string
	ProfileURL string
}

// LineOAuthProvider はLINEログイン（OAuth 2.0 / OpenID Connect）による認証を提供する。
type LineOAuthProvider struct {
	oauth         *oauth2.Config
	profileURL    string
	channelID     string
	channelSecret []byte
	httpClient    *http.Client
}

// NewLineOAuthProvider はLineOAuthProviderを生成する。
func NewLineOAuthProvider(config LineOAuthConfig) *LineOAuthProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultLineAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultLineTokenURL
	}
	if config.ProfileURL == "" {
		config.ProfileURL = defaultLineProfileURL
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultOutboundTimeout
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	return &LineOAuthProvider{
		oauth: &oauth2.Config{
			ClientID:     config.ChannelID,
			ClientSecret: config.ChannelSecret,
			RedirectURL:  config.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   config.AuthURL,
				TokenURL:  config.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: []string{"profile", "openid"},
		},
		profileURL:    config.ProfileURL,
		channelID:     config.ChannelID,
		channelSecret: []byte(config.ChannelSecret),
		httpClient:    httpClient,
	}
}

// GetLoginURL はLINEログインの認証URLを生成する。
func (p *LineOAuthProvider) GetLoginURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// lineProfile はLINEのプロフィールエンドポイントのレスポンス。
type lineProfile struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	PictureURL  string `json:"pictureUrl"`
}

// lineIDTokenClaims はLINEが発行するid_tokenのクレームのうち使用する部分。
type lineIDTokenClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// ExchangeCode は認可コードをアクセストークンに交換し、プロフィールを取得する。
// リトライは行わない。失敗は*model.ExternalAuthErrorとして返す。
func (p *LineOAuthProvider) ExchangeCode(ctx context.Context, code string) (*ThirdPartyProfile, error) {
	// 1. 認可コードをアクセストークンに交換
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			status := 0
			if re.Response != nil {
				status = re.Response.StatusCode
			}
			return nil, model.NewExternalAuthError(StageToken, status, re.Body, err)
		}
		return nil, model.NewExternalAuthError(StageToken, 0, nil, err)
	}

	// 2. アクセストークンでプロフィールを取得
	prof, err := p.fetchProfile(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}

	profile := &ThirdPartyProfile{
		ProviderUserID: prof.UserID,
		DisplayName:    prof.DisplayName,
		AvatarURL:      prof.PictureURL,
	}

	// 3. id_tokenがあればメールアドレスを取り出す。検証に失敗しても処理は続行する。
	if raw, ok := tok.Extra("id_token").(string); ok && raw != "" {
		email, err := p.parseIDTokenEmail(raw, prof.UserID)
		if err != nil {
			slog.Warn("ignoring invalid LINE id_token", slog.String("error", err.Error()))
		} else {
			profile.Email = email
		}
	}

	return profile, nil
}

// fetchProfile はアクセストークンでLINEのプロフィールを取得する。
func (p *LineOAuthProvider) fetchProfile(ctx context.Context, accessToken string) (*lineProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.profileURL, nil)
	if err != nil {
		return nil, model.NewExternalAuthError(StageProfile, 0, nil, fmt.Errorf("failed to create profile request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, model.NewExternalAuthError(StageProfile, 0, nil, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBodySize))
	if err != nil {
		return nil, model.NewExternalAuthError(StageProfile, resp.StatusCode, nil, fmt.Errorf("failed to read profile response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, model.NewExternalAuthError(StageProfile, resp.StatusCode, body, nil)
	}

	var prof lineProfile
	if err := json.Unmarshal(body, &prof); err != nil {
		return nil, model.NewExternalAuthError(StageProfile, resp.StatusCode, body, fmt.Errorf("failed to parse profile response: %w", err))
	}

	if prof.UserID == "" {
		return nil, model.NewExternalAuthError(StageProfile, resp.StatusCode, body, errors.New("empty userId in profile response"))
	}

	return &prof, nil
}

// parseIDTokenEmail はLINEのid_token（HS256、チャネルシークレットで署名）を検証し、emailを返す。
func (p *LineOAuthProvider) parseIDTokenEmail(raw, expectedSubject string) (string, error) {
	claims := &lineIDTokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return p.channelSecret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(lineIDTokenIssuer),
		jwt.WithAudience(p.channelID),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to verify id_token: %w", err)
	}
	if claims.Subject != expectedSubject {
		return "", fmt.Errorf("id_token subject does not match profile")
	}
	return claims.Email, nil
}

// compile-time interface check
var _ OAuthProvider = (*LineOAuthProvider)(nil)
