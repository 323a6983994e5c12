package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	localIssuer          = "tsunagu-local-idp"
	localCustomAudience  = "custom-token"
	localIDTokenAudience = "tsunagu"
	localCustomTokenTTL  = time.Hour
	localIDTokenTTL      = time.Hour

	tokenUseCustom  = "custom"
	tokenUseID      = "id"
	tokenUseSession = "session"
)

// localClaims はローカルIdPが発行するJWTのクレーム。
type localClaims struct {
	jwt.RegisteredClaims
	TokenUse   string         `json:"token_use"`
	AuthTime   int64          `json:"auth_time,omitempty"`
	Generation int64          `json:"gen,omitempty"`
	Custom     map[string]any `json:"claims,omitempty"`
}

// LocalProvider はHS256署名のJWTで内部IdPを模倣するバックエンド。
// 開発環境とテストで使用する。失効情報はプロセス内にのみ保持する。
type LocalProvider struct {
	secret []byte
	now    func() time.Time

	mu          sync.Mutex
	generations map[string]int64
}

// LocalOption はLocalProviderのオプション。
type LocalOption func(*LocalProvider)

// WithClock は現在時刻の取得関数を差し替える。テスト用。
func WithClock(now func() time.Time) LocalOption {
	return func(p *LocalProvider) { p.now = now }
}

// NewLocalProvider はLocalProviderを生成する。secretは32バイト以上を推奨する。
func NewLocalProvider(secret []byte, opts ...LocalOption) (*LocalProvider, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("local identity provider requires a secret")
	}
	p := &LocalProvider{
		secret:      secret,
		now:         time.Now,
		generations: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// MintCustomToken はuidに対するカスタムトークンを発行する。
func (p *LocalProvider) MintCustomToken(_ context.Context, uid string, claims map[string]any) (string, error) {
	if uid == "" {
		return "", fmt.Errorf("%w: uid is required", ErrUserNotFound)
	}
	if err := validateClaims(claims); err != nil {
		return "", err
	}
	now := p.now()
	return p.sign(localClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    localIssuer,
			Subject:   uid,
			Audience:  jwt.ClaimStrings{localCustomAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(localCustomTokenTTL)),
		},
		TokenUse: tokenUseCustom,
		Custom:   claims,
	})
}

// SignInWithCustomToken はカスタムトークンを検証し、IDトークンを発行する。
func (p *LocalProvider) SignInWithCustomToken(_ context.Context, customToken string) (string, error) {
	c, err := p.parse(customToken, localCustomAudience, tokenUseCustom)
	if err != nil {
		return "", err
	}
	now := p.now()
	return p.sign(localClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    localIssuer,
			Subject:   c.Subject,
			Audience:  jwt.ClaimStrings{localIDTokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(localIDTokenTTL)),
		},
		TokenUse: tokenUseID,
		AuthTime: now.Unix(),
		Custom:   c.Custom,
	})
}

// VerifyIDToken はIDトークンを検証する。
func (p *LocalProvider) VerifyIDToken(_ context.Context, idToken string) (*Token, error) {
	c, err := p.parse(idToken, localIDTokenAudience, tokenUseID)
	if err != nil {
		return nil, err
	}
	return toToken(c), nil
}

// CreateSessionCookie はIDトークンを検証し、セッションCookie値を発行する。
func (p *LocalProvider) CreateSessionCookie(_ context.Context, idToken string, expiresIn time.Duration) (string, error) {
	if expiresIn < MinSessionLifetime || expiresIn > MaxSessionLifetime {
		return "", fmt.Errorf("%w: session lifetime %s out of range", ErrInvalidClaims, expiresIn)
	}
	c, err := p.parse(idToken, localIDTokenAudience, tokenUseID)
	if err != nil {
		return "", err
	}
	now := p.now()
	return p.sign(localClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    localIssuer,
			Subject:   c.Subject,
			Audience:  jwt.ClaimStrings{localIDTokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		},
		TokenUse:   tokenUseSession,
		AuthTime:   c.AuthTime,
		Generation: p.generation(c.Subject),
		Custom:     c.Custom,
	})
}

// VerifySessionCookie はセッションCookie値を検証する。
func (p *LocalProvider) VerifySessionCookie(_ context.Context, cookie string, checkRevoked bool) (*Token, error) {
	c, err := p.parse(cookie, localIDTokenAudience, tokenUseSession)
	if err != nil {
		return nil, err
	}
	if checkRevoked && c.Generation < p.generation(c.Subject) {
		return nil, ErrTokenRevoked
	}
	return toToken(c), nil
}

// RevokeSessions はuidに発行済みのセッションを全て失効させる。
func (p *LocalProvider) RevokeSessions(_ context.Context, uid string) error {
	if uid == "" {
		return fmt.Errorf("%w: uid is required", ErrUserNotFound)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generations[uid]++
	return nil
}

func (p *LocalProvider) generation(uid string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generations[uid]
}

func (p *LocalProvider) sign(c localClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	s, err := token.SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return s, nil
}

func (p *LocalProvider) parse(raw, audience, use string) (*localClaims, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", ErrTokenInvalid)
	}
	c := &localClaims{}
	_, err := jwt.ParseWithClaims(raw, c,
		func(*jwt.Token) (any, error) { return p.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(localIssuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if c.TokenUse != use || c.Subject == "" {
		return nil, fmt.Errorf("%w: unexpected token use %q", ErrTokenInvalid, c.TokenUse)
	}
	return c, nil
}

func toToken(c *localClaims) *Token {
	t := &Token{
		UID:    c.Subject,
		Claims: make(map[string]any, len(c.Custom)),
	}
	if c.IssuedAt != nil {
		t.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		t.ExpiresAt = c.ExpiresAt.Time
	}
	if c.AuthTime != 0 {
		t.AuthTime = time.Unix(c.AuthTime, 0)
	}
	for k, v := range c.Custom {
		t.Claims[k] = v
	}
	return t
}

// compile-time interface check
var _ Provider = (*LocalProvider)(nil)
