package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/identitytoolkit/v3"
	"google.golang.org/api/option"
)

const defaultFirebaseTimeout = 10 * time.Second

// firebaseAuthClient はFirebase Admin SDKのauth.Clientのうち使用する部分。
type firebaseAuthClient interface {
	CustomTokenWithClaims(ctx context.Context, uid string, devClaims map[string]interface{}) (string, error)
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
	SessionCookie(ctx context.Context, idToken string, expiresIn time.Duration) (string, error)
	VerifySessionCookie(ctx context.Context, sessionCookie string) (*fbauth.Token, error)
	VerifySessionCookieAndCheckRevoked(ctx context.Context, sessionCookie string) (*fbauth.Token, error)
	RevokeRefreshTokens(ctx context.Context, uid string) error
}

// FirebaseConfig はFirebaseバックエンドの設定。
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string        // 空の場合はApplication Default Credentialsを使用する
	WebAPIKey       string        // SignInWithCustomTokenで使用する
	Timeout         time.Duration // Firebaseへの呼び出し1回あたりの上限

	// テスト用にオーバーライド可能なIdentity Toolkit v3のベースURL
	IdentityToolkitURL string
}

// FirebaseProvider はFirebase Authenticationを内部IdPとして使用するバックエンド。
type FirebaseProvider struct {
	client     firebaseAuthClient
	timeout    time.Duration
	apiKey     string
	toolkitURL string
}

// NewFirebaseProvider はFirebase Admin SDKを初期化してFirebaseProviderを生成する。
// FIREBASE_AUTH_EMULATOR_HOSTが設定されている場合はSDKがエミュレータに接続する。
func NewFirebaseProvider(ctx context.Context, cfg FirebaseConfig) (*FirebaseProvider, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}

	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase auth client: %w", err)
	}

	return newFirebaseProvider(client, cfg), nil
}

func newFirebaseProvider(client firebaseAuthClient, cfg FirebaseConfig) *FirebaseProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultFirebaseTimeout
	}
	toolkitURL := cfg.IdentityToolkitURL
	if toolkitURL == "" {
		if host := os.Getenv("FIREBASE_AUTH_EMULATOR_HOST"); host != "" {
			toolkitURL = "http://" + host + "/www.googleapis.com/identitytoolkit/v3/relyingparty/"
		}
	}
	return &FirebaseProvider{
		client:     client,
		timeout:    timeout,
		apiKey:     cfg.WebAPIKey,
		toolkitURL: toolkitURL,
	}
}

// withTimeout はFirebaseへの呼び出しをOUTBOUND_TIMEOUTで打ち切るコンテキストを返す。
func (p *FirebaseProvider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.timeout)
}

// MintCustomToken はカスタムトークンを発行する。
func (p *FirebaseProvider) MintCustomToken(ctx context.Context, uid string, claims map[string]any) (string, error) {
	if err := validateClaims(claims); err != nil {
		return "", err
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	token, err := p.client.CustomTokenWithClaims(ctx, uid, claims)
	if err != nil {
		if fbauth.IsUserNotFound(err) {
			return "", fmt.Errorf("%w: %v", ErrUserNotFound, err)
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return token, nil
}

// SignInWithCustomToken はIdentity Toolkit APIでカスタムトークンをIDトークンに交換する。
func (p *FirebaseProvider) SignInWithCustomToken(ctx context.Context, customToken string) (string, error) {
	if p.apiKey == "" {
		return "", fmt.Errorf("%w: web API key is not configured", ErrUnavailable)
	}

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	opts := []option.ClientOption{option.WithAPIKey(p.apiKey)}
	if p.toolkitURL != "" {
		opts = append(opts, option.WithEndpoint(p.toolkitURL))
	}
	svc, err := identitytoolkit.NewService(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: failed to create identity toolkit client: %v", ErrUnavailable, err)
	}

	resp, err := svc.Relyingparty.VerifyCustomToken(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyCustomTokenRequest{
		Token:             customToken,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 {
			return "", fmt.Errorf("%w: sign-in rejected with status %d", ErrTokenInvalid, apiErr.Code)
		}
		return "", fmt.Errorf("%w: sign-in request failed: %v", ErrUnavailable, err)
	}
	if resp.IdToken == "" {
		return "", fmt.Errorf("%w: empty idToken in sign-in response", ErrTokenInvalid)
	}
	return resp.IdToken, nil
}

// VerifyIDToken はIDトークンを検証する。
func (p *FirebaseProvider) VerifyIDToken(ctx context.Context, idToken string) (*Token, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	t, err := p.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		case fbauth.IsIDTokenExpired(err):
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		case fbauth.IsIDTokenRevoked(err):
			return nil, fmt.Errorf("%w: %v", ErrTokenRevoked, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
		}
	}
	return fromFirebaseToken(t), nil
}

// CreateSessionCookie はIDトークンをセッションCookie値に交換する。
func (p *FirebaseProvider) CreateSessionCookie(ctx context.Context, idToken string, expiresIn time.Duration) (string, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	cookie, err := p.client.SessionCookie(ctx, idToken, expiresIn)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		case fbauth.IsIDTokenExpired(err):
			return "", fmt.Errorf("%w: %v", ErrTokenExpired, err)
		default:
			return "", fmt.Errorf("%w: %v", ErrTokenInvalid, err)
		}
	}
	return cookie, nil
}

// VerifySessionCookie はセッションCookie値を検証する。
func (p *FirebaseProvider) VerifySessionCookie(ctx context.Context, cookie string, checkRevoked bool) (*Token, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var (
		t   *fbauth.Token
		err error
	)
	if checkRevoked {
		t, err = p.client.VerifySessionCookieAndCheckRevoked(ctx, cookie)
	} else {
		t, err = p.client.VerifySessionCookie(ctx, cookie)
	}
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		case fbauth.IsSessionCookieExpired(err):
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		case fbauth.IsSessionCookieRevoked(err):
			return nil, fmt.Errorf("%w: %v", ErrTokenRevoked, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
		}
	}
	return fromFirebaseToken(t), nil
}

// RevokeSessions はuidのリフレッシュトークンを失効させる。
// 以降VerifySessionCookie(checkRevoked=true)は既存のセッションを拒否する。
func (p *FirebaseProvider) RevokeSessions(ctx context.Context, uid string) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	if err := p.client.RevokeRefreshTokens(ctx, uid); err != nil {
		if fbauth.IsUserNotFound(err) {
			return fmt.Errorf("%w: %v", ErrUserNotFound, err)
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func fromFirebaseToken(t *fbauth.Token) *Token {
	out := &Token{
		UID:       t.UID,
		IssuedAt:  time.Unix(t.IssuedAt, 0),
		ExpiresAt: time.Unix(t.Expires, 0),
		AuthTime:  time.Unix(t.AuthTime, 0),
		Claims:    make(map[string]any, len(t.Claims)),
	}
	for k, v := range t.Claims {
		out.Claims[k] = v
	}
	return out
}

// compile-time interface check
var _ Provider = (*FirebaseProvider)(nil)
