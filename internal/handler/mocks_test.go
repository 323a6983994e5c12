package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/tsunagu/internal/auth"
	"github.com/hitoshi/tsunagu/internal/identity"
	"github.com/hitoshi/tsunagu/internal/model"
	"github.com/hitoshi/tsunagu/internal/session"
)

// --- モック定義 ---

type mockAuthService struct {
	getLoginURLFn    func(state string) string
	handleCallbackFn func(ctx context.Context, code string) (*auth.LoginResult, error)
}

func (m *mockAuthService) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return "https://access.line.me/oauth2/v2.1/authorize?state=" + state
}

func (m *mockAuthService) HandleLineCallback(ctx context.Context, code string) (*auth.LoginResult, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code)
	}
	return nil, nil
}

type mockSessionService struct {
	establishFn     func(ctx context.Context, w http.ResponseWriter, idToken string) (*identity.Token, error)
	destroyFn       func(ctx context.Context, w http.ResponseWriter, r *http.Request)
	verifyRequestFn func(r *http.Request, checkRevoked bool) (*identity.Token, error)
}

func (m *mockSessionService) Establish(ctx context.Context, w http.ResponseWriter, idToken string) (*identity.Token, error) {
	if m.establishFn != nil {
		return m.establishFn(ctx, w, idToken)
	}
	return &identity.Token{UID: "user-1"}, nil
}

func (m *mockSessionService) Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if m.destroyFn != nil {
		m.destroyFn(ctx, w, r)
	}
}

func (m *mockSessionService) VerifyRequest(r *http.Request, checkRevoked bool) (*identity.Token, error) {
	if m.verifyRequestFn != nil {
		return m.verifyRequestFn(r, checkRevoked)
	}
	if _, ok := session.Read(r); !ok {
		return nil, &model.UnauthorizedError{Reason: model.ReasonSessionCookieMissing}
	}
	return &identity.Token{UID: "user-1"}, nil
}

type mockProfileService struct {
	getFn             func(ctx context.Context, userID string) (*model.Profile, error)
	updateTagsFn      func(ctx context.Context, userID string, tags []string) ([]string, error)
	updateAgreementFn func(ctx context.Context, userID string, agreed bool) error
}

func (m *mockProfileService) Get(ctx context.Context, userID string) (*model.Profile, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID)
	}
	return &model.Profile{UserID: userID, Tags: []string{}}, nil
}

func (m *mockProfileService) UpdateTags(ctx context.Context, userID string, tags []string) ([]string, error) {
	if m.updateTagsFn != nil {
		return m.updateTagsFn(ctx, userID, tags)
	}
	return tags, nil
}

func (m *mockProfileService) UpdateAgreement(ctx context.Context, userID string, agreed bool) error {
	if m.updateAgreementFn != nil {
		return m.updateAgreementFn(ctx, userID, agreed)
	}
	return nil
}

type mockSigner struct {
	signInFn func(ctx context.Context, customToken string) (string, error)
}

func (m *mockSigner) SignInWithCustomToken(ctx context.Context, customToken string) (string, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, customToken)
	}
	return "id-token", nil
}

type mockHealthChecker struct {
	pingFn func(ctx context.Context) error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

// findCookie はレスポンスから指定名のCookieを探す。
func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
