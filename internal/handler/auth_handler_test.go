package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/hitoshi/tsunagu/internal/auth"
	"github.com/hitoshi/tsunagu/internal/model"
)

// newCallbackRequest はstate Cookie付きのコールバックリクエストを生成する。
func newCallbackRequest(query string, state string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/auth/line/callback?"+query, nil)
	if state != "" {
		req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: state})
	}
	return req
}

// errorRedirectReason は/auth/errorへのリダイレクトから理由コードを取り出す。
func errorRedirectReason(t *testing.T, resp *http.Response) string {
	t.Helper()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("invalid Location: %v", err)
	}
	if loc.Path != errorPath {
		t.Fatalf("Location path = %q, want %q", loc.Path, errorPath)
	}
	if got := loc.Query().Get("error"); got != "line_auth_failed" {
		t.Errorf("error = %q, want %q", got, "line_auth_failed")
	}
	return loc.Query().Get("message")
}

func TestAuthHandler_Login_RedirectsToLineWithState(t *testing.T) {
	var gotState string
	svc := &mockAuthService{
		getLoginURLFn: func(state string) string {
			gotState = state
			return "https://access.line.me/oauth2/v2.1/authorize?state=" + state
		},
	}
	h := NewAuthHandler(svc, AuthHandlerConfig{CookieSecure: true})

	req := httptest.NewRequest(http.MethodGet, "/auth/line/login?callbackUrl=/mypage", nil)
	w := httptest.NewRecorder()
	h.Login(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	if !strings.HasPrefix(resp.Header.Get("Location"), "https://access.line.me/") {
		t.Errorf("Location = %q, want LINE authorize URL", resp.Header.Get("Location"))
	}

	stateCookie := findCookie(resp, oauthStateCookie)
	if stateCookie == nil {
		t.Fatal("expected oauth_state cookie")
	}
	if stateCookie.Value != gotState || gotState == "" {
		t.Errorf("state cookie = %q, state passed to service = %q", stateCookie.Value, gotState)
	}
	if !stateCookie.HttpOnly || !stateCookie.Secure {
		t.Error("oauth_state cookie should be HttpOnly and Secure")
	}
	if stateCookie.MaxAge != oauthCookieMaxAge {
		t.Errorf("MaxAge = %d, want %d", stateCookie.MaxAge, oauthCookieMaxAge)
	}

	cb := findCookie(resp, loginCallbackCookie)
	if cb == nil {
		t.Fatal("expected login_callback cookie")
	}
	if v, _ := url.QueryUnescape(cb.Value); v != "/mypage" {
		t.Errorf("callback cookie = %q, want %q", v, "/mypage")
	}
}

func TestAuthHandler_Login_UnsafeCallback_StoredAsRoot(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, AuthHandlerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/auth/line/login?callbackUrl="+url.QueryEscape("https://evil.example.com/"), nil)
	w := httptest.NewRecorder()
	h.Login(w, req)

	cb := findCookie(w.Result(), loginCallbackCookie)
	if cb == nil {
		t.Fatal("expected login_callback cookie")
	}
	if v, _ := url.QueryUnescape(cb.Value); v != "/" {
		t.Errorf("callback cookie = %q, want %q", v, "/")
	}
}

func TestAuthHandler_Callback_Success_RedirectsToVerify(t *testing.T) {
	var gotCode string
	svc := &mockAuthService{
		handleCallbackFn: func(_ context.Context, code string) (*auth.LoginResult, error) {
			gotCode = code
			return &auth.LoginResult{Credential: "custom-token", UserID: "user-1", IsNewUser: true}, nil
		},
	}
	h := NewAuthHandler(svc, AuthHandlerConfig{})

	req := newCallbackRequest("code=abc123&state=s1", "s1")
	req.AddCookie(&http.Cookie{Name: loginCallbackCookie, Value: url.QueryEscape("/mypage")})
	w := httptest.NewRecorder()
	h.Callback(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	if gotCode != "abc123" {
		t.Errorf("code = %q, want %q", gotCode, "abc123")
	}

	want := "/auth/verify?callbackUrl=%2Fmypage&isNewUser=true&token=custom-token"
	if got := resp.Header.Get("Location"); got != want {
		t.Errorf("Location = %q, want %q", got, want)
	}

	// 一時Cookieは削除される
	for _, name := range []string{oauthStateCookie, loginCallbackCookie} {
		c := findCookie(resp, name)
		if c == nil || c.MaxAge >= 0 {
			t.Errorf("cookie %s should be cleared", name)
		}
	}
}

func TestAuthHandler_Callback_ExistingUser_NoCallback(t *testing.T) {
	svc := &mockAuthService{
		handleCallbackFn: func(context.Context, string) (*auth.LoginResult, error) {
			return &auth.LoginResult{Credential: "tok", UserID: "user-1"}, nil
		},
	}
	h := NewAuthHandler(svc, AuthHandlerConfig{})

	w := httptest.NewRecorder()
	h.Callback(w, newCallbackRequest("code=abc&state=s1", "s1"))

	want := "/auth/verify?isNewUser=false&token=tok"
	if got := w.Result().Header.Get("Location"); got != want {
		t.Errorf("Location = %q, want %q", got, want)
	}
}

func TestAuthHandler_Callback_Failures(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		state      string
		serviceErr error
		wantReason string
	}{
		{"access denied", "error=access_denied&state=s1", "s1", nil, auth.ReasonAccessDenied},
		{"provider error", "error=server_error&state=s1", "s1", nil, auth.ReasonAuthorizationFailed},
		{"state mismatch", "code=abc&state=other", "s1", nil, auth.ReasonInvalidState},
		{"state cookie missing", "code=abc&state=s1", "", nil, auth.ReasonInvalidState},
		{"missing code", "state=s1", "s1", nil, auth.ReasonMissingCode},
		{"token exchange failed", "code=abc&state=s1", "s1",
			model.NewExternalAuthError(auth.StageToken, http.StatusBadRequest, []byte(`{"error":"invalid_grant"}`), nil),
			auth.ReasonTokenExchangeFailed},
		{"profile fetch failed", "code=abc&state=s1", "s1",
			model.NewExternalAuthError(auth.StageProfile, http.StatusUnauthorized, nil, nil),
			auth.ReasonProfileFetchFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			svc := &mockAuthService{
				handleCallbackFn: func(context.Context, string) (*auth.LoginResult, error) {
					called = true
					return nil, tt.serviceErr
				},
			}
			h := NewAuthHandler(svc, AuthHandlerConfig{})

			w := httptest.NewRecorder()
			h.Callback(w, newCallbackRequest(tt.query, tt.state))

			if got := errorRedirectReason(t, w.Result()); got != tt.wantReason {
				t.Errorf("reason = %q, want %q", got, tt.wantReason)
			}
			if tt.serviceErr == nil && called {
				t.Error("service should not be called")
			}
		})
	}
}

func TestAuthHandler_Callback_ProviderBodyNotLeaked(t *testing.T) {
	svc := &mockAuthService{
		handleCallbackFn: func(context.Context, string) (*auth.LoginResult, error) {
			return nil, model.NewExternalAuthError(auth.StageToken, http.StatusBadRequest, []byte("secret-provider-detail"), nil)
		},
	}
	h := NewAuthHandler(svc, AuthHandlerConfig{})

	w := httptest.NewRecorder()
	h.Callback(w, newCallbackRequest("code=abc&state=s1", "s1"))

	if loc := w.Result().Header.Get("Location"); strings.Contains(loc, "secret-provider-detail") {
		t.Errorf("Location leaks provider response: %q", loc)
	}
}
