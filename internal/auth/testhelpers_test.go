package auth

import (
	"context"
	"sync"

	"github.com/hitoshi/tsunagu/internal/model"
	"github.com/hitoshi/tsunagu/internal/repository"
)

// --- モック定義 ---

// memoryIdentityRepo はLinkOrCreateの原子性をミューテックスで再現するインメモリ実装。
type memoryIdentityRepo struct {
	mu       sync.Mutex
	links    map[string]*model.LinkedIdentity
	profiles map[string]*model.Profile

	linkOrCreateErr error
}

func newMemoryIdentityRepo() *memoryIdentityRepo {
	return &memoryIdentityRepo{
		links:    make(map[string]*model.LinkedIdentity),
		profiles: make(map[string]*model.Profile),
	}
}

func (m *memoryIdentityRepo) FindByProviderAndProviderUserID(_ context.Context, provider, providerUserID string) (*model.LinkedIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	li, ok := m.links[provider+"/"+providerUserID]
	if !ok {
		return nil, nil
	}
	cp := *li
	return &cp, nil
}

func (m *memoryIdentityRepo) LinkOrCreate(_ context.Context, identity *model.LinkedIdentity, profile *model.Profile) (*model.LinkedIdentity, bool, error) {
	if m.linkOrCreateErr != nil {
		return nil, false, m.linkOrCreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := identity.Provider + "/" + identity.ProviderUserID
	if li, ok := m.links[key]; ok {
		cp := *li
		return &cp, false, nil
	}
	li := *identity
	m.links[key] = &li
	p := *profile
	p.UserID = li.UserID
	m.profiles[li.UserID] = &p
	cp := li
	return &cp, true, nil
}

type mockOAuthProvider struct {
	getLoginURLFn  func(state string) string
	exchangeCodeFn func(ctx context.Context, code string) (*ThirdPartyProfile, error)
}

func (m *mockOAuthProvider) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return ""
}

func (m *mockOAuthProvider) ExchangeCode(ctx context.Context, code string) (*ThirdPartyProfile, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code)
	}
	return nil, nil
}

type mockMinter struct {
	mintFn func(ctx context.Context, uid string, claims map[string]any) (string, error)
}

func (m *mockMinter) Mint(ctx context.Context, uid string, claims map[string]any) (string, error) {
	if m.mintFn != nil {
		return m.mintFn(ctx, uid, claims)
	}
	return "credential-" + uid, nil
}

// --- compile-time interface checks ---
var (
	_ repository.IdentityRepository = (*memoryIdentityRepo)(nil)
	_ OAuthProvider                 = (*mockOAuthProvider)(nil)
	_ CredentialMinter              = (*mockMinter)(nil)
	_ IdentityLinker                = (*Linker)(nil)
	_ CredentialMinter              = (*Minter)(nil)
)
