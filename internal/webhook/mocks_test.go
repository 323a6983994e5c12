package webhook

import (
	"context"

	"github.com/hitoshi/tsunagu/internal/model"
)

// --- モック定義 ---

type mockIdentityFinder struct {
	findFn func(ctx context.Context, provider, providerUserID string) (*model.LinkedIdentity, error)
}

func (m *mockIdentityFinder) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.LinkedIdentity, error) {
	if m.findFn != nil {
		return m.findFn(ctx, provider, providerUserID)
	}
	return nil, nil
}

type mockProfileUpdater struct {
	updateVerificationFn func(ctx context.Context, userID string, status model.VerificationStatus) error
	updateLineNotifyFn   func(ctx context.Context, userID string, enabled bool) error
}

func (m *mockProfileUpdater) UpdateVerificationStatus(ctx context.Context, userID string, status model.VerificationStatus) error {
	if m.updateVerificationFn != nil {
		return m.updateVerificationFn(ctx, userID, status)
	}
	return nil
}

func (m *mockProfileUpdater) UpdateLineNotify(ctx context.Context, userID string, enabled bool) error {
	if m.updateLineNotifyFn != nil {
		return m.updateLineNotifyFn(ctx, userID, enabled)
	}
	return nil
}

type mockPusher struct {
	pushFn func(ctx context.Context, to, text string) error
}

func (m *mockPusher) PushText(ctx context.Context, to, text string) error {
	if m.pushFn != nil {
		return m.pushFn(ctx, to, text)
	}
	return nil
}
