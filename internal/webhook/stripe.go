package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v81"
	stripewebhook "github.com/stripe/stripe-go/v81/webhook"

	"github.com/hitoshi/tsunagu/internal/metrics"
	"github.com/hitoshi/tsunagu/internal/model"
)

const (
	providerStripe = "stripe"

	// StripeSignatureHeader はStripe Webhookの署名ヘッダー。
	StripeSignatureHeader = "Stripe-Signature"
	// stripeTolerance は署名タイムスタンプの許容誤差。
	stripeTolerance = 5 * time.Minute
	// metadataUserID は本人確認セッションのメタデータに格納するユーザーIDのキー。
	metadataUserID = "user_id"
)

// stripeStatusByEvent は本人確認イベントと更新後の状態の対応。
var stripeStatusByEvent = map[stripe.EventType]model.VerificationStatus{
	stripe.EventTypeIdentityVerificationSessionVerified:      model.VerificationStatusVerified,
	stripe.EventTypeIdentityVerificationSessionRequiresInput: model.VerificationStatusRequiresInput,
	stripe.EventTypeIdentityVerificationSessionProcessing:    model.VerificationStatusProcessing,
}

// StripeHandler はStripeのWebhookハンドラー。
type StripeHandler struct {
	secret   string
	profiles ProfileUpdater
	metrics  metrics.MetricsCollector
}

// NewStripeHandler はStripeHandlerを生成する。
func NewStripeHandler(secret string, profiles ProfileUpdater, mc metrics.MetricsCollector) *StripeHandler {
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &StripeHandler{secret: secret, profiles: profiles, metrics: mc}
}

// ServeHTTP はWebhookを処理する。
// 署名不正は400、副作用の失敗はStripeに再送させるため500を返す。
func (h *StripeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.metrics.RecordWebhook(providerStripe, "invalid_body")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	event, err := stripewebhook.ConstructEventWithOptions(body, r.Header.Get(StripeSignatureHeader), h.secret,
		stripewebhook.ConstructEventOptions{
			Tolerance:                stripeTolerance,
			IgnoreAPIVersionMismatch: true,
		})
	if err != nil {
		sigErr := &model.WebhookSignatureError{Provider: providerStripe, Err: err}
		slog.Warn("rejected stripe webhook", slog.String("error", sigErr.Error()))
		h.metrics.RecordWebhook(providerStripe, "invalid_signature")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid signature"})
		return
	}

	if err := h.dispatch(r.Context(), event); err != nil {
		slog.Error("failed to handle stripe webhook",
			slog.String("event_id", event.ID),
			slog.String("type", string(event.Type)),
			slog.String("error", err.Error()),
		)
		h.metrics.RecordWebhook(providerStripe, "error")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "webhook handler failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *StripeHandler) dispatch(ctx context.Context, event stripe.Event) error {
	status, ok := stripeStatusByEvent[event.Type]
	if !ok {
		slog.Info("ignored stripe webhook event", slog.String("type", string(event.Type)))
		h.metrics.RecordWebhook(providerStripe, "ignored")
		return nil
	}
	if event.Data == nil {
		return errors.New("event has no data")
	}

	var vs stripe.IdentityVerificationSession
	if err := json.Unmarshal(event.Data.Raw, &vs); err != nil {
		return fmt.Errorf("failed to parse verification session: %w", err)
	}

	userID := vs.Metadata[metadataUserID]
	if userID == "" {
		// 紐付け先のないセッションは再送しても解決しない
		slog.Warn("verification session without user_id",
			slog.String("verification_session_id", vs.ID),
		)
		h.metrics.RecordWebhook(providerStripe, "ignored")
		return nil
	}

	if err := h.profiles.UpdateVerificationStatus(ctx, userID, status); err != nil {
		return fmt.Errorf("failed to update verification status: %w", err)
	}

	slog.Info("verification status updated",
		slog.String("user_id", userID),
		slog.String("status", string(status)),
	)
	h.metrics.RecordWebhook(providerStripe, "processed")
	return nil
}
