package webhook

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	linewebhook "github.com/line/line-bot-sdk-go/v8/linebot/webhook"

	"github.com/hitoshi/tsunagu/internal/metrics"
	"github.com/hitoshi/tsunagu/internal/model"
)

const providerLINE = "line"

// WelcomeMessage は友だち追加時に送信するメッセージ。
const WelcomeMessage = "友だち追加ありがとうございます！マッチングやメッセージの通知をLINEでお知らせします。"

// Pusher はLINEプッシュメッセージ送信のインターフェース。
type Pusher interface {
	PushText(ctx context.Context, to, text string) error
}

// LineHandler はLINE Messaging APIのWebhookハンドラー。
type LineHandler struct {
	channelSecret string
	identities    IdentityFinder
	profiles      ProfileUpdater
	pusher        Pusher
	metrics       metrics.MetricsCollector
}

// NewLineHandler はLineHandlerを生成する。pusherがnilの場合はメッセージを送信しない。
func NewLineHandler(channelSecret string, identities IdentityFinder, profiles ProfileUpdater, pusher Pusher, mc metrics.MetricsCollector) *LineHandler {
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &LineHandler{
		channelSecret: channelSecret,
		identities:    identities,
		profiles:      profiles,
		pusher:        pusher,
		metrics:       mc,
	}
}

// ServeHTTP はWebhookを処理する。
// LINEプラットフォームの再送を避けるため、署名不正を含めて常に200を返す。
func (h *LineHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	cb, err := linewebhook.ParseRequest(h.channelSecret, r)
	if err != nil {
		if errors.Is(err, linewebhook.ErrInvalidSignature) {
			sigErr := &model.WebhookSignatureError{Provider: providerLINE, Err: err}
			slog.Warn("rejected line webhook", slog.String("error", sigErr.Error()))
			h.metrics.RecordWebhook(providerLINE, "invalid_signature")
		} else {
			slog.Warn("failed to parse line webhook", slog.String("error", err.Error()))
			h.metrics.RecordWebhook(providerLINE, "invalid_body")
		}
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}

	for _, event := range cb.Events {
		h.dispatch(r.Context(), event)
	}

	writeJSON(w, http.StatusOK, struct{}{})
}

func (h *LineHandler) dispatch(ctx context.Context, event linewebhook.EventInterface) {
	switch e := event.(type) {
	case linewebhook.FollowEvent:
		h.handleFollow(ctx, sourceUserID(e.Source), true)
	case linewebhook.UnfollowEvent:
		h.handleFollow(ctx, sourceUserID(e.Source), false)
	default:
		slog.Info("ignored line webhook event", slog.String("type", event.GetType()))
		h.metrics.RecordWebhook(providerLINE, "ignored")
	}
}

// sourceUserID は1対1トークからのイベントの場合のみユーザーIDを返す。
func sourceUserID(src linewebhook.SourceInterface) string {
	if s, ok := src.(linewebhook.UserSource); ok {
		return s.UserId
	}
	return ""
}

// handleFollow は友だち追加・ブロックに応じて通知設定を更新する。
// 副作用の失敗はログに記録し、レスポンスには影響させない。
func (h *LineHandler) handleFollow(ctx context.Context, lineUserID string, followed bool) {
	if lineUserID == "" {
		h.metrics.RecordWebhook(providerLINE, "ignored")
		return
	}

	linked, err := h.identities.FindByProviderAndProviderUserID(ctx, model.ProviderLINE, lineUserID)
	if err != nil {
		slog.Error("failed to find linked identity",
			slog.String("line_user_id", lineUserID),
			slog.String("error", err.Error()),
		)
		h.metrics.RecordWebhook(providerLINE, "error")
		return
	}
	if linked != nil {
		if err := h.profiles.UpdateLineNotify(ctx, linked.UserID, followed); err != nil {
			slog.Error("failed to update line notify setting",
				slog.String("user_id", linked.UserID),
				slog.String("error", err.Error()),
			)
			h.metrics.RecordWebhook(providerLINE, "error")
			return
		}
	} else {
		slog.Info("line webhook for unlinked user", slog.String("line_user_id", lineUserID))
	}

	if followed && h.pusher != nil {
		if err := h.pusher.PushText(ctx, lineUserID, WelcomeMessage); err != nil {
			slog.Warn("failed to push welcome message",
				slog.String("line_user_id", lineUserID),
				slog.String("error", err.Error()),
			)
		}
	}

	h.metrics.RecordWebhook(providerLINE, "processed")
}
