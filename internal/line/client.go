// Package line はLINE Messaging APIのプッシュメッセージ送信を提供する。
package line

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
)

const (
	// defaultEndpoint はMessaging APIのベースURL。
	defaultEndpoint = "https://api.line.me"
	// maxTextLength はテキストメッセージの最大文字数。
	maxTextLength = 5000
)

// ErrNotConfigured はチャネルアクセストークンが未設定であることを表す。
var ErrNotConfigured = errors.New("line messaging access token is not configured")

// Client はLINE Messaging APIのクライアント。
type Client struct {
	httpClient  *http.Client
	logger      *slog.Logger
	accessToken string
	endpoint    string // テスト用にエンドポイントを差し替え可能

	maxRetries     int
	initialBackoff time.Duration
}

// NewClient はClientの新しいインスタンスを生成する。
// httpClientのTimeoutで1回の呼び出し時間を制限する。
// 429と5xxおよび通信エラーは最大2回まで再送する。
func NewClient(httpClient *http.Client, logger *slog.Logger, accessToken string) *Client {
	return &Client{
		httpClient:     httpClient,
		logger:         logger,
		accessToken:    accessToken,
		endpoint:       defaultEndpoint,
		maxRetries:     defaultMaxRetries,
		initialBackoff: defaultInitialBackoff,
	}
}

// PushText は指定したLINEユーザーにテキストメッセージを送信する。
func (c *Client) PushText(ctx context.Context, to, text string) error {
	if c.accessToken == "" {
		return ErrNotConfigured
	}
	if to == "" {
		return fmt.Errorf("送信先が指定されていません")
	}
	if r := []rune(text); len(r) > maxTextLength {
		text = string(r[:maxTextLength])
	}

	api, err := messaging_api.NewMessagingApiAPI(c.accessToken,
		messaging_api.WithHTTPClient(c.httpClient),
		messaging_api.WithEndpoint(c.endpoint),
	)
	if err != nil {
		return fmt.Errorf("Messaging APIクライアントの生成に失敗しました: %w", err)
	}

	req := &messaging_api.PushMessageRequest{
		To: to,
		Messages: []messaging_api.MessageInterface{
			messaging_api.TextMessage{Text: text},
		},
	}

	// 再送しても同じキーを使い、LINE側で重複配信を防ぐ
	retryKey := uuid.NewString()

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepContext(ctx, backoff(c.initialBackoff, attempt-1)); err != nil {
				return err
			}
		}

		result, err := c.push(ctx, api, req, retryKey)
		if result != pushResultRetry {
			return err
		}
		lastErr = err
		c.logger.Warn("LINEプッシュAPIの呼び出しを再試行します",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	return fmt.Errorf("LINEプッシュAPIの再試行上限に達しました: %w", lastErr)
}

// push はプッシュAPIを1回呼び出し、結果の分類を返す。
func (c *Client) push(ctx context.Context, api *messaging_api.MessagingApiAPI, req *messaging_api.PushMessageRequest, retryKey string) (pushResult, error) {
	resp, _, err := api.WithContext(ctx).PushMessageWithHttpInfo(req, retryKey)
	if resp == nil {
		c.logger.Error("LINEプッシュAPIの呼び出しに失敗しました",
			slog.String("error", errString(err)),
		)
		if ctx.Err() != nil {
			return pushResultStop, err
		}
		return pushResultRetry, err
	}

	result := classifyStatus(resp.StatusCode)
	switch result {
	case pushResultOK:
		return result, nil
	case pushResultDuplicate:
		// 同じ再送キーのリクエストが既に受理されている
		c.logger.Info("LINEプッシュは既に受理済みです", slog.Int("http_status", resp.StatusCode))
		return pushResultOK, nil
	}

	c.logger.Error("LINEプッシュAPIがエラーステータスを返しました",
		slog.Int("http_status", resp.StatusCode),
		slog.String("error", errString(err)),
	)
	return result, fmt.Errorf("LINEプッシュAPIがステータス %d を返しました", resp.StatusCode)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
