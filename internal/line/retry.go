package line

import (
	"context"
	"net/http"
	"time"
)

// pushResult はHTTPステータスコードに基づくプッシュ結果の分類。
type pushResult int

const (
	// pushResultOK は送信成功（200）。
	pushResultOK pushResult = iota
	// pushResultStop は再送しても成功しないステータス（400/401/403/404）。
	pushResultStop
	// pushResultRetry は再送で回復しうるステータス（429/5xx）。
	pushResultRetry
	// pushResultDuplicate は同じ再送キーで受理済み（409）。送信済みとして扱う。
	pushResultDuplicate
)

const (
	defaultMaxRetries     = 2
	defaultInitialBackoff = 200 * time.Millisecond
	maxBackoff            = 2 * time.Second
)

// classifyStatus はHTTPステータスコードをプッシュ結果に分類する。
func classifyStatus(statusCode int) pushResult {
	switch {
	case statusCode == http.StatusOK:
		return pushResultOK
	case statusCode == http.StatusConflict:
		return pushResultDuplicate
	case statusCode == http.StatusTooManyRequests:
		return pushResultRetry
	case statusCode >= 500:
		return pushResultRetry
	default:
		return pushResultStop
	}
}

// backoff は試行回数に基づいて指数バックオフ遅延を計算する。
// 初回はinitial、2倍ずつ増加、最大2秒。
func backoff(initial time.Duration, attempt int) time.Duration {
	delay := initial
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// sleepContext はdだけ待機する。ctxがキャンセルされた場合はctxのエラーを返す。
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
