package gate

import (
	"net/http"
	"net/url"

	"github.com/hitoshi/tsunagu/internal/metrics"
	"github.com/hitoshi/tsunagu/internal/session"
)

// DefaultLoginPath はリダイレクト先のログインページ。
const DefaultLoginPath = "/login"

// NewMiddleware はリクエストゲートのミドルウェアを返す。
// Protectedのパスでセッションが存在しない場合はログインページへ302でリダイレクトする。
// Cookieの存在のみを確認し、署名の検証は保護されたAPIハンドラーで行う。
func NewMiddleware(table RouteTable, loginPath string, mc metrics.MetricsCollector) func(http.Handler) http.Handler {
	if loginPath == "" {
		loginPath = DefaultLoginPath
	}
	if mc == nil {
		mc = metrics.NopCollector{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if table.IsStatic(path) {
				next.ServeHTTP(w, r)
				return
			}

			class := table.Classify(path)
			if class != Protected {
				mc.RecordGateDecision(class.String(), "pass")
				next.ServeHTTP(w, r)
				return
			}

			if _, ok := session.Read(r); !ok {
				mc.RecordGateDecision(class.String(), "redirect")
				target := loginPath + "?callbackUrl=" + url.QueryEscape(r.URL.Path)
				http.Redirect(w, r, target, http.StatusFound)
				return
			}

			mc.RecordGateDecision(class.String(), "pass")
			next.ServeHTTP(w, r)
		})
	}
}
