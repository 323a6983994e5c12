package session

import (
	"net/http"
	"strings"
	"time"
)

// CookieName はセッションCookieの名前。
const CookieName = "session"

// CookieConfig はセッションCookieの属性。
type CookieConfig struct {
	Domain string
	Secure bool // BASE_URLがhttpsの場合にtrue
}

// Read はリクエストからトリム済みのセッションCookie値を返す。
func Read(r *http.Request) (string, bool) {
	if r == nil {
		return "", false
	}
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie == nil {
		return "", false
	}
	value := strings.TrimSpace(cookie.Value)
	if value == "" {
		return "", false
	}
	return value, true
}

// Write はセッションCookieを設定する。
func Write(w http.ResponseWriter, value string, maxAge time.Duration, cfg CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		Domain:   cfg.Domain,
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear はセッションCookieを失効させる。
func Clear(w http.ResponseWriter, cfg CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Domain:   cfg.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
