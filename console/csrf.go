package console

import (
	"crypto/subtle"
	"net/http"
	"net/url"
	"strings"

	"github.com/jmcleod/regconsole/internal/uuid"
)

const (
	csrfCookieName = "regconsole_csrf"
	csrfHeaderName = "X-CSRF-Token"
)

// CSRFMiddleware protects the console's stored credential from cross-site
// use. Mutating requests must come from the console's own origin and carry
// the double-submit token from the CSRF cookie in the X-CSRF-Token header.
// Safe requests receive the cookie when they lack one.
func CSRFMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			if c, err := r.Cookie(csrfCookieName); err != nil || c.Value == "" {
				writeCSRFCookie(w, r)
			}
			next.ServeHTTP(w, r)
			return
		}

		if !sameOrigin(r) {
			writeError(w, http.StatusForbidden, "cross-origin request rejected")
			return
		}

		cookie, err := r.Cookie(csrfCookieName)
		if err != nil || cookie.Value == "" {
			writeError(w, http.StatusForbidden, "missing CSRF token")
			return
		}
		header := r.Header.Get(csrfHeaderName)
		if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) != 1 {
			writeError(w, http.StatusForbidden, "invalid CSRF token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// sameOrigin rejects requests a browser marks as cross-site, or whose Origin
// names another host.
func sameOrigin(r *http.Request) bool {
	switch r.Header.Get("Sec-Fetch-Site") {
	case "", "same-origin", "none":
	default:
		return false
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// writeCSRFCookie sets the CSRF double-submit cookie. It is not HttpOnly so
// that console.js can echo it in the request header.
func writeCSRFCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    uuid.New(),
		Path:     "/",
		HttpOnly: false,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteStrictMode,
	})
}
