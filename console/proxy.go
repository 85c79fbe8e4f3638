package console

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
)

// newRegistryProxy forwards /registry/* to the registry through the
// interceptor. Any Authorization sent by the browser is dropped so that the
// store's credential is the only one presented. CSRFMiddleware has already
// vetted mutating requests.
func (c *Console) newRegistryProxy() *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(c.registry)
			pr.Out.Host = c.registry.Host
			pr.Out.Header.Del("Authorization")
			pr.Out.Header.Del("Cookie")
			pr.Out.Header.Del(csrfHeaderName)
		},
		Transport: c.transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(err, context.Canceled) {
				// Browser went away while the call was suspended.
				return
			}
			c.audit.logFailure(AuditProxyFailure, r, err.Error(), slog.String("path", r.URL.Path))
			writeError(w, http.StatusBadGateway, "registry unavailable")
		},
	}
}
