// Package console serves the local registry console backend: login, logout,
// session status, notifications, and a reverse proxy that sends registry calls
// through the unauthorized-response interceptor.
package console

import (
	_ "embed"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/regconsole/events"
	"github.com/jmcleod/regconsole/interceptor"
	"github.com/jmcleod/regconsole/session"
	"github.com/jmcleod/regconsole/web"
)

const (
	// RequiresAdminMessage is queued whenever a registry call is suspended.
	RequiresAdminMessage = "Requires account with administrative rights"

	maxAuthBodySize = 16 << 10
)

//go:embed openapi.yaml
var openapiSpec []byte

// Console holds the dependencies needed by the console handlers.
type Console struct {
	store     *session.Store
	transport *interceptor.Transport
	bus       *events.Bus
	registry  *url.URL
	audit     *auditLogger
	notices   *notificationQueue
	proxy     *httputil.ReverseProxy

	unsubscribe func()
}

// Option configures the Console instance.
type Option func(*Console)

// WithLogger sets the structured logger for audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Console) {
		c.audit = newAuditLogger(logger)
	}
}

// WithNotificationLimit bounds the number of undelivered notifications kept.
func WithNotificationLimit(n int) Option {
	return func(c *Console) {
		c.notices = newNotificationQueue(n)
	}
}

// New creates a Console proxying registry calls to registry through transport.
func New(store *session.Store, transport *interceptor.Transport, bus *events.Bus, registry *url.URL, opts ...Option) *Console {
	c := &Console{
		store:     store,
		transport: transport,
		bus:       bus,
		registry:  registry,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.audit == nil {
		c.audit = newAuditLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	}
	if c.notices == nil {
		c.notices = newNotificationQueue(defaultNotificationLimit)
	}
	c.proxy = c.newRegistryProxy()
	c.unsubscribe = bus.Subscribe(events.LoginRequired, c.onLoginRequired)
	return c
}

// Close detaches the console from the event bus.
func (c *Console) Close() {
	c.unsubscribe()
}

func (c *Console) onLoginRequired() {
	c.notices.push(Notification{Message: RequiresAdminMessage, Type: NotificationError})
	c.audit.logBackground(AuditLoginRequired, slog.Int("pending", c.transport.Pending()))
}

// Router returns a chi.Router with all API routes mounted.
func (c *Console) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Post("/auth/login", c.Login)
	r.Post("/auth/logout", c.Logout)
	r.Get("/auth/status", c.Status)
	r.Get("/notifications", c.Notifications)

	return r
}

// Handler returns the complete console: health check, API, registry proxy
// and the embedded web UI.
func (c *Console) Handler() (http.Handler, error) {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(SecurityHeaders)
	r.Use(CSRFMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Mount("/api/v1", c.Router())
	r.Handle("/registry/*", http.StripPrefix("/registry", c.proxy))

	webHandler, err := web.Handler()
	if err != nil {
		return nil, err
	}
	r.Handle("/*", webHandler)
	return r, nil
}
