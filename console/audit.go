package console

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditLoginSuccess  AuditEvent = "login_success"
	AuditLoginFailure  AuditEvent = "login_failure"
	AuditLogout        AuditEvent = "logout"
	AuditLoginRequired AuditEvent = "login_required"
	AuditProxyFailure  AuditEvent = "proxy_failure"
)

// auditLogger wraps slog.Logger for structured security audit logging.
type auditLogger struct {
	logger *slog.Logger
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
	}
}

// log writes a structured audit log entry for a request.
func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	al.write(r.Context(), event, append([]slog.Attr{slog.String("remote_addr", r.RemoteAddr)}, attrs...)...)
}

// logBackground writes an audit entry for an event not tied to a request.
func (al *auditLogger) logBackground(event AuditEvent, attrs ...slog.Attr) {
	al.write(context.Background(), event, attrs...)
}

// logFailure logs a failed action with its reason.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	al.log(event, r, append([]slog.Attr{slog.String("reason", reason)}, extra...)...)
}

func (al *auditLogger) write(ctx context.Context, event AuditEvent, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	al.logger.LogAttrs(ctx, slog.LevelInfo, "audit", append(base, attrs...)...)
}
