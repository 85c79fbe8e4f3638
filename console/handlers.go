package console

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jmcleod/regconsole/session"
)

// Login handles POST /auth/login. The credential is stored without asking
// the registry; suspended calls are replayed with it immediately.
func (c *Console) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoginRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if req.Username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}

	if err := c.store.SetCredentials(req.Username, req.Password); err != nil {
		if errors.Is(err, session.ErrInvalidUsername) {
			c.audit.logFailure(AuditLoginFailure, r, "invalid username")
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		c.audit.logFailure(AuditLoginFailure, r, "persisting credential failed")
		writeError(w, http.StatusInternalServerError, "failed to store credentials")
		return
	}

	pending := c.transport.Pending()
	c.transport.LoginConfirmed()
	c.audit.log(AuditLoginSuccess, r,
		slog.String("username", c.store.Username()),
		slog.Int("replayed", pending),
	)
	c.notices.push(Notification{Message: "Logged in as " + c.store.Username(), Type: NotificationSuccess})

	writeJSON(w, http.StatusOK, c.status())
}

// Logout handles POST /auth/logout.
func (c *Console) Logout(w http.ResponseWriter, r *http.Request) {
	username := c.store.Username()
	if err := c.store.ClearCredentials(); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear credentials")
		return
	}
	c.audit.log(AuditLogout, r, slog.String("username", username))
	w.WriteHeader(http.StatusNoContent)
}

// Status handles GET /auth/status.
func (c *Console) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, c.status())
}

// Notifications handles GET /notifications, draining the queue.
func (c *Console) Notifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, NotificationsResponse{Notifications: c.notices.drain()})
}

func (c *Console) status() StatusResponse {
	return StatusResponse{
		LoggedIn: c.store.IsLoggedIn(),
		Username: c.store.Username(),
		Locked:   c.store.Locked(),
		Pending:  c.transport.Pending(),
	}
}
