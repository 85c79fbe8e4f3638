package console

// LoginRequest is the JSON body for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// StatusResponse is returned from GET /auth/status and POST /auth/login.
type StatusResponse struct {
	LoggedIn bool   `json:"logged_in"`
	Username string `json:"username,omitempty"`
	// Locked is set when a stored credential cannot be opened with the
	// configured seal secret.
	Locked bool `json:"locked,omitempty"`
	// Pending is the number of registry calls still suspended.
	Pending int `json:"pending"`
}

// NotificationType classifies a notification for display.
type NotificationType string

const (
	NotificationError   NotificationType = "error"
	NotificationInfo    NotificationType = "info"
	NotificationSuccess NotificationType = "success"
)

// Notification is a user-facing message raised by the console.
type Notification struct {
	Message string           `json:"message"`
	Type    NotificationType `json:"type"`
}

// NotificationsResponse is returned from GET /notifications.
type NotificationsResponse struct {
	Notifications []Notification `json:"notifications"`
}

// ErrorResponse is returned for all error cases.
type ErrorResponse struct {
	Error string `json:"error"`
}
