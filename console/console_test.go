package console_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/regconsole/basicauth"
	"github.com/jmcleod/regconsole/console"
	"github.com/jmcleod/regconsole/events"
	"github.com/jmcleod/regconsole/interceptor"
	"github.com/jmcleod/regconsole/session"
	"github.com/jmcleod/regconsole/storage/memory"
)

type env struct {
	srv      *httptest.Server
	registry *httptest.Server
	store    *session.Store
	client   *http.Client
	token    string

	mu    sync.Mutex
	auths []string
}

func setupServer(t *testing.T) *env {
	t.Helper()
	e := &env{}
	want := basicauth.Header(basicauth.Credential("alice", "secret"))
	e.registry = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.mu.Lock()
		e.auths = append(e.auths, r.Header.Get("Authorization"))
		e.mu.Unlock()
		if r.Header.Get("Authorization") != want {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		fmt.Fprintf(w, "%s %s", r.Method, r.URL.Path)
	}))
	t.Cleanup(e.registry.Close)

	store, err := session.NewStore(memory.NewRepository())
	require.NoError(t, err)
	e.store = store

	logger := slog.New(slog.DiscardHandler)
	bus := events.NewBus(logger)
	base := &http.Transport{}
	t.Cleanup(base.CloseIdleConnections)
	transport := interceptor.New(store, bus, interceptor.WithBase(base), interceptor.WithLogger(logger))
	t.Cleanup(transport.Close)

	registryURL, err := url.Parse(e.registry.URL)
	require.NoError(t, err)
	c := console.New(store, transport, bus, registryURL, console.WithLogger(logger))
	t.Cleanup(c.Close)

	h, err := c.Handler()
	require.NoError(t, err)
	e.srv = httptest.NewServer(h)
	t.Cleanup(e.srv.Close)

	// Any safe request hands out the CSRF cookie.
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	e.client = &http.Client{Jar: jar}
	resp, err := e.client.Get(e.srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	srvURL, err := url.Parse(e.srv.URL)
	require.NoError(t, err)
	for _, c := range jar.Cookies(srvURL) {
		if c.Name == "regconsole_csrf" {
			e.token = c.Value
		}
	}
	require.NotEmpty(t, e.token)
	return e
}

func (e *env) registryAuths() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.auths...)
}

// doJSON sends body as JSON from the console's own page: with the cookie jar
// and, for mutating methods, the CSRF header.
func (e *env) doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	header := map[string]string{}
	if body != nil {
		header["Content-Type"] = "application/json"
	}
	if method != http.MethodGet {
		header["X-CSRF-Token"] = e.token
	}
	return e.send(t, method, url, reqBody.String(), header)
}

func (e *env) send(t *testing.T, method, url, body string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), method, url, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := e.client.Do(req)
	require.NoError(t, err)
	return resp
}

func status(t *testing.T, e *env) console.StatusResponse {
	t.Helper()
	resp := e.doJSON(t, http.MethodGet, e.srv.URL+"/api/v1/auth/status", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var s console.StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&s))
	return s
}

func notifications(t *testing.T, e *env) []console.Notification {
	t.Helper()
	resp := e.doJSON(t, http.MethodGet, e.srv.URL+"/api/v1/notifications", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var n console.NotificationsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&n))
	return n.Notifications
}

func TestStatusLoggedOut(t *testing.T) {
	e := setupServer(t)
	s := status(t, e)
	assert.False(t, s.LoggedIn)
	assert.Empty(t, s.Username)
	assert.Zero(t, s.Pending)
}

func TestLoginAndLogout(t *testing.T) {
	e := setupServer(t)

	resp := e.doJSON(t, http.MethodPost, e.srv.URL+"/api/v1/auth/login", console.LoginRequest{Username: "alice", Password: "secret"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var login console.StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&login))
	assert.True(t, login.LoggedIn)
	assert.Equal(t, "alice", login.Username)
	assert.Equal(t, "Basic YWxpY2U6c2VjcmV0", e.store.Authorization())

	resp = e.doJSON(t, http.MethodPost, e.srv.URL+"/api/v1/auth/logout", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	s := status(t, e)
	assert.False(t, s.LoggedIn)
	assert.Equal(t, basicauth.SentinelHeader, e.store.Authorization())
}

func TestLoginRejectsBadInput(t *testing.T) {
	e := setupServer(t)

	for name, body := range map[string]string{
		"empty":         ``,
		"malformed":     `{"username":`,
		"unknown field": `{"username":"alice","password":"x","remember":true}`,
		"no username":   `{"password":"x"}`,
		"colon":         `{"username":"al:ice","password":"x"}`,
	} {
		resp := e.send(t, http.MethodPost, e.srv.URL+"/api/v1/auth/login", body, map[string]string{
			"Content-Type": "application/json; charset=utf-8",
			"X-CSRF-Token": e.token,
		})
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, name)
	}
	assert.False(t, e.store.IsLoggedIn())
}

func TestLoginRejectsOversizedBody(t *testing.T) {
	e := setupServer(t)
	body := `{"username":"alice","password":"` + strings.Repeat("x", 20<<10) + `"}`
	resp := e.doJSON(t, http.MethodPost, e.srv.URL+"/api/v1/auth/login", json.RawMessage(body))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestProxiedCallWaitsForLogin(t *testing.T) {
	e := setupServer(t)

	type result struct {
		status int
		body   string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		req, err := http.NewRequest(http.MethodGet, e.srv.URL+"/registry/dataset/123", nil)
		if err != nil {
			done <- result{err: err}
			return
		}
		// Browser-supplied credentials are never forwarded.
		req.Header.Set("Authorization", basicauth.Header(basicauth.Credential("mallory", "guess")))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			done <- result{err: err}
			return
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		done <- result{status: resp.StatusCode, body: string(b), err: err}
	}()

	require.Eventually(t, func() bool { return status(t, e).Pending == 1 }, 5*time.Second, 10*time.Millisecond)

	notes := notifications(t, e)
	require.Len(t, notes, 1)
	assert.Equal(t, console.RequiresAdminMessage, notes[0].Message)
	assert.Equal(t, console.NotificationError, notes[0].Type)
	assert.Empty(t, notifications(t, e))

	resp := e.doJSON(t, http.MethodPost, e.srv.URL+"/api/v1/auth/login", console.LoginRequest{Username: "alice", Password: "secret"})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, http.StatusOK, r.status)
		assert.Equal(t, "GET /dataset/123", r.body)
	case <-time.After(5 * time.Second):
		t.Fatal("proxied call was not replayed")
	}

	// The server trims the sentinel's trailing space.
	assert.Equal(t, []string{"Basic", "Basic YWxpY2U6c2VjcmV0"}, e.registryAuths())
	assert.Zero(t, status(t, e).Pending)

	notes = notifications(t, e)
	require.Len(t, notes, 1)
	assert.Equal(t, console.NotificationSuccess, notes[0].Type)
}

func TestProxyReportsUnavailableRegistry(t *testing.T) {
	e := setupServer(t)
	e.registry.Close()

	resp := e.doJSON(t, http.MethodGet, e.srv.URL+"/registry/dataset/1", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestSecurityHeadersAndDocs(t *testing.T) {
	e := setupServer(t)

	resp := e.doJSON(t, http.MethodGet, e.srv.URL+"/health", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Empty(t, resp.Header.Get("Strict-Transport-Security"))

	resp = e.doJSON(t, http.MethodGet, e.srv.URL+"/api/v1/openapi.yaml", nil)
	defer resp.Body.Close()
	assert.Equal(t, "text/yaml", resp.Header.Get("Content-Type"))
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(b), "/auth/login")

	resp = e.doJSON(t, http.MethodGet, e.srv.URL+"/", nil)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
}

func TestLoginRequiresJSONContentType(t *testing.T) {
	e := setupServer(t)

	for _, ct := range []string{"", "text/plain", "application/x-www-form-urlencoded"} {
		resp := e.send(t, http.MethodPost, e.srv.URL+"/api/v1/auth/login", `{"username":"mallory","password":"x"}`, map[string]string{
			"Content-Type": ct,
			"X-CSRF-Token": e.token,
		})
		resp.Body.Close()
		assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode, ct)
	}
	assert.False(t, e.store.IsLoggedIn())
}

func TestMutatingRequestsRequireCSRFToken(t *testing.T) {
	e := setupServer(t)
	login := `{"username":"mallory","password":"x"}`

	for name, token := range map[string]string{"missing": "", "wrong": "not-the-token"} {
		resp := e.send(t, http.MethodPost, e.srv.URL+"/api/v1/auth/login", login, map[string]string{
			"Content-Type": "application/json",
			"X-CSRF-Token": token,
		})
		resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, name)
	}
	assert.False(t, e.store.IsLoggedIn())

	require.NoError(t, e.store.SetCredentials("alice", "secret"))
	resp := e.send(t, http.MethodPost, e.srv.URL+"/api/v1/auth/logout", "", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.True(t, e.store.IsLoggedIn())
}

func TestCrossOriginRequestsAreRejected(t *testing.T) {
	e := setupServer(t)
	login := `{"username":"mallory","password":"x"}`

	for name, header := range map[string]map[string]string{
		"foreign origin": {"Origin": "https://evil.example"},
		"cross-site":     {"Sec-Fetch-Site": "cross-site"},
		"same-site":      {"Sec-Fetch-Site": "same-site"},
	} {
		header["Content-Type"] = "application/json"
		header["X-CSRF-Token"] = e.token
		resp := e.send(t, http.MethodPost, e.srv.URL+"/api/v1/auth/login", login, header)
		resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, name)
	}
	assert.False(t, e.store.IsLoggedIn())

	resp := e.send(t, http.MethodPost, e.srv.URL+"/api/v1/auth/login", `{"username":"alice","password":"secret"}`, map[string]string{
		"Content-Type":   "application/json",
		"X-CSRF-Token":   e.token,
		"Origin":         e.srv.URL,
		"Sec-Fetch-Site": "same-origin",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alice", e.store.Username())
}

func TestProxyRejectsCrossSiteWrites(t *testing.T) {
	e := setupServer(t)
	require.NoError(t, e.store.SetCredentials("alice", "secret"))
	target := e.srv.URL + "/registry/organization/1/delete"

	resp := e.send(t, http.MethodPost, target, "confirm=yes", map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
		"Origin":       "https://evil.example",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = e.send(t, http.MethodPost, target, "confirm=yes", map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, e.registryAuths())

	resp = e.send(t, http.MethodPost, target, "confirm=yes", map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
		"X-CSRF-Token": e.token,
	})
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "POST /organization/1/delete", string(b))
	assert.Equal(t, []string{"Basic YWxpY2U6c2VjcmV0"}, e.registryAuths())
}

func TestSafeRequestsIssueCSRFCookie(t *testing.T) {
	e := setupServer(t)

	resp, err := http.Get(e.srv.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	var issued *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "regconsole_csrf" {
			issued = c
		}
	}
	require.NotNil(t, issued)
	assert.NotEmpty(t, issued.Value)
	assert.False(t, issued.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, issued.SameSite)

	// A client already holding the cookie keeps its token.
	resp = e.doJSON(t, http.MethodGet, e.srv.URL+"/api/v1/auth/status", nil)
	resp.Body.Close()
	assert.Empty(t, resp.Cookies())
}
