// Package interceptor wraps outgoing registry calls so that an authorization
// failure suspends the call until credentials are re-established, instead of
// surfacing as an error.
package interceptor

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/jmcleod/regconsole/events"
	"github.com/jmcleod/regconsole/replay"
)

const (
	// PreferForbiddenHeader asks the registry to answer 403 instead of 401 so
	// that browsers never raise their native login dialog.
	PreferForbiddenHeader = "gbif-prefer-403-over-401"
	// DefaultUnauthorizedStatus is the status treated as authorization-required.
	DefaultUnauthorizedStatus = http.StatusForbidden

	maxDrainBytes = 64 << 10
)

// Credentials supplies the Authorization header value for outgoing requests.
type Credentials interface {
	Authorization() string
}

// Transport is an http.RoundTripper implementing the unauthorized-response
// interceptor. Successful responses and every other failure pass through
// unchanged.
type Transport struct {
	base     http.RoundTripper
	creds    Credentials
	bus      *events.Bus
	buffer   *replay.Buffer
	status   int
	headers  http.Header
	dispatch replay.DispatchFunc
	logger   *slog.Logger

	unsubscribe func()
}

var _ http.RoundTripper = (*Transport)(nil)

// Option configures a Transport.
type Option func(*Transport)

// WithBase sets the transport that actually sends requests. Defaults to
// http.DefaultTransport.
func WithBase(rt http.RoundTripper) Option {
	return func(t *Transport) {
		t.base = rt
	}
}

// WithUnauthorizedStatus changes the status code recovered by replay.
func WithUnauthorizedStatus(code int) Option {
	return func(t *Transport) {
		t.status = code
	}
}

// WithDefaultHeader adds a header sent with every request that does not set
// it already.
func WithDefaultHeader(key, value string) Option {
	return func(t *Transport) {
		t.headers.Set(key, value)
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithDispatch overrides how replays are issued. By default each replay is
// sent through the Transport itself on its own goroutine.
func WithDispatch(fn replay.DispatchFunc) Option {
	return func(t *Transport) {
		t.dispatch = fn
	}
}

// New creates a Transport that stamps creds on every request and replays
// suspended requests each time bus carries events.LoginConfirmed.
func New(creds Credentials, bus *events.Bus, opts ...Option) *Transport {
	t := &Transport{
		base:    http.DefaultTransport,
		creds:   creds,
		bus:     bus,
		status:  DefaultUnauthorizedStatus,
		headers: http.Header{},
	}
	t.headers.Set(PreferForbiddenHeader, "true")
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	t.logger = t.logger.With("component", "interceptor")
	if t.dispatch == nil {
		t.dispatch = replay.AsyncDispatch(t)
	}
	t.buffer = replay.NewBuffer(t.dispatch,
		replay.WithHeaderFunc(creds.Authorization),
		replay.WithLogger(t.logger),
	)
	t.unsubscribe = bus.Subscribe(events.LoginConfirmed, func() {
		t.buffer.RetryAll()
	})
	return t
}

// Client returns an *http.Client sending through t.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}

// Buffer exposes the replay buffer for inspection.
func (t *Transport) Buffer() *replay.Buffer {
	return t.buffer
}

// Pending returns the number of suspended requests.
func (t *Transport) Pending() int {
	return t.buffer.Len()
}

// LoginConfirmed signals that credentials have been (re)established. Each
// call triggers exactly one replay pass.
func (t *Transport) LoginConfirmed() {
	t.bus.Publish(events.LoginConfirmed)
}

// Close detaches t from the bus. Suspended requests stay buffered.
func (t *Transport) Close() {
	t.unsubscribe()
}

// RoundTrip sends req with the default headers. When the response carries
// the authorization-required status the call is buffered, LoginRequired is
// published, and RoundTrip returns whatever the eventual replay returns. If
// req's context ends first the context error is returned; the buffered entry
// is still replayed on the next pass.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	tmpl, err := replayable(req)
	if err != nil {
		return nil, err
	}
	t.stamp(tmpl)

	out, err := sendable(tmpl)
	if err != nil {
		return nil, err
	}
	resp, err := t.base.RoundTrip(out)
	if err != nil || resp.StatusCode != t.status {
		return resp, err
	}
	drain(resp)

	p := replay.NewPending()
	if err := t.buffer.Append(tmpl, p); err != nil {
		return nil, fmt.Errorf("suspending request: %w", err)
	}
	t.logger.Info("authorization required, request suspended",
		"id", p.ID(),
		"method", req.Method,
		"url", req.URL.Redacted(),
		"status", resp.StatusCode,
	)
	t.bus.Publish(events.LoginRequired)

	return p.Wait(req.Context())
}

func (t *Transport) stamp(req *http.Request) {
	if req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", t.creds.Authorization())
	}
	for k, vs := range t.headers {
		if _, ok := req.Header[k]; !ok {
			req.Header[k] = append([]string(nil), vs...)
		}
	}
}

// replayable returns a copy of req whose body can be re-read through
// GetBody. The caller's body is always closed: a body without GetBody is
// read into memory first, otherwise every send draws a fresh one.
func replayable(req *http.Request) (*http.Request, error) {
	tmpl := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return tmpl, nil
	}
	if req.GetBody != nil {
		req.Body.Close()
		return tmpl, nil
	}

	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("buffering request body: %w", err)
	}
	tmpl.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	tmpl.Body, _ = tmpl.GetBody()
	tmpl.ContentLength = int64(len(data))
	return tmpl, nil
}

// sendable returns the copy of tmpl handed to the base transport, leaving
// tmpl untouched for a later replay.
func sendable(tmpl *http.Request) (*http.Request, error) {
	out := tmpl.Clone(tmpl.Context())
	if tmpl.GetBody != nil {
		body, err := tmpl.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewinding request body: %w", err)
		}
		out.Body = body
	}
	return out, nil
}

func drain(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
	resp.Body.Close()
}
