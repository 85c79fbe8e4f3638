// Package replay buffers requests that failed authorization and replays
// them once credentials are re-established.
package replay

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
)

// ErrNotReplayable is returned for requests whose body cannot be re-read.
var ErrNotReplayable = errors.New("request body cannot be replayed")

// DispatchFunc issues req asynchronously and calls done with the outcome.
// The order of DispatchFunc calls is the issue order of the replays.
type DispatchFunc func(req *http.Request, done func(*http.Response, error))

// AsyncDispatch issues each request on its own goroutine through rt.
func AsyncDispatch(rt http.RoundTripper) DispatchFunc {
	return func(req *http.Request, done func(*http.Response, error)) {
		go func() {
			done(rt.RoundTrip(req))
		}()
	}
}

// Entry pairs a replayable request template with its caller's handle.
type Entry struct {
	Request *http.Request
	Pending *Pending
}

// Buffer is the FIFO of suspended requests. Entries are appended while
// credentials are awaited and drained, all at once, by RetryAll.
type Buffer struct {
	mu         sync.Mutex
	entries    []Entry
	generation uint64

	dispatch DispatchFunc
	header   func() string
	logger   *slog.Logger
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithHeaderFunc supplies the Authorization value stamped on each replay at
// the moment it is issued.
func WithHeaderFunc(fn func() string) Option {
	return func(b *Buffer) {
		b.header = fn
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Buffer) {
		b.logger = logger
	}
}

// NewBuffer creates an empty Buffer that reissues requests with dispatch.
func NewBuffer(dispatch DispatchFunc, opts ...Option) *Buffer {
	b := &Buffer{dispatch: dispatch}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.logger = b.logger.With("component", "replay")
	return b
}

// Append adds req and its Active handle at the tail and marks the handle
// Buffered. Identical requests are kept as independent entries.
func (b *Buffer) Append(req *http.Request, p *Pending) error {
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return ErrNotReplayable
	}
	if err := p.transition(Active, Buffered); err != nil {
		return fmt.Errorf("appending %s in state %s: %w", p.ID(), p.State(), err)
	}

	b.mu.Lock()
	b.entries = append(b.entries, Entry{Request: req, Pending: p})
	n := len(b.entries)
	b.mu.Unlock()

	b.logger.Debug("request buffered", "id", p.ID(), "method", req.Method, "url", req.URL.Redacted(), "buffered", n)
	return nil
}

// Len returns the number of entries awaiting replay.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Snapshot returns a copy of the entries awaiting replay, in order.
func (b *Buffer) Snapshot() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Entry(nil), b.entries...)
}

// RetryAll takes every buffered entry, leaving the buffer empty, and
// reissues them in insertion order. Each replay carries the Authorization
// value current at the time it is issued, and its completion resolves the
// entry's handle. Entries appended while the pass runs wait for the next
// call. It returns the number of entries replayed.
func (b *Buffer) RetryAll() int {
	b.mu.Lock()
	batch := b.entries
	b.entries = nil
	b.generation++
	generation := b.generation
	b.mu.Unlock()

	for _, e := range batch {
		b.retry(e)
	}
	if len(batch) > 0 {
		b.logger.Info("replayed buffered requests", "count", len(batch), "generation", generation)
	}
	return len(batch)
}

func (b *Buffer) retry(e Entry) {
	p := e.Pending
	if err := p.transition(Buffered, Retrying); err != nil {
		b.logger.Error("skipping entry", "id", p.ID(), "state", p.State().String(), "error", err)
		return
	}

	req, err := cloneForReplay(e.Request)
	if err != nil {
		b.complete(p, nil, err)
		return
	}
	if b.header != nil {
		req.Header.Set("Authorization", b.header())
	}
	b.dispatch(req, func(resp *http.Response, err error) {
		b.complete(p, resp, err)
	})
}

func (b *Buffer) complete(p *Pending, resp *http.Response, err error) {
	if rErr := p.resolve(resp, err); rErr != nil {
		b.logger.Error("resolving replay", "id", p.ID(), "error", rErr)
		return
	}
	b.logger.Debug("replay completed", "id", p.ID(), "state", p.State().String())
}

// cloneForReplay copies req with a fresh body so the template stays reusable.
func cloneForReplay(req *http.Request) (*http.Request, error) {
	out := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewinding request body: %w", err)
		}
		out.Body = body
	}
	return out, nil
}
