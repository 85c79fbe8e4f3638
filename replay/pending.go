package replay

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/jmcleod/regconsole/internal/uuid"
)

// State is the lifecycle position of a suspended request.
type State int32

const (
	// Active means the original call is in flight.
	Active State = iota
	// Buffered means the call failed authorization and awaits a replay.
	Buffered
	// Retrying means the call has been reissued.
	Retrying
	// Resolved means the reissued call succeeded.
	Resolved
	// Failed means the reissued call returned an error or a failure status.
	Failed
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Buffered:
		return "buffered"
	case Retrying:
		return "retrying"
	case Resolved:
		return "resolved"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	// ErrInvalidTransition is returned when a Pending is moved out of order.
	ErrInvalidTransition = errors.New("invalid pending request transition")
	// ErrNotResolved is returned by Result before the handle resolves.
	ErrNotResolved = errors.New("pending request not resolved")
)

// Pending is the result handle for a suspended request. It is created when
// the original call fails authorization and resolved exactly once, by the
// completion of its replay.
type Pending struct {
	id    string
	state atomic.Int32
	done  chan struct{}

	mu        sync.Mutex
	resp      *http.Response
	err       error
	abandoned bool
}

// NewPending returns an unresolved handle in the Active state.
func NewPending() *Pending {
	return &Pending{
		id:   uuid.New(),
		done: make(chan struct{}),
	}
}

// ID identifies the handle in logs.
func (p *Pending) ID() string { return p.id }

// State returns the current lifecycle state.
func (p *Pending) State() State { return State(p.state.Load()) }

// Done is closed once the handle resolves.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Result returns the replay outcome, or ErrNotResolved if Done is still open.
func (p *Pending) Result() (*http.Response, error) {
	select {
	case <-p.done:
	default:
		return nil, ErrNotResolved
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resp, p.err
}

// Wait blocks until the handle resolves or ctx ends. Giving up does not
// withdraw the request: it is still replayed, and a response arriving for an
// abandoned handle has its body closed.
func (p *Pending) Wait(ctx context.Context) (*http.Response, error) {
	select {
	case <-p.done:
		return p.Result()
	case <-ctx.Done():
		p.abandon()
		return nil, ctx.Err()
	}
}

func (p *Pending) abandon() {
	p.mu.Lock()
	p.abandoned = true
	resp := p.resp
	p.mu.Unlock()
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
}

func (p *Pending) transition(from, to State) error {
	if !p.state.CompareAndSwap(int32(from), int32(to)) {
		return ErrInvalidTransition
	}
	return nil
}

// resolve settles the handle. Only a Retrying handle can resolve.
func (p *Pending) resolve(resp *http.Response, err error) error {
	to := Resolved
	if err != nil || (resp != nil && resp.StatusCode >= http.StatusBadRequest) {
		to = Failed
	}
	if tErr := p.transition(Retrying, to); tErr != nil {
		return tErr
	}

	p.mu.Lock()
	p.resp, p.err = resp, err
	abandoned := p.abandoned
	p.mu.Unlock()
	close(p.done)

	if abandoned && resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return nil
}
