// Package correlator implements the pending-call registry that matches
// outbound requests to inbound replies by correlation id, including
// promise-token chaining (spec.md §4.5).
//
// Grounded on the teacher's internal/client/broker.go BrokerClient, whose
// `responseChans map[string]chan *BrokerResponse` plus per-call timeout
// goroutine is exactly this pattern; generalized here into a standalone,
// reusable table with the promise-token re-registration spec.md adds.
package correlator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/vrpc-go/vrpc/wire"
)

// DefaultTimeout is the fallback call timeout when none is configured
// (spec.md §4.5: "timeout ms, default 5000").
const DefaultTimeout = 5 * time.Second

// TimeoutError is returned when a pending call's timer fires before a reply
// arrives (spec.md §4.5: "completes with a 'Function call timed out (> T
// ms)' error").
type TimeoutError struct {
	ID      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Function call timed out (> %d ms)", e.Timeout.Milliseconds())
}

// RemoteError wraps the verbatim data.e string from an error reply
// (spec.md §4.5, §7).
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

type pending struct {
	resultCh chan Result
	timer    *time.Timer
}

// Result is what a pending call ultimately resolves to: either a raw result
// payload (for the caller to unmarshal into its own target type) or an
// error (*TimeoutError, *RemoteError, or a context error).
type Result struct {
	Raw json.RawMessage
	Err error
}

// Correlator is the single table of in-flight calls, keyed by correlation
// id. Safe for concurrent use; all mutation is protected by one mutex
// (spec.md §5: "one mutex each is sufficient").
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*pending
}

// New creates an empty correlator.
func New() *Correlator {
	return &Correlator{pending: make(map[string]*pending)}
}

// Register installs a one-shot pending entry for id with the given timeout,
// returning a channel that receives exactly one result. Resolve retires the
// entry when a reply arrives; the timeout timer retires it otherwise.
func (c *Correlator) Register(id string, timeout time.Duration) <-chan Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return c.register(id, timeout)
}

// RegisterUnbounded installs a one-shot pending entry with no timer at all.
// Used for the promise-token chained wait (spec.md §9: "the source applies
// no fresh timeout - treat as intentional unbounded wait unless caller
// budgets it"); the caller bounds it, if at all, via the context passed to
// Await.
func (c *Correlator) RegisterUnbounded(id string) <-chan Result {
	return c.register(id, 0)
}

// register is the shared implementation; timeout <= 0 means "no timer".
func (c *Correlator) register(id string, timeout time.Duration) <-chan Result {
	ch := make(chan Result, 1)
	p := &pending{resultCh: ch}
	if timeout > 0 {
		p.timer = time.AfterFunc(timeout, func() {
			c.mu.Lock()
			cur, ok := c.pending[id]
			if !ok || cur != p {
				c.mu.Unlock()
				return
			}
			delete(c.pending, id)
			c.mu.Unlock()
			ch <- Result{Err: &TimeoutError{ID: id, Timeout: timeout}}
		})
	}

	c.mu.Lock()
	c.pending[id] = p
	c.mu.Unlock()
	return ch
}

// Resolve applies an inbound reply's data to the pending entry keyed by id,
// per spec.md §4.5:
//   - data.e set -> complete with RemoteError(data.e)
//   - data.r is a promise token -> re-register a fresh one-shot under the
//     token and chain its eventual completion into the original caller's
//     channel (the original channel is never closed directly; it receives
//     whatever the chained entry eventually receives).
//   - else -> complete with data.r
//
// Resolve is a no-op (and returns false) if id names no pending entry,
// mirroring the teacher's "ignore unmatched correlation id" behavior for
// stray/duplicate replies. The chained promise-token wait (see
// RegisterUnbounded) is never subject to the original call's timeout.
func (c *Correlator) Resolve(id string, data wire.Data) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	if p.timer != nil {
		p.timer.Stop()
	}

	if msg, isErr := data.ErrorString(); isErr {
		p.resultCh <- Result{Err: &RemoteError{Message: msg}}
		return true
	}

	if token, isPromise := data.PromiseToken(); isPromise {
		chained := c.RegisterUnbounded(token)
		go func() {
			p.resultCh <- <-chained
		}()
		return true
	}

	raw, _ := data.Result()
	p.resultCh <- Result{Raw: raw}
	return true
}

// Await blocks on ch until a result arrives or ctx is done, returning the
// raw result payload or an error (TimeoutError, RemoteError, or ctx.Err()).
func Await(ctx context.Context, ch <-chan Result) (json.RawMessage, error) {
	select {
	case r := <-ch:
		return r.Raw, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
