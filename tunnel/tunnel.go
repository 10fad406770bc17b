// Package tunnel implements the callback/emitter tunneling table of
// spec.md §4.3: the Remote-side bookkeeping that lets an Agent "call back
// up" into locally supplied callback functions and event emitters by
// publishing a request whose id is a tunnel id rather than a correlation id.
//
// Grounded on the teacher's internal/client/broker.go subscription-callback
// registry (the map of topic -> handler func it keeps for pipe subscriptions),
// adapted from per-topic handlers into the per-tunnel-id, one-shot-or-
// persistent table spec.md requires.
package tunnel

import (
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/vrpc-go/vrpc/addr"
	"github.com/vrpc-go/vrpc/wire"
)

// Sink is the local function a tunnel id dispatches to, invoked with the
// positional arguments decoded from an inbound message's data (spec.md
// §4.3: "sorting lexicographically, and using the resulting values as
// positional arguments").
type Sink func(args []json.RawMessage)

type entry struct {
	sink       Sink
	persistent bool
}

// Table is the Remote's tunnel id -> Sink registry, scoped per proxy.
// One mutex per spec.md §5 ("the tunnel table... owned by the Remote").
type Table struct {
	mu      sync.Mutex
	entries map[string]entry
	counter uint64
}

// New creates an empty tunnel table.
func New() *Table {
	return &Table{entries: make(map[string]entry)}
}

// RegisterCallback installs a plain callback argument per spec.md §4.3's
// "any other callable" row: a fresh counter-suffixed, one-shot tunnel id.
func (t *Table) RegisterCallback(proxyID, method string, argIndex int, sink Sink) string {
	n := atomic.AddUint64(&t.counter, 1)
	id := addr.BuildTunnelID(proxyID, method, argIndex, strconv.FormatUint(n, 10))
	t.mu.Lock()
	t.entries[id] = entry{sink: sink, persistent: false}
	t.mu.Unlock()
	return id
}

// RegisterOn installs the `on` special case of spec.md §4.3: when
// method == "on", argIndex == 1, and the first argument is an event-name
// string, the tunnel id is keyed by that event name and the registration is
// persistent and idempotent — re-registering the same (proxyID, event)
// reuses and updates the same tunnel id's sink rather than allocating a new
// one, so repeated `on(event, handler)` calls don't leak tunnel ids.
func (t *Table) RegisterOn(proxyID, eventName string, sink Sink) string {
	id := addr.BuildTunnelID(proxyID, "on", 1, eventName)
	t.mu.Lock()
	t.entries[id] = entry{sink: sink, persistent: true}
	t.mu.Unlock()
	return id
}

// RegisterEmitter installs the `{emitter, event}` pair row of spec.md
// §4.3: a persistent tunnel id keyed by the event name, whose sink calls
// emit(event, args...) on the supplied emitter.
func (t *Table) RegisterEmitter(proxyID, method string, argIndex int, eventName string, emit func(event string, args []json.RawMessage)) string {
	id := addr.BuildTunnelID(proxyID, method, argIndex, eventName)
	sink := func(args []json.RawMessage) { emit(eventName, args) }
	t.mu.Lock()
	t.entries[id] = entry{sink: sink, persistent: true}
	t.mu.Unlock()
	return id
}

// Dispatch looks up id and, if found, invokes its sink with args unpacked
// from data per spec.md §4.3's lexicographic-key rule (wire.Data.PositionalArgs).
// One-shot entries are removed after a single dispatch; persistent entries
// remain registered. Reports whether id matched a registered tunnel.
func (t *Table) Dispatch(id string, data wire.Data) bool {
	t.mu.Lock()
	e, ok := t.entries[id]
	if ok && !e.persistent {
		delete(t.entries, id)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	e.sink(data.PositionalArgs())
	return true
}

// Remove deletes a persistent tunnel entry (e.g. on proxy deletion or an
// explicit `off`), if present.
func (t *Table) Remove(id string) {
	t.mu.Lock()
	delete(t.entries, id)
	t.mu.Unlock()
}

// RemoveProxy deletes every tunnel entry scoped to proxyID. The remote
// package does not call it: deleting an instance or ending a Remote leaves
// that proxy's tunnel entries registered.
func (t *Table) RemoveProxy(proxyID string) {
	prefix := addr.TunnelPrefix + proxyID + "-"
	t.mu.Lock()
	for id := range t.entries {
		if len(id) >= len(prefix) && id[:len(prefix)] == prefix {
			delete(t.entries, id)
		}
	}
	t.mu.Unlock()
}
