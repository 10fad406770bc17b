// Package discovery implements the Remote's discovery tree: the
// eventually-consistent Domain -> Agent -> Class view built from retained
// __info__ messages (spec.md §3, §4.7).
//
// Grounded on the teacher's internal/client/broker.go subscription/dispatch
// loop (the same "single handler mutates, readers snapshot" shape), adapted
// from its ad-hoc pipe/topic bookkeeping into the strict three-level tree
// spec.md §3 requires.
package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/vrpc-go/vrpc/addr"
	"github.com/vrpc-go/vrpc/wire"
)

// SettleWindow is the grace period after connect during which retained
// __info__ messages are expected to arrive before a snapshot is considered
// trustworthy (spec.md §3: "200 ms grace after connect").
const SettleWindow = 200 * time.Millisecond

// Class is a snapshot of one class's discovery info.
type Class struct {
	Instances       []string
	MemberFunctions []string
	StaticFunctions []string
}

// Agent is a snapshot of one agent's presence and classes.
type Agent struct {
	Status   string
	Hostname string
	Classes  map[string]Class
}

// Event is delivered to observers when the tree changes.
type Event struct {
	Kind   string // "agent" or "class"
	Domain string
	Agent  string
	Class  string // empty for "agent" events
}

// Tree is the Remote's mutable discovery state. All mutation happens on the
// single logical message-handler goroutine (spec.md §5); the mutex exists so
// readers on other goroutines can snapshot safely, per spec.md §5's
// "one mutex each is sufficient" guidance.
type Tree struct {
	mu        sync.RWMutex
	domains   map[string]map[string]*Agent // domain -> agent -> Agent
	observers []func(Event)

	settleOnce sync.Once
	settleCh   chan struct{}
}

// New creates an empty discovery tree.
func New() *Tree {
	return &Tree{
		domains:  make(map[string]map[string]*Agent),
		settleCh: make(chan struct{}),
	}
}

// Observe registers a callback invoked synchronously (from the handler
// goroutine) whenever the tree changes.
func (t *Tree) Observe(fn func(Event)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, fn)
}

func (t *Tree) emit(ev Event) {
	for _, obs := range t.observers {
		obs(ev)
	}
}

// MarkSettled signals that the settle window has elapsed; callers blocked in
// AwaitSettled unblock. Idempotent.
func (t *Tree) MarkSettled() {
	t.settleOnce.Do(func() { close(t.settleCh) })
}

// AwaitSettled blocks until MarkSettled has been called or ctx is done.
func (t *Tree) AwaitSettled(ctx context.Context) error {
	select {
	case <-t.settleCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tree) agentLocked(domain, agentName string) *Agent {
	agents, ok := t.domains[domain]
	if !ok {
		agents = make(map[string]*Agent)
		t.domains[domain] = agents
	}
	a, ok := agents[agentName]
	if !ok {
		a = &Agent{Classes: make(map[string]Class)}
		agents[agentName] = a
	}
	return a
}

// ApplyClassInfo merges a retained class-info message into the tree
// (spec.md §4.7: "Remote maintains the tree... by consuming retained
// __info__ messages"). Emits a "class" event.
func (t *Tree) ApplyClassInfo(domain, agentName, className string, ci wire.ClassInfo) {
	t.mu.Lock()
	a := t.agentLocked(domain, agentName)
	a.Classes[className] = Class{
		Instances:       ci.Instances,
		MemberFunctions: addr.DedupeBareSignatures(ci.MemberFunctions),
		StaticFunctions: addr.DedupeBareSignatures(ci.StaticFunctions),
	}
	t.mu.Unlock()
	t.emit(Event{Kind: "class", Domain: domain, Agent: agentName, Class: className})
}

// ApplyAgentPresence merges a retained agent-presence message (online, or
// the will-delivered offline) into the tree. Emits an "agent" event.
// Per spec.md S5: the agent entry and its classes are retained on offline —
// only status flips.
func (t *Tree) ApplyAgentPresence(domain, agentName string, pres wire.AgentPresence) {
	t.mu.Lock()
	a := t.agentLocked(domain, agentName)
	a.Status = pres.Status
	a.Hostname = pres.Hostname
	t.mu.Unlock()
	t.emit(Event{Kind: "agent", Domain: domain, Agent: agentName})
}

// ---- query operations (spec.md §4.7) ----
//
// Each await returns a snapshot once the tree has settled; callers are
// expected to have already awaited "connected + settle" (AwaitSettled)
// before calling these, per spec.md's suspension-point model. These methods
// themselves only take the read lock — they do not block on settle, leaving
// that responsibility to the caller (mirroring spec.md's Remote which gates
// at the operation boundary, not inside the cache).

// AvailableDomains returns all known domain names.
func (t *Tree) AvailableDomains() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.domains))
	for d := range t.domains {
		out = append(out, d)
	}
	return out
}

// AvailableAgents returns all known agent names in domain.
func (t *Tree) AvailableAgents(domain string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	agents, ok := t.domains[domain]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(agents))
	for name := range agents {
		out = append(out, name)
	}
	return out
}

// AvailableClasses returns all known class names for (domain, agent).
func (t *Tree) AvailableClasses(domain, agentName string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	a, ok := t.domains[domain][agentName]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(a.Classes))
	for name := range a.Classes {
		out = append(out, name)
	}
	return out
}

// AvailableInstances returns the live instance ids of (domain, agent, class).
func (t *Tree) AvailableInstances(domain, agentName, className string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.domains[domain][agentName].classesOrNil()[className]
	if !ok {
		return nil
	}
	return c.Instances
}

// MemberFunctions returns the deduplicated member-function bare names.
func (t *Tree) MemberFunctions(domain, agentName, className string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.domains[domain][agentName].classesOrNil()[className]
	if !ok {
		return nil
	}
	return c.MemberFunctions
}

// StaticFunctions returns the deduplicated static-function bare names.
func (t *Tree) StaticFunctions(domain, agentName, className string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.domains[domain][agentName].classesOrNil()[className]
	if !ok {
		return nil
	}
	return c.StaticFunctions
}

// AgentStatus returns the agent's last-known status and hostname, and
// whether the agent is known at all.
func (t *Tree) AgentStatus(domain, agentName string) (Agent, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	a, ok := t.domains[domain][agentName]
	if !ok {
		return Agent{}, false
	}
	return *a, true
}

func (a *Agent) classesOrNil() map[string]Class {
	if a == nil {
		return nil
	}
	return a.Classes
}
