// Package remote implements the Remote client: the discovery-tree-backed,
// correlator/tunnel-wired proxy factory through which application code
// discovers agents and invokes static or instance methods, including
// methods taking callback or emitter arguments (spec.md §4.4, §4.5, §4.7).
//
// Grounded on the teacher's internal/client/broker.go BrokerClient for the
// connect/call/listener shape (one connection, one correlation table, one
// listener goroutine), generalized here into the discovery+proxy machinery
// spec.md requires on top of that same connection model.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vrpc-go/vrpc/addr"
	"github.com/vrpc-go/vrpc/correlator"
	"github.com/vrpc-go/vrpc/discovery"
	"github.com/vrpc-go/vrpc/transport"
	"github.com/vrpc-go/vrpc/tunnel"
	"github.com/vrpc-go/vrpc/wire"
)

// ConfigurationError is raised synchronously at the call site when a
// required parameter is missing or the wildcard "*" is supplied where a
// concrete value is required (spec.md §7).
type ConfigurationError struct {
	Param string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("remote: configuration error: %s is required and must be concrete", e.Param)
}

// TransportError wraps a publish/subscribe/connect failure (spec.md §7).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("remote: transport error: %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// Options configures a Remote. Domain and Agent default to the wildcard
// "*" (spec.md §6); Timeout defaults to correlator.DefaultTimeout.
type Options struct {
	Domain   string
	Agent    string
	Hostname string
	Session  transport.Session
	Timeout  time.Duration
	Logger   *zap.Logger
}

// Remote is the client side of the protocol: exactly one broker connection
// (spec.md §5: "instances do not pool"), one discovery tree, one
// correlator, one tunnel table.
type Remote struct {
	domain   string
	agent    string
	hostname string
	instance string
	session  transport.Session
	timeout  time.Duration
	log      *zap.Logger

	tree    *discovery.Tree
	corr    *correlator.Correlator
	tunnels *tunnel.Table
	counter *addr.CorrelationCounter

	clientIDTopic string
}

// New constructs a Remote. Call Connect before any other operation.
func New(opts Options) (*Remote, error) {
	domain := opts.Domain
	if domain == "" {
		domain = addr.Wildcard
	}
	agentName := opts.Agent
	if agentName == "" {
		agentName = addr.Wildcard
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = correlator.DefaultTimeout
	}

	instance, err := addr.NewInstanceToken()
	if err != nil {
		return nil, fmt.Errorf("remote: generate instance token: %w", err)
	}

	return &Remote{
		domain:   domain,
		agent:    agentName,
		hostname: opts.Hostname,
		instance: instance,
		session:  opts.Session,
		timeout:  timeout,
		log:      log,
		tree:     discovery.New(),
		corr:     correlator.New(),
		tunnels:  tunnel.New(),
		counter:  addr.NewCorrelationCounter(instance),
	}, nil
}

// Connect dials the broker, subscribes to the discovery tree and this
// Remote's reply inbox, publishes its own presence, sets its will, and
// starts the settle-window timer (spec.md §3: Remote lifecycle). It returns
// without waiting for the window; Connected blocks until it has elapsed.
func (r *Remote) Connect(ctx context.Context) error {
	r.clientIDTopic = addr.ClientIDTopic(r.domain, r.hostname, r.instance)
	infoTopic := addr.ClientInfoTopic(r.clientIDTopic)

	willPayload, _ := json.Marshal(wire.AgentPresence{Status: wire.StatusOffline})
	r.session.SetWill(infoTopic, willPayload, transport.QoS1, true)

	if err := r.session.Connect(ctx); err != nil {
		return &TransportError{Op: "connect", Err: err}
	}

	if err := r.session.Subscribe(addr.DiscoverySubscriptionFilter(r.domain, r.agent), r.handleDiscoveryMessage); err != nil {
		return &TransportError{Op: "subscribe discovery", Err: err}
	}
	if err := r.session.Subscribe(r.clientIDTopic, r.handleReplyMessage); err != nil {
		return &TransportError{Op: "subscribe inbox", Err: err}
	}

	onlinePayload, _ := json.Marshal(wire.AgentPresence{Status: wire.StatusOnline})
	if err := r.session.Publish(infoTopic, transport.QoS1, true, onlinePayload); err != nil {
		return &TransportError{Op: "publish presence", Err: err}
	}

	go func() {
		t := time.NewTimer(discovery.SettleWindow)
		defer t.Stop()
		<-t.C
		r.tree.MarkSettled()
	}()

	r.log.Info("remote connected", zap.String("domain", r.domain), zap.String("agent", r.agent))
	return nil
}

// Connected blocks until the connection has settled (spec.md §5: no
// timeout on this specific suspension point — caller responsibility).
func (r *Remote) Connected(ctx context.Context) error {
	return r.tree.AwaitSettled(ctx)
}

// Observe registers an observer for discovery tree "agent"/"class" events.
func (r *Remote) Observe(fn func(discovery.Event)) {
	r.tree.Observe(fn)
}

func (r *Remote) handleDiscoveryMessage(topic string, payload []byte) {
	address, err := addr.ParseTopic(topic)
	if err != nil {
		r.log.Warn("dropping discovery message: bad topic", zap.String("topic", topic), zap.Error(err))
		return
	}
	if address.Class == addr.AgentClass {
		var pres wire.AgentPresence
		if err := json.Unmarshal(payload, &pres); err != nil {
			r.log.Warn("dropping discovery message: bad presence payload", zap.Error(err))
			return
		}
		r.tree.ApplyAgentPresence(address.Domain, address.Agent, pres)
		return
	}
	var ci wire.ClassInfo
	if err := json.Unmarshal(payload, &ci); err != nil {
		r.log.Warn("dropping discovery message: bad class-info payload", zap.Error(err))
		return
	}
	r.tree.ApplyClassInfo(address.Domain, address.Agent, address.Class, ci)
}

func (r *Remote) handleReplyMessage(topic string, payload []byte) {
	msg, err := wire.Unmarshal(payload)
	if err != nil {
		r.log.Warn("dropping reply: bad payload", zap.String("topic", topic), zap.Error(err))
		return
	}
	if r.tunnels.Dispatch(msg.ID, msg.Data) {
		return
	}
	if !r.corr.Resolve(msg.ID, msg.Data) {
		r.log.Debug("reply matched no pending call or tunnel", zap.String("id", msg.ID))
	}
}

// ---- discovery queries (spec.md §4.7) ----

func (r *Remote) AvailableDomains(ctx context.Context) ([]string, error) {
	if err := r.Connected(ctx); err != nil {
		return nil, err
	}
	return r.tree.AvailableDomains(), nil
}

func (r *Remote) AvailableAgents(ctx context.Context, domain string) ([]string, error) {
	if err := r.Connected(ctx); err != nil {
		return nil, err
	}
	return r.tree.AvailableAgents(domain), nil
}

func (r *Remote) AvailableClasses(ctx context.Context, domain, agentName string) ([]string, error) {
	if err := r.Connected(ctx); err != nil {
		return nil, err
	}
	return r.tree.AvailableClasses(domain, agentName), nil
}

func (r *Remote) AvailableInstances(ctx context.Context, domain, agentName, className string) ([]string, error) {
	if err := r.Connected(ctx); err != nil {
		return nil, err
	}
	return r.tree.AvailableInstances(domain, agentName, className), nil
}

func (r *Remote) AvailableMemberFunctions(ctx context.Context, domain, agentName, className string) ([]string, error) {
	if err := r.Connected(ctx); err != nil {
		return nil, err
	}
	return r.tree.MemberFunctions(domain, agentName, className), nil
}

func (r *Remote) AvailableStaticFunctions(ctx context.Context, domain, agentName, className string) ([]string, error) {
	if err := r.Connected(ctx); err != nil {
		return nil, err
	}
	return r.tree.StaticFunctions(domain, agentName, className), nil
}

// ---- call machinery ----

// nextCorrelationID mints the next outbound correlation id for this Remote.
func (r *Remote) nextCorrelationID() string {
	return r.counter.Next()
}

func (r *Remote) send(ctx context.Context, topic string, msg wire.Message) (json.RawMessage, error) {
	ch := r.corr.Register(msg.ID, r.timeout)

	raw, err := wire.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("remote: marshal request: %w", err)
	}
	if err := r.session.Publish(topic, transport.QoS1, false, raw); err != nil {
		return nil, &TransportError{Op: "publish", Err: err}
	}

	return correlator.Await(ctx, ch)
}

// CallStatic issues a request on the class's static topic with the method
// name as-is (spec.md §4.4).
func (r *Remote) CallStatic(ctx context.Context, domain, agentName, className, method string, args []any) (json.RawMessage, error) {
	if err := requireConcrete("domain", domain); err != nil {
		return nil, err
	}
	if err := requireConcrete("agent", agentName); err != nil {
		return nil, err
	}

	id := r.nextCorrelationID()
	topic := addr.Address{Domain: domain, Agent: agentName, Class: className, Target: addr.StaticTarget, Method: method}.Topic()
	req, err := wire.NewRequest(className, method, id, r.clientIDTopic, args)
	if err != nil {
		return nil, fmt.Errorf("remote: build request: %w", err)
	}
	return r.send(ctx, topic, req)
}

func requireConcrete(name, value string) error {
	if !addr.IsValidConcrete(value) {
		return &ConfigurationError{Param: name}
	}
	return nil
}
