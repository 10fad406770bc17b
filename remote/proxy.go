package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/vrpc-go/vrpc/addr"
	"github.com/vrpc-go/vrpc/correlator"
	"github.com/vrpc-go/vrpc/transport"
	"github.com/vrpc-go/vrpc/wire"
)

// Proxy is a local handle representing a remote instance, with a method
// set built from the class's deduplicated member-function signatures
// (spec.md §3, §4.4).
type Proxy struct {
	remote     *Remote
	domain     string
	agent      string
	className  string
	instanceID string
	proxyID    string
	methods    []string
}

// Methods returns the proxy's deduplicated, overload-stripped method set,
// captured at creation time (spec.md §3 invariant).
func (p *Proxy) Methods() []string { return p.methods }

// InstanceID returns the remote instance id this proxy targets.
func (p *Proxy) InstanceID() string { return p.instanceID }

// Call invokes a member method on the proxy's instance, resolving via
// correlator/tunnel as described in spec.md §4.5/§4.3. Plain-value args are
// packed as-is; a Callback or EmitterEvent argument (see below) is tunneled.
// A remote error reply is returned wrapped with "remote function call"
// context; errors.As still finds the *correlator.RemoteError inside.
func (p *Proxy) Call(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	id := p.remote.nextCorrelationID()
	topic := addr.Address{Domain: p.domain, Agent: p.agent, Class: p.className, Target: p.instanceID, Method: method}.Topic()

	packedArgs, err := p.packArgs(method, args)
	if err != nil {
		return nil, err
	}

	req, err := wire.NewRequest(p.instanceID, method, id, p.remote.clientIDTopic, nil)
	if err != nil {
		return nil, fmt.Errorf("remote: build request: %w", err)
	}
	req.Data = packedArgs
	raw, err := p.remote.send(ctx, topic, req)
	var remoteErr *correlator.RemoteError
	if errors.As(err, &remoteErr) {
		return nil, fmt.Errorf("remote function call %s.%s: %w", p.className, method, err)
	}
	return raw, err
}

// packArgs implements spec.md §4.3's argument-inspection table: plain
// values are packed as-is; callables and emitter pairs are replaced on the
// wire with a tunnel id and recorded in the Remote's tunnel table.
func (p *Proxy) packArgs(method string, args []any) (wire.Data, error) {
	values := make([]any, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case Callback:
			values[i] = p.registerCallback(method, i+1, v)
		case EmitterEvent:
			values[i] = p.registerEmitter(method, i+1, v)
		default:
			values[i] = a
		}
	}
	return wire.PackArgs(values)
}

// Callback is a plain callback function argument: invoked with the
// positional args decoded from the Agent's tunneled call.
type Callback func(args []json.RawMessage)

// EmitterEvent pairs an emitter with the event name to subscribe to,
// matching spec.md §4.3's "{emitter, event} pair" row.
type EmitterEvent struct {
	Event   string
	Emitter interface {
		Emit(event string, args []json.RawMessage)
	}
}

// registerCallback handles spec.md §4.3's generic "any other callable" row.
// The "on" special case (method=="on", argIndex==1, args[0] a string) is
// handled separately by Proxy.On, which callers use explicitly instead of
// passing a bare Callback for that argument.
func (p *Proxy) registerCallback(method string, argIndex int, cb Callback) string {
	return p.remote.tunnels.RegisterCallback(p.proxyID, method, argIndex, func(args []json.RawMessage) {
		cb(args)
	})
}

// On registers a persistent, idempotent callback for methods matching
// spec.md §4.3's "on" special case: method=="on", argIndex==1, args[0] is
// the event name string. Re-registering the same (proxy, event) reuses the
// same tunnel id rather than leaking a new one.
func (p *Proxy) On(eventName string, cb Callback) {
	p.remote.tunnels.RegisterOn(p.proxyID, eventName, func(args []json.RawMessage) {
		cb(args)
	})
}

func (p *Proxy) registerEmitter(method string, argIndex int, pair EmitterEvent) string {
	return p.remote.tunnels.RegisterEmitter(p.proxyID, method, argIndex, pair.Event, func(event string, args []json.RawMessage) {
		pair.Emitter.Emit(event, args)
	})
}

// createOrGet issues __create__/__createNamed__/__getNamed__ and builds a
// Proxy from the reply (spec.md §4.4).
func (r *Remote) createOrGet(ctx context.Context, domain, agentName, className, method, instanceName string, args []any) (*Proxy, error) {
	if err := requireConcrete("domain", domain); err != nil {
		return nil, err
	}
	if err := requireConcrete("agent", agentName); err != nil {
		return nil, err
	}

	id := r.nextCorrelationID()
	topic := addr.Address{Domain: domain, Agent: agentName, Class: className, Target: addr.StaticTarget, Method: method}.Topic()

	reqArgs := args
	if instanceName != "" {
		reqArgs = append([]any{instanceName}, args...)
	}
	req, err := wire.NewRequest(className, method, id, r.clientIDTopic, reqArgs)
	if err != nil {
		return nil, fmt.Errorf("remote: build request: %w", err)
	}

	raw, err := r.send(ctx, topic, req)
	if err != nil {
		return nil, err
	}

	var instanceID string
	if err := json.Unmarshal(raw, &instanceID); err != nil {
		return nil, fmt.Errorf("remote: decode instance id: %w", err)
	}

	proxyID, err := addr.NewProxyID()
	if err != nil {
		return nil, fmt.Errorf("remote: generate proxy id: %w", err)
	}

	methods := r.tree.MemberFunctions(domain, agentName, className)

	return &Proxy{
		remote:     r,
		domain:     domain,
		agent:      agentName,
		className:  className,
		instanceID: instanceID,
		proxyID:    proxyID,
		methods:    append([]string(nil), methods...),
	}, nil
}

// Create issues __create__ against the class's static topic and returns a
// proxy for the new (anonymous) instance.
func (r *Remote) Create(ctx context.Context, domain, agentName, className string, args ...any) (*Proxy, error) {
	return r.createOrGet(ctx, domain, agentName, className, addr.MethodCreate, "", args)
}

// CreateNamed issues __createNamed__, giving the new instance a caller-chosen name.
func (r *Remote) CreateNamed(ctx context.Context, domain, agentName, className, instanceName string, args ...any) (*Proxy, error) {
	return r.createOrGet(ctx, domain, agentName, className, addr.MethodCreateNamed, instanceName, args)
}

// GetInstance issues __getNamed__, returning a proxy for an existing named instance.
func (r *Remote) GetInstance(ctx context.Context, domain, agentName, className, instanceName string) (*Proxy, error) {
	return r.createOrGet(ctx, domain, agentName, className, addr.MethodGetNamed, instanceName, nil)
}

// Delete issues __delete__ against the class's static topic with _1 set to
// the instance name or the proxy's instance id (spec.md §4.4).
func (r *Remote) Delete(ctx context.Context, domain, agentName, className, instanceNameOrID string) error {
	if err := requireConcrete("domain", domain); err != nil {
		return err
	}
	if err := requireConcrete("agent", agentName); err != nil {
		return err
	}

	id := r.nextCorrelationID()
	topic := addr.Address{Domain: domain, Agent: agentName, Class: className, Target: addr.StaticTarget, Method: addr.MethodDelete}.Topic()
	req, err := wire.NewRequest(className, addr.MethodDelete, id, r.clientIDTopic, []any{instanceNameOrID})
	if err != nil {
		return fmt.Errorf("remote: build request: %w", err)
	}
	_, err = r.send(ctx, topic, req)
	return err
}

// End publishes offline presence and disconnects the transport (spec.md §3
// Remote lifecycle: "end() publishes offline info and closes").
func (r *Remote) End() error {
	infoTopic := addr.ClientInfoTopic(r.clientIDTopic)
	payload, _ := json.Marshal(wire.AgentPresence{Status: wire.StatusOffline})
	if err := r.session.Publish(infoTopic, transport.QoS1, true, payload); err != nil {
		r.log.Warn("end: publish offline presence failed", zap.Error(err))
	}
	r.session.Disconnect()
	return nil
}
