// Package agentrt implements the Agent side of the protocol: subscription
// lifecycle, retained class/agent info, last-will presence, and the inbound
// dispatch loop that hands parsed requests to an adapter.Registry and
// publishes replies (spec.md §4.6).
//
// Grounded on the teacher's public/agent/framework.go AgentFramework (its
// setupConnections/startMessageProcessing/processMessage pipeline is the
// same "subscribe once, dispatch forever" shape), generalized from a
// single fixed Process(envelope) hook into per-class, per-method topic
// subscriptions keyed off the vrpc address grammar.
package agentrt

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/vrpc-go/vrpc/addr"
	"github.com/vrpc-go/vrpc/adapter"
	"github.com/vrpc-go/vrpc/transport"
	"github.com/vrpc-go/vrpc/wire"
)

// Options configures an Agent.
type Options struct {
	Domain   string
	AgentID  string
	Hostname string
	Registry adapter.Registry
	Session  transport.Session
	Logger   *zap.Logger
}

// Agent hosts classes from a Registry and serves RPC dispatch over a
// transport.Session (spec.md §4.6).
type Agent struct {
	domain   string
	agentID  string
	hostname string
	registry adapter.Registry
	session  transport.Session
	log      *zap.Logger
}

// New constructs an Agent. Call Start to connect and begin serving.
func New(opts Options) *Agent {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Agent{
		domain:   opts.Domain,
		agentID:  opts.AgentID,
		hostname: opts.Hostname,
		registry: opts.Registry,
		session:  opts.Session,
		log:      log,
	}
}

// Start connects the Agent's session, configures its last-will, subscribes
// to every class's static-function topics, and publishes retained class
// info plus online presence (spec.md §4.6 steps 1-3).
func (a *Agent) Start(ctx context.Context) error {
	willPayload, err := json.Marshal(wire.AgentPresence{Status: wire.StatusOffline, Hostname: a.hostname})
	if err != nil {
		return fmt.Errorf("agentrt: marshal will payload: %w", err)
	}
	a.session.SetWill(addr.AgentInfoTopic(a.domain, a.agentID), willPayload, transport.QoS1, true)

	if err := a.session.Connect(ctx); err != nil {
		return fmt.Errorf("agentrt: connect: %w", err)
	}

	for _, className := range a.registry.ClassNames() {
		if err := a.subscribeClassStatics(className); err != nil {
			return err
		}
		if err := a.publishClassInfo(className); err != nil {
			return err
		}
	}

	if err := a.publishPresence(wire.StatusOnline); err != nil {
		return err
	}

	a.log.Info("agent online", zap.String("domain", a.domain), zap.String("agent", a.agentID))
	return nil
}

func (a *Agent) publishPresence(status string) error {
	payload, err := json.Marshal(wire.AgentPresence{Status: status, Hostname: a.hostname})
	if err != nil {
		return fmt.Errorf("agentrt: marshal presence: %w", err)
	}
	if err := a.session.Publish(addr.AgentInfoTopic(a.domain, a.agentID), transport.QoS1, true, payload); err != nil {
		return fmt.Errorf("agentrt: publish presence: %w", err)
	}
	return nil
}

func (a *Agent) subscribeClassStatics(className string) error {
	desc, ok := a.registry.Describe(className)
	if !ok {
		return fmt.Errorf("agentrt: class %q not found after ClassNames listed it", className)
	}

	methods := addr.DedupeBareSignatures(desc.StaticFunctions)
	methods = append(methods, addr.MethodCreate, addr.MethodCreateNamed, addr.MethodGetNamed, addr.MethodDelete)
	for _, method := range methods {
		topic := addr.Address{Domain: a.domain, Agent: a.agentID, Class: className, Target: addr.StaticTarget, Method: method}.Topic()
		if err := a.session.Subscribe(topic, a.handlerFor(className)); err != nil {
			return fmt.Errorf("agentrt: subscribe %s: %w", topic, err)
		}
	}
	return nil
}

func (a *Agent) subscribeInstanceMembers(className, instanceID string) error {
	desc, ok := a.registry.Describe(className)
	if !ok {
		return fmt.Errorf("agentrt: class %q not found", className)
	}
	for _, method := range addr.DedupeBareSignatures(desc.MemberFunctions) {
		topic := addr.Address{Domain: a.domain, Agent: a.agentID, Class: className, Target: instanceID, Method: method}.Topic()
		if err := a.session.Subscribe(topic, a.handlerFor(className)); err != nil {
			return fmt.Errorf("agentrt: subscribe %s: %w", topic, err)
		}
	}
	return nil
}

func (a *Agent) publishClassInfo(className string) error {
	desc, ok := a.registry.Describe(className)
	if !ok {
		return fmt.Errorf("agentrt: class %q not found", className)
	}
	payload, err := json.Marshal(wire.ClassInfo{
		ClassName:       className,
		Instances:       a.registry.Instances(className),
		MemberFunctions: desc.MemberFunctions,
		StaticFunctions: desc.StaticFunctions,
	})
	if err != nil {
		return fmt.Errorf("agentrt: marshal class info: %w", err)
	}
	topic := addr.ClassInfoTopic(a.domain, a.agentID, className)
	if err := a.session.Publish(topic, transport.QoS1, true, payload); err != nil {
		return fmt.Errorf("agentrt: publish class info: %w", err)
	}
	return nil
}

// handlerFor returns the Subscribe handler for every topic belonging to
// className; it closes over className since the topic's own third segment
// already encodes it, but re-deriving it from the topic would be equally
// correct — the closure just avoids a redundant ParseTopic field read.
func (a *Agent) handlerFor(className string) transport.Handler {
	return func(topic string, payload []byte) {
		a.dispatch(className, topic, payload)
	}
}

// dispatch implements spec.md §4.6's inbound-message handling: parse, fill
// targetId/method, hand to the Adapter, and publish the mutated payload
// back to sender. A malformed topic or payload is a protocol violation:
// logged and dropped, never propagated (spec.md §7).
func (a *Agent) dispatch(className, topic string, payload []byte) {
	address, err := addr.ParseTopic(topic)
	if err != nil {
		a.log.Warn("dropping message: malformed topic", zap.String("topic", topic), zap.Error(err))
		return
	}

	msg, err := wire.Unmarshal(payload)
	if err != nil {
		a.log.Warn("dropping message: malformed payload", zap.String("topic", topic), zap.Error(err))
		return
	}

	// spec.md §4.6: "Fill targetId from the topic's fourth segment
	// (__static__ ⇒ class name)".
	targetID := address.Target
	isStatic := targetID == addr.StaticTarget
	if isStatic {
		targetID = className
	}
	method := address.Method

	invoker := sessionTunnelInvoker{agent: a, sender: msg.Sender}
	args := make([]adapter.Arg, 0, len(msg.Data))
	for _, raw := range msg.Data.PositionalArgs() {
		args = append(args, adapter.JSONArg{Raw: raw, Tunnel: invoker})
	}

	result, callErr := a.callAdapter(className, targetID, method, isStatic, args)

	var reply wire.Message
	if callErr != nil {
		reply, err = wire.NewErrorReply(targetID, msg.ID, msg.Sender, callErr.Error())
	} else {
		reply, err = wire.NewResultReply(targetID, msg.ID, msg.Sender, result)
	}
	if err != nil {
		a.log.Warn("dropping message: cannot build reply", zap.String("topic", topic), zap.Error(err))
		return
	}

	if (method == addr.MethodCreate || method == addr.MethodCreateNamed) && callErr == nil {
		if instanceID, ok := result.(string); ok {
			if err := a.subscribeInstanceMembers(className, instanceID); err != nil {
				a.log.Error("failed subscribing new instance", zap.String("class", className), zap.Error(err))
			}
			if err := a.publishClassInfo(className); err != nil {
				a.log.Error("failed republishing class info", zap.String("class", className), zap.Error(err))
			}
		}
	}

	out, err := wire.Marshal(reply)
	if err != nil {
		a.log.Error("marshal reply", zap.Error(err))
		return
	}
	if err := a.session.Publish(msg.Sender, transport.QoS1, false, out); err != nil {
		a.log.Error("publish reply", zap.String("sender", msg.Sender), zap.Error(err))
	}
}

// sessionTunnelInvoker implements adapter.TunnelInvoker by publishing the
// callback's arguments back to the original sender under the tunnel id it
// arrived with, closing spec.md §4.3's loop: the Agent "forwards [these] to
// the original sender as-is" (spec.md §4.6).
type sessionTunnelInvoker struct {
	agent  *Agent
	sender string
}

func (s sessionTunnelInvoker) Invoke(tunnelID string, args []any) error {
	data, err := wire.PackArgs(args)
	if err != nil {
		s.agent.log.Warn("tunnel invoke: pack args", zap.String("tunnelId", tunnelID), zap.Error(err))
		return err
	}
	msg := wire.Message{ID: tunnelID, Sender: s.sender, Data: data}
	raw, err := wire.Marshal(msg)
	if err != nil {
		s.agent.log.Warn("tunnel invoke: marshal", zap.String("tunnelId", tunnelID), zap.Error(err))
		return err
	}
	if err := s.agent.session.Publish(s.sender, transport.QoS1, false, raw); err != nil {
		s.agent.log.Warn("tunnel invoke: publish", zap.String("tunnelId", tunnelID), zap.String("sender", s.sender), zap.Error(err))
		return err
	}
	return nil
}

func (a *Agent) callAdapter(className, targetID, method string, isStatic bool, args []adapter.Arg) (any, error) {
	switch method {
	case addr.MethodCreate:
		return a.registry.Create(className, "", args)
	case addr.MethodCreateNamed:
		var name string
		if len(args) > 0 {
			if err := args[0].Decode(&name); err != nil {
				return nil, fmt.Errorf("agentrt: decode instance name: %w", err)
			}
		}
		return a.registry.Create(className, name, args[minInt(1, len(args)):])
	case addr.MethodGetNamed:
		var name string
		if len(args) > 0 {
			if err := args[0].Decode(&name); err != nil {
				return nil, fmt.Errorf("agentrt: decode instance name: %w", err)
			}
		}
		return a.registry.Get(className, name)
	case addr.MethodDelete:
		var name string
		if len(args) > 0 {
			_ = args[0].Decode(&name)
		}
		return nil, a.registry.Delete(className, name)
	default:
		if isStatic {
			return a.registry.CallStatic(className, method, args)
		}
		return a.registry.CallInstance(className, targetID, method, args)
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
