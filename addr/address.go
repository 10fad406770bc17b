// Package addr implements the vrpc topic grammar: the five-segment address
// tuple used for RPC dispatch, the retained discovery topics, and the
// reserved tokens the rest of the runtime keys off (__static__, __agent__,
// __info__, __p__, __f__).
//
// Grounded on the connection-id / topic-routing conventions of
// internal/broker/service.go and internal/client/broker.go in the teacher
// repo, generalized from that broker's ad-hoc "pub:"/"pipe:" prefixes into
// the strict five-segment grammar spec.md §4.1 requires.
package addr

import (
	"fmt"
	"strings"
)

// Reserved tokens and method names (spec.md §6).
const (
	StaticTarget = "__static__"
	AgentClass   = "__agent__"

	MethodCreate      = "__create__"
	MethodCreateNamed = "__createNamed__"
	MethodGetNamed    = "__getNamed__"
	MethodDelete      = "__delete__"
	MethodInfo        = "__info__"

	PromisePrefix = "__p__"
	TunnelPrefix  = "__f__"

	// Wildcard is the caller-configurable default for domain/agent when the
	// Remote was constructed without a concrete value (spec.md §6).
	Wildcard = "*"

	// mqttPlus/mqttHash are the broker-level wildcard characters used when
	// building discovery subscription filters.
	mqttPlus = "+"
	mqttHash = "#"
)

// Address is the (domain, agent, class, target, method) tuple that names a
// callable endpoint (spec.md §3). Target is either StaticTarget or a live
// instance id.
type Address struct {
	Domain string
	Agent  string
	Class  string
	Target string
	Method string
}

// Topic renders the five-segment dispatch topic for this address.
func (a Address) Topic() string {
	return strings.Join([]string{a.Domain, a.Agent, a.Class, a.Target, a.Method}, "/")
}

// ClassInfoTopic returns the retained class-info topic for (domain, agent, class).
func ClassInfoTopic(domain, agent, class string) string {
	return Address{Domain: domain, Agent: agent, Class: class, Target: StaticTarget, Method: MethodInfo}.Topic()
}

// AgentInfoTopic returns the retained, will-backed agent-presence topic.
func AgentInfoTopic(domain, agent string) string {
	return ClassInfoTopic(domain, agent, AgentClass)
}

// DiscoverySubscriptionFilter builds the broker subscription filter a Remote
// uses to observe all class-info messages for a domain/agent scope. domain
// or agent may be Wildcard ("*"), which is translated to the broker-level
// "+" wildcard.
func DiscoverySubscriptionFilter(domain, agent string) string {
	d := brokerSegment(domain)
	a := brokerSegment(agent)
	return strings.Join([]string{d, a, mqttPlus, StaticTarget, MethodInfo}, "/")
}

func brokerSegment(s string) string {
	if s == "" || s == Wildcard {
		return mqttPlus
	}
	return s
}

// ParseTopic parses a dispatch topic into its five segments. Per spec.md
// §4.6, a topic that does not have exactly five segments is a protocol
// violation and must be dropped by the Agent, never propagated.
func ParseTopic(topic string) (Address, error) {
	segs := strings.Split(topic, "/")
	if len(segs) != 5 {
		return Address{}, fmt.Errorf("addr: topic %q has %d segments, want 5", topic, len(segs))
	}
	return Address{
		Domain: segs[0],
		Agent:  segs[1],
		Class:  segs[2],
		Target: segs[3],
		Method: segs[4],
	}, nil
}

// ClientIDTopic returns the three-segment reply-inbox topic for a Remote,
// the "client id topic" of spec.md §3: "{domain}/{hostname}/{instance}".
func ClientIDTopic(domain, hostname, instance string) string {
	return strings.Join([]string{domain, hostname, instance}, "/")
}

// ClientInfoTopic is the Remote's own presence/will topic, suffixed
// "/__info__" onto its client-id topic (spec.md §6).
func ClientInfoTopic(clientIDTopic string) string {
	return clientIDTopic + "/" + MethodInfo
}

// BareSignature truncates a signature at its first "-", stripping the
// overload tag (spec.md §3: "the bare name is obtained by truncating at the
// first -").
func BareSignature(sig string) string {
	if i := strings.IndexByte(sig, '-'); i >= 0 {
		return sig[:i]
	}
	return sig
}

// DedupeBareSignatures strips overload tags from every signature and
// deduplicates, preserving first-seen order (spec.md §3 invariant: "a
// proxy's set of methods is the deduplicated set of signature-stripped
// member-function names captured at creation time").
func DedupeBareSignatures(sigs []string) []string {
	seen := make(map[string]struct{}, len(sigs))
	out := make([]string, 0, len(sigs))
	for _, s := range sigs {
		bare := BareSignature(s)
		if _, ok := seen[bare]; ok {
			continue
		}
		seen[bare] = struct{}{}
		out = append(out, bare)
	}
	return out
}

// IsValidConcrete rejects the wildcard "*" for operations that require a
// concrete domain/agent value (spec.md §6: "Passing * to operations that
// require a concrete value is a usage error").
func IsValidConcrete(value string) bool {
	return value != "" && value != Wildcard
}
