// Package wire implements the vrpc JSON request/reply/discovery payload
// schema (spec.md §4.2). Every payload crossing the broker is UTF-8 JSON
// with a fixed envelope shape; this package owns marshaling, unmarshaling,
// and the positional-argument packing/unpacking convention (`_1.._N`).
//
// Grounded on internal/client/broker.go's BrokerRequest/BrokerResponse
// framing and internal/envelope/envelope.go's field layout in the teacher
// repo, narrowed from that envelope's generic header/property bag down to
// the exact shape spec.md §4.2 requires.
package wire

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Reserved method names (mirrors addr's reserved tokens; duplicated here to
// keep wire free of a dependency on addr for plain payload (de)serialization).
const (
	MethodCreate      = "__create__"
	MethodCreateNamed = "__createNamed__"
	MethodGetNamed    = "__getNamed__"
	MethodDelete      = "__delete__"

	// PromisePrefix marks data.r as a promise token rather than a final
	// result (spec.md §4.2).
	PromisePrefix = "__p__"
)

// Data is the positional-argument / result bag carried in every message's
// "data" field: "_1".."_N" for arguments, "r" for a successful reply value,
// "e" for an error message.
type Data map[string]json.RawMessage

// Message is the full wire envelope of spec.md §4.2.
type Message struct {
	TargetID string `json:"targetId"`
	Method   string `json:"method"`
	ID       string `json:"id"`
	Sender   string `json:"sender"`
	Data     Data   `json:"data"`
}

// NewRequest builds a request message with positional arguments packed into
// data._1.._N in order.
func NewRequest(targetID, method, id, sender string, args []any) (Message, error) {
	data, err := PackArgs(args)
	if err != nil {
		return Message{}, err
	}
	return Message{TargetID: targetID, Method: method, ID: id, Sender: sender, Data: data}, nil
}

// PackArgs encodes args positionally into a Data bag under keys "_1".."_N".
func PackArgs(args []any) (Data, error) {
	data := make(Data, len(args))
	for i, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("wire: marshal arg %d: %w", i+1, err)
		}
		data[argKey(i+1)] = raw
	}
	return data, nil
}

func argKey(n int) string {
	return "_" + strconv.Itoa(n)
}

// NewResultReply builds a success reply carrying data.r.
func NewResultReply(targetID, id, sender string, result any) (Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Message{}, fmt.Errorf("wire: marshal result: %w", err)
	}
	return Message{TargetID: targetID, ID: id, Sender: sender, Data: Data{"r": raw}}, nil
}

// NewErrorReply builds an error reply carrying data.e.
func NewErrorReply(targetID, id, sender, errMsg string) (Message, error) {
	raw, err := json.Marshal(errMsg)
	if err != nil {
		return Message{}, fmt.Errorf("wire: marshal error message: %w", err)
	}
	return Message{TargetID: targetID, ID: id, Sender: sender, Data: Data{"e": raw}}, nil
}

// NewPromiseReply builds a reply whose data.r is a promise token: the actual
// result arrives later in a second message whose id equals that token
// (spec.md §4.2).
func NewPromiseReply(targetID, id, sender, token string) (Message, error) {
	return NewResultReply(targetID, id, sender, token)
}

// Marshal serializes a Message to its wire bytes.
func Marshal(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal message: %w", err)
	}
	return b, nil
}

// Unmarshal parses wire bytes into a Message.
func Unmarshal(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("wire: unmarshal message: %w", err)
	}
	return m, nil
}

// ErrorString returns (data.e, true) if the reply carries an error.
func (d Data) ErrorString() (string, bool) {
	raw, ok := d["e"]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// PromiseToken returns (token, true) if data.r is a promise token, i.e. a
// JSON string beginning with PromisePrefix (spec.md §4.2).
func (d Data) PromiseToken() (string, bool) {
	raw, ok := d["r"]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	if !strings.HasPrefix(s, PromisePrefix) {
		return "", false
	}
	return s, true
}

// Result returns the raw data.r value, for the caller to unmarshal into its
// own target type.
func (d Data) Result() (json.RawMessage, bool) {
	raw, ok := d["r"]
	return raw, ok
}

// PositionalArgs extracts the keys of d that start with "_", sorts them
// lexicographically, and returns their values in that order. This is the
// exact unpacking rule spec.md §4.3 specifies for tunnel callback dispatch:
// "taking its keys whose name begins with _, sorting lexicographically".
// Note this is a documented, preserved quirk: for 10 or more positional
// arguments the lexicographic order ("_1","_10","_2",...) does not match
// numeric order. Wire compatibility requires keeping it exactly as specified.
func (d Data) PositionalArgs() []json.RawMessage {
	keys := make([]string, 0, len(d))
	for k := range d {
		if strings.HasPrefix(k, "_") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]json.RawMessage, len(keys))
	for i, k := range keys {
		out[i] = d[k]
	}
	return out
}

// ClassInfo is the retained class-info discovery payload (spec.md §4.2).
type ClassInfo struct {
	ClassName       string   `json:"className"`
	Instances       []string `json:"instances"`
	MemberFunctions []string `json:"memberFunctions"`
	StaticFunctions []string `json:"staticFunctions"`
}

// AgentStatus values for AgentPresence.Status.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// AgentPresence is the retained agent-presence discovery payload, also
// published (with Status == StatusOffline) as the broker's last-will
// (spec.md §4.2, §4.6).
type AgentPresence struct {
	Status   string `json:"status"`
	Hostname string `json:"hostname"`
}
