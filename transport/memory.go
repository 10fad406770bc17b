package transport

import (
	"context"
	"strings"
	"sync"
)

// MemoryBroker is an in-process pub/sub switchboard implementing enough of
// MQTT's semantics (retained messages, last-will, +/# wildcards) for tests
// to exercise agentrt/remote/discovery/correlator/tunnel without a live
// broker. It mirrors the teacher's internal/broker package acting as the
// in-process counterpart to internal/client — here generalized into a
// shared fake multiple Session handles can attach to.
type MemoryBroker struct {
	mu       sync.Mutex
	retained map[string][]byte
	subs     map[*MemorySession]map[string]Handler
}

// NewMemoryBroker creates an empty switchboard.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		retained: make(map[string][]byte),
		subs:     make(map[*MemorySession]map[string]Handler),
	}
}

// MemorySession is a Session backed by a MemoryBroker, used in tests in
// place of a real MQTT connection.
type MemorySession struct {
	broker *MemoryBroker

	mu           sync.Mutex
	connected    bool
	willTopic    string
	willPayload  []byte
	willRetained bool
	willSet      bool
}

// NewSession registers a new client handle on broker.
func (b *MemoryBroker) NewSession() *MemorySession {
	return &MemorySession{broker: b}
}

func (s *MemorySession) Connect(ctx context.Context) error {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	s.broker.mu.Lock()
	s.broker.subs[s] = make(map[string]Handler)
	s.broker.mu.Unlock()
	return nil
}

func (s *MemorySession) Publish(topic string, qos byte, retained bool, payload []byte) error {
	s.broker.mu.Lock()
	if retained {
		if len(payload) == 0 {
			delete(s.broker.retained, topic)
		} else {
			s.broker.retained[topic] = append([]byte(nil), payload...)
		}
	}
	matches := make([]Handler, 0)
	for _, filters := range s.broker.subs {
		for filter, h := range filters {
			if topicMatches(filter, topic) {
				matches = append(matches, h)
			}
		}
	}
	s.broker.mu.Unlock()

	for _, h := range matches {
		h(topic, payload)
	}
	return nil
}

func (s *MemorySession) Subscribe(filter string, handler Handler) error {
	s.broker.mu.Lock()
	if s.broker.subs[s] == nil {
		s.broker.subs[s] = make(map[string]Handler)
	}
	s.broker.subs[s][filter] = handler
	retained := make(map[string][]byte, len(s.broker.retained))
	for topic, payload := range s.broker.retained {
		if topicMatches(filter, topic) {
			retained[topic] = payload
		}
	}
	s.broker.mu.Unlock()

	for topic, payload := range retained {
		handler(topic, payload)
	}
	return nil
}

func (s *MemorySession) Unsubscribe(filter string) error {
	s.broker.mu.Lock()
	delete(s.broker.subs[s], filter)
	s.broker.mu.Unlock()
	return nil
}

func (s *MemorySession) SetWill(topic string, payload []byte, qos byte, retained bool) {
	s.willTopic, s.willPayload, s.willRetained, s.willSet = topic, payload, retained, true
}

// Disconnect publishes the configured will (if any) as the broker would on
// an unclean disconnect, then removes this session's subscriptions.
func (s *MemorySession) Disconnect() {
	s.mu.Lock()
	willSet, topic, payload, retained := s.willSet, s.willTopic, s.willPayload, s.willRetained
	s.connected = false
	s.mu.Unlock()

	if willSet {
		_ = s.Publish(topic, QoS1, retained, payload)
	}

	s.broker.mu.Lock()
	delete(s.broker.subs, s)
	s.broker.mu.Unlock()
}

// topicMatches implements MQTT topic-filter matching for "+" (single level)
// and "#" (multi level, trailing only).
func topicMatches(filter, topic string) bool {
	fSegs := strings.Split(filter, "/")
	tSegs := strings.Split(topic, "/")

	for i, fs := range fSegs {
		if fs == "#" {
			return true
		}
		if i >= len(tSegs) {
			return false
		}
		if fs == "+" {
			continue
		}
		if fs != tSegs[i] {
			return false
		}
	}
	return len(fSegs) == len(tSegs)
}
