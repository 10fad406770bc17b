// Package transport provides the broker connection abstraction vrpc runs
// on: retained publish, last-will, QoS 1, and wildcard subscription over an
// MQTT v3.1.1 session. It also ships an in-memory fake broker so the rest
// of the runtime can be tested without a live MQTT server.
//
// Grounded on the teacher's internal/client/broker.go BrokerClient for the
// shape of the interface (Connect/Publish/Subscribe/Disconnect plus a
// connection-state mutex), backed here by github.com/eclipse/paho.mqtt.golang
// instead of hand-rolled TCP+JSON-RPC framing, since spec.md §6's broker
// contract (retained, will, QoS1, wildcards) is exactly MQTT's contract.
package transport

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// QoS levels used by vrpc; spec.md §6 requires QoS 1 throughout.
const QoS1 byte = 1

// Handler processes one inbound message on filter.
type Handler func(topic string, payload []byte)

// Session is the broker collaborator the rest of vrpc depends on through an
// interface, per spec.md §1's "broker... referenced only through an
// interface" framing.
type Session interface {
	// Connect dials the broker and blocks until the connection (or its
	// failure) is established.
	Connect(ctx context.Context) error
	// Publish sends payload on topic at the given QoS, optionally retained.
	Publish(topic string, qos byte, retained bool, payload []byte) error
	// Subscribe registers handler for all messages matching filter
	// (which may contain MQTT wildcards "+"/"#").
	Subscribe(filter string, handler Handler) error
	// Unsubscribe removes a prior Subscribe registration.
	Unsubscribe(filter string) error
	// SetWill configures the last-will message delivered by the broker if
	// this session disconnects uncleanly. Must be called before Connect.
	SetWill(topic string, payload []byte, qos byte, retained bool)
	// Disconnect closes the session, publishing no further messages.
	Disconnect()
}

// NewClientID builds an MQTT client id for prefix, suffixed with a random
// UUID segment. This disambiguates TCP-level broker connections (MQTT
// requires a globally unique client id per broker) and is independent of
// vrpc's own deterministic Remote client-id-topic scheme in package addr,
// which governs RPC addressing, not the MQTT session identity.
func NewClientID(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

// Options configures a paho-backed Session.
type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	Logger    *zap.Logger
	// ConnectTimeout bounds Connect; zero means paho's default.
	ConnectTimeout time.Duration
}

// pahoSession is the production Session backed by paho.mqtt.golang.
type pahoSession struct {
	opts   Options
	client mqtt.Client
	log    *zap.Logger

	willTopic    string
	willPayload  []byte
	willQoS      byte
	willRetained bool
	willSet      bool
}

// NewSession constructs a Session wrapping a paho MQTT client configured
// from opts. The client is not connected until Connect is called.
func NewSession(opts Options) Session {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &pahoSession{opts: opts, log: log}
}

func (s *pahoSession) Connect(ctx context.Context) error {
	copts := mqtt.NewClientOptions().
		AddBroker(s.opts.BrokerURL).
		SetClientID(s.opts.ClientID).
		SetUsername(s.opts.Username).
		SetPassword(s.opts.Password).
		SetAutoReconnect(true).
		SetCleanSession(true)

	if s.willSet {
		copts.SetBinaryWill(s.willTopic, s.willPayload, s.willQoS, s.willRetained)
	}

	s.client = mqtt.NewClient(copts)
	token := s.client.Connect()
	if !token.WaitTimeout(deadline(ctx, s.opts.ConnectTimeout)) {
		return fmt.Errorf("transport: connect timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("transport: connect: %w", err)
	}
	s.log.Info("connected", zap.String("broker", s.opts.BrokerURL), zap.String("clientId", s.opts.ClientID))
	return nil
}

func deadline(ctx context.Context, fallback time.Duration) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		return time.Until(dl)
	}
	if fallback > 0 {
		return fallback
	}
	return 10 * time.Second
}

func (s *pahoSession) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := s.client.Publish(topic, qos, retained, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("transport: publish %s: %w", topic, err)
	}
	s.log.Debug("published", zap.String("topic", topic), zap.Bool("retained", retained))
	return nil
}

func (s *pahoSession) Subscribe(filter string, handler Handler) error {
	token := s.client.Subscribe(filter, QoS1, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("transport: subscribe %s: %w", filter, err)
	}
	s.log.Debug("subscribed", zap.String("filter", filter))
	return nil
}

func (s *pahoSession) Unsubscribe(filter string) error {
	token := s.client.Unsubscribe(filter)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("transport: unsubscribe %s: %w", filter, err)
	}
	return nil
}

func (s *pahoSession) SetWill(topic string, payload []byte, qos byte, retained bool) {
	// paho requires the will to be set on the options before Connect; since
	// NewSession doesn't build ClientOptions eagerly, stash it for Connect.
	s.willTopic, s.willPayload, s.willQoS, s.willRetained = topic, payload, qos, retained
	s.willSet = true
}

func (s *pahoSession) Disconnect() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	s.log.Info("disconnected")
}
