package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBrokerPublishSubscribe(t *testing.T) {
	b := NewMemoryBroker()
	pub := b.NewSession()
	sub := b.NewSession()
	require.NoError(t, pub.Connect(context.Background()))
	require.NoError(t, sub.Connect(context.Background()))

	var got []byte
	require.NoError(t, sub.Subscribe("d/a1/+/__static__/__info__", func(topic string, payload []byte) {
		got = payload
	}))

	require.NoError(t, pub.Publish("d/a1/Foo/__static__/__info__", QoS1, false, []byte("hello")))
	assert.Equal(t, "hello", string(got))
}

func TestMemoryBrokerRetainedDeliveredOnSubscribe(t *testing.T) {
	b := NewMemoryBroker()
	pub := b.NewSession()
	require.NoError(t, pub.Connect(context.Background()))
	require.NoError(t, pub.Publish("d/a1/Foo/__static__/__info__", QoS1, true, []byte("retained-value")))

	sub := b.NewSession()
	require.NoError(t, sub.Connect(context.Background()))

	var got []byte
	require.NoError(t, sub.Subscribe("+/+/+/__static__/__info__", func(topic string, payload []byte) {
		got = payload
	}))
	assert.Equal(t, "retained-value", string(got))
}

func TestMemoryBrokerWillOnDisconnect(t *testing.T) {
	b := NewMemoryBroker()
	agent := b.NewSession()
	require.NoError(t, agent.Connect(context.Background()))
	agent.SetWill("d/a1/__agent__/__static__/__info__", []byte(`{"status":"offline"}`), QoS1, true)

	sub := b.NewSession()
	require.NoError(t, sub.Connect(context.Background()))
	var got []byte
	require.NoError(t, sub.Subscribe("d/a1/__agent__/__static__/__info__", func(topic string, payload []byte) {
		got = payload
	}))

	agent.Disconnect()
	assert.Equal(t, `{"status":"offline"}`, string(got))
}

func TestTopicMatches(t *testing.T) {
	assert.True(t, topicMatches("+/+/+/__static__/__info__", "d/a1/Foo/__static__/__info__"))
	assert.True(t, topicMatches("d/#", "d/a1/Foo/__static__/__info__"))
	assert.False(t, topicMatches("d/a1/Foo/__static__/__info__", "d/a1/Bar/__static__/__info__"))
	assert.False(t, topicMatches("d/a1/Foo/__static__", "d/a1/Foo/__static__/__info__"))
}

func TestNewClientIDIsUniqueAndPrefixed(t *testing.T) {
	a := NewClientID("vrpc-agent-a1")
	b := NewClientID("vrpc-agent-a1")
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "vrpc-agent-a1-")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewMemoryBroker()
	pub := b.NewSession()
	sub := b.NewSession()
	require.NoError(t, pub.Connect(context.Background()))
	require.NoError(t, sub.Connect(context.Background()))

	called := false
	filter := "d/a1/Foo/__static__/greet"
	require.NoError(t, sub.Subscribe(filter, func(topic string, payload []byte) { called = true }))
	require.NoError(t, sub.Unsubscribe(filter))
	require.NoError(t, pub.Publish(filter, QoS1, false, []byte("x")))
	assert.False(t, called)
}
