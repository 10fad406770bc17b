package addr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressTopic(t *testing.T) {
	a := Address{Domain: "d", Agent: "a1", Class: "Foo", Target: StaticTarget, Method: "greet"}
	assert.Equal(t, "d/a1/Foo/__static__/greet", a.Topic())
}

func TestClassInfoTopic(t *testing.T) {
	assert.Equal(t, "d/a1/Foo/__static__/__info__", ClassInfoTopic("d", "a1", "Foo"))
}

func TestAgentInfoTopic(t *testing.T) {
	assert.Equal(t, "d/a1/__agent__/__static__/__info__", AgentInfoTopic("d", "a1"))
}

func TestDiscoverySubscriptionFilter(t *testing.T) {
	assert.Equal(t, "+/+/+/__static__/__info__", DiscoverySubscriptionFilter(Wildcard, Wildcard))
	assert.Equal(t, "d/+/+/__static__/__info__", DiscoverySubscriptionFilter("d", Wildcard))
	assert.Equal(t, "d/a1/+/__static__/__info__", DiscoverySubscriptionFilter("d", "a1"))
}

func TestParseTopicExactlyFiveSegments(t *testing.T) {
	got, err := ParseTopic("d/a1/Foo/__static__/greet")
	require.NoError(t, err)
	assert.Equal(t, Address{"d", "a1", "Foo", StaticTarget, "greet"}, got)

	_, err = ParseTopic("d/a1/Foo/greet")
	assert.Error(t, err)

	_, err = ParseTopic("d/a1/Foo/__static__/greet/extra")
	assert.Error(t, err)
}

func TestClientIDTopicAndInfo(t *testing.T) {
	topic := ClientIDTopic("d", "host1", "abcd")
	assert.Equal(t, "d/host1/abcd", topic)
	assert.Equal(t, "d/host1/abcd/__info__", ClientInfoTopic(topic))
}

func TestBareSignature(t *testing.T) {
	assert.Equal(t, "foo", BareSignature("foo"))
	assert.Equal(t, "foo", BareSignature("foo-abc123"))
	assert.Equal(t, "", BareSignature("-abc"))
}

func TestDedupeBareSignatures(t *testing.T) {
	in := []string{"foo-1", "bar", "foo-2", "baz", "bar-9"}
	assert.Equal(t, []string{"foo", "bar", "baz"}, DedupeBareSignatures(in))
}

func TestIsValidConcrete(t *testing.T) {
	assert.True(t, IsValidConcrete("d"))
	assert.False(t, IsValidConcrete("*"))
	assert.False(t, IsValidConcrete(""))
}
