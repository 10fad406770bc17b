package remote_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrpc-go/vrpc/adapter"
	"github.com/vrpc-go/vrpc/agentrt"
	"github.com/vrpc-go/vrpc/remote"
	"github.com/vrpc-go/vrpc/transport"
)

type counter struct{ n int }

func (c *counter) Increment() int {
	c.n++
	return c.n
}

// emitter hosts a single method that invokes a tunneled callback/emitter
// argument twice, so tests can observe the Agent-side delivery semantics of
// spec.md §4.3/§8's S3 (one-shot callback) and S4 (persistent emitter)
// scenarios through a real Agent+Remote round trip rather than against the
// tunnel table in isolation.
type emitter struct{}

func (e *emitter) Subscribe(notify func(msg string)) string {
	notify("first")
	notify("second")
	return "ok"
}

func newCounterRegistry() adapter.Registry {
	r := adapter.NewReflectRegistry()
	r.RegisterClass("Counter", &counter{}, func(args []adapter.Arg) (any, error) {
		return &counter{}, nil
	}, map[string]any{
		"Greet": func(name string) string { return "hi " + name },
	})
	r.RegisterClass("Emitter", &emitter{}, func(args []adapter.Arg) (any, error) {
		return &emitter{}, nil
	}, nil)
	return r
}

func setup(t *testing.T) (*agentrt.Agent, *remote.Remote) {
	t.Helper()
	broker := transport.NewMemoryBroker()

	a := agentrt.New(agentrt.Options{
		Domain: "d", AgentID: "a1", Hostname: "agenthost",
		Registry: newCounterRegistry(), Session: broker.NewSession(),
	})
	require.NoError(t, a.Start(context.Background()))

	r, err := remote.New(remote.Options{
		Domain: "d", Agent: "a1", Hostname: "remotehost",
		Session: broker.NewSession(), Timeout: time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, r.Connect(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Connected(ctx))

	return a, r
}

func TestCallStaticS1(t *testing.T) {
	_, r := setup(t)
	ctx := context.Background()

	raw, err := r.CallStatic(ctx, "d", "a1", "Counter", "Greet", []any{"bob"})
	require.NoError(t, err)
	var s string
	require.NoError(t, json.Unmarshal(raw, &s))
	assert.Equal(t, "hi bob", s)
}

func TestCreateCallDeleteS2(t *testing.T) {
	_, r := setup(t)
	ctx := context.Background()

	proxy, err := r.Create(ctx, "d", "a1", "Counter")
	require.NoError(t, err)
	require.NotEmpty(t, proxy.InstanceID())

	raw, err := proxy.Call(ctx, "Increment")
	require.NoError(t, err)
	var n int
	require.NoError(t, json.Unmarshal(raw, &n))
	assert.Equal(t, 1, n)

	raw, err = proxy.Call(ctx, "Increment")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &n))
	assert.Equal(t, 2, n)

	require.NoError(t, r.Delete(ctx, "d", "a1", "Counter", proxy.InstanceID()))

	_, err = proxy.Call(ctx, "Increment")
	assert.Error(t, err)
}

func TestCallStaticRejectsWildcardDomain(t *testing.T) {
	_, r := setup(t)
	_, err := r.CallStatic(context.Background(), "*", "a1", "Counter", "Greet", nil)
	require.Error(t, err)
	var cfgErr *remote.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestCallStaticTimeoutS6(t *testing.T) {
	broker := transport.NewMemoryBroker()
	r, err := remote.New(remote.Options{
		Domain: "d", Agent: "a1", Hostname: "remotehost",
		Session: broker.NewSession(), Timeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, r.Connect(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Connected(ctx))

	// No Agent is listening on this topic, so the call must time out.
	_, err = r.CallStatic(context.Background(), "d", "a1", "Counter", "Greet", []any{"bob"})
	require.Error(t, err)
}

func TestDiscoveryQueriesAfterSettle(t *testing.T) {
	_, r := setup(t)
	ctx := context.Background()

	domains, err := r.AvailableDomains(ctx)
	require.NoError(t, err)
	assert.Contains(t, domains, "d")

	classes, err := r.AvailableClasses(ctx, "d", "a1")
	require.NoError(t, err)
	assert.Contains(t, classes, "Counter")

	statics, err := r.AvailableStaticFunctions(ctx, "d", "a1", "Counter")
	require.NoError(t, err)
	assert.Contains(t, statics, "Greet")
}

// TestCallbackArgumentDeliveredOnceByAgentS3 exercises spec.md §8's S3
// scenario end to end: a plain callback argument is tunneled to the Agent,
// which invokes it, and the invocation is delivered back through a real
// dispatch loop to the Remote's registered sink.
func TestCallbackArgumentDeliveredOnceByAgentS3(t *testing.T) {
	_, r := setup(t)
	ctx := context.Background()

	proxy, err := r.Create(ctx, "d", "a1", "Emitter")
	require.NoError(t, err)

	var got []string
	raw, err := proxy.Call(ctx, "Subscribe", remote.Callback(func(args []json.RawMessage) {
		var s string
		require.NoError(t, json.Unmarshal(args[0], &s))
		got = append(got, s)
	}))
	require.NoError(t, err)

	var result string
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, "ok", result)
	assert.Equal(t, []string{"first"}, got, "a plain callback argument is one-shot: only the first Agent-side invocation is delivered")
}

type recordingEmitter struct {
	events []string
}

func (e *recordingEmitter) Emit(event string, args []json.RawMessage) {
	e.events = append(e.events, event)
}

// TestEmitterArgumentDeliveredRepeatedlyByAgentS4 exercises spec.md §8's S4
// scenario: an emitter argument is persistent, so every Agent-side
// invocation of the same tunnel id is delivered, not just the first.
func TestEmitterArgumentDeliveredRepeatedlyByAgentS4(t *testing.T) {
	_, r := setup(t)
	ctx := context.Background()

	proxy, err := r.Create(ctx, "d", "a1", "Emitter")
	require.NoError(t, err)

	emitted := &recordingEmitter{}
	_, err = proxy.Call(ctx, "Subscribe", remote.EmitterEvent{Event: "tick", Emitter: emitted})
	require.NoError(t, err)

	assert.Equal(t, []string{"tick", "tick"}, emitted.events, "an emitter argument is persistent: every Agent-side dispatch to the same tunnel id is delivered")
}
