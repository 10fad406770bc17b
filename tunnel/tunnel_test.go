package tunnel

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrpc-go/vrpc/wire"
)

func packed(vals ...any) wire.Data {
	d, _ := wire.PackArgs(vals)
	return d
}

func TestRegisterCallbackOneShot(t *testing.T) {
	tb := New()
	var got []json.RawMessage
	id := tb.RegisterCallback("prox1", "foo", 1, func(args []json.RawMessage) { got = args })

	ok := tb.Dispatch(id, packed("a", "b"))
	require.True(t, ok)
	require.Len(t, got, 2)

	// One-shot: second dispatch must not match.
	ok = tb.Dispatch(id, packed("c"))
	assert.False(t, ok)
}

func TestRegisterOnIsPersistentAndIdempotent(t *testing.T) {
	tb := New()
	calls := 0
	id1 := tb.RegisterOn("prox1", "tick", func(args []json.RawMessage) { calls++ })
	id2 := tb.RegisterOn("prox1", "tick", func(args []json.RawMessage) { calls++ })

	assert.Equal(t, id1, id2)

	tb.Dispatch(id1, packed())
	tb.Dispatch(id1, packed())
	assert.Equal(t, 2, calls)
}

func TestRegisterEmitterDispatchesEmit(t *testing.T) {
	tb := New()
	var gotEvent string
	var gotArgs []json.RawMessage
	id := tb.RegisterEmitter("prox1", "subscribe", 1, "data", func(event string, args []json.RawMessage) {
		gotEvent = event
		gotArgs = args
	})

	tb.Dispatch(id, packed(1, 2, 3))
	assert.Equal(t, "data", gotEvent)
	assert.Len(t, gotArgs, 3)

	// Persistent: still dispatches on a second call.
	ok := tb.Dispatch(id, packed())
	assert.True(t, ok)
}

func TestDispatchUnknownID(t *testing.T) {
	tb := New()
	assert.False(t, tb.Dispatch("nope", packed()))
}

func TestRemoveProxyClearsAllItsTunnels(t *testing.T) {
	tb := New()
	id1 := tb.RegisterCallback("prox1", "foo", 1, func(args []json.RawMessage) {})
	id2 := tb.RegisterOn("prox1", "tick", func(args []json.RawMessage) {})
	idOther := tb.RegisterCallback("prox2", "foo", 1, func(args []json.RawMessage) {})

	tb.RemoveProxy("prox1")

	assert.False(t, tb.Dispatch(id1, packed()))
	assert.False(t, tb.Dispatch(id2, packed()))
	assert.True(t, tb.Dispatch(idOther, packed()))
}
