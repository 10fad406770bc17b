package discovery

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrpc-go/vrpc/wire"
)

func TestApplyClassInfoDedupesSignatures(t *testing.T) {
	tr := New()
	tr.ApplyClassInfo("d", "a1", "Foo", wire.ClassInfo{
		ClassName:       "Foo",
		Instances:       []string{"i1"},
		MemberFunctions: []string{"bar-1", "bar-2", "baz-1"},
		StaticFunctions: []string{"make-1"},
	})

	mf := tr.MemberFunctions("d", "a1", "Foo")
	sort.Strings(mf)
	assert.Equal(t, []string{"bar", "baz"}, mf)

	sf := tr.StaticFunctions("d", "a1", "Foo")
	assert.Equal(t, []string{"make"}, sf)

	assert.Equal(t, []string{"i1"}, tr.AvailableInstances("d", "a1", "Foo"))
}

func TestApplyAgentPresenceAndEvents(t *testing.T) {
	tr := New()
	var events []Event
	tr.Observe(func(ev Event) { events = append(events, ev) })

	tr.ApplyAgentPresence("d", "a1", wire.AgentPresence{Status: wire.StatusOnline, Hostname: "h1"})
	tr.ApplyClassInfo("d", "a1", "Foo", wire.ClassInfo{ClassName: "Foo"})

	require.Len(t, events, 2)
	assert.Equal(t, "agent", events[0].Kind)
	assert.Equal(t, "class", events[1].Kind)

	st, ok := tr.AgentStatus("d", "a1")
	require.True(t, ok)
	assert.Equal(t, wire.StatusOnline, st.Status)
}

func TestAgentOfflineRetainsClasses(t *testing.T) {
	tr := New()
	tr.ApplyAgentPresence("d", "a1", wire.AgentPresence{Status: wire.StatusOnline, Hostname: "h1"})
	tr.ApplyClassInfo("d", "a1", "Foo", wire.ClassInfo{ClassName: "Foo", MemberFunctions: []string{"bar-1"}})

	tr.ApplyAgentPresence("d", "a1", wire.AgentPresence{Status: wire.StatusOffline, Hostname: "h1"})

	st, ok := tr.AgentStatus("d", "a1")
	require.True(t, ok)
	assert.Equal(t, wire.StatusOffline, st.Status)
	assert.Equal(t, []string{"bar"}, tr.MemberFunctions("d", "a1", "Foo"))
}

func TestAvailableDomainsAgentsClasses(t *testing.T) {
	tr := New()
	tr.ApplyClassInfo("d1", "a1", "Foo", wire.ClassInfo{ClassName: "Foo"})
	tr.ApplyClassInfo("d1", "a2", "Bar", wire.ClassInfo{ClassName: "Bar"})

	assert.Equal(t, []string{"d1"}, tr.AvailableDomains())

	agents := tr.AvailableAgents("d1")
	sort.Strings(agents)
	assert.Equal(t, []string{"a1", "a2"}, agents)

	assert.Equal(t, []string{"Foo"}, tr.AvailableClasses("d1", "a1"))
}

func TestAwaitSettled(t *testing.T) {
	tr := New()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- tr.AwaitSettled(ctx) }()

	time.Sleep(5 * time.Millisecond)
	tr.MarkSettled()

	require.NoError(t, <-done)
}

func TestAwaitSettledTimesOut(t *testing.T) {
	tr := New()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := tr.AwaitSettled(ctx)
	assert.Error(t, err)
}

func TestUnknownQueriesReturnNil(t *testing.T) {
	tr := New()
	assert.Nil(t, tr.AvailableAgents("missing"))
	assert.Nil(t, tr.AvailableClasses("missing", "a1"))
	assert.Nil(t, tr.MemberFunctions("d", "missing", "Foo"))
	_, ok := tr.AgentStatus("d", "missing")
	assert.False(t, ok)
}
