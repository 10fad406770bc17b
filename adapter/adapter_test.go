package adapter

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greeter struct{ prefix string }

func (g *greeter) Greet(name string) (string, error) {
	if name == "" {
		return "", errors.New("name required")
	}
	return g.prefix + name, nil
}

func argOf(t *testing.T, v any) Arg {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return JSONArg{Raw: raw}
}

func TestReflectRegistryStaticAndInstanceCalls(t *testing.T) {
	r := NewReflectRegistry()
	r.RegisterClass("Greeter", &greeter{}, func(args []Arg) (any, error) {
		var prefix string
		if len(args) > 0 {
			require.NoError(t, args[0].Decode(&prefix))
		}
		return &greeter{prefix: prefix}, nil
	}, map[string]any{
		"Version": func() string { return "1.0" },
	})

	v, err := r.CallStatic("Greeter", "Version", nil)
	require.NoError(t, err)
	assert.Equal(t, "1.0", v)

	id, err := r.Create("Greeter", "", []Arg{argOf(t, "Hello, ")})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	result, err := r.CallInstance("Greeter", id, "Greet", []Arg{argOf(t, "World")})
	require.NoError(t, err)
	assert.Equal(t, "Hello, World", result)
}

func TestCallInstanceReturnsMethodError(t *testing.T) {
	r := NewReflectRegistry()
	r.RegisterClass("Greeter", &greeter{}, func(args []Arg) (any, error) {
		return &greeter{}, nil
	}, nil)

	id, err := r.Create("Greeter", "named", nil)
	require.NoError(t, err)

	_, err = r.CallInstance("Greeter", id, "Greet", []Arg{argOf(t, "")})
	assert.Error(t, err)
}

func TestDeleteAndInstances(t *testing.T) {
	r := NewReflectRegistry()
	r.RegisterClass("Greeter", &greeter{}, func(args []Arg) (any, error) {
		return &greeter{}, nil
	}, nil)

	id, err := r.Create("Greeter", "", nil)
	require.NoError(t, err)
	assert.Contains(t, r.Instances("Greeter"), id)

	require.NoError(t, r.Delete("Greeter", id))
	assert.NotContains(t, r.Instances("Greeter"), id)
}

func TestGetReturnsExistingNamedInstanceWithoutConstructing(t *testing.T) {
	calls := 0
	r := NewReflectRegistry()
	r.RegisterClass("Greeter", &greeter{}, func(args []Arg) (any, error) {
		calls++
		return &greeter{}, nil
	}, nil)

	id, err := r.Create("Greeter", "singleton", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	got, err := r.Get("Greeter", "singleton")
	require.NoError(t, err)
	assert.Equal(t, id, got)
	assert.Equal(t, 1, calls, "Get must not construct a new instance")

	_, err = r.Get("Greeter", "never-created")
	assert.Error(t, err)
}

type fakeInvoker struct {
	tunnelID string
	args     []any
}

func (f *fakeInvoker) Invoke(tunnelID string, args []any) error {
	f.tunnelID = tunnelID
	f.args = args
	return nil
}

// TestJSONArgDecodeBridgesTunnelIDIntoCallback exercises spec.md §4.3's
// other half: a wire-level tunnel-id string decoded against a func-typed
// target becomes a real callable that, when invoked, forwards its arguments
// to Tunnel under that tunnel id.
func TestJSONArgDecodeBridgesTunnelIDIntoCallback(t *testing.T) {
	inv := &fakeInvoker{}
	tunnelID := "__f__prox1-subscribe-1-1"
	raw, err := json.Marshal(tunnelID)
	require.NoError(t, err)
	a := JSONArg{Raw: raw, Tunnel: inv}

	var cb func(n int, s string)
	require.NoError(t, a.Decode(&cb))
	require.NotNil(t, cb)

	cb(42, "hi")

	assert.Equal(t, tunnelID, inv.tunnelID)
	assert.Equal(t, []any{42, "hi"}, inv.args)
}

func TestJSONArgDecodeRejectsNonTunnelStringForFuncTarget(t *testing.T) {
	raw, err := json.Marshal("not-a-tunnel-id")
	require.NoError(t, err)
	a := JSONArg{Raw: raw}

	var cb func()
	assert.Error(t, a.Decode(&cb))
}

func TestUnknownClassErrors(t *testing.T) {
	r := NewReflectRegistry()
	_, err := r.CallStatic("Nope", "X", nil)
	assert.Error(t, err)

	_, err = r.Create("Nope", "", nil)
	assert.Error(t, err)
}

func TestDescribeReportsStaticAndMemberFunctions(t *testing.T) {
	r := NewReflectRegistry()
	r.RegisterClass("Greeter", &greeter{}, func(args []Arg) (any, error) {
		return &greeter{}, nil
	}, map[string]any{"Version": func() string { return "1.0" }})

	_, err := r.Create("Greeter", "inst1", nil)
	require.NoError(t, err)

	desc, ok := r.Describe("Greeter")
	require.True(t, ok)
	assert.Equal(t, "Greeter", desc.ClassName)
	assert.Contains(t, desc.StaticFunctions, "Version")
	assert.Contains(t, desc.MemberFunctions, "Greet")
	assert.Contains(t, desc.Instances, "inst1")
}

// TestDescribeReportsMemberFunctionsBeforeAnyInstanceExists guards spec.md
// §3's discovery tree contract: the very first retained class-info publish
// happens before Create is ever called, so memberFunctions must already be
// populated from the registered prototype, not from a live instance.
func TestDescribeReportsMemberFunctionsBeforeAnyInstanceExists(t *testing.T) {
	r := NewReflectRegistry()
	r.RegisterClass("Greeter", &greeter{}, func(args []Arg) (any, error) {
		return &greeter{}, nil
	}, map[string]any{"Version": func() string { return "1.0" }})

	desc, ok := r.Describe("Greeter")
	require.True(t, ok)
	assert.Contains(t, desc.MemberFunctions, "Greet")
	assert.Empty(t, desc.Instances)
}
