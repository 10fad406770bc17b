// Package adapter defines the collaborator that binds host Go values into
// vrpc classes, and ships a default reflection-based implementation.
//
// spec.md treats the Adapter as an external collaborator referenced only
// through an interface (§1); this package supplies both that interface and
// a concrete implementation so cmd/vrpc-agent can register plain Go structs
// without hand-written stub code, the "generated stub layer" spec.md §9
// describes for statically typed targets.
//
// Grounded on the teacher's public/agent/framework.go capability-gathering
// pattern (getCapabilities walks a registered processor's method set),
// adapted from its fixed Process/Shutdown hooks into open-ended reflection
// over arbitrary exported methods.
package adapter

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/vrpc-go/vrpc/addr"
)

// TunnelInvoker lets a decoded callback/emitter argument call back up to
// the original sender, per spec.md §4.3: the Agent forwards the callback's
// arguments to the sender under the tunnel id it received on the wire. The
// agentrt package supplies the concrete implementation that publishes over
// the live session.
type TunnelInvoker interface {
	Invoke(tunnelID string, args []any) error
}

// JSONArg wraps a raw JSON-encoded argument, the concrete Arg
// implementation agentrt feeds in from wire.Data.PositionalArgs. Tunnel is
// optional; it is only consulted when the argument decodes into a func
// type, i.e. a tunneled callback or emitter argument.
type JSONArg struct {
	Raw    json.RawMessage
	Tunnel TunnelInvoker
}

// Decode unmarshals the raw JSON into v. If v points at a func type, the
// raw JSON is instead treated as a tunnel id (spec.md §4.3) and v is set to
// a bridge function that invokes Tunnel.Invoke with that id whenever the
// hosted method calls it.
func (a JSONArg) Decode(v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr && rv.Elem().Kind() == reflect.Func {
		return a.decodeFunc(rv.Elem())
	}
	if len(a.Raw) == 0 {
		return nil
	}
	return json.Unmarshal(a.Raw, v)
}

// decodeFunc bridges a tunnel-id wire argument into a real callable of
// fnField's type, closing over Tunnel so the hosted method can invoke the
// callback/emitter the caller passed in without knowing anything about
// tunnel ids (spec.md §4.3).
func (a JSONArg) decodeFunc(fnField reflect.Value) error {
	var tunnelID string
	if len(a.Raw) > 0 {
		if err := json.Unmarshal(a.Raw, &tunnelID); err != nil {
			return fmt.Errorf("adapter: decode callback arg: %w", err)
		}
	}
	if !strings.HasPrefix(tunnelID, addr.TunnelPrefix) {
		return fmt.Errorf("adapter: callback arg %q is not a tunnel id", tunnelID)
	}
	if a.Tunnel == nil {
		return fmt.Errorf("adapter: no tunnel invoker available for callback arg %q", tunnelID)
	}

	invoker := a.Tunnel
	fnType := fnField.Type()
	bridge := reflect.MakeFunc(fnType, func(in []reflect.Value) []reflect.Value {
		args := make([]any, len(in))
		for i, v := range in {
			args[i] = v.Interface()
		}
		// spec.md §7: callback delivery errors never propagate to the
		// hosted method that invoked the callback; agentrt logs them.
		_ = invoker.Invoke(tunnelID, args)

		out := make([]reflect.Value, fnType.NumOut())
		for i := range out {
			out[i] = reflect.Zero(fnType.Out(i))
		}
		return out
	})
	fnField.Set(bridge)
	return nil
}

// ClassDescriptor is what the discovery layer needs to publish class info:
// the deduplicated, overload-tagged member and static function signatures
// of spec.md §3, plus the ids of the class's live instances.
type ClassDescriptor struct {
	ClassName       string
	Instances       []string
	MemberFunctions []string
	StaticFunctions []string
}

// Registry is the Adapter contract: a class-name-keyed lookup the Agent
// dispatcher calls into for every inbound request. Implementations own the
// mapping from (class, target, method) to an actual callable and the
// instance table for non-static targets.
type Registry interface {
	// Describe returns the class descriptor for className, or false if no
	// such class is registered.
	Describe(className string) (ClassDescriptor, bool)
	// ClassNames returns every registered class name.
	ClassNames() []string
	// CallStatic invokes a static method and returns its JSON-encodable
	// result (or an error whose message becomes data.e).
	CallStatic(className, method string, args []Arg) (any, error)
	// Create instantiates a new instance of className (optionally named)
	// and returns its instance id.
	Create(className, instanceName string, args []Arg) (string, error)
	// Get looks up an already-live named instance of className and returns
	// its instance id, or an error if no such instance exists. Backs
	// __getNamed__, which must never create (spec.md §4.4).
	Get(className, instanceName string) (string, error)
	// CallInstance invokes a member method on a live instance.
	CallInstance(className, instanceID, method string, args []Arg) (any, error)
	// Delete removes an instance by id or name.
	Delete(className, instanceIDOrName string) error
	// Instances lists the live instance ids of className.
	Instances(className string) []string
}

// Arg is one positional, still-encoded argument; CallStatic/CallInstance
// decode it into the target method's parameter type via reflect.
type Arg interface {
	// Decode unmarshals the argument into v (a pointer).
	Decode(v any) error
}

// Reflect builds a ClassDescriptor for v (a pointer to a struct) by
// scanning its exported methods: methods are treated as member functions;
// v's type name (or name if given) becomes the class name. The returned
// descriptor has no static functions: a class's static factory/free
// functions don't belong to any receiver, and ReflectRegistry takes them
// separately through RegisterClass's statics map.
func Reflect(v any, name string) ClassDescriptor {
	rv := reflect.ValueOf(v)
	rt := rv.Type()
	if name == "" {
		name = rt.Elem().Name()
	}

	var members []string
	for i := 0; i < rt.NumMethod(); i++ {
		m := rt.Method(i)
		members = append(members, m.Name)
	}

	return ClassDescriptor{ClassName: name, MemberFunctions: members}
}

// ReflectRegistry is the default reflection-based Registry: classes are
// registered as (prototype value, constructor) pairs, and instances are
// created by invoking the constructor then tracked in an in-memory table.
type ReflectRegistry struct {
	mu      sync.Mutex
	classes map[string]*reflectClass
}

type reflectClass struct {
	name            string
	staticFns       map[string]reflect.Value // className-level free functions
	construct       func(args []Arg) (any, error)
	instances       map[string]any
	nextID          int
	memberFunctions []string
}

// NewReflectRegistry creates an empty registry.
func NewReflectRegistry() *ReflectRegistry {
	return &ReflectRegistry{classes: make(map[string]*reflectClass)}
}

// RegisterClass registers className with a constructor used by Create, plus
// any static (class-level) functions. prototype is any value of the type
// Create eventually produces (typically a zero-value pointer, e.g.
// &Counter{}); its method set is reflected once, at registration time, so
// Describe can report memberFunctions before any instance exists (spec.md
// §3's discovery tree must be populated from the very first retained
// publish, not only after a Create call).
func (r *ReflectRegistry) RegisterClass(className string, prototype any, construct func(args []Arg) (any, error), statics map[string]any) {
	fns := make(map[string]reflect.Value, len(statics))
	for name, fn := range statics {
		fns[name] = reflect.ValueOf(fn)
	}
	r.mu.Lock()
	r.classes[className] = &reflectClass{
		name:            className,
		staticFns:       fns,
		construct:       construct,
		instances:       make(map[string]any),
		memberFunctions: memberNames(prototype),
	}
	r.mu.Unlock()
}

func (r *ReflectRegistry) Describe(className string) (ClassDescriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.classes[className]
	if !ok {
		return ClassDescriptor{}, false
	}
	desc := ClassDescriptor{ClassName: className, MemberFunctions: c.memberFunctions}
	for name := range c.staticFns {
		desc.StaticFunctions = append(desc.StaticFunctions, name)
	}
	for id := range c.instances {
		desc.Instances = append(desc.Instances, id)
	}
	return desc, true
}

func memberNames(v any) []string {
	rt := reflect.TypeOf(v)
	names := make([]string, 0, rt.NumMethod())
	for i := 0; i < rt.NumMethod(); i++ {
		names = append(names, rt.Method(i).Name)
	}
	return names
}

func (r *ReflectRegistry) ClassNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.classes))
	for name := range r.classes {
		out = append(out, name)
	}
	return out
}

func (r *ReflectRegistry) CallStatic(className, method string, args []Arg) (any, error) {
	r.mu.Lock()
	c, ok := r.classes[className]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("adapter: unknown class %q", className)
	}
	fn, ok := c.staticFns[method]
	if !ok {
		return nil, fmt.Errorf("adapter: unknown static function %q on %q", method, className)
	}
	return callReflect(fn, args)
}

func (r *ReflectRegistry) Create(className, instanceName string, args []Arg) (string, error) {
	r.mu.Lock()
	c, ok := r.classes[className]
	r.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("adapter: unknown class %q", className)
	}
	inst, err := c.construct(args)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	id := instanceName
	if id == "" {
		c.nextID++
		id = fmt.Sprintf("%s-%d", className, c.nextID)
	}
	c.instances[id] = inst
	return id, nil
}

// Get returns instanceName's id if a live instance of className is
// registered under that name, without constructing anything. Mirrors
// spec.md §4.4's __getNamed__, which must fail rather than silently
// create when the name is unknown.
func (r *ReflectRegistry) Get(className, instanceName string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.classes[className]
	if !ok {
		return "", fmt.Errorf("adapter: unknown class %q", className)
	}
	if _, ok := c.instances[instanceName]; !ok {
		return "", fmt.Errorf("adapter: unknown instance %q", instanceName)
	}
	return instanceName, nil
}

func (r *ReflectRegistry) CallInstance(className, instanceID, method string, args []Arg) (any, error) {
	r.mu.Lock()
	c, ok := r.classes[className]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("adapter: unknown class %q", className)
	}
	r.mu.Lock()
	inst, ok := c.instances[instanceID]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("adapter: unknown instance %q", instanceID)
	}

	rv := reflect.ValueOf(inst)
	m := rv.MethodByName(method)
	if !m.IsValid() {
		return nil, fmt.Errorf("adapter: unknown method %q on %q", method, className)
	}
	return callReflect(m, args)
}

func (r *ReflectRegistry) Delete(className, instanceIDOrName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.classes[className]
	if !ok {
		return fmt.Errorf("adapter: unknown class %q", className)
	}
	if _, ok := c.instances[instanceIDOrName]; !ok {
		return fmt.Errorf("adapter: unknown instance %q", instanceIDOrName)
	}
	delete(c.instances, instanceIDOrName)
	return nil
}

func (r *ReflectRegistry) Instances(className string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.classes[className]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(c.instances))
	for id := range c.instances {
		out = append(out, id)
	}
	return out
}

func callReflect(fn reflect.Value, args []Arg) (any, error) {
	ft := fn.Type()
	in := make([]reflect.Value, ft.NumIn())
	for i := range in {
		paramPtr := reflect.New(ft.In(i))
		if i < len(args) {
			if err := args[i].Decode(paramPtr.Interface()); err != nil {
				return nil, fmt.Errorf("adapter: decode arg %d: %w", i+1, err)
			}
		}
		in[i] = paramPtr.Elem()
	}

	out := fn.Call(in)
	return unpackResult(out)
}

// unpackResult handles the two conventional Go return shapes: (T, error)
// and (error) alone, matching the teacher's Process(...) (..., error) idiom.
func unpackResult(out []reflect.Value) (any, error) {
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if isError(out[0]) {
			return nil, asError(out[0])
		}
		return out[0].Interface(), nil
	default:
		last := out[len(out)-1]
		if isError(last) {
			if err := asError(last); err != nil {
				return nil, err
			}
		}
		return out[0].Interface(), nil
	}
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func isError(v reflect.Value) bool {
	return v.Type().Implements(errorType)
}

func asError(v reflect.Value) error {
	if v.IsNil() {
		return nil
	}
	return v.Interface().(error)
}
