// Package task defines the unit of work moved between the dispatcher and
// the remote handler: a registered callable name plus its arguments, and the
// naming scheme that keys every derived resource.
//
// Go cannot serialize closures, so tasks are restricted to callables
// registered under a stable name in a Registry. The dispatcher and the
// Lambda bootstrap link the same registrations, and the transfer object
// carries only the name and the arguments.
package task

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/AgnostiqHQ/covalent-awslambda-plugin/pkg/protocol/codec"
)

// Func is a callable executable on either side of the transfer.
// args are positional, kwargs are keyword arguments.
type Func func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// Callable pairs a Func with the registered name it travels under.
type Callable struct {
	Name string
	Fn   Func
}

// Payload is the serialized form of one task.
type Payload struct {
	Name   string         `cbor:"name" json:"name"`
	Args   []any          `cbor:"args" json:"args"`
	Kwargs map[string]any `cbor:"kwargs" json:"kwargs"`
}

var transferCodec = codec.MustCBOR()

// Encode serializes the payload for the transfer object.
func (p Payload) Encode() ([]byte, error) {
	return transferCodec.Marshal(p)
}

// DecodePayload is the inverse of Encode.
func DecodePayload(b []byte) (Payload, error) {
	var p Payload
	if err := transferCodec.Unmarshal(b, &p); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// EncodeResult serializes a task return value for the result object.
func EncodeResult(v any) ([]byte, error) {
	return transferCodec.Marshal(v)
}

// DecodeResult deserializes a result object.
func DecodeResult(b []byte) (any, error) {
	var v any
	if err := transferCodec.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Registry maps stable names to callables.
type Registry struct {
	mu  sync.RWMutex
	fns map[string]Func
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{fns: make(map[string]Func)}
}

// Default is the process-wide registry shared by the dispatcher side and
// the handler bootstrap.
var Default = NewRegistry()

// Register adds a callable under name. Registering an empty name or a
// duplicate is a programming error and is rejected.
func (r *Registry) Register(name string, fn Func) error {
	if name == "" {
		return fmt.Errorf("register: empty task name")
	}
	if fn == nil {
		return fmt.Errorf("register %q: nil func", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.fns[name]; dup {
		return fmt.Errorf("register %q: already registered", name)
	}
	r.fns[name] = fn
	return nil
}

// MustRegister is Register for init-time wiring.
func (r *Registry) MustRegister(name string, fn Func) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

// Resolve returns the callable registered under name.
func (r *Registry) Resolve(name string) (Callable, error) {
	r.mu.RLock()
	fn, ok := r.fns[name]
	r.mu.RUnlock()
	if !ok {
		return Callable{}, fmt.Errorf("task %q is not registered", name)
	}
	return Callable{Name: name, Fn: fn}, nil
}

// Names lists registered task names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.fns))
	for name := range r.fns {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
