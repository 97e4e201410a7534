package chip

import (
	"fmt"
	"sort"
	"sync"
)

// BuildInput is passed to a chip builder.
type BuildInput struct {
	ID    string         // instance id from the diagram
	Host  Host           // host scoped to this instance
	Attrs map[string]any // free-form attributes from the diagram
}

// Builder creates and registers one chip instance with its host.
type Builder interface {
	Build(in BuildInput) (Handle, error)
}

// Releaser is implemented by builders whose instances hold state outside the
// host. The host calls Release once per handle when it drops the instance.
type Releaser interface {
	Release(h Handle) bool
}

// Definer is implemented by builders that ship a chip.json document naming
// the part and its pins.
type Definer interface {
	Definition() []byte
}

// BuilderFunc adapts a function to Builder.
type BuilderFunc func(in BuildInput) (Handle, error)

func (f BuilderFunc) Build(in BuildInput) (Handle, error) { return f(in) }

var (
	mu       sync.RWMutex
	builders = map[string]Builder{}
)

func Register(chipType string, b Builder) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := builders[chipType]; exists {
		panic(fmt.Sprintf("chip builder already registered for type %q", chipType))
	}
	builders[chipType] = b
}

func Lookup(chipType string) (Builder, bool) {
	mu.RLock()
	defer mu.RUnlock()
	b, ok := builders[chipType]
	return b, ok
}

// Types lists registered chip types, sorted.
func Types() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(builders))
	for k := range builders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
