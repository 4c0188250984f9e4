package vcal

import (
	"strings"
	"sync"
)

// Cardinality bounds how many times a child may appear inside a component.
// A negative Max means unbounded.
type Cardinality struct {
	Min, Max int
}

// Behavior bundles everything the engine knows about one property or
// component name: how to convert its value between wire text and a native
// Go type, how to validate its children, and how to fill in defaultable
// content before serialization.  All hooks are optional; a nil hook is a
// no-op that reports success.
type Behavior struct {
	Name        string
	Description string

	// HasNative marks behaviors whose ToNative produces a typed value.
	HasNative bool
	// IsComponent routes registration to the component table.
	IsComponent bool

	// KnownChildren maps child names to their allowed multiplicity.
	// Only meaningful for component behaviors.
	KnownChildren map[string]Cardinality
	// SortFirst lists child names serialized before all others, in the
	// order given.
	SortFirst []string

	// Value hooks.  Decode and Encode translate between escaped wire
	// text and a plain string; ToNative and FromNative translate
	// between the plain string and the typed native value.
	Decode     func(*Property) error
	Encode     func(*Property) error
	ToNative   func(*Property) error
	FromNative func(*Property) error

	// Component hooks.
	ToNativeComponent   func(*Component) error
	FromNativeComponent func(*Component) error
	Validate            func(c *Component, strict bool) (bool, error)

	// GenerateImplicitParameters fills in defaultable properties and
	// parameters (PRODID, UID, VTIMEZONE synthesis, ...) before
	// serialization.
	GenerateImplicitParameters func(*Component) error
}

// Registry maps property and component names to behaviors.  Property and
// component names live in separate namespaces so that e.g. a DURATION
// property and a hypothetical DURATION component could coexist.
type Registry struct {
	mu         sync.RWMutex
	properties map[string]*Behavior
	components map[string]*Behavior
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		properties: map[string]*Behavior{},
		components: map[string]*Behavior{},
	}
}

// Register binds a behavior to a name, replacing any previous binding.
// Registering the same behavior under several names is common; the date
// and text behaviors each serve dozens of properties.
func (reg *Registry) Register(name string, b *Behavior) {
	name = strings.ToUpper(name)
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if b.IsComponent {
		reg.components[name] = b
	} else {
		reg.properties[name] = b
	}
}

// Lookup finds the behavior for a name, or nil when none is registered.
func (reg *Registry) Lookup(name string, isComponent bool) *Behavior {
	name = strings.ToUpper(name)
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	if isComponent {
		return reg.components[name]
	}
	return reg.properties[name]
}

// DefaultRegistry holds the standard iCalendar behaviors.  It is populated
// during package init; see calendar.go and values.go.
var DefaultRegistry = NewRegistry()
