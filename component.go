package vcal

import (
	"fmt"
	"io"
	"reflect"
	"strings"
)

// NativeKind tags what a component turned into when it went native.
type NativeKind int

const (
	// KindGeneric is a component with no special native form.
	KindGeneric NativeKind = iota
	// KindRecurring marks components that can carry recurrence
	// properties (VEVENT, VTODO, VJOURNAL).
	KindRecurring
	// KindTimezone marks VTIMEZONE components carrying a usable time
	// source.
	KindTimezone
)

// Component is a node in the calendar tree: a name, an ordered list of
// properties and an ordered list of subcomponents.
type Component struct {
	Name       string
	Properties []*Property
	Components []*Component

	// IsNative is true once TransformToNative has run over this
	// component; Kind then says what it became.
	IsNative bool
	Kind     NativeKind

	behavior *Behavior
	tzsource TimeSource
}

// NewComponent returns an empty component with the given name.
func NewComponent(name string) *Component {
	return &Component{Name: strings.ToUpper(name)}
}

// GetProperty returns the first property with the given name, or nil.
func (c *Component) GetProperty(name string) *Property {
	for _, p := range c.Properties {
		if strings.EqualFold(p.Name, name) {
			return p
		}
	}
	return nil
}

// GetProperties returns all properties with the given name in order.
func (c *Component) GetProperties(name string) []*Property {
	var out []*Property
	for _, p := range c.Properties {
		if strings.EqualFold(p.Name, name) {
			out = append(out, p)
		}
	}
	return out
}

// HasProperty reports whether any property with the given name is present.
func (c *Component) HasProperty(name string) bool {
	return c.GetProperty(name) != nil
}

// AddProperty appends a property and returns it.
func (c *Component) AddProperty(p *Property) *Property {
	c.Properties = append(c.Properties, p)
	return p
}

// SetProperty replaces all properties with the given name by a single one
// holding value, keeping the position of the first occurrence.  The new
// property is returned.
func (c *Component) SetProperty(name, value string, params ...Parameter) *Property {
	p := NewProperty(name, value, params...)
	for i, existing := range c.Properties {
		if strings.EqualFold(existing.Name, name) {
			c.Properties[i] = p
			c.removePropertyAfter(name, i+1)
			return p
		}
	}
	return c.AddProperty(p)
}

// RemoveProperty removes all properties with the given name.
func (c *Component) RemoveProperty(name string) {
	c.removePropertyAfter(name, 0)
}

func (c *Component) removePropertyAfter(name string, from int) {
	kept := c.Properties[:from]
	for _, p := range c.Properties[from:] {
		if !strings.EqualFold(p.Name, name) {
			kept = append(kept, p)
		}
	}
	c.Properties = kept
}

// GetComponents returns all subcomponents with the given name in order.
func (c *Component) GetComponents(name string) []*Component {
	var out []*Component
	for _, sub := range c.Components {
		if strings.EqualFold(sub.Name, name) {
			out = append(out, sub)
		}
	}
	return out
}

// AddComponent appends a subcomponent and returns it.
func (c *Component) AddComponent(sub *Component) *Component {
	c.Components = append(c.Components, sub)
	return sub
}

// ParseCalendar reads a complete component tree from r.  The outermost
// BEGIN line names the root component; no transformation to native values
// is performed.
func ParseCalendar(r io.Reader) (*Component, error) {
	cs := NewCalendarStream(r)
	root, err := parseComponent(cs, "", 0)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, fmt.Errorf("%w: empty input", ErrParse)
	}
	return root, nil
}

func parseComponent(cs *CalendarStream, name string, ln int) (*Component, error) {
	var c *Component
	for {
		l, err := cs.ReadLine()
		if err != nil && err != io.EOF {
			return nil, err
		}
		if l != nil && len(*l) > 0 {
			line, perr := ParseContentLine(*l)
			if perr != nil {
				return nil, fmt.Errorf("parsing line %d: %w", ln, perr)
			}
			ln++
			switch line.Name {
			case "BEGIN":
				if c == nil {
					if name != "" && !strings.EqualFold(line.Text(), name) {
						return nil, fmt.Errorf("%w: expected BEGIN:%s, got BEGIN:%s", ErrParse, name, line.Text())
					}
					c = NewComponent(line.Text())
				} else {
					sub, serr := parseSubComponent(cs, line.Text(), ln)
					if serr != nil {
						return nil, serr
					}
					c.AddComponent(sub)
				}
			case "END":
				if c == nil {
					return nil, fmt.Errorf("%w: END:%s before any BEGIN", ErrParse, line.Text())
				}
				if !strings.EqualFold(line.Text(), c.Name) {
					return nil, fmt.Errorf("%w: BEGIN:%s closed by END:%s", ErrParse, c.Name, line.Text())
				}
				return c, nil
			default:
				if c == nil {
					return nil, fmt.Errorf("%w: property %s before BEGIN", ErrParse, line.Name)
				}
				c.AddProperty(line)
			}
		}
		if err == io.EOF {
			if c != nil {
				return nil, fmt.Errorf("%w: BEGIN:%s never closed", ErrParse, c.Name)
			}
			return nil, io.EOF
		}
	}
}

// parseSubComponent parses the body of a nested component whose BEGIN line
// has already been consumed.
func parseSubComponent(cs *CalendarStream, name string, ln int) (*Component, error) {
	c := NewComponent(name)
	for {
		l, err := cs.ReadLine()
		if err != nil && err != io.EOF {
			return nil, err
		}
		if l != nil && len(*l) > 0 {
			line, perr := ParseContentLine(*l)
			if perr != nil {
				return nil, fmt.Errorf("parsing line %d: %w", ln, perr)
			}
			ln++
			switch line.Name {
			case "BEGIN":
				sub, serr := parseSubComponent(cs, line.Text(), ln)
				if serr != nil {
					return nil, serr
				}
				c.AddComponent(sub)
			case "END":
				if !strings.EqualFold(line.Text(), c.Name) {
					return nil, fmt.Errorf("%w: BEGIN:%s closed by END:%s", ErrParse, c.Name, line.Text())
				}
				return c, nil
			default:
				c.AddProperty(line)
			}
		}
		if err == io.EOF {
			return nil, fmt.Errorf("%w: BEGIN:%s never closed", ErrParse, c.Name)
		}
	}
}

// TransformToNative walks the tree converting wire strings into typed
// values using the behaviors registered in reg.  Properties and components
// with no registered behavior are left untouched.  Conversion is
// depth-first so that VTIMEZONE components register their TZIDs before
// sibling events look them up.
func (c *Component) TransformToNative(reg *Registry) error {
	if reg == nil {
		reg = DefaultRegistry
	}
	// Timezones first.  TZID parameters elsewhere in the tree resolve
	// against what these register.
	for _, sub := range c.Components {
		if strings.EqualFold(sub.Name, "VTIMEZONE") {
			if err := sub.TransformToNative(reg); err != nil {
				return err
			}
		}
	}
	for _, sub := range c.Components {
		if strings.EqualFold(sub.Name, "VTIMEZONE") {
			continue
		}
		if err := sub.TransformToNative(reg); err != nil {
			return err
		}
	}
	for _, p := range c.Properties {
		if err := transformPropertyToNative(p, reg); err != nil {
			return fmt.Errorf("property %s in %s: %w", p.Name, c.Name, err)
		}
	}
	b := reg.Lookup(c.Name, true)
	c.behavior = b
	if b != nil && b.ToNativeComponent != nil {
		if err := b.ToNativeComponent(c); err != nil {
			return fmt.Errorf("component %s: %w", c.Name, err)
		}
	}
	c.IsNative = true
	return nil
}

func transformPropertyToNative(p *Property, reg *Registry) error {
	b := reg.Lookup(p.Name, false)
	p.behavior = b
	if b == nil {
		return nil
	}
	if p.Encoded && b.Decode != nil {
		if err := b.Decode(p); err != nil {
			return err
		}
	}
	if b.HasNative && !p.IsNative && b.ToNative != nil {
		if err := b.ToNative(p); err != nil {
			return err
		}
	}
	return nil
}

// TransformFromNative walks the tree converting native values back into
// decoded strings, in place.  Serialization does this on copies instead;
// call it directly only when the native forms are no longer needed.
func (c *Component) TransformFromNative(reg *Registry) error {
	if reg == nil {
		reg = DefaultRegistry
	}
	b := reg.Lookup(c.Name, true)
	if b != nil && b.FromNativeComponent != nil {
		if err := b.FromNativeComponent(c); err != nil {
			return fmt.Errorf("component %s: %w", c.Name, err)
		}
	}
	for _, p := range c.Properties {
		if err := transformPropertyFromNative(p, reg); err != nil {
			return fmt.Errorf("property %s in %s: %w", p.Name, c.Name, err)
		}
	}
	for _, sub := range c.Components {
		if err := sub.TransformFromNative(reg); err != nil {
			return err
		}
	}
	c.IsNative = false
	c.Kind = KindGeneric
	return nil
}

func transformPropertyFromNative(p *Property, reg *Registry) error {
	b := reg.Lookup(p.Name, false)
	if b == nil {
		return nil
	}
	if p.IsNative && b.FromNative != nil {
		if err := b.FromNative(p); err != nil {
			return err
		}
	}
	if !p.Encoded && b.Encode != nil {
		if err := b.Encode(p); err != nil {
			return err
		}
	}
	return nil
}

// GenerateImplicitParameters fills in defaultable content (PRODID, UID,
// synthesized VTIMEZONEs, ...) over the whole tree, parents first.
func (c *Component) GenerateImplicitParameters(reg *Registry) error {
	if reg == nil {
		reg = DefaultRegistry
	}
	b := reg.Lookup(c.Name, true)
	if b != nil && b.GenerateImplicitParameters != nil {
		if err := b.GenerateImplicitParameters(c); err != nil {
			return fmt.Errorf("component %s: %w", c.Name, err)
		}
	}
	for _, sub := range c.Components {
		if err := sub.GenerateImplicitParameters(reg); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks cardinality constraints and behavior-specific rules over
// the whole tree.  In strict mode the first violation is returned as an
// error; otherwise violations make the result false without an error.
func (c *Component) Validate(reg *Registry, strict bool) (bool, error) {
	if reg == nil {
		reg = DefaultRegistry
	}
	b := reg.Lookup(c.Name, true)
	ok := true
	if b != nil && b.KnownChildren != nil {
		counts := map[string]int{}
		for _, p := range c.Properties {
			counts[strings.ToUpper(p.Name)]++
		}
		for _, sub := range c.Components {
			counts[strings.ToUpper(sub.Name)]++
		}
		for name, card := range b.KnownChildren {
			n := counts[name]
			if n < card.Min {
				if strict {
					return false, fmt.Errorf("%w: %s must appear at least %d times in %s, got %d", ErrValidate, name, card.Min, c.Name, n)
				}
				ok = false
			}
			if card.Max >= 0 && n > card.Max {
				if strict {
					return false, fmt.Errorf("%w: %s may appear at most %d times in %s, got %d", ErrValidate, name, card.Max, c.Name, n)
				}
				ok = false
			}
		}
	}
	if b != nil && b.Validate != nil {
		bok, err := b.Validate(c, strict)
		if err != nil {
			return false, err
		}
		ok = ok && bok
	}
	for _, sub := range c.Components {
		sok, err := sub.Validate(reg, strict)
		if err != nil {
			return false, err
		}
		ok = ok && sok
	}
	return ok, nil
}

// Serialize returns the wire form of the tree.  Native values are
// converted back to text on copies so the receiver keeps its native state.
func (c *Component) Serialize(ops ...any) string {
	b := &strings.Builder{}
	// We are intentionally ignoring the return value. _ used to communicate this to lint.
	_ = c.SerializeTo(b, ops...)
	return b.String()
}

// WithLineLength overrides the folding width passed to Serialize.
type WithLineLength int

// WithNewLine overrides the line terminator passed to Serialize.
type WithNewLine string

// SerializationConfiguration controls how components are written out.
// MaxLength corresponds to the 75 octet line length recommendation from
// RFC 5545 section 3.1.  NewLine selects the line termination sequence.
type SerializationConfiguration struct {
	MaxLength int
	NewLine   string
}

// parseSerializeOps interprets the optional arguments provided to
// Serialize or SerializeTo.  It accepts WithLineLength, WithNewLine or a
// *SerializationConfiguration.  Unsupported types return an error.
func parseSerializeOps(ops []any) (*SerializationConfiguration, error) {
	serializeConfig := &SerializationConfiguration{
		MaxLength: 75,
		NewLine:   string(NewLine),
	}
	for opi, op := range ops {
		switch op := op.(type) {
		case WithLineLength:
			serializeConfig.MaxLength = int(op)
		case WithNewLine:
			serializeConfig.NewLine = string(op)
		case *SerializationConfiguration:
			return op, nil
		case error:
			return nil, op
		default:
			return nil, fmt.Errorf("unknown op %d of type %s", opi, reflect.TypeOf(op))
		}
	}
	return serializeConfig, nil
}

// SerializeTo writes the wire form of the tree to w.
func (c *Component) SerializeTo(w io.Writer, ops ...any) error {
	serializeConfig, err := parseSerializeOps(ops)
	if err != nil {
		return err
	}
	return c.serialize(w, DefaultRegistry, serializeConfig)
}

func (c *Component) serialize(w io.Writer, reg *Registry, cfg *SerializationConfiguration) error {
	_, _ = io.WriteString(w, "BEGIN:"+c.Name+cfg.NewLine)
	for _, p := range c.sortedProperties() {
		out := p
		if p.IsNative || !p.Encoded {
			out = p.clone()
			if err := transformPropertyFromNative(out, reg); err != nil {
				return fmt.Errorf("property %s in %s: %w", p.Name, c.Name, err)
			}
		}
		out.serialize(w, cfg)
	}
	for _, sub := range c.sortedComponents() {
		if err := sub.serialize(w, reg, cfg); err != nil {
			return err
		}
	}
	_, _ = io.WriteString(w, "END:"+c.Name+cfg.NewLine)
	return nil
}

// sortedProperties applies the behavior's SortFirst ordering; names not
// listed keep their insertion order after the listed ones.
func (c *Component) sortedProperties() []*Property {
	b := c.behavior
	if b == nil {
		b = DefaultRegistry.Lookup(c.Name, true)
	}
	if b == nil || len(b.SortFirst) == 0 {
		return c.Properties
	}
	out := make([]*Property, 0, len(c.Properties))
	for _, name := range b.SortFirst {
		for _, p := range c.Properties {
			if strings.EqualFold(p.Name, name) {
				out = append(out, p)
			}
		}
	}
	for _, p := range c.Properties {
		if !containsFold(b.SortFirst, p.Name) {
			out = append(out, p)
		}
	}
	return out
}

func (c *Component) sortedComponents() []*Component {
	b := c.behavior
	if b == nil {
		b = DefaultRegistry.Lookup(c.Name, true)
	}
	if b == nil || len(b.SortFirst) == 0 {
		return c.Components
	}
	out := make([]*Component, 0, len(c.Components))
	for _, name := range b.SortFirst {
		for _, sub := range c.Components {
			if strings.EqualFold(sub.Name, name) {
				out = append(out, sub)
			}
		}
	}
	for _, sub := range c.Components {
		if !containsFold(b.SortFirst, sub.Name) {
			out = append(out, sub)
		}
	}
	return out
}

func containsFold(list []string, name string) bool {
	for _, s := range list {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}
