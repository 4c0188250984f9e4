package vcal

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Property is a single content line.  Value starts out as the raw wire
// string; behaviors replace it with a typed native value (time.Time, Date,
// []string, ...) and set IsNative.  Encoded tracks whether the current
// string form still carries wire escaping.
type Property struct {
	Name  string
	Value any

	// Encoded is true while Value holds the raw escaped wire string,
	// false once Decode has unescaped it or a native value replaced it.
	Encoded bool
	// IsNative is true once ToNative has replaced Value with a typed
	// representation.
	IsNative bool

	params     map[string][]string
	paramOrder []string
	behavior   *Behavior
}

// NewProperty returns a property holding a decoded string value.
func NewProperty(name, value string, params ...Parameter) *Property {
	p := &Property{Name: strings.ToUpper(name), Value: value}
	for _, param := range params {
		k, v := param.KeyValue()
		p.SetParam(k, v...)
	}
	return p
}

// Text returns the value as a string.  Native properties holding other
// types return the empty string.
func (p *Property) Text() string {
	s, _ := p.Value.(string)
	return s
}

// SetParam replaces the values of the named parameter, preserving the
// original insertion position for already-present names.
func (p *Property) SetParam(name string, values ...string) {
	name = strings.ToUpper(name)
	if p.params == nil {
		p.params = map[string][]string{}
	}
	if _, ok := p.params[name]; !ok {
		p.paramOrder = append(p.paramOrder, name)
	}
	p.params[name] = values
}

// Param returns all values of the named parameter.
func (p *Property) Param(name string) []string {
	return p.params[strings.ToUpper(name)]
}

// ParamOne returns the first value of the named parameter, or fallback
// when the parameter is absent or empty.
func (p *Property) ParamOne(name, fallback string) string {
	vs := p.params[strings.ToUpper(name)]
	if len(vs) == 0 {
		return fallback
	}
	return vs[0]
}

// HasParam reports whether the named parameter is present.
func (p *Property) HasParam(name string) bool {
	_, ok := p.params[strings.ToUpper(name)]
	return ok
}

// DelParam removes the named parameter.
func (p *Property) DelParam(name string) {
	name = strings.ToUpper(name)
	if _, ok := p.params[name]; !ok {
		return
	}
	delete(p.params, name)
	for i, n := range p.paramOrder {
		if n == name {
			p.paramOrder = append(p.paramOrder[:i], p.paramOrder[i+1:]...)
			break
		}
	}
}

// ParamNames returns the parameter names in insertion order.
func (p *Property) ParamNames() []string {
	return append([]string(nil), p.paramOrder...)
}

func (p *Property) clone() *Property {
	c := &Property{
		Name:       p.Name,
		Value:      p.Value,
		Encoded:    p.Encoded,
		IsNative:   p.IsNative,
		behavior:   p.behavior,
		paramOrder: append([]string(nil), p.paramOrder...),
	}
	if p.params != nil {
		c.params = make(map[string][]string, len(p.params))
		for k, vs := range p.params {
			c.params[k] = append([]string(nil), vs...)
		}
	}
	return c
}

// Parameter supplies one property parameter when constructing properties.
type Parameter interface {
	KeyValue() (string, []string)
}

// KeyValues is the plain Parameter implementation.
type KeyValues struct {
	Key   string
	Value []string
}

func (kv *KeyValues) KeyValue() (string, []string) {
	return kv.Key, kv.Value
}

// WithValue sets the VALUE parameter selecting a value type variant.
func WithValue(kind string) Parameter {
	return &KeyValues{Key: "VALUE", Value: []string{kind}}
}

// WithTzid sets the TZID parameter.
func WithTzid(tzid string) Parameter {
	return &KeyValues{Key: "TZID", Value: []string{tzid}}
}

// WithEncoding sets the ENCODING parameter.
func WithEncoding(encType string) Parameter {
	return &KeyValues{Key: "ENCODING", Value: []string{encType}}
}

func trimUT8StringUpTo(maxLength int, s string) string {
	length := 0
	lastSpace := -1
	for i, r := range s {
		if r == ' ' {
			lastSpace = i
		}

		newLength := length + utf8.RuneLen(r)
		if newLength > maxLength {
			break
		}
		length = newLength
	}
	if lastSpace > 0 {
		return s[:lastSpace]
	}

	return s[:length]
}

func (p *Property) serialize(w io.Writer, cfg *SerializationConfiguration) {
	b := bytes.NewBufferString("")
	fmt.Fprint(b, p.Name)
	for _, k := range p.paramOrder {
		fmt.Fprint(b, ";")
		fmt.Fprint(b, k)
		fmt.Fprint(b, "=")
		for vi, v := range p.params[k] {
			if vi > 0 {
				fmt.Fprint(b, ",")
			}
			if strings.ContainsAny(v, ";:,") {
				v = `"` + v + `"`
			}
			fmt.Fprint(b, v)
		}
	}
	fmt.Fprint(b, ":")
	fmt.Fprint(b, p.Text())
	r := b.String()
	if len(r) > cfg.MaxLength {
		l := trimUT8StringUpTo(cfg.MaxLength, r)
		fmt.Fprint(w, l, cfg.NewLine)
		r = r[len(l):]

		for len(r) > cfg.MaxLength-1 {
			l := trimUT8StringUpTo(cfg.MaxLength-1, r)
			fmt.Fprint(w, " ", l, cfg.NewLine)
			r = r[len(l):]
		}
		fmt.Fprint(w, " ")
	}
	fmt.Fprint(w, r, cfg.NewLine)
}

var propertyIanaTokenReg = regexp.MustCompile("[A-Za-z0-9-]{1,}")

// ParseContentLine parses one unfolded content line into a property.  The
// value is left in its escaped wire form with Encoded set; value behaviors
// take it from there.
func ParseContentLine(contentLine ContentLine) (*Property, error) {
	r := &Property{Encoded: true}
	tokenPos := propertyIanaTokenReg.FindIndex([]byte(contentLine))
	if tokenPos == nil || tokenPos[0] != 0 {
		return nil, fmt.Errorf("%w: malformed content line %q", ErrParse, string(contentLine))
	}
	p := tokenPos[1]
	r.Name = strings.ToUpper(string(contentLine[:p]))
	for {
		if p >= len(contentLine) {
			return nil, fmt.Errorf("%w: content line %q has no value", ErrParse, string(contentLine))
		}
		switch contentLine[p] {
		case ':':
			r.Value = string(contentLine[p+1:])
			return r, nil
		case ';':
			var err error
			p, err = parsePropertyParam(r, string(contentLine), p+1)
			if err != nil {
				return nil, fmt.Errorf("parsing property %s: %w", r.Name, err)
			}
		default:
			return nil, fmt.Errorf("%w: unexpected character %q in content line %q", ErrParse, contentLine[p], string(contentLine))
		}
	}
}

func parsePropertyParam(r *Property, contentLine string, p int) (int, error) {
	tokenPos := propertyIanaTokenReg.FindIndex([]byte(contentLine[p:]))
	if tokenPos == nil || tokenPos[0] != 0 {
		return p, fmt.Errorf("%w: missing parameter name in %q", ErrParse, contentLine)
	}
	k := contentLine[p : p+tokenPos[1]]
	p += tokenPos[1]
	if p >= len(contentLine) || contentLine[p] != '=' {
		return p, fmt.Errorf("%w: missing value for parameter %s", ErrParse, k)
	}
	p++
	var values []string
	for {
		if p >= len(contentLine) {
			return p, fmt.Errorf("%w: unterminated parameter %s", ErrParse, k)
		}
		v, np, err := parsePropertyParamValue(contentLine, p)
		if err != nil {
			return 0, fmt.Errorf("%w in parameter %s", err, k)
		}
		values = append(values, v)
		p = np
		if p < len(contentLine) && contentLine[p] == ',' {
			p++
			continue
		}
		r.SetParam(k, values...)
		return p, nil
	}
}

func parsePropertyParamValue(s string, p int) (string, int, error) {
	r := make([]byte, 0, len(s))
	quoted := false
	done := false
	ip := p
	for ; p < len(s) && !done; p++ {
		switch {
		case s[p] <= 0x08 || (s[p] >= 0x0A && s[p] <= 0x1F):
			return "", 0, fmt.Errorf("%w: unexpected char ascii:%d in parameter value", ErrParse, s[p])
		case s[p] == '\\':
			if p+1 < len(s) {
				r = append(r, []byte(UnescapeText(s[p+1:p+2]))...)
				p++
			}
			continue
		case s[p] == ';' || s[p] == ':' || s[p] == ',':
			if !quoted {
				done = true
				p--
				continue
			}
		case s[p] == '"':
			if p == ip {
				quoted = true
				continue
			}
			if quoted {
				done = true
				continue
			}
			return "", 0, fmt.Errorf("%w: unexpected double quote in parameter value", ErrParse)
		}
		r = append(r, s[p])
	}
	return string(r), p, nil
}
