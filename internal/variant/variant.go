// Package variant models named build options and their assignments.
//
// A Definition declares a variant on a package: its name, its value domain
// (boolean or an enumeration) and the default. A Set is the immutable
// name-to-value assignment attached to a concrete spec.
package variant

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Kind is the value domain of a variant.
type Kind string

const (
	// KindBool is an on/off variant rendered as +name or ~name.
	KindBool Kind = "bool"

	// KindEnum is a single-valued variant drawn from Values.
	KindEnum Kind = "enum"
)

// Boolean values as stored in a Set.
const (
	True  = "true"
	False = "false"
)

// Definition declares a variant on a package.
type Definition struct {
	Name        string
	Kind        Kind
	Default     string
	Values      []string
	Description string
}

// Bool declares a boolean variant.
func Bool(name string, def bool, description string) Definition {
	d := Definition{Name: name, Kind: KindBool, Default: False, Description: description}
	if def {
		d.Default = True
	}
	return d
}

// Enum declares an enumerated variant. The default must be one of values.
func Enum(name, def string, values []string, description string) Definition {
	return Definition{
		Name:        name,
		Kind:        KindEnum,
		Default:     def,
		Values:      slices.Clone(values),
		Description: description,
	}
}

// Allowed returns the values the variant accepts.
func (d Definition) Allowed() []string {
	if d.Kind == KindBool {
		return []string{False, True}
	}
	return d.Values
}

// Validate checks that value is in the variant's domain.
func (d Definition) Validate(value string) error {
	if slices.Contains(d.Allowed(), value) {
		return nil
	}
	return fmt.Errorf("value %q not allowed for variant %q (allowed: %s)",
		value, d.Name, strings.Join(d.Allowed(), ", "))
}

// Check validates the definition itself.
func (d Definition) Check() error {
	if d.Name == "" {
		return fmt.Errorf("variant without a name")
	}
	switch d.Kind {
	case KindBool:
	case KindEnum:
		if len(d.Values) == 0 {
			return fmt.Errorf("enum variant %q declares no values", d.Name)
		}
	default:
		return fmt.Errorf("variant %q has unknown kind %q", d.Name, d.Kind)
	}
	if err := d.Validate(d.Default); err != nil {
		return fmt.Errorf("default: %w", err)
	}
	return nil
}

// Format renders name=value in its canonical textual form.
func (d Definition) Format(value string) string {
	return Format(d.Kind, d.Name, value)
}

// Format renders one assignment: +x / ~x for booleans, x=v otherwise.
func Format(kind Kind, name, value string) string {
	if kind == KindBool || value == True || value == False {
		if value == True {
			return "+" + name
		}
		return "~" + name
	}
	return name + "=" + value
}

// Assignment is a single name=value pair.
type Assignment struct {
	Name  string
	Value string
}

// String renders the assignment canonically.
func (a Assignment) String() string {
	return Format("", a.Name, a.Value)
}

// Parse reads one variant token: +x, ~x, -x, x=value.
func Parse(token string) (Assignment, error) {
	if token == "" {
		return Assignment{}, fmt.Errorf("empty variant")
	}
	switch token[0] {
	case '+':
		return named(token[1:], True, token)
	case '~', '-':
		return named(token[1:], False, token)
	}
	name, value, ok := strings.Cut(token, "=")
	if !ok {
		return Assignment{}, fmt.Errorf("invalid variant %q: expected +name, ~name or name=value", token)
	}
	if value == "" {
		return Assignment{}, fmt.Errorf("invalid variant %q: empty value", token)
	}
	return named(name, value, token)
}

func named(name, value, token string) (Assignment, error) {
	if !IsName(name) {
		return Assignment{}, fmt.Errorf("invalid variant %q: bad name %q", token, name)
	}
	return Assignment{Name: name, Value: value}, nil
}

// IsName reports whether s is a valid variant name.
func IsName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case i > 0 && (r >= '0' && r <= '9' || r == '-'):
		default:
			return false
		}
	}
	return true
}

// Set is an immutable variant assignment.
type Set struct {
	values map[string]string
}

// NewSet builds a Set from assignments. Later assignments win.
func NewSet(assignments ...Assignment) Set {
	s := Set{values: make(map[string]string, len(assignments))}
	for _, a := range assignments {
		s.values[a.Name] = a.Value
	}
	return s
}

// With returns a copy of s with name set to value.
func (s Set) With(name, value string) Set {
	out := Set{values: make(map[string]string, len(s.values)+1)}
	for k, v := range s.values {
		out.values[k] = v
	}
	out.values[name] = value
	return out
}

// Get returns the value of name.
func (s Set) Get(name string) (string, bool) {
	v, ok := s.values[name]
	return v, ok
}

// Enabled reports whether a boolean variant is on.
func (s Set) Enabled(name string) bool {
	return s.values[name] == True
}

// Len returns the number of assignments.
func (s Set) Len() int {
	return len(s.values)
}

// Names returns the assigned names in sorted order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s.values))
	for k := range s.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Assignments returns the assignments sorted by name.
func (s Set) Assignments() []Assignment {
	out := make([]Assignment, 0, len(s.values))
	for _, n := range s.Names() {
		out = append(out, Assignment{Name: n, Value: s.values[n]})
	}
	return out
}

// Map returns a copy of the assignments as a map.
func (s Set) Map() map[string]string {
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// String renders the set canonically: boolean flags first joined without
// spaces, then name=value pairs, each group sorted by name.
func (s Set) String() string {
	var flags, pairs []string
	for _, a := range s.Assignments() {
		if a.Value == True || a.Value == False {
			flags = append(flags, a.String())
		} else {
			pairs = append(pairs, a.String())
		}
	}
	out := strings.Join(flags, "")
	if len(pairs) > 0 {
		if out != "" {
			out += " "
		}
		out += strings.Join(pairs, " ")
	}
	return out
}
