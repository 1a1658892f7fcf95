// Package constraint implements the predicate language used for dependency
// guards, recipe rules and spec queries.
//
// Predicates form a typed tree. They are pure and are evaluated against a
// Subject, which is either a concretized spec or a node whose own attributes
// have already been decided.
package constraint

import (
	"strings"

	"github.com/morse-hpc/hpkg/internal/semver"
	"github.com/morse-hpc/hpkg/internal/variant"
)

// Subject is the view of a spec that predicates read.
type Subject interface {
	PackageName() string
	PackageVersion() semver.Version
	VariantValue(name string) (string, bool)
	CompilerID() (string, semver.Version)

	// DependencyNamed finds a transitive dependency by package name or by a
	// virtual name it provides.
	DependencyNamed(name string) (Subject, bool)

	// DependentNamed reports whether name transitively depends on the subject.
	DependentNamed(name string) bool
}

// Ref is a bit set of the attributes a predicate reads.
type Ref uint8

const (
	RefName Ref = 1 << iota
	RefVersion
	RefVariant
	RefCompiler
	RefDependency
	RefDependent
)

// Has reports whether r contains all bits of o.
func (r Ref) Has(o Ref) bool { return r&o == o }

// Predicate is a pure boolean function over a Subject.
type Predicate interface {
	Eval(s Subject) bool
	Refs() Ref
	String() string
}

// Always is the predicate that holds for every subject.
type Always struct{}

func (Always) Eval(Subject) bool { return true }
func (Always) Refs() Ref         { return 0 }
func (Always) String() string    { return "" }

// Name matches the package name.
type Name struct {
	Name string
}

func (p Name) Eval(s Subject) bool { return s.PackageName() == p.Name }
func (p Name) Refs() Ref           { return RefName }
func (p Name) String() string      { return p.Name }

// VersionIn matches when the version lies in Range.
type VersionIn struct {
	Range semver.Range
}

func (p VersionIn) Eval(s Subject) bool { return p.Range.Contains(s.PackageVersion()) }
func (p VersionIn) Refs() Ref           { return RefVersion }
func (p VersionIn) String() string      { return "@" + p.Range.String() }

// VariantIs matches a variant value.
type VariantIs struct {
	Name  string
	Value string
}

func (p VariantIs) Eval(s Subject) bool {
	v, ok := s.VariantValue(p.Name)
	return ok && v == p.Value
}
func (p VariantIs) Refs() Ref      { return RefVariant }
func (p VariantIs) String() string { return variant.Format("", p.Name, p.Value) }

// CompilerIs matches the compiler family and, optionally, its version.
type CompilerIs struct {
	Name  string
	Range semver.Range
}

func (p CompilerIs) Eval(s Subject) bool {
	name, v := s.CompilerID()
	return name == p.Name && p.Range.Contains(v)
}
func (p CompilerIs) Refs() Ref { return RefCompiler }
func (p CompilerIs) String() string {
	if p.Range.IsZero() {
		return "%" + p.Name
	}
	return "%" + p.Name + "@" + p.Range.String()
}

// DependsOn matches when Name is a transitive dependency of the subject and
// that dependency satisfies Where.
type DependsOn struct {
	Name  string
	Where Predicate
}

func (p DependsOn) Eval(s Subject) bool {
	d, ok := s.DependencyNamed(p.Name)
	if !ok {
		return false
	}
	return p.Where == nil || p.Where.Eval(d)
}
func (p DependsOn) Refs() Ref { return RefDependency }
func (p DependsOn) String() string {
	if p.Where == nil {
		return "^" + p.Name
	}
	return "^" + p.Name + compact(p.Where)
}

// DependedOnBy matches when the subject is a transitive dependency of Name.
type DependedOnBy struct {
	Name string
}

func (p DependedOnBy) Eval(s Subject) bool { return s.DependentNamed(p.Name) }
func (p DependedOnBy) Refs() Ref           { return RefDependent }
func (p DependedOnBy) String() string      { return "dependent:" + p.Name }

// And holds when every member holds.
type And []Predicate

func (p And) Eval(s Subject) bool {
	for _, q := range p {
		if !q.Eval(s) {
			return false
		}
	}
	return true
}

func (p And) Refs() Ref {
	var r Ref
	for _, q := range p {
		r |= q.Refs()
	}
	return r
}

func (p And) String() string {
	parts := make([]string, 0, len(p))
	for _, q := range p {
		if s := q.String(); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// Or holds when any member holds.
type Or []Predicate

func (p Or) Eval(s Subject) bool {
	for _, q := range p {
		if q.Eval(s) {
			return true
		}
	}
	return false
}

func (p Or) Refs() Ref {
	var r Ref
	for _, q := range p {
		r |= q.Refs()
	}
	return r
}

func (p Or) String() string {
	parts := make([]string, len(p))
	for i, q := range p {
		parts[i] = q.String()
	}
	return strings.Join(parts, " | ")
}

// Not negates a predicate.
type Not struct {
	P Predicate
}

func (p Not) Eval(s Subject) bool { return !p.P.Eval(s) }
func (p Not) Refs() Ref           { return p.P.Refs() }
func (p Not) String() string {
	switch p.P.(type) {
	case And, Or:
		return "!(" + p.P.String() + ")"
	}
	return "!" + p.P.String()
}

// compact renders the attributes attached to a ^dependency without spaces,
// the way they are written after the name.
func compact(p Predicate) string {
	if and, ok := p.(And); ok {
		var b strings.Builder
		for _, q := range and {
			b.WriteString(attached(q.String()))
		}
		return b.String()
	}
	return attached(p.String())
}

// attached prefixes name=value atoms with a space so they stay separate.
func attached(s string) string {
	if s != "" && isNameStart(s[0]) {
		return " " + s
	}
	return s
}

// Flatten returns the atoms of a conjunction. It fails for predicates that
// contain a disjunction or a negation, which cannot be applied as plain
// requests.
func Flatten(p Predicate) ([]Predicate, bool) {
	switch q := p.(type) {
	case nil, Always:
		return nil, true
	case And:
		var out []Predicate
		for _, m := range q {
			atoms, ok := Flatten(m)
			if !ok {
				return nil, false
			}
			out = append(out, atoms...)
		}
		return out, true
	case Or, Not:
		return nil, false
	default:
		return []Predicate{p}, true
	}
}

// Conjoin builds the conjunction of ps, dropping Always and nil members.
func Conjoin(ps ...Predicate) Predicate {
	var out And
	for _, p := range ps {
		switch q := p.(type) {
		case nil, Always:
		case And:
			out = append(out, q...)
		default:
			out = append(out, p)
		}
	}
	switch len(out) {
	case 0:
		return Always{}
	case 1:
		return out[0]
	}
	return out
}
