// Package spec defines the concrete, resolved package configuration.
//
// A Spec is created once by the concretizer, dependencies first, and never
// mutated afterwards. Recipes read their own spec and their dependencies'
// specs through the query methods; none of them trigger resolution.
package spec

import (
	"crypto/sha256"
	"encoding/base32"
	"slices"
	"sort"
	"strings"

	"github.com/morse-hpc/hpkg/internal/constraint"
	"github.com/morse-hpc/hpkg/internal/semver"
	"github.com/morse-hpc/hpkg/internal/variant"
)

// HashLength is the length of a full spec hash.
const HashLength = 32

// ShortHashLength is the length of the abbreviated hash used in paths and
// listings.
const ShortHashLength = 7

var hashEncoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// Params holds everything needed to create a Spec.
type Params struct {
	Name      string
	Version   semver.Version
	Variants  variant.Set
	Compiler  Compiler
	Deps      []*Spec
	Provides  []string
	Ancestors []string
	Strategy  string
	Serialize bool

	// External names the environment variable of an existing installation
	// when the chosen version is provided from outside.
	External string

	// Prefix maps the finished spec to its install prefix.
	Prefix func(s *Spec) string

	// Capabilities renders exported values once the prefix is known.
	Capabilities func(prefix string) map[string]string
}

// Spec is a fully resolved package configuration.
type Spec struct {
	name      string
	version   semver.Version
	variants  variant.Set
	compiler  Compiler
	deps      []*Spec
	provides  []string
	ancestors []string
	strategy  string
	serialize bool
	external  string
	hash      string
	prefix    string
	caps      map[string]string
}

// New creates a Spec. Its hash covers name, version, compiler, variants,
// strategy and the hashes of its dependencies.
func New(p Params) *Spec {
	s := &Spec{
		name:      p.Name,
		version:   p.Version,
		variants:  p.Variants,
		compiler:  p.Compiler,
		deps:      slices.Clone(p.Deps),
		provides:  sortedUnique(p.Provides),
		ancestors: sortedUnique(p.Ancestors),
		strategy:  p.Strategy,
		serialize: p.Serialize,
		external:  p.External,
	}
	s.hash = s.computeHash()
	if p.Prefix != nil {
		s.prefix = p.Prefix(s)
	}
	if p.Capabilities != nil {
		s.caps = p.Capabilities(s.prefix)
	}
	return s
}

func (s *Spec) computeHash() string {
	var b strings.Builder
	b.WriteString(s.name)
	b.WriteString("@")
	b.WriteString(s.version.String())
	b.WriteString("%")
	b.WriteString(s.compiler.String())
	for _, a := range s.variants.Assignments() {
		b.WriteString(";")
		b.WriteString(a.Name)
		b.WriteString("=")
		b.WriteString(a.Value)
	}
	b.WriteString(";strategy=")
	b.WriteString(s.strategy)
	b.WriteString(";external=")
	b.WriteString(s.external)

	deps := make([]string, len(s.deps))
	for i, d := range s.deps {
		deps[i] = d.name + "/" + d.hash
	}
	sort.Strings(deps)
	for _, d := range deps {
		b.WriteString(";dep=")
		b.WriteString(d)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hashEncoding.EncodeToString(sum[:])[:HashLength]
}

func sortedUnique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := slices.Clone(in)
	sort.Strings(out)
	return slices.Compact(out)
}

func (s *Spec) Name() string               { return s.name }
func (s *Spec) Version() semver.Version    { return s.version }
func (s *Spec) Variants() variant.Set      { return s.variants }
func (s *Spec) Compiler() Compiler         { return s.compiler }
func (s *Spec) Deps() []*Spec              { return slices.Clone(s.deps) }
func (s *Spec) Provides() []string         { return slices.Clone(s.provides) }
func (s *Spec) Strategy() string           { return s.strategy }
func (s *Spec) Serialize() bool            { return s.serialize }
func (s *Spec) External() string           { return s.external }
func (s *Spec) Hash() string               { return s.hash }
func (s *Spec) ShortHash() string          { return s.hash[:ShortHashLength] }
func (s *Spec) Prefix() string             { return s.prefix }
func (s *Spec) Ancestors() []string        { return slices.Clone(s.ancestors) }
func (s *Spec) Variant(name string) string { v, _ := s.variants.Get(name); return v }

// Enabled reports whether the boolean variant name is on.
func (s *Spec) Enabled(name string) bool { return s.variants.Enabled(name) }

// Short renders name@version/hash.
func (s *Spec) Short() string {
	return s.name + "@" + s.version.String() + "/" + s.ShortHash()
}

// String renders the spec's own attributes: name@version%compiler variants.
func (s *Spec) String() string {
	out := s.name + "@" + s.version.String()
	if !s.compiler.IsZero() {
		out += "%" + s.compiler.String()
	}
	if vs := s.variants.String(); vs != "" {
		if strings.HasPrefix(vs, "+") || strings.HasPrefix(vs, "~") {
			out += vs
		} else {
			out += " " + vs
		}
	}
	return out
}

// Dependency finds a transitive dependency by package or virtual name,
// breadth first in declaration order.
func (s *Spec) Dependency(name string) (*Spec, bool) {
	seen := map[*Spec]bool{}
	queue := slices.Clone(s.deps)
	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]
		if seen[d] {
			continue
		}
		seen[d] = true
		if d.name == name || slices.Contains(d.provides, name) {
			return d, true
		}
		queue = append(queue, d.deps...)
	}
	return nil, false
}

// Provider returns the spec that satisfies the virtual capability.
func (s *Spec) Provider(virtual string) (*Spec, bool) {
	if slices.Contains(s.provides, virtual) {
		return s, true
	}
	return s.Dependency(virtual)
}

// VariantOn returns the value of a variant on the dependency dep.
func (s *Spec) VariantOn(dep, name string) (string, bool) {
	d, ok := s.Dependency(dep)
	if !ok {
		return "", false
	}
	return d.variants.Get(name)
}

// Capability returns an exported value such as a compiler wrapper path.
// Absence is reported explicitly rather than by failure.
func (s *Spec) Capability(name string) (string, bool) {
	v, ok := s.caps[name]
	return v, ok
}

// Capabilities returns a copy of all exported values.
func (s *Spec) Capabilities() map[string]string {
	out := make(map[string]string, len(s.caps))
	for k, v := range s.caps {
		out[k] = v
	}
	return out
}

// Satisfies evaluates a predicate against s.
func (s *Spec) Satisfies(p constraint.Predicate) bool {
	return p.Eval(s)
}

// Traverse visits s and its dependencies once each, dependencies first.
func (s *Spec) Traverse(fn func(*Spec)) {
	seen := map[*Spec]bool{}
	var walk func(*Spec)
	walk = func(n *Spec) {
		if seen[n] {
			return
		}
		seen[n] = true
		for _, d := range n.deps {
			walk(d)
		}
		fn(n)
	}
	walk(s)
}

// constraint.Subject implementation.

func (s *Spec) PackageName() string            { return s.name }
func (s *Spec) PackageVersion() semver.Version { return s.version }
func (s *Spec) VariantValue(name string) (string, bool) {
	return s.variants.Get(name)
}
func (s *Spec) CompilerID() (string, semver.Version) {
	return s.compiler.Name, s.compiler.Version
}
func (s *Spec) DependencyNamed(name string) (constraint.Subject, bool) {
	d, ok := s.Dependency(name)
	if !ok {
		return nil, false
	}
	return d, true
}
func (s *Spec) DependentNamed(name string) bool {
	return slices.Contains(s.ancestors, name)
}

var _ constraint.Subject = (*Spec)(nil)
