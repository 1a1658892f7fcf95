// Package recipe defines the contract between package recipes and the engine.
//
// A recipe declares a Definition (versions, variants, dependency edges,
// provided virtuals, validation rules, exported capabilities) and maps a
// resolved configuration to one Strategy, whose hooks the build orchestrator
// drives. The engine never looks at recipe internals beyond this contract.
package recipe

import (
	"fmt"
	"slices"
	"strings"

	"github.com/morse-hpc/hpkg/internal/constraint"
	"github.com/morse-hpc/hpkg/internal/semver"
	"github.com/morse-hpc/hpkg/internal/variant"
)

// FetchKind identifies how a version's sources are obtained.
type FetchKind string

const (
	FetchNone     FetchKind = ""
	FetchArchive  FetchKind = "archive"
	FetchGit      FetchKind = "git"
	FetchSVN      FetchKind = "svn"
	FetchExternal FetchKind = "external"
)

// Fetch describes where a version comes from. Fetching itself happens
// outside the engine; the descriptor is informational except for
// FetchExternal, which names the environment variable of an existing
// installation.
type Fetch struct {
	Kind     FetchKind
	URL      string
	Checksum string
	Branch   string
	Tag      string
	Commit   string
	Revision string
	Env      string
}

// Archive describes a release tarball.
func Archive(url, checksum string) Fetch {
	return Fetch{Kind: FetchArchive, URL: url, Checksum: checksum}
}

// Git describes a git checkout of branch.
func Git(url, branch string) Fetch {
	return Fetch{Kind: FetchGit, URL: url, Branch: branch}
}

// SVN describes a subversion checkout.
func SVN(url string) Fetch {
	return Fetch{Kind: FetchSVN, URL: url}
}

// External describes an installation found through an environment variable.
func External(env string) Fetch {
	return Fetch{Kind: FetchExternal, Env: env}
}

// String renders the descriptor for listings.
func (f Fetch) String() string {
	switch f.Kind {
	case FetchArchive:
		if f.Checksum != "" {
			return f.URL + " (" + f.Checksum + ")"
		}
		return f.URL
	case FetchGit:
		ref := f.Branch
		switch {
		case f.Tag != "":
			ref = "tag " + f.Tag
		case f.Commit != "":
			ref = "commit " + f.Commit
		case ref != "":
			ref = "branch " + ref
		}
		if ref == "" {
			return "git " + f.URL
		}
		return "git " + f.URL + " " + ref
	case FetchSVN:
		if f.Revision != "" {
			return "svn " + f.URL + " r" + f.Revision
		}
		return "svn " + f.URL
	case FetchExternal:
		return "existing installation from $" + f.Env
	}
	return "staged sources"
}

// VersionDecl is one declared version of a package.
type VersionDecl struct {
	Version   semver.Version
	Fetch     Fetch
	Preferred bool
}

// NewVersion declares a version. It panics on an invalid identifier and is
// meant for built-in recipes.
func NewVersion(raw string, f Fetch) VersionDecl {
	return VersionDecl{Version: semver.MustParseVersion(raw), Fetch: f}
}

// Prefer returns a copy of v flagged as preferred.
func (v VersionDecl) Prefer() VersionDecl {
	v.Preferred = true
	return v
}

// DepType distinguishes build-only from link dependencies.
type DepType string

const (
	DepDefault DepType = ""
	DepBuild   DepType = "build"
	DepLink    DepType = "link"
)

// Edge declares a dependency of the owning package on Target, a package or
// a virtual name.
type Edge struct {
	// Target is a package or virtual name.
	Target string

	// When guards the edge; nil means the edge is mandatory. Guards read
	// the consumer's own attributes and its dependents only.
	When constraint.Predicate

	// Require constrains the chosen target.
	Require constraint.Abstract

	Type DepType
}

// ParseEdge builds an edge from a target spec such as "scotch+mpi~esmumps"
// and an optional guard such as "+mumps".
func ParseEdge(target, when string) (Edge, error) {
	a, err := constraint.ParseAbstract(target)
	if err != nil {
		return Edge{}, err
	}
	if a.Name == "" {
		return Edge{}, fmt.Errorf("dependency %q: missing package name", target)
	}
	if len(a.Deps) > 0 {
		return Edge{}, fmt.Errorf("dependency %q: nested ^ constraints are not supported", target)
	}
	e := Edge{Target: a.Name, Require: a}
	e.Require.Name = ""
	if strings.TrimSpace(when) != "" {
		p, err := constraint.Parse(when)
		if err != nil {
			return Edge{}, fmt.Errorf("dependency %q: %w", target, err)
		}
		e.When = p
	}
	return e, nil
}

// DependsOn is ParseEdge for built-in recipes; it panics on error.
func DependsOn(target, when string) Edge {
	e, err := ParseEdge(target, when)
	if err != nil {
		panic(err)
	}
	return e
}

// Guarded reports whether the edge has a guard.
func (e Edge) Guarded() bool {
	return e.When != nil
}

// String renders the edge the way it is declared.
func (e Edge) String() string {
	req := e.Require
	req.Name = e.Target
	s := req.String()
	if e.When != nil {
		s += " when " + e.When.String()
	}
	return s
}

// Provide declares that the package satisfies a virtual capability.
type Provide struct {
	Virtual string
	When    constraint.Predicate
}

// Rule rejects configurations for which When holds.
type Rule struct {
	When    constraint.Predicate
	Message string
}

// Requirement demands that Require holds whenever When holds. It is checked
// once dependencies are resolved, so Require may read ^ state.
type Requirement struct {
	When    constraint.Predicate
	Require constraint.Predicate
	Message string
}

// Export is a named capability such as the path of an MPI compiler wrapper
// or the link line of a library. Value may reference the install prefix
// as {prefix}.
type Export struct {
	Name  string
	Value string
	When  constraint.Predicate
}

// PrefixToken is replaced by the install prefix in export values.
const PrefixToken = "{prefix}"

// Definition is the declarative part of a recipe.
type Definition struct {
	Name        string
	Homepage    string
	Description string
	Versions    []VersionDecl
	Variants    []variant.Definition
	Edges       []Edge
	Provides    []Provide
	Invalid     []Rule
	Requires    []Requirement
	Exports     []Export

	// Serialize forbids running the package's hooks concurrently with any
	// other hook and forces single-job builds.
	Serialize bool
}

// Variant looks up a declared variant.
func (d *Definition) Variant(name string) (variant.Definition, bool) {
	for _, v := range d.Variants {
		if v.Name == name {
			return v, true
		}
	}
	return variant.Definition{}, false
}

// VariantNames returns the declared variant names in declaration order.
func (d *Definition) VariantNames() []string {
	names := make([]string, len(d.Variants))
	for i, v := range d.Variants {
		names[i] = v.Name
	}
	return names
}

// Defaults returns the default assignment of every declared variant.
func (d *Definition) Defaults() variant.Set {
	as := make([]variant.Assignment, len(d.Variants))
	for i, v := range d.Variants {
		as[i] = variant.Assignment{Name: v.Name, Value: v.Default}
	}
	return variant.NewSet(as...)
}

// Version looks up a declared version, preferring an exact textual match
// over an equal one ("0.9.4" and "0.9.4.0" compare equal).
func (d *Definition) Version(v semver.Version) (VersionDecl, bool) {
	for _, decl := range d.Versions {
		if decl.Version.String() == v.String() {
			return decl, true
		}
	}
	for _, decl := range d.Versions {
		if semver.Equal(decl.Version, v) {
			return decl, true
		}
	}
	return VersionDecl{}, false
}

// VirtualNames returns the virtual names the package may provide.
func (d *Definition) VirtualNames() []string {
	names := make([]string, 0, len(d.Provides))
	for _, p := range d.Provides {
		if !slices.Contains(names, p.Virtual) {
			names = append(names, p.Virtual)
		}
	}
	return names
}

// ProvidesFor returns the virtuals the package provides for subject s.
func (d *Definition) ProvidesFor(s constraint.Subject) []string {
	var out []string
	for _, p := range d.Provides {
		if (p.When == nil || p.When.Eval(s)) && !slices.Contains(out, p.Virtual) {
			out = append(out, p.Virtual)
		}
	}
	return out
}

// CanProvide reports whether the package may provide virtual for s.
func (d *Definition) CanProvide(virtual string, s constraint.Subject) bool {
	for _, p := range d.Provides {
		if p.Virtual == virtual && (p.When == nil || p.When.Eval(s)) {
			return true
		}
	}
	return false
}

// Capabilities renders the exports that apply to s against prefix.
func (d *Definition) Capabilities(s constraint.Subject, prefix string) map[string]string {
	if len(d.Exports) == 0 {
		return nil
	}
	out := make(map[string]string, len(d.Exports))
	for _, e := range d.Exports {
		if e.When != nil && !e.When.Eval(s) {
			continue
		}
		out[e.Name] = strings.ReplaceAll(e.Value, PrefixToken, strings.TrimSuffix(prefix, "/"))
	}
	return out
}

// Check validates the definition on its own, without looking at other
// packages.
func (d *Definition) Check() error {
	if !isPackageName(d.Name) {
		return fmt.Errorf("invalid package name %q", d.Name)
	}
	if len(d.Versions) == 0 {
		return fmt.Errorf("package %q declares no versions", d.Name)
	}
	for i, v := range d.Versions {
		if v.Version.IsZero() {
			return fmt.Errorf("package %q: version %d has no identifier", d.Name, i)
		}
		for _, prev := range d.Versions[:i] {
			if prev.Version.String() == v.Version.String() {
				return fmt.Errorf("package %q: version %s declared twice", d.Name, v.Version)
			}
		}
		if v.Fetch.Kind == FetchExternal && v.Fetch.Env == "" {
			return fmt.Errorf("package %q: external version %s names no environment variable", d.Name, v.Version)
		}
	}

	seen := map[string]bool{}
	for _, v := range d.Variants {
		if err := v.Check(); err != nil {
			return fmt.Errorf("package %q: %w", d.Name, err)
		}
		if seen[v.Name] {
			return fmt.Errorf("package %q: variant %q declared twice", d.Name, v.Name)
		}
		seen[v.Name] = true
	}

	for _, e := range d.Edges {
		if e.Target == d.Name {
			return fmt.Errorf("package %q depends on itself", d.Name)
		}
		if e.When != nil {
			if e.When.Refs().Has(constraint.RefDependency) {
				return fmt.Errorf("package %q: guard %q of dependency %s reads dependency state",
					d.Name, e.When.String(), e.Target)
			}
			if err := d.checkVariantRefs(e.When); err != nil {
				return fmt.Errorf("package %q: dependency %s: %w", d.Name, e.Target, err)
			}
		}
	}
	for _, p := range d.Provides {
		if p.Virtual == d.Name {
			return fmt.Errorf("package %q provides itself", d.Name)
		}
		if p.When != nil {
			if p.When.Refs().Has(constraint.RefDependency) {
				return fmt.Errorf("package %q: provides %s guard reads dependency state", d.Name, p.Virtual)
			}
			if err := d.checkVariantRefs(p.When); err != nil {
				return fmt.Errorf("package %q: provides %s: %w", d.Name, p.Virtual, err)
			}
		}
	}
	for _, r := range d.Invalid {
		if r.When == nil {
			return fmt.Errorf("package %q: invalid rule without a condition", d.Name)
		}
		if r.When.Refs().Has(constraint.RefDependency) {
			return fmt.Errorf("package %q: invalid rule %q reads dependency state; use a requires rule", d.Name, r.When.String())
		}
		if err := d.checkVariantRefs(r.When); err != nil {
			return fmt.Errorf("package %q: invalid rule: %w", d.Name, err)
		}
	}
	for _, r := range d.Requires {
		if r.Require == nil {
			return fmt.Errorf("package %q: requires rule without a requirement", d.Name)
		}
		if r.When != nil {
			if err := d.checkVariantRefs(r.When); err != nil {
				return fmt.Errorf("package %q: requires rule: %w", d.Name, err)
			}
		}
	}
	for _, e := range d.Exports {
		if e.Name == "" || e.Value == "" {
			return fmt.Errorf("package %q: export needs a name and a value", d.Name)
		}
	}
	return nil
}

// checkVariantRefs ensures every variant p reads on the package itself is
// declared, with a value in its domain.
func (d *Definition) checkVariantRefs(p constraint.Predicate) error {
	for _, ref := range ownVariants(p) {
		def, ok := d.Variant(ref.Name)
		if !ok {
			return fmt.Errorf("condition %q reads undeclared variant %q", p.String(), ref.Name)
		}
		if err := def.Validate(ref.Value); err != nil {
			return fmt.Errorf("condition %q: %w", p.String(), err)
		}
	}
	return nil
}

// ownVariants collects the variant atoms of p that apply to the subject
// itself, skipping those attached to ^dependencies.
func ownVariants(p constraint.Predicate) []constraint.VariantIs {
	switch q := p.(type) {
	case constraint.VariantIs:
		return []constraint.VariantIs{q}
	case constraint.And:
		var out []constraint.VariantIs
		for _, m := range q {
			out = append(out, ownVariants(m)...)
		}
		return out
	case constraint.Or:
		var out []constraint.VariantIs
		for _, m := range q {
			out = append(out, ownVariants(m)...)
		}
		return out
	case constraint.Not:
		return ownVariants(q.P)
	}
	return nil
}

func isPackageName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case i > 0 && (r == '-' || r == '_'):
		default:
			return false
		}
	}
	return true
}
