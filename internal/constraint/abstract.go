package constraint

import (
	"fmt"
	"strings"

	"github.com/morse-hpc/hpkg/internal/semver"
	"github.com/morse-hpc/hpkg/internal/variant"
)

// Abstract is a partially specified spec: what a user request or a
// dependency edge asks of a package. Unset fields leave the choice to the
// concretizer.
type Abstract struct {
	Name             string
	Versions         semver.Range
	Compiler         string
	CompilerVersions semver.Range
	Variants         []variant.Assignment
	Deps             []Abstract
}

// ParseAbstract parses a conjunction such as "maphys@0.9.3+mumps ^scotch+mpi".
func ParseAbstract(s string) (Abstract, error) {
	p, err := Parse(s)
	if err != nil {
		return Abstract{}, err
	}
	a, err := FromPredicate(p)
	if err != nil {
		return Abstract{}, fmt.Errorf("spec %q: %w", s, err)
	}
	return a, nil
}

// FromPredicate converts a conjunction of atoms to an Abstract.
func FromPredicate(p Predicate) (Abstract, error) {
	return fromPredicate(p, true)
}

func fromPredicate(p Predicate, allowDeps bool) (Abstract, error) {
	atoms, ok := Flatten(p)
	if !ok {
		return Abstract{}, fmt.Errorf("alternatives and negations cannot be requested")
	}

	var a Abstract
	for _, atom := range atoms {
		switch q := atom.(type) {
		case Name:
			a.Name = q.Name
		case VersionIn:
			if !a.Versions.IsZero() {
				return Abstract{}, fmt.Errorf("more than one version range")
			}
			a.Versions = q.Range
		case CompilerIs:
			if a.Compiler != "" && a.Compiler != q.Name {
				return Abstract{}, fmt.Errorf("conflicting compilers %%%s and %%%s", a.Compiler, q.Name)
			}
			a.Compiler = q.Name
			a.CompilerVersions = q.Range
		case VariantIs:
			for _, prev := range a.Variants {
				if prev.Name == q.Name && prev.Value != q.Value {
					return Abstract{}, fmt.Errorf("variant %q set twice", q.Name)
				}
			}
			a.Variants = append(a.Variants, variant.Assignment{Name: q.Name, Value: q.Value})
		case DependsOn:
			if !allowDeps {
				return Abstract{}, fmt.Errorf("nested dependency ^%s", q.Name)
			}
			dep, err := fromPredicate(q.Where, false)
			if err != nil {
				return Abstract{}, fmt.Errorf("^%s: %w", q.Name, err)
			}
			dep.Name = q.Name
			a.Deps = append(a.Deps, dep)
		default:
			return Abstract{}, fmt.Errorf("%q cannot be requested", atom.String())
		}
	}
	return a, nil
}

// HasAttributes reports whether a constrains anything besides its name.
func (a Abstract) HasAttributes() bool {
	return !a.Versions.IsZero() || a.Compiler != "" || len(a.Variants) > 0
}

// Predicate converts a back to a predicate over the named package.
func (a Abstract) Predicate() Predicate {
	var atoms And
	if a.Name != "" {
		atoms = append(atoms, Name{Name: a.Name})
	}
	atoms = append(atoms, a.attributes()...)
	for _, d := range a.Deps {
		var where Predicate
		if attrs := d.attributes(); len(attrs) > 0 {
			where = Conjoin(attrs...)
		}
		atoms = append(atoms, DependsOn{Name: d.Name, Where: where})
	}
	return Conjoin(atoms...)
}

// Attributes returns the predicate over version, compiler and variants only.
func (a Abstract) Attributes() Predicate {
	return Conjoin(a.attributes()...)
}

func (a Abstract) attributes() []Predicate {
	var atoms []Predicate
	if !a.Versions.IsZero() {
		atoms = append(atoms, VersionIn{Range: a.Versions})
	}
	if a.Compiler != "" {
		atoms = append(atoms, CompilerIs{Name: a.Compiler, Range: a.CompilerVersions})
	}
	for _, v := range a.Variants {
		atoms = append(atoms, VariantIs{Name: v.Name, Value: v.Value})
	}
	return atoms
}

// String renders a in the textual form ParseAbstract accepts.
func (a Abstract) String() string {
	var b strings.Builder
	b.WriteString(a.Name)
	b.WriteString(compactAtoms(a.attributes()))
	for _, d := range a.Deps {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString("^")
		b.WriteString(d.Name)
		b.WriteString(compactAtoms(d.attributes()))
	}
	return strings.TrimSpace(b.String())
}

func compactAtoms(atoms []Predicate) string {
	var b strings.Builder
	for _, q := range atoms {
		b.WriteString(attached(q.String()))
	}
	return b.String()
}
