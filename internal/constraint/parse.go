package constraint

import (
	"fmt"
	"strings"

	"github.com/morse-hpc/hpkg/internal/semver"
	"github.com/morse-hpc/hpkg/internal/variant"
)

// Parse reads the textual predicate form:
//
//	expr := conj ('|' conj)*
//	conj := item+
//	item := '!'? atom
//	atom := name | '@' range | '%' compiler ['@' range] | '+' v | '~' v | '-' v
//	      | v '=' value | '^' name | 'dependent:' name
//
// A bare name is only allowed as the first atom and constrains the package
// name. Atoms following '^name' attach to that dependency until the next
// '^', 'dependent:' or '|'. The empty string parses to Always.
func Parse(s string) (Predicate, error) {
	p := &parser{src: s}
	pred, err := p.parse()
	if err != nil {
		return nil, fmt.Errorf("constraint %q: %w", s, err)
	}
	return pred, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Predicate {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

type parser struct {
	src string
	pos int
}

type depFrame struct {
	name   string
	negate bool
	attrs  And
}

func (d *depFrame) predicate() Predicate {
	var where Predicate
	if len(d.attrs) > 0 {
		where = Conjoin(d.attrs)
	}
	var p Predicate = DependsOn{Name: d.name, Where: where}
	if d.negate {
		p = Not{P: p}
	}
	return p
}

func (p *parser) parse() (Predicate, error) {
	var alts Or
	for {
		conj, err := p.conjunction()
		if err != nil {
			return nil, err
		}
		alts = append(alts, conj)
		p.skipSpace()
		if p.eof() {
			break
		}
		if p.peek() != '|' {
			return nil, p.errorf("unexpected %q", p.peek())
		}
		p.pos++
	}

	if len(alts) == 1 {
		return alts[0], nil
	}
	for _, a := range alts {
		if _, ok := a.(Always); ok {
			return nil, fmt.Errorf("empty alternative")
		}
	}
	return alts, nil
}

func (p *parser) conjunction() (Predicate, error) {
	var (
		atoms And
		dep   *depFrame
		first = true
	)
	closeDep := func() {
		if dep != nil {
			atoms = append(atoms, dep.predicate())
			dep = nil
		}
	}

	for {
		p.skipSpace()
		if p.eof() || p.peek() == '|' {
			break
		}

		negate := false
		if p.peek() == '!' {
			negate = true
			p.pos++
			if p.eof() {
				return nil, p.errorf("expected atom after '!'")
			}
		}

		switch c := p.peek(); {
		case c == '^':
			p.pos++
			name := p.ident()
			if name == "" {
				return nil, p.errorf("expected package name after '^'")
			}
			closeDep()
			dep = &depFrame{name: name, negate: negate}
			first = false
			continue

		case isNameStart(c) && !p.startsVariantPair():
			name := p.ident()
			if name == "dependent" && !p.eof() && p.peek() == ':' {
				p.pos++
				target := p.ident()
				if target == "" {
					return nil, p.errorf("expected package name after 'dependent:'")
				}
				closeDep()
				atoms = append(atoms, maybeNot(DependedOnBy{Name: target}, negate))
				first = false
				continue
			}
			if !first || dep != nil || negate {
				return nil, p.errorf("unexpected package name %q", name)
			}
			atoms = append(atoms, Name{Name: name})
			first = false
			continue
		}

		atom, err := p.attribute()
		if err != nil {
			return nil, err
		}
		atom = maybeNot(atom, negate)
		if dep != nil {
			dep.attrs = append(dep.attrs, atom)
		} else {
			atoms = append(atoms, atom)
		}
		first = false
	}
	closeDep()
	return Conjoin(atoms...), nil
}

// attribute parses one version, compiler or variant atom.
func (p *parser) attribute() (Predicate, error) {
	if p.eof() {
		return nil, p.errorf("unexpected end of input")
	}
	switch c := p.peek(); c {
	case '@':
		p.pos++
		r, err := p.versionRange()
		if err != nil {
			return nil, err
		}
		return VersionIn{Range: r}, nil

	case '%':
		p.pos++
		name := p.ident()
		if name == "" {
			return nil, p.errorf("expected compiler name after '%%'")
		}
		cp := CompilerIs{Name: name}
		if !p.eof() && p.peek() == '@' {
			p.pos++
			r, err := p.versionRange()
			if err != nil {
				return nil, err
			}
			cp.Range = r
		}
		return cp, nil

	case '+', '~', '-':
		p.pos++
		name := p.ident()
		if !variant.IsName(name) {
			return nil, p.errorf("expected variant name after %q", c)
		}
		value := variant.True
		if c != '+' {
			value = variant.False
		}
		return VariantIs{Name: name, Value: value}, nil

	default:
		if isNameStart(c) {
			name := p.ident()
			if p.eof() || p.peek() != '=' {
				return nil, p.errorf("expected '=' after %q", name)
			}
			p.pos++
			value := p.ident()
			if value == "" {
				return nil, p.errorf("empty value for variant %q", name)
			}
			return VariantIs{Name: name, Value: value}, nil
		}
		return nil, p.errorf("unexpected %q", c)
	}
}

func (p *parser) versionRange() (semver.Range, error) {
	start := p.pos
	for !p.eof() && !isSpace(p.peek()) && !strings.ContainsRune("+~^%|", rune(p.peek())) {
		p.pos++
	}
	text := p.src[start:p.pos]
	if text == "" {
		return semver.Range{}, p.errorf("expected version after '@'")
	}
	r, err := semver.ParseRange(text)
	if err != nil {
		return semver.Range{}, err
	}
	return r, nil
}

// startsVariantPair reports whether the identifier at pos is followed by '='.
func (p *parser) startsVariantPair() bool {
	i := p.pos
	for i < len(p.src) && isIdentChar(p.src[i]) {
		i++
	}
	return i < len(p.src) && p.src[i] == '='
}

func (p *parser) ident() string {
	start := p.pos
	for !p.eof() && isIdentChar(p.peek()) {
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *parser) skipSpace() {
	for !p.eof() && isSpace(p.peek()) {
		p.pos++
	}
}

func (p *parser) eof() bool  { return p.pos >= len(p.src) }
func (p *parser) peek() byte { return p.src[p.pos] }

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("at offset %d: %s", p.pos, fmt.Sprintf(format, args...))
}

func maybeNot(p Predicate, negate bool) Predicate {
	if negate {
		return Not{P: p}
	}
	return p
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n'
}

func isNameStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}

func isIdentChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '_' || c == '.' || c == '-'
}
