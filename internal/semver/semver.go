// Package semver orders package versions and evaluates version ranges.
//
// Numeric versions are compared with github.com/Masterminds/semver/v3 on their
// first three components; further components ("0.9.4.1") break ties
// numerically. Named versions such as "master", "trunk" or "exist" rank below
// every numeric version and tie with each other, so they are only picked
// when pinned or preferred.
package semver

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	mm "github.com/Masterminds/semver/v3"
)

var (
	numericRe = regexp.MustCompile(`^v?(\d+(?:\.\d+)*)(?:-([0-9A-Za-z][0-9A-Za-z.\-]*))?$`)
	namedRe   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]*$`)
)

// Version is a package version identifier.
type Version struct {
	raw   string
	v     *mm.Version
	parts []uint64
}

// ParseVersion parses a numeric or named version.
func ParseVersion(raw string) (Version, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Version{}, fmt.Errorf("semver: empty version")
	}

	if m := numericRe.FindStringSubmatch(raw); m != nil {
		parts, err := splitParts(m[1])
		if err != nil {
			return Version{}, fmt.Errorf("semver: parse version %q: %w", raw, err)
		}
		core := make([]string, 3)
		for i := range core {
			core[i] = "0"
			if i < len(parts) {
				core[i] = strconv.FormatUint(parts[i], 10)
			}
		}
		text := strings.Join(core, ".")
		if m[2] != "" {
			text += "-" + m[2]
		}
		if v, err := mm.StrictNewVersion(text); err == nil {
			return Version{raw: raw, v: v, parts: parts}, nil
		}
	}

	if !namedRe.MatchString(raw) {
		return Version{}, fmt.Errorf("semver: parse version %q: invalid characters", raw)
	}
	return Version{raw: raw}, nil
}

// MustParseVersion is like ParseVersion but panics on error.
func MustParseVersion(raw string) Version {
	v, err := ParseVersion(raw)
	if err != nil {
		panic(err)
	}
	return v
}

func splitParts(s string) ([]uint64, error) {
	fields := strings.Split(s, ".")
	parts := make([]uint64, len(fields))
	for i, f := range fields {
		n, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return nil, err
		}
		parts[i] = n
	}
	return parts, nil
}

// String returns the version as declared.
func (v Version) String() string {
	return v.raw
}

// IsZero reports whether v was never parsed.
func (v Version) IsZero() bool {
	return v.raw == ""
}

// IsNamed reports whether v is a non-numeric version such as "master".
func (v Version) IsNamed() bool {
	return v.raw != "" && v.v == nil
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.raw), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(b []byte) error {
	parsed, err := ParseVersion(string(b))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Compare returns -1, 0 or 1. Named versions rank below numeric ones and
// compare equal to each other; use Equal for identity.
func Compare(a, b Version) int {
	switch {
	case a.v == nil && b.v == nil:
		return 0
	case a.v == nil:
		return -1
	case b.v == nil:
		return 1
	}
	if c := a.v.Compare(b.v); c != 0 {
		return c
	}
	n := max(len(a.parts), len(b.parts))
	for i := 3; i < n; i++ {
		x, y := part(a.parts, i), part(b.parts, i)
		if x != y {
			if x < y {
				return -1
			}
			return 1
		}
	}
	return 0
}

func part(parts []uint64, i int) uint64 {
	if i < len(parts) {
		return parts[i]
	}
	return 0
}

// Equal reports whether a and b identify the same version.
func Equal(a, b Version) bool {
	if a.v == nil || b.v == nil {
		return a.raw == b.raw
	}
	return Compare(a, b) == 0
}

// hasPrefix reports whether v's numeric components start with p's.
func hasPrefix(v, p Version) bool {
	if v.v == nil || p.v == nil {
		return v.raw == p.raw
	}
	if len(p.parts) > len(v.parts) || p.v.Prerelease() != "" && p.v.Prerelease() != v.v.Prerelease() {
		return false
	}
	for i, n := range p.parts {
		if v.parts[i] != n {
			return false
		}
	}
	return true
}

// Range is a set of versions.
//
// Forms:
//
//	1.2        1.2 or any version starting with 1.2 (1.2.7)
//	1.2:1.4    inclusive interval, upper bound matched by prefix
//	1.2:       at least 1.2
//	:1.4       at most 1.4
//	a,b        union of alternatives
//	>=1.2 <2   Masterminds constraint expression
type Range struct {
	raw  string
	alts []interval
	expr *mm.Constraints
}

type interval struct {
	exact     *Version
	lo, hi    *Version
	unbounded bool
}

// ParseRange parses a range expression (without the leading '@').
func ParseRange(raw string) (Range, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Range{}, fmt.Errorf("semver: empty range")
	}

	if strings.ContainsAny(raw, "<>=^~! ") {
		c, err := mm.NewConstraint(raw)
		if err != nil {
			return Range{}, fmt.Errorf("semver: parse range %q: %w", raw, err)
		}
		return Range{raw: raw, expr: c}, nil
	}

	r := Range{raw: raw}
	for _, alt := range strings.Split(raw, ",") {
		iv, err := parseInterval(strings.TrimSpace(alt))
		if err != nil {
			return Range{}, fmt.Errorf("semver: parse range %q: %w", raw, err)
		}
		r.alts = append(r.alts, iv)
	}
	return r, nil
}

// MustParseRange is like ParseRange but panics on error.
func MustParseRange(raw string) Range {
	r, err := ParseRange(raw)
	if err != nil {
		panic(err)
	}
	return r
}

func parseInterval(s string) (interval, error) {
	if s == "" {
		return interval{}, fmt.Errorf("empty alternative")
	}
	lo, hi, isInterval := strings.Cut(s, ":")
	if !isInterval {
		v, err := ParseVersion(s)
		if err != nil {
			return interval{}, err
		}
		return interval{exact: &v}, nil
	}

	var iv interval
	for _, b := range []struct {
		text string
		dst  **Version
	}{{lo, &iv.lo}, {hi, &iv.hi}} {
		if b.text == "" {
			continue
		}
		v, err := ParseVersion(b.text)
		if err != nil {
			return interval{}, err
		}
		if v.IsNamed() {
			return interval{}, fmt.Errorf("interval bound %q is not numeric", b.text)
		}
		*b.dst = &v
	}
	iv.unbounded = iv.lo == nil && iv.hi == nil
	return iv, nil
}

// String returns the range as written.
func (r Range) String() string {
	return r.raw
}

// IsZero reports whether r is the empty (unset) range.
func (r Range) IsZero() bool {
	return r.raw == ""
}

// Contains reports whether v is in r. The zero Range contains everything.
func (r Range) Contains(v Version) bool {
	if r.IsZero() {
		return true
	}
	if r.expr != nil {
		return v.v != nil && r.expr.Check(v.v)
	}
	for _, iv := range r.alts {
		if iv.contains(v) {
			return true
		}
	}
	return false
}

// Pinned returns the single version r names exactly, if any.
func (r Range) Pinned() (Version, bool) {
	if len(r.alts) == 1 && r.alts[0].exact != nil {
		return *r.alts[0].exact, true
	}
	return Version{}, false
}

func (iv interval) contains(v Version) bool {
	if iv.exact != nil {
		return hasPrefix(v, *iv.exact)
	}
	if iv.unbounded {
		return true
	}
	if v.v == nil {
		return false
	}
	if iv.lo != nil && Compare(v, *iv.lo) < 0 {
		return false
	}
	if iv.hi != nil && Compare(v, *iv.hi) > 0 && !hasPrefix(v, *iv.hi) {
		return false
	}
	return true
}

// Highest returns the index of the highest version in candidates; ties keep
// the earliest index. It returns -1 for an empty slice.
func Highest(candidates []Version) int {
	best := -1
	for i, c := range candidates {
		if best < 0 || Compare(c, candidates[best]) > 0 {
			best = i
		}
	}
	return best
}
