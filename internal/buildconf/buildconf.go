// Package buildconf holds the immutable key/value build configuration a
// recipe computes for one spec, and renders it to the input formats of
// external build tools.
//
// Recipes never edit a configuration file in place. They build a Config
// value step by step (each step returns a new Config) and render it once,
// at the end, with one of the Render functions.
package buildconf

import (
	"fmt"
	"slices"
	"strings"
)

// Entry is one key/value pair.
type Entry struct {
	Key   string
	Value string
}

// Config is an ordered, immutable set of entries. Keys keep the position of
// their first assignment.
type Config struct {
	entries []Entry
}

// New builds a Config from key/value pairs given as alternating strings.
// It panics on an odd number of arguments.
func New(kv ...string) Config {
	if len(kv)%2 != 0 {
		panic(fmt.Sprintf("buildconf.New: odd number of arguments (%d)", len(kv)))
	}
	var c Config
	for i := 0; i < len(kv); i += 2 {
		c = c.Set(kv[i], kv[i+1])
	}
	return c
}

// Set returns a copy of c with key set to value.
func (c Config) Set(key, value string) Config {
	out := Config{entries: slices.Clone(c.entries)}
	if i := c.index(key); i >= 0 {
		out.entries[i].Value = value
		return out
	}
	out.entries = append(out.entries, Entry{Key: key, Value: value})
	return out
}

// Append returns a copy of c with value appended to key's value, separated
// by a space. A missing key is created.
func (c Config) Append(key string, values ...string) Config {
	var parts []string
	if cur, ok := c.Get(key); ok && cur != "" {
		parts = append(parts, cur)
	}
	for _, v := range values {
		if v != "" {
			parts = append(parts, v)
		}
	}
	return c.Set(key, strings.Join(parts, " "))
}

// SetIf sets key to then when cond holds and to otherwise when it does not.
func (c Config) SetIf(cond bool, key, then, otherwise string) Config {
	if cond {
		return c.Set(key, then)
	}
	return c.Set(key, otherwise)
}

// Unset returns a copy of c without key.
func (c Config) Unset(key string) Config {
	i := c.index(key)
	if i < 0 {
		return c
	}
	out := Config{entries: slices.Clone(c.entries)}
	out.entries = slices.Delete(out.entries, i, i+1)
	return out
}

// Merge returns c with every entry of o applied on top.
func (c Config) Merge(o Config) Config {
	out := c
	for _, e := range o.entries {
		out = out.Set(e.Key, e.Value)
	}
	return out
}

// Get returns the value of key.
func (c Config) Get(key string) (string, bool) {
	if i := c.index(key); i >= 0 {
		return c.entries[i].Value, true
	}
	return "", false
}

// Entries returns the entries in order.
func (c Config) Entries() []Entry {
	return slices.Clone(c.entries)
}

// Len returns the number of entries.
func (c Config) Len() int {
	return len(c.entries)
}

func (c Config) index(key string) int {
	return slices.IndexFunc(c.entries, func(e Entry) bool { return e.Key == key })
}

// OnOff renders a boolean as a CMake switch.
func OnOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}
