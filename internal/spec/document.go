package spec

// Document is the serializable form of a spec, used by spec.yaml in the
// store and by `hpkg spec -o yaml|json`.
type Document struct {
	Name         string            `json:"name" yaml:"name"`
	Version      string            `json:"version" yaml:"version"`
	Hash         string            `json:"hash" yaml:"hash"`
	Compiler     string            `json:"compiler,omitempty" yaml:"compiler,omitempty"`
	Variants     map[string]string `json:"variants,omitempty" yaml:"variants,omitempty"`
	Strategy     string            `json:"strategy" yaml:"strategy"`
	Serialize    bool              `json:"serialize,omitempty" yaml:"serialize,omitempty"`
	External     string            `json:"external,omitempty" yaml:"external,omitempty"`
	Prefix       string            `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Provides     []string          `json:"provides,omitempty" yaml:"provides,omitempty"`
	Dependencies []DependencyRef   `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Capabilities map[string]string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
}

// DependencyRef points at a direct dependency by name and hash.
type DependencyRef struct {
	Name string `json:"name" yaml:"name"`
	Hash string `json:"hash" yaml:"hash"`
}

// Document converts s to its serializable form.
func (s *Spec) Document() Document {
	d := Document{
		Name:      s.name,
		Version:   s.version.String(),
		Hash:      s.hash,
		Compiler:  s.compiler.String(),
		Strategy:  s.strategy,
		Serialize: s.serialize,
		External:  s.external,
		Prefix:    s.prefix,
		Provides:  s.Provides(),
	}
	if s.variants.Len() > 0 {
		d.Variants = s.variants.Map()
	}
	if len(s.caps) > 0 {
		d.Capabilities = s.Capabilities()
	}
	for _, dep := range s.deps {
		d.Dependencies = append(d.Dependencies, DependencyRef{Name: dep.name, Hash: dep.hash})
	}
	return d
}

// Documents returns the documents of s and all its dependencies,
// dependencies first.
func (s *Spec) Documents() []Document {
	var out []Document
	s.Traverse(func(n *Spec) { out = append(out, n.Document()) })
	return out
}
