package output

import (
	"strings"

	"github.com/morse-hpc/hpkg/internal/spec"
)

const (
	treeEdge  = "├── "
	treeLast  = "└── "
	treeVert  = "│   "
	treeSpace = "    "
)

// RenderSpecTree renders a concretized spec and its dependencies. A spec
// reached again is printed once more without its children.
func RenderSpecTree(root *spec.Spec) string {
	var sb strings.Builder
	seen := map[string]bool{}
	sb.WriteString(specLabel(root))
	sb.WriteString("\n")
	seen[root.Hash()] = true
	renderChildren(&sb, root, "", seen)
	return sb.String()
}

func renderChildren(sb *strings.Builder, s *spec.Spec, prefix string, seen map[string]bool) {
	deps := s.Deps()
	for i, d := range deps {
		last := i == len(deps)-1
		sb.WriteString(StyleDim.Render(prefix))
		if last {
			sb.WriteString(StyleDim.Render(treeLast))
		} else {
			sb.WriteString(StyleDim.Render(treeEdge))
		}
		sb.WriteString(specLabel(d))
		sb.WriteString("\n")
		if seen[d.Hash()] {
			continue
		}
		seen[d.Hash()] = true
		next := prefix + treeVert
		if last {
			next = prefix + treeSpace
		}
		renderChildren(sb, d, next, seen)
	}
}

// specLabel renders name@version%compiler variants /hash7.
func specLabel(s *spec.Spec) string {
	var sb strings.Builder
	sb.WriteString(StyleNoun.Render(s.Name()))
	sb.WriteString("@")
	sb.WriteString(s.Version().String())
	if !s.Compiler().IsZero() {
		sb.WriteString("%")
		sb.WriteString(s.Compiler().String())
	}
	if vs := s.Variants().String(); vs != "" {
		sb.WriteString(" ")
		sb.WriteString(vs)
	}
	sb.WriteString(" ")
	sb.WriteString(StyleDim.Render("/" + s.ShortHash()))
	return sb.String()
}
