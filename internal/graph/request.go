package graph

import (
	"strings"

	"github.com/morse-hpc/hpkg/internal/constraint"
	oerrors "github.com/morse-hpc/hpkg/internal/errors"
)

// Request is what the user asked to install: a root package with optional
// version, compiler and variants, constraints on dependencies (^dep), and
// provider preferences for virtual names.
type Request struct {
	Spec constraint.Abstract

	// Providers lists preferred providers per virtual, most preferred
	// first. Providers not registered for the virtual are ignored.
	Providers map[string][]string
}

// ParseRequest parses command line arguments such as
// "maphys@0.9.3 +mumps ~pastix ^openblas+mt".
func ParseRequest(args ...string) (Request, error) {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return Request{}, oerrors.NewValidationError("no package given", "", "", "name the package to install, e.g. maphys+mumps")
	}
	a, err := constraint.ParseAbstract(text)
	if err != nil {
		return Request{}, oerrors.NewValidationError(err.Error(), text, "", "")
	}
	if a.Name == "" {
		return Request{}, oerrors.NewValidationError("the request names no package", text, "",
			"start the request with a package name")
	}
	return Request{Spec: a}, nil
}

// String renders the request in the form ParseRequest accepts.
func (r Request) String() string {
	return r.Spec.String()
}
