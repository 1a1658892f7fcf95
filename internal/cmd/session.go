package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/morse-hpc/hpkg/internal/concretize"
	oerrors "github.com/morse-hpc/hpkg/internal/errors"
	"github.com/morse-hpc/hpkg/internal/graph"
	"github.com/morse-hpc/hpkg/internal/output"
	"github.com/morse-hpc/hpkg/internal/recipe"
	"github.com/morse-hpc/hpkg/internal/recipes"
	"github.com/morse-hpc/hpkg/internal/store"
)

// session is what a command needs to resolve and build specs: the sealed
// recipe registry and the install store.
type session struct {
	g     *GlobalConfig
	reg   *recipe.Registry
	store *store.Store
}

func newSession(g *GlobalConfig) (*session, error) {
	if err := g.requireConfig(); err != nil {
		return nil, err
	}
	reg, err := recipes.NewRegistry(g.Settings.RecipePaths...)
	if err != nil {
		return nil, fmt.Errorf("loading recipes: %w", err)
	}
	st, err := store.New(g.Settings.InstallRoot)
	if err != nil {
		return nil, err
	}
	output.Debug("session ready", "packages", len(reg.Names()), "virtuals", len(reg.Virtuals()), "root", st.Root())
	return &session{g: g, reg: reg, store: st}, nil
}

// concretize resolves a request given as command line words.
func (s *session) concretize(ctx context.Context, args []string) (*concretize.BuildGraph, error) {
	req, err := graph.ParseRequest(args...)
	if err != nil {
		return nil, err
	}
	req.Providers = s.g.Settings.Providers

	u, err := graph.Expand(ctx, s.reg, req)
	if err != nil {
		return nil, err
	}
	c := concretize.New(s.reg, concretize.Options{
		DefaultCompiler: s.g.Settings.Compiler,
		Compilers:       s.g.Settings.Compilers,
		Prefix:          s.store.Prefix,
	})
	return c.Concretize(ctx, u)
}

// openDB opens the install database. Commands that only read it treat a
// failure as a warning.
func (s *session) openDB() (*store.DB, error) {
	return store.OpenDB(s.g.Settings.DBPath)
}

// resolveFailed logs a resolution error with its details and returns it
// marked as printed.
func resolveFailed(request string, err error) error {
	code := ExitCodeFromError(err)
	if errors.Is(err, context.Canceled) {
		return &oerrors.ExitError{Err: err, Code: ExitGeneralError}
	}

	var unsat *oerrors.UnsatisfiableError
	var cycle *oerrors.CyclicDependencyError
	var detail *oerrors.DetailError
	switch {
	case errors.As(err, &unsat):
		output.Error("cannot resolve "+request, "kind", oerrors.Kind(err))
		for _, c := range unsat.Conflicts {
			output.Error("  " + c.String())
		}
	case errors.As(err, &cycle):
		output.Error("cannot resolve "+request, "kind", oerrors.Kind(err), "cycle", cycle.Error())
	case errors.As(err, &detail):
		return &oerrors.ExitError{Err: err, Code: code}
	default:
		output.Error("cannot resolve "+request, "kind", oerrors.Kind(err), "err", err)
	}
	return &oerrors.ExitError{Err: err, Code: code, Printed: true}
}
