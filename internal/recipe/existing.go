package recipe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/viant/afs"

	"github.com/morse-hpc/hpkg/internal/constraint"
)

// ExistingStrategy is the name of the strategy used for external versions.
const ExistingStrategy = "existing"

// DefaultExistingDirs are the directories an existing installation exposes.
var DefaultExistingDirs = []string{"bin", "include", "lib"}

// Existing installs nothing: it exposes an installation found through an
// environment variable by linking its directories into the prefix. A
// directory that cannot be linked is copied.
type Existing struct {
	// Env names the variable holding the installation root.
	Env string

	// Dirs are linked when present. Defaults to DefaultExistingDirs.
	Dirs []string
}

// symlink is replaced in tests to exercise the copy fallback.
var symlink = os.Symlink

// ExistingFor returns the Existing strategy when the version chosen for s is
// declared external.
func ExistingFor(def *Definition, s constraint.Subject, extraDirs ...string) (Strategy, bool) {
	decl, ok := def.Version(s.PackageVersion())
	if !ok || decl.Fetch.Kind != FetchExternal {
		return nil, false
	}
	dirs := append(append([]string{}, DefaultExistingDirs...), extraDirs...)
	return Existing{Env: decl.Fetch.Env, Dirs: dirs}, true
}

func (e Existing) Name() string { return ExistingStrategy }

func (e Existing) Install(ctx context.Context, h *HookContext) error {
	root, ok := h.LookupEnv(e.Env)
	if !ok || root == "" {
		return fmt.Errorf("%s is not set, you must set this environment variable to the installation path of %s",
			e.Env, h.Spec.Name())
	}
	fi, err := os.Stat(root)
	if err != nil || !fi.IsDir() {
		return fmt.Errorf("%s=%s is not a directory", e.Env, root)
	}

	dirs := e.Dirs
	if len(dirs) == 0 {
		dirs = DefaultExistingDirs
	}

	fs := afs.New()
	linked := 0
	for _, d := range dirs {
		src := filepath.Join(root, d)
		dst := filepath.Join(h.Prefix, d)
		if _, err := os.Stat(src); err != nil {
			if h.Logger != nil {
				h.Logger.Debug("skipping missing directory", "dir", src)
			}
			continue
		}
		if err := symlink(src, dst); err != nil {
			if h.Logger != nil {
				h.Logger.Debug("link failed, copying", "dir", src, "err", err)
			}
			if err := fs.Copy(ctx, src, dst); err != nil {
				return fmt.Errorf("copying %s: %w", src, err)
			}
		}
		linked++
	}
	if linked == 0 {
		return fmt.Errorf("%s=%s contains none of %v", e.Env, root, dirs)
	}
	return nil
}
