// Package store manages the install tree: one directory per spec hash,
// guarded by a file lock, with a stamp marking a completed install.
//
// Layout under the install root:
//
//	<name>-<version>-<hash7>/prefix/     install prefix handed to the hooks
//	<name>-<version>-<hash7>/logs/       build logs
//	<name>-<version>-<hash7>/spec.yaml   the resolved spec
//	<name>-<version>-<hash7>/stamp       present once the install succeeded
//	.<name>-<version>-<hash7>.lock       lock file
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/danjacques/gofslock/fslock"
	"sigs.k8s.io/yaml"

	oerrors "github.com/morse-hpc/hpkg/internal/errors"
	"github.com/morse-hpc/hpkg/internal/output"
	"github.com/morse-hpc/hpkg/internal/spec"
)

// ErrInUse is returned when a spec directory is locked by another process.
var ErrInUse = errors.New("install directory is in use")

// lockRetry is the delay between attempts to take a held lock.
const lockRetry = 10 * time.Millisecond

// Store is an install tree.
type Store struct {
	root string
}

// New opens the install tree at root, creating it when missing.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, oerrors.NewValidationError("install root is empty", "", "installRoot",
			"set installRoot in the config file or pass --install-root")
	}
	if err := os.MkdirAll(root, fs.ModePerm); err != nil {
		return nil, fmt.Errorf("initialize install root %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

// Root returns the install root.
func (s *Store) Root() string {
	return s.root
}

// Layout is the on-disk location of one spec.
type Layout struct {
	Dir      string
	Prefix   string
	Logs     string
	SpecFile string
	Stamp    string
	Lock     string
}

// DirName returns the directory name of sp.
func DirName(sp *spec.Spec) string {
	return fmt.Sprintf("%s-%s-%s", sp.Name(), sp.Version(), sp.ShortHash())
}

// Layout returns where sp lives.
func (s *Store) Layout(sp *spec.Spec) Layout {
	return s.layout(DirName(sp))
}

func (s *Store) layout(name string) Layout {
	dir := filepath.Join(s.root, name)
	return Layout{
		Dir:      dir,
		Prefix:   filepath.Join(dir, "prefix"),
		Logs:     filepath.Join(dir, "logs"),
		SpecFile: filepath.Join(dir, "spec.yaml"),
		Stamp:    filepath.Join(dir, "stamp"),
		Lock:     filepath.Join(s.root, "."+name+".lock"),
	}
}

// Prefix returns the install prefix of sp. It has the signature the
// concretizer expects for prefix assignment.
func (s *Store) Prefix(sp *spec.Spec) string {
	return s.Layout(sp).Prefix
}

// LogPath returns the build log of sp.
func (s *Store) LogPath(sp *spec.Spec) string {
	return filepath.Join(s.Layout(sp).Logs, "build.log")
}

// Installed reports whether sp has a completed install.
func (s *Store) Installed(sp *spec.Spec) bool {
	_, err := os.Stat(s.Layout(sp).Stamp)
	return err == nil
}

// Install runs fn with a fresh, empty prefix for sp, holding the spec's
// exclusive lock, and stamps the directory when fn succeeds. When another
// process completed the install while this one waited for the lock, fn is
// not called and Install reports done=false.
func (s *Store) Install(ctx context.Context, sp *spec.Spec, fn func(ctx context.Context, l Layout) error) (done bool, err error) {
	l := s.Layout(sp)
	blocker := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		time.Sleep(lockRetry)
		return nil
	}

	err = fslock.WithBlocking(l.Lock, blocker, func() error {
		if _, err := os.Stat(l.Stamp); err == nil {
			output.Debug("already installed by another process", "spec", sp.Short())
			return nil
		}
		if err := os.RemoveAll(l.Dir); err != nil {
			return fmt.Errorf("failed to remove install dir: %s: %w", l.Dir, err)
		}
		for _, d := range []string{l.Prefix, l.Logs} {
			if err := os.MkdirAll(d, fs.ModePerm); err != nil {
				return fmt.Errorf("failed to create install dir: %s: %w", d, err)
			}
		}
		if err := writeSpec(l.SpecFile, sp); err != nil {
			return err
		}

		if err := fn(ctx, l); err != nil {
			return err
		}

		stamp := fmt.Sprintf("%s\n%s\n", sp.Hash(), time.Now().UTC().Format(time.RFC3339))
		if err := os.WriteFile(l.Stamp, []byte(stamp), 0o644); err != nil {
			return fmt.Errorf("failed to create stamp file: %s: %w", l.Stamp, err)
		}
		done = true
		return nil
	})
	return done, err
}

func writeSpec(path string, sp *spec.Spec) error {
	data, err := yaml.Marshal(sp.Document())
	if err != nil {
		return fmt.Errorf("marshaling spec %s: %w", sp.Short(), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Entry is an installed spec found on disk.
type Entry struct {
	Layout
	Document spec.Document
}

// List returns the stamped installs, sorted by directory name.
func (s *Store) List() ([]Entry, error) {
	dirs, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("reading install root: %w", err)
	}
	var out []Entry
	for _, d := range dirs {
		if !d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			continue
		}
		l := s.layout(d.Name())
		if _, err := os.Stat(l.Stamp); err != nil {
			continue
		}
		e := Entry{Layout: l}
		data, err := os.ReadFile(l.SpecFile)
		if err != nil {
			output.Warn("install without spec file", "dir", l.Dir)
			continue
		}
		if err := yaml.Unmarshal(data, &e.Document); err != nil {
			output.Warn("unreadable spec file", "file", l.SpecFile, "err", err)
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dir < out[j].Dir })
	return out, nil
}

// Find returns the install whose hash starts with hash.
func (s *Store) Find(hash string) (Entry, error) {
	if len(hash) == 0 {
		return Entry{}, oerrors.NewValidationError("empty hash", "", "hash", "")
	}
	entries, err := s.List()
	if err != nil {
		return Entry{}, err
	}
	var found []Entry
	for _, e := range entries {
		if strings.HasPrefix(e.Document.Hash, hash) {
			found = append(found, e)
		}
	}
	switch len(found) {
	case 0:
		return Entry{}, oerrors.NewNotFoundError(fmt.Sprintf("no install matches hash %q", hash), s.root,
			"run 'hpkg list' to see installed specs")
	case 1:
		return found[0], nil
	default:
		return Entry{}, oerrors.NewValidationError(fmt.Sprintf("hash %q matches %d installs", hash, len(found)), "", "hash",
			"give more characters of the hash")
	}
}

// Remove deletes an install. It does not wait: when the install is locked
// by a running build it fails with ErrInUse.
func (s *Store) Remove(e Entry) error {
	switch err := fslock.With(e.Lock, func() error {
		if err := os.RemoveAll(e.Dir); err != nil {
			return fmt.Errorf("failed to remove install dir: %s: %w", e.Dir, err)
		}
		return nil
	}); {
	case err == nil:
		if err := os.Remove(e.Lock); err != nil && !os.IsNotExist(err) {
			output.Debug("lock file left behind", "file", e.Lock, "err", err)
		}
		return nil
	case errors.Is(err, fslock.ErrLockHeld):
		return fmt.Errorf("%s: %w", e.Dir, ErrInUse)
	default:
		return err
	}
}

// Dependents returns the installs that directly depend on hash, as
// name@version/hash7.
func (s *Store) Dependents(hash string) ([]string, error) {
	entries, err := s.List()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		for _, dep := range e.Document.Dependencies {
			if dep.Hash == hash {
				h := e.Document.Hash
				if len(h) > spec.ShortHashLength {
					h = h[:spec.ShortHashLength]
				}
				out = append(out, e.Document.Name+"@"+e.Document.Version+"/"+h)
				break
			}
		}
	}
	return out, nil
}
