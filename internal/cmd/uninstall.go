package cmd

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	oerrors "github.com/morse-hpc/hpkg/internal/errors"
	"github.com/morse-hpc/hpkg/internal/output"
	"github.com/morse-hpc/hpkg/internal/store"
)

// NewUninstallCmd creates the uninstall command.
func NewUninstallCmd(g *GlobalConfig) *cobra.Command {
	var force bool

	c := &cobra.Command{
		Use:   "uninstall <hash>",
		Short: "Remove an installed spec",
		Long: `Remove an installed spec from the install tree, given a prefix of its hash.

An install that other installs depend on is kept unless --force is given.
An install locked by a running build is never removed.

Examples:
  hpkg uninstall 3kq7z2m
  hpkg uninstall 3kq --force`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUninstall(cmd, args[0], g, force)
		},
	}

	c.Flags().BoolVarP(&force, "force", "f", false, "remove even when other installs depend on it")
	return c
}

func runUninstall(cmd *cobra.Command, hash string, g *GlobalConfig, force bool) error {
	ctx := cmd.Context()
	s, err := newSession(g)
	if err != nil {
		return exitError(err)
	}

	entry, err := s.store.Find(hash)
	if err != nil {
		return exitError(err)
	}
	name := entry.Document.Name + "@" + entry.Document.Version

	dependents, err := s.store.Dependents(entry.Document.Hash)
	if err != nil {
		return exitError(err)
	}
	db, dbErr := s.openDB()
	if dbErr != nil {
		output.Warn("install database unavailable", "err", dbErr)
	} else {
		defer db.Close()
		recs, err := db.Dependents(ctx, entry.Document.Hash)
		if err != nil {
			output.Warn("reading install database", "err", err)
		}
		for _, r := range recs {
			if !slices.Contains(dependents, r.Short()) {
				dependents = append(dependents, r.Short())
			}
		}
	}

	if len(dependents) > 0 && !force {
		return exitError(oerrors.NewValidationError(
			fmt.Sprintf("%s is needed by %s", name, strings.Join(dependents, ", ")),
			entry.Dir, "", "uninstall the dependents first or pass --force"))
	}
	for _, d := range dependents {
		output.Warn("removing a dependency of an install", "spec", name, "dependent", d)
	}

	if err := s.store.Remove(entry); err != nil {
		if errors.Is(err, store.ErrInUse) {
			return exitError(oerrors.NewValidationError(err.Error(), entry.Dir, "", "wait for the running build to finish"))
		}
		return exitError(err)
	}
	if db != nil {
		if err := db.Forget(ctx, entry.Document.Hash); err != nil {
			output.Warn("install removed but still indexed", "spec", name, "err", err)
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), output.FormatCheckmark("uninstalled "+name+" ("+entry.Dir+")"))
	return nil
}
