package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/morse-hpc/hpkg/internal/build"
	"github.com/morse-hpc/hpkg/internal/concretize"
	oerrors "github.com/morse-hpc/hpkg/internal/errors"
	"github.com/morse-hpc/hpkg/internal/output"
)

// NewInstallCmd creates the install command.
func NewInstallCmd(g *GlobalConfig) *cobra.Command {
	var dryRun bool

	c := &cobra.Command{
		Use:   "install <spec>...",
		Short: "Resolve a spec and install it with its dependencies",
		Long: `Resolve a spec and install every spec of its build graph in dependency order.

Specs that are already installed are skipped. When a spec fails, its
dependents are reported as prerequisite-failed and independent specs still
build. The exit code is 0 only when every spec is installed or skipped.

Examples:
  # Default variants
  hpkg install maphys

  # Variants, a version range, a compiler and a dependency constraint
  hpkg install maphys@0.9.3: +pastix ~mumps %intel ^openblas+mt

  # Show what would be built
  hpkg install maphys --dry-run`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(cmd, args, g, dryRun)
		},
	}

	c.Flags().IntVarP(&g.flags.Jobs, "jobs", "j", 0, "build parallelism per spec (env: HPKG_BUILD_JOBS)")
	c.Flags().IntVarP(&g.flags.Workers, "workers", "w", 0, "specs built at once (env: HPKG_WORKERS)")
	c.Flags().DurationVar(&g.flags.Timeout, "timeout", 0, "time limit of each spec's build (env: HPKG_BUILD_TIMEOUT)")
	c.Flags().StringVar(&g.flags.Compiler, "compiler", "", "default compiler, e.g. gcc@12.2.0 (env: HPKG_COMPILER)")
	c.Flags().BoolVar(&dryRun, "dry-run", false, "resolve and print the build plan without building")

	return c
}

func runInstall(cmd *cobra.Command, args []string, g *GlobalConfig, dryRun bool) error {
	ctx := cmd.Context()
	s, err := newSession(g)
	if err != nil {
		return exitError(err)
	}

	request := strings.Join(args, " ")
	var bg *concretize.BuildGraph
	err = output.RunWithSpinner(ctx, "Resolving "+request, func(ctx context.Context) error {
		var err error
		bg, err = s.concretize(ctx, args)
		return err
	})
	if err != nil {
		return resolveFailed(request, err)
	}
	output.Debug("resolved", "root", bg.Root.Short(), "specs", bg.Len())

	opts := build.Options{
		Workers:   g.Settings.Workers,
		Jobs:      g.Settings.Jobs,
		Timeout:   g.Settings.Timeout,
		StageRoot: g.Settings.StageRoot,
	}

	if dryRun {
		printPlan(cmd.OutOrStdout(), build.New(s.store, opts).Plan(bg))
		return nil
	}

	db, err := s.openDB()
	if err != nil {
		output.Warn("install database unavailable, installs will not be indexed", "err", err)
	} else {
		defer db.Close()
		opts.Index = db
	}

	out := cmd.OutOrStdout()
	opts.Progress = func(r build.Result) {
		fmt.Fprintln(out, output.FormatSpecLine(r.Spec.Short(), string(r.Status)))
	}

	report, err := build.New(s.store, opts).Build(ctx, bg)
	if err != nil {
		return exitError(err)
	}
	printSummary(out, report)

	if report.Failed() {
		counts := report.Counts()
		failed := counts[build.StatusFailed] + counts[build.StatusPrereqFailed]
		return &oerrors.ExitError{
			Err:     fmt.Errorf("%d of %d specs were not installed", failed, len(report.Results)),
			Code:    ExitBuildFailed,
			Printed: true,
		}
	}
	return nil
}

// printPlan renders a dry-run plan.
func printPlan(w io.Writer, steps []build.Step) {
	tbl := output.NewTable("SPEC", "ACTION", "STRATEGY", "PREFIX").StatusColumn(1)
	for _, st := range steps {
		tbl.Row(st.Spec.Short(), string(st.Action), st.Strategy, st.Spec.Prefix())
	}
	fmt.Fprintln(w, tbl.String())
}

// printSummary renders the totals and the failures of a build.
func printSummary(w io.Writer, report *build.Report) {
	counts := report.Counts()
	summary := fmt.Sprintf("%d installed, %d skipped, %d failed, %d prerequisite-failed in %s",
		counts[build.StatusInstalled], counts[build.StatusSkipped],
		counts[build.StatusFailed], counts[build.StatusPrereqFailed],
		report.Duration.Round(time.Millisecond))

	if !report.Failed() {
		fmt.Fprintln(w, output.FormatCheckmark(output.StyleSummary.Render(summary)))
		return
	}
	fmt.Fprintln(w, output.FormatCross(output.StyleSummary.Render(summary)))
	for _, res := range report.Results {
		if res.Status != build.StatusFailed {
			continue
		}
		output.Error("failed", "spec", res.Spec.Short(), "kind", res.Kind(), "err", res.Message(), "log", res.LogPath)
	}
}
