// Command hpkg resolves and installs HPC software builds.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/morse-hpc/hpkg/internal/cmd"
	oerrors "github.com/morse-hpc/hpkg/internal/errors"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cmd.NewRootCmd().ExecuteContext(ctx)
	if err == nil {
		return cmd.ExitSuccess
	}
	var exitErr *oerrors.ExitError
	if !errors.As(err, &exitErr) || !exitErr.Printed {
		fmt.Fprintln(os.Stderr, err)
	}
	return cmd.ExitCodeFromError(err)
}
