package output

import (
	"context"
	"fmt"

	"github.com/charmbracelet/huh/spinner"
)

// RunWithSpinner runs action while a spinner titled title is shown. Without
// a terminal, or with verbose logging on, the action runs plainly so its log
// lines are not interleaved with the spinner.
func RunWithSpinner(ctx context.Context, title string, action func(ctx context.Context) error) error {
	if !IsTTY() || verbose {
		return action(ctx)
	}

	errCh := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		errCh <- action(ctx)
		close(finished)
	}()

	spinnerErr := spinner.New().
		Title(title).
		Context(ctx).
		Action(func() { <-finished }).
		Run()
	if spinnerErr != nil && ctx.Err() == nil {
		return fmt.Errorf("spinner: %w", spinnerErr)
	}
	// The action observes the same context, so it returns soon after a
	// cancellation stops the spinner.
	return <-errCh
}
