// Package cmd provides the hpkg command implementations.
package cmd

import (
	"errors"

	oerrors "github.com/morse-hpc/hpkg/internal/errors"
)

// Process exit codes.
const (
	ExitSuccess      = 0
	ExitGeneralError = 1

	// ExitValidationError covers bad input: an unknown variant, a
	// configuration a recipe rejects, or an invalid config file.
	ExitValidationError  = 2
	ExitPermissionDenied = 4

	// ExitNotFound covers unknown packages and missing installations.
	ExitNotFound = 5

	// ExitResolutionError covers dependency cycles and unsatisfiable
	// constraints.
	ExitResolutionError = 7

	// ExitBuildFailed means at least one spec was not installed.
	ExitBuildFailed = 8
)

// exitCodes maps error sentinels to exit codes. The first match wins.
var exitCodes = []struct {
	sentinel error
	code     int
}{
	{oerrors.ErrValidation, ExitValidationError},
	{oerrors.ErrUnknownVariant, ExitValidationError},
	{oerrors.ErrInvalidConfiguration, ExitValidationError},
	{oerrors.ErrPermission, ExitPermissionDenied},
	{oerrors.ErrNotFound, ExitNotFound},
	{oerrors.ErrUnknownPackage, ExitNotFound},
	{oerrors.ErrCyclicDependency, ExitResolutionError},
	{oerrors.ErrUnsatisfiable, ExitResolutionError},
	{oerrors.ErrHookFailure, ExitBuildFailed},
}

// ExitCodeFromError returns the exit code of err. An ExitError carries its
// own code.
func ExitCodeFromError(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *oerrors.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	for _, m := range exitCodes {
		if errors.Is(err, m.sentinel) {
			return m.code
		}
	}
	return ExitGeneralError
}

// exitError wraps err with the exit code it maps to.
func exitError(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *oerrors.ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	return &oerrors.ExitError{Err: err, Code: ExitCodeFromError(err)}
}
