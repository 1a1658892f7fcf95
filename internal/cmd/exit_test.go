package cmd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	oerrors "github.com/morse-hpc/hpkg/internal/errors"
)

func TestExitCodeFromError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{name: "nil", err: nil, wantCode: ExitSuccess},
		{name: "validation error", err: oerrors.ErrValidation, wantCode: ExitValidationError},
		{name: "wrapped validation error", err: oerrors.Wrap(oerrors.ErrValidation, "bad flag"), wantCode: ExitValidationError},
		{name: "unknown variant", err: &oerrors.UnknownVariantError{PackageName: "zlib", Variant: "mt"}, wantCode: ExitValidationError},
		{name: "invalid configuration", err: &oerrors.InvalidConfigurationError{PackageName: "maphys"}, wantCode: ExitValidationError},
		{name: "permission error", err: oerrors.ErrPermission, wantCode: ExitPermissionDenied},
		{name: "not found error", err: oerrors.ErrNotFound, wantCode: ExitNotFound},
		{name: "unknown package", err: &oerrors.UnknownPackageError{Name: "nope"}, wantCode: ExitNotFound},
		{name: "cycle", err: &oerrors.CyclicDependencyError{Cycle: []string{"a", "b", "a"}}, wantCode: ExitResolutionError},
		{name: "unsatisfiable", err: fmt.Errorf("concretizing: %w", &oerrors.UnsatisfiableError{Root: "app"}), wantCode: ExitResolutionError},
		{name: "hook failure", err: &oerrors.HookFailureError{Hook: "install", Cause: errors.New("boom")}, wantCode: ExitBuildFailed},
		{name: "explicit exit error", err: &oerrors.ExitError{Err: oerrors.ErrNotFound, Code: ExitBuildFailed}, wantCode: ExitBuildFailed},
		{name: "plain error", err: errors.New("unknown error"), wantCode: ExitGeneralError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantCode, ExitCodeFromError(tt.err))
		})
	}
}

func TestExitErrorKeepsCode(t *testing.T) {
	err := exitError(&oerrors.ExitError{Err: oerrors.ErrValidation, Code: ExitBuildFailed})
	assert.Equal(t, ExitBuildFailed, ExitCodeFromError(err))
	assert.NoError(t, exitError(nil))

	wrapped := exitError(oerrors.ErrUnsatisfiable)
	var exitErr *oerrors.ExitError
	assert.ErrorAs(t, wrapped, &exitErr)
	assert.Equal(t, ExitResolutionError, exitErr.Code)
}
