package errors

import "errors"

// Sentinel errors for known conditions.
var (
	// ErrValidation indicates a configuration or input validation failure.
	ErrValidation = errors.New("validation error")

	// ErrPermission indicates insufficient filesystem permissions.
	ErrPermission = errors.New("permission denied")

	// ErrNotFound indicates a file, spec or installation was not found.
	ErrNotFound = errors.New("not found")

	// ErrUnknownPackage indicates a package name that is not in the registry.
	ErrUnknownPackage = errors.New("unknown package")

	// ErrUnknownVariant indicates a variant name the package does not declare.
	ErrUnknownVariant = errors.New("unknown variant")

	// ErrCyclicDependency indicates a package that transitively depends on itself.
	ErrCyclicDependency = errors.New("cyclic dependency")

	// ErrUnsatisfiable indicates constraints that no assignment can satisfy.
	ErrUnsatisfiable = errors.New("unsatisfiable constraints")

	// ErrHookFailure indicates a patch, setup or install hook failed.
	ErrHookFailure = errors.New("hook failure")

	// ErrInvalidConfiguration indicates a variant combination a recipe rejects.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)
