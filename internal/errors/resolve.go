package errors

import (
	"errors"
	"fmt"
	"strings"
)

// PackageError is implemented by errors that concern one package.
type PackageError interface {
	error

	// Package returns the package name the error refers to.
	Package() string
}

// UnknownPackageError indicates a name that is neither a package nor a virtual.
type UnknownPackageError struct {
	// Name is the missing package name.
	Name string

	// RequiredBy is the consumer that declared the edge, empty for the root.
	RequiredBy string
}

func (e *UnknownPackageError) Error() string {
	if e.RequiredBy != "" {
		return fmt.Sprintf("unknown package %q (required by %q)", e.Name, e.RequiredBy)
	}
	return fmt.Sprintf("unknown package %q", e.Name)
}

func (e *UnknownPackageError) Package() string { return e.Name }

func (e *UnknownPackageError) Is(target error) bool { return target == ErrUnknownPackage }

// UnknownVariantError indicates a variant the package does not declare.
type UnknownVariantError struct {
	// PackageName is the package that was asked for the variant.
	PackageName string

	// Variant is the undeclared variant name.
	Variant string

	// Known lists the declared variants, for hints.
	Known []string
}

func (e *UnknownVariantError) Error() string {
	msg := fmt.Sprintf("package %q has no variant %q", e.PackageName, e.Variant)
	if len(e.Known) > 0 {
		msg += " (declared: " + strings.Join(e.Known, ", ") + ")"
	}
	return msg
}

func (e *UnknownVariantError) Package() string { return e.PackageName }

func (e *UnknownVariantError) Is(target error) bool { return target == ErrUnknownVariant }

// CyclicDependencyError reports the dependency cycle that was found.
type CyclicDependencyError struct {
	// Cycle is the path of package names, first and last equal.
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return "cyclic dependency: " + strings.Join(e.Cycle, " -> ")
}

func (e *CyclicDependencyError) Package() string {
	if len(e.Cycle) == 0 {
		return ""
	}
	return e.Cycle[0]
}

func (e *CyclicDependencyError) Is(target error) bool { return target == ErrCyclicDependency }

// Conflict is one constraint that could not be honoured.
type Conflict struct {
	// Package is the package the constraint applies to.
	Package string

	// Constraint is the textual constraint.
	Constraint string

	// Source names where the constraint came from ("request", "maphys", ...).
	Source string

	// Reason explains why it failed.
	Reason string
}

// String renders the conflict on one line.
func (c Conflict) String() string {
	var b strings.Builder
	b.WriteString(c.Package)
	if c.Constraint != "" {
		b.WriteString(": ")
		b.WriteString(c.Constraint)
	}
	if c.Source != "" {
		b.WriteString(" (from ")
		b.WriteString(c.Source)
		b.WriteString(")")
	}
	if c.Reason != "" {
		b.WriteString(": ")
		b.WriteString(c.Reason)
	}
	return b.String()
}

// UnsatisfiableError lists the constraints that conflict.
type UnsatisfiableError struct {
	// Root is the requested root package.
	Root string

	// Conflicts are the constraints that could not all hold.
	Conflicts []Conflict
}

func (e *UnsatisfiableError) Error() string {
	parts := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		parts[i] = c.String()
	}
	return fmt.Sprintf("unsatisfiable constraints for %q: %s", e.Root, strings.Join(parts, "; "))
}

func (e *UnsatisfiableError) Package() string { return e.Root }

func (e *UnsatisfiableError) Is(target error) bool { return target == ErrUnsatisfiable }

// InvalidConfigurationError indicates a configuration a recipe rejects.
type InvalidConfigurationError struct {
	// PackageName is the rejecting package.
	PackageName string

	// Reason is the recipe's message.
	Reason string
}

func (e *InvalidConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration for %q: %s", e.PackageName, e.Reason)
}

func (e *InvalidConfigurationError) Package() string { return e.PackageName }

func (e *InvalidConfigurationError) Is(target error) bool { return target == ErrInvalidConfiguration }

// HookFailureError indicates a recipe hook failed for a spec.
type HookFailureError struct {
	// Spec is the short spec string ("maphys@0.9.3/abc1234").
	Spec string

	// PackageName is the spec's package.
	PackageName string

	// Hook is the failing hook: patch, setup or install.
	Hook string

	// Cause is the underlying error.
	Cause error
}

func (e *HookFailureError) Error() string {
	return fmt.Sprintf("%s hook failed for %s: %v", e.Hook, e.Spec, e.Cause)
}

func (e *HookFailureError) Package() string { return e.PackageName }

func (e *HookFailureError) Unwrap() error { return e.Cause }

func (e *HookFailureError) Is(target error) bool { return target == ErrHookFailure }

// Kind returns a short name for the error's category, used in reports.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrHookFailure):
		return "HookFailure"
	case errors.Is(err, ErrUnknownPackage):
		return "UnknownPackage"
	case errors.Is(err, ErrUnknownVariant):
		return "UnknownVariant"
	case errors.Is(err, ErrCyclicDependency):
		return "CyclicDependency"
	case errors.Is(err, ErrUnsatisfiable):
		return "UnsatisfiableConstraints"
	case errors.Is(err, ErrInvalidConfiguration):
		return "InvalidConfiguration"
	default:
		return "Error"
	}
}
