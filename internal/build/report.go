package build

import (
	"time"

	"github.com/google/uuid"

	oerrors "github.com/morse-hpc/hpkg/internal/errors"
	"github.com/morse-hpc/hpkg/internal/spec"
)

// Status is the outcome of one spec.
type Status string

const (
	StatusInstalled    Status = "installed"
	StatusSkipped      Status = "skipped-already-present"
	StatusFailed       Status = "failed"
	StatusPrereqFailed Status = "prerequisite-failed"
)

// Result is the outcome of one spec in a run.
type Result struct {
	Spec   *spec.Spec
	Status Status

	// Hook is the failing hook, when a hook failed.
	Hook string

	// Prerequisite is the failed dependency that prevented the build.
	Prerequisite string

	Err      error
	Duration time.Duration
	LogPath  string
}

// Kind returns the error kind of a failed result.
func (r Result) Kind() string {
	return oerrors.Kind(r.Err)
}

// Message returns the error message of a failed result.
func (r Result) Message() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Report summarizes a build run.
type Report struct {
	// RunID identifies the run in logs and the install database.
	RunID string

	// Root is the requested spec.
	Root *spec.Spec

	// Results are in build order.
	Results  []Result
	Started  time.Time
	Duration time.Duration
}

func newReport(root *spec.Spec) *Report {
	return &Report{RunID: uuid.NewString(), Root: root, Started: time.Now()}
}

// Failed reports whether any spec failed or was not built.
func (r *Report) Failed() bool {
	for _, res := range r.Results {
		if res.Status == StatusFailed || res.Status == StatusPrereqFailed {
			return true
		}
	}
	return false
}

// Result returns the outcome of a package.
func (r *Report) Result(name string) (Result, bool) {
	for _, res := range r.Results {
		if res.Spec.Name() == name {
			return res, true
		}
	}
	return Result{}, false
}

// Counts returns the number of results per status.
func (r *Report) Counts() map[Status]int {
	out := map[Status]int{}
	for _, res := range r.Results {
		out[res.Status]++
	}
	return out
}

// Errors returns the errors of the specs that failed themselves, in build
// order.
func (r *Report) Errors() []error {
	var out []error
	for _, res := range r.Results {
		if res.Status == StatusFailed && res.Err != nil {
			out = append(out, res.Err)
		}
	}
	return out
}
