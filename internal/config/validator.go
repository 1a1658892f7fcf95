package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
)

//go:embed schema/config.cue
var schemaCUE []byte

// ValidationError is one schema violation. Field is the dotted path of the
// offending key, empty when the document as a whole is invalid.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// ValidationErrors lists every violation found in one pass.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i := range e {
		msgs[i] = e[i].Error()
	}
	return fmt.Sprintf("invalid config (%d problems): %s", len(e), strings.Join(msgs, "; "))
}

// Validator validates configuration against the embedded CUE schema.
type Validator struct {
	ctx    *cue.Context
	schema cue.Value
}

// NewValidator compiles the embedded schema.
func NewValidator() (*Validator, error) {
	ctx := cuecontext.New()

	compiled := ctx.CompileBytes(schemaCUE, cue.Filename("schema/config.cue"))
	if compiled.Err() != nil {
		return nil, fmt.Errorf("compiling schema: %w", compiled.Err())
	}
	schema := compiled.LookupPath(cue.ParsePath("#Config"))
	if !schema.Exists() {
		return nil, fmt.Errorf("schema has no #Config definition")
	}

	return &Validator{ctx: ctx, schema: schema}, nil
}

// Validate checks a loaded configuration.
func (v *Validator) Validate(cfg *Config) error {
	val := v.ctx.Encode(cfg)
	if val.Err() != nil {
		return fmt.Errorf("encoding config: %w", val.Err())
	}
	return v.check(val)
}

// ValidateFile checks the raw content of a config file, so unknown keys
// are reported too.
func (v *Validator) ValidateFile(path string) error {
	expandedPath, err := ExpandPath(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expandedPath)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil
	}
	f, err := cueyaml.Extract(expandedPath, data)
	if err != nil {
		return ValidationErrors{{Message: fmt.Sprintf("parsing YAML: %v", err)}}
	}
	val := v.ctx.BuildFile(f)
	if val.Err() != nil {
		return ValidationErrors{{Message: val.Err().Error()}}
	}
	return v.check(val)
}

func (v *Validator) check(val cue.Value) error {
	err := v.schema.Unify(val).Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}
	var errs ValidationErrors
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		errs = append(errs, ValidationError{Field: strings.Join(e.Path(), "."), Message: fmt.Sprintf(format, args...)})
	}
	if len(errs) == 0 {
		return ValidationErrors{{Message: err.Error()}}
	}
	return errs
}
