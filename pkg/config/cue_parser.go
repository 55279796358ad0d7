package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// CUEParser decodes CUE config files checked against the #Config schema.
type CUEParser struct {
	ctx    *cue.Context
	schema cue.Value
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	ctx := cuecontext.New()
	return &CUEParser{
		ctx:    ctx,
		schema: ctx.CompileString(configSchema, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Config")),
	}
}

// Decode compiles data, unifies it with the schema and decodes the result
// into cfg. Fields absent from data keep their value in cfg.
func (cp *CUEParser) Decode(filename string, data []byte, cfg *Config) error {
	if err := cp.schema.Err(); err != nil {
		return fmt.Errorf("invalid config schema: %w", err)
	}

	val := cp.ctx.CompileBytes(data, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return cp.convertCUEErrors(err)
	}

	unified := cp.schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cp.convertCUEErrors(err)
	}

	raw, err := unified.MarshalJSON()
	if err != nil {
		return cp.convertCUEErrors(err)
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("failed to decode %s: %w", filename, err)
	}
	return nil
}

// ValidationError is a CUE error with its source position.
type ValidationError struct {
	File    string
	Line    int
	Column  int
	Message string
}

func (e ValidationError) String() string {
	if e.File == "" {
		return e.Message
	}
	return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
}

// ValidationErrors is the error returned for an invalid CUE config.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.String()
	}
	return strings.Join(msgs, "; ")
}

// convertCUEErrors converts CUE errors to ValidationErrors.
func (cp *CUEParser) convertCUEErrors(err error) error {
	var validationErrors ValidationErrors

	for _, e := range errors.Errors(err) {
		pos := errors.Positions(e)
		var file string
		var line, column int

		if len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:    file,
			Line:    line,
			Column:  column,
			Message: strings.TrimSpace(errors.Details(e, nil)),
		})
	}

	if len(validationErrors) == 0 {
		return err
	}
	return validationErrors
}
