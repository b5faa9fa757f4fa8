package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Format is the encoding of an instance file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatCUE  Format = "cue"
)

// FormatOf guesses the format of a file from its extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".cue":
		return FormatCUE, nil
	}
	return "", fmt.Errorf("unsupported instance file %s", path)
}

// Loader reads, validates and builds instance files.
//
// Every document is checked against the #Instance CUE schema and the
// validate struct tags before being built.
type Loader struct {
	ctx      *cue.Context
	schemas  *SchemaRegistry
	validate *validator.Validate
	planner  *ScriptedPlanner
	logger   zerolog.Logger
}

// NewLoader creates a loader. Plan scripts run with the given timeout.
func NewLoader(logger zerolog.Logger, scriptTimeout time.Duration) *Loader {
	return &Loader{
		ctx:      cuecontext.New(),
		schemas:  NewSchemaRegistry(),
		validate: newValidator(),
		planner:  NewScriptedPlanner(logger, scriptTimeout),
		logger:   logger.With().Str("component", "instance_loader").Logger(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("constraint_type", func(fl validator.FieldLevel) bool {
		_, ok := constraintTypes[fl.Field().String()]
		return ok
	})
	_ = v.RegisterValidation("action_kind", func(fl validator.FieldLevel) bool {
		_, ok := actionKinds[fl.Field().String()]
		return ok
	})
	return v
}

// Schemas returns the schema registry.
func (l *Loader) Schemas() *SchemaRegistry { return l.schemas }

// Load reads and validates an instance file. A relative script path is
// resolved against the directory of the file.
func (l *Loader) Load(ctx context.Context, path string) (*InstanceConfig, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read instance: %w", err)
	}

	cfg, err := l.Decode(ctx, format, path, data)
	if err != nil {
		return nil, err
	}
	if cfg.Script != "" && !filepath.IsAbs(cfg.Script) {
		cfg.Script = filepath.Join(filepath.Dir(path), cfg.Script)
	}
	for i, p := range cfg.Policies {
		if !filepath.IsAbs(p) {
			cfg.Policies[i] = filepath.Join(filepath.Dir(path), p)
		}
	}

	l.logger.Debug().
		Str("path", path).
		Str("format", string(format)).
		Str("instance", cfg.Name).
		Int("nodes", len(cfg.Nodes)).
		Int("vms", len(cfg.VMs)).
		Int("actions", len(cfg.Actions)).
		Msg("Instance loaded")
	return cfg, nil
}

// Decode decodes and validates an instance document. filename is only used
// in error positions.
func (l *Loader) Decode(ctx context.Context, format Format, filename string, data []byte) (*InstanceConfig, error) {
	var (
		cfg InstanceConfig
		err error
	)
	switch format {
	case FormatYAML:
		err = decodeYAML(data, &cfg)
	case FormatJSON:
		err = decodeJSON(data, &cfg)
	case FormatCUE:
		return l.decodeCUE(filename, data)
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
	if err != nil {
		return nil, ValidationErrors{{File: filename, Message: err.Error()}}
	}

	if err := l.schemas.ValidateAgainstSchema(ctx, "instance", &cfg); err != nil {
		return nil, convertCUEErrors(filename, err)
	}
	if err := l.Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeYAML(data []byte, cfg *InstanceConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

func decodeJSON(data []byte, cfg *InstanceConfig) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	return nil
}

// decodeCUE unifies the document with #Instance before decoding it, so CUE
// documents may use the schema defaults and references.
func (l *Loader) decodeCUE(filename string, data []byte) (*InstanceConfig, error) {
	val := l.ctx.CompileBytes(data, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, convertCUEErrors(filename, err)
	}

	schema, _ := l.schemas.GetSchema("instance")
	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, convertCUEErrors(filename, err)
	}

	var cfg InstanceConfig
	if err := unified.Decode(&cfg); err != nil {
		return nil, convertCUEErrors(filename, err)
	}
	if err := l.Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the validate struct tags of a configuration.
func (l *Loader) Validate(cfg *InstanceConfig) error {
	err := l.validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("failed to validate instance: %w", err)
	}

	out := make(ValidationErrors, len(fieldErrs))
	for i, fe := range fieldErrs {
		path := fe.Namespace()
		if _, rest, ok := strings.Cut(path, "."); ok {
			path = rest
		}
		msg := fmt.Sprintf("failed on the '%s' rule", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("failed on the '%s=%s' rule", fe.Tag(), fe.Param())
		}
		out[i] = ValidationError{Path: path, Message: msg}
	}
	return out
}

// convertCUEErrors converts CUE errors to ValidationErrors.
func convertCUEErrors(filename string, err error) ValidationErrors {
	var out ValidationErrors
	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{
			File:    filename,
			Path:    strings.Join(e.Path(), "."),
			Message: strings.TrimSpace(cueerrors.Details(e, nil)),
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 && pos[0].Filename() != "" {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = ValidationErrors{{File: filename, Message: err.Error()}}
	}
	return out
}

// LoadInstance loads and builds an instance file. When the instance has a
// plan script, the script is run to produce the plan.
func (l *Loader) LoadInstance(ctx context.Context, path string) (*Instance, error) {
	cfg, err := l.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	inst, err := Build(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Script == "" {
		return inst, nil
	}

	script, err := os.ReadFile(cfg.Script)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan script: %w", err)
	}
	p, err := l.planner.Plan(ctx, inst, string(script))
	if err != nil {
		return nil, err
	}
	inst.Plan = p
	return inst, nil
}
