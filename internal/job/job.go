package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrMissingArgument is returned when a required job argument is absent.
var ErrMissingArgument = errors.New("missing required job argument")

const DefaultStep = "score-filter"

// Args are the named arguments a job run is started with.
type Args struct {
	JobName        string `json:"job_name" yaml:"job_name"`
	InputPath      string `json:"input_path" yaml:"input_path"`
	OutputPath     string `json:"output_path" yaml:"output_path"`
	QuarantinePath string `json:"quarantine_path,omitempty" yaml:"quarantine_path"`
}

type Spec struct {
	Version string  `json:"version" yaml:"version"`
	Note    string  `json:"note,omitempty" yaml:"note"`
	Args    Args    `json:"args" yaml:"args"`
	Options Options `json:"options" yaml:"options"`
}

type Options struct {
	Step        string                 `json:"step" yaml:"step"`
	StepOptions map[string]interface{} `json:"step_options" yaml:"step_options"`
	Output      OutputOptions          `json:"output" yaml:"output"`
}

type OutputOptions struct {
	// Rotation thresholds for output parts; 0 disables the limit
	ChunkRecords int   `json:"chunk_records" yaml:"chunk_records"`
	ChunkBytes   int64 `json:"chunk_bytes" yaml:"chunk_bytes"`

	Compression string `json:"compression,omitempty" yaml:"compression"`

	// Write a _SUCCESS marker on commit; nil means true
	SuccessMarker *bool `json:"success_marker,omitempty" yaml:"success_marker"`
}

// WriteSuccessMarker reports whether a commit should leave a _SUCCESS marker.
func (o OutputOptions) WriteSuccessMarker() bool {
	return o.SuccessMarker == nil || *o.SuccessMarker
}

// Validate reports every missing required argument in a single error.
func (a Args) Validate() error {
	var missing []string
	if strings.TrimSpace(a.JobName) == "" {
		missing = append(missing, ArgJobName)
	}
	if strings.TrimSpace(a.InputPath) == "" {
		missing = append(missing, ArgInputPath)
	}
	if strings.TrimSpace(a.OutputPath) == "" {
		missing = append(missing, ArgOutputPath)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingArgument, strings.Join(missing, ", "))
	}
	if a.QuarantinePath != "" && a.QuarantinePath == a.OutputPath {
		return fmt.Errorf("quarantine_path must differ from output_path")
	}
	return nil
}

// NewSpec returns a spec for args with default options.
func NewSpec(args Args) *Spec {
	s := &Spec{Version: "1", Args: args}
	s.applyDefaults()
	return s
}

func LoadFromFile(path string) (*Spec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Load decodes a JSON job spec. Arguments are not validated here since they
// are usually supplied on the command line; call Validate once merged.
func Load(r io.Reader) (*Spec, error) {
	var s Spec
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode job spec: %w", err)
	}
	s.applyDefaults()
	if err := s.validateOptions(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the arguments and options of the spec.
func (s *Spec) Validate() error {
	if err := s.Args.Validate(); err != nil {
		return err
	}
	return s.validateOptions()
}

// MergeArgs overlays the non-empty fields of args onto the spec.
func (s *Spec) MergeArgs(args Args) {
	if args.JobName != "" {
		s.Args.JobName = args.JobName
	}
	if args.InputPath != "" {
		s.Args.InputPath = args.InputPath
	}
	if args.OutputPath != "" {
		s.Args.OutputPath = args.OutputPath
	}
	if args.QuarantinePath != "" {
		s.Args.QuarantinePath = args.QuarantinePath
	}
}

func (s *Spec) applyDefaults() {
	if s.Version == "" {
		s.Version = "1"
	}
	if s.Options.Step == "" {
		s.Options.Step = DefaultStep
	}
	if s.Options.StepOptions == nil {
		s.Options.StepOptions = map[string]interface{}{}
	}
}

func (s *Spec) validateOptions() error {
	var invalid []string
	if s.Options.Output.ChunkRecords < 0 {
		invalid = append(invalid, "options.output.chunk_records")
	}
	if s.Options.Output.ChunkBytes < 0 {
		invalid = append(invalid, "options.output.chunk_bytes")
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid job fields: %s", strings.Join(invalid, ", "))
	}
	return nil
}
