// Package config loads coroscope settings from YAML: limits, logging, the
// Delve endpoint and the runtime profile naming the well-known types and
// methods the reconstruction recognizes.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config is the root of a coroscope.yaml file.
type Config struct {
	Limits  Limits  `yaml:"limits"`
	Log     Log     `yaml:"log"`
	Delve   Delve   `yaml:"delve"`
	Dump    Dump    `yaml:"dump"`
	Profile Profile `yaml:"profile"`
}

// Limits bounds how much of the remote heap one operation may touch.
type Limits struct {
	// MaxTasks caps instance enumeration in a task directory scan.
	MaxTasks int `yaml:"max_tasks"`
	// MaxChainDepth caps the nodes visited by one chain walk.
	MaxChainDepth int `yaml:"max_chain_depth"`
	// TypeCacheSize sizes the per-session type predicate cache.
	TypeCacheSize int `yaml:"type_cache_size"`
}

// Log selects the log level and handler format.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json; empty picks by terminal
}

// Delve configures the headless Delve endpoint.
type Delve struct {
	Address string `yaml:"address,omitempty"`
	// Binary is the dlv executable used when launching a target.
	Binary string `yaml:"binary"`
}

// Dump configures exported stack dumps.
type Dump struct {
	// Compression is none or zstd.
	Compression string `yaml:"compression"`
	// Redact lists patterns; captured variables whose name matches one have
	// their value replaced.
	Redact      []string `yaml:"redact"`
	Replacement string   `yaml:"replacement"`
}

// MethodRef names a method by owner, name and signature.
type MethodRef struct {
	Owner     string `yaml:"owner,omitempty"`
	Name      string `yaml:"name"`
	Signature string `yaml:"signature"`
}

// Profile lists the well-known names of one async runtime.
type Profile struct {
	BaseContinuation string   `yaml:"base_continuation"`
	CompletionField  string   `yaml:"completion_field"`
	SuspendLambdas   []string `yaml:"suspend_lambdas"`

	// EntryMethod marks the frame where a logical async stack begins.
	EntryMethod MethodRef `yaml:"entry_method"`
	// ResumeMethod marks the frame that resumes a chain root.
	ResumeMethod MethodRef `yaml:"resume_method"`
	// CompletionLocal is the local of ResumeMethod holding the chain root.
	CompletionLocal string `yaml:"completion_local"`
	// IntrinsicMarker marks a thread parked on a suspended task.
	IntrinsicMarker MethodRef `yaml:"intrinsic_marker"`

	DebugMetadata     DebugMetadata     `yaml:"debug_metadata"`
	StackTraceElement StackTraceElement `yaml:"stack_trace_element"`
	TaskWrapper       TaskWrapper       `yaml:"task_wrapper"`
	Mirrors           Mirrors           `yaml:"mirrors"`

	// ToString renders an object as text; used for task state labels.
	ToString MethodRef `yaml:"to_string"`
}

// DebugMetadata names the static accessors exposing per-continuation
// source locations and spilled variables.
type DebugMetadata struct {
	Type              string    `yaml:"type"`
	StackTraceElement MethodRef `yaml:"stack_trace_element"`
	SpilledVariables  MethodRef `yaml:"spilled_variables"`
}

// StackTraceElement names the accessors of a location record.
type StackTraceElement struct {
	Type       string    `yaml:"type"`
	ClassName  MethodRef `yaml:"class_name"`
	MethodName MethodRef `yaml:"method_name"`
	FileName   MethodRef `yaml:"file_name"`
	LineNumber MethodRef `yaml:"line_number"`
}

// TaskWrapper names the type enumerated by a task directory scan.
type TaskWrapper struct {
	Type              string `yaml:"type"`
	ContinuationField string `yaml:"continuation_field"`
}

// Mirrors names the types mirrored into local snapshots.
type Mirrors struct {
	StandaloneCoroutine     string `yaml:"standalone_coroutine"`
	ChildContinuation       string `yaml:"child_continuation"`
	CancellableContinuation string `yaml:"cancellable_continuation"`
	Context                 string `yaml:"context"`
	NameElement             string `yaml:"name_element"`
	IDElement               string `yaml:"id_element"`
	JobElement              string `yaml:"job_element"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return ParseConfig(data, path)
}

// ParseConfig parses YAML over the defaults, so a file only needs to name
// what it changes. The path argument is used only for error messages.
func ParseConfig(data []byte, path string) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.validate(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate(path string) error {
	var errs []error
	if c.Limits.MaxTasks <= 0 {
		errs = append(errs, fmt.Errorf("%s: limits.max_tasks must be positive", path))
	}
	if c.Limits.MaxChainDepth <= 0 {
		errs = append(errs, fmt.Errorf("%s: limits.max_chain_depth must be positive", path))
	}
	if c.Limits.TypeCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("%s: limits.type_cache_size must be positive", path))
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("%s: log.format %q is not text or json", path, c.Log.Format))
	}
	switch c.Dump.Compression {
	case "", "none", "zstd":
	default:
		errs = append(errs, fmt.Errorf("%s: dump.compression %q is not none or zstd", path, c.Dump.Compression))
	}
	for _, pattern := range c.Dump.Redact {
		if _, err := regexp.Compile(pattern); err != nil {
			errs = append(errs, fmt.Errorf("%s: dump.redact: %w", path, err))
		}
	}
	p := c.Profile
	for _, r := range []struct{ key, value string }{
		{"profile.base_continuation", p.BaseContinuation},
		{"profile.completion_field", p.CompletionField},
		{"profile.entry_method.name", p.EntryMethod.Name},
		{"profile.resume_method.name", p.ResumeMethod.Name},
		{"profile.completion_local", p.CompletionLocal},
		{"profile.debug_metadata.type", p.DebugMetadata.Type},
		{"profile.stack_trace_element.type", p.StackTraceElement.Type},
		{"profile.task_wrapper.type", p.TaskWrapper.Type},
	} {
		if r.value == "" {
			errs = append(errs, fmt.Errorf("%s: %s is required", path, r.key))
		}
	}
	return errors.Join(errs...)
}
