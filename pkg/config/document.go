// Package config loads the JSON collection document and compiles it into
// jobs. Every template, function reference and checkpoint is compiled
// before anything runs, and all problems are reported together as one
// *errors.ConfigError.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap/zapcore"

	cerrors "github.com/wehubfusion/Courier/pkg/errors"
	"github.com/wehubfusion/Courier/pkg/task"
)

// SupportedMajorVersion is the document schema major version this loader reads.
const SupportedMajorVersion = 1

// Document is the decoded configuration.
type Document struct {
	Meta           Meta           `json:"meta" validate:"required"`
	Parameters     map[string]any `json:"parameters,omitempty"`
	GlobalSettings GlobalSettings `json:"global_settings"`
	Requests       []Request      `json:"requests" validate:"required,min=1,dive"`
}

// Meta identifies the document schema.
type Meta struct {
	Version    string `json:"version" validate:"required"`
	APIVersion string `json:"apiVersion,omitempty"`
}

// GlobalSettings apply to every request.
type GlobalSettings struct {
	Proxy   *task.ProxySettings `json:"proxy,omitempty"`
	Logging Logging             `json:"logging"`
}

// Logging carries the requested log level.
type Logging struct {
	Level string `json:"level"`
}

// Request describes one repeating HTTP request and the job built from it.
type Request struct {
	Name        string    `json:"name,omitempty"`
	Options     Options   `json:"options" validate:"required"`
	PreProcess  Processor `json:"pre_process"`
	PostProcess Processor `json:"post_process"`

	Checkpoint *Checkpoint `json:"checkpoint,omitempty"`

	// Exactly one of the loop blocks may be set; they are synonyms.
	IterationMode *IterationMode `json:"iteration_mode,omitempty"`
	RepeatMode    *IterationMode `json:"repeat_mode,omitempty"`
	LoopMode      *IterationMode `json:"loop_mode,omitempty"`

	Split *Split `json:"split,omitempty"`
}

// Options are the templated request fields.
type Options struct {
	URL         string            `json:"url" validate:"required"`
	NextPageURL string            `json:"nextpage_url,omitempty"`
	Method      string            `json:"method,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`

	// Body is either a template string or an object of templates sent as JSON.
	Body json.RawMessage `json:"body,omitempty"`

	Auth *Auth `json:"auth,omitempty"`
}

// Auth selects an authorizer.
type Auth struct {
	Type    string            `json:"type" validate:"required,oneof=basic_auth oauth2"`
	Options map[string]string `json:"options" validate:"required"`
}

// Processor is a pre- or post-process block. Conditions is the older name
// of SkipConditions; both are honoured.
type Processor struct {
	SkipConditions []Call `json:"skip_conditions,omitempty" validate:"dive"`
	Conditions     []Call `json:"conditions,omitempty" validate:"dive"`
	Pipeline       []Call `json:"pipeline,omitempty" validate:"dive"`
}

// Call references an extension function.
type Call struct {
	Method string   `json:"method" validate:"required"`
	Input  []string `json:"input"`
	Output string   `json:"output,omitempty"`
}

// Checkpoint configures progress persistence.
type Checkpoint struct {
	Namespace []string          `json:"namespace"`
	Content   map[string]string `json:"content"`
}

// IterationMode bounds the request loop.
type IterationMode struct {
	IterationCount Count  `json:"iteration_count"`
	StopConditions []Call `json:"stop_conditions,omitempty" validate:"dive"`
}

// Split fans the job out over a collection before the request runs.
type Split struct {
	Source    string `json:"source" validate:"required"`
	Output    string `json:"output" validate:"required"`
	Separator string `json:"separator,omitempty"`
}

// Count is an integer that may be written as a JSON number or a numeric string.
type Count int

// UnmarshalJSON implements json.Unmarshaler.
func (c *Count) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	if text == "null" {
		*c = 0
		return nil
	}
	if unquoted, err := strconv.Unquote(text); err == nil {
		text = strings.TrimSpace(unquoted)
		if text == "" {
			*c = 0
			return nil
		}
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return fmt.Errorf("invalid iteration count %s", data)
	}
	*c = Count(n)
	return nil
}

var logLevels = map[string]zapcore.Level{
	"DEBUG":   zapcore.DebugLevel,
	"INFO":    zapcore.InfoLevel,
	"WARN":    zapcore.WarnLevel,
	"WARNING": zapcore.WarnLevel,
	"ERROR":   zapcore.ErrorLevel,
	"FATAL":   zapcore.FatalLevel,
}

// LogLevel returns the configured level, INFO when unset or unknown.
func (d *Document) LogLevel() zapcore.Level {
	if level, ok := logLevels[strings.ToUpper(strings.TrimSpace(d.GlobalSettings.Logging.Level))]; ok {
		return level
	}
	return zapcore.InfoLevel
}

// Parse decodes and validates a document. Unknown fields are rejected.
func Parse(r io.Reader) (*Document, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		ce := &cerrors.ConfigError{}
		ce.Add("$", "malformed document", err)
		return nil, ce
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ParseBytes is Parse over a byte slice.
func ParseBytes(data []byte) (*Document, error) {
	return Parse(bytes.NewReader(data))
}

// LoadFile reads and parses the document at path.
func LoadFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the document structure and schema version.
func (d *Document) Validate() error {
	ce := &cerrors.ConfigError{}

	if err := validate.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			ce.Add("$", "validation failed", err)
			return ce
		}
		for _, fe := range verrs {
			ce.Add(fieldPath(fe.Namespace()), describe(fe), nil)
		}
	}

	if d.Meta.Version != "" {
		major, _, _ := strings.Cut(strings.TrimPrefix(d.Meta.Version, "v"), ".")
		if n, err := strconv.Atoi(major); err != nil || n != SupportedMajorVersion {
			ce.Add("meta.version", fmt.Sprintf("unsupported schema version %q", d.Meta.Version), nil)
		}
	}
	return ce.ErrOrNil()
}

// fieldPath drops the root type name from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must have at least " + fe.Param() + " item(s)"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fmt.Sprint(fe.Value()))
	}
	return fmt.Sprintf("failed %q validation", fe.Tag())
}
