package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/goccy/go-yaml"
)

// LoadOptions contains options for loading a workflow definition.
type LoadOptions struct {
	name string // workflow name override
}

// LoadOption is a function type for setting LoadOptions.
type LoadOption func(*LoadOptions)

// WithName overrides the workflow name derived from the file name.
func WithName(name string) LoadOption {
	return func(o *LoadOptions) {
		o.name = name
	}
}

// Load reads, decodes and builds a workflow definition file.
func Load(ctx context.Context, file string, opts ...LoadOption) (*Workflow, error) {
	var options LoadOptions
	for _, opt := range opts {
		opt(&options)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}

	name := options.name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	}

	wf, err := LoadYAML(ctx, data, name, filepath.Dir(file))
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", name, err)
	}
	return wf, nil
}

// LoadYAML decodes workflow YAML and builds the workflow. baseDir anchors
// relative paths referenced by the definition, such as env files.
func LoadYAML(ctx context.Context, data []byte, name, baseDir string) (*Workflow, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	var def definition
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &def,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("failed to decode workflow definition: %w", err)
	}

	return build(ctx, def, name, baseDir)
}
