// Package effects builds the image pipeline every captured frame goes
// through before it is presented on the host surface.
package effects

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrBadDescriptor is returned for descriptors that cannot be parsed or
// carry invalid step parameters.
var ErrBadDescriptor = errors.New("bad effect descriptor")

// Step is one entry of an effect descriptor.
type Step struct {
	Effect string `yaml:"effect" json:"effect"`

	// scale
	Mode   string    `yaml:"mode,omitempty" json:"mode,omitempty"`
	Filter string    `yaml:"filter,omitempty" json:"filter,omitempty"`
	Scale  []float64 `yaml:"scale,omitempty" json:"scale,omitempty"`

	// sharpen
	Strength float64 `yaml:"strength,omitempty" json:"strength,omitempty"`

	// text
	Text       string   `yaml:"text,omitempty" json:"text,omitempty"`
	X          int      `yaml:"x,omitempty" json:"x,omitempty"`
	Y          int      `yaml:"y,omitempty" json:"y,omitempty"`
	Color      string   `yaml:"color,omitempty" json:"color,omitempty"`
	Background string   `yaml:"background,omitempty" json:"background,omitempty"`
	Opacity    *float64 `yaml:"opacity,omitempty" json:"opacity,omitempty"`
	Padding    *int     `yaml:"padding,omitempty" json:"padding,omitempty"`
}

// ParseDescriptor decodes a JSON or YAML list of steps. An empty descriptor
// yields no steps.
func ParseDescriptor(descriptor string) ([]Step, error) {
	if strings.TrimSpace(descriptor) == "" {
		return nil, nil
	}
	var steps []Step
	if err := yaml.Unmarshal([]byte(descriptor), &steps); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadDescriptor, err)
	}
	for i, s := range steps {
		if s.Effect == "" {
			return nil, fmt.Errorf("%w: step %d: missing \"effect\"", ErrBadDescriptor, i)
		}
	}
	return steps, nil
}
