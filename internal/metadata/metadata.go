// Package metadata parses and validates the per-repo run-configuration
// file, secd.yml.
package metadata

import (
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Metadata is the parsed, defaulted secd.yml document.
type Metadata struct {
	RunFor    float64 `yaml:"runfor" validate:"gt=0"`
	GPU       bool    `yaml:"gpu"`
	CacheDir  string  `yaml:"cache_dir"`
	MountPath string  `yaml:"mount_path"`
}

// Default returns the default metadata: 3 hours, no GPU, no cache.
func Default() Metadata {
	return Metadata{RunFor: 3, GPU: false}
}

const defaultMountPath = "/cache"

// Parse reads and validates the secd.yml file at path.
//
// Policy:
//   - missing file            -> defaults, nil error
//   - unparsable YAML         -> nil Metadata, non-nil error (the launch aborts)
//   - parses but schema-invalid -> defaults, nil error (warning only)
//   - valid                   -> merged with defaults for absent keys
func Parse(path string) (*Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			d := Default()
			return &d, nil
		}
		return nil, err
	}

	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if len(doc) == 0 {
		d := Default()
		return &d, nil
	}

	m := Default()
	if err := yaml.Unmarshal(raw, &m); err != nil {
		d := Default()
		return &d, nil
	}

	v := validator.New()
	if err := v.Struct(m); err != nil {
		d := Default()
		return &d, nil
	}

	if m.CacheDir != "" && m.MountPath == "" {
		m.MountPath = defaultMountPath
	}

	return &m, nil
}

// HasCache reports whether a per-user cache volume should be mounted.
func (m Metadata) HasCache() bool { return m.CacheDir != "" }
