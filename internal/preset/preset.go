// Package preset holds named report parameter presets loaded from a YAML
// file. A preset is shorthand for a set of report filter values, so
// operators can define e.g. "monthly-refunds" once and reference it from
// the report endpoints by name.
package preset

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrNotFound indicates the named preset is not defined.
var ErrNotFound = errors.New("preset not found")

// Preset is a named bundle of report filter values. Empty fields are left
// to the report's own defaults.
type Preset struct {
	Name     string `yaml:"name" json:"name"`
	Status   string `yaml:"status" json:"status,omitempty"`
	DateFrom string `yaml:"date_from" json:"date_from,omitempty"` // YYYY-MM-DD
	DateTo   string `yaml:"date_to" json:"date_to,omitempty"`     // YYYY-MM-DD
	Category string `yaml:"category" json:"category,omitempty"`
}

// Config is the parsed preset file.
type Config struct {
	Presets []Preset `yaml:"presets"`

	// digest is the SHA256 hash of the source YAML content. Populated
	// during loading, not from YAML.
	digest string `yaml:"-"`
}

// Digest returns the SHA256 hash of the source YAML content used to create
// this Config.
func (c Config) Digest() string {
	return c.digest
}

// Parse decodes a preset configuration from YAML. Presets without a name
// are rejected, as are duplicate names.
func Parse(contents []byte) (Config, error) {
	var config Config
	if err := yaml.Unmarshal(contents, &config); err != nil {
		return Config{}, fmt.Errorf("could not parse preset configuration: %w", err)
	}

	seen := make(map[string]bool, len(config.Presets))
	for _, p := range config.Presets {
		if p.Name == "" {
			return Config{}, errors.New("preset configuration contains an unnamed preset")
		}
		if seen[p.Name] {
			return Config{}, fmt.Errorf("preset %q is defined more than once", p.Name)
		}
		seen[p.Name] = true
	}

	sum := sha256.Sum256(contents)
	config.digest = hex.EncodeToString(sum[:])

	return config, nil
}

// LoadFile reads and parses the preset file at path.
func LoadFile(path string) (Config, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("could not read preset file: %w", err)
	}

	return Parse(contents)
}
