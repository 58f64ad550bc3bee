package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// overlayProfile reads a YAML run profile over the current values. Keys absent from
// the file keep their current value.
func (c *RunConfig) overlayProfile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("run profile: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("run profile %s: %w", path, err)
	}
	return nil
}

// YAML renders the effective configuration in profile form.
func (c *RunConfig) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
