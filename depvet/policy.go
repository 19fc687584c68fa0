package depvet

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BannedPackage names a package that must never appear in a bundle
type BannedPackage struct {
	Name   string `yaml:"name"`
	Reason string `yaml:"reason"`
}

// Advisory records a known vulnerability affecting versions below a cutoff
type Advisory struct {
	Name     string `yaml:"name"`
	Below    string `yaml:"below"`
	ID       string `yaml:"id"`
	Severity string `yaml:"severity"`
	Summary  string `yaml:"summary"`
}

// Policy is the dependency vetting policy loaded from YAML
type Policy struct {
	Banned     []BannedPackage `yaml:"banned"`
	Advisories []Advisory      `yaml:"advisories"`
}

// LoadPolicy reads a vetting policy from a YAML file. A missing file yields
// an empty policy so deployments can start without one.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Policy{}, nil
		}
		return Policy{}, fmt.Errorf("reading policy file: %w", err)
	}

	var policy Policy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return Policy{}, fmt.Errorf("parsing policy file: %w", err)
	}

	return policy, nil
}
