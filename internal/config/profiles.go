package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type profilesFile struct {
	Profiles map[string]QualityProfile `yaml:"profiles"`
}

// LoadProfiles reads named quality profiles from a YAML document of the form:
//
//	profiles:
//	  educational:
//	    threshold: 6.5
//	    weights: {educational_value: 0.5, clarity: 0.5}
func LoadProfiles(path string) (map[string]QualityProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read quality profiles: %w", err)
	}
	var doc profilesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse quality profiles %s: %w", path, err)
	}
	out := make(map[string]QualityProfile, len(doc.Profiles))
	for name, profile := range doc.Profiles {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			return nil, fmt.Errorf("parse quality profiles %s: empty profile name", path)
		}
		out[key] = profile
	}
	return out, nil
}
