package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/daimoniac/swarmshield/internal/errors"
)

// ParseFile reads and validates a swarmshield.yml file.
func ParseFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewPermanentf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse expands {{ env "NAME" }} references and decodes the YAML document.
func Parse(data []byte) (*FileConfig, error) {
	expanded, err := expandEnv(data)
	if err != nil {
		return nil, err
	}

	var fc FileConfig
	if err := yaml.Unmarshal(expanded, &fc); err != nil {
		return nil, errors.NewPermanentf("failed to parse config file: %w", err)
	}

	if err := fc.validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

func expandEnv(data []byte) ([]byte, error) {
	tmpl, err := template.New("config").
		Option("missingkey=zero").
		Funcs(template.FuncMap{"env": os.Getenv}).
		Parse(string(data))
	if err != nil {
		return nil, errors.NewPermanentf("failed to parse config template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, nil); err != nil {
		return nil, errors.NewPermanentf("failed to expand config template: %w", err)
	}
	return buf.Bytes(), nil
}

func (fc *FileConfig) validate() error {
	seen := make(map[string]bool, len(fc.Watch))
	for i, w := range fc.Watch {
		name := strings.TrimSpace(w.Name)
		if name == "" {
			return errors.NewPermanentf("watch entry %d: name is required", i)
		}
		if seen[name] {
			return errors.NewPermanentf("watch entry %d: duplicate package %s", i, name)
		}
		seen[name] = true
		if w.Range != "" {
			if _, err := semver.NewConstraint(w.Range); err != nil {
				return errors.NewPermanentf("watch entry %s: invalid range %q: %w", name, w.Range, err)
			}
		}
	}

	for pkg, alt := range fc.Alternatives {
		if alt.Package == "" || alt.Version == "" {
			return errors.NewPermanentf("alternative for %s needs package and version", pkg)
		}
	}

	for _, v := range []string{
		fc.Defaults.PollInterval,
		fc.Defaults.AttestationTTL,
		fc.Defaults.FalsePositiveTTL,
		fc.Defaults.LivenessWindow,
		fc.Defaults.RetryBackoff,
	} {
		if v == "" {
			continue
		}
		if _, err := parseInterval(v); err != nil {
			return errors.NewPermanent(err)
		}
	}
	return nil
}

// ProjectsFor returns the projects watching name.
func (fc *FileConfig) ProjectsFor(name string) []string {
	for _, w := range fc.Watch {
		if w.Name == name {
			return w.Projects
		}
	}
	return nil
}

func (d Defaults) interval(value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	return parseInterval(value)
}

// parseInterval parses interval notation (e.g., "30s", "2m", "3h", "7d") into time.Duration
func parseInterval(interval string) (time.Duration, error) {
	if len(interval) < 2 {
		return 0, fmt.Errorf("invalid interval format: %s", interval)
	}

	unit := interval[len(interval)-1]
	valueStr := interval[:len(interval)-1]

	var value int
	if _, err := fmt.Sscanf(valueStr, "%d", &value); err != nil {
		return 0, fmt.Errorf("invalid interval value: %s", interval)
	}

	if value <= 0 {
		return 0, fmt.Errorf("interval value must be positive: %s", interval)
	}

	switch unit {
	case 's':
		return time.Duration(value) * time.Second, nil
	case 'm':
		return time.Duration(value) * time.Minute, nil
	case 'h':
		return time.Duration(value) * time.Hour, nil
	case 'd':
		return time.Duration(value) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid interval unit (must be s, m, h, or d): %s", interval)
	}
}
