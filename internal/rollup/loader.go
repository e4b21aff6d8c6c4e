package rollup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// rawDefinition is the on-disk YAML shape of a rollup definition.
// Durations are strings so operators can write "5m" rather than nanoseconds.
type rawDefinition struct {
	Name        string      `yaml:"name"`
	Granularity string      `yaml:"granularity"`
	Dimensions  []Dimension `yaml:"dimensions"`
	Measures    []Measure   `yaml:"measures"`
	Source      Source      `yaml:"source"`
	Cadence     string      `yaml:"cadence"`
	MaxDuration string      `yaml:"max_duration"`
}

// LoadDir reads rollup definitions from *.yaml files in dir, one definition
// per file. A missing directory is valid (zero extra rollups configured).
// Definitions are validated here so a bad file fails startup, not the first
// refresh.
func LoadDir(dir string, fallback Defaults) ([]Definition, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rollup config dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("rollup config path %q is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading rollup config dir: %w", err)
	}

	var defs []Definition
	seen := make(map[string]string)

	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading rollup file %s: %w", path, err)
		}

		var raw rawDefinition
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing rollup file %s: %w", path, err)
		}
		if raw.Name == "" {
			continue // skip empty / comment-only files
		}

		if prev, dup := seen[raw.Name]; dup {
			return nil, fmt.Errorf("rollup %q: defined in both %s and %s", raw.Name, prev, path)
		}
		seen[raw.Name] = path

		def := Definition{
			Name:        raw.Name,
			Granularity: Granularity(raw.Granularity),
			Dimensions:  raw.Dimensions,
			Measures:    raw.Measures,
			Source:      raw.Source,
			MaxDuration: fallback.MaxRefreshDuration,
		}

		if raw.Cadence != "" {
			def.Cadence, err = parsePositiveDuration(raw.Cadence)
			if err != nil {
				return nil, fmt.Errorf("rollup %q: cadence: %w", raw.Name, err)
			}
		}
		if raw.MaxDuration != "" {
			def.MaxDuration, err = parsePositiveDuration(raw.MaxDuration)
			if err != nil {
				return nil, fmt.Errorf("rollup %q: max_duration: %w", raw.Name, err)
			}
		}

		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("rollup file %s: %w", path, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func parsePositiveDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %q", s)
	}
	return d, nil
}
