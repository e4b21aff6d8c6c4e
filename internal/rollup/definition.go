package rollup

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

// Granularity is the time-bucketing axis of a rollup: every output row's
// bucket is its fact timestamp truncated to this boundary.
type Granularity string

const (
	GranularityHour Granularity = "hour"
	GranularityDay  Granularity = "day"
)

// Valid reports whether g is a supported granularity.
func (g Granularity) Valid() bool {
	return g == GranularityHour || g == GranularityDay
}

// Truncate buckets a timestamp onto the granularity boundary.
// Day truncation is calendar-day in the timestamp's location, matching how
// the fact tables bucket by DATE(created_at).
func (g Granularity) Truncate(t time.Time) time.Time {
	switch g {
	case GranularityDay:
		year, month, day := t.Date()
		return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
	default:
		return t.Truncate(time.Hour)
	}
}

// Dimension is one grouping column of a rollup. Name is the output column;
// Column is the source expression the fact source selects it from.
type Dimension struct {
	Name   string `yaml:"name"`
	Column string `yaml:"column"`
}

// Source describes where a rollup's qualifying fact rows come from.
// Where predicates restrict input to qualifying rows (e.g. completed sales);
// they are applied by the fact source under a consistent point-in-time read.
type Source struct {
	From       string   `yaml:"from"`
	TimeColumn string   `yaml:"time_column"`
	Where      []string `yaml:"where"`
}

// Definition is a named rollup specification: grouping key (granularity plus
// dimensions), measures, qualifying-row source, and refresh tuning.
type Definition struct {
	Name        string      `yaml:"name"`
	Granularity Granularity `yaml:"granularity"`
	Dimensions  []Dimension `yaml:"dimensions"`
	Measures    []Measure   `yaml:"measures"`
	Source      Source      `yaml:"source"`

	// Cadence is the wall-clock refresh interval; MaxDuration bounds one
	// refresh run. Both are deployment tuning, supplied at registration.
	Cadence     time.Duration `yaml:"-"`
	MaxDuration time.Duration `yaml:"-"`
}

// Validate checks structural invariants of a definition.
func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("rollup name must not be empty")
	}
	if !d.Granularity.Valid() {
		return fmt.Errorf("rollup %q: unsupported granularity %q", d.Name, d.Granularity)
	}
	if len(d.Measures) == 0 {
		return fmt.Errorf("rollup %q: at least one measure required", d.Name)
	}
	seenDims := make(map[string]bool, len(d.Dimensions))
	for _, dim := range d.Dimensions {
		if dim.Name == "" {
			return fmt.Errorf("rollup %q: dimension name must not be empty", d.Name)
		}
		if seenDims[dim.Name] {
			return fmt.Errorf("rollup %q: duplicate dimension %q", d.Name, dim.Name)
		}
		seenDims[dim.Name] = true
	}
	seenMeasures := make(map[string]bool, len(d.Measures))
	for _, m := range d.Measures {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("rollup %q: %w", d.Name, err)
		}
		if seenMeasures[m.Name] {
			return fmt.Errorf("rollup %q: duplicate measure %q", d.Name, m.Name)
		}
		seenMeasures[m.Name] = true
	}
	if d.Source.From == "" {
		return fmt.Errorf("rollup %q: source.from must not be empty", d.Name)
	}
	if d.Source.TimeColumn == "" {
		return fmt.Errorf("rollup %q: source.time_column must not be empty", d.Name)
	}
	if d.Cadence <= 0 {
		return fmt.Errorf("rollup %q: cadence must be positive", d.Name)
	}
	return nil
}

// Fingerprint returns a SHA-256 over the canonical serialized definition.
// Registration uses it to tell "same definition re-registered" apart from a
// genuine name collision.
func (d Definition) Fingerprint() string {
	var b strings.Builder
	fmt.Fprintf(&b, "name=%s|gran=%s|cadence=%s|max=%s\n", d.Name, d.Granularity, d.Cadence, d.MaxDuration)
	for _, dim := range d.Dimensions {
		fmt.Fprintf(&b, "dim=%s:%s\n", dim.Name, dim.Column)
	}
	for _, m := range d.Measures {
		fmt.Fprintf(&b, "measure=%s:%s:%s:%g:%t\n", m.Name, m.Op, m.Source, m.Percentile, m.SecondsToMinutes)
	}
	fmt.Fprintf(&b, "from=%s|time=%s|where=%s\n", d.Source.From, d.Source.TimeColumn, strings.Join(d.Source.Where, " AND "))
	return fmt.Sprintf("%x", sha256.Sum256([]byte(b.String())))
}

// ValueColumns returns the distinct source value columns the definition's
// measures read, in first-use order.
func (d Definition) ValueColumns() []string {
	var cols []string
	seen := make(map[string]bool)
	for _, m := range d.Measures {
		if m.Source == "" || seen[m.Source] {
			continue
		}
		seen[m.Source] = true
		cols = append(cols, m.Source)
	}
	return cols
}

// HasDimension reports whether name is one of the rollup's dimensions.
func (d Definition) HasDimension(name string) bool {
	for _, dim := range d.Dimensions {
		if dim.Name == name {
			return true
		}
	}
	return false
}
