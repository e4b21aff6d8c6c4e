package rollup

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Supported measure operators.
const (
	OpCount      = "count"
	OpSum        = "sum"
	OpAvg        = "avg"
	OpPercentile = "percentile"
)

var secondsPerMinute = decimal.NewFromInt(60)

// Measure is one aggregated output column of a rollup.
// Source names the fact value column it folds; empty for count.
// SecondsToMinutes divides the final value by 60: duration measures store
// seconds at the source and report minutes.
type Measure struct {
	Name             string  `yaml:"name"`
	Op               string  `yaml:"op"`
	Source           string  `yaml:"source"`
	Percentile       float64 `yaml:"percentile"`
	SecondsToMinutes bool    `yaml:"seconds_to_minutes"`
}

// Validate checks the measure is well-formed.
func (m Measure) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("measure name must not be empty")
	}
	if !validOp(m.Op) {
		return fmt.Errorf("measure %q: unsupported op %q", m.Name, m.Op)
	}
	if m.Op != OpCount && m.Source == "" {
		return fmt.Errorf("measure %q: op %s requires a source column", m.Name, m.Op)
	}
	if m.Op == OpPercentile && (m.Percentile <= 0 || m.Percentile >= 1) {
		return fmt.Errorf("measure %q: percentile must be in (0, 1), got %g", m.Name, m.Percentile)
	}
	return nil
}

func validOp(op string) bool {
	switch op {
	case OpCount, OpSum, OpAvg, OpPercentile:
		return true
	}
	return false
}

// accumulator folds qualifying sample values for one measure within one
// group. result reports ok=false when the measure has zero samples, which
// omits the whole bucket from the rollup output rather than emitting a
// null/NaN row.
type accumulator interface {
	add(v decimal.Decimal)
	result() (decimal.Decimal, bool)
}

// newAccumulator builds the fold state for a measure. Ops are validated at
// registration, so an unknown op cannot reach here.
func newAccumulator(m Measure) accumulator {
	switch m.Op {
	case OpCount:
		return &countAcc{}
	case OpSum:
		return &sumAcc{}
	case OpAvg:
		return &avgAcc{}
	default:
		return &percentileAcc{fraction: decimal.NewFromFloat(m.Percentile)}
	}
}

// countAcc counts qualifying rows; the sample value is ignored.
type countAcc struct {
	n int64
}

func (a *countAcc) add(decimal.Decimal) { a.n++ }
func (a *countAcc) result() (decimal.Decimal, bool) {
	return decimal.NewFromInt(a.n), true
}

type sumAcc struct {
	sum decimal.Decimal
}

func (a *sumAcc) add(v decimal.Decimal) { a.sum = a.sum.Add(v) }
func (a *sumAcc) result() (decimal.Decimal, bool) {
	return a.sum, true
}

// avgAcc is sum/count over the samples present. Zero samples reports ok=false
// rather than dividing by zero.
type avgAcc struct {
	sum decimal.Decimal
	n   int64
}

func (a *avgAcc) add(v decimal.Decimal) {
	a.sum = a.sum.Add(v)
	a.n++
}

func (a *avgAcc) result() (decimal.Decimal, bool) {
	if a.n == 0 {
		return decimal.Zero, false
	}
	return a.sum.Div(decimal.NewFromInt(a.n)), true
}

// percentileAcc implements continuous linear-interpolation percentile, the
// same semantics as PERCENTILE_CONT: rank h = p*(n-1) over the sorted
// samples, interpolate between floor(h) and floor(h)+1.
type percentileAcc struct {
	fraction decimal.Decimal
	samples  []decimal.Decimal
}

func (a *percentileAcc) add(v decimal.Decimal) { a.samples = append(a.samples, v) }

func (a *percentileAcc) result() (decimal.Decimal, bool) {
	n := len(a.samples)
	if n == 0 {
		return decimal.Zero, false
	}
	sorted := make([]decimal.Decimal, n)
	copy(sorted, a.samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	if n == 1 {
		return sorted[0], true
	}

	h := a.fraction.Mul(decimal.NewFromInt(int64(n - 1)))
	lower := h.Floor()
	frac := h.Sub(lower)
	idx := int(lower.IntPart())
	if idx >= n-1 {
		return sorted[n-1], true
	}
	return sorted[idx].Add(frac.Mul(sorted[idx+1].Sub(sorted[idx]))), true
}

// finalize applies the measure's unit normalization to a raw fold result.
func (m Measure) finalize(v decimal.Decimal) decimal.Decimal {
	if m.SecondsToMinutes {
		return v.Div(secondsPerMinute)
	}
	return v
}
