package rollup

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// group is the in-flight fold state for one (bucket, dimension-tuple) key.
type group struct {
	bucket time.Time
	dims   map[string]string
	accs   []accumulator
}

// BuildRows evaluates a rollup definition over qualifying fact rows: group by
// (bucket, dimension-tuple), fold each measure, emit one row per group.
//
// A group where any avg/percentile measure collected zero samples is omitted
// entirely; the rollup never carries null or NaN cells. Output is sorted by
// bucket then dimension key, and keys are guaranteed unique by construction.
func BuildRows(def Definition, facts []FactRow) ([]Row, error) {
	groups := make(map[string]*group)

	for i, f := range facts {
		if f.Timestamp.IsZero() {
			return nil, fmt.Errorf("fact row %d: zero timestamp", i)
		}
		bucket := def.Granularity.Truncate(f.Timestamp)
		key := groupKey(def, bucket, f.Dims)

		g, ok := groups[key]
		if !ok {
			dims := make(map[string]string, len(def.Dimensions))
			for _, dim := range def.Dimensions {
				dims[dim.Name] = f.Dims[dim.Name]
			}
			accs := make([]accumulator, len(def.Measures))
			for j, m := range def.Measures {
				accs[j] = newAccumulator(m)
			}
			g = &group{bucket: bucket, dims: dims, accs: accs}
			groups[key] = g
		}

		for j, m := range def.Measures {
			if m.Op == OpCount {
				g.accs[j].add(decimal.Zero)
				continue
			}
			v, ok := f.Values[m.Source]
			if !ok {
				continue
			}
			g.accs[j].add(v)
		}
	}

	rows := make([]Row, 0, len(groups))
	for _, g := range groups {
		row := Row{
			Bucket:   g.bucket,
			Dims:     g.dims,
			Measures: make(map[string]decimal.Decimal, len(def.Measures)),
		}
		complete := true
		for j, m := range def.Measures {
			v, ok := g.accs[j].result()
			if !ok {
				complete = false
				break
			}
			row.Measures[m.Name] = m.finalize(v)
		}
		if !complete {
			continue
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].Bucket.Equal(rows[j].Bucket) {
			return rows[i].Bucket.Before(rows[j].Bucket)
		}
		return rows[i].DimKey(def.Dimensions) < rows[j].DimKey(def.Dimensions)
	})

	return rows, nil
}

func groupKey(def Definition, bucket time.Time, dims map[string]string) string {
	var b strings.Builder
	b.WriteString(bucket.UTC().Format(time.RFC3339))
	for _, d := range def.Dimensions {
		b.WriteByte('\x1f')
		b.WriteString(dims[d.Name])
	}
	return b.String()
}
