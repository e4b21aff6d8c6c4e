package rollup

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func salesHourDef() Definition {
	return Definition{
		Name:        "sales_hour",
		Granularity: GranularityHour,
		Dimensions: []Dimension{
			{Name: "store_id", Column: "s.store_id"},
			{Name: "channel_id", Column: "s.channel_id"},
		},
		Measures: []Measure{
			{Name: "orders", Op: OpCount},
			{Name: "revenue", Op: OpSum, Source: "s.total_amount"},
		},
		Source: Source{
			From:       "sales s",
			TimeColumn: "s.created_at",
			Where:      []string{"s.sale_status_desc = 'COMPLETED'"},
		},
		Cadence: 5 * time.Minute,
	}
}

func saleFact(ts time.Time, store, channel, amount string) FactRow {
	return FactRow{
		Timestamp: ts,
		Dims:      map[string]string{"store_id": store, "channel_id": channel},
		Values:    map[string]decimal.Decimal{"s.total_amount": dec(amount)},
	}
}

func TestBuildRows_HourlySalesExample(t *testing.T) {
	def := salesHourDef()
	bucket := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	// Three completed sales inside the 10:00 bucket totaling 300.00.
	facts := []FactRow{
		saleFact(bucket.Add(5*time.Minute), "1", "2", "100.00"),
		saleFact(bucket.Add(20*time.Minute), "1", "2", "120.50"),
		saleFact(bucket.Add(59*time.Minute), "1", "2", "79.50"),
	}

	rows, err := BuildRows(def, facts)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	require.True(t, bucket.Equal(row.Bucket))
	require.Equal(t, map[string]string{"store_id": "1", "channel_id": "2"}, row.Dims)
	require.True(t, dec("3").Equal(row.Measures["orders"]))
	require.True(t, dec("300").Equal(row.Measures["revenue"]))
}

func TestBuildRows_UniqueKeys(t *testing.T) {
	def := salesHourDef()
	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	var facts []FactRow
	for i := 0; i < 50; i++ {
		facts = append(facts,
			saleFact(base.Add(time.Duration(i)*time.Minute), "1", "1", "10"),
			saleFact(base.Add(time.Duration(i)*time.Minute), "1", "2", "10"),
			saleFact(base.Add(time.Duration(i)*time.Hour), "2", "1", "10"),
		)
	}

	rows, err := BuildRows(def, facts)
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, row := range rows {
		key := row.Bucket.Format(time.RFC3339) + "|" + row.DimKey(def.Dimensions)
		require.False(t, seen[key], "duplicate key %s", key)
		seen[key] = true
	}
}

func TestBuildRows_OmitsBucketWithNoQualifyingSamples(t *testing.T) {
	def := Definition{
		Name:        "delivery_p90",
		Granularity: GranularityDay,
		Dimensions:  []Dimension{{Name: "city", Column: "da.city"}},
		Measures: []Measure{
			{Name: "deliveries", Op: OpCount},
			{Name: "avg_delivery_minutes", Op: OpAvg, Source: "s.delivery_seconds", SecondsToMinutes: true},
			{Name: "p90_delivery_minutes", Op: OpPercentile, Source: "s.delivery_seconds", Percentile: 0.9, SecondsToMinutes: true},
		},
		Source:  Source{From: "sales s", TimeColumn: "s.created_at"},
		Cadence: time.Hour,
	}

	day := time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC)
	facts := []FactRow{
		// Recife has duration samples; Olinda's rows all lack one. A NULL
		// duration never becomes a zero sample or a NaN row.
		{
			Timestamp: day.Add(11 * time.Hour),
			Dims:      map[string]string{"city": "Recife"},
			Values:    map[string]decimal.Decimal{"s.delivery_seconds": dec("600")},
		},
		{
			Timestamp: day.Add(12 * time.Hour),
			Dims:      map[string]string{"city": "Recife"},
			Values:    map[string]decimal.Decimal{"s.delivery_seconds": dec("1800")},
		},
		{
			Timestamp: day.Add(13 * time.Hour),
			Dims:      map[string]string{"city": "Olinda"},
			Values:    map[string]decimal.Decimal{},
		},
	}

	rows, err := BuildRows(def, facts)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "Recife", rows[0].Dims["city"])
	require.True(t, dec("2").Equal(rows[0].Measures["deliveries"]))
	require.True(t, dec("20").Equal(rows[0].Measures["avg_delivery_minutes"]))
}

func TestBuildRows_P90DeliveryMinutesExact(t *testing.T) {
	def := Definition{
		Name:        "delivery_p90",
		Granularity: GranularityDay,
		Dimensions:  []Dimension{{Name: "city", Column: "da.city"}},
		Measures: []Measure{
			{Name: "p90_delivery_minutes", Op: OpPercentile, Source: "s.delivery_seconds", Percentile: 0.9, SecondsToMinutes: true},
		},
		Source:  Source{From: "sales s", TimeColumn: "s.created_at"},
		Cadence: time.Hour,
	}

	day := time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC)
	var facts []FactRow
	for _, secs := range []string{"600", "1200", "1800", "2400", "3000"} {
		facts = append(facts, FactRow{
			Timestamp: day.Add(10 * time.Hour),
			Dims:      map[string]string{"city": "Recife"},
			Values:    map[string]decimal.Decimal{"s.delivery_seconds": dec(secs)},
		})
	}

	rows, err := BuildRows(def, facts)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	// PERCENTILE_CONT(0.9) over the seconds, then /60: exactly 46 minutes.
	got := rows[0].Measures["p90_delivery_minutes"]
	require.True(t, dec("46").Equal(got), "want 46, got %s", got)
}

func TestBuildRows_DayBucketing(t *testing.T) {
	def := salesHourDef()
	def.Granularity = GranularityDay

	facts := []FactRow{
		saleFact(time.Date(2025, 1, 1, 0, 30, 0, 0, time.UTC), "1", "1", "10"),
		saleFact(time.Date(2025, 1, 1, 23, 59, 59, 0, time.UTC), "1", "1", "15"),
		saleFact(time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), "1", "1", "20"),
	}

	rows, err := BuildRows(def, facts)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.True(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Equal(rows[0].Bucket))
	require.True(t, dec("25").Equal(rows[0].Measures["revenue"]))
	require.True(t, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC).Equal(rows[1].Bucket))
	require.True(t, dec("20").Equal(rows[1].Measures["revenue"]))
}

func TestBuildRows_SortedByBucketThenDims(t *testing.T) {
	def := salesHourDef()
	h10 := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	h9 := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

	facts := []FactRow{
		saleFact(h10.Add(time.Minute), "2", "1", "10"),
		saleFact(h9.Add(time.Minute), "9", "9", "10"),
		saleFact(h10.Add(time.Minute), "1", "1", "10"),
	}

	rows, err := BuildRows(def, facts)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.True(t, h9.Equal(rows[0].Bucket))
	require.Equal(t, "1", rows[1].Dims["store_id"])
	require.Equal(t, "2", rows[2].Dims["store_id"])
}

func TestBuildRows_EmptyInput(t *testing.T) {
	rows, err := BuildRows(salesHourDef(), nil)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestBuildRows_ZeroTimestampRejected(t *testing.T) {
	_, err := BuildRows(salesHourDef(), []FactRow{{Dims: map[string]string{}}})
	require.Error(t, err)
}
