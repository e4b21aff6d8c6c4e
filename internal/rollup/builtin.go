package rollup

import "time"

// Defaults carries the deployment-tunable cadences for the built-in rollups.
// The stock values reflect query cost vs. freshness on the production fact
// tables; they are configuration, not constants.
type Defaults struct {
	SalesHourCadence   time.Duration
	ProductDayCadence  time.Duration
	DeliveryP90Cadence time.Duration
	MaxRefreshDuration time.Duration
}

// BuiltinDefinitions returns the three production rollups: hourly sales by
// store and channel, daily product sales, and daily delivery-time
// percentiles by city and neighborhood.
func BuiltinDefinitions(d Defaults) []Definition {
	return []Definition{
		{
			Name:        "sales_hour",
			Granularity: GranularityHour,
			Dimensions: []Dimension{
				{Name: "store_id", Column: "s.store_id"},
				{Name: "channel_id", Column: "s.channel_id"},
			},
			Measures: []Measure{
				{Name: "orders", Op: OpCount},
				{Name: "revenue", Op: OpSum, Source: "s.total_amount"},
				{Name: "items_value", Op: OpSum, Source: "s.total_amount_items"},
				{Name: "discounts", Op: OpSum, Source: "s.total_discount"},
			},
			Source: Source{
				From:       "sales s",
				TimeColumn: "s.created_at",
				Where:      []string{"s.sale_status_desc = 'COMPLETED'"},
			},
			Cadence:     d.SalesHourCadence,
			MaxDuration: d.MaxRefreshDuration,
		},
		{
			Name:        "product_day",
			Granularity: GranularityDay,
			Dimensions: []Dimension{
				{Name: "product_id", Column: "ps.product_id"},
				{Name: "product_name", Column: "p.name"},
			},
			Measures: []Measure{
				{Name: "orders", Op: OpCount},
				{Name: "revenue", Op: OpSum, Source: "ps.total_price"},
				{Name: "qty", Op: OpSum, Source: "ps.quantity"},
			},
			Source: Source{
				From:       "product_sales ps JOIN sales s ON s.id = ps.sale_id JOIN products p ON p.id = ps.product_id",
				TimeColumn: "s.created_at",
				Where:      []string{"s.sale_status_desc = 'COMPLETED'"},
			},
			Cadence:     d.ProductDayCadence,
			MaxDuration: d.MaxRefreshDuration,
		},
		{
			Name:        "delivery_p90",
			Granularity: GranularityDay,
			Dimensions: []Dimension{
				{Name: "city", Column: "da.city"},
				{Name: "neighborhood", Column: "da.neighborhood"},
			},
			Measures: []Measure{
				{Name: "deliveries", Op: OpCount},
				{Name: "avg_delivery_minutes", Op: OpAvg, Source: "s.delivery_seconds", SecondsToMinutes: true},
				{Name: "p90_delivery_minutes", Op: OpPercentile, Source: "s.delivery_seconds", Percentile: 0.9, SecondsToMinutes: true},
			},
			Source: Source{
				From:       "sales s JOIN delivery_addresses da ON da.sale_id = s.id",
				TimeColumn: "s.created_at",
				Where: []string{
					"s.sale_status_desc = 'COMPLETED'",
					"s.delivery_seconds IS NOT NULL",
				},
			},
			Cadence:     d.DeliveryP90Cadence,
			MaxDuration: d.MaxRefreshDuration,
		},
	}
}
