package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mesa-analytics/mesa/internal/rollup"
)

func TestBuildFactQuery(t *testing.T) {
	tests := []struct {
		name string
		def  rollup.Definition
		want string
	}{
		{
			name: "dimensions and measures with filters",
			def: rollup.Definition{
				Name: "sales_hour",
				Dimensions: []rollup.Dimension{
					{Name: "store_id", Column: "s.store_id"},
					{Name: "channel_id", Column: "s.channel_id"},
				},
				Measures: []rollup.Measure{
					{Name: "orders", Op: rollup.OpCount},
					{Name: "revenue", Op: rollup.OpSum, Source: "s.total_amount"},
					{Name: "discounts", Op: rollup.OpSum, Source: "s.total_discount"},
				},
				Source: rollup.Source{
					From:       "sales s",
					TimeColumn: "s.created_at",
					Where:      []string{"s.sale_status_desc = 'COMPLETED'", "s.created_at IS NOT NULL"},
				},
			},
			want: "SELECT s.created_at, (s.store_id)::text, (s.channel_id)::text, s.total_amount, s.total_discount" +
				" FROM sales s WHERE s.sale_status_desc = 'COMPLETED' AND s.created_at IS NOT NULL",
		},
		{
			name: "no filters",
			def: rollup.Definition{
				Name:       "delivery",
				Dimensions: []rollup.Dimension{{Name: "city", Column: "da.city"}},
				Measures: []rollup.Measure{
					{Name: "avg_seconds", Op: rollup.OpAvg, Source: "s.delivery_seconds"},
				},
				Source: rollup.Source{
					From:       "sales s JOIN delivery_addresses da ON da.sale_id = s.id",
					TimeColumn: "s.created_at",
				},
			},
			want: "SELECT s.created_at, (da.city)::text, s.delivery_seconds" +
				" FROM sales s JOIN delivery_addresses da ON da.sale_id = s.id",
		},
		{
			name: "shared value column selected once",
			def: rollup.Definition{
				Name: "delivery",
				Measures: []rollup.Measure{
					{Name: "avg_seconds", Op: rollup.OpAvg, Source: "s.delivery_seconds"},
					{Name: "p90_seconds", Op: rollup.OpPercentile, Source: "s.delivery_seconds", Percentile: 0.9},
				},
				Source: rollup.Source{From: "sales s", TimeColumn: "s.created_at"},
			},
			want: "SELECT s.created_at, s.delivery_seconds FROM sales s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, buildFactQuery(tt.def))
		})
	}
}

func TestFactSourceFetchFacts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	def := storeTestDef()
	query := buildFactQuery(def)
	ts := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(query)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "store_id", "channel_id", "total_amount"}).
			AddRow(ts, "1", "4", "100.50").
			AddRow(ts.Add(time.Minute), "2", "4", "49.50"))
	mock.ExpectCommit()

	source := NewFactSource(db)
	facts, err := source.FetchFacts(context.Background(), def)
	require.NoError(t, err)
	require.Len(t, facts, 2)

	require.Equal(t, ts, facts[0].Timestamp)
	require.Equal(t, map[string]string{"store_id": "1", "channel_id": "4"}, facts[0].Dims)
	require.True(t, facts[0].Values["s.total_amount"].Equal(decimal.RequireFromString("100.50")))
	require.Equal(t, "2", facts[1].Dims["store_id"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFactSourceNullValueOmitted(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	def := rollup.Definition{
		Name:       "delivery_p90",
		Dimensions: []rollup.Dimension{{Name: "city", Column: "da.city"}},
		Measures: []rollup.Measure{
			{Name: "avg_minutes", Op: rollup.OpAvg, Source: "s.delivery_seconds"},
		},
		Source: rollup.Source{From: "sales s", TimeColumn: "s.created_at"},
	}
	ts := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(buildFactQuery(def))).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "city", "delivery_seconds"}).
			AddRow(ts, "Recife", "1200").
			AddRow(ts, "Recife", nil))
	mock.ExpectCommit()

	source := NewFactSource(db)
	facts, err := source.FetchFacts(context.Background(), def)
	require.NoError(t, err)
	require.Len(t, facts, 2)

	_, ok := facts[0].Values["s.delivery_seconds"]
	require.True(t, ok)
	_, ok = facts[1].Values["s.delivery_seconds"]
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFactSourceUnparseableValue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	def := storeTestDef()
	ts := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(buildFactQuery(def))).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "store_id", "channel_id", "total_amount"}).
			AddRow(ts, "1", "4", "not-a-number"))
	mock.ExpectRollback()

	source := NewFactSource(db)
	_, err = source.FetchFacts(context.Background(), def)
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse value")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFactSourceQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	def := storeTestDef()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(buildFactQuery(def))).
		WillReturnError(errDuplicateKey{})
	mock.ExpectRollback()

	source := NewFactSource(db)
	_, err = source.FetchFacts(context.Background(), def)
	require.Error(t, err)
	require.Contains(t, err.Error(), "fetch facts: query")
	require.NoError(t, mock.ExpectationsWereMet())
}
