package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mesa-analytics/mesa/internal/rollup"
)

// FactSource implements refresh.FactSource over the base fact tables.
//
// Each fetch runs in a REPEATABLE READ read-only transaction, giving the
// whole snapshot one point-in-time view of the base tables without taking
// locks that would stall the operational write path.
type FactSource struct {
	db *sql.DB
}

// NewFactSource creates a fact source sharing the given connection.
func NewFactSource(db *sql.DB) *FactSource {
	return &FactSource{db: db}
}

// FetchFacts returns the qualifying fact rows for the definition.
func (f *FactSource) FetchFacts(ctx context.Context, def rollup.Definition) ([]rollup.FactRow, error) {
	query := buildFactQuery(def)
	valueCols := def.ValueColumns()

	tx, err := f.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelRepeatableRead,
		ReadOnly:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch facts: begin read tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("fetch facts: query: %w", err)
	}
	defer rows.Close()

	var facts []rollup.FactRow
	for rows.Next() {
		fact, err := scanFactRow(rows, def, valueCols)
		if err != nil {
			return nil, fmt.Errorf("fetch facts: %w", err)
		}
		facts = append(facts, fact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch facts: iterate rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("fetch facts: commit read tx: %w", err)
	}
	return facts, nil
}

// buildFactQuery renders the definition's source spec into a SELECT of the
// timestamp, the dimension columns (as text) and the measure value columns.
func buildFactQuery(def rollup.Definition) string {
	cols := make([]string, 0, 1+len(def.Dimensions)+len(def.Measures))
	cols = append(cols, def.Source.TimeColumn)
	for _, dim := range def.Dimensions {
		cols = append(cols, fmt.Sprintf("(%s)::text", dim.Column))
	}
	cols = append(cols, def.ValueColumns()...)

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(" FROM ")
	b.WriteString(def.Source.From)
	if len(def.Source.Where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(def.Source.Where, " AND "))
	}
	return b.String()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanFactRow scans one fact row: timestamp, dims, then value columns.
// A NULL value column is left out of Values: that measure simply has no
// sample from this row.
func scanFactRow(row scanner, def rollup.Definition, valueCols []string) (rollup.FactRow, error) {
	var ts time.Time
	dims := make([]sql.NullString, len(def.Dimensions))
	values := make([]sql.NullString, len(valueCols))

	dest := make([]interface{}, 0, 1+len(dims)+len(values))
	dest = append(dest, &ts)
	for i := range dims {
		dest = append(dest, &dims[i])
	}
	for i := range values {
		dest = append(dest, &values[i])
	}

	if err := row.Scan(dest...); err != nil {
		return rollup.FactRow{}, fmt.Errorf("scan fact row: %w", err)
	}

	fact := rollup.FactRow{
		Timestamp: ts,
		Dims:      make(map[string]string, len(def.Dimensions)),
		Values:    make(map[string]decimal.Decimal, len(valueCols)),
	}
	for i, dim := range def.Dimensions {
		fact.Dims[dim.Name] = dims[i].String
	}
	for i, col := range valueCols {
		if !values[i].Valid {
			continue
		}
		v, err := decimal.NewFromString(values[i].String)
		if err != nil {
			return rollup.FactRow{}, fmt.Errorf("parse value %s=%q: %w", col, values[i].String, err)
		}
		fact.Values[col] = v
	}
	return fact, nil
}
