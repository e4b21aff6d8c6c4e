package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mesa-analytics/mesa/internal/rollup"
)

// SnapshotStore implements refresh.SnapshotStore on PostgreSQL.
//
// Swap stages the full result set under a fresh snapshot id and flips the
// rollup's meta row in the same transaction. The version check under FOR
// UPDATE keeps versions monotonic even if two executors race; the unique
// index on (rollup_name, snapshot_id, bucket_ts, dim_key) turns an
// unexpected duplicate key into a rollback that leaves the previous snapshot
// live.
type SnapshotStore struct {
	db *sql.DB
}

// NewSnapshotStore creates a snapshot store sharing the given connection.
func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Swap atomically replaces the rollup's current snapshot with rows.
func (s *SnapshotStore) Swap(ctx context.Context, def rollup.Definition, rows []rollup.Row, refreshedAt time.Time) (int64, error) {
	snapshotID := uuid.New().String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("snapshot swap: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// Lock the meta row so concurrent swaps of the same rollup serialize and
	// the version only moves forward.
	var version int64
	err = tx.QueryRowContext(ctx, querySelectMetaForUpdate, def.Name).Scan(&version)
	if err == sql.ErrNoRows {
		if _, err = tx.ExecContext(ctx, queryInitMetaRow, def.Name, snapshotID, refreshedAt); err != nil {
			return 0, fmt.Errorf("snapshot swap: init meta row: %w", err)
		}
		if err = tx.QueryRowContext(ctx, querySelectMetaForUpdate, def.Name).Scan(&version); err != nil {
			return 0, fmt.Errorf("snapshot swap: read initialized meta row: %w", err)
		}
	}
	if err != nil {
		return 0, fmt.Errorf("snapshot swap: read meta row for update: %w", err)
	}

	insertStmt, err := tx.PrepareContext(ctx, queryInsertSnapshotRow)
	if err != nil {
		return 0, fmt.Errorf("snapshot swap: prepare insert: %w", err)
	}
	defer insertStmt.Close()

	for _, row := range rows {
		dimsJSON, measuresJSON, err := marshalRowJSON(row)
		if err != nil {
			return 0, fmt.Errorf("snapshot swap: %w", err)
		}
		if _, err := insertStmt.ExecContext(ctx,
			def.Name,
			snapshotID,
			row.Bucket,
			row.DimKey(def.Dimensions),
			dimsJSON,
			measuresJSON,
		); err != nil {
			return 0, fmt.Errorf("snapshot swap: stage row (bucket %s): %w", row.Bucket.Format(time.RFC3339), err)
		}
	}

	newVersion := version + 1
	result, err := tx.ExecContext(ctx, queryUpdateMeta, snapshotID, newVersion, refreshedAt, len(rows), def.Name)
	if err != nil {
		return 0, fmt.Errorf("snapshot swap: flip meta row: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("snapshot swap: check meta flip: %w", err)
	}
	if affected == 0 {
		return 0, fmt.Errorf("snapshot swap: meta row missing (rollup=%s)", def.Name)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("snapshot swap: commit: %w", err)
	}

	// Superseded rows are dead weight only; readers already follow the new
	// pointer. Cleanup failure is logged, not propagated.
	if _, err := s.db.ExecContext(ctx, queryDeleteSuperseded, def.Name, snapshotID); err != nil {
		slog.Warn("[SnapshotStore] Failed to delete superseded snapshot rows",
			"rollup", def.Name, "error", err)
	}

	slog.Info("[SnapshotStore] Swapped snapshot",
		"rollup", def.Name,
		"version", newVersion,
		"rows", len(rows),
	)
	return newVersion, nil
}

// Current returns the live snapshot of the rollup, reading the pointer and
// its rows from a single statement so the result is one consistent
// materialization. Returns nil if the rollup has never been refreshed.
func (s *SnapshotStore) Current(ctx context.Context, name string) (*rollup.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, queryCurrentSnapshot, name)
	if err != nil {
		return nil, fmt.Errorf("current snapshot: %w", err)
	}
	defer rows.Close()

	var snap *rollup.Snapshot

	for rows.Next() {
		var (
			version      int64
			refreshedAt  time.Time
			bucketTS     sql.NullTime
			dimsJSON     []byte
			measuresJSON []byte
		)
		if err := rows.Scan(&version, &refreshedAt, &bucketTS, &dimsJSON, &measuresJSON); err != nil {
			return nil, fmt.Errorf("current snapshot: scan row: %w", err)
		}

		if snap == nil {
			snap = &rollup.Snapshot{
				Rollup:      name,
				Version:     version,
				RefreshedAt: refreshedAt,
			}
		}

		// LEFT JOIN emits one row with NULL columns for an empty snapshot.
		if !bucketTS.Valid {
			continue
		}

		row := rollup.Row{Bucket: bucketTS.Time}
		if err := json.Unmarshal(dimsJSON, &row.Dims); err != nil {
			return nil, fmt.Errorf("current snapshot: unmarshal dims: %w", err)
		}
		if err := json.Unmarshal(measuresJSON, &row.Measures); err != nil {
			return nil, fmt.Errorf("current snapshot: unmarshal measures: %w", err)
		}
		snap.Rows = append(snap.Rows, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("current snapshot: iterate rows: %w", err)
	}
	return snap, nil
}

func marshalRowJSON(row rollup.Row) (dimsJSON, measuresJSON []byte, err error) {
	dims := row.Dims
	if dims == nil {
		dims = map[string]string{}
	}
	dimsJSON, err = json.Marshal(dims)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal dims: %w", err)
	}

	measures := row.Measures
	if measures == nil {
		measures = map[string]decimal.Decimal{}
	}
	measuresJSON, err = json.Marshal(measures)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal measures: %w", err)
	}
	return dimsJSON, measuresJSON, nil
}
