package postgres

// SQL for snapshot storage. The meta row is the per-rollup "current snapshot
// pointer": staged rows stay invisible until the pointer flips, and readers
// join pointer and rows in one statement so they never straddle a swap.
const (
	querySelectMetaForUpdate = `
		SELECT version
		FROM rollup_meta
		WHERE rollup_name = $1
		FOR UPDATE
	`

	queryInitMetaRow = `
		INSERT INTO rollup_meta (rollup_name, snapshot_id, version, refreshed_at, row_count)
		VALUES ($1, $2, 0, $3, 0)
		ON CONFLICT (rollup_name) DO NOTHING
	`

	queryInsertSnapshotRow = `
		INSERT INTO rollup_snapshots (rollup_name, snapshot_id, bucket_ts, dim_key, dims, measures)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	queryUpdateMeta = `
		UPDATE rollup_meta
		SET snapshot_id = $1, version = $2, refreshed_at = $3, row_count = $4
		WHERE rollup_name = $5
	`

	queryDeleteSuperseded = `
		DELETE FROM rollup_snapshots
		WHERE rollup_name = $1 AND snapshot_id <> $2
	`

	queryCurrentSnapshot = `
		SELECT
			m.version,
			m.refreshed_at,
			s.bucket_ts,
			s.dims,
			s.measures
		FROM rollup_meta m
		LEFT JOIN rollup_snapshots s
			ON s.rollup_name = m.rollup_name AND s.snapshot_id = m.snapshot_id
		WHERE m.rollup_name = $1
		ORDER BY s.bucket_ts ASC NULLS LAST, s.dim_key ASC NULLS LAST
	`
)
