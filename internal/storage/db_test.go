package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentwatch/agentwatch/pkg/models"
)

func TestNew_OpensWALDatabaseInNestedDir(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "data", "agentwatch.db")

	db, err := New(dbPath)
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(dbPath)
	require.NoError(t, err)

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var busy int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busy))
	assert.Equal(t, 5000, busy)

	assert.Equal(t, 1, db.Stats().MaxOpenConnections)
}

func TestNew_InvalidPath(t *testing.T) {
	_, err := New("/dev/null/agentwatch.db")
	assert.Error(t, err)
}

// columnTypes maps column name to declared type for table
func columnTypes(t *testing.T, db *DB, table string) map[string]string {
	t.Helper()
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	require.NoError(t, err)
	defer rows.Close()

	cols := make(map[string]string)
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             sql.NullString
		)
		require.NoError(t, rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk))
		cols[name] = typ
	}
	require.NoError(t, rows.Err())
	return cols
}

func TestDB_MigrateSchema(t *testing.T) {
	db := newTestDB(t)

	tests := []struct {
		table string
		want  map[string]string
	}{
		{
			table: "samples",
			want: map[string]string{
				"id":        "TEXT",
				"ts":        "INTEGER",
				"entity_id": "TEXT",
				"payload":   "BLOB",
			},
		},
		{
			table: "error_records",
			want: map[string]string{
				"ts":          "INTEGER",
				"error_type":  "TEXT",
				"message":     "BLOB",
				"retry_count": "INTEGER",
				"resolved":    "INTEGER",
				"resolved_at": "INTEGER",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			cols := columnTypes(t, db, tt.table)
			for name, typ := range tt.want {
				assert.Equal(t, typ, cols[name], "column %s.%s", tt.table, name)
			}
		})
	}
}

func TestDB_MigrateIndexes(t *testing.T) {
	db := newTestDB(t)

	want := map[string]string{
		"idx_samples_ts":             "samples",
		"idx_samples_entity_ts":      "samples",
		"idx_error_records_ts":       "error_records",
		"idx_error_records_resolved": "error_records",
	}

	for index, table := range want {
		var got string
		err := db.QueryRow("SELECT tbl_name FROM sqlite_master WHERE type='index' AND name=?", index).Scan(&got)
		require.NoError(t, err, "index %s should exist", index)
		assert.Equal(t, table, got)
	}
}

func TestDB_EntityRangeUsesIndex(t *testing.T) {
	db := newTestDB(t)

	rows, err := db.Query(`EXPLAIN QUERY PLAN
		SELECT id FROM samples WHERE entity_id = ? AND ts >= ? AND ts <= ?`,
		"agent-1", 0, time.Now().UnixNano())
	require.NoError(t, err)
	defer rows.Close()

	var plan string
	for rows.Next() {
		var id, parent, notUsed int
		var detail string
		require.NoError(t, rows.Scan(&id, &parent, &notUsed, &detail))
		plan += detail + "\n"
	}
	require.NoError(t, rows.Err())
	assert.Contains(t, plan, "idx_samples_entity_ts")
}

func TestDB_MigrateKeepsSealedRowsReadable(t *testing.T) {
	db := newTestDB(t)
	sealer := newTestSealer(t)
	ctx := context.Background()

	ts := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	samples := NewSampleStore(db, sealer)
	_, err := samples.Append(ctx, []models.CostSample{testSample("agent-1", ts, "1.2345")})
	require.NoError(t, err)

	records := NewErrorRecordStore(db, sealer)
	rec := &models.ErrorRecord{
		Timestamp: ts,
		EntityID:  "agent-1",
		ErrorType: models.ErrorTypeTimeout,
		Message:   "upstream timed out",
	}
	require.NoError(t, records.Create(ctx, rec))

	// a restart runs migrations over the existing file
	require.NoError(t, db.Migrate(ctx))
	require.NoError(t, db.Migrate(ctx))

	got, err := samples.Range(ctx, ts.Add(-time.Minute), ts.Add(time.Minute), "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "1.2345", got[0].CostUSD.String())
	assert.True(t, got[0].Timestamp.Equal(ts))

	stored, err := records.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "upstream timed out", stored.Message)

	var rawTS int64
	require.NoError(t, db.QueryRow("SELECT ts FROM samples").Scan(&rawTS))
	assert.Equal(t, ts.UnixNano(), rawTS)
}

func TestDB_Close(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "agentwatch.db"))
	require.NoError(t, err)

	require.NoError(t, db.Close())
	assert.Error(t, db.Ping())
}

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(filepath.Join(t.TempDir(), "agentwatch.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))

	t.Cleanup(func() {
		db.Close()
	})

	return db
}
