package cacheopt

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// History persists periodic Analytics snapshots to a local SQLite database
// so hit-rate trends survive a process restart.
type History struct {
	db *sql.DB
}

// OpenHistory opens (creating if absent) the snapshot history database at
// path.
func OpenHistory(path string) (*History, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "cacheopt: open history db")
	}
	const schema = `
CREATE TABLE IF NOT EXISTS analytics_snapshots (
	recorded_at TIMESTAMP NOT NULL,
	hit_rate REAL NOT NULL,
	total_requests INTEGER NOT NULL,
	avg_response_ms REAL NOT NULL,
	cache_size INTEGER NOT NULL,
	memory_usage INTEGER NOT NULL
)`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, eris.Wrap(err, "cacheopt: migrate history db")
	}
	return &History{db: db}, nil
}

// Close releases the underlying database handle.
func (h *History) Close() error { return h.db.Close() }

// Record appends one analytics Snapshot, stamped at recordedAt.
func (h *History) Record(ctx context.Context, snap Snapshot, recordedAt time.Time) error {
	_, err := h.db.ExecContext(ctx, `
INSERT INTO analytics_snapshots (recorded_at, hit_rate, total_requests, avg_response_ms, cache_size, memory_usage)
VALUES (?, ?, ?, ?, ?, ?)`,
		recordedAt, snap.HitRate, snap.TotalRequests, float64(snap.AverageResponseTime.Microseconds())/1000.0, snap.CacheSize, snap.MemoryUsage)
	if err != nil {
		return eris.Wrap(err, "cacheopt: record snapshot")
	}
	return nil
}

// RecentHitRates returns the hit rate of the last n recorded snapshots,
// most recent first.
func (h *History) RecentHitRates(ctx context.Context, n int) ([]float64, error) {
	rows, err := h.db.QueryContext(ctx, `SELECT hit_rate FROM analytics_snapshots ORDER BY recorded_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, eris.Wrap(err, "cacheopt: query history")
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var hitRate float64
		if err := rows.Scan(&hitRate); err != nil {
			return nil, eris.Wrap(err, "cacheopt: scan history row")
		}
		out = append(out, hitRate)
	}
	return out, rows.Err()
}
