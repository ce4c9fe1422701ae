package diskstate

import (
	"context"
	"fmt"

	"github.com/nzbgetd/nzbgetd/internal/statmeter"
)

// SaveStats persists the per-server success/fail counters (spec 4.8: "counts
// are maintained separately and persisted").
func (s *Store) SaveStats(ctx context.Context, stats *statmeter.ServerStats) error {
	snapshot := stats.Snapshot()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("diskstate: begin save stats: %w", err)
	}
	defer tx.Rollback()

	for serverID, counts := range snapshot {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO server_stats (server_id, success, failed) VALUES (?, ?, ?)
			ON CONFLICT(server_id) DO UPDATE SET success = excluded.success, failed = excluded.failed`,
			serverID, counts[0], counts[1],
		); err != nil {
			return fmt.Errorf("diskstate: save stats %s: %w", serverID, err)
		}
	}

	return tx.Commit()
}

// LoadStats rebuilds a ServerStats from whatever was last saved.
func (s *Store) LoadStats(ctx context.Context) (*statmeter.ServerStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT server_id, success, failed FROM server_stats`)
	if err != nil {
		return nil, fmt.Errorf("diskstate: load stats: %w", err)
	}
	defer rows.Close()

	snapshot := map[string][2]int64{}
	for rows.Next() {
		var id string
		var success, failed int64
		if err := rows.Scan(&id, &success, &failed); err != nil {
			return nil, fmt.Errorf("diskstate: scan stats row: %w", err)
		}
		snapshot[id] = [2]int64{success, failed}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("diskstate: iterate stats: %w", err)
	}

	stats := statmeter.NewServerStats()
	stats.Restore(snapshot)
	return stats, nil
}
