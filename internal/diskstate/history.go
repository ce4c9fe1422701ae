package diskstate

import (
	"context"
	"fmt"
	"sort"

	"github.com/nzbgetd/nzbgetd/internal/queue"
)

// SaveHistory persists the queue's terminal history, a parallel sequence of
// full NzbInfo rows (in_history = 1) and slim dup_history rows (spec 3).
func (s *Store) SaveHistory(ctx context.Context, entries []queue.HistoryEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("diskstate: begin save history: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM nzbs WHERE in_history = 1`); err != nil {
		return fmt.Errorf("diskstate: clear history nzbs: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM dup_history`); err != nil {
		return fmt.Errorf("diskstate: clear dup history: %w", err)
	}

	for pos, entry := range entries {
		switch {
		case entry.Nzb != nil:
			if err := saveNzbTx(ctx, tx, entry.Nzb, pos, true); err != nil {
				return err
			}
		case entry.Dup != nil:
			d := entry.Dup
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO dup_history (id, position, filename, dupe_key, dupe_score, status)
				VALUES (?, ?, ?, ?, ?, ?)`,
				d.ID, pos, d.Filename, d.DupeKey, d.DupeScore, d.Status,
			); err != nil {
				return fmt.Errorf("diskstate: save dup history %s: %w", d.ID, err)
			}
		}
	}

	return tx.Commit()
}

// LoadHistory rebuilds the history sequence, ordered by each entry's
// originally saved position interleaved across both tables.
func (s *Store) LoadHistory(ctx context.Context) ([]queue.HistoryEntry, error) {
	type posEntry struct {
		pos   int
		entry queue.HistoryEntry
	}
	var all []posEntry

	nzbRows, err := s.db.QueryContext(ctx, `
		SELECT id, queue_position, filename, display_name, dest_dir, category,
			priority, dupe_key, dupe_score, size, remaining_size, paused_size, success_size,
			failed_size, par_size, par_success_size, par_failed_size, current_failed_size,
			par_current_failed_size, success_articles, failed_articles, delete_status,
			mark_status, par_status, unpack_status, move_status, health_paused, global_paused
		FROM nzbs WHERE in_history = 1`)
	if err != nil {
		return nil, fmt.Errorf("diskstate: load history nzbs: %w", err)
	}
	var loaded []*queue.NzbInfo
	var positions []int
	for nzbRows.Next() {
		n := &queue.NzbInfo{}
		var pos int
		if err := nzbRows.Scan(
			&n.ID, &pos, &n.Filename, &n.DisplayName, &n.DestDir, &n.Category,
			&n.Priority, &n.DupeKey, &n.DupeScore, &n.Size, &n.RemainingSize, &n.PausedSize, &n.SuccessSize,
			&n.FailedSize, &n.ParSize, &n.ParSuccessSize, &n.ParFailedSize, &n.CurrentFailedSize,
			&n.ParCurrentFailedSize, &n.SuccessArticles, &n.FailedArticles, &n.DeleteStatus,
			&n.MarkStatus, &n.ParStatus, &n.UnpackStatus, &n.MoveStatus, &n.HealthPaused, &n.GlobalPaused,
		); err != nil {
			nzbRows.Close()
			return nil, fmt.Errorf("diskstate: scan history nzb row: %w", err)
		}
		loaded = append(loaded, n)
		positions = append(positions, pos)
	}
	nzbRows.Close()
	if err := nzbRows.Err(); err != nil {
		return nil, fmt.Errorf("diskstate: iterate history nzbs: %w", err)
	}
	for i, n := range loaded {
		n.Parameters, err = s.loadNzbParameters(ctx, n.ID)
		if err != nil {
			return nil, err
		}
		n.Files, err = s.loadFiles(ctx, n.ID)
		if err != nil {
			return nil, err
		}
		n.CompletedFiles, err = s.loadCompletedFiles(ctx, n.ID)
		if err != nil {
			return nil, err
		}
		n.Recalc()
		all = append(all, posEntry{pos: positions[i], entry: queue.HistoryEntry{Nzb: n}})
	}

	dupRows, err := s.db.QueryContext(ctx, `SELECT id, position, filename, dupe_key, dupe_score, status FROM dup_history`)
	if err != nil {
		return nil, fmt.Errorf("diskstate: load dup history: %w", err)
	}
	defer dupRows.Close()
	for dupRows.Next() {
		d := &queue.DupInfo{}
		var pos int
		if err := dupRows.Scan(&d.ID, &pos, &d.Filename, &d.DupeKey, &d.DupeScore, &d.Status); err != nil {
			return nil, fmt.Errorf("diskstate: scan dup history row: %w", err)
		}
		all = append(all, posEntry{pos: pos, entry: queue.HistoryEntry{Dup: d}})
	}
	if err := dupRows.Err(); err != nil {
		return nil, fmt.Errorf("diskstate: iterate dup history: %w", err)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].pos < all[j].pos })

	out := make([]queue.HistoryEntry, len(all))
	for i, pe := range all {
		out[i] = pe.entry
	}
	return out, nil
}
