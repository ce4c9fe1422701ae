package diskstate

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/nzbgetd/nzbgetd/internal/queue"
)

// SaveDownloadQueue persists the full active queue in one transaction,
// replacing whatever was previously stored for it (spec 4.9: the disk
// state must always reflect a consistent snapshot, crash-safe across
// restarts). Per-article detail is NOT written here -- SaveFileState writes
// it, but nothing in this module calls SaveFileState and the
// continue_partial setting is not read, so article progress is not saved.
func (s *Store) SaveDownloadQueue(ctx context.Context, q *queue.Queue) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("diskstate: begin save queue: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM nzbs WHERE in_history = 0`); err != nil {
		return fmt.Errorf("diskstate: clear active nzbs: %w", err)
	}

	nzbs := q.All()
	for pos, n := range nzbs {
		if err := saveNzbTx(ctx, tx, n, pos, false); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func saveNzbTx(ctx context.Context, tx *sql.Tx, n *queue.NzbInfo, pos int, inHistory bool) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO nzbs (
			id, queue_position, in_history, filename, display_name, dest_dir, category,
			priority, dupe_key, dupe_score, size, remaining_size, paused_size, success_size,
			failed_size, par_size, par_success_size, par_failed_size, current_failed_size,
			par_current_failed_size, success_articles, failed_articles, delete_status,
			mark_status, par_status, unpack_status, move_status, health_paused, global_paused
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			queue_position = excluded.queue_position,
			in_history = excluded.in_history,
			filename = excluded.filename,
			display_name = excluded.display_name,
			dest_dir = excluded.dest_dir,
			category = excluded.category,
			priority = excluded.priority,
			dupe_key = excluded.dupe_key,
			dupe_score = excluded.dupe_score,
			size = excluded.size,
			remaining_size = excluded.remaining_size,
			paused_size = excluded.paused_size,
			success_size = excluded.success_size,
			failed_size = excluded.failed_size,
			par_size = excluded.par_size,
			par_success_size = excluded.par_success_size,
			par_failed_size = excluded.par_failed_size,
			current_failed_size = excluded.current_failed_size,
			par_current_failed_size = excluded.par_current_failed_size,
			success_articles = excluded.success_articles,
			failed_articles = excluded.failed_articles,
			delete_status = excluded.delete_status,
			mark_status = excluded.mark_status,
			par_status = excluded.par_status,
			unpack_status = excluded.unpack_status,
			move_status = excluded.move_status,
			health_paused = excluded.health_paused,
			global_paused = excluded.global_paused`,
		n.ID, pos, inHistory, n.Filename, n.DisplayName, n.DestDir, n.Category,
		n.Priority, n.DupeKey, n.DupeScore, n.Size, n.RemainingSize, n.PausedSize, n.SuccessSize,
		n.FailedSize, n.ParSize, n.ParSuccessSize, n.ParFailedSize, n.CurrentFailedSize,
		n.ParCurrentFailedSize, n.SuccessArticles, n.FailedArticles, int(n.DeleteStatus),
		int(n.MarkStatus), int(n.ParStatus), int(n.UnpackStatus), int(n.MoveStatus),
		n.HealthPaused, n.GlobalPaused,
	)
	if err != nil {
		return fmt.Errorf("diskstate: save nzb %s: %w", n.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM nzb_parameters WHERE nzb_id = ?`, n.ID); err != nil {
		return fmt.Errorf("diskstate: clear nzb parameters %s: %w", n.ID, err)
	}
	for k, v := range n.Parameters {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO nzb_parameters (nzb_id, key, value) VALUES (?, ?, ?)`, n.ID, k, v); err != nil {
			return fmt.Errorf("diskstate: save nzb parameter %s/%s: %w", n.ID, k, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE nzb_id = ?`, n.ID); err != nil {
		return fmt.Errorf("diskstate: clear files for nzb %s: %w", n.ID, err)
	}
	for _, f := range n.Files {
		if err := saveFileTx(ctx, tx, n.ID, f); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM completed_files WHERE nzb_id = ?`, n.ID); err != nil {
		return fmt.Errorf("diskstate: clear completed files for nzb %s: %w", n.ID, err)
	}
	for _, cf := range n.CompletedFiles {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO completed_files (nzb_id, filename, status, crc32) VALUES (?, ?, ?, ?)`,
			n.ID, cf.Filename, int(cf.Status), cf.CRC32); err != nil {
			return fmt.Errorf("diskstate: save completed file %s/%s: %w", n.ID, cf.Filename, err)
		}
	}

	return nil
}

func saveFileTx(ctx context.Context, tx *sql.Tx, nzbID string, f *queue.FileInfo) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO files (
			id, nzb_id, subject, filename, filename_confirmed, size, remaining_size,
			success_size, failed_size, missed_size, is_par_file, paused, deleted,
			output_filename, posted_time, extra_priority, groups
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, nzbID, f.Subject, f.Filename, f.FilenameConfirmed, f.Size, f.RemainingSize,
		f.SuccessSize, f.FailedSize, f.MissedSize, f.IsParFile, f.Paused, f.Deleted,
		f.OutputFilename, f.Time, f.ExtraPriority, strings.Join(f.Groups, ","),
	)
	if err != nil {
		return fmt.Errorf("diskstate: save file %s: %w", f.ID, err)
	}
	return nil
}

// LoadDownloadQueue rebuilds the active queue from storage. Articles are
// deliberately NOT loaded here -- FileInfo.ArticlesLoaded is left false so
// the Scheduler's lazy-load contract (spec 4.3) still triggers the first
// time a file is considered, at which point the caller's ArticleLoader
// (typically built on Store.LoadFileState) reads the file's persisted
// article rows to populate Articles.
func (s *Store) LoadDownloadQueue(ctx context.Context) (*queue.Queue, error) {
	q := queue.New()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, queue_position, filename, display_name, dest_dir, category,
			priority, dupe_key, dupe_score, size, remaining_size, paused_size, success_size,
			failed_size, par_size, par_success_size, par_failed_size, current_failed_size,
			par_current_failed_size, success_articles, failed_articles, delete_status,
			mark_status, par_status, unpack_status, move_status, health_paused, global_paused
		FROM nzbs WHERE in_history = 0 ORDER BY queue_position ASC`)
	if err != nil {
		return nil, fmt.Errorf("diskstate: load nzbs: %w", err)
	}

	var loaded []*queue.NzbInfo
	for rows.Next() {
		n := &queue.NzbInfo{}
		if err := rows.Scan(
			&n.ID, new(int), &n.Filename, &n.DisplayName, &n.DestDir, &n.Category,
			&n.Priority, &n.DupeKey, &n.DupeScore, &n.Size, &n.RemainingSize, &n.PausedSize, &n.SuccessSize,
			&n.FailedSize, &n.ParSize, &n.ParSuccessSize, &n.ParFailedSize, &n.CurrentFailedSize,
			&n.ParCurrentFailedSize, &n.SuccessArticles, &n.FailedArticles, &n.DeleteStatus,
			&n.MarkStatus, &n.ParStatus, &n.UnpackStatus, &n.MoveStatus, &n.HealthPaused, &n.GlobalPaused,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("diskstate: scan nzb row: %w", err)
		}
		loaded = append(loaded, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("diskstate: iterate nzbs: %w", err)
	}

	for _, n := range loaded {
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
		q.AddNzb(n, false)
	}

	return q, nil
}

func (s *Store) loadNzbParameters(ctx context.Context, nzbID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM nzb_parameters WHERE nzb_id = ?`, nzbID)
	if err != nil {
		return nil, fmt.Errorf("diskstate: load parameters %s: %w", nzbID, err)
	}
	defer rows.Close()

	params := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("diskstate: scan parameter row %s: %w", nzbID, err)
		}
		params[k] = v
	}
	return params, rows.Err()
}

func (s *Store) loadFiles(ctx context.Context, nzbID string) ([]*queue.FileInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject, filename, filename_confirmed, size, remaining_size,
			success_size, failed_size, missed_size, is_par_file, paused, deleted,
			output_filename, posted_time, extra_priority, groups
		FROM files WHERE nzb_id = ? ORDER BY rowid ASC`, nzbID)
	if err != nil {
		return nil, fmt.Errorf("diskstate: load files %s: %w", nzbID, err)
	}
	defer rows.Close()

	var files []*queue.FileInfo
	for rows.Next() {
		f := &queue.FileInfo{NZBID: nzbID}
		var groups string
		if err := rows.Scan(
			&f.ID, &f.Subject, &f.Filename, &f.FilenameConfirmed, &f.Size, &f.RemainingSize,
			&f.SuccessSize, &f.FailedSize, &f.MissedSize, &f.IsParFile, &f.Paused, &f.Deleted,
			&f.OutputFilename, &f.Time, &f.ExtraPriority, &groups,
		); err != nil {
			return nil, fmt.Errorf("diskstate: scan file row %s: %w", nzbID, err)
		}
		if groups != "" {
			f.Groups = strings.Split(groups, ",")
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *Store) loadCompletedFiles(ctx context.Context, nzbID string) ([]queue.CompletedFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT filename, status, crc32 FROM completed_files WHERE nzb_id = ? ORDER BY rowid ASC`, nzbID)
	if err != nil {
		return nil, fmt.Errorf("diskstate: load completed files %s: %w", nzbID, err)
	}
	defer rows.Close()

	var out []queue.CompletedFile
	for rows.Next() {
		var cf queue.CompletedFile
		var status int
		if err := rows.Scan(&cf.Filename, &status, &cf.CRC32); err != nil {
			return nil, fmt.Errorf("diskstate: scan completed file row %s: %w", nzbID, err)
		}
		cf.Status = queue.CompletedFileStatus(status)
		out = append(out, cf)
	}
	return out, rows.Err()
}
