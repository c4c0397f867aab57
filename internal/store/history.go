package store

import (
	"time"

	"github.com/mbertin/ardoise/internal/model"
)

// AppendHistory inserts a finished-session summary and trims the table to
// limit entries, oldest first. limit <= 0 means keep everything.
func (s *Store) AppendHistory(e model.HistoryEntry, limit int) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO history (created_at, student, level, topic_slug, topic_title, collector, score, total, error_count, elapsed_seconds)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		time.Now(), e.Student, e.Level, e.TopicSlug, e.TopicTitle, e.Collector,
		e.Score, e.Total, e.ErrorCount, e.ElapsedSeconds,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if limit > 0 {
		_, err = s.db.Exec(
			`DELETE FROM history WHERE id NOT IN (SELECT id FROM history ORDER BY id DESC LIMIT ?)`, limit,
		)
		if err != nil {
			return 0, err
		}
	}
	return id, nil
}

// ListHistory returns history entries, newest first.
func (s *Store) ListHistory() ([]model.HistoryEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, created_at, student, level, topic_slug, topic_title, collector, score, total, error_count, elapsed_seconds
		 FROM history ORDER BY id DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []model.HistoryEntry
	for rows.Next() {
		var e model.HistoryEntry
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.Student, &e.Level, &e.TopicSlug,
			&e.TopicTitle, &e.Collector, &e.Score, &e.Total, &e.ErrorCount, &e.ElapsedSeconds); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ClearHistory deletes every history entry. Used by the explicit teacher
// action; there is no per-row delete.
func (s *Store) ClearHistory() error {
	_, err := s.db.Exec(`DELETE FROM history`)
	return err
}

// HistoryCount returns the number of stored history entries.
func (s *Store) HistoryCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM history`).Scan(&count)
	return count, err
}
