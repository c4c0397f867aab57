package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mbertin/ardoise/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS topics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		slug TEXT NOT NULL UNIQUE,
		title_en TEXT NOT NULL,
		title_fr TEXT NOT NULL,
		lang TEXT NOT NULL DEFAULT 'fr',
		level TEXT NOT NULL DEFAULT '',
		collector TEXT NOT NULL,
		policy TEXT NOT NULL,
		block_size INTEGER NOT NULL DEFAULT 0,
		max_errors INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		topic_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		prompt TEXT NOT NULL,
		answer TEXT NOT NULL,
		tokens TEXT NOT NULL DEFAULT '',
		options TEXT NOT NULL DEFAULT '',
		audio_ref TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (topic_id) REFERENCES topics(id)
	);

	CREATE TABLE IF NOT EXISTS history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at DATETIME NOT NULL,
		student TEXT NOT NULL DEFAULT '',
		level TEXT NOT NULL DEFAULT '',
		topic_slug TEXT NOT NULL,
		topic_title TEXT NOT NULL DEFAULT '',
		collector TEXT NOT NULL DEFAULT '',
		score INTEGER NOT NULL,
		total INTEGER NOT NULL,
		error_count INTEGER NOT NULL DEFAULT 0,
		elapsed_seconds INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'teacher' CHECK (role IN ('teacher', 'admin')),
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS app_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// InsertTopic stores a topic and returns its ID.
func (s *Store) InsertTopic(t model.Topic) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO topics (slug, title_en, title_fr, lang, level, collector, policy, block_size, max_errors, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Slug, t.TitleEN, t.TitleFR, t.Lang, t.Level, t.Collector, t.Policy, t.BlockSize, t.MaxErrors, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const topicCols = `id, slug, title_en, title_fr, lang, level, collector, policy, block_size, max_errors, created_at`

func scanTopic(row interface{ Scan(...any) error }) (model.Topic, error) {
	var t model.Topic
	err := row.Scan(&t.ID, &t.Slug, &t.TitleEN, &t.TitleFR, &t.Lang, &t.Level,
		&t.Collector, &t.Policy, &t.BlockSize, &t.MaxErrors, &t.CreatedAt)
	return t, err
}

// GetTopic returns a topic by slug. Missing slugs map to ErrTopicNotFound.
func (s *Store) GetTopic(slug string) (model.Topic, error) {
	t, err := scanTopic(s.db.QueryRow(`SELECT `+topicCols+` FROM topics WHERE slug = ?`, slug))
	if err == sql.ErrNoRows {
		return model.Topic{}, fmt.Errorf("%w: %s", model.ErrTopicNotFound, slug)
	}
	return t, err
}

// ListTopics returns all topics ordered by slug.
func (s *Store) ListTopics() ([]model.Topic, error) {
	rows, err := s.db.Query(`SELECT ` + topicCols + ` FROM topics ORDER BY slug`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var topics []model.Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// ListTopicsFiltered returns topics matching the given filters.
// Empty strings mean no filtering on that field.
func (s *Store) ListTopicsFiltered(level string, lang string) ([]model.Topic, error) {
	query := `SELECT ` + topicCols + ` FROM topics WHERE 1=1`
	var args []any
	if level != "" {
		query += ` AND level = ?`
		args = append(args, level)
	}
	if lang != "" {
		query += ` AND lang = ?`
		args = append(args, lang)
	}
	query += ` ORDER BY slug`
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var topics []model.Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// InsertItems stores a topic's items in one transaction, preserving order.
func (s *Store) InsertItems(topicID int64, items []model.ItemImport) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, it := range items {
		tokens, err := encodeStrings(it.Tokens)
		if err != nil {
			return err
		}
		options, err := encodeStrings(it.Options)
		if err != nil {
			return err
		}
		_, err = tx.Exec(
			`INSERT INTO items (topic_id, position, prompt, answer, tokens, options, audio_ref)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			topicID, i, it.Prompt, it.Answer, tokens, options, it.AudioRef,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListItems returns a topic's items in presentation order.
func (s *Store) ListItems(topicID int64) ([]model.Item, error) {
	rows, err := s.db.Query(
		`SELECT id, topic_id, position, prompt, answer, tokens, options, audio_ref
		 FROM items WHERE topic_id = ? ORDER BY position`, topicID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []model.Item
	for rows.Next() {
		var it model.Item
		var tokens, options string
		if err := rows.Scan(&it.ID, &it.TopicID, &it.Position, &it.Prompt, &it.Answer,
			&tokens, &options, &it.AudioRef); err != nil {
			return nil, err
		}
		if it.Tokens, err = decodeStrings(tokens); err != nil {
			return nil, err
		}
		if it.Options, err = decodeStrings(options); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// TopicCount returns the number of imported topics.
func (s *Store) TopicCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM topics`).Scan(&count)
	return count, err
}

// ListDistinctLevels returns the class levels present, ordered alphabetically.
func (s *Store) ListDistinctLevels() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT level FROM topics WHERE level != '' ORDER BY level`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var levels []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		levels = append(levels, l)
	}
	return levels, rows.Err()
}

func encodeStrings(in []string) (string, error) {
	if len(in) == 0 {
		return "", nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("encode string list: %w", err)
	}
	return string(b), nil
}

func decodeStrings(in string) ([]string, error) {
	if in == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(in), &out); err != nil {
		return nil, fmt.Errorf("decode string list: %w", err)
	}
	return out, nil
}
