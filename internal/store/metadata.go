package store

import (
	"database/sql"

	"github.com/mbertin/ardoise/internal/model"
)

// SetMetadata upserts a key-value pair in the app_metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO app_metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM app_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetSchoolInfo stores the deployment identity as metadata rows.
func (s *Store) SetSchoolInfo(info model.SchoolInfo) error {
	pairs := []struct{ k, v string }{
		{"school", info.School},
		{"class", info.Class},
	}
	for _, p := range pairs {
		if err := s.SetMetadata(p.k, p.v); err != nil {
			return err
		}
	}
	return nil
}

// GetSchoolInfo reads the deployment identity from metadata.
func (s *Store) GetSchoolInfo() (model.SchoolInfo, error) {
	var info model.SchoolInfo
	var err error

	if info.School, err = s.GetMetadata("school"); err != nil {
		return info, err
	}
	if info.Class, err = s.GetMetadata("class"); err != nil {
		return info, err
	}
	return info, nil
}

// GetImportedFileHash returns the recorded content hash for a pack file,
// or empty string if the file was never imported.
func (s *Store) GetImportedFileHash(path string) (string, error) {
	var hash string
	err := s.db.QueryRow(`SELECT hash FROM imported_files WHERE path = ?`, path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return hash, err
}

// SetImportedFileHash records the content hash for a pack file.
func (s *Store) SetImportedFileHash(path, hash string) error {
	_, err := s.db.Exec(
		`INSERT INTO imported_files (path, hash) VALUES (?, ?)
		 ON CONFLICT(path) DO UPDATE SET hash = ?`,
		path, hash, hash,
	)
	return err
}
