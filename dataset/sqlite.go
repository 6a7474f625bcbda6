package dataset

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS processed_files (
	file_name TEXT NOT NULL,
	scale INTEGER NOT NULL,
	payload TEXT NOT NULL,
	PRIMARY KEY (file_name, scale)
);`

// SQLiteStore keeps one row per (file, scale), so a save only touches the rows of the
// file that changed.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (creating if needed) the SQLite database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create directory for %s", path)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	// A single connection serializes writers within the process.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to create schema in %s", path)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Path implements Store.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Load implements Store.
func (s *SQLiteStore) Load() (Database, error) {
	rows, err := s.db.Query("SELECT file_name, scale, payload FROM processed_files")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query %s", s.path)
	}
	defer rows.Close()

	db := Database{}
	for rows.Next() {
		var (
			fileName string
			scale    int
			payload  string
		)
		if err := rows.Scan(&fileName, &scale, &payload); err != nil {
			return nil, errors.Wrapf(ErrCacheCorrupt, "%s: %v", s.path, err)
		}

		dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
		dec.DisallowUnknownFields()
		var pf ProcessedFile
		if err := dec.Decode(&pf); err != nil {
			return nil, errors.Wrapf(ErrCacheCorrupt, "%s: %s (x%d): %v", s.path, fileName, scale, err)
		}

		if db[fileName] == nil {
			db[fileName] = map[int]ProcessedFile{}
		}
		db[fileName][scale] = pf
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", s.path)
	}

	if err := db.Validate(); err != nil {
		return nil, errors.Wrapf(err, "%s", s.path)
	}
	return db, nil
}

// Save implements Store by upserting every scale of fileName in one transaction.
func (s *SQLiteStore) Save(db Database, fileName string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	for scale, pf := range db[fileName] {
		payload, err := json.Marshal(pf)
		if err != nil {
			return errors.Wrapf(err, "failed to marshal %s", fileName)
		}
		_, err = tx.Exec(`INSERT INTO processed_files (file_name, scale, payload) VALUES (?, ?, ?)
			ON CONFLICT(file_name, scale) DO UPDATE SET payload = excluded.payload`,
			fileName, scale, string(payload))
		if err != nil {
			return errors.Wrapf(err, "failed to save %s", fileName)
		}
	}

	return errors.Wrap(tx.Commit(), "failed to commit")
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
