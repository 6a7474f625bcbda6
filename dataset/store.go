package dataset

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-sr-bench/images"
)

// StoreKind selects a persistence backend.
type StoreKind string

const (
	// StoreJSON keeps the whole database in a single database.json document.
	StoreJSON StoreKind = "json"
	// StoreSQLite keeps one row per (file, scale) in database.sqlite.
	StoreSQLite StoreKind = "sqlite"
)

// Store persists a dataset database.
type Store interface {
	// Load returns the persisted database, or an empty one if nothing was persisted yet.
	Load() (Database, error)
	// Save persists the current state of fileName. Implementations may rewrite more.
	Save(db Database, fileName string) error
	// Path is the location of the backing file.
	Path() string
	Close() error
}

// OpenStore opens the store of the given kind inside dir.
//
// Arguments:
//   - kind: The backend. Empty means StoreJSON.
//   - dir: The per-dataset cache directory.
//
// Returns:
//   - Store: The opened store.
//   - error: An error for unknown kinds or backends that fail to open.
func OpenStore(kind StoreKind, dir string) (Store, error) {
	switch kind {
	case "", StoreJSON:
		return NewJSONStore(filepath.Join(dir, "database.json")), nil
	case StoreSQLite:
		return NewSQLiteStore(filepath.Join(dir, "database.sqlite"))
	default:
		return nil, errors.Wrapf(ErrInvalidDefinition, "unknown store %q", kind)
	}
}

// JSONStore rewrites the whole database document on every save.
type JSONStore struct {
	mu   sync.Mutex
	path string
}

// NewJSONStore creates a store backed by the JSON document at path.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// Path implements Store.
func (s *JSONStore) Path() string {
	return s.path
}

// Load implements Store. The document is decoded strictly and validated.
func (s *JSONStore) Load() (Database, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Database{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", s.path)
	}

	db, err := decodeDatabase(data)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", s.path)
	}
	return db, nil
}

// Save implements Store by rewriting the document atomically.
func (s *JSONStore) Save(db Database, fileName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(db, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal dataset database")
	}
	return images.WriteFile(s.path, data)
}

// Close implements Store.
func (s *JSONStore) Close() error {
	return nil
}

func decodeDatabase(data []byte) (Database, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var db Database
	if err := dec.Decode(&db); err != nil {
		return nil, errors.Wrapf(ErrCacheCorrupt, "%v", err)
	}
	if db == nil {
		db = Database{}
	}
	if err := db.Validate(); err != nil {
		return nil, err
	}
	return db, nil
}
