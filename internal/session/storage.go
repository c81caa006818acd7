package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrMalformedState is returned when a persisted session record cannot be
// decoded or violates the session invariants.
var ErrMalformedState = errors.New("malformed persisted session")

// Record is the durable form of a session. Metadata also holds the
// settings of removed clips so that re-adding them restores their tuning.
type Record struct {
	OrderedIDs   []string                `json:"orderedIds"`
	Metadata     map[string]MemberRecord `json:"metadata"`
	MasterVolume *int                    `json:"masterVolume,omitempty"`
}

// MemberRecord is the durable form of a Member; absent fields take defaults.
type MemberRecord struct {
	Volume *int  `json:"volume,omitempty"`
	Loop   *bool `json:"loop,omitempty"`
}

// Storage is the persistence abstraction for the session. The Store
// overwrites the whole record after every mutation and reads it once at
// startup.
type Storage interface {
	// Load returns the stored record. ok is false when none exists yet.
	Load() (rec Record, ok bool, err error)
	Save(rec Record) error
}

// InMemoryStorage is an in-memory implementation of Storage.
type InMemoryStorage struct {
	mu  sync.Mutex
	rec []byte
}

// NewInMemoryStorage returns an empty in-memory storage.
func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{}
}

// Load implements Storage.Load.
func (s *InMemoryStorage) Load() (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return Record{}, false, nil
	}
	return decodeRecord(s.rec)
}

// Save implements Storage.Save.
func (s *InMemoryStorage) Save(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = data
	return nil
}

// FileStorage keeps the session record in a JSON file. Saves write a
// temporary file next to it and rename it over the old one.
type FileStorage struct {
	mu   sync.Mutex
	path string
}

// NewFileStorage returns a storage backed by the file at path.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

// Load implements Storage.Load.
func (s *FileStorage) Load() (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("read session %s: %w", s.path, err)
	}
	return decodeRecord(data)
}

// Save implements Storage.Save.
func (s *FileStorage) Save(rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

func decodeRecord(data []byte) (Record, bool, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, true, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}
	return rec, true, nil
}
