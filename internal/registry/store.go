// Package registry is the session record store: one JSON file per session
// under the state directory, written atomically.
package registry

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"pkt.systems/pslog"

	"pkt.systems/sitesmith/schema"
)

// Store persists session records to disk.
type Store struct {
	dir string
	log pslog.Logger
}

// NewStore constructs a registry at the given directory.
func NewStore(dir string) (*Store, error) {
	return NewStoreWithLogger(dir, nil)
}

// NewStoreWithLogger constructs a registry with logging.
func NewStoreWithLogger(dir string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("state_dir", dir)
	}
	return &Store{dir: dir, log: logger}, nil
}

// Contains reports whether a record exists for the session.
func (s *Store) Contains(id schema.SessionID) bool {
	_, err := os.Stat(s.pathFor(id))
	return err == nil
}

// Get reads one session record.
func (s *Store) Get(id schema.SessionID) (schema.SessionRecord, error) {
	data, err := os.ReadFile(s.pathFor(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return schema.SessionRecord{}, schema.ErrSessionNotFound
		}
		if s.log != nil {
			s.log.Warn("registry read failed", "session", id, "err", err)
		}
		return schema.SessionRecord{}, err
	}
	var record schema.SessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		if s.log != nil {
			s.log.Warn("registry decode failed", "session", id, "err", err)
		}
		return schema.SessionRecord{}, err
	}
	return record, nil
}

// Set writes one session record atomically.
func (s *Store) Set(record schema.SessionRecord) error {
	if record.ID == "" {
		return errors.New("record id is required")
	}
	path := s.pathFor(record.ID)
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, "session-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		if s.log != nil {
			s.log.Warn("registry write failed", "session", record.ID, "err", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Trace("registry write ok", "session", record.ID, "status", record.Status)
	}
	return nil
}

// Delete removes one session record. Missing records are not an error.
func (s *Store) Delete(id schema.SessionID) error {
	err := os.Remove(s.pathFor(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// List returns every stored record, newest first.
func (s *Store) List() ([]schema.SessionRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	records := make([]schema.SessionRecord, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		var record schema.SessionRecord
		if err := json.Unmarshal(data, &record); err != nil {
			if s.log != nil {
				s.log.Warn("registry skip corrupt record", "file", entry.Name(), "err", err)
			}
			continue
		}
		if record.ID == "" {
			continue
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

func (s *Store) pathFor(id schema.SessionID) string {
	name := sanitize(string(id))
	if name == "" {
		name = "unknown"
	}
	return filepath.Join(s.dir, name+".json")
}

func sanitize(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}
