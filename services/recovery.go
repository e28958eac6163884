package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"geoquiz/models"
)

const (
	SessionKey  = "geoquiz.session"
	RecoveryKey = "geoquiz.recovery"

	RecoveryMaxAge = time.Hour
)

// LocalStorage is the client's small persistent key-value area.
type LocalStorage interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
}

type MemoryStorage struct {
	mu     sync.Mutex
	values map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

func (m *MemoryStorage) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStorage) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStorage) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// FileStorage keeps all keys in one JSON file, rewritten on every change.
type FileStorage struct {
	mu   sync.Mutex
	path string
}

func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

func (f *FileStorage) load() (map[string]string, error) {
	values := map[string]string{}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	if err := json.Unmarshal(data, &values); err != nil {
		// unreadable storage is treated as empty
		return map[string]string{}, nil
	}
	return values, nil
}

func (f *FileStorage) save(values map[string]string) error {
	data, err := json.Marshal(values)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(f.path), err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStorage) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.load()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

func (f *FileStorage) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.load()
	if err != nil {
		return err
	}
	values[key] = value
	return f.save(values)
}

func (f *FileStorage) Remove(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return f.save(values)
}

// IsFresh reports whether rec is young enough to re-attach with. A record
// exactly RecoveryMaxAge old still counts.
func IsFresh(rec models.RecoveryRecord, now time.Time) bool {
	return now.Sub(rec.Timestamp) <= RecoveryMaxAge
}

// Recovery stores the reconnection breadcrumb under two fixed keys: the
// session/player pair and the time it was written.
type Recovery struct {
	storage LocalStorage
	now     func() time.Time
}

func NewRecovery(storage LocalStorage, now func() time.Time) *Recovery {
	if now == nil {
		now = time.Now
	}
	return &Recovery{storage: storage, now: now}
}

type sessionPair struct {
	SessionCode string `json:"sessionCode"`
	PlayerID    string `json:"playerId"`
}

func (r *Recovery) Save(code, playerID string) error {
	data, err := json.Marshal(sessionPair{SessionCode: code, PlayerID: playerID})
	if err != nil {
		return err
	}
	if err := r.storage.Set(SessionKey, string(data)); err != nil {
		return err
	}
	return r.storage.Set(RecoveryKey, strconv.FormatInt(r.now().UnixMilli(), 10))
}

// Load returns a fresh record. Expired or corrupted records are removed
// and reported as absent.
func (r *Recovery) Load() (models.RecoveryRecord, bool, error) {
	rawPair, okPair, err := r.storage.Get(SessionKey)
	if err != nil {
		return models.RecoveryRecord{}, false, err
	}
	rawTS, okTS, err := r.storage.Get(RecoveryKey)
	if err != nil {
		return models.RecoveryRecord{}, false, err
	}
	if !okPair && !okTS {
		return models.RecoveryRecord{}, false, nil
	}

	var pair sessionPair
	ms, tsErr := strconv.ParseInt(rawTS, 10, 64)
	if !okPair || !okTS || tsErr != nil || json.Unmarshal([]byte(rawPair), &pair) != nil || pair.SessionCode == "" || pair.PlayerID == "" {
		return models.RecoveryRecord{}, false, r.Clear()
	}
	rec := models.RecoveryRecord{
		SessionCode: pair.SessionCode,
		PlayerID:    pair.PlayerID,
		Timestamp:   time.UnixMilli(ms),
	}
	if !IsFresh(rec, r.now()) {
		return models.RecoveryRecord{}, false, r.Clear()
	}
	return rec, true, nil
}

func (r *Recovery) Clear() error {
	return errors.Join(r.storage.Remove(SessionKey), r.storage.Remove(RecoveryKey))
}
