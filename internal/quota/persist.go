package quota

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rotisserie/eris"
)

// State is the persisted form of the ledger, keyed by source name.
type State map[string]AccountState

// AccountState is one source's persisted windows.
type AccountState struct {
	Daily   DailyState   `json:"daily"`
	Monthly MonthlyState `json:"monthly"`
}

// DailyState is the persisted daily window. ResetDate is YYYY-MM-DD.
type DailyState struct {
	Used      int    `json:"used"`
	Limit     int    `json:"limit"`
	ResetDate string `json:"resetDate"`
}

// MonthlyState is the persisted monthly window. ResetMonth is YYYY-MM.
type MonthlyState struct {
	Used       int    `json:"used"`
	Limit      int    `json:"limit"`
	ResetMonth string `json:"resetMonth"`
}

// Persister loads and saves ledger state. Load returns (nil, nil) when
// nothing has been persisted yet.
type Persister interface {
	Load() (State, error)
	Save(State) error
}

// FileStore persists ledger state as indented JSON on local disk.
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the state file location.
func (f *FileStore) Path() string { return f.path }

// Load reads the state file. A missing file is not an error.
func (f *FileStore) Load() (State, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "quota: read state file")
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, eris.Wrap(err, "quota: decode state file")
	}
	return st, nil
}

// Save writes the state to a temp file in the same directory and renames it
// over the previous file so readers never see a partial write.
func (f *FileStore) Save(st State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return eris.Wrap(err, "quota: encode state")
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrap(err, "quota: create state dir")
	}

	tmp, err := os.CreateTemp(dir, ".quota-*.json")
	if err != nil {
		return eris.Wrap(err, "quota: create temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return eris.Wrap(err, "quota: write temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "quota: close temp file")
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return eris.Wrap(err, "quota: replace state file")
	}
	return nil
}

// MemoryStore keeps state in memory. Tests use it to observe saves and to
// inject persistence failures.
type MemoryStore struct {
	mu      sync.Mutex
	state   State
	saves   int
	LoadErr error
	SaveErr error
}

// NewMemoryStore returns a MemoryStore seeded with st.
func NewMemoryStore(st State) *MemoryStore {
	return &MemoryStore{state: copyState(st)}
}

// Load returns a copy of the stored state.
func (m *MemoryStore) Load() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	return copyState(m.state), nil
}

// Save replaces the stored state.
func (m *MemoryStore) Save(st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.state = copyState(st)
	m.saves++
	return nil
}

// Saves returns how many successful saves have happened.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// State returns a copy of the last saved state.
func (m *MemoryStore) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyState(m.state)
}

func copyState(st State) State {
	if st == nil {
		return nil
	}
	out := make(State, len(st))
	for k, v := range st {
		out[k] = v
	}
	return out
}
