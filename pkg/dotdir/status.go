package dotdir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	statusFile = "status.json"
)

// StatusSnapshot is the persisted view of a running daemon.
type StatusSnapshot struct {
	NodeID    string    `json:"node_id"`
	Peer      string    `json:"peer"`
	PID       int       `json:"pid"`
	State     string    `json:"state"`
	Cycles    uint64    `json:"cycles"`
	Pushed    uint64    `json:"pushed"`
	Pulled    uint64    `json:"pulled"`
	Conflicts uint64    `json:"conflicts"`
	Failures  uint64    `json:"failures"`
	LastCycle time.Time `json:"last_cycle,omitzero"`
	LastError string    `json:"last_error,omitempty"`
	WrittenAt time.Time `json:"written_at"`
}

// LoadStatus loads the snapshot from a target .memsync/status.json.
// Returns nil, nil if no daemon has written one yet.
func (m *Manager) LoadStatus(overrideDir string) (*StatusSnapshot, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, statusFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading status: %w", err)
	}

	snapshot := &StatusSnapshot{}
	if err := json.Unmarshal(data, snapshot); err != nil {
		return nil, fmt.Errorf("parsing status: %w", err)
	}

	return snapshot, nil
}

// SaveStatus persists the snapshot to a target .memsync/status.json. The
// file is replaced atomically so readers never see a partial write.
func (m *Manager) SaveStatus(snapshot *StatusSnapshot, overrideDir string) error {
	if snapshot == nil {
		return errors.New("cannot save nil status")
	}

	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	if snapshot.WrittenAt.IsZero() {
		snapshot.WrittenAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling status: %w", err)
	}

	tmp, err := os.CreateTemp(dir, statusFile+".*")
	if err != nil {
		return fmt.Errorf("writing status: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing status: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing status: %w", err)
	}

	if err := os.Rename(tmp.Name(), filepath.Join(dir, statusFile)); err != nil {
		return fmt.Errorf("writing status: %w", err)
	}

	return nil
}

// ClearStatus removes the snapshot. Called when the daemon stops.
// Returns nil if the file doesn't exist.
func (m *Manager) ClearStatus(overrideDir string) error {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	if err := os.Remove(filepath.Join(dir, statusFile)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("removing status: %w", err)
	}

	return nil
}
