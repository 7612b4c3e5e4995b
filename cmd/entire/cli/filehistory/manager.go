package filehistory

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"

	"entire.io/cli/cmd/entire/cli/logging"
	"entire.io/cli/cmd/entire/cli/validation"
)

// Manager owns one FileHistory per session, created lazily and rehydrated
// from the journal on first access. A Manager is scoped to one workspace
// context; there is no process-wide singleton.
type Manager struct {
	cwd        string
	backupRoot string

	mu         sync.Mutex
	histories  map[string]*FileHistory
}

// NewManager creates a Manager for the workspace at cwd, storing backups
// under backupRoot.
func NewManager(cwd, backupRoot string) *Manager {
	return &Manager{
		cwd:        cwd,
		backupRoot: backupRoot,
		histories:  make(map[string]*FileHistory),
	}
}

// sessionBackupDir returns the on-disk backup directory for sessionID:
// <backupRoot>/<sessionId>.
func (m *Manager) sessionBackupDir(sessionID string) string {
	return filepath.Join(m.backupRoot, sessionID)
}

// GetOrCreate returns the cached FileHistory for sessionID, or builds one:
// if journalPath is non-empty, the journal's snapshots seed the new
// history (falling back to an empty seed on any I/O error, so the calling
// tool still proceeds).
func (m *Manager) GetOrCreate(ctx context.Context, sessionID, journalPath string) (*FileHistory, error) {
	if err := validation.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.histories[sessionID]; ok {
		return h, nil
	}

	var seed []Snapshot
	var pending []PendingEntry
	if journalPath != "" {
		journal := NewJournal(journalPath)
		_, snapshots, err := journal.Load()
		if err != nil {
			logging.Warn(ctx, "loading session journal failed, starting with empty history",
				slog.String("session_id", sessionID), slog.String("error", err.Error()))
		} else {
			seed = snapshots
		}
		if entries, err := journal.LoadPending(); err != nil {
			logging.Warn(ctx, "loading pending journal entries failed, starting with none pending",
				slog.String("session_id", sessionID), slog.String("error", err.Error()))
		} else {
			pending = entries
		}
	}

	h, err := NewFileHistory(m.cwd, sessionID, m.sessionBackupDir(sessionID), seed)
	if err != nil {
		logging.Warn(ctx, "constructing file history failed, falling back to blank history",
			slog.String("session_id", sessionID), slog.String("error", err.Error()))
		h, err = NewFileHistory(m.cwd, sessionID, m.sessionBackupDir(sessionID), nil)
		if err != nil {
			return nil, err
		}
	}
	h.SeedPending(pending)

	m.histories[sessionID] = h
	return h, nil
}

// Set installs h directly under sessionID, used when restoring from a
// serialized session payload.
func (m *Manager) Set(sessionID string, h *FileHistory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histories[sessionID] = h
}

// Get returns the cached FileHistory for sessionID without creating one.
func (m *Manager) Get(sessionID string) (*FileHistory, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.histories[sessionID]
	return h, ok
}

// Clear evicts the cached FileHistory for sessionID, if any.
func (m *Manager) Clear(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.histories, sessionID)
}

// ClearAll evicts every cached FileHistory, for end-of-context-lifetime
// teardown.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histories = make(map[string]*FileHistory)
}
