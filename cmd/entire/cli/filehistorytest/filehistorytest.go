// Package filehistorytest provides shared test fixtures for the filehistory
// engine. Unlike cmd/entire/cli/testutil (which builds git-repo fixtures for
// the shadow-branch checkpoint strategies), this package builds plain
// tmpdir + file fixtures, since the file-history backup store has nothing
// to do with git.
package filehistorytest

import (
	"os"
	"path/filepath"
	"testing"
)

// Workspace is a throwaway working directory plus its backup root, wired
// together the way a real session would be.
type Workspace struct {
	Dir        string
	BackupRoot string
}

// NewWorkspace creates a workspace and backup root under t.TempDir().
func NewWorkspace(t *testing.T) Workspace {
	t.Helper()
	base := t.TempDir()
	ws := Workspace{
		Dir:        filepath.Join(base, "workspace"),
		BackupRoot: filepath.Join(base, "backups"),
	}
	if err := os.MkdirAll(ws.Dir, 0o755); err != nil {
		t.Fatalf("creating workspace dir: %v", err)
	}
	return ws
}

// WriteFile writes content to a path relative to the workspace, creating
// parent directories as needed.
func (w Workspace) WriteFile(t *testing.T, relPath, content string) {
	t.Helper()
	full := filepath.Join(w.Dir, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("creating parent dir for %s: %v", relPath, err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", relPath, err)
	}
}

// ReadFile reads a path relative to the workspace.
func (w Workspace) ReadFile(t *testing.T, relPath string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(w.Dir, relPath))
	if err != nil {
		t.Fatalf("reading %s: %v", relPath, err)
	}
	return string(data)
}

// Exists reports whether a path relative to the workspace exists.
func (w Workspace) Exists(relPath string) bool {
	_, err := os.Stat(filepath.Join(w.Dir, relPath))
	return err == nil
}

// Remove deletes a path relative to the workspace.
func (w Workspace) Remove(t *testing.T, relPath string) {
	t.Helper()
	if err := os.Remove(filepath.Join(w.Dir, relPath)); err != nil {
		t.Fatalf("removing %s: %v", relPath, err)
	}
}

// AbsPath returns the absolute path for a workspace-relative path.
func (w Workspace) AbsPath(relPath string) string {
	return filepath.Join(w.Dir, relPath)
}
