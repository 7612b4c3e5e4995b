package filehistory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"entire.io/cli/cmd/entire/cli/logging"
)

// FileHistory is the state machine for a single session's tracking,
// snapshotting, and rewind. It has no explicit state transitions beyond:
// empty -> has-pending -> has-snapshot -> (loop). Tracking after a snapshot
// reopens has-pending. Rewind never mutates the snapshot list.
type FileHistory struct {
	cwd       string
	sessionID string
	backupDir string
	store     *BackupStore

	snapshots     []Snapshot
	trackedFiles  map[string]struct{}
	pendingBackups map[string]BackupMeta
}

// NewFileHistory builds a FileHistory for sessionID rooted at cwd, seeding
// its snapshot list (e.g. from a reloaded journal) and rebuilding
// trackedFiles as the union of paths across all seed snapshots. backupDir
// is created if absent.
func NewFileHistory(cwd, sessionID, backupDir string, seed []Snapshot) (*FileHistory, error) {
	store, err := NewBackupStore(backupDir)
	if err != nil {
		return nil, err
	}

	h := &FileHistory{
		cwd:            cwd,
		sessionID:      sessionID,
		backupDir:      backupDir,
		store:          store,
		snapshots:      append([]Snapshot{}, seed...),
		trackedFiles:   make(map[string]struct{}),
		pendingBackups: make(map[string]BackupMeta),
	}

	for _, snap := range h.snapshots {
		for relPath := range snap.TrackedFileBackups {
			h.trackedFiles[relPath] = struct{}{}
		}
	}

	return h, nil
}

// normalizePath converts path (absolute or cwd-relative) to a
// forward-slashed path relative to cwd.
func (h *FileHistory) normalizePath(path string) string {
	abs := path
	if !filepath.IsAbs(path) {
		abs = filepath.Join(h.cwd, path)
	}
	rel, err := filepath.Rel(h.cwd, abs)
	if err != nil {
		rel = abs
	}
	return filepath.ToSlash(rel)
}

func (h *FileHistory) absPath(relPath string) string {
	return filepath.Join(h.cwd, filepath.FromSlash(relPath))
}

// latestBackup returns the most recent BackupMeta recorded for relPath
// across the snapshot list (not counting pending backups), and whether one
// was found.
func (h *FileHistory) latestBackup(relPath string) (BackupMeta, bool) {
	for i := len(h.snapshots) - 1; i >= 0; i-- {
		if meta, ok := h.snapshots[i].TrackedFileBackups[relPath]; ok {
			return meta, true
		}
	}
	return BackupMeta{}, false
}

// TrackFile records intent to snapshot path's current state before an
// imminent modification. It is a no-op, including no disk writes, when the
// metadata fast path shows the working file is unchanged from the latest
// recorded backup.
func (h *FileHistory) TrackFile(ctx context.Context, path string) error {
	relPath := h.normalizePath(path)
	h.trackedFiles[relPath] = struct{}{}

	absPath := h.absPath(relPath)
	reference, hasReference := h.latestBackup(relPath)

	unchanged, err := h.isUnchangedFromReference(absPath, reference, hasReference)
	if err != nil {
		// TrackingFailure: logged, swallowed, no pending entry recorded.
		logging.Warn(ctx, "track file: metadata check failed, skipping",
			slog.String("path", relPath), slog.String("error", err.Error()))
		return nil
	}
	if unchanged {
		return nil
	}

	version := 1
	if hasReference {
		version = reference.Version + 1
	}

	meta, err := h.store.CopyIn(absPath, relPath, version)
	if err != nil {
		logging.Warn(ctx, "track file: backup copy failed, skipping",
			slog.String("path", relPath), slog.String("error", err.Error()))
		return nil
	}

	h.pendingBackups[relPath] = meta
	return nil
}

// isUnchangedFromReference implements the metadata fast path: file present
// + backup present + equal size + equal mtime => unchanged. Backup absent
// but file present, or file absent but backup present, => changed. Neither
// exists => unchanged.
func (h *FileHistory) isUnchangedFromReference(absPath string, reference BackupMeta, hasReference bool) (bool, error) {
	info, statErr := os.Stat(absPath)
	filePresent := statErr == nil
	if statErr != nil && !os.IsNotExist(statErr) {
		return false, statErr
	}

	backupPresent := hasReference && reference.Present()

	switch {
	case !filePresent && !backupPresent:
		return true, nil
	case filePresent != backupPresent:
		return false, nil
	default:
		size, mtime, ok := h.store.Stat(reference.BackupFileName)
		if !ok {
			return false, nil
		}
		return info.Size() == size && info.ModTime().Equal(mtime), nil
	}
}

// TrackNewFile records a file that is about to be created: normalizes the
// path, adds it to trackedFiles, and writes a pending entry recording
// absence with an incremented version. No I/O on the working file.
func (h *FileHistory) TrackNewFile(_ context.Context, path string) error {
	relPath := h.normalizePath(path)
	h.trackedFiles[relPath] = struct{}{}

	version := 1
	if reference, ok := h.latestBackup(relPath); ok {
		version = reference.Version + 1
	}

	h.pendingBackups[relPath] = BackupMeta{Version: version, BackupTime: time.Now()}
	return nil
}

// HasPendingBackups reports whether any path has a pending, un-snapshotted
// backup.
func (h *FileHistory) HasPendingBackups() bool {
	return len(h.pendingBackups) > 0
}

// PendingBackup returns the pending BackupMeta recorded for relPath, if any.
func (h *FileHistory) PendingBackup(relPath string) (BackupMeta, bool) {
	meta, ok := h.pendingBackups[relPath]
	return meta, ok
}

// SeedPending merges entries into the in-memory pending set. Used to
// rehydrate pending backups a pre-hook process recorded to the journal
// before the process that creates the eventual snapshot starts.
func (h *FileHistory) SeedPending(entries []PendingEntry) {
	for _, entry := range entries {
		h.trackedFiles[entry.RelPath] = struct{}{}
		h.pendingBackups[entry.RelPath] = entry.Meta
	}
}

// HasSnapshot reports whether a snapshot for messageID already exists.
func (h *FileHistory) HasSnapshot(messageID string) bool {
	_, ok := h.findSnapshot(messageID)
	return ok
}

func (h *FileHistory) findSnapshot(messageID string) (int, bool) {
	for i, snap := range h.snapshots {
		if snap.MessageID == messageID {
			return i, true
		}
	}
	return 0, false
}

// CreateSnapshot commits the pending backup set as a new snapshot keyed to
// messageID. Returns (nil, false) if there are no pending backups; never
// fails.
func (h *FileHistory) CreateSnapshot(messageID string) (*Snapshot, bool) {
	if len(h.pendingBackups) == 0 {
		return nil, false
	}

	snap := Snapshot{
		MessageID:          messageID,
		Timestamp:          time.Now(),
		TrackedFileBackups: h.pendingBackups,
	}
	h.pendingBackups = make(map[string]BackupMeta)
	h.snapshots = append(h.snapshots, snap)

	return &snap, true
}

// GetSnapshotPreviews returns a per-snapshot summary: messageId, timestamp,
// fileCount, and (for snapshots after the first) a change count — the
// number of paths whose backupFileName differs from the prior snapshot's.
// Insertion/deletion counts are left zero; those are computed on demand by
// rewind/preview.
func (h *FileHistory) GetSnapshotPreviews() []Preview {
	previews := make([]Preview, 0, len(h.snapshots))
	for i, snap := range h.snapshots {
		preview := Preview{
			MessageID: snap.MessageID,
			Timestamp: snap.Timestamp,
			FileCount: len(snap.TrackedFileBackups),
		}
		if i > 0 {
			preview.ChangeCount = changeCount(h.snapshots[i-1].TrackedFileBackups, snap.TrackedFileBackups)
		}
		previews = append(previews, preview)
	}
	return previews
}

// changeCount counts paths present in either map whose BackupFileName
// differs (absent-in-one counts as differing).
func changeCount(prior, current map[string]BackupMeta) int {
	seen := make(map[string]struct{}, len(prior)+len(current))
	for p := range prior {
		seen[p] = struct{}{}
	}
	for p := range current {
		seen[p] = struct{}{}
	}

	count := 0
	for p := range seen {
		a, aok := prior[p]
		b, bok := current[p]
		if !aok || !bok || a.BackupFileName != b.BackupFileName {
			count++
		}
	}
	return count
}

// RewindToMessage restores (or, with dryRun, measures) the workspace to the
// state recorded by the snapshot for messageID, reverting every
// modification made by that and every later snapshot.
func (h *FileHistory) RewindToMessage(ctx context.Context, messageID string, dryRun bool) RewindResult {
	targetIndex, ok := h.findSnapshot(messageID)
	if !ok {
		return RewindResult{Success: false, Error: "Snapshot not found"}
	}

	affected := h.affectedPaths(targetIndex)
	sort.Strings(affected)

	result := RewindResult{Success: true}
	for _, relPath := range affected {
		targetBackup, hasTarget := h.snapshots[targetIndex].TrackedFileBackups[relPath]
		absPath := h.absPath(relPath)

		changed, diff, restoreErr := h.rewindOnePath(ctx, absPath, targetBackup, hasTarget, dryRun)
		result.Insertions += diff.Insertions
		result.Deletions += diff.Deletions
		if changed {
			result.FilesChanged = append(result.FilesChanged, relPath)
		}
		if restoreErr != nil {
			result.Success = false
			result.Error = restoreErr.Error()
			return result
		}
	}

	return result
}

// rewindOnePath measures (and, unless dryRun, restores) a single path
// against its target backup state.
func (h *FileHistory) rewindOnePath(ctx context.Context, absPath string, targetBackup BackupMeta, hasTarget, dryRun bool) (changed bool, diff DiffResult, err error) {
	var backupBytes []byte
	backupPresent := hasTarget && targetBackup.Present()
	if backupPresent {
		backupBytes, err = h.store.ReadBackup(targetBackup.BackupFileName)
		if err != nil {
			return false, DiffResult{}, fmt.Errorf("reading backup for restore: %w", err)
		}
	}

	diff = diffFiles(absPath, backupBytes, backupPresent)
	changed = diff.Insertions > 0 || diff.Deletions > 0
	if !changed || dryRun {
		return changed, diff, nil
	}

	if !backupPresent {
		if restoreErr := h.store.Delete(absPath); restoreErr != nil {
			return changed, diff, fmt.Errorf("deleting %s: %w", absPath, restoreErr)
		}
		return changed, diff, nil
	}

	if restoreErr := h.store.CopyOut(targetBackup.BackupFileName, absPath); restoreErr != nil {
		return changed, diff, fmt.Errorf("restoring %s: %w", absPath, restoreErr)
	}
	logging.Debug(ctx, "restored path from backup", slog.String("path", absPath))
	return changed, diff, nil
}

// affectedPaths is the union of trackedFileBackups.keys() across
// snapshots[targetIndex:]. Restoring to a target means reverting every
// subsequent modification, including paths never touched before the
// target: their target-state is "absent from the target snapshot map",
// which restore interprets as delete-or-leave-alone.
func (h *FileHistory) affectedPaths(targetIndex int) []string {
	seen := make(map[string]struct{})
	for _, snap := range h.snapshots[targetIndex:] {
		for relPath := range snap.TrackedFileBackups {
			seen[relPath] = struct{}{}
		}
	}
	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	return paths
}

// PreviewRewind measures the effect of rewinding to messageID without
// mutating the workspace. cumulative=true is identical to
// RewindToMessage(messageID, dryRun=true). cumulative=false computes only
// the diff between the current working files and the chosen snapshot's own
// backups, used by the UI to annotate individual messages with their local
// deltas.
func (h *FileHistory) PreviewRewind(ctx context.Context, messageID string, cumulative bool) RewindResult {
	if cumulative {
		return h.RewindToMessage(ctx, messageID, true)
	}

	targetIndex, ok := h.findSnapshot(messageID)
	if !ok {
		return RewindResult{Success: false, Error: "Snapshot not found"}
	}

	snap := h.snapshots[targetIndex]
	result := RewindResult{Success: true}
	for relPath, targetBackup := range snap.TrackedFileBackups {
		var backupBytes []byte
		var err error
		if targetBackup.Present() {
			backupBytes, err = h.store.ReadBackup(targetBackup.BackupFileName)
			if err != nil {
				continue
			}
		}
		diff := diffFiles(h.absPath(relPath), backupBytes, targetBackup.Present())
		result.Insertions += diff.Insertions
		result.Deletions += diff.Deletions
		if diff.Insertions > 0 || diff.Deletions > 0 {
			result.FilesChanged = append(result.FilesChanged, relPath)
		}
	}
	sort.Strings(result.FilesChanged)
	return result
}

// Snapshots returns the ordered snapshot list, for callers (e.g. the
// History Manager) that need to mirror it elsewhere.
func (h *FileHistory) Snapshots() []Snapshot {
	return append([]Snapshot{}, h.snapshots...)
}
