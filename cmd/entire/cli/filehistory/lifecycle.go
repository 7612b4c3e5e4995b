package filehistory

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"entire.io/cli/cmd/entire/cli/agent"
	"entire.io/cli/cmd/entire/cli/agent/claudecode"
	"entire.io/cli/cmd/entire/cli/logging"
)

// Config holds the two configuration options the Lifecycle Binder
// recognizes.
type Config struct {
	// Checkpoints is the master switch: when false, no tracking or
	// snapshot is performed.
	Checkpoints bool
	// BackupRoot is the root of backup storage.
	BackupRoot string
}

// writerToolNames are the tool names the pre-hook treats as file writers,
// mirroring the agent's own file-modification tool list.
var writerToolNames = func() map[string]struct{} {
	names := make(map[string]struct{}, len(claudecode.FileModificationTools))
	for _, name := range claudecode.FileModificationTools {
		names[name] = struct{}{}
	}
	return names
}()

// TurnResult is the minimal shape the post-hook needs from a completed
// assistant turn.
type TurnResult struct {
	Cancelled   bool
	Failed      bool
	LastMessage *MessageEntry // nil if the turn produced no final message
}

// Binder bridges the tool runtime with the engine: it tracks files before
// a file-modifying tool runs, and creates a snapshot after a successful
// assistant turn.
type Binder struct {
	manager *Manager
	journal func(sessionID string) *Journal
	config  Config
}

// NewBinder returns a Binder using manager for File History lookups,
// journal to resolve a session's Journal on demand, and config for the
// checkpoints/backupRoot switches.
func NewBinder(manager *Manager, journal func(sessionID string) *Journal, config Config) *Binder {
	return &Binder{manager: manager, journal: journal, config: config}
}

// toolWriteParams is the subset of a write/edit tool's JSON parameters the
// binder consults; either key may carry the target path.
type toolWriteParams struct {
	FilePath string `json:"file_path"`
	FilePath2 string `json:"filePath"`
}

func targetPath(toolInput []byte) (string, bool) {
	var params toolWriteParams
	if err := json.Unmarshal(toolInput, &params); err != nil {
		return "", false
	}
	if params.FilePath != "" {
		return params.FilePath, true
	}
	if params.FilePath2 != "" {
		return params.FilePath2, true
	}
	return "", false
}

// BeforeTool is the pre-hook trigger. If toolName is a file-writer, it
// extracts the target path and calls TrackFile (existing file) or
// TrackNewFile (missing file). Failures log and swallow; the tool call is
// never blocked.
func (b *Binder) BeforeTool(ctx context.Context, sessionID string, input agent.HookInput) {
	if !b.config.Checkpoints {
		return
	}
	if _, isWriter := writerToolNames[input.ToolName]; !isWriter {
		return
	}

	path, ok := targetPath(input.ToolInput)
	if !ok {
		logging.Debug(ctx, "pre-hook: no target path in tool input",
			slog.String("tool", input.ToolName))
		return
	}

	history, err := b.manager.GetOrCreate(ctx, sessionID, b.journalPath(sessionID))
	if err != nil {
		logging.Warn(ctx, "pre-hook: could not obtain file history",
			slog.String("session_id", sessionID), slog.String("error", err.Error()))
		return
	}

	if _, statErr := os.Stat(path); statErr != nil {
		if trackErr := history.TrackNewFile(ctx, path); trackErr != nil {
			logging.Warn(ctx, "pre-hook: tracking new file failed",
				slog.String("path", path), slog.String("error", trackErr.Error()))
		}
	} else if trackErr := history.TrackFile(ctx, path); trackErr != nil {
		logging.Warn(ctx, "pre-hook: tracking file failed",
			slog.String("path", path), slog.String("error", trackErr.Error()))
	}

	b.persistPending(ctx, sessionID, history, path)
}

// persistPending writes relPath's freshly-tracked pending backup to the
// session journal, so it survives into the separate process that will
// later run AfterTurn. BeforeTool and AfterTurn each run as independent CLI
// invocations; only the journal, not in-memory state, outlives either.
func (b *Binder) persistPending(ctx context.Context, sessionID string, history *FileHistory, path string) {
	relPath := history.normalizePath(path)
	meta, ok := history.PendingBackup(relPath)
	if !ok {
		return
	}
	if err := b.journal(sessionID).AppendPending(PendingEntry{RelPath: relPath, Meta: meta}); err != nil {
		logging.Warn(ctx, "pre-hook: persisting pending backup failed",
			slog.String("session_id", sessionID), slog.String("path", relPath), slog.String("error", err.Error()))
	}
}

// AfterTurn is the post-hook trigger. It skips when checkpoints are
// disabled, the turn failed or was cancelled, there is no final assistant
// message, a snapshot for that message already exists, or there are no
// pending backups. Otherwise it creates the snapshot and appends it to the
// session journal; persistence failure logs but never fails the turn.
func (b *Binder) AfterTurn(ctx context.Context, sessionID string, turn TurnResult) {
	if !b.config.Checkpoints {
		return
	}
	if turn.Failed || turn.Cancelled {
		return
	}
	if turn.LastMessage == nil || turn.LastMessage.Role != RoleAssistant {
		return
	}

	history, err := b.manager.GetOrCreate(ctx, sessionID, b.journalPath(sessionID))
	if err != nil {
		logging.Warn(ctx, "post-hook: could not obtain file history",
			slog.String("session_id", sessionID), slog.String("error", err.Error()))
		return
	}

	messageID := turn.LastMessage.UUID
	if history.HasSnapshot(messageID) || !history.HasPendingBackups() {
		return
	}

	snap, created := history.CreateSnapshot(messageID)
	if !created {
		return
	}

	if err := b.journal(sessionID).AppendSnapshot(*snap); err != nil {
		logging.Warn(ctx, "post-hook: persisting snapshot failed",
			slog.String("session_id", sessionID), slog.String("message_id", messageID),
			slog.String("error", err.Error()))
	}
}

func (b *Binder) journalPath(sessionID string) string {
	// The concrete path is resolved by the journal factory the host
	// supplied; GetOrCreate only needs a non-empty marker to trigger a
	// reload attempt, and the factory recomputes the real path from
	// sessionID internally.
	j := b.journal(sessionID)
	if j == nil {
		return ""
	}
	return j.path
}
