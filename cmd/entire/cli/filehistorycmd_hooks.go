package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"entire.io/cli/cmd/entire/cli/agent"
	"entire.io/cli/cmd/entire/cli/filehistory"
	"entire.io/cli/cmd/entire/cli/logging"
	"entire.io/cli/cmd/entire/cli/paths"
)

var (
	fileHistoryManagerMu   sync.Mutex
	fileHistoryManagerInst *filehistory.Manager
)

// fileHistoryManager returns the process-wide File History Manager, built
// lazily from the repo root and configured backup directory. One CLI
// invocation handles exactly one hook call, so this cache only helps when a
// single process serves more than one session lookup (e.g. CLI commands);
// hook-to-hook state survives through the journal on disk, not this cache.
func fileHistoryManager() (*filehistory.Manager, error) {
	fileHistoryManagerMu.Lock()
	defer fileHistoryManagerMu.Unlock()
	if fileHistoryManagerInst != nil {
		return fileHistoryManagerInst, nil
	}

	cfg, err := GetFileHistoryConfig()
	if err != nil {
		return nil, err
	}
	repoRoot, err := paths.RepoRoot()
	if err != nil {
		repoRoot = "."
	}
	fileHistoryManagerInst = filehistory.NewManager(repoRoot, cfg.BackupRoot)
	return fileHistoryManagerInst, nil
}

// fileHistoryJournalPath returns the path of sessionID's journal file under
// the configured backup root.
func fileHistoryJournalPath(sessionID string) string {
	cfg, err := GetFileHistoryConfig()
	root := cfg.BackupRoot
	if err != nil || root == "" {
		root = DefaultBackupRoot
	}
	return filepath.Join(root, sessionID+".jsonl")
}

func fileHistoryJournal(sessionID string) *filehistory.Journal {
	return filehistory.NewJournal(fileHistoryJournalPath(sessionID))
}

// fileHistoryBinder builds a Lifecycle Binder wired to the process-wide
// Manager, the journal factory above, and the repo's checkpoint settings.
func fileHistoryBinder() (*filehistory.Binder, error) {
	manager, err := fileHistoryManager()
	if err != nil {
		return nil, err
	}
	cfg, err := GetFileHistoryConfig()
	if err != nil {
		return nil, err
	}
	return filehistory.NewBinder(manager, fileHistoryJournal, cfg), nil
}

// handleClaudeCodePreWrite handles the PreToolUse hook for file-modifying
// tools (Write, Edit, NotebookEdit, and their MCP equivalents): it tracks
// the target file's pre-modification state in the File History engine
// before Claude Code's tool call runs.
func handleClaudeCodePreWrite() error {
	ag, err := GetCurrentHookAgent()
	if err != nil {
		return fmt.Errorf("failed to get agent: %w", err)
	}

	input, err := ag.ParseHookInput(agent.HookPreToolUse, os.Stdin)
	if err != nil {
		return fmt.Errorf("failed to parse PreToolUse input: %w", err)
	}

	binder, err := fileHistoryBinder()
	if err != nil {
		return fmt.Errorf("failed to build file history binder: %w", err)
	}

	entireSessionID := currentSessionIDWithFallback(input.SessionID)
	binder.BeforeTool(context.Background(), entireSessionID, *input)
	return nil
}

// runFileHistoryAfterTurn appends the turn's transcript lines to the session
// journal and invokes the Lifecycle Binder's post-hook, creating a snapshot
// of whatever the pre-hook tracked during the turn. It never returns an
// error: the file history engine runs alongside the git-shadow-branch
// commit the Stop hook makes, not in place of it, so a failure here is
// logged and swallowed rather than failing the hook.
func runFileHistoryAfterTurn(entireSessionID string, transcript []transcriptLine, turnFailed bool) {
	ctx := logging.WithComponent(context.Background(), "filehistory")

	binder, err := fileHistoryBinder()
	if err != nil {
		logging.Warn(ctx, "stop hook: could not build file history binder", slog.String("error", err.Error()))
		return
	}

	journal := fileHistoryJournal(entireSessionID)
	for _, entry := range journalEntriesFromTranscript(transcript) {
		if err := journal.AppendMessage(entry); err != nil {
			logging.Warn(ctx, "stop hook: could not append journal message",
				slog.String("session_id", entireSessionID), slog.String("uuid", entry.UUID), slog.String("error", err.Error()))
		}
	}

	binder.AfterTurn(ctx, entireSessionID, filehistory.TurnResult{
		Failed:      turnFailed,
		LastMessage: lastAssistantJournalEntry(transcript),
	})
}
