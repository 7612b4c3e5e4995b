package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"entire.io/cli/cmd/entire/cli/filehistory"
	"entire.io/cli/cmd/entire/cli/jsonutil"
	"entire.io/cli/cmd/entire/cli/paths"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// newFileHistoryCmd builds the `entire filehistory` command group: the
// operator-facing surface over the File History engine (list/rewind/preview
// of snapshots, plus status/doctor/clean maintenance commands).
func newFileHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "filehistory",
		Short:  "Inspect and rewind per-file edit history for a session",
		Hidden: true,
	}

	cmd.AddCommand(newFileHistoryListCmd())
	cmd.AddCommand(newFileHistoryPreviewCmd())
	cmd.AddCommand(newFileHistoryRewindCmd())
	cmd.AddCommand(newFileHistoryStatusCmd())
	cmd.AddCommand(newFileHistoryDoctorCmd())
	cmd.AddCommand(newFileHistoryCleanCmd())

	return cmd
}

// resolveFileHistorySessionID returns sessionFlag if set, otherwise the
// currently active Entire session.
func resolveFileHistorySessionID(sessionFlag string) (string, error) {
	if sessionFlag != "" {
		return sessionFlag, nil
	}
	sessionID, err := paths.ReadCurrentSession()
	if err != nil {
		return "", fmt.Errorf("failed to read current session: %w", err)
	}
	if sessionID == "" {
		return "", fmt.Errorf("no active session; pass --session explicitly")
	}
	return sessionID, nil
}

func loadFileHistory(ctx context.Context, sessionID string) (*filehistory.FileHistory, error) {
	manager, err := fileHistoryManager()
	if err != nil {
		return nil, err
	}
	return manager.GetOrCreate(ctx, sessionID, fileHistoryJournalPath(sessionID))
}

func newFileHistoryListCmd() *cobra.Command {
	var sessionFlag string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List snapshots recorded for a session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sessionID, err := resolveFileHistorySessionID(sessionFlag)
			if err != nil {
				return err
			}
			return runFileHistoryList(cmd.Context(), cmd.OutOrStdout(), sessionID, jsonOut)
		},
	}

	cmd.Flags().StringVar(&sessionFlag, "session", "", "Session ID (defaults to the active session)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func runFileHistoryList(ctx context.Context, w io.Writer, sessionID string, jsonOut bool) error {
	history, err := loadFileHistory(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load file history: %w", err)
	}
	previews := history.GetSnapshotPreviews()
	if jsonOut {
		data, err := jsonutil.MarshalIndentWithNewline(previews, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(data))
		return nil
	}
	printSnapshotTable(w, previews)
	return nil
}

// printSnapshotTable renders previews as a fixed-width table, truncating to
// the terminal width when stdout is a terminal (mirrors status.go's table
// sizing approach).
func printSnapshotTable(w io.Writer, previews []filehistory.Preview) {
	if len(previews) == 0 {
		fmt.Fprintln(w, "No snapshots recorded for this session.")
		return
	}

	width := 100
	if sz, _, err := term.GetSize(0); err == nil && sz > 0 {
		width = sz
	}

	fmt.Fprintf(w, "%-24s  %-20s  %-6s  %s\n", "MESSAGE ID", "TIME", "FILES", "CHANGES")
	for _, p := range previews {
		line := fmt.Sprintf("%-24s  %-20s  %-6d  %d",
			p.MessageID, p.Timestamp.Format("2006-01-02 15:04:05"), p.FileCount, p.ChangeCount)
		if len(line) > width && width > 0 {
			line = line[:width]
		}
		fmt.Fprintln(w, line)
	}
}

func newFileHistoryPreviewCmd() *cobra.Command {
	var sessionFlag string
	var cumulative bool

	cmd := &cobra.Command{
		Use:   "preview <message-id>",
		Short: "Preview the effect of rewinding to a snapshot, without changing files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := resolveFileHistorySessionID(sessionFlag)
			if err != nil {
				return err
			}
			history, err := loadFileHistory(cmd.Context(), sessionID)
			if err != nil {
				return fmt.Errorf("failed to load file history: %w", err)
			}
			result := history.PreviewRewind(cmd.Context(), args[0], cumulative)
			return printRewindResult(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVar(&sessionFlag, "session", "", "Session ID (defaults to the active session)")
	cmd.Flags().BoolVar(&cumulative, "cumulative", false, "Preview cumulative rewind back to this point (default: this message's own changes)")
	return cmd
}

func newFileHistoryRewindCmd() *cobra.Command {
	var sessionFlag string
	var toFlag string
	var forceFlag bool

	cmd := &cobra.Command{
		Use:   "rewind",
		Short: "Restore tracked files to the state recorded at a snapshot",
		Long: `Interactive command for rewinding a session's tracked files to an earlier
snapshot. With --to, rewinds non-interactively to the named message ID.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sessionID, err := resolveFileHistorySessionID(sessionFlag)
			if err != nil {
				return err
			}
			history, err := loadFileHistory(cmd.Context(), sessionID)
			if err != nil {
				return fmt.Errorf("failed to load file history: %w", err)
			}

			if toFlag != "" {
				return runFileHistoryRewindTo(cmd, history, toFlag, forceFlag)
			}
			return runFileHistoryRewindInteractive(cmd, history)
		},
	}

	cmd.Flags().StringVar(&sessionFlag, "session", "", "Session ID (defaults to the active session)")
	cmd.Flags().StringVar(&toFlag, "to", "", "Rewind to a specific message ID (non-interactive)")
	cmd.Flags().BoolVarP(&forceFlag, "force", "f", false, "Skip the confirmation prompt")
	return cmd
}

func runFileHistoryRewindTo(cmd *cobra.Command, history *filehistory.FileHistory, messageID string, force bool) error {
	if !history.HasSnapshot(messageID) {
		return fmt.Errorf("no snapshot found for message %s", messageID)
	}

	if !force {
		preview := history.PreviewRewind(cmd.Context(), messageID, true)
		if !preview.Success {
			return fmt.Errorf("preview failed: %s", preview.Error)
		}
		if len(preview.FilesChanged) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "This will restore %d file(s):\n", len(preview.FilesChanged))
			for _, f := range preview.FilesChanged {
				fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", f)
			}
		}
		var confirm bool
		confirmForm := NewAccessibleForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Rewind to %s?", messageID)).
					Description("Current file contents not covered by a snapshot will be overwritten.").
					Value(&confirm),
			),
		)
		if err := confirmForm.Run(); err != nil {
			return fmt.Errorf("confirmation cancelled: %w", err)
		}
		if !confirm {
			fmt.Fprintln(cmd.OutOrStdout(), "Rewind cancelled.")
			return nil
		}
	}

	result := history.RewindToMessage(cmd.Context(), messageID, false)
	return printRewindResult(cmd.OutOrStdout(), result)
}

func runFileHistoryRewindInteractive(cmd *cobra.Command, history *filehistory.FileHistory) error {
	previews := history.GetSnapshotPreviews()
	if len(previews) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No snapshots recorded for this session.")
		return nil
	}

	options := make([]huh.Option[string], 0, len(previews)+1)
	for _, p := range previews {
		label := fmt.Sprintf("%s (%s) %d file(s), %d change(s)",
			p.MessageID, p.Timestamp.Format("2006-01-02 15:04"), p.FileCount, p.ChangeCount)
		options = append(options, huh.NewOption(label, p.MessageID))
	}
	options = append(options, huh.NewOption("Cancel", "cancel"))

	var selected string
	form := NewAccessibleForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select a snapshot to rewind to").
				Options(options...).
				Value(&selected),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("selection cancelled: %w", err)
	}
	if selected == "" || selected == "cancel" {
		fmt.Fprintln(cmd.OutOrStdout(), "Rewind cancelled.")
		return nil
	}

	return runFileHistoryRewindTo(cmd, history, selected, false)
}

func printRewindResult(w io.Writer, result filehistory.RewindResult) error {
	if !result.Success {
		return fmt.Errorf("rewind failed: %s", result.Error)
	}
	if len(result.FilesChanged) == 0 {
		fmt.Fprintln(w, "No files changed.")
		return nil
	}
	sortedFiles := append([]string(nil), result.FilesChanged...)
	sort.Strings(sortedFiles)
	fmt.Fprintf(w, "Changed %d file(s) (+%d/-%d lines):\n", len(sortedFiles), result.Insertions, result.Deletions)
	for _, f := range sortedFiles {
		fmt.Fprintf(w, "  %s\n", f)
	}
	return nil
}

func newFileHistoryStatusCmd() *cobra.Command {
	var sessionFlag string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show file history status for a session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sessionID, err := resolveFileHistorySessionID(sessionFlag)
			if err != nil {
				return err
			}
			return runFileHistoryStatus(cmd.Context(), cmd.OutOrStdout(), sessionID)
		},
	}

	cmd.Flags().StringVar(&sessionFlag, "session", "", "Session ID (defaults to the active session)")
	return cmd
}

func runFileHistoryStatus(ctx context.Context, w io.Writer, sessionID string) error {
	cfg, err := GetFileHistoryConfig()
	if err != nil {
		return fmt.Errorf("failed to load file history config: %w", err)
	}

	fmt.Fprintf(w, "Session:     %s\n", sessionID)
	fmt.Fprintf(w, "Checkpoints: %t\n", cfg.Checkpoints)
	fmt.Fprintf(w, "Backup root: %s\n", cfg.BackupRoot)

	if !cfg.Checkpoints {
		return nil
	}

	history, err := loadFileHistory(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load file history: %w", err)
	}
	fmt.Fprintf(w, "Snapshots:   %d\n", len(history.Snapshots()))
	return nil
}

func newFileHistoryDoctorCmd() *cobra.Command {
	var sessionFlag string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Verify that every snapshot's backup files still exist on disk",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sessionID, err := resolveFileHistorySessionID(sessionFlag)
			if err != nil {
				return err
			}
			return runFileHistoryDoctor(cmd.Context(), cmd.OutOrStdout(), sessionID)
		},
	}

	cmd.Flags().StringVar(&sessionFlag, "session", "", "Session ID (defaults to the active session)")
	return cmd
}

func runFileHistoryDoctor(ctx context.Context, w io.Writer, sessionID string) error {
	history, err := loadFileHistory(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load file history: %w", err)
	}

	cfg, err := GetFileHistoryConfig()
	if err != nil {
		return fmt.Errorf("failed to load file history config: %w", err)
	}
	store, err := filehistory.NewBackupStore(sessionBackupDirForDoctor(cfg.BackupRoot, sessionID))
	if err != nil {
		return fmt.Errorf("failed to open backup store: %w", err)
	}

	var missing int
	for _, snap := range history.Snapshots() {
		for path, meta := range snap.TrackedFileBackups {
			if !meta.Present() {
				continue
			}
			if _, _, ok := store.Stat(meta.BackupFileName); !ok {
				missing++
				fmt.Fprintf(w, "missing backup: %s (path=%s, snapshot=%s)\n", meta.BackupFileName, path, snap.MessageID)
			}
		}
	}

	if missing == 0 {
		fmt.Fprintln(w, "All backups present.")
	} else {
		fmt.Fprintf(w, "%d missing backup(s).\n", missing)
	}
	return nil
}

func sessionBackupDirForDoctor(backupRoot, sessionID string) string {
	return filepath.Join(backupRoot, sessionID)
}

func newFileHistoryCleanCmd() *cobra.Command {
	var sessionFlag string
	var forceFlag bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove a session's backup directory and journal",
		Long: `Deletes a session's backup directory and journal file. This is manual
garbage collection: the engine itself never deletes backups on its own.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sessionID, err := resolveFileHistorySessionID(sessionFlag)
			if err != nil {
				return err
			}
			return runFileHistoryClean(cmd.OutOrStdout(), sessionID, forceFlag)
		},
	}

	cmd.Flags().StringVar(&sessionFlag, "session", "", "Session ID (defaults to the active session)")
	cmd.Flags().BoolVarP(&forceFlag, "force", "f", false, "Actually delete (default: dry run)")
	return cmd
}

func runFileHistoryClean(w io.Writer, sessionID string, force bool) error {
	cfg, err := GetFileHistoryConfig()
	if err != nil {
		return fmt.Errorf("failed to load file history config: %w", err)
	}
	backupDir := sessionBackupDirForDoctor(cfg.BackupRoot, sessionID)
	journalPath := fileHistoryJournalPath(sessionID)

	if !force {
		fmt.Fprintf(w, "Would remove:\n  %s\n  %s\n", backupDir, journalPath)
		fmt.Fprintln(w, "Run with --force to actually delete.")
		return nil
	}

	if err := os.RemoveAll(backupDir); err != nil {
		return fmt.Errorf("failed to remove backup directory: %w", err)
	}
	if err := os.RemoveAll(journalPath); err != nil {
		return fmt.Errorf("failed to remove journal: %w", err)
	}

	manager, err := fileHistoryManager()
	if err == nil {
		manager.Clear(sessionID)
	}

	fmt.Fprintf(w, "Removed file history for session %s.\n", sessionID)
	return nil
}
