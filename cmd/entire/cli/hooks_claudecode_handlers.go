// hooks_claudecode_handlers.go contains Claude Code specific hook handler implementations.
// These are called by the hook registry in hook_registry.go.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"entire.io/cli/cmd/entire/cli/agent"
	"entire.io/cli/cmd/entire/cli/agent/claudecode"
	"entire.io/cli/cmd/entire/cli/logging"
	"entire.io/cli/cmd/entire/cli/paths"
	"entire.io/cli/cmd/entire/cli/session"
	"entire.io/cli/cmd/entire/cli/sessionid"
	"entire.io/cli/cmd/entire/cli/strategy"
	"entire.io/cli/cmd/entire/cli/validation"
)

// currentSessionIDWithFallback returns the persisted Entire session ID when available.
// Falls back to using the model session ID directly (since agent ID = entire ID now).
// The persisted session is checked for backwards compatibility with legacy date-prefixed IDs.
func currentSessionIDWithFallback(modelSessionID string) string {
	entireSessionID, err := paths.ReadCurrentSession()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to read current session: %v\n", err)
	}
	if entireSessionID != "" {
		// Validate persisted session ID to fail-fast on corrupted files
		if err := validation.ValidateSessionID(entireSessionID); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: invalid persisted session ID: %v\n", err)
			// Fall through to fallback
		} else if modelSessionID == "" || sessionid.ModelSessionID(entireSessionID) == modelSessionID {
			return entireSessionID
		} else {
			fmt.Fprintf(os.Stderr, "Warning: persisted session ID does not match hook session ID\n")
		}
	}
	if modelSessionID == "" {
		return ""
	}
	// Use agent session ID directly as entire session ID (identity function)
	return modelSessionID
}

// hookInputData contains parsed hook input and session identifiers.
type hookInputData struct {
	agent           agent.Agent
	input           *agent.HookInput
	modelSessionID  string
	entireSessionID string
}

// parseAndLogHookInput parses the hook input and sets up logging context.
func parseAndLogHookInput() (*hookInputData, error) {
	// Get the agent from the hook command context (e.g., "entire hooks claude-code ...")
	ag, err := GetCurrentHookAgent()
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}

	// Parse hook input using agent interface
	input, err := ag.ParseHookInput(agent.HookUserPromptSubmit, os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("failed to parse hook input: %w", err)
	}

	logCtx := logging.WithAgent(logging.WithComponent(context.Background(), "hooks"), ag.Name())
	logging.Info(logCtx, "user-prompt-submit",
		slog.String("hook", "user-prompt-submit"),
		slog.String("hook_type", "agent"),
		slog.String("model_session_id", input.SessionID),
		slog.String("transcript_path", input.SessionRef),
	)

	modelSessionID := input.SessionID
	if modelSessionID == "" {
		modelSessionID = unknownSessionID
	}

	// Get the Entire session ID, preferring the persisted value to handle midnight boundary
	entireSessionID := currentSessionIDWithFallback(modelSessionID)

	return &hookInputData{
		agent:           ag,
		input:           input,
		modelSessionID:  modelSessionID,
		entireSessionID: entireSessionID,
	}, nil
}

// checkConcurrentSessions checks for concurrent session conflicts and shows warnings if needed.
// Returns true if the hook should be skipped due to an unresolved conflict.
func checkConcurrentSessions(ag agent.Agent, entireSessionID string) (bool, error) {
	// Check if warnings are disabled via settings
	if IsMultiSessionWarningDisabled() {
		return false, nil
	}

	strat := GetStrategy()

	concurrentChecker, ok := strat.(strategy.ConcurrentSessionChecker)
	if !ok {
		return false, nil // Strategy doesn't support concurrent checks
	}

	// Check if this session already acknowledged the warning
	existingState, loadErr := strategy.LoadSessionState(entireSessionID)
	warningAlreadyShown := loadErr == nil && existingState != nil && existingState.ConcurrentWarningShown

	// Check for other active sessions with checkpoints (on current HEAD)
	otherSession, checkErr := concurrentChecker.HasOtherActiveSessionsWithCheckpoints(entireSessionID)
	hasConflict := checkErr == nil && otherSession != nil

	if warningAlreadyShown {
		if hasConflict {
			// Warning was shown and conflict still exists - skip hooks
			return true, nil
		}
		// Warning was shown but conflict is resolved (e.g., user committed)
		// Clear the flag and proceed normally
		if existingState != nil {
			existingState.ConcurrentWarningShown = false
			if saveErr := strategy.SaveSessionState(existingState); saveErr != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to clear concurrent warning flag: %v\n", saveErr)
			}
		}
		return false, nil
	}

	if hasConflict {
		// First time seeing conflict - show warning
		// Include BaseCommit and WorktreePath so session state is complete for condensation
		repo, err := strategy.OpenRepository()
		if err != nil {
			// Output user-friendly error message via hook response
			if outputErr := outputHookResponse(false, fmt.Sprintf("Failed to open git repository: %v\n\nPlease ensure you're in a git repository and try again.", err)); outputErr != nil {
				return false, outputErr
			}
			return true, nil // Skip hook after outputting response
		}
		head, err := repo.Head()
		if err != nil {
			// Output user-friendly error message via hook response
			if outputErr := outputHookResponse(false, fmt.Sprintf("Failed to get git HEAD: %v\n\nPlease ensure the repository has at least one commit.", err)); outputErr != nil {
				return false, outputErr
			}
			return true, nil // Skip hook after outputting response
		}
		worktreePath, err := strategy.GetWorktreePath()
		if err != nil {
			// Non-fatal: continue without worktree path
			worktreePath = ""
		}
		worktreeID, err := paths.GetWorktreeID(worktreePath)
		if err != nil {
			// Non-fatal: continue with empty worktree ID (main worktree)
			worktreeID = ""
		}
		agentType := ag.Type()
		newState := &strategy.SessionState{
			SessionID:              entireSessionID,
			BaseCommit:             head.Hash().String(),
			WorktreePath:           worktreePath,
			WorktreeID:             worktreeID,
			ConcurrentWarningShown: true,
			StartedAt:              time.Now(),
			AgentType:              agentType,
		}
		if saveErr := strategy.SaveSessionState(newState); saveErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to save session state: %v\n", saveErr)
		}

		// Get resume command for the other session using the CONFLICTING session's agent type.
		// If the conflicting session is from a different agent (e.g., Gemini when we're Claude),
		// use that agent's resume command format. Otherwise, use our own format (backward compatible).
		var resumeCmd string
		if otherSession.AgentType != "" && otherSession.AgentType != agentType {
			// Different agent type - look up the conflicting agent
			if conflictingAgent, agentErr := agent.GetByAgentType(otherSession.AgentType); agentErr == nil {
				resumeCmd = conflictingAgent.FormatResumeCommand(conflictingAgent.ExtractAgentSessionID(otherSession.SessionID))
			}
		}
		// Fall back to current agent if same type or couldn't get the conflicting agent
		if resumeCmd == "" {
			resumeCmd = ag.FormatResumeCommand(ag.ExtractAgentSessionID(otherSession.SessionID))
		}

		// Try to read the other session's initial prompt
		otherPrompt := strategy.ReadSessionPromptFromShadow(repo, otherSession.BaseCommit, otherSession.WorktreeID, otherSession.SessionID)

		// Build message with other session's prompt if available
		var message string
		suppressHint := "\n\nTo suppress this warning in future sessions, run:\n  entire enable --disable-multisession-warning"
		if otherPrompt != "" {
			message = fmt.Sprintf("Another session is active: \"%s\"\n\nYou can continue here, but checkpoints from both sessions will be interleaved.\n\nTo resume the other session instead, exit Claude and run: %s%s\n\nPress the up arrow key to get your prompt back.", otherPrompt, resumeCmd, suppressHint)
		} else {
			message = "Another session is active with uncommitted changes. You can continue here, but checkpoints from both sessions will be interleaved.\n\nTo resume the other session instead, exit Claude and run: " + resumeCmd + suppressHint + "\n\nPress the up arrow key to get your prompt back."
		}

		// Output blocking JSON response - warn about concurrent sessions but allow continuation
		// Both sessions will capture checkpoints, which will be interleaved on the shadow branch
		if err := outputHookResponse(false, message); err != nil {
			return false, err // Failed to output response
		}
		// Block the first prompt to show the warning, but subsequent prompts will proceed
		return true, nil
	}

	return false, nil
}

// handleSessionStartCommon is the shared implementation for session start hooks.
// Used by both Claude Code and Gemini CLI handlers.
func handleSessionStartCommon() error {
	ag, err := GetCurrentHookAgent()
	if err != nil {
		return fmt.Errorf("failed to get agent: %w", err)
	}

	input, err := ag.ParseHookInput(agent.HookSessionStart, os.Stdin)
	if err != nil {
		return fmt.Errorf("failed to parse hook input: %w", err)
	}

	logCtx := logging.WithAgent(logging.WithComponent(context.Background(), "hooks"), ag.Name())
	logging.Info(logCtx, "session-start",
		slog.String("hook", "session-start"),
		slog.String("hook_type", "agent"),
		slog.String("model_session_id", input.SessionID),
		slog.String("transcript_path", input.SessionRef),
	)

	if input.SessionID == "" {
		return errors.New("no session_id in input")
	}

	// Check for existing legacy session (backward compatibility with date-prefixed format)
	// If found, preserve the old session ID to avoid orphaning state files
	entireSessionID := session.FindLegacyEntireSessionID(input.SessionID)
	if entireSessionID == "" {
		// No legacy session found - use agent session ID directly (new format)
		entireSessionID = input.SessionID
	}

	if err := paths.WriteCurrentSession(entireSessionID); err != nil {
		return fmt.Errorf("failed to set current session: %w", err)
	}

	fmt.Printf("Current session set to: %s\n", entireSessionID)
	return nil
}

// handleSessionInitErrors handles session initialization errors and provides user-friendly messages.
func handleSessionInitErrors(ag agent.Agent, initErr error) error {
	// Check for session ID conflict error (shadow branch has different session)
	var sessionConflictErr *strategy.SessionIDConflictError
	if errors.As(initErr, &sessionConflictErr) {
		// If multi-session warnings are disabled, skip this error silently
		// The user has explicitly opted to work with multiple concurrent sessions
		if IsMultiSessionWarningDisabled() {
			return nil
		}

		// Check if EITHER session has the concurrent warning shown
		// If so, the user was already warned and chose to continue - allow concurrent sessions
		existingState, loadErr := strategy.LoadSessionState(sessionConflictErr.ExistingSession)
		newState, newLoadErr := strategy.LoadSessionState(sessionConflictErr.NewSession)
		if (loadErr == nil && existingState != nil && existingState.ConcurrentWarningShown) ||
			(newLoadErr == nil && newState != nil && newState.ConcurrentWarningShown) {
			// At least one session was warned - allow concurrent operation
			return nil
		}
		// Try to get the conflicting session's agent type from its state file
		// If it's a different agent type, use that agent's resume command format
		var resumeCmd string
		if loadErr == nil && existingState != nil && existingState.AgentType != "" {
			if conflictingAgent, agentErr := agent.GetByAgentType(existingState.AgentType); agentErr == nil {
				resumeCmd = conflictingAgent.FormatResumeCommand(conflictingAgent.ExtractAgentSessionID(sessionConflictErr.ExistingSession))
			}
		}
		// Fall back to current agent if we couldn't get the conflicting agent
		if resumeCmd == "" {
			resumeCmd = ag.FormatResumeCommand(ag.ExtractAgentSessionID(sessionConflictErr.ExistingSession))
		}
		message := fmt.Sprintf(
			"Warning: Session ID conflict detected!\n\n"+
				"Shadow branch: %s\n"+
				"Existing session: %s\n"+
				"New session: %s\n\n"+
				"The shadow branch already has checkpoints from a different session.\n"+
				"Starting a new session would orphan the existing work.\n\n"+
				"Options:\n"+
				"1. Commit your changes (git commit) to create a new base commit\n"+
				"2. Run 'entire reset' to discard the shadow branch and start fresh\n"+
				"3. Resume the existing session: %s\n\n"+
				"To suppress this warning in future sessions, run:\n"+
				"  entire enable --disable-multisession-warning",
			sessionConflictErr.ShadowBranch,
			sessionConflictErr.ExistingSession,
			sessionConflictErr.NewSession,
			resumeCmd,
		)
		// Output blocking JSON response - user must resolve conflict before continuing
		if err := outputHookResponse(false, message); err != nil {
			return err
		}
		// Return nil so hook exits cleanly (status 0), not with error status
		return nil
	}

	// Unknown error type
	fmt.Fprintf(os.Stderr, "Warning: failed to initialize session state: %v\n", initErr)
	return nil
}

// captureInitialState captures the initial state on user prompt submit.
func captureInitialState() error {
	// Parse hook input and setup logging
	hookData, err := parseAndLogHookInput()
	if err != nil {
		return err
	}

	// UNLESS the situation has changed (e.g., user committed, so no more conflict).
	skipHook, err := checkConcurrentSessions(hookData.agent, hookData.entireSessionID)
	if err != nil {
		return err
	}
	if skipHook {
		return nil
	}

	// CLI captures state directly (including transcript position)
	if err := CapturePrePromptState(hookData.entireSessionID, hookData.input.SessionRef); err != nil {
		return err
	}

	// If strategy implements SessionInitializer, call it to initialize session state
	strat := GetStrategy()
	if initializer, ok := strat.(strategy.SessionInitializer); ok {
		agentType := hookData.agent.Type()
		if initErr := initializer.InitializeSession(hookData.entireSessionID, agentType, hookData.input.SessionRef); initErr != nil {
			if err := handleSessionInitErrors(hookData.agent, initErr); err != nil {
				return err
			}
		}
	}

	return nil
}

// commitWithMetadata commits the session changes with metadata.
func commitWithMetadata() error {
	// Skip on default branch for strategies that don't allow it
	if skip, branchName := ShouldSkipOnDefaultBranchForStrategy(); skip {
		fmt.Fprintf(os.Stderr, "Entire: skipping on branch '%s' - create a feature branch to use Entire tracking\n", branchName)
		return nil // Don't fail the hook, just skip
	}

	// Get the agent for hook input parsing and session ID transformation
	ag, err := GetCurrentHookAgent()
	if err != nil {
		return fmt.Errorf("failed to get agent: %w", err)
	}

	// Parse hook input using agent interface
	input, err := ag.ParseHookInput(agent.HookStop, os.Stdin)
	if err != nil {
		return fmt.Errorf("failed to parse hook input: %w", err)
	}

	logCtx := logging.WithAgent(logging.WithComponent(context.Background(), "hooks"), ag.Name())
	logging.Info(logCtx, "stop",
		slog.String("hook", "stop"),
		slog.String("hook_type", "agent"),
		slog.String("model_session_id", input.SessionID),
		slog.String("transcript_path", input.SessionRef),
	)

	modelSessionID := input.SessionID
	if modelSessionID == "" {
		modelSessionID = unknownSessionID
	}

	// Get the Entire session ID, preferring the persisted value to handle midnight boundary
	entireSessionID := currentSessionIDWithFallback(modelSessionID)

	transcriptPath := input.SessionRef
	if transcriptPath == "" || !fileExists(transcriptPath) {
		return fmt.Errorf("transcript file not found or empty: %s", transcriptPath)
	}

	// Create session metadata folder using the entire session ID (preserves original date on resume)
	// Use AbsPath to ensure we create at repo root, not relative to cwd
	sessionDir := paths.SessionMetadataDirFromEntireID(entireSessionID)
	sessionDirAbs, err := paths.AbsPath(sessionDir)
	if err != nil {
		sessionDirAbs = sessionDir // Fallback to relative
	}
	if err := os.MkdirAll(sessionDirAbs, 0o750); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	// Copy transcript
	logFile := filepath.Join(sessionDirAbs, paths.TranscriptFileName)
	if err := copyFile(transcriptPath, logFile); err != nil {
		return fmt.Errorf("failed to copy transcript: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Copied transcript to: %s\n", sessionDir+"/"+paths.TranscriptFileName)

	// Load session state to get transcript offset (for strategies that track it)
	// This is used to only parse NEW transcript lines since the last checkpoint
	var transcriptOffset int
	sessionState, loadErr := strategy.LoadSessionState(entireSessionID)
	if loadErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load session state: %v\n", loadErr)
	}
	if sessionState != nil {
		transcriptOffset = sessionState.CondensedTranscriptLines
		fmt.Fprintf(os.Stderr, "Session state found: parsing transcript from line %d\n", transcriptOffset)
	}

	// Parse transcript (optionally from offset for strategies that track transcript position)
	// When transcriptOffset > 0, only parse NEW lines since the last checkpoint
	var transcript []transcriptLine
	var totalLines int
	if transcriptOffset > 0 {
		// Parse only NEW lines since last checkpoint
		transcript, totalLines, err = parseTranscriptFromLine(transcriptPath, transcriptOffset)
		if err != nil {
			return fmt.Errorf("failed to parse transcript from line %d: %w", transcriptOffset, err)
		}
		fmt.Fprintf(os.Stderr, "Parsed %d new transcript lines (total: %d)\n", len(transcript), totalLines)
	} else {
		// First prompt or no session state - parse entire transcript
		// Use parseTranscriptFromLine with offset 0 to also get totalLines
		transcript, totalLines, err = parseTranscriptFromLine(transcriptPath, 0)
		if err != nil {
			return fmt.Errorf("failed to parse transcript: %w", err)
		}
	}

	// Feed the new transcript lines to the file history engine, independent
	// of whether the git-shadow-branch strategy below finds changes to commit.
	runFileHistoryAfterTurn(entireSessionID, transcript, false)

	// Extract all prompts since last checkpoint for prompt file
	allPrompts := extractUserPrompts(transcript)
	promptFile := filepath.Join(sessionDirAbs, paths.PromptFileName)
	promptContent := strings.Join(allPrompts, "\n\n---\n\n")
	if err := os.WriteFile(promptFile, []byte(promptContent), 0o600); err != nil {
		return fmt.Errorf("failed to write prompt file: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Extracted %d prompt(s) to: %s\n", len(allPrompts), sessionDir+"/"+paths.PromptFileName)

	// Extract summary
	summaryFile := filepath.Join(sessionDirAbs, paths.SummaryFileName)
	summary := extractLastAssistantMessage(transcript)
	if err := os.WriteFile(summaryFile, []byte(summary), 0o600); err != nil {
		return fmt.Errorf("failed to write summary file: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Extracted summary to: %s\n", sessionDir+"/"+paths.SummaryFileName)

	// Get modified files from transcript
	modifiedFiles := extractModifiedFiles(transcript)

	// Generate commit message from last user prompt
	lastPrompt := ""
	if len(allPrompts) > 0 {
		lastPrompt = allPrompts[len(allPrompts)-1]
	}
	commitMessage := generateCommitMessage(lastPrompt)
	fmt.Fprintf(os.Stderr, "Using commit message: %s\n", commitMessage)

	// Get repo root for path conversion (not cwd, since Claude may be in a subdirectory)
	// Using cwd would filter out files in sibling directories (paths starting with ..)
	repoRoot, err := paths.RepoRoot()
	if err != nil {
		return fmt.Errorf("failed to get repo root: %w", err)
	}

	// Load pre-prompt state (captured on UserPromptSubmit)
	preState, err := LoadPrePromptState(entireSessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load pre-prompt state: %v\n", err)
	}
	if preState != nil {
		fmt.Fprintf(os.Stderr, "Loaded pre-prompt state: %d pre-existing untracked files\n", len(preState.UntrackedFiles))
	}

	// Compute new files (files created during session)
	newFiles, err := ComputeNewFiles(preState)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to compute new files: %v\n", err)
	}

	// Compute deleted files (tracked files that were deleted)
	deletedFiles, err := ComputeDeletedFiles()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to compute deleted files: %v\n", err)
	}

	// Filter and normalize all paths (CLI responsibility)
	relModifiedFiles := FilterAndNormalizePaths(modifiedFiles, repoRoot)
	relNewFiles := FilterAndNormalizePaths(newFiles, repoRoot)
	relDeletedFiles := FilterAndNormalizePaths(deletedFiles, repoRoot)

	// Check if there are any changes to commit
	totalChanges := len(relModifiedFiles) + len(relNewFiles) + len(relDeletedFiles)
	if totalChanges == 0 {
		fmt.Fprintf(os.Stderr, "No files were modified during this session\n")
		fmt.Fprintf(os.Stderr, "Skipping commit\n")
		// Clean up state even when skipping
		if err := CleanupPrePromptState(entireSessionID); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to cleanup pre-prompt state: %v\n", err)
		}
		return nil
	}

	fmt.Fprintf(os.Stderr, "Files modified during session (%d):\n", len(relModifiedFiles))
	for _, file := range relModifiedFiles {
		fmt.Fprintf(os.Stderr, "  - %s\n", file)
	}
	if len(relNewFiles) > 0 {
		fmt.Fprintf(os.Stderr, "New files created (%d):\n", len(relNewFiles))
		for _, file := range relNewFiles {
			fmt.Fprintf(os.Stderr, "  + %s\n", file)
		}
	}
	if len(relDeletedFiles) > 0 {
		fmt.Fprintf(os.Stderr, "Files deleted (%d):\n", len(relDeletedFiles))
		for _, file := range relDeletedFiles {
			fmt.Fprintf(os.Stderr, "  - %s\n", file)
		}
	}

	// Create context file before saving changes
	contextFile := filepath.Join(sessionDirAbs, paths.ContextFileName)
	if err := createContextFileMinimal(contextFile, commitMessage, entireSessionID, promptFile, summaryFile, transcript); err != nil {
		return fmt.Errorf("failed to create context file: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Created context file: %s\n", sessionDir+"/"+paths.ContextFileName)

	// Get git author from local/global config
	author, err := GetGitAuthor()
	if err != nil {
		return fmt.Errorf("failed to get git author: %w", err)
	}

	// Get the configured strategy
	strat := GetStrategy()

	// Ensure strategy setup is in place (auto-installs git hook, gitignore, etc. if needed)
	if err := strat.EnsureSetup(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to ensure strategy setup: %v\n", err)
	}

	// Get agent type from the currently executing hook agent (authoritative source)
	var agentType agent.AgentType
	if hookAgent, agentErr := GetCurrentHookAgent(); agentErr == nil {
		agentType = hookAgent.Type()
	}

	// Get transcript position from pre-prompt state (captured at checkpoint start)
	var transcriptIdentifierAtStart string
	var transcriptLinesAtStart int
	if preState != nil {
		transcriptIdentifierAtStart = preState.LastTranscriptIdentifier
		transcriptLinesAtStart = preState.LastTranscriptLineCount
	}

	// Calculate token usage for this checkpoint (Claude Code specific)
	var tokenUsage *agent.TokenUsage
	if transcriptPath != "" {
		// Subagents are stored in a subagents/ directory next to the main transcript
		subagentsDir := filepath.Join(filepath.Dir(transcriptPath), entireSessionID, "subagents")
		usage, err := claudecode.CalculateTotalTokenUsage(transcriptPath, transcriptLinesAtStart, subagentsDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to calculate token usage: %v\n", err)
		} else {
			tokenUsage = usage
		}
	}

	// Build fully-populated save context and delegate to strategy
	// File history snapshot count for this session, recorded alongside the
	// git checkpoint metadata so `entire session list`/explain can show both
	// checkpoint mechanisms' activity without cross-referencing two stores.
	var fileHistorySnapshotCount int
	if _, snaps, err := fileHistoryJournal(entireSessionID).Load(); err == nil {
		fileHistorySnapshotCount = len(snaps)
	}

	ctx := strategy.SaveContext{
		SessionID:                entireSessionID,
		ModifiedFiles:            relModifiedFiles,
		NewFiles:                 relNewFiles,
		DeletedFiles:             relDeletedFiles,
		MetadataDir:              sessionDir,
		MetadataDirAbs:           sessionDirAbs,
		CommitMessage:            commitMessage,
		TranscriptPath:           transcriptPath,
		AuthorName:               author.Name,
		AuthorEmail:              author.Email,
		AgentType:                agentType,
		TranscriptUUIDAtStart:    transcriptIdentifierAtStart,
		TranscriptLinesAtStart:   transcriptLinesAtStart,
		TokenUsage:               tokenUsage,
		FileHistorySnapshotCount: fileHistorySnapshotCount,
	}

	if err := strat.SaveChanges(ctx); err != nil {
		return fmt.Errorf("failed to save changes: %w", err)
	}

	// Update session state with new transcript position for strategies that create
	// commits on the active branch (auto-commit strategy). This prevents parsing old transcript
	// lines on subsequent checkpoints.
	// Note: Shadow strategy doesn't create commits on the active branch, so its
	// checkpoints don't "consume" the transcript in the same way. Shadow should
	// continue parsing the full transcript to capture all files touched in the session.
	if strat.Name() == strategy.StrategyNameAutoCommit {
		// Create session state lazily if it doesn't exist (backward compat for resumed sessions
		// or if InitializeSession was never called/failed)
		if sessionState == nil {
			sessionState = &strategy.SessionState{
				SessionID: entireSessionID,
			}
		}
		sessionState.CondensedTranscriptLines = totalLines
		sessionState.CheckpointCount++
		if updateErr := strategy.SaveSessionState(sessionState); updateErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to update session state: %v\n", updateErr)
		} else {
			fmt.Fprintf(os.Stderr, "Updated session state: transcript position=%d, checkpoint=%d\n",
				totalLines, sessionState.CheckpointCount)
		}
	}

	// Clean up pre-prompt state (CLI responsibility)
	if err := CleanupPrePromptState(entireSessionID); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to cleanup pre-prompt state: %v\n", err)
	}

	return nil
}

// handleClaudeCodePostTodo handles the PostToolUse[TodoWrite] hook for subagent checkpoints.
// Creates a checkpoint if we're in a subagent context (active pre-task file exists).
// Skips silently if not in subagent context (main agent).
func handleClaudeCodePostTodo() error {
	input, err := parseSubagentCheckpointHookInput(os.Stdin)
	if err != nil {
		return fmt.Errorf("failed to parse PostToolUse[TodoWrite] input: %w", err)
	}

	// Get agent for logging context
	ag, err := GetCurrentHookAgent()
	if err != nil {
		return fmt.Errorf("failed to get agent: %w", err)
	}

	logCtx := logging.WithAgent(logging.WithComponent(context.Background(), "hooks"), ag.Name())
	logging.Info(logCtx, "post-todo",
		slog.String("hook", "post-todo"),
		slog.String("hook_type", "subagent"),
		slog.String("model_session_id", input.SessionID),
		slog.String("transcript_path", input.TranscriptPath),
		slog.String("tool_use_id", input.ToolUseID),
	)

	// Check if we're in a subagent context by looking for an active pre-task file
	taskToolUseID, found := FindActivePreTaskFile()
	if !found {
		// Not in subagent context - this is a main agent TodoWrite, skip
		return nil
	}

	// Skip on default branch to avoid polluting main/master history
	if skip, branchName := ShouldSkipOnDefaultBranch(); skip {
		fmt.Fprintf(os.Stderr, "Entire: skipping incremental checkpoint on branch '%s'\n", branchName)
		return nil
	}

	// Detect file changes since last checkpoint
	modified, newFiles, deleted, err := DetectChangedFiles()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to detect changed files: %v\n", err)
		return nil
	}

	// If no file changes, skip creating a checkpoint
	if len(modified) == 0 && len(newFiles) == 0 && len(deleted) == 0 {
		fmt.Fprintf(os.Stderr, "[entire] No file changes detected, skipping incremental checkpoint\n")
		return nil
	}

	// Get git author
	author, err := GetGitAuthor()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to get git author: %v\n", err)
		return nil
	}

	// Get the active strategy
	strat := GetStrategy()

	// Ensure strategy setup is complete
	if err := strat.EnsureSetup(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to ensure strategy setup: %v\n", err)
		return nil
	}

	// Get the session ID from the transcript path or input, then transform to Entire session ID
	sessionID := paths.ExtractSessionIDFromTranscriptPath(input.TranscriptPath)
	if sessionID == "" {
		sessionID = input.SessionID
	}
	entireSessionID := currentSessionIDWithFallback(sessionID)

	// Get next checkpoint sequence
	seq := GetNextCheckpointSequence(entireSessionID, taskToolUseID)

	// Extract the todo content from the tool_input.
	// PostToolUse receives the NEW todo list where the just-completed work is
	// marked as "completed". The last completed item is the work that was just done.
	todoContent := ExtractLastCompletedTodoFromToolInput(input.ToolInput)
	if todoContent == "" {
		// No completed items - this is likely the first TodoWrite (planning phase).
		// Check if there are any todos at all to avoid duplicate messages.
		todoCount := CountTodosFromToolInput(input.ToolInput)
		if todoCount > 0 {
			// Use "Planning: N todos" format for the first TodoWrite
			todoContent = fmt.Sprintf("Planning: %d todos", todoCount)
		}
		// If todoCount == 0, todoContent remains empty and FormatIncrementalMessage
		// will fall back to "Checkpoint #N" format
	}

	// Get agent type from the currently executing hook agent (authoritative source)
	var agentType agent.AgentType
	if hookAgent, agentErr := GetCurrentHookAgent(); agentErr == nil {
		agentType = hookAgent.Type()
	}

	// Build incremental checkpoint context
	ctx := strategy.TaskCheckpointContext{
		SessionID:           entireSessionID,
		ToolUseID:           taskToolUseID,
		ModifiedFiles:       modified,
		NewFiles:            newFiles,
		DeletedFiles:        deleted,
		TranscriptPath:      input.TranscriptPath,
		AuthorName:          author.Name,
		AuthorEmail:         author.Email,
		IsIncremental:       true,
		IncrementalSequence: seq,
		IncrementalType:     input.ToolName,
		IncrementalData:     input.ToolInput,
		TodoContent:         todoContent,
		AgentType:           agentType,
	}

	// Save incremental checkpoint
	if err := strat.SaveTaskCheckpoint(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to save incremental checkpoint: %v\n", err)
		return nil
	}

	fmt.Fprintf(os.Stderr, "[entire] Created incremental checkpoint #%d for %s (task: %s)\n",
		seq, input.ToolName, taskToolUseID[:min(12, len(taskToolUseID))])
	return nil
}

// handleClaudeCodePreTask handles the PreToolUse[Task] hook
func handleClaudeCodePreTask() error {
	// Skip on default branch for strategies that don't allow it
	if skip, branchName := ShouldSkipOnDefaultBranchForStrategy(); skip {
		fmt.Fprintf(os.Stderr, "Entire: skipping on branch '%s' - create a feature branch to use Entire tracking\n", branchName)
		return nil // Don't fail the hook, just skip
	}

	input, err := parseTaskHookInput(os.Stdin)
	if err != nil {
		return fmt.Errorf("failed to parse PreToolUse[Task] input: %w", err)
	}

	// Get agent for logging context
	ag, err := GetCurrentHookAgent()
	if err != nil {
		return fmt.Errorf("failed to get agent: %w", err)
	}

	logCtx := logging.WithAgent(logging.WithComponent(context.Background(), "hooks"), ag.Name())
	logging.Info(logCtx, "pre-task",
		slog.String("hook", "pre-task"),
		slog.String("hook_type", "subagent"),
		slog.String("model_session_id", input.SessionID),
		slog.String("transcript_path", input.TranscriptPath),
		slog.String("tool_use_id", input.ToolUseID),
	)

	// Log context to stdout
	logPreTaskHookContext(os.Stdout, input)

	// Capture pre-task state locally (for computing new files when task completes).
	// We don't create a shadow branch commit here. Commits are created during
	// task completion (handleClaudeCodePostTask/handleClaudeCodePostTodo) only if the task resulted
	// in file changes.
	if err := CapturePreTaskState(input.ToolUseID); err != nil {
		return fmt.Errorf("failed to capture pre-task state: %w", err)
	}

	return nil
}

// handleClaudeCodePostTask handles the PostToolUse[Task] hook
func handleClaudeCodePostTask() error {
	// Skip on default branch for strategies that don't allow it
	if skip, branchName := ShouldSkipOnDefaultBranchForStrategy(); skip {
		fmt.Fprintf(os.Stderr, "Entire: skipping on branch '%s' - create a feature branch to use Entire tracking\n", branchName)
		return nil // Don't fail the hook, just skip
	}

	input, err := parsePostTaskHookInput(os.Stdin)
	if err != nil {
		return fmt.Errorf("failed to parse PostToolUse[Task] input: %w", err)
	}

	// Extract subagent type from tool_input for logging
	subagentType, taskDescription := ParseSubagentTypeAndDescription(input.ToolInput)

	// Get agent for logging context
	ag, err := GetCurrentHookAgent()
	if err != nil {
		return fmt.Errorf("failed to get agent: %w", err)
	}

	// Log parsed input context
	logCtx := logging.WithAgent(logging.WithComponent(context.Background(), "hooks"), ag.Name())
	logging.Info(logCtx, "post-task",
		slog.String("hook", "post-task"),
		slog.String("hook_type", "subagent"),
		slog.String("tool_use_id", input.ToolUseID),
		slog.String("agent_id", input.AgentID),
		slog.String("subagent_type", subagentType),
	)

	// Determine subagent transcript path
	transcriptDir := filepath.Dir(input.TranscriptPath)
	var subagentTranscriptPath string
	if input.AgentID != "" {
		subagentTranscriptPath = AgentTranscriptPath(transcriptDir, input.AgentID)
		if !fileExists(subagentTranscriptPath) {
			subagentTranscriptPath = ""
		}
	}

	// Log context to stdout
	logPostTaskHookContext(os.Stdout, input, subagentTranscriptPath)

	// Parse transcript to extract modified files
	var modifiedFiles []string
	if subagentTranscriptPath != "" {
		// Use subagent transcript if available
		transcript, err := parseTranscript(subagentTranscriptPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to parse subagent transcript: %v\n", err)
		} else {
			modifiedFiles = extractModifiedFiles(transcript)
		}
	} else {
		// Fall back to main transcript
		transcript, err := parseTranscript(input.TranscriptPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to parse transcript: %v\n", err)
		} else {
			modifiedFiles = extractModifiedFiles(transcript)
		}
	}

	// Load pre-task state and compute new files
	preState, err := LoadPreTaskState(input.ToolUseID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load pre-task state: %v\n", err)
	}
	newFiles, err := ComputeNewFilesFromTask(preState)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to compute new files: %v\n", err)
	}

	// Get repo root for path conversion (not cwd, since Claude may be in a subdirectory)
	// Using cwd would filter out files in sibling directories (paths starting with ..)
	repoRoot, err := paths.RepoRoot()
	if err != nil {
		return fmt.Errorf("failed to get repo root: %w", err)
	}

	// Filter and normalize paths
	relModifiedFiles := FilterAndNormalizePaths(modifiedFiles, repoRoot)
	relNewFiles := FilterAndNormalizePaths(newFiles, repoRoot)

	// If no file changes, skip creating a checkpoint
	if len(relModifiedFiles) == 0 && len(relNewFiles) == 0 {
		fmt.Fprintf(os.Stderr, "[entire] No file changes detected, skipping task checkpoint\n")
		// Cleanup pre-task state (ignore error - cleanup is best-effort)
		_ = CleanupPreTaskState(input.ToolUseID) //nolint:errcheck // best-effort cleanup
		return nil
	}

	// Find checkpoint UUID from main transcript (best-effort, ignore errors)
	transcript, _ := parseTranscript(input.TranscriptPath) //nolint:errcheck // best-effort extraction
	checkpointUUID, _ := FindCheckpointUUID(transcript, input.ToolUseID)

	// Get git author
	author, err := GetGitAuthor()
	if err != nil {
		return fmt.Errorf("failed to get git author: %w", err)
	}

	// Get the configured strategy
	strat := GetStrategy()

	// Ensure strategy setup is in place
	if err := strat.EnsureSetup(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to ensure strategy setup: %v\n", err)
	}

	entireSessionID := currentSessionIDWithFallback(input.SessionID)

	// Get agent type from the currently executing hook agent (authoritative source)
	var agentType agent.AgentType
	if hookAgent, agentErr := GetCurrentHookAgent(); agentErr == nil {
		agentType = hookAgent.Type()
	}

	// Build task checkpoint context - strategy handles metadata creation
	// Note: Incremental checkpoints are now created during task execution via handleClaudeCodePostTodo,
	// so we don't need to collect/cleanup staging area here.
	ctx := strategy.TaskCheckpointContext{
		SessionID:              entireSessionID,
		ToolUseID:              input.ToolUseID,
		AgentID:                input.AgentID,
		ModifiedFiles:          relModifiedFiles,
		NewFiles:               relNewFiles,
		DeletedFiles:           nil, // TODO: compute deleted files
		TranscriptPath:         input.TranscriptPath,
		SubagentTranscriptPath: subagentTranscriptPath,
		CheckpointUUID:         checkpointUUID,
		AuthorName:             author.Name,
		AuthorEmail:            author.Email,
		SubagentType:           subagentType,
		TaskDescription:        taskDescription,
		AgentType:              agentType,
	}

	// Call strategy to save task checkpoint - strategy handles all metadata creation
	if err := strat.SaveTaskCheckpoint(ctx); err != nil {
		return fmt.Errorf("failed to save task checkpoint: %w", err)
	}

	// Cleanup pre-task state (ignore error - cleanup is best-effort)
	_ = CleanupPreTaskState(input.ToolUseID) //nolint:errcheck // best-effort cleanup

	return nil
}

// handleClaudeCodeSessionStart handles the SessionStart hook for Claude Code.
func handleClaudeCodeSessionStart() error {
	return handleSessionStartCommon()
}

// handleClaudeCodeSessionEnd handles the SessionEnd hook for Claude Code.
// This fires when the user explicitly closes the session.
// Updates the session state with EndedAt timestamp.
func handleClaudeCodeSessionEnd() error {
	ag, err := GetCurrentHookAgent()
	if err != nil {
		return fmt.Errorf("failed to get agent: %w", err)
	}

	input, err := ag.ParseHookInput(agent.HookSessionEnd, os.Stdin)
	if err != nil {
		return fmt.Errorf("failed to parse hook input: %w", err)
	}

	logCtx := logging.WithAgent(logging.WithComponent(context.Background(), "hooks"), ag.Name())
	logging.Info(logCtx, "session-end",
		slog.String("hook", "session-end"),
		slog.String("hook_type", "agent"),
		slog.String("model_session_id", input.SessionID),
	)

	entireSessionID := currentSessionIDWithFallback(input.SessionID)
	if entireSessionID == "" {
		return nil // No session to update
	}

	// Best-effort cleanup - don't block session closure on failure
	if err := markSessionEnded(entireSessionID); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to mark session ended: %v\n", err)
	}
	return nil
}

// markSessionEnded updates the session state with the current time as EndedAt.
func markSessionEnded(sessionID string) error {
	state, err := strategy.LoadSessionState(sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session state: %w", err)
	}
	if state == nil {
		return nil // No state file, nothing to update
	}

	now := time.Now()
	state.EndedAt = &now

	if err := strategy.SaveSessionState(state); err != nil {
		return fmt.Errorf("failed to save session state: %w", err)
	}
	return nil
}

// hookResponse represents a JSON response for Claude Code hooks.
// Used to control whether Claude continues processing the prompt.
type hookResponse struct {
	Continue   bool   `json:"continue"`
	StopReason string `json:"stopReason,omitempty"`
}

// outputHookResponse outputs a JSON response to stdout for Claude Code hooks.
// When continueExec is false, Claude will block the current operation and show the reason to the user.
func outputHookResponse(continueExec bool, reason string) error {
	resp := hookResponse{
		Continue:   continueExec,
		StopReason: reason,
	}
	if err := json.NewEncoder(os.Stdout).Encode(resp); err != nil {
		return fmt.Errorf("failed to encode hook response: %w", err)
	}
	return nil
}
