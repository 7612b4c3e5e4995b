package filehistory

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// EntryType discriminates a session journal line.
type EntryType string

const (
	EntryTypeMessage  EntryType = "message"
	EntryTypeSnapshot EntryType = "snapshot"
	EntryTypeConfig   EntryType = "config"
	EntryTypePending  EntryType = "pending"
)

// ContentPartType discriminates a content part inside MessageEntry.Content
// when the message's content is an ordered list of parts rather than a
// plain string.
type ContentPartType string

const (
	ContentPartText       ContentPartType = "text"
	ContentPartToolUse    ContentPartType = "tool_use"
	ContentPartToolResult ContentPartType = "tool-result"
)

// ContentPart is one tagged variant of a message's content array: a text
// block, a tool invocation, or a tool result. Only Type, ID (the
// tool-invocation id) and ToolCallID (the id a tool-result responds to) are
// consulted by the engine; Name/Input/Result are carried through untouched.
type ContentPart struct {
	Type       ContentPartType `json:"type"`
	Text       string          `json:"text,omitempty"`
	ID         string          `json:"id,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Name       string          `json:"name,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// MessageRole is the role of a journal message entry.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// MessageEntry is a `type: "message"` journal line.
type MessageEntry struct {
	UUID       string      `json:"uuid"`
	ParentUUID *string     `json:"parentUuid"`
	Role       MessageRole `json:"role"`
	Content    RawContent  `json:"content"`
	Timestamp  string      `json:"timestamp"`
}

// RawContent is the content field of a message entry: either a plain
// string or an ordered list of ContentPart. It round-trips through JSON
// without losing the original shape.
type RawContent struct {
	Text  string
	Parts []ContentPart
	isParts bool
}

// NewTextContent returns a RawContent holding a plain string.
func NewTextContent(text string) RawContent {
	return RawContent{Text: text}
}

// NewPartsContent returns a RawContent holding an ordered list of content
// parts (text, tool_use, tool_result blocks).
func NewPartsContent(parts []ContentPart) RawContent {
	return RawContent{Parts: parts, isParts: true}
}

// MarshalJSON implements json.Marshaler.
func (c RawContent) MarshalJSON() ([]byte, error) {
	if c.isParts {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON implements json.Unmarshaler, accepting either a JSON string
// or a JSON array of content parts.
func (c *RawContent) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil
	}
	if trimmed[0] == '"' {
		return json.Unmarshal(data, &c.Text)
	}
	if trimmed[0] == '[' {
		c.isParts = true
		return json.Unmarshal(data, &c.Parts)
	}
	return fmt.Errorf("content field is neither a string nor an array")
}

// PendingEntry is a `type: "pending"` journal line: one file's backup meta
// recorded by a pre-hook process before the assistant turn that will
// eventually snapshot it completes in a later process. The Lifecycle Binder
// runs as a fresh CLI invocation per hook call, so pending state has to be
// persisted here rather than kept only in the in-memory FileHistory.
type PendingEntry struct {
	RelPath string     `json:"relPath"`
	Meta    BackupMeta `json:"meta"`
}

// Journal is the append-only, line-delimited record of one session's
// messages and snapshots.
type Journal struct {
	path string
}

// NewJournal returns a Journal backed by the file at path. The file is not
// created until the first append.
func NewJournal(path string) *Journal {
	return &Journal{path: path}
}

// typeTag is the minimal shape used to sniff a journal line's discriminator
// before decoding the rest of it.
type typeTag struct {
	Type EntryType `json:"type"`
}

// AppendMessage serializes entry with a "message" type tag and appends one
// line to the journal file, creating parent directories as needed. Writes
// are best-effort ordered appends, not fsync'd per record.
func (j *Journal) AppendMessage(entry MessageEntry) error {
	return j.appendLine(EntryTypeMessage, entry)
}

// AppendSnapshot serializes entry with a "snapshot" type tag and appends
// one line to the journal file.
func (j *Journal) AppendSnapshot(entry Snapshot) error {
	return j.appendLine(EntryTypeSnapshot, entry)
}

// AppendPending serializes entry with a "pending" type tag and appends one
// line to the journal file, so a pre-hook process's tracking survives into
// the later process that runs the post-hook snapshot.
func (j *Journal) AppendPending(entry PendingEntry) error {
	return j.appendLine(EntryTypePending, entry)
}

// appendLine flattens payload's fields alongside a "type" discriminator
// into one JSON object, since payload's own struct tags already match the
// wire shape spec.md requires for that record type.
func (j *Journal) appendLine(entryType EntryType, payload interface{}) error {
	if err := os.MkdirAll(filepath.Dir(j.path), 0o750); err != nil {
		return fmt.Errorf("creating journal directory: %w", err)
	}

	fieldData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling journal entry: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(fieldData, &fields); err != nil {
		return fmt.Errorf("flattening journal entry: %w", err)
	}
	typeJSON, err := json.Marshal(entryType)
	if err != nil {
		return fmt.Errorf("marshaling entry type: %w", err)
	}
	fields["type"] = typeJSON

	line, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshaling journal line: %w", err)
	}

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640) //nolint:gosec // session-scoped journal path
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("appending to journal: %w", err)
	}
	return nil
}

// Load reads the journal, discarding unparseable lines silently, splits
// records by type (ignoring config and unknown types), runs messages
// through the active-path filter and tool-use cleanup, and returns both
// lists. Absent files return empty lists, not an error.
func (j *Journal) Load() (messages []MessageEntry, snapshots []Snapshot, err error) {
	f, err := os.Open(j.path) //nolint:gosec // session-scoped journal path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("opening journal: %w", err)
	}
	defer func() { _ = f.Close() }()

	var rawMessages []MessageEntry
	reader := bufio.NewReader(f)
	for {
		lineBytes, readErr := reader.ReadBytes('\n')
		if len(lineBytes) > 0 {
			trimmed := bytes.TrimSpace(lineBytes)
			if len(trimmed) > 0 {
				var tag typeTag
				if jsonErr := json.Unmarshal(trimmed, &tag); jsonErr == nil {
					switch tag.Type {
					case EntryTypeMessage:
						var msg MessageEntry
						if json.Unmarshal(trimmed, &msg) == nil {
							rawMessages = append(rawMessages, msg)
						}
					case EntryTypeSnapshot:
						var snap Snapshot
						if json.Unmarshal(trimmed, &snap) == nil {
							snapshots = append(snapshots, snap)
						}
					case EntryTypeConfig:
						// ignored
					}
				}
				// Unparseable or unknown-type lines are silently discarded.
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				return nil, nil, fmt.Errorf("reading journal: %w", readErr)
			}
			break
		}
	}

	active := filterActivePath(rawMessages)
	messages = cleanupUnmatchedToolUse(active)
	return messages, snapshots, nil
}

// LoadPending reads the journal and replays its pending/snapshot lines in
// order to recover the set of tracked-but-not-yet-snapshotted backups: a
// snapshot line clears every pending entry seen before it (mirroring
// FileHistory.CreateSnapshot, which consumes the whole pending set), and a
// later pending line for the same path supersedes an earlier one. Absent
// files return an empty list, not an error.
func (j *Journal) LoadPending() ([]PendingEntry, error) {
	f, err := os.Open(j.path) //nolint:gosec // session-scoped journal path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	defer func() { _ = f.Close() }()

	pending := make(map[string]BackupMeta)
	var order []string
	reader := bufio.NewReader(f)
	for {
		lineBytes, readErr := reader.ReadBytes('\n')
		if len(lineBytes) > 0 {
			trimmed := bytes.TrimSpace(lineBytes)
			if len(trimmed) > 0 {
				var tag typeTag
				if jsonErr := json.Unmarshal(trimmed, &tag); jsonErr == nil {
					switch tag.Type {
					case EntryTypePending:
						var entry PendingEntry
						if json.Unmarshal(trimmed, &entry) == nil {
							if _, exists := pending[entry.RelPath]; !exists {
								order = append(order, entry.RelPath)
							}
							pending[entry.RelPath] = entry.Meta
						}
					case EntryTypeSnapshot:
						pending = make(map[string]BackupMeta)
						order = nil
					}
				}
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				return nil, fmt.Errorf("reading journal: %w", readErr)
			}
			break
		}
	}

	entries := make([]PendingEntry, 0, len(order))
	for _, relPath := range order {
		entries = append(entries, PendingEntry{RelPath: relPath, Meta: pending[relPath]})
	}
	return entries, nil
}

// filterActivePath interprets messages as a tree via ParentUUID and selects
// the path from the most recent message back to its last null-parented
// ancestor, discarding off-path nodes. When a user forks the conversation
// by rewinding and resending, newer branches supersede older ones sharing
// the same parent; only the latest branch is "live".
func filterActivePath(messages []MessageEntry) []MessageEntry {
	if len(messages) == 0 {
		return nil
	}

	byUUID := make(map[string]MessageEntry, len(messages))
	var order []string
	for _, m := range messages {
		if _, exists := byUUID[m.UUID]; !exists {
			order = append(order, m.UUID)
		}
		byUUID[m.UUID] = m
	}

	// The "most recent" message is the last one appearing in append order
	// whose uuid is not itself some other message's parent later in the
	// stream — in practice, the tail of `order` is the most recent leaf.
	tail := order[len(order)-1]

	var chain []MessageEntry
	seen := make(map[string]struct{})
	cur, ok := byUUID[tail]
	for ok {
		if _, dup := seen[cur.UUID]; dup {
			break // cycle guard; malformed journals must not hang the reader
		}
		seen[cur.UUID] = struct{}{}
		chain = append(chain, cur)
		if cur.ParentUUID == nil {
			break
		}
		cur, ok = byUUID[*cur.ParentUUID]
	}

	// chain is newest-first; reverse to restore append order.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// cleanupUnmatchedToolUse drops every assistant message containing at
// least one tool-invocation id with no matching tool-result id in a
// subsequent tool-role message. Re-sending such a message to an LLM is
// rejected by the upstream API; the conversation must be re-normalized
// after crashes that interrupt a tool call.
func cleanupUnmatchedToolUse(messages []MessageEntry) []MessageEntry {
	resultIDs := make(map[string]struct{})
	for _, m := range messages {
		if m.Role != RoleTool {
			continue
		}
		for _, part := range m.Content.Parts {
			if part.Type == ContentPartToolResult && part.ToolCallID != "" {
				resultIDs[part.ToolCallID] = struct{}{}
			}
		}
	}

	cleaned := make([]MessageEntry, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleAssistant && hasUnmatchedToolUse(m, resultIDs) {
			continue
		}
		cleaned = append(cleaned, m)
	}
	return cleaned
}

func hasUnmatchedToolUse(m MessageEntry, resultIDs map[string]struct{}) bool {
	for _, part := range m.Content.Parts {
		if part.Type != ContentPartToolUse || part.ID == "" {
			continue
		}
		if _, matched := resultIDs[part.ID]; !matched {
			return true
		}
	}
	return false
}
