package cli

import (
	"encoding/json"

	"entire.io/cli/cmd/entire/cli/filehistory"
)

// assistantContentBlock is the shape of one block in an assistant message's
// content array, extended with the tool_use id the file history journal
// needs to pair a tool invocation with its later tool_result.
type assistantContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type assistantMessageWithIDs struct {
	Content []assistantContentBlock `json:"content"`
}

// userContentBlock is the shape of one block in a user message's content
// array: either a text block or a tool_result responding to an earlier
// tool_use id.
type userContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

// journalEntriesFromTranscript converts newly-parsed transcript lines into
// file history journal message entries. This feeds the Session Journal's
// own active-path bookkeeping, independent of the git-shadow-branch commit
// the Stop hook also makes from the same transcript slice.
func journalEntriesFromTranscript(lines []transcriptLine) []filehistory.MessageEntry {
	entries := make([]filehistory.MessageEntry, 0, len(lines))
	for _, line := range lines {
		if entry, ok := journalEntryFromLine(line); ok {
			entries = append(entries, entry)
		}
	}
	return entries
}

func journalEntryFromLine(line transcriptLine) (filehistory.MessageEntry, bool) {
	switch line.Type {
	case transcriptTypeUser:
		return userJournalEntry(line)
	case transcriptTypeAssistant:
		return assistantJournalEntry(line)
	default:
		return filehistory.MessageEntry{}, false
	}
}

func userJournalEntry(line transcriptLine) (filehistory.MessageEntry, bool) {
	var msg userMessage
	if err := json.Unmarshal(line.Message, &msg); err != nil {
		return filehistory.MessageEntry{}, false
	}

	entry := filehistory.MessageEntry{UUID: line.UUID, ParentUUID: line.ParentUUID, Timestamp: line.Timestamp}

	if text, ok := msg.Content.(string); ok {
		entry.Role = filehistory.RoleUser
		entry.Content = filehistory.NewTextContent(text)
		return entry, true
	}

	blocks, ok := decodeUserContentBlocks(msg.Content)
	if !ok || len(blocks) == 0 {
		return filehistory.MessageEntry{}, false
	}

	isToolResult := false
	parts := make([]filehistory.ContentPart, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case "tool_result":
			isToolResult = true
			parts = append(parts, filehistory.ContentPart{
				Type:       filehistory.ContentPartToolResult,
				ToolCallID: b.ToolUseID,
				Result:     b.Content,
			})
		case contentTypeText:
			parts = append(parts, filehistory.ContentPart{Type: filehistory.ContentPartText, Text: b.Text})
		}
	}
	if len(parts) == 0 {
		return filehistory.MessageEntry{}, false
	}

	// Claude nests tool results inside a user-role message; the journal
	// models that as role "tool" so rewind's tool-use cleanup can find it.
	entry.Role = filehistory.RoleUser
	if isToolResult {
		entry.Role = filehistory.RoleTool
	}
	entry.Content = filehistory.NewPartsContent(parts)
	return entry, true
}

func decodeUserContentBlocks(content interface{}) ([]userContentBlock, bool) {
	arr, ok := content.([]interface{})
	if !ok {
		return nil, false
	}
	raw, err := json.Marshal(arr)
	if err != nil {
		return nil, false
	}
	var blocks []userContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, false
	}
	return blocks, true
}

func assistantJournalEntry(line transcriptLine) (filehistory.MessageEntry, bool) {
	var msg assistantMessageWithIDs
	if err := json.Unmarshal(line.Message, &msg); err != nil {
		return filehistory.MessageEntry{}, false
	}

	entry := filehistory.MessageEntry{
		UUID:       line.UUID,
		ParentUUID: line.ParentUUID,
		Role:       filehistory.RoleAssistant,
		Timestamp:  line.Timestamp,
	}

	if len(msg.Content) == 1 && msg.Content[0].Type == contentTypeText {
		entry.Content = filehistory.NewTextContent(msg.Content[0].Text)
		return entry, true
	}

	parts := make([]filehistory.ContentPart, 0, len(msg.Content))
	for _, b := range msg.Content {
		switch b.Type {
		case contentTypeText:
			if b.Text != "" {
				parts = append(parts, filehistory.ContentPart{Type: filehistory.ContentPartText, Text: b.Text})
			}
		case "tool_use":
			parts = append(parts, filehistory.ContentPart{
				Type:  filehistory.ContentPartToolUse,
				ID:    b.ID,
				Name:  b.Name,
				Input: b.Input,
			})
		}
	}
	if len(parts) == 0 {
		return filehistory.MessageEntry{}, false
	}
	entry.Content = filehistory.NewPartsContent(parts)
	return entry, true
}

// lastAssistantJournalEntry returns the last assistant-role entry among
// lines, for use as TurnResult.LastMessage when invoking the Lifecycle
// Binder's AfterTurn.
func lastAssistantJournalEntry(lines []transcriptLine) *filehistory.MessageEntry {
	for i := len(lines) - 1; i >= 0; i-- {
		if lines[i].Type != transcriptTypeAssistant {
			continue
		}
		if entry, ok := assistantJournalEntry(lines[i]); ok {
			return &entry
		}
	}
	return nil
}
