package transcript

import "encoding/json"

// Type identifies the role of a transcript line.
type Type string

const (
	TypeUser      Type = "user"
	TypeAssistant Type = "assistant"
	TypeTool      Type = "tool"
)

// ContentTypeText identifies a plain-text content block inside a message's
// content array.
const ContentTypeText = "text"

// ContentTypeToolUse identifies a tool-invocation content block.
const ContentTypeToolUse = "tool_use"

// ContentTypeToolResult identifies a tool-result content block.
const ContentTypeToolResult = "tool_result"

// Line is one parsed record from a Claude Code-style transcript JSONL file.
type Line struct {
	Type       Type            `json:"type"`
	UUID       string          `json:"uuid"`
	ParentUUID *string         `json:"parentUuid,omitempty"`
	Message    json.RawMessage `json:"message,omitempty"`
	Timestamp  string          `json:"timestamp,omitempty"`
}

// UserMessage is the shape of the "message" field on a user-role transcript
// line. Content is either a plain string or an array of content blocks.
type UserMessage struct {
	Content interface{} `json:"content"`
}

// AssistantMessage is the shape of the "message" field on an assistant-role
// transcript line.
type AssistantMessage struct {
	Content []ContentBlock `json:"content"`
}

// ContentBlock is a single block within an assistant message's content
// array: either a text block or a tool_use block.
type ContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ToolInput is the shape of a tool_use content block's "input" field, for
// the subset of tools this package inspects (file writers, shell, search).
type ToolInput struct {
	FilePath     string `json:"file_path,omitempty"`
	NotebookPath string `json:"notebook_path,omitempty"`
	Description  string `json:"description,omitempty"`
	Command      string `json:"command,omitempty"`
	Pattern      string `json:"pattern,omitempty"`
}
