package agent

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// MessageType identifies the type of a stream-json message from the agent
// CLI. The decoder tolerates unknown types; consumers switch on the ones
// they understand and ignore the rest.
type MessageType string

const (
	// MessageSystem is emitted once at session start (subtype "init") with
	// the session id and environment metadata.
	MessageSystem MessageType = "system"
	// MessageAssistant carries assistant turns: text and tool_use blocks.
	MessageAssistant MessageType = "assistant"
	// MessageUser carries tool results echoed back to the model.
	MessageUser MessageType = "user"
	// MessageStreamEvent carries fine-grained streaming deltas
	// (content_block_start/delta/stop, message_start/stop).
	MessageStreamEvent MessageType = "stream_event"
	// MessageToolProgress reports long-running tool progress.
	MessageToolProgress MessageType = "tool_progress"
	// MessageToolUseSummary summarizes a finished tool use.
	MessageToolUseSummary MessageType = "tool_use_summary"
	// MessageResult is the terminal message with cost and usage stats.
	MessageResult MessageType = "result"
	// MessageControlRequest is an out-of-band request from the subprocess,
	// e.g. tool-use permission arbitration (subtype "can_use_tool").
	MessageControlRequest MessageType = "control_request"
)

// Result subtypes.
const (
	ResultSuccess              = "success"
	ResultErrorMaxTurns        = "error_max_turns"
	ResultErrorMaxBudgetUSD    = "error_max_budget_usd"
	ResultErrorDuringExecution = "error_during_execution"
	ResultError                = "error"
)

// Message is a single JSONL message from the agent's stream-json output.
// The Type field determines which other fields are populated.
type Message struct {
	Type      MessageType `json:"type"`
	Subtype   string      `json:"subtype,omitempty"`
	SessionID string      `json:"session_id,omitempty"`

	// System init fields.
	Tools []string `json:"tools,omitempty"`
	Model string   `json:"model,omitempty"`

	// Assistant/user message body.
	Message *MessageBody `json:"message,omitempty"`

	// Streaming delta payload (Type == "stream_event").
	Event *StreamEventBody `json:"event,omitempty"`

	// Tool progress / summary fields.
	ToolUseID string `json:"tool_use_id,omitempty"`
	ToolName  string `json:"tool_name,omitempty"`
	Summary   string `json:"summary,omitempty"`

	// Control request payload (Type == "control_request").
	RequestID string          `json:"request_id,omitempty"`
	Request   *ControlRequest `json:"request,omitempty"`

	// Result fields (Type == "result").
	IsError      bool     `json:"is_error,omitempty"`
	Result       string   `json:"result,omitempty"`
	Errors       []string `json:"errors,omitempty"`
	TotalCostUSD float64  `json:"total_cost_usd,omitempty"`
	NumTurns     int      `json:"num_turns,omitempty"`
	DurationMS   int64    `json:"duration_ms,omitempty"`
	Usage        *Usage   `json:"usage,omitempty"`
}

// MessageBody is the message object within an assistant or user message.
type MessageBody struct {
	ID         string         `json:"id,omitempty"`
	Role       string         `json:"role,omitempty"`
	Content    []ContentBlock `json:"content,omitempty"`
	Model      string         `json:"model,omitempty"`
	StopReason string         `json:"stop_reason,omitempty"`
	Usage      *Usage         `json:"usage,omitempty"`
}

// StreamEventBody is the inner payload of a stream_event message.
type StreamEventBody struct {
	Type  string          `json:"type"`
	Index int             `json:"index,omitempty"`
	Delta json.RawMessage `json:"delta,omitempty"`
}

// ControlRequest is the inner payload of a control_request message.
type ControlRequest struct {
	Subtype   string          `json:"subtype"`
	ToolName  string          `json:"tool_name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
}

// ControlResponse is the reply written to the subprocess's stdin for one
// control_request.
type ControlResponse struct {
	Type     string              `json:"type"`
	Response ControlResponseBody `json:"response"`
}

// ControlResponseBody carries the arbitration outcome.
type ControlResponseBody struct {
	Subtype   string    `json:"subtype"`
	RequestID string    `json:"request_id"`
	Response  *Decision `json:"response,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Decision is the result of tool-use arbitration: allow or deny, with a
// possibly rewritten input.
type Decision struct {
	Behavior     string          `json:"behavior"`
	UpdatedInput json.RawMessage `json:"updatedInput,omitempty"`
	Message      string          `json:"message,omitempty"`
}

// Arbitration behaviors.
const (
	BehaviorAllow = "allow"
	BehaviorDeny  = "deny"
)

// ContentBlock is a content block within a message body. Type determines
// the populated fields: "text" carries Text; "tool_use" carries ID, Name,
// Input; "tool_result" carries ToolUseID and Content.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

// Usage captures token usage from a message or result.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	CacheRead    int `json:"cache_read_input_tokens,omitempty"`
	CacheCreate  int `json:"cache_creation_input_tokens,omitempty"`
}

// maxScannerBuffer is the maximum line length the decoder can handle (1MB).
// Tool results can be very large.
const maxScannerBuffer = 1 << 20

// ErrMalformedLine wraps per-line decode failures so callers can skip the
// offending line and keep reading, distinct from terminal stream errors.
var ErrMalformedLine = errors.New("malformed stream line")

// StreamDecoder reads JSONL messages from an io.Reader line-by-line.
type StreamDecoder struct {
	scanner *bufio.Scanner
}

// NewStreamDecoder creates a decoder that reads JSONL from r. The scanner
// buffer is sized to handle lines up to 1MB.
func NewStreamDecoder(r io.Reader) *StreamDecoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxScannerBuffer)
	return &StreamDecoder{scanner: scanner}
}

// Next reads and decodes the next message. Returns the message and nil on
// success, nil and io.EOF at end of stream, or nil and a decode error for a
// malformed line. Empty and whitespace-only lines are skipped.
func (d *StreamDecoder) Next() (*Message, error) {
	for d.scanner.Scan() {
		line := strings.TrimSpace(d.scanner.Text())
		if line == "" {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedLine, err)
		}
		return &msg, nil
	}
	if err := d.scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading stream: %w", err)
	}
	return nil, io.EOF
}

// ToolUseBlocks returns all tool_use content blocks from this message's
// body, or nil.
func (m *Message) ToolUseBlocks() []ContentBlock {
	if m.Message == nil {
		return nil
	}
	var blocks []ContentBlock
	for _, b := range m.Message.Content {
		if b.Type == "tool_use" {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

// TextContent returns concatenated text from all text blocks in this
// message's body, or an empty string.
func (m *Message) TextContent() string {
	if m.Message == nil {
		return ""
	}
	var parts []string
	for _, b := range m.Message.Content {
		if b.Type == "text" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "")
}
