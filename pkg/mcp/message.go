// Package mcp provides MCP message types, line framing and JSON-RPC codec
// utilities for the sentinel-bridge relay.
package mcp

import (
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// Direction indicates the flow direction of a message through the bridge.
type Direction int

const (
	// ClientToServer indicates a message flowing from the agent client to the
	// downstream tool server.
	ClientToServer Direction = iota
	// ServerToClient indicates a message flowing from the downstream tool
	// server back to the client.
	ServerToClient
)

// String returns the string representation of the Direction.
func (d Direction) String() string {
	switch d {
	case ClientToServer:
		return "client->server"
	case ServerToClient:
		return "server->client"
	default:
		return "unknown"
	}
}

// Recognized tool invocation methods. Both are treated identically.
const (
	MethodToolsCall = "tools/call"
	MethodCallTool  = "callTool"
)

// IsCallMethod reports whether method invokes a tool.
func IsCallMethod(method string) bool {
	return method == MethodToolsCall || method == MethodCallTool
}

// envelope is the lenient shape used to read a frame. Unlike the SDK decoder
// it does not require the "jsonrpc" version tag.
type envelope struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Message wraps one wire frame with bridge metadata.
// It stores the raw bytes (for byte-identical passthrough) alongside the
// fields the relay inspects.
type Message struct {
	// Raw contains the original bytes of the frame without the newline.
	Raw []byte

	// Direction indicates which relay received the frame.
	Direction Direction

	// Decoded contains the SDK view of the frame when it is a strict
	// JSON-RPC 2.0 message. Nil otherwise; the bridge never depends on it.
	Decoded jsonrpc.Message

	// Timestamp records when the frame was read.
	Timestamp time.Time

	env envelope
}

// Method returns the method name, or "" if the frame has none.
func (m *Message) Method() string {
	return m.env.Method
}

// IsToolCall reports whether the frame is a tools/call or callTool request.
func (m *Message) IsToolCall() bool {
	return IsCallMethod(m.env.Method)
}

// RawID returns the "id" field exactly as it appeared on the wire
// (number, string or null). Returns nil if the frame had no id.
func (m *Message) RawID() json.RawMessage {
	if len(m.env.ID) == 0 {
		return nil
	}
	return m.env.ID
}

// Kind classifies the frame for logging: "request", "notification",
// "response" or "unknown".
func (m *Message) Kind() string {
	switch d := m.Decoded.(type) {
	case *jsonrpc.Request:
		if d.IsCall() {
			return "request"
		}
		return "notification"
	case *jsonrpc.Response:
		return "response"
	}
	if m.env.Method != "" {
		if len(m.env.ID) == 0 {
			return "notification"
		}
		return "request"
	}
	return "unknown"
}

// ToolCallIntent is the tool invocation carried by a call frame.
type ToolCallIntent struct {
	// ToolName is the requested tool. Empty is allowed.
	ToolName string
	// Arguments holds the call arguments. Never nil.
	Arguments map[string]any
}

// DisplayName returns the tool name, or "unnamed" when it is empty.
func (t ToolCallIntent) DisplayName() string {
	if t.ToolName == "" {
		return "unnamed"
	}
	return t.ToolName
}

// toolCallParams mirrors the params object of a tool call.
type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolCall extracts the tool invocation from a call frame.
// Returns ErrNotToolCall for other methods and ErrInvalidParams when the
// params are present but are not an object of the expected shape.
func (m *Message) ToolCall() (ToolCallIntent, error) {
	if !m.IsToolCall() {
		return ToolCallIntent{}, ErrNotToolCall
	}

	var p toolCallParams
	if len(m.env.Params) > 0 && string(m.env.Params) != "null" {
		if err := json.Unmarshal(m.env.Params, &p); err != nil {
			return ToolCallIntent{}, &ParamsError{Err: err}
		}
	}
	if p.Arguments == nil {
		p.Arguments = map[string]any{}
	}
	return ToolCallIntent{ToolName: p.Name, Arguments: p.Arguments}, nil
}
