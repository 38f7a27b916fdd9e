package mcp

import (
	"bytes"
	"encoding/json"
)

// BlockedPrefix starts the text of every synthesized block reply.
const BlockedPrefix = "[bridge] Blocked: "

type textContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolResult struct {
	Content []textContent `json:"content"`
	IsError bool          `json:"isError"`
}

// blockReply is built by hand rather than with jsonrpc.Response because the
// id must be echoed exactly as received, and omitted when absent.
type blockReply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  toolResult      `json:"result"`
}

// BlockReply builds the tool result returned to the client in place of a
// blocked call. id is echoed verbatim; a nil id is omitted. The returned
// frame is newline terminated.
func BlockReply(id json.RawMessage, reason string) []byte {
	reply := blockReply{
		JSONRPC: "2.0",
		ID:      id,
		Result: toolResult{
			Content: []textContent{{Type: "text", Text: BlockedPrefix + reason}},
			IsError: true,
		},
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encode cannot fail: every field is a string, bool or valid raw JSON.
	_ = enc.Encode(reply)
	return buf.Bytes()
}
