package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

var (
	// ErrNotJSONObject is returned by ParseMessage when a frame is not a JSON object.
	ErrNotJSONObject = errors.New("frame is not a JSON object")
	// ErrNotToolCall is returned by ToolCall for frames with another method.
	ErrNotToolCall = errors.New("not a tool call")
)

// ParamsError reports tool call params that could not be read.
type ParamsError struct {
	Err error
}

func (e *ParamsError) Error() string {
	return fmt.Sprintf("invalid tool call params: %v", e.Err)
}

func (e *ParamsError) Unwrap() error { return e.Err }

// EncodeMessage serializes a JSON-RPC message to its wire format.
// This delegates to the MCP SDK's jsonrpc package.
func EncodeMessage(msg jsonrpc.Message) ([]byte, error) {
	return jsonrpc.EncodeMessage(msg)
}

// DecodeMessage deserializes strict JSON-RPC 2.0 wire data.
// This delegates to the MCP SDK's jsonrpc package.
func DecodeMessage(data []byte) (jsonrpc.Message, error) {
	return jsonrpc.DecodeMessage(data)
}

// ParseMessage reads one frame into a Message with the given direction.
//
// Parsing is lenient: any JSON object is accepted, with or without the
// "jsonrpc" tag. The SDK decoder is attempted as well and its result kept
// in Decoded when it succeeds. Raw is retained as given.
func ParseMessage(raw []byte, dir Direction) (*Message, error) {
	msg := &Message{
		Raw:       raw,
		Direction: dir,
		Timestamp: time.Now(),
	}

	if err := json.Unmarshal(raw, &msg.env); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field == "" {
			return nil, ErrNotJSONObject
		}
		return nil, fmt.Errorf("parse frame: %w", err)
	}

	if decoded, err := jsonrpc.DecodeMessage(raw); err == nil {
		msg.Decoded = decoded
	}
	return msg, nil
}
