package server

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Methods understood by the dispatcher.
const (
	MethodInitialize = "initialize"
	MethodListTools  = "listTools"
	MethodCallTool   = "callTool"
)

// JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeInternalError  = -32603
	CodeRateLimited    = -32000
)

const defaultClientID = "default"

// Request is one line of input.
type Request struct {
	Method string          `json:"method"`
	ID     json.RawMessage `json:"id,omitempty"`
	Params Params          `json:"params"`
}

type Params struct {
	Name      string         `json:"name,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
	ClientID  ClientID       `json:"client_id,omitempty"`
}

// ClientID keys the rate limiter. Any JSON value is accepted: strings are
// used as is, null means unset, and numbers, booleans, arrays or objects use
// their JSON text.
type ClientID string

func (c *ClientID) UnmarshalJSON(data []byte) error {
	*c = ClientID(gjson.ParseBytes(data).String())
	return nil
}

// Response is one line of output. A missing request id is echoed as null.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ServerInfo is the initialize result.
type ServerInfo struct {
	Name         string         `json:"name"`
	Version      string         `json:"version"`
	Capabilities map[string]any `json:"capabilities"`
}

func resultResponse(id json.RawMessage, result any) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}

func errorResponse(id json.RawMessage, code int, msg string) Response {
	return Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: msg}}
}
