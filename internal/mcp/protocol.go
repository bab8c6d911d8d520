// Package mcp implements the request/response protocol between the
// orchestrator and the tool server process. Frames are newline-delimited
// JSON; every request carries a unique correlation id and is answered by
// exactly one response bearing the same id.
package mcp

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/arman-khosravi/tabletalk/internal/capability"
)

// Methods understood by the server.
const (
	MethodListTools = "tools/list"
	MethodCallTool  = "tools/call"
)

// Response statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Request is one frame from client to server.
type Request struct {
	ID     string                 `json:"id"`
	Method string                 `json:"method"`
	Tool   string                 `json:"tool,omitempty"`
	Args   map[string]interface{} `json:"args,omitempty"`
}

// WireError carries a taxonomy code plus a human-readable message.
type WireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Response is one frame from server to client.
type Response struct {
	ID      string                `json:"id"`
	Status  string                `json:"status"`
	Payload *capability.Result    `json:"payload,omitempty"`
	Specs   []capability.ToolSpec `json:"specs,omitempty"`
	Error   *WireError            `json:"error,omitempty"`
}

// codec wraps a stream with JSON framing and a write lock so concurrent
// handlers never interleave frames.
type codec struct {
	enc *json.Encoder
	dec *json.Decoder
	wmu sync.Mutex
}

func newCodec(rw io.ReadWriter) *codec {
	return &codec{enc: json.NewEncoder(rw), dec: json.NewDecoder(rw)}
}

func (c *codec) writeRequest(req Request) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.enc.Encode(req)
}

func (c *codec) writeResponse(resp Response) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.enc.Encode(resp)
}

func (c *codec) readRequest(req *Request) error { return c.dec.Decode(req) }

func (c *codec) readResponse(resp *Response) error { return c.dec.Decode(resp) }
