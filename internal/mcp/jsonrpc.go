package mcp

import (
	"encoding/json"
	"fmt"
)

// jsonrpcVersion pins every outbound message to JSON-RPC 2.0, the only
// framing MCP defines.
const jsonrpcVersion = "2.0"

// Request is an outbound call to a provider. The ID is chosen by the
// caller and echoed back in the provider's Response, which is how the
// transports correlate replies on a shared stream.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewRequest builds a Request for method. A nil params is omitted from
// the encoded message rather than sent as null.
func NewRequest(id int64, method string, params any) *Request {
	return &Request{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	}
}

// Response is a provider's reply to a Request. A well-formed provider
// sets exactly one of Result or Error; callers check Error first.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error member of a Response. It satisfies the error
// interface so transports can hand it straight up the call chain.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Notification is a fire-and-forget message: no ID, and the provider
// sends nothing back. The initialized handshake step is the main user.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewNotification builds a Notification for method. A nil params is
// omitted from the encoded message.
func NewNotification(method string, params any) *Notification {
	return &Notification{
		JSONRPC: jsonrpcVersion,
		Method:  method,
		Params:  params,
	}
}
