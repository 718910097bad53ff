package mcp

import "context"

// Transport carries JSON-RPC messages to and from one provider.
// Implementations handle framing, encoding, and response correlation for
// a specific mechanism (subprocess stdio or streamable HTTP).
type Transport interface {
	// Send delivers a request and returns the matching response.
	Send(ctx context.Context, req *Request) (*Response, error)

	// Notify delivers a notification. No response is expected.
	Notify(ctx context.Context, notif *Notification) error

	// Close shuts down the transport and releases its resources.
	// For stdio transports this terminates the subprocess.
	Close() error
}
