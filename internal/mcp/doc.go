// Package mcp implements the client side of MCP (Model Context Protocol),
// the wire protocol Seneschal speaks to its external tool providers.
//
// MCP uses JSON-RPC 2.0 over two transports: stdio (a spawned subprocess
// exchanging newline-delimited messages) and streamable HTTP. A Client
// performs the initialize handshake, fetches the provider's tool catalog
// via tools/list, and invokes tools via tools/call. The catalog is fixed
// at connect time; a provider that changes its tool set must be restarted
// through its bootstrap manager.
//
// This package covers the host side only — Seneschal never acts as an MCP
// server itself.
package mcp
