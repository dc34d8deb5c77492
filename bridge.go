// Package bridge provides a minimal public API for tools that talk to a
// forge-bridge server from Go.
//
// Pipeline integrations that only need the wire protocol can speak JSON
// over the websocket directly. This package exports the typed client for
// Go-based tools that want request/reply calls and event listeners
// without dealing with frames.
package bridge

import (
	"github.com/forgeworks/forge-bridge/internal/client"
)

// Core types for working with a connected bridge
type (
	Client      = client.Client
	Bridge      = client.Bridge
	Event       = client.Event
	StackLayer  = client.StackLayer
	ServerError = client.ServerError
	Option      = client.Option
)

// Sentinel errors surfaced by the client
var (
	ErrClosed       = client.ErrClosed
	ErrDisconnected = client.ErrDisconnected
)

// Client options
var (
	WithClientName     = client.WithClientName
	WithEndpointType   = client.WithEndpointType
	WithCapabilities   = client.WithCapabilities
	WithLogger         = client.WithLogger
	WithRequestTimeout = client.WithRequestTimeout
)

// New builds an unconnected client for the given websocket URL.
// Call Start to connect.
func New(url string, opts ...Option) *Client {
	return client.New(url, opts...)
}

// NewBridge wraps a client in the typed convenience facade.
func NewBridge(c *Client) *Bridge {
	return client.NewBridge(c)
}
