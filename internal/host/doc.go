// Package host implements the enet peer table: the connection handshake,
// per-peer reliability and flow control, and the packing of queued commands
// into datagrams.
//
// A Host never touches a socket or a clock. The caller feeds it datagrams
// with Receive, advances it with Service, and drains Outgoing and Events
// after each call. All methods must be called from a single goroutine.
package host
