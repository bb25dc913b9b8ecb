package socks5

// Package socks5 negotiates a UDP relay with a SOCKS5 proxy and frames the
// datagrams that pass through it.
//
// Session is a non-blocking client state machine: the caller moves bytes
// between it and the proxy's TCP control connection, and it never performs
// I/O itself. Relay adds and strips the RFC 1928 UDP request header once the
// association is established.
//
// The low-level message types come from github.com/txthinking/socks5. The
// server helpers here implement just enough of the proxy side to exercise
// the client in tests.
