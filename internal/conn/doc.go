package conn

// Package conn opens the sockets enet runs on: the UDP socket shared by all
// peers, with its buffer and reuse options applied before bind, and TCP
// listeners that apply keep-alive settings to accepted connections.
