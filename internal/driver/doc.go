package driver

// Package driver runs a host.Host on a real UDP socket.
//
// All calls into the host happen on one goroutine. The socket reader and the
// proxy control connection run beside it under an errgroup, and application
// calls are handed over a channel. When a SOCKS5 proxy is configured, every
// datagram goes through the proxy's UDP relay. Outgoing datagrams are dropped
// until the association is up.
