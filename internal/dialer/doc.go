package dialer

// Package dialer opens the TCP control connection to the SOCKS5 proxy that
// relays enet traffic.
//
// The upstream is given as a URL: direct:// (no proxy) or
// socks5://[user:pass@]host[:port].
