package socks5

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	txsocks5 "github.com/txthinking/socks5"
)

var (
	// ErrUnsupportedAddress reports an address the relay cannot carry.
	ErrUnsupportedAddress = errors.New("socks5 address type not supported")
	// ErrFragmented reports a relayed datagram with a nonzero FRAG field.
	// Reassembly is not supported, so such datagrams are dropped.
	ErrFragmented = errors.New("fragmented socks5 datagram")
)

// Relay is the UDP endpoint a proxy assigned to an association. Every
// datagram sent to it carries the RFC 1928 request header naming the real
// destination, and every datagram received from it names the real source.
type Relay struct {
	Addr netip.AddrPort
}

// Wrap prefixes b with the request header for target. Only IPv4 targets are
// originated.
func (r Relay) Wrap(target netip.AddrPort, b []byte) ([]byte, error) {
	addr := target.Addr().Unmap()
	if !addr.Is4() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAddress, target)
	}
	ip := addr.As4()
	port := binary.BigEndian.AppendUint16(nil, target.Port())
	return txsocks5.NewDatagram(txsocks5.ATYPIPv4, ip[:], port, b).Bytes(), nil
}

// Unwrap strips the request header from b and returns the source it names
// together with the payload, which aliases b. IPv4, IPv6 and domain headers
// are accepted; a domain must hold a literal IP address.
func (r Relay) Unwrap(b []byte) (netip.AddrPort, []byte, error) {
	d, err := txsocks5.NewDatagramFromBytes(b)
	if err != nil {
		return netip.AddrPort{}, nil, fmt.Errorf("parse relayed datagram: %w", err)
	}
	if d.Frag != 0 {
		return netip.AddrPort{}, nil, fmt.Errorf("%w: frag %d", ErrFragmented, d.Frag)
	}
	src, err := decodeAddrPort(d.Atyp, d.DstAddr, d.DstPort)
	if err != nil {
		return netip.AddrPort{}, nil, err
	}
	return src, d.Data, nil
}

func encodeAddrPort(ap netip.AddrPort) (atyp byte, addr, port []byte) {
	port = binary.BigEndian.AppendUint16(nil, ap.Port())
	a := ap.Addr().Unmap()
	if a.Is6() {
		ip := a.As16()
		return txsocks5.ATYPIPv6, ip[:], port
	}
	ip := a.As4()
	return txsocks5.ATYPIPv4, ip[:], port
}

// decodeAddrPort converts an address as parsed by txthinking/socks5. Domain
// addresses keep their length prefix there.
func decodeAddrPort(atyp byte, addr, port []byte) (netip.AddrPort, error) {
	if len(port) != 2 {
		return netip.AddrPort{}, fmt.Errorf("%w: port of %d bytes", ErrUnsupportedAddress, len(port))
	}
	p := binary.BigEndian.Uint16(port)

	switch atyp {
	case txsocks5.ATYPIPv4, txsocks5.ATYPIPv6:
		a, ok := netip.AddrFromSlice(addr)
		if !ok {
			return netip.AddrPort{}, fmt.Errorf("%w: address of %d bytes", ErrUnsupportedAddress, len(addr))
		}
		return netip.AddrPortFrom(a.Unmap(), p), nil
	case txsocks5.ATYPDomain:
		if len(addr) < 1 {
			return netip.AddrPort{}, fmt.Errorf("%w: empty domain", ErrUnsupportedAddress)
		}
		name := addr
		if int(addr[0]) == len(addr)-1 {
			name = addr[1:]
		}
		a, err := netip.ParseAddr(string(name))
		if err != nil {
			return netip.AddrPort{}, fmt.Errorf("%w: domain %q", ErrUnsupportedAddress, name)
		}
		return netip.AddrPortFrom(a.Unmap(), p), nil
	default:
		return netip.AddrPort{}, fmt.Errorf("%w: atyp %#02x", ErrUnsupportedAddress, atyp)
	}
}
