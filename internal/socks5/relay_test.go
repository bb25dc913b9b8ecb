package socks5

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRelayWrap(t *testing.T) {
	r := Relay{Addr: testProxy}
	b, err := r.Wrap(netip.MustParseAddrPort("203.0.113.9:1234"), []byte("hi"))
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0, 0, 0, 0x01, 203, 0, 113, 9, 0x04, 0xD2, 'h', 'i'}
	if diff := cmp.Diff(want, b); diff != "" {
		t.Fatalf("wrapped (-want +got):\n%s", diff)
	}

	src, payload, err := r.Unwrap(b)
	if err != nil {
		t.Fatal(err)
	}
	if src != netip.MustParseAddrPort("203.0.113.9:1234") || string(payload) != "hi" {
		t.Fatalf("unwrap %s %q", src, payload)
	}
}

func TestRelayWrapRejectsIPv6(t *testing.T) {
	_, err := Relay{}.Wrap(netip.MustParseAddrPort("[2001:db8::1]:1"), []byte("x"))
	if !errors.Is(err, ErrUnsupportedAddress) {
		t.Fatalf("expected ErrUnsupportedAddress, got %v", err)
	}
}

func TestRelayUnwrap(t *testing.T) {
	tests := []struct {
		name    string
		b       []byte
		src     netip.AddrPort
		payload string
		err     error
	}{
		{
			name:    "ipv6",
			b:       append([]byte{0, 0, 0, 0x04, 0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 5, 0, 53}, "dns"...),
			src:     netip.MustParseAddrPort("[2001:db8::5]:53"),
			payload: "dns",
		},
		{
			name:    "domain_literal",
			b:       append([]byte{0, 0, 0, 0x03, 8, '1', '0', '.', '1', '.', '2', '.', '3', 0x1F, 0x40}, "d"...),
			src:     netip.MustParseAddrPort("10.1.2.3:8000"),
			payload: "d",
		},
		{
			name: "domain_name",
			b:    append([]byte{0, 0, 0, 0x03, 4, 'h', 'o', 's', 't', 0, 1}, "d"...),
			err:  ErrUnsupportedAddress,
		},
		{
			name: "fragmented",
			b:    []byte{0, 0, 1, 0x01, 1, 2, 3, 4, 0, 1, 'x'},
			err:  ErrFragmented,
		},
		{
			name: "truncated",
			b:    []byte{0, 0, 0, 0x01, 1, 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, payload, err := Relay{}.Unwrap(tt.b)
			if tt.src.IsValid() {
				if err != nil {
					t.Fatal(err)
				}
				if src != tt.src || string(payload) != tt.payload {
					t.Fatalf("got %s %q", src, payload)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.err != nil && !errors.Is(err, tt.err) {
				t.Fatalf("expected %v, got %v", tt.err, err)
			}
		})
	}
}
