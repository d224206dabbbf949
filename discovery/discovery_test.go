package discovery

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
)

func TestParseText(t *testing.T) {
	a := NewAdvertiser("", 8080, "mcp23s17@0x40", 16)
	device, pins, ok := parseText(a.text())
	if !ok || device != "mcp23s17@0x40" || pins != 16 {
		t.Fatalf("parseText()=%q,%d,%v", device, pins, ok)
	}
	if a.name != "pinserver" {
		t.Fatalf("default name %q", a.name)
	}

	for _, txt := range [][]string{
		nil,
		{"device=x"},
		{"device=x", "pins=many"},
		{"DEVICE", "pins=1"},
	} {
		if _, _, ok := parseText(txt); ok {
			t.Fatalf("%v accepted", txt)
		}
	}

	if _, pins, ok := parseText([]string{"Pins=8", "Device=y"}); !ok || pins != 8 {
		t.Fatalf("keys are case sensitive")
	}
}

func TestEntryAddr(t *testing.T) {
	e := zeroconf.NewServiceEntry("board", ServiceType, domain)
	e.Port = 8080
	e.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}
	if got := entryAddr(e); got != "[fe80::1]:8080" {
		t.Fatalf("got %q", got)
	}

	e.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.20")}
	if got := entryAddr(e); got != "192.168.1.20:8080" {
		t.Fatalf("got %q", got)
	}
}

func TestStopWithoutStart(t *testing.T) {
	a := NewAdvertiser("board", 1, "d", 1)
	a.Stop()
	if a.CurrentAddress() != "" {
		t.Fatalf("address set")
	}
}

func TestSetPinsUpdatesText(t *testing.T) {
	a := NewAdvertiser("board", 8067, "mcp23s17@0x42", 16)
	a.SetPins(18)

	if _, pins, ok := parseText(a.text()); !ok || pins != 18 {
		t.Fatalf("pins=%d ok=%v", pins, ok)
	}
	if a.String() != "board._pinface._tcp.local." {
		t.Fatalf("got %q", a.String())
	}
}

func TestFirstIPv4(t *testing.T) {
	addrs := []net.Addr{
		&net.IPAddr{IP: net.ParseIP("10.0.0.9")},
		&net.IPNet{IP: net.ParseIP("fe80::1"), Mask: net.CIDRMask(64, 128)},
		&net.IPNet{IP: net.ParseIP("192.168.4.2"), Mask: net.CIDRMask(24, 32)},
	}
	if ip := firstIPv4(addrs); !ip.Equal(net.ParseIP("192.168.4.2")) {
		t.Fatalf("got %v", ip)
	}
	if ip := firstIPv4(addrs[:2]); ip != nil {
		t.Fatalf("got %v", ip)
	}

	a := NewAdvertiser("board", 8067, "d", 1)
	a.addr = net.ParseIP("192.168.4.2").To4()
	if got := a.CurrentAddress(); got != "192.168.4.2:8067" {
		t.Fatalf("got %q", got)
	}
}
