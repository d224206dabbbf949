package pinopen

import (
	"testing"

	"periph.io/x/conn/v3/physic"
)

func TestParseBusPath(t *testing.T) {
	cases := []struct {
		path  string
		port  string
		speed physic.Frequency
	}{
		{"platform", "/dev/spidev0.0", physic.MegaHertz},
		{"platform:/dev/spidev0.1", "/dev/spidev0.1", physic.MegaHertz},
		{"platform:SPI0.0:4000000", "SPI0.0", 4 * physic.MegaHertz},
		{"platform::0x1000", "/dev/spidev0.0", 4096 * physic.Hertz},
	}

	for _, c := range cases {
		cfg, err := ParseBusPath(c.path)
		if err != nil {
			t.Fatalf("%s: %v", c.path, err)
		}
		if cfg.Port != c.port || cfg.Speed != c.speed {
			t.Fatalf("%s: got %+v", c.path, cfg)
		}
	}

	for _, bad := range []string{"usb:1234", "platform:/dev/spidev0.0:fast", ""} {
		if _, err := ParseBusPath(bad); err == nil {
			t.Fatalf("%q accepted", bad)
		}
	}
}

func TestParsePinPath(t *testing.T) {
	cases := []struct {
		path string
		want PinConfig
	}{
		{"platform:GPIO17", PinConfig{Name: "GPIO17"}},
		{"usb", PinConfig{USB: true}},
		{"usb:0001234:3", PinConfig{USB: true, Serial: "0001234", GP: 3}},
		{"usb::2", PinConfig{USB: true, GP: 2}},
	}

	for _, c := range cases {
		got, err := ParsePinPath(c.path)
		if err != nil {
			t.Fatalf("%s: %v", c.path, err)
		}
		if got != c.want {
			t.Fatalf("%s: got %+v, want %+v", c.path, got, c.want)
		}
	}

	for _, bad := range []string{"platform", "platform:", "usb::4", "usb::x", "spi:GPIO1"} {
		if _, err := ParsePinPath(bad); err == nil {
			t.Fatalf("%q accepted", bad)
		}
	}
}
