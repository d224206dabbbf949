// Package pinopen opens expander buses and raw pins from colon separated
// path strings:
//
//	platform:<spi port>[:<speed in Hz>]   e.g. platform:/dev/spidev0.0:1000000
//	platform:<gpio name>                  e.g. platform:GPIO17
//	usb:[<serial>][:<gp>]                 MCP2221A line, e.g. usb::2
package pinopen

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/BertoldVdb/PiFaceGPIO/expander"
	"github.com/BertoldVdb/PiFaceGPIO/hostpin"
	"github.com/BertoldVdb/PiFaceGPIO/mcp2221a"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

const (
	DefaultSPIPort = "/dev/spidev0.0"

	kindPlatform = "platform"
	kindUSB      = "usb"
)

var (
	initOnce sync.Once
	initErr  error
)

func hostInit() error {
	initOnce.Do(func() {
		_, initErr = host.Init()
	})
	if initErr != nil {
		return fmt.Errorf("could not init host: %v", initErr)
	}
	return nil
}

func getPart(parts []string, index int, def string) string {
	if index >= len(parts) || parts[index] == "" {
		return def
	}
	return parts[index]
}

// BusConfig is a parsed expander bus path.
type BusConfig struct {
	Port  string
	Speed physic.Frequency
}

func ParseBusPath(path string) (BusConfig, error) {
	parts := strings.Split(path, ":")
	if parts[0] != kindPlatform {
		return BusConfig{}, errors.New("bus type not supported, use 'platform'")
	}

	hz, err := strconv.ParseUint(getPart(parts, 2, "0"), 0, 32)
	if err != nil {
		return BusConfig{}, fmt.Errorf("invalid bus speed: %v", err)
	}

	speed := physic.Frequency(hz) * physic.Hertz
	if speed == 0 {
		speed = expander.DefaultSpeed
	}

	return BusConfig{
		Port:  getPart(parts, 1, DefaultSPIPort),
		Speed: speed,
	}, nil
}

type spiBus struct {
	spi.Conn
	port spi.PortCloser
}

func (b *spiBus) Close() error {
	return b.port.Close()
}

// OpenBus opens and connects the SPI port described by path in mode 0 with
// 8 bit words.
func OpenBus(path string) (expander.Bus, error) {
	cfg, err := ParseBusPath(path)
	if err != nil {
		return nil, err
	}

	if err := hostInit(); err != nil {
		return nil, err
	}

	port, err := spireg.Open(cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("could not open bus: %v", err)
	}

	c, err := port.Connect(cfg.Speed, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("could not connect to bus: %v", err)
	}

	return &spiBus{Conn: c, port: port}, nil
}

// BusOpener returns a function opening a fresh bus handle for path on every
// call.
func BusOpener(path string) func() (expander.Bus, error) {
	return func() (expander.Bus, error) {
		return OpenBus(path)
	}
}

// PinConfig is a parsed raw pin path.
type PinConfig struct {
	USB    bool
	Name   string
	Serial string
	GP     int
}

func ParsePinPath(path string) (PinConfig, error) {
	parts := strings.Split(path, ":")

	switch parts[0] {
	case kindPlatform:
		name := getPart(parts, 1, "")
		if name == "" {
			return PinConfig{}, errors.New("missing gpio name")
		}
		return PinConfig{Name: name}, nil

	case kindUSB:
		gp, err := strconv.ParseUint(getPart(parts, 2, "0"), 0, 8)
		if err != nil || gp >= mcp2221a.GPPinCount {
			return PinConfig{}, fmt.Errorf("invalid usb gpio %q", getPart(parts, 2, ""))
		}
		return PinConfig{USB: true, Serial: getPart(parts, 1, ""), GP: int(gp)}, nil
	}

	return PinConfig{}, errors.New("pin type not supported, use 'usb' or 'platform'")
}

// RawPin is an opened line. Close releases the device behind it, if any.
type RawPin interface {
	hostpin.RawPin
	Close() error
}

type platformPin struct {
	hostpin.RawPin
}

func (platformPin) Close() error { return nil }

type usbPin struct {
	*mcp2221a.Pin
	dev *mcp2221a.MCP2221A
}

func (p *usbPin) Close() error { return p.dev.Close() }

func OpenRawPin(path string, logFunc mcp2221a.LogFunc) (RawPin, error) {
	cfg, err := ParsePinPath(path)
	if err != nil {
		return nil, err
	}

	if cfg.USB {
		dev, err := mcp2221a.Open(mcp2221a.VID, mcp2221a.PID, cfg.Serial, logFunc)
		if err != nil {
			return nil, err
		}

		p, err := dev.Pin(cfg.GP)
		if err != nil {
			dev.Close()
			return nil, err
		}
		return &usbPin{Pin: p, dev: dev}, nil
	}

	if err := hostInit(); err != nil {
		return nil, err
	}

	p := gpioreg.ByName(cfg.Name)
	if p == nil {
		return nil, fmt.Errorf("gpio %q not found", cfg.Name)
	}
	return platformPin{p}, nil
}
