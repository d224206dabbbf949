// Package expander drives digital pins behind an MCP23S17 16-bit SPI port
// expander, as found on PiFace style add-on boards.
//
// A Device owns the bus handle, the shadow copy of both ports' direction,
// pull-up, interrupt-enable and value registers, and one background loop that
// polls the interrupt flags while any of its pins is an input. Pins are
// handles on a Device and only ever change their own register bits. Bits
// without a pin keep the chip's reset state: input, no pull-up, no interrupt.
package expander

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BertoldVdb/PiFaceGPIO/pin"
	"github.com/pkg/errors"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
)

type LogFunc func(format string, params ...interface{})

// Bus is a connected SPI device. Close releases the underlying port.
type Bus interface {
	conn.Conn
	Close() error
}

const (
	DefaultSpeed        = 1 * physic.MegaHertz
	DefaultPollInterval = 10 * time.Millisecond
)

type DeviceOptions struct {
	// Address defaults to DeviceAddress0.
	Address DeviceAddress

	// PollInterval is the idle time between two polls of the interrupt
	// flags. Zero selects DefaultPollInterval.
	PollInterval time.Duration

	LogFunc LogFunc

	// OnPollError is called from the poll goroutine for every failed poll.
	OnPollError func(err error)
}

type PinOptions struct {
	Name    string
	Initial pin.State

	// Mode defaults to DefaultMode of the address.
	Mode *pin.Mode
}

// Options configure a pin created with New, which gets a Device of its own.
type Options struct {
	// Device defaults to DeviceAddress0.
	Device DeviceAddress

	Name    string
	Initial pin.State
	Mode    *pin.Mode

	PollInterval time.Duration
	LogFunc      LogFunc
	OnPollError  func(err error)
}

// PortState is the shadow of one port's registers.
type PortState struct {
	Direction byte // bit set = input
	PullUp    byte
	IntEnable byte
	Value     byte
}

// Device is one MCP23S17. It stays open while its opener or any of its pins
// holds a reference.
type Device struct {
	pollErrors uint64

	address      DeviceAddress
	logFunc      LogFunc
	onPollError  func(error)
	pollInterval time.Duration

	busMu sync.Mutex
	bus   Bus

	// stateMu guards the fields below. It may be held while taking busMu or
	// pollMu, never the other way around.
	stateMu  sync.Mutex
	ports    [2]PortState
	pins     map[pin.Address]*chip
	refs     int
	owned    bool
	pending  []queuedEvent
	draining bool

	pollMu   sync.Mutex
	pollStop chan struct{}
	pollWG   sync.WaitGroup
}

type queuedEvent struct {
	target *pin.Gpio
	event  pin.StateChangeEvent
}

// Pin is one expander pin. It implements pin.DigitalPin and pin.Pullable.
type Pin struct {
	*pin.Gpio
	chip *chip
}

// chip is the transport of one pin.
type chip struct {
	dev     *Device
	gpio    *pin.Gpio
	address pin.Address
	port    Port
	mask    byte

	// Guarded by dev.stateMu.
	pull     pin.PullResistance
	detached bool
}

// PortOf returns the port an address belongs to.
func PortOf(addr pin.Address) Port {
	if addr < pin.PortBOffset {
		return PortA
	}
	return PortB
}

// BitOf returns the bit position of an address within its port.
func BitOf(addr pin.Address) int {
	if PortOf(addr) == PortA {
		return int(addr - pin.PortAOffset)
	}
	return int(addr - pin.PortBOffset)
}

func portOffset(p Port) pin.Address {
	if p == PortA {
		return pin.PortAOffset
	}
	return pin.PortBOffset
}

func validAddress(addr pin.Address) bool {
	bit := BitOf(addr)
	return addr >= pin.PortAOffset && bit >= 0 && bit < pin.PortWidth
}

// DefaultMode is Output for port A and Input for port B.
func DefaultMode(addr pin.Address) pin.Mode {
	if PortOf(addr) == PortA {
		return pin.ModeOutput
	}
	return pin.ModeInput
}

func newDevice(bus Bus, opts *DeviceOptions) (*Device, error) {
	if bus == nil {
		return nil, errors.Wrap(pin.ErrInvalidArgument, "nil bus")
	}
	if opts == nil {
		opts = &DeviceOptions{}
	}

	address := opts.Address
	if address == 0 {
		address = DeviceAddress0
	}
	if !address.valid() {
		bus.Close()
		return nil, errors.Wrapf(pin.ErrInvalidArgument, "device address 0x%02x", byte(address))
	}

	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	return &Device{
		address:      address,
		logFunc:      opts.LogFunc,
		onPollError:  opts.OnPollError,
		pollInterval: pollInterval,
		bus:          bus,
		pins:         make(map[pin.Address]*chip),
	}, nil
}

// Open runs the initialization sequence on the expander behind bus, leaving
// every pin an input without pull-up or interrupt. Open takes ownership of
// bus and closes it when it fails. The bus is released once Close was called
// and every pin of the device is disposed.
func Open(bus Bus, opts *DeviceOptions) (*Device, error) {
	d, err := newDevice(bus, opts)
	if err != nil {
		return nil, err
	}

	if err := d.initialize(nil, pin.ModeInput, pin.Low); err != nil {
		d.shutdown()
		return nil, err
	}

	d.refs = 1
	d.owned = true
	return d, nil
}

// New opens a Device with a single pin at addr. The pin's mode and initial
// value are part of the initialization sequence, and disposing the pin
// releases bus. New takes ownership of bus and closes it when it fails.
func New(bus Bus, addr pin.Address, opts *Options) (*Pin, error) {
	if opts == nil {
		opts = &Options{}
	}

	var p *Pin
	d, err := newDevice(bus, &DeviceOptions{
		Address:      opts.Device,
		PollInterval: opts.PollInterval,
		LogFunc:      opts.LogFunc,
		OnPollError:  opts.OnPollError,
	})
	if err != nil {
		return nil, err
	}

	p, err = d.newPin(addr, &PinOptions{Name: opts.Name, Initial: opts.Initial, Mode: opts.Mode})
	if err != nil {
		goto failed
	}
	if err = d.initialize(p.chip, p.Mode(), opts.Initial); err != nil {
		goto failed
	}

	d.refs = 1
	return p, nil

failed:
	d.shutdown()
	return nil, err
}

func checkMode(m pin.Mode) error {
	if m != pin.ModeInput && m != pin.ModeOutput {
		return errors.Wrapf(pin.ErrInvalidArgument, "mode %s not supported by expander", m)
	}
	return nil
}

func (d *Device) newPin(addr pin.Address, opts *PinOptions) (*Pin, error) {
	if opts == nil {
		opts = &PinOptions{}
	}

	mode := DefaultMode(addr)
	if opts.Mode != nil {
		mode = *opts.Mode
	}

	if !validAddress(addr) {
		return nil, errors.Wrapf(pin.ErrInvalidArgument, "pin address %d not on expander", addr)
	}
	if err := checkMode(mode); err != nil {
		return nil, err
	}

	c := &chip{
		dev:     d,
		address: addr,
		port:    PortOf(addr),
		mask:    1 << uint(BitOf(addr)),
	}

	p := &Pin{chip: c}
	p.Gpio = pin.NewGpio(addr, opts.Name, mode, opts.Initial, c)
	c.gpio = p.Gpio
	return p, nil
}

// Pin attaches the pin at addr and configures its direction, value and
// interrupt enable. The other pins of the device are left untouched. An
// address can only be attached once at a time.
func (d *Device) Pin(addr pin.Address, opts *PinOptions) (*Pin, error) {
	p, err := d.newPin(addr, opts)
	if err != nil {
		return nil, err
	}
	c := p.chip

	d.stateMu.Lock()
	defer d.stateMu.Unlock()

	if d.refs == 0 {
		return nil, errors.Wrapf(pin.ErrDisposed, "%s is closed", d.address)
	}
	if _, ok := d.pins[addr]; ok {
		return nil, errors.Wrapf(pin.ErrInvalidOperation, "pin %d already in use", addr)
	}

	if err := d.configure(c, p.Mode(), p.InitialState()); err != nil {
		return nil, err
	}

	d.pins[addr] = c
	d.refs++
	d.setPolling(d.anyInput())
	return p, nil
}

// Close releases the reference taken by Open.
func (d *Device) Close() error {
	d.stateMu.Lock()
	if !d.owned {
		d.stateMu.Unlock()
		return pin.ErrDisposed
	}
	d.owned = false
	d.refs--
	last := d.refs == 0
	if last {
		d.setPolling(false)
	}
	d.stateMu.Unlock()

	if last {
		return d.shutdown()
	}
	return nil
}

// shutdown waits for the poll loop and closes the bus.
func (d *Device) shutdown() error {
	d.stopPoll()
	d.pollWG.Wait()

	d.busMu.Lock()
	bus := d.bus
	d.bus = nil
	d.busMu.Unlock()

	if bus == nil {
		return nil
	}
	return bus.Close()
}

func (d *Device) log(format string, params ...interface{}) {
	if d.logFunc != nil {
		d.logFunc(" * "+format, params...)
	}
}

func (d *Device) ioError(op string, reg register, err error) error {
	if errors.Is(err, pin.ErrDisposed) {
		return err
	}

	return &pin.IOError{
		Device: d.address.String(),
		Op:     op + " " + reg.String(),
		Err:    err,
	}
}

// transfer runs one three byte packet. The bus lock covers exactly one packet.
func (d *Device) transfer(rw byte, reg register, data byte) (byte, error) {
	tx := [3]byte{byte(d.address) | rw, byte(reg), data}
	var rx [3]byte

	d.busMu.Lock()
	defer d.busMu.Unlock()

	if d.bus == nil {
		return 0, errors.Wrapf(pin.ErrDisposed, "%s is closed", d.address)
	}
	if err := d.bus.Tx(tx[:], rx[:]); err != nil {
		return 0, err
	}

	return rx[2], nil
}

func (d *Device) readRegister(reg register) (byte, error) {
	v, err := d.transfer(flagRead, reg, 0x00)
	if err != nil {
		return 0, d.ioError("read", reg, err)
	}

	d.log("Read    %-8s: 0x%02x", reg, v)
	return v, nil
}

func (d *Device) writeRegister(reg register, v byte) error {
	d.log("Writing %-8s: 0x%02x", reg, v)

	if _, err := d.transfer(flagWrite, reg, v); err != nil {
		return d.ioError("write", reg, err)
	}
	return nil
}

// initialize writes the complete register set from the shadow. When first is
// set its mode and initial value are folded in before anything is written.
func (d *Device) initialize(first *chip, mode pin.Mode, initial pin.State) error {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()

	/* Sequential addressing with the paired BANK=0 map */
	for _, r := range ports {
		if err := d.writeRegister(r.iocon, ioconHAEN); err != nil {
			return err
		}
	}

	for i, r := range ports {
		v, err := d.readRegister(r.gpio)
		if err != nil {
			return err
		}
		d.ports[i] = PortState{Direction: 0xFF, Value: v}
	}

	if first != nil {
		ps := &d.ports[first.port]
		switch {
		case mode == pin.ModeInput:
			ps.IntEnable |= first.mask
		case initial == pin.High:
			ps.Direction &^= first.mask
			ps.Value |= first.mask
		default:
			ps.Direction &^= first.mask
			ps.Value &^= first.mask
		}
		d.pins[first.address] = first
	}

	a, b := d.ports[PortA], d.ports[PortB]
	writes := []struct {
		reg   [2]register
		value [2]byte
	}{
		{[2]register{regIODIRA, regIODIRB}, [2]byte{a.Direction, b.Direction}},
		{[2]register{regGPIOA, regGPIOB}, [2]byte{a.Value, b.Value}},
		{[2]register{regGPPUA, regGPPUB}, [2]byte{a.PullUp, b.PullUp}},
		{[2]register{regGPINTENA, regGPINTENB}, [2]byte{a.IntEnable, b.IntEnable}},
		{[2]register{regDEFVALA, regDEFVALB}, [2]byte{0, 0}},
		{[2]register{regINTCONA, regINTCONB}, [2]byte{0, 0}},
	}
	for _, w := range writes {
		for i := range w.reg {
			if err := d.writeRegister(w.reg[i], w.value[i]); err != nil {
				return err
			}
		}
	}

	for i, r := range ports {
		if d.ports[i].IntEnable == 0 {
			continue
		}

		/* Clear stale interrupts */
		if _, err := d.readRegister(r.intcap); err != nil {
			return err
		}
	}

	d.setPolling(d.anyInput())
	return nil
}

// anyInput reports whether a pin of either port is an input. stateMu must be
// held.
func (d *Device) anyInput() bool {
	return d.ports[PortA].IntEnable|d.ports[PortB].IntEnable != 0
}

func (d *Device) Address() DeviceAddress { return d.address }

// Registers returns a copy of the shadow registers of both ports.
func (d *Device) Registers() [2]PortState {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.ports
}

// Polling reports whether the background poll loop is running.
func (d *Device) Polling() bool { return d.polling() }

// PollErrors returns the number of failed poll iterations.
func (d *Device) PollErrors() uint64 { return atomic.LoadUint64(&d.pollErrors) }

func (p *Pin) Registers() [2]PortState { return p.chip.dev.Registers() }

// Device returns the SPI address of the expander.
func (p *Pin) Device() DeviceAddress { return p.chip.dev.address }

func (p *Pin) Polling() bool { return p.chip.dev.polling() }

func (p *Pin) PollErrors() uint64 { return p.chip.dev.PollErrors() }

func (p *Pin) String() string {
	return fmt.Sprintf("%s/%s%d", p.chip.dev.address, p.chip.port, BitOf(p.Address()))
}
