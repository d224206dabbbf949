// Package pinfactory builds ready to use expander pins with the PiFace
// defaults: outputs without pull-up, inputs with pull-up.
package pinfactory

import (
	"errors"
	"sync"
	"time"

	"github.com/BertoldVdb/PiFaceGPIO/expander"
	"github.com/BertoldVdb/PiFaceGPIO/pin"
	"go.uber.org/multierr"
)

// BusOpener returns a new bus handle, which the expander device takes over.
type BusOpener func() (expander.Bus, error)

// Factory shares one expander.Device between all pins it creates. The bus is
// opened for the first pin and released when the last pin is disposed.
type Factory struct {
	Open   BusOpener
	Device expander.DeviceAddress

	// PollInterval of 0 selects expander.DefaultPollInterval.
	PollInterval time.Duration

	LogFunc     expander.LogFunc
	OnPollError func(err error)

	mu  sync.Mutex
	dev *expander.Device
}

// PiFaceOutput maps output terminal n (0..7) of a PiFace board to its address.
func PiFaceOutput(n int) pin.Address { return pin.PortAOffset + pin.Address(n) }

// PiFaceInput maps input terminal n (0..7) of a PiFace board to its address.
func PiFaceInput(n int) pin.Address { return pin.PortBOffset + pin.Address(n) }

func (f *Factory) device() expander.DeviceAddress {
	if f.Device == 0 {
		return expander.DeviceAddress0
	}
	return f.Device
}

// attach adds a pin to the shared device, opening a new one when there is
// none yet or every pin of the previous one was disposed.
func (f *Factory) attach(addr pin.Address, opts *expander.PinOptions) (*expander.Pin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.dev != nil {
		p, err := f.dev.Pin(addr, opts)
		if !errors.Is(err, pin.ErrDisposed) {
			return p, err
		}
		f.dev = nil
	}

	bus, err := f.Open()
	if err != nil {
		return nil, &pin.IOError{Device: f.device().String(), Op: "open", Err: err}
	}

	dev, err := expander.Open(bus, &expander.DeviceOptions{
		Address:      f.device(),
		PollInterval: f.PollInterval,
		LogFunc:      f.LogFunc,
		OnPollError:  f.OnPollError,
	})
	if err != nil {
		return nil, err
	}

	p, err := dev.Pin(addr, opts)

	/* From here on the pins hold the device open */
	if cerr := dev.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}

	f.dev = dev
	return p, nil
}

func (f *Factory) create(addr pin.Address, name string, mode pin.Mode, pull pin.PullResistance) (*expander.Pin, error) {
	// Attach in the final mode so an input is never driven.
	p, err := f.attach(addr, &expander.PinOptions{Mode: &mode})
	if err != nil {
		return nil, err
	}

	p.SetName(name)
	if err = p.SetMode(mode); err != nil {
		goto failed
	}
	if err = p.SetPullResistance(pull); err != nil {
		goto failed
	}

	return p, nil

failed:
	return nil, multierr.Append(err, p.Dispose())
}

// CreateOutputPin opens an output pin with the pull-up disabled.
func (f *Factory) CreateOutputPin(addr pin.Address, name string) (*expander.Pin, error) {
	return f.create(addr, name, pin.ModeOutput, pin.PullOff)
}

// CreateInputPin opens an input pin with the pull-up enabled.
func (f *Factory) CreateInputPin(addr pin.Address, name string) (*expander.Pin, error) {
	return f.create(addr, name, pin.ModeInput, pin.PullUp)
}
