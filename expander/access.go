package expander

import (
	"github.com/BertoldVdb/PiFaceGPIO/pin"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// configure applies the mode and initial value of a pin being attached. The
// output latch is set before the direction so an output never glitches.
// stateMu must be held.
func (d *Device) configure(c *chip, m pin.Mode, initial pin.State) error {
	ps := &d.ports[c.port]

	if m == pin.ModeOutput {
		v := ps.Value &^ c.mask
		if initial == pin.High {
			v |= c.mask
		}
		if err := d.writeRegister(ports[c.port].gpio, v); err != nil {
			return err
		}
		ps.Value = v

		return d.applyDirection(c, m)
	}

	if err := d.applyDirection(c, m); err != nil {
		return err
	}

	/* Clear stale interrupts */
	_, err := d.readRegister(ports[c.port].intcap)
	return err
}

// applyDirection writes the IODIR and GPINTEN bytes of the pin's port with
// its bit set for an input. stateMu must be held.
func (d *Device) applyDirection(c *chip, m pin.Mode) error {
	ps := &d.ports[c.port]
	r := ports[c.port]

	dir, inten := ps.Direction, ps.IntEnable
	if m == pin.ModeInput {
		dir |= c.mask
		inten |= c.mask
	} else {
		dir &^= c.mask
		inten &^= c.mask
	}

	if err := d.writeRegister(r.iodir, dir); err != nil {
		return err
	}
	ps.Direction = dir

	if err := d.writeRegister(r.gpinten, inten); err != nil {
		return err
	}
	ps.IntEnable = inten
	return nil
}

func (c *chip) ApplyMode(m pin.Mode) error {
	if err := checkMode(m); err != nil {
		return err
	}

	d := c.dev
	d.stateMu.Lock()
	defer d.stateMu.Unlock()

	if c.detached {
		return pin.ErrDisposed
	}
	if err := d.applyDirection(c, m); err != nil {
		return err
	}

	d.setPolling(d.anyInput())
	return nil
}

func (c *chip) WriteState(s pin.State) error {
	d := c.dev
	d.stateMu.Lock()

	if c.detached {
		d.stateMu.Unlock()
		return pin.ErrDisposed
	}

	ps := &d.ports[c.port]
	if ps.Direction&c.mask != 0 {
		d.stateMu.Unlock()
		return errors.Wrapf(pin.ErrInvalidOperation, "pin %d is an input", c.address)
	}

	old := pin.State(ps.Value&c.mask != 0)
	if old == s {
		d.stateMu.Unlock()
		return nil
	}

	v := ps.Value &^ c.mask
	if s == pin.High {
		v |= c.mask
	}
	if err := d.writeRegister(ports[c.port].gpio, v); err != nil {
		d.stateMu.Unlock()
		return err
	}
	ps.Value = v
	d.queue(c.gpio, old, s, c.address)
	d.stateMu.Unlock()

	d.flush()
	return nil
}

// ReadState returns the shadow value for outputs. For inputs the port is read
// back, which also consumes its pending interrupt, so every changed input of
// the port raises its event on its own pin.
func (c *chip) ReadState() (pin.State, error) {
	d := c.dev
	d.stateMu.Lock()

	if c.detached {
		d.stateMu.Unlock()
		return pin.Low, pin.ErrDisposed
	}

	ps := &d.ports[c.port]
	if ps.Direction&c.mask == 0 {
		s := pin.State(ps.Value&c.mask != 0)
		d.stateMu.Unlock()
		return s, nil
	}

	v, err := d.readRegister(ports[c.port].gpio)
	if err != nil {
		d.stateMu.Unlock()
		return pin.Low, err
	}
	d.refreshPort(c.port, v, ps.Direction)
	s := pin.State(ps.Value&c.mask != 0)
	d.stateMu.Unlock()

	d.flush()
	return s, nil
}

// refreshPort merges the bits selected by mask from a freshly read port value
// into the shadow, scanning from bit 0 upwards. Every changed bit that belongs
// to an attached input pin queues an event for that pin. stateMu must be held.
func (d *Device) refreshPort(p Port, value byte, mask byte) {
	ps := &d.ports[p]
	base := portOffset(p)

	for bit := 0; bit < pin.PortWidth; bit++ {
		m := byte(1) << uint(bit)
		if mask&m == 0 {
			continue
		}

		old := ps.Value&m != 0
		cur := value&m != 0
		if old == cur {
			continue
		}

		ps.Value ^= m
		if ps.IntEnable&m == 0 {
			continue
		}

		addr := base + pin.Address(bit)
		if c, ok := d.pins[addr]; ok {
			d.queue(c.gpio, pin.State(old), pin.State(cur), addr)
		}
	}
}

// queue appends an event for target. stateMu must be held.
func (d *Device) queue(target *pin.Gpio, previous, current pin.State, addr pin.Address) {
	d.pending = append(d.pending, queuedEvent{
		target: target,
		event:  pin.StateChangeEvent{Previous: previous, Current: current, Address: addr},
	})
}

// flush delivers queued events in the order they were queued. Only one
// goroutine delivers at a time; events queued by others while it runs,
// including from inside listeners, are delivered by the same loop.
func (d *Device) flush() {
	d.stateMu.Lock()
	if d.draining {
		d.stateMu.Unlock()
		return
	}
	d.draining = true

	for len(d.pending) > 0 {
		events := d.pending
		d.pending = nil
		d.stateMu.Unlock()

		for _, q := range events {
			q.target.Emit(q.event.Previous, q.event.Current, q.event.Address)
		}

		d.stateMu.Lock()
	}

	d.draining = false
	d.stateMu.Unlock()
}

// Close drives an output pin low, disables the interrupt of an input pin and
// detaches it. The last reference to the device stops polling and releases
// the bus.
func (c *chip) Close() error {
	d := c.dev
	var err error

	d.stateMu.Lock()
	if c.detached {
		d.stateMu.Unlock()
		return pin.ErrDisposed
	}

	ps := &d.ports[c.port]
	r := ports[c.port]
	if ps.Direction&c.mask == 0 && ps.Value&c.mask != 0 {
		v := ps.Value &^ c.mask
		if werr := d.writeRegister(r.gpio, v); werr != nil {
			err = multierr.Append(err, werr)
		} else {
			ps.Value = v
			d.queue(c.gpio, pin.High, pin.Low, c.address)
		}
	}
	if ps.IntEnable&c.mask != 0 {
		v := ps.IntEnable &^ c.mask
		if werr := d.writeRegister(r.gpinten, v); werr != nil {
			err = multierr.Append(err, werr)
		}
		ps.IntEnable = v
	}

	c.detached = true
	delete(d.pins, c.address)
	d.refs--
	last := d.refs == 0
	d.setPolling(!last && d.anyInput())
	d.stateMu.Unlock()

	d.flush()

	if last {
		err = multierr.Append(err, d.shutdown())
	}
	return err
}

func (p *Pin) PullResistance() pin.PullResistance {
	d := p.chip.dev
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return p.chip.pull
}

// SetPullResistance updates the pull-up bit of this pin. Other pins of the
// port keep their setting. The chip has no pull-down resistors.
func (p *Pin) SetPullResistance(r pin.PullResistance) error {
	if p.IsDisposed() {
		return pin.ErrDisposed
	}

	c := p.chip
	d := c.dev
	d.stateMu.Lock()
	defer d.stateMu.Unlock()

	if c.detached {
		return pin.ErrDisposed
	}
	if r == c.pull {
		return nil
	}

	ps := &d.ports[c.port]
	var v byte
	switch r {
	case pin.PullUp:
		v = ps.PullUp | c.mask
	case pin.PullOff:
		v = ps.PullUp &^ c.mask
	default:
		return errors.Wrapf(pin.ErrInvalidArgument, "pull resistance %s not supported by expander", r)
	}

	if err := d.writeRegister(ports[c.port].gppu, v); err != nil {
		return err
	}
	ps.PullUp = v
	c.pull = r
	return nil
}
