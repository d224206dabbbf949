// Package hostpin adapts a raw GPIO line, such as a periph gpio.PinIO or a
// USB bridge pin, to the pin.DigitalPin interface.
package hostpin

import (
	"fmt"
	"sync"

	"github.com/BertoldVdb/PiFaceGPIO/pin"
	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
)

type LogFunc func(format string, params ...interface{})

// RawPin is the minimal line capability needed to drive a pin. periph's
// gpio.PinIO satisfies it.
type RawPin interface {
	Name() string
	Out(l gpio.Level) error
	Read() gpio.Level
	In(pull gpio.Pull, edge gpio.Edge) error
}

type Options struct {
	Name    string
	Initial pin.State

	// Mode defaults to pin.ModeInput.
	Mode *pin.Mode

	LogFunc LogFunc
}

// Pin is a host line. It implements pin.DigitalPin and pin.Pullable.
type Pin struct {
	*pin.Gpio
	line *line
}

type line struct {
	gpio    *pin.Gpio
	raw     RawPin
	address pin.Address
	logFunc LogFunc

	mu     sync.Mutex
	output bool
	level  pin.State
	pull   pin.PullResistance
	closed bool
}

// New configures raw according to opts. The line is not owned by the pin,
// but Dispose leaves it as a floating input.
func New(raw RawPin, addr pin.Address, opts *Options) (*Pin, error) {
	if raw == nil {
		return nil, errors.Wrap(pin.ErrInvalidArgument, "nil raw pin")
	}
	if opts == nil {
		opts = &Options{}
	}

	mode := pin.ModeInput
	if opts.Mode != nil {
		mode = *opts.Mode
	}
	if err := checkMode(mode); err != nil {
		return nil, err
	}

	l := &line{
		raw:     raw,
		address: addr,
		logFunc: opts.LogFunc,
		level:   opts.Initial,
	}

	name := opts.Name
	if name == "" {
		name = raw.Name()
	}

	p := &Pin{line: l}
	p.Gpio = pin.NewGpio(addr, name, mode, opts.Initial, l)
	l.gpio = p.Gpio

	if err := l.ApplyMode(mode); err != nil {
		return nil, err
	}
	if mode == pin.ModeInput {
		l.mu.Lock()
		l.level = pin.FromLevel(raw.Read())
		l.mu.Unlock()
	}

	return p, nil
}

func checkMode(m pin.Mode) error {
	if m != pin.ModeInput && m != pin.ModeOutput {
		return errors.Wrapf(pin.ErrInvalidArgument, "mode %s not supported by host pin", m)
	}
	return nil
}

func (l *line) log(format string, params ...interface{}) {
	if l.logFunc != nil {
		l.logFunc(" * "+format, params...)
	}
}

func (l *line) ioError(op string, err error) error {
	return &pin.IOError{Device: l.raw.Name(), Op: op, Err: err}
}

func toPull(p pin.PullResistance) gpio.Pull {
	switch p {
	case pin.PullUp:
		return gpio.PullUp
	case pin.PullDown:
		return gpio.PullDown
	}
	return gpio.Float
}

func (l *line) ApplyMode(m pin.Mode) error {
	if err := checkMode(m); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return pin.ErrDisposed
	}

	if m == pin.ModeOutput {
		if err := l.raw.Out(l.level.Level()); err != nil {
			return l.ioError("out", err)
		}
		l.output = true
	} else {
		if err := l.raw.In(toPull(l.pull), gpio.NoEdge); err != nil {
			return l.ioError("in", err)
		}
		l.output = false
	}

	l.log("%s configured as %s", l.raw.Name(), m)
	return nil
}

func (l *line) WriteState(s pin.State) error {
	l.mu.Lock()
	if !l.output {
		l.mu.Unlock()
		return errors.Wrapf(pin.ErrInvalidOperation, "pin %d is an input", l.address)
	}

	old := l.level
	if old == s {
		l.mu.Unlock()
		return nil
	}

	if err := l.raw.Out(s.Level()); err != nil {
		l.mu.Unlock()
		return l.ioError("out", err)
	}
	l.level = s
	l.mu.Unlock()

	l.gpio.Emit(old, s, l.address)
	return nil
}

func (l *line) ReadState() (pin.State, error) {
	l.mu.Lock()
	if l.output {
		s := l.level
		l.mu.Unlock()
		return s, nil
	}

	old := l.level
	s := pin.FromLevel(l.raw.Read())
	l.level = s
	l.mu.Unlock()

	if old != s {
		l.gpio.Emit(old, s, l.address)
	}
	return s, nil
}

// Close drives an output low and leaves the line as a floating input.
func (l *line) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true

	var err error
	lowered := false
	if l.output && l.level == pin.High {
		if err = l.raw.Out(gpio.Low); err == nil {
			l.level = pin.Low
			lowered = true
		} else {
			err = l.ioError("out", err)
		}
	}
	if ierr := l.raw.In(gpio.Float, gpio.NoEdge); ierr != nil && err == nil {
		err = l.ioError("in", ierr)
	}
	l.output = false
	l.mu.Unlock()

	if lowered {
		l.gpio.Emit(pin.High, pin.Low, l.address)
	}
	return err
}

func (p *Pin) PullResistance() pin.PullResistance {
	p.line.mu.Lock()
	defer p.line.mu.Unlock()
	return p.line.pull
}

// SetPullResistance stores the pull and applies it immediately when the line
// is an input. Outputs pick it up on the next switch to input.
func (p *Pin) SetPullResistance(r pin.PullResistance) error {
	if p.IsDisposed() {
		return pin.ErrDisposed
	}
	if r != pin.PullOff && r != pin.PullDown && r != pin.PullUp {
		return errors.Wrapf(pin.ErrInvalidArgument, "pull resistance %s", r)
	}

	l := p.line
	l.mu.Lock()
	defer l.mu.Unlock()

	if r == l.pull {
		return nil
	}
	if !l.output {
		if err := l.raw.In(toPull(r), gpio.NoEdge); err != nil {
			return l.ioError("in", err)
		}
	}
	l.pull = r
	return nil
}

func (p *Pin) String() string {
	return fmt.Sprintf("%s(%d)", p.line.raw.Name(), p.Address())
}
