package pin

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Transport is the hardware facing half of a Gpio. Implementations raise
// state change events through the Gpio they are attached to.
type Transport interface {
	ApplyMode(m Mode) error
	WriteState(s State) error
	ReadState() (State, error)

	// Close quiesces the hardware and releases the underlying handle.
	Close() error
}

// Gpio implements DigitalPin on top of a Transport. Transports embed it and
// share its pulse, provisioning and listener handling.
type Gpio struct {
	transport Transport
	address   Address
	listeners Listeners

	// opMu serialises mode changes and provisioning. mu only guards the
	// fields below and is never held while the transport runs, since
	// transports raise events that may call back into the pin.
	opMu sync.Mutex

	mu          sync.Mutex
	name        string
	mode        Mode
	initial     State
	provisioned bool
	disposed    bool
}

func NewGpio(address Address, name string, mode Mode, initial State, transport Transport) *Gpio {
	return &Gpio{
		transport: transport,
		address:   address,
		name:      name,
		mode:      mode,
		initial:   initial,
	}
}

func (g *Gpio) Address() Address { return g.address }

func (g *Gpio) Name() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.name
}

func (g *Gpio) SetName(name string) {
	g.mu.Lock()
	g.name = name
	g.mu.Unlock()
}

func (g *Gpio) Mode() Mode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mode
}

func (g *Gpio) InitialState() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.initial
}

func (g *Gpio) IsProvisioned() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.provisioned
}

func (g *Gpio) IsDisposed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.disposed
}

func (g *Gpio) checkDisposed() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.disposed {
		return ErrDisposed
	}
	return nil
}

// SetMode persists a mode change. Setting the current mode again does
// nothing. A provisioned output pin gets its initial value re-applied.
func (g *Gpio) SetMode(m Mode) error {
	g.opMu.Lock()
	defer g.opMu.Unlock()

	g.mu.Lock()
	disposed, current, provisioned, initial := g.disposed, g.mode, g.provisioned, g.initial
	g.mu.Unlock()

	if disposed {
		return ErrDisposed
	}
	if m == current {
		return nil
	}

	if err := g.transport.ApplyMode(m); err != nil {
		return err
	}

	g.mu.Lock()
	g.mode = m
	g.mu.Unlock()

	if provisioned && m == ModeOutput {
		return g.transport.WriteState(initial)
	}
	return nil
}

// Provision applies the configured mode and initial value.
func (g *Gpio) Provision() error {
	g.opMu.Lock()
	defer g.opMu.Unlock()

	g.mu.Lock()
	disposed, mode, initial := g.disposed, g.mode, g.initial
	g.mu.Unlock()

	if disposed {
		return ErrDisposed
	}

	if err := g.transport.ApplyMode(mode); err != nil {
		return err
	}
	if mode == ModeOutput {
		if err := g.transport.WriteState(initial); err != nil {
			return err
		}
	}

	g.mu.Lock()
	g.provisioned = true
	g.mu.Unlock()
	return nil
}

func (g *Gpio) Write(s State) error {
	if err := g.checkDisposed(); err != nil {
		return err
	}
	return g.transport.WriteState(s)
}

func (g *Gpio) Read() (State, error) {
	if err := g.checkDisposed(); err != nil {
		return Low, err
	}
	return g.transport.ReadState()
}

func (g *Gpio) State() (State, error) {
	return g.Read()
}

// Pulse drives the pin high for d and then low again. It blocks for d.
func (g *Gpio) Pulse(d time.Duration) error {
	if err := g.checkDisposed(); err != nil {
		return err
	}
	if d < 0 {
		return errors.Wrapf(ErrInvalidArgument, "negative pulse duration %v", d)
	}
	if m := g.Mode(); m != ModeOutput {
		return errors.Wrapf(ErrInvalidOperation, "cannot pulse pin %d in mode %s", g.address, m)
	}

	if err := g.transport.WriteState(High); err != nil {
		return err
	}
	if d > 0 {
		time.Sleep(d)
	}
	return g.transport.WriteState(Low)
}

func (g *Gpio) AddListener(l Listener) ListenerHandle { return g.listeners.Add(l) }

func (g *Gpio) RemoveListener(h ListenerHandle) { g.listeners.Remove(h) }

func (g *Gpio) RemoveAllListeners() { g.listeners.RemoveAll() }

// Emit raises a state change event on the calling goroutine.
func (g *Gpio) Emit(previous, current State, address Address) {
	g.listeners.Emit(StateChangeEvent{Previous: previous, Current: current, Address: address})
}

// Dispose closes the transport and clears listeners and cached state. Every
// later call, including another Dispose, fails with ErrDisposed.
func (g *Gpio) Dispose() error {
	g.mu.Lock()
	if g.disposed {
		g.mu.Unlock()
		return ErrDisposed
	}
	g.disposed = true
	g.mu.Unlock()

	err := g.transport.Close()

	g.listeners.RemoveAll()

	g.mu.Lock()
	g.mode = ModeInput
	g.initial = Low
	g.provisioned = false
	g.mu.Unlock()

	return err
}
