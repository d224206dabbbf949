// Package pin defines the transport independent model shared by all digital
// pins: states, modes, pull resistors, change events and the DigitalPin
// interface implemented by the expander and host pin drivers.
package pin

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Address identifies a logical pin. On the expander, addresses below
// PortBOffset belong to port A, the others to port B.
type Address int

const (
	PortAOffset Address = 0
	PortBOffset Address = 1000

	PortWidth = 8
)

type State bool

const (
	Low  State = false
	High State = true
)

func (s State) String() string {
	if s {
		return "HIGH"
	}
	return "LOW"
}

// Level converts the state to a periph level.
func (s State) Level() gpio.Level {
	return gpio.Level(s)
}

func FromLevel(l gpio.Level) State {
	return State(l)
}

type Mode int

const (
	ModeInput Mode = iota
	ModeOutput
	ModePWM
	ModeClock
	ModePullUp
	ModePullDown
	ModeTristate
)

var modeNames = [...]string{"input", "output", "pwm", "clock", "pull_up", "pull_down", "tristate"}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeNames[m]
}

// ParseMode is the inverse of Mode.String.
func ParseMode(s string) (Mode, bool) {
	for i, n := range modeNames {
		if n == s {
			return Mode(i), true
		}
	}
	return 0, false
}

type PullResistance int

const (
	PullOff PullResistance = iota
	PullDown
	PullUp
)

func (p PullResistance) String() string {
	switch p {
	case PullOff:
		return "off"
	case PullDown:
		return "pull_down"
	case PullUp:
		return "pull_up"
	}
	return fmt.Sprintf("PullResistance(%d)", int(p))
}

// EventStateChange is the only event a pin raises.
const EventStateChange = "pin.state_change"

// StateChangeEvent is raised whenever an observed or written value differs
// from the previously cached value for Address.
type StateChangeEvent struct {
	Previous State
	Current  State
	Address  Address
}

func (e StateChangeEvent) String() string {
	return fmt.Sprintf("pin %d: %s -> %s", e.Address, e.Previous, e.Current)
}

// DigitalPin is the capability set common to every digital pin transport.
type DigitalPin interface {
	Name() string
	Address() Address

	Mode() Mode
	SetMode(m Mode) error

	// State re-reads the transport.
	State() (State, error)
	Read() (State, error)
	Write(s State) error
	Pulse(d time.Duration) error
	Provision() error

	AddListener(l Listener) ListenerHandle
	RemoveListener(h ListenerHandle)
	RemoveAllListeners()

	Dispose() error
	IsDisposed() bool
}

// Pullable is implemented by pins with configurable pull resistors.
type Pullable interface {
	PullResistance() PullResistance
	SetPullResistance(p PullResistance) error
}
