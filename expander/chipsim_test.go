package expander

import (
	"errors"
	"sync"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/conntest"
)

// chipSim emulates the MCP23S17 register file as seen through SPI with
// IOCON.BANK cleared and INTCON zero (interrupt on change).
type chipSim struct {
	mu     sync.Mutex
	device byte
	regs   [regOLATB + 1]byte
	pins   [2]byte // externally driven levels
	err    error
	closed bool
}

func newChipSim() *chipSim {
	return &chipSim{device: byte(DeviceAddress0)}
}

func (s *chipSim) String() string { return "mcp23s17-sim" }

func (s *chipSim) Duplex() conn.Duplex { return conn.Full }

func (s *chipSim) Tx(w, r []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("sim: closed")
	}
	if s.err != nil {
		return s.err
	}
	if len(w) != 3 || len(r) != 3 {
		return errors.New("sim: bad packet length")
	}
	if w[0]&^flagRead != s.device {
		return nil
	}

	reg := register(w[1])
	if int(reg) >= len(s.regs) {
		return errors.New("sim: bad register")
	}

	if w[0]&flagRead != 0 {
		r[2] = s.read(reg)
	} else {
		s.write(reg, w[2])
	}
	return nil
}

func (s *chipSim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *chipSim) portValue(p Port) byte {
	r := ports[p]
	dir := s.regs[r.iodir]
	return s.regs[regOLATA+register(p)]&^dir | s.pins[p]&dir
}

func (s *chipSim) read(reg register) byte {
	for p, r := range ports {
		switch reg {
		case r.gpio:
			s.regs[r.intf] = 0
			return s.portValue(Port(p))
		case r.intcap:
			s.regs[r.intf] = 0
			return s.regs[r.intcap]
		}
	}
	return s.regs[reg]
}

func (s *chipSim) write(reg register, v byte) {
	for p, r := range ports {
		if reg == r.gpio {
			s.regs[regOLATA+register(p)] = v
			return
		}
	}
	s.regs[reg] = v
}

// setInput drives an input line from outside the chip.
func (s *chipSim) setInput(p Port, bit int, level bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := byte(1) << uint(bit)
	old := s.pins[p]
	if level {
		s.pins[p] |= m
	} else {
		s.pins[p] &^= m
	}

	r := ports[p]
	if old != s.pins[p] && s.regs[r.gpinten]&s.regs[r.iodir]&m != 0 {
		s.regs[r.intf] |= m
		s.regs[r.intcap] = s.portValue(p)
	}
}

func (s *chipSim) reg(reg register) byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[reg]
}

func (s *chipSim) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *chipSim) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// recordBus records every packet sent to the simulator.
type recordBus struct {
	*conntest.Record
	sim *chipSim
}

func newRecordBus() *recordBus {
	sim := newChipSim()
	return &recordBus{Record: &conntest.Record{Conn: sim}, sim: sim}
}

func (b *recordBus) Close() error { return b.sim.Close() }

func (b *recordBus) ops() []conntest.IO {
	b.Record.Lock()
	defer b.Record.Unlock()
	return append([]conntest.IO(nil), b.Record.Ops...)
}

func (b *recordBus) count() int {
	return len(b.ops())
}
