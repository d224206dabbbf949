package mcp2221a

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
)

// Pin is one of the GP0..GP3 lines. It satisfies hostpin.RawPin.
type Pin struct {
	mod *GPIO
	n   byte

	mu         sync.Mutex
	configured bool
}

// Pin returns line GPn. The line is switched to GPIO mode on first use.
func (mcp *MCP2221A) Pin(n int) (*Pin, error) {
	if n < 0 || n >= GPPinCount {
		return nil, fmt.Errorf("invalid GPIO pin: %d", n)
	}
	return &Pin{mod: mcp.GPIO, n: byte(n)}, nil
}

func (p *Pin) Name() string {
	return fmt.Sprintf("%s/GP%d", p.mod.MCP2221A, p.n)
}

func (p *Pin) configure(dir GPIODir, val byte) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.configured {
		return false, nil
	}
	if err := p.mod.SetConfig(p.n, val, ModeGPIO, dir); err != nil {
		return false, err
	}
	p.configured = true
	return true, nil
}

func (p *Pin) Out(l gpio.Level) error {
	var val byte
	if l {
		val = 1
	}

	if done, err := p.configure(DirOutput, val); err != nil || done {
		return err
	}
	return p.mod.Set(p.n, val)
}

// In switches the line to input. The bridge has neither pull resistors nor
// edge detection usable from here.
func (p *Pin) In(pull gpio.Pull, edge gpio.Edge) error {
	if pull != gpio.Float && pull != gpio.PullNoChange {
		return fmt.Errorf("%s: pull %s not supported", p.Name(), pull)
	}
	if edge != gpio.NoEdge {
		return fmt.Errorf("%s: edge detection not supported", p.Name())
	}

	if done, err := p.configure(DirInput, 0); err != nil || done {
		return err
	}
	return p.mod.SetInput(p.n)
}

// Read returns Low when the line cannot be read.
func (p *Pin) Read() gpio.Level {
	v, err := p.mod.Get(p.n)
	if err != nil {
		p.mod.log("GP%d read failed: %v", p.n, err)
		return gpio.Low
	}
	return v != 0
}
