// Package mcp2221a drives the GPIO pins of a Microchip MCP2221A USB to
// GPIO/I²C bridge through its HID interface. The pins are exposed as raw
// lines usable by hostpin.
//
// Datasheet: http://ww1.microchip.com/downloads/en/devicedoc/20005565b.pdf
package mcp2221a

// Original source: https://github.com/ardnew/mcp2221a
// MIT License
//
// Copyright (c) 2020 ardnew
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

import (
	"errors"
	"fmt"
	"sync"

	usb "github.com/karalabe/hid"
)

// VID is Microchip's vendor ID, PID the MCP2221A's default product ID.
const (
	VID = 0x04D8
	PID = 0x00DD
)

// MsgSz is the size of every command and response message.
const MsgSz = 64

const (
	WordSet byte = 0xFF
	WordClr byte = 0x00
)

const (
	cmdGPIOSet byte = 0x50
	cmdGPIOGet byte = 0x51
	cmdSRAMSet byte = 0x60
	cmdSRAMGet byte = 0x61
)

type (
	GPIOMode byte
	GPIODir  byte
)

const (
	GPPinCount = 4

	ModeGPIO     GPIOMode = 0x00
	ModeDediFunc GPIOMode = 0x01
	ModeAltFunc0 GPIOMode = 0x02
	ModeAltFunc1 GPIOMode = 0x03
	ModeAltFunc2 GPIOMode = 0x04
	ModeInvalid  GPIOMode = 0xEE

	DirOutput GPIODir = 0x00
	DirInput  GPIODir = 0x01
)

// SRAM offsets of the GP0..GP3 settings in a Get SRAM Settings response.
const (
	sramGPStart = 22
	sramGPStop  = 25
)

type LogFunc func(format string, params ...interface{})

// HIDDevice is an opened HID interface. *hid.Device implements it.
type HIDDevice interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Close() error
}

// MCP2221A is an opened bridge. All commands are serialised.
type MCP2221A struct {
	Serial string

	mu      sync.Mutex
	dev     HIDDevice
	logFunc LogFunc

	GPIO *GPIO
}

// AttachedDevices returns the descriptors of all connected devices matching
// vid and pid.
func AttachedDevices(vid uint16, pid uint16) []usb.DeviceInfo {
	return usb.Enumerate(vid, pid)
}

// Open opens the first device with the given serial number, or the first
// device found when serial is empty.
func Open(vid uint16, pid uint16, serial string, logFunc LogFunc) (*MCP2221A, error) {
	for _, info := range AttachedDevices(vid, pid) {
		if serial != "" && info.Serial != serial {
			continue
		}

		dev, err := info.Open()
		if err != nil {
			return nil, err
		}

		m := NewFromDev(dev, logFunc)
		m.Serial = info.Serial
		return m, nil
	}

	if serial == "" {
		return nil, errors.New("no device found")
	}
	return nil, fmt.Errorf("no device with serial %q found", serial)
}

func NewFromDev(dev HIDDevice, logFunc LogFunc) *MCP2221A {
	mcp := &MCP2221A{
		dev:     dev,
		logFunc: logFunc,
	}
	mcp.GPIO = &GPIO{mcp}
	return mcp
}

func (mcp *MCP2221A) log(format string, params ...interface{}) {
	if mcp.logFunc != nil {
		mcp.logFunc(" * "+format, params...)
	}
}

func (mcp *MCP2221A) Close() error {
	mcp.mu.Lock()
	defer mcp.mu.Unlock()

	if mcp.dev == nil {
		return errors.New("device is closed")
	}
	err := mcp.dev.Close()
	mcp.dev = nil
	return err
}

func (mcp *MCP2221A) String() string {
	if mcp.Serial == "" {
		return "mcp2221a"
	}
	return "mcp2221a:" + mcp.Serial
}

func makeMsg() []byte { return make([]byte, MsgSz) }

// send transmits a command and returns its response. The response echoes the
// command in its first byte and carries a zero status in the second.
func (mcp *MCP2221A) send(cmd byte, data []byte) ([]byte, error) {
	mcp.mu.Lock()
	defer mcp.mu.Unlock()

	if mcp.dev == nil {
		return nil, errors.New("device is closed")
	}

	data[0] = cmd
	if _, err := mcp.dev.Write(data); err != nil {
		return nil, fmt.Errorf("Write([cmd=0x%02X]): %v", cmd, err)
	}

	rsp := makeMsg()
	recv, err := mcp.dev.Read(rsp)
	if err != nil {
		return nil, fmt.Errorf("Read([cmd=0x%02X]): %v", cmd, err)
	}
	if recv < MsgSz {
		return rsp, fmt.Errorf("Read([cmd=0x%02X]): short read (%d of %d bytes)", cmd, recv, MsgSz)
	}
	if rsp[0] != cmd || rsp[1] != WordClr {
		return rsp, fmt.Errorf("Read([cmd=0x%02X]): command failed", cmd)
	}

	return rsp, nil
}

// GPIO contains the methods of the GPIO module.
type GPIO struct {
	*MCP2221A
}

func (mod *GPIO) gpSettings() ([]byte, error) {
	rsp, err := mod.send(cmdSRAMGet, makeMsg())
	if err != nil {
		return nil, err
	}
	return rsp[sramGPStart : sramGPStop+1], nil
}

// SetConfig configures a pin's output value, mode and direction in SRAM. The
// other pins keep their current settings.
func (mod *GPIO) SetConfig(pin byte, val byte, mode GPIOMode, dir GPIODir) error {
	if pin >= GPPinCount {
		return fmt.Errorf("invalid GPIO pin: %d", pin)
	}

	cur, err := mod.gpSettings()
	if err != nil {
		return fmt.Errorf("SRAM read: %v", err)
	}

	cmd := makeMsg()
	cmd[7] = WordSet // alter GP designation
	copy(cmd[8:], cur)
	cmd[8+pin] = (val&1)<<4 | byte(dir)<<3 | byte(mode)

	if _, err := mod.send(cmdSRAMSet, cmd); err != nil {
		return err
	}

	mod.log("GP%d: mode %d, dir %d, value %d", pin, mode, dir, val)
	return nil
}

// GetConfig returns the output value, mode and direction of a pin.
func (mod *GPIO) GetConfig(pin byte) (byte, GPIOMode, GPIODir, error) {
	if pin >= GPPinCount {
		return WordClr, ModeInvalid, DirInput, fmt.Errorf("invalid GPIO pin: %d", pin)
	}

	cur, err := mod.gpSettings()
	if err != nil {
		return WordClr, ModeInvalid, DirInput, fmt.Errorf("SRAM read: %v", err)
	}

	return (cur[pin] >> 4) & 1, GPIOMode(cur[pin] & 0x07), GPIODir((cur[pin] >> 3) & 1), nil
}

// Set drives a pin and makes it an output.
func (mod *GPIO) Set(pin byte, val byte) error {
	if pin >= GPPinCount {
		return fmt.Errorf("invalid GPIO pin: %d", pin)
	}

	cmd := makeMsg()
	i := 2 + 4*pin
	cmd[i+0] = WordSet // alter output value
	cmd[i+1] = val
	cmd[i+2] = WordSet // alter direction
	cmd[i+3] = byte(DirOutput)

	_, err := mod.send(cmdGPIOSet, cmd)
	return err
}

// SetInput makes a pin an input without touching its output latch.
func (mod *GPIO) SetInput(pin byte) error {
	if pin >= GPPinCount {
		return fmt.Errorf("invalid GPIO pin: %d", pin)
	}

	cmd := makeMsg()
	i := 2 + 4*pin
	cmd[i+2] = WordSet
	cmd[i+3] = byte(DirInput)

	_, err := mod.send(cmdGPIOSet, cmd)
	return err
}

// Get returns the current level of a pin.
func (mod *GPIO) Get(pin byte) (byte, error) {
	if pin >= GPPinCount {
		return WordClr, fmt.Errorf("invalid GPIO pin: %d", pin)
	}

	rsp, err := mod.send(cmdGPIOGet, makeMsg())
	if err != nil {
		return WordClr, err
	}

	i := 2 + 2*pin
	if rsp[i] == byte(ModeInvalid) {
		return WordClr, fmt.Errorf("pin not in GPIO mode: %d", pin)
	}
	return rsp[i], nil
}
