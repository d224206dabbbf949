package expander

import (
	"fmt"

	"github.com/BertoldVdb/PiFaceGPIO/pin"
	"github.com/pkg/errors"
)

// DeviceAddress is the SPI opcode base of an MCP23S17, selected by its two
// hardware address pins.
type DeviceAddress byte

const (
	DeviceAddress0 DeviceAddress = 0x40
	DeviceAddress1 DeviceAddress = 0x42
	DeviceAddress2 DeviceAddress = 0x44
	DeviceAddress3 DeviceAddress = 0x46
)

// HardwareAddress returns the device address for the A1:A0 pin strapping n.
func HardwareAddress(n int) (DeviceAddress, error) {
	if n < 0 || n > 3 {
		return 0, errors.Wrapf(pin.ErrInvalidArgument, "hardware address %d", n)
	}
	return DeviceAddress0 + DeviceAddress(n<<1), nil
}

func (a DeviceAddress) valid() bool {
	return a&^0x06 == 0x40
}

func (a DeviceAddress) String() string {
	return fmt.Sprintf("mcp23s17@0x%02x", byte(a))
}

const (
	flagWrite byte = 0x00
	flagRead  byte = 0x01
)

type register byte

// Register addresses with IOCON.BANK cleared: A and B registers are paired.
const (
	regIODIRA   register = 0x00
	regIODIRB   register = 0x01
	regIPOLA    register = 0x02
	regIPOLB    register = 0x03
	regGPINTENA register = 0x04
	regGPINTENB register = 0x05
	regDEFVALA  register = 0x06
	regDEFVALB  register = 0x07
	regINTCONA  register = 0x08
	regINTCONB  register = 0x09
	regIOCONA   register = 0x0A
	regIOCONB   register = 0x0B
	regGPPUA    register = 0x0C
	regGPPUB    register = 0x0D
	regINTFA    register = 0x0E
	regINTFB    register = 0x0F
	regINTCAPA  register = 0x10
	regINTCAPB  register = 0x11
	regGPIOA    register = 0x12
	regGPIOB    register = 0x13
	regOLATA    register = 0x14
	regOLATB    register = 0x15
)

var registerNames = map[register]string{
	regIODIRA: "IODIRA", regIODIRB: "IODIRB",
	regIPOLA: "IPOLA", regIPOLB: "IPOLB",
	regGPINTENA: "GPINTENA", regGPINTENB: "GPINTENB",
	regDEFVALA: "DEFVALA", regDEFVALB: "DEFVALB",
	regINTCONA: "INTCONA", regINTCONB: "INTCONB",
	regIOCONA: "IOCONA", regIOCONB: "IOCONB",
	regGPPUA: "GPPUA", regGPPUB: "GPPUB",
	regINTFA: "INTFA", regINTFB: "INTFB",
	regINTCAPA: "INTCAPA", regINTCAPB: "INTCAPB",
	regGPIOA: "GPIOA", regGPIOB: "GPIOB",
	regOLATA: "OLATA", regOLATB: "OLATB",
}

func (r register) String() string {
	if n, ok := registerNames[r]; ok {
		return n
	}
	return fmt.Sprintf("REG(0x%02x)", byte(r))
}

// IOCON bits. SEQOP and BANK stay cleared: sequential addressing with the
// paired register map above.
const (
	ioconHAEN  byte = 1 << 3
	ioconSEQOP byte = 1 << 5
	ioconBANK  byte = 1 << 7
)

// Port selects one of the two 8-bit ports.
type Port int

const (
	PortA Port = iota
	PortB
)

func (p Port) String() string {
	if p == PortA {
		return "A"
	}
	return "B"
}

// portRegisters holds the register numbers of one port.
type portRegisters struct {
	iodir, gpinten, defval, intcon, iocon, gppu, intf, intcap, gpio register
}

var ports = [2]portRegisters{
	PortA: {regIODIRA, regGPINTENA, regDEFVALA, regINTCONA, regIOCONA, regGPPUA, regINTFA, regINTCAPA, regGPIOA},
	PortB: {regIODIRB, regGPINTENB, regDEFVALB, regINTCONB, regIOCONB, regGPPUB, regINTFB, regINTCAPB, regGPIOB},
}
