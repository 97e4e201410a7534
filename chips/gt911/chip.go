// Package gt911 emulates a GT911-like capacitive touch controller. After a
// three byte init block, every I2C read walks a fixed single-finger touch
// report that repeats forever. The chip also carries an IN/OUT inverter.
package gt911

import (
	"strconv"

	"touchchip-go/chip"
	"touchchip-go/x/conv"
)

// State selects which buffer reads are served from.
type State uint8

const (
	StateInit State = iota
	StateTouch
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateTouch:
		return "Touch"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// Chip is one emulated controller. The host serialises every call.
type Chip struct {
	host    chip.Host
	pinIn   chip.PinID
	pinOut  chip.PinID
	state   State
	initBuf [InitLen]byte
	touch   [ReportLen]byte
	cursor  int // next byte in the active buffer
}

// New returns a chip in StateInit with the canned touch report loaded.
func New(host chip.Host, in, out chip.PinID) *Chip {
	return &Chip{
		host:   host,
		pinIn:  in,
		pinOut: out,
		state:  StateInit,
		touch:  EncodeReport(TouchX, TouchY),
	}
}

func (c *Chip) State() State { return c.state }
func (c *Chip) Cursor() int  { return c.cursor }

// TouchReport returns a copy of the report served in StateTouch.
func (c *Chip) TouchReport() [ReportLen]byte { return c.touch }

// Read returns the next byte of the active buffer and advances the cursor.
// Exhausting the init block switches to StateTouch; the touch report wraps in
// place.
func (c *Chip) Read() byte {
	c.debug("I2C Read")
	var b byte
	switch c.state {
	case StateInit:
		b = c.initBuf[c.cursor]
		c.cursor++
		if c.cursor >= len(c.initBuf) {
			c.cursor = 0
			c.state = StateTouch
		}
	default:
		b = c.touch[c.cursor]
		c.cursor++
		if c.cursor >= len(c.touch) {
			c.cursor = 0
		}
	}
	c.debug("Chip State: " + c.state.String() + ", Current Byte: " + strconv.Itoa(int(b)))
	return b
}

// Connect starts a transfer. The cursor restarts; the state does not.
func (c *Chip) Connect(addr uint8, read bool) bool {
	c.cursor = 0
	c.debug(string(conv.U8Hex([]byte("I2C Connect - Address: 0x"), addr)))
	return true
}

// Write acknowledges and logs a byte from the controller. Register writes do
// not move the state machine.
func (c *Chip) Write(data byte) bool {
	c.debug(string(conv.U8Hex([]byte("I2C Write: 0x"), data)))
	return true
}

// Disconnect ends a transfer; only the address is logged.
func (c *Chip) Disconnect(addr uint8) {
	c.debug("I2C Disconnect")
	c.debug("Address: " + strconv.Itoa(int(addr)))
}

// OnPinChange drives OUT to the inverse of IN.
func (c *Chip) OnPinChange(_ chip.PinID, value chip.Level) {
	c.host.PinWrite(c.pinOut, chip.Invert(value))
}

func (c *Chip) debug(msg string) {
	if c.host != nil {
		c.host.DebugPrint(msg)
	}
}
