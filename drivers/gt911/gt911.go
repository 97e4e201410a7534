// Package gt911 is a controller-side driver for GT911-style touch panels.
//
//	d := gt911.New(bus)
//	err := d.Configure(gt911.Config{Width: 320, Height: 480})
//	p := d.ReadTouchPoint() // Z > 0 while touched
//
// Report layout (8 bytes from the status register):
//
//	status, points, X hi, X lo, Y hi, Y lo, reserved, reserved
//
// NOTE: I2C.Tx MUST perform the register write followed by a repeated-start
// read when both w and r are provided.
package gt911

import (
	"errors"

	"touchchip-go/x/mathx"

	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/touch"
)

// I2C address.
const Address = 0x5D

// Registers and status bits.
const (
	regConfig = 0x8047
	regStatus = 0x814E

	statusBufferReady = 0x80

	maxPoints = 5
	infoLen   = 3
	reportLen = 8
	defPanelW = 800
	defPanelH = 1280
)

// Errors returned by the driver.
var (
	ErrNotConfigured = errors.New("gt911: not configured")
	ErrNotReady      = errors.New("gt911: no data")
	ErrProtocol      = errors.New("gt911: protocol error")
)

// Config controls non-hardware behaviour. All fields are optional.
type Config struct {
	// Address defaults to 0x5D if zero.
	Address uint16
	// PanelWidth/PanelHeight are the controller's native resolution.
	// Default 800x1280.
	PanelWidth, PanelHeight uint16
	// Width/Height, when set, scale reported points onto a display.
	Width, Height uint16
}

// Device wraps an I2C connection to a GT911 controller.
type Device struct {
	bus     drivers.I2C
	Address uint16

	cfg        Config
	configured bool
	info       [infoLen]byte
	buf        [reportLen]byte // reuse buffer to avoid allocations
	last       Report
}

// Report is one decoded touch report.
type Report struct {
	Status uint8
	Points uint8
	X, Y   uint16
}

// Touched reports whether at least one finger is down.
func (r Report) Touched() bool { return r.Status&statusBufferReady != 0 && r.Points > 0 }

// New creates a new GT911 connection. The I2C bus must already be configured.
// This function only creates the Device object; it does not touch the device.
func New(bus drivers.I2C) Device {
	return Device{
		bus:     bus,
		Address: Address,
	}
}

// Configure applies cfg and reads the controller's config header once.
func (d *Device) Configure(cfgs ...Config) error {
	var c Config
	if len(cfgs) > 0 {
		c = cfgs[0]
	}
	if c.Address != 0 {
		d.Address = c.Address
	}
	if c.PanelWidth == 0 {
		c.PanelWidth = defPanelW
	}
	if c.PanelHeight == 0 {
		c.PanelHeight = defPanelH
	}
	d.cfg = c

	if err := d.bus.Tx(d.Address, reg(regConfig), d.info[:]); err != nil {
		return err
	}
	d.configured = true
	return nil
}

// Info returns the header read by Configure.
func (d *Device) Info() [infoLen]byte { return d.info }

// ReadReport reads and decodes the status block, then clears the ready flag.
func (d *Device) ReadReport() (Report, error) {
	if !d.configured {
		return Report{}, ErrNotConfigured
	}
	if err := d.bus.Tx(d.Address, reg(regStatus), d.buf[:]); err != nil {
		return Report{}, err
	}
	b := d.buf
	r := Report{
		Status: b[0],
		Points: b[1],
		X:      uint16(b[2])<<8 | uint16(b[3]),
		Y:      uint16(b[4])<<8 | uint16(b[5]),
	}
	if r.Status&statusBufferReady == 0 {
		return r, ErrNotReady
	}
	if r.Points > maxPoints {
		return r, ErrProtocol
	}
	// Acknowledge: status register back to zero.
	if err := d.bus.Tx(d.Address, []byte{regStatus >> 8, regStatus & 0xFF, 0x00}, nil); err != nil {
		return r, err
	}
	d.last = r
	return r, nil
}

// Last returns the most recent good report.
func (d *Device) Last() Report { return d.last }

// ReadTouchPoint implements touch.Pointer. Errors read as "not touched".
func (d *Device) ReadTouchPoint() touch.Point {
	r, err := d.ReadReport()
	if err != nil || !r.Touched() {
		return touch.Point{}
	}
	x, y := d.Scale(r)
	return touch.Point{X: int(x), Y: int(y), Z: 1}
}

// Scale maps a report's panel coordinates onto the configured display size.
// Axes without a display size pass through unchanged.
func (d *Device) Scale(r Report) (x, y uint16) {
	x, y = r.X, r.Y
	if d.cfg.Width != 0 {
		x = mathx.Scale(x, d.cfg.PanelWidth, d.cfg.Width)
	}
	if d.cfg.Height != 0 {
		y = mathx.Scale(y, d.cfg.PanelHeight, d.cfg.Height)
	}
	return x, y
}

var _ touch.Pointer = (*Device)(nil)

func reg(r uint16) []byte { return []byte{byte(r >> 8), byte(r)} }
