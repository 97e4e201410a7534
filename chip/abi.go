// Package chip defines the boundary between a simulated peripheral and the
// host that runs it: pin allocation, edge watches, I2C target registration and
// a debug sink. Callbacks are plain Go funcs; per-instance state lives in a
// Table owned by the chip package that created it.
package chip

// PinID identifies a pin allocated by the host for one chip instance.
type PinID uint32

// NoPin is never returned by a successful PinInit.
const NoPin PinID = ^PinID(0)

// Level is a digital pin level.
type Level uint32

const (
	Low  Level = 0
	High Level = 1
)

func (l Level) String() string {
	if l == Low {
		return "low"
	}
	return "high"
}

// Invert returns the opposite level.
func Invert(l Level) Level {
	if l == Low {
		return High
	}
	return Low
}

// LevelOf maps true to High.
func LevelOf(b bool) Level {
	if b {
		return High
	}
	return Low
}

// PinMode selects the electrical role of a pin.
type PinMode uint8

const (
	Input PinMode = iota
	Output
	InputPullUp
	InputPullDown
	Analog
	OutputLow
	OutputHigh
)

// IsOutput reports whether the chip drives the pin in this mode.
func (m PinMode) IsOutput() bool {
	return m == Output || m == OutputLow || m == OutputHigh
}

// Edge selects which transitions a watch reports.
type Edge uint8

const (
	Rising Edge = iota + 1
	Falling
	Both
)

// Matches reports whether a transition from old to new is selected by e.
func (e Edge) Matches(old, new Level) bool {
	switch {
	case old == Low && new == High:
		return e == Rising || e == Both
	case old == High && new == Low:
		return e == Falling || e == Both
	default:
		return false
	}
}

// WatchConfig is passed to Host.PinWatch.
type WatchConfig struct {
	Edge     Edge
	OnChange func(pin PinID, value Level)
}

// I2CConfig registers an I2C target. Connect is called on (repeated) start
// with read=true for a read transfer; returning false NACKs the address.
// Write returns false to NACK a byte. Disconnect is called on stop with the
// address of the transfer.
type I2CConfig struct {
	Address    uint8
	SCL        PinID
	SDA        PinID
	Connect    func(address uint8, read bool) bool
	Read       func() byte
	Write      func(data byte) bool
	Disconnect func(address uint8)
}

// I2CDevID identifies a registered I2C target.
type I2CDevID uint32

// Host is the runtime a chip registers with. All callbacks a Host invokes for
// one chip are serialised.
type Host interface {
	PinInit(name string, mode PinMode) (PinID, error)
	PinMode(pin PinID, mode PinMode) error
	PinRead(pin PinID) Level
	PinWrite(pin PinID, value Level)
	PinWatch(pin PinID, cfg WatchConfig) error
	PinWatchStop(pin PinID)

	I2CInit(cfg I2CConfig) (I2CDevID, error)

	DebugPrint(msg string)
}
