package gt911

import (
	"touchchip-go/chip"
	"touchchip-go/errcode"
)

// fakeHost records what a chip registers and lets tests drive callbacks.
type fakeHost struct {
	names   []string
	levels  map[chip.PinID]chip.Level
	modes   map[chip.PinID]chip.PinMode
	watches map[chip.PinID]chip.WatchConfig
	i2c     []chip.I2CConfig
	logs    []string

	failPin string
	failI2C error
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		levels:  map[chip.PinID]chip.Level{},
		modes:   map[chip.PinID]chip.PinMode{},
		watches: map[chip.PinID]chip.WatchConfig{},
	}
}

func (h *fakeHost) pin(name string) chip.PinID {
	for i, n := range h.names {
		if n == name {
			return chip.PinID(i)
		}
	}
	return chip.NoPin
}

func (h *fakeHost) PinInit(name string, mode chip.PinMode) (chip.PinID, error) {
	if name == h.failPin {
		return chip.NoPin, errcode.PinInUse
	}
	h.names = append(h.names, name)
	id := chip.PinID(len(h.names) - 1)
	h.modes[id] = mode
	return id, nil
}

func (h *fakeHost) PinMode(p chip.PinID, m chip.PinMode) error { h.modes[p] = m; return nil }
func (h *fakeHost) PinRead(p chip.PinID) chip.Level            { return h.levels[p] }
func (h *fakeHost) PinWrite(p chip.PinID, v chip.Level)        { h.levels[p] = v }
func (h *fakeHost) PinWatchStop(p chip.PinID)                  { delete(h.watches, p) }
func (h *fakeHost) DebugPrint(msg string)                      { h.logs = append(h.logs, msg) }
func (h *fakeHost) PinWatch(p chip.PinID, cfg chip.WatchConfig) error {
	h.watches[p] = cfg
	return nil
}

func (h *fakeHost) I2CInit(cfg chip.I2CConfig) (chip.I2CDevID, error) {
	if h.failI2C != nil {
		return 0, h.failI2C
	}
	h.i2c = append(h.i2c, cfg)
	return chip.I2CDevID(len(h.i2c) - 1), nil
}

// drive sets IN and fires its watch like a host edge would.
func (h *fakeHost) drive(v chip.Level) {
	in := h.pin("IN")
	old := h.levels[in]
	h.levels[in] = v
	if w, ok := h.watches[in]; ok && w.Edge.Matches(old, v) {
		w.OnChange(in, v)
	}
}

var _ chip.Host = (*fakeHost)(nil)
