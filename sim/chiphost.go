package sim

import (
	"touchchip-go/chip"
	"touchchip-go/errcode"
)

// ChipHost is the chip.Host view of one chip instance.
type ChipHost struct {
	h    *Host
	inst *instance
}

var _ chip.Host = (*ChipHost)(nil)

func (c *ChipHost) PinInit(name string, mode chip.PinMode) (chip.PinID, error) {
	if name == "" {
		return chip.NoPin, errcode.New(errcode.InvalidParams, "pin_init", "empty pin name")
	}
	c.h.mu.Lock()
	if _, dup := c.inst.byName[name]; dup {
		c.h.mu.Unlock()
		return chip.NoPin, errcode.New(errcode.PinInUse, "pin_init", c.inst.id+"."+name)
	}
	p := &pin{name: name, mode: mode}
	switch mode {
	case chip.OutputHigh, chip.InputPullUp:
		p.level = chip.High
	}
	id := chip.PinID(len(c.inst.pins))
	c.inst.pins = append(c.inst.pins, p)
	c.inst.byName[name] = id
	st := pinState(p)
	c.h.mu.Unlock()

	c.h.publishPin(c.inst.id, name, st)
	return id, nil
}

func (c *ChipHost) pin(id chip.PinID) (*pin, bool) {
	if int(id) >= len(c.inst.pins) {
		return nil, false
	}
	return c.inst.pins[id], true
}

func (c *ChipHost) PinMode(id chip.PinID, mode chip.PinMode) error {
	c.h.mu.Lock()
	p, ok := c.pin(id)
	if !ok {
		c.h.mu.Unlock()
		return errcode.New(errcode.UnknownPin, "pin_mode", c.inst.id)
	}
	p.mode = mode
	switch mode {
	case chip.OutputLow:
		p.level = chip.Low
	case chip.OutputHigh:
		p.level = chip.High
	}
	st := pinState(p)
	c.h.mu.Unlock()

	c.h.publishPin(c.inst.id, p.name, st)
	return nil
}

func (c *ChipHost) PinRead(id chip.PinID) chip.Level {
	c.h.mu.Lock()
	defer c.h.mu.Unlock()
	if p, ok := c.pin(id); ok {
		return p.level
	}
	return chip.Low
}

// PinWrite drives an output pin. Writes to inputs and unknown pins are ignored.
func (c *ChipHost) PinWrite(id chip.PinID, v chip.Level) {
	c.h.mu.Lock()
	p, ok := c.pin(id)
	if !ok || !p.mode.IsOutput() || p.level == v {
		c.h.mu.Unlock()
		return
	}
	p.level = v
	st := pinState(p)
	c.h.mu.Unlock()

	c.h.publishPin(c.inst.id, p.name, st)
}

func (c *ChipHost) PinWatch(id chip.PinID, cfg chip.WatchConfig) error {
	if cfg.OnChange == nil {
		return errcode.New(errcode.InvalidParams, "pin_watch", "nil callback")
	}
	c.h.mu.Lock()
	defer c.h.mu.Unlock()
	p, ok := c.pin(id)
	if !ok {
		return errcode.New(errcode.UnknownPin, "pin_watch", c.inst.id)
	}
	p.watch = &cfg
	return nil
}

func (c *ChipHost) PinWatchStop(id chip.PinID) {
	c.h.mu.Lock()
	defer c.h.mu.Unlock()
	if p, ok := c.pin(id); ok {
		p.watch = nil
	}
}

func (c *ChipHost) I2CInit(cfg chip.I2CConfig) (chip.I2CDevID, error) {
	if c.inst.busID == "" {
		return 0, errcode.New(errcode.UnknownBus, "i2c_init", c.inst.id+" has no bus")
	}
	if cfg.Address > 0x7F {
		return 0, errcode.New(errcode.InvalidParams, "i2c_init", "address out of range")
	}
	c.h.mu.Lock()
	defer c.h.mu.Unlock()
	b, ok := c.h.buses[c.inst.busID]
	if !ok {
		return 0, errcode.New(errcode.UnknownBus, "i2c_init", c.inst.busID)
	}
	return b.attach(c.inst.id, cfg)
}

func (c *ChipHost) DebugPrint(msg string) { c.h.debug(c.inst.id, msg) }
