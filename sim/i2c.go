package sim

import (
	"strconv"

	"touchchip-go/chip"
	"touchchip-go/errcode"
	"touchchip-go/x/conv"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"tinygo.org/x/drivers"
)

const defaultSpeed = 400 * physic.KiloHertz

type target struct {
	chipID string
	id     chip.I2CDevID
	cfg    chip.I2CConfig
}

// Bus is a simulated I2C controller. It satisfies both the TinyGo driver
// interface and periph's i2c.Bus, so either driver family can sit on top.
// targets and speed are guarded by host.mu.
type Bus struct {
	host    *Host
	id      string
	speed   physic.Frequency
	targets map[uint8]*target
	nextID  chip.I2CDevID
}

var (
	_ drivers.I2C = (*Bus)(nil)
	_ i2c.Bus     = (*Bus)(nil)
)

func (b *Bus) String() string { return b.id }

// SetSpeed records the requested clock. Transfers are instantaneous.
func (b *Bus) SetSpeed(f physic.Frequency) error {
	if f <= 0 {
		return errcode.New(errcode.InvalidParams, "i2c_speed", f.String())
	}
	b.host.mu.Lock()
	b.speed = f
	b.host.mu.Unlock()
	return nil
}

// Speed returns the last clock set.
func (b *Bus) Speed() physic.Frequency {
	b.host.mu.Lock()
	defer b.host.mu.Unlock()
	return b.speed
}

// attach registers a target. Caller holds host.mu.
func (b *Bus) attach(chipID string, cfg chip.I2CConfig) (chip.I2CDevID, error) {
	if _, taken := b.targets[cfg.Address]; taken {
		return 0, errcode.New(errcode.AddressInUse, "i2c_init", addrMsg(cfg.Address))
	}
	b.nextID++
	b.targets[cfg.Address] = &target{chipID: chipID, id: b.nextID, cfg: cfg}
	return b.nextID, nil
}

// dropChip removes a chip's targets. Caller holds host.mu.
func (b *Bus) dropChip(chipID string) {
	for a, t := range b.targets {
		if t.chipID == chipID {
			delete(b.targets, a)
		}
	}
}

// Tx runs one transaction: START, address+W, w bytes, repeated START,
// address+R, len(r) bytes, STOP. An empty transaction probes the address.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	h := b.host
	h.loop.Lock()
	defer h.loop.Unlock()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return errcode.Closed
	}
	t := b.targets[uint8(addr)]
	h.mu.Unlock()

	if addr > 0x7F || t == nil {
		return &errcode.E{C: errcode.Nack, Op: "i2c_tx", Msg: b.id + " " + addrMsg(uint8(addr))}
	}
	cfg := t.cfg
	a := uint8(addr)

	if len(w) > 0 || len(r) == 0 {
		if !connect(cfg, a, false) {
			return &errcode.E{C: errcode.Nack, Op: "i2c_tx", Msg: "address " + addrMsg(a)}
		}
		for i, c := range w {
			if cfg.Write != nil && !cfg.Write(c) {
				disconnect(cfg, a)
				return &errcode.E{C: errcode.Nack, Op: "i2c_tx", Msg: "data byte " + strconv.Itoa(i)}
			}
		}
	}
	if len(r) > 0 {
		if !connect(cfg, a, true) {
			disconnect(cfg, a)
			return &errcode.E{C: errcode.Nack, Op: "i2c_tx", Msg: "address " + addrMsg(a)}
		}
		for i := range r {
			if cfg.Read != nil {
				r[i] = cfg.Read()
			} else {
				r[i] = 0xFF
			}
		}
	}
	disconnect(cfg, a)
	return nil
}

func connect(cfg chip.I2CConfig, a uint8, read bool) bool {
	if cfg.Connect == nil {
		return true
	}
	return cfg.Connect(a, read)
}

func disconnect(cfg chip.I2CConfig, a uint8) {
	if cfg.Disconnect != nil {
		cfg.Disconnect(a)
	}
}

func addrMsg(a uint8) string { return string(conv.U8Hex([]byte("0x"), a)) }
