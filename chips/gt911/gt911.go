package gt911

import (
	_ "embed"

	"touchchip-go/chip"
	"touchchip-go/errcode"
)

// ChipType is the diagram type name.
const ChipType = "gt911"

// instances owns every chip created through Init. Host callbacks carry a
// handle, never a pointer.
var instances chip.Table[*Chip]

// Definition is the chip.json for this part.
//
//go:embed chip.json
var Definition []byte

type builder struct{}

func (builder) Build(in chip.BuildInput) (chip.Handle, error) { return Init(in.Host) }
func (builder) Release(h chip.Handle) bool                    { return Release(h) }
func (builder) Definition() []byte                            { return Definition }

func init() {
	chip.Register(ChipType, builder{})
}

// Instance resolves a handle returned by Init.
func Instance(h chip.Handle) (*Chip, bool) { return instances.Get(h) }

// Release stops the IN watch, floats OUT and forgets the instance. Callbacks
// still registered with the host become no-ops.
func Release(h chip.Handle) bool {
	c, ok := instances.Get(h)
	if !ok {
		return false
	}
	if c.host != nil {
		c.host.PinWatchStop(c.pinIn)
		_ = c.host.PinMode(c.pinOut, chip.Input)
	}
	return instances.Remove(h)
}

// Init allocates the chip's pins, registers it as an I2C target at Address
// and arms the IN watch.
func Init(host chip.Host) (chip.Handle, error) {
	host.DebugPrint("Initializing GT911")

	in, err := host.PinInit("IN", chip.Input)
	if err != nil {
		return chip.Handle{}, &errcode.E{C: errcode.Of(err), Op: "gt911_init", Msg: "pin IN", Err: err}
	}
	out, err := host.PinInit("OUT", chip.Output)
	if err != nil {
		return chip.Handle{}, &errcode.E{C: errcode.Of(err), Op: "gt911_init", Msg: "pin OUT", Err: err}
	}
	sda, err := host.PinInit("SDA", chip.Input)
	if err != nil {
		return chip.Handle{}, &errcode.E{C: errcode.Of(err), Op: "gt911_init", Msg: "pin SDA", Err: err}
	}
	scl, err := host.PinInit("SCL", chip.Input)
	if err != nil {
		return chip.Handle{}, &errcode.E{C: errcode.Of(err), Op: "gt911_init", Msg: "pin SCL", Err: err}
	}

	h := instances.Insert(New(host, in, out))

	_, err = host.I2CInit(chip.I2CConfig{
		Address: Address,
		SDA:     sda,
		SCL:     scl,
		Connect: func(addr uint8, read bool) bool {
			c, ok := instances.Get(h)
			return ok && c.Connect(addr, read)
		},
		Read: func() byte {
			if c, ok := instances.Get(h); ok {
				return c.Read()
			}
			return 0xFF
		},
		Write: func(b byte) bool {
			c, ok := instances.Get(h)
			return ok && c.Write(b)
		},
		Disconnect: func(addr uint8) {
			if c, ok := instances.Get(h); ok {
				c.Disconnect(addr)
			}
		},
	})
	if err != nil {
		instances.Remove(h)
		return chip.Handle{}, &errcode.E{C: errcode.Of(err), Op: "gt911_init", Msg: "i2c", Err: err}
	}

	onChange := func(pin chip.PinID, v chip.Level) {
		if c, ok := instances.Get(h); ok {
			c.OnPinChange(pin, v)
		}
	}
	if err := host.PinWatch(in, chip.WatchConfig{Edge: chip.Both, OnChange: onChange}); err != nil {
		instances.Remove(h)
		return chip.Handle{}, &errcode.E{C: errcode.Of(err), Op: "gt911_init", Msg: "watch IN", Err: err}
	}
	onChange(in, host.PinRead(in))
	return h, nil
}
