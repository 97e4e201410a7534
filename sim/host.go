// Package sim is an in-process circuit host for chips written against
// package chip. It owns pins, I2C buses and the debug sink, and forwards
// events into chips one at a time.
//
// Locking: loop serialises every event that enters chip code (bus
// transactions, external pin drives, chip construction). Methods a chip calls
// back into only take mu, and mu is never held while chip code runs.
package sim

import (
	"io"
	"sort"
	"sync"

	"touchchip-go/bus"
	"touchchip-go/chip"
	"touchchip-go/errcode"
	"touchchip-go/x/fmtx"
)

// Topic prefixes published by the host.
const (
	TopicPin  = "pin" // pin/<chip>/<name>, retained, payload PinState
	TopicLog  = "log" // log/<chip>, payload string
	TopicChip = "chip"
)

// PinState is the payload published for pin changes.
type PinState struct {
	Level int    `json:"level"`
	Mode  string `json:"mode"`
}

type pin struct {
	name  string
	mode  chip.PinMode
	level chip.Level
	watch *chip.WatchConfig
}

type instance struct {
	id     string
	typ    string
	busID  string
	pins   []*pin
	byName map[string]chip.PinID
	handle chip.Handle
	rel    chip.Releaser // nil when the builder keeps no outside state
}

// release hands the handle back to the chip package. Must run without mu.
func (inst *instance) release() {
	if inst.rel != nil && inst.handle.Valid() {
		inst.rel.Release(inst.handle)
	}
}

type Host struct {
	loop sync.Mutex

	mu     sync.Mutex
	conn   *bus.Connection
	log    io.Writer
	chips  map[string]*instance
	buses  map[string]*Bus
	closed bool
}

// New creates a host. conn may be nil; log defaults to fmtx.DefaultOutput.
func New(conn *bus.Connection, log io.Writer) *Host {
	if log == nil {
		log = fmtx.DefaultOutput
	}
	return &Host{
		conn:  conn,
		log:   log,
		chips: map[string]*instance{},
		buses: map[string]*Bus{},
	}
}

// I2C returns the named bus, creating it on first use.
func (h *Host) I2C(id string) *Bus {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.buses[id]
	if !ok {
		b = &Bus{host: h, id: id, speed: defaultSpeed, targets: map[uint8]*target{}}
		h.buses[id] = b
	}
	return b
}

// LookupI2C returns a bus that already exists, by a chip's diagram entry or
// an earlier I2C call.
func (h *Host) LookupI2C(id string) (*Bus, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.buses[id]
	if !ok {
		return nil, errcode.New(errcode.UnknownBus, "i2c", id)
	}
	return b, nil
}

// Build creates chip id of type typ attached to I2C bus busID ("" for none)
// using the chip registry.
func (h *Host) Build(id, typ, busID string, attrs map[string]any) (chip.Handle, error) {
	if id == "" {
		return chip.Handle{}, errcode.New(errcode.InvalidParams, "build", "empty chip id")
	}
	b, ok := chip.Lookup(typ)
	if !ok {
		return chip.Handle{}, errcode.New(errcode.UnknownChip, "build", typ)
	}

	h.loop.Lock()
	defer h.loop.Unlock()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return chip.Handle{}, errcode.Closed
	}
	if _, dup := h.chips[id]; dup {
		h.mu.Unlock()
		return chip.Handle{}, errcode.New(errcode.InvalidParams, "build", "duplicate chip id "+id)
	}
	inst := &instance{id: id, typ: typ, busID: busID, byName: map[string]chip.PinID{}}
	inst.rel, _ = b.(chip.Releaser)
	h.chips[id] = inst
	h.mu.Unlock()

	if busID != "" {
		h.I2C(busID)
	}
	hd, err := b.Build(chip.BuildInput{ID: id, Host: &ChipHost{h: h, inst: inst}, Attrs: attrs})
	if err != nil {
		inst.handle = hd
		inst.release()
		h.mu.Lock()
		delete(h.chips, id)
		for _, bb := range h.buses {
			bb.dropChip(id)
		}
		h.mu.Unlock()
		return chip.Handle{}, err
	}
	h.mu.Lock()
	inst.handle = hd
	h.mu.Unlock()
	return hd, nil
}

// Chips lists chip ids, sorted.
func (h *Host) Chips() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.chips))
	for id := range h.chips {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Handle returns the handle the chip's builder returned.
func (h *Host) Handle(chipID string) (chip.Handle, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	inst, ok := h.chips[chipID]
	if !ok {
		return chip.Handle{}, false
	}
	return inst.handle, true
}

func (h *Host) findPin(chipID, name string) (*instance, *pin, error) {
	inst, ok := h.chips[chipID]
	if !ok {
		return nil, nil, errcode.New(errcode.UnknownChip, "pin", chipID)
	}
	id, ok := inst.byName[name]
	if !ok {
		return nil, nil, errcode.New(errcode.UnknownPin, "pin", chipID+"."+name)
	}
	return inst, inst.pins[id], nil
}

// Drive sets an input pin from outside the chip, as a wire or button would,
// and runs the chip's watch callback when the edge matches.
func (h *Host) Drive(chipID, name string, v chip.Level) error {
	h.loop.Lock()
	defer h.loop.Unlock()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return errcode.Closed
	}
	inst, p, err := h.findPin(chipID, name)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	if p.mode.IsOutput() {
		h.mu.Unlock()
		return errcode.New(errcode.InvalidParams, "drive", chipID+"."+name+" is a chip output")
	}
	old := p.level
	p.level = v
	var cb func(chip.PinID, chip.Level)
	if p.watch != nil && p.watch.OnChange != nil && p.watch.Edge.Matches(old, v) {
		cb = p.watch.OnChange
	}
	id := inst.byName[name]
	st := pinState(p)
	h.mu.Unlock()

	h.publishPin(chipID, name, st)
	if cb != nil {
		cb(id, v)
	}
	return nil
}

// Toggle inverts an input pin via Drive.
func (h *Host) Toggle(chipID, name string) (chip.Level, error) {
	cur, err := h.Level(chipID, name)
	if err != nil {
		return cur, err
	}
	next := chip.Invert(cur)
	return next, h.Drive(chipID, name, next)
}

// Level reads a pin's current level.
func (h *Host) Level(chipID, name string) (chip.Level, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, p, err := h.findPin(chipID, name)
	if err != nil {
		return chip.Low, err
	}
	return p.level, nil
}

// Inspect runs fn between external events, when no chip callback is running.
func (h *Host) Inspect(fn func()) {
	h.loop.Lock()
	defer h.loop.Unlock()
	fn()
}

// Close detaches every chip and bus and releases each chip's instance.
// Later events fail with errcode.Closed.
func (h *Host) Close() error {
	h.loop.Lock()
	defer h.loop.Unlock()
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	dropped := make([]*instance, 0, len(h.chips))
	for _, inst := range h.chips {
		dropped = append(dropped, inst)
	}
	h.chips = map[string]*instance{}
	for _, b := range h.buses {
		b.targets = map[uint8]*target{}
	}
	h.mu.Unlock()

	for _, inst := range dropped {
		inst.release()
	}
	return nil
}

func (h *Host) publishPin(chipID, name string, st PinState) {
	if h.conn == nil {
		return
	}
	h.conn.Publish(h.conn.NewMessage(bus.T(TopicPin, chipID, name), st, true))
}

func (h *Host) debug(chipID, msg string) {
	h.mu.Lock()
	w := h.log
	h.mu.Unlock()
	_, _ = fmtx.Fprintf(w, "[%s] %s\n", chipID, msg)
	if h.conn != nil {
		h.conn.Publish(h.conn.NewMessage(bus.T(TopicLog, chipID), msg, false))
	}
}

func pinState(p *pin) PinState {
	return PinState{Level: int(p.level), Mode: modeName(p.mode)}
}

func modeName(m chip.PinMode) string {
	switch m {
	case chip.Input:
		return "input"
	case chip.InputPullUp:
		return "input_pullup"
	case chip.InputPullDown:
		return "input_pulldown"
	case chip.Analog:
		return "analog"
	default:
		return "output"
	}
}
