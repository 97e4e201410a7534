package sim

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"touchchip-go/bus"
	"touchchip-go/chip"
	"touchchip-go/chips/gt911"
	"touchchip-go/errcode"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

var report = []byte{0x80, 0x01, 0x01, 0x90, 0x02, 0x80, 0x00, 0x00}

// nackChip refuses 0xEE and counts transfers.
type nackChip struct {
	connects, disconnects int
	lastAddr              uint8
}

func init() {
	chip.Register("test_nack", chip.BuilderFunc(func(in chip.BuildInput) (chip.Handle, error) {
		nc := in.Attrs["state"].(*nackChip)
		_, err := in.Host.I2CInit(chip.I2CConfig{
			Address:    0x10,
			Connect:    func(uint8, bool) bool { nc.connects++; return true },
			Write:      func(b byte) bool { return b != 0xEE },
			Disconnect: func(a uint8) { nc.disconnects++; nc.lastAddr = a },
		})
		return chip.Handle{}, err
	}))
}

func newTestHost(t *testing.T) (*Host, *bytes.Buffer) {
	t.Helper()
	var log bytes.Buffer
	h := New(nil, &log)
	t.Cleanup(func() { _ = h.Close() })
	return h, &log
}

func TestTx_GT911ReadSequence(t *testing.T) {
	h, _ := newTestHost(t)
	if _, err := h.Build("touch1", gt911.ChipType, "i2c0", nil); err != nil {
		t.Fatalf("Build: %v", err)
	}
	b := h.I2C("i2c0")

	first := make([]byte, 8)
	if err := b.Tx(gt911.Address, []byte{0x81, 0x4E}, first); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	want := append([]byte{0, 0, 0}, report[:5]...)
	if !bytes.Equal(first, want) {
		t.Fatalf("first read = % X, want % X", first, want)
	}

	for i := 0; i < 3; i++ {
		got := make([]byte, 8)
		if err := b.Tx(gt911.Address, nil, got); err != nil {
			t.Fatalf("Tx: %v", err)
		}
		if !bytes.Equal(got, report) {
			t.Fatalf("report %d = % X, want % X", i, got, report)
		}
	}
}

func TestTx_PeriphDev(t *testing.T) {
	h, _ := newTestHost(t)
	if _, err := h.Build("touch1", gt911.ChipType, "i2c0", nil); err != nil {
		t.Fatal(err)
	}
	var pb i2c.Bus = h.I2C("i2c0")
	d := i2c.Dev{Bus: pb, Addr: gt911.Address}

	hdr := make([]byte, 3)
	if err := d.Tx(nil, hdr); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 8)
	if err := d.Tx(nil, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, report) {
		t.Fatalf("report = % X", got)
	}
	if err := pb.SetSpeed(100 * physic.KiloHertz); err != nil {
		t.Fatal(err)
	}
	if h.I2C("i2c0").Speed() != 100*physic.KiloHertz {
		t.Fatal("speed not recorded")
	}
	if pb.String() != "i2c0" {
		t.Fatalf("String() = %q", pb.String())
	}
}

func TestTx_Nacks(t *testing.T) {
	h, _ := newTestHost(t)
	b := h.I2C("i2c0")
	if err := b.Tx(0x42, nil, make([]byte, 1)); !errors.Is(err, errcode.Nack) {
		t.Fatalf("empty bus: err=%v", err)
	}

	nc := &nackChip{}
	if _, err := h.Build("n1", "test_nack", "i2c0", map[string]any{"state": nc}); err != nil {
		t.Fatal(err)
	}
	if err := b.Tx(0x10, []byte{0x01, 0xEE, 0x02}, nil); errcode.Of(err) != errcode.Nack {
		t.Fatalf("data nack: err=%v", err)
	}
	if nc.connects != 1 || nc.disconnects != 1 || nc.lastAddr != 0x10 {
		t.Fatalf("connects=%d disconnects=%d addr=0x%02X", nc.connects, nc.disconnects, nc.lastAddr)
	}
	// An address-only transaction still connects and stops.
	if err := b.Tx(0x10, nil, nil); err != nil {
		t.Fatalf("address-only: %v", err)
	}
	if err := b.Tx(0x90, nil, nil); errcode.Of(err) != errcode.Nack {
		t.Fatalf("10-bit address: err=%v", err)
	}
}

func TestBuild_Errors(t *testing.T) {
	h, _ := newTestHost(t)
	if _, err := h.Build("x", "no_such_chip", "i2c0", nil); errcode.Of(err) != errcode.UnknownChip {
		t.Fatalf("unknown type: %v", err)
	}
	if _, err := h.Build("", gt911.ChipType, "i2c0", nil); errcode.Of(err) != errcode.InvalidParams {
		t.Fatalf("empty id: %v", err)
	}
	if _, err := h.Build("a", gt911.ChipType, "i2c0", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Build("a", gt911.ChipType, "i2c1", nil); errcode.Of(err) != errcode.InvalidParams {
		t.Fatalf("duplicate id: %v", err)
	}
	if _, err := h.Build("b", gt911.ChipType, "i2c0", nil); errcode.Of(err) != errcode.AddressInUse {
		t.Fatalf("address clash: %v", err)
	}
	if _, err := h.Build("c", gt911.ChipType, "", nil); errcode.Of(err) != errcode.UnknownBus {
		t.Fatalf("no bus: %v", err)
	}
	if got := h.Chips(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("failed builds left chips behind: %v", got)
	}
	if _, err := h.Build("d", gt911.ChipType, "i2c1", nil); err != nil {
		t.Fatalf("second bus: %v", err)
	}
}

func TestDrive_InverterFollowsInput(t *testing.T) {
	h, _ := newTestHost(t)
	if _, err := h.Build("touch1", gt911.ChipType, "i2c0", nil); err != nil {
		t.Fatal(err)
	}
	if v, _ := h.Level("touch1", "OUT"); v != chip.High {
		t.Fatalf("OUT at rest = %v, want high", v)
	}
	for _, in := range []chip.Level{chip.High, chip.Low, chip.High} {
		if err := h.Drive("touch1", "IN", in); err != nil {
			t.Fatal(err)
		}
		if v, _ := h.Level("touch1", "OUT"); v != chip.Invert(in) {
			t.Fatalf("IN=%v OUT=%v", in, v)
		}
	}
	if v, err := h.Toggle("touch1", "IN"); err != nil || v != chip.Low {
		t.Fatalf("Toggle = %v, %v", v, err)
	}
	if v, _ := h.Level("touch1", "OUT"); v != chip.High {
		t.Fatal("OUT did not follow toggle")
	}

	if err := h.Drive("touch1", "OUT", chip.Low); errcode.Of(err) != errcode.InvalidParams {
		t.Fatalf("driving an output: %v", err)
	}
	if err := h.Drive("touch1", "NOPE", chip.Low); errcode.Of(err) != errcode.UnknownPin {
		t.Fatalf("unknown pin: %v", err)
	}
	if _, err := h.Level("ghost", "IN"); errcode.Of(err) != errcode.UnknownChip {
		t.Fatalf("unknown chip: %v", err)
	}
}

func TestDebugAndPinEventsPublished(t *testing.T) {
	b := bus.NewBus(64)
	conn := b.NewConnection("test")
	logSub := conn.Subscribe(bus.T(TopicLog, "touch1"))

	var out bytes.Buffer
	h := New(conn, &out)
	_, err := h.Build("touch1", gt911.ChipType, "i2c0", nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = h.Close() })

	select {
	case m := <-logSub.Channel():
		if m.Payload != "Initializing GT911" {
			t.Fatalf("first log payload = %v", m.Payload)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("no log message")
	}
	if !strings.HasPrefix(out.String(), "[touch1] Initializing GT911\n") {
		t.Fatalf("log writer got %q", out.String())
	}

	if err := h.Drive("touch1", "IN", chip.High); err != nil {
		t.Fatal(err)
	}
	pinSub := conn.Subscribe(bus.T(TopicPin, "touch1", "OUT"))
	select {
	case m := <-pinSub.Channel():
		st, ok := m.Payload.(PinState)
		if !ok || st.Level != 0 || st.Mode != "output" {
			t.Fatalf("retained OUT state = %#v", m.Payload)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("no retained pin state")
	}
}

func TestClose_RejectsEvents(t *testing.T) {
	h, _ := newTestHost(t)
	hd, err := h.Build("touch1", gt911.ChipType, "i2c0", nil)
	if err != nil {
		t.Fatal(err)
	}
	b := h.I2C("i2c0")
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	if _, ok := gt911.Instance(hd); ok {
		t.Fatal("instance still live after Close")
	}
	if gt911.Release(hd) {
		t.Fatal("Close left the handle releasable")
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if err := b.Tx(gt911.Address, nil, make([]byte, 1)); err != errcode.Closed {
		t.Fatalf("Tx after close: %v", err)
	}
	if err := h.Drive("touch1", "IN", chip.High); err != errcode.Closed {
		t.Fatalf("Drive after close: %v", err)
	}
	if _, err := h.Build("t2", gt911.ChipType, "i2c0", nil); err != errcode.Closed {
		t.Fatalf("Build after close: %v", err)
	}
}

// halfChip takes a slot, then fails; the host must hand the slot back.
type halfChip struct{ released []chip.Handle }

func (hc *halfChip) Build(chip.BuildInput) (chip.Handle, error) {
	return chip.Handle{Index: 3, Gen: 1}, errcode.New(errcode.PinInUse, "half", "SDA")
}

func (hc *halfChip) Release(h chip.Handle) bool {
	hc.released = append(hc.released, h)
	return true
}

var half = &halfChip{}

func init() { chip.Register("test_half", half) }

func TestBuild_FailureReleases(t *testing.T) {
	h, _ := newTestHost(t)
	half.released = nil
	if _, err := h.Build("h1", "test_half", "", nil); errcode.Of(err) != errcode.PinInUse {
		t.Fatalf("Build: %v", err)
	}
	if len(half.released) != 1 || half.released[0] != (chip.Handle{Index: 3, Gen: 1}) {
		t.Fatalf("released = %v", half.released)
	}
	if len(h.Chips()) != 0 {
		t.Fatalf("failed chip kept: %v", h.Chips())
	}
}

func TestClose_StopsWatchAndFloatsOut(t *testing.T) {
	b := bus.NewBus(32)
	conn := b.NewConnection("test")
	h := New(conn, &bytes.Buffer{})
	if _, err := h.Build("touch1", gt911.ChipType, "i2c0", nil); err != nil {
		t.Fatal(err)
	}
	outSub := conn.Subscribe(bus.T(TopicPin, "touch1", "OUT"))
	defer conn.Unsubscribe(outSub)
	<-outSub.Channel() // retained output state

	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case m := <-outSub.Channel():
		if st, ok := m.Payload.(PinState); !ok || st.Mode != "input" {
			t.Fatalf("OUT after Close = %#v", m.Payload)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("OUT not released")
	}
}

func TestLookupI2C(t *testing.T) {
	h, _ := newTestHost(t)
	if _, err := h.LookupI2C("i2c0"); errcode.Of(err) != errcode.UnknownBus {
		t.Fatalf("before build: %v", err)
	}
	if _, err := h.Build("touch1", gt911.ChipType, "i2c0", nil); err != nil {
		t.Fatal(err)
	}
	b, err := h.LookupI2C("i2c0")
	if err != nil || b != h.I2C("i2c0") {
		t.Fatalf("LookupI2C = %v, %v", b, err)
	}
}
