// Command gt911-selftest exercises a GT911 chip on a simulated host and
// reports PASS/FAIL per check. Exit status is non-zero on any failure.
package main

import (
	"bytes"
	"io"
	"os"
	"time"

	"touchchip-go/bus"
	"touchchip-go/chip"
	"touchchip-go/chips/gt911"
	drv "touchchip-go/drivers/gt911"
	"touchchip-go/errcode"
	"touchchip-go/sim"
	"touchchip-go/x/conv"
	"touchchip-go/x/fmtx"
)

// --- helpers -----------------------------------------------------------------

type rig struct {
	b    *bus.Bus
	host *sim.Host
	h    chip.Handle
	log  bytes.Buffer
}

// newRig builds one gt911 named "touch1" on i2c0.
func newRig() (*rig, string) {
	r := &rig{b: bus.NewBus(16)}
	r.host = sim.New(r.b.NewConnection("sim"), &r.log)
	h, err := r.host.Build("touch1", gt911.ChipType, "i2c0", nil)
	if err != nil {
		return nil, err.Error()
	}
	r.h = h
	return r, ""
}

func (r *rig) close() { _ = r.host.Close() }

func (r *rig) read(n int, w ...byte) ([]byte, error) {
	buf := make([]byte, n)
	err := r.host.I2C("i2c0").Tx(gt911.Address, w, buf)
	return buf, err
}

func expectBytes(got, want []byte) (ok bool, why string) {
	if !bytes.Equal(got, want) {
		return false, "got " + conv.Hex(got) + " want " + conv.Hex(want)
	}
	return true, ""
}

func expectPin(sub *bus.Subscription, want int, timeout time.Duration) (ok bool, why string) {
	deadline := time.After(timeout)
	for {
		select {
		case m := <-sub.Channel():
			if st, ok := m.Payload.(sim.PinState); ok && st.Level == want {
				return true, ""
			}
		case <-deadline:
			return false, "timeout"
		}
	}
}

var initBytes = []byte{0x00, 0x00, 0x00}
var touchBytes = []byte{0x80, 0x01, 0x01, 0x90, 0x02, 0x80, 0x00, 0x00}

// --- individual checks (return bool pass/fail) --------------------------------

func TestInitThenTouch() bool {
	r, why := newRig()
	if r == nil {
		fmtx.Printf("TestInitThenTouch: %s\n", why)
		return false
	}
	defer r.close()

	got, err := r.read(3)
	if err != nil {
		fmtx.Printf("TestInitThenTouch: %v\n", err)
		return false
	}
	if ok, why := expectBytes(got, initBytes); !ok {
		fmtx.Printf("TestInitThenTouch: init: %s\n", why)
		return false
	}
	for i := 0; i < 3; i++ {
		got, err = r.read(8)
		if err != nil {
			fmtx.Printf("TestInitThenTouch: %v\n", err)
			return false
		}
		if ok, why := expectBytes(got, touchBytes); !ok {
			fmtx.Printf("TestInitThenTouch: report %d: %s\n", i, why)
			return false
		}
	}
	return true
}

func TestConnectResetsCursor() bool {
	r, why := newRig()
	if r == nil {
		fmtx.Printf("TestConnectResetsCursor: %s\n", why)
		return false
	}
	defer r.close()

	// Leave the cursor mid-buffer, then start a new transaction.
	if _, err := r.read(5); err != nil {
		fmtx.Printf("TestConnectResetsCursor: %v\n", err)
		return false
	}
	got, err := r.read(8, 0x81, 0x4E)
	if err != nil {
		fmtx.Printf("TestConnectResetsCursor: %v\n", err)
		return false
	}
	ok, why := expectBytes(got, touchBytes)
	if !ok {
		fmtx.Printf("TestConnectResetsCursor: %s\n", why)
	}
	return ok
}

func TestInverter() bool {
	r, why := newRig()
	if r == nil {
		fmtx.Printf("TestInverter: %s\n", why)
		return false
	}
	defer r.close()

	ui := r.b.NewConnection("ui")
	sub := ui.Subscribe(bus.T(sim.TopicPin, "touch1", "OUT"))
	defer ui.Unsubscribe(sub)

	if ok, why := expectPin(sub, 1, 100*time.Millisecond); !ok {
		fmtx.Printf("TestInverter: initial OUT: %s\n", why)
		return false
	}
	for _, step := range []struct {
		in  chip.Level
		out int
	}{{chip.High, 0}, {chip.Low, 1}, {chip.High, 0}} {
		if err := r.host.Drive("touch1", "IN", step.in); err != nil {
			fmtx.Printf("TestInverter: drive: %v\n", err)
			return false
		}
		if ok, why := expectPin(sub, step.out, 100*time.Millisecond); !ok {
			fmtx.Printf("TestInverter: IN=%v: %s\n", step.in, why)
			return false
		}
	}
	return true
}

func TestWrongAddressNacks() bool {
	r, why := newRig()
	if r == nil {
		fmtx.Printf("TestWrongAddressNacks: %s\n", why)
		return false
	}
	defer r.close()

	err := r.host.I2C("i2c0").Tx(0x14, nil, make([]byte, 1))
	if errcode.Of(err) != errcode.Nack {
		fmtx.Printf("TestWrongAddressNacks: got %v\n", err)
		return false
	}
	return true
}

func TestDriverReport() bool {
	r, why := newRig()
	if r == nil {
		fmtx.Printf("TestDriverReport: %s\n", why)
		return false
	}
	defer r.close()

	d := drv.New(r.host.I2C("i2c0"))
	if err := d.Configure(drv.Config{}); err != nil {
		fmtx.Printf("TestDriverReport: configure: %v\n", err)
		return false
	}
	rep, err := d.ReadReport()
	if err != nil {
		fmtx.Printf("TestDriverReport: %v\n", err)
		return false
	}
	if !rep.Touched() || rep.X != 400 || rep.Y != 640 {
		fmtx.Printf("TestDriverReport: got %+v\n", rep)
		return false
	}
	return true
}

func TestReleasedChipNacks() bool {
	r, why := newRig()
	if r == nil {
		fmtx.Printf("TestReleasedChipNacks: %s\n", why)
		return false
	}
	defer r.close()

	gt911.Release(r.h)
	if _, ok := gt911.Instance(r.h); ok {
		fmtx.Printf("TestReleasedChipNacks: handle still resolves\n")
		return false
	}
	if _, err := r.read(1); errcode.Of(err) != errcode.Nack {
		fmtx.Printf("TestReleasedChipNacks: got %v\n", err)
		return false
	}
	return true
}

// --- main: run all checks and report -------------------------------------------

type testFn struct {
	name string
	fn   func() bool
}

func run(out io.Writer) (passed, failed int) {
	tests := []testFn{
		{"TestInitThenTouch", TestInitThenTouch},
		{"TestConnectResetsCursor", TestConnectResetsCursor},
		{"TestInverter", TestInverter},
		{"TestWrongAddressNacks", TestWrongAddressNacks},
		{"TestDriverReport", TestDriverReport},
		{"TestReleasedChipNacks", TestReleasedChipNacks},
	}

	_, _ = fmtx.Fprintf(out, "== gt911 self-test starting ==\n")
	for _, tc := range tests {
		if tc.fn() {
			_, _ = fmtx.Fprintf(out, "[PASS] %s\n", tc.name)
			passed++
		} else {
			_, _ = fmtx.Fprintf(out, "[FAIL] %s\n", tc.name)
			failed++
		}
	}
	_, _ = fmtx.Fprintf(out, "== done: %d passed, %d failed ==\n", passed, failed)
	return passed, failed
}

func main() {
	if _, failed := run(os.Stdout); failed > 0 {
		os.Exit(1)
	}
}
