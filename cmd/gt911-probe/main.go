// Command gt911-probe reads touch reports from a GT911 over a host I2C bus
// (periph.io) or, with -sim, from the simulated chip.
package main

import (
	"errors"
	"flag"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"touchchip-go/chips/gt911"
	drv "touchchip-go/drivers/gt911"
	"touchchip-go/sim"
	"touchchip-go/x/conv"
	"touchchip-go/x/fmtx"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
	"tinygo.org/x/drivers"
)

func main() {
	busName := flag.String("bus", "", "I2C bus name or number (empty: first available)")
	useSim := flag.Bool("sim", false, "probe a simulated chip instead of hardware")
	n := flag.Int("n", 5, "number of reports to read")
	interval := flag.Duration("interval", 100*time.Millisecond, "delay between reports")
	width := flag.Int("width", 0, "scale X to this width (0: panel units)")
	height := flag.Int("height", 0, "scale Y to this height (0: panel units)")
	panelW := flag.Int("panel-width", 0, "controller X resolution (0: driver default)")
	panelH := flag.Int("panel-height", 0, "controller Y resolution (0: driver default)")
	flag.Parse()

	cfg, err := configFromFlags(*width, *height, *panelW, *panelH)
	if err != nil {
		fmtx.Warn("[probe] %v", err)
		os.Exit(2)
	}

	var bus drivers.I2C
	if *useSim {
		h := sim.New(nil, io.Discard)
		defer h.Close()
		if _, err := h.Build("touch1", gt911.ChipType, "i2c0", nil); err != nil {
			fmtx.Warn("[probe] %v", err)
			os.Exit(1)
		}
		bus = h.I2C("i2c0")
	} else {
		if _, err := host.Init(); err != nil {
			fmtx.Warn("[probe] host init: %v", err)
			os.Exit(1)
		}
		b, err := i2creg.Open(*busName)
		if err != nil {
			fmtx.Warn("[probe] open %q: %v", *busName, err)
			os.Exit(1)
		}
		defer b.Close()
		bus = b
	}

	if err := probe(bus, cfg, *n, *interval, os.Stdout); err != nil {
		fmtx.Warn("[probe] %v", err)
		os.Exit(1)
	}
}

// configFromFlags checks the size flags fit the driver's 16-bit fields.
func configFromFlags(width, height, panelW, panelH int) (drv.Config, error) {
	var cfg drv.Config
	for _, f := range []struct {
		name string
		v    int
		dst  *uint16
	}{
		{"width", width, &cfg.Width},
		{"height", height, &cfg.Height},
		{"panel-width", panelW, &cfg.PanelWidth},
		{"panel-height", panelH, &cfg.PanelHeight},
	} {
		if f.v < 0 || f.v > math.MaxUint16 {
			return drv.Config{}, errors.New("-" + f.name + " out of range: " + strconv.Itoa(f.v))
		}
		*f.dst = uint16(f.v)
	}
	return cfg, nil
}

// probe configures a device on bus and prints n reports.
func probe(bus drivers.I2C, cfg drv.Config, n int, interval time.Duration, out io.Writer) error {
	d := drv.New(bus)
	if err := d.Configure(cfg); err != nil {
		return err
	}
	info := d.Info()
	_, _ = fmtx.Fprintf(out, "info: %s\n", conv.Hex(info[:]))
	for i := 0; i < n; i++ {
		if i > 0 && interval > 0 {
			time.Sleep(interval)
		}
		rep, err := d.ReadReport()
		if errors.Is(err, drv.ErrNotReady) || (err == nil && !rep.Touched()) {
			_, _ = fmtx.Fprintf(out, "%d: no touch (status 0x%02X)\n", i, rep.Status)
			continue
		}
		if err != nil {
			return err
		}
		x, y := d.Scale(rep)
		_, _ = fmtx.Fprintf(out, "%d: points=%d x=%d y=%d\n", i, rep.Points, x, y)
	}
	return nil
}
