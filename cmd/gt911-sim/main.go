// Command gt911-sim runs GT911 touch chips on a simulated board, polls them
// through the controller-side driver and offers a small console to poke pins
// and the I2C bus.
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"touchchip-go/bus"
	"touchchip-go/chip"
	"touchchip-go/chips/gt911"
	drv "touchchip-go/drivers/gt911"
	"touchchip-go/services/bridge"
	"touchchip-go/services/chiphost"
	chcfg "touchchip-go/services/chiphost/config"
	"touchchip-go/services/config"
	"touchchip-go/services/heartbeat"
	"touchchip-go/services/touchpoll"
	"touchchip-go/sim"
	"touchchip-go/x/fmtx"
)

func main() {
	board := flag.String("board", "gt911-demo", "embedded board config")
	reads := flag.Int("reads", 0, "print N raw bytes from the first chip and exit")
	keys := flag.Bool("keys", false, "terminal mode: space toggles IN, q quits")
	quiet := flag.Bool("quiet", false, "suppress chip debug output")
	export := flag.String("export", "", "append CBOR event frames to this file")
	stats := flag.String("stats", "", "serve runtime charts on this address, e.g. localhost:12600")
	beat := flag.Duration("beat", 0, "publish a host heartbeat at this interval (0 disables)")
	flag.Parse()

	if *stats != "" {
		launchStats(*stats, os.Stderr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmtx.Info("[main] bootstrapping bus")
	b := bus.NewBus(32)
	hostConn := b.NewConnection("sim")
	uiConn := b.NewConnection("ui")

	var chipLog io.Writer = os.Stderr
	if *quiet {
		chipLog = io.Discard
	}
	host := sim.New(hostConn, chipLog)
	defer host.Close()

	if *export != "" {
		bc := b.NewConnection("bridge")
		go bridge.Start(ctx, bc)
		bc.Publish(bc.NewMessage(bus.T("config", "bridge"), bridge.Config{
			Transport: bridge.TransportConfig{Type: "file", File: &bridge.FileConfig{Path: *export}},
		}, true))
	}

	// Diagram first, so we know how many chips to wait for.
	diagSub := uiConn.Subscribe(bus.T("config", "diagram"))
	_ = chiphost.New(host).Start(ctx, b.NewConnection("chiphost"))
	config.NewConfigService().Start(config.WithBoard(ctx, *board), b.NewConnection("config"))

	var diagram chcfg.Diagram
	select {
	case m := <-diagSub.Channel():
		d, err := chcfg.FromPayload(m.Payload)
		if err != nil {
			fmtx.Warn("[main] diagram: %v", err)
			os.Exit(1)
		}
		diagram = d
	case <-time.After(2 * time.Second):
		fmtx.Warn("[main] no diagram for board %q (have %v)", *board, config.Boards())
		os.Exit(1)
	}
	uiConn.Unsubscribe(diagSub)

	ready := waitReady(uiConn, len(diagram.Chips), 2*time.Second)
	if len(ready) == 0 {
		fmtx.Warn("[main] no chips came up")
		os.Exit(1)
	}

	if *reads > 0 {
		c := ready[0]
		buf := make([]byte, *reads)
		if err := host.I2C(c.Bus).Tx(gt911.Address, nil, buf); err != nil {
			fmtx.Warn("[main] read: %v", err)
			os.Exit(1)
		}
		fmtx.Printf("%s: % X\n", c.ID, buf)
		return
	}

	for _, c := range ready {
		d := drv.New(host.I2C(c.Bus))
		if err := d.Configure(drv.Config{Address: gt911.Address}); err != nil {
			fmtx.Warn("[main] %s: configure: %v", c.ID, err)
			continue
		}
		_ = touchpoll.New(c.ID, &d).Start(ctx, b.NewConnection("touchpoll-"+c.ID))
	}

	if *beat > 0 {
		hb := &heartbeat.Service{Source: host, Interval: *beat}
		_ = hb.Start(ctx, b.NewConnection("heartbeat"))
	}

	mon := uiConn.Subscribe(bus.T(touchpoll.TopicTouch, "+", "value"))
	hbSub := uiConn.Subscribe(heartbeat.TopicHeartbeat)
	go func() {
		for {
			select {
			case m := <-mon.Channel():
				if v, ok := m.Payload.(touchpoll.Value); ok {
					fmtx.Info("[monitor] %v touched=%v x=%d y=%d", m.Topic[1], v.Touched, v.X, v.Y)
				}
			case m := <-hbSub.Channel():
				if hb, ok := m.Payload.(heartbeat.Beat); ok {
					fmtx.Info("[monitor] beat %d up %ds chips %v", hb.Seq, hb.Uptime, hb.Chips)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if *keys {
		if err := runKeys(ctx, host, ready[0].ID); err != nil {
			fmtx.Warn("[main] keys: %v", err)
		}
		return
	}
	con := &console{host: host, conn: uiConn, in: os.Stdin, out: os.Stdout}
	if err := con.run(ctx); err != nil {
		fmtx.Warn("[main] console: %v", err)
	}
}

// waitReady collects chip/<id>/status messages until n arrived or d elapsed,
// returning the chips that came up.
func waitReady(conn *bus.Connection, n int, d time.Duration) []chcfg.Chip {
	sub := conn.Subscribe(bus.T(sim.TopicChip, "+", "status"))
	defer conn.Unsubscribe(sub)

	var out []chcfg.Chip
	deadline := time.After(d)
	for seen := 0; seen < n; {
		select {
		case m := <-sub.Channel():
			seen++
			st, _ := m.Payload.(chiphost.ChipStatus)
			id, _ := m.Topic[1].(string)
			if st.State != chiphost.StatusReady {
				fmtx.Warn("[main] %s: %s", id, st.Code)
				continue
			}
			out = append(out, chcfg.Chip{ID: id, Type: st.Type, Bus: st.Bus})
		case <-deadline:
			return out
		}
	}
	return out
}

// levelArg parses "low"/"high" or anything strconv.ParseBool accepts.
func levelArg(s string) (chip.Level, bool) {
	switch strings.ToLower(s) {
	case "low":
		return chip.Low, true
	case "high":
		return chip.High, true
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return chip.Low, false
	}
	return chip.LevelOf(b), true
}
