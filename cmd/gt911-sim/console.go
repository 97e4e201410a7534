package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"touchchip-go/bus"
	"touchchip-go/chips/gt911"
	"touchchip-go/errcode"
	"touchchip-go/services/touchpoll"
	"touchchip-go/sim"
	"touchchip-go/x/conv"
	"touchchip-go/x/fmtx"

	"github.com/bradleyjkemp/memviz"
	"github.com/google/shlex"
	"periph.io/x/conn/v3/i2c"
)

const consoleHelp = `commands:
  chips                          list chips
  pin <chip> <name> [0|1]        read or drive a pin
  toggle <chip> [name]           invert an input (default IN)
  read <bus> <n>                 read n bytes from the GT911 address
  tx <bus> <addr> [bytes] [: n]  raw transaction, e.g. tx i2c0 0x5d 0x81 0x4e : 8
  touch <chip>                   fresh sample from the poller
  dump <chip> <file>             write the chip's state as a Graphviz graph
  quit
`

var errQuit = errors.New("quit")

type console struct {
	host *sim.Host
	conn *bus.Connection
	in   io.Reader
	out  io.Writer
}

func (c *console) run(ctx context.Context) error {
	sc := bufio.NewScanner(c.in)
	_, _ = fmtx.Fprintf(c.out, "> ")
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		err := c.exec(ctx, sc.Text())
		if err == errQuit {
			return nil
		}
		if err != nil {
			_, _ = fmtx.Fprintf(c.out, "error: %v\n", err)
		}
		_, _ = fmtx.Fprintf(c.out, "> ")
	}
	return sc.Err()
}

func (c *console) exec(ctx context.Context, line string) error {
	args, err := shlex.Split(line)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}
	switch args[0] {
	case "help", "?":
		_, _ = io.WriteString(c.out, consoleHelp)
	case "quit", "exit":
		return errQuit
	case "chips":
		for _, id := range c.host.Chips() {
			_, _ = fmtx.Fprintf(c.out, "%s\n", id)
		}
	case "pin":
		return c.pin(args[1:])
	case "toggle":
		if len(args) < 2 {
			return errors.New("usage: toggle <chip> [name]")
		}
		name := "IN"
		if len(args) > 2 {
			name = args[2]
		}
		v, err := c.host.Toggle(args[1], name)
		if err != nil {
			return err
		}
		_, _ = fmtx.Fprintf(c.out, "%s.%s = %v\n", args[1], name, v)
	case "read":
		if len(args) != 3 {
			return errors.New("usage: read <bus> <n>")
		}
		n, err := strconv.Atoi(args[2])
		if err != nil || n <= 0 || n > 256 {
			return errors.New("bad length " + args[2])
		}
		b, err := c.host.LookupI2C(args[1])
		if err != nil {
			return err
		}
		d := i2c.Dev{Bus: b, Addr: gt911.Address}
		r := make([]byte, n)
		if err := d.Tx(nil, r); err != nil {
			return err
		}
		_, _ = fmtx.Fprintf(c.out, "%s\n", conv.Hex(r))
	case "tx":
		return c.tx(args[1:])
	case "touch":
		if len(args) != 2 {
			return errors.New("usage: touch <chip>")
		}
		rctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		v, err := touchpoll.Read(rctx, c.conn, args[1])
		if err != nil {
			return err
		}
		_, _ = fmtx.Fprintf(c.out, "touched=%v x=%d y=%d\n", v.Touched, v.X, v.Y)
	case "dump":
		if len(args) != 3 {
			return errors.New("usage: dump <chip> <file>")
		}
		return c.dump(args[1], args[2])
	default:
		return errors.New("unknown command " + strconv.Quote(args[0]) + " (try help)")
	}
	return nil
}

func (c *console) pin(args []string) error {
	switch len(args) {
	case 2:
		v, err := c.host.Level(args[0], args[1])
		if err != nil {
			return err
		}
		_, _ = fmtx.Fprintf(c.out, "%s.%s = %v\n", args[0], args[1], v)
		return nil
	case 3:
		lv, ok := levelArg(args[2])
		if !ok {
			return errors.New("bad level " + args[2])
		}
		return c.host.Drive(args[0], args[1], lv)
	}
	return errors.New("usage: pin <chip> <name> [0|1]")
}

// chipSnapshot is what dump renders.
type chipSnapshot struct {
	ID     string
	State  string
	Cursor int
	Report [gt911.ReportLen]byte
	Pins   map[string]string
}

func (c *console) dump(chipID, path string) error {
	h, ok := c.host.Handle(chipID)
	if !ok {
		return errcode.New(errcode.UnknownChip, "dump", chipID)
	}
	inst, ok := gt911.Instance(h)
	if !ok {
		return errcode.New(errcode.StaleHandle, "dump", chipID)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	var snap chipSnapshot
	c.host.Inspect(func() {
		snap = chipSnapshot{
			ID:     chipID,
			State:  inst.State().String(),
			Cursor: inst.Cursor(),
			Report: inst.TouchReport(),
			Pins:   map[string]string{},
		}
	})
	for _, name := range []string{"IN", "OUT"} {
		if v, err := c.host.Level(chipID, name); err == nil {
			snap.Pins[name] = v.String()
		}
	}
	memviz.Map(f, &snap)
	if err := f.Close(); err != nil {
		return err
	}
	_, _ = fmtx.Fprintf(c.out, "wrote %s\n", path)
	return nil
}

func (c *console) tx(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: tx <bus> <addr> [bytes] [: n]")
	}
	addr, err := strconv.ParseUint(args[1], 0, 7)
	if err != nil {
		return errors.New("bad address " + args[1])
	}
	var w []byte
	n := 0
	rest := args[2:]
	for i, a := range rest {
		if a == ":" {
			if i+1 >= len(rest) {
				return errors.New("missing read length")
			}
			if n, err = strconv.Atoi(rest[i+1]); err != nil || n < 0 || n > 256 {
				return errors.New("bad read length " + rest[i+1])
			}
			break
		}
		v, err := strconv.ParseUint(strings.TrimSpace(a), 0, 8)
		if err != nil {
			return errors.New("bad byte " + a)
		}
		w = append(w, byte(v))
	}
	b, err := c.host.LookupI2C(args[0])
	if err != nil {
		return err
	}
	r := make([]byte, n)
	if err := b.Tx(uint16(addr), w, r); err != nil {
		return err
	}
	if n > 0 {
		_, _ = fmtx.Fprintf(c.out, "%s\n", conv.Hex(r))
	} else {
		_, _ = io.WriteString(c.out, "ok\n")
	}
	return nil
}
