//go:build linux

package main

import (
	"context"
	"os"

	"touchchip-go/sim"
	"touchchip-go/x/fmtx"

	"github.com/pkg/term/termios"
	"golang.org/x/sys/unix"
)

// runKeys puts the terminal in cbreak mode and toggles chipID.IN on space.
func runKeys(ctx context.Context, host *sim.Host, chipID string) error {
	fd := os.Stdin.Fd()

	var canon, cbreak unix.Termios
	if err := termios.Tcgetattr(fd, &canon); err != nil {
		return err
	}
	cbreak = canon
	termios.Cfmakecbreak(&cbreak)
	if err := termios.Tcsetattr(fd, termios.TCIFLUSH, &cbreak); err != nil {
		return err
	}
	defer func() { _ = termios.Tcsetattr(fd, termios.TCIFLUSH, &canon) }()

	fmtx.Info("[keys] space toggles %s.IN, q quits", chipID)
	keys := make(chan byte)
	go func() {
		var b [1]byte
		for {
			if _, err := os.Stdin.Read(b[:]); err != nil {
				close(keys)
				return
			}
			keys <- b[0]
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case k, ok := <-keys:
			if !ok || k == 'q' {
				return nil
			}
			if k != ' ' {
				continue
			}
			v, err := host.Toggle(chipID, "IN")
			if err != nil {
				return err
			}
			out, _ := host.Level(chipID, "OUT")
			fmtx.Info("[keys] IN=%v OUT=%v", v, out)
		}
	}
}
