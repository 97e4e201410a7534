package main

import (
	"io"

	"touchchip-go/x/fmtx"

	"github.com/go-echarts/statsview"
	"github.com/go-echarts/statsview/viewer"
)

const statsURL = "/debug/statsview"

// launchStats serves runtime charts on addr in the background.
func launchStats(addr string, output io.Writer) {
	go func() {
		viewer.SetConfiguration(viewer.WithAddr(addr))
		mgr := statsview.New()
		mgr.Start()
	}()
	_, _ = fmtx.Fprintf(output, "stats server available at %s%s\n", addr, statsURL)
}
