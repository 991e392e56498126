// Package statsview serves live runtime charts (heap, goroutines, GC) of
// the running emulator over HTTP.
package statsview

import (
	"log/slog"

	"github.com/go-echarts/statsview"
	"github.com/go-echarts/statsview/viewer"
)

const DefaultAddress = "localhost:12600"

const url = "/debug/statsview"

// Launch starts the stats server in a new goroutine.
func Launch(addr string, logger *slog.Logger) {
	go func() {
		viewer.SetConfiguration(viewer.WithAddr(addr))
		mgr := statsview.New()
		if err := mgr.Start(); err != nil {
			logger.Error("statsview: server stopped", "err", err)
		}
	}()

	logger.Info("statsview: stats server available", "url", "http://"+addr+url)
}
