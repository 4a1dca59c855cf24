package cmd

import (
	"github.com/junsooki/microscope/internal/bridge"
	"github.com/junsooki/microscope/internal/capture"
	"github.com/junsooki/microscope/internal/config"
	"github.com/junsooki/microscope/internal/device"
	"github.com/junsooki/microscope/internal/log"
	"github.com/junsooki/microscope/internal/microscope"
	"github.com/junsooki/microscope/internal/persist"
)

// newDriver picks the capture implementation for cfg.Variant.
func newDriver(cfg *config.Config) capture.Driver {
	if cfg.Variant == config.VariantDevice {
		return device.NewDriver(cfg.Warmup, log.Component("device"))
	}
	runner := bridge.NewRunner(cfg.Interpreter, cfg.ScriptTimeout, log.Component("runner"))
	return bridge.NewDriver(runner, bridge.Options{
		TempDir:      cfg.TempDir,
		LiveQuality:  cfg.LiveQuality,
		StillQuality: cfg.StillQuality,
		Warmup:       cfg.Warmup,
		Log:          log.Component("bridge"),
	})
}

func newService(cfg *config.Config) *microscope.Service {
	return microscope.New(microscope.Options{
		Device:      cfg.Device,
		Driver:      newDriver(cfg),
		Gate:        persist.NewGate(cfg.OutputDir, cfg.StillQuality, log.Component("persist")),
		LiveQuality: cfg.LiveQuality,
		Interval:    cfg.StreamInterval,
		Log:         log.Component("microscope"),
	})
}
