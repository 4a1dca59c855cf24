// Package cmd implements the microscope command line.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/junsooki/microscope/internal/config"
	"github.com/junsooki/microscope/internal/log"
)

var (
	v       = config.New()
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "microscope",
	Short: "USB microscope viewer and capture tool",
	Long: `microscope connects to a USB microscope camera, streams live frames to a
local window, remote viewers or the HTTP API, and saves high-quality captures.

The camera is reached either directly through OpenCV (variant "device") or
through short-lived Python capture scripts (variant "bridge").`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (default is $HOME/.config/microscope/config.yaml)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("variant", config.VariantBridge, "capture variant (device or bridge)")
	flags.Int("device-index", 4, "camera index")
	flags.String("preset", "", "resolution preset (default, low, hd)")
	flags.String("output", "", "directory captures are saved to")

	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = v.BindPFlag("variant", flags.Lookup("variant"))
	_ = v.BindPFlag("device.index", flags.Lookup("device-index"))
	_ = v.BindPFlag("device.preset", flags.Lookup("preset"))
	_ = v.BindPFlag("output.dir", flags.Lookup("output"))
}

func initConfig() {
	if err := config.ReadFile(v, cfgFile); err != nil {
		// Reported again by loadConfig; the logger is not up yet.
		fmt.Fprintf(rootCmd.ErrOrStderr(), "config: %v\n", err)
	}
	log.Init(v.GetString("log.level"))
}

// loadConfig resolves the effective configuration for a subcommand.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	log.Debug("configuration loaded",
		"variant", cfg.Variant,
		"device", cfg.Device.ID(),
		"index", cfg.Device.Index,
		"resolution", cfg.Device.Resolution(),
		"output", cfg.OutputDir,
	)
	return cfg, nil
}
