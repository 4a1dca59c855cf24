// Package config loads runtime configuration from defaults, an optional
// YAML file, MICROSCOPE_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/junsooki/microscope/internal/bridge"
	"github.com/junsooki/microscope/internal/capture"
)

// Variants select how the camera is reached.
const (
	VariantDevice = "device"
	VariantBridge = "bridge"
)

// Config holds all runtime configuration.
type Config struct {
	Variant string
	Device  capture.DeviceConfig

	Interpreter   string
	ScriptTimeout time.Duration
	Warmup        int
	TempDir       string

	OutputDir    string
	LiveQuality  int
	StillQuality int

	StreamInterval time.Duration
	Listen         string
	AllowOrigins   string
	LogLevel       string
}

// Resolution presets offered by the original control panel.
var presets = map[string][2]int{
	"default": {640, 480},
	"low":     {320, 240},
	"hd":      {1280, 720},
}

// PresetNames lists the resolution presets.
func PresetNames() []string {
	return []string{"default", "low", "hd"}
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	wd, _ := os.Getwd()

	v.SetDefault("variant", VariantBridge)
	v.SetDefault("device.vendor_id", 0x05e3) // Genesys Logic
	v.SetDefault("device.product_id", 0xf12a)
	v.SetDefault("device.index", 4)
	v.SetDefault("device.width", 640)
	v.SetDefault("device.height", 480)
	v.SetDefault("device.fps", 30)
	v.SetDefault("device.preset", "")
	v.SetDefault("bridge.interpreter", bridge.FindInterpreter(wd))
	v.SetDefault("bridge.timeout", bridge.DefaultTimeout)
	v.SetDefault("bridge.warmup_frames", 1)
	v.SetDefault("bridge.temp_dir", os.TempDir())
	v.SetDefault("output.dir", home)
	v.SetDefault("quality.live", 80)
	v.SetDefault("quality.still", 95)
	v.SetDefault("stream.interval", 33*time.Millisecond)
	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("server.allow_origins", "")
	v.SetDefault("log.level", "info")
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("MICROSCOPE")
	// MICROSCOPE_DEVICE_INDEX for device.index
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile loads path, or searches the default locations when path is
// empty. A missing file in the default locations is not an error.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		return v.ReadInConfig()
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home + "/.config/microscope")
	}
	v.AddConfigPath(".")

	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	return err
}

// Load builds a Config from v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var errs []error
	vendor, err := usbID(v.Get("device.vendor_id"))
	if err != nil {
		errs = append(errs, fmt.Errorf("device.vendor_id: %w", err))
	}
	product, err := usbID(v.Get("device.product_id"))
	if err != nil {
		errs = append(errs, fmt.Errorf("device.product_id: %w", err))
	}

	cfg := &Config{
		Variant: v.GetString("variant"),
		Device: capture.DeviceConfig{
			VendorID:  vendor,
			ProductID: product,
			Index:     v.GetInt("device.index"),
			Width:     v.GetInt("device.width"),
			Height:    v.GetInt("device.height"),
			FPS:       v.GetInt("device.fps"),
		},
		Interpreter:    v.GetString("bridge.interpreter"),
		ScriptTimeout:  v.GetDuration("bridge.timeout"),
		Warmup:         v.GetInt("bridge.warmup_frames"),
		TempDir:        v.GetString("bridge.temp_dir"),
		OutputDir:      v.GetString("output.dir"),
		LiveQuality:    v.GetInt("quality.live"),
		StillQuality:   v.GetInt("quality.still"),
		StreamInterval: v.GetDuration("stream.interval"),
		Listen:         v.GetString("server.listen"),
		AllowOrigins:   v.GetString("server.allow_origins"),
		LogLevel:       v.GetString("log.level"),
	}

	if name := v.GetString("device.preset"); name != "" {
		p, ok := presets[name]
		if !ok {
			return nil, fmt.Errorf("unknown preset %q (have %s)", name, strings.Join(PresetNames(), ", "))
		}
		cfg.Device.Width, cfg.Device.Height = p[0], p[1]
	}

	if err := joinProblems(append(errs, cfg.problems()...)); err != nil {
		return nil, err
	}
	return cfg, nil
}

// usbID reads a vendor or product id. Strings are hexadecimal with an
// optional 0x prefix, as lsusb prints them; numbers are taken as is.
func usbID(raw any) (uint16, error) {
	var (
		n   uint64
		err error
	)
	if s, ok := raw.(string); ok {
		s = strings.ToLower(strings.TrimSpace(s))
		n, err = strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
	} else {
		n, err = cast.ToUint64E(raw)
	}
	switch {
	case err != nil:
		return 0, fmt.Errorf("not a usb id: %v", raw)
	case n == 0 || n > 0xffff:
		return 0, fmt.Errorf("must be between 0x0001 and 0xffff, got %#x", n)
	}
	return uint16(n), nil
}

// Validate checks that every value is usable.
func (c *Config) Validate() error {
	return joinProblems(c.problems())
}

func joinProblems(errs []error) error {
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Config) problems() []error {
	var errs []error

	if c.Variant != VariantDevice && c.Variant != VariantBridge {
		errs = append(errs, fmt.Errorf("variant must be %q or %q, got %q", VariantDevice, VariantBridge, c.Variant))
	}
	if c.Device.VendorID == 0 || c.Device.ProductID == 0 {
		errs = append(errs, errors.New("device.vendor_id and device.product_id must be non-zero"))
	}
	if c.Device.Index < 0 {
		errs = append(errs, errors.New("device.index must not be negative"))
	}
	if c.Device.Width < 160 || c.Device.Width > 4096 {
		errs = append(errs, errors.New("device.width must be between 160 and 4096"))
	}
	if c.Device.Height < 120 || c.Device.Height > 2160 {
		errs = append(errs, errors.New("device.height must be between 120 and 2160"))
	}
	if c.Device.FPS < 1 || c.Device.FPS > 120 {
		errs = append(errs, errors.New("device.fps must be between 1 and 120"))
	}
	if c.LiveQuality < 1 || c.LiveQuality > 100 || c.StillQuality < 1 || c.StillQuality > 100 {
		errs = append(errs, errors.New("quality must be between 1 and 100"))
	}
	if c.ScriptTimeout <= 0 {
		errs = append(errs, errors.New("bridge.timeout must be positive"))
	}
	if c.Warmup < 0 {
		errs = append(errs, errors.New("bridge.warmup_frames must not be negative"))
	}
	if c.StreamInterval <= 0 {
		errs = append(errs, errors.New("stream.interval must be positive"))
	}
	if c.Variant == VariantBridge && c.Interpreter == "" {
		errs = append(errs, errors.New("bridge.interpreter must be set"))
	}
	if c.OutputDir == "" {
		errs = append(errs, errors.New("output.dir must be set"))
	}
	return errs
}
