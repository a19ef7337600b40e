package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hwhung0111/koreader/internal/input"
	"github.com/hwhung0111/koreader/internal/power"
	"github.com/hwhung0111/koreader/internal/settings"
	"github.com/hwhung0111/koreader/internal/wifi"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the inkd daemon.
//
// This is intentionally user-facing and stable-ish. Keep defaults and validation
// centralized so the rest of the code can assume a well-formed config.
//
// Design goals:
// - Make config file the primary configuration surface.
// - Keep flags for small overrides and for environments where a file is awkward.
// - Keep the defaults equal to the stock hardware paths so an empty file works.
type Config struct {
	// Input device configuration
	Input InputConfig `yaml:"input"`

	// Hardware identity overrides (normally probed at startup)
	Device DeviceConfig `yaml:"device"`

	// Suspend/resume controller configuration
	Power PowerFileConfig `yaml:"power"`

	// Connectivity script shim configuration
	Wifi WifiConfig `yaml:"wifi"`

	// IPC configuration (used by the inkctl client)
	IPC IPCConfig `yaml:"ipc"`

	// Monitor websocket server configuration
	Monitor MonitorConfig `yaml:"monitor"`

	// Persisted per-device settings
	Settings SettingsConfig `yaml:"settings"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type InputConfig struct {
	// Devices lists the evdev nodes to monitor (buttons and touch panel).
	Devices []string `yaml:"devices"`

	// HoldPolicy selects what happens to touch events while a calibration
	// verdict is pending: "drop" or "buffer".
	HoldPolicy string `yaml:"hold_policy"`
	// HoldLimit caps the buffer when hold_policy is "buffer" (0 = default).
	HoldLimit int `yaml:"hold_limit,omitempty"`

	// PanelWidth is the native panel width in pixels; the mirror correction
	// reflects X coordinates about it.
	PanelWidth int `yaml:"panel_width"`

	// SwapAxes pins the axis-swap correction, overriding both the board
	// default and any stored calibration verdict. Leave unset normally.
	SwapAxes *bool `yaml:"swap_axes,omitempty"`

	// EpochSkewSec is the clock-domain threshold for the event timestamp
	// probe: a first touch older than this is taken as boot-relative.
	EpochSkewSec int `yaml:"epoch_skew_sec"`
}

type DeviceConfig struct {
	// Codename forces the hardware identity instead of probing PRODUCT /
	// the vendor config script. Useful on development hosts.
	Codename  string `yaml:"codename,omitempty"`
	ProductID string `yaml:"product_id,omitempty"`

	VersionFile  string `yaml:"version_file,omitempty"`
	ConfigScript string `yaml:"config_script,omitempty"`
}

// PowerFileConfig is the user-facing suspend configuration as represented in
// YAML. It maps 1:1 to the controller config but uses YAML-friendly types
// (delays are represented in milliseconds).
type PowerFileConfig struct {
	StateExtendedPath string `yaml:"state_extended_path"`
	PowerStatePath    string `yaml:"power_state_path"`
	TouchRecoveryPath string `yaml:"touch_recovery_path,omitempty"`

	SettleDelayMS int `yaml:"settle_delay_ms"`
	ResumeDelayMS int `yaml:"resume_delay_ms"`
	GuardDelayMS  int `yaml:"guard_delay_ms"`

	// RetryBound is how many spurious wakeups the re-suspend guard chases
	// before giving up.
	RetryBound int `yaml:"retry_bound"`
}

type WifiConfig struct {
	ScriptDir string `yaml:"script_dir"`
	// Interface and Module default to the INTERFACE and WIFI_MODULE
	// environment hints when left empty.
	Interface   string `yaml:"interface,omitempty"`
	Module      string `yaml:"module,omitempty"`
	ModulesFile string `yaml:"modules_file,omitempty"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type MonitorConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`

	// StatusPollSec is the cadence of the periodic battery/radio status
	// broadcast, in seconds.
	StatusPollSec int `yaml:"status_poll_sec"`
}

type SettingsConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with the package defaults and current CLI defaults.
func DefaultConfig() Config {
	pw := power.DefaultConfig()
	return Config{
		Input: InputConfig{
			Devices:      []string{"/dev/input/event0", "/dev/input/event1"},
			HoldPolicy:   string(input.HoldDrop),
			HoldLimit:    0,
			PanelWidth:   600,
			EpochSkewSec: int(input.EpochSkewThreshold / time.Second),
		},
		Device: DeviceConfig{},
		Power: PowerFileConfig{
			StateExtendedPath: pw.StateExtendedPath,
			PowerStatePath:    pw.PowerStatePath,
			TouchRecoveryPath: pw.TouchRecoveryPath,
			SettleDelayMS:     int(pw.SettleDelay / time.Millisecond),
			ResumeDelayMS:     int(pw.ResumeDelay / time.Millisecond),
			GuardDelayMS:      int(pw.GuardDelay / time.Millisecond),
			RetryBound:        pw.RetryBound,
		},
		Wifi: WifiConfig{
			ScriptDir:   wifi.DefaultScriptDir,
			ModulesFile: wifi.DefaultModulesFile,
		},
		IPC: IPCConfig{
			SocketPath: "/tmp/inkd.sock",
		},
		Monitor: MonitorConfig{
			Enabled:       true,
			ListenAddr:    "127.0.0.1:8787",
			StatusPollSec: 30,
		},
		Settings: SettingsConfig{
			Path: settings.DefaultPath,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile parses a YAML config file on top of the defaults. Unknown
// keys are rejected, so a typo fails the load instead of silently leaving a
// default in place.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace and comments may follow the document.
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides applies overrides from flags on top of a loaded config.
//
// This is designed so you can keep a config file as the primary configuration
// source, but still do ad-hoc overrides for debugging/systemd overrides.
//
// Flags should pass pointers; each override is only applied if "set" is true.
type FlagOverrides struct {
	InputDevice *string
	HoldPolicy  *string

	Codename  *string
	ProductID *string

	IPCSocketPath *string
	MonitorAddr   *string
	SettingsPath  *string

	LogLevel *string
}

// Apply merges the overrides into cfg. If an override pointer is nil, it is
// ignored. If the pointer is non-nil, the value is applied (even if it is a
// zero value).
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.InputDevice != nil {
		cfg.Input.Devices = []string{*o.InputDevice}
	}
	if o.HoldPolicy != nil {
		cfg.Input.HoldPolicy = *o.HoldPolicy
	}

	if o.Codename != nil {
		cfg.Device.Codename = *o.Codename
	}
	if o.ProductID != nil {
		cfg.Device.ProductID = *o.ProductID
	}

	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.MonitorAddr != nil {
		cfg.Monitor.ListenAddr = *o.MonitorAddr
	}
	if o.SettingsPath != nil {
		cfg.Settings.Path = *o.SettingsPath
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// This is intended to be called after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	// Input
	if len(c.Input.Devices) == 0 {
		return errors.New("input.devices must not be empty")
	}
	for i, dev := range c.Input.Devices {
		if dev == "" {
			return fmt.Errorf("input.devices[%d] is empty", i)
		}
	}
	switch input.HoldPolicy(c.Input.HoldPolicy) {
	case input.HoldDrop, input.HoldBuffer:
	default:
		return fmt.Errorf("input.hold_policy must be %q or %q", input.HoldDrop, input.HoldBuffer)
	}
	if c.Input.HoldLimit < 0 {
		return errors.New("input.hold_limit must be >= 0")
	}
	if c.Input.PanelWidth <= 0 {
		return errors.New("input.panel_width must be > 0")
	}
	if c.Input.EpochSkewSec <= 0 {
		return errors.New("input.epoch_skew_sec must be > 0")
	}

	// Power
	if c.Power.StateExtendedPath == "" {
		return errors.New("power.state_extended_path must not be empty")
	}
	if c.Power.PowerStatePath == "" {
		return errors.New("power.power_state_path must not be empty")
	}
	if c.Power.SettleDelayMS < 0 || c.Power.ResumeDelayMS < 0 {
		return errors.New("power delays must be >= 0")
	}
	if c.Power.GuardDelayMS <= 0 {
		return errors.New("power.guard_delay_ms must be > 0")
	}
	if c.Power.RetryBound < 0 {
		return errors.New("power.retry_bound must be >= 0")
	}

	// Wifi
	if c.Wifi.ScriptDir == "" {
		return errors.New("wifi.script_dir must not be empty")
	}

	// IPC
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	// Monitor
	if c.Monitor.Enabled && c.Monitor.ListenAddr == "" {
		return errors.New("monitor.enabled is true but monitor.listen_addr is empty")
	}
	if c.Monitor.StatusPollSec <= 0 {
		return errors.New("monitor.status_poll_sec must be > 0")
	}

	// Settings
	if c.Settings.Path == "" {
		return errors.New("settings.path must not be empty")
	}

	// Logging
	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}

	return nil
}

// ToPowerConfig converts the file config into the internal controller config.
func (c *Config) ToPowerConfig() power.Config {
	return power.Config{
		StateExtendedPath: c.Power.StateExtendedPath,
		PowerStatePath:    c.Power.PowerStatePath,
		TouchRecoveryPath: c.Power.TouchRecoveryPath,
		SettleDelay:       time.Duration(c.Power.SettleDelayMS) * time.Millisecond,
		ResumeDelay:       time.Duration(c.Power.ResumeDelayMS) * time.Millisecond,
		GuardDelay:        time.Duration(c.Power.GuardDelayMS) * time.Millisecond,
		RetryBound:        c.Power.RetryBound,
	}
}

// ToWifiConfig converts the file config into the shim config. Empty interface
// and module names stay empty so the environment hints still apply.
func (c *Config) ToWifiConfig() wifi.Config {
	return wifi.Config{
		ScriptDir:   c.Wifi.ScriptDir,
		Interface:   c.Wifi.Interface,
		Module:      c.Wifi.Module,
		ModulesFile: c.Wifi.ModulesFile,
	}
}

// ToGateConfig converts the file config into the calibration gate config.
func (c *Config) ToGateConfig() input.GateConfig {
	return input.GateConfig{
		Policy:    input.HoldPolicy(c.Input.HoldPolicy),
		HoldLimit: c.Input.HoldLimit,
	}
}

// ExpandPath resolves a leading "~" against the current home directory, which
// keeps config values like settings.path usable on development hosts. Paths
// that cannot be resolved pass through untouched.
func ExpandPath(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	return filepath.Join(home, p[2:])
}
