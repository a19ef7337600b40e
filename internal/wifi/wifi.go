// Package wifi wraps the connectivity shell scripts. The scripts own all
// the messy parts (module loading, wpa_supplicant, dhcp); this package only
// invokes them with the right environment and checks whether the radio's
// kernel module is loaded.
package wifi

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Script names, fixed by the platform packaging.
const (
	scriptEnable  = "enable-wifi.sh"
	scriptDisable = "disable-wifi.sh"
	scriptObtain  = "obtain-ip.sh"
	scriptRelease = "release-ip.sh"
	scriptRestore = "restore-wifi-async.sh"
)

// Defaults used when neither the config nor the environment says otherwise.
const (
	DefaultScriptDir   = "/etc/inkd/scripts"
	DefaultInterface   = "eth0"
	DefaultModule      = "sdio_wifi_pwr"
	DefaultModulesFile = "/proc/modules"
)

// Config locates the scripts and names the hardware.
type Config struct {
	ScriptDir string
	// Interface and Module fall back to the INTERFACE and WIFI_MODULE
	// environment hints, then to the defaults.
	Interface   string
	Module      string
	ModulesFile string
}

// Shim invokes the connectivity scripts.
type Shim struct {
	cfg Config
	log *slog.Logger

	// run executes one script with the given environment. Swapped in tests.
	run func(ctx context.Context, path string, env []string) error
}

// NewShim resolves the config against the environment hints and returns a
// ready shim.
func NewShim(cfg Config, log *slog.Logger) *Shim {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ScriptDir == "" {
		cfg.ScriptDir = DefaultScriptDir
	}
	if cfg.Interface == "" {
		cfg.Interface = envOr("INTERFACE", DefaultInterface)
	}
	if cfg.Module == "" {
		cfg.Module = envOr("WIFI_MODULE", DefaultModule)
	}
	if cfg.ModulesFile == "" {
		cfg.ModulesFile = DefaultModulesFile
	}
	s := &Shim{cfg: cfg, log: log}
	s.run = s.runScript
	return s
}

// Interface returns the resolved network interface name.
func (s *Shim) Interface() string { return s.cfg.Interface }

// Module returns the resolved radio kernel module name.
func (s *Shim) Module() string { return s.cfg.Module }

// EnableRadio loads the radio stack.
func (s *Shim) EnableRadio(ctx context.Context) error {
	return s.invoke(ctx, scriptEnable)
}

// DisableRadio tears the radio stack down.
func (s *Shim) DisableRadio(ctx context.Context) error {
	return s.invoke(ctx, scriptDisable)
}

// ObtainIP acquires a lease on the interface.
func (s *Shim) ObtainIP(ctx context.Context) error {
	return s.invoke(ctx, scriptObtain)
}

// ReleaseIP drops the lease.
func (s *Shim) ReleaseIP(ctx context.Context) error {
	return s.invoke(ctx, scriptRelease)
}

// Up brings connectivity all the way up: radio first, then the lease.
func (s *Shim) Up(ctx context.Context) error {
	if err := s.EnableRadio(ctx); err != nil {
		return err
	}
	return s.ObtainIP(ctx)
}

// Down tears connectivity all the way down, lease first.
func (s *Shim) Down(ctx context.Context) error {
	if err := s.ReleaseIP(ctx); err != nil {
		return err
	}
	return s.DisableRadio(ctx)
}

// RestoreAsync fires the reconnect script and leaves it running; its exit
// status is logged but never waited on by the caller.
func (s *Shim) RestoreAsync(ctx context.Context) error {
	path := filepath.Join(s.cfg.ScriptDir, scriptRestore)
	cmd := exec.CommandContext(ctx, path)
	cmd.Env = s.scriptEnv()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", scriptRestore, err)
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			s.log.Warn("restore script exited badly", "script", scriptRestore, "err", err)
		}
	}()
	return nil
}

// Enabled reports whether the radio module shows up in the loaded-modules
// listing.
func (s *Shim) Enabled() (bool, error) {
	f, err := os.Open(s.cfg.ModulesFile)
	if err != nil {
		return false, fmt.Errorf("open modules listing: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		name, _, _ := strings.Cut(scanner.Text(), " ")
		if name == s.cfg.Module {
			return true, nil
		}
	}
	return false, scanner.Err()
}

func (s *Shim) invoke(ctx context.Context, name string) error {
	path := filepath.Join(s.cfg.ScriptDir, name)
	s.log.Debug("running connectivity script", "script", name)
	if err := s.run(ctx, path, s.scriptEnv()); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (s *Shim) runScript(ctx context.Context, path string, env []string) error {
	cmd := exec.CommandContext(ctx, path)
	cmd.Env = env
	out, err := cmd.CombinedOutput()
	if err != nil {
		if len(out) > 0 {
			s.log.Warn("connectivity script output", "script", filepath.Base(path), "output", strings.TrimSpace(string(out)))
		}
		return err
	}
	return nil
}

// scriptEnv hands the resolved hardware names down to the scripts on top of
// the daemon's own environment.
func (s *Shim) scriptEnv() []string {
	return append(os.Environ(),
		"INTERFACE="+s.cfg.Interface,
		"WIFI_MODULE="+s.cfg.Module,
	)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
