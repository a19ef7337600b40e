package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hwhung0111/koreader/internal/device"
	"github.com/hwhung0111/koreader/internal/input"
	"github.com/hwhung0111/koreader/internal/light"
	"github.com/hwhung0111/koreader/internal/power"
	"github.com/hwhung0111/koreader/internal/settings"
	"github.com/hwhung0111/koreader/internal/wifi"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("inkd v%s\n", version)
	fmt.Println("Hardware abstraction daemon for Kobo e-ink boards")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  inkd [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Daemon that owns the quirky parts of the hardware: it resolves the")
	fmt.Println("  board variant, adjusts raw input events (axis swap, X mirror,")
	fmt.Println("  timestamp epoch, accelerometer translation), runs the kernel")
	fmt.Println("  suspend/resume cycle with its re-suspend guard, drives the")
	fmt.Println("  frontlight and shells out to the vendor connectivity scripts.")
	fmt.Println()
	fmt.Println("  Configuration comes from a YAML file (see -config); flags override")
	fmt.Println("  individual file values.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        YAML configuration file path")
	fmt.Println()
	fmt.Println("  -input-device string")
	fmt.Println("        Single evdev node to monitor (replaces input.devices)")
	fmt.Println()
	fmt.Println("  -hold-policy string")
	fmt.Println("        What to do with touch events while calibration is pending: drop|buffer")
	fmt.Println()
	fmt.Println("  -codename string")
	fmt.Println("        Force the hardware codename instead of probing")
	fmt.Println()
	fmt.Println("  -product-id string")
	fmt.Println("        Force the product id (with -codename) to pin a hardware revision")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Printf("        Unix domain socket path for IPC (default %q)\n", DefaultConfig().IPC.SocketPath)
	fmt.Println()
	fmt.Println("  -monitor-addr string")
	fmt.Printf("        Monitor websocket listen address (default %q)\n", DefaultConfig().Monitor.ListenAddr)
	fmt.Println()
	fmt.Println("  -settings-path string")
	fmt.Println("        Persisted settings file path")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Start with the stock hardware paths")
	fmt.Println("  inkd")
	fmt.Println()
	fmt.Println("  # Use a config file and verbose logging")
	fmt.Println("  inkd -config /etc/inkd/inkd.yaml -log-level debug")
	fmt.Println()
	fmt.Println("  # Pin the hardware identity on a development host")
	fmt.Println("  inkd -codename snow -product-id 378 -input-device /dev/input/event1")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Requires read access to the input devices (run as root or add")
	fmt.Println("    the user to the 'input' group)")
	fmt.Println("  - Suspend/resume needs write access to /sys/power")
	fmt.Println("  - PRODUCT and MODEL_NUMBER environment hints pin the identity the")
	fmt.Println("    same way -codename and -product-id do")
	fmt.Println()
}

func main() {
	// Check for version/help flags early
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	// Parse command-line flags
	var (
		configPath   = flag.String("config", "", "YAML configuration file path")
		inputDevice  = flag.String("input-device", "", "Single evdev node to monitor (replaces input.devices)")
		holdPolicy   = flag.String("hold-policy", "", "Pending-calibration policy: drop|buffer")
		codename     = flag.String("codename", "", "Force the hardware codename instead of probing")
		productID    = flag.String("product-id", "", "Force the product id (with -codename)")
		ipcSocket    = flag.String("ipc-socket", "", "Unix domain socket path for IPC")
		monitorAddr  = flag.String("monitor-addr", "", "Monitor websocket listen address")
		settingsPath = flag.String("settings-path", "", "Persisted settings file path")
		logLevelStr  = flag.String("log-level", "", "Log level: error, warn, info, debug")
		showVersion  = flag.Bool("version", false, "Print version and exit")
		showHelp     = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	// Config file first, then flag overrides on top.
	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	var overrides FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "input-device":
			overrides.InputDevice = inputDevice
		case "hold-policy":
			overrides.HoldPolicy = holdPolicy
		case "codename":
			overrides.Codename = codename
		case "product-id":
			overrides.ProductID = productID
		case "ipc-socket":
			overrides.IPCSocketPath = ipcSocket
		case "monitor-addr":
			overrides.MonitorAddr = monitorAddr
		case "settings-path":
			overrides.SettingsPath = settingsPath
		case "log-level":
			overrides.LogLevel = logLevelStr
		}
	})
	overrides.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logger := setupLogger(logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Resolve the hardware identity, then the variant descriptor.
	var id device.Identity
	if cfg.Device.Codename != "" {
		id = device.Identity{Codename: cfg.Device.Codename, ProductID: cfg.Device.ProductID}
		logger.Info("device identity pinned by configuration", "codename", id.Codename, "product_id", id.ProductID)
	} else {
		prober := device.NewProber(componentLogger(logger, "device"))
		if cfg.Device.VersionFile != "" {
			prober.VersionFile = cfg.Device.VersionFile
		}
		if cfg.Device.ConfigScript != "" {
			prober.ConfigScript = cfg.Device.ConfigScript
		}
		id, err = prober.Probe(ctx)
		if err != nil {
			logger.Error("cannot probe hardware identity", "error", err,
				"tip", "set PRODUCT or use -codename on non-device hosts")
			os.Exit(1)
		}
	}

	variant, err := device.Resolve(id.Codename, id.ProductID)
	if err != nil {
		logger.Error("unknown device", "codename", id.Codename, "product_id", id.ProductID,
			"known", device.Codenames())
		os.Exit(1)
	}
	logger.Info("device resolved",
		"model", variant.Model,
		"codename", variant.Codename,
		"product_id", id.ProductID,
		"firmware", id.FirmwareRev)

	// Persisted settings (calibration verdict, frontlight levels, toggles).
	store, err := settings.Open(ExpandPath(cfg.Settings.Path), componentLogger(logger, "settings"))
	if err != nil {
		logger.Error("cannot open settings store", "path", cfg.Settings.Path, "error", err)
		os.Exit(1)
	}

	// Event adjustment gate. Boards that need the touch probe start gated;
	// a stored verdict settles the gate before any event arrives.
	broadcasts := make(chan MonitorBroadcast, 256)
	opts := input.Options{
		ScreenWidth:         variant.ScreenWidth(cfg.Input.PanelWidth),
		SwapOverride:        cfg.Input.SwapAxes,
		IgnoreGravitySensor: store.IgnoreGravitySensor(),
		EpochSkew:           time.Duration(cfg.Input.EpochSkewSec) * time.Second,
	}
	gate := input.NewGate(variant, opts, cfg.ToGateConfig(), func() {
		logger.Warn("touch events arriving while calibration is pending",
			"tip", "run 'inkctl calibrate' to settle the axis orientation")
	}, componentLogger(logger, "input"))
	if swap, decided := store.TouchSwapAxes(); decided && !gate.Finalized() {
		gate.Decide(swap)
		logger.Info("stored touch calibration applied", "swap_xy", swap)
	}

	// Frontlight, where the board has one.
	var fl light.Frontlight
	if variant.HasFrontlight {
		fl, err = light.New(variant, componentLogger(logger, "light"))
		if err != nil {
			logger.Warn("frontlight unavailable", "error", err)
		} else {
			defer fl.Close()
			intensity, warmth := store.Frontlight()
			if err := fl.SetBrightness(intensity); err != nil {
				logger.Debug("cannot restore frontlight brightness", "error", err)
			}
			if fl.HasWarmth() {
				if err := fl.SetWarmth(warmth); err != nil {
					logger.Debug("cannot restore frontlight warmth", "error", err)
				}
			}
		}
	}

	pw := power.NewController(cfg.ToPowerConfig(), componentLogger(logger, "power"))
	shim := wifi.NewShim(cfg.ToWifiConfig(), componentLogger(logger, "wifi"))
	gauge := power.DefaultGauge()

	// Open input devices and start the shared reader.
	files, err := input.OpenDevices(cfg.Input.Devices)
	if err != nil {
		logger.Error("failed to open input devices", "devices", cfg.Input.Devices, "error", err,
			"tip", "run as root or add user to 'input' group")
		os.Exit(1)
	}
	defer input.CloseDevices(files)

	events := make(chan input.Event, 64)
	readErr := make(chan error, 1)
	go input.ReadEventsEpoll(files, events, readErr)

	// Create action channel - central command bus
	actions := make(chan Action, 64)

	d := newDaemon(variant, id, gate, pw, gauge, fl, shim, store, broadcasts, componentLogger(logger, "daemon"))
	d.poll = time.Duration(cfg.Monitor.StatusPollSec) * time.Second

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return d.run(ctx, events, actions, readErr)
	})

	eg.Go(func() error {
		return runIPCServer(ctx, cfg.IPC.SocketPath, actions, componentLogger(logger, "ipc"))
	})

	if cfg.Monitor.Enabled {
		monLog := componentLogger(logger, "monitor")
		srv := NewServer(monLog, actions, ServerConfig{})
		eg.Go(func() error {
			srv.Hub().Run(ctx)
			return nil
		})
		eg.Go(func() error {
			RunBroadcaster(ctx, srv.Hub(), broadcasts, monLog)
			return nil
		})
		eg.Go(func() error {
			return runMonitorServer(ctx, cfg.Monitor.ListenAddr, srv, monLog)
		})
	}

	logger.Debug("starting inkd", "version", version)
	logger.Debug("configuration",
		"devices", cfg.Input.Devices,
		"hold_policy", cfg.Input.HoldPolicy,
		"panel_width", cfg.Input.PanelWidth,
		"epoch_skew_sec", cfg.Input.EpochSkewSec,
		"ipc_socket", cfg.IPC.SocketPath,
		"monitor_enabled", cfg.Monitor.Enabled,
		"monitor_addr", cfg.Monitor.ListenAddr,
		"status_poll_sec", cfg.Monitor.StatusPollSec,
		"state_extended", cfg.Power.StateExtendedPath,
		"power_state", cfg.Power.PowerStatePath,
		"settle_delay_ms", cfg.Power.SettleDelayMS,
		"guard_delay_ms", cfg.Power.GuardDelayMS,
		"retry_bound", cfg.Power.RetryBound,
		"wifi_script_dir", cfg.Wifi.ScriptDir,
		"wifi_interface", shim.Interface(),
		"wifi_module", shim.Module(),
		"settings_path", cfg.Settings.Path)
	listenInfo := []any{"devices", cfg.Input.Devices, "ipc", cfg.IPC.SocketPath}
	if cfg.Monitor.Enabled {
		listenInfo = append(listenInfo, "monitor", cfg.Monitor.ListenAddr)
	}
	logger.Info("listening", listenInfo...)

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("daemon exited", "error", err)
		os.Exit(1)
	}
	logger.Info("shutting down")
}
