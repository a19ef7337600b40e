package power

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// This file implements the kernel suspend/resume cycle. The ntx boards
// suspend in two stages: a flag written to an "extended suspend" control
// file quiesces peripheral subsystems, then a write to the power-state file
// enters suspend-to-RAM. That second write does not return until the
// hardware wakes up again, and the hardware wakes up whenever it pleases
// (RTC, Wi-Fi activity, a loose sleep cover magnet). A wakeup is therefore
// "unexpected" until an explicit Resume call confirms it, and a guard timer
// puts the device back to sleep when no confirmation arrives, a bounded
// number of times.

// Control file values from the ntx kernel contract.
const (
	flagQuiesce  = "1\n"
	flagWake     = "0\n"
	cmdMem       = "mem\n"
	cmdTouchKick = "a\n"
)

// State is the controller's coarse position in the suspend cycle.
type State int32

const (
	StateAwake State = iota
	StateSuspending
	StateAsleepOrRetrying
)

func (s State) String() string {
	switch s {
	case StateSuspending:
		return "suspending"
	case StateAsleepOrRetrying:
		return "asleep-or-retrying"
	default:
		return "awake"
	}
}

// Config carries the kernel paths and timings of the suspend cycle. The
// defaults match the ntx kernels; tests point the paths elsewhere.
type Config struct {
	// StateExtendedPath is the two-stage suspend flag file.
	StateExtendedPath string
	// PowerStatePath is the suspend-to-RAM control file.
	PowerStatePath string
	// TouchRecoveryPath, when non-empty, is poked after resume to unstick
	// IR touch panels that lose their mind across a sleep.
	TouchRecoveryPath string

	// SettleDelay is how long peripheral subsystems need after the
	// quiesce flag before suspend-to-RAM is safe.
	SettleDelay time.Duration
	// ResumeDelay is the pause between clearing the quiesce flag and
	// poking the touch controller.
	ResumeDelay time.Duration
	// GuardDelay is how long a wakeup may remain unconfirmed before the
	// guard re-suspends.
	GuardDelay time.Duration
	// RetryBound is the number of spurious wakeups tolerated before the
	// controller gives up and leaves the device awake.
	RetryBound int
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{
		StateExtendedPath: "/sys/power/state-extended",
		PowerStatePath:    "/sys/power/state",
		TouchRecoveryPath: "/sys/devices/virtual/input/input1/neocmd",
		SettleDelay:       2 * time.Second,
		ResumeDelay:       100 * time.Millisecond,
		GuardDelay:        15 * time.Second,
		RetryBound:        20,
	}
}

// guardTimer is the cancellable handle for the scheduled guard callback.
// *time.Timer satisfies it; tests substitute their own.
type guardTimer interface {
	Stop() bool
}

// Controller owns the suspend state machine. All of its methods are safe
// for concurrent use; the retry counter and the guard handle are only ever
// touched under the mutex because the guard fires on a timer goroutine.
type Controller struct {
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	state   State
	wakeups int
	guard   guardTimer

	// Test seams. Production uses real sleeps, sync(2) and time.AfterFunc.
	sleep     func(time.Duration)
	syncFS    func()
	afterFunc func(time.Duration, func()) guardTimer
}

// NewController builds a controller from cfg, filling zero fields from
// DefaultConfig.
func NewController(cfg Config, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	def := DefaultConfig()
	if cfg.StateExtendedPath == "" {
		cfg.StateExtendedPath = def.StateExtendedPath
	}
	if cfg.PowerStatePath == "" {
		cfg.PowerStatePath = def.PowerStatePath
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = def.SettleDelay
	}
	if cfg.ResumeDelay <= 0 {
		cfg.ResumeDelay = def.ResumeDelay
	}
	if cfg.GuardDelay <= 0 {
		cfg.GuardDelay = def.GuardDelay
	}
	if cfg.RetryBound <= 0 {
		cfg.RetryBound = def.RetryBound
	}
	return &Controller{
		cfg:   cfg,
		log:   log,
		sleep: time.Sleep,
		syncFS: func() {
			unix.Sync()
		},
		afterFunc: func(d time.Duration, fn func()) guardTimer {
			return time.AfterFunc(d, fn)
		},
	}
}

// State returns the controller's current position in the cycle.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Wakeups returns how many wakeups have occurred since the last confirmed
// resume.
func (c *Controller) Wakeups() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wakeups
}

// GuardPending reports whether a guard callback is outstanding.
func (c *Controller) GuardPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.guard != nil
}

// Suspend runs the suspend sequence. It blocks the calling goroutine for
// the whole time the hardware is asleep and returns once the device has
// woken up again, or with an error when the sequence could not be entered.
// The wakeup it returns on is not yet a confirmed resume; that judgement
// belongs to Resume and the guard.
func (c *Controller) Suspend() error {
	c.mu.Lock()
	if c.state != StateAwake {
		s := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot suspend while %s", s)
	}
	c.state = StateSuspending
	c.mu.Unlock()
	return c.suspend()
}

// suspend is the sequence shared by Suspend and the guard retry. The
// caller has already moved the state to StateSuspending.
func (c *Controller) suspend() error {
	if err := writeControl(c.cfg.StateExtendedPath, flagQuiesce); err != nil {
		c.log.Error("cannot flag subsystems for suspend", "err", err)
		c.setState(StateAwake)
		return fmt.Errorf("flag extended suspend: %w", err)
	}

	// The flag needs time to propagate before suspend-to-RAM is safe.
	c.sleep(c.cfg.SettleDelay)
	c.syncFS()

	// Blocks here until the hardware wakes.
	if err := writeControl(c.cfg.PowerStatePath, cmdMem); err != nil {
		c.log.Error("suspend-to-RAM failed", "err", err)
		if rerr := writeControl(c.cfg.StateExtendedPath, flagWake); rerr != nil {
			c.log.Error("cannot roll back suspend flag", "err", rerr)
		}
		c.setState(StateAwake)
		return fmt.Errorf("write power state: %w", err)
	}

	c.mu.Lock()
	c.state = StateAsleepOrRetrying
	c.wakeups++
	n := c.wakeups
	c.stopGuardLocked()
	c.guard = c.afterFunc(c.cfg.GuardDelay, c.guardFired)
	c.mu.Unlock()

	c.log.Debug("woke from suspend", "wakeups", n)
	return nil
}

// guardFired runs when a wakeup stayed unconfirmed for the whole guard
// delay. It either re-suspends or, past the retry bound, gives up and
// leaves the device awake.
func (c *Controller) guardFired() {
	c.mu.Lock()
	c.guard = nil
	n := c.wakeups
	if n == 0 {
		// A resume raced the timer; nothing to do.
		c.mu.Unlock()
		return
	}
	if n > c.cfg.RetryBound {
		c.state = StateAwake
		c.mu.Unlock()
		c.log.Error("giving up re-suspend after repeated spurious wakeups", "wakeups", n)
		return
	}
	c.state = StateSuspending
	c.mu.Unlock()

	if n == 1 {
		c.log.Warn("unconfirmed wakeup, going back to sleep")
	} else {
		c.log.Error("spurious wakeup, going back to sleep", "wakeups", n)
	}
	if err := c.suspend(); err != nil {
		c.log.Error("re-suspend failed", "err", err)
	}
}

// Resume confirms a wakeup. It cancels the guard, zeroes the retry
// counter, clears the kernel quiesce flag and pokes the touch controller.
// All file I/O here is best-effort: the device is staying awake no matter
// what, so a failure is reported but never stops the remaining steps.
func (c *Controller) Resume() error {
	c.mu.Lock()
	c.stopGuardLocked()
	c.wakeups = 0
	c.state = StateAwake
	c.mu.Unlock()

	var firstErr error
	if err := writeControl(c.cfg.StateExtendedPath, flagWake); err != nil {
		c.log.Error("cannot clear suspend flag", "err", err)
		firstErr = fmt.Errorf("clear extended suspend: %w", err)
	}

	c.sleep(c.cfg.ResumeDelay)

	if c.cfg.TouchRecoveryPath != "" {
		if err := writeControl(c.cfg.TouchRecoveryPath, cmdTouchKick); err != nil {
			c.log.Debug("touch recovery poke failed", "err", err)
		}
	}
	return firstErr
}

// Stop cancels any outstanding guard without touching the kernel. Used on
// daemon shutdown so the process does not suspend the device on its way
// out.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopGuardLocked()
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) stopGuardLocked() {
	if c.guard != nil {
		c.guard.Stop()
		c.guard = nil
	}
}

// writeControl writes a value to a sysfs control file. The file must
// already exist; sysfs nodes always do, and tests create their stand-ins
// up front.
func writeControl(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	_, werr := f.WriteString(value)
	cerr := f.Close()
	if werr != nil {
		return werr
	}
	return cerr
}
