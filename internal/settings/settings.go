// Package settings persists the handful of decisions that must survive a
// reboot: the touch calibration verdict, the accelerometer opt-out and the
// last frontlight levels.
package settings

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultPath lives on the user partition, the only writable mount that
// survives firmware updates.
const DefaultPath = "/mnt/onboard/.inkd/settings.yaml"

type fileData struct {
	// TouchSwapAxes is nil until calibration has run.
	TouchSwapAxes       *bool `yaml:"touch_swap_axes,omitempty"`
	IgnoreGravitySensor bool  `yaml:"ignore_gravity_sensor,omitempty"`
	FrontlightIntensity int   `yaml:"frontlight_intensity"`
	FrontlightWarmth    int   `yaml:"frontlight_warmth"`
}

// Store is the persisted settings file. Every setter writes through to
// disk; a store is safe for concurrent use.
type Store struct {
	path string
	log  *slog.Logger

	mu   sync.Mutex
	data fileData
}

// Open loads the settings file at path. A missing file is not an error:
// the store starts from defaults and the file appears on the first write.
func Open(path string, log *slog.Logger) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Store{path: path, log: log}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Debug("no settings file yet", "path", path)
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open settings: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&s.data); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	return s, nil
}

// Path returns the backing file location.
func (s *Store) Path() string { return s.path }

// TouchSwapAxes returns the persisted calibration verdict and whether one
// exists at all.
func (s *Store) TouchSwapAxes() (swap, decided bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.TouchSwapAxes == nil {
		return false, false
	}
	return *s.data.TouchSwapAxes, true
}

// SetTouchSwapAxes records the calibration verdict.
func (s *Store) SetTouchSwapAxes(swap bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.TouchSwapAxes = &swap
	return s.saveLocked()
}

// IgnoreGravitySensor returns the accelerometer opt-out.
func (s *Store) IgnoreGravitySensor() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.IgnoreGravitySensor
}

// SetIgnoreGravitySensor records the accelerometer opt-out.
func (s *Store) SetIgnoreGravitySensor(ignore bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.IgnoreGravitySensor = ignore
	return s.saveLocked()
}

// Frontlight returns the last persisted light levels.
func (s *Store) Frontlight() (intensity, warmth int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.FrontlightIntensity, s.data.FrontlightWarmth
}

// SetFrontlight records the light levels.
func (s *Store) SetFrontlight(intensity, warmth int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.FrontlightIntensity = intensity
	s.data.FrontlightWarmth = warmth
	return s.saveLocked()
}

// saveLocked writes the file atomically: marshal to a sibling temp file,
// then rename over the target. A power cut mid-save leaves the old file
// intact, which matters on hardware that loses power without warning.
func (s *Store) saveLocked() error {
	b, err := yaml.Marshal(&s.data)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*")
	if err != nil {
		return fmt.Errorf("create settings temp file: %w", err)
	}
	_, werr := tmp.Write(b)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmp.Name())
		if werr != nil {
			return fmt.Errorf("write settings: %w", werr)
		}
		return fmt.Errorf("write settings: %w", cerr)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}
