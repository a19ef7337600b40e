package power

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestGauge(t *testing.T, capacity, status string) Gauge {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "capacity"), []byte(capacity), 0644); err != nil {
		t.Fatalf("fixture: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "status"), []byte(status), 0644); err != nil {
		t.Fatalf("fixture: %v", err)
	}
	return Gauge{
		CapacityPath: filepath.Join(dir, "capacity"),
		StatusPath:   filepath.Join(dir, "status"),
	}
}

// TestGauge_Reads tests plain capacity and status reads.
func TestGauge_Reads(t *testing.T) {
	g := newTestGauge(t, "87\n", "Discharging\n")

	n, err := g.Capacity()
	if err != nil {
		t.Fatalf("capacity: %v", err)
	}
	if n != 87 {
		t.Errorf("expected capacity 87, got %d", n)
	}

	s, err := g.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if s != "Discharging" {
		t.Errorf("expected status Discharging, got %q", s)
	}

	charging, err := g.Charging()
	if err != nil {
		t.Fatalf("charging: %v", err)
	}
	if charging {
		t.Error("expected not charging")
	}
}

// TestGauge_Charging tests the charging predicate.
func TestGauge_Charging(t *testing.T) {
	g := newTestGauge(t, "50\n", "Charging\n")
	charging, err := g.Charging()
	if err != nil {
		t.Fatalf("charging: %v", err)
	}
	if !charging {
		t.Error("expected charging")
	}
}

// TestGauge_ClampsCapacity tests that out-of-range kernel values are
// clamped rather than passed through.
func TestGauge_ClampsCapacity(t *testing.T) {
	g := newTestGauge(t, "123\n", "Full\n")
	n, err := g.Capacity()
	if err != nil {
		t.Fatalf("capacity: %v", err)
	}
	if n != 100 {
		t.Errorf("expected clamp to 100, got %d", n)
	}
}

// TestGauge_MissingFile tests the error path.
func TestGauge_MissingFile(t *testing.T) {
	g := Gauge{CapacityPath: filepath.Join(t.TempDir(), "missing")}
	if _, err := g.Capacity(); err == nil {
		t.Error("expected an error for a missing attribute")
	}
}
