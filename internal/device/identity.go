package device

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Vendor identity sources. The version file is a single comma-separated
// line; its 3rd field is the firmware revision and its last 3 characters
// are the product id.
const (
	DefaultVersionFile  = "/mnt/onboard/.kobo/version"
	DefaultConfigScript = "/bin/kobo_config.sh"

	// sentinelProductID stands in when the version file is absent, e.g.
	// when the onboard partition is not mounted yet.
	sentinelProductID = "000"
)

// Identity is the raw hardware identity Resolve consumes.
type Identity struct {
	Codename    string
	ProductID   string
	FirmwareRev string
}

// Prober obtains the hardware identity. Environment hints (PRODUCT,
// MODEL_NUMBER) win over the vendor script and version file so alternate
// launchers can pin the identity without the script round-trip.
type Prober struct {
	VersionFile  string
	ConfigScript string

	// Test seams.
	getenv    func(string) string
	runScript func(ctx context.Context, script string) (string, error)

	log *slog.Logger
}

func NewProber(log *slog.Logger) *Prober {
	return &Prober{
		VersionFile:  DefaultVersionFile,
		ConfigScript: DefaultConfigScript,
		getenv:       os.Getenv,
		runScript:    runConfigScript,
		log:          log,
	}
}

// Probe resolves codename, product id and firmware revision. Only a missing
// codename is an error; the product id falls back to a sentinel and the
// firmware revision to empty.
func (p *Prober) Probe(ctx context.Context) (Identity, error) {
	id := Identity{}

	id.Codename = p.getenv("PRODUCT")
	if id.Codename == "" {
		out, err := p.runScript(ctx, p.ConfigScript)
		if err != nil {
			return Identity{}, fmt.Errorf("query codename via %s: %w", p.ConfigScript, err)
		}
		id.Codename = out
	}
	if id.Codename == "" {
		return Identity{}, fmt.Errorf("empty codename from %s", p.ConfigScript)
	}

	line, haveVersion := p.versionLine()

	id.ProductID = p.getenv("MODEL_NUMBER")
	if id.ProductID == "" {
		if haveVersion && len(line) >= 3 {
			id.ProductID = line[len(line)-3:]
		} else {
			id.ProductID = sentinelProductID
		}
	}

	if haveVersion {
		if fields := strings.Split(line, ","); len(fields) >= 3 {
			id.FirmwareRev = fields[2]
		}
	}

	p.log.Debug("device identity probed",
		"codename", id.Codename,
		"product_id", id.ProductID,
		"firmware", id.FirmwareRev)

	return id, nil
}

// versionLine reads the first line of the version file.
func (p *Prober) versionLine() (string, bool) {
	b, err := os.ReadFile(p.VersionFile)
	if err != nil {
		p.log.Debug("version file unavailable", "path", p.VersionFile, "error", err)
		return "", false
	}
	line, _, _ := strings.Cut(string(b), "\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}
	return line, true
}

func runConfigScript(ctx context.Context, script string) (string, error) {
	out, err := exec.CommandContext(ctx, script).Output()
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line), nil
}
