// Package host discovers desktop capture targets and the local backend port.
package host

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"liveassist/internal/domain"
)

const (
	DefaultBackendPort = "8080"
	BackendPortEnv     = "LIVEASSIST_BACKEND_PORT"
)

type Config struct {
	XrandrCommand string
	WmctrlCommand string
	// Port is used when the environment does not override it.
	Port   string
	Logger *zerolog.Logger
}

// Provider implements ports.HostSources with X11 command line tools.
type Provider struct {
	cfg Config
	log zerolog.Logger
}

func NewProvider(cfg Config) *Provider {
	if cfg.XrandrCommand == "" {
		cfg.XrandrCommand = "xrandr"
	}
	if cfg.WmctrlCommand == "" {
		cfg.WmctrlCommand = "wmctrl"
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Provider{cfg: cfg, log: logger}
}

// ListDesktopSources returns screens followed by windows. A failing tool
// contributes nothing.
func (p *Provider) ListDesktopSources(ctx context.Context) []domain.SourceDescriptor {
	var screens, windows []domain.SourceDescriptor

	var group errgroup.Group
	group.Go(func() error {
		output, err := p.run(ctx, p.cfg.XrandrCommand, "--listmonitors")
		if err != nil {
			p.log.Warn().Err(err).Msg("screen enumeration failed")
			return nil
		}
		screens = parseMonitors(output)
		return nil
	})
	group.Go(func() error {
		output, err := p.run(ctx, p.cfg.WmctrlCommand, "-l")
		if err != nil {
			p.log.Warn().Err(err).Msg("window enumeration failed")
			return nil
		}
		windows = parseWindows(output)
		return nil
	})
	_ = group.Wait()

	return append(screens, windows...)
}

// BackendPort returns the port the local backend listens on.
func (p *Provider) BackendPort(context.Context) string {
	for _, candidate := range []string{os.Getenv(BackendPortEnv), p.cfg.Port} {
		if port := strings.TrimSpace(candidate); validPort(port) {
			return port
		}
	}
	return DefaultBackendPort
}

func (p *Provider) run(ctx context.Context, command string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w: %s", command, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// " 0: +*eDP-1 1920/344x1080/194+0+0  eDP-1"
var monitorPattern = regexp.MustCompile(`^\s*(\d+):\s+[+*]*(\S+)\s+(\d+)/\d+x(\d+)/\d+\+(\d+)\+(\d+)`)

func parseMonitors(output string) []domain.SourceDescriptor {
	var sources []domain.SourceDescriptor
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		m := monitorPattern.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		index, name := m[1], m[2]
		width, height, x, y := m[3], m[4], m[5], m[6]
		sources = append(sources, domain.SourceDescriptor{
			ID:   fmt.Sprintf("screen:%sx%s+%s+%s", width, height, x, y),
			Name: fmt.Sprintf("Screen %s (%s)", index, name),
		})
	}
	return sources
}

// "0x03a00007  0 host Window title"
func parseWindows(output string) []domain.SourceDescriptor {
	var sources []domain.SourceDescriptor
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 || !strings.HasPrefix(fields[0], "0x") {
			continue
		}
		title := "Untitled window"
		if len(fields) > 3 {
			title = strings.Join(fields[3:], " ")
		}
		sources = append(sources, domain.SourceDescriptor{
			ID:   "window:" + fields[0],
			Name: title,
		})
	}
	return sources
}

func validPort(port string) bool {
	if port == "" || len(port) > 5 {
		return false
	}
	for _, r := range port {
		if r < '0' || r > '9' {
			return false
		}
	}
	return port != "0"
}
