package media

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"liveassist/internal/domain"
)

// ListAudioInputs returns PulseAudio capture sources. Monitor sources of
// output sinks are skipped.
func (d *FFmpegDevices) ListAudioInputs(ctx context.Context) ([]domain.SourceDescriptor, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, d.cfg.PactlCommand, "list", "short", "sources")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pactl list sources: %w: %s", err, trimOutput(stderr.String()))
	}
	return parsePactlSources(stdout.String()), nil
}

// parsePactlSources reads tab separated "index name driver sample_spec state" rows.
func parsePactlSources(output string) []domain.SourceDescriptor {
	var sources []domain.SourceDescriptor
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), "\t")
		if len(fields) < 2 {
			continue
		}
		name := strings.TrimSpace(fields[1])
		if name == "" || strings.HasSuffix(name, ".monitor") {
			continue
		}
		sources = append(sources, domain.SourceDescriptor{ID: name, Name: describeSource(name)})
	}
	return sources
}

func describeSource(name string) string {
	label := name
	if idx := strings.Index(label, "."); idx >= 0 && idx+1 < len(label) {
		label = label[idx+1:]
	}
	return strings.ReplaceAll(label, "_", " ")
}

var (
	screenPattern = regexp.MustCompile(`^screen:(\d+)x(\d+)\+(\d+)\+(\d+)$`)
	windowPattern = regexp.MustCompile(`^window:(0x[0-9a-fA-F]+)$`)
)

type videoTarget struct {
	width, height int
	x, y          int
	windowID      string
}

func parseVideoSource(sourceID string) (videoTarget, error) {
	if m := screenPattern.FindStringSubmatch(sourceID); m != nil {
		values := make([]int, 4)
		for i := range values {
			n, err := strconv.Atoi(m[i+1])
			if err != nil {
				return videoTarget{}, domain.Errorf(domain.ErrorKindCapture, "invalid screen source %q", sourceID)
			}
			values[i] = n
		}
		if values[0] == 0 || values[1] == 0 {
			return videoTarget{}, domain.Errorf(domain.ErrorKindCapture, "screen source %q has no area", sourceID)
		}
		return videoTarget{width: values[0], height: values[1], x: values[2], y: values[3]}, nil
	}
	if m := windowPattern.FindStringSubmatch(sourceID); m != nil {
		return videoTarget{windowID: m[1]}, nil
	}
	return videoTarget{}, domain.Errorf(domain.ErrorKindCapture, "unsupported video source %q", sourceID)
}

func (t videoTarget) inputArgs(inputFormat, display string, frameRate int) []string {
	args := []string{"-f", inputFormat, "-framerate", strconv.Itoa(frameRate)}
	if t.windowID != "" {
		return append(args, "-window_id", t.windowID, "-i", display)
	}
	return append(args,
		"-video_size", fmt.Sprintf("%dx%d", t.width, t.height),
		"-i", fmt.Sprintf("%s+%d,%d", display, t.x, t.y),
	)
}
