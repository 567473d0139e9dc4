package media

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"liveassist/internal/ports"
)

const (
	probeTimeout = 5 * time.Second
	// waitDelay bounds how long Wait keeps copying output from children the
	// killed process left behind.
	waitDelay = 200 * time.Millisecond
)

// Supports reports whether the local ffmpeg build can mux format. The
// encoder and muxer tables are probed once; a probe cut short by ctx is not
// cached.
func (d *FFmpegDevices) Supports(ctx context.Context, format ports.EncodingFormat) bool {
	encoders, muxers, err := d.capabilities(ctx)
	if err != nil {
		if ctx.Err() == nil {
			d.log.Warn().Err(err).Msg("ffmpeg capability probe failed")
		}
		return false
	}

	if format.Container == "" || !muxers[format.Container] {
		return false
	}
	if format.AudioCodec != "" && !encoders[format.AudioCodec] {
		return false
	}
	if format.VideoCodec != "" && !encoders[format.VideoCodec] {
		return false
	}
	return true
}

func (d *FFmpegDevices) capabilities(ctx context.Context) (map[string]bool, map[string]bool, error) {
	d.probeMu.Lock()
	defer d.probeMu.Unlock()
	if d.probed {
		return d.encoders, d.muxers, d.probeErr
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	encoders, err := d.listCapabilities(probeCtx, "-encoders")
	var muxers map[string]bool
	if err == nil {
		muxers, err = d.listCapabilities(probeCtx, "-muxers")
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, nil, ctxErr
	}

	d.encoders, d.muxers, d.probeErr = encoders, muxers, err
	d.probed = true
	return encoders, muxers, err
}

func (d *FFmpegDevices) listCapabilities(ctx context.Context, flag string) (map[string]bool, error) {
	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, d.cfg.FFmpegCommand, "-hide_banner", flag)
	cmd.Stdout = &stdout
	cmd.WaitDelay = waitDelay
	if err := cmd.Run(); err != nil {
		return nil, err
	}
	return parseCapabilityTable(stdout.String()), nil
}

// parseCapabilityTable reads ffmpeg's "-encoders"/"-muxers" listing. Rows
// after the "--" separator carry a flag column then a comma separated name.
func parseCapabilityTable(output string) map[string]bool {
	names := make(map[string]bool)
	inTable := false
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !inTable {
			if strings.HasPrefix(line, "--") {
				inTable = true
			}
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		for _, name := range strings.Split(fields[1], ",") {
			names[name] = true
		}
	}
	return names
}
