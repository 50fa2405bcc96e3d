// Package scene detects scene-change timestamps using ffmpeg's scene
// filter. The detector shells out to ffmpeg and parses showinfo output;
// no frames are decoded in-process.
package scene

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Detector runs ffmpeg scene detection against local files.
type Detector struct {
	binary string
}

// New returns a Detector using the ffmpeg binary from PATH.
func New() *Detector {
	return &Detector{binary: "ffmpeg"}
}

// Detect returns the ordered scene-change timestamps (seconds) for the file.
// An empty slice is a valid result: the video simply has no cuts above the
// threshold. The caller controls the deadline through ctx.
func (d *Detector) Detect(ctx context.Context, path string, threshold float64) ([]float64, error) {
	filter := fmt.Sprintf("select='gt(scene,%g)',showinfo", threshold)

	cmd := exec.CommandContext(ctx, d.binary,
		"-hide_banner",
		"-i", path,
		"-vf", filter,
		"-f", "null", "-",
	)

	// showinfo logs frame info to stderr
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ffmpeg scene detection %q: %w", path, err)
	}

	return ParseShowinfo(stderr.String()), nil
}

// ParseShowinfo extracts pts_time values from ffmpeg showinfo log lines.
// Exported for testing without a real ffmpeg binary.
func ParseShowinfo(output string) []float64 {
	timestamps := []float64{}
	for _, line := range strings.Split(output, "\n") {
		idx := strings.Index(line, "pts_time:")
		if idx < 0 {
			continue
		}
		rest := line[idx+len("pts_time:"):]
		if end := strings.IndexAny(rest, " \t"); end >= 0 {
			rest = rest[:end]
		}
		ts, err := strconv.ParseFloat(rest, 64)
		if err != nil {
			continue
		}
		timestamps = append(timestamps, ts)
	}
	return timestamps
}
