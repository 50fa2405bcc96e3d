// Package probe extracts technical video metadata with a single ffprobe
// JSON invocation.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Metadata holds the technical attributes of a local video file.
type Metadata struct {
	Duration        float64 `json:"duration"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	Codec           string  `json:"codec"`
	FPS             float64 `json:"fps"`
	BitRate         int64   `json:"bit_rate"`
	Container       string  `json:"container"`
	AudioCodec      string  `json:"audio_codec,omitempty"`
	AudioChannels   int     `json:"audio_channels,omitempty"`
	AudioSampleRate int     `json:"audio_sample_rate,omitempty"`
	HasSubtitle     bool    `json:"has_subtitle"`
}

// Resolution returns "WxH", or "unknown" when dimensions are missing.
func (m *Metadata) Resolution() string {
	if m.Width <= 0 || m.Height <= 0 {
		return "unknown"
	}
	return strconv.Itoa(m.Width) + "x" + strconv.Itoa(m.Height)
}

// Prober runs ffprobe against local files.
type Prober struct {
	binary string
}

// New returns a Prober using the ffprobe binary from PATH.
func New() *Prober {
	return &Prober{binary: "ffprobe"}
}

// Probe runs a single ffprobe JSON call against path and returns the parsed
// metadata. The caller controls the deadline through ctx.
func (p *Prober) Probe(ctx context.Context, path string) (*Metadata, error) {
	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	)

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ffprobe %q: %w", path, err)
	}

	return ParseJSON(out)
}

// ParseJSON converts raw ffprobe JSON output into Metadata.
// Exported for testing without a real ffprobe binary.
func ParseJSON(data []byte) (*Metadata, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse ffprobe JSON: %w", err)
	}
	return buildMetadata(&raw)
}

// --- ffprobe JSON wire types ---

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	BitRate    string `json:"bit_rate"`
}

type ffprobeStream struct {
	CodecName    string `json:"codec_name"`
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	BitRate      string `json:"bit_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	Channels     int    `json:"channels"`
	SampleRate   string `json:"sample_rate"`
}

func buildMetadata(raw *ffprobeOutput) (*Metadata, error) {
	m := &Metadata{
		Duration:  parseFloat(raw.Format.Duration),
		BitRate:   parseInt64(raw.Format.BitRate),
		Container: raw.Format.FormatName,
	}

	var haveVideo bool
	for i := range raw.Streams {
		s := &raw.Streams[i]
		switch s.CodecType {
		case "video":
			if haveVideo {
				continue
			}
			haveVideo = true
			m.Codec = s.CodecName
			m.Width = s.Width
			m.Height = s.Height
			m.FPS = parseFrameRate(s.AvgFrameRate)
			if br := parseInt64(s.BitRate); br > 0 {
				m.BitRate = br
			}
		case "audio":
			if m.AudioCodec != "" {
				continue
			}
			m.AudioCodec = s.CodecName
			m.AudioChannels = s.Channels
			m.AudioSampleRate = int(parseInt64(s.SampleRate))
		case "subtitle":
			m.HasSubtitle = true
		}
	}

	if !haveVideo {
		return nil, fmt.Errorf("no video stream found")
	}
	return m, nil
}

// parseFrameRate converts ffprobe's "num/den" rational into a float.
// Returns 0 for missing or degenerate values like "0/0".
func parseFrameRate(s string) float64 {
	if s == "" {
		return 0
	}
	if !strings.Contains(s, "/") {
		return parseFloat(s)
	}
	parts := strings.SplitN(s, "/", 2)
	num := parseFloat(parts[0])
	den := parseFloat(parts[1])
	if den == 0 {
		return 0
	}
	return num / den
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

func parseInt64(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
