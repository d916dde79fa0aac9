package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrProbeFailed marks a source or artifact that could not be inspected.
var ErrProbeFailed = errors.New("probe failed")

const defaultPixelFormat = "yuv420p"

// SourceVideo describes the primary video stream of a file.
type SourceVideo struct {
	Duration    float64 `json:"duration"`
	FrameRate   float64 `json:"frame_rate"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	BitRate     int64   `json:"bit_rate,omitempty"`
	PixelFormat string  `json:"pixel_format"`
}

type probeStream struct {
	Duration   string `json:"duration"`
	RFrameRate string `json:"r_frame_rate"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	BitRate    string `json:"bit_rate"`
	PixFmt     string `json:"pix_fmt"`
}

type probeFormat struct {
	Duration string `json:"duration"`
	BitRate  string `json:"bit_rate"`
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

// Prober inspects media files with ffprobe.
type Prober struct {
	runner Runner
	bin    string
}

// NewProber returns a Prober that runs bin through runner.
func NewProber(runner Runner, bin string) *Prober {
	if bin == "" {
		bin = "ffprobe"
	}
	return &Prober{runner: runner, bin: bin}
}

// Probe reads duration, frame rate, geometry, bit rate and pixel format of path.
func (p *Prober) Probe(ctx context.Context, path string) (SourceVideo, error) {
	if path == "" {
		return SourceVideo{}, fmt.Errorf("%w: source path cannot be empty", ErrProbeFailed)
	}

	out, err := p.runner.Run(ctx, p.bin,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=duration,r_frame_rate,width,height,bit_rate,pix_fmt",
		"-show_entries", "format=duration,bit_rate",
		"-of", "json",
		path,
	)
	if err != nil {
		return SourceVideo{}, fmt.Errorf("%w: %s: %w", ErrProbeFailed, path, err)
	}
	return parseProbeOutput(out)
}

// Duration reads the container-level duration of path in seconds.
func (p *Prober) Duration(ctx context.Context, path string) (float64, error) {
	out, err := p.runner.Run(ctx, p.bin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrProbeFailed, path, err)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parse duration %q: %w", ErrProbeFailed, strings.TrimSpace(string(out)), err)
	}
	return d, nil
}

func parseProbeOutput(raw []byte) (SourceVideo, error) {
	var out probeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return SourceVideo{}, fmt.Errorf("%w: parse ffprobe json: %w", ErrProbeFailed, err)
	}
	if len(out.Streams) == 0 {
		return SourceVideo{}, fmt.Errorf("%w: no video stream", ErrProbeFailed)
	}
	stream := out.Streams[0]

	duration, err := strconv.ParseFloat(out.Format.Duration, 64)
	if err != nil {
		// Some containers only report duration on the stream.
		duration, err = strconv.ParseFloat(stream.Duration, 64)
		if err != nil {
			return SourceVideo{}, fmt.Errorf("%w: duration not available", ErrProbeFailed)
		}
	}

	fps, err := ParseRational(stream.RFrameRate)
	if err != nil {
		return SourceVideo{}, fmt.Errorf("%w: frame rate: %w", ErrProbeFailed, err)
	}

	var bitRate int64
	for _, raw := range []string{stream.BitRate, out.Format.BitRate} {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v > 0 {
			bitRate = v
			break
		}
	}

	pixFmt := stream.PixFmt
	if pixFmt == "" {
		pixFmt = defaultPixelFormat
	}

	return SourceVideo{
		Duration:    duration,
		FrameRate:   fps,
		Width:       stream.Width,
		Height:      stream.Height,
		BitRate:     bitRate,
		PixelFormat: pixFmt,
	}, nil
}

// ParseRational parses ffprobe rates such as "30000/1001" or "25".
func ParseRational(s string) (float64, error) {
	num, den, found := strings.Cut(strings.TrimSpace(s), "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid rational %q", s)
	}
	if !found {
		return n, nil
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid rational %q", s)
	}
	if d == 0 {
		return 0, nil
	}
	return n / d, nil
}
