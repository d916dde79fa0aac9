// Package transcode builds and runs the ffmpeg invocation that turns one slice
// of a source video into a vertical, labelled artifact.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/shortsplit/internal/ffmpeg"
	"github.com/your-org/shortsplit/internal/segment"
	"github.com/your-org/shortsplit/pkg/logger"
)

// ErrTranscodeFailed wraps any failure of the external encoder.
var ErrTranscodeFailed = errors.New("transcode failed")

// CutMode selects how the slice boundaries are passed to ffmpeg.
type CutMode int

const (
	// CutFast seeks to the start and encodes a relative duration.
	CutFast CutMode = iota
	// CutAccurate anchors both start and end on the source timeline.
	CutAccurate
)

func (m CutMode) String() string {
	switch m {
	case CutFast:
		return "fast"
	case CutAccurate:
		return "accurate"
	default:
		return "unknown"
	}
}

// DeliveryStatus tracks an artifact through the delivery step.
type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusDelivered DeliveryStatus = "delivered"
	StatusFailed    DeliveryStatus = "failed"
)

// Artifact is the encoded output for one slice.
type Artifact struct {
	Slice       segment.Slice
	Path        string
	Planned     float64
	Measured    float64
	Regenerated bool
	Status      DeliveryStatus
}

// Drift is the absolute difference between measured and planned duration.
func (a *Artifact) Drift() float64 {
	d := a.Measured - a.Planned
	if d < 0 {
		return -d
	}
	return d
}

// Job is one slice to encode.
type Job struct {
	Source     string
	Video      ffmpeg.SourceVideo
	Slice      segment.Slice
	OutputPath string
}

// Invoker renders jobs with a fixed style and encoder profile.
type Invoker struct {
	runner  ffmpeg.Runner
	bin     string
	style   FrameStyle
	profile EncoderProfile
	audio   AudioProfile
	logger  *zap.Logger
}

// Params groups the Invoker's collaborators.
type Params struct {
	Runner  ffmpeg.Runner
	Binary  string
	Style   FrameStyle
	Profile EncoderProfile
	Audio   AudioProfile
	Logger  *zap.Logger
}

// NewInvoker constructs an Invoker.
func NewInvoker(p Params) *Invoker {
	bin := p.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	profile := p.Profile
	if profile == nil {
		profile = DefaultSoftwareProfile()
	}
	audio := p.Audio
	if audio.Codec == "" {
		audio = DefaultAudioProfile()
	}
	return &Invoker{
		runner:  p.Runner,
		bin:     bin,
		style:   p.Style,
		profile: profile,
		audio:   audio,
		logger:  logger.Component(p.Logger, "transcode"),
	}
}

// Profile returns the encoder profile in use.
func (i *Invoker) Profile() EncoderProfile {
	return i.profile
}

// Args builds the full ffmpeg argument list for job.
func (i *Invoker) Args(job Job, mode CutMode) []string {
	args := []string{"-hide_banner", "-nostdin"}

	start := formatSeconds(job.Slice.Start)
	switch mode {
	case CutAccurate:
		args = append(args, "-ss", start, "-to", formatSeconds(job.Slice.End), "-i", job.Source)
	default:
		args = append(args, "-ss", start, "-i", job.Source, "-t", formatSeconds(job.Slice.Duration()))
	}

	args = append(args, "-vf", i.style.FilterGraph(job.Slice.Number()))
	args = append(args, i.profile.videoArgs(job.Video)...)
	args = append(args, i.audio.args()...)
	args = append(args,
		"-movflags", "+faststart",
		"-avoid_negative_ts", "make_zero",
		"-fflags", "+genpts",
		"-y", job.OutputPath,
	)
	return args
}

// Transcode runs ffmpeg for job and returns a pending artifact.
// A non-zero exit or a missing output file yields ErrTranscodeFailed.
func (i *Invoker) Transcode(ctx context.Context, job Job, mode CutMode) (*Artifact, error) {
	if job.OutputPath == "" {
		return nil, fmt.Errorf("%w: output path cannot be empty", ErrTranscodeFailed)
	}

	started := time.Now()
	if _, err := i.runner.Run(ctx, i.bin, i.Args(job, mode)...); err != nil {
		return nil, fmt.Errorf("%w: part %d (%s cut): %w", ErrTranscodeFailed, job.Slice.Number(), mode, err)
	}

	info, err := os.Stat(job.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: part %d: output missing: %w", ErrTranscodeFailed, job.Slice.Number(), err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%w: part %d: output is empty", ErrTranscodeFailed, job.Slice.Number())
	}

	i.logger.Debug("segment encoded",
		zap.Int("part", job.Slice.Number()),
		zap.String("cut", mode.String()),
		zap.String("profile", i.profile.Name()),
		zap.Int64("bytes", info.Size()),
		zap.Duration("took", time.Since(started)),
	)

	return &Artifact{
		Slice:   job.Slice,
		Path:    job.OutputPath,
		Planned: job.Slice.Duration(),
		Status:  StatusPending,
	}, nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
