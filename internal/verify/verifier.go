// Package verify measures encoded segments against their planned slice and
// re-cuts the ones that drifted too far.
package verify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/shortsplit/internal/transcode"
	"github.com/your-org/shortsplit/pkg/logger"
)

const (
	DefaultAcceptDrift     = 100 * time.Millisecond
	DefaultRegenerateDrift = time.Second
)

// DurationProber reads the container duration of a file in seconds.
type DurationProber interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// Encoder re-runs a transcode job.
type Encoder interface {
	Transcode(ctx context.Context, job transcode.Job, mode transcode.CutMode) (*transcode.Artifact, error)
}

// Outcome is what Verify decided for an artifact.
type Outcome int

const (
	Accepted Outcome = iota
	AcceptedWithDrift
	Regenerated
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case AcceptedWithDrift:
		return "accepted_with_drift"
	case Regenerated:
		return "regenerated"
	default:
		return "unknown"
	}
}

// Verifier applies the two-tier drift policy.
type Verifier struct {
	prober          DurationProber
	encoder         Encoder
	acceptDrift     float64
	regenerateDrift float64
	logger          *zap.Logger
}

// NewVerifier builds a Verifier. Zero thresholds fall back to 0.1s and 1s.
func NewVerifier(prober DurationProber, encoder Encoder, acceptDrift, regenerateDrift time.Duration, log *zap.Logger) *Verifier {
	if acceptDrift <= 0 {
		acceptDrift = DefaultAcceptDrift
	}
	if regenerateDrift <= 0 {
		regenerateDrift = DefaultRegenerateDrift
	}
	return &Verifier{
		prober:          prober,
		encoder:         encoder,
		acceptDrift:     acceptDrift.Seconds(),
		regenerateDrift: regenerateDrift.Seconds(),
		logger:          logger.Component(log, "verify"),
	}
}

// Verify probes artifact, records the measured duration and regenerates the
// file once with an accurate cut when the drift exceeds the regeneration
// threshold. art is updated in place.
func (v *Verifier) Verify(ctx context.Context, job transcode.Job, art *transcode.Artifact) (Outcome, error) {
	measured, err := v.prober.Duration(ctx, art.Path)
	if err != nil {
		return Accepted, err
	}
	art.Measured = measured
	drift := art.Drift()

	fields := []zap.Field{
		zap.Int("part", art.Slice.Number()),
		zap.Float64("planned", art.Planned),
		zap.Float64("measured", measured),
		zap.Float64("drift", drift),
	}

	switch {
	case drift <= v.acceptDrift:
		return Accepted, nil
	case drift <= v.regenerateDrift:
		v.logger.Warn("segment duration drifted, keeping it", fields...)
		return AcceptedWithDrift, nil
	}

	v.logger.Warn("segment duration out of tolerance, re-cutting", fields...)

	redo, err := v.encoder.Transcode(ctx, job, transcode.CutAccurate)
	if err != nil {
		return Regenerated, fmt.Errorf("regenerate part %d: %w", art.Slice.Number(), err)
	}
	measured, err = v.prober.Duration(ctx, redo.Path)
	if err != nil {
		return Regenerated, err
	}

	art.Path = redo.Path
	art.Measured = measured
	art.Regenerated = true

	if d := art.Drift(); d > v.acceptDrift {
		v.logger.Warn("re-cut segment still drifts",
			zap.Int("part", art.Slice.Number()),
			zap.Float64("measured", measured),
			zap.Float64("drift", d),
		)
	}
	return Regenerated, nil
}
