package verify

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/shortsplit/internal/ffmpeg"
	"github.com/your-org/shortsplit/internal/segment"
	"github.com/your-org/shortsplit/internal/transcode"
)

type stubProber struct {
	durations []float64
	err       error
	paths     []string
}

func (p *stubProber) Duration(_ context.Context, path string) (float64, error) {
	p.paths = append(p.paths, path)
	if p.err != nil {
		return 0, p.err
	}
	d := p.durations[0]
	if len(p.durations) > 1 {
		p.durations = p.durations[1:]
	}
	return d, nil
}

type stubEncoder struct {
	modes []transcode.CutMode
	err   error
}

func (e *stubEncoder) Transcode(_ context.Context, job transcode.Job, mode transcode.CutMode) (*transcode.Artifact, error) {
	e.modes = append(e.modes, mode)
	if e.err != nil {
		return nil, e.err
	}
	return &transcode.Artifact{Slice: job.Slice, Path: job.OutputPath, Planned: job.Slice.Duration()}, nil
}

func fixture() (transcode.Job, *transcode.Artifact) {
	slice := segment.Slice{Index: 1, Start: 15, End: 30}
	job := transcode.Job{Source: "src.mp4", Slice: slice, OutputPath: "parts/part_2.mp4"}
	return job, &transcode.Artifact{Slice: slice, Path: job.OutputPath, Planned: 15}
}

func TestVerifyAcceptsWithinTolerance(t *testing.T) {
	prober := &stubProber{durations: []float64{15.05}}
	encoder := &stubEncoder{}
	v := NewVerifier(prober, encoder, 0, 0, nil)
	job, art := fixture()

	outcome, err := v.Verify(context.Background(), job, art)
	require.NoError(t, err)

	assert.Equal(t, Accepted, outcome)
	assert.Equal(t, 15.05, art.Measured)
	assert.False(t, art.Regenerated)
	assert.Empty(t, encoder.modes)
}

func TestVerifyKeepsModerateDrift(t *testing.T) {
	encoder := &stubEncoder{}
	v := NewVerifier(&stubProber{durations: []float64{14.5}}, encoder, 0, 0, nil)
	job, art := fixture()

	outcome, err := v.Verify(context.Background(), job, art)
	require.NoError(t, err)

	assert.Equal(t, AcceptedWithDrift, outcome)
	assert.Empty(t, encoder.modes)
	assert.False(t, art.Regenerated)
}

func TestVerifyRegeneratesOnceOnLargeDrift(t *testing.T) {
	prober := &stubProber{durations: []float64{13.5, 15.02}}
	encoder := &stubEncoder{}
	v := NewVerifier(prober, encoder, 0, 0, nil)
	job, art := fixture()

	outcome, err := v.Verify(context.Background(), job, art)
	require.NoError(t, err)

	assert.Equal(t, Regenerated, outcome)
	assert.Equal(t, []transcode.CutMode{transcode.CutAccurate}, encoder.modes)
	assert.Len(t, prober.paths, 2)
	assert.True(t, art.Regenerated)
	assert.Equal(t, 15.02, art.Measured)
}

func TestVerifyDoesNotLoopWhenRecutStillDrifts(t *testing.T) {
	prober := &stubProber{durations: []float64{12, 12.5}}
	encoder := &stubEncoder{}
	v := NewVerifier(prober, encoder, 0, 0, nil)
	job, art := fixture()

	_, err := v.Verify(context.Background(), job, art)
	require.NoError(t, err)

	assert.Len(t, encoder.modes, 1)
	assert.Equal(t, 12.5, art.Measured)
}

func TestVerifyRegenerationFailure(t *testing.T) {
	encoder := &stubEncoder{err: fmt.Errorf("%w: boom", transcode.ErrTranscodeFailed)}
	v := NewVerifier(&stubProber{durations: []float64{10}}, encoder, 0, 0, nil)
	job, art := fixture()

	_, err := v.Verify(context.Background(), job, art)
	assert.ErrorIs(t, err, transcode.ErrTranscodeFailed)
}

func TestVerifyProbeFailure(t *testing.T) {
	prober := &stubProber{err: fmt.Errorf("%w: no such file", ffmpeg.ErrProbeFailed)}
	v := NewVerifier(prober, &stubEncoder{}, 0, 0, nil)
	job, art := fixture()

	_, err := v.Verify(context.Background(), job, art)
	assert.ErrorIs(t, err, ffmpeg.ErrProbeFailed)
}
