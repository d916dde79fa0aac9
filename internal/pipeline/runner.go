// Package pipeline drives one source video through planning, per-slice
// transcoding and verification, and in-order delivery.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/your-org/shortsplit/internal/delivery"
	"github.com/your-org/shortsplit/internal/events"
	"github.com/your-org/shortsplit/internal/ffmpeg"
	"github.com/your-org/shortsplit/internal/segment"
	"github.com/your-org/shortsplit/internal/transcode"
	"github.com/your-org/shortsplit/internal/verify"
	"github.com/your-org/shortsplit/pkg/logger"
	"github.com/your-org/shortsplit/pkg/tracing"
)

// ErrNoSegments is returned when the source is too short to produce any part.
var ErrNoSegments = errors.New("source produced no segments")

// Messages sent to the recipient over the course of a run.
const (
	MsgProcessing = "🎬 Processing your video... Found %d parts to create. Preserving original quality."
	MsgCaption    = "Part %d/%d"
	MsgCompleted  = "✅ All parts processed successfully with high quality!"
	MsgFailed     = "❌ Error processing video: %v"
)

type Prober interface {
	Probe(ctx context.Context, path string) (ffmpeg.SourceVideo, error)
}

type Encoder interface {
	Transcode(ctx context.Context, job transcode.Job, mode transcode.CutMode) (*transcode.Artifact, error)
}

type Verifier interface {
	Verify(ctx context.Context, job transcode.Job, art *transcode.Artifact) (verify.Outcome, error)
}

// Request asks for one source file to be split and delivered to Recipient.
// The runner owns Source from here on and removes it when the run ends.
type Request struct {
	RunID     string
	Source    string
	Filename  string
	Recipient string
}

// Runner executes runs. Runs are independent of each other; segments inside a
// run are processed strictly one after another.
type Runner struct {
	prober    Prober
	encoder   Encoder
	verifier  Verifier
	transport delivery.Transport
	publisher events.Publisher
	planner   segment.Planner
	registry  *Registry
	workDir   string
	pacing    time.Duration
	logger    *zap.Logger
	// pause waits out the pacing interval between consecutive deliveries.
	pause func(ctx context.Context, d time.Duration) error

	wg sync.WaitGroup
}

type Params struct {
	Prober    Prober
	Encoder   Encoder
	Verifier  Verifier
	Transport delivery.Transport
	Publisher events.Publisher
	Planner   segment.Planner
	Registry  *Registry
	WorkDir   string
	Pacing    time.Duration
	Logger    *zap.Logger
}

func NewRunner(p Params) *Runner {
	if p.Registry == nil {
		p.Registry = NewRegistry()
	}
	if p.Publisher == nil {
		p.Publisher = events.Nop{}
	}
	if p.WorkDir == "" {
		p.WorkDir = "."
	}
	if p.Planner.SliceLength <= 0 {
		p.Planner = segment.NewPlanner(0, 0)
	}
	return &Runner{
		prober:    p.Prober,
		encoder:   p.Encoder,
		verifier:  p.Verifier,
		transport: p.Transport,
		publisher: p.Publisher,
		planner:   p.Planner,
		registry:  p.Registry,
		workDir:   p.WorkDir,
		pacing:    p.Pacing,
		logger:    logger.Component(p.Logger, "pipeline"),
		pause:     sleep,
	}
}

// Registry exposes run snapshots.
func (r *Runner) Registry() *Registry {
	return r.registry
}

// Status returns the latest snapshot of a run.
func (r *Runner) Status(id string) (Run, error) {
	return r.registry.Get(id)
}

// Launch starts req in the background and returns its run id. The run is
// detached from ctx cancellation but keeps its values (trace, request id).
func (r *Runner) Launch(ctx context.Context, req Request) string {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	r.register(req)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if _, err := r.run(context.WithoutCancel(ctx), req); err != nil {
			r.logger.Error("run failed", zap.String("run_id", req.RunID), zap.Error(err))
		}
	}()
	return req.RunID
}

// Run executes req synchronously and returns the final snapshot.
func (r *Runner) Run(ctx context.Context, req Request) (Run, error) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	r.register(req)
	return r.run(ctx, req)
}

// Close waits for launched runs to finish or ctx to end.
func (r *Runner) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) register(req Request) {
	now := time.Now().UTC()
	r.registry.add(Run{
		ID:         req.RunID,
		Recipient:  req.Recipient,
		Filename:   req.Filename,
		SourcePath: req.Source,
		OutputDir:  r.outputDir(req.RunID),
		State:      StatePlanning,
		StartedAt:  now,
		UpdatedAt:  now,
	})
}

func (r *Runner) outputDir(runID string) string {
	return filepath.Join(r.workDir, "parts_"+runID)
}

func (r *Runner) setState(id string, s State) {
	r.registry.update(id, func(run *Run) { run.State = s })
}

func (r *Runner) run(ctx context.Context, req Request) (result Run, err error) {
	log := r.logger.With(zap.String("run_id", req.RunID))
	ctx, span := tracing.Start(ctx, "pipeline.run",
		attribute.String("run.id", req.RunID),
		attribute.String("run.file_name", req.Filename),
	)
	outDir := r.outputDir(req.RunID)
	started := time.Now()

	defer func() {
		if err != nil {
			r.fail(ctx, req, err, log)
		} else {
			r.complete(ctx, req, log, time.Since(started))
		}
		r.cleanup(req.Source, outDir, log)
		tracing.End(span, err)
		result, _ = r.registry.Get(req.RunID)
	}()

	video, err := r.prober.Probe(ctx, req.Source)
	if err != nil {
		return Run{}, err
	}
	slices, err := r.planner.Plan(video.Duration)
	if err != nil {
		return Run{}, fmt.Errorf("plan segments: %w", err)
	}
	if len(slices) == 0 {
		return Run{}, fmt.Errorf("%w: duration %.3fs", ErrNoSegments, video.Duration)
	}
	total := len(slices)
	span.SetAttributes(attribute.Int("run.parts", total), attribute.Float64("source.duration", video.Duration))
	r.registry.update(req.RunID, func(run *Run) { run.Parts = total })

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Run{}, fmt.Errorf("create output dir: %w", err)
	}

	log.Info("run planned",
		zap.Float64("duration", video.Duration),
		zap.Int("parts", total),
		zap.Int("width", video.Width),
		zap.Int("height", video.Height),
		zap.Int64("bit_rate", video.BitRate),
	)
	events.Emit(ctx, r.publisher, log, events.New(events.TypeRunStarted, req.RunID, map[string]any{
		"file_name": req.Filename,
		"parts":     total,
		"duration":  video.Duration,
	}))

	if err := r.transport.SendText(ctx, req.Recipient, fmt.Sprintf(MsgProcessing, total)); err != nil {
		return Run{}, err
	}

	for i, slice := range slices {
		if i > 0 && r.pacing > 0 {
			if err := r.pause(ctx, r.pacing); err != nil {
				return Run{}, err
			}
		}
		job := transcode.Job{
			Source:     req.Source,
			Video:      video,
			Slice:      slice,
			OutputPath: filepath.Join(outDir, fmt.Sprintf("part_%d.mp4", slice.Number())),
		}
		if err := r.segment(ctx, req, job, total, log); err != nil {
			return Run{}, err
		}
	}
	return Run{}, nil
}

// segment takes one slice through transcode, verify and delivery, and removes
// the artifact once it has been delivered.
func (r *Runner) segment(ctx context.Context, req Request, job transcode.Job, total int, log *zap.Logger) (err error) {
	part := job.Slice.Number()
	ctx, span := tracing.Start(ctx, "pipeline.segment", attribute.Int("segment.part", part))
	defer func() { tracing.End(span, err) }()

	r.registry.update(req.RunID, func(run *Run) {
		run.State = StateTranscoding
		run.CurrentPart = part
	})
	art, err := r.encoder.Transcode(ctx, job, transcode.CutFast)
	if err != nil {
		return err
	}
	defer func() {
		if rmErr := os.Remove(art.Path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.Warn("remove artifact failed", zap.String("path", art.Path), zap.Error(rmErr))
		}
	}()

	r.setState(req.RunID, StateVerifying)
	outcome, err := r.verifier.Verify(ctx, job, art)
	if err != nil {
		return err
	}

	r.setState(req.RunID, StateDelivering)
	if err := r.transport.SendFile(ctx, req.Recipient, art.Path, fmt.Sprintf(MsgCaption, part, total)); err != nil {
		art.Status = transcode.StatusFailed
		return fmt.Errorf("deliver part %d: %w", part, err)
	}
	art.Status = transcode.StatusDelivered

	r.registry.update(req.RunID, func(run *Run) {
		run.Delivered++
		if art.Regenerated {
			run.Regenerated++
		}
	})
	span.SetAttributes(
		attribute.Float64("segment.measured", art.Measured),
		attribute.String("segment.outcome", outcome.String()),
	)
	log.Info("segment delivered",
		zap.Int("part", part),
		zap.Int("parts", total),
		zap.Float64("planned", art.Planned),
		zap.Float64("measured", art.Measured),
		zap.String("outcome", outcome.String()),
	)
	events.Emit(ctx, r.publisher, log, events.New(events.TypeSegmentDelivered, req.RunID, map[string]any{
		"part":        part,
		"parts":       total,
		"planned":     art.Planned,
		"measured":    art.Measured,
		"regenerated": art.Regenerated,
	}))
	return nil
}

func (r *Runner) complete(ctx context.Context, req Request, log *zap.Logger, took time.Duration) {
	if err := r.transport.SendText(ctx, req.Recipient, MsgCompleted); err != nil {
		log.Warn("send completion message failed", zap.Error(err))
	}
	r.setState(req.RunID, StateCompleted)
	snap, _ := r.registry.Get(req.RunID)
	log.Info("run completed", zap.Int("parts", snap.Parts), zap.Duration("took", took))
	events.Emit(ctx, r.publisher, log, events.New(events.TypeRunCompleted, req.RunID, map[string]any{
		"parts":       snap.Parts,
		"regenerated": snap.Regenerated,
	}))
}

func (r *Runner) fail(ctx context.Context, req Request, runErr error, log *zap.Logger) {
	r.registry.update(req.RunID, func(run *Run) {
		run.State = StateFailed
		run.Error = runErr.Error()
	})
	if err := r.transport.SendText(ctx, req.Recipient, fmt.Sprintf(MsgFailed, runErr)); err != nil {
		log.Warn("send failure message failed", zap.Error(err))
	}
	events.Emit(ctx, r.publisher, log, events.New(events.TypeRunFailed, req.RunID, map[string]any{
		"error": runErr.Error(),
	}))
}

func (r *Runner) cleanup(source, outDir string, log *zap.Logger) {
	if err := os.RemoveAll(outDir); err != nil {
		log.Warn("remove output dir failed", zap.String("dir", outDir), zap.Error(err))
	}
	if source == "" {
		return
	}
	if err := os.Remove(source); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("remove source failed", zap.String("path", source), zap.Error(err))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
