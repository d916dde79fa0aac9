package ingestion

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/shortsplit/internal/chunkstore"
	"github.com/your-org/shortsplit/internal/events"
	"github.com/your-org/shortsplit/internal/pipeline"
	"github.com/your-org/shortsplit/pkg/storage/objectstore"
)

// Launcher starts a pipeline run in the background.
type Launcher interface {
	Launch(ctx context.Context, req pipeline.Request) string
	Status(id string) (pipeline.Run, error)
}

// Service wires together the chunk store, the pipeline, archiving and events
// for the upload flow.
type Service struct {
	chunks    *chunkstore.Store
	runs      Launcher
	archive   objectstore.Client
	publisher events.Publisher
	recipient string
	logger    *zap.Logger
}

type Params struct {
	Chunks *chunkstore.Store
	Runs   Launcher
	// Archive, when set, receives a copy of every assembled source before it
	// is handed to the pipeline.
	Archive   objectstore.Client
	Publisher events.Publisher
	Recipient string
	Logger    *zap.Logger
}

// CompleteResult is returned once an upload has been assembled and its run launched.
type CompleteResult struct {
	UploadID   string
	RunID      string
	Filename   string
	Checksum   string
	Size       int64
	ArchiveKey string
	UploadedAt time.Time
}

// NewService constructs an ingestion Service.
func NewService(p Params) *Service {
	if p.Publisher == nil {
		p.Publisher = events.Nop{}
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	return &Service{
		chunks:    p.Chunks,
		runs:      p.Runs,
		archive:   p.Archive,
		publisher: p.Publisher,
		recipient: p.Recipient,
		logger:    p.Logger,
	}
}

func (s *Service) Begin(ctx context.Context, filename string, totalChunks int) (chunkstore.Session, error) {
	return s.chunks.Begin(ctx, chunkstore.BeginOptions{Filename: filename, TotalChunks: totalChunks})
}

func (s *Service) WriteChunk(ctx context.Context, uploadID string, index, totalChunks int, r io.Reader) error {
	return s.chunks.WriteChunk(ctx, uploadID, index, totalChunks, r)
}

func (s *Service) Status(ctx context.Context, uploadID string) (chunkstore.Session, error) {
	return s.chunks.Status(ctx, uploadID)
}

func (s *Service) RunStatus(runID string) (pipeline.Run, error) {
	return s.runs.Status(runID)
}

// Complete assembles the upload and launches its run. The run outlives ctx.
func (s *Service) Complete(ctx context.Context, uploadID, filename string) (*CompleteResult, error) {
	assembled, err := s.chunks.FinalizeAs(ctx, uploadID, filename)
	if err != nil {
		return nil, err
	}

	result := &CompleteResult{
		UploadID:   assembled.UploadID,
		Filename:   assembled.Filename,
		Checksum:   assembled.Checksum,
		Size:       assembled.Size,
		UploadedAt: time.Now().UTC(),
	}

	if s.archive != nil {
		key := fmt.Sprintf("sources/%s/%s_%s", result.UploadedAt.Format("2006/01/02"), assembled.UploadID, assembled.Filename)
		metadata := map[string]string{
			"original_filename": assembled.Filename,
			"checksum":          assembled.Checksum,
			"upload_id":         assembled.UploadID,
		}
		if err := s.archive.FPut(ctx, key, assembled.Path, "video/mp4", metadata); err != nil {
			s.logger.Warn("archive source failed", zap.String("upload_id", uploadID), zap.Error(err))
		} else {
			result.ArchiveKey = key
		}
	}

	result.RunID = s.runs.Launch(ctx, pipeline.Request{
		Source:    assembled.Path,
		Filename:  assembled.Filename,
		Recipient: s.recipient,
	})

	events.Emit(ctx, s.publisher, s.logger, events.New(events.TypeUploadCompleted, result.RunID, UploadCompleted{
		UploadID:   result.UploadID,
		RunID:      result.RunID,
		Filename:   result.Filename,
		Checksum:   result.Checksum,
		SizeBytes:  result.Size,
		ArchiveKey: result.ArchiveKey,
		UploadedAt: result.UploadedAt,
	}.Attributes()))

	s.logger.Info("upload completed",
		zap.String("upload_id", result.UploadID),
		zap.String("run_id", result.RunID),
		zap.Int64("size_bytes", result.Size),
		zap.String("checksum", result.Checksum),
	)
	return result, nil
}
