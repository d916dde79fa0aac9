// Package chunkstore stages upload chunks that may arrive out of order or in
// parallel and reassembles them into the original file.
package chunkstore

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/your-org/shortsplit/pkg/logger"
)

// DefaultMaxChunkBytes is the per-chunk ceiling when none is configured.
const DefaultMaxChunkBytes = 10 << 20

// Store persists chunks under <staging>/<id>/chunk_<index> and assembles them
// into <output>/<id>_<filename>.
type Store struct {
	registry      Registry
	stagingDir    string
	outputDir     string
	maxChunkBytes int64
	logger        *zap.Logger
	now           func() time.Time
}

type Options struct {
	StagingDir    string
	OutputDir     string
	MaxChunkBytes int64
	Logger        *zap.Logger
}

// BeginOptions describe a new upload. TotalChunks may be zero and declared by
// the first chunk instead.
type BeginOptions struct {
	Filename    string
	TotalChunks int
}

// Assembled is a reassembled upload ready for processing.
type Assembled struct {
	UploadID string
	Path     string
	Filename string
	Size     int64
	Checksum string
}

// New creates the staging and output directories and returns a Store.
func New(registry Registry, opts Options) (*Store, error) {
	if registry == nil {
		registry = NewMemoryRegistry()
	}
	if opts.StagingDir == "" || opts.OutputDir == "" {
		return nil, errors.New("staging and output directories are required")
	}
	if opts.MaxChunkBytes <= 0 {
		opts.MaxChunkBytes = DefaultMaxChunkBytes
	}
	for _, dir := range []string{opts.StagingDir, opts.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &Store{
		registry:      registry,
		stagingDir:    opts.StagingDir,
		outputDir:     opts.OutputDir,
		maxChunkBytes: opts.MaxChunkBytes,
		logger:        logger.Component(opts.Logger, "chunkstore"),
		now:           time.Now,
	}, nil
}

// Begin opens a new session.
func (s *Store) Begin(ctx context.Context, opts BeginOptions) (Session, error) {
	if opts.TotalChunks < 0 {
		return Session{}, fmt.Errorf("%w: total chunks must not be negative", ErrInvalidChunkIndex)
	}
	now := s.now().UTC()
	sess := Session{
		ID:          uuid.NewString(),
		Filename:    SanitizeFilename(opts.Filename),
		TotalChunks: opts.TotalChunks,
		Received:    []int{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.registry.Create(ctx, sess); err != nil {
		return Session{}, err
	}
	s.logger.Debug("upload session started", zap.String("upload_id", sess.ID), zap.String("file_name", sess.Filename))
	return sess, nil
}

// WriteChunk stores one chunk. Writing an index again replaces the earlier bytes.
// Writes to distinct indices of the same session may run concurrently.
func (s *Store) WriteChunk(ctx context.Context, id string, index, totalChunks int, r io.Reader) error {
	sess, err := s.registry.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.Finalizing {
		return ErrFinalizing
	}
	if totalChunks <= 0 {
		return fmt.Errorf("%w: total chunks must be positive, got %d", ErrInvalidChunkIndex, totalChunks)
	}
	if index < 0 || index >= totalChunks {
		return fmt.Errorf("%w: index %d outside [0, %d)", ErrInvalidChunkIndex, index, totalChunks)
	}
	if err := s.registry.DeclareTotal(ctx, id, totalChunks); err != nil {
		return err
	}

	dir := s.sessionDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".chunk-*")
	if err != nil {
		return fmt.Errorf("create chunk file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	n, err := io.Copy(tmp, io.LimitReader(r, s.maxChunkBytes+1))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("write chunk %d: %w", index, err)
	}
	if n > s.maxChunkBytes {
		return fmt.Errorf("%w: chunk %d exceeds %d bytes", ErrChunkTooLarge, index, s.maxChunkBytes)
	}

	if err := os.Rename(tmpName, s.chunkPath(id, index)); err != nil {
		return fmt.Errorf("commit chunk %d: %w", index, err)
	}
	return s.registry.MarkReceived(ctx, id, index, s.now().UTC())
}

// Status returns the current state of a session.
func (s *Store) Status(ctx context.Context, id string) (Session, error) {
	return s.registry.Get(ctx, id)
}

// Finalize concatenates every chunk in ascending index order. An incomplete
// session is left untouched so the missing chunks can still be sent. On success
// the session and its staging files are gone.
func (s *Store) Finalize(ctx context.Context, id string) (*Assembled, error) {
	return s.FinalizeAs(ctx, id, "")
}

// FinalizeAs is Finalize with the file name supplied at completion time, which
// replaces the one given to Begin when non-empty.
func (s *Store) FinalizeAs(ctx context.Context, id, filename string) (*Assembled, error) {
	sess, err := s.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if filename != "" {
		sess.Filename = SanitizeFilename(filename)
	}
	if !sess.Complete() {
		if sess.TotalChunks == 0 {
			return nil, fmt.Errorf("%w: no chunks received", ErrIncompleteUpload)
		}
		missing := sess.Missing()
		return nil, fmt.Errorf("%w: %d of %d chunks missing (first %d)", ErrIncompleteUpload, len(missing), sess.TotalChunks, missing[0])
	}

	// Only the caller holding the claim touches the chunks or the output path.
	if err := s.registry.Claim(ctx, id); err != nil {
		return nil, err
	}

	outPath := filepath.Join(s.outputDir, id+"_"+sess.Filename)
	size, checksum, err := s.concatenate(ctx, id, sess.TotalChunks, outPath)
	if err != nil {
		if relErr := s.registry.Release(context.WithoutCancel(ctx), id); relErr != nil {
			s.logger.Warn("release session failed", zap.String("upload_id", id), zap.Error(relErr))
		}
		return nil, err
	}

	if err := s.discard(ctx, id); err != nil {
		s.logger.Warn("discard staging failed", zap.String("upload_id", id), zap.Error(err))
	}

	s.logger.Info("upload assembled",
		zap.String("upload_id", id),
		zap.String("path", outPath),
		zap.Int64("size_bytes", size),
		zap.Int("chunks", sess.TotalChunks),
	)

	return &Assembled{
		UploadID: id,
		Path:     outPath,
		Filename: sess.Filename,
		Size:     size,
		Checksum: checksum,
	}, nil
}

// concatenate assembles the chunks into a temporary file next to outPath and
// renames it into place once complete. A failure removes only the temporary file.
func (s *Store) concatenate(ctx context.Context, id string, total int, outPath string) (size int64, checksum string, err error) {
	out, err := os.CreateTemp(filepath.Dir(outPath), ".assemble-*")
	if err != nil {
		return 0, "", fmt.Errorf("create assembled file: %w", err)
	}
	tmpName := out.Name()
	defer func() {
		if err != nil {
			out.Close()        //nolint:errcheck
			os.Remove(tmpName) //nolint:errcheck
		}
	}()

	hasher := sha256.New()
	buffered := bufio.NewWriterSize(io.MultiWriter(out, hasher), 64*1024)

	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return 0, "", err
		}
		n, err := appendFile(buffered, s.chunkPath(id, i))
		if err != nil {
			return 0, "", fmt.Errorf("append chunk %d: %w", i, err)
		}
		size += n
	}
	if err := buffered.Flush(); err != nil {
		return 0, "", fmt.Errorf("flush assembled file: %w", err)
	}
	if err := out.Close(); err != nil {
		return 0, "", fmt.Errorf("close assembled file: %w", err)
	}
	if err := os.Rename(tmpName, outPath); err != nil {
		return 0, "", fmt.Errorf("commit assembled file: %w", err)
	}
	return size, hex.EncodeToString(hasher.Sum(nil)), nil
}

func appendFile(w io.Writer, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close() //nolint:errcheck
	return io.Copy(w, f)
}

// Abandon drops a session and whatever chunks it had.
func (s *Store) Abandon(ctx context.Context, id string) error {
	if _, err := s.registry.Get(ctx, id); err != nil {
		return err
	}
	return s.discard(ctx, id)
}

// SweepExpired abandons sessions that have not been written to for ttl and
// returns how many were removed.
func (s *Store) SweepExpired(ctx context.Context, ttl time.Duration) (int, error) {
	sessions, err := s.registry.List(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := s.now().UTC().Add(-ttl)
	removed := 0
	for _, sess := range sessions {
		if sess.Finalizing || !sess.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := s.discard(ctx, sess.ID); err != nil {
			s.logger.Warn("sweep session failed", zap.String("upload_id", sess.ID), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("expired upload sessions swept", zap.Int("removed", removed))
	}
	return removed, nil
}

func (s *Store) discard(ctx context.Context, id string) error {
	if err := os.RemoveAll(s.sessionDir(id)); err != nil {
		return fmt.Errorf("remove staging: %w", err)
	}
	return s.registry.Delete(ctx, id)
}

func (s *Store) sessionDir(id string) string {
	return filepath.Join(s.stagingDir, filepath.Base(id))
}

func (s *Store) chunkPath(id string, index int) string {
	return filepath.Join(s.sessionDir(id), "chunk_"+strconv.Itoa(index))
}

// SanitizeFilename keeps the base name and replaces anything outside
// [A-Za-z0-9._-] with an underscore.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	clean = strings.TrimLeft(clean, ".")
	if clean == "" || clean == "_" {
		return "upload"
	}
	return clean
}
