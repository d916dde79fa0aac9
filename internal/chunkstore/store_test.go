package chunkstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	store, err := New(NewMemoryRegistry(), Options{
		StagingDir:    filepath.Join(root, "chunks"),
		OutputDir:     filepath.Join(root, "uploads"),
		MaxChunkBytes: 16,
	})
	require.NoError(t, err)
	return store
}

func writeAll(t *testing.T, s *Store, id string, chunks []string, order []int) {
	t.Helper()
	for _, i := range order {
		require.NoError(t, s.WriteChunk(context.Background(), id, i, len(chunks), strings.NewReader(chunks[i])))
	}
}

func TestReassemblyIsOrderIndependent(t *testing.T) {
	ctx := context.Background()
	chunks := []string{"first-", "second-", "third"}

	inOrder := newTestStore(t)
	a, err := inOrder.Begin(ctx, BeginOptions{Filename: "clip.mp4"})
	require.NoError(t, err)
	writeAll(t, inOrder, a.ID, chunks, []int{0, 1, 2})
	wantFile, err := inOrder.Finalize(ctx, a.ID)
	require.NoError(t, err)

	shuffled := newTestStore(t)
	b, err := shuffled.Begin(ctx, BeginOptions{Filename: "clip.mp4"})
	require.NoError(t, err)
	writeAll(t, shuffled, b.ID, chunks, []int{2, 0, 1})
	gotFile, err := shuffled.Finalize(ctx, b.ID)
	require.NoError(t, err)

	want, err := os.ReadFile(wantFile.Path)
	require.NoError(t, err)
	got, err := os.ReadFile(gotFile.Path)
	require.NoError(t, err)

	assert.Equal(t, "first-second-third", string(got))
	assert.Equal(t, want, got)
	assert.Equal(t, wantFile.Checksum, gotFile.Checksum)

	sum := sha256.Sum256(got)
	assert.Equal(t, hex.EncodeToString(sum[:]), gotFile.Checksum)
	assert.Equal(t, int64(len(got)), gotFile.Size)
	assert.Equal(t, b.ID+"_clip.mp4", filepath.Base(gotFile.Path))
}

func TestFinalizeRemovesStagingAndSession(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	sess, err := store.Begin(ctx, BeginOptions{Filename: "a.mp4", TotalChunks: 1})
	require.NoError(t, err)
	require.NoError(t, store.WriteChunk(ctx, sess.ID, 0, 1, strings.NewReader("x")))

	_, err = store.Finalize(ctx, sess.ID)
	require.NoError(t, err)

	_, err = os.Stat(store.sessionDir(sess.ID))
	assert.True(t, os.IsNotExist(err))

	_, err = store.Finalize(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestFinalizeIncompleteThenRecover(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	sess, err := store.Begin(ctx, BeginOptions{Filename: "a.mp4"})
	require.NoError(t, err)

	_, err = store.Finalize(ctx, sess.ID)
	require.ErrorIs(t, err, ErrIncompleteUpload)

	require.NoError(t, store.WriteChunk(ctx, sess.ID, 0, 3, strings.NewReader("aa")))
	require.NoError(t, store.WriteChunk(ctx, sess.ID, 2, 3, strings.NewReader("cc")))

	_, err = store.Finalize(ctx, sess.ID)
	require.ErrorIs(t, err, ErrIncompleteUpload)
	require.ErrorIs(t, err, ErrUpload)

	status, err := store.Status(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, status.Received)
	assert.Equal(t, []int{1}, status.Missing())

	require.NoError(t, store.WriteChunk(ctx, sess.ID, 1, 3, strings.NewReader("bb")))
	out, err := store.Finalize(ctx, sess.ID)
	require.NoError(t, err)

	data, err := os.ReadFile(out.Path)
	require.NoError(t, err)
	assert.Equal(t, "aabbcc", string(data))
}

func TestRewriteOverwritesChunk(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	sess, err := store.Begin(ctx, BeginOptions{Filename: "a.mp4"})
	require.NoError(t, err)

	require.NoError(t, store.WriteChunk(ctx, sess.ID, 0, 1, strings.NewReader("old")))
	require.NoError(t, store.WriteChunk(ctx, sess.ID, 0, 1, strings.NewReader("new")))

	out, err := store.Finalize(ctx, sess.ID)
	require.NoError(t, err)
	data, err := os.ReadFile(out.Path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestConcurrentChunkWrites(t *testing.T) {
	ctx := context.Background()
	store, err := New(NewMemoryRegistry(), Options{
		StagingDir: filepath.Join(t.TempDir(), "chunks"),
		OutputDir:  filepath.Join(t.TempDir(), "uploads"),
	})
	require.NoError(t, err)

	sess, err := store.Begin(ctx, BeginOptions{Filename: "big.mp4"})
	require.NoError(t, err)

	const total = 32
	var want bytes.Buffer
	for i := 0; i < total; i++ {
		fmt.Fprintf(&want, "chunk-%02d;", i)
	}

	var wg sync.WaitGroup
	errs := make(chan error, total)
	for i := total - 1; i >= 0; i-- {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- store.WriteChunk(ctx, sess.ID, i, total, strings.NewReader(fmt.Sprintf("chunk-%02d;", i)))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	out, err := store.Finalize(ctx, sess.ID)
	require.NoError(t, err)
	data, err := os.ReadFile(out.Path)
	require.NoError(t, err)
	assert.Equal(t, want.String(), string(data))
}

func TestWriteChunkErrors(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	sess, err := store.Begin(ctx, BeginOptions{Filename: "a.mp4", TotalChunks: 2})
	require.NoError(t, err)

	tests := []struct {
		name  string
		id    string
		index int
		total int
		body  string
		want  error
	}{
		{name: "unknown session", id: "nope", index: 0, total: 2, body: "x", want: ErrSessionNotFound},
		{name: "index equals total", id: sess.ID, index: 2, total: 2, body: "x", want: ErrInvalidChunkIndex},
		{name: "negative index", id: sess.ID, index: -1, total: 2, body: "x", want: ErrInvalidChunkIndex},
		{name: "zero total", id: sess.ID, index: 0, total: 0, body: "x", want: ErrInvalidChunkIndex},
		{name: "total disagrees", id: sess.ID, index: 0, total: 3, body: "x", want: ErrInconsistentUpload},
		{name: "oversized", id: sess.ID, index: 0, total: 2, body: strings.Repeat("z", 17), want: ErrChunkTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.WriteChunk(ctx, tt.id, tt.index, tt.total, strings.NewReader(tt.body))
			require.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrUpload)
		})
	}

	status, err := store.Status(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, status.Received)

	entries, err := os.ReadDir(store.sessionDir(sess.ID))
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected chunks must not leave files behind")
}

func TestAbandonAndSweep(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	stale, err := store.Begin(ctx, BeginOptions{Filename: "stale.mp4"})
	require.NoError(t, err)
	require.NoError(t, store.WriteChunk(ctx, stale.ID, 0, 2, strings.NewReader("x")))

	store.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	fresh, err := store.Begin(ctx, BeginOptions{Filename: "fresh.mp4"})
	require.NoError(t, err)

	removed, err := store.SweepExpired(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.Status(ctx, stale.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = os.Stat(store.sessionDir(stale.ID))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, store.Abandon(ctx, fresh.ID))
	assert.ErrorIs(t, store.Abandon(ctx, fresh.ID), ErrSessionNotFound)
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"clip.mp4":              "clip.mp4",
		"../../etc/passwd":      "passwd",
		`C:\videos\my clip.mov`: "my_clip.mov",
		"":                      "upload",
		".hidden":               "hidden",
		"über video!.mp4":       "_ber_video_.mp4",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeFilename(in), in)
	}
}

func TestFinalizeAsRenames(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	sess, err := store.Begin(ctx, BeginOptions{})
	require.NoError(t, err)
	assert.Equal(t, "upload", sess.Filename)

	require.NoError(t, store.WriteChunk(ctx, sess.ID, 0, 1, strings.NewReader("x")))
	out, err := store.FinalizeAs(ctx, sess.ID, "holiday clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, "holiday_clip.mp4", out.Filename)
	assert.Equal(t, sess.ID+"_holiday_clip.mp4", filepath.Base(out.Path))
}

func TestConcurrentFinalizeHasOneWinner(t *testing.T) {
	ctx := context.Background()
	chunk := bytes.Repeat([]byte("v"), 64<<10)

	for iter := 0; iter < 10; iter++ {
		root := t.TempDir()
		store, err := New(NewMemoryRegistry(), Options{
			StagingDir:    filepath.Join(root, "chunks"),
			OutputDir:     filepath.Join(root, "uploads"),
			MaxChunkBytes: int64(len(chunk)),
		})
		require.NoError(t, err)

		sess, err := store.Begin(ctx, BeginOptions{Filename: "a.mp4", TotalChunks: 8})
		require.NoError(t, err)
		for i := 0; i < 8; i++ {
			require.NoError(t, store.WriteChunk(ctx, sess.ID, i, 8, bytes.NewReader(chunk)))
		}

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners []*Assembled
			losers  []error
		)
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				out, err := store.Finalize(ctx, sess.ID)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					losers = append(losers, err)
					return
				}
				winners = append(winners, out)
			}()
		}
		wg.Wait()

		require.Len(t, winners, 1, "iteration %d", iter)
		for _, err := range losers {
			assert.ErrorIs(t, err, ErrUpload)
		}

		info, err := os.Stat(winners[0].Path)
		require.NoError(t, err, "assembled file must survive the losing finalizers")
		assert.Equal(t, int64(8*len(chunk)), info.Size())

		entries, err := os.ReadDir(filepath.Join(root, "uploads"))
		require.NoError(t, err)
		assert.Len(t, entries, 1, "no temporary files left behind")
	}
}

func TestClaimedSessionRejectsWritesAndFinalize(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	sess, err := store.Begin(ctx, BeginOptions{Filename: "a.mp4", TotalChunks: 1})
	require.NoError(t, err)
	require.NoError(t, store.WriteChunk(ctx, sess.ID, 0, 1, strings.NewReader("x")))

	require.NoError(t, store.registry.Claim(ctx, sess.ID))
	assert.ErrorIs(t, store.registry.Claim(ctx, sess.ID), ErrFinalizing)

	_, err = store.Finalize(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrFinalizing)
	assert.ErrorIs(t, store.WriteChunk(ctx, sess.ID, 0, 1, strings.NewReader("y")), ErrFinalizing)

	status, err := store.Status(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, status.Finalizing)

	require.NoError(t, store.registry.Release(ctx, sess.ID))
	out, err := store.Finalize(ctx, sess.ID)
	require.NoError(t, err)
	data, err := os.ReadFile(out.Path)
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))
}

func TestFailedFinalizeReleasesSession(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	sess, err := store.Begin(ctx, BeginOptions{Filename: "a.mp4"})
	require.NoError(t, err)
	writeAll(t, store, sess.ID, []string{"aa", "bb"}, []int{0, 1})

	require.NoError(t, os.Remove(store.chunkPath(sess.ID, 1)))
	_, err = store.Finalize(ctx, sess.ID)
	require.Error(t, err)

	entries, err := os.ReadDir(store.outputDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	status, err := store.Status(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, status.Finalizing)

	require.NoError(t, store.WriteChunk(ctx, sess.ID, 1, 2, strings.NewReader("bb")))
	out, err := store.Finalize(ctx, sess.ID)
	require.NoError(t, err)
	data, err := os.ReadFile(out.Path)
	require.NoError(t, err)
	assert.Equal(t, "aabb", string(data))
}
