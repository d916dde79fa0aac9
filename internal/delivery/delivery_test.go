package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyTransport fails the first failures calls of each kind.
type flakyTransport struct {
	mu       sync.Mutex
	failures int
	err      error
	texts    []string
	files    []string
	calls    int
	probed   bool
}

func (f *flakyTransport) attempt() error {
	f.calls++
	if f.calls <= f.failures {
		if f.err != nil {
			return f.err
		}
		return errors.New("connection reset by peer")
	}
	return nil
}

func (f *flakyTransport) SendText(_ context.Context, _, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.attempt(); err != nil {
		return err
	}
	f.texts = append(f.texts, text)
	return nil
}

func (f *flakyTransport) SendFile(_ context.Context, _, path, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.attempt(); err != nil {
		return err
	}
	f.files = append(f.files, path)
	return nil
}

func (f *flakyTransport) Probe(context.Context) error {
	f.probed = true
	return nil
}

func TestRetryingSucceedsOnThirdAttempt(t *testing.T) {
	next := &flakyTransport{failures: 2}
	r := NewRetrying(next, 3, time.Millisecond, time.Second, nil)

	require.NoError(t, r.SendFile(context.Background(), "42", "part_1.mp4", "Part 1/3"))
	assert.Equal(t, 3, next.calls)
	assert.Equal(t, []string{"part_1.mp4"}, next.files)
}

func TestRetryingEscalatesAfterMaxAttempts(t *testing.T) {
	next := &flakyTransport{failures: 3}
	r := NewRetrying(next, 3, time.Millisecond, time.Second, nil)

	err := r.SendText(context.Background(), "42", "hello")
	require.ErrorIs(t, err, ErrTransportFailed)
	assert.Equal(t, 3, next.calls)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestRetryingDoesNotRetryPermanentErrors(t *testing.T) {
	next := &flakyTransport{failures: 5, err: ErrPermanent}
	r := NewRetrying(next, 3, time.Millisecond, time.Second, nil)

	err := r.SendText(context.Background(), "42", "hello")
	require.ErrorIs(t, err, ErrTransportFailed)
	assert.ErrorIs(t, err, ErrPermanent)
	assert.Equal(t, 1, next.calls)
}

type slowTransport struct{ flakyTransport }

func (s *slowTransport) SendText(ctx context.Context, _, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRetryingAppliesCallTimeout(t *testing.T) {
	r := NewRetrying(&slowTransport{}, 2, time.Millisecond, 10*time.Millisecond, nil)

	err := r.SendText(context.Background(), "42", "hello")
	require.ErrorIs(t, err, ErrTransportFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGate(t *testing.T) {
	g := NewGate()
	assert.False(t, g.IsReady())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.Wait(ctx), context.DeadlineExceeded)

	waited := make(chan error, 1)
	go func() { waited <- g.Wait(context.Background()) }()

	g.MarkReady()
	g.MarkReady()

	require.NoError(t, <-waited)
	assert.True(t, g.IsReady())
	select {
	case <-g.Ready():
	default:
		t.Fatal("Ready channel should be closed")
	}
}

func TestAnnounceOpensGate(t *testing.T) {
	next := &flakyTransport{}
	gate := NewGate()

	require.NoError(t, Announce(context.Background(), next, "42", "Bot is online and ready", gate))
	assert.True(t, next.probed)
	assert.Equal(t, []string{"Bot is online and ready"}, next.texts)
	assert.True(t, gate.IsReady())
}

func TestAnnounceKeepsGateClosedOnFailure(t *testing.T) {
	gate := NewGate()
	err := Announce(context.Background(), &flakyTransport{failures: 1}, "42", "hi", gate)
	require.Error(t, err)
	assert.False(t, gate.IsReady())
}
