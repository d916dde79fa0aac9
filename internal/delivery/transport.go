// Package delivery sends finished segments and status messages to a recipient.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/shortsplit/pkg/logger"
	"github.com/your-org/shortsplit/pkg/retry"
)

var (
	// ErrTransportFailed is returned once a call has exhausted its retries.
	ErrTransportFailed = errors.New("transport failed")
	// ErrPermanent marks a failure that another attempt cannot fix.
	ErrPermanent = errors.New("permanent transport error")
)

// Transport is the messaging collaborator. Implementations must be safe for
// concurrent use by independent runs.
type Transport interface {
	SendText(ctx context.Context, recipient, text string) error
	SendFile(ctx context.Context, recipient, path, caption string) error
}

// Prober is implemented by transports that can check their connection.
type Prober interface {
	Probe(ctx context.Context) error
}

// Retrying applies a retry policy and a per-call timeout to every call of the
// wrapped transport.
type Retrying struct {
	next        Transport
	policy      retry.Policy
	callTimeout time.Duration
	logger      *zap.Logger
}

// NewRetrying wraps next. Errors wrapping ErrPermanent are not retried.
func NewRetrying(next Transport, maxAttempts int, backoff, callTimeout time.Duration, log *zap.Logger) *Retrying {
	r := &Retrying{
		next:        next,
		callTimeout: callTimeout,
		logger:      logger.Component(log, "delivery"),
	}
	r.policy = retry.Policy{
		MaxAttempts: maxAttempts,
		Backoff:     backoff,
		Retryable:   func(err error) bool { return !errors.Is(err, ErrPermanent) },
	}
	return r
}

func (r *Retrying) SendText(ctx context.Context, recipient, text string) error {
	return r.do(ctx, "send_text", func(ctx context.Context) error {
		return r.next.SendText(ctx, recipient, text)
	})
}

func (r *Retrying) SendFile(ctx context.Context, recipient, path, caption string) error {
	return r.do(ctx, "send_file", func(ctx context.Context) error {
		return r.next.SendFile(ctx, recipient, path, caption)
	})
}

// Probe forwards to the wrapped transport when it supports probing.
func (r *Retrying) Probe(ctx context.Context) error {
	p, ok := r.next.(Prober)
	if !ok {
		return nil
	}
	return r.do(ctx, "probe", p.Probe)
}

func (r *Retrying) do(ctx context.Context, op string, call func(context.Context) error) error {
	policy := r.policy
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		r.logger.Warn("delivery attempt failed",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", policy.MaxAttempts),
			zap.Duration("retry_in", wait),
			zap.Error(err),
		)
	}

	err := policy.Do(ctx, func(ctx context.Context) error {
		if r.callTimeout <= 0 {
			return call(ctx)
		}
		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
		return call(callCtx)
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTransportFailed, op, err)
	}
	return nil
}

// Announce probes t, sends an optional startup message to recipient, and opens
// gate. The gate stays closed on error.
func Announce(ctx context.Context, t Transport, recipient, message string, gate *Gate) error {
	if p, ok := t.(Prober); ok {
		if err := p.Probe(ctx); err != nil {
			return fmt.Errorf("probe transport: %w", err)
		}
	}
	if message != "" && recipient != "" {
		if err := t.SendText(ctx, recipient, message); err != nil {
			return fmt.Errorf("send startup message: %w", err)
		}
	}
	gate.MarkReady()
	return nil
}
