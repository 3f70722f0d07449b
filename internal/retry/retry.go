// Package retry classifies upstream failures and retries the retryable ones
// with exponential backoff.
package retry

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"net/http"
	"syscall"
	"time"
)

// Kind is the retry class of a failure, decided where the failure is produced.
type Kind int

const (
	KindPermanent Kind = iota
	KindTransient
	KindRateLimited
	KindConcurrencyLimit
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindConcurrencyLimit:
		return "concurrency_limit"
	default:
		return "permanent"
	}
}

// Retryable reports whether the generic retry loop may try again.
// Concurrency-limit rejections are handled by their caller instead.
func (k Kind) Retryable() bool {
	return k == KindTransient || k == KindRateLimited
}

// Kinded is implemented by errors that know their own retry class.
type Kinded interface {
	RetryKind() Kind
}

// KindForStatus maps an HTTP status code to a retry class.
func KindForStatus(code int) Kind {
	switch code {
	case http.StatusTooManyRequests:
		return KindRateLimited
	case http.StatusRequestTimeout,
		http.StatusConflict,
		http.StatusTooEarly,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return KindTransient
	default:
		return KindPermanent
	}
}

// Classify returns the retry class of err. Errors that carry their own kind
// win; otherwise transport faults are transient and everything else is permanent.
func Classify(err error) Kind {
	if err == nil {
		return KindPermanent
	}

	var kinded Kinded
	if errors.As(err, &kinded) {
		return kinded.RetryKind()
	}

	if errors.Is(err, context.Canceled) {
		return KindPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return KindTransient
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindTransient
	}

	return KindPermanent
}

// Policy bounds how often and how slowly a call is retried.
type Policy struct {
	MaxRetries         int
	BaseDelay          time.Duration
	RateLimitBaseDelay time.Duration
	MaxDelay           time.Duration
	Jitter             time.Duration

	// Sleep waits between attempts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, delay time.Duration)
	// Classify overrides the package-level Classify.
	Classify func(err error) Kind
}

// DefaultPolicy is two retries, 500ms base, 2s base for rate limits.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:         2,
		BaseDelay:          500 * time.Millisecond,
		RateLimitBaseDelay: 2 * time.Second,
		MaxDelay:           20 * time.Second,
		Jitter:             250 * time.Millisecond,
	}
}

// Delay returns the wait before retry number attempt (0-based) for a failure of kind.
func (p Policy) Delay(attempt int, kind Kind) time.Duration {
	base := p.BaseDelay
	if kind == KindRateLimited && p.RateLimitBaseDelay > 0 {
		base = p.RateLimitBaseDelay
	}
	d := base << uint(attempt)
	if p.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(p.Jitter)))
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do runs fn until it succeeds, fails with a non-retryable error, or has
// been attempted MaxRetries+1 times. The last error is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	classify := p.Classify
	if classify == nil {
		classify = Classify
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for attempt := 0; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return ctxErr
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}

		kind := classify(err)
		if !kind.Retryable() || attempt >= p.MaxRetries {
			return err
		}
		// The caller's own deadline is not something another attempt can fix.
		if ctx.Err() != nil {
			return err
		}

		delay := p.Delay(attempt, kind)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err, delay)
		}
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
