package vault

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/vault/api"

	"github.com/jmcleod/hubpki/errs"
)

func (a *Adapter) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.cfg.Retry.InitialInterval
	b.MaxInterval = a.cfg.Retry.MaxInterval
	b.MaxElapsedTime = a.cfg.Retry.MaxElapsedTime
	b.RandomizationFactor = 0.5
	if a.cfg.Retry.MaxRetries > 0 {
		return backoff.WithMaxRetries(b, uint64(a.cfg.Retry.MaxRetries))
	}
	return b
}

// retry runs fn until it succeeds, fails permanently or the policy is
// exhausted. Exhaustion on a transient error yields a *errs.ConnectionError.
func (a *Adapter) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var transient bool
	attempt := func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		transient = false
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return err
		}
		if ctx.Err() != nil || !IsTransient(err) {
			return backoff.Permanent(err)
		}
		transient = true
		return err
	}
	notify := func(err error, wait time.Duration) {
		a.logger.Warn("transient vault error, retrying",
			slog.String("op", op),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	}

	err := backoff.RetryNotify(attempt, backoff.WithContext(a.newBackOff(), ctx), notify)
	if err == nil {
		return nil
	}
	if transient {
		return &errs.ConnectionError{Op: op, Err: err}
	}
	return err
}

// IsTransient reports whether err is worth retrying: connection refused or
// reset, timeouts, and HTTP 429, 500, 502, 503 and 504.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var respErr *api.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
