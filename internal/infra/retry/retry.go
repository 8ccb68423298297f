package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy параметры повторов с экспоненциальной задержкой.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy используется, если параметры не заданы.
var DefaultPolicy = Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}

// Permanent помечает ошибку как неповторяемую.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do выполняет op до MaxAttempts раз; задержка удваивается начиная с BaseDelay.
// Ошибки, обёрнутые Permanent, возвращаются сразу. onRetry вызывается перед
// каждой повторной попыткой и может быть nil.
func Do(ctx context.Context, p Policy, op func(attempt int) error, onRetry func(err error, wait time.Duration)) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultPolicy.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultPolicy.MaxDelay
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = p.MaxDelay
	exp.MaxElapsedTime = 0
	exp.Reset()

	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.MaxAttempts-1)), ctx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		return op(attempt)
	}, policy, func(err error, wait time.Duration) {
		if onRetry != nil {
			onRetry(err, wait)
		}
	})
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}
