package broker

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// retryPolicy retries transient failures with exponential backoff and jitter.
type retryPolicy struct {
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

var defaultRetryPolicy = retryPolicy{
	maxRetries:     3,
	initialBackoff: 1 * time.Second,
	maxBackoff:     30 * time.Second,
}

// do runs fn, retrying up to maxRetries times on transient errors.
func (p retryPolicy) do(ctx context.Context, logger *logrus.Logger, op string, fn func() error) error {
	var lastErr error
	backoff := p.initialBackoff

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("%s canceled: %w", op, ctx.Err())
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !retriable(err) || attempt == p.maxRetries {
			break
		}
		logger.WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt + 1,
			"backoff": backoff,
		}).Warnf("transient error, retrying: %v", err)

		select {
		case <-time.After(backoff):
			backoff = p.nextBackoff(backoff)
		case <-ctx.Done():
			return fmt.Errorf("%s canceled during backoff: %w", op, ctx.Err())
		}
	}
	return lastErr
}

func (p retryPolicy) nextBackoff(current time.Duration) time.Duration {
	backoff := current * 2
	if backoff > p.maxBackoff {
		backoff = p.maxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		if jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter)); err == nil {
			backoff += time.Duration(jitterVal.Int64())
		}
	}
	return backoff
}

func retriable(err error) bool {
	if err == nil {
		return false
	}
	if IsTransient(err) {
		return true
	}
	// Network-level failures arrive untyped from the HTTP client.
	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"server error",
		"rate limit",
		"429",
		"502",
		"503",
		"504",
		"network",
		"dns",
		"tcp",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
