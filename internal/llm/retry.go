package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"
)

// Retry bounds for rate-limited calls. The floor gives the provider's
// per-minute rolling window time to actually recover; an advised wait of a
// few hundred milliseconds would otherwise re-trigger the limit instantly.
const (
	minRateLimitWait = 15 * time.Second
	maxRateLimitWait = 90 * time.Second
	// DefaultMaxAttempts bounds the retry loop when config does not override.
	DefaultMaxAttempts = 8
)

// ErrRetriesExhausted is returned when every attempt was rate limited.
var ErrRetriesExhausted = errors.New("llm: rate-limit retries exhausted")

// advisedWaitRe matches the "try again in 531ms" / "try again in 2.5s"
// phrasing providers embed in 429 bodies.
var advisedWaitRe = regexp.MustCompile(`try again in ([0-9]+(?:\.[0-9]+)?)\s*(ms|s)`)

// ParseAdvisedWait extracts the provider-advised retry interval from a
// rate-limit message, or zero when absent.
func ParseAdvisedWait(msg string) time.Duration {
	m := advisedWaitRe.FindStringSubmatch(msg)
	if m == nil {
		return 0
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	switch m[2] {
	case "ms":
		return time.Duration(value * float64(time.Millisecond))
	default:
		return time.Duration(value * float64(time.Second))
	}
}

// RateLimitWait computes the sleep before retry attempt (0-based):
// max(15s, min(90s, advised or 2^(attempt+4) seconds)).
func RateLimitWait(attempt int, advised time.Duration) time.Duration {
	wait := advised
	if wait <= 0 {
		wait = time.Duration(1<<uint(attempt+4)) * time.Second // #nosec G115 - attempt is small
	}
	if wait > maxRateLimitWait {
		wait = maxRateLimitWait
	}
	if wait < minRateLimitWait {
		wait = minRateLimitWait
	}
	return wait
}

// Summarize calls the client under the rate-limit retry policy. Failures
// other than rate limits return immediately.
func Summarize(ctx context.Context, client Client, logger *slog.Logger, maxAttempts int, systemPrompt, userPrompt string) (string, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		text, err := client.Summarize(ctx, systemPrompt, userPrompt)
		if err == nil {
			return text, nil
		}

		var rle *RateLimitError
		if !errors.As(err, &rle) {
			return "", err
		}
		lastErr = err

		wait := RateLimitWait(attempt, rle.Advised)
		logger.Warn("model rate limited, backing off",
			"attempt", attempt+1, "max_attempts", maxAttempts, "wait", wait)

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("llm: context cancelled: %w", ctx.Err())
		case <-time.After(wait):
		}
	}

	return "", fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, maxAttempts, lastErr)
}
