package cache

import (
	"context"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
)

// SubmissionLimiter counts submissions per client in fixed windows.
type SubmissionLimiter struct {
	client *redisv9.Client
	limit  int
	window time.Duration
}

func NewSubmissionLimiter(client *redisv9.Client, limit int, window time.Duration) *SubmissionLimiter {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &SubmissionLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Allow records one attempt for clientKey and reports whether it is within
// the limit for the current window.
func (l *SubmissionLimiter) Allow(ctx context.Context, clientKey string) (bool, error) {
	key := l.windowKey(clientKey, time.Now())

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis incr submission counter failed: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return false, fmt.Errorf("redis expire submission counter failed: %w", err)
		}
	}
	return count <= int64(l.limit), nil
}

func (l *SubmissionLimiter) windowKey(clientKey string, now time.Time) string {
	bucket := now.UnixNano() / int64(l.window)
	return fmt.Sprintf("questionnaire:submit:%s:%d", clientKey, bucket)
}
