package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"questionnaire/internal/model"
)

const (
	statsTotalKey  = "questionnaire:stats:submitted:total"
	statsDayPrefix = "questionnaire:stats:submitted:day:"
	statsDayTTL    = 8 * 24 * time.Hour
)

type SubmissionCounts struct {
	Total int64 `json:"total"`
	Today int64 `json:"today"`
}

// SubmissionStats keeps broker-fed submission counters.
type SubmissionStats struct {
	client *redisv9.Client
}

func NewSubmissionStats(client *redisv9.Client) *SubmissionStats {
	return &SubmissionStats{client: client}
}

func (s *SubmissionStats) Record(ctx context.Context, event model.SubmissionEvent) error {
	at := event.SubmittedAt
	if at.IsZero() {
		at = time.Now()
	}
	dayKey := dayKey(at)

	pipe := s.client.TxPipeline()
	pipe.Incr(ctx, statsTotalKey)
	pipe.Incr(ctx, dayKey)
	pipe.Expire(ctx, dayKey, statsDayTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis record submission failed: %w", err)
	}
	return nil
}

func (s *SubmissionStats) Counts(ctx context.Context, now time.Time) (SubmissionCounts, error) {
	values, err := s.client.MGet(ctx, statsTotalKey, dayKey(now)).Result()
	if err != nil && !errors.Is(err, redisv9.Nil) {
		return SubmissionCounts{}, fmt.Errorf("redis read submission counts failed: %w", err)
	}

	var counts SubmissionCounts
	if len(values) == 2 {
		counts.Total = parseCounter(values[0])
		counts.Today = parseCounter(values[1])
	}
	return counts, nil
}

func dayKey(t time.Time) string {
	return statsDayPrefix + t.UTC().Format("2006-01-02")
}

func parseCounter(v interface{}) int64 {
	raw, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
