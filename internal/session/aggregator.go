package session

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/gosight/neuroloop/internal/storage"
	"github.com/gosight/neuroloop/internal/telemetry"
)

const (
	keyPrefix  = "session:"
	sessionTTL = time.Hour
)

// Writer persists flushed session summaries
type Writer interface {
	UpsertSession(ctx context.Context, session storage.SessionRow) error
}

// Aggregator keeps a running per-session summary in Redis
type Aggregator struct {
	redis  *redis.Client
	writer Writer
}

// NewAggregator creates a new session aggregator. writer may be nil, in
// which case sessions are only tracked in Redis.
func NewAggregator(rdb *redis.Client, writer Writer) *Aggregator {
	return &Aggregator{
		redis:  rdb,
		writer: writer,
	}
}

// UpdateSession folds one archived event into its session hash
func (a *Aggregator) UpdateSession(ctx context.Context, event storage.EventRow) error {
	if a.redis == nil || event.SessionID == "" {
		return nil
	}

	key := keyPrefix + event.SessionID
	pipe := a.redis.Pipeline()

	pipe.HSet(ctx, key, "ended_at", event.Timestamp.UnixMilli())
	pipe.HIncrBy(ctx, key, "events_count", 1)

	switch telemetry.Kind(event.Kind) {
	case telemetry.KindInteraction:
		pipe.HIncrBy(ctx, key, "interactions", 1)
	case telemetry.KindNavigation:
		pipe.HIncrBy(ctx, key, "navigations", 1)
		pipe.HSetNX(ctx, key, "entry_route", event.Route)
		pipe.HSet(ctx, key, "exit_route", event.Route)
	case telemetry.KindLearning:
		pipe.HIncrBy(ctx, key, "learning", 1)
	case telemetry.KindPerformance:
		pipe.HIncrBy(ctx, key, "performance", 1)
	case telemetry.KindError:
		pipe.HIncrBy(ctx, key, "errors", 1)
	}

	pipe.HSetNX(ctx, key, "user_id", event.UserID)
	pipe.HSetNX(ctx, key, "started_at", event.Timestamp.UnixMilli())
	pipe.Expire(ctx, key, sessionTTL)

	_, err := pipe.Exec(ctx)
	if err != nil {
		log.Error().Err(err).Str("session_id", event.SessionID).Msg("Failed to update session in Redis")
	}
	return err
}

// Summary reads the current session summary without flushing it
func (a *Aggregator) Summary(ctx context.Context, sessionID string) (storage.SessionRow, bool, error) {
	data, err := a.redis.HGetAll(ctx, keyPrefix+sessionID).Result()
	if err != nil {
		return storage.SessionRow{}, false, err
	}
	if len(data) == 0 {
		return storage.SessionRow{}, false, nil
	}
	return parseSessionData(sessionID, data), true, nil
}

// FlushSession writes the session summary and removes it from Redis
func (a *Aggregator) FlushSession(ctx context.Context, sessionID string) error {
	if a.redis == nil || a.writer == nil {
		return nil
	}

	key := keyPrefix + sessionID
	data, err := a.redis.HGetAll(ctx, key).Result()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	if err := a.writer.UpsertSession(ctx, parseSessionData(sessionID, data)); err != nil {
		return err
	}

	// Only delete after a successful write
	return a.redis.Del(ctx, key).Err()
}

func parseSessionData(sessionID string, data map[string]string) storage.SessionRow {
	session := storage.SessionRow{
		SessionID:  sessionID,
		UserID:     data["user_id"],
		EntryRoute: data["entry_route"],
		ExitRoute:  data["exit_route"],
	}

	if ms, err := strconv.ParseInt(data["started_at"], 10, 64); err == nil {
		session.StartedAt = time.UnixMilli(ms)
	}
	if ms, err := strconv.ParseInt(data["ended_at"], 10, 64); err == nil {
		session.EndedAt = time.UnixMilli(ms)
	}
	if !session.StartedAt.IsZero() && session.EndedAt.After(session.StartedAt) {
		session.DurationMs = uint64(session.EndedAt.Sub(session.StartedAt).Milliseconds())
	}

	session.EventsCount = parseCount(data["events_count"])
	session.Interactions = parseCount(data["interactions"])
	session.Navigations = parseCount(data["navigations"])
	session.LearningEvents = parseCount(data["learning"])
	session.PerformanceEvents = parseCount(data["performance"])
	session.ErrorsCount = parseCount(data["errors"])

	// A session that never left its entry route bounced
	if session.Navigations <= 1 {
		session.IsBounced = 1
	}

	return session
}

func parseCount(v string) uint32 {
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

// FlushAllSessions flushes every tracked session
func (a *Aggregator) FlushAllSessions(ctx context.Context) error {
	if a.redis == nil {
		return nil
	}

	iter := a.redis.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	var flushed int
	for iter.Next(ctx) {
		sessionID := strings.TrimPrefix(iter.Val(), keyPrefix)
		if err := a.FlushSession(ctx, sessionID); err != nil {
			log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to flush session")
			continue
		}
		flushed++
	}
	if err := iter.Err(); err != nil {
		return err
	}

	log.Debug().Int("sessions", flushed).Msg("Flushed sessions")
	return nil
}

// Close closes the Redis client
func (a *Aggregator) Close() error {
	if a.redis != nil {
		return a.redis.Close()
	}
	return nil
}
