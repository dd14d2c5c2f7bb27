package archive

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosight/neuroloop/internal/config"
	"github.com/gosight/neuroloop/internal/healing"
	"github.com/gosight/neuroloop/internal/instrument"
	"github.com/gosight/neuroloop/internal/recommend"
	"github.com/gosight/neuroloop/internal/storage"
	"github.com/gosight/neuroloop/internal/telemetry"
	"github.com/gosight/neuroloop/internal/transformer"
)

var errSessionQueueFull = errors.New("session update queue full")

// Store receives flushed batches
type Store interface {
	InsertEvents(ctx context.Context, events []storage.EventRow) error
	InsertRecoveryActions(ctx context.Context, actions []storage.RecoveryActionRow) error
	InsertInsights(ctx context.Context, insights []storage.InsightRow) error
}

// SessionUpdater folds archived events into a session summary
type SessionUpdater interface {
	UpdateSession(ctx context.Context, event storage.EventRow) error
}

// Archiver buffers engine output and writes it to the analytics store in
// batches
type Archiver struct {
	store     Store
	sessions  SessionUpdater
	sessionID string
	batchCfg  config.BatchConfig

	eventBuffer   []storage.EventRow
	actionBuffer  []storage.RecoveryActionRow
	insightBuffer []storage.InsightRow

	mu       sync.Mutex
	stopped  bool
	sessionQ chan storage.EventRow
	flushNow chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// sessionQueueSize bounds the session updates waiting on Redis
const sessionQueueSize = 1024

// NewArchiver creates a new archiver and starts its flush loop. sessions
// may be nil.
func NewArchiver(store Store, sessions SessionUpdater, sessionID string, batchCfg config.BatchConfig) *Archiver {
	a := &Archiver{
		store:         store,
		sessions:      sessions,
		sessionID:     sessionID,
		batchCfg:      batchCfg,
		eventBuffer:   make([]storage.EventRow, 0, batchCfg.Size),
		actionBuffer:  make([]storage.RecoveryActionRow, 0, 16),
		insightBuffer: make([]storage.InsightRow, 0, 16),
		flushNow:      make(chan struct{}, 1),
		done:          make(chan struct{}),
	}

	a.wg.Add(1)
	go a.flushLoop()

	if sessions != nil {
		a.sessionQ = make(chan storage.EventRow, sessionQueueSize)
		a.wg.Add(1)
		go a.sessionLoop()
	}

	return a
}

// RecordEvent buffers a captured event
func (a *Archiver) RecordEvent(ev telemetry.Event) {
	row := transformer.TransformEvent(ev)

	a.mu.Lock()
	a.eventBuffer = append(a.eventBuffer, row)
	shouldFlush := len(a.eventBuffer) >= a.batchCfg.Size
	if a.sessionQ != nil && !a.stopped {
		select {
		case a.sessionQ <- row:
		default:
			countRows("sessions", 1, errSessionQueueFull)
			log.Warn().Str("session_id", row.SessionID).Msg("Session update queue full, dropping update")
		}
	}
	a.mu.Unlock()

	if shouldFlush {
		a.requestFlush()
	}
}

// RecordAction buffers an executed recovery action
func (a *Archiver) RecordAction(action healing.RecoveryAction) {
	a.mu.Lock()
	a.actionBuffer = append(a.actionBuffer, transformer.TransformRecoveryAction(a.sessionID, action))
	a.mu.Unlock()
}

// RecordInsight buffers a generated insight
func (a *Archiver) RecordInsight(in recommend.Insight) {
	a.mu.Lock()
	a.insightBuffer = append(a.insightBuffer, transformer.TransformInsight(a.sessionID, in))
	a.mu.Unlock()
}

// sessionLoop applies session updates in arrival order until the queue is
// closed
func (a *Archiver) sessionLoop() {
	defer a.wg.Done()

	for row := range a.sessionQ {
		err := a.sessions.UpdateSession(context.Background(), row)
		countRows("sessions", 1, err)
		if err != nil {
			log.Error().
				Err(err).
				Str("session_id", row.SessionID).
				Str("event_id", row.EventID).
				Msg("Failed to update session summary")
		}
	}
}

// requestFlush wakes the flush loop without blocking the caller, which
// may be inside an engine hook
func (a *Archiver) requestFlush() {
	select {
	case a.flushNow <- struct{}{}:
	default:
	}
}

func (a *Archiver) flushLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.batchCfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
			a.Flush()
		case <-a.flushNow:
			a.Flush()
		}
	}
}

// Flush writes all buffered rows to the store
func (a *Archiver) Flush() {
	a.mu.Lock()
	if len(a.eventBuffer) == 0 && len(a.actionBuffer) == 0 && len(a.insightBuffer) == 0 {
		a.mu.Unlock()
		return
	}

	events := a.eventBuffer
	actions := a.actionBuffer
	insights := a.insightBuffer

	a.eventBuffer = make([]storage.EventRow, 0, a.batchCfg.Size)
	a.actionBuffer = make([]storage.RecoveryActionRow, 0, 16)
	a.insightBuffer = make([]storage.InsightRow, 0, 16)
	a.mu.Unlock()

	ctx := context.Background()
	start := time.Now()

	if len(events) > 0 {
		err := a.store.InsertEvents(ctx, events)
		countRows("telemetry_events", len(events), err)
		if err != nil {
			log.Error().Err(err).Int("count", len(events)).Msg("Failed to insert telemetry events")
		} else {
			log.Info().
				Int("count", len(events)).
				Dur("duration", time.Since(start)).
				Msg("Flushed telemetry events to ClickHouse")
		}
	}

	if len(actions) > 0 {
		err := a.store.InsertRecoveryActions(ctx, actions)
		countRows("recovery_actions", len(actions), err)
		if err != nil {
			log.Error().Err(err).Int("count", len(actions)).Msg("Failed to insert recovery actions")
		} else {
			log.Debug().Int("count", len(actions)).Msg("Flushed recovery actions to ClickHouse")
		}
	}

	if len(insights) > 0 {
		err := a.store.InsertInsights(ctx, insights)
		countRows("insights", len(insights), err)
		if err != nil {
			log.Error().Err(err).Int("count", len(insights)).Msg("Failed to insert insights")
		} else {
			log.Debug().Int("count", len(insights)).Msg("Flushed insights to ClickHouse")
		}
	}
}

func countRows(table string, n int, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	instrument.ArchivedRows.WithLabelValues(table, outcome).Add(float64(n))
}

// Stop stops the flush loop, waits for pending session updates and
// flushes what is left
func (a *Archiver) Stop() {
	a.stopOnce.Do(func() {
		a.mu.Lock()
		a.stopped = true
		if a.sessionQ != nil {
			close(a.sessionQ)
		}
		a.mu.Unlock()

		close(a.done)
		a.wg.Wait()
		a.Flush()
	})
}
