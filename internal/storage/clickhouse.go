package storage

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/gosight/neuroloop/internal/config"
)

type ClickHouse struct {
	conn driver.Conn
}

// EventRow represents a row in the telemetry_events table
type EventRow struct {
	EventID          string
	SessionID        string
	UserID           string
	Kind             string
	Timestamp        time.Time
	Route            string
	Component        string
	Browser          string
	OS               string
	DeviceType       string
	Country          string
	City             string
	Engagement       float64
	CognitiveLoad    float64
	AttentionFocus   float64
	LearningVelocity float64
	Payload          string
}

// RecoveryActionRow represents a row in the recovery_actions table
type RecoveryActionRow struct {
	ActionID    string
	SessionID   string
	Strategy    string
	Target      string
	Description string
	Priority    string
	AutoExecute uint8
	ExecutedAt  time.Time
	DurationMs  uint64
	Success     uint8
	Error       string
}

// InsightRow represents a row in the insights table
type InsightRow struct {
	InsightID        string
	SessionID        string
	Kind             string
	Title            string
	Description      string
	Confidence       float64
	Impact           string
	Actionable       uint8
	SuggestedActions []string
	Data             string
	Timestamp        time.Time
}

// SessionRow represents a row in the sessions table
type SessionRow struct {
	SessionID         string
	UserID            string
	StartedAt         time.Time
	EndedAt           time.Time
	DurationMs        uint64
	EventsCount       uint32
	Interactions      uint32
	Navigations       uint32
	LearningEvents    uint32
	PerformanceEvents uint32
	ErrorsCount       uint32
	EntryRoute        string
	ExitRoute         string
	IsBounced         uint8
}

func NewClickHouse(cfg config.ClickHouseConfig) (*ClickHouse, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	return &ClickHouse{conn: conn}, nil
}

func (c *ClickHouse) InsertEvents(ctx context.Context, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, `
		INSERT INTO telemetry_events (
			event_id, session_id, user_id, kind, timestamp,
			route, component,
			browser, os, device_type, country, city,
			engagement, cognitive_load, attention_focus, learning_velocity,
			payload
		)
	`)
	if err != nil {
		return err
	}

	for _, e := range events {
		err := batch.Append(
			e.EventID, e.SessionID, e.UserID, e.Kind, e.Timestamp,
			e.Route, e.Component,
			e.Browser, e.OS, e.DeviceType, e.Country, e.City,
			e.Engagement, e.CognitiveLoad, e.AttentionFocus, e.LearningVelocity,
			e.Payload,
		)
		if err != nil {
			return err
		}
	}

	return batch.Send()
}

func (c *ClickHouse) InsertRecoveryActions(ctx context.Context, actions []RecoveryActionRow) error {
	if len(actions) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, `
		INSERT INTO recovery_actions (
			action_id, session_id, strategy, target, description, priority,
			auto_execute, executed_at, duration_ms, success, error
		)
	`)
	if err != nil {
		return err
	}

	for _, a := range actions {
		err := batch.Append(
			a.ActionID, a.SessionID, a.Strategy, a.Target, a.Description, a.Priority,
			a.AutoExecute, a.ExecutedAt, a.DurationMs, a.Success, a.Error,
		)
		if err != nil {
			return err
		}
	}

	return batch.Send()
}

func (c *ClickHouse) InsertInsights(ctx context.Context, insights []InsightRow) error {
	if len(insights) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, `
		INSERT INTO insights (
			insight_id, session_id, kind, title, description,
			confidence, impact, actionable, suggested_actions, data, timestamp
		)
	`)
	if err != nil {
		return err
	}

	for _, in := range insights {
		err := batch.Append(
			in.InsightID, in.SessionID, in.Kind, in.Title, in.Description,
			in.Confidence, in.Impact, in.Actionable, in.SuggestedActions, in.Data, in.Timestamp,
		)
		if err != nil {
			return err
		}
	}

	return batch.Send()
}

// UpsertSession writes the session summary. The sessions table is a
// ReplacingMergeTree keyed by session_id, so later rows win.
func (c *ClickHouse) UpsertSession(ctx context.Context, session SessionRow) error {
	return c.conn.Exec(ctx, `
		INSERT INTO sessions (
			session_id, user_id,
			started_at, ended_at, duration_ms,
			events_count, interactions, navigations,
			learning_events, performance_events, errors_count,
			entry_route, exit_route, is_bounced
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		session.SessionID, session.UserID,
		session.StartedAt, session.EndedAt, session.DurationMs,
		session.EventsCount, session.Interactions, session.Navigations,
		session.LearningEvents, session.PerformanceEvents, session.ErrorsCount,
		session.EntryRoute, session.ExitRoute, session.IsBounced,
	)
}

func (c *ClickHouse) Close() error {
	return c.conn.Close()
}
