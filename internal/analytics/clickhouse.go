package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/patrickwarner/openpersonalize/internal/models"
	"github.com/patrickwarner/openpersonalize/internal/observability"
)

// InteractionSink receives captured interactions. Callers treat it as fire
// and forget; an error is reported but never fails the originating request.
type InteractionSink interface {
	RecordInteraction(ctx context.Context, ev models.InteractionEvent) error
}

// InteractionReader summarizes stored interactions.
type InteractionReader interface {
	Summarize(ctx context.Context, userID string, since time.Time) (*models.InteractionSummary, error)
}

// ErrUnavailable is returned when the analytics DB is not configured.
var ErrUnavailable = errors.New("analytics unavailable")

// PoolConfig sizes the ClickHouse connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Analytics wraps a ClickHouse DB connection.
type Analytics struct {
	DB      *sql.DB
	Metrics observability.MetricsRegistry
	Logger  *zap.Logger
}

const createInteractions = `CREATE TABLE IF NOT EXISTS interactions (
       timestamp    DateTime64(3),
       id           String,
       user_id      String,
       event_type   LowCardinality(String),
       resource_id  String,
       category     LowCardinality(String),
       format       LowCardinality(String),
       persona      LowCardinality(String),
       value        Float64,
       device_type  LowCardinality(String),
       country      LowCardinality(String),
       metadata     Map(String, String)
   ) ENGINE=MergeTree() ORDER BY (user_id, timestamp)`

// InitClickHouse connects to ClickHouse and ensures the interactions table exists.
func InitClickHouse(ctx context.Context, dsn string, pool PoolConfig, metrics observability.MetricsRegistry, logger *zap.Logger) (*Analytics, error) {
	conn, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		conn.SetMaxIdleConns(pool.MaxIdleConns)
	}
	conn.SetConnMaxLifetime(pool.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	a := NewAnalytics(conn, metrics, logger)
	if err := a.EnsureSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	a.Logger.Info("Connected to ClickHouse")
	return a, nil
}

// NewAnalytics wraps an open connection.
func NewAnalytics(conn *sql.DB, metrics observability.MetricsRegistry, logger *zap.Logger) *Analytics {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analytics{DB: conn, Metrics: metrics, Logger: logger}
}

// EnsureSchema creates the interactions table when missing.
func (a *Analytics) EnsureSchema(ctx context.Context) error {
	if a == nil || a.DB == nil {
		return ErrUnavailable
	}
	if _, err := a.DB.ExecContext(ctx, createInteractions); err != nil {
		return fmt.Errorf("clickhouse create table: %w", err)
	}
	return nil
}

// RecordInteraction inserts a single interaction row.
func (a *Analytics) RecordInteraction(ctx context.Context, ev models.InteractionEvent) error {
	if a == nil || a.DB == nil {
		return ErrUnavailable
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	meta := ev.Metadata
	if meta == nil {
		meta = map[string]string{}
	}

	stmt := `INSERT INTO interactions (timestamp, id, user_id, event_type, resource_id, category, format, persona, value, device_type, country, metadata) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := a.DB.ExecContext(ctx, stmt, ts.UTC(), ev.ID, ev.UserID, string(ev.EventType), ev.ResourceID, ev.Category, ev.Format, string(ev.Persona), ev.Value, ev.DeviceType, ev.Country, meta); err != nil {
		a.Metrics.IncrementInteractionErrors("sink")
		a.Logger.Error("clickhouse insert failed", zap.Error(err), zap.String("event_type", string(ev.EventType)))
		return fmt.Errorf("insert %s interaction: %w", ev.EventType, err)
	}
	return nil
}

// Summarize counts a user's interactions since the given time by event type
// and category.
func (a *Analytics) Summarize(ctx context.Context, userID string, since time.Time) (*models.InteractionSummary, error) {
	if a == nil || a.DB == nil {
		return nil, ErrUnavailable
	}
	query := `SELECT event_type, category, count(), max(timestamp) FROM interactions WHERE user_id = ? AND timestamp >= ? GROUP BY event_type, category ORDER BY event_type, category`
	rows, err := a.DB.QueryContext(ctx, query, userID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query interactions: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			a.Logger.Warn("rows close", zap.Error(err))
		}
	}()

	sum := &models.InteractionSummary{
		UserID:     userID,
		Since:      since,
		ByType:     map[models.EventType]int64{},
		ByCategory: map[string]int64{},
	}
	for rows.Next() {
		var (
			eventType, category string
			n                   uint64
			last                time.Time
		)
		if err := rows.Scan(&eventType, &category, &n, &last); err != nil {
			return nil, fmt.Errorf("scan interaction summary: %w", err)
		}
		count := int64(n)
		sum.Total += count
		sum.ByType[models.EventType(eventType)] += count
		if category != "" {
			sum.ByCategory[category] += count
		}
		if last.After(sum.LastSeen) {
			sum.LastSeen = last
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return sum, nil
}

// Close terminates the ClickHouse connection.
func (a *Analytics) Close() {
	if a != nil && a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error("clickhouse close", zap.Error(err))
		}
	}
}
