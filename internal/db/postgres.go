package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/patrickwarner/openpersonalize/internal/models"
)

// Postgres wraps a postgres DB connection. It implements both
// models.RuleStore and models.CatalogStore.
type Postgres struct {
	DB *sql.DB
}

// schemaSQL sets up the necessary tables if they don't exist.
const schemaSQL = `CREATE TABLE IF NOT EXISTS personalization_rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    condition JSONB NOT NULL,
    action JSONB NOT NULL,
    priority INT NOT NULL DEFAULT 0,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS catalog_items (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL CHECK (kind IN ('content', 'service')),
    title TEXT NOT NULL,
    category TEXT,
    format TEXT,
    tags TEXT[] NOT NULL DEFAULT '{}',
    target_personas TEXT[] NOT NULL DEFAULT '{}',
    views BIGINT NOT NULL DEFAULT 0,
    rating DOUBLE PRECISION NOT NULL DEFAULT 0,
    engagement_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    conversion_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
    last_updated TIMESTAMPTZ,
    is_active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE INDEX IF NOT EXISTS idx_rules_active_priority ON personalization_rules (is_active, priority DESC, id);
CREATE INDEX IF NOT EXISTS idx_catalog_kind_active ON catalog_items (kind, is_active);
CREATE INDEX IF NOT EXISTS idx_catalog_tags ON catalog_items USING GIN (tags);
CREATE INDEX IF NOT EXISTS idx_catalog_personas ON catalog_items USING GIN (target_personas);
`

const ruleColumns = `id, name, condition, action, priority, is_active, created_at, updated_at`

const catalogColumns = `id, kind, title, category, format, tags, target_personas, views, rating, engagement_score, conversion_rate, last_updated, is_active`

// InitPostgres connects to Postgres with connection pooling configuration.
func InitPostgres(ctx context.Context, dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*Postgres, error) {
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(
			attribute.String("db.system", "postgresql"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	p := &Postgres{DB: db}
	if err := p.ensureSchema(ctx); err != nil {
		return nil, err
	}
	zap.L().Info("Connected to Postgres with connection pooling",
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns),
		zap.Duration("conn_max_lifetime", connMaxLifetime))
	return p, nil
}

// Close terminates the Postgres connection.
func (p *Postgres) Close() {
	if p != nil && p.DB != nil {
		if err := p.DB.Close(); err != nil {
			zap.L().Error("postgres close", zap.Error(err))
		}
	}
}

// ensureSchema creates the required tables if they do not exist.
func (p *Postgres) ensureSchema(ctx context.Context) error {
	if _, err := p.DB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// ListActiveRules returns active rules ordered by priority descending, id ascending.
func (p *Postgres) ListActiveRules(ctx context.Context) ([]models.PersonalizationRule, error) {
	return p.queryRules(ctx, `SELECT `+ruleColumns+` FROM personalization_rules WHERE is_active ORDER BY priority DESC, id ASC`)
}

// ListRules returns every rule in evaluation order.
func (p *Postgres) ListRules(ctx context.Context) ([]models.PersonalizationRule, error) {
	return p.queryRules(ctx, `SELECT `+ruleColumns+` FROM personalization_rules ORDER BY priority DESC, id ASC`)
}

// GetRule returns a single rule or models.ErrNotFound.
func (p *Postgres) GetRule(ctx context.Context, id string) (*models.PersonalizationRule, error) {
	rules, err := p.queryRules(ctx, `SELECT `+ruleColumns+` FROM personalization_rules WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, models.ErrNotFound
	}
	return &rules[0], nil
}

func (p *Postgres) queryRules(ctx context.Context, query string, args ...any) ([]models.PersonalizationRule, error) {
	rows, err := p.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var rules []models.PersonalizationRule
	for rows.Next() {
		var (
			r            models.PersonalizationRule
			cond, action []byte
		)
		if err := rows.Scan(&r.ID, &r.Name, &cond, &action, &r.Priority, &r.IsActive, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		r.Condition = DecodeStoredCondition(r.ID, cond)
		r.Action = DecodeStoredAction(r.ID, action)
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return rules, nil
}

// DecodeStoredCondition decodes a persisted condition. Rows written by other
// producers may carry types or payloads this build cannot read; those become
// UnknownCondition so the rule degrades instead of failing the whole load.
func DecodeStoredCondition(ruleID string, raw []byte) models.RuleCondition {
	cond, err := models.UnmarshalCondition(raw)
	if err != nil || cond == nil {
		zap.L().Warn("unreadable rule condition", zap.String("rule_id", ruleID), zap.Error(err))
		return models.UnknownCondition{Kind: "unreadable", Value: append([]byte(nil), raw...)}
	}
	return cond
}

// DecodeStoredAction is DecodeStoredCondition for actions.
func DecodeStoredAction(ruleID string, raw []byte) models.RuleAction {
	action, err := models.UnmarshalAction(raw)
	if err != nil || action == nil {
		zap.L().Warn("unreadable rule action", zap.String("rule_id", ruleID), zap.Error(err))
		return models.UnknownAction{Kind: "unreadable", Payload: append([]byte(nil), raw...)}
	}
	return action
}

// uniqueViolation is the Postgres SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// InsertRule stores a new rule or returns models.ErrConflict when the id is
// already taken.
func (p *Postgres) InsertRule(ctx context.Context, r models.PersonalizationRule) error {
	cond, action, err := encodeRule(r)
	if err != nil {
		return err
	}
	_, err = p.DB.ExecContext(ctx,
		`INSERT INTO personalization_rules (`+ruleColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		r.ID, r.Name, cond, action, r.Priority, r.IsActive, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return insertRuleError(r.ID, err)
	}
	return nil
}

func insertRuleError(id string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("rule %s: %w", id, models.ErrConflict)
	}
	return fmt.Errorf("insert rule %s: %w", id, err)
}

// UpdateRule replaces an existing rule or returns models.ErrNotFound.
func (p *Postgres) UpdateRule(ctx context.Context, r models.PersonalizationRule) error {
	cond, action, err := encodeRule(r)
	if err != nil {
		return err
	}
	res, err := p.DB.ExecContext(ctx,
		`UPDATE personalization_rules SET name=$2, condition=$3, action=$4, priority=$5, is_active=$6, updated_at=$7 WHERE id=$1`,
		r.ID, r.Name, cond, action, r.Priority, r.IsActive, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update rule %s: %w", r.ID, err)
	}
	return requireAffected(res)
}

// DeleteRule removes a rule or returns models.ErrNotFound.
func (p *Postgres) DeleteRule(ctx context.Context, id string) error {
	res, err := p.DB.ExecContext(ctx, `DELETE FROM personalization_rules WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete rule %s: %w", id, err)
	}
	return requireAffected(res)
}

func encodeRule(r models.PersonalizationRule) (cond, action []byte, err error) {
	if cond, err = models.MarshalCondition(r.Condition); err != nil {
		return nil, nil, err
	}
	if action, err = models.MarshalAction(r.Action); err != nil {
		return nil, nil, err
	}
	return cond, action, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ListContent returns active content items overlapping the filter's tags and personas.
func (p *Postgres) ListContent(ctx context.Context, f models.CatalogFilter) ([]models.CatalogItem, error) {
	return p.listCatalog(ctx, models.KindContent, f)
}

// ListServices returns active services overlapping the filter's tags and personas.
func (p *Postgres) ListServices(ctx context.Context, f models.CatalogFilter) ([]models.CatalogItem, error) {
	return p.listCatalog(ctx, models.KindService, f)
}

func (p *Postgres) listCatalog(ctx context.Context, kind models.CatalogKind, f models.CatalogFilter) ([]models.CatalogItem, error) {
	tags := f.Tags
	if tags == nil {
		tags = []string{}
	}
	rows, err := p.DB.QueryContext(ctx, `SELECT `+catalogColumns+` FROM catalog_items
WHERE kind = $1 AND is_active
  AND (cardinality($2::text[]) = 0 OR tags && $2::text[])
  AND (cardinality($3::text[]) = 0 OR target_personas && $3::text[])
ORDER BY id
LIMIT NULLIF($4, 0)`,
		string(kind), pq.Array(tags), pq.Array(personaStrings(f.Personas)), f.Limit)
	if err != nil {
		return nil, fmt.Errorf("query %s catalog: %w", kind, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var items []models.CatalogItem
	for rows.Next() {
		var (
			it       models.CatalogItem
			kindStr  string
			category sql.NullString
			format   sql.NullString
			personas []string
			updated  sql.NullTime
		)
		if err := rows.Scan(&it.ID, &kindStr, &it.Title, &category, &format, pq.Array(&it.Tags), pq.Array(&personas),
			&it.Views, &it.Rating, &it.EngagementScore, &it.ConversionRate, &updated, &it.IsActive); err != nil {
			return nil, fmt.Errorf("scan catalog item: %w", err)
		}
		it.Kind = models.CatalogKind(kindStr)
		it.Category = category.String
		it.Format = format.String
		if updated.Valid {
			it.LastUpdated = updated.Time
		}
		for _, ps := range personas {
			it.TargetPersonas = append(it.TargetPersonas, models.Persona(ps))
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return items, nil
}

// UpsertCatalogItem inserts or replaces a catalog item.
func (p *Postgres) UpsertCatalogItem(ctx context.Context, it models.CatalogItem) error {
	if it.Kind != models.KindContent && it.Kind != models.KindService {
		return fmt.Errorf("%w: catalog kind %q", models.ErrInvalidInput, it.Kind)
	}
	var updated sql.NullTime
	if !it.LastUpdated.IsZero() {
		updated = sql.NullTime{Time: it.LastUpdated, Valid: true}
	}
	tags := it.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := p.DB.ExecContext(ctx, `INSERT INTO catalog_items (`+catalogColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (id) DO UPDATE SET kind=EXCLUDED.kind, title=EXCLUDED.title, category=EXCLUDED.category,
  format=EXCLUDED.format, tags=EXCLUDED.tags, target_personas=EXCLUDED.target_personas, views=EXCLUDED.views,
  rating=EXCLUDED.rating, engagement_score=EXCLUDED.engagement_score, conversion_rate=EXCLUDED.conversion_rate,
  last_updated=EXCLUDED.last_updated, is_active=EXCLUDED.is_active`,
		it.ID, string(it.Kind), it.Title, it.Category, it.Format, pq.Array(tags), pq.Array(personaStrings(it.TargetPersonas)),
		it.Views, it.Rating, it.EngagementScore, it.ConversionRate, updated, it.IsActive)
	if err != nil {
		return fmt.Errorf("upsert catalog item %s: %w", it.ID, err)
	}
	return nil
}

// Ping checks connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	if p == nil || p.DB == nil {
		return errors.New("postgres not initialized")
	}
	return p.DB.PingContext(ctx)
}

func personaStrings(ps []models.Persona) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = string(p)
	}
	return out
}
