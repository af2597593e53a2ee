package db

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/patrickwarner/openpersonalize/internal/models"
)

// LoadSnapshot copies every rule and active catalog item from Postgres into
// store in one atomic swap. Read-mostly processes use this to serve from
// memory and refresh on an interval.
func LoadSnapshot(ctx context.Context, pg *Postgres, store *models.InMemoryStore) error {
	rules, err := pg.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	content, err := pg.ListContent(ctx, models.CatalogFilter{})
	if err != nil {
		return fmt.Errorf("load content: %w", err)
	}
	services, err := pg.ListServices(ctx, models.CatalogFilter{})
	if err != nil {
		return fmt.Errorf("load services: %w", err)
	}
	store.ReloadAll(rules, content, services)
	zap.L().Info("loaded personalization snapshot",
		zap.Int("rules", len(rules)),
		zap.Int("content", len(content)),
		zap.Int("services", len(services)))
	return nil
}
