package models

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStoreRuleLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	require.NoError(t, s.InsertRule(ctx, PersonalizationRule{ID: "b", Priority: 5, IsActive: true}))
	require.NoError(t, s.InsertRule(ctx, PersonalizationRule{ID: "c", Priority: 10, IsActive: true}))
	require.NoError(t, s.InsertRule(ctx, PersonalizationRule{ID: "a", Priority: 10, IsActive: true}))
	require.NoError(t, s.InsertRule(ctx, PersonalizationRule{ID: "d", Priority: 99, IsActive: false}))

	err := s.InsertRule(ctx, PersonalizationRule{ID: "b", Name: "dup", Priority: 1, IsActive: true})
	assert.ErrorIs(t, err, ErrConflict)
	kept, err := s.GetRule(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 5, kept.Priority)

	active, err := s.ListActiveRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "b"}, ruleIDs(active))

	all, err := s.ListRules(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	require.NoError(t, s.UpdateRule(ctx, PersonalizationRule{ID: "b", Priority: 50, IsActive: true}))
	active, _ = s.ListActiveRules(ctx)
	assert.Equal(t, []string{"b", "a", "c"}, ruleIDs(active))

	require.NoError(t, s.DeleteRule(ctx, "a"))
	_, err = s.GetRule(ctx, "a")
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.ErrorIs(t, s.UpdateRule(ctx, PersonalizationRule{ID: "zz"}), ErrNotFound)
	assert.ErrorIs(t, s.DeleteRule(ctx, "zz"), ErrNotFound)
}

func TestInMemoryStoreCatalogFilter(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	s.ReloadAll(nil,
		[]CatalogItem{
			{ID: "c1", Tags: []string{"valuation"}, TargetPersonas: []Persona{PersonaStrategicExit}, IsActive: true},
			{ID: "c2", Tags: []string{"tax"}, TargetPersonas: []Persona{PersonaFamilyBusiness}, IsActive: true},
			{ID: "c3", Tags: []string{"valuation"}, IsActive: false},
		},
		[]CatalogItem{{ID: "s1", Kind: KindService, IsActive: true}},
	)

	all, err := s.ListContent(ctx, CatalogFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byTag, _ := s.ListContent(ctx, CatalogFilter{Tags: []string{"valuation"}})
	require.Len(t, byTag, 1)
	assert.Equal(t, "c1", byTag[0].ID)

	byPersona, _ := s.ListContent(ctx, CatalogFilter{Personas: []Persona{PersonaFamilyBusiness}})
	require.Len(t, byPersona, 1)
	assert.Equal(t, "c2", byPersona[0].ID)

	limited, _ := s.ListContent(ctx, CatalogFilter{Limit: 1})
	assert.Len(t, limited, 1)

	require.NoError(t, s.UpsertCatalogItem(ctx, CatalogItem{ID: "s2", Kind: KindService, IsActive: true}))
	services, _ := s.ListServices(ctx, CatalogFilter{})
	assert.Len(t, services, 2)
}

func ruleIDs(rules []PersonalizationRule) []string {
	ids := make([]string, len(rules))
	for i, r := range rules {
		ids[i] = r.ID
	}
	return ids
}
