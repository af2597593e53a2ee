package filters

import (
	"testing"

	"github.com/patrickwarner/openpersonalize/internal/models"
)

func catalog() []models.CatalogItem {
	return []models.CatalogItem{
		{ID: "guide", Tags: []string{"valuation"}, TargetPersonas: []models.Persona{models.PersonaStrategicExit}, IsActive: true},
		{ID: "webinar", Tags: []string{"tax"}, IsActive: true},
		{ID: "old", Tags: []string{"valuation"}, IsActive: false},
	}
}

func ids(items []models.CatalogItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestFilterByActive(t *testing.T) {
	got := ids(FilterByActive(catalog()))
	if len(got) != 2 || got[0] != "guide" || got[1] != "webinar" {
		t.Fatalf("unexpected active items %v", got)
	}
}

func TestExcludeCompleted(t *testing.T) {
	got := ids(ExcludeCompleted([]string{"guide"})(catalog()))
	for _, id := range got {
		if id == "guide" {
			t.Fatalf("completed item survived: %v", got)
		}
	}
	if len(ExcludeCompleted(nil)(catalog())) != 3 {
		t.Fatalf("empty completed list should keep everything")
	}
}

func TestFilterByTags(t *testing.T) {
	got := ids(FilterByTags([]string{"valuation"})(catalog()))
	if len(got) != 2 {
		t.Fatalf("expected both valuation items, got %v", got)
	}
	if len(FilterByTags(nil)(catalog())) != 3 {
		t.Fatalf("empty tag filter should keep everything")
	}
}

func TestFilterByPersona(t *testing.T) {
	got := ids(FilterByPersona(models.PersonaFamilyBusiness)(catalog()))
	// guide targets strategic_exit only; the other two are general audience
	if len(got) != 2 || got[0] != "webinar" {
		t.Fatalf("unexpected persona filter result %v", got)
	}
}

func TestApplyChainsFilters(t *testing.T) {
	got := ids(Apply(catalog(),
		FilterByActive,
		ExcludeIDs([]string{"webinar"}),
		FilterByPersona(models.PersonaStrategicExit),
	))
	if len(got) != 1 || got[0] != "guide" {
		t.Fatalf("unexpected chain result %v", got)
	}
	if len(Apply(nil, FilterByActive)) != 0 {
		t.Fatalf("empty input should stay empty")
	}
}
