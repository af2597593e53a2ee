// Package filters narrows catalog candidates before they are ranked.
package filters

import (
	"github.com/patrickwarner/openpersonalize/internal/models"
)

// Filter removes catalog items that should not be ranked.
type Filter func([]models.CatalogItem) []models.CatalogItem

// Apply runs filters in order, stopping early once nothing is left.
func Apply(items []models.CatalogItem, filters ...Filter) []models.CatalogItem {
	out := items
	for _, f := range filters {
		if len(out) == 0 {
			break
		}
		out = f(out)
	}
	return out
}

// FilterByActive drops retired catalog items.
func FilterByActive(items []models.CatalogItem) []models.CatalogItem {
	return keep(items, func(it models.CatalogItem) bool { return it.IsActive })
}

// ExcludeCompleted returns a filter dropping every item whose id is in completed.
func ExcludeCompleted(completed []string) Filter {
	if len(completed) == 0 {
		return func(items []models.CatalogItem) []models.CatalogItem { return items }
	}
	done := make(map[string]struct{}, len(completed))
	for _, id := range completed {
		done[id] = struct{}{}
	}
	return func(items []models.CatalogItem) []models.CatalogItem {
		return keep(items, func(it models.CatalogItem) bool {
			_, skip := done[it.ID]
			return !skip
		})
	}
}

// ExcludeIDs is ExcludeCompleted for arbitrary id lists such as items already shown.
func ExcludeIDs(ids []string) Filter {
	return ExcludeCompleted(ids)
}

// FilterByTags returns a filter keeping items sharing at least one tag with tags.
// An empty tag list keeps everything.
func FilterByTags(tags []string) Filter {
	return func(items []models.CatalogItem) []models.CatalogItem {
		if len(tags) == 0 {
			return items
		}
		f := models.CatalogFilter{Tags: tags}
		return keep(items, func(it models.CatalogItem) bool {
			it.IsActive = true
			return it.Matches(f)
		})
	}
}

// FilterByPersona returns a filter keeping items that declare fit for p.
// Items with no declared personas are kept as general-audience content.
func FilterByPersona(p models.Persona) Filter {
	return func(items []models.CatalogItem) []models.CatalogItem {
		if p == "" {
			return items
		}
		return keep(items, func(it models.CatalogItem) bool {
			return len(it.TargetPersonas) == 0 || it.FitsPersona(p)
		})
	}
}

func keep(items []models.CatalogItem, pred func(models.CatalogItem) bool) []models.CatalogItem {
	out := make([]models.CatalogItem, 0, len(items))
	for _, it := range items {
		if pred(it) {
			out = append(out, it)
		}
	}
	return out
}
