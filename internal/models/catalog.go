package models

import "time"

// CatalogKind distinguishes content resources from paid services.
type CatalogKind string

const (
	KindContent CatalogKind = "content"
	KindService CatalogKind = "service"
)

// CatalogItem is a piece of content or a service offering that can be
// recommended. EngagementScore and ConversionRate are precomputed popularity
// proxies owned by the catalog store.
type CatalogItem struct {
	ID              string      `json:"id"`
	Kind            CatalogKind `json:"kind"`
	Title           string      `json:"title"`
	Category        string      `json:"category"`
	Format          string      `json:"format"`
	Tags            []string    `json:"tags,omitempty"`
	TargetPersonas  []Persona   `json:"target_personas,omitempty"`
	Views           int64       `json:"views"`
	Rating          float64     `json:"rating"`
	EngagementScore float64     `json:"engagement_score"`
	ConversionRate  float64     `json:"conversion_rate"`
	LastUpdated     time.Time   `json:"last_updated"`
	IsActive        bool        `json:"is_active"`
}

// FitsPersona reports whether the item declares fit for p.
func (c CatalogItem) FitsPersona(p Persona) bool {
	for _, tp := range c.TargetPersonas {
		if tp == p {
			return true
		}
	}
	return false
}

// CatalogFilter narrows catalog listings. Empty slices match everything;
// non-empty slices match items sharing at least one element.
type CatalogFilter struct {
	Tags     []string
	Personas []Persona
	Limit    int
}

// Matches reports whether the item is active and overlaps the filter's tags
// and personas.
func (c CatalogItem) Matches(f CatalogFilter) bool {
	if !c.IsActive {
		return false
	}
	if len(f.Tags) > 0 && !overlaps(c.Tags, f.Tags) {
		return false
	}
	if len(f.Personas) > 0 && !overlaps(c.TargetPersonas, f.Personas) {
		return false
	}
	return true
}

func overlaps[T comparable](a, b []T) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[T]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	for _, v := range a {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}
