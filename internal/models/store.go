package models

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// RuleStore persists personalization rules.
type RuleStore interface {
	// ListActiveRules returns active rules ordered by priority descending, id ascending.
	ListActiveRules(ctx context.Context) ([]PersonalizationRule, error)
	ListRules(ctx context.Context) ([]PersonalizationRule, error)
	GetRule(ctx context.Context, id string) (*PersonalizationRule, error)
	InsertRule(ctx context.Context, rule PersonalizationRule) error
	UpdateRule(ctx context.Context, rule PersonalizationRule) error
	DeleteRule(ctx context.Context, id string) error
}

// CatalogStore serves the content and service catalogs.
type CatalogStore interface {
	ListContent(ctx context.Context, filter CatalogFilter) ([]CatalogItem, error)
	ListServices(ctx context.Context, filter CatalogFilter) ([]CatalogItem, error)
	UpsertCatalogItem(ctx context.Context, item CatalogItem) error
}

// storeSnapshot is an immutable view of every rule and catalog item.
type storeSnapshot struct {
	rules     []PersonalizationRule
	ruleIndex map[string]int
	content   []CatalogItem
	services  []CatalogItem
}

// InMemoryStore implements RuleStore and CatalogStore with copy-on-write
// snapshots. Reads never block; writers are serialized by mu and publish a
// fresh snapshot.
type InMemoryStore struct {
	mu   sync.Mutex
	data atomic.Pointer[storeSnapshot]
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	s := &InMemoryStore{}
	s.data.Store(&storeSnapshot{ruleIndex: map[string]int{}})
	return s
}

func indexRules(rules []PersonalizationRule) map[string]int {
	idx := make(map[string]int, len(rules))
	for i, r := range rules {
		idx[r.ID] = i
	}
	return idx
}

// ListActiveRules returns the active rules in evaluation order.
func (s *InMemoryStore) ListActiveRules(ctx context.Context) ([]PersonalizationRule, error) {
	data := s.data.Load()
	out := make([]PersonalizationRule, 0, len(data.rules))
	for _, r := range data.rules {
		if r.IsActive {
			out = append(out, r)
		}
	}
	sortByPriority(out)
	return out, nil
}

// ListRules returns every rule, active or not, in evaluation order.
func (s *InMemoryStore) ListRules(ctx context.Context) ([]PersonalizationRule, error) {
	data := s.data.Load()
	out := make([]PersonalizationRule, len(data.rules))
	copy(out, data.rules)
	sortByPriority(out)
	return out, nil
}

func sortByPriority(rules []PersonalizationRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}

// GetRule returns the rule with the given id or ErrNotFound.
func (s *InMemoryStore) GetRule(ctx context.Context, id string) (*PersonalizationRule, error) {
	data := s.data.Load()
	i, ok := data.ruleIndex[id]
	if !ok {
		return nil, ErrNotFound
	}
	r := data.rules[i]
	return &r, nil
}

// InsertRule adds a rule or returns ErrConflict when the id is taken.
func (s *InMemoryStore) InsertRule(ctx context.Context, rule PersonalizationRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.data.Load()

	if _, ok := cur.ruleIndex[rule.ID]; ok {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrConflict)
	}
	rules := make([]PersonalizationRule, len(cur.rules), len(cur.rules)+1)
	copy(rules, cur.rules)
	rules = append(rules, rule)
	s.publish(cur, rules)
	return nil
}

// UpdateRule replaces an existing rule or returns ErrNotFound.
func (s *InMemoryStore) UpdateRule(ctx context.Context, rule PersonalizationRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.data.Load()

	i, ok := cur.ruleIndex[rule.ID]
	if !ok {
		return ErrNotFound
	}
	rules := make([]PersonalizationRule, len(cur.rules))
	copy(rules, cur.rules)
	rules[i] = rule
	s.publish(cur, rules)
	return nil
}

// DeleteRule removes a rule or returns ErrNotFound.
func (s *InMemoryStore) DeleteRule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.data.Load()

	i, ok := cur.ruleIndex[id]
	if !ok {
		return ErrNotFound
	}
	rules := make([]PersonalizationRule, 0, len(cur.rules)-1)
	rules = append(rules, cur.rules[:i]...)
	rules = append(rules, cur.rules[i+1:]...)
	s.publish(cur, rules)
	return nil
}

func (s *InMemoryStore) publish(cur *storeSnapshot, rules []PersonalizationRule) {
	s.data.Store(&storeSnapshot{
		rules:     rules,
		ruleIndex: indexRules(rules),
		content:   cur.content,
		services:  cur.services,
	})
}

// ListContent returns active content items matching filter.
func (s *InMemoryStore) ListContent(ctx context.Context, filter CatalogFilter) ([]CatalogItem, error) {
	return filterCatalog(s.data.Load().content, filter), nil
}

// ListServices returns active services matching filter.
func (s *InMemoryStore) ListServices(ctx context.Context, filter CatalogFilter) ([]CatalogItem, error) {
	return filterCatalog(s.data.Load().services, filter), nil
}

func filterCatalog(items []CatalogItem, f CatalogFilter) []CatalogItem {
	out := make([]CatalogItem, 0, len(items))
	for _, it := range items {
		if !it.Matches(f) {
			continue
		}
		out = append(out, it)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// UpsertCatalogItem inserts or replaces an item in the catalog matching its Kind.
func (s *InMemoryStore) UpsertCatalogItem(ctx context.Context, item CatalogItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.data.Load()

	next := &storeSnapshot{
		rules:     cur.rules,
		ruleIndex: cur.ruleIndex,
		content:   cur.content,
		services:  cur.services,
	}
	switch item.Kind {
	case KindService:
		next.services = upsertItem(cur.services, item)
	default:
		item.Kind = KindContent
		next.content = upsertItem(cur.content, item)
	}
	s.data.Store(next)
	return nil
}

func upsertItem(items []CatalogItem, item CatalogItem) []CatalogItem {
	out := make([]CatalogItem, len(items), len(items)+1)
	copy(out, items)
	for i := range out {
		if out[i].ID == item.ID {
			out[i] = item
			return out
		}
	}
	return append(out, item)
}

// ReloadAll atomically replaces every rule and catalog item.
func (s *InMemoryStore) ReloadAll(rules []PersonalizationRule, content, services []CatalogItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := make([]PersonalizationRule, len(rules))
	copy(r, rules)
	s.data.Store(&storeSnapshot{
		rules:     r,
		ruleIndex: indexRules(r),
		content:   append([]CatalogItem(nil), content...),
		services:  append([]CatalogItem(nil), services...),
	})
}
