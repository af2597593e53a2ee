package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/openpersonalize/internal/config"
	"github.com/patrickwarner/openpersonalize/internal/db"
	"github.com/patrickwarner/openpersonalize/internal/models"
	"github.com/patrickwarner/openpersonalize/internal/observability"
)

var (
	contentPer = flag.Int("content", 8, "content items per category")
	seed       = flag.Int64("seed", time.Now().UnixNano(), "rng seed")
	skipFlush  = flag.Bool("skip-flush", false, "skip flushing the server cache after seeding")
)

var categories = []string{"exit_planning", "business_valuation", "financing", "tax_strategy", "succession"}

var formats = []string{"guide", "article", "video", "calculator", "webinar", "checklist"}

var titleWords = []string{"Complete", "Practical", "Owner's", "Quick", "Advanced", "Essential"}

func main() {
	flag.Parse()

	logger, err := observability.InitLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.Load()
	ctx := context.Background()
	pg, err := db.InitPostgres(ctx, cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect postgres: %v\n", err)
		os.Exit(1)
	}
	defer pg.Close()

	r := rand.New(rand.NewSource(*seed))
	now := time.Now().UTC()

	var items []models.CatalogItem
	for _, cat := range categories {
		for i := 0; i < *contentPer; i++ {
			items = append(items, randomContent(r, cat, i+1, now))
		}
	}
	items = append(items, services(now)...)
	for _, it := range items {
		if err := pg.UpsertCatalogItem(ctx, it); err != nil {
			logger.Fatal("upsert catalog item", zap.String("id", it.ID), zap.Error(err))
		}
	}

	existing, err := pg.ListRules(ctx)
	if err != nil {
		logger.Fatal("list rules", zap.Error(err))
	}
	have := make(map[string]bool, len(existing))
	for _, rule := range existing {
		have[rule.ID] = true
	}
	inserted := 0
	for _, rule := range demoRules(now) {
		if have[rule.ID] {
			continue
		}
		if err := rule.Validate(); err != nil {
			logger.Fatal("invalid demo rule", zap.String("id", rule.ID), zap.Error(err))
		}
		if err := pg.InsertRule(ctx, rule); err != nil {
			logger.Fatal("insert rule", zap.String("id", rule.ID), zap.Error(err))
		}
		inserted++
	}
	logger.Info("seeded personalization data",
		zap.Int("catalog_items", len(items)),
		zap.Int("rules_inserted", inserted))

	if !*skipFlush {
		if err := flushServerCache(&cfg); err != nil {
			logger.Error("cache flush endpoint failed", zap.Error(err))
			fmt.Fprintf(os.Stderr, "Warning: failed to flush server cache: %v\n", err)
		} else {
			fmt.Println("server cache flushed")
		}
	}
}

func randomContent(r *rand.Rand, category string, n int, now time.Time) models.CatalogItem {
	format := formats[r.Intn(len(formats))]
	// Each item targets one or two personas.
	personas := []models.Persona{models.Personas[r.Intn(len(models.Personas))]}
	if r.Intn(3) == 0 {
		if p := models.Personas[r.Intn(len(models.Personas))]; p != personas[0] {
			personas = append(personas, p)
		}
	}
	return models.CatalogItem{
		ID:              fmt.Sprintf("content-%s-%d", category, n),
		Kind:            models.KindContent,
		Title:           fmt.Sprintf("%s %s %s", titleWords[r.Intn(len(titleWords))], humanize(category), format),
		Category:        category,
		Format:          format,
		Tags:            []string{category, format},
		TargetPersonas:  personas,
		Views:           int64(r.Intn(5000)),
		Rating:          float64(r.Intn(41)+10) / 10,
		EngagementScore: r.Float64(),
		ConversionRate:  r.Float64() * 0.2,
		LastUpdated:     now.AddDate(0, 0, -r.Intn(400)),
		IsActive:        r.Intn(10) != 0,
	}
}

func services(now time.Time) []models.CatalogItem {
	mk := func(id, title, category string, views int64, rating float64, personas ...models.Persona) models.CatalogItem {
		return models.CatalogItem{
			ID:             id,
			Kind:           models.KindService,
			Title:          title,
			Category:       category,
			Format:         "consultation",
			TargetPersonas: personas,
			Views:          views,
			Rating:         rating,
			ConversionRate: 0.08,
			LastUpdated:    now.AddDate(0, -1, 0),
			IsActive:       true,
		}
	}
	return []models.CatalogItem{
		mk("svc-valuation", "Business valuation review", "business_valuation", 900, 4.8, models.PersonaStrategicExit, models.PersonaFirstTimeSeller),
		mk("svc-exit-strategy", "Exit strategy consultation", "exit_planning", 700, 4.6, models.PersonaStrategicExit, models.PersonaSerialEntrepreneur),
		mk("svc-succession", "Family succession planning", "succession", 300, 4.7, models.PersonaFamilyBusiness),
		mk("svc-sba", "SBA lending introduction", "financing", 450, 4.2, models.PersonaFirstTimeSeller, models.PersonaDistressedSeller),
		mk("svc-turnaround", "Turnaround advisory", "financing", 150, 4.4, models.PersonaDistressedSeller),
		mk("svc-tax", "Tax impact planning", "tax_strategy", 380, 4.5, models.PersonaSerialEntrepreneur, models.PersonaStrategicExit),
	}
}

func demoRules(now time.Time) []models.PersonalizationRule {
	rule := func(id, name string, priority int, cond models.RuleCondition, action models.RuleAction) models.PersonalizationRule {
		return models.PersonalizationRule{
			ID:        id,
			Name:      name,
			Condition: cond,
			Action:    action,
			Priority:  priority,
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	return []models.PersonalizationRule{
		rule("demo-high-engagement-cta", "Highly engaged visitors see the consultation CTA", 100,
			models.EngagementLevelCondition{Level: models.EngagementHigh},
			models.ShowCTAAction{CTAID: "book-consultation", Placement: "hero"}),
		rule("demo-distressed-notify", "Alert sales about distressed sellers", 90,
			models.PersonaCondition{Persona: models.PersonaDistressedSeller},
			models.NotifyAction{Channel: "sales", Message: "Distressed seller on site"}),
		rule("demo-exit-services", "Recommend valuation to strategic exits", 80,
			models.PersonaCondition{Persona: models.PersonaStrategicExit},
			models.RecommendServiceAction{ServiceIDs: []string{"svc-valuation", "svc-exit-strategy"}}),
		rule("demo-family-content", "Succession content for family businesses", 70,
			models.PersonaCondition{Persona: models.PersonaFamilyBusiness},
			models.RecommendContentAction{Tags: []string{"succession"}}),
		rule("demo-returning-tag", "Tag returning visitors as engaged leads", 50,
			models.VisitorTypeCondition{Visitor: models.VisitorReturning},
			models.TagLeadAction{Tag: "returning-visitor"}),
		rule("demo-power-user", "Tag visitors with many interactions", 40,
			models.InteractionCountCondition{Min: 20},
			models.TagLeadAction{Tag: "power-user"}),
		rule("demo-recent-visit", "Welcome back visitors seen this week", 30,
			models.LastVisitCondition{Window: models.Window7Days},
			models.ShowCTAAction{CTAID: "welcome-back"}),
	}
}

func humanize(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c == '_' {
			out[i] = ' '
		}
	}
	if len(out) > 0 && out[0] >= 'a' && out[0] <= 'z' {
		out[0] -= 'a' - 'A'
	}
	return string(out)
}

func flushServerCache(cfg *config.Config) error {
	url := fmt.Sprintf("http://localhost:%s/api/cache/flush", cfg.Port)
	req, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}
