package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/patrickwarner/openpersonalize/internal/config"
	"github.com/patrickwarner/openpersonalize/internal/db"
	"github.com/patrickwarner/openpersonalize/internal/logic/scoring"
	"github.com/patrickwarner/openpersonalize/internal/metrics"
	"github.com/patrickwarner/openpersonalize/internal/models"
	"github.com/patrickwarner/openpersonalize/internal/personalization"
)

type EvaluateInput struct {
	UserID           string   `json:"user_id"`
	Persona          string   `json:"persona"`
	EngagementLevel  string   `json:"engagement_level"`
	VisitorType      string   `json:"visitor_type"`
	InteractionCount int      `json:"interaction_count"`
	LastVisit        string   `json:"last_visit,omitempty"` // RFC3339
	Interests        []string `json:"interests,omitempty"`
}

type ActionOutput struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Recommendation struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Category string   `json:"category"`
	Score    float64  `json:"score"`
	Reasons  []string `json:"reasons"`
}

type EvaluateOutput struct {
	Actions      []ActionOutput   `json:"actions"`
	MatchedRules []string         `json:"matched_rules"`
	Content      []Recommendation `json:"content"`
	Services     []Recommendation `json:"services"`
	CacheHit     bool             `json:"cache_hit"`
}

type ActivityInput struct {
	Key     string  `json:"key"`
	Value   float64 `json:"value"`
	Persona string  `json:"persona,omitempty"`
}

type ScoreLeadInput struct {
	Activities []ActivityInput `json:"activities"`
}

type ScoreLeadOutput struct {
	TotalScore      int      `json:"total_score"`
	Qualification   string   `json:"qualification"`
	Recommendations []string `json:"recommendations"`
}

type RankInput struct {
	Kind               string   `json:"kind,omitempty"`
	Persona            string   `json:"persona,omitempty"`
	RecentCategories   []string `json:"recent_categories,omitempty"`
	PreferredFormats   []string `json:"preferred_formats,omitempty"`
	CompletedResources []string `json:"completed_resources,omitempty"`
	Limit              int      `json:"limit,omitempty"`
}

type RankOutput struct {
	Recommendations []Recommendation `json:"recommendations"`
}

// PersonalizationServer exposes the engine as MCP tools.
type PersonalizationServer struct {
	svc    *personalization.Service
	logger *zap.Logger
}

// EvaluatePersonalization runs the rule engine for a visitor context.
func (s *PersonalizationServer) EvaluatePersonalization(ctx context.Context, req *mcp.CallToolRequest, input EvaluateInput) (*mcp.CallToolResult, EvaluateOutput, error) {
	uc := models.UserContext{
		UserID:           input.UserID,
		Persona:          models.Persona(input.Persona),
		EngagementLevel:  models.EngagementLevel(input.EngagementLevel),
		VisitorType:      models.VisitorType(input.VisitorType),
		InteractionCount: input.InteractionCount,
		Interests:        input.Interests,
	}
	if input.LastVisit != "" {
		t, err := time.Parse(time.RFC3339, input.LastVisit)
		if err != nil {
			return nil, EvaluateOutput{}, fmt.Errorf("last_visit: %w", err)
		}
		uc.LastVisit = t
	}
	if err := uc.Validate(); err != nil {
		return nil, EvaluateOutput{}, err
	}

	res, err := s.svc.Evaluate(ctx, uc)
	if err != nil {
		s.logger.Error("evaluate failed", zap.String("user_id", uc.UserID), zap.Error(err))
		return nil, EvaluateOutput{}, err
	}

	out := EvaluateOutput{
		Actions:      make([]ActionOutput, 0, len(res.Actions)),
		MatchedRules: append([]string{}, res.MatchedRules...),
		Content:      toRecommendations(res.Recommendations.Content),
		Services:     toRecommendations(res.Recommendations.Service),
		CacheHit:     res.CacheHit,
	}
	for _, a := range res.Actions {
		ao, err := toActionOutput(a)
		if err != nil {
			return nil, EvaluateOutput{}, err
		}
		out.Actions = append(out.Actions, ao)
	}
	return nil, out, nil
}

// ScoreLead scores a batch of calculator and assessment results.
func (s *PersonalizationServer) ScoreLead(ctx context.Context, req *mcp.CallToolRequest, input ScoreLeadInput) (*mcp.CallToolResult, ScoreLeadOutput, error) {
	activities := make([]models.Activity, 0, len(input.Activities))
	for _, a := range input.Activities {
		activities = append(activities, models.Activity{Key: a.Key, Value: a.Value, Persona: models.Persona(a.Persona)})
	}
	if err := models.ValidateStruct(struct {
		Activities []models.Activity `json:"activities" validate:"dive"`
	}{activities}); err != nil {
		return nil, ScoreLeadOutput{}, err
	}

	score := scoring.ScoreActivities(activities)
	return nil, ScoreLeadOutput{
		TotalScore:      score.TotalScore,
		Qualification:   string(score.Qualification),
		Recommendations: append([]string{}, score.Recommendations...),
	}, nil
}

// RankRecommendations ranks the content or service catalog for a profile.
func (s *PersonalizationServer) RankRecommendations(ctx context.Context, req *mcp.CallToolRequest, input RankInput) (*mcp.CallToolResult, RankOutput, error) {
	kind := models.CatalogKind(input.Kind)
	if kind == "" {
		kind = models.KindContent
	}
	if kind != models.KindContent && kind != models.KindService {
		return nil, RankOutput{}, fmt.Errorf("%w: unknown kind %q", models.ErrInvalidInput, input.Kind)
	}
	profile := models.UserBehavior{
		Persona:            models.Persona(input.Persona),
		RecentCategories:   input.RecentCategories,
		PreferredFormats:   input.PreferredFormats,
		CompletedResources: input.CompletedResources,
	}
	if err := models.ValidateStruct(profile); err != nil {
		return nil, RankOutput{}, err
	}

	recs, err := s.svc.Rank(ctx, kind, profile, input.Limit)
	if err != nil {
		return nil, RankOutput{}, err
	}
	return nil, RankOutput{Recommendations: toRecommendations(recs)}, nil
}

func toRecommendations(recs []models.RecommendationScore) []Recommendation {
	out := make([]Recommendation, 0, len(recs))
	for _, r := range recs {
		out = append(out, Recommendation{
			ID:       r.Item.ID,
			Title:    r.Item.Title,
			Category: r.Item.Category,
			Score:    r.Score,
			Reasons:  append([]string{}, r.Reasons...),
		})
	}
	return out
}

func toActionOutput(a models.RuleAction) (ActionOutput, error) {
	raw, err := models.MarshalAction(a)
	if err != nil {
		return ActionOutput{}, err
	}
	var env struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return ActionOutput{}, fmt.Errorf("decode action: %w", err)
	}
	if env.Payload == nil {
		env.Payload = map[string]any{}
	}
	return ActionOutput{Type: env.Type, Payload: env.Payload}, nil
}

func newMCPServer(ps *PersonalizationServer) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "openpersonalize",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "evaluate_personalization",
		Description: "Evaluate personalization rules and recommendations for a visitor",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"user_id": map[string]interface{}{
					"type":        "string",
					"description": "Visitor id",
				},
				"persona": map[string]interface{}{
					"type":        "string",
					"enum":        personaNames(),
					"description": "Visitor persona",
				},
				"engagement_level": map[string]interface{}{
					"type": "string",
					"enum": []string{"low", "medium", "high"},
				},
				"visitor_type": map[string]interface{}{
					"type": "string",
					"enum": []string{"new", "returning"},
				},
				"interaction_count": map[string]interface{}{
					"type":    "integer",
					"minimum": 0,
				},
				"last_visit": map[string]interface{}{
					"type":        "string",
					"format":      "date-time",
					"description": "Last visit time (optional)",
				},
				"interests": map[string]interface{}{
					"type":  "array",
					"items": map[string]interface{}{"type": "string"},
				},
			},
			"required": []string{"user_id", "persona", "engagement_level", "visitor_type"},
		},
	}, ps.EvaluatePersonalization)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "score_lead",
		Description: "Score calculator and assessment results into a Hot/Warm/Cold lead",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"activities": map[string]interface{}{
					"type": "array",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"key":     map[string]interface{}{"type": "string"},
							"value":   map[string]interface{}{"type": "number", "minimum": 0, "maximum": 100},
							"persona": map[string]interface{}{"type": "string"},
						},
						"required": []string{"key", "value"},
					},
				},
			},
			"required": []string{"activities"},
		},
	}, ps.ScoreLead)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "rank_recommendations",
		Description: "Rank content or services for a behavioural profile",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"kind": map[string]interface{}{
					"type": "string",
					"enum": []string{"content", "service"},
				},
				"persona":             map[string]interface{}{"type": "string"},
				"recent_categories":   map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
				"preferred_formats":   map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
				"completed_resources": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
				"limit":               map[string]interface{}{"type": "integer", "minimum": 0},
			},
		},
	}, ps.RankRecommendations)

	return server
}

func personaNames() []string {
	out := make([]string, 0, len(models.Personas))
	for _, p := range models.Personas {
		out = append(out, string(p))
	}
	return out
}

// loadStore builds the rule and catalog store. Postgres is read once into
// memory; without a DSN the tools run against an empty store.
func loadStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (*models.InMemoryStore, func(), error) {
	store := models.NewInMemoryStore()
	if os.Getenv("POSTGRES_DSN") == "" {
		logger.Warn("POSTGRES_DSN not set, serving an empty rule set")
		return store, func() {}, nil
	}
	pg, err := db.InitPostgres(ctx, cfg.PostgresDSN, 5, 2, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := db.LoadSnapshot(ctx, pg, store); err != nil {
		pg.Close()
		return nil, nil, err
	}
	return store, pg.Close, nil
}

func main() {
	// MCP speaks over stdio, so logs go to stderr.
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.MessageKey = "msg"

	logger, err := zcfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger = logger.Named("openpersonalize-mcp").With(zap.String("service", "openpersonalize-mcp"))
	zap.ReplaceGlobals(logger)

	cfg := config.Load()
	ctx := context.Background()

	store, closeStore, err := loadStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to load personalization store", zap.Error(err))
	}
	defer closeStore()

	cache := db.NewMemoryCache(time.Minute)
	svc := personalization.NewService(personalization.Deps{
		Rules:   store,
		Catalog: store,
		Cache:   cache,
		Metrics: metrics.NewAggregator(cache, nil, logger, 0),
		Logger:  logger,
	}, personalization.Options{
		TTL:          cfg.CacheTTL,
		Timeout:      cfg.DependencyTimeout,
		ContentLimit: cfg.ContentLimit,
		ServiceLimit: cfg.ServiceLimit,
	})

	server := newMCPServer(&PersonalizationServer{svc: svc, logger: logger})

	var logBuffer bytes.Buffer
	transport := &mcp.LoggingTransport{
		Transport: &mcp.StdioTransport{},
		Writer:    &logBuffer,
	}

	logger.Info("MCP Server running via stdio")
	if err := server.Run(ctx, transport); err != nil {
		logger.Fatal("Server error", zap.Error(err), zap.String("mcp_logs", logBuffer.String()))
	}
}
