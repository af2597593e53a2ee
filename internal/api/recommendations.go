package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/patrickwarner/openpersonalize/internal/middleware"
	"github.com/patrickwarner/openpersonalize/internal/models"
	"github.com/patrickwarner/openpersonalize/internal/tracking"
)

// recsQuery is the query-string context for the cached recommendation lists.
type recsQuery struct {
	Persona         models.Persona         `json:"persona" validate:"persona"`
	EngagementLevel models.EngagementLevel `json:"engagement_level" validate:"engagement"`
}

func parseRecsQuery(r *http.Request) (models.UserContext, error) {
	q := r.URL.Query()
	rq := recsQuery{
		Persona:         models.Persona(q.Get("persona")),
		EngagementLevel: models.EngagementLevel(q.Get("engagement_level")),
	}
	if rq.EngagementLevel == "" {
		rq.EngagementLevel = models.EngagementMedium
	}
	if err := models.ValidateStruct(rq); err != nil {
		return models.UserContext{}, err
	}
	return models.UserContext{
		UserID:          q.Get("user_id"),
		Persona:         rq.Persona,
		EngagementLevel: rq.EngagementLevel,
	}, nil
}

// ContentRecommendations serves the cached content list for
// ?persona=&engagement_level=.
func (s *Server) ContentRecommendations(w http.ResponseWriter, r *http.Request) {
	s.cachedRecommendations(w, r, "recommendations_content", s.Personalization.GetContentRecommendations)
}

// ServiceRecommendations serves the cached service list for
// ?persona=&engagement_level=.
func (s *Server) ServiceRecommendations(w http.ResponseWriter, r *http.Request) {
	s.cachedRecommendations(w, r, "recommendations_service", s.Personalization.GetServiceRecommendations)
}

func (s *Server) cachedRecommendations(w http.ResponseWriter, r *http.Request, endpoint string, get func(context.Context, models.UserContext) ([]models.RecommendationScore, error)) {
	start := time.Now()
	const method = "GET"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	uc, err := parseRecsQuery(r)
	if err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	recs, err := get(r.Context(), uc)
	if err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	s.respond(w, endpoint, method, start, http.StatusOK, recs)
}

// rankRequest ranks a catalog against an explicit behavioural profile.
type rankRequest struct {
	Kind    models.CatalogKind  `json:"kind" validate:"omitempty,oneof=content service"`
	Profile models.UserBehavior `json:"profile"`
	Limit   int                 `json:"limit" validate:"min=0,max=100"`
}

// RankHandler ranks the content or service catalog for the posted profile.
// Results are not cached.
func (s *Server) RankHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "recommendations_rank"
	const method = "POST"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	var req rankRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	if err := models.ValidateStruct(req); err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	if req.Kind == "" {
		req.Kind = models.KindContent
	}
	recs, err := s.Personalization.Rank(r.Context(), req.Kind, req.Profile, req.Limit)
	if err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	s.respond(w, endpoint, method, start, http.StatusOK, recs)
}

// UserRecommendations ranks both catalogs against a tracked user's history.
// ?persona= supplies the persona when tracking has none; ?limit= caps each list.
func (s *Server) UserRecommendations(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "user_recommendations"
	const method = "GET"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	if s.Tracker == nil {
		s.reject(w, endpoint, method, start, http.StatusServiceUnavailable, "tracking unavailable")
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	userID := mux.Vars(r)["userId"]
	profile, err := s.Tracker.Behavior(r.Context(), userID)
	if err != nil {
		if !errors.Is(err, tracking.ErrNoState) {
			logger.Error("read behavior", zap.String("user_id", userID), zap.Error(err))
		}
		s.reject(w, endpoint, method, start, http.StatusServiceUnavailable, "tracking unavailable")
		return
	}
	if p := models.Persona(r.URL.Query().Get("persona")); p != "" {
		if !p.Valid() {
			s.reject(w, endpoint, method, start, http.StatusBadRequest, "unknown persona")
			return
		}
		if profile.Persona == "" {
			profile.Persona = p
		}
	}
	var recs models.Recommendations
	if recs.Content, err = s.Personalization.Rank(r.Context(), models.KindContent, profile, limit); err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	if recs.Service, err = s.Personalization.Rank(r.Context(), models.KindService, profile, limit); err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	s.respond(w, endpoint, method, start, http.StatusOK, map[string]any{
		"profile":         profile,
		"recommendations": recs,
	})
}

// parseLimit reads an optional ?limit= within the same bounds as rankRequest.
// An empty value means no limit.
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: limit must be an integer", models.ErrInvalidInput)
	}
	q := struct {
		Limit int `json:"limit" validate:"min=0,max=100"`
	}{Limit: n}
	if err := models.ValidateStruct(q); err != nil {
		return 0, err
	}
	return n, nil
}
