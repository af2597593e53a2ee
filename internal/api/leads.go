package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/patrickwarner/openpersonalize/internal/logic/scoring"
	"github.com/patrickwarner/openpersonalize/internal/middleware"
	"github.com/patrickwarner/openpersonalize/internal/models"
	"github.com/patrickwarner/openpersonalize/internal/tracking"
)

// scoreRequest carries either activities or resource interactions. When
// activities are present they win.
type scoreRequest struct {
	Activities           []models.Activity            `json:"activities" validate:"omitempty,dive"`
	Persona              models.Persona               `json:"persona" validate:"omitempty,persona"`
	ResourceInteractions []models.ResourceInteraction `json:"resource_interactions" validate:"omitempty,dive"`
}

// ScoreLeadHandler scores the posted activities.
func (s *Server) ScoreLeadHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "score_lead"
	const method = "POST"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	var req scoreRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	if err := models.ValidateStruct(req); err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}

	var score models.LeadScore
	if len(req.Activities) > 0 {
		score = scoring.ScoreActivities(req.Activities)
	} else {
		score = scoring.ScoreResourceInteractions(req.Persona, req.ResourceInteractions)
	}
	s.Metrics.IncrementLeadScores(string(score.Qualification))
	s.respond(w, endpoint, method, start, http.StatusOK, score)
}

// UserLeadScore scores a tracked user's resource interactions.
func (s *Server) UserLeadScore(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "user_lead_score"
	const method = "GET"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	if s.Tracker == nil {
		s.reject(w, endpoint, method, start, http.StatusServiceUnavailable, "tracking unavailable")
		return
	}
	userID := mux.Vars(r)["userId"]
	profile, err := s.Tracker.Behavior(r.Context(), userID)
	if err == nil {
		var interactions []models.ResourceInteraction
		if interactions, err = s.Tracker.ResourceInteractions(r.Context(), userID); err == nil {
			score := scoring.ScoreResourceInteractions(profile.Persona, interactions)
			s.Metrics.IncrementLeadScores(string(score.Qualification))
			s.respond(w, endpoint, method, start, http.StatusOK, map[string]any{
				"user_id":    userID,
				"persona":    profile.Persona,
				"resources":  len(interactions),
				"lead_score": score,
			})
			return
		}
	}
	if !errors.Is(err, tracking.ErrNoState) {
		logger.Error("read tracked interactions", zap.String("user_id", userID), zap.Error(err))
	}
	s.reject(w, endpoint, method, start, http.StatusServiceUnavailable, "tracking unavailable")
}
