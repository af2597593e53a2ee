package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/openpersonalize/internal/logic/rules"
	"github.com/patrickwarner/openpersonalize/internal/middleware"
	"github.com/patrickwarner/openpersonalize/internal/models"
)

type debugResponse struct {
	*models.PersonalizationResult
	Trace *rules.EvaluationTrace `json:"trace"`
}

// EvaluateHandler evaluates the posted user context. When the context names
// a tracked user, missing behavioural fields are filled from tracking state.
// ?debug=true returns an uncached result with a per-rule trace when debug
// tracing is enabled.
func (s *Server) EvaluateHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "evaluate"
	const method = "POST"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	var uc models.UserContext
	if err := decode(r, &uc); err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	uc = s.withTrackedContext(r, logger, uc)
	if err := uc.Validate(); err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}

	if s.DebugTrace && r.URL.Query().Get("debug") == "true" {
		res, trace, err := s.Personalization.EvaluateDebug(r.Context(), uc)
		if err != nil {
			s.fail(w, logger, endpoint, method, start, err)
			return
		}
		s.respond(w, endpoint, method, start, http.StatusOK, debugResponse{PersonalizationResult: res, Trace: trace})
		return
	}

	res, err := s.Personalization.Evaluate(r.Context(), uc)
	if err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	logger.Debug("evaluated",
		zap.String("persona", string(uc.Persona)),
		zap.Bool("cache_hit", res.CacheHit),
		zap.Int("actions", len(res.Actions)),
	)
	s.respond(w, endpoint, method, start, http.StatusOK, res)
}

// withTrackedContext fills uc from tracking state. Lookup failures are
// logged and the caller's context is used unchanged.
func (s *Server) withTrackedContext(r *http.Request, logger *zap.Logger, uc models.UserContext) models.UserContext {
	if s.Tracker == nil || uc.UserID == "" {
		return uc
	}
	filled, err := s.Tracker.Context(r.Context(), uc)
	if err != nil {
		logger.Warn("tracked context unavailable", zap.String("user_id", uc.UserID), zap.Error(err))
		return uc
	}
	return filled
}
