package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/patrickwarner/openpersonalize/internal/logic"
	"github.com/patrickwarner/openpersonalize/internal/middleware"
	"github.com/patrickwarner/openpersonalize/internal/models"
	"github.com/patrickwarner/openpersonalize/internal/tracking"
)

const defaultSummaryWindow = 30 * 24 * time.Hour

var summaryWindows = map[string]time.Duration{
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": defaultSummaryWindow,
}

// TrackInteraction accepts a visitor interaction and records it in the
// background. The response carries the assigned event id.
func (s *Server) TrackInteraction(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "track_interaction"
	const method = "POST"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	if s.Tracker == nil {
		s.reject(w, endpoint, method, start, http.StatusServiceUnavailable, "tracking unavailable")
		return
	}
	var ev models.InteractionEvent
	if err := decode(r, &ev); err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	if err := ev.Validate(); err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	if s.Limiter != nil && !s.Limiter.Allow(ev.UserID) {
		s.reject(w, endpoint, method, start, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	tracking.Enrich(&ev, s.GeoIP, r.UserAgent(), tracking.ClientIP(r))

	id := s.Tracker.Track(r.Context(), ev)
	s.respond(w, endpoint, method, start, http.StatusAccepted, map[string]string{"id": id})
}

// InteractionSummary reports a user's interaction counts since
// ?since=24h|7d|30d or an RFC3339 timestamp. The default window is 30 days.
func (s *Server) InteractionSummary(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "interaction_summary"
	const method = "GET"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	if s.Interactions == nil {
		s.reject(w, endpoint, method, start, http.StatusServiceUnavailable, "analytics unavailable")
		return
	}
	since, ok := parseSince(r.URL.Query().Get("since"), start)
	if !ok {
		s.reject(w, endpoint, method, start, http.StatusBadRequest, "invalid since")
		return
	}
	summary, err := s.Interactions.Summarize(r.Context(), mux.Vars(r)["userId"], since)
	if err != nil {
		s.fail(w, logger, endpoint, method, start, logic.NewDependencyError("analytics", "summarize", err))
		return
	}
	s.respond(w, endpoint, method, start, http.StatusOK, summary)
}

func parseSince(v string, now time.Time) (time.Time, bool) {
	if v == "" {
		return now.Add(-defaultSummaryWindow).UTC(), true
	}
	if d, ok := summaryWindows[v]; ok {
		return now.Add(-d).UTC(), true
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
