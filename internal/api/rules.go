package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/patrickwarner/openpersonalize/internal/middleware"
	"github.com/patrickwarner/openpersonalize/internal/models"
)

// ListRules returns the active rules in evaluation order, or every rule
// when ?all=true.
func (s *Server) ListRules(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "rules_list"
	const method = "GET"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	var (
		rules []models.PersonalizationRule
		err   error
	)
	if r.URL.Query().Get("all") == "true" {
		rules, err = s.Personalization.ListAllRules(r.Context())
	} else {
		rules, err = s.Personalization.ListRules(r.Context())
	}
	if err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	if rules == nil {
		rules = []models.PersonalizationRule{}
	}
	s.respond(w, endpoint, method, start, http.StatusOK, rules)
}

func (s *Server) GetRule(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "rules_get"
	const method = "GET"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	rule, err := s.Personalization.GetRule(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	s.respond(w, endpoint, method, start, http.StatusOK, rule)
}

func (s *Server) CreateRule(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "rules_create"
	const method = "POST"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	var rule models.PersonalizationRule
	if err := decode(r, &rule); err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	created, err := s.Personalization.CreateRule(r.Context(), rule)
	if err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	logger.Info("rule created via api", zap.String("rule_id", created.ID))
	s.respond(w, endpoint, method, start, http.StatusCreated, created)
}

func (s *Server) UpdateRule(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "rules_update"
	const method = "PUT"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	var rule models.PersonalizationRule
	if err := decode(r, &rule); err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	rule.ID = mux.Vars(r)["id"]

	updated, err := s.Personalization.UpdateRule(r.Context(), rule)
	if err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	s.respond(w, endpoint, method, start, http.StatusOK, updated)
}

func (s *Server) DeleteRule(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "rules_delete"
	const method = "DELETE"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	if err := s.Personalization.DeleteRule(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	s.respond(w, endpoint, method, start, http.StatusNoContent, nil)
}
