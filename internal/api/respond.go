package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/openpersonalize/internal/logic"
	"github.com/patrickwarner/openpersonalize/internal/models"
)

// statusFor maps a service error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case logic.IsDependency(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) observe(endpoint, method string, status int, start time.Time) {
	s.Metrics.IncrementRequests(endpoint, method, strconv.Itoa(status))
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
}

// respond writes v with the given status and records request metrics.
func (s *Server) respond(w http.ResponseWriter, endpoint, method string, start time.Time, status int, v any) {
	s.observe(endpoint, method, status, start)
	if v == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fail writes the error response for err. Input, not-found and conflict
// errors echo their message; dependency and internal failures are logged and hidden.
func (s *Server) fail(w http.ResponseWriter, logger *zap.Logger, endpoint, method string, start time.Time, err error) {
	status := statusFor(err)
	s.observe(endpoint, method, status, start)
	switch status {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusConflict:
		http.Error(w, err.Error(), status)
	case http.StatusServiceUnavailable:
		logger.Error("dependency unavailable", zap.String("endpoint", endpoint), zap.Error(err))
		http.Error(w, "service unavailable", status)
	default:
		logger.Error("request failed", zap.String("endpoint", endpoint), zap.Error(err))
		http.Error(w, "internal error", status)
	}
}

// reject writes a client error that did not come from the service layer.
func (s *Server) reject(w http.ResponseWriter, endpoint, method string, start time.Time, status int, msg string) {
	s.observe(endpoint, method, status, start)
	http.Error(w, msg, status)
}

// decode reads a JSON body into v, wrapping syntax errors as input errors.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, models.ErrInvalidInput) {
			return err
		}
		return fmt.Errorf("%w: invalid json: %v", models.ErrInvalidInput, err)
	}
	return nil
}
