package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/zombor/fx-annotator/internal/convert"
	"github.com/zombor/fx-annotator/internal/rates"
	"github.com/zombor/fx-annotator/internal/session"
	"github.com/zombor/fx-annotator/internal/settings"
)

const (
	maxPageSize = int64(10 << 20)
	maxTextSize = int64(1 << 20)
)

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// jsonError writes {"error": message} with CORS headers set
func jsonError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// errorStatus maps service errors to HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, session.ErrClosed):
		return http.StatusNotFound
	case errors.Is(err, ErrUnsupportedCurrency),
		errors.Is(err, settings.ErrInvalid),
		errors.Is(err, convert.ErrSameCurrency):
		return http.StatusBadRequest
	case errors.Is(err, convert.ErrRateUnavailable),
		errors.Is(err, convert.ErrNonFinite):
		return http.StatusUnprocessableEntity
	case errors.Is(err, rates.ErrRatesUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleError(w http.ResponseWriter, msg string, err error) {
	code := errorStatus(err)
	if code == http.StatusInternalServerError {
		slog.Error(msg, "error", err)
		jsonError(w, "Internal server error", code)
		return
	}
	jsonError(w, err.Error(), code)
}

// handleHealth reports liveness
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
}

// handleDetect returns the prices found in a piece of text
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxTextSize)).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"detections": s.service.Detect(req.Text),
	})
}

// handleConvert converts one amount
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req ConvertRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxTextSize)).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.From == "" {
		jsonError(w, "from is required", http.StatusBadRequest)
		return
	}

	result, err := s.service.Convert(r.Context(), req)
	if err != nil {
		s.handleError(w, "Error converting amount", err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		*convert.Result
		RateLabel string `json:"rateLabel"`
	}{result, convert.RateLabel(result)})
}

// handleAnnotate annotates an HTML page once and returns it
func (s *Server) handleAnnotate(w http.ResponseWriter, r *http.Request) {
	host := r.URL.Query().Get("host")
	result, err := s.service.Annotate(r.Context(), host, http.MaxBytesReader(w, r.Body, maxPageSize))
	if err != nil {
		s.handleError(w, "Error annotating page", err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Fx-Annotated", strconv.Itoa(result.Stats.Annotated))
	if len(result.Notices) > 0 {
		w.Header().Set("X-Fx-Notice", result.Notices[0].Kind)
	}
	w.Write([]byte(result.HTML))
}

// handleGetRates returns the rate table for a base currency
func (s *Server) handleGetRates(w http.ResponseWriter, r *http.Request) {
	resp, err := s.service.Rates(r.Context(), r.PathValue("base"))
	if err != nil {
		s.handleError(w, "Error fetching rates", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleClearRates empties the rate cache
func (s *Server) handleClearRates(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ClearRates(); err != nil {
		s.handleError(w, "Error clearing rates", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetSettings returns the current settings
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	current, err := s.service.Settings()
	if err != nil {
		s.handleError(w, "Error loading settings", err)
		return
	}
	writeJSON(w, http.StatusOK, current)
}

// handleSaveSettings replaces the settings
func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	// Start from the saved settings so partial bodies only change what they name.
	next, err := s.service.Settings()
	if err != nil {
		s.handleError(w, "Error loading settings", err)
		return
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxTextSize)).Decode(&next); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	saved, err := s.service.SaveSettings(next)
	if err != nil {
		s.handleError(w, "Error saving settings", err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// handleCreateSession opens a page session
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	host := r.URL.Query().Get("host")
	id, err := s.service.CreateSession(r.Context(), host, http.MaxBytesReader(w, r.Body, maxPageSize))
	if err != nil {
		s.handleError(w, "Error creating session", err)
		return
	}

	view, err := s.service.GetSession(id, false)
	if err != nil {
		s.handleError(w, "Error reading session", err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// handleGetSession returns the rendered page and stats
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.GetSession(r.PathValue("id"), true)
	if err != nil {
		s.handleError(w, "Error reading session", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleSessionMutation appends markup to the session page
func (s *Server) handleSessionMutation(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPageSize))
	if err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.service.AppendToSession(r.PathValue("id"), string(body)); err != nil {
		s.handleError(w, "Error applying mutation", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleSessionTrigger delivers scroll, intersection or visibility events
func (s *Server) handleSessionTrigger(w http.ResponseWriter, r *http.Request) {
	kind, err := session.ParseKind(r.PathValue("kind"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.service.TriggerSession(r.PathValue("id"), kind); err != nil {
		s.handleError(w, "Error triggering session", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleDeleteSession closes a session
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CloseSession(r.PathValue("id")); err != nil {
		s.handleError(w, "Error closing session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
