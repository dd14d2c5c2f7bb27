package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gosight/neuroloop/internal/enricher"
	"github.com/gosight/neuroloop/internal/engine"
	"github.com/gosight/neuroloop/internal/telemetry"
	"github.com/gosight/neuroloop/internal/validation"
)

const (
	defaultListSize = 20
	maxBodyBytes    = 1 << 20
)

type HTTPHandler struct {
	engine    *engine.Engine
	enricher  *enricher.Enricher
	validator *validation.Validator
}

func NewHTTPHandler(e *engine.Engine, en *enricher.Enricher, v *validation.Validator) *HTTPHandler {
	return &HTTPHandler{
		engine:    e,
		enricher:  en,
		validator: v,
	}
}

// Router mounts every route on a new chi router
func (h *HTTPHandler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.RecoverMiddleware)
	r.Use(CORSMiddleware)

	r.Get("/health", HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/events", h.HandleEvents)
		r.Get("/events/recent", h.RecentEvents)
		r.Get("/metrics", h.CurrentMetrics)
		r.Get("/session", h.SessionStats)

		r.Get("/system-health", h.SystemHealth)
		r.Post("/system-health/check", h.ForceHealthCheck)
		r.Post("/components/{name}/errors", h.ReportComponentError)
		r.Post("/components/{name}/performance", h.ReportComponentPerformance)

		r.Get("/recovery", h.RecoveryHistory)
		r.Put("/healing/auto", h.ToggleAutoHealing)
		r.Post("/healing/emergency", h.EmergencyRecovery)
		r.Post("/healing/{strategy}", h.ExecuteHealing)

		r.Get("/insights", h.CurrentInsights)
		r.Get("/learning-style", h.LearningStyle)
		r.Get("/adaptations", h.ActiveAdaptations)
		r.Post("/adaptations/apply", h.ApplyAdaptation)
		r.Get("/prediction", h.CurrentPrediction)
		r.Post("/prediction/outcome", h.ReportPredictionOutcome)
		r.Get("/recommendations", h.Recommendations)
		r.Get("/personalization", h.Personalization)
	})

	return r
}

type EventRequest struct {
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload"`
	Context struct {
		Route     string `json:"route"`
		Component string `json:"component"`
	} `json:"context"`
}

type EventBatchRequest struct {
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id"`
	Events    []EventRequest `json:"events" validate:"max=1000"`
}

type EventResponse struct {
	Success       bool     `json:"success"`
	AcceptedCount int      `json:"accepted_count"`
	RejectedCount int      `json:"rejected_count"`
	Errors        []string `json:"errors,omitempty"`
}

func (h *HTTPHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	var req EventBatchRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}

	clientIP := clientHost(r.RemoteAddr)
	if !h.validator.CheckRateLimit(r.Context(), clientIP) {
		writeJSON(w, http.StatusTooManyRequests, EventResponse{
			Success: false,
			Errors:  []string{"Rate limit exceeded"},
		})
		return
	}

	userAgent := r.Header.Get("User-Agent")

	accepted := 0
	rejected := 0
	var errs []string

	for _, event := range req.Events {
		if err := h.validator.ValidateEvent(event.Type); err != nil {
			rejected++
			errs = append(errs, err.Error())
			continue
		}

		payload := h.enricher.Enrich(event.Payload, userAgent, clientIP)
		if _, ok := payload["user_id"]; !ok && req.UserID != "" {
			payload["user_id"] = req.UserID
		}

		h.engine.Capture(telemetry.Kind(event.Type), payload, telemetry.Context{
			Route:         event.Context.Route,
			ComponentName: event.Context.Component,
			SessionID:     req.SessionID,
		})
		accepted++
	}

	writeJSON(w, http.StatusOK, EventResponse{
		Success:       rejected == 0,
		AcceptedCount: accepted,
		RejectedCount: rejected,
		Errors:        errs,
	})
}

func (h *HTTPHandler) RecentEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.RecentEvents(listSize(r)))
}

func (h *HTTPHandler) CurrentMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.CurrentMetrics())
}

func (h *HTTPHandler) SessionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.SessionStats())
}

func (h *HTTPHandler) SystemHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.SystemHealth())
}

func (h *HTTPHandler) ForceHealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.ForceHealthCheck(r.Context()))
}

type componentErrorRequest struct {
	Message string `json:"message"`
}

func (h *HTTPHandler) ReportComponentError(w http.ResponseWriter, r *http.Request) {
	var req componentErrorRequest
	if err := decodeBody(w, r, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		req.Message = "unknown error"
	}

	h.engine.ReportComponentError(chi.URLParam(r, "name"), errors.New(req.Message))
	w.WriteHeader(http.StatusAccepted)
}

type performanceRequest struct {
	RenderTime  float64 `json:"render_time" validate:"gte=0"`
	MemoryUsage float64 `json:"memory_usage" validate:"gte=0"`
}

func (h *HTTPHandler) ReportComponentPerformance(w http.ResponseWriter, r *http.Request) {
	var req performanceRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}

	h.engine.ReportComponentPerformance(chi.URLParam(r, "name"), req.RenderTime, req.MemoryUsage)
	w.WriteHeader(http.StatusAccepted)
}

func (h *HTTPHandler) RecoveryHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.RecoveryHistory(listSize(r)))
}

type healingRequest struct {
	Target string `json:"target"`
}

type successResponse struct {
	Success bool `json:"success"`
}

func (h *HTTPHandler) ExecuteHealing(w http.ResponseWriter, r *http.Request) {
	var req healingRequest
	if err := decodeBody(w, r, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Target == "" {
		req.Target = "system"
	}

	ok := h.engine.ExecuteHealing(r.Context(), chi.URLParam(r, "strategy"), req.Target)
	writeJSON(w, http.StatusOK, successResponse{Success: ok})
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *HTTPHandler) ToggleAutoHealing(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := decodeBody(w, r, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	h.engine.ToggleAutoHealing(req.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"auto_healing_enabled": req.Enabled})
}

func (h *HTTPHandler) EmergencyRecovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, successResponse{Success: h.engine.EmergencyRecovery(r.Context())})
}

func (h *HTTPHandler) CurrentInsights(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.CurrentInsights())
}

func (h *HTTPHandler) LearningStyle(w http.ResponseWriter, r *http.Request) {
	style, ok := h.engine.LearningStyle()
	if !ok {
		writeError(w, http.StatusNotFound, "No learning style detected yet")
		return
	}
	writeJSON(w, http.StatusOK, style)
}

func (h *HTTPHandler) ActiveAdaptations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.ActiveAdaptations())
}

type applyRequest struct {
	ID string `json:"id" validate:"required"`
}

func (h *HTTPHandler) ApplyAdaptation(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}

	adaptation, ok := h.engine.ApplyAdaptation(req.ID)
	if !ok {
		writeError(w, http.StatusNotFound, "Adaptation not found")
		return
	}
	writeJSON(w, http.StatusOK, adaptation)
}

func (h *HTTPHandler) CurrentPrediction(w http.ResponseWriter, r *http.Request) {
	prediction, ok := h.engine.CurrentPrediction()
	if !ok {
		writeError(w, http.StatusNotFound, "No prediction available")
		return
	}
	writeJSON(w, http.StatusOK, prediction)
}

type outcomeRequest struct {
	Correct bool `json:"correct"`
}

func (h *HTTPHandler) ReportPredictionOutcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if err := decodeBody(w, r, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	accuracy := h.engine.ReportPredictionOutcome(req.Correct)
	writeJSON(w, http.StatusOK, map[string]float64{"accuracy": accuracy})
}

func (h *HTTPHandler) Recommendations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Recommendations())
}

func (h *HTTPHandler) Personalization(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Personalization())
}

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// RecoverMiddleware turns a handler panic into a global error on the engine
// and answers 500
func (h *HTTPHandler) RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			h.engine.HandleGlobalError("http", fmt.Errorf("panic in %s %s: %v", r.Method, r.URL.Path, rec))
			writeError(w, http.StatusInternalServerError, "Internal server error")
		}()

		next.ServeHTTP(w, r)
	})
}

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// decodeRequest decodes and validates a request body, writing a 400 on
// failure
func (h *HTTPHandler) decodeRequest(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := decodeBody(w, r, v); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return false
	}
	if err := h.validator.ValidateRequest(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// decodeBody reads a JSON body. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"message": message,
	})
}

func listSize(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("n"))
	if err != nil || n <= 0 {
		return defaultListSize
	}
	return n
}

func clientHost(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
