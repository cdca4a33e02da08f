// Package api exposes the operator HTTP surface: anomaly listings and
// status transitions, burnout predictions, budget forecasts, and pipeline
// triggers. It is a thin JSON layer over the library entry points.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pulseboard/adinsights/internal/anomaly"
	"github.com/pulseboard/adinsights/internal/burnout"
	"github.com/pulseboard/adinsights/internal/domain"
	"github.com/pulseboard/adinsights/internal/forecast"
	"github.com/pulseboard/adinsights/internal/normalizer"
	"github.com/pulseboard/adinsights/internal/pipeline"
	"github.com/pulseboard/adinsights/internal/pkg/logger"
	"github.com/pulseboard/adinsights/internal/repository/postgres"
)

// Normalizer runs the result-normalization stage.
type Normalizer interface {
	NormalizeAccountResults(ctx context.Context, accountID string) (*normalizer.NormalizeReport, error)
	EnsureClickFamily(ctx context.Context, accountID string) (int, error)
	ResolvePrimaryFamilies(ctx context.Context, accountID string) (map[string]domain.ResultFamily, error)
}

// Processor runs the feature/anomaly stage.
type Processor interface {
	ProcessAccount(ctx context.Context, accountID string) (*pipeline.ProcessReport, error)
}

// AnomalyReader serves anomaly listings and summaries.
type AnomalyReader interface {
	List(ctx context.Context, accountID string, f postgres.AnomalyFilter) ([]domain.Anomaly, error)
	Summary(ctx context.Context, accountID string) (*postgres.AnomalySummary, error)
}

// AnomalyUpdater applies operator status transitions.
type AnomalyUpdater interface {
	Transition(ctx context.Context, id string, target domain.AnomalyStatus, actor, notes string) (*domain.Anomaly, error)
}

// BurnoutAnalyzer runs burnout prediction and quantile analysis.
type BurnoutAnalyzer interface {
	PredictAllAds(ctx context.Context, accountID string) ([]domain.BurnoutPrediction, error)
	RunQuantileAnalysis(ctx context.Context, accountID string) (*burnout.QuantileReport, error)
}

// PredictionsReader serves the stored burnout predictions without
// recomputing them.
type PredictionsReader interface {
	ListByAccount(ctx context.Context, accountID string) ([]domain.BurnoutPrediction, error)
}

// Forecaster serves ad- and campaign-level budget forecasts.
type Forecaster interface {
	ForecastAd(ctx context.Context, accountID, adID string, family domain.ResultFamily) (*domain.ForecastResult, error)
	ForecastCampaignBudget(ctx context.Context, accountID, campaignID string) (*forecast.CampaignForecast, error)
}

// Handlers holds the services behind the HTTP surface.
type Handlers struct {
	normalizer  Normalizer
	processor   Processor
	anomalies   AnomalyReader
	status      AnomalyUpdater
	burnout     BurnoutAnalyzer
	predictions PredictionsReader
	forecaster  Forecaster
}

// NewHandlers wires the operator handlers.
func NewHandlers(n Normalizer, p Processor, ar AnomalyReader, au AnomalyUpdater, ba BurnoutAnalyzer, pr PredictionsReader, f Forecaster) *Handlers {
	return &Handlers{
		normalizer:  n,
		processor:   p,
		anomalies:   ar,
		status:      au,
		burnout:     ba,
		predictions: pr,
		forecaster:  f,
	}
}

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// Normalize runs result normalization plus click-family backfill for an
// account.
func (h *Handlers) Normalize(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	report, err := h.normalizer.NormalizeAccountResults(r.Context(), accountID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	added, err := h.normalizer.EnsureClickFamily(r.Context(), accountID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	// Primary-family flags gate the process stage, so they are resolved as
	// part of every normalize run.
	primaries, err := h.normalizer.ResolvePrimaryFamilies(r.Context(), accountID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"normalize":        report,
		"click_rows_added": added,
		"primary_families": primaries,
	})
}

// Process runs the feature engine and anomaly detector for an account.
func (h *Handlers) Process(w http.ResponseWriter, r *http.Request) {
	report, err := h.processor.ProcessAccount(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ListAnomalies serves an account's anomalies, filtered by query params.
func (h *Handlers) ListAnomalies(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	q := r.URL.Query()

	filter := postgres.AnomalyFilter{
		AdID:         q.Get("ad_id"),
		ResultFamily: domain.ResultFamily(q.Get("family")),
		Status:       domain.AnomalyStatus(q.Get("status")),
		Limit:        intParam(q.Get("limit")),
		Offset:       intParam(q.Get("offset")),
	}
	if v := q.Get("min_score"); v != "" {
		if score, err := strconv.ParseFloat(v, 64); err == nil {
			filter.MinScore = score
		}
	}
	if v := q.Get("since"); v != "" {
		if since, err := time.Parse("2006-01-02", v); err == nil {
			filter.Since = &since
		}
	}

	anomalies, err := h.anomalies.List(r.Context(), accountID, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"anomalies": anomalies,
		"count":     len(anomalies),
	})
}

// AnomalySummary serves the account's aggregate anomaly stats.
func (h *Handlers) AnomalySummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.anomalies.Summary(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type statusRequest struct {
	Status domain.AnomalyStatus `json:"status"`
	Actor  string               `json:"actor"`
	Notes  string               `json:"notes"`
}

// UpdateAnomalyStatus applies an operator lifecycle transition.
func (h *Handlers) UpdateAnomalyStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Actor == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "actor is required"})
		return
	}

	a, err := h.status.Transition(r.Context(), chi.URLParam(r, "anomalyID"), req.Status, req.Actor, req.Notes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// PredictBurnout scores every ad in the account.
func (h *Handlers) PredictBurnout(w http.ResponseWriter, r *http.Request) {
	predictions, err := h.burnout.PredictAllAds(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"predictions": predictions,
		"count":       len(predictions),
	})
}

// ListBurnoutPredictions serves the latest stored prediction per ad.
func (h *Handlers) ListBurnoutPredictions(w http.ResponseWriter, r *http.Request) {
	predictions, err := h.predictions.ListByAccount(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"predictions": predictions,
		"count":       len(predictions),
	})
}

// RunQuantileAnalysis builds the account's lead-lag insight report.
func (h *Handlers) RunQuantileAnalysis(w http.ResponseWriter, r *http.Request) {
	report, err := h.burnout.RunQuantileAnalysis(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ForecastAd serves the budget forecast for one ad and family.
func (h *Handlers) ForecastAd(w http.ResponseWriter, r *http.Request) {
	family := domain.ResultFamily(r.URL.Query().Get("family"))
	if family == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "family query parameter is required"})
		return
	}

	fr, err := h.forecaster.ForecastAd(r.Context(),
		chi.URLParam(r, "accountID"), chi.URLParam(r, "adID"), family)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if fr == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no current week to forecast from"})
		return
	}
	writeJSON(w, http.StatusOK, fr)
}

// ForecastCampaign serves the aggregated campaign budget forecast.
func (h *Handlers) ForecastCampaign(w http.ResponseWriter, r *http.Request) {
	cf, err := h.forecaster.ForecastCampaignBudget(r.Context(),
		chi.URLParam(r, "accountID"), chi.URLParam(r, "campaignID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cf)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("encode response", "error", err.Error())
	}
}

// writeError maps service errors to HTTP statuses without leaking
// internals.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var invalid *anomaly.InvalidTransitionError
	switch {
	case errors.Is(err, anomaly.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusConflict, map[string]string{"error": invalid.Error()})
	default:
		logger.Error("request failed",
			"method", r.Method, "path", r.URL.Path, "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func intParam(v string) int {
	n, _ := strconv.Atoi(v)
	return n
}
