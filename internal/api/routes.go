package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pulseboard/adinsights/internal/metrics"
)

// SetupRoutes builds the router for the operator API.
func SetupRoutes(h *Handlers, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/accounts/{accountID}", func(r chi.Router) {
			r.Post("/normalize", h.Normalize)
			r.Post("/process", h.Process)

			r.Get("/anomalies", h.ListAnomalies)
			r.Get("/anomalies/summary", h.AnomalySummary)

			r.Post("/burnout/predict", h.PredictBurnout)
			r.Get("/burnout/predictions", h.ListBurnoutPredictions)
			r.Post("/burnout/quantiles", h.RunQuantileAnalysis)

			r.Get("/ads/{adID}/forecast", h.ForecastAd)
			r.Get("/campaigns/{campaignID}/forecast", h.ForecastCampaign)
		})

		r.Patch("/anomalies/{anomalyID}/status", h.UpdateAnomalyStatus)
	})

	return r
}
