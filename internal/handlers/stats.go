package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"medbin-backend/internal/tracking"
	"medbin-backend/pkg/utils"
)

// GetDriverStats aggregates a driver's collections, distance and active time
// GET /api/drivers/{id}/stats?from&to
func GetDriverStats(svc *tracking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, to, err := timeRange(r, svc.Now())
		if err != nil {
			respondErr(w, err)
			return
		}
		stats, err := svc.ComputeStats(r.Context(), chi.URLParam(r, "id"), from, to)
		if err != nil {
			respondErr(w, err)
			return
		}
		utils.RespondData(w, http.StatusOK, stats)
	}
}

// GetMarkers returns the dashboard map layer
// GET /api/markers?from&to
func GetMarkers(svc *tracking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, to, err := timeRange(r, svc.Now())
		if err != nil {
			respondErr(w, err)
			return
		}
		markers, err := svc.Markers(r.Context(), from, to)
		if err != nil {
			respondErr(w, err)
			return
		}
		utils.RespondData(w, http.StatusOK, markers)
	}
}
