package handlers

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"medbin-backend/internal/models"
	"medbin-backend/internal/tracking"
	"medbin-backend/pkg/utils"
)

// CreateCollectionPointRequest is an explicit "mark collection" command.
type CreateCollectionPointRequest struct {
	DriverID  string           `json:"driverId"`
	Location  *models.GeoPoint `json:"location"`
	BinIDs    []string         `json:"binIds"`
	Timestamp *flexTime        `json:"timestamp"`
	Notes     *string          `json:"notes"`
	Photos    []string         `json:"photos"`
}

// CreateCollectionPoint records an explicit collection. A second mark of the
// same stop answers 200 with the existing point instead of 201.
// POST /api/collection-points
func CreateCollectionPoint(svc *tracking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateCollectionPointRequest
		if err := decodeJSON(r, &req); err != nil {
			respondErr(w, err)
			return
		}
		if req.Location == nil {
			respondErr(w, models.NewValidationError("location", "is required"))
			return
		}

		in := tracking.CollectionInput{
			DriverID: req.DriverID,
			Location: req.Location.Coordinates,
			BinIDs:   req.BinIDs,
			Notes:    req.Notes,
			Photos:   req.Photos,
		}
		if req.Timestamp != nil {
			in.Timestamp = req.Timestamp.Time
		}

		cp, created, err := svc.RecordCollection(r.Context(), in)
		if err != nil {
			respondErr(w, err)
			return
		}
		if !created {
			log.Printf("⚠️  Duplicate collection mark for %s, returning %s", cp.DriverID, cp.ID)
			utils.RespondData(w, http.StatusOK, cp)
			return
		}
		log.Printf("✅ Collection point %s created for %s (%d bins)", cp.ID, cp.DriverID, cp.BinCount)
		utils.RespondData(w, http.StatusCreated, cp)
	}
}

// GetCollectionPoint returns one point
// GET /api/collection-points/{id}
func GetCollectionPoint(svc *tracking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cp, err := svc.CollectionPoint(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			respondErr(w, err)
			return
		}
		utils.RespondData(w, http.StatusOK, cp)
	}
}

// AnnotateCollectionPoint updates notes and photos; all other fields are immutable
// PATCH /api/collection-points/{id}
func AnnotateCollectionPoint(svc *tracking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.CollectionAnnotation
		if err := decodeJSON(r, &req); err != nil {
			respondErr(w, err)
			return
		}
		cp, err := svc.AnnotateCollectionPoint(r.Context(), chi.URLParam(r, "id"), req)
		if err != nil {
			respondErr(w, err)
			return
		}
		utils.RespondData(w, http.StatusOK, cp)
	}
}

// GetDriverCollectionPoints lists a driver's points in a window
// GET /api/drivers/{id}/collection-points?from&to
func GetDriverCollectionPoints(svc *tracking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, to, err := timeRange(r, svc.Now())
		if err != nil {
			respondErr(w, err)
			return
		}
		points, err := svc.CollectionPoints(r.Context(), chi.URLParam(r, "id"), from, to)
		if err != nil {
			respondErr(w, err)
			return
		}
		utils.RespondData(w, http.StatusOK, points)
	}
}
