package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"

	"medbin-backend/internal/models"
	"medbin-backend/internal/tracking"
	"medbin-backend/pkg/utils"
)

// LocationRequest is the body of POST /devices/{id}/locations.
type LocationRequest struct {
	Coordinates  []float64 `json:"coordinates"` // [longitude, latitude]
	Timestamp    *flexTime `json:"timestamp"`
	Battery      int       `json:"battery"`
	Speed        float64   `json:"speed"`
	IsCollecting *bool     `json:"isCollecting"`
	Altitude     *float64  `json:"altitude"`
}

// CommandRequest is the body of POST /devices/{id}/command.
type CommandRequest struct {
	Command string          `json:"command"`
	Data    json.RawMessage `json:"data"`
}

const CommandSetCollectingMode = "setCollectingMode"

// TokenRegistrar stores push tokens for devices.
type TokenRegistrar interface {
	Register(ctx context.Context, deviceID, token, platform string) error
}

// ListDevices returns every known device with its liveness
// GET /api/devices
func ListDevices(svc *tracking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		devices, err := svc.DeviceStatuses(r.Context())
		if err != nil {
			respondErr(w, err)
			return
		}
		utils.RespondData(w, http.StatusOK, devices)
	}
}

// IngestLocation stores a position report
// POST /api/devices/{id}/locations
func IngestLocation(svc *tracking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deviceID := chi.URLParam(r, "id")

		var req LocationRequest
		if err := decodeJSON(r, &req); err != nil {
			respondErr(w, err)
			return
		}
		if len(req.Coordinates) != 2 {
			respondErr(w, models.NewValidationError("coordinates", "must be [longitude, latitude]"))
			return
		}

		report := models.DeviceLocationReport{
			DeviceID:    deviceID,
			Coordinates: orb.Point{req.Coordinates[0], req.Coordinates[1]},
			Battery:     req.Battery,
			Speed:       req.Speed,
			Altitude:    req.Altitude,
		}
		if req.Timestamp != nil {
			report.Timestamp = req.Timestamp.Time
		}
		if req.IsCollecting != nil {
			report.IsCollecting = *req.IsCollecting
		} else if st, err := svc.DeviceStatus(r.Context(), deviceID); err == nil {
			// firmware that omits the flag inherits the last commanded mode
			report.IsCollecting = st.IsCollecting
		}

		state, err := svc.Ingest(r.Context(), report)
		if err != nil {
			respondErr(w, err)
			return
		}
		utils.RespondData(w, http.StatusCreated, tracking.DeviceStatus(state, svc.Now()))
	}
}

// GetDeviceLocation returns the latest known state of a device
// GET /api/devices/{id}/location
func GetDeviceLocation(svc *tracking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := svc.DeviceStatus(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			respondErr(w, err)
			return
		}
		utils.RespondData(w, http.StatusOK, status)
	}
}

// GetDeviceHistory returns ordered reports for a window
// GET /api/devices/{id}/history?from&to&limit
func GetDeviceHistory(svc *tracking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, to, err := timeRange(r, svc.Now())
		if err != nil {
			respondErr(w, err)
			return
		}
		limit, err := historyLimit(r)
		if err != nil {
			respondErr(w, err)
			return
		}

		history, err := svc.History(r.Context(), chi.URLParam(r, "id"), from, to, limit)
		if err != nil {
			respondErr(w, err)
			return
		}
		utils.RespondData(w, http.StatusOK, history)
	}
}

// SendDeviceCommand applies an operator command to a device
// POST /api/devices/{id}/command
func SendDeviceCommand(svc *tracking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deviceID := chi.URLParam(r, "id")

		var req CommandRequest
		if err := decodeJSON(r, &req); err != nil {
			respondErr(w, err)
			return
		}

		switch req.Command {
		case CommandSetCollectingMode:
			var data struct {
				IsCollecting *bool `json:"isCollecting"`
			}
			if len(req.Data) == 0 || json.Unmarshal(req.Data, &data) != nil || data.IsCollecting == nil {
				respondErr(w, models.NewValidationError("data.isCollecting", "is required"))
				return
			}
			state, err := svc.SetCollectingMode(r.Context(), deviceID, *data.IsCollecting)
			if err != nil {
				respondErr(w, err)
				return
			}
			log.Printf("🎛️  Device %s collecting mode set to %v", deviceID, *data.IsCollecting)
			utils.RespondData(w, http.StatusOK, tracking.DeviceStatus(state, svc.Now()))
		default:
			respondErr(w, models.NewValidationError("command", "unknown command "+req.Command))
		}
	}
}

// DetectStops rescans a window of the trace for collection stops
// POST /api/devices/{id}/detect?from&to
func DetectStops(svc *tracking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, to, err := timeRange(r, svc.Now())
		if err != nil {
			respondErr(w, err)
			return
		}
		created, err := svc.DetectStops(r.Context(), chi.URLParam(r, "id"), from, to)
		if err != nil {
			respondErr(w, err)
			return
		}
		if created == nil {
			created = []models.CollectionPoint{}
		}
		utils.RespondData(w, http.StatusOK, created)
	}
}

// RegisterDeviceToken stores the FCM token a device receives commands on
// POST /api/devices/{id}/fcm-token
func RegisterDeviceToken(tokens TokenRegistrar) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Token    string `json:"token"`
			Platform string `json:"platform"`
		}
		if err := decodeJSON(r, &req); err != nil {
			respondErr(w, err)
			return
		}
		if req.Token == "" {
			respondErr(w, models.NewValidationError("token", "is required"))
			return
		}
		if req.Platform != "ios" && req.Platform != "android" {
			respondErr(w, models.NewValidationError("platform", "must be 'ios' or 'android'"))
			return
		}

		if err := tokens.Register(r.Context(), chi.URLParam(r, "id"), req.Token, req.Platform); err != nil {
			respondErr(w, err)
			return
		}
		utils.RespondData(w, http.StatusOK, map[string]string{"message": "Token registered"})
	}
}
