package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"medbin-backend/internal/models"
	"medbin-backend/pkg/utils"
)

// DiagnosticLog is a firmware or app diagnostic sent by a tracker
type DiagnosticLog struct {
	Timestamp string                 `json:"timestamp"`
	Context   string                 `json:"context"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data"`
	Firmware  string                 `json:"firmware"`
}

// ReceiveDiagnosticLog writes device diagnostics to the server log
// POST /api/devices/{id}/diagnostics
func ReceiveDiagnosticLog() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var entry DiagnosticLog
		if err := decodeJSON(r, &entry); err != nil {
			respondErr(w, err)
			return
		}
		if strings.TrimSpace(entry.Message) == "" {
			respondErr(w, models.NewValidationError("message", "is required"))
			return
		}

		prefix := "📱"
		switch strings.ToUpper(entry.Level) {
		case "ERROR":
			prefix = "🔴"
		case "WARNING":
			prefix = "🟡"
		case "INFO":
			prefix = "🔵"
		}

		log.Printf("%s DEVICE DIAGNOSTIC [%s] %s fw=%s ctx=%s: %s",
			prefix, entry.Level, chi.URLParam(r, "id"), entry.Firmware, entry.Context, entry.Message)
		if len(entry.Data) > 0 {
			if dataJSON, err := json.Marshal(entry.Data); err == nil {
				log.Printf("   Data: %s", dataJSON)
			}
		}

		utils.RespondData(w, http.StatusOK, map[string]string{"status": "received"})
	}
}
