package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"medbin-backend/internal/models"
	"medbin-backend/internal/tracking"
	"medbin-backend/pkg/utils"
)

const (
	defaultWindow       = 24 * time.Hour
	defaultHistoryLimit = 500
	maxHistoryLimit     = 5000
)

// flexTime accepts RFC3339 strings or unix milliseconds.
type flexTime struct {
	time.Time
}

func (t *flexTime) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := parseTime(s)
		if err != nil {
			return err
		}
		t.Time = parsed
		return nil
	}
	var ms int64
	if err := json.Unmarshal(data, &ms); err != nil {
		return models.NewValidationError("timestamp", "must be RFC3339 or unix milliseconds")
	}
	t.Time = time.UnixMilli(ms).UTC()
	return nil
}

func parseTime(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, models.NewValidationError("time", "must be RFC3339 or unix milliseconds")
	}
	return t.UTC(), nil
}

// timeRange reads ?from&to, defaulting to the 24 hours ending now.
func timeRange(r *http.Request, now time.Time) (time.Time, time.Time, error) {
	q := r.URL.Query()
	to := now
	if v := q.Get("to"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return time.Time{}, time.Time{}, models.NewValidationError("to", "must be RFC3339 or unix milliseconds")
		}
		to = t
	}
	from := to.Add(-defaultWindow)
	if v := q.Get("from"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return time.Time{}, time.Time{}, models.NewValidationError("from", "must be RFC3339 or unix milliseconds")
		}
		from = t
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, models.NewValidationError("from", "must not be after to")
	}
	return from, to, nil
}

func historyLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, models.NewValidationError("limit", "must be a positive integer")
	}
	if n > maxHistoryLimit {
		n = maxHistoryLimit
	}
	return n, nil
}

func decodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			return verr
		}
		return models.NewValidationError("body", "invalid JSON")
	}
	return nil
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, tracking.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, tracking.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("❌ Internal error: %v", err)
		utils.RespondError(w, status, "Internal server error")
		return
	}
	utils.RespondError(w, status, err.Error())
}
