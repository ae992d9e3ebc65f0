package apihttp

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"metering-billing/internal/audit"
	"metering-billing/internal/auth"
	billing "metering-billing/internal/billing/domain"
	estimation "metering-billing/internal/estimation/domain"
	readings "metering-billing/internal/readings/domain"
	scope "metering-billing/internal/scope/domain"
	tariff "metering-billing/internal/tariff/domain"
)

const timeLayout = time.RFC3339

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return false
	}
	defer r.Body.Close()
	if err := json.Unmarshal(body, dst); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func parseTimeField(key, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New(key + " is required")
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}

func parseWindow(startKey, startValue, endKey, endValue string) (time.Time, time.Time, error) {
	start, err := parseTimeField(startKey, startValue)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := parseTimeField(endKey, endValue)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, errors.New(endKey + " must be after " + startKey)
	}
	return start, end, nil
}

// respondError maps domain errors to status codes. Configuration errors are
// the caller's problem (4xx); anything else is a 500.
func respondError(w http.ResponseWriter, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, billing.ErrDocumentNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, billing.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, billing.ErrInvalidPeriod),
		errors.Is(err, billing.ErrEmptyCustomerID),
		errors.Is(err, billing.ErrNoMetersInScope),
		errors.Is(err, scope.ErrUnknownScopeType),
		errors.Is(err, scope.ErrInvalidWindow),
		errors.Is(err, estimation.ErrUnknownMethod),
		errors.Is(err, estimation.ErrInvalidWindow),
		errors.Is(err, readings.ErrInvalidWindow),
		errors.Is(err, readings.ErrUnknownSource),
		errors.Is(err, tariff.ErrNoOperatorPrice),
		errors.Is(err, tariff.ErrTariffNotFound):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		logger.Error("request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func logAudit(r *http.Request, logger audit.Logger, entry audit.Entry, meta map[string]any) {
	if logger == nil {
		return
	}
	if meta != nil {
		entry.Metadata, _ = json.Marshal(meta)
	}
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		entry.Actor = id.Subject
		entry.Role = string(id.Role)
		entry.CustomerID = id.CustomerID
	}
	_ = logger.Log(r.Context(), audit.Stamp(r, entry))
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(timeLayout)
}
