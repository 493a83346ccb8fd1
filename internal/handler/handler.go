// Package handler provides the gateway's REST and WebSocket handlers.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/agriconnect-gateway/internal/checkout"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/client"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/dashboard"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/model"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/session"
)

// Version is the application version.
const Version = "1.0.0"

// maxBodySize bounds JSON request bodies.
const maxBodySize = 1 << 20

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Status string `json:"status"`
}

// errBadBody is reported for unreadable JSON bodies.
var errBadBody = errors.New("invalid request body")

// validationErrors are input errors reported to the caller as 400.
var validationErrors = []error{
	errBadBody,
	model.ErrEmptyName,
	model.ErrNameTooLong,
	model.ErrEmptyDescription,
	model.ErrNegativePrice,
	model.ErrNegativeStock,
	model.ErrInvalidHarvestDate,
	model.ErrNegativeDistance,
	model.ErrInvalidStatus,
	model.ErrInvalidSoilType,
	model.ErrNegativeLandSize,
	model.ErrInvalidCoordinate,
	model.ErrEmptyCropVariety,
	model.ErrInvalidPlantingDate,
	model.ErrInvalidExpectedDate,
	model.ErrHarvestBeforePlant,
	model.ErrEmptyUsername,
	model.ErrEmptyPassword,
	model.ErrInvalidRole,
	dashboard.ErrEmptyPatch,
	dashboard.ErrInvalidPatch,
	checkout.ErrEmptyCart,
}

// statusFor maps an error to the HTTP status and message returned to the
// caller. Marketplace rejections keep their status and verbatim reason.
func statusFor(err error) (int, string) {
	var apiErr *client.APIError

	switch {
	case errors.As(err, &apiErr):
		if apiErr.StatusCode >= http.StatusInternalServerError {
			return http.StatusBadGateway, apiErr.Message
		}
		return apiErr.StatusCode, apiErr.Message
	case errors.Is(err, client.ErrUnavailable), errors.Is(err, session.ErrEmptyToken):
		return http.StatusBadGateway, client.ErrUnavailable.Error()
	case errors.Is(err, checkout.ErrInProgress):
		return http.StatusConflict, err.Error()
	case errors.Is(err, dashboard.ErrNotFarmer):
		return http.StatusForbidden, err.Error()
	}

	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return http.StatusBadRequest, target.Error()
		}
	}

	return http.StatusInternalServerError, "internal server error"
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", zap.Error(err))
	}
}

// writeError writes an error envelope for err and logs server-side failures.
func writeError(w http.ResponseWriter, logger *zap.Logger, operation string, err error) {
	status, message := statusFor(err)

	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", zap.String("operation", operation), zap.Error(err))
	default:
		logger.Debug("request rejected",
			zap.String("operation", operation),
			zap.Int("status", status),
			zap.Error(err),
		)
	}

	writeJSON(w, logger, status, model.NewErrorResponse[any](message))
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errBadBody
	}
	return nil
}
