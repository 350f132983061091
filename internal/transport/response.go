package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"warimas-pos/internal/cart"
	"warimas-pos/internal/logger"

	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

var errBadRequest = errors.New("bad request")

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, cart.ErrInvalidDiscount),
		errors.Is(err, cart.ErrInvalidItem):
		return http.StatusBadRequest
	case errors.Is(err, cart.ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, cart.ErrInsufficientStock),
		errors.Is(err, cart.ErrCartEmpty),
		errors.Is(err, cart.ErrOrderClosed):
		return http.StatusConflict
	case errors.Is(err, cart.ErrFailedFinalize):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, method string, err error) {
	code := statusFor(err)
	log := logger.FromCtx(r.Context()).With(
		zap.String("layer", "transport"),
		zap.String("method", method),
	)
	if code >= http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
		writeJSONError(w, http.StatusText(code), code)
		return
	}
	log.Debug("request rejected", zap.Int("status", code), zap.Error(err))
	writeJSONError(w, err.Error(), code)
}
