package http

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"billing/internal/core"
	applog "billing/internal/log"
)

// writeError maps service errors to status codes:
// validation 422, not found 404, anything else 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	resp := errorResponse{Error: "internal server error"}

	var ve *core.ValidationError
	switch {
	case errors.As(err, &ve):
		status = http.StatusUnprocessableEntity
		resp = errorResponse{Error: err.Error(), Code: ve.Code, Field: ve.Field}
	case core.IsValidation(err):
		status = http.StatusUnprocessableEntity
		resp = errorResponse{Error: err.Error()}
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
		resp = errorResponse{Error: err.Error()}
	default:
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			applog.FieldPath, r.URL.Path,
			applog.FieldError, err)
	}

	render.Status(r, status)
	render.JSON(w, r, resp)
}

// writeBindError separates malformed bodies (400) from bodies that decode
// but fail validation (422).
func writeBindError(w http.ResponseWriter, r *http.Request, err error) {
	if core.IsValidation(err) {
		writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, errorResponse{Error: "invalid request body: " + err.Error()})
}
