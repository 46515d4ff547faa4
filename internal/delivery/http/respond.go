package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/quickshop-io/checkout-engine/internal/entity"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report violations under the json field name, not the Go field name.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type errorResponse struct {
	Error    string                   `json:"error"`
	Field    string                   `json:"field,omitempty"`
	Failures []entity.CheckoutFailure `json:"failures,omitempty"`
	Current  string                   `json:"current,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "err", err)
	}
}

// writeError maps the domain error taxonomy onto HTTP statuses. Anything
// the taxonomy does not classify is a 500 and gets logged here, once.
func writeError(w http.ResponseWriter, err error) {
	var (
		invalid  *entity.ValidationError
		rejected *entity.CheckoutRejectedError
		race     *entity.RaceLostError
		state    *entity.StateError
	)
	switch {
	case errors.Is(err, entity.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, entity.ErrCartEmpty):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "cart is empty"})
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: invalid.Error(), Field: invalid.Field})
	case errors.As(err, &rejected):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "checkout rejected", Failures: rejected.Failures})
	case errors.As(err, &race):
		writeJSON(w, http.StatusConflict, errorResponse{Error: race.Error()})
	case errors.As(err, &state):
		writeJSON(w, http.StatusConflict, errorResponse{Error: state.Error(), Current: state.Current})
	default:
		slog.Error("Handler: Unexpected error", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

// decode unmarshals the request body into req and checks its validate tags.
// An empty body decodes to the zero request, which the tags then judge.
func decode(r *http.Request, req any) error {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil && !errors.Is(err, io.EOF) {
		return entity.NewValidationError("body", "malformed JSON")
	}
	if err := validate.Struct(req); err != nil {
		var violations validator.ValidationErrors
		if errors.As(err, &violations) && len(violations) > 0 {
			first := violations[0]
			return entity.NewValidationError(first.Field(), fmt.Sprintf("violates %q", first.Tag()))
		}
		return entity.NewValidationError("body", "invalid request")
	}
	return nil
}
