package intake

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	coreerrors "github.com/zjrosen/taskcore/internal/errors"
)

func decodeAndValidate(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst any, operation string) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeValidationError(w, operation, "", "malformed request body")
		return false
	}
	if err := v.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			writeValidationError(w, operation, fieldErrs[0].Field(), fieldErrs[0].Tag())
		} else {
			writeValidationError(w, operation, "", err.Error())
		}
		return false
	}
	return true
}

func writeValidationError(w http.ResponseWriter, operation, field, reason string) {
	err := &coreerrors.Validation{Operation: operation, Field: field, Reason: reason}
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
}

// writeStoreError maps a domain.Store error to an HTTP status. C3
// surfaces Validation, NotOwner, IllegalTransition, and Suspended
// directly per spec §7; anything else is a 503 (Transient) or 500.
func writeStoreError(w http.ResponseWriter, err error) {
	var (
		validationErr *coreerrors.Validation
		notOwnerErr   *coreerrors.NotOwner
		illegalErr    *coreerrors.IllegalTransition
		suspendedErr  *coreerrors.Suspended
	)
	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.As(err, &notOwnerErr):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.As(err, &illegalErr):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.As(err, &suspendedErr):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, coreerrors.ErrTaskNotFound), errors.Is(err, coreerrors.ErrReviewerNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case coreerrors.IsRetryable(err):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
