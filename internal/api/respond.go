// internal/api/respond.go
package api

import (
	"encoding/json"
	"net/http"

	apperrors "gitfleet/internal/errors"
)

// respondWithJSON writes the payload as a JSON response.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"Failed to marshal response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// respondWithError writes a JSON error body with the given status code.
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// statusForKind maps domain error kinds onto HTTP status codes.
func statusForKind(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.KindNotFound, apperrors.KindInvalidReference:
		return http.StatusNotFound
	case apperrors.KindNotAFile:
		return http.StatusBadRequest
	case apperrors.KindAlreadyExists, apperrors.KindInvalidState,
		apperrors.KindCheckoutConflict, apperrors.KindDirtyWorkdir, apperrors.KindInUse:
		return http.StatusConflict
	case apperrors.KindPermissionDenied:
		return http.StatusForbidden
	case apperrors.KindNetworkFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
