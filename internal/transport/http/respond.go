package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	"tokenly/pkg/domainerrors"
	"tokenly/pkg/httperrors"
)

func writeJSON(w http.ResponseWriter, status int, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		// best-effort fallback; the status is already committed
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

// writeError translates domain errors into the JSON error envelope. Unknown
// errors become an opaque 500.
func writeError(w http.ResponseWriter, err error) {
	var domainErr *domainerrors.Error
	if errors.As(err, &domainErr) {
		response := map[string]string{
			"error": string(domainErr.Code),
		}
		if domainErr.Message != "" {
			response["error_description"] = domainErr.Message
		}
		writeJSON(w, httperrors.ToHTTPStatus(domainErr.Code), response)
		return
	}

	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error": string(domainerrors.CodeInternal),
	})
}
