package httperrors

import (
	"net/http"

	"tokenly/pkg/domainerrors"
)

// ToHTTPStatus maps stable domain error codes to HTTP statuses so the thin
// transport layer never inspects error strings.
func ToHTTPStatus(code domainerrors.Code) int {
	switch code {
	case domainerrors.CodeInvalidInput:
		return http.StatusBadRequest
	case domainerrors.CodeUnauthorized, domainerrors.CodeInvalidToken, domainerrors.CodeReuseDetected:
		return http.StatusUnauthorized
	case domainerrors.CodeForbidden:
		return http.StatusForbidden
	case domainerrors.CodeNotFound:
		return http.StatusNotFound
	case domainerrors.CodeConflict:
		return http.StatusConflict
	case domainerrors.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
