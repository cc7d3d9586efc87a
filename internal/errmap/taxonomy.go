// Package errmap maps the broker's domain error taxonomy onto the HTTP
// vocabulary the bot bridge and any administrative HTTP surface speak (§7).
// net/http's status constants are used here purely as a numeric vocabulary;
// nothing in this package serves or routes HTTP requests itself.
package errmap

import (
	"errors"
	"net/http"

	"github.com/campusbot/attendance-broker/internal/domain"
)

// HTTPError represents an HTTP error response.
type HTTPError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e HTTPError) Error() string {
	return e.Message
}

// ToHTTPError converts a broker domain error to an HTTP error per the
// taxonomy in §7: second-factor and credential states map to 4xx with a
// stable machine-readable Code a bot or admin surface can branch on;
// anything unrecognized collapses to a generic 500 so internals never leak.
func ToHTTPError(err error) HTTPError {
	if err == nil {
		return HTTPError{StatusCode: http.StatusOK}
	}

	switch {
	case errors.Is(err, domain.ErrChallengeRequired):
		return HTTPError{
			StatusCode: http.StatusConflict,
			Code:       "CHALLENGE_REQUIRED",
			Message:    err.Error(),
		}

	case errors.Is(err, domain.ErrNoActiveChallenge):
		return HTTPError{
			StatusCode: http.StatusConflict,
			Code:       "NO_ACTIVE_CHALLENGE",
			Message:    err.Error(),
		}

	case errors.Is(err, domain.ErrWrongCode):
		return HTTPError{
			StatusCode: http.StatusBadRequest,
			Code:       "WRONG_CODE",
			Message:    err.Error(),
		}

	case errors.Is(err, domain.ErrCredentialsInvalid):
		return HTTPError{
			StatusCode: http.StatusUnauthorized,
			Code:       "CREDENTIALS_INVALID",
			Message:    err.Error(),
		}

	case errors.Is(err, domain.ErrUserNotFound):
		return HTTPError{
			StatusCode: http.StatusNotFound,
			Code:       "USER_NOT_FOUND",
			Message:    err.Error(),
		}

	case errors.Is(err, domain.ErrUpstreamTransient):
		return HTTPError{
			StatusCode: http.StatusBadGateway,
			Code:       "UPSTREAM_TRANSIENT",
			Message:    err.Error(),
		}

	case errors.Is(err, domain.ErrCredentialCorruption):
		return HTTPError{
			StatusCode: http.StatusInternalServerError,
			Code:       "CREDENTIAL_CORRUPTION",
			Message:    err.Error(),
		}

	case errors.Is(err, domain.ErrWrongIssuer):
		return HTTPError{
			StatusCode: http.StatusBadRequest,
			Code:       "WRONG_ISSUER",
			Message:    err.Error(),
		}

	case errors.Is(err, domain.ErrNotSessionOwner):
		return HTTPError{
			StatusCode: http.StatusForbidden,
			Code:       "PERMISSION_DENIED",
			Message:    err.Error(),
		}

	case errors.Is(err, domain.ErrSessionNotFound):
		return HTTPError{
			StatusCode: http.StatusNotFound,
			Code:       "NOT_FOUND",
			Message:    err.Error(),
		}

	case errors.Is(err, domain.ErrNotFound):
		return HTTPError{
			StatusCode: http.StatusNotFound,
			Code:       "NOT_FOUND",
			Message:    err.Error(),
		}

	case errors.Is(err, domain.ErrAlreadyExists):
		return HTTPError{
			StatusCode: http.StatusConflict,
			Code:       "ALREADY_EXISTS",
			Message:    err.Error(),
		}

	case errors.Is(err, domain.ErrUnauthorized):
		return HTTPError{
			StatusCode: http.StatusUnauthorized,
			Code:       "UNAUTHENTICATED",
			Message:    err.Error(),
		}

	case errors.Is(err, domain.ErrForbidden):
		return HTTPError{
			StatusCode: http.StatusForbidden,
			Code:       "PERMISSION_DENIED",
			Message:    err.Error(),
		}

	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrEmptyID),
		errors.Is(err, domain.ErrInvalidID):
		return HTTPError{
			StatusCode: http.StatusBadRequest,
			Code:       "INVALID_ARGUMENT",
			Message:    err.Error(),
		}

	case errors.Is(err, domain.ErrRateLimited):
		return HTTPError{
			StatusCode: http.StatusTooManyRequests,
			Code:       "RATE_LIMITED",
			Message:    err.Error(),
		}

	case errors.Is(err, domain.ErrUnavailable):
		return HTTPError{
			StatusCode: http.StatusServiceUnavailable,
			Code:       "UNAVAILABLE",
			Message:    err.Error(),
		}

	default:
		// Never expose internal error details to clients.
		return HTTPError{
			StatusCode: http.StatusInternalServerError,
			Code:       "INTERNAL",
			Message:    "internal error",
		}
	}
}

// ToHTTPStatusCode extracts just the HTTP status code for a domain error.
func ToHTTPStatusCode(err error) int {
	return ToHTTPError(err).StatusCode
}
