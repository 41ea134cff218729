package github

import (
	"fmt"
	"net/http"
	"time"

	"github.com/LX-media/orgdash/internal/errlog"
)

// RateLimitExceededError means the call was rejected because the quota is
// exhausted. Terminal for that call; the caller decides when to retry based
// on ResetAt.
type RateLimitExceededError struct {
	ResetAt time.Time
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded, resets at %s", e.ResetAt.Format(time.RFC3339))
}

// APIError is a structured error for a non-success API response.
type APIError struct {
	StatusCode       int
	Message          string
	DocumentationURL string
	Category         errlog.Category
	cause            error
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("API returned status %d: %s", e.StatusCode, e.Message)
	if e.DocumentationURL != "" {
		msg += " (see " + e.DocumentationURL + ")"
	}
	return msg
}

func (e *APIError) Unwrap() error { return e.cause }

// categoryForStatus classifies a response status: permission and credential
// failures are AUTH, not-found is API, anything else is NETWORK.
func categoryForStatus(status int) errlog.Category {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errlog.CategoryAuth
	case http.StatusNotFound:
		return errlog.CategoryAPI
	default:
		return errlog.CategoryNetwork
	}
}
