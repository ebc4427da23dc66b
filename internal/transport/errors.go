package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// APIError is a failed REST response. Code and Message come from the
// server's JSON error body when it has one.
type APIError struct {
	Code       int     `json:"code"`
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after"`
	StatusCode int     `json:"-"`
	URL        string  `json:"-"`
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("api: %d (%d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api: %d: %s", e.StatusCode, e.Message)
}

// Common API error codes.
const (
	ErrCodeUnknownChannel = 10003
	ErrCodeUnknownMessage = 10008
	ErrCodeUnknownUser    = 10013
	ErrCodeMissingAccess  = 50001
	ErrCodeCannotSendToDM = 50007
	ErrCodeMissingPerms   = 50013
)

// Error converts a final result into an error: nil on 2xx, *APIError for
// HTTP failures, and the wrapped transport error for negative codes.
func (r *Result) Error() error {
	if r.InProgress || r.OK() {
		return nil
	}
	if r.Code < 0 {
		if r.Err != nil {
			return r.Err
		}
		return fmt.Errorf("transport failure %d", r.Code)
	}
	apiErr := &APIError{StatusCode: r.Code, URL: r.URL}
	if err := json.Unmarshal(r.Body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = http.StatusText(r.Code)
	}
	return apiErr
}

// IsStatus reports whether err is an *APIError with the given HTTP status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == status
	}
	return false
}

// IsAPIError reports whether err is an *APIError with the given code.
func IsAPIError(err error, code int) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}
