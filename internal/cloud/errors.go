// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	json "github.com/goccy/go-json"
)

// Error variables for common OpenRouter errors.
var (
	// ErrNotConfigured indicates the API key is not set.
	ErrNotConfigured = errors.New("OpenRouter API key is not configured")

	// ErrAuthFailed indicates authentication failed (invalid or expired API key).
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrModelNotFound indicates the requested model does not exist.
	ErrModelNotFound = errors.New("model not found")

	// ErrInsufficientCredits indicates the account has insufficient credits.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrCostPending indicates the provider has not finished billing a generation.
	ErrCostPending = errors.New("generation cost not yet available")
)

// OpenRouterError represents an error from the OpenRouter API.
type OpenRouterError struct {
	Code    string
	Message string
	Status  int
}

// Error implements the error interface.
func (e *OpenRouterError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("OpenRouter error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("OpenRouter error (HTTP %d): %s", e.Status, e.Message)
}

// apiErrorResponse represents an error response from the API. OpenRouter
// sends the code as a number while upstream providers may send a string.
type apiErrorResponse struct {
	Error struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	} `json:"error"`
}

// MaxResponseSize is the maximum allowed non-streaming response body size.
// SECURITY: Response size limit prevents memory exhaustion attacks.
const MaxResponseSize = 10 * 1024 * 1024 // 10MB limit

// readResponse reads the response body with size limits to prevent memory exhaustion.
func readResponse(resp *http.Response) ([]byte, error) {
	// SECURITY: Limit response size to prevent memory exhaustion
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// handleErrorResponse converts HTTP error responses to appropriate Go errors.
// The returned error always unwraps to an *OpenRouterError carrying the status.
func handleErrorResponse(statusCode int, body []byte) error {
	orErr := &OpenRouterError{Status: statusCode}

	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		orErr.Message = apiErr.Error.Message
		orErr.Code = trimCode(apiErr.Error.Code)
	} else {
		orErr.Message = http.StatusText(statusCode)
	}

	// Map to specific error types
	switch statusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", ErrAuthFailed, orErr)
	case http.StatusPaymentRequired:
		return fmt.Errorf("%w: %w", ErrInsufficientCredits, orErr)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrModelNotFound, orErr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", ErrRateLimited, orErr)
	default:
		return orErr
	}
}

func trimCode(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// statusErrorMessage renders a non-success status for OnError.
func statusErrorMessage(statusCode int, err error) string {
	msg := fmt.Sprintf("API error: %d %s", statusCode, http.StatusText(statusCode))
	var orErr *OpenRouterError
	if errors.As(err, &orErr) && orErr.Message != "" && orErr.Message != http.StatusText(statusCode) {
		msg += ": " + orErr.Message
	}
	return msg
}
