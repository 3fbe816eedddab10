package commerce

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrServer matches any 5xx response and network failures.
	ErrServer = errors.New("internal server error")
	// ErrUnauthorized matches 401 responses.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrTimeout is returned when a request outlives its timeout.
	ErrTimeout = errors.New("request timed out")
	// ErrMalformedResponse is returned when a body is not valid JSON.
	ErrMalformedResponse = errors.New("response could not be parsed")
)

// APIError is a classified non-2xx response. Body holds the parsed JSON
// error document when the server sent one.
type APIError struct {
	Status int
	Code   string
	Title  string
	Detail string
	Body   map[string]any
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("commerce api %d %s: %s", e.Status, e.Code, e.Detail)
	}
	return fmt.Sprintf("commerce api %d %s", e.Status, e.Code)
}

// Is lets callers test with errors.Is(err, ErrServer) or ErrUnauthorized.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrServer:
		return e.Status >= http.StatusInternalServerError
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	}
	return false
}

func serverError(status int, statusText string) *APIError {
	if statusText == "" {
		statusText = "Unknown 500 error"
	}
	return &APIError{
		Status: status,
		Code:   "errors.server.internal",
		Title:  "Internal Server Error",
		Detail: statusText,
	}
}

func unauthorizedError() *APIError {
	return &APIError{
		Status: http.StatusUnauthorized,
		Code:   "errors.unauthorized",
		Title:  "Unauthorized",
		Detail: "Provided token is not valid",
	}
}

func bodyError(status int, body map[string]any) *APIError {
	e := &APIError{Status: status, Body: body}
	e.Code, _ = body["code"].(string)
	e.Title, _ = body["title"].(string)
	e.Detail, _ = body["detail"].(string)
	if e.Code == "" {
		e.Code = "errors.request"
	}
	return e
}
