package utils

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorWithSuggestion wraps an error with a hint the CLI prints under it.
type ErrorWithSuggestion struct {
	Err        error
	Suggestion string
}

// Error implements the error interface.
func (e *ErrorWithSuggestion) Error() string {
	return fmt.Sprintf("%s\n\nSuggestion: %s", e.Err.Error(), e.Suggestion)
}

// GetSuggestion returns the suggestion text.
func (e *ErrorWithSuggestion) GetSuggestion() string {
	return e.Suggestion
}

// Unwrap returns the underlying error.
func (e *ErrorWithSuggestion) Unwrap() error {
	return e.Err
}

// WrapWithSuggestion wraps an existing error with a suggestion.
func WrapWithSuggestion(err error, suggestion string) error {
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: suggestion,
	}
}

// ErrUnknownResource is returned for a resource name other than events,
// todos or memos.
func ErrUnknownResource(name string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("unknown resource: %s", name),
		Suggestion: "Use one of: events, todos, memos",
	}
}

// ErrItemNotFound is returned when a command names an id that isn't in the
// collection.
func ErrItemNotFound(resource, id string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("%s item not found: %s", resource, id),
		Suggestion: fmt.Sprintf("Run 'famhub list %s' to see current ids", resource),
	}
}

// ErrWorkerNotRunning is returned when the push worker socket can't be
// reached.
func ErrWorkerNotRunning() error {
	return &ErrorWithSuggestion{
		Err:        errors.New("push worker is not running"),
		Suggestion: "Start it with 'famhub worker run'",
	}
}

// ErrUserNotConfigured is returned when no user id is available for API
// calls.
func ErrUserNotConfigured() error {
	return &ErrorWithSuggestion{
		Err:        errors.New("no user id configured"),
		Suggestion: "Run 'famhub login' or set FAMHUB_USER_ID",
	}
}

// ErrAPIUnreachable wraps a transport failure with a hint derived from the
// failure text.
func ErrAPIUnreachable(baseURL, reason string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("cannot reach %s: %s", baseURL, reason),
		Suggestion: getSmartSuggestion(reason),
	}
}

func getSmartSuggestion(reason string) string {
	lowerReason := strings.ToLower(reason)

	switch {
	case strings.Contains(lowerReason, "no such host"), strings.Contains(lowerReason, "dns"):
		return "Check your DNS settings and internet connection"
	case strings.Contains(lowerReason, "connection refused"):
		return "Check that the family hub server is running and api.base_url is correct"
	case strings.Contains(lowerReason, "timeout"):
		return "The server may be slow or unreachable. Try again later"
	}
	return "Check your internet connection and try again"
}

// ErrInvalidDate returns an error for a malformed date.
func ErrInvalidDate(dateStr string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid date: %s", dateStr),
		Suggestion: "Use date format YYYY-MM-DD (e.g., 2026-01-15)",
	}
}

// ErrInvalidPriority returns an error for a priority other than low, medium
// or high.
func ErrInvalidPriority(priority string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid priority: %s", priority),
		Suggestion: "Valid options: high, medium, low",
	}
}
