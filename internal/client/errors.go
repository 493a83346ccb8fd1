package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// ErrUnavailable wraps transport failures: the collaborator could not be
// reached or its answer could not be read.
var ErrUnavailable = errors.New("marketplace unavailable")

// APIError is a non-2xx answer from the collaborator. Message holds the
// collaborator's reason verbatim so it can be shown to the user as-is.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

// Error returns the collaborator's message.
func (e *APIError) Error() string {
	return e.Message
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// Reason returns the user-facing text for err: the collaborator's message for
// an APIError, the error text otherwise.
func Reason(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}

// newAPIError extracts the reason from a collaborator error body. It tries the
// "error" and "detail" keys, then "non_field_errors", then the first field
// error in key order, and falls back to the status text.
func newAPIError(status int, body []byte) *APIError {
	return &APIError{
		StatusCode: status,
		Message:    extractMessage(status, body),
		Body:       body,
	}
}

func extractMessage(status int, body []byte) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		if text := strings.TrimSpace(string(body)); text != "" && len(text) < 512 && !strings.HasPrefix(text, "<") {
			return text
		}
		return statusText(status)
	}

	for _, key := range []string{"error", "detail"} {
		if msg := firstString(fields[key]); msg != "" {
			return msg
		}
	}

	if msg := firstString(fields["non_field_errors"]); msg != "" {
		return msg
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if msg := firstString(fields[key]); msg != "" {
			return fmt.Sprintf("%s: %s", key, msg)
		}
	}

	return statusText(status)
}

// firstString decodes a JSON string or the first string of a JSON array.
func firstString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0]
	}

	return ""
}

func statusText(status int) string {
	if text := http.StatusText(status); text != "" {
		return text
	}
	return fmt.Sprintf("unexpected status %d", status)
}
