package azure

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigError reports missing or invalid settings. It is never retried.
type ConfigError struct {
	Operation string
	Missing   []string
	Err       error
}

func (e *ConfigError) Error() string {
	switch {
	case len(e.Missing) > 0:
		return fmt.Sprintf("missing %s configuration: %s", e.Operation, strings.Join(e.Missing, ", "))
	case e.Err != nil:
		return fmt.Sprintf("invalid %s configuration: %v", e.Operation, e.Err)
	default:
		return fmt.Sprintf("invalid %s configuration", e.Operation)
	}
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// HTTPError is a terminal non-success response from an API endpoint.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("api error %d", e.StatusCode)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, body)
}

// IsConfigError reports whether err carries a ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

// StatusCode extracts the HTTP status from err, or 0 when err is not an HTTPError.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}
