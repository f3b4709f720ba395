package llm

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// MalformedOutputError is returned when a collaborator response does not
// match the expected shape. Raw keeps the payload for diagnosis.
type MalformedOutputError struct {
	Stage  string
	Raw    string
	Reason string
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("malformed %s output: %s", e.Stage, e.Reason)
}

// AsMalformed unwraps a MalformedOutputError from err.
func AsMalformed(err error) (*MalformedOutputError, bool) {
	var m *MalformedOutputError
	if errors.As(err, &m) {
		return m, true
	}
	return nil, false
}

// IsTransient reports whether err is worth retrying: rate limits, server
// errors and network failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
