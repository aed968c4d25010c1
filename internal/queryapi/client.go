// Package queryapi is the outbound façade over the lookup backend. It issues
// a request to a named endpoint, interprets the response body by its declared
// content kind, and folds every failure mode into a single RequestError so
// callers only ever branch on success or failure.
package queryapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// errorBodyLimit caps how much of a plain-text error body is surfaced.
const errorBodyLimit = 180

// correlationHeader is the server-supplied token used to cross-reference
// failures with backend logs.
const correlationHeader = "X-Request-Id"

// RequestError is the one failure kind the façade produces: transport
// errors, non-success statuses, and malformed bodies all land here.
type RequestError struct {
	Message       string
	CorrelationID string
	Status        int
}

func (e *RequestError) Error() string {
	if e.CorrelationID != "" {
		return fmt.Sprintf("%s (request id %s)", e.Message, e.CorrelationID)
	}
	return e.Message
}

// Result is a successful response: the raw payload plus whether the server
// declared it as structured data.
type Result struct {
	Payload       []byte
	JSON          bool
	CorrelationID string
}

// Client talks to one backend base URL. The timeout is a hard per-request
// ceiling; a caller context can still cancel earlier.
type Client struct {
	base string
	http *http.Client
	log  zerolog.Logger
}

func New(base string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
		log:  log,
	}
}

// Get requests path with the given query parameters. Parameter values are
// already strings; semantic validation happens upstream.
func (c *Client) Get(ctx context.Context, path string, params map[string]string) (Result, error) {
	full := c.base + path
	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		full += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return Result{}, &RequestError{Message: err.Error()}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, &RequestError{Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, &RequestError{Message: err.Error(), Status: resp.StatusCode}
	}

	isJSON := strings.Contains(resp.Header.Get("Content-Type"), "application/json")
	correlationID := resp.Header.Get(correlationHeader)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reqErr := &RequestError{
			Message:       errorMessage(body, isJSON),
			CorrelationID: correlationID,
			Status:        resp.StatusCode,
		}
		c.log.Debug().
			Str("path", path).
			Int("status", resp.StatusCode).
			Str("request_id", correlationID).
			Msg("backend request failed")
		return Result{}, reqErr
	}

	return Result{Payload: body, JSON: isJSON, CorrelationID: correlationID}, nil
}

// errorMessage extracts a display message from a failure body: a structured
// error/message field when present, else the truncated text, else a generic
// fallback.
func errorMessage(body []byte, isJSON bool) string {
	if isJSON {
		var parsed map[string]any
		if err := json.Unmarshal(body, &parsed); err == nil {
			if s, ok := parsed["error"].(string); ok && s != "" {
				return s
			}
			if s, ok := parsed["message"].(string); ok && s != "" {
				return s
			}
		}
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return "Request failed"
	}
	return truncate(text, errorBodyLimit)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
