// Package transport provides the synchronous request/response primitive the
// poll client runs on: one JSON POST to the control-plane endpoint per
// cycle, with a bounded timeout.
package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ConfigEndpoint is the control-plane path polled for configuration.
const ConfigEndpoint = "/v0.7/config"

// ErrNotEnabled signals that the endpoint answered 404 or with an empty
// body: remote configuration is unsupported or disabled for this agent.
// This is a silent condition, not an error to report.
var ErrNotEnabled = errors.New("remote configuration not enabled by agent")

// StatusError reports a non-2xx response.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d %s", e.Code, e.Status)
}

// Transport performs one poll exchange. Implementations must be safe for
// sequential reuse; the client never issues concurrent calls.
type Transport interface {
	// RoundTrip posts the request body and returns the raw response body.
	// It returns ErrNotEnabled for the 404/empty-body case.
	RoundTrip(body []byte) ([]byte, error)
}

// maxResponseSize bounds the response body read.
const maxResponseSize = 64 << 20

// Options configures the HTTP transport.
type Options struct {
	// AgentURL is the control-plane base URL, e.g. "http://localhost:8126".
	AgentURL string

	// Endpoint overrides ConfigEndpoint when set.
	Endpoint string

	// Timeout bounds the whole exchange.
	Timeout time.Duration

	// ExtraHeaders are appended to every request, typically parsed from an
	// environment key:value list with ParseKeyValList.
	ExtraHeaders map[string]string
}

// HTTP is the production Transport.
type HTTP struct {
	client  *http.Client
	url     string
	headers http.Header
}

var _ Transport = (*HTTP)(nil)

// NewHTTP builds an HTTP transport for the given options. Container
// identification headers are attached automatically when the process runs
// inside a container.
func NewHTTP(opts Options) *HTTP {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = ConfigEndpoint
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	headers := make(http.Header)
	headers.Set("Content-Type", "application/json")
	for k, v := range opts.ExtraHeaders {
		headers.Set(k, v)
	}
	if id := containerID(); id != "" {
		headers.Set("Container-Id", id)
	}

	return &HTTP{
		client:  &http.Client{Timeout: timeout},
		url:     strings.TrimRight(opts.AgentURL, "/") + endpoint,
		headers: headers,
	}
}

// RoundTrip posts the payload and reads the response body.
func (t *HTTP) RoundTrip(body []byte) ([]byte, error) {
	req, err := http.NewRequest(http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range t.headers {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request config endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotEnabled
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNotEnabled
	}
	return data, nil
}

// ParseKeyValList parses an environment-style "key:value,key:value" list
// (commas or spaces as separators) into a header map. Malformed entries are
// skipped.
func ParseKeyValList(s string) map[string]string {
	out := make(map[string]string)
	for _, field := range strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' '
	}) {
		key, val, ok := strings.Cut(field, ":")
		if !ok || key == "" || val == "" {
			continue
		}
		out[strings.TrimSpace(key)] = strings.TrimSpace(val)
	}
	return out
}
