package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Dundurn-Market/open-tender-redux/internal/util"
)

// Request describes one API call.
type Request struct {
	Endpoint string
	Method   string
	Body     any
	Timeout  time.Duration
	Token    string
}

// Response is a successful API response. NoContent is set for 204s, in
// which case Body is empty.
type Response struct {
	NoContent bool
	Body      json.RawMessage
}

// Decode unmarshals the body into out. A no-content response decodes to nothing.
func (r Response) Decode(out any) error {
	if r.NoContent || len(r.Body) == 0 || out == nil {
		return nil
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// Transport performs JSON requests against one base URL and classifies failures.
type Transport struct {
	httpClient *http.Client
	baseURL    string
	headers    map[string]string
	timeout    time.Duration
	service    string
}

// Option configures a Transport.
type Option func(*Transport)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(t *Transport) {
		if client != nil {
			t.httpClient = client
		}
	}
}

// WithHeader adds a static header to every request.
func WithHeader(key, value string) Option {
	return func(t *Transport) {
		if value != "" {
			t.headers[key] = value
		}
	}
}

// WithTimeout sets the default per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(t *Transport) {
		t.timeout = timeout
	}
}

// NewTransport builds a transport for baseURL.
func NewTransport(service, baseURL string, opts ...Option) *Transport {
	t := &Transport{
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(baseURL, "/"),
		headers:    map[string]string{},
		service:    service,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Do executes req. 5xx and network failures surface as ErrServer, 401 as
// ErrUnauthorized, other non-2xx responses as an *APIError carrying the
// parsed body.
func (t *Transport) Do(ctx context.Context, req Request) (Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = t.timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return Response{}, fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, t.baseURL+req.Endpoint, body)
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}

	start := time.Now()
	resp, err := t.httpClient.Do(httpReq)
	util.CommerceRequestDuration.WithLabelValues(t.service, method).Observe(time.Since(start).Seconds())
	if err != nil {
		return Response{}, requestError(ctx, method, req.Endpoint)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp)
}

// requestError classifies a request that never got a response.
func requestError(ctx context.Context, method, endpoint string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s %s: %w", method, endpoint, ErrTimeout)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return serverError(http.StatusInternalServerError, "")
}

func handleResponse(resp *http.Response) (Response, error) {
	status := resp.StatusCode
	if status >= http.StatusInternalServerError {
		return Response{}, serverError(status, http.StatusText(status))
	}
	if status == http.StatusUnauthorized {
		return Response{}, unauthorizedError()
	}
	if status == http.StatusNoContent {
		return Response{NoContent: true}, nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if status >= 200 && status < 300 {
		// 202s may carry a non-JSON acknowledgement
		if status != http.StatusAccepted && len(raw) > 0 && !json.Valid(raw) {
			return Response{}, ErrMalformedResponse
		}
		return Response{Body: raw}, nil
	}

	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Response{}, fmt.Errorf("%w: status %d", ErrMalformedResponse, status)
	}
	return Response{}, bodyError(status, parsed)
}
