package platform

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/rflorenc/content-migration-workbench/internal/models"
	"github.com/rflorenc/content-migration-workbench/internal/resilience"
)

// HTTPError is returned for any non-2xx response.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	// Code is the machine-readable "code" of a JSON error body, if any.
	Code string
	Body string
	// Data is the "data" object of a JSON error body, if any.
	Data map[string]interface{}

	retryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, truncate(e.Body, 200))
}

// HTTPStatus returns the response status code.
func (e *HTTPError) HTTPStatus() int { return e.StatusCode }

// RetryAfter returns the delay requested by a Retry-After header.
func (e *HTTPError) RetryAfter() time.Duration { return e.retryAfter }

func newHTTPError(method, path string, resp *http.Response, body []byte) *HTTPError {
	e := &HTTPError{
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
	var payload struct {
		Code string                 `json:"code"`
		Data map[string]interface{} `json:"data"`
	}
	if json.Unmarshal(body, &payload) == nil {
		e.Code = payload.Code
		e.Data = payload.Data
	}
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
			e.retryAfter = time.Duration(secs) * time.Second
		}
	}
	return e
}

// ClientOptions tunes the transport behaviour of a Client.
type ClientOptions struct {
	Policy resilience.Policy
	// Timeout bounds every single request attempt.
	Timeout time.Duration
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Client is the HTTP client for the remote content platform. Every call
// carries the bearer token, runs under the retry policy and waits for the
// pipeline's pacer.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retrier    *resilience.Retrier
	logger     *slog.Logger
}

// NewClient creates a Client for a Target.
func NewClient(target *models.Target, opts ClientOptions) *Client {
	transport := &http.Transport{}
	if target.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	} else if target.CACert != "" {
		caCertPool := x509.NewCertPool()
		if caCertPool.AppendCertsFromPEM([]byte(target.CACert)) {
			transport.TLSClientConfig = &tls.Config{RootCAs: caCertPool}
		}
	}
	return newClient(target.BaseURL(), target.Token, &http.Client{Transport: transport}, opts)
}

func newClient(baseURL, token string, hc *http.Client, opts ClientOptions) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "platform")
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: hc,
		logger:     logger,
	}
	c.retrier = &resilience.Retrier{
		Policy:  opts.Policy,
		Timeout: opts.Timeout,
		Clock:   opts.Clock,
		Notify: func(err error, attempt int, delay time.Duration) {
			logger.Warn("retrying request", "attempt", attempt, "delay", delay, "error", err)
		},
	}
	return c
}

// request is one logical call. The body is kept as bytes so every retry
// attempt can send it again.
type request struct {
	method      string
	path        string
	params      url.Values
	body        []byte
	contentType string
	extra       http.Header
	// once disables retries for calls that are not idempotent.
	once bool
}

func (c *Client) do(ctx context.Context, r request) ([]byte, int, error) {
	var (
		body   []byte
		status int
	)
	call := func(ctx context.Context) error {
		var err error
		body, status, err = c.send(ctx, r)
		return err
	}
	var err error
	if r.once {
		err = c.retrier.Once(ctx, call)
	} else {
		err = c.retrier.Do(ctx, call)
	}
	return body, status, err
}

func (c *Client) send(ctx context.Context, r request) ([]byte, int, error) {
	u := c.baseURL + r.path
	if len(r.params) > 0 {
		u += "?" + r.params.Encode()
	}
	var bodyReader io.Reader
	if r.body != nil {
		bodyReader = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	for k, vs := range r.extra {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%s %s: %w", r.method, r.path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}
	c.logger.Debug("request", "method", r.method, "path", r.path, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return body, resp.StatusCode, newHTTPError(r.method, r.path, resp, body)
	}
	return body, resp.StatusCode, nil
}

// Get performs an authenticated GET request and returns the response body.
func (c *Client) Get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	body, _, err := c.do(ctx, request{method: "GET", path: path, params: params})
	return body, err
}

// GetJSON performs an authenticated GET and unmarshals the response into dest.
func (c *Client) GetJSON(ctx context.Context, path string, params url.Values, dest interface{}) error {
	body, err := c.Get(ctx, path, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("parsing response of %s: %w", path, err)
	}
	return nil
}

// Post performs an authenticated POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, payload interface{}) ([]byte, int, error) {
	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("marshaling body: %w", err)
		}
	}
	return c.do(ctx, request{method: "POST", path: path, body: data, contentType: "application/json"})
}

// PostOnce is Post without retries. A create whose response was lost may
// still have been stored, so resending it could duplicate the entity.
func (c *Client) PostOnce(ctx context.Context, path string, payload interface{}) ([]byte, int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("marshaling body: %w", err)
	}
	return c.do(ctx, request{method: "POST", path: path, body: data, contentType: "application/json", once: true})
}

// PostMultipart uploads a single file as multipart form field "file".
func (c *Client) PostMultipart(ctx context.Context, path, filename, mimeType string, content []byte) ([]byte, int, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, 0, fmt.Errorf("creating multipart part: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, 0, fmt.Errorf("writing multipart part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, 0, fmt.Errorf("closing multipart body: %w", err)
	}
	extra := http.Header{}
	extra.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	return c.do(ctx, request{
		method:      "POST",
		path:        path,
		body:        buf.Bytes(),
		contentType: mw.FormDataContentType(),
		extra:       extra,
	})
}

// Ping checks connectivity by hitting path.
func (c *Client) Ping(ctx context.Context, path string) error {
	_, err := c.Get(ctx, path, nil)
	return err
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
