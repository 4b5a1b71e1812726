package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/guildhall/guildhall/pkg/models"
)

const (
	httpRequestTimeout  = 10 * time.Second
	maxResponseBodySize = 1 << 20
)

// ErrHTTPServerError is returned when the last attempt got a 5xx response.
var ErrHTTPServerError = errors.New("server error during HTTP request")

// HTTPRequest calls an external endpoint and exposes its response to later nodes.
type HTTPRequest struct {
	client *http.Client
}

// NewHTTPRequest creates the http_request action. A nil client uses a default one.
func NewHTTPRequest(client *http.Client) HTTPRequest {
	if client == nil {
		client = &http.Client{}
	}

	return HTTPRequest{client: client}
}

func (HTTPRequest) Type() string { return "http_request" }

func (HTTPRequest) Timeout() time.Duration { return httpRequestTimeout }

type httpRequestConfig struct {
	Method   string
	URL      string
	Headers  map[string]string
	Body     any
	Attempts int
	Delay    time.Duration
}

func parseHTTPRequestConfig(config map[string]any) (httpRequestConfig, error) {
	parsed := httpRequestConfig{
		Method:   http.MethodGet,
		Headers:  make(map[string]string),
		Body:     config["body"],
		Attempts: 1,
	}

	if method, _ := config["method"].(string); method != "" {
		parsed.Method = strings.ToUpper(method)
	}

	parsed.URL, _ = config["url"].(string)
	if parsed.URL == "" {
		host, _ := config["host"].(string)
		if host == "" {
			return parsed, fmt.Errorf("http_request requires url or host: %w", ErrInvalidActionConfig)
		}

		protocol, _ := config["protocol"].(string)
		if protocol == "" {
			protocol = "https"
		}

		path, _ := config["path"].(string)
		if path == "" {
			path = "/"
		}

		parsed.URL = fmt.Sprintf("%s://%s%s", protocol, host, path)
	}

	if headers, ok := config["headers"].(map[string]any); ok {
		for key, value := range headers {
			parsed.Headers[key] = fmt.Sprintf("%v", value)
		}
	}

	if retry, ok := config["retry"].(map[string]any); ok {
		if attempts, ok := intValue(retry["attempts"]); ok && attempts > 0 {
			parsed.Attempts = int(attempts)
		}

		if delay, ok := intValue(retry["delay_ms"]); ok && delay > 0 {
			parsed.Delay = time.Duration(delay) * time.Millisecond
		}
	}

	return parsed, nil
}

func (h HTTPRequest) Execute(
	ctx context.Context,
	config map[string]any,
	_ *models.ExecutionContext,
	logger *slog.Logger,
) (any, error) {
	request, err := parseHTTPRequestConfig(config)
	if err != nil {
		return nil, err
	}

	logger = logger.With("method", request.Method, "url", request.URL)

	var lastErr error

	for attempt := 1; attempt <= request.Attempts; attempt++ {
		if attempt > 1 {
			logger.InfoContext(ctx, "Retrying HTTP request", "attempt", attempt, "attempts", request.Attempts)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(request.Delay):
			}
		}

		result, retry, err := h.do(ctx, request)
		if err == nil {
			return result, nil
		}

		lastErr = err
		if !retry {
			break
		}
	}

	return nil, fmt.Errorf("all retry attempts failed, last error: %w", lastErr)
}

// do performs one attempt. The bool reports whether the failure is retryable.
func (h HTTPRequest) do(ctx context.Context, request httpRequestConfig) (map[string]any, bool, error) {
	body, err := requestBody(request.Body)
	if err != nil {
		return nil, false, err
	}

	req, err := http.NewRequestWithContext(ctx, request.Method, request.URL, body)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create http request: %w", err)
	}

	for key, value := range request.Headers {
		req.Header.Set(key, value)
	}

	if request.Body != nil && req.Header.Get("Content-Type") == "" {
		if _, isString := request.Body.(string); !isString {
			req.Header.Set("Content-Type", "application/json")
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, fmt.Errorf("http request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, true, fmt.Errorf("status %d: %w", resp.StatusCode, ErrHTTPServerError)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, false, fmt.Errorf("failed to read response body: %w", err)
	}

	var decoded any

	err = json.Unmarshal(raw, &decoded)
	if err != nil {
		decoded = string(raw)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        decoded,
		"headers":     resp.Header,
	}, false, nil
}

func requestBody(body any) (io.Reader, error) {
	switch b := body.(type) {
	case nil:
		return http.NoBody, nil
	case string:
		return strings.NewReader(b), nil
	default:
		encoded, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}

		return bytes.NewReader(encoded), nil
	}
}
