package httpinvoker

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/i2y/storagemcp/internal/domain"
	"github.com/i2y/storagemcp/internal/usecase"
)

// DefaultHeaders are sent on every request unless overridden by Config.ExtraHeaders.
var DefaultHeaders = map[string]string{"X-EMC-REST-CLIENT": "true"}

// Config controls a single appliance call.
type Config struct {
	// Timeout bounds each attempt.
	Timeout time.Duration
	// MaxRetries is the total number of attempts for retryable failures.
	MaxRetries int
	// RetryDelay is the first backoff interval; it doubles on each retry.
	RetryDelay time.Duration
	// TLSVerify enables certificate verification. Appliances usually ship self-signed certificates.
	TLSVerify bool
	// ExtraHeaders are merged over DefaultHeaders.
	ExtraHeaders map[string]string
}

// Invoker implements the usecase.ToolInvoker interface with one Basic-Auth HTTPS call per invocation.
type Invoker struct {
	cfg     Config
	headers map[string]string
	logger  *slog.Logger
}

// New creates a new HTTP Invoker.
func New(cfg Config, logger *slog.Logger) *Invoker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	headers := make(map[string]string, len(DefaultHeaders)+len(cfg.ExtraHeaders))
	for k, v := range DefaultHeaders {
		headers[k] = v
	}
	for k, v := range cfg.ExtraHeaders {
		headers[k] = v
	}
	return &Invoker{
		cfg:     cfg,
		headers: headers,
		logger:  logger.With("component", "http_invoker"),
	}
}

// Invoke executes the appliance call described by details and returns the JSON response body.
// Failures are returned as *domain.APIError.
func (i *Invoker) Invoke(ctx context.Context, creds domain.Credentials, details usecase.InvocationDetails, params map[string]interface{}) (json.RawMessage, error) {
	log := i.logger.With(
		slog.String("method", details.HTTPMethod),
		slog.String("path", details.HTTPPath),
		slog.String("host", creds.Host),
	)

	req, err := i.buildRequest(creds, details, params)
	if err != nil {
		log.Error("Failed to build request.", slog.Any("error", err))
		return nil, &domain.APIError{Kind: domain.KindToolExecution, Message: "failed to build request", Host: creds.Host, Err: err}
	}
	log = log.With(slog.String("url", req.URL.Redacted()))

	transport := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		DisableKeepAlives: true,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !i.cfg.TLSVerify, //nolint:gosec // appliances commonly use self-signed certificates
			MinVersion:         tls.VersionTLS12,
		},
	}
	defer transport.CloseIdleConnections()
	client := &http.Client{Transport: transport, Timeout: i.cfg.Timeout}

	var (
		body     []byte
		attempts int
		lastErr  error
	)
	operation := func() error {
		attempts++
		b, err := i.do(ctx, client, req, creds.Host)
		if err == nil {
			body = b
			return nil
		}
		var apiErr *domain.APIError
		if errors.As(err, &apiErr) {
			return backoff.Permanent(err)
		}
		lastErr = err
		if ctx.Err() != nil {
			return backoff.Permanent(domain.NewConnectionError(creds.Host, "Request cancelled", err))
		}
		if retryable(err) {
			return err
		}
		return backoff.Permanent(domain.NewConnectionError(creds.Host, "Failed to connect to host: "+creds.Host, err))
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("Request attempt failed, retrying.",
			slog.Int("attempt", attempts),
			slog.Duration("backoff", wait),
			slog.Any("error", err))
	}

	if err := backoff.RetryNotify(operation, i.retryPolicy(ctx), notify); err != nil {
		var apiErr *domain.APIError
		if !errors.As(err, &apiErr) {
			cause := lastErr
			if cause == nil {
				cause = err
			}
			apiErr = domain.NewConnectionError(creds.Host, fmt.Sprintf("Request failed after %d attempts", attempts), cause)
		}
		log.Warn("Appliance request failed.",
			slog.String("kind", string(apiErr.Kind)),
			slog.Int("status_code", apiErr.StatusCode),
			slog.Int("attempts", attempts))
		return nil, apiErr
	}

	log.Debug("Appliance request succeeded.", slog.Int("attempts", attempts), slog.Int("size", len(body)))
	return normalizeBody(body), nil
}

func (i *Invoker) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = i.cfg.RetryDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = i.cfg.RetryDelay << uint(i.cfg.MaxRetries)
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(i.cfg.MaxRetries-1)), ctx)
}

// do performs one attempt. Non-success statuses are returned as *domain.APIError.
func (i *Invoker) do(ctx context.Context, client *http.Client, tmpl *http.Request, host string) ([]byte, error) {
	req := tmpl.Clone(ctx)
	if tmpl.GetBody != nil {
		b, err := tmpl.GetBody()
		if err != nil {
			return nil, err
		}
		req.Body = b
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, domain.NewAuthenticationError(host)
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter, _ := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After")))
		return nil, domain.NewRateLimitError(host, retryAfter)
	case resp.StatusCode >= 400:
		return nil, domain.NewAPIResponseError(host, resp.StatusCode, string(body))
	}
	return body, nil
}

func (i *Invoker) buildRequest(creds domain.Credentials, details usecase.InvocationDetails, params map[string]interface{}) (*http.Request, error) {
	base, err := url.Parse(hostURL(creds.Host))
	if err != nil {
		return nil, fmt.Errorf("invalid host %q: %w", creds.Host, err)
	}

	remaining := make(map[string]interface{}, len(params))
	for k, v := range params {
		remaining[k] = v
	}
	resolved := details.HTTPPath
	for k, v := range params {
		placeholder := "{" + k + "}"
		if strings.Contains(resolved, placeholder) {
			resolved = strings.ReplaceAll(resolved, placeholder, url.PathEscape(formatValue(v)))
			delete(remaining, k)
		}
	}
	u, err := base.Parse(strings.TrimSuffix(base.Path, "/") + details.BasePath + resolved)
	if err != nil {
		return nil, fmt.Errorf("invalid request path %q: %w", resolved, err)
	}

	method := strings.ToUpper(details.HTTPMethod)
	query := url.Values{}
	var payload []byte
	if hasBody(method) {
		declared := make(map[string]struct{}, len(details.QueryParams))
		for _, q := range details.QueryParams {
			declared[q] = struct{}{}
		}
		bodyParams := map[string]interface{}{}
		for k, v := range remaining {
			if _, ok := declared[k]; ok {
				addQuery(query, k, v)
			} else {
				bodyParams[k] = v
			}
		}
		if len(bodyParams) > 0 {
			if payload, err = json.Marshal(bodyParams); err != nil {
				return nil, fmt.Errorf("failed to marshal request body: %w", err)
			}
		}
	} else {
		for k, v := range remaining {
			addQuery(query, k, v)
		}
	}
	u.RawQuery = query.Encode()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(creds.Username, creds.Password)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	for k, v := range i.headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func hostURL(host string) string {
	host = strings.TrimSuffix(host, "/")
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host
	}
	return "https://" + host
}

func hasBody(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch
}

func addQuery(q url.Values, key string, v interface{}) {
	if v == nil {
		return
	}
	q.Set(key, formatValue(v))
}

// formatValue renders an argument as a query or path value: numbers without
// exponent, lists comma-joined, objects as JSON.
func formatValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(t)
	case []interface{}:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = formatValue(e)
		}
		return strings.Join(parts, ",")
	case []string:
		return strings.Join(t, ",")
	case map[string]interface{}:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

// retryable reports whether a transport failure deserves another attempt.
// Timeouts are retried; refused connections and unknown hosts are not.
func retryable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return false
	}
	return true
}

func normalizeBody(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return json.RawMessage("{}")
	}
	if json.Valid(trimmed) {
		return json.RawMessage(body)
	}
	quoted, _ := json.Marshal(string(body))
	return json.RawMessage(quoted)
}
