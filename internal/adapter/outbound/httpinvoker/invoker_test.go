package httpinvoker_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/storagemcp/internal/adapter/outbound/httpinvoker"
	"github.com/i2y/storagemcp/internal/domain"
	"github.com/i2y/storagemcp/internal/usecase"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, domain.Credentials) {
	t.Helper()
	server := httptest.NewTLSServer(handler)
	t.Cleanup(server.Close)
	return server, domain.Credentials{
		Host:     server.Listener.Addr().String(),
		Username: "admin",
		Password: "Password123!",
	}
}

func fastConfig() httpinvoker.Config {
	return httpinvoker.Config{Timeout: 2 * time.Second, MaxRetries: 3, RetryDelay: time.Millisecond}
}

func TestInvoker_Invoke_Success(t *testing.T) {
	type captured struct {
		method, path, query, user, pass, accept, ctype, emc, custom string
		body                                                         map[string]interface{}
	}
	tests := []struct {
		name     string
		cfg      httpinvoker.Config
		respond  func(w http.ResponseWriter)
		details  usecase.InvocationDetails
		params   map[string]interface{}
		want     captured
		wantBody string
	}{
		{
			name:    "GET collection with no parameters",
			cfg:     fastConfig(),
			respond: func(w http.ResponseWriter) { _, _ = w.Write([]byte(`[{"id":"v1"}]`)) },
			details: usecase.InvocationDetails{HTTPMethod: "GET", HTTPPath: "/volume", BasePath: "/api/rest"},
			params:  map[string]interface{}{},
			want: captured{
				method: "GET", path: "/api/rest/volume", query: "", user: "admin", pass: "Password123!",
				accept: "application/json", ctype: "application/json", emc: "true",
			},
			wantBody: `[{"id":"v1"}]`,
		},
		{
			name:    "GET instance with path and query parameters",
			cfg:     fastConfig(),
			respond: func(w http.ResponseWriter) { _, _ = w.Write([]byte(`{"content":{"id":"sv_1"}}`)) },
			details: usecase.InvocationDetails{HTTPMethod: "GET", HTTPPath: "/api/instances/lun/{id}", PathParams: []string{"id"}},
			params: map[string]interface{}{
				"id":       "sv_1",
				"fields":   []interface{}{"name", "health"},
				"compact":  true,
				"per_page": float64(2000),
				"skip":     nil,
			},
			want: captured{
				method: "GET", path: "/api/instances/lun/sv_1", query: "compact=true&fields=name%2Chealth&per_page=2000",
				user: "admin", pass: "Password123!", accept: "application/json", ctype: "application/json", emc: "true",
			},
			wantBody: `{"content":{"id":"sv_1"}}`,
		},
		{
			name: "POST splits declared query parameters from the JSON body",
			cfg: httpinvoker.Config{
				MaxRetries:   1,
				ExtraHeaders: map[string]string{"X-Custom": "1", "X-EMC-REST-CLIENT": "false"},
			},
			respond: func(w http.ResponseWriter) { w.WriteHeader(http.StatusCreated) },
			details: usecase.InvocationDetails{HTTPMethod: "POST", HTTPPath: "/volume", QueryParams: []string{"timeout"}},
			params:  map[string]interface{}{"timeout": float64(5), "name": "vol1", "size": float64(1073741824)},
			want: captured{
				method: "POST", path: "/volume", query: "timeout=5", user: "admin", pass: "Password123!",
				accept: "application/json", ctype: "application/json", emc: "false", custom: "1",
				body: map[string]interface{}{"name": "vol1", "size": float64(1073741824)},
			},
			wantBody: `{}`,
		},
		{
			name:     "non-JSON body is returned as a JSON string",
			cfg:      fastConfig(),
			respond:  func(w http.ResponseWriter) { _, _ = w.Write([]byte("OK")) },
			details:  usecase.InvocationDetails{HTTPMethod: "GET", HTTPPath: "/ping"},
			params:   map[string]interface{}{},
			want:     captured{method: "GET", path: "/ping", user: "admin", pass: "Password123!", accept: "application/json", ctype: "application/json", emc: "true"},
			wantBody: `"OK"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got captured
			_, creds := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				got.method = r.Method
				got.path = r.URL.Path
				got.query = r.URL.RawQuery
				got.user, got.pass, _ = r.BasicAuth()
				got.accept = r.Header.Get("Accept")
				got.ctype = r.Header.Get("Content-Type")
				got.emc = r.Header.Get("X-EMC-REST-CLIENT")
				got.custom = r.Header.Get("X-Custom")
				if b, _ := io.ReadAll(r.Body); len(b) > 0 {
					_ = json.Unmarshal(b, &got.body)
				}
				tt.respond(w)
			})

			body, err := httpinvoker.New(tt.cfg, testLogger()).Invoke(context.Background(), creds, tt.details, tt.params)
			require.NoError(t, err)
			assert.JSONEq(t, tt.wantBody, string(body))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInvoker_Invoke_ExplicitScheme(t *testing.T) {
	server, creds := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	creds.Host = server.URL + "/"

	body, err := httpinvoker.New(fastConfig(), testLogger()).
		Invoke(context.Background(), creds, usecase.InvocationDetails{HTTPMethod: "GET", HTTPPath: "/x"}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestInvoker_Invoke_StatusErrors(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		header       map[string]string
		body         string
		wantKind     domain.ErrorKind
		wantMessage  string
		wantRetry    int
		wantRespBody string
	}{
		{
			name:        "unauthorized",
			status:      http.StatusUnauthorized,
			wantKind:    domain.KindAuthentication,
			wantMessage: "Authentication failed for host: ",
		},
		{
			name:        "rate limited with hint",
			status:      http.StatusTooManyRequests,
			header:      map[string]string{"Retry-After": "7"},
			wantKind:    domain.KindRateLimit,
			wantMessage: "API rate limit exceeded. Retry after 7 seconds.",
			wantRetry:   7,
		},
		{
			name:        "rate limited without hint",
			status:      http.StatusTooManyRequests,
			wantKind:    domain.KindRateLimit,
			wantMessage: "API rate limit exceeded.",
		},
		{
			name:         "server error",
			status:       http.StatusInternalServerError,
			body:         `{"errorCode":131149829}`,
			wantKind:     domain.KindAPIResponse,
			wantMessage:  "API request failed: 500",
			wantRespBody: `{"errorCode":131149829}`,
		},
		{
			name:         "not found",
			status:       http.StatusNotFound,
			body:         "missing",
			wantKind:     domain.KindAPIResponse,
			wantMessage:  "API request failed: 404",
			wantRespBody: "missing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			_, creds := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := httpinvoker.New(fastConfig(), testLogger()).
				Invoke(context.Background(), creds, usecase.InvocationDetails{HTTPMethod: "GET", HTTPPath: "/alert"}, nil)
			require.Error(t, err)

			var apiErr *domain.APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.wantKind, apiErr.Kind)
			assert.Contains(t, apiErr.Message, tt.wantMessage)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.wantRetry, apiErr.RetryAfter)
			assert.Equal(t, tt.wantRespBody, apiErr.ResponseBody)
			assert.Equal(t, int32(1), calls.Load(), "status failures are never retried")
		})
	}
}

func TestInvoker_Invoke_RetriesTimeouts(t *testing.T) {
	var calls atomic.Int32
	_, creds := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			time.Sleep(300 * time.Millisecond)
		}
		_, _ = w.Write([]byte(`{"entries":[]}`))
	})

	cfg := httpinvoker.Config{Timeout: 100 * time.Millisecond, MaxRetries: 3, RetryDelay: 5 * time.Millisecond}
	body, err := httpinvoker.New(cfg, testLogger()).
		Invoke(context.Background(), creds, usecase.InvocationDetails{HTTPMethod: "GET", HTTPPath: "/pool"}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"entries":[]}`, string(body))
	assert.Equal(t, int32(2), calls.Load())
}

func TestInvoker_Invoke_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	_, creds := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(200 * time.Millisecond)
	})

	cfg := httpinvoker.Config{Timeout: 50 * time.Millisecond, MaxRetries: 2, RetryDelay: time.Millisecond}
	_, err := httpinvoker.New(cfg, testLogger()).
		Invoke(context.Background(), creds, usecase.InvocationDetails{HTTPMethod: "GET", HTTPPath: "/pool"}, nil)

	var apiErr *domain.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, domain.KindConnection, apiErr.Kind)
	assert.Equal(t, "Request failed after 2 attempts", apiErr.Message)
	assert.Error(t, apiErr.Unwrap())
	assert.Equal(t, int32(2), calls.Load())
}

func TestInvoker_Invoke_ConnectionRefusedIsNotRetried(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	start := time.Now()
	cfg := httpinvoker.Config{Timeout: time.Second, MaxRetries: 5, RetryDelay: 500 * time.Millisecond}
	_, err = httpinvoker.New(cfg, testLogger()).Invoke(context.Background(),
		domain.Credentials{Host: addr, Username: "u", Password: "p"},
		usecase.InvocationDetails{HTTPMethod: "GET", HTTPPath: "/volume"}, nil)

	var apiErr *domain.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, domain.KindConnection, apiErr.Kind)
	assert.Equal(t, "Failed to connect to host: "+addr, apiErr.Message)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "no backoff sleep before failing")
}

func TestInvoker_Invoke_TLSVerifyRejectsSelfSigned(t *testing.T) {
	var calls atomic.Int32
	_, creds := newServer(t, func(w http.ResponseWriter, r *http.Request) { calls.Add(1) })

	cfg := httpinvoker.Config{Timeout: time.Second, MaxRetries: 1, TLSVerify: true}
	_, err := httpinvoker.New(cfg, testLogger()).
		Invoke(context.Background(), creds, usecase.InvocationDetails{HTTPMethod: "GET", HTTPPath: "/volume"}, nil)

	var apiErr *domain.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, domain.KindConnection, apiErr.Kind)
	assert.Equal(t, int32(0), calls.Load())
}

func TestInvoker_Invoke_ContextCancelled(t *testing.T) {
	_, creds := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	cfg := httpinvoker.Config{Timeout: time.Second, MaxRetries: 5, RetryDelay: time.Second}

	start := time.Now()
	_, err := httpinvoker.New(cfg, testLogger()).
		Invoke(ctx, creds, usecase.InvocationDetails{HTTPMethod: "GET", HTTPPath: "/volume"}, nil)

	var apiErr *domain.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, domain.KindConnection, apiErr.Kind)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
