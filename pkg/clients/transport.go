// Package clients provides the default HTTP transport for connector
// executions: it builds the outgoing request from an endpoint definition and
// the transformed input, injects authentication from the instance's
// decrypted credentials, and classifies failures so the retry policy can
// tell transient errors from terminal ones.
package clients

import (
	"bytes"
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/core"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/errors"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/logger"
)

// HTTPConfig configures the shared HTTP transport.
type HTTPConfig struct {
	MaxIdleConns        int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `json:"max_idle_conns_per_host" yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `json:"max_conns_per_host" yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `json:"idle_conn_timeout" yaml:"idle_conn_timeout"`
	DialTimeout         time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
	TLSHandshakeTimeout time.Duration `json:"tls_handshake_timeout" yaml:"tls_handshake_timeout"`
	EnableHTTP2         bool          `json:"enable_http2" yaml:"enable_http2"`
	InsecureSkipVerify  bool          `json:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	MaxResponseBytes    int64         `json:"max_response_bytes" yaml:"max_response_bytes"`

	// Circuit breaker, applied per target host.
	CircuitBreakerEnabled bool          `json:"circuit_breaker_enabled" yaml:"circuit_breaker_enabled"`
	FailureThreshold      int           `json:"failure_threshold" yaml:"failure_threshold"`
	SuccessThreshold      int           `json:"success_threshold" yaml:"success_threshold"`
	OpenTimeout           time.Duration `json:"open_timeout" yaml:"open_timeout"`
}

// DefaultHTTPConfig returns production defaults.
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   32,
		MaxConnsPerHost:       64,
		IdleConnTimeout:       90 * time.Second,
		DialTimeout:           10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		EnableHTTP2:           true,
		MaxResponseBytes:      8 << 20,
		CircuitBreakerEnabled: true,
		FailureThreshold:      5,
		SuccessThreshold:      2,
		OpenTimeout:           30 * time.Second,
	}
}

// HTTPTransport is the default core.Transport. One transport is shared by
// all instances; per-attempt deadlines come from the caller's context.
type HTTPTransport struct {
	config *HTTPConfig
	client *http.Client
	logger *zap.Logger
	tokens *tokenCache

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewHTTPTransport creates the transport. A nil config uses defaults.
func NewHTTPTransport(config *HTTPConfig) *HTTPTransport {
	if config == nil {
		config = DefaultHTTPConfig()
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		MaxConnsPerHost:       config.MaxConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ExpectContinueTimeout: time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.InsecureSkipVerify,
			MinVersion:         tls.VersionTLS12,
		},
	}

	log := logger.Get().With(zap.String("component", "http_transport"))
	if config.EnableHTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			log.Warn("failed to configure HTTP/2", zap.Error(err))
		}
	}

	return &HTTPTransport{
		config:   config,
		client:   &http.Client{Transport: transport},
		logger:   log,
		tokens:   newTokenCache(),
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Call performs one attempt against the endpoint. Retries are the engine's
// responsibility; Call never retries internally.
func (t *HTTPTransport) Call(ctx context.Context, req *core.Request) (core.Record, error) {
	httpReq, err := t.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	breaker := t.breakerFor(httpReq.URL.Host)
	if breaker != nil && !breaker.Allow() {
		return nil, errors.New(errors.ErrorTypeConnection,
			fmt.Sprintf("circuit open for host %s", httpReq.URL.Host))
	}

	start := time.Now()
	resp, err := t.client.Do(httpReq)
	if err != nil {
		if breaker != nil {
			breaker.RecordFailure()
		}
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	t.logger.Debug("transport call",
		zap.String("method", httpReq.Method),
		zap.String("host", httpReq.URL.Host),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.config.MaxResponseBytes))
	if err != nil {
		if breaker != nil {
			breaker.RecordFailure()
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read response body")
	}

	if resp.StatusCode >= 400 {
		if breaker != nil && resp.StatusCode >= 500 {
			breaker.RecordFailure()
		}
		return nil, classifyHTTPStatus(resp.StatusCode, body)
	}
	if breaker != nil {
		breaker.RecordSuccess()
	}

	return decodeResponse(resp.StatusCode, body)
}

// InvalidateCredentials drops any cached oauth2 token source for the
// instance. Call it after rotating the instance's credentials so the next
// execution mints a token with the new client secret.
func (t *HTTPTransport) InvalidateCredentials(instanceID string) {
	t.tokens.invalidate(instanceID)
}

func (t *HTTPTransport) breakerFor(host string) *CircuitBreaker {
	if !t.config.CircuitBreakerEnabled {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	breaker, ok := t.breakers[host]
	if !ok {
		breaker = NewCircuitBreaker(CircuitBreakerConfig{
			FailureThreshold: t.config.FailureThreshold,
			SuccessThreshold: t.config.SuccessThreshold,
			OpenTimeout:      t.config.OpenTimeout,
		}, t.logger.With(zap.String("host", host)))
		t.breakers[host] = breaker
	}
	return breaker
}

// buildRequest expands the path template, splits the input into path, query,
// and body parameters, and injects authentication.
func (t *HTTPTransport) buildRequest(ctx context.Context, req *core.Request) (*http.Request, error) {
	remaining := make(core.Record, len(req.Input))
	for k, v := range req.Input {
		remaining[k] = v
	}

	path, err := expandPath(req.Endpoint.Path, remaining)
	if err != nil {
		return nil, err
	}

	target := strings.TrimSuffix(req.BaseURL, "/") + path
	method := strings.ToUpper(req.Endpoint.Method)

	var bodyReader io.Reader
	if method == http.MethodGet || method == http.MethodDelete || method == http.MethodHead {
		if len(remaining) > 0 {
			values := url.Values{}
			for k, v := range remaining {
				values.Set(k, fmt.Sprintf("%v", v))
			}
			target += "?" + values.Encode()
		}
	} else {
		// The body field, when declared, is sent verbatim; other remaining
		// parameters ride alongside it at the top level.
		payload := remaining
		if body, ok := remaining["body"].(map[string]interface{}); ok && len(remaining) == 1 {
			payload = body
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode request body")
		}
		bodyReader = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to build request")
	}
	httpReq.Header.Set("Accept", "application/json")
	if bodyReader != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	if req.Endpoint.RequiresAuth {
		if err := t.injectAuth(ctx, httpReq, req); err != nil {
			return nil, err
		}
	}
	return httpReq, nil
}

// injectAuth applies the connector's authentication scheme using the
// instance's decrypted credentials.
func (t *HTTPTransport) injectAuth(ctx context.Context, httpReq *http.Request, req *core.Request) error {
	switch req.Auth.Kind {
	case core.AuthKindNone, "":
		return nil

	case core.AuthKindAPIKey:
		header := req.Auth.Config["header"]
		if header == "" {
			header = "X-API-Key"
		}
		key, ok := req.Credentials["api_key"]
		if !ok {
			return errors.New(errors.ErrorTypeAuthentication, "instance has no api_key credential")
		}
		httpReq.Header.Set(header, key)

	case core.AuthKindBasic:
		user, okUser := req.Credentials["username"]
		pass, okPass := req.Credentials["password"]
		if !okUser || !okPass {
			return errors.New(errors.ErrorTypeAuthentication, "instance has no basic auth credentials")
		}
		httpReq.SetBasicAuth(user, pass)

	case core.AuthKindJWT:
		token, ok := req.Credentials["token"]
		if !ok {
			return errors.New(errors.ErrorTypeAuthentication, "instance has no token credential")
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)

	case core.AuthKindOAuth2:
		token, err := t.tokens.token(ctx, req)
		if err != nil {
			return err
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)

	case core.AuthKindCustom:
		// Custom schemes map credential names onto header names via the
		// scheme config.
		for credential, header := range req.Auth.Config {
			if value, ok := req.Credentials[credential]; ok {
				httpReq.Header.Set(header, value)
			}
		}

	default:
		return errors.New(errors.ErrorTypeAuthentication,
			fmt.Sprintf("unsupported auth kind %q", req.Auth.Kind))
	}
	return nil
}

// expandPath substitutes {name} placeholders with values from params,
// consuming each substituted parameter.
func expandPath(template string, params core.Record) (string, error) {
	var sb strings.Builder
	rest := template
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			sb.WriteString(rest)
			return sb.String(), nil
		}
		closeIdx := strings.IndexByte(rest[open:], '}')
		if closeIdx < 0 {
			return "", errors.New(errors.ErrorTypeData,
				fmt.Sprintf("unbalanced path template %q", template))
		}
		name := rest[open+1 : open+closeIdx]
		value, ok := params[name]
		if !ok {
			return "", errors.ValidationFailed(name,
				fmt.Sprintf("path parameter %s is missing", name))
		}
		sb.WriteString(rest[:open])
		sb.WriteString(url.PathEscape(fmt.Sprintf("%v", value)))
		delete(params, name)
		rest = rest[open+closeIdx+1:]
	}
}

// classifyTransportError maps a client error onto the engine's taxonomy so
// retry policies can act on its classification.
func classifyTransportError(ctx context.Context, err error) error {
	if ctx.Err() == context.Canceled {
		return errors.Wrap(err, errors.ErrorTypeCancelled, "call cancelled")
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.Wrap(err, errors.ErrorTypeTimeout, "call timed out")
	}
	if ctx.Err() == context.DeadlineExceeded {
		return errors.Wrap(err, errors.ErrorTypeTimeout, "call timed out")
	}
	return errors.Wrap(err, errors.ErrorTypeConnection, "call failed")
}

// classifyHTTPStatus maps a non-2xx response onto the engine's taxonomy:
// 429 is rate-limited, 5xx carries the server_error classification for retry
// policies that opt into it, and other 4xx are terminal data errors.
func classifyHTTPStatus(status int, body []byte) error {
	snippet := string(body)
	if len(snippet) > 512 {
		snippet = snippet[:512]
	}

	switch {
	case status == http.StatusTooManyRequests:
		return errors.New(errors.ErrorTypeRateLimit, "upstream rate limit exceeded").
			WithDetail("status_code", status)
	case status >= 500:
		return errors.New(errors.ErrorTypeData,
			fmt.Sprintf("upstream server error %d", status)).
			WithDetail("status_code", status).
			WithDetail("classification", errors.ClassServerError).
			WithDetail("body", snippet)
	default:
		return errors.New(errors.ErrorTypeData,
			fmt.Sprintf("upstream rejected request with status %d", status)).
			WithDetail("status_code", status).
			WithDetail("body", snippet)
	}
}

// decodeResponse turns the response body into a record. Empty bodies yield a
// record carrying only the status code; non-object JSON is wrapped under
// "data".
func decodeResponse(status int, body []byte) (core.Record, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return core.Record{"status_code": status}, nil
	}

	var decoded interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode response body")
	}
	if record, ok := decoded.(map[string]interface{}); ok {
		return record, nil
	}
	return core.Record{"data": decoded}, nil
}
