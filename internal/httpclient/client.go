// Package httpclient implements the HTTP Client of spec §4.6: profile-based
// auth with token caching, retry/backoff with Retry-After honoring, a
// bounded response capture buffer, pagination, a two-file response cache,
// and atomic downloads. Grounded on infrastructure/resilience/retry.go (via
// internal/platform/resilience, already generalized for this exact override
// hook) and infrastructure/resilience/circuit_breaker.go for the
// supplemented per-profile breaker (SPEC_FULL §5.6).
package httpclient

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sentryfrogg/engine/internal/cachestore"
	"github.com/sentryfrogg/engine/internal/model"
	"github.com/sentryfrogg/engine/internal/platform/apperr"
	"github.com/sentryfrogg/engine/internal/platform/logging"
	"github.com/sentryfrogg/engine/internal/platform/resilience"
)

// ProfileStore is the subset of profiles.Store the client needs.
type ProfileStore interface {
	Get(name string, expectedType model.ProfileType) (model.Profile, map[string]string, error)
	Upsert(name string, ptype model.ProfileType, data map[string]interface{}, secrets map[string]string) (model.Profile, error)
	List(ptype model.ProfileType) ([]model.ProfileSummary, error)
	Delete(name string) error
}

const defaultCaptureBytes = 256 * 1024

var defaultRetryableMethods = map[string]bool{
	"GET": true, "HEAD": true, "PUT": true, "DELETE": true, "OPTIONS": true,
}

var defaultRetryableStatus = map[int]bool{
	408: true, 429: true, 500: true, 502: true, 503: true, 504: true,
}

// RetryPolicy configures retry eligibility on top of resilience.RetryConfig.
type RetryPolicy struct {
	resilience.RetryConfig
	RetryableMethods     map[string]bool
	RetryableStatus      map[int]bool
	RespectRetryAfter    bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		RetryConfig:       resilience.DefaultRetryConfig(),
		RetryableMethods:  defaultRetryableMethods,
		RetryableStatus:   defaultRetryableStatus,
		RespectRetryAfter: true,
	}
}

// Client is a process-wide HTTP client manager: one *http.Client, one
// token cache, and one circuit breaker set, all keyed per profile.
type Client struct {
	http       *http.Client
	profiles   ProfileStore
	log        *logging.Logger
	tokens     *tokenCache
	breakers   map[string]*resilience.CircuitBreaker
	breakersMu sync.Mutex
	breakerCfg resilience.BreakerConfig
	cache      *cachestore.Store
}

func New(profiles ProfileStore, log *logging.Logger) *Client {
	if log == nil {
		log = logging.Default()
	}
	return &Client{
		http:       &http.Client{},
		profiles:   profiles,
		log:        log,
		tokens:     newTokenCache(),
		breakers:   map[string]*resilience.CircuitBreaker{},
		breakerCfg: resilience.DefaultBreakerConfig(),
	}
}

// WithCache attaches a response cache directory, enabling Request.CacheTTL.
func (c *Client) WithCache(cache *cachestore.Store) *Client {
	c.cache = cache
	return c
}

func (c *Client) breakerFor(key string) *resilience.CircuitBreaker {
	c.breakersMu.Lock()
	defer c.breakersMu.Unlock()
	if b, ok := c.breakers[key]; ok {
		return b
	}
	b := resilience.NewCircuitBreaker(c.breakerCfg)
	c.breakers[key] = b
	return b
}

// Request is one `request` call's parameters (spec §4.6).
type Request struct {
	ProfileName     string
	Method          string
	URL             string
	Headers         map[string]string
	Query           map[string]string
	Body            []byte
	Timeout         time.Duration
	ResponseType    string // auto|json|text|bytes
	RequireComplete bool
	Retry           *RetryPolicy
	CaptureBytes    int
	CacheTTL        time.Duration
}

// Response is the normalized result of a `request` call.
type Response struct {
	StatusCode      int               `json:"status_code"`
	Headers         map[string]string `json:"headers"`
	Body            interface{}       `json:"body,omitempty"`
	BodyTruncated   bool              `json:"body_truncated"`
	BodyReadBytes   int               `json:"body_read_bytes"`
	BodyCapturedBytes int             `json:"body_captured_bytes"`
	DataTruncated   bool              `json:"data_truncated,omitempty"`
	DurationMS      int64             `json:"duration_ms"`
	Attempts        int               `json:"attempts"`
}

// Do executes req, applying auth, retry/backoff, and the circuit breaker.
// A cache hit (when req.CacheTTL > 0 and c.cache is set) short-circuits the
// network call entirely.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	var cacheKey string
	if c.cache != nil && req.CacheTTL > 0 {
		cacheKey = cachestore.KeyFor(req.Method, req.URL, req.Headers, req.Body)
		if entry, _, ok := c.cache.Get(cacheKey); ok {
			if resp, ok := responseFromCacheEntry(entry); ok {
				return resp, nil
			}
		}
	}

	resp, err := c.doWithRetry(ctx, req)
	if err == nil && cacheKey != "" {
		_ = c.cache.PutJSON(cacheKey, resp, req.CacheTTL, nil)
	}
	return resp, err
}

func (c *Client) doWithRetry(ctx context.Context, req Request) (Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	prof, secrets, err := c.resolveProfile(req.ProfileName)
	if err != nil {
		return Response{}, err
	}

	policy := DefaultRetryPolicy()
	if req.Retry != nil {
		policy = *req.Retry
	}

	captureLimit := req.CaptureBytes
	if captureLimit <= 0 {
		captureLimit = defaultCaptureBytes
	}

	breaker := c.breakerFor(req.ProfileName)
	var resp Response
	attempts := 0
	var lastRetryAfter time.Duration

	override := func(_ int, computed time.Duration) time.Duration {
		if policy.RespectRetryAfter && lastRetryAfter > computed {
			return lastRetryAfter
		}
		return computed
	}

	err = resilience.Retry(ctx, policy.RetryConfig, override, func(attempt int) error {
		attempts = attempt
		return breaker.Execute(func() error {
			r, retryAfter, doErr := c.doOnce(ctx, req, prof, secrets, captureLimit)
			lastRetryAfter = retryAfter
			if doErr != nil {
				return doErr
			}
			resp = r
			if isRetryableStatus(r.StatusCode, policy, req.Method) {
				return apperr.RetryableErr("retryable http status", nil).WithDetails("status_code", r.StatusCode)
			}
			return nil
		})
	})

	resp.Attempts = attempts
	if err != nil {
		if te, ok := apperr.As(err); ok {
			return resp, te
		}
		return resp, apperr.RetryableErr("http request failed", err)
	}
	return resp, nil
}

func isRetryableStatus(status int, policy RetryPolicy, method string) bool {
	methods := policy.RetryableMethods
	if methods == nil {
		methods = defaultRetryableMethods
	}
	if !methods[strings.ToUpper(method)] {
		return false
	}
	statuses := policy.RetryableStatus
	if statuses == nil {
		statuses = defaultRetryableStatus
	}
	return statuses[status]
}

func (c *Client) doOnce(ctx context.Context, req Request, prof model.Profile, secrets map[string]string, captureLimit int) (Response, time.Duration, error) {
	httpReq, err := c.buildRequest(ctx, req, prof, secrets)
	if err != nil {
		return Response{}, 0, err
	}

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, 0, apperr.RetryableErr("http transport error", err)
	}
	defer httpResp.Body.Close()

	buf := make([]byte, 0, captureLimit)
	reader := io.LimitReader(httpResp.Body, int64(captureLimit)+1)
	data, _ := io.ReadAll(reader)
	readBytes := len(data)
	truncated := false
	if len(data) > captureLimit {
		data = data[:captureLimit]
		truncated = true
		rest, _ := io.Copy(io.Discard, httpResp.Body)
		readBytes += int(rest)
	}
	buf = append(buf, data...)

	headers := map[string]string{}
	for k := range httpResp.Header {
		headers[k] = httpResp.Header.Get(k)
	}

	resp := Response{
		StatusCode:        httpResp.StatusCode,
		Headers:           headers,
		BodyTruncated:     truncated,
		BodyReadBytes:     readBytes,
		BodyCapturedBytes: len(buf),
		DurationMS:        time.Since(start).Milliseconds(),
	}

	body, dataTruncated := decodeBody(buf, httpResp.Header.Get("Content-Type"), req.ResponseType, truncated)
	resp.Body = body
	resp.DataTruncated = dataTruncated

	if req.RequireComplete && truncated {
		return resp, 0, apperr.New(apperr.InvalidParams, "http_response_truncated", "response exceeded the capture buffer and require_complete is set")
	}

	var retryAfter time.Duration
	if ra := httpResp.Header.Get("Retry-After"); ra != "" {
		retryAfter = parseRetryAfter(ra)
	}
	return resp, retryAfter, nil
}

func parseRetryAfter(v string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func (c *Client) buildRequest(ctx context.Context, req Request, prof model.Profile, secrets map[string]string) (*http.Request, error) {
	reqURL := req.URL
	if len(req.Query) > 0 {
		var b strings.Builder
		b.WriteString(reqURL)
		if strings.Contains(reqURL, "?") {
			b.WriteByte('&')
		} else {
			b.WriteByte('?')
		}
		first := true
		for k, v := range req.Query {
			if !first {
				b.WriteByte('&')
			}
			first = false
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
		reqURL = b.String()
	}

	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, strings.ToUpper(req.Method), reqURL, bodyReader)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidParams, "http_bad_request", "failed to build request", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	if prof.Name != "" {
		if err := c.applyAuth(ctx, &prof, secrets, httpReq); err != nil {
			return nil, err
		}
	}
	return httpReq, nil
}

func (c *Client) resolveProfile(name string) (model.Profile, map[string]string, error) {
	if name == "" {
		return model.Profile{}, nil, nil
	}
	return c.profiles.Get(name, model.ProfileAPI)
}
