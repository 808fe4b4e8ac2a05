package vulntest

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/huntplane/huntplane/internal/config"
	"github.com/huntplane/huntplane/internal/core"
	"github.com/huntplane/huntplane/internal/httpclient"
	"github.com/huntplane/huntplane/internal/logger"
	"github.com/huntplane/huntplane/internal/ratelimit"
	"github.com/huntplane/huntplane/pkg/types"
)

// maxBodyCapture caps how much response body a snapshot records.
const maxBodyCapture = 50000

// Executor sends a single payload request and records a full snapshot.
// Scope validation runs before any bytes leave the process; a request
// that fails it never reaches the rate limiter or the network.
type Executor struct {
	client    *http.Client
	limiter   *ratelimit.Limiter
	scope     core.ScopeValidator
	log       *logger.Logger
	userAgent string
}

func NewExecutor(cfg config.TestingConfig, limiter *ratelimit.Limiter, scope core.ScopeValidator, log *logger.Logger) *Executor {
	return &Executor{
		client:    httpclient.NewExecutorClient(cfg.Timeout, cfg.MaxRedirects),
		limiter:   limiter,
		scope:     scope,
		log:       log.WithComponent("executor"),
		userAgent: cfg.UserAgent,
	}
}

// Execute injects payload into the named parameter of rawURL and sends
// the request. Network-level failures return a snapshot with
// Success=false rather than an error; only policy violations
// (out of scope, unsupported method) surface as errors.
func (e *Executor) Execute(ctx context.Context, target *types.Target, rawURL, method, paramName, payload string) (*types.Snapshot, error) {
	if err := e.scope.IsInScope(rawURL, target.Domain); err != nil {
		return nil, err
	}

	method = strings.ToUpper(method)
	if method == "" {
		method = http.MethodGet
	}

	var req *http.Request
	var err error
	switch method {
	case http.MethodGet:
		req, err = e.buildGetRequest(ctx, rawURL, paramName, payload)
	case http.MethodPost:
		req, err = e.buildPostRequest(ctx, rawURL, paramName, payload)
	default:
		return nil, &core.UnsupportedMethodError{Method: method}
	}
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set("Accept", "*/*")

	snapshot := &types.Snapshot{
		RequestURL:     req.URL.String(),
		RequestMethod:  method,
		RequestHeaders: headerMap(req.Header),
	}
	if req.Body != nil {
		snapshot.RequestBody = paramName + "=" + url.QueryEscape(payload)
	}

	if err := e.limiter.WaitForHost(ctx, target.ID, req.URL.Hostname()); err != nil {
		return nil, err
	}

	started := time.Now()
	resp, err := e.client.Do(req)
	elapsed := time.Since(started)
	snapshot.ResponseTimeMs = int(elapsed.Milliseconds())

	if err != nil {
		snapshot.Success = false
		snapshot.Error = err.Error()
		e.log.Debugw("Payload request failed",
			"url", snapshot.RequestURL,
			"error", err,
		)
		return snapshot, nil
	}
	defer httpclient.CloseBody(resp)

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyCapture))
	if readErr != nil {
		snapshot.Success = false
		snapshot.Error = readErr.Error()
		return snapshot, nil
	}

	snapshot.Success = true
	snapshot.ResponseStatus = resp.StatusCode
	snapshot.ResponseHeaders = headerMap(resp.Header)
	snapshot.ResponseBody = string(body)

	e.log.LogHTTPRequest(ctx, method, snapshot.RequestURL, resp.StatusCode, elapsed)
	return snapshot, nil
}

// buildGetRequest sets the payload as a query parameter, preserving
// every other parameter already on the URL.
func (e *Executor) buildGetRequest(ctx context.Context, rawURL, paramName, payload string) (*http.Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	query := u.Query()
	query.Set(paramName, payload)
	u.RawQuery = query.Encode()

	return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
}

func (e *Executor) buildPostRequest(ctx context.Context, rawURL, paramName, payload string) (*http.Request, error) {
	form := url.Values{}
	form.Set(paramName, payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

func headerMap(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	m := make(map[string]string, len(h))
	for name := range h {
		m[name] = h.Get(name)
	}
	return m
}
