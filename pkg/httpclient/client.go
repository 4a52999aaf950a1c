// Package httpclient sends single HTTP requests with the collector's retry
// policy: 429 and most 5xx statuses are retried with exponential backoff,
// and a certificate verification failure is retried once without
// verification.
package httpclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/Courier/pkg/concurrency"
)

const (
	// DefaultTimeout bounds a single attempt.
	DefaultTimeout = 120 * time.Second

	// DefaultMaxRetries is the number of retries after the first attempt.
	DefaultMaxRetries = 3
)

var tracer = otel.Tracer("github.com/wehubfusion/Courier/pkg/httpclient")

// Options configures a Client.
type Options struct {
	// Timeout bounds each attempt. Zero means DefaultTimeout.
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// SuccessStatuses are the statuses returned as a Response. Defaults to 200 and 201.
	SuccessStatuses []int

	// ExcludedRetryStatuses are 5xx statuses that are never retried.
	ExcludedRetryStatuses []int

	// ProxyURL routes requests through an http, https or socks5 proxy.
	ProxyURL string

	// Breaker, when set, rejects requests while open and records outcomes.
	Breaker *concurrency.CircuitBreaker

	Logger *zap.Logger
}

// DefaultOptions returns the default retry policy.
func DefaultOptions() Options {
	return Options{
		Timeout:               DefaultTimeout,
		MaxRetries:            DefaultMaxRetries,
		SuccessStatuses:       []int{200, 201},
		ExcludedRetryStatuses: []int{501, 505},
	}
}

// Request is a fully rendered HTTP request.
type Request struct {
	URL    string
	Method string
	Header map[string]string
	Body   string
}

// Client issues requests. It is safe for concurrent use.
type Client struct {
	opts     Options
	success  map[int]bool
	excluded map[int]bool
	secure   *resty.Client
	insecure *resty.Client
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error

	// proxied holds one client per proxy URL handed out by WithProxy.
	proxyMu sync.Mutex
	proxied map[string]*Client
}

// New creates a client.
func New(opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if len(opts.SuccessStatuses) == 0 {
		opts.SuccessStatuses = []int{200, 201}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	c := &Client{
		opts:     opts,
		success:  toSet(opts.SuccessStatuses),
		excluded: toSet(opts.ExcludedRetryStatuses),
		logger:   opts.Logger,
		sleep:    sleepContext,
	}

	var err error
	if c.secure, err = c.buildTransport(false); err != nil {
		return nil, err
	}
	if c.insecure, err = c.buildTransport(true); err != nil {
		return nil, err
	}
	return c, nil
}

// WithProxy returns a client with the same policy routed through proxyURL.
// Clients are built once per proxy URL and reused, so their connection
// pools are shared by every caller.
func (c *Client) WithProxy(proxyURL string) (*Client, error) {
	c.proxyMu.Lock()
	defer c.proxyMu.Unlock()
	if clone, ok := c.proxied[proxyURL]; ok {
		return clone, nil
	}

	opts := c.opts
	opts.ProxyURL = proxyURL
	clone, err := New(opts)
	if err != nil {
		return nil, err
	}
	clone.sleep = c.sleep
	if c.proxied == nil {
		c.proxied = make(map[string]*Client)
	}
	c.proxied[proxyURL] = clone
	return clone, nil
}

// CloseIdleConnections releases pooled connections, including those of
// clients returned by WithProxy.
func (c *Client) CloseIdleConnections() {
	c.secure.GetClient().CloseIdleConnections()
	c.insecure.GetClient().CloseIdleConnections()

	c.proxyMu.Lock()
	defer c.proxyMu.Unlock()
	for _, clone := range c.proxied {
		clone.CloseIdleConnections()
	}
}

func (c *Client) buildTransport(insecure bool) (*resty.Client, error) {
	rc := resty.New().
		SetTimeout(c.opts.Timeout).
		SetLogger(c.logger.Sugar())
	if insecure {
		rc.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}) //nolint:gosec
	}
	if c.opts.ProxyURL != "" {
		u, err := url.Parse(c.opts.ProxyURL)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy url %q", c.opts.ProxyURL)
		}
		rc.SetProxy(c.opts.ProxyURL)
	}
	return rc, nil
}

// Send issues req, retrying transient failures. A non-success status is
// returned as *HTTPError once retries are exhausted.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = "GET"
	}
	target := encodeURL(method, req.URL)

	ctx, span := tracer.Start(ctx, "http.request", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.url", target),
	)

	if c.opts.Breaker != nil && c.opts.Breaker.IsOpen() {
		return nil, &HTTPError{Method: method, URL: target, Err: ErrCircuitOpen}
	}

	var (
		resp     *Response
		attempts int
	)
	err := retry.Do(ctx, c.backoff(ctx), func(ctx context.Context) error {
		attempts++
		r, err := c.attempt(ctx, method, target, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	span.SetAttributes(attribute.Int("http.attempts", attempts))

	if err != nil {
		if c.opts.Breaker != nil {
			c.opts.Breaker.RecordFailure()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if _, ok := IsHTTPError(err); !ok {
			err = &HTTPError{Method: method, URL: target, Err: err}
		}
		return nil, err
	}

	if c.opts.Breaker != nil {
		c.opts.Breaker.RecordSuccess()
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return resp, nil
}

// backoff waits 2^attempt seconds between attempts. The wait happens here
// rather than inside retry.Do so it can observe ctx through c.sleep.
func (c *Client) backoff(ctx context.Context) retry.Backoff {
	inner := retry.WithMaxRetries(uint64(c.opts.MaxRetries), retry.NewExponential(time.Second))
	return retry.BackoffFunc(func() (time.Duration, bool) {
		next, stop := inner.Next()
		if stop {
			return 0, true
		}
		if err := c.sleep(ctx, next); err != nil {
			return 0, true
		}
		return 0, false
	})
}

func (c *Client) attempt(ctx context.Context, method, target string, req Request) (*Response, error) {
	rr, err := c.execute(ctx, c.secure, method, target, req)
	if err != nil && isCertificateError(err) {
		c.logger.Warn("Certificate verification failed, retrying without verification",
			zap.String("url", target),
			zap.Error(err))
		rr, err = c.execute(ctx, c.insecure, method, target, req)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &HTTPError{Method: method, URL: target, Err: ctxErr}
		}
		httpErr := &HTTPError{Method: method, URL: target, Err: err}
		if isTimeout(err) {
			c.logger.Warn("Request timed out", zap.String("url", target), zap.Error(err))
			return nil, retry.RetryableError(httpErr)
		}
		return nil, httpErr
	}

	resp := &Response{
		StatusCode: rr.StatusCode(),
		Header:     rr.Header(),
		Body:       decodeBody(rr.Body(), rr.Header().Get("Content-Type")),
	}
	if c.success[resp.StatusCode] {
		return resp, nil
	}

	httpErr := &HTTPError{Status: resp.StatusCode, Method: method, URL: target, Body: resp.Body}
	if c.retryable(resp.StatusCode) {
		c.logger.Warn("Retryable response status",
			zap.String("url", target),
			zap.Int("status", resp.StatusCode))
		return nil, retry.RetryableError(httpErr)
	}
	return nil, httpErr
}

func (c *Client) execute(ctx context.Context, rc *resty.Client, method, target string, req Request) (*resty.Response, error) {
	r := rc.R().SetContext(ctx).SetHeaders(req.Header)
	if req.Body != "" {
		r.SetBody(req.Body)
	}
	return r.Execute(method, target)
}

func (c *Client) retryable(status int) bool {
	if status == 429 {
		return true
	}
	return status >= 500 && status < 600 && !c.excluded[status]
}

// encodeURL makes a rendered URL safe to send. Spaces are percent-encoded
// for every method. GET query strings are also decoded and re-encoded
// parameter by parameter, keeping their order, so templated values need no
// escaping and already-encoded ones are preserved.
func encodeURL(method, raw string) string {
	raw = strings.TrimSpace(raw)
	base, query, hasQuery := strings.Cut(raw, "?")
	base = strings.ReplaceAll(base, " ", "%20")
	if !hasQuery {
		return base
	}
	if method != http.MethodGet {
		return base + "?" + strings.ReplaceAll(query, " ", "%20")
	}

	query, fragment, hasFragment := strings.Cut(query, "#")
	params := make([]string, 0, strings.Count(query, "&")+1)
	for _, param := range strings.Split(query, "&") {
		if param == "" {
			continue
		}
		key, value, hasValue := strings.Cut(param, "=")
		encoded := requote(key)
		if hasValue {
			encoded += "=" + requote(value)
		}
		params = append(params, encoded)
	}

	target := base + "?" + strings.Join(params, "&")
	if hasFragment {
		target += "#" + strings.ReplaceAll(fragment, " ", "%20")
	}
	return target
}

func requote(s string) string {
	if unescaped, err := url.QueryUnescape(s); err == nil {
		s = unescaped
	}
	return url.QueryEscape(s)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func toSet(statuses []int) map[int]bool {
	set := make(map[int]bool, len(statuses))
	for _, s := range statuses {
		set[s] = true
	}
	return set
}
