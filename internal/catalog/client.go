// Package catalog is the HTTP client of the remote catalog service. Calls are
// resolved by OpenAPI operation id, guarded by a circuit breaker and, for
// reads only, retried with exponential backoff.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/pitabwire/catalogboard/internal/config"
	"github.com/pitabwire/catalogboard/internal/observability"
	"github.com/pitabwire/catalogboard/internal/openapi"
	"github.com/pitabwire/catalogboard/model"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 10 << 20

// Recorder receives catalog call metrics.
type Recorder interface {
	RecordCatalogRequest(serviceID, operationID string, status int, d time.Duration)
	SetCatalogCircuitBreakerState(serviceID string, state float64)
	RecordCatalogRetry(serviceID, operationID string)
}

// Options configures a Client. Zero values select defaults.
type Options struct {
	HTTPClient  *http.Client
	Credentials CredentialSource
	Logger      *zap.Logger
	Metrics     Recorder
}

// Client calls the catalog service. It implements board.Catalog.
type Client struct {
	cfg     config.CatalogConfig
	http    *http.Client
	index   *openapi.Index
	breaker *CircuitBreaker
	creds   CredentialSource
	logger  *zap.Logger
	metrics Recorder

	list       openapi.IndexedOperation
	transition openapi.IndexedOperation
	remove     openapi.IndexedOperation
}

// New creates a client for the operations named in cfg. Every operation must
// be declared in index; cfg.BaseURL, when set, overrides the document's
// server URL.
func New(cfg config.CatalogConfig, index *openapi.Index, opts Options) (*Client, error) {
	ops := cfg.Operations
	if err := index.Require(cfg.ServiceID, ops.ListEntries, ops.SubmitTransition, ops.DeleteEntry); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:     cfg,
		http:    opts.HTTPClient,
		index:   index,
		creds:   opts.Credentials,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	if c.http == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		c.http = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxConnsPerHost:     50,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	if c.creds == nil {
		c.creds = ForwardedCredential()
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.logger = c.logger.With(zap.String("service_id", cfg.ServiceID))

	cb := cfg.CircuitBreaker
	c.breaker = NewCircuitBreaker(cb.FailureThreshold, cb.SuccessThreshold, cb.Timeout, func(s BreakerState) {
		c.logger.Warn("catalog circuit breaker changed state", zap.Stringer("state", s))
		if c.metrics != nil {
			c.metrics.SetCatalogCircuitBreakerState(cfg.ServiceID, float64(s))
		}
	})

	resolve := func(id string) (openapi.IndexedOperation, error) {
		op, _ := index.GetOperation(cfg.ServiceID, id)
		if cfg.BaseURL != "" {
			op.BaseURL = cfg.BaseURL
		}
		if op.BaseURL == "" {
			return op, fmt.Errorf("catalog: no base URL for operation %s", id)
		}
		return op, nil
	}
	var err error
	if c.list, err = resolve(ops.ListEntries); err != nil {
		return nil, err
	}
	if c.transition, err = resolve(ops.SubmitTransition); err != nil {
		return nil, err
	}
	if c.remove, err = resolve(ops.DeleteEntry); err != nil {
		return nil, err
	}
	for _, op := range []openapi.IndexedOperation{c.transition, c.remove} {
		if pathParam(op) == "" {
			return nil, fmt.Errorf("catalog: operation %s has no path parameter for the entry id", op.OperationID)
		}
	}
	return c, nil
}

// ListEntries reads one page of entries with the given status.
func (c *Client) ListEntries(ctx context.Context, q model.EntryQuery) (model.EntryPage, error) {
	params := c.queryParams(q)
	reqURL := c.list.BaseURL + c.list.PathTemplate
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var body []byte
	err := c.withRetry(ctx, c.list.OperationID, func(attempt int) error {
		var err error
		body, err = c.do(ctx, c.list, attempt, reqURL, nil)
		return err
	})
	if err != nil {
		return model.EntryPage{}, err
	}
	return decodePage(body, c.cfg.Response)
}

// SubmitTransition posts {"new_status", "detail"} for one entry. It is never
// retried.
func (c *Client) SubmitTransition(ctx context.Context, req model.TransitionRequest) error {
	detail := req.Detail
	if detail == nil {
		detail = map[string]any{}
	}
	payload := map[string]any{"new_status": req.NewStatus, "detail": detail}
	if verrs := c.index.ValidateRequest(c.cfg.ServiceID, c.transition.OperationID, payload); len(verrs) > 0 {
		details := make([]model.FieldError, 0, len(verrs))
		for _, ve := range verrs {
			details = append(details, model.FieldError{Field: ve.Field, Code: "SCHEMA", Message: ve.Message})
		}
		return model.NewValidationError(details)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("catalog: marshal transition: %w", err)
	}
	c.logger.Debug("submitting transition",
		zap.String("entry_id", req.EntryID),
		zap.String("new_status", req.NewStatus),
		zap.Any("detail", observability.RedactBody(detail, nil)),
	)
	_, err = c.do(ctx, c.transition, 1, c.entryURL(c.transition, req.EntryID), data)
	return err
}

// DeleteEntry deletes one entry. It is never retried.
func (c *Client) DeleteEntry(ctx context.Context, entryID string) error {
	_, err := c.do(ctx, c.remove, 1, c.entryURL(c.remove, entryID), nil)
	return err
}

// HealthCheck fails while the circuit breaker is open.
func (c *Client) HealthCheck(context.Context) error {
	if c.breaker.State() == BreakerOpen {
		return ErrBreakerOpen
	}
	return nil
}

// BreakerState returns the state of the client's circuit breaker.
func (c *Client) BreakerState() BreakerState {
	return c.breaker.State()
}

func (c *Client) queryParams(q model.EntryQuery) url.Values {
	names := c.cfg.Query
	v := url.Values{}
	set := func(name, value string) {
		if name != "" && value != "" {
			v.Set(name, value)
		}
	}
	set(names.Status, q.Status)
	set(names.Offset, strconv.Itoa(q.Offset))
	if q.Limit > 0 {
		set(names.Limit, strconv.Itoa(q.Limit))
	}
	set(names.Text, q.Filters.Text)
	set(names.Material, q.Filters.Material)
	set(names.Custodian, q.Filters.Custodian)
	set(names.Hierarchy, q.Filters.Hierarchy)
	for k, val := range q.Filters.Extra {
		if !c.list.QueryParameter(k) {
			c.logger.Debug("dropping undeclared filter", zap.String("filter", k))
			continue
		}
		set(k, val)
	}
	return v
}

func (c *Client) entryURL(op openapi.IndexedOperation, entryID string) string {
	path := strings.ReplaceAll(op.PathTemplate, "{"+pathParam(op)+"}", url.PathEscape(entryID))
	return op.BaseURL + path
}

// pathParam returns the name of the operation's path parameter.
func pathParam(op openapi.IndexedOperation) string {
	for _, p := range op.Parameters {
		if p.In == "path" {
			return p.Name
		}
	}
	return ""
}

// withRetry runs call until it succeeds, fails permanently or the retry
// budget is spent.
func (c *Client) withRetry(ctx context.Context, operationID string, call func(attempt int) error) error {
	rc := c.cfg.Retry
	maxAttempts := rc.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	if rc.BackoffInitial > 0 {
		bo.InitialInterval = rc.BackoffInitial
	}
	if rc.BackoffMultiplier > 0 {
		bo.Multiplier = rc.BackoffMultiplier
	}
	if rc.BackoffMax > 0 {
		bo.MaxInterval = rc.BackoffMax
	}
	bo.MaxElapsedTime = 0

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := call(attempt)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(maxAttempts-1)), ctx),
		func(err error, wait time.Duration) {
			if c.metrics != nil {
				c.metrics.RecordCatalogRetry(c.cfg.ServiceID, operationID)
			}
			c.logger.Debug("retrying catalog read",
				zap.String("operation_id", operationID),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		})
}

// do performs one HTTP exchange and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, op openapi.IndexedOperation, attempt int, reqURL string, body []byte) (respBody []byte, err error) {
	ctx, span := observability.StartSpan(ctx, "catalog."+op.OperationID,
		observability.AttrServiceID.String(c.cfg.ServiceID),
		observability.AttrOperation.String(op.OperationID),
		observability.AttrAttempt.Int(attempt),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	if err := c.breaker.Allow(); err != nil {
		return nil, fmt.Errorf("%w: %w", model.NewBackendUnavailableError(), err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, op.Method, reqURL, reader)
	if err != nil {
		return nil, fmt.Errorf("catalog: build request: %w", err)
	}
	if err := c.setHeaders(ctx, req, body != nil); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.record(op, 0, start)
		c.breaker.RecordFailure()
		switch {
		case ctx.Err() != nil || isTimeout(err):
			return nil, model.NewBackendTimeoutError()
		case isConnectionError(err):
			return nil, model.NewBackendUnavailableError()
		}
		return nil, fmt.Errorf("catalog: request failed: %w", err)
	}
	defer resp.Body.Close()
	c.record(op, resp.StatusCode, start)

	respBody, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.breaker.RecordFailure()
		return nil, fmt.Errorf("catalog: read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		c.breaker.RecordFailure()
	case resp.StatusCode < 400:
		c.breaker.RecordSuccess()
	}
	if resp.StatusCode >= 300 {
		return nil, statusError(resp.StatusCode, respBody)
	}
	return respBody, nil
}

func (c *Client) setHeaders(ctx context.Context, req *http.Request, hasBody bool) error {
	token, err := c.creds.Token(ctx)
	if err != nil {
		return model.NewUnauthorizedError(err.Error())
	}
	req.Header.Set("Accept", "application/json")
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+sanitizeHeader(token))
	}
	if rctx := model.RequestContextFrom(ctx); rctx != nil {
		req.Header.Set("X-Tenant-Id", sanitizeHeader(rctx.TenantID))
		req.Header.Set("X-Partition-Id", sanitizeHeader(rctx.PartitionID))
		req.Header.Set("X-Correlation-Id", sanitizeHeader(rctx.CorrelationID))
		req.Header.Set("X-Request-Subject", sanitizeHeader(rctx.SubjectID))
	}
	observability.InjectTraceHeaders(ctx, req.Header)
	return nil
}

func (c *Client) record(op openapi.IndexedOperation, status int, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordCatalogRequest(c.cfg.ServiceID, op.OperationID, status, time.Since(start))
	}
}

// statusError converts a non-2xx response into an error envelope. The
// service's own message is used when the body carries one.
func statusError(status int, body []byte) error {
	msg := remoteMessage(body)
	if msg == "" {
		msg = fmt.Sprintf("catalog responded %d %s", status, http.StatusText(status))
	}
	switch {
	case status == http.StatusNotFound:
		return model.NewNotFoundError(msg)
	case status == http.StatusUnauthorized:
		return model.NewUnauthorizedError(msg)
	case status == http.StatusTooManyRequests || status >= 500:
		return model.NewBackendUnavailableError()
	default:
		return model.NewRemoteRejectionError(msg)
	}
}

func remoteMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	if parsed.Message != "" {
		return parsed.Message
	}
	return parsed.Error
}

// retryable reports whether a read may be attempted again. An open breaker
// is not retried; it would only burn the budget.
func retryable(err error) bool {
	if errors.Is(err, ErrBreakerOpen) {
		return false
	}
	switch model.CodeOf(err) {
	case model.ErrBackendUnavailable, model.ErrBackendTimeout:
		return true
	case "":
		return true
	}
	return false
}

func isConnectionError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// sanitizeHeader strips CR and LF to prevent header injection.
func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}
