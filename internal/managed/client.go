package managed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/parthhkdigiverse/expense-tracker/internal/backend"
	"github.com/parthhkdigiverse/expense-tracker/internal/catalog"
	"github.com/parthhkdigiverse/expense-tracker/internal/identity"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

const (
	restPath = "/rest/v1/"
	rpcPath  = "/rest/v1/rpc/"

	// DefaultTimeout bounds one gateway round trip.
	DefaultTimeout = 10 * time.Second

	maxResponseBytes = 8 << 20
)

var tracer = otel.Tracer("expense-tracker.managed")

// Options configures New.
type Options struct {
	// BaseURL is the project URL, e.g. https://abc.supabase.co.
	BaseURL string
	// APIKey is the project's anon key, sent on every request.
	APIKey string

	// HTTP defaults to a client with Timeout.
	HTTP    *http.Client
	Timeout time.Duration

	// RateLimit caps requests per second; zero is unlimited.
	RateLimit float64
	Burst     int

	Catalog *catalog.Catalog
	Logger  *slog.Logger
	NewID   func() (string, error)
}

// Client is the managed adapter.
type Client struct {
	base    *url.URL
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	cat     *catalog.Catalog
	logger  *slog.Logger
	newID   func() (string, error)
}

var _ backend.Adapter = (*Client)(nil)

// New creates a Client. No request is made until the first operation.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("managed: base URL is required")
	}
	base, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("managed: parse base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("managed: base URL %q must be http or https", opts.BaseURL)
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("managed: API key is required")
	}

	c := &Client{
		base:    base,
		apiKey:  opts.APIKey,
		http:    opts.HTTP,
		limiter: rate.NewLimiter(rate.Inf, 0),
		cat:     opts.Catalog,
		logger:  opts.Logger,
		newID:   opts.NewID,
	}
	if c.http == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	if c.cat == nil {
		c.cat = catalog.Default()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.newID == nil {
		c.newID = func() (string, error) {
			id, err := uuid.NewV7()
			if err != nil {
				return "", err
			}
			return id.String(), nil
		}
	}
	return c, nil
}

// Catalog returns the catalog the client validates against.
func (c *Client) Catalog() *catalog.Catalog {
	return c.cat
}

func startSpan(ctx context.Context, name, table string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("db.table", table)),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Create inserts one row. The id is assigned client-side when absent so
// a failed transaction can compensate by id.
func (c *Client) Create(ctx context.Context, sc backend.Scope, table string, values row.Row) (out row.Row, err error) {
	ctx, span := startSpan(ctx, "managed.Create", table)
	defer func() { endSpan(span, err) }()

	out, err = c.create(ctx, sc, table, values)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", table, err)
	}
	return out, nil
}

func (c *Client) create(ctx context.Context, sc backend.Scope, table string, values row.Row) (row.Row, error) {
	t, err := c.entity(table)
	if err != nil {
		return nil, err
	}
	vals, err := coerce(t, values)
	if err != nil {
		return nil, err
	}
	if t.OrgColumn != "" && t.OrgColumn != "id" && !vals.Has(t.OrgColumn) && sc.OrgID != "" {
		vals[t.OrgColumn] = row.Text(sc.OrgID)
	}
	if col, ok := t.Column("id"); ok && col.Generated == catalog.GeneratedID && !vals.Has("id") {
		id, err := c.newID()
		if err != nil {
			return nil, fmt.Errorf("generate id: %w", err)
		}
		vals["id"] = row.Text(id)
	}

	rows, err := c.do(ctx, sc, t, http.MethodPost, restPath+t.Name, nil, vals.Plain())
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		// A policy that admits the insert but hides the row from select.
		return nil, backend.Forbidden(t.Name, "select")
	}
	return rows[0], nil
}

// Read returns the rows of table the store's policies let the caller see.
func (c *Client) Read(ctx context.Context, sc backend.Scope, table string, f backend.Filter) (rows []row.Row, err error) {
	ctx, span := startSpan(ctx, "managed.Read", table)
	defer func() { endSpan(span, err) }()

	t, err := c.entity(table)
	if err != nil {
		return nil, err
	}
	if sc.OrgID != "" && t.OrgColumn != "" {
		f = f.And(backend.Eq(t.OrgColumn, row.Text(sc.OrgID)))
	}
	f, err = f.Resolve(t)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, sc, t, http.MethodGet, restPath+t.Name, EncodeFilter(f), nil)
}

// Get returns the row with id, or NotFound if it is absent, hidden or
// outside the active organization.
func (c *Client) Get(ctx context.Context, sc backend.Scope, table, id string) (row.Row, error) {
	rows, err := c.Read(ctx, sc, table, backend.Where(backend.Eq("id", row.Text(id))))
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", table, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("get %s: %w", table, backend.NotFound(table))
	}
	return rows[0], nil
}

// Update patches the row with id.
func (c *Client) Update(ctx context.Context, sc backend.Scope, table, id string, patch row.Row) (out row.Row, err error) {
	ctx, span := startSpan(ctx, "managed.Update", table)
	defer func() { endSpan(span, err) }()

	out, err = c.update(ctx, sc, table, id, patch, nil)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", table, err)
	}
	return out, nil
}

// update patches the row. Expect values become extra eq filters, so the
// gateway applies the patch only while the row still holds them.
func (c *Client) update(ctx context.Context, sc backend.Scope, table, id string, patch, expect row.Row) (row.Row, error) {
	t, err := c.entity(table)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, backend.Invalid(t.Name, "missing id")
	}
	p, err := coerce(t, patch)
	if err != nil {
		return nil, err
	}
	if v, ok := p["id"]; ok {
		if !row.Equal(v, row.Text(id)) {
			return nil, backend.Invalid(t.Name, "id cannot be changed")
		}
		delete(p, "id")
	}
	want, err := coerce(t, expect)
	if err != nil {
		return nil, err
	}
	if len(p) == 0 {
		before, err := c.Get(ctx, sc, table, id)
		if err != nil {
			return nil, err
		}
		return before, mismatch(t, before, want)
	}

	q := idFilter(id)
	for _, col := range want.Columns() {
		q.Add(col, "eq."+literal(want[col]))
	}
	rows, err := c.do(ctx, sc, t, http.MethodPatch, restPath+t.Name, q, p.Plain())
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		return rows[0], nil
	}
	if len(want) == 0 {
		return nil, backend.NotFound(t.Name)
	}
	// Nothing matched: tell a changed row from a missing one.
	current, err := c.Get(ctx, sc, table, id)
	if err != nil {
		return nil, backend.NotFound(t.Name)
	}
	if err := mismatch(t, current, want); err != nil {
		return nil, err
	}
	return nil, backend.Conflict(t.Name, want.Columns())
}

func mismatch(t *catalog.Table, r, want row.Row) error {
	var changed []string
	for _, col := range want.Columns() {
		if !row.Equal(r[col], want[col]) {
			changed = append(changed, col)
		}
	}
	if len(changed) > 0 {
		return backend.Conflict(t.Name, changed)
	}
	return nil
}

// Delete removes the row with id.
func (c *Client) Delete(ctx context.Context, sc backend.Scope, table, id string) (err error) {
	ctx, span := startSpan(ctx, "managed.Delete", table)
	defer func() { endSpan(span, err) }()

	if _, err = c.remove(ctx, sc, table, id); err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	return nil
}

// remove deletes the row and returns it as it was.
func (c *Client) remove(ctx context.Context, sc backend.Scope, table, id string) (row.Row, error) {
	t, err := c.entity(table)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, backend.Invalid(t.Name, "missing id")
	}
	rows, err := c.do(ctx, sc, t, http.MethodDelete, restPath+t.Name, idFilter(id), nil)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, backend.NotFound(t.Name)
	}
	return rows[0], nil
}

func (c *Client) entity(table string) (*catalog.Table, error) {
	t, ok := c.cat.Entity(table)
	if !ok {
		return nil, backend.Invalid(table, "unknown entity")
	}
	return t, nil
}

func coerce(t *catalog.Table, values row.Row) (row.Row, error) {
	out, err := t.Coerce(values)
	if err != nil {
		return nil, backend.Invalid(t.Name, "%v", err)
	}
	return out, nil
}

// do performs one gateway request and decodes the returned rows of t.
func (c *Client) do(ctx context.Context, sc backend.Scope, t *catalog.Table, method, path string, query url.Values, body any) ([]row.Row, error) {
	if sc.Caller.Token == "" {
		return nil, backend.Unauthorized(fmt.Errorf("%w: no access token", identity.ErrUnauthorized))
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, mapTransportError(err)
	}

	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+sc.Caller.Token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		req.Header.Set("Prefer", "return=representation")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("gateway request failed", "method", method, "path", path, "error", err)
		return nil, mapTransportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, mapTransportError(fmt.Errorf("read response: %w", err))
	}
	c.logger.Debug("gateway request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, mapGatewayError(t, decodeGatewayError(resp.StatusCode, data))
	}
	return decodeRows(t, data)
}

// decodeRows parses a JSON array of records. Numbers are kept as
// json.Number so decimals never pass through float64.
func decodeRows(t *catalog.Table, data []byte) ([]row.Row, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var records []map[string]any
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", t.Name, err)
	}
	out := make([]row.Row, 0, len(records))
	for _, m := range records {
		r, err := t.Decode(m)
		if err != nil {
			return nil, fmt.Errorf("decode %s response: %w", t.Name, err)
		}
		out = append(out, r)
	}
	return out, nil
}
