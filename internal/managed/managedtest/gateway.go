// Package managedtest runs an in-process stand-in for the managed REST
// gateway. Requests are authenticated with the project JWT secret and
// served by a direct store, so the store's composed predicates play the
// part of row-level security and answer the way the gateway would: hidden
// rows are empty results, rejected inserts are 403 with SQLSTATE 42501,
// constraint failures carry the constraint name.
package managedtest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/parthhkdigiverse/expense-tracker/internal/backend"
	"github.com/parthhkdigiverse/expense-tracker/internal/catalog"
	"github.com/parthhkdigiverse/expense-tracker/internal/direct"
	"github.com/parthhkdigiverse/expense-tracker/internal/identity"
	"github.com/parthhkdigiverse/expense-tracker/internal/managed"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

// Test credentials.
const (
	Secret = "managedtest-jwt-secret-with-enough-bytes"
	APIKey = "managedtest-anon-key"
)

// Request is one request the gateway received.
type Request struct {
	Method string
	Path   string
	Query  string
	Header http.Header
}

// Gateway is the fake gateway.
type Gateway struct {
	Store *direct.Store
	URL   string

	verifier *identity.Verifier
	now      func() time.Time

	mu       sync.Mutex
	requests []Request
	failures []managed.GatewayError
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithClock sets the clock used to issue and verify tokens.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// New starts a gateway in front of store. It is shut down when the test
// ends.
func New(t testing.TB, store *direct.Store, opts ...Option) *Gateway {
	t.Helper()
	g := &Gateway{Store: store, now: time.Now}
	for _, o := range opts {
		o(g)
	}
	g.verifier = identity.NewVerifier(Secret, g.now)

	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)
	g.URL = srv.URL
	return g
}

// Client returns a managed client pointed at the gateway.
func (g *Gateway) Client(t testing.TB, opts ...func(*managed.Options)) *managed.Client {
	t.Helper()
	o := managed.Options{BaseURL: g.URL, APIKey: APIKey, Catalog: g.Store.Catalog()}
	for _, fn := range opts {
		fn(&o)
	}
	c, err := managed.New(o)
	require.NoError(t, err)
	return c
}

// Token issues an hour-long access token for userID.
func (g *Gateway) Token(t testing.TB, userID, email string) string {
	t.Helper()
	tok, err := identity.Issue(Secret, identity.Caller{UserID: userID, Email: email}, g.now(), time.Hour)
	require.NoError(t, err)
	return tok
}

// As returns the personal scope of userID carrying a valid token.
func (g *Gateway) As(t testing.TB, userID string) backend.Scope {
	t.Helper()
	tok := g.Token(t, userID, "")
	c, err := g.verifier.Verify(tok)
	require.NoError(t, err)
	return backend.Personal(c)
}

// ServiceToken issues a service-role token.
func (g *Gateway) ServiceToken(t testing.TB) string {
	t.Helper()
	tok, err := identity.Issue(Secret, identity.Service(""), g.now(), time.Hour)
	require.NoError(t, err)
	return tok
}

// Service returns a service scope carrying a valid service token.
func (g *Gateway) Service(t testing.TB) backend.Scope {
	t.Helper()
	return backend.Personal(identity.Service(g.ServiceToken(t)))
}

// FailNext makes the next request fail with status and code.
func (g *Gateway) FailNext(status int, code, message string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures = append(g.failures, managed.GatewayError{Status: status, Code: code, Message: message})
}

// Requests returns the requests received so far.
func (g *Gateway) Requests() []Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Request(nil), g.requests...)
}

func (g *Gateway) record(r *http.Request) *managed.GatewayError {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Header: r.Header.Clone(),
	})
	if len(g.failures) == 0 {
		return nil
	}
	f := g.failures[0]
	g.failures = g.failures[1:]
	return &f
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f := g.record(r); f != nil {
		writeError(w, f.Status, f.Code, f.Message)
		return
	}
	if r.Header.Get("apikey") != APIKey {
		writeError(w, http.StatusUnauthorized, "", "No API key found in request")
		return
	}
	caller, err := g.verifier.Verify(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	if err != nil {
		writeError(w, http.StatusUnauthorized, managed.CodeJWTInvalid, err.Error())
		return
	}
	sc := backend.Personal(caller)

	if name, ok := strings.CutPrefix(r.URL.Path, "/rest/v1/rpc/"); ok {
		g.rpc(w, r, sc, name)
		return
	}
	name, _ := strings.CutPrefix(r.URL.Path, "/rest/v1/")
	t, ok := g.Store.Catalog().Entity(name)
	if !ok {
		writeError(w, http.StatusNotFound, managed.CodeUnknownRelation,
			fmt.Sprintf("Could not find the table 'public.%s' in the schema cache", name))
		return
	}

	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		f, err := managed.DecodeFilter(t, r.URL.Query())
		if err != nil {
			g.storeError(w, t, err)
			return
		}
		rows, err := g.Store.Read(ctx, sc, t.Name, f)
		if err != nil {
			g.storeError(w, t, err)
			return
		}
		writeRows(w, http.StatusOK, rows)

	case http.MethodPost:
		values, err := decodeBody(t, r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, managed.CodeInvalidText, err.Error())
			return
		}
		created, err := g.Store.Create(ctx, sc, t.Name, values)
		if err != nil {
			g.storeError(w, t, err)
			return
		}
		writeRows(w, http.StatusCreated, []row.Row{created})

	case http.MethodPatch:
		id, ok := idParam(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "", "PATCH requires id=eq.<id>")
			return
		}
		patch, err := decodeBody(t, r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, managed.CodeInvalidText, err.Error())
			return
		}
		// Filters beyond the id narrow the update like a WHERE clause.
		expect := row.Row{}
		for col, vals := range r.URL.Query() {
			if col == "id" || col == "select" || len(vals) == 0 {
				continue
			}
			v, ok := strings.CutPrefix(vals[0], "eq.")
			if !ok {
				writeError(w, http.StatusBadRequest, "", "PATCH supports eq filters only")
				return
			}
			expect[col] = row.Text(v)
		}
		updated, err := g.Store.Transaction(ctx, sc, []backend.Op{backend.UpdateOp(t.Name, id, patch).When(expect)})
		if backend.IsConflict(err) {
			writeRows(w, http.StatusOK, nil)
			return
		}
		if err != nil {
			g.storeError(w, t, err)
			return
		}
		writeRows(w, http.StatusOK, updated)

	case http.MethodDelete:
		id, ok := idParam(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "", "DELETE requires id=eq.<id>")
			return
		}
		before, err := g.Store.Get(ctx, sc, t.Name, id)
		if err == nil {
			err = g.Store.Delete(ctx, sc, t.Name, id)
		}
		if err != nil {
			g.storeError(w, t, err)
			return
		}
		writeRows(w, http.StatusOK, []row.Row{before})

	default:
		writeError(w, http.StatusMethodNotAllowed, "", r.Method+" not allowed")
	}
}

func (g *Gateway) rpc(w http.ResponseWriter, r *http.Request, sc backend.Scope, name string) {
	p, ok := g.Store.Catalog().Procedure(name)
	if !ok || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "PGRST202", fmt.Sprintf("Could not find the function public.%s", name))
		return
	}
	t, _ := g.Store.Catalog().Table(p.Table)

	raw, err := decodeJSON(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, managed.CodeInvalidText, err.Error())
		return
	}
	args := make(row.Row, len(raw))
	for k, v := range raw {
		param := strings.TrimPrefix(k, "p_")
		c, ok := p.Param(param)
		if !ok {
			writeError(w, http.StatusNotFound, "PGRST202", fmt.Sprintf("function public.%s has no parameter %s", name, k))
			return
		}
		val, err := row.Coerce(c.Type, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, managed.CodeInvalidText, err.Error())
			return
		}
		args[param] = val
	}

	rows, err := g.Store.Call(r.Context(), sc, name, args)
	if backend.IsOverpayment(err) {
		// The function's WHERE clause matched nothing.
		writeRows(w, http.StatusOK, nil)
		return
	}
	if err != nil {
		g.storeError(w, t, err)
		return
	}
	writeRows(w, http.StatusOK, rows)
}

// storeError answers the way the gateway reports the equivalent Postgres
// outcome.
func (g *Gateway) storeError(w http.ResponseWriter, t *catalog.Table, err error) {
	var be *backend.Error
	if !errors.As(err, &be) {
		writeError(w, http.StatusInternalServerError, "", err.Error())
		return
	}
	switch be.Kind {
	case backend.KindNotFound:
		writeRows(w, http.StatusOK, nil)
	case backend.KindForbidden:
		writeError(w, http.StatusForbidden, managed.CodeInsufficientPriv,
			fmt.Sprintf("new row violates row-level security policy for table %q", t.Name))
	case backend.KindUnauthorized:
		writeError(w, http.StatusUnauthorized, managed.CodeJWTInvalid, be.Error())
	case backend.KindConstraint:
		status, code, msg := constraintResponse(t, be)
		writeError(w, status, code, msg)
	case backend.KindInvalidInput:
		writeError(w, http.StatusBadRequest, managed.CodeInvalidText, be.Message)
	case backend.KindUnavailable:
		writeError(w, http.StatusServiceUnavailable, "", be.Error())
	default:
		writeError(w, http.StatusInternalServerError, "", be.Error())
	}
}

func constraintResponse(t *catalog.Table, be *backend.Error) (int, string, string) {
	name := be.Constraint
	code := ""
	switch {
	case strings.HasSuffix(name, "_fkey"):
		code = managed.CodeForeignKeyViolation
	case strings.HasSuffix(name, "_check"):
		code = managed.CodeCheckViolation
	case strings.HasSuffix(name, "_key"):
		code = managed.CodeUniqueViolation
	}
	var liteErr sqlite3.Error
	if code == "" && errors.As(be, &liteErr) {
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintNotNull:
			code = managed.CodeNotNullViolation
		case sqlite3.ErrConstraintForeignKey:
			code = managed.CodeForeignKeyViolation
		default:
			code = managed.CodeUniqueViolation
		}
	}

	switch code {
	case managed.CodeUniqueViolation:
		return http.StatusConflict, code, fmt.Sprintf("duplicate key value violates unique constraint %q", name)
	case managed.CodeForeignKeyViolation:
		return http.StatusConflict, code, fmt.Sprintf("insert or update on table %q violates foreign key constraint %q", t.Name, name)
	case managed.CodeCheckViolation:
		return http.StatusBadRequest, code, fmt.Sprintf("new row for relation %q violates check constraint %q", t.Name, name)
	default:
		col := ""
		if len(be.Columns) > 0 {
			col = be.Columns[0]
		}
		return http.StatusBadRequest, code, fmt.Sprintf("null value in column %q of relation %q violates not-null constraint", col, t.Name)
	}
}

func idParam(r *http.Request) (string, bool) {
	return strings.CutPrefix(r.URL.Query().Get("id"), "eq.")
}

func decodeJSON(body io.Reader) (map[string]any, error) {
	dec := json.NewDecoder(body)
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return m, nil
}

func decodeBody(t *catalog.Table, body io.Reader) (row.Row, error) {
	m, err := decodeJSON(body)
	if err != nil {
		return nil, err
	}
	for k := range m {
		if !t.HasColumn(k) {
			return nil, fmt.Errorf("column %q of relation %q does not exist", k, t.Name)
		}
	}
	return t.Decode(m)
}

// writeRows encodes rows the way the gateway does, numerics as JSON numbers.
func writeRows(w http.ResponseWriter, status int, rows []row.Row) {
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		m := r.Plain()
		for col, v := range r {
			if d, ok := v.(row.Decimal); ok {
				m[col] = json.Number(d.String())
			}
		}
		out[i] = m
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(out); err != nil {
		writeError(w, http.StatusInternalServerError, "", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(managed.GatewayError{Code: code, Message: message})
}
