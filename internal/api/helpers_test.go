package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/nerrad567/crm-core/internal/audit"
	"github.com/nerrad567/crm-core/internal/auth"
	"github.com/nerrad567/crm-core/internal/infrastructure/config"
	"github.com/nerrad567/crm-core/internal/infrastructure/logging"
	"github.com/nerrad567/crm-core/internal/store"
)

const (
	testAccessSecret  = "api-test-access-secret-32-chars-long!"
	testRefreshSecret = "api-test-refresh-secret-32-chars-long"
)

// durableMemory stands in for a reachable durable store.
type durableMemory struct {
	*store.Memory
	pingErr error
}

func (d *durableMemory) Mode() store.Mode { return store.ModeDurable }

func (d *durableMemory) Ping(context.Context) error { return d.pingErr }

// outageRepo fails every call the way a dropped database connection does.
type outageRepo[T any] struct{}

func (outageRepo[T]) FindByID(context.Context, string) (*T, error) { return nil, store.ErrUnavailable }
func (outageRepo[T]) Create(context.Context, *T) error              { return store.ErrUnavailable }
func (outageRepo[T]) Update(context.Context, *T) error              { return store.ErrUnavailable }
func (outageRepo[T]) Delete(context.Context, string) error          { return store.ErrUnavailable }
func (outageRepo[T]) List(context.Context, store.ListQuery) (*store.ListResult[T], error) {
	return nil, store.ErrUnavailable
}

// flakyDurable answers pings and identity lookups but loses its
// connection on contact queries.
type flakyDurable struct {
	durableMemory
}

func (f *flakyDurable) Contacts() store.Repository[store.Contact] { return outageRepo[store.Contact]{} }

// loginOutage loses its connection on identity lookups by email.
type loginOutage struct {
	*durableMemory
}

func (l *loginOutage) Identities() store.IdentityRepository {
	return emailOutage{IdentityRepository: l.durableMemory.Identities()}
}

type emailOutage struct {
	store.IdentityRepository
}

func (emailOutage) FindByEmail(context.Context, string) (*auth.Identity, error) {
	return nil, store.ErrUnavailable
}

// entrySink collects audit entries.
type entrySink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (s *entrySink) Write(_ context.Context, e *audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *e)
	return nil
}

type testEnv struct {
	srv      *Server
	handler  http.Handler
	fallback *store.Memory
	selector *store.Selector
	recorder *audit.Recorder
	sink     *entrySink
}

type envOption func(*Deps)

// seededMemory returns a fallback store loaded with the embedded fixtures.
func seededMemory(t *testing.T) *store.Memory {
	t.Helper()
	fx, err := store.LoadFixtures("")
	if err != nil {
		t.Fatalf("LoadFixtures() error = %v", err)
	}
	m := store.NewMemory()
	if err := m.Seed(fx); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	return m
}

// newTestEnv builds a server over a seeded fallback store. durable may be nil.
func newTestEnv(t *testing.T, durable store.Durable, opts ...envOption) *testEnv {
	t.Helper()

	quiet := slog.New(slog.DiscardHandler)
	fallback := seededMemory(t)
	selector := store.NewSelector(durable, fallback, store.WithSelectorLogger(quiet))

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  testAccessSecret,
		RefreshSecret: testRefreshSecret,
		Issuer:        "crm-core-test",
	})
	if err != nil {
		t.Fatalf("NewTokenService() error = %v", err)
	}

	sink := &entrySink{}
	recorder := audit.NewRecorder(64, []audit.Sink{sink}, audit.WithRecorderLogger(quiet))

	deps := Deps{
		Config:   config.APIConfig{Host: "127.0.0.1"},
		Logger:   logging.Discard(),
		Auth:     auth.NewService(tokens, auth.WithLogger(quiet)),
		Selector: selector,
		Audit:    recorder,
		Version:  "test",
	}
	for _, opt := range opts {
		opt(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return &testEnv{
		srv:      srv,
		handler:  srv.Handler(),
		fallback: fallback,
		selector: selector,
		recorder: recorder,
		sink:     sink,
	}
}

// do sends a request with an optional JSON body and bearer token.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func newRequest(t *testing.T, method, path, authorization string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	return req
}

func serve(e *testEnv, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// login signs in and returns the decoded response, failing the test on non-200.
func (e *testEnv) login(t *testing.T, email, password string) loginResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/auth/login", "", loginRequest{Email: email, Password: password})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status = %d, body = %s", email, rec.Code, rec.Body.String())
	}
	var resp loginResponse
	decode(t, rec, &resp)
	return resp
}

// drainAudit stops recording and returns everything delivered.
func (e *testEnv) drainAudit() []audit.Entry {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e.recorder.Run(ctx)

	e.sink.mu.Lock()
	defer e.sink.mu.Unlock()
	return append([]audit.Entry(nil), e.sink.entries...)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) Error {
	t.Helper()
	var e Error
	decode(t, rec, &e)
	return e
}

// fakeAuditRepo serves a fixed page.
type fakeAuditRepo struct {
	err    error
	filter audit.Filter
}

func (f *fakeAuditRepo) Create(context.Context, *audit.Entry) error { return nil }

func (f *fakeAuditRepo) List(_ context.Context, filter audit.Filter) (*audit.ListResult, error) {
	f.filter = filter
	if f.err != nil {
		return nil, f.err
	}
	return &audit.ListResult{Entries: []audit.Entry{{ID: "aud-1", Action: audit.ActionLogin}}, Total: 1, Limit: 50}, nil
}

var errBoom = errors.New("boom")
