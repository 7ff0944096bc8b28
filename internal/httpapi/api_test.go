package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"auctoritas.org/internal/audit"
	"auctoritas.org/internal/authz"
	"auctoritas.org/internal/guard"
	"auctoritas.org/internal/registry"
	"auctoritas.org/internal/secrets"
)

const testKeyHex = "3031323334353637383930313233343536373839303132333435363738393031"

type noopRecorder struct{}

func (noopRecorder) Record(context.Context, audit.Event) {}

// stubStore satisfies authz.Store through function fields. Unset lookups
// miss and unset existence checks report false.
type stubStore struct {
	findAuthenticatorByName func(ctx context.Context, name string) (authz.Authenticator, error)
	findApplicationByName   func(ctx context.Context, name string) (authz.Application, error)
	existsApplicationByName func(ctx context.Context, name string) (bool, error)
	createApplication       func(ctx context.Context, name, description string, defaultRoleID *uuid.UUID) (authz.Application, error)
	findBindingByPair       func(ctx context.Context, applicationID, authenticatorID uuid.UUID) (authz.Binding, error)
	findMappingByExternal   func(ctx context.Context, authenticatorID uuid.UUID, externalHash string) (authz.Mapping, error)
	rolesFor                func(ctx context.Context, userID, applicationID uuid.UUID) ([]authz.Role, error)
}

func (s *stubStore) WithinTx(_ context.Context, fn func(authz.Store) error) error { return fn(s) }

func (s *stubStore) Applications() authz.ApplicationStore         { return stubApplications{s} }
func (s *stubStore) Authenticators() authz.AuthenticatorStore     { return stubAuthenticators{s} }
func (s *stubStore) Bindings() authz.BindingStore                 { return stubBindings{s} }
func (s *stubStore) Users() authz.UserStore                       { return stubUsers{} }
func (s *stubStore) Mappings() authz.MappingStore                 { return stubMappings{s} }
func (s *stubStore) Roles() authz.RoleStore                       { return stubRoles{} }
func (s *stubStore) Permissions() authz.PermissionStore           { return stubPermissions{} }
func (s *stubStore) PermissionRoles() authz.PermissionRoleStore   { return stubPermissionRoles{} }
func (s *stubStore) ApplicationRoles() authz.ApplicationRoleStore { return stubApplicationRoles{} }
func (s *stubStore) Grants() authz.GrantStore                     { return stubGrants{s} }

type stubApplications struct{ s *stubStore }

func (a stubApplications) Create(ctx context.Context, name, description string, defaultRoleID *uuid.UUID) (authz.Application, error) {
	if a.s.createApplication == nil {
		return authz.Application{}, authz.ErrNotFound
	}
	return a.s.createApplication(ctx, name, description, defaultRoleID)
}

func (a stubApplications) FindByID(context.Context, uuid.UUID) (authz.Application, error) {
	return authz.Application{}, authz.ErrNotFound
}

func (a stubApplications) FindByName(ctx context.Context, name string) (authz.Application, error) {
	if a.s.findApplicationByName == nil {
		return authz.Application{}, authz.ErrNotFound
	}
	return a.s.findApplicationByName(ctx, name)
}

func (a stubApplications) ExistsByID(context.Context, uuid.UUID) (bool, error) { return false, nil }

func (a stubApplications) ExistsByName(ctx context.Context, name string) (bool, error) {
	if a.s.existsApplicationByName == nil {
		return false, nil
	}
	return a.s.existsApplicationByName(ctx, name)
}

func (a stubApplications) Update(context.Context, uuid.UUID, string, string, *uuid.UUID) (authz.Application, error) {
	return authz.Application{}, authz.ErrNotFound
}

type stubAuthenticators struct{ s *stubStore }

func (a stubAuthenticators) Create(context.Context, string, string, string) (authz.Authenticator, error) {
	return authz.Authenticator{}, authz.ErrNotFound
}

func (a stubAuthenticators) FindByID(context.Context, uuid.UUID) (authz.Authenticator, error) {
	return authz.Authenticator{}, authz.ErrNotFound
}

func (a stubAuthenticators) FindByName(ctx context.Context, name string) (authz.Authenticator, error) {
	if a.s.findAuthenticatorByName == nil {
		return authz.Authenticator{}, authz.ErrNotFound
	}
	return a.s.findAuthenticatorByName(ctx, name)
}

func (a stubAuthenticators) ExistsByID(context.Context, uuid.UUID) (bool, error) { return false, nil }
func (a stubAuthenticators) ExistsByName(context.Context, string) (bool, error)  { return false, nil }
func (a stubAuthenticators) List(context.Context) ([]authz.Authenticator, error) { return nil, nil }

func (a stubAuthenticators) Update(context.Context, uuid.UUID, string, string, string, bool) (authz.Authenticator, error) {
	return authz.Authenticator{}, authz.ErrNotFound
}

func (a stubAuthenticators) Delete(context.Context, uuid.UUID) error { return authz.ErrNotFound }

type stubBindings struct{ s *stubStore }

func (b stubBindings) Create(context.Context, uuid.UUID, uuid.UUID, string, int) (authz.Binding, error) {
	return authz.Binding{}, authz.ErrNotFound
}

func (b stubBindings) FindByID(context.Context, uuid.UUID) (authz.Binding, error) {
	return authz.Binding{}, authz.ErrNotFound
}

func (b stubBindings) FindByPair(ctx context.Context, applicationID, authenticatorID uuid.UUID) (authz.Binding, error) {
	if b.s.findBindingByPair == nil {
		return authz.Binding{}, authz.ErrNotFound
	}
	return b.s.findBindingByPair(ctx, applicationID, authenticatorID)
}

func (b stubBindings) ExistsByID(context.Context, uuid.UUID) (bool, error) { return false, nil }

func (b stubBindings) ExistsByPair(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return false, nil
}

func (b stubBindings) ListByApplication(context.Context, uuid.UUID) ([]authz.Binding, error) {
	return nil, nil
}

func (b stubBindings) Delete(context.Context, uuid.UUID) error { return authz.ErrNotFound }

type stubUsers struct{}

func (stubUsers) ExistsByID(context.Context, uuid.UUID) (bool, error) { return false, nil }

type stubMappings struct{ s *stubStore }

func (m stubMappings) CreateWithUser(context.Context, uuid.UUID, string) (authz.User, authz.Mapping, error) {
	return authz.User{}, authz.Mapping{}, authz.ErrNotFound
}

func (m stubMappings) Create(context.Context, uuid.UUID, uuid.UUID, string) (authz.Mapping, error) {
	return authz.Mapping{}, authz.ErrNotFound
}

func (m stubMappings) FindByExternal(ctx context.Context, authenticatorID uuid.UUID, externalHash string) (authz.Mapping, error) {
	if m.s.findMappingByExternal == nil {
		return authz.Mapping{}, authz.ErrNotFound
	}
	return m.s.findMappingByExternal(ctx, authenticatorID, externalHash)
}

func (m stubMappings) ExistsByExternal(context.Context, uuid.UUID, string) (bool, error) {
	return false, nil
}

func (m stubMappings) ListByUser(context.Context, uuid.UUID) ([]authz.Mapping, error) {
	return nil, nil
}

func (m stubMappings) Delete(context.Context, uuid.UUID) error { return authz.ErrNotFound }

type stubRoles struct{}

func (stubRoles) Create(context.Context, string, string) (authz.Role, error) {
	return authz.Role{}, authz.ErrNotFound
}

func (stubRoles) FindByID(context.Context, uuid.UUID) (authz.Role, error) {
	return authz.Role{}, authz.ErrNotFound
}

func (stubRoles) ExistsByID(context.Context, uuid.UUID) (bool, error) { return false, nil }

func (stubRoles) Update(context.Context, uuid.UUID, string, string) (authz.Role, error) {
	return authz.Role{}, authz.ErrNotFound
}

type stubPermissions struct{}

func (stubPermissions) Create(context.Context, string, string) (authz.Permission, error) {
	return authz.Permission{}, authz.ErrNotFound
}

func (stubPermissions) FindByID(context.Context, uuid.UUID) (authz.Permission, error) {
	return authz.Permission{}, authz.ErrNotFound
}

func (stubPermissions) ExistsByID(context.Context, uuid.UUID) (bool, error) { return false, nil }

func (stubPermissions) Update(context.Context, uuid.UUID, string, string) (authz.Permission, error) {
	return authz.Permission{}, authz.ErrNotFound
}

type stubPermissionRoles struct{}

func (stubPermissionRoles) Link(context.Context, uuid.UUID, uuid.UUID) (uuid.UUID, error) {
	return uuid.Nil, authz.ErrNotFound
}

func (stubPermissionRoles) Unlink(context.Context, uuid.UUID, uuid.UUID) error {
	return authz.ErrNotFound
}

func (stubPermissionRoles) Exists(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return false, nil
}

func (stubPermissionRoles) ListByRole(context.Context, uuid.UUID) ([]authz.Permission, error) {
	return nil, nil
}

type stubApplicationRoles struct{}

func (stubApplicationRoles) Link(context.Context, uuid.UUID, uuid.UUID) (uuid.UUID, error) {
	return uuid.Nil, authz.ErrNotFound
}

func (stubApplicationRoles) Unlink(context.Context, uuid.UUID, uuid.UUID) error {
	return authz.ErrNotFound
}

func (stubApplicationRoles) Exists(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return false, nil
}

func (stubApplicationRoles) ListByApplication(context.Context, uuid.UUID) ([]authz.Role, error) {
	return nil, nil
}

type stubGrants struct{ s *stubStore }

func (g stubGrants) Create(context.Context, uuid.UUID, uuid.UUID, uuid.UUID) (authz.Grant, error) {
	return authz.Grant{}, authz.ErrNotFound
}

func (g stubGrants) Ensure(context.Context, uuid.UUID, uuid.UUID, uuid.UUID) error {
	return nil
}

func (g stubGrants) Delete(context.Context, uuid.UUID, uuid.UUID, uuid.UUID) error {
	return authz.ErrNotFound
}

func (g stubGrants) Exists(context.Context, uuid.UUID, uuid.UUID, uuid.UUID) (bool, error) {
	return false, nil
}

func (g stubGrants) RolesFor(ctx context.Context, userID, applicationID uuid.UUID) ([]authz.Role, error) {
	if g.s.rolesFor == nil {
		return nil, nil
	}
	return g.s.rolesFor(ctx, userID, applicationID)
}

func newTestHandler(t *testing.T, store *stubStore) http.Handler {
	t.Helper()
	hasher, err := secrets.NewHasher("test-hash-key")
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	cipher, err := secrets.NewCipher(testKeyHex)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	interceptor, err := guard.NewInterceptor(noopRecorder{})
	if err != nil {
		t.Fatalf("NewInterceptor: %v", err)
	}
	reg, err := registry.New(store, cipher, hasher, interceptor)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	engine, err := authz.NewEngine(store, hasher, noopRecorder{})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return New(engine, reg, ReadyProbe{}, nil, "test").Handler()
}

func doRequest(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return out
}

func TestHealthz(t *testing.T) {
	h := newTestHandler(t, &stubStore{})
	rec := doRequest(h, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" {
		t.Fatalf("status field = %v", body["status"])
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected X-Request-Id header")
	}
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestReadyReportsStoreOutage(t *testing.T) {
	hasher, _ := secrets.NewHasher("test-hash-key")
	cipher, _ := secrets.NewCipher(testKeyHex)
	interceptor, _ := guard.NewInterceptor(noopRecorder{})
	store := &stubStore{}
	reg, _ := registry.New(store, cipher, hasher, interceptor)
	engine, _ := authz.NewEngine(store, hasher, noopRecorder{})
	h := New(engine, reg, ReadyProbe{Pinger: failingPinger{}}, nil, "test").Handler()

	rec := doRequest(h, http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if decodeBody(t, rec)["status"] != "not_ready" {
		t.Fatal("expected not_ready status")
	}
}

func grantingStore() (*stubStore, uuid.UUID) {
	authenticatorID := uuid.New()
	applicationID := uuid.New()
	userID := uuid.New()
	store := &stubStore{
		findAuthenticatorByName: func(_ context.Context, name string) (authz.Authenticator, error) {
			if name != "google-oauth" {
				return authz.Authenticator{}, authz.ErrNotFound
			}
			return authz.Authenticator{ID: authenticatorID, Name: name, Active: true}, nil
		},
		findApplicationByName: func(_ context.Context, name string) (authz.Application, error) {
			if name != "storefront" {
				return authz.Application{}, authz.ErrNotFound
			}
			return authz.Application{ID: applicationID, Name: name}, nil
		},
		findBindingByPair: func(context.Context, uuid.UUID, uuid.UUID) (authz.Binding, error) {
			return authz.Binding{ID: uuid.New(), Active: true}, nil
		},
		findMappingByExternal: func(context.Context, uuid.UUID, string) (authz.Mapping, error) {
			return authz.Mapping{ID: uuid.New(), UserID: userID}, nil
		},
		rolesFor: func(context.Context, uuid.UUID, uuid.UUID) ([]authz.Role, error) {
			return []authz.Role{{ID: uuid.New(), Name: "customer", CreatedAt: time.Now()}}, nil
		},
	}
	return store, userID
}

func TestAuthorizeGranted(t *testing.T) {
	store, userID := grantingStore()
	h := newTestHandler(t, store)

	rec := doRequest(h, http.MethodGet,
		"/v1/authorize?applicationName=storefront&authenticatorName=google-oauth&externalUserId=ext-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %q)", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["user_id"] != userID.String() {
		t.Fatalf("user_id = %v, want %s", body["user_id"], userID)
	}
	roles, ok := body["roles"].(map[string]any)
	if !ok || len(roles) != 1 {
		t.Fatalf("roles = %v, want one entry", body["roles"])
	}
	for _, name := range roles {
		if name != "customer" {
			t.Fatalf("role name = %v", name)
		}
	}
}

func TestAuthorizeDeniedUnknownAuthenticator(t *testing.T) {
	h := newTestHandler(t, &stubStore{})
	rec := doRequest(h, http.MethodGet,
		"/v1/authorize?applicationName=storefront&authenticatorName=nope&externalUserId=ext-1", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if msg := decodeBody(t, rec)["error"]; msg != "authenticator not found or inactive" {
		t.Fatalf("error = %v", msg)
	}
}

func TestAuthorizeMissingParams(t *testing.T) {
	h := newTestHandler(t, &stubStore{})
	rec := doRequest(h, http.MethodGet, "/v1/authorize?applicationName=storefront", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAuthorizeMethodNotAllowed(t *testing.T) {
	h := newTestHandler(t, &stubStore{})
	rec := doRequest(h, http.MethodPost, "/v1/authorize", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != http.MethodGet {
		t.Fatalf("Allow = %q", allow)
	}
}

func TestApplicationCreateConflictStatus(t *testing.T) {
	store := &stubStore{
		existsApplicationByName: func(context.Context, string) (bool, error) { return true, nil },
	}
	h := newTestHandler(t, store)
	rec := doRequest(h, http.MethodPost, "/v1/applications",
		`{"name":"storefront","description":"shop"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 (body %q)", rec.Code, rec.Body.String())
	}
}

func TestApplicationCreateRejectsUnknownFields(t *testing.T) {
	h := newTestHandler(t, &stubStore{})
	rec := doRequest(h, http.MethodPost, "/v1/applications",
		`{"name":"storefront","bogus":true}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestApplicationGetMiss(t *testing.T) {
	h := newTestHandler(t, &stubStore{})
	rec := doRequest(h, http.MethodGet, "/v1/applications/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if msg := decodeBody(t, rec)["error"]; msg != "application not found" {
		t.Fatalf("error = %v", msg)
	}
}

func TestApplicationUpdateMalformedID(t *testing.T) {
	h := newTestHandler(t, &stubStore{})
	rec := doRequest(h, http.MethodPut, "/v1/applications/not-a-uuid",
		`{"name":"storefront","description":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if msg := decodeBody(t, rec)["error"]; msg != "invalid application id" {
		t.Fatalf("error = %v", msg)
	}
}

func TestApplicationCreateReturnsLocation(t *testing.T) {
	store := &stubStore{
		createApplication: func(_ context.Context, name, description string, defaultRoleID *uuid.UUID) (authz.Application, error) {
			return authz.Application{ID: uuid.New(), Name: name, Description: description}, nil
		},
	}
	h := newTestHandler(t, store)
	rec := doRequest(h, http.MethodPost, "/v1/applications",
		`{"name":"storefront","description":"shop"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %q)", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); loc != "/v1/applications/storefront" {
		t.Fatalf("Location = %q", loc)
	}
}

func TestGrantsRejectMalformedBody(t *testing.T) {
	h := newTestHandler(t, &stubStore{})
	rec := doRequest(h, http.MethodPost, "/v1/grants", `{"user_id":"not-a-uuid"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	h := newTestHandler(t, &stubStore{})
	rec := doRequest(h, http.MethodGet, "/v1/nothing-here", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
