// Copyright 2026 The Teamplane Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teamplane/teamplane/internal/audit"
	"github.com/teamplane/teamplane/internal/auth"
	"github.com/teamplane/teamplane/internal/identity"
	"github.com/teamplane/teamplane/internal/tenant"
)

// userRepoStub is an in-memory identity.UserRepository for handler tests.
type userRepoStub struct {
	users []*identity.User
}

func (s *userRepoStub) Create(ctx context.Context, user *identity.User) error {
	s.users = append(s.users, user)
	return nil
}

func (s *userRepoStub) GetByID(ctx context.Context, id string) (*identity.User, error) {
	for _, u := range s.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, identity.ErrUserNotFound
}

func (s *userRepoStub) GetByEmailInTenant(ctx context.Context, tenantID, email string) (*identity.User, error) {
	for _, u := range s.users {
		if u.TenantID == tenantID && u.Email == email {
			return u, nil
		}
	}
	return nil, identity.ErrUserNotFound
}

func (s *userRepoStub) FindByEmail(ctx context.Context, email string) ([]*identity.User, error) {
	var out []*identity.User
	for _, u := range s.users {
		if u.Email == email {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *userRepoStub) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	u, err := s.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	u.LastLoginAt = &at
	return nil
}

func (s *userRepoStub) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	u, err := s.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	u.PasswordHash = passwordHash
	u.TokenVersion++
	return nil
}

func (s *userRepoStub) Deactivate(ctx context.Context, userID string) error {
	u, err := s.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	u.IsActive = false
	return nil
}

func (s *userRepoStub) remove(userID string) {
	for i, u := range s.users {
		if u.ID == userID {
			s.users = append(s.users[:i], s.users[i+1:]...)
			return
		}
	}
}

// tenantRepoStub is an in-memory tenant.Repository for handler tests.
type tenantRepoStub struct {
	tenants map[string]*tenant.Tenant
	users   *userRepoStub
}

func (s *tenantRepoStub) CreateWithAdmin(ctx context.Context, t *tenant.Tenant, admin *identity.User) error {
	s.tenants[t.ID] = t
	return s.users.Create(ctx, admin)
}

func (s *tenantRepoStub) GetByID(ctx context.Context, id string) (*tenant.Tenant, error) {
	t, ok := s.tenants[id]
	if !ok {
		return nil, tenant.ErrTenantNotFound
	}
	return t, nil
}

func (s *tenantRepoStub) Update(ctx context.Context, t *tenant.Tenant) error {
	s.tenants[t.ID] = t
	return nil
}

func (s *tenantRepoStub) List(ctx context.Context, limit, offset int) ([]*tenant.Tenant, error) {
	var out []*tenant.Tenant
	for _, t := range s.tenants {
		out = append(out, t)
	}
	return out, nil
}

type routerFixture struct {
	router  http.Handler
	users   *userRepoStub
	tenants *tenantRepoStub
}

func newRouterFixture(t *testing.T, strict bool) *routerFixture {
	t.Helper()

	users := &userRepoStub{}
	tenants := &tenantRepoStub{tenants: make(map[string]*tenant.Tenant), users: users}
	codec := newTestCodec(t)

	service := auth.NewService(
		users, tenants,
		identity.NewPasswordHasher(4), // low cost keeps tests fast
		codec,
		audit.NewSlogLogger(),
		14*24*time.Hour,
	)

	h := NewHandler(service, codec, nil)
	rl := NewRateLimiter(1000, 1000)
	t.Cleanup(rl.Close)
	router := NewRouter(h, rl, RouterConfig{
		Strict:       strict,
		CounterStore: NewMemoryCounterStore(0, nil),
	})

	return &routerFixture{router: router, users: users, tenants: tenants}
}

func (f *routerFixture) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *routerFixture) register(t *testing.T, company, email, password string) SessionResponse {
	t.Helper()

	rec := f.do(t, http.MethodPost, "/auth/register", "", RegisterRequest{
		CompanyName: company,
		Email:       email,
		Password:    password,
		FirstName:   "Test",
		LastName:    "User",
	})
	require.Equal(t, http.StatusOK, rec.Code, "register failed: %s", rec.Body.String())

	var session SessionResponse
	decodeData(t, rec, &session)
	return session
}

type testEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *ErrorBody      `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) testEnvelope {
	t.Helper()
	var env testEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body: %s", rec.Body.String())
	return env
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, target any) {
	t.Helper()
	env := decodeEnvelope(t, rec)
	require.True(t, env.Success, "expected success envelope, got: %s", rec.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, target))
}

// TestPurpose: Validates the health endpoint responds without authentication.
// Scope: Integration Test
// Test Case ID: HND-01
func TestRouter_Health(t *testing.T) {
	f := newRouterFixture(t, false)

	rec := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "teamplane", health.Service)
}

// TestPurpose: Validates registration returns the success envelope with token, admin user and trial tenant.
// Scope: Integration Test
// Expected: data carries token, role admin, subscriptionStatus trial and trialEndsAt; the password hash never appears.
// Test Case ID: HND-02
func TestRouter_Register(t *testing.T) {
	f := newRouterFixture(t, false)

	rec := f.do(t, http.MethodPost, "/auth/register", "", RegisterRequest{
		CompanyName: "Acme",
		Email:       "admin@acme.test",
		Password:    "Password123!",
		FirstName:   "Ada",
		LastName:    "Admin",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var session SessionResponse
	decodeData(t, rec, &session)
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, identity.RoleAdmin, session.User.Role)
	assert.Equal(t, session.Tenant.ID, session.User.TenantID)
	assert.Equal(t, tenant.StatusTrial, session.Tenant.SubscriptionStatus)
	assert.NotNil(t, session.Tenant.TrialEndsAt)

	body := rec.Body.String()
	assert.NotContains(t, body, "passwordHash")
	assert.NotContains(t, body, "$2a$", "bcrypt hash must never be serialized")
}

// TestPurpose: Validates request validation failures return the error envelope with field guidance.
// Scope: Integration Test
// Test Case ID: HND-03
func TestRouter_Register_Validation(t *testing.T) {
	f := newRouterFixture(t, false)

	tests := []struct {
		name    string
		req     RegisterRequest
		message string
	}{
		{"missing company", RegisterRequest{Email: "a@b.test", Password: "Password123!", FirstName: "A", LastName: "B"}, "companyName"},
		{"missing email", RegisterRequest{CompanyName: "Acme", Password: "Password123!", FirstName: "A", LastName: "B"}, "email"},
		{"short password", RegisterRequest{CompanyName: "Acme", Email: "a@b.test", Password: "short", FirstName: "A", LastName: "B"}, "password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/auth/register", "", tt.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			env := decodeEnvelope(t, rec)
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, CodeValidationError, env.Error.Code)
			assert.Contains(t, env.Error.Message, tt.message)
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader("{not json"))
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

// TestPurpose: Validates duplicate registration is rejected with the validation envelope.
// Scope: Integration Test
// Test Case ID: HND-04
func TestRouter_Register_DuplicateEmail(t *testing.T) {
	f := newRouterFixture(t, false)
	f.register(t, "Acme", "admin@acme.test", "Password123!")

	rec := f.do(t, http.MethodPost, "/auth/register", "", RegisterRequest{
		CompanyName: "Globex",
		Email:       "admin@acme.test",
		Password:    "Different123!",
		FirstName:   "G",
		LastName:    "X",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, CodeValidationError, env.Error.Code)
	assert.Equal(t, "email already registered", env.Error.Message)
}

// TestPurpose: Validates login returns a session and omits the trial end date from its tenant shape.
// Scope: Integration Test
// Test Case ID: HND-05
func TestRouter_Login(t *testing.T) {
	f := newRouterFixture(t, false)
	f.register(t, "Acme", "admin@acme.test", "Password123!")

	rec := f.do(t, http.MethodPost, "/auth/login", "", LoginRequest{
		Email:    "admin@acme.test",
		Password: "Password123!",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var session SessionResponse
	decodeData(t, rec, &session)
	assert.NotEmpty(t, session.Token)
	assert.Nil(t, session.Tenant.TrialEndsAt, "login response omits the trial end date")
}

// TestPurpose: Validates unknown email and wrong password return byte-identical 401 responses.
// Scope: Integration Test
// Security: Account enumeration prevention at the HTTP surface.
// Test Case ID: HND-06
func TestRouter_Login_UniformFailure(t *testing.T) {
	f := newRouterFixture(t, false)
	f.register(t, "Acme", "admin@acme.test", "Password123!")

	wrongPwd := f.do(t, http.MethodPost, "/auth/login", "", LoginRequest{
		Email:    "admin@acme.test",
		Password: "WrongPassword1",
	})
	unknown := f.do(t, http.MethodPost, "/auth/login", "", LoginRequest{
		Email:    "nobody@acme.test",
		Password: "Password123!",
	})

	assert.Equal(t, http.StatusUnauthorized, wrongPwd.Code)
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, wrongPwd.Body.String(), unknown.Body.String(),
		"failure responses must be indistinguishable")
}

// TestPurpose: Validates subscription state denials surface as 403 with distinct reasons.
// Scope: Integration Test
// Test Case ID: HND-07
func TestRouter_Login_SubscriptionDenied(t *testing.T) {
	f := newRouterFixture(t, false)
	session := f.register(t, "Acme", "admin@acme.test", "Password123!")

	creds := LoginRequest{Email: "admin@acme.test", Password: "Password123!"}
	tn := f.tenants.tenants[session.Tenant.ID]

	expired := time.Now().Add(-24 * time.Hour)
	tn.TrialEndsAt = &expired
	rec := f.do(t, http.MethodPost, "/auth/login", "", creds)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, CodeForbidden, env.Error.Code)
	assert.Equal(t, "trial expired", env.Error.Message)

	tn.SubscriptionStatus = tenant.StatusSuspended
	rec = f.do(t, http.MethodPost, "/auth/login", "", creds)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	env = decodeEnvelope(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, "subscription inactive", env.Error.Message)
}

// TestPurpose: Validates the register -> me round trip resolves the same user and tenant.
// Scope: Integration Test
// Test Case ID: HND-08
func TestRouter_Me(t *testing.T) {
	f := newRouterFixture(t, false)
	session := f.register(t, "Acme", "admin@acme.test", "Password123!")

	rec := f.do(t, http.MethodGet, "/auth/me", session.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var me MeResponse
	decodeData(t, rec, &me)
	assert.Equal(t, session.User.ID, me.User.ID)
	assert.Equal(t, "admin@acme.test", me.User.Email)
	assert.Equal(t, session.Tenant.ID, me.Tenant.ID)
	assert.NotContains(t, rec.Body.String(), "$2a$")
}

// TestPurpose: Validates that a valid token whose user row vanished yields 404, not 500.
// Scope: Integration Test
// Test Case ID: HND-09
func TestRouter_Me_UserGone(t *testing.T) {
	f := newRouterFixture(t, false)
	session := f.register(t, "Acme", "admin@acme.test", "Password123!")

	f.users.remove(session.User.ID)

	rec := f.do(t, http.MethodGet, "/auth/me", session.Token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, CodeNotFound, env.Error.Code)
}

// TestPurpose: Validates the admin-only user creation endpoint and its role gate.
// Scope: Integration Test
// Security: Role gate and per-tenant email uniqueness.
// Test Case ID: HND-10
func TestRouter_AddUser(t *testing.T) {
	f := newRouterFixture(t, false)
	session := f.register(t, "Acme", "admin@acme.test", "Password123!")

	rec := f.do(t, http.MethodPost, "/auth/users", session.Token, AddUserRequest{
		Email:     "manager@acme.test",
		Password:  "Password123!",
		FirstName: "M",
		LastName:  "N",
		Role:      identity.RoleManager,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var created UserResponse
	decodeData(t, rec, &created)
	assert.Equal(t, session.Tenant.ID, created.TenantID)
	assert.Equal(t, identity.RoleManager, created.Role)

	// Same email in the same tenant again.
	rec = f.do(t, http.MethodPost, "/auth/users", session.Token, AddUserRequest{
		Email:    "manager@acme.test",
		Password: "Password123!",
		Role:     identity.RoleMember,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// The manager is not an admin.
	loginRec := f.do(t, http.MethodPost, "/auth/login", "", LoginRequest{
		Email:    "manager@acme.test",
		Password: "Password123!",
	})
	require.Equal(t, http.StatusOK, loginRec.Code)
	var managerSession SessionResponse
	decodeData(t, loginRec, &managerSession)

	rec = f.do(t, http.MethodPost, "/auth/users", managerSession.Token, AddUserRequest{
		Email:    "other@acme.test",
		Password: "Password123!",
		Role:     identity.RoleMember,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, CodeForbidden, env.Error.Code)
}

// TestPurpose: Validates the password change flow revokes pre-change tokens.
// Scope: Integration Test
// Security: Token revocation end to end.
// Test Case ID: HND-11
func TestRouter_ChangePassword(t *testing.T) {
	f := newRouterFixture(t, false)
	session := f.register(t, "Acme", "admin@acme.test", "Password123!")

	rec := f.do(t, http.MethodPost, "/auth/change-password", session.Token, ChangePasswordRequest{
		OldPassword: "Password123!",
		NewPassword: "NewPassword456!",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// The pre-change token no longer resolves.
	rec = f.do(t, http.MethodGet, "/auth/me", session.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Old password is dead, new one works.
	rec = f.do(t, http.MethodPost, "/auth/login", "", LoginRequest{
		Email:    "admin@acme.test",
		Password: "Password123!",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/auth/login", "", LoginRequest{
		Email:    "admin@acme.test",
		Password: "NewPassword456!",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var fresh SessionResponse
	decodeData(t, rec, &fresh)
	rec = f.do(t, http.MethodGet, "/auth/me", fresh.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// TestPurpose: Validates the strict login window through the full router stack.
// Scope: Integration Test
// Security: Brute-force throttling wired onto the credential endpoints.
// Expected: 5 attempts (success or failure alike) pass, the 6th gets 429; /health stays reachable.
// Test Case ID: HND-12
func TestRouter_StrictLoginWindow(t *testing.T) {
	f := newRouterFixture(t, true)
	f.register(t, "Acme", "admin@acme.test", "Password123!")

	creds := LoginRequest{Email: "admin@acme.test", Password: "WrongPassword1"}
	// Registration already consumed one slot of the shared auth window.
	for i := 0; i < 4; i++ {
		rec := f.do(t, http.MethodPost, "/auth/login", "", creds)
		require.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i+1)
	}

	rec := f.do(t, http.MethodPost, "/auth/login", "", creds)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, CodeRateLimited, env.Error.Code)

	rec = f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "health must never be rate limited")
}
