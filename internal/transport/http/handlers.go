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
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/teamplane/teamplane/internal/auth"
	"github.com/teamplane/teamplane/internal/identity"
	"github.com/teamplane/teamplane/internal/observability/logger"
	"github.com/teamplane/teamplane/internal/observability/metrics"
	"github.com/teamplane/teamplane/internal/tenant"
	"github.com/teamplane/teamplane/internal/token"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Handler holds HTTP handlers and dependencies
type Handler struct {
	authService *auth.Service
	codec       *token.Codec
	metrics     *metrics.Metrics
}

// NewHandler creates a new HTTP handler. metrics may be nil.
func NewHandler(authService *auth.Service, codec *token.Codec, m *metrics.Metrics) *Handler {
	return &Handler{
		authService: authService,
		codec:       codec,
		metrics:     m,
	}
}

// RouterConfig selects the rate-limit budgets for the router. TrustProxy
// declares that a trusted proxy sits in front and X-Forwarded-For may be
// used for rate-limit keys.
type RouterConfig struct {
	Strict       bool
	TrustProxy   bool
	CounterStore CounterStore
	Metrics      *metrics.Metrics
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter, cfg RouterConfig) *chi.Mux {
	store := cfg.CounterStore
	if store == nil {
		store = NewMemoryCounterStore(0, nil)
	}
	loginWindow := LoginWindowRelaxed
	if cfg.Strict {
		loginWindow = LoginWindowStrict
	}
	authLimiter := NewFixedWindowLimiter(loginWindow, store)
	apiLimiter := NewFixedWindowLimiter(APIWindow, store)
	readLimiter := NewFixedWindowLimiter(ReadWindow, store)
	for _, l := range []*FixedWindowLimiter{authLimiter, apiLimiter, readLimiter} {
		l.trustProxy = cfg.TrustProxy
		if cfg.Metrics != nil {
			l.rejections = cfg.Metrics.RateLimited
		}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter, cfg.TrustProxy))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check
	r.Get("/health", h.HealthCheck)

	// Registration and login bypass the auth middleware but carry the
	// strict per-address window.
	r.Group(func(r chi.Router) {
		r.Use(authLimiter.Middleware)
		r.Post("/auth/register", h.Register)
		r.Post("/auth/login", h.Login)
	})

	// Protected routes: token -> claims -> bound tenant context. Domain
	// services mounted behind this group read GetTenantID / GetClaims and
	// must filter every storage query by the bound tenant.
	r.Group(func(r chi.Router) {
		r.Use(h.AuthMiddleware)
		r.Use(RequireTenant)

		r.With(readLimiter.Middleware).Get("/auth/me", h.Me)
		r.With(apiLimiter.Middleware).Post("/auth/users", h.AddUser)
		r.With(apiLimiter.Middleware).Post("/auth/change-password", h.ChangePassword)
	})

	return r
}

// HealthResponse is the health check body.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// HealthCheck returns the health status
// @Summary Health Check
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Service: "teamplane",
	})
}

// RegisterRequest represents registration data
type RegisterRequest struct {
	CompanyName string `json:"companyName"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
}

func (req *RegisterRequest) validate() string {
	switch {
	case req.CompanyName == "":
		return "companyName is required"
	case req.Email == "":
		return "email is required"
	case len(req.Password) < 8:
		return "password must be at least 8 characters"
	case req.FirstName == "":
		return "firstName is required"
	case req.LastName == "":
		return "lastName is required"
	}
	return ""
}

// UserResponse is the user shape returned by auth endpoints. The password
// hash never leaves the service.
type UserResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      string `json:"role"`
	TenantID  string `json:"tenantId"`
}

// TenantResponse is the tenant shape returned by auth endpoints.
type TenantResponse struct {
	ID                 string     `json:"id"`
	CompanyName        string     `json:"companyName"`
	SubscriptionStatus string     `json:"subscriptionStatus"`
	TrialEndsAt        *time.Time `json:"trialEndsAt,omitempty"`
}

// SessionResponse bundles a token with its user and tenant.
type SessionResponse struct {
	Token  string         `json:"token"`
	User   UserResponse   `json:"user"`
	Tenant TenantResponse `json:"tenant"`
}

// Register handles tenant + admin user registration
// @Summary Register a new company
// @Description Creates a tenant on a 14-day trial together with its admin user
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration Data"
// @Success 200 {object} Envelope
// @Failure 400 {object} Envelope
// @Router /auth/register [post]
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, CodeValidationError, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		respondError(w, http.StatusBadRequest, CodeValidationError, msg)
		return
	}

	result, err := h.authService.Register(r.Context(), req.CompanyName, req.Email, req.Password, req.FirstName, req.LastName)
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}

	if h.metrics != nil {
		h.metrics.Registrations.Add(r.Context(), 1)
	}
	respondData(w, http.StatusOK, sessionResponse(result, true))
}

// LoginRequest represents login credentials
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles user login
// @Summary Login
// @Description Authenticate by email and password, issue a session token
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Credentials"
// @Success 200 {object} Envelope
// @Failure 401 {object} Envelope
// @Failure 403 {object} Envelope
// @Router /auth/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, CodeValidationError, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, CodeValidationError, "email and password are required")
		return
	}

	result, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if h.metrics != nil {
			h.metrics.LoginFailures.Add(r.Context(), 1)
		}
		h.writeAuthError(w, r, err)
		return
	}

	if h.metrics != nil {
		h.metrics.LoginSuccesses.Add(r.Context(), 1)
	}
	respondData(w, http.StatusOK, sessionResponse(result, false))
}

// MeResponse is the /auth/me body.
type MeResponse struct {
	User   UserResponse   `json:"user"`
	Tenant TenantResponse `json:"tenant"`
}

// Me returns the current authenticated user and tenant
// @Summary Get Current User
// @Tags Auth
// @Produce json
// @Success 200 {object} Envelope
// @Failure 401 {object} Envelope
// @Failure 404 {object} Envelope
// @Router /auth/me [get]
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	user, t, err := h.authService.CurrentUser(r.Context(), claims)
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}

	respondData(w, http.StatusOK, MeResponse{
		User:   userResponse(user),
		Tenant: tenantResponse(t, true),
	})
}

// AddUserRequest represents an admin adding a user to their own tenant.
type AddUserRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      string `json:"role"`
}

// AddUser creates a user inside the caller's tenant (admin only)
// @Summary Add User
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body AddUserRequest true "User Data"
// @Success 200 {object} Envelope
// @Failure 400 {object} Envelope
// @Failure 403 {object} Envelope
// @Router /auth/users [post]
func (h *Handler) AddUser(w http.ResponseWriter, r *http.Request) {
	var req AddUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, CodeValidationError, "invalid request body")
		return
	}
	if req.Email == "" || len(req.Password) < 8 || !identity.ValidRole(req.Role) {
		respondError(w, http.StatusBadRequest, CodeValidationError, "email, password (min 8 chars) and a valid role are required")
		return
	}

	user, err := h.authService.AddUser(r.Context(), GetClaims(r.Context()), req.Email, req.Password, req.FirstName, req.LastName, req.Role)
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}

	respondData(w, http.StatusOK, userResponse(user))
}

// ChangePasswordRequest represents password change data
type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// ChangePassword changes the caller's password and invalidates previously
// issued tokens via the token version bump.
// @Summary Change Password
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body ChangePasswordRequest true "Password Change Data"
// @Success 200 {object} Envelope
// @Failure 400 {object} Envelope
// @Failure 401 {object} Envelope
// @Router /auth/change-password [post]
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, CodeValidationError, "invalid request body")
		return
	}
	if len(req.NewPassword) < 8 {
		respondError(w, http.StatusBadRequest, CodeValidationError, "newPassword must be at least 8 characters")
		return
	}

	if err := h.authService.ChangePassword(r.Context(), GetUserID(r.Context()), req.OldPassword, req.NewPassword); err != nil {
		h.writeAuthError(w, r, err)
		return
	}

	respondData(w, http.StatusOK, map[string]string{"message": "password changed successfully"})
}

// writeAuthError maps service errors onto the error taxonomy. Unknown
// email and wrong password intentionally share one message.
func (h *Handler) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var subErr *auth.SubscriptionError

	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid email or password")
	case errors.Is(err, token.ErrInvalidToken):
		respondError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid or expired token")
	case errors.As(err, &subErr):
		respondError(w, http.StatusForbidden, CodeForbidden, subErr.Error())
	case errors.Is(err, auth.ErrAdminRequired):
		respondError(w, http.StatusForbidden, CodeForbidden, "admin role required")
	case errors.Is(err, auth.ErrEmailTaken), errors.Is(err, identity.ErrUserAlreadyExists):
		respondError(w, http.StatusBadRequest, CodeValidationError, "email already registered")
	case errors.Is(err, identity.ErrInvalidEmail):
		respondError(w, http.StatusBadRequest, CodeValidationError, "invalid email address")
	case errors.Is(err, identity.ErrWeakPassword):
		respondError(w, http.StatusBadRequest, CodeValidationError, "password does not meet security requirements")
	case errors.Is(err, identity.ErrUserNotFound), errors.Is(err, tenant.ErrTenantNotFound):
		respondError(w, http.StatusNotFound, CodeNotFound, "user not found")
	default:
		slog.ErrorContext(r.Context(), "auth request failed", logger.Error(err))
		respondError(w, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}

func sessionResponse(result *auth.Result, includeTrial bool) SessionResponse {
	return SessionResponse{
		Token:  result.Token,
		User:   userResponse(result.User),
		Tenant: tenantResponse(result.Tenant, includeTrial),
	}
}

func userResponse(u *identity.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      u.Role,
		TenantID:  u.TenantID,
	}
}

func tenantResponse(t *tenant.Tenant, includeTrial bool) TenantResponse {
	resp := TenantResponse{
		ID:                 t.ID,
		CompanyName:        t.CompanyName,
		SubscriptionStatus: t.SubscriptionStatus,
	}
	if includeTrial {
		resp.TrialEndsAt = t.TrialEndsAt
	}
	return resp
}
