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

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teamplane/teamplane/internal/audit"
	"github.com/teamplane/teamplane/internal/id"
	"github.com/teamplane/teamplane/internal/identity"
	"github.com/teamplane/teamplane/internal/tenant"
	"github.com/teamplane/teamplane/internal/token"
)

// Domain errors
var (
	ErrEmailTaken    = errors.New("email already registered")
	ErrAdminRequired = errors.New("admin role required")
)

// SubscriptionError denies a login because of the tenant's subscription
// state. Reason is one of the tenant gate reasons.
type SubscriptionError struct {
	Reason string
}

func (e *SubscriptionError) Error() string {
	switch e.Reason {
	case tenant.ReasonTrialExpired:
		return "trial expired"
	default:
		return "subscription inactive"
	}
}

// dummyHash absorbs a bcrypt comparison when login hits an unknown email,
// keeping the unknown-email and wrong-password paths close in timing.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Result is what a successful register or login hands back to the client.
type Result struct {
	Token  string
	User   *identity.User
	Tenant *tenant.Tenant
}

// Service orchestrates registration, login and session introspection on
// top of the credential store, hasher, token codec and subscription gate.
type Service struct {
	users       identity.UserRepository
	tenants     tenant.Repository
	hasher      *identity.PasswordHasher
	codec       *token.Codec
	auditLogger audit.Logger
	trialPeriod time.Duration
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new auth service
func NewService(
	users identity.UserRepository,
	tenants tenant.Repository,
	hasher *identity.PasswordHasher,
	codec *token.Codec,
	auditLogger audit.Logger,
	trialPeriod time.Duration,
	opts ...Option,
) *Service {
	if trialPeriod <= 0 {
		trialPeriod = tenant.TrialPeriod
	}
	s := &Service{
		users:       users,
		tenants:     tenants,
		hasher:      hasher,
		codec:       codec,
		auditLogger: auditLogger,
		trialPeriod: trialPeriod,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register bootstraps a new tenant on a 14-day trial together with its
// first admin user. Both rows are created atomically. The email must not
// exist anywhere yet; per-tenant uniqueness is moot for a tenant that does
// not exist, so the duplicate check is global here.
func (s *Service) Register(ctx context.Context, companyName, email, password, firstName, lastName string) (*Result, error) {
	if !isValidEmail(email) {
		return nil, identity.ErrInvalidEmail
	}
	if !isStrongPassword(password) {
		return nil, identity.ErrWeakPassword
	}

	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing users: %w", err)
	}
	if len(existing) > 0 {
		return nil, ErrEmailTaken
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	trialEnds := now.Add(s.trialPeriod)
	t := &tenant.Tenant{
		ID:                 id.NewUUIDv7(),
		CompanyName:        companyName,
		SubscriptionPlan:   tenant.PlanBasic,
		SubscriptionStatus: tenant.StatusTrial,
		TrialEndsAt:        &trialEnds,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	admin := &identity.User{
		ID:           id.NewUUIDv7(),
		TenantID:     t.ID,
		Email:        email,
		PasswordHash: passwordHash,
		FirstName:    firstName,
		LastName:     lastName,
		Role:         identity.RoleAdmin,
		IsActive:     true,
		TokenVersion: 1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.tenants.CreateWithAdmin(ctx, t, admin); err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}

	signed, err := s.issueToken(admin)
	if err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTenantCreated,
		TenantID: t.ID,
		ActorID:  admin.ID,
		Resource: "tenant",
		Metadata: map[string]any{"company_name": companyName},
	})

	return &Result{Token: signed, User: admin, Tenant: t}, nil
}

// Login authenticates by email and password. The email lookup is global
// because the tenant is not known yet; when the same email exists in
// several tenants the candidates are iterated in creation order and the
// first password match wins, so the session binds to exactly one
// (userID, tenantID) pair. Unknown email and wrong password produce the
// same error to prevent account enumeration.
func (s *Service) Login(ctx context.Context, email, password string) (*Result, error) {
	candidates, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	var user *identity.User
	for _, c := range candidates {
		if !c.IsActive {
			continue
		}
		if s.hasher.Verify(password, c.PasswordHash) {
			user = c
			break
		}
	}
	if user == nil {
		// Burn a comparison even when no candidate matched the email.
		if len(candidates) == 0 {
			s.hasher.Verify(password, dummyHash)
		}
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			Resource: email,
			Metadata: map[string]any{"reason": "invalid_credentials"},
		})
		return nil, identity.ErrInvalidCredentials
	}

	t, err := s.tenants.GetByID(ctx, user.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant: %w", err)
	}

	// Subscription gate runs at login only; valid tokens outlive a trial
	// that lapses mid-session.
	if decision := tenant.Evaluate(t, s.now()); !decision.Allowed {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginDenied,
			TenantID: t.ID,
			ActorID:  user.ID,
			Resource: "login",
			Metadata: map[string]any{"reason": decision.Reason},
		})
		return nil, &SubscriptionError{Reason: decision.Reason}
	}

	loginAt := s.now()
	if err := s.users.UpdateLastLogin(ctx, user.ID, loginAt); err != nil {
		return nil, fmt.Errorf("failed to record login: %w", err)
	}
	user.LastLoginAt = &loginAt

	signed, err := s.issueToken(user)
	if err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeLoginSuccess,
		TenantID: user.TenantID,
		ActorID:  user.ID,
		Resource: "login",
	})

	return &Result{Token: signed, User: user, Tenant: t}, nil
}

// CurrentUser resolves validated claims back to the live user and tenant
// rows. It fails with ErrUserNotFound when the row vanished after the
// token was issued, and with token.ErrInvalidToken when the token was
// minted before the most recent password change.
func (s *Service) CurrentUser(ctx context.Context, claims *token.Claims) (*identity.User, *tenant.Tenant, error) {
	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, nil, identity.ErrUserNotFound
	}
	if !user.IsActive {
		return nil, nil, token.ErrInvalidToken
	}
	if user.TokenVersion != claims.TokenVersion {
		return nil, nil, token.ErrInvalidToken
	}

	t, err := s.tenants.GetByID(ctx, user.TenantID)
	if err != nil {
		return nil, nil, tenant.ErrTenantNotFound
	}

	return user, t, nil
}

// AddUser lets a tenant admin create a further user inside the admin's own
// tenant. The tenant is always the caller's; there is no way to target
// another tenant from this operation. Emails are unique per tenant only.
func (s *Service) AddUser(ctx context.Context, actor *token.Claims, email, password, firstName, lastName, role string) (*identity.User, error) {
	if actor.Role != identity.RoleAdmin {
		return nil, ErrAdminRequired
	}
	if !isValidEmail(email) {
		return nil, identity.ErrInvalidEmail
	}
	if !isStrongPassword(password) {
		return nil, identity.ErrWeakPassword
	}
	if !identity.ValidRole(role) {
		return nil, fmt.Errorf("invalid role: %s", role)
	}

	if _, err := s.users.GetByEmailInTenant(ctx, actor.TenantID, email); err == nil {
		return nil, identity.ErrUserAlreadyExists
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := &identity.User{
		ID:           id.NewUUIDv7(),
		TenantID:     actor.TenantID,
		Email:        email,
		PasswordHash: passwordHash,
		FirstName:    firstName,
		LastName:     lastName,
		Role:         role,
		IsActive:     true,
		TokenVersion: 1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeUserCreated,
		TenantID: actor.TenantID,
		ActorID:  actor.UserID,
		Resource: "user",
		Metadata: map[string]any{"email": email, "role": role},
	})

	return user, nil
}

// ChangePassword verifies the old password before replacing it. The store
// bumps the user's token version, so tokens issued before the change stop
// validating on the next CurrentUser lookup.
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return identity.ErrUserNotFound
	}

	if !s.hasher.Verify(oldPassword, user.PasswordHash) {
		return identity.ErrInvalidCredentials
	}
	if !isStrongPassword(newPassword) {
		return identity.ErrWeakPassword
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, userID, newHash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypePasswordChanged,
		TenantID: user.TenantID,
		ActorID:  userID,
		Resource: "user_credentials",
	})

	return nil
}

func (s *Service) issueToken(user *identity.User) (string, error) {
	return s.codec.Issue(token.Claims{
		UserID:       user.ID,
		TenantID:     user.TenantID,
		Email:        user.Email,
		Role:         user.Role,
		TokenVersion: user.TokenVersion,
	})
}

// Helper functions
func isValidEmail(email string) bool {
	at := strings.Index(email, "@")
	return len(email) > 3 && len(email) < 255 && at > 0 && at < len(email)-1
}

func isStrongPassword(password string) bool {
	// Password must be at least 8 characters
	return len(password) >= 8
}
