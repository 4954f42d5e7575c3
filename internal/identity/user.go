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

package identity

import (
	"context"
	"errors"
	"time"
)

// Domain errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password does not meet security requirements")
)

// Roles a user can hold within its tenant.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleMember  = "member"
)

// User represents a user account. A user belongs to exactly one tenant for
// its lifetime; TenantID is immutable after creation. Emails are unique per
// tenant, not globally, so an email string alone never identifies a user
// once more than one tenant exists.
type User struct {
	ID           string
	TenantID     string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Role         string
	IsActive     bool
	// TokenVersion is embedded in issued tokens and bumped on password
	// change, invalidating tokens minted before the change.
	TokenVersion int
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ValidRole reports whether role is one of the defined role constants.
func ValidRole(role string) bool {
	return role == RoleAdmin || role == RoleManager || role == RoleMember
}

// UserRepository defines the interface for user persistence
type UserRepository interface {
	// Create creates a new user inside an existing tenant.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id string) (*User, error)

	// GetByEmailInTenant retrieves a user by email within one tenant.
	GetByEmailInTenant(ctx context.Context, tenantID, email string) (*User, error)

	// FindByEmail retrieves all users matching an email across tenants,
	// ordered by creation time then ID. Login iterates the result in
	// order, so candidate ordering must be deterministic.
	FindByEmail(ctx context.Context, email string) ([]*User, error)

	// UpdateLastLogin records a successful login.
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error

	// UpdatePassword replaces the password hash and bumps TokenVersion.
	UpdatePassword(ctx context.Context, userID, passwordHash string) error

	// Deactivate clears the active flag without deleting the row.
	Deactivate(ctx context.Context, userID string) error
}
