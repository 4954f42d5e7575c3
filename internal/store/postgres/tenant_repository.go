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

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/teamplane/teamplane/internal/identity"
	"github.com/teamplane/teamplane/internal/tenant"
)

// TenantRepository implements tenant.Repository
type TenantRepository struct {
	db *DB
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// CreateWithAdmin atomically creates a tenant and its first admin user in
// one transaction. Registration must never leave an orphaned tenant.
//
// The schema's email uniqueness is per tenant, but registration enforces a
// global rule, so concurrent registrations of the same email serialize on
// an advisory lock and the existence check re-runs inside the transaction.
func (r *TenantRepository) CreateWithAdmin(ctx context.Context, t *tenant.Tenant, admin *identity.User) error {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, admin.Email); err != nil {
		return fmt.Errorf("failed to lock registration email: %w", err)
	}
	var taken bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`, admin.Email).Scan(&taken); err != nil {
		return fmt.Errorf("failed to check registration email: %w", err)
	}
	if taken {
		return identity.ErrUserAlreadyExists
	}

	now := time.Now()
	_, err = tx.Exec(ctx, `
		INSERT INTO tenants (
			id, company_name, subscription_plan, subscription_status,
			trial_ends_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		t.ID, t.CompanyName, t.SubscriptionPlan, t.SubscriptionStatus,
		t.TrialEndsAt, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert tenant: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO users (
			id, tenant_id, email, password_hash, first_name, last_name,
			role, is_active, token_version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		admin.ID, admin.TenantID, admin.Email, admin.PasswordHash,
		admin.FirstName, admin.LastName, admin.Role, admin.IsActive,
		admin.TokenVersion, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert admin user: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit registration: %w", err)
	}

	t.CreatedAt = now
	t.UpdatedAt = now
	admin.CreatedAt = now
	admin.UpdatedAt = now

	return nil
}

// GetByID retrieves a tenant by ID
func (r *TenantRepository) GetByID(ctx context.Context, id string) (*tenant.Tenant, error) {
	var t tenant.Tenant
	var trialEndsAt sql.NullTime

	err := r.db.pool.QueryRow(ctx, `
		SELECT id, company_name, subscription_plan, subscription_status,
			trial_ends_at, created_at, updated_at
		FROM tenants
		WHERE id = $1
	`, id).Scan(
		&t.ID, &t.CompanyName, &t.SubscriptionPlan, &t.SubscriptionStatus,
		&trialEndsAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, tenant.ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	if trialEndsAt.Valid {
		t.TrialEndsAt = &trialEndsAt.Time
	}

	return &t, nil
}

// Update updates tenant subscription state. Used by the external billing
// process; the auth core itself only reads.
func (r *TenantRepository) Update(ctx context.Context, t *tenant.Tenant) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE tenants SET
			company_name = $2,
			subscription_plan = $3,
			subscription_status = $4,
			trial_ends_at = $5,
			updated_at = NOW()
		WHERE id = $1
	`, t.ID, t.CompanyName, t.SubscriptionPlan, t.SubscriptionStatus, t.TrialEndsAt)
	if err != nil {
		return fmt.Errorf("failed to update tenant: %w", err)
	}
	if result.RowsAffected() == 0 {
		return tenant.ErrTenantNotFound
	}
	return nil
}

// List lists tenants with pagination
func (r *TenantRepository) List(ctx context.Context, limit, offset int) ([]*tenant.Tenant, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, company_name, subscription_plan, subscription_status,
			trial_ends_at, created_at, updated_at
		FROM tenants
		ORDER BY created_at
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*tenant.Tenant
	for rows.Next() {
		var t tenant.Tenant
		var trialEndsAt sql.NullTime
		if err := rows.Scan(
			&t.ID, &t.CompanyName, &t.SubscriptionPlan, &t.SubscriptionStatus,
			&trialEndsAt, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		if trialEndsAt.Valid {
			t.TrialEndsAt = &trialEndsAt.Time
		}
		tenants = append(tenants, &t)
	}

	return tenants, rows.Err()
}
