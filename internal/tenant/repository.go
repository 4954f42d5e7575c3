package tenant

import (
	"context"
	"errors"

	"github.com/teamplane/teamplane/internal/identity"
)

var (
	ErrTenantNotFound = errors.New("tenant not found")
)

// Repository defines the interface for tenant storage
type Repository interface {
	// CreateWithAdmin atomically creates a tenant and its first admin
	// user. Both rows are committed together or neither is; registration
	// must never leave a tenant without an admin.
	CreateWithAdmin(ctx context.Context, tenant *Tenant, admin *identity.User) error

	GetByID(ctx context.Context, id string) (*Tenant, error)
	Update(ctx context.Context, tenant *Tenant) error
	List(ctx context.Context, limit, offset int) ([]*Tenant, error)
}
