package identity

import (
	"context"

	"github.com/emedx/imaging-gateway/pkg/domain"
)

// Store is the identity persistence boundary. Each method is a single atomic
// operation scoped to one account record; no multi-record transactions are
// required. Implementations return domain.ErrUserNotFound and
// domain.ErrEmailTaken for the corresponding conditions.
type Store interface {
	CreateUser(ctx context.Context, user *domain.User) error
	UserByID(ctx context.Context, id string) (*domain.User, error)
	UserByEmail(ctx context.Context, email string) (*domain.User, error)
	UserByVerificationToken(ctx context.Context, token string) (*domain.User, error)
	UpdateUser(ctx context.Context, user *domain.User) error
}
