package account

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Create inserts a. It returns ErrEmailTaken when the email, compared
	// case-insensitively, already belongs to another account.
	Create(ctx context.Context, a *Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
}
