package account

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no account matches a lookup.
	ErrNotFound = errors.New("account not found")
	// ErrDuplicateEmail is returned when inserting an email that is already present.
	ErrDuplicateEmail = errors.New("email already exists")
)

// Repository persists account records. Implementations compare emails with
// NormalizeEmail and return copies, never shared references.
type Repository interface {
	GetByEmail(ctx context.Context, email string) (Account, error)
	GetByID(ctx context.Context, id string) (Account, error)
	Insert(ctx context.Context, acct Account) (Account, error)
	Update(ctx context.Context, acct Account) (Account, error)
	List(ctx context.Context) ([]Account, error)
}
