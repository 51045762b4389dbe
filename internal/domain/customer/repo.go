package customer

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, c *Customer) error
	GetByID(ctx context.Context, id uuid.UUID) (*Customer, error)
	// GetForUpdate locks the customer row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Customer, error)
	Update(ctx context.Context, c *Customer) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Customer, int, error)
}

// OpenRequestCounter counts a customer's test requests that have not
// reached a terminal lab status.
type OpenRequestCounter interface {
	CountOpenByCustomer(ctx context.Context, customerID uuid.UUID) (int, error)
}
