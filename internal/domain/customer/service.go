package customer

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/internal/platform/db"
	"github.com/lims/lims/internal/platform/validation"
)

// Lookup resolves a customer id. Components that reference customers
// validate them through it.
type Lookup interface {
	GetCustomer(ctx context.Context, id uuid.UUID) (*Customer, error)
}

type Service struct {
	customers Repository
	tx        db.Transactor
	open      OpenRequestCounter
	logger    zerolog.Logger
}

func NewService(customers Repository, tx db.Transactor, logger zerolog.Logger) *Service {
	return &Service{customers: customers, tx: tx, logger: logger}
}

// SetOpenRequestCounter attaches the source consulted before deletion.
// Without one, deletion is refused.
func (s *Service) SetOpenRequestCounter(c OpenRequestCounter) {
	s.open = c
}

func (s *Service) CreateCustomer(ctx context.Context, data CreateCustomerData) (*Customer, error) {
	if err := validation.Struct(data); err != nil {
		return nil, err
	}
	c := &Customer{
		Name:           data.Name,
		LegalEntityID:  data.LegalEntityID,
		OperatorIDCard: data.OperatorIDCard,
		Email:          data.Email,
		Phone:          data.Phone,
		Address:        data.Address,
	}
	if err := s.customers.Create(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Info().Str("customer_id", c.ID.String()).Str("legal_entity_id", c.LegalEntityID).Msg("customer created")
	return c, nil
}

func (s *Service) GetCustomer(ctx context.Context, id uuid.UUID) (*Customer, error) {
	return s.customers.GetByID(ctx, id)
}

func (s *Service) UpdateCustomer(ctx context.Context, id uuid.UUID, data UpdateCustomerData) (*Customer, error) {
	if err := validation.Struct(data); err != nil {
		return nil, err
	}
	c, err := s.customers.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if data.Name != nil {
		if *data.Name == "" {
			return nil, apperr.Validation("name is required")
		}
		c.Name = *data.Name
	}
	if data.Email != nil {
		c.Email = data.Email
	}
	if data.Phone != nil {
		c.Phone = data.Phone
	}
	if data.Address != nil {
		c.Address = data.Address
	}
	if err := s.customers.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// DeleteCustomer refuses while the customer owns a test request whose lab
// status is not COMPLETED or REJECTED. The customer row stays locked from
// the check to the delete, so no request can be filed against it in between.
func (s *Service) DeleteCustomer(ctx context.Context, id uuid.UUID) error {
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.customers.GetForUpdate(ctx, id); err != nil {
			return err
		}
		if s.open == nil {
			return apperr.InvalidState("customer deletion is not available")
		}
		n, err := s.open.CountOpenByCustomer(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return apperr.InvalidState("cannot delete customer with %d test request(s) still in progress", n)
		}
		return s.customers.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("customer_id", id.String()).Msg("customer deleted")
	return nil
}

func (s *Service) ListCustomers(ctx context.Context, limit, offset int) ([]*Customer, int, error) {
	return s.customers.List(ctx, limit, offset)
}
