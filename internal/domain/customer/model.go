package customer

import (
	"time"

	"github.com/google/uuid"
)

// Customer maps to the customer table. LegalEntityID and OperatorIDCard
// are each globally unique.
type Customer struct {
	ID             uuid.UUID `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	LegalEntityID  string    `db:"legal_entity_id" json:"legal_entity_id"`
	OperatorIDCard string    `db:"operator_id_card" json:"operator_id_card"`
	Email          *string   `db:"email" json:"email,omitempty"`
	Phone          *string   `db:"phone" json:"phone,omitempty"`
	Address        *string   `db:"address" json:"address,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

type CreateCustomerData struct {
	Name           string  `json:"name" validate:"required"`
	LegalEntityID  string  `json:"legal_entity_id" validate:"required"`
	OperatorIDCard string  `json:"operator_id_card" validate:"required"`
	Email          *string `json:"email,omitempty" validate:"omitempty,email"`
	Phone          *string `json:"phone,omitempty"`
	Address        *string `json:"address,omitempty"`
}

type UpdateCustomerData struct {
	Name    *string `json:"name,omitempty"`
	Email   *string `json:"email,omitempty" validate:"omitempty,email"`
	Phone   *string `json:"phone,omitempty"`
	Address *string `json:"address,omitempty"`
}
