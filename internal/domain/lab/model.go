package lab

import (
	"time"

	"github.com/google/uuid"
)

// TestRequest maps to the test_request table: a customer's submission of
// one or more samples for testing.
type TestRequest struct {
	ID                uuid.UUID            `db:"id" json:"id"`
	RequestNo         string               `db:"request_no" json:"request_no"`
	CustomerID        uuid.UUID            `db:"customer_id" json:"customer_id"`
	RequesterName     string               `db:"requester_name" json:"requester_name"`
	Objective         *string              `db:"objective" json:"objective,omitempty"`
	ProjectID         *string              `db:"project_id" json:"project_id,omitempty"`
	Notes             *string              `db:"notes" json:"notes,omitempty"`
	DocumentStatus    DocumentStatus       `db:"document_status" json:"document_status"`
	LabInternalStatus LabInternalStatus    `db:"lab_internal_status" json:"lab_internal_status"`
	CreatedAt         time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time            `db:"updated_at" json:"updated_at"`
	Samples           []*TestRequestSample `db:"-" json:"samples,omitempty"`
}

// TestRequestSample maps to the test_request_sample table.
type TestRequestSample struct {
	ID               uuid.UUID    `db:"id" json:"id"`
	TestRequestID    uuid.UUID    `db:"test_request_id" json:"test_request_id"`
	CustomerSampleID string       `db:"customer_sample_id" json:"customer_sample_id"`
	SentSampleDate   *time.Time   `db:"sent_sample_date" json:"sent_sample_date,omitempty"`
	AnimalType       *string      `db:"animal_type" json:"animal_type,omitempty"`
	SampleSpecimen   *string      `db:"sample_specimen" json:"sample_specimen,omitempty"`
	Panel            *string      `db:"panel" json:"panel,omitempty"`
	Method           *string      `db:"method" json:"method,omitempty"`
	RequestedQty     int          `db:"requested_qty" json:"requested_qty"`
	ReceivedQty      *int         `db:"received_qty" json:"received_qty,omitempty"`
	Unit             *string      `db:"unit" json:"unit,omitempty"`
	CurrentStatus    SampleStatus `db:"current_status" json:"current_status"`
	StorageLocation  *string      `db:"storage_location" json:"storage_location,omitempty"`
	Notes            *string      `db:"notes" json:"notes,omitempty"`
	CreatedAt        time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time    `db:"updated_at" json:"updated_at"`
	LabTest          *LabTest     `db:"-" json:"lab_test,omitempty"`
}

// LabTest maps to the lab_test table. At most one exists per sample.
type LabTest struct {
	ID                      uuid.UUID       `db:"id" json:"id"`
	TestRequestSampleID     uuid.UUID       `db:"test_request_sample_id" json:"test_request_sample_id"`
	CaseNo                  string          `db:"case_no" json:"case_no"`
	CaseDate                time.Time       `db:"case_date" json:"case_date"`
	AssignedLabTechnicianID uuid.UUID       `db:"assigned_lab_technician_id" json:"assigned_lab_technician_id"`
	TestPanel               *string         `db:"test_panel" json:"test_panel,omitempty"`
	TestMethod              *string         `db:"test_method" json:"test_method,omitempty"`
	LabResultStatus         LabResultStatus `db:"lab_result_status" json:"lab_result_status"`
	Notes                   *string         `db:"notes" json:"notes,omitempty"`
	ReviewedByID            *uuid.UUID      `db:"reviewed_by_id" json:"reviewed_by_id,omitempty"`
	ReviewedAt              *time.Time      `db:"reviewed_at" json:"reviewed_at,omitempty"`
	ApprovedByID            *uuid.UUID      `db:"approved_by_id" json:"approved_by_id,omitempty"`
	ApprovedAt              *time.Time      `db:"approved_at" json:"approved_at,omitempty"`
	RejectionReason         *string         `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CreatedAt               time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time       `db:"updated_at" json:"updated_at"`
	Results                 []*LabResult    `db:"-" json:"results,omitempty"`
}

// LabResult maps to the lab_result table: one measured parameter.
type LabResult struct {
	ID             uuid.UUID `db:"id" json:"id"`
	LabTestID      uuid.UUID `db:"lab_test_id" json:"lab_test_id"`
	Parameter      string    `db:"parameter" json:"parameter"`
	Value          string    `db:"value" json:"value"`
	Unit           *string   `db:"unit" json:"unit,omitempty"`
	ReferenceRange *string   `db:"reference_range" json:"reference_range,omitempty"`
	IsAbnormal     bool      `db:"is_abnormal" json:"is_abnormal"`
	Notes          *string   `db:"notes" json:"notes,omitempty"`
	RecordedByID   uuid.UUID `db:"recorded_by_id" json:"recorded_by_id"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
	CaseNo         string    `db:"-" json:"case_no,omitempty"`
}

type CreateTestRequestData struct {
	CustomerID    uuid.UUID          `json:"customer_id" validate:"required"`
	RequesterName string             `json:"requester_name" validate:"required"`
	Objective     *string            `json:"objective,omitempty"`
	ProjectID     *string            `json:"project_id,omitempty"`
	Notes         *string            `json:"notes,omitempty"`
	Samples       []CreateSampleData `json:"samples" validate:"min=1,dive"`
}

type CreateSampleData struct {
	CustomerSampleID string     `json:"customer_sample_id"`
	SentSampleDate   *time.Time `json:"sent_sample_date,omitempty"`
	AnimalType       *string    `json:"animal_type,omitempty"`
	SampleSpecimen   *string    `json:"sample_specimen,omitempty"`
	Panel            *string    `json:"panel,omitempty"`
	Method           *string    `json:"method,omitempty"`
	RequestedQty     int        `json:"requested_qty" validate:"gt=0"`
	Unit             *string    `json:"unit,omitempty"`
	Notes            *string    `json:"notes,omitempty"`
}

type UpdateTestRequestData struct {
	RequesterName     *string            `json:"requester_name,omitempty"`
	Objective         *string            `json:"objective,omitempty"`
	ProjectID         *string            `json:"project_id,omitempty"`
	Notes             *string            `json:"notes,omitempty"`
	DocumentStatus    *DocumentStatus    `json:"document_status,omitempty"`
	LabInternalStatus *LabInternalStatus `json:"lab_internal_status,omitempty"`
}

type UpdateSampleData struct {
	ReceivedQty     *int          `json:"received_qty,omitempty" validate:"omitempty,gte=0"`
	CurrentStatus   *SampleStatus `json:"current_status,omitempty"`
	StorageLocation *string       `json:"storage_location,omitempty"`
	Notes           *string       `json:"notes,omitempty"`
}

type ReceiveSampleData struct {
	ReceivedQty     int     `json:"received_qty" validate:"gte=0"`
	StorageLocation *string `json:"storage_location,omitempty"`
}

type CreateLabTestData struct {
	TestRequestSampleID     uuid.UUID `json:"test_request_sample_id" validate:"required"`
	AssignedLabTechnicianID uuid.UUID `json:"assigned_lab_technician_id" validate:"required"`
	TestPanel               *string   `json:"test_panel,omitempty"`
	TestMethod              *string   `json:"test_method,omitempty"`
	Notes                   *string   `json:"notes,omitempty"`
}

type CreateLabResultData struct {
	LabTestID      uuid.UUID  `json:"lab_test_id" validate:"required"`
	Parameter      string     `json:"parameter" validate:"required"`
	Value          string     `json:"value" validate:"required"`
	Unit           *string    `json:"unit,omitempty"`
	ReferenceRange *string    `json:"reference_range,omitempty"`
	IsAbnormal     *bool      `json:"is_abnormal,omitempty"`
	Notes          *string    `json:"notes,omitempty"`
	RecordedByID   *uuid.UUID `json:"recorded_by_id,omitempty"`
}

type UpdateLabResultData struct {
	Parameter      *string `json:"parameter,omitempty"`
	Value          *string `json:"value,omitempty"`
	Unit           *string `json:"unit,omitempty"`
	ReferenceRange *string `json:"reference_range,omitempty"`
	IsAbnormal     *bool   `json:"is_abnormal,omitempty"`
	Notes          *string `json:"notes,omitempty"`
}

// ListFilter narrows List. Zero fields are ignored.
type ListFilter struct {
	CustomerID        *uuid.UUID
	DocumentStatus    DocumentStatus
	LabInternalStatus LabInternalStatus
	CreatedFrom       *time.Time
	CreatedTo         *time.Time
}
