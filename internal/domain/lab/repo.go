package lab

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// errNumberTaken is returned by Create when the generated document number
// collides with an existing one. The whole transaction is retried.
var errNumberTaken = errors.New("document number already taken")

// errSampleHasTest is returned by LabTestRepository.Create when the sample
// already owns a lab test.
var errSampleHasTest = errors.New("sample already has a lab test")

type TestRequestRepository interface {
	Create(ctx context.Context, tr *TestRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*TestRequest, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*TestRequest, error)
	Update(ctx context.Context, tr *TestRequest) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*TestRequest, int, error)
	Search(ctx context.Context, term string, limit, offset int) ([]*TestRequest, int, error)
	CountOpenByCustomer(ctx context.Context, customerID uuid.UUID) (int, error)
}

type SampleRepository interface {
	Create(ctx context.Context, s *TestRequestSample) error
	GetByID(ctx context.Context, id uuid.UUID) (*TestRequestSample, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*TestRequestSample, error)
	Update(ctx context.Context, s *TestRequestSample) error
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*TestRequestSample, error)
	// CountLacking counts the request's non-rejected samples that have no
	// lab test in any of statuses.
	CountLacking(ctx context.Context, requestID uuid.UUID, statuses []LabResultStatus) (int, error)
}

type LabTestRepository interface {
	Create(ctx context.Context, t *LabTest) error
	GetByID(ctx context.Context, id uuid.UUID) (*LabTest, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*LabTest, error)
	// GetBySample returns apperr NotFound when the sample has no test.
	GetBySample(ctx context.Context, sampleID uuid.UUID) (*LabTest, error)
	Update(ctx context.Context, t *LabTest) error
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*LabTest, error)
	ListByTechnician(ctx context.Context, technicianID uuid.UUID, limit, offset int) ([]*LabTest, int, error)
}

type LabResultRepository interface {
	Create(ctx context.Context, r *LabResult) error
	GetByID(ctx context.Context, id uuid.UUID) (*LabResult, error)
	Update(ctx context.Context, r *LabResult) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByTest(ctx context.Context, testID uuid.UUID) ([]*LabResult, error)
	CountByTest(ctx context.Context, testID uuid.UUID) (int, error)
}

// Repos bundles the repositories shared by the lab services.
type Repos struct {
	Requests TestRequestRepository
	Samples  SampleRepository
	Tests    LabTestRepository
	Results  LabResultRepository
}
