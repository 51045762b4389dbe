package lab

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lims/lims/internal/domain/customer"
	"github.com/lims/lims/internal/domain/numbering"
	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/internal/platform/db"
	"github.com/lims/lims/internal/platform/telemetry"
	"github.com/lims/lims/internal/platform/validation"
)

// Registry owns test requests and their samples.
type Registry struct {
	repos     Repos
	tx        db.Transactor
	numbers   *numbering.Generator
	customers customer.Lookup
	metrics   *telemetry.Provider
	logger    zerolog.Logger
}

func NewRegistry(repos Repos, tx db.Transactor, numbers *numbering.Generator, customers customer.Lookup, logger zerolog.Logger) *Registry {
	return &Registry{repos: repos, tx: tx, numbers: numbers, customers: customers, logger: logger}
}

func (r *Registry) SetTelemetry(p *telemetry.Provider) {
	r.metrics = p
}

// CreateTestRequest writes the request and all of its samples atomically.
func (r *Registry) CreateTestRequest(ctx context.Context, data CreateTestRequestData) (*TestRequest, error) {
	if err := validation.Struct(data); err != nil {
		return nil, err
	}
	if strings.TrimSpace(data.RequesterName) == "" {
		return nil, apperr.Validation("requester_name is required")
	}
	if _, err := r.customers.GetCustomer(ctx, data.CustomerID); err != nil {
		return nil, err
	}

	var tr *TestRequest
	err := withRetry(ctx, r.tx, func(ctx context.Context) error {
		no, err := r.numbers.Next(ctx, numbering.Request)
		if err != nil {
			return err
		}
		tr = &TestRequest{
			RequestNo:         no,
			CustomerID:        data.CustomerID,
			RequesterName:     strings.TrimSpace(data.RequesterName),
			Objective:         data.Objective,
			ProjectID:         data.ProjectID,
			Notes:             data.Notes,
			DocumentStatus:    DocumentDraft,
			LabInternalStatus: InternalWaitingApproval,
		}
		if err := r.repos.Requests.Create(ctx, tr); err != nil {
			return err
		}
		for _, sd := range data.Samples {
			s := &TestRequestSample{
				TestRequestID:    tr.ID,
				CustomerSampleID: sd.CustomerSampleID,
				SentSampleDate:   sd.SentSampleDate,
				AnimalType:       sd.AnimalType,
				SampleSpecimen:   sd.SampleSpecimen,
				Panel:            sd.Panel,
				Method:           sd.Method,
				RequestedQty:     sd.RequestedQty,
				Unit:             sd.Unit,
				CurrentStatus:    SamplePending,
				Notes:            sd.Notes,
			}
			if err := r.repos.Samples.Create(ctx, s); err != nil {
				return fmt.Errorf("create sample: %w", err)
			}
			tr.Samples = append(tr.Samples, s)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create test request: %w", err)
	}

	r.metrics.LabEvent("request_created")
	r.logger.Info().
		Str("request_no", tr.RequestNo).
		Str("customer_id", tr.CustomerID.String()).
		Int("samples", len(tr.Samples)).
		Msg("test request created")
	return tr, nil
}

// GetTestRequest returns the request with its samples and their lab tests.
func (r *Registry) GetTestRequest(ctx context.Context, id uuid.UUID) (*TestRequest, error) {
	tr, err := r.repos.Requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.withSamples(ctx, tr)
}

func (r *Registry) withSamples(ctx context.Context, tr *TestRequest) (*TestRequest, error) {
	samples, err := r.repos.Samples.ListByRequest(ctx, tr.ID)
	if err != nil {
		return nil, err
	}
	tests, err := r.repos.Tests.ListByRequest(ctx, tr.ID)
	if err != nil {
		return nil, err
	}
	bySample := make(map[uuid.UUID]*LabTest, len(tests))
	for _, t := range tests {
		bySample[t.TestRequestSampleID] = t
	}
	for _, s := range samples {
		s.LabTest = bySample[s.ID]
	}
	tr.Samples = samples
	return tr, nil
}

// UpdateTestRequest merges the supplied fields. Status changes must follow
// the transition tables.
func (r *Registry) UpdateTestRequest(ctx context.Context, id uuid.UUID, data UpdateTestRequestData) (*TestRequest, error) {
	var tr *TestRequest
	err := r.tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := r.repos.Requests.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if data.RequesterName != nil {
			name := strings.TrimSpace(*data.RequesterName)
			if name == "" {
				return apperr.Validation("requester_name is required")
			}
			cur.RequesterName = name
		}
		if data.Objective != nil {
			cur.Objective = data.Objective
		}
		if data.ProjectID != nil {
			cur.ProjectID = data.ProjectID
		}
		if data.Notes != nil {
			cur.Notes = data.Notes
		}
		if data.DocumentStatus != nil {
			if err := documentFlow.Validate(cur.DocumentStatus, *data.DocumentStatus); err != nil {
				return err
			}
			cur.DocumentStatus = *data.DocumentStatus
		}
		if data.LabInternalStatus != nil {
			if err := internalFlow.Validate(cur.LabInternalStatus, *data.LabInternalStatus); err != nil {
				return err
			}
			cur.LabInternalStatus = *data.LabInternalStatus
		}
		tr = cur
		return r.repos.Requests.Update(ctx, cur)
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info().
		Str("request_no", tr.RequestNo).
		Str("document_status", string(tr.DocumentStatus)).
		Str("lab_internal_status", string(tr.LabInternalStatus)).
		Msg("test request updated")
	return r.withSamples(ctx, tr)
}

// UpdateSample merges the supplied sample fields. A change to RECEIVED
// moves the request to SAMPLE_RECEIVED.
func (r *Registry) UpdateSample(ctx context.Context, id uuid.UUID, data UpdateSampleData) (*TestRequestSample, error) {
	if err := validation.Struct(data); err != nil {
		return nil, err
	}
	var s *TestRequestSample
	err := r.tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := r.repos.Samples.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if data.CurrentStatus != nil {
			if err := sampleFlow.Validate(cur.CurrentStatus, *data.CurrentStatus); err != nil {
				return err
			}
			cur.CurrentStatus = *data.CurrentStatus
		}
		if data.ReceivedQty != nil {
			cur.ReceivedQty = data.ReceivedQty
		}
		if data.StorageLocation != nil {
			cur.StorageLocation = data.StorageLocation
		}
		if data.Notes != nil {
			cur.Notes = data.Notes
		}
		if err := r.repos.Samples.Update(ctx, cur); err != nil {
			return err
		}
		s = cur
		if cur.CurrentStatus == SampleReceived {
			return advanceRequest(ctx, r.repos, cur.TestRequestID, InternalSampleReceived)
		}
		if cur.CurrentStatus == SampleRejected {
			_, err := reconcileRequest(ctx, r.repos, cur.TestRequestID)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ReceiveSample records the physical arrival of a pending sample.
func (r *Registry) ReceiveSample(ctx context.Context, id uuid.UUID, data ReceiveSampleData) (*TestRequestSample, error) {
	if err := validation.Struct(data); err != nil {
		return nil, err
	}
	var s *TestRequestSample
	err := r.tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := r.repos.Samples.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := sampleFlow.Validate(cur.CurrentStatus, SampleReceived); err != nil {
			return err
		}
		qty := data.ReceivedQty
		cur.CurrentStatus = SampleReceived
		cur.ReceivedQty = &qty
		if data.StorageLocation != nil {
			cur.StorageLocation = data.StorageLocation
		}
		if err := r.repos.Samples.Update(ctx, cur); err != nil {
			return err
		}
		s = cur
		return advanceRequest(ctx, r.repos, cur.TestRequestID, InternalSampleReceived)
	})
	if err != nil {
		return nil, err
	}
	r.metrics.LabEvent("sample_received")
	r.logger.Info().Str("sample_id", s.ID.String()).Int("received_qty", data.ReceivedQty).Msg("sample received")
	return s, nil
}

func (r *Registry) ListTestRequests(ctx context.Context, f ListFilter, limit, offset int) ([]*TestRequest, int, error) {
	if f.DocumentStatus != "" && !f.DocumentStatus.Valid() {
		return nil, 0, apperr.Validation("unknown document status %q", f.DocumentStatus)
	}
	if f.LabInternalStatus != "" && !f.LabInternalStatus.Valid() {
		return nil, 0, apperr.Validation("unknown lab internal status %q", f.LabInternalStatus)
	}
	return r.repos.Requests.List(ctx, f, limit, offset)
}

func (r *Registry) ListByCustomer(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]*TestRequest, int, error) {
	if _, err := r.customers.GetCustomer(ctx, customerID); err != nil {
		return nil, 0, err
	}
	return r.repos.Requests.List(ctx, ListFilter{CustomerID: &customerID}, limit, offset)
}

func (r *Registry) Search(ctx context.Context, term string, limit, offset int) ([]*TestRequest, int, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, 0, apperr.Validation("search term is required")
	}
	return r.repos.Requests.Search(ctx, term, limit, offset)
}

// CountOpenByCustomer counts the customer's requests with lab work still
// outstanding.
func (r *Registry) CountOpenByCustomer(ctx context.Context, customerID uuid.UUID) (int, error) {
	return r.repos.Requests.CountOpenByCustomer(ctx, customerID)
}

// ParseDate accepts RFC 3339 timestamps and plain YYYY-MM-DD dates.
func ParseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, apperr.Validation("invalid date %q", v)
	}
	return t, nil
}
