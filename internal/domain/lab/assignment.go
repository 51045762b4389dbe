package lab

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lims/lims/internal/domain/numbering"
	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/internal/platform/db"
	"github.com/lims/lims/internal/platform/telemetry"
	"github.com/lims/lims/internal/platform/validation"
)

// CaseEngine creates lab tests for samples and moves them through review
// and approval.
type CaseEngine struct {
	repos   Repos
	tx      db.Transactor
	numbers *numbering.Generator
	metrics *telemetry.Provider
	logger  zerolog.Logger
	now     func() time.Time
}

func NewCaseEngine(repos Repos, tx db.Transactor, numbers *numbering.Generator, logger zerolog.Logger) *CaseEngine {
	return &CaseEngine{repos: repos, tx: tx, numbers: numbers, logger: logger, now: time.Now}
}

func (e *CaseEngine) SetTelemetry(p *telemetry.Provider) {
	e.metrics = p
}

func (e *CaseEngine) SetClock(now func() time.Time) {
	e.now = now
}

// AssignTechnicianToSample creates the sample's lab test on first
// assignment and only changes the technician afterwards.
func (e *CaseEngine) AssignTechnicianToSample(ctx context.Context, sampleID, technicianID uuid.UUID) (*LabTest, error) {
	if technicianID == uuid.Nil {
		return nil, apperr.Validation("assigned_lab_technician_id is required")
	}
	var (
		test    *LabTest
		created bool
	)
	err := withRetry(ctx, e.tx, func(ctx context.Context) error {
		sample, err := e.lockSample(ctx, sampleID)
		if err != nil {
			return err
		}
		existing, err := e.repos.Tests.GetBySample(ctx, sampleID)
		switch {
		case err == nil:
			if err := e.reassign(ctx, existing, technicianID); err != nil {
				return err
			}
			test, created = existing, false
		case apperr.Is(err, apperr.KindNotFound):
			t, err := e.newTest(ctx, sample, technicianID, nil, nil, nil)
			if err != nil {
				return err
			}
			test, created = t, true
		default:
			return err
		}
		return advanceRequest(ctx, e.repos, sample.TestRequestID, InternalTechnicianAssigned)
	}, errSampleHasTest)
	if err != nil {
		return nil, fmt.Errorf("assign technician: %w", err)
	}

	e.metrics.LabEvent("technician_assigned")
	e.logger.Info().
		Str("case_no", test.CaseNo).
		Str("sample_id", sampleID.String()).
		Str("technician_id", technicianID.String()).
		Bool("created", created).
		Msg("technician assigned")
	return test, nil
}

// CreateLabTest pre-creates the lab test of a sample and puts the sample
// into testing.
func (e *CaseEngine) CreateLabTest(ctx context.Context, data CreateLabTestData) (*LabTest, error) {
	if err := validation.Struct(data); err != nil {
		return nil, err
	}
	var test *LabTest
	err := withRetry(ctx, e.tx, func(ctx context.Context) error {
		sample, err := e.lockSample(ctx, data.TestRequestSampleID)
		if err != nil {
			return err
		}
		if _, err := e.repos.Tests.GetBySample(ctx, sample.ID); err == nil {
			return errSampleHasTest
		} else if !apperr.Is(err, apperr.KindNotFound) {
			return err
		}
		t, err := e.newTest(ctx, sample, data.AssignedLabTechnicianID, data.TestPanel, data.TestMethod, data.Notes)
		if err != nil {
			return err
		}
		test = t
		if err := advanceSample(ctx, e.repos, sample, SampleInTesting); err != nil {
			return err
		}
		return advanceRequest(ctx, e.repos, sample.TestRequestID, InternalTechnicianAssigned)
	})
	if errors.Is(err, errSampleHasTest) {
		return nil, apperr.AlreadyExists("lab test already exists for sample %s", data.TestRequestSampleID)
	}
	if err != nil {
		return nil, fmt.Errorf("create lab test: %w", err)
	}

	e.metrics.LabEvent("test_created")
	e.logger.Info().Str("case_no", test.CaseNo).Str("sample_id", test.TestRequestSampleID.String()).Msg("lab test created")
	return test, nil
}

func (e *CaseEngine) lockSample(ctx context.Context, id uuid.UUID) (*TestRequestSample, error) {
	sample, err := e.repos.Samples.GetForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if sample.CurrentStatus == SampleRejected {
		return nil, apperr.InvalidState("sample %s is rejected", sample.ID)
	}
	return sample, nil
}

func (e *CaseEngine) newTest(ctx context.Context, sample *TestRequestSample, technicianID uuid.UUID, panel, method, notes *string) (*LabTest, error) {
	caseNo, err := e.numbers.Next(ctx, numbering.Case)
	if err != nil {
		return nil, err
	}
	if panel == nil {
		panel = sample.Panel
	}
	if method == nil {
		method = sample.Method
	}
	t := &LabTest{
		TestRequestSampleID:     sample.ID,
		CaseNo:                  caseNo,
		CaseDate:                e.now(),
		AssignedLabTechnicianID: technicianID,
		TestPanel:               panel,
		TestMethod:              method,
		LabResultStatus:         ResultPending,
		Notes:                   notes,
	}
	if err := e.repos.Tests.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (e *CaseEngine) reassign(ctx context.Context, t *LabTest, technicianID uuid.UUID) error {
	if t.LabResultStatus == ResultApproved || t.LabResultStatus == ResultRejected {
		return apperr.InvalidState("cannot reassign a %s lab test", t.LabResultStatus)
	}
	if t.AssignedLabTechnicianID == technicianID {
		return nil
	}
	t.AssignedLabTechnicianID = technicianID
	return e.repos.Tests.Update(ctx, t)
}

// ReviewLabTest marks a completed test as reviewed by actor.
func (e *CaseEngine) ReviewLabTest(ctx context.Context, id, actor uuid.UUID) (*LabTest, error) {
	return e.decide(ctx, id, actor, ResultReviewed, func(t *LabTest, at time.Time) {
		t.ReviewedByID = &actor
		t.ReviewedAt = &at
	})
}

// ApproveLabTest marks a reviewed test as approved by actor.
func (e *CaseEngine) ApproveLabTest(ctx context.Context, id, actor uuid.UUID) (*LabTest, error) {
	return e.decide(ctx, id, actor, ResultApproved, func(t *LabTest, at time.Time) {
		t.ApprovedByID = &actor
		t.ApprovedAt = &at
	})
}

// RejectLabTest rejects the test and its sample.
func (e *CaseEngine) RejectLabTest(ctx context.Context, id, actor uuid.UUID, reason string) (*LabTest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("rejection_reason is required")
	}
	return e.decide(ctx, id, actor, ResultRejected, func(t *LabTest, at time.Time) {
		t.ReviewedByID = &actor
		t.ReviewedAt = &at
		t.RejectionReason = &reason
	})
}

func (e *CaseEngine) decide(ctx context.Context, id, actor uuid.UUID, to LabResultStatus, stamp func(*LabTest, time.Time)) (*LabTest, error) {
	if actor == uuid.Nil {
		return nil, apperr.Validation("actor is required")
	}
	var test *LabTest
	err := e.tx.WithinTx(ctx, func(ctx context.Context) error {
		t, err := e.repos.Tests.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		test = t
		if t.LabResultStatus == to {
			return nil
		}
		if err := resultFlow.Validate(t.LabResultStatus, to); err != nil {
			return err
		}
		t.LabResultStatus = to
		stamp(t, e.now())
		if err := e.repos.Tests.Update(ctx, t); err != nil {
			return err
		}

		sample, err := e.repos.Samples.GetForUpdate(ctx, t.TestRequestSampleID)
		if err != nil {
			return err
		}
		if to == ResultRejected && sampleFlow.Allowed(sample.CurrentStatus, SampleRejected) {
			sample.CurrentStatus = SampleRejected
			if err := e.repos.Samples.Update(ctx, sample); err != nil {
				return err
			}
		}
		_, err = reconcileRequest(ctx, e.repos, sample.TestRequestID)
		return err
	})
	if err != nil {
		return nil, err
	}

	event := "test_" + strings.ToLower(string(to))
	e.metrics.LabEvent(event)
	e.logger.Info().
		Str("case_no", test.CaseNo).
		Str("status", string(test.LabResultStatus)).
		Str("actor_id", actor.String()).
		Msg("lab test " + strings.ToLower(string(to)))
	return test, nil
}

// GetLabTest returns the test with its results.
func (e *CaseEngine) GetLabTest(ctx context.Context, id uuid.UUID) (*LabTest, error) {
	t, err := e.repos.Tests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	results, err := e.repos.Results.ListByTest(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		r.CaseNo = t.CaseNo
	}
	t.Results = results
	return t, nil
}

func (e *CaseEngine) ListLabTestsByTechnician(ctx context.Context, technicianID uuid.UUID, limit, offset int) ([]*LabTest, int, error) {
	return e.repos.Tests.ListByTechnician(ctx, technicianID, limit, offset)
}

func (e *CaseEngine) ListLabTestsByRequest(ctx context.Context, requestID uuid.UUID) ([]*LabTest, error) {
	if _, err := e.repos.Requests.GetByID(ctx, requestID); err != nil {
		return nil, err
	}
	return e.repos.Tests.ListByRequest(ctx, requestID)
}
