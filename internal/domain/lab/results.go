package lab

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/internal/platform/auth"
	"github.com/lims/lims/internal/platform/db"
	"github.com/lims/lims/internal/platform/telemetry"
	"github.com/lims/lims/internal/platform/validation"
)

// ResultLedger records measured results and completes lab tests.
type ResultLedger struct {
	repos   Repos
	tx      db.Transactor
	metrics *telemetry.Provider
	logger  zerolog.Logger
}

func NewResultLedger(repos Repos, tx db.Transactor, logger zerolog.Logger) *ResultLedger {
	return &ResultLedger{repos: repos, tx: tx, logger: logger}
}

func (l *ResultLedger) SetTelemetry(p *telemetry.Provider) {
	l.metrics = p
}

func frozenError(t *LabTest) error {
	return apperr.InvalidState("results of a %s lab test cannot be changed", t.LabResultStatus)
}

// lockLiveSample locks the sample of t and refuses a rejected one. The
// test row must already be locked.
func (l *ResultLedger) lockLiveSample(ctx context.Context, t *LabTest) (*TestRequestSample, error) {
	sample, err := l.repos.Samples.GetForUpdate(ctx, t.TestRequestSampleID)
	if err != nil {
		return nil, err
	}
	if sample.CurrentStatus == SampleRejected {
		return nil, apperr.InvalidState("sample %s of lab test %s is rejected", sample.CustomerSampleID, t.CaseNo)
	}
	return sample, nil
}

// CreateLabResult appends a result. The first result of a pending test
// moves the test to PARTIAL and its sample and request into testing.
// The recording actor defaults to the authenticated user.
func (l *ResultLedger) CreateLabResult(ctx context.Context, data CreateLabResultData) (*LabResult, error) {
	if err := validation.Struct(data); err != nil {
		return nil, err
	}
	actor, ok := auth.ActorOr(ctx, data.RecordedByID)
	if !ok {
		return nil, apperr.Validation("recorded_by_id is required")
	}

	var res *LabResult
	err := l.tx.WithinTx(ctx, func(ctx context.Context) error {
		test, err := l.repos.Tests.GetForUpdate(ctx, data.LabTestID)
		if err != nil {
			return err
		}
		if frozen(test.LabResultStatus) {
			return frozenError(test)
		}
		sample, err := l.lockLiveSample(ctx, test)
		if err != nil {
			return err
		}
		n, err := l.repos.Results.CountByTest(ctx, test.ID)
		if err != nil {
			return err
		}

		res = &LabResult{
			LabTestID:      test.ID,
			Parameter:      data.Parameter,
			Value:          data.Value,
			Unit:           data.Unit,
			ReferenceRange: data.ReferenceRange,
			Notes:          data.Notes,
			RecordedByID:   actor,
		}
		if data.IsAbnormal != nil {
			res.IsAbnormal = *data.IsAbnormal
		}
		if err := l.repos.Results.Create(ctx, res); err != nil {
			return err
		}
		res.CaseNo = test.CaseNo

		if n > 0 || test.LabResultStatus != ResultPending {
			return nil
		}
		test.LabResultStatus = ResultPartial
		if err := l.repos.Tests.Update(ctx, test); err != nil {
			return err
		}
		if err := advanceSample(ctx, l.repos, sample, SampleInTesting); err != nil {
			return err
		}
		return advanceRequest(ctx, l.repos, sample.TestRequestID, InternalTesting)
	})
	if err != nil {
		return nil, err
	}

	l.metrics.LabEvent("result_recorded")
	l.logger.Info().
		Str("case_no", res.CaseNo).
		Str("parameter", res.Parameter).
		Bool("abnormal", res.IsAbnormal).
		Str("recorded_by_id", actor.String()).
		Msg("lab result recorded")
	return res, nil
}

func (l *ResultLedger) UpdateLabResult(ctx context.Context, id uuid.UUID, data UpdateLabResultData) (*LabResult, error) {
	var res *LabResult
	err := l.tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := l.repos.Results.GetByID(ctx, id)
		if err != nil {
			return err
		}
		test, err := l.repos.Tests.GetForUpdate(ctx, cur.LabTestID)
		if err != nil {
			return err
		}
		if frozen(test.LabResultStatus) {
			return frozenError(test)
		}
		if data.Parameter != nil {
			if strings.TrimSpace(*data.Parameter) == "" {
				return apperr.Validation("parameter is required")
			}
			cur.Parameter = *data.Parameter
		}
		if data.Value != nil {
			if strings.TrimSpace(*data.Value) == "" {
				return apperr.Validation("value is required")
			}
			cur.Value = *data.Value
		}
		if data.Unit != nil {
			cur.Unit = data.Unit
		}
		if data.ReferenceRange != nil {
			cur.ReferenceRange = data.ReferenceRange
		}
		if data.IsAbnormal != nil {
			cur.IsAbnormal = *data.IsAbnormal
		}
		if data.Notes != nil {
			cur.Notes = data.Notes
		}
		if err := l.repos.Results.Update(ctx, cur); err != nil {
			return err
		}
		cur.CaseNo = test.CaseNo
		res = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// DeleteLabResult removes a result. Removing the last result of a PARTIAL
// test sends it back to PENDING; a COMPLETED test must keep at least one.
func (l *ResultLedger) DeleteLabResult(ctx context.Context, id uuid.UUID) error {
	return l.tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := l.repos.Results.GetByID(ctx, id)
		if err != nil {
			return err
		}
		test, err := l.repos.Tests.GetForUpdate(ctx, cur.LabTestID)
		if err != nil {
			return err
		}
		if frozen(test.LabResultStatus) {
			return frozenError(test)
		}
		n, err := l.repos.Results.CountByTest(ctx, test.ID)
		if err != nil {
			return err
		}
		if n <= 1 {
			switch test.LabResultStatus {
			case ResultCompleted:
				return apperr.InvalidState("cannot delete the only result of a completed lab test")
			case ResultPartial:
				test.LabResultStatus = ResultPending
				if err := l.repos.Tests.Update(ctx, test); err != nil {
					return err
				}
			}
		}
		if err := l.repos.Results.Delete(ctx, id); err != nil {
			return err
		}
		l.logger.Info().Str("case_no", test.CaseNo).Str("result_id", id.String()).Msg("lab result deleted")
		return nil
	})
}

// CompleteLabTest closes a test that has at least one result, marks its
// sample completed and lets the request climb to RESULTS_UPLOADED once
// every live sample is done. Completing a COMPLETED test is a no-op.
func (l *ResultLedger) CompleteLabTest(ctx context.Context, id uuid.UUID) (*LabTest, error) {
	var (
		test    *LabTest
		request *TestRequest
	)
	err := l.tx.WithinTx(ctx, func(ctx context.Context) error {
		t, err := l.repos.Tests.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		test = t
		sample, err := l.lockLiveSample(ctx, t)
		if err != nil {
			return err
		}
		n, err := l.repos.Results.CountByTest(ctx, t.ID)
		if err != nil {
			return err
		}
		if n == 0 {
			return apperr.InvalidState("cannot complete lab test without any results")
		}
		if t.LabResultStatus == ResultCompleted {
			return nil
		}
		if err := resultFlow.Validate(t.LabResultStatus, ResultCompleted); err != nil {
			return err
		}
		t.LabResultStatus = ResultCompleted
		if err := l.repos.Tests.Update(ctx, t); err != nil {
			return err
		}
		if err := advanceSample(ctx, l.repos, sample, SampleCompleted); err != nil {
			return err
		}
		request, err = reconcileRequest(ctx, l.repos, sample.TestRequestID)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.metrics.LabEvent("test_completed")
	ev := l.logger.Info().Str("case_no", test.CaseNo)
	if actor, ok := auth.ActorFromContext(ctx); ok {
		ev = ev.Str("actor_id", actor.String())
	}
	if request != nil {
		ev = ev.Str("request_no", request.RequestNo).Str("lab_internal_status", string(request.LabInternalStatus))
	}
	ev.Msg("lab test completed")
	return test, nil
}

// ListResults returns the results of a test in recording order.
func (l *ResultLedger) ListResults(ctx context.Context, testID uuid.UUID) ([]*LabResult, error) {
	t, err := l.repos.Tests.GetByID(ctx, testID)
	if err != nil {
		return nil, err
	}
	results, err := l.repos.Results.ListByTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		r.CaseNo = t.CaseNo
	}
	return results, nil
}
