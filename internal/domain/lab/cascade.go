package lab

import (
	"context"

	"github.com/google/uuid"

	"github.com/lims/lims/internal/platform/db"
)

const numberAttempts = 3

// withRetry runs fn in a transaction, starting over when it fails with one
// of the retryable errors. errNumberTaken is always retryable.
func withRetry(ctx context.Context, tx db.Transactor, fn func(ctx context.Context) error, retryable ...error) error {
	return db.RetryTx(ctx, tx, numberAttempts, fn, append(retryable, errNumberTaken)...)
}

// advanceRequest moves the request's internal status forward to target.
// It must run inside a transaction.
func advanceRequest(ctx context.Context, repos Repos, requestID uuid.UUID, target LabInternalStatus) error {
	tr, err := repos.Requests.GetForUpdate(ctx, requestID)
	if err != nil {
		return err
	}
	if !internalFlow.Advance(&tr.LabInternalStatus, target) {
		return nil
	}
	return repos.Requests.Update(ctx, tr)
}

// advanceSample moves a locked sample forward to target and persists it.
func advanceSample(ctx context.Context, repos Repos, s *TestRequestSample, target SampleStatus) error {
	if !sampleFlow.Advance(&s.CurrentStatus, target) {
		return nil
	}
	return repos.Samples.Update(ctx, s)
}

// requestLadder is the order in which a request climbs once all of its
// live samples have tests in the listed statuses.
var requestLadder = []struct {
	statuses []LabResultStatus
	target   LabInternalStatus
}{
	{completedOrLater, InternalResultsUploaded},
	{[]LabResultStatus{ResultReviewed, ResultApproved}, InternalReviewed},
	{[]LabResultStatus{ResultApproved}, InternalCompleted},
}

// reconcileRequest re-derives a request's internal status from the state
// of its samples' lab tests. A request whose samples are all rejected is
// rejected itself. Completing the lab work also completes an approved
// document.
func reconcileRequest(ctx context.Context, repos Repos, requestID uuid.UUID) (*TestRequest, error) {
	tr, err := repos.Requests.GetForUpdate(ctx, requestID)
	if err != nil {
		return nil, err
	}
	samples, err := repos.Samples.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	live := 0
	for _, s := range samples {
		if s.CurrentStatus != SampleRejected {
			live++
		}
	}

	changed := false
	if live == 0 {
		if internalFlow.Allowed(tr.LabInternalStatus, InternalRejected) {
			tr.LabInternalStatus = InternalRejected
			changed = true
		}
	} else {
		for _, step := range requestLadder {
			lacking, err := repos.Samples.CountLacking(ctx, requestID, step.statuses)
			if err != nil {
				return nil, err
			}
			if lacking > 0 {
				break
			}
			if internalFlow.Advance(&tr.LabInternalStatus, step.target) {
				changed = true
			}
		}
		if tr.LabInternalStatus == InternalCompleted && tr.DocumentStatus == DocumentApproved {
			tr.DocumentStatus = DocumentCompleted
			changed = true
		}
	}

	if changed {
		if err := repos.Requests.Update(ctx, tr); err != nil {
			return nil, err
		}
	}
	return tr, nil
}
