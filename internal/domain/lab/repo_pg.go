package lab

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/internal/platform/db"
)

// NewReposPG wires every lab repository to the pool.
func NewReposPG(pool *pgxpool.Pool) Repos {
	return Repos{
		Requests: &testRequestRepoPG{pool: pool},
		Samples:  &sampleRepoPG{pool: pool},
		Tests:    &labTestRepoPG{pool: pool},
		Results:  &labResultRepoPG{pool: pool},
	}
}

func statusStrings(statuses []LabResultStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// =========== TestRequest Repository ===========

type testRequestRepoPG struct{ pool *pgxpool.Pool }

func (r *testRequestRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const trCols = `id, request_no, customer_id, requester_name, objective, project_id, notes,
	document_status, lab_internal_status, created_at, updated_at`

func scanTR(row pgx.Row) (*TestRequest, error) {
	var tr TestRequest
	err := row.Scan(&tr.ID, &tr.RequestNo, &tr.CustomerID, &tr.RequesterName, &tr.Objective, &tr.ProjectID, &tr.Notes,
		&tr.DocumentStatus, &tr.LabInternalStatus, &tr.CreatedAt, &tr.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("test request")
	}
	return &tr, err
}

func (r *testRequestRepoPG) Create(ctx context.Context, tr *TestRequest) error {
	tr.ID = uuid.New()
	now := time.Now()
	tr.CreatedAt, tr.UpdatedAt = now, now
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO test_request (id, request_no, customer_id, requester_name, objective, project_id, notes,
			document_status, lab_internal_status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		tr.ID, tr.RequestNo, tr.CustomerID, tr.RequesterName, tr.Objective, tr.ProjectID, tr.Notes,
		tr.DocumentStatus, tr.LabInternalStatus, tr.CreatedAt, tr.UpdatedAt)
	if db.IsUniqueViolation(err, "test_request_request_no_key") {
		return errNumberTaken
	}
	return err
}

func (r *testRequestRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*TestRequest, error) {
	return scanTR(r.conn(ctx).QueryRow(ctx, `SELECT `+trCols+` FROM test_request WHERE id = $1`, id))
}

func (r *testRequestRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*TestRequest, error) {
	return scanTR(r.conn(ctx).QueryRow(ctx, `SELECT `+trCols+` FROM test_request WHERE id = $1 FOR UPDATE`, id))
}

func (r *testRequestRepoPG) Update(ctx context.Context, tr *TestRequest) error {
	tr.UpdatedAt = time.Now()
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE test_request SET requester_name=$2, objective=$3, project_id=$4, notes=$5,
			document_status=$6, lab_internal_status=$7, updated_at=$8
		WHERE id = $1`,
		tr.ID, tr.RequesterName, tr.Objective, tr.ProjectID, tr.Notes,
		tr.DocumentStatus, tr.LabInternalStatus, tr.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("test request")
	}
	return nil
}

func (r *testRequestRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*TestRequest, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.CustomerID != nil {
		where += fmt.Sprintf(` AND customer_id = $%d`, idx)
		args = append(args, *f.CustomerID)
		idx++
	}
	if f.DocumentStatus != "" {
		where += fmt.Sprintf(` AND document_status = $%d`, idx)
		args = append(args, f.DocumentStatus)
		idx++
	}
	if f.LabInternalStatus != "" {
		where += fmt.Sprintf(` AND lab_internal_status = $%d`, idx)
		args = append(args, f.LabInternalStatus)
		idx++
	}
	if f.CreatedFrom != nil {
		where += fmt.Sprintf(` AND created_at >= $%d`, idx)
		args = append(args, *f.CreatedFrom)
		idx++
	}
	if f.CreatedTo != nil {
		where += fmt.Sprintf(` AND created_at < $%d`, idx)
		args = append(args, *f.CreatedTo)
		idx++
	}
	return r.page(ctx, where, args, idx, limit, offset)
}

func (r *testRequestRepoPG) Search(ctx context.Context, term string, limit, offset int) ([]*TestRequest, int, error) {
	where := ` WHERE request_no ILIKE $1 ESCAPE '\' OR requester_name ILIKE $1 ESCAPE '\'
		OR objective ILIKE $1 ESCAPE '\'
		OR EXISTS (SELECT 1 FROM test_request_sample s
			WHERE s.test_request_id = test_request.id AND s.customer_sample_id ILIKE $1 ESCAPE '\')`
	return r.page(ctx, where, []interface{}{db.ContainsPattern(term)}, 2, limit, offset)
}

func (r *testRequestRepoPG) page(ctx context.Context, where string, args []interface{}, idx, limit, offset int) ([]*TestRequest, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM test_request`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + trCols + ` FROM test_request` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*TestRequest
	for rows.Next() {
		tr, err := scanTR(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, tr)
	}
	return items, total, rows.Err()
}

func (r *testRequestRepoPG) CountOpenByCustomer(ctx context.Context, customerID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM test_request
		WHERE customer_id = $1 AND lab_internal_status NOT IN ($2, $3)`,
		customerID, InternalCompleted, InternalRejected).Scan(&n)
	return n, err
}

// =========== Sample Repository ===========

type sampleRepoPG struct{ pool *pgxpool.Pool }

func (r *sampleRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const sampleCols = `id, test_request_id, customer_sample_id, sent_sample_date, animal_type, sample_specimen,
	panel, method, requested_qty, received_qty, unit, current_status, storage_location, notes,
	created_at, updated_at`

func scanSample(row pgx.Row) (*TestRequestSample, error) {
	var s TestRequestSample
	err := row.Scan(&s.ID, &s.TestRequestID, &s.CustomerSampleID, &s.SentSampleDate, &s.AnimalType, &s.SampleSpecimen,
		&s.Panel, &s.Method, &s.RequestedQty, &s.ReceivedQty, &s.Unit, &s.CurrentStatus, &s.StorageLocation, &s.Notes,
		&s.CreatedAt, &s.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("sample")
	}
	return &s, err
}

func (r *sampleRepoPG) Create(ctx context.Context, s *TestRequestSample) error {
	s.ID = uuid.New()
	now := time.Now()
	s.CreatedAt, s.UpdatedAt = now, now
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO test_request_sample (id, test_request_id, customer_sample_id, sent_sample_date, animal_type,
			sample_specimen, panel, method, requested_qty, received_qty, unit, current_status, storage_location,
			notes, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		s.ID, s.TestRequestID, s.CustomerSampleID, s.SentSampleDate, s.AnimalType,
		s.SampleSpecimen, s.Panel, s.Method, s.RequestedQty, s.ReceivedQty, s.Unit, s.CurrentStatus, s.StorageLocation,
		s.Notes, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r *sampleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*TestRequestSample, error) {
	return scanSample(r.conn(ctx).QueryRow(ctx, `SELECT `+sampleCols+` FROM test_request_sample WHERE id = $1`, id))
}

func (r *sampleRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*TestRequestSample, error) {
	return scanSample(r.conn(ctx).QueryRow(ctx, `SELECT `+sampleCols+` FROM test_request_sample WHERE id = $1 FOR UPDATE`, id))
}

func (r *sampleRepoPG) Update(ctx context.Context, s *TestRequestSample) error {
	s.UpdatedAt = time.Now()
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE test_request_sample SET received_qty=$2, current_status=$3, storage_location=$4, notes=$5, updated_at=$6
		WHERE id = $1`,
		s.ID, s.ReceivedQty, s.CurrentStatus, s.StorageLocation, s.Notes, s.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("sample")
	}
	return nil
}

func (r *sampleRepoPG) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*TestRequestSample, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+sampleCols+` FROM test_request_sample
		WHERE test_request_id = $1 ORDER BY created_at, id`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*TestRequestSample
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *sampleRepoPG) CountLacking(ctx context.Context, requestID uuid.UUID, statuses []LabResultStatus) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM test_request_sample s
		WHERE s.test_request_id = $1 AND s.current_status <> $2
		AND NOT EXISTS (
			SELECT 1 FROM lab_test t
			WHERE t.test_request_sample_id = s.id AND t.lab_result_status = ANY($3)
		)`, requestID, SampleRejected, statusStrings(statuses)).Scan(&n)
	return n, err
}

// =========== LabTest Repository ===========

type labTestRepoPG struct{ pool *pgxpool.Pool }

func (r *labTestRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const ltCols = `id, test_request_sample_id, case_no, case_date, assigned_lab_technician_id, test_panel, test_method,
	lab_result_status, notes, reviewed_by_id, reviewed_at, approved_by_id, approved_at, rejection_reason,
	created_at, updated_at`

const ltColsJoined = `t.id, t.test_request_sample_id, t.case_no, t.case_date, t.assigned_lab_technician_id,
	t.test_panel, t.test_method, t.lab_result_status, t.notes, t.reviewed_by_id, t.reviewed_at, t.approved_by_id,
	t.approved_at, t.rejection_reason, t.created_at, t.updated_at`

func scanLT(row pgx.Row) (*LabTest, error) {
	var t LabTest
	err := row.Scan(&t.ID, &t.TestRequestSampleID, &t.CaseNo, &t.CaseDate, &t.AssignedLabTechnicianID, &t.TestPanel, &t.TestMethod,
		&t.LabResultStatus, &t.Notes, &t.ReviewedByID, &t.ReviewedAt, &t.ApprovedByID, &t.ApprovedAt, &t.RejectionReason,
		&t.CreatedAt, &t.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("lab test")
	}
	return &t, err
}

func (r *labTestRepoPG) Create(ctx context.Context, t *LabTest) error {
	t.ID = uuid.New()
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO lab_test (id, test_request_sample_id, case_no, case_date, assigned_lab_technician_id,
			test_panel, test_method, lab_result_status, notes, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		t.ID, t.TestRequestSampleID, t.CaseNo, t.CaseDate, t.AssignedLabTechnicianID,
		t.TestPanel, t.TestMethod, t.LabResultStatus, t.Notes, t.CreatedAt, t.UpdatedAt)
	switch {
	case db.IsUniqueViolation(err, "lab_test_case_no_key"):
		return errNumberTaken
	case db.IsUniqueViolation(err, "lab_test_test_request_sample_id_key"):
		return errSampleHasTest
	}
	return err
}

func (r *labTestRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*LabTest, error) {
	return scanLT(r.conn(ctx).QueryRow(ctx, `SELECT `+ltCols+` FROM lab_test WHERE id = $1`, id))
}

func (r *labTestRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*LabTest, error) {
	return scanLT(r.conn(ctx).QueryRow(ctx, `SELECT `+ltCols+` FROM lab_test WHERE id = $1 FOR UPDATE`, id))
}

func (r *labTestRepoPG) GetBySample(ctx context.Context, sampleID uuid.UUID) (*LabTest, error) {
	return scanLT(r.conn(ctx).QueryRow(ctx, `SELECT `+ltCols+` FROM lab_test WHERE test_request_sample_id = $1`, sampleID))
}

func (r *labTestRepoPG) Update(ctx context.Context, t *LabTest) error {
	t.UpdatedAt = time.Now()
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE lab_test SET assigned_lab_technician_id=$2, test_panel=$3, test_method=$4, lab_result_status=$5,
			notes=$6, reviewed_by_id=$7, reviewed_at=$8, approved_by_id=$9, approved_at=$10, rejection_reason=$11,
			updated_at=$12
		WHERE id = $1`,
		t.ID, t.AssignedLabTechnicianID, t.TestPanel, t.TestMethod, t.LabResultStatus,
		t.Notes, t.ReviewedByID, t.ReviewedAt, t.ApprovedByID, t.ApprovedAt, t.RejectionReason,
		t.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("lab test")
	}
	return nil
}

func (r *labTestRepoPG) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*LabTest, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+ltColsJoined+` FROM lab_test t
		JOIN test_request_sample s ON s.id = t.test_request_sample_id
		WHERE s.test_request_id = $1 ORDER BY t.created_at`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLT(rows)
}

func (r *labTestRepoPG) ListByTechnician(ctx context.Context, technicianID uuid.UUID, limit, offset int) ([]*LabTest, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM lab_test WHERE assigned_lab_technician_id = $1`, technicianID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+ltCols+` FROM lab_test
		WHERE assigned_lab_technician_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, technicianID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := collectLT(rows)
	return items, total, err
}

func collectLT(rows pgx.Rows) ([]*LabTest, error) {
	var items []*LabTest
	for rows.Next() {
		t, err := scanLT(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

// =========== LabResult Repository ===========

type labResultRepoPG struct{ pool *pgxpool.Pool }

func (r *labResultRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const lrCols = `id, lab_test_id, parameter, value, unit, reference_range, is_abnormal, notes, recorded_by_id,
	created_at, updated_at`

func scanLR(row pgx.Row) (*LabResult, error) {
	var lr LabResult
	err := row.Scan(&lr.ID, &lr.LabTestID, &lr.Parameter, &lr.Value, &lr.Unit, &lr.ReferenceRange, &lr.IsAbnormal,
		&lr.Notes, &lr.RecordedByID, &lr.CreatedAt, &lr.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("lab result")
	}
	return &lr, err
}

func (r *labResultRepoPG) Create(ctx context.Context, lr *LabResult) error {
	lr.ID = uuid.New()
	now := time.Now()
	lr.CreatedAt, lr.UpdatedAt = now, now
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO lab_result (id, lab_test_id, parameter, value, unit, reference_range, is_abnormal, notes,
			recorded_by_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		lr.ID, lr.LabTestID, lr.Parameter, lr.Value, lr.Unit, lr.ReferenceRange, lr.IsAbnormal, lr.Notes,
		lr.RecordedByID, lr.CreatedAt, lr.UpdatedAt)
	return err
}

func (r *labResultRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*LabResult, error) {
	return scanLR(r.conn(ctx).QueryRow(ctx, `SELECT `+lrCols+` FROM lab_result WHERE id = $1`, id))
}

func (r *labResultRepoPG) Update(ctx context.Context, lr *LabResult) error {
	lr.UpdatedAt = time.Now()
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE lab_result SET parameter=$2, value=$3, unit=$4, reference_range=$5, is_abnormal=$6, notes=$7, updated_at=$8
		WHERE id = $1`,
		lr.ID, lr.Parameter, lr.Value, lr.Unit, lr.ReferenceRange, lr.IsAbnormal, lr.Notes, lr.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("lab result")
	}
	return nil
}

func (r *labResultRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM lab_result WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("lab result")
	}
	return nil
}

func (r *labResultRepoPG) ListByTest(ctx context.Context, testID uuid.UUID) ([]*LabResult, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+lrCols+` FROM lab_result WHERE lab_test_id = $1 ORDER BY created_at, id`, testID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*LabResult
	for rows.Next() {
		lr, err := scanLR(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, lr)
	}
	return items, rows.Err()
}

func (r *labResultRepoPG) CountByTest(ctx context.Context, testID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM lab_result WHERE lab_test_id = $1`, testID).Scan(&n)
	return n, err
}
