package lab

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lims/lims/internal/domain/customer"
	"github.com/lims/lims/internal/domain/numbering"
	"github.com/lims/lims/internal/platform/apperr"
)

// memStore backs every lab repository with maps. Transactions are
// serialized and rolled back by restoring a snapshot.
type memStore struct {
	mu       sync.Mutex
	txMu     sync.Mutex
	seq      int
	requests map[uuid.UUID]TestRequest
	samples  map[uuid.UUID]TestRequestSample
	tests    map[uuid.UUID]LabTest
	results  map[uuid.UUID]LabResult
	failOn   map[string]error
}

type memSnapshot struct {
	requests map[uuid.UUID]TestRequest
	samples  map[uuid.UUID]TestRequestSample
	tests    map[uuid.UUID]LabTest
	results  map[uuid.UUID]LabResult
}

func newMemStore() *memStore {
	return &memStore{
		requests: make(map[uuid.UUID]TestRequest),
		samples:  make(map[uuid.UUID]TestRequestSample),
		tests:    make(map[uuid.UUID]LabTest),
		results:  make(map[uuid.UUID]LabResult),
		failOn:   make(map[string]error),
	}
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type memTxKey struct{}

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snap := memSnapshot{copyMap(s.requests), copyMap(s.samples), copyMap(s.tests), copyMap(s.results)}
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		s.mu.Lock()
		s.requests, s.samples, s.tests, s.results = snap.requests, snap.samples, snap.tests, snap.results
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memStore) fail(op string) error {
	if err, ok := s.failOn[op]; ok {
		return err
	}
	return nil
}

func (s *memStore) stamp() time.Time {
	s.seq++
	return time.Date(2024, 10, 15, 9, 0, 0, 0, time.UTC).Add(time.Duration(s.seq) * time.Second)
}

func (s *memStore) repos() Repos {
	return Repos{
		Requests: &memRequests{s},
		Samples:  &memSamples{s},
		Tests:    &memTests{s},
		Results:  &memResults{s},
	}
}

// =========== requests ===========

type memRequests struct{ s *memStore }

func (r *memRequests) Create(ctx context.Context, tr *TestRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("requests.Create"); err != nil {
		return err
	}
	for _, existing := range r.s.requests {
		if existing.RequestNo == tr.RequestNo {
			return errNumberTaken
		}
	}
	tr.ID = uuid.New()
	tr.CreatedAt = r.s.stamp()
	tr.UpdatedAt = tr.CreatedAt
	c := *tr
	c.Samples = nil
	r.s.requests[tr.ID] = c
	return nil
}

func (r *memRequests) GetByID(ctx context.Context, id uuid.UUID) (*TestRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	tr, ok := r.s.requests[id]
	if !ok {
		return nil, apperr.NotFound("test request")
	}
	return &tr, nil
}

func (r *memRequests) GetForUpdate(ctx context.Context, id uuid.UUID) (*TestRequest, error) {
	return r.GetByID(ctx, id)
}

func (r *memRequests) Update(ctx context.Context, tr *TestRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.requests[tr.ID]; !ok {
		return apperr.NotFound("test request")
	}
	c := *tr
	c.Samples = nil
	r.s.requests[tr.ID] = c
	return nil
}

func (r *memRequests) page(match func(TestRequest) bool, limit, offset int) ([]*TestRequest, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var all []*TestRequest
	for _, tr := range r.s.requests {
		if match(tr) {
			c := tr
			all = append(all, &c)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *memRequests) List(ctx context.Context, f ListFilter, limit, offset int) ([]*TestRequest, int, error) {
	return r.page(func(tr TestRequest) bool {
		switch {
		case f.CustomerID != nil && tr.CustomerID != *f.CustomerID:
			return false
		case f.DocumentStatus != "" && tr.DocumentStatus != f.DocumentStatus:
			return false
		case f.LabInternalStatus != "" && tr.LabInternalStatus != f.LabInternalStatus:
			return false
		case f.CreatedFrom != nil && tr.CreatedAt.Before(*f.CreatedFrom):
			return false
		case f.CreatedTo != nil && !tr.CreatedAt.Before(*f.CreatedTo):
			return false
		}
		return true
	}, limit, offset)
}

func (r *memRequests) Search(ctx context.Context, term string, limit, offset int) ([]*TestRequest, int, error) {
	term = strings.ToLower(term)
	has := func(v string) bool { return strings.Contains(strings.ToLower(v), term) }
	r.s.mu.Lock()
	sampleHit := make(map[uuid.UUID]bool)
	for _, s := range r.s.samples {
		if has(s.CustomerSampleID) {
			sampleHit[s.TestRequestID] = true
		}
	}
	r.s.mu.Unlock()
	return r.page(func(tr TestRequest) bool {
		return has(tr.RequestNo) || has(tr.RequesterName) ||
			(tr.Objective != nil && has(*tr.Objective)) || sampleHit[tr.ID]
	}, limit, offset)
}

func (r *memRequests) CountOpenByCustomer(ctx context.Context, customerID uuid.UUID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, tr := range r.s.requests {
		if tr.CustomerID == customerID && tr.LabInternalStatus.IsOpen() {
			n++
		}
	}
	return n, nil
}

// =========== samples ===========

type memSamples struct{ s *memStore }

func (r *memSamples) Create(ctx context.Context, smp *TestRequestSample) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("samples.Create"); err != nil {
		return err
	}
	smp.ID = uuid.New()
	smp.CreatedAt = r.s.stamp()
	smp.UpdatedAt = smp.CreatedAt
	c := *smp
	c.LabTest = nil
	r.s.samples[smp.ID] = c
	return nil
}

func (r *memSamples) GetByID(ctx context.Context, id uuid.UUID) (*TestRequestSample, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	smp, ok := r.s.samples[id]
	if !ok {
		return nil, apperr.NotFound("sample")
	}
	return &smp, nil
}

func (r *memSamples) GetForUpdate(ctx context.Context, id uuid.UUID) (*TestRequestSample, error) {
	return r.GetByID(ctx, id)
}

func (r *memSamples) Update(ctx context.Context, smp *TestRequestSample) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.samples[smp.ID]; !ok {
		return apperr.NotFound("sample")
	}
	c := *smp
	c.LabTest = nil
	r.s.samples[smp.ID] = c
	return nil
}

func (r *memSamples) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*TestRequestSample, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*TestRequestSample
	for _, smp := range r.s.samples {
		if smp.TestRequestID == requestID {
			c := smp
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memSamples) CountLacking(ctx context.Context, requestID uuid.UUID, statuses []LabResultStatus) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, smp := range r.s.samples {
		if smp.TestRequestID != requestID || smp.CurrentStatus == SampleRejected {
			continue
		}
		found := false
		for _, t := range r.s.tests {
			if t.TestRequestSampleID != smp.ID {
				continue
			}
			for _, st := range statuses {
				if t.LabResultStatus == st {
					found = true
				}
			}
		}
		if !found {
			n++
		}
	}
	return n, nil
}

// =========== lab tests ===========

type memTests struct{ s *memStore }

func (r *memTests) Create(ctx context.Context, t *LabTest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.tests {
		if existing.CaseNo == t.CaseNo {
			return errNumberTaken
		}
		if existing.TestRequestSampleID == t.TestRequestSampleID {
			return errSampleHasTest
		}
	}
	t.ID = uuid.New()
	t.CreatedAt = r.s.stamp()
	t.UpdatedAt = t.CreatedAt
	c := *t
	c.Results = nil
	r.s.tests[t.ID] = c
	return nil
}

func (r *memTests) GetByID(ctx context.Context, id uuid.UUID) (*LabTest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tests[id]
	if !ok {
		return nil, apperr.NotFound("lab test")
	}
	return &t, nil
}

func (r *memTests) GetForUpdate(ctx context.Context, id uuid.UUID) (*LabTest, error) {
	return r.GetByID(ctx, id)
}

func (r *memTests) GetBySample(ctx context.Context, sampleID uuid.UUID) (*LabTest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.tests {
		if t.TestRequestSampleID == sampleID {
			c := t
			return &c, nil
		}
	}
	return nil, apperr.NotFound("lab test")
}

func (r *memTests) Update(ctx context.Context, t *LabTest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tests[t.ID]; !ok {
		return apperr.NotFound("lab test")
	}
	c := *t
	c.Results = nil
	r.s.tests[t.ID] = c
	return nil
}

func (r *memTests) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*LabTest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*LabTest
	for _, t := range r.s.tests {
		if smp, ok := r.s.samples[t.TestRequestSampleID]; ok && smp.TestRequestID == requestID {
			c := t
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memTests) ListByTechnician(ctx context.Context, technicianID uuid.UUID, limit, offset int) ([]*LabTest, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var all []*LabTest
	for _, t := range r.s.tests {
		if t.AssignedLabTechnicianID == technicianID {
			c := t
			all = append(all, &c)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// =========== lab results ===========

type memResults struct{ s *memStore }

func (r *memResults) Create(ctx context.Context, res *LabResult) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	res.ID = uuid.New()
	res.CreatedAt = r.s.stamp()
	res.UpdatedAt = res.CreatedAt
	r.s.results[res.ID] = *res
	return nil
}

func (r *memResults) GetByID(ctx context.Context, id uuid.UUID) (*LabResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	res, ok := r.s.results[id]
	if !ok {
		return nil, apperr.NotFound("lab result")
	}
	return &res, nil
}

func (r *memResults) Update(ctx context.Context, res *LabResult) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.results[res.ID]; !ok {
		return apperr.NotFound("lab result")
	}
	r.s.results[res.ID] = *res
	return nil
}

func (r *memResults) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.results[id]; !ok {
		return apperr.NotFound("lab result")
	}
	delete(r.s.results, id)
	return nil
}

func (r *memResults) ListByTest(ctx context.Context, testID uuid.UUID) ([]*LabResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*LabResult
	for _, res := range r.s.results {
		if res.LabTestID == testID {
			c := res
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memResults) CountByTest(ctx context.Context, testID uuid.UUID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, res := range r.s.results {
		if res.LabTestID == testID {
			n++
		}
	}
	return n, nil
}

// =========== customers ===========

type mockCustomers struct {
	customers map[uuid.UUID]*customer.Customer
}

func (m *mockCustomers) GetCustomer(ctx context.Context, id uuid.UUID) (*customer.Customer, error) {
	c, ok := m.customers[id]
	if !ok {
		return nil, apperr.NotFound("customer")
	}
	return c, nil
}

// =========== environment ===========

var testDay = time.Date(2024, 10, 15, 10, 30, 0, 0, time.UTC)

type labEnv struct {
	store      *memStore
	registry   *Registry
	cases      *CaseEngine
	ledger     *ResultLedger
	customerID uuid.UUID
}

func newLabEnv(t *testing.T) *labEnv {
	t.Helper()
	return newLabEnvWithCounter(t, numbering.NewMemoryCounter())
}

func newLabEnvWithCounter(t *testing.T, counter numbering.Counter) *labEnv {
	t.Helper()
	store := newMemStore()
	repos := store.repos()
	numbers := numbering.NewGenerator(counter)
	numbers.SetClock(func() time.Time { return testDay })

	custID := uuid.New()
	customers := &mockCustomers{customers: map[uuid.UUID]*customer.Customer{
		custID: {ID: custID, Name: "Siam Farm", LegalEntityID: "0105556000001", OperatorIDCard: "1100700000001"},
	}}

	logger := zerolog.Nop()
	cases := NewCaseEngine(repos, store, numbers, logger)
	cases.SetClock(func() time.Time { return testDay })
	return &labEnv{
		store:      store,
		registry:   NewRegistry(repos, store, numbers, customers, logger),
		cases:      cases,
		ledger:     NewResultLedger(repos, store, logger),
		customerID: custID,
	}
}

func strPtr(s string) *string { return &s }

func (e *labEnv) createRequest(t *testing.T, samples ...CreateSampleData) *TestRequest {
	t.Helper()
	if len(samples) == 0 {
		samples = []CreateSampleData{{CustomerSampleID: "S-1", Panel: strPtr("Blood Test"), RequestedQty: 5}}
	}
	tr, err := e.registry.CreateTestRequest(context.Background(), CreateTestRequestData{
		CustomerID:    e.customerID,
		RequesterName: "Dr. Somchai",
		Samples:       samples,
	})
	if err != nil {
		t.Fatalf("create test request: %v", err)
	}
	return tr
}

func (e *labEnv) request(t *testing.T, id uuid.UUID) *TestRequest {
	t.Helper()
	tr, err := e.registry.GetTestRequest(context.Background(), id)
	if err != nil {
		t.Fatalf("get test request: %v", err)
	}
	return tr
}

func (e *labEnv) addResult(t *testing.T, testID uuid.UUID, param string) *LabResult {
	t.Helper()
	recorder := uuid.New()
	res, err := e.ledger.CreateLabResult(context.Background(), CreateLabResultData{
		LabTestID:    testID,
		Parameter:    param,
		Value:        "12.5",
		RecordedByID: &recorder,
	})
	if err != nil {
		t.Fatalf("create lab result: %v", err)
	}
	return res
}

func expectKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if !apperr.Is(err, kind) {
		t.Fatalf("expected %s error, got %v", kind, err)
	}
}

var errDiskFull = errors.New("disk full")
