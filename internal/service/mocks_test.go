package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/wrenchly/wrenchly/internal/domain"
	"github.com/wrenchly/wrenchly/internal/postgres"
)

// ============================================================================
// Mock Implementations
// ============================================================================

func testUUID(b byte) pgtype.UUID {
	var id pgtype.UUID
	id.Valid = true
	id.Bytes[15] = b
	return id
}

// mockAccountStore implements AccountStore for testing. Accounts are held in
// memory and mutated the way the real conditional updates would mutate them.
type mockAccountStore struct {
	mu       sync.Mutex
	accounts map[[16]byte]*domain.Account

	activateCalls int
	pastDueCalls  int
	cancelCalls   int
	expireCalls   int
	promoteCalls  int

	// promoteResult overrides the guarded promotion outcome when set.
	promoteResult *bool

	err error
}

func newMockAccountStore(accounts ...*domain.Account) *mockAccountStore {
	s := &mockAccountStore{accounts: make(map[[16]byte]*domain.Account)}
	for _, a := range accounts {
		s.accounts[a.ID.Bytes] = a
	}
	return s
}

func (s *mockAccountStore) GetAccount(ctx context.Context, id pgtype.UUID) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	a, ok := s.accounts[id.Bytes]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return a, nil
}

func (s *mockAccountStore) GetAccountBySubscriptionRef(ctx context.Context, ref string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	for _, a := range s.accounts {
		if a.StripeSubscriptionID.Valid && a.StripeSubscriptionID.String == ref {
			return a, nil
		}
	}
	return nil, domain.ErrAccountNotFound
}

func (s *mockAccountStore) GetAccountByCustomerRef(ctx context.Context, ref string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	for _, a := range s.accounts {
		if a.StripeCustomerID.Valid && a.StripeCustomerID.String == ref {
			return a, nil
		}
	}
	return nil, domain.ErrAccountNotFound
}

func (s *mockAccountStore) ActivateBilling(ctx context.Context, id pgtype.UUID, subscriptionRef, customerRef string, periodEnd time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activateCalls++
	if s.err != nil {
		return s.err
	}
	a, ok := s.accounts[id.Bytes]
	if !ok {
		return domain.ErrAccountNotFound
	}
	a.BillingStatus = domain.BillingStatusActive
	a.StripeSubscriptionID = pgtype.Text{String: subscriptionRef, Valid: true}
	if customerRef != "" {
		a.StripeCustomerID = pgtype.Text{String: customerRef, Valid: true}
	}
	a.CurrentPeriodEnd = pgtype.Timestamptz{Time: periodEnd, Valid: true}
	a.TrialEndsAt = pgtype.Timestamptz{}
	a.GraceEndsAt = pgtype.Timestamptz{}
	return nil
}

func (s *mockAccountStore) MarkPastDue(ctx context.Context, id pgtype.UUID, graceEndsAt time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pastDueCalls++
	if s.err != nil {
		return time.Time{}, s.err
	}
	a, ok := s.accounts[id.Bytes]
	if !ok {
		return time.Time{}, domain.ErrAccountNotFound
	}
	a.BillingStatus = domain.BillingStatusPastDue
	// GREATEST(existing, proposed)
	if !a.GraceEndsAt.Valid || graceEndsAt.After(a.GraceEndsAt.Time) {
		a.GraceEndsAt = pgtype.Timestamptz{Time: graceEndsAt, Valid: true}
	}
	return a.GraceEndsAt.Time, nil
}

func (s *mockAccountStore) CancelBilling(ctx context.Context, id pgtype.UUID, finalPeriodEnd time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelCalls++
	if s.err != nil {
		return s.err
	}
	a, ok := s.accounts[id.Bytes]
	if !ok {
		return domain.ErrAccountNotFound
	}
	a.BillingStatus = domain.BillingStatusCanceled
	if !finalPeriodEnd.IsZero() {
		a.CurrentPeriodEnd = pgtype.Timestamptz{Time: finalPeriodEnd, Valid: true}
	}
	a.GraceEndsAt = pgtype.Timestamptz{}
	return nil
}

func (s *mockAccountStore) ListGraceExpired(ctx context.Context, now time.Time) ([]domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []domain.Account
	for _, a := range s.accounts {
		if a.BillingStatus == domain.BillingStatusPastDue && a.GraceEndsAt.Valid && a.GraceEndsAt.Time.Before(now) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *mockAccountStore) IncrementBetaWorkOrders(ctx context.Context, id pgtype.UUID) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	a, ok := s.accounts[id.Bytes]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	if a.BetaCandidate {
		a.BetaWorkOrders++
	}
	return a, nil
}

func (s *mockAccountStore) IncrementBetaInvoices(ctx context.Context, id pgtype.UUID) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	a, ok := s.accounts[id.Bytes]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	if a.BetaCandidate {
		a.BetaInvoices++
	}
	return a, nil
}

func (s *mockAccountStore) ExpireBetaCandidacy(ctx context.Context, id pgtype.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireCalls++
	if s.err != nil {
		return s.err
	}
	a, ok := s.accounts[id.Bytes]
	if !ok {
		return domain.ErrAccountNotFound
	}
	if a.BetaCandidate && !a.IsBetaTester {
		a.BetaCandidate = false
	}
	return nil
}

func (s *mockAccountStore) PromoteBetaTester(ctx context.Context, id pgtype.UUID, minWorkOrders, minInvoices int32, candidateAfter time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promoteCalls++
	if s.err != nil {
		return false, s.err
	}
	if s.promoteResult != nil {
		return *s.promoteResult, nil
	}
	a, ok := s.accounts[id.Bytes]
	if !ok {
		return false, nil
	}
	if !a.BetaCandidate || a.IsBetaTester || !a.BetaCandidateSince.Valid ||
		a.BetaCandidateSince.Time.Before(candidateAfter) ||
		a.BetaWorkOrders < minWorkOrders || a.BetaInvoices < minInvoices {
		return false, nil
	}
	a.IsBetaTester = true
	a.BetaCandidate = false
	return true, nil
}

func (s *mockAccountStore) CreateWorkOrder(ctx context.Context, tenantID pgtype.UUID, description string) (pgtype.UUID, error) {
	if s.err != nil {
		return pgtype.UUID{}, s.err
	}
	return testUUID(0xAA), nil
}

func (s *mockAccountStore) CreateInvoice(ctx context.Context, tenantID pgtype.UUID, totalCents int64) (pgtype.UUID, error) {
	if s.err != nil {
		return pgtype.UUID{}, s.err
	}
	return testUUID(0xBB), nil
}

var _ AccountStore = (*mockAccountStore)(nil)

// mockSlotStore implements SlotStore as an in-memory counter.
type mockSlotStore struct {
	mu       sync.Mutex
	used     int32
	claimErr error

	// onClaim, when set, runs during TryClaim to simulate state changing
	// between the slot claim and the promotion update.
	onClaim func()
}

func (s *mockSlotStore) TryClaim(ctx context.Context, cap int32) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return false, s.claimErr
	}
	if s.onClaim != nil {
		s.onClaim()
	}
	if s.used >= cap {
		return false, nil
	}
	s.used++
	return true, nil
}

func (s *mockSlotStore) Release(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.used > 0 {
		s.used--
	}
	return nil
}

func (s *mockSlotStore) InUse(ctx context.Context) (int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used, nil
}

var _ SlotStore = (*mockSlotStore)(nil)

// mockQueuer records enqueued jobs instead of writing them to the database.
type mockQueuer struct {
	mu   sync.Mutex
	jobs []postgres.EnqueueJobParams
	err  error
}

func (q *mockQueuer) EnqueueJob(ctx context.Context, params postgres.EnqueueJobParams) (pgtype.UUID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return pgtype.UUID{}, q.err
	}
	q.jobs = append(q.jobs, params)
	return testUUID(0xEE), nil
}

func (q *mockQueuer) jobTypes() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	types := make([]string, len(q.jobs))
	for i, j := range q.jobs {
		types[i] = j.JobType
	}
	return types
}

func (q *mockQueuer) payloadFor(jobType string) (map[string]any, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.jobs {
		if j.JobType == jobType {
			var m map[string]any
			if err := json.Unmarshal(j.Payload, &m); err != nil {
				return nil, false
			}
			return m, true
		}
	}
	return nil, false
}
