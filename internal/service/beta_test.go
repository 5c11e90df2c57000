package service

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrenchly/wrenchly/internal/domain"
	"github.com/wrenchly/wrenchly/internal/jobs"
)

func newBeta(store *mockAccountStore, slots *mockSlotStore, queue *mockQueuer, maxSlots int32) BetaService {
	return NewBetaService(store, slots, queue, BetaConfig{MaxSlots: maxSlots}, nil)
}

func candidateAccount(b byte, workOrders, invoices int32) *domain.Account {
	return &domain.Account{
		ID:                 testUUID(b),
		Email:              "shop@test.test",
		BetaCandidate:      true,
		BetaCandidateSince: pgtype.Timestamptz{Time: time.Now().Add(-24 * time.Hour), Valid: true},
		BetaWorkOrders:     workOrders,
		BetaInvoices:       invoices,
	}
}

func TestTrackWorkOrderCreated_PromotesAtThreshold(t *testing.T) {
	ctx := context.Background()
	// Third work order arrives with invoices already at threshold.
	account := candidateAccount(1, 2, 3)
	store := newMockAccountStore(account)
	slots := &mockSlotStore{}
	queue := &mockQueuer{}

	svc := newBeta(store, slots, queue, 50)
	svc.TrackWorkOrderCreated(ctx, account.ID)

	a, err := store.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, a.IsBetaTester)
	assert.False(t, a.BetaCandidate)

	used, _ := slots.InUse(ctx)
	assert.Equal(t, int32(1), used)
	assert.Contains(t, queue.jobTypes(), jobs.JobTypeBetaPromoted)
}

func TestTrackInvoiceCreated_BelowThresholdDoesNothing(t *testing.T) {
	ctx := context.Background()
	account := candidateAccount(2, 3, 1)
	store := newMockAccountStore(account)
	slots := &mockSlotStore{}

	svc := newBeta(store, slots, &mockQueuer{}, 50)
	svc.TrackInvoiceCreated(ctx, account.ID)

	a, _ := store.GetAccount(ctx, account.ID)
	assert.False(t, a.IsBetaTester)
	assert.Equal(t, int32(2), a.BetaInvoices)

	used, _ := slots.InUse(ctx)
	assert.Zero(t, used)
}

func TestEvaluate_ExpiredCandidacyWindow(t *testing.T) {
	ctx := context.Background()
	account := candidateAccount(3, 5, 5)
	account.BetaCandidateSince = pgtype.Timestamptz{
		Time: time.Now().Add(-8 * 24 * time.Hour), Valid: true,
	}
	store := newMockAccountStore(account)
	slots := &mockSlotStore{}

	svc := newBeta(store, slots, &mockQueuer{}, 50)
	svc.TrackWorkOrderCreated(ctx, account.ID)

	a, _ := store.GetAccount(ctx, account.ID)
	assert.False(t, a.IsBetaTester, "expired candidacy must not promote, even above thresholds")
	assert.False(t, a.BetaCandidate)
	assert.Equal(t, 1, store.expireCalls)

	used, _ := slots.InUse(ctx)
	assert.Zero(t, used, "no slot may be claimed for an expired candidacy")
}

func TestEvaluate_ProgramFull(t *testing.T) {
	ctx := context.Background()
	account := candidateAccount(4, 3, 3)
	store := newMockAccountStore(account)
	slots := &mockSlotStore{used: 2}

	svc := newBeta(store, slots, &mockQueuer{}, 2)
	svc.TrackWorkOrderCreated(ctx, account.ID)

	a, _ := store.GetAccount(ctx, account.ID)
	assert.False(t, a.IsBetaTester)
	assert.Zero(t, store.promoteCalls, "promotion must not be attempted without a slot")

	used, _ := slots.InUse(ctx)
	assert.Equal(t, int32(2), used)
}

func TestEvaluate_LostPromotionRaceReleasesSlot(t *testing.T) {
	ctx := context.Background()
	account := candidateAccount(5, 3, 3)
	store := newMockAccountStore(account)
	notPromoted := false
	store.promoteResult = &notPromoted
	slots := &mockSlotStore{}
	queue := &mockQueuer{}

	svc := newBeta(store, slots, queue, 50)
	svc.TrackWorkOrderCreated(ctx, account.ID)

	used, _ := slots.InUse(ctx)
	assert.Zero(t, used, "slot claimed for a lost race must be returned")
	assert.NotContains(t, queue.jobTypes(), jobs.JobTypeBetaPromoted)
}

func TestEvaluate_CandidacyLapsesBeforePromotionCommits(t *testing.T) {
	ctx := context.Background()
	// Candidacy is inside the window when evaluation starts but lapses
	// before the guarded update runs. The window bound in the update filter
	// must refuse the promotion and the claimed slot must come back.
	account := candidateAccount(9, 2, 3)
	account.BetaCandidateSince = pgtype.Timestamptz{
		Time: time.Now().Add(-BetaCandidacyWindow + time.Minute), Valid: true,
	}
	store := newMockAccountStore(account)
	slots := &mockSlotStore{}
	slots.onClaim = func() {
		account.BetaCandidateSince = pgtype.Timestamptz{
			Time: time.Now().Add(-BetaCandidacyWindow - time.Minute), Valid: true,
		}
	}
	queue := &mockQueuer{}

	svc := newBeta(store, slots, queue, 50)
	svc.TrackWorkOrderCreated(ctx, account.ID)

	a, _ := store.GetAccount(ctx, account.ID)
	assert.False(t, a.IsBetaTester, "lapsed candidacy must not promote, even after a slot was claimed")
	assert.Equal(t, 1, store.promoteCalls)

	used, _ := slots.InUse(ctx)
	assert.Zero(t, used, "slot claimed for a refused promotion must be returned")
	assert.NotContains(t, queue.jobTypes(), jobs.JobTypeBetaPromoted)
}

func TestTrackWorkOrderCreated_NonCandidateIgnored(t *testing.T) {
	ctx := context.Background()
	account := &domain.Account{ID: testUUID(6), BetaWorkOrders: 10, BetaInvoices: 10}
	store := newMockAccountStore(account)
	slots := &mockSlotStore{}

	svc := newBeta(store, slots, &mockQueuer{}, 50)
	svc.TrackWorkOrderCreated(ctx, account.ID)

	a, _ := store.GetAccount(ctx, account.ID)
	assert.False(t, a.IsBetaTester)
	assert.Equal(t, int32(10), a.BetaWorkOrders, "non-candidate counters must not move")
}

func TestTrackWorkOrderCreated_BetaTesterIgnored(t *testing.T) {
	ctx := context.Background()
	account := candidateAccount(7, 5, 5)
	account.IsBetaTester = true
	store := newMockAccountStore(account)
	slots := &mockSlotStore{used: 1}

	svc := newBeta(store, slots, &mockQueuer{}, 50)
	svc.TrackWorkOrderCreated(ctx, account.ID)

	used, _ := slots.InUse(ctx)
	assert.Equal(t, int32(1), used)
	assert.Zero(t, store.promoteCalls)
}

func TestSlotsInUse(t *testing.T) {
	slots := &mockSlotStore{used: 7}
	svc := newBeta(newMockAccountStore(), slots, &mockQueuer{}, 50)

	used, err := svc.SlotsInUse(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(7), used)
}
