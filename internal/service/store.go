package service

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/wrenchly/wrenchly/internal/domain"
)

// AccountStore persists tenant accounts and their lifecycle fields.
// Implemented by postgres.AccountStore.
type AccountStore interface {
	GetAccount(ctx context.Context, id pgtype.UUID) (*domain.Account, error)
	GetAccountBySubscriptionRef(ctx context.Context, ref string) (*domain.Account, error)
	GetAccountByCustomerRef(ctx context.Context, ref string) (*domain.Account, error)

	// ActivateBilling sets the account active, records the provider refs
	// and paid-through date, and clears trial and grace deadlines.
	ActivateBilling(ctx context.Context, id pgtype.UUID, subscriptionRef, customerRef string, periodEnd time.Time) error

	// MarkPastDue sets the account past_due and extends the grace deadline
	// monotonically. Returns the effective deadline after the update.
	MarkPastDue(ctx context.Context, id pgtype.UUID, graceEndsAt time.Time) (time.Time, error)

	// CancelBilling sets the account canceled and clears the grace deadline.
	CancelBilling(ctx context.Context, id pgtype.UUID, finalPeriodEnd time.Time) error

	ListGraceExpired(ctx context.Context, now time.Time) ([]domain.Account, error)

	IncrementBetaWorkOrders(ctx context.Context, id pgtype.UUID) (*domain.Account, error)
	IncrementBetaInvoices(ctx context.Context, id pgtype.UUID) (*domain.Account, error)
	ExpireBetaCandidacy(ctx context.Context, id pgtype.UUID) error

	// PromoteBetaTester applies the guarded promotion update. candidateAfter
	// is the earliest candidacy start still inside the window. Returns false
	// when the eligibility predicate no longer held at commit time.
	PromoteBetaTester(ctx context.Context, id pgtype.UUID, minWorkOrders, minInvoices int32, candidateAfter time.Time) (bool, error)

	CreateWorkOrder(ctx context.Context, tenantID pgtype.UUID, description string) (pgtype.UUID, error)
	CreateInvoice(ctx context.Context, tenantID pgtype.UUID, totalCents int64) (pgtype.UUID, error)
}

// LedgerStore persists the webhook dedup ledger.
// Implemented by postgres.LedgerStore.
type LedgerStore interface {
	// InsertEvent records a delivery; returns domain.ErrDuplicateEvent when
	// the provider event id was seen before.
	InsertEvent(ctx context.Context, eventID, eventType string) error
	MarkProcessed(ctx context.Context, eventID string) error
}

// SlotStore manages the shared beta slot counter.
// Implemented by postgres.BetaSlotStore.
type SlotStore interface {
	TryClaim(ctx context.Context, cap int32) (bool, error)
	Release(ctx context.Context) error
	InUse(ctx context.Context) (int32, error)
}
