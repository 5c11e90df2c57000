package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wrenchly/wrenchly/internal/domain"
)

// accountColumns is the select list shared by all account queries.
const accountColumns = `
	id, name, slug, email,
	billing_status, current_period_end, grace_ends_at, trial_ends_at,
	billing_exempt, billing_exempt_reason,
	stripe_customer_id, stripe_subscription_id,
	beta_candidate, beta_candidate_since, beta_work_orders, beta_invoices,
	is_beta_tester, beta_activated_at,
	created_at, updated_at`

// AccountStore persists tenant accounts using PostgreSQL.
//
// All lifecycle mutations are expressed as single-row conditional updates so
// they stay safe under concurrent webhook handlers across server instances;
// no method does a read-then-write without re-asserting its precondition in
// the update filter.
type AccountStore struct {
	db *pgxpool.Pool
}

// NewAccountStore creates a new AccountStore.
func NewAccountStore(db *pgxpool.Pool) *AccountStore {
	return &AccountStore{db: db}
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	var status pgtype.Text

	err := row.Scan(
		&a.ID, &a.Name, &a.Slug, &a.Email,
		&status, &a.CurrentPeriodEnd, &a.GraceEndsAt, &a.TrialEndsAt,
		&a.BillingExempt, &a.BillingExemptReason,
		&a.StripeCustomerID, &a.StripeSubscriptionID,
		&a.BetaCandidate, &a.BetaCandidateSince, &a.BetaWorkOrders, &a.BetaInvoices,
		&a.IsBetaTester, &a.BetaActivatedAt,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if status.Valid {
		a.BillingStatus = domain.BillingStatus(status.String)
	}

	return &a, nil
}

// GetAccount retrieves an account by tenant id.
func (s *AccountStore) GetAccount(ctx context.Context, id pgtype.UUID) (*domain.Account, error) {
	row := s.db.QueryRow(ctx, `SELECT`+accountColumns+` FROM accounts WHERE id = $1`, id)

	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

// GetAccountBySubscriptionRef retrieves the account carrying the given
// provider subscription reference.
func (s *AccountStore) GetAccountBySubscriptionRef(ctx context.Context, ref string) (*domain.Account, error) {
	row := s.db.QueryRow(ctx, `SELECT`+accountColumns+` FROM accounts WHERE stripe_subscription_id = $1`, ref)

	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account by subscription: %w", err)
	}
	return a, nil
}

// GetAccountByCustomerRef retrieves the account carrying the given provider
// customer reference.
func (s *AccountStore) GetAccountByCustomerRef(ctx context.Context, ref string) (*domain.Account, error) {
	row := s.db.QueryRow(ctx, `SELECT`+accountColumns+` FROM accounts WHERE stripe_customer_id = $1`, ref)

	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account by customer: %w", err)
	}
	return a, nil
}

// CreateAccountParams contains parameters for creating a tenant account.
type CreateAccountParams struct {
	Name          string
	Slug          string
	Email         string
	TrialEndsAt   time.Time // zero for no trial
	BetaCandidate bool
}

// CreateAccount creates a tenant account. New shops start with no billing
// status; access comes from the trial window until first checkout.
func (s *AccountStore) CreateAccount(ctx context.Context, params CreateAccountParams) (*domain.Account, error) {
	var trialEnd pgtype.Timestamptz
	if !params.TrialEndsAt.IsZero() {
		trialEnd = timestamptz(params.TrialEndsAt)
	}

	var candidateSince pgtype.Timestamptz
	if params.BetaCandidate {
		candidateSince = timestamptz(time.Now())
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO accounts (name, slug, email, trial_ends_at, beta_candidate, beta_candidate_since)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING`+accountColumns,
		params.Name, params.Slug, params.Email, trialEnd, params.BetaCandidate, candidateSince,
	)

	a, err := scanAccount(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.Conflict("account.create", "account slug or email already exists")
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return a, nil
}

// ActivateBilling marks an account active and records the authoritative
// provider state. Activation always supersedes trial and grace, so both
// deadlines are cleared in the same atomic update.
func (s *AccountStore) ActivateBilling(ctx context.Context, id pgtype.UUID, subscriptionRef, customerRef string, periodEnd time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE accounts
		SET billing_status = 'active',
		    stripe_subscription_id = $2,
		    stripe_customer_id = COALESCE($3, stripe_customer_id),
		    current_period_end = $4,
		    trial_ends_at = NULL,
		    grace_ends_at = NULL,
		    updated_at = now()
		WHERE id = $1`,
		id, subscriptionRef, textOrNull(customerRef), timestamptz(periodEnd),
	)
	if err != nil {
		return fmt.Errorf("failed to activate billing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// MarkPastDue marks an account past_due and extends its grace deadline.
//
// GREATEST makes the deadline monotonic: an out-of-order or duplicate
// failure notification can never move an existing grace deadline backward.
// Returns the effective deadline after the update.
func (s *AccountStore) MarkPastDue(ctx context.Context, id pgtype.UUID, graceEndsAt time.Time) (time.Time, error) {
	var effective pgtype.Timestamptz

	err := s.db.QueryRow(ctx, `
		UPDATE accounts
		SET billing_status = 'past_due',
		    grace_ends_at = GREATEST(COALESCE(grace_ends_at, $2), $2),
		    updated_at = now()
		WHERE id = $1
		RETURNING grace_ends_at`,
		id, timestamptz(graceEndsAt),
	).Scan(&effective)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, domain.ErrAccountNotFound
		}
		return time.Time{}, fmt.Errorf("failed to mark past due: %w", err)
	}

	return effective.Time, nil
}

// CancelBilling marks an account canceled. The final period end is
// snapshotted for audit and the subscription reference deliberately
// retained for traceability.
func (s *AccountStore) CancelBilling(ctx context.Context, id pgtype.UUID, finalPeriodEnd time.Time) error {
	var periodEnd pgtype.Timestamptz
	if !finalPeriodEnd.IsZero() {
		periodEnd = timestamptz(finalPeriodEnd)
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE accounts
		SET billing_status = 'canceled',
		    current_period_end = COALESCE($2, current_period_end),
		    grace_ends_at = NULL,
		    updated_at = now()
		WHERE id = $1`,
		id, periodEnd,
	)
	if err != nil {
		return fmt.Errorf("failed to cancel billing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// ListGraceExpired returns accounts still past_due whose grace deadline has
// lapsed, for the notification sweep.
func (s *AccountStore) ListGraceExpired(ctx context.Context, now time.Time) ([]domain.Account, error) {
	rows, err := s.db.Query(ctx, `
		SELECT`+accountColumns+`
		FROM accounts
		WHERE billing_status = 'past_due' AND grace_ends_at IS NOT NULL AND grace_ends_at < $1`,
		timestamptz(now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list grace-expired accounts: %w", err)
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		out = append(out, *a)
	}

	return out, rows.Err()
}

// IncrementBetaWorkOrders bumps the work-order activation counter for a
// candidate and returns the fresh account row. Counters only move for
// accounts still in candidacy.
func (s *AccountStore) IncrementBetaWorkOrders(ctx context.Context, id pgtype.UUID) (*domain.Account, error) {
	return s.incrementBetaCounter(ctx, id, "beta_work_orders")
}

// IncrementBetaInvoices bumps the invoice activation counter for a
// candidate and returns the fresh account row.
func (s *AccountStore) IncrementBetaInvoices(ctx context.Context, id pgtype.UUID) (*domain.Account, error) {
	return s.incrementBetaCounter(ctx, id, "beta_invoices")
}

func (s *AccountStore) incrementBetaCounter(ctx context.Context, id pgtype.UUID, column string) (*domain.Account, error) {
	// column is one of two compile-time constants, never user input.
	row := s.db.QueryRow(ctx, `
		UPDATE accounts
		SET `+column+` = `+column+` + 1,
		    updated_at = now()
		WHERE id = $1 AND beta_candidate
		RETURNING`+accountColumns,
		id,
	)

	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Not a candidate (or no such account); fall back to a plain read.
			return s.GetAccount(ctx, id)
		}
		return nil, fmt.Errorf("failed to increment %s: %w", column, err)
	}
	return a, nil
}

// ExpireBetaCandidacy terminates a candidacy that outlived its window.
// Idempotent: expiring an already-terminated candidacy matches zero rows.
func (s *AccountStore) ExpireBetaCandidacy(ctx context.Context, id pgtype.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE accounts
		SET beta_candidate = false,
		    updated_at = now()
		WHERE id = $1 AND beta_candidate AND NOT is_beta_tester`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to expire beta candidacy: %w", err)
	}
	return nil
}

// PromoteBetaTester promotes a candidate, re-asserting the full eligibility
// predicate in the update filter, including the candidacy window bound
// (candidateAfter = now minus the window). Returns false when the guarded
// update matched nothing (lost a race, or already promoted/expired); the
// caller must then release any slot it claimed.
func (s *AccountStore) PromoteBetaTester(ctx context.Context, id pgtype.UUID, minWorkOrders, minInvoices int32, candidateAfter time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE accounts
		SET is_beta_tester = true,
		    beta_candidate = false,
		    beta_activated_at = now(),
		    updated_at = now()
		WHERE id = $1
		  AND beta_candidate
		  AND NOT is_beta_tester
		  AND beta_candidate_since IS NOT NULL
		  AND beta_candidate_since >= $4
		  AND beta_work_orders >= $2
		  AND beta_invoices >= $3`,
		id, minWorkOrders, minInvoices, timestamptz(candidateAfter),
	)
	if err != nil {
		return false, fmt.Errorf("failed to promote beta tester: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// CountBetaTesters counts promoted accounts, used to bootstrap the slot
// counter.
func (s *AccountStore) CountBetaTesters(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM accounts WHERE is_beta_tester`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count beta testers: %w", err)
	}
	return count, nil
}

// CreateWorkOrder inserts a skeletal work order row for a tenant.
func (s *AccountStore) CreateWorkOrder(ctx context.Context, tenantID pgtype.UUID, description string) (pgtype.UUID, error) {
	var id pgtype.UUID
	err := s.db.QueryRow(ctx, `
		INSERT INTO work_orders (tenant_id, description)
		VALUES ($1, $2)
		RETURNING id`,
		tenantID, description,
	).Scan(&id)
	if err != nil {
		return pgtype.UUID{}, fmt.Errorf("failed to create work order: %w", err)
	}
	return id, nil
}

// CreateInvoice inserts a skeletal invoice row for a tenant.
func (s *AccountStore) CreateInvoice(ctx context.Context, tenantID pgtype.UUID, totalCents int64) (pgtype.UUID, error) {
	var id pgtype.UUID
	err := s.db.QueryRow(ctx, `
		INSERT INTO invoices (tenant_id, total_cents)
		VALUES ($1, $2)
		RETURNING id`,
		tenantID, totalCents,
	).Scan(&id)
	if err != nil {
		return pgtype.UUID{}, fmt.Errorf("failed to create invoice: %w", err)
	}
	return id, nil
}
