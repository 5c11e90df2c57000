package domain

import (
	"github.com/jackc/pgx/v5/pgtype"
)

// BillingStatus is the last provider-reported subscription state for a shop.
// The empty value means the shop has never subscribed; effective access is
// always derived, never read from this field alone (see DeriveAccess).
type BillingStatus string

const (
	BillingStatusNone     BillingStatus = ""
	BillingStatusActive   BillingStatus = "active"
	BillingStatusPastDue  BillingStatus = "past_due"
	BillingStatusCanceled BillingStatus = "canceled"
)

// Account is a tenant shop's billing, trial and beta-program record.
// Fields are flat on the tenant row; the lifecycle state machine lives in
// the conditional updates that mutate them and in DeriveAccess.
type Account struct {
	ID    pgtype.UUID
	Name  string
	Slug  string
	Email string

	BillingStatus        BillingStatus
	CurrentPeriodEnd     pgtype.Timestamptz // meaningful only while BillingStatus is active
	GraceEndsAt          pgtype.Timestamptz // set on payment failure, bounds past_due access
	TrialEndsAt          pgtype.Timestamptz // independent of BillingStatus
	BillingExempt        bool
	BillingExemptReason  pgtype.Text
	StripeCustomerID     pgtype.Text
	StripeSubscriptionID pgtype.Text

	BetaCandidate      bool
	BetaCandidateSince pgtype.Timestamptz
	BetaWorkOrders     int32
	BetaInvoices       int32
	IsBetaTester       bool
	BetaActivatedAt    pgtype.Timestamptz

	CreatedAt pgtype.Timestamptz
	UpdatedAt pgtype.Timestamptz
}

// HasSubscription reports whether the account has ever been linked to a
// provider subscription.
func (a *Account) HasSubscription() bool {
	return a.StripeSubscriptionID.Valid && a.StripeSubscriptionID.String != ""
}
