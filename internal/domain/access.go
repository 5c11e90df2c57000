package domain

import (
	"time"
)

// AccessReason identifies which rule granted (or denied) access.
type AccessReason string

const (
	AccessReasonActive AccessReason = "active"
	AccessReasonTrial  AccessReason = "trial"
	AccessReasonGrace  AccessReason = "grace"
	AccessReasonLocked AccessReason = "locked"
)

// Locked-context classifications, in evaluation priority order.
const (
	LockedContextTrialEnded      = "trial_ended"
	LockedContextPastDueEnded    = "past_due_ended"
	LockedContextPaymentRequired = "payment_required"
)

// Warning thresholds for accounts approaching their lock date.
const (
	WarningThreeDay = "3_day"
	WarningSevenDay = "7_day"
)

// AccessStatus is the derived access state for an account at an instant.
// It is computed from the flat billing fields and never persisted.
type AccessStatus struct {
	Locked        bool
	Reason        AccessReason
	LockDate      *time.Time // nil when access has no expiry
	DaysUntilLock int        // 0 when LockDate is nil
	Warning       string     // "", "3_day" or "7_day"
	LockedContext string     // set only when Locked
}

// DeriveAccess computes the effective access state for an account.
//
// It is a pure function of the account's billing fields and now; the gating
// middleware and the billing status endpoint both call it so the two can
// never disagree. Rules are evaluated in order, first match wins:
//
//  1. billing-exempt accounts are always unlocked
//  2. active subscription with an unexpired paid period
//  3. unexpired trial (lock date = trial end)
//  4. past_due within the grace window (lock date = grace end)
//  5. otherwise locked, classified by whichever deadline lapsed
//
// An active status whose period has silently elapsed is not trusted: it
// falls through to the trial/grace rules rather than granting access.
func DeriveAccess(a *Account, now time.Time) AccessStatus {
	if a.BillingExempt {
		return AccessStatus{Locked: false, Reason: AccessReasonActive}
	}

	if a.BillingStatus == BillingStatusActive && a.CurrentPeriodEnd.Valid && a.CurrentPeriodEnd.Time.After(now) {
		return AccessStatus{Locked: false, Reason: AccessReasonActive}
	}

	if a.TrialEndsAt.Valid && a.TrialEndsAt.Time.After(now) {
		return unlockedUntil(AccessReasonTrial, a.TrialEndsAt.Time, now)
	}

	if a.BillingStatus == BillingStatusPastDue && a.GraceEndsAt.Valid && a.GraceEndsAt.Time.After(now) {
		return unlockedUntil(AccessReasonGrace, a.GraceEndsAt.Time, now)
	}

	return AccessStatus{
		Locked:        true,
		Reason:        AccessReasonLocked,
		LockedContext: classifyLock(a),
	}
}

// unlockedUntil builds an unlocked status with a known lock date,
// days-remaining count and warning band.
func unlockedUntil(reason AccessReason, lockDate, now time.Time) AccessStatus {
	days := daysUntil(lockDate, now)

	var warning string
	switch {
	case days <= 3:
		warning = WarningThreeDay
	case days <= 7:
		warning = WarningSevenDay
	}

	return AccessStatus{
		Locked:        false,
		Reason:        reason,
		LockDate:      &lockDate,
		DaysUntilLock: days,
		Warning:       warning,
	}
}

// classifyLock explains why a locked account is locked. Trial data takes
// priority over past_due data; an account with neither has simply never
// provided payment.
func classifyLock(a *Account) string {
	if a.TrialEndsAt.Valid {
		return LockedContextTrialEnded
	}
	if a.BillingStatus == BillingStatusPastDue {
		return LockedContextPastDueEnded
	}
	return LockedContextPaymentRequired
}

// daysUntil returns ceil((t-now) / 24h).
func daysUntil(t, now time.Time) int {
	d := t.Sub(now)
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) > 0 {
		days++
	}
	return days
}
