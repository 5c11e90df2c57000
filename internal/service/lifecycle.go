package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/wrenchly/wrenchly/internal/billing"
	"github.com/wrenchly/wrenchly/internal/domain"
	"github.com/wrenchly/wrenchly/internal/jobs"
	"github.com/wrenchly/wrenchly/internal/telemetry"
)

// GracePeriod is how long a past_due shop keeps dashboard access after a
// payment failure.
const GracePeriod = 7 * 24 * time.Hour

// LifecycleService owns the billing state transitions for tenant accounts.
// All transitions are idempotent; webhook retries and out-of-order
// deliveries converge on the same stored state.
type LifecycleService interface {
	// ActivateFromSubscription handles subscription created/updated events.
	ActivateFromSubscription(ctx context.Context, subscriptionID string) error

	// ActivateFromInvoice handles invoice.paid events. Invoices not tied to
	// a subscription are acknowledged without effect.
	ActivateFromInvoice(ctx context.Context, invoiceID string) error

	// MarkPastDueFromInvoice handles invoice.payment_failed events. Starts
	// or extends the grace period and queues the payment failed email.
	MarkPastDueFromInvoice(ctx context.Context, invoiceID string) error

	// CancelFromSubscription handles subscription deleted events.
	CancelFromSubscription(ctx context.Context, subscriptionID string) error

	// ExpireGracePeriods queues suspension emails for past_due shops whose
	// grace deadline has lapsed. Called by a background sweep; access
	// itself locks the moment the deadline passes, with or without the
	// sweep. Returns the number of shops notified.
	ExpireGracePeriods(ctx context.Context) (int, error)

	// CreateCheckoutSession starts a subscription checkout for a shop.
	// Returns the URL to redirect the operator to.
	CreateCheckoutSession(ctx context.Context, tenantID pgtype.UUID) (string, error)

	// CreateBillingPortalSession opens the provider's self-serve billing
	// portal for a shop with a stored customer reference.
	CreateBillingPortalSession(ctx context.Context, tenantID pgtype.UUID, returnURL string) (string, error)

	// GetAccountStatus returns the account and its derived access state.
	GetAccountStatus(ctx context.Context, tenantID pgtype.UUID) (*domain.Account, domain.AccessStatus, error)
}

// LifecycleConfig holds configuration for the lifecycle service.
type LifecycleConfig struct {
	// PriceID is the provider price for the monthly subscription
	PriceID string

	// BaseURL is the application base URL for generating redirect links
	BaseURL string
}

type lifecycleService struct {
	accounts AccountStore
	provider billing.Provider
	queue    jobs.Queuer
	config   LifecycleConfig
	logger   *slog.Logger
}

// NewLifecycleService creates a new LifecycleService instance.
func NewLifecycleService(
	accounts AccountStore,
	provider billing.Provider,
	queue jobs.Queuer,
	config LifecycleConfig,
	logger *slog.Logger,
) LifecycleService {
	if logger == nil {
		logger = slog.Default()
	}

	return &lifecycleService{
		accounts: accounts,
		provider: provider,
		queue:    queue,
		config:   config,
		logger:   logger.With("service", "lifecycle"),
	}
}

var _ LifecycleService = (*lifecycleService)(nil)

// resolveAccount maps a provider subscription to a tenant account.
//
// Precedence: tenant id carried in subscription metadata, then the stored
// subscription reference, then the stored customer reference. Metadata wins
// because it is stamped at checkout and survives the window before the
// first webhook persists any reference.
func (s *lifecycleService) resolveAccount(ctx context.Context, sub *billing.Subscription) (*domain.Account, error) {
	if raw := sub.Metadata["tenant_id"]; raw != "" {
		var id pgtype.UUID
		if err := id.Scan(raw); err != nil {
			s.logger.Warn("malformed tenant_id in subscription metadata",
				"subscription_id", sub.ID, "tenant_id", raw)
		} else {
			a, err := s.accounts.GetAccount(ctx, id)
			if err == nil {
				return a, nil
			}
			if !errors.Is(err, domain.ErrAccountNotFound) {
				return nil, err
			}
		}
	}

	a, err := s.accounts.GetAccountBySubscriptionRef(ctx, sub.ID)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, domain.ErrAccountNotFound) {
		return nil, err
	}

	if sub.CustomerID != "" {
		a, err := s.accounts.GetAccountByCustomerRef(ctx, sub.CustomerID)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, domain.ErrAccountNotFound) {
			return nil, err
		}
	}

	return nil, ErrAccountUnresolved
}

// ActivateFromSubscription handles subscription created/updated events.
func (s *lifecycleService) ActivateFromSubscription(ctx context.Context, subscriptionID string) error {
	sub, err := s.provider.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to fetch subscription %s: %w", subscriptionID, err)
	}

	account, err := s.resolveAccount(ctx, sub)
	if err != nil {
		return err
	}

	return s.activate(ctx, account, sub)
}

// ActivateFromInvoice handles invoice.paid events.
func (s *lifecycleService) ActivateFromInvoice(ctx context.Context, invoiceID string) error {
	inv, err := s.provider.GetInvoice(ctx, invoiceID)
	if err != nil {
		return fmt.Errorf("failed to fetch invoice %s: %w", invoiceID, err)
	}

	if inv.SubscriptionID == "" {
		s.logger.Info("invoice has no subscription, acknowledging", "invoice_id", invoiceID)
		return nil
	}

	sub, err := s.provider.GetSubscription(ctx, inv.SubscriptionID)
	if err != nil {
		return fmt.Errorf("failed to fetch subscription %s: %w", inv.SubscriptionID, err)
	}

	account, err := s.resolveAccount(ctx, sub)
	if err != nil {
		return err
	}

	return s.activate(ctx, account, sub)
}

// activate applies the active transition. The provider's subscription record
// is authoritative for the period end; the stored refs are refreshed so
// later events resolve without metadata.
func (s *lifecycleService) activate(ctx context.Context, account *domain.Account, sub *billing.Subscription) error {
	wasSubscribed := account.HasSubscription()

	err := s.accounts.ActivateBilling(ctx, account.ID, sub.ID, sub.CustomerID, sub.CurrentPeriodEnd)
	if err != nil {
		return fmt.Errorf("failed to activate account: %w", err)
	}

	s.logger.Info("account activated",
		"tenant_id", uuidString(account.ID),
		"subscription_id", sub.ID,
		"period_end", sub.CurrentPeriodEnd,
	)

	if telemetry.Business != nil {
		telemetry.Business.Activations.WithLabelValues(uuidString(account.ID)).Inc()
	}

	// First activation gets a welcome email; renewals and recoveries do not.
	if !wasSubscribed {
		err := jobs.EnqueueWelcomeEmail(ctx, s.queue, account.ID, jobs.WelcomePayload{
			Email:        account.Email,
			ShopName:     account.Name,
			DashboardURL: s.config.BaseURL + "/dashboard",
		})
		if err != nil {
			s.logger.Error("failed to queue welcome email",
				"tenant_id", uuidString(account.ID), "error", err)
		}
	}

	return nil
}

// MarkPastDueFromInvoice handles invoice.payment_failed events.
func (s *lifecycleService) MarkPastDueFromInvoice(ctx context.Context, invoiceID string) error {
	inv, err := s.provider.GetInvoice(ctx, invoiceID)
	if err != nil {
		return fmt.Errorf("failed to fetch invoice %s: %w", invoiceID, err)
	}

	if inv.SubscriptionID == "" {
		s.logger.Info("invoice has no subscription, acknowledging", "invoice_id", invoiceID)
		return nil
	}

	sub, err := s.provider.GetSubscription(ctx, inv.SubscriptionID)
	if err != nil {
		return fmt.Errorf("failed to fetch subscription %s: %w", inv.SubscriptionID, err)
	}

	account, err := s.resolveAccount(ctx, sub)
	if err != nil {
		return err
	}

	graceEndsAt, err := s.accounts.MarkPastDue(ctx, account.ID, time.Now().Add(GracePeriod))
	if err != nil {
		return fmt.Errorf("failed to mark account past due: %w", err)
	}

	s.logger.Warn("account past due",
		"tenant_id", uuidString(account.ID),
		"subscription_id", sub.ID,
		"grace_ends_at", graceEndsAt,
	)

	if telemetry.Business != nil {
		telemetry.Business.PaymentFailures.WithLabelValues(uuidString(account.ID)).Inc()
	}

	err = jobs.EnqueuePaymentFailedEmail(ctx, s.queue, account.ID, jobs.PaymentFailedPayload{
		Email:            account.Email,
		ShopName:         account.Name,
		GraceEndsAt:      graceEndsAt,
		UpdatePaymentURL: s.config.BaseURL + "/billing",
	})
	if err != nil {
		s.logger.Error("failed to queue payment failed email",
			"tenant_id", uuidString(account.ID), "error", err)
	}

	return nil
}

// CancelFromSubscription handles subscription deleted events.
func (s *lifecycleService) CancelFromSubscription(ctx context.Context, subscriptionID string) error {
	sub, err := s.provider.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to fetch subscription %s: %w", subscriptionID, err)
	}

	account, err := s.resolveAccount(ctx, sub)
	if err != nil {
		return err
	}

	err = s.accounts.CancelBilling(ctx, account.ID, sub.CurrentPeriodEnd)
	if err != nil {
		return fmt.Errorf("failed to cancel account: %w", err)
	}

	s.logger.Info("account canceled",
		"tenant_id", uuidString(account.ID),
		"subscription_id", sub.ID,
	)

	if telemetry.Business != nil {
		telemetry.Business.Cancellations.WithLabelValues(uuidString(account.ID)).Inc()
	}

	err = jobs.EnqueueSubscriptionCanceledEmail(ctx, s.queue, account.ID, jobs.SubscriptionCanceledPayload{
		Email:           account.Email,
		ShopName:        account.Name,
		CanceledDate:    time.Now(),
		ReactivationURL: s.config.BaseURL + "/billing",
	})
	if err != nil {
		s.logger.Error("failed to queue cancellation email",
			"tenant_id", uuidString(account.ID), "error", err)
	}

	return nil
}

// ExpireGracePeriods queues suspension emails for lapsed grace periods.
func (s *lifecycleService) ExpireGracePeriods(ctx context.Context) (int, error) {
	accounts, err := s.accounts.ListGraceExpired(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to list expired grace periods: %w", err)
	}

	notified := 0
	for i := range accounts {
		a := &accounts[i]

		err := jobs.EnqueueAccessSuspendedEmail(ctx, s.queue, a.ID, jobs.AccessSuspendedPayload{
			Email:            a.Email,
			ShopName:         a.Name,
			UpdatePaymentURL: s.config.BaseURL + "/billing",
		})
		if err != nil {
			s.logger.Error("failed to queue suspension email",
				"tenant_id", uuidString(a.ID), "error", err)
			continue
		}

		if telemetry.Business != nil {
			telemetry.Business.GraceExpirations.WithLabelValues(uuidString(a.ID)).Inc()
		}
		notified++
	}

	if notified > 0 {
		s.logger.Info("grace period sweep complete", "notified", notified)
	}

	return notified, nil
}

// CreateCheckoutSession starts a subscription checkout for a shop.
func (s *lifecycleService) CreateCheckoutSession(ctx context.Context, tenantID pgtype.UUID) (string, error) {
	account, err := s.accounts.GetAccount(ctx, tenantID)
	if err != nil {
		return "", err
	}

	url, err := s.provider.CreateCheckoutSession(ctx, billing.CheckoutParams{
		TenantID:   uuidString(account.ID),
		Email:      account.Email,
		PriceID:    s.config.PriceID,
		SuccessURL: s.config.BaseURL + "/billing/success",
		CancelURL:  s.config.BaseURL + "/billing",
	})
	if err != nil {
		s.logger.Error("checkout session creation failed",
			"tenant_id", uuidString(account.ID), "error", err)
		return "", ErrCheckoutFailed
	}

	return url, nil
}

// CreateBillingPortalSession opens the provider billing portal for a shop.
func (s *lifecycleService) CreateBillingPortalSession(ctx context.Context, tenantID pgtype.UUID, returnURL string) (string, error) {
	account, err := s.accounts.GetAccount(ctx, tenantID)
	if err != nil {
		return "", err
	}

	if !account.StripeCustomerID.Valid || account.StripeCustomerID.String == "" {
		return "", ErrNoCustomerRef
	}

	if returnURL == "" {
		returnURL = s.config.BaseURL + "/billing"
	}

	return s.provider.CreatePortalSession(ctx, account.StripeCustomerID.String, returnURL)
}

// GetAccountStatus returns the account and its derived access state.
func (s *lifecycleService) GetAccountStatus(ctx context.Context, tenantID pgtype.UUID) (*domain.Account, domain.AccessStatus, error) {
	account, err := s.accounts.GetAccount(ctx, tenantID)
	if err != nil {
		return nil, domain.AccessStatus{}, err
	}

	return account, domain.DeriveAccess(account, time.Now()), nil
}

// uuidString formats a pgtype.UUID for logs and metric labels.
func uuidString(id pgtype.UUID) string {
	if !id.Valid {
		return ""
	}
	b := id.Bytes
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
