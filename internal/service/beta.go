package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/wrenchly/wrenchly/internal/domain"
	"github.com/wrenchly/wrenchly/internal/jobs"
	"github.com/wrenchly/wrenchly/internal/telemetry"
)

// Beta program defaults.
const (
	DefaultBetaMaxSlots = 50
	BetaCandidacyWindow = 7 * 24 * time.Hour
	BetaMinWorkOrders   = 3
	BetaMinInvoices     = 3
)

// BetaService tracks candidate activity and promotes qualifying shops into
// the beta tester program.
//
// Tracking hooks are fire-and-forget: they run after the caller's own write
// has committed and must never fail the calling operation, so they log
// instead of returning errors.
type BetaService interface {
	// TrackWorkOrderCreated credits a work order toward a shop's candidacy.
	TrackWorkOrderCreated(ctx context.Context, tenantID pgtype.UUID)

	// TrackInvoiceCreated credits an invoice toward a shop's candidacy.
	TrackInvoiceCreated(ctx context.Context, tenantID pgtype.UUID)

	// SlotsInUse reports how many beta slots are currently claimed.
	SlotsInUse(ctx context.Context) (int32, error)
}

// BetaConfig holds configuration for the beta program.
type BetaConfig struct {
	// MaxSlots caps the total number of beta testers
	MaxSlots int32
}

type betaService struct {
	accounts AccountStore
	slots    SlotStore
	queue    jobs.Queuer
	config   BetaConfig
	logger   *slog.Logger
}

// NewBetaService creates a new BetaService instance.
func NewBetaService(
	accounts AccountStore,
	slots SlotStore,
	queue jobs.Queuer,
	config BetaConfig,
	logger *slog.Logger,
) BetaService {
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxSlots == 0 {
		config.MaxSlots = DefaultBetaMaxSlots
	}

	return &betaService{
		accounts: accounts,
		slots:    slots,
		queue:    queue,
		config:   config,
		logger:   logger.With("service", "beta"),
	}
}

var _ BetaService = (*betaService)(nil)

// TrackWorkOrderCreated credits a work order toward a shop's candidacy.
func (s *betaService) TrackWorkOrderCreated(ctx context.Context, tenantID pgtype.UUID) {
	account, err := s.accounts.IncrementBetaWorkOrders(ctx, tenantID)
	if err != nil {
		s.logger.Error("failed to track work order",
			"tenant_id", uuidString(tenantID), "error", err)
		return
	}

	s.evaluate(ctx, account)
}

// TrackInvoiceCreated credits an invoice toward a shop's candidacy.
func (s *betaService) TrackInvoiceCreated(ctx context.Context, tenantID pgtype.UUID) {
	account, err := s.accounts.IncrementBetaInvoices(ctx, tenantID)
	if err != nil {
		s.logger.Error("failed to track invoice",
			"tenant_id", uuidString(tenantID), "error", err)
		return
	}

	s.evaluate(ctx, account)
}

// SlotsInUse reports how many beta slots are currently claimed.
func (s *betaService) SlotsInUse(ctx context.Context) (int32, error) {
	return s.slots.InUse(ctx)
}

// evaluate checks a fresh account row against the promotion rules and
// promotes when everything holds. The slot claim happens before the guarded
// promotion update; a lost promotion race returns the slot.
func (s *betaService) evaluate(ctx context.Context, account *domain.Account) {
	if !account.BetaCandidate || account.IsBetaTester {
		return
	}

	if !account.BetaCandidateSince.Valid {
		return
	}

	// Candidacy that outlived its window terminates here rather than on a
	// timer; the next activity event is the evaluation point.
	cutoff := time.Now().Add(-BetaCandidacyWindow)
	if account.BetaCandidateSince.Time.Before(cutoff) {
		if err := s.accounts.ExpireBetaCandidacy(ctx, account.ID); err != nil {
			s.logger.Error("failed to expire beta candidacy",
				"tenant_id", uuidString(account.ID), "error", err)
			return
		}
		s.logger.Info("beta candidacy expired",
			"tenant_id", uuidString(account.ID),
			"work_orders", account.BetaWorkOrders,
			"invoices", account.BetaInvoices,
		)
		if telemetry.Business != nil {
			telemetry.Business.BetaCandidaciesExpired.WithLabelValues(uuidString(account.ID)).Inc()
		}
		return
	}

	if account.BetaWorkOrders < BetaMinWorkOrders || account.BetaInvoices < BetaMinInvoices {
		return
	}

	claimed, err := s.slots.TryClaim(ctx, s.config.MaxSlots)
	if err != nil {
		s.logger.Error("failed to claim beta slot",
			"tenant_id", uuidString(account.ID), "error", err)
		return
	}
	if !claimed {
		s.logger.Info("beta program full, candidate not promoted",
			"tenant_id", uuidString(account.ID))
		return
	}

	// The cutoff rides along so the guard also re-asserts the window; the
	// candidacy may lapse between the check above and the update committing.
	promoted, err := s.accounts.PromoteBetaTester(ctx, account.ID, BetaMinWorkOrders, BetaMinInvoices, cutoff)
	if err != nil || !promoted {
		// The guarded update matched nothing (or failed); the claimed slot
		// must go back so the cap stays accurate.
		if releaseErr := s.slots.Release(ctx); releaseErr != nil {
			s.logger.Error("failed to release beta slot",
				"tenant_id", uuidString(account.ID), "error", releaseErr)
		}
		if err != nil {
			s.logger.Error("failed to promote beta tester",
				"tenant_id", uuidString(account.ID), "error", err)
		}
		return
	}

	s.logger.Info("beta tester promoted", "tenant_id", uuidString(account.ID))

	if telemetry.Business != nil {
		telemetry.Business.BetaPromotions.WithLabelValues(uuidString(account.ID)).Inc()
		if used, err := s.slots.InUse(ctx); err == nil {
			telemetry.Business.BetaSlotsInUse.Set(float64(used))
		}
	}

	err = jobs.EnqueueBetaPromotedEmail(ctx, s.queue, account.ID, jobs.BetaPromotedPayload{
		Email:    account.Email,
		ShopName: account.Name,
	})
	if err != nil {
		s.logger.Error("failed to queue beta promotion email",
			"tenant_id", uuidString(account.ID), "error", err)
	}
}
