package service

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/wrenchly/wrenchly/internal/domain"
)

// ShopService covers the day-to-day shop records whose creation feeds the
// beta program counters.
type ShopService interface {
	CreateWorkOrder(ctx context.Context, tenantID pgtype.UUID, description string) (pgtype.UUID, error)
	CreateInvoice(ctx context.Context, tenantID pgtype.UUID, totalCents int64) (pgtype.UUID, error)
}

type shopService struct {
	accounts AccountStore
	beta     BetaService
	logger   *slog.Logger
}

// NewShopService creates a new ShopService instance.
func NewShopService(accounts AccountStore, beta BetaService, logger *slog.Logger) ShopService {
	if logger == nil {
		logger = slog.Default()
	}

	return &shopService{
		accounts: accounts,
		beta:     beta,
		logger:   logger.With("service", "shop"),
	}
}

var _ ShopService = (*shopService)(nil)

// CreateWorkOrder records a work order and credits it toward the shop's
// beta candidacy. The credit runs after the insert commits and cannot fail
// the creation.
func (s *shopService) CreateWorkOrder(ctx context.Context, tenantID pgtype.UUID, description string) (pgtype.UUID, error) {
	if description == "" {
		return pgtype.UUID{}, domain.Invalid("shop.create_work_order", "description is required")
	}

	id, err := s.accounts.CreateWorkOrder(ctx, tenantID, description)
	if err != nil {
		return pgtype.UUID{}, err
	}

	s.beta.TrackWorkOrderCreated(ctx, tenantID)

	return id, nil
}

// CreateInvoice records an invoice and credits it toward the shop's beta
// candidacy.
func (s *shopService) CreateInvoice(ctx context.Context, tenantID pgtype.UUID, totalCents int64) (pgtype.UUID, error) {
	if totalCents < 0 {
		return pgtype.UUID{}, domain.Invalid("shop.create_invoice", "total must not be negative")
	}

	id, err := s.accounts.CreateInvoice(ctx, tenantID, totalCents)
	if err != nil {
		return pgtype.UUID{}, err
	}

	s.beta.TrackInvoiceCreated(ctx, tenantID)

	return id, nil
}
