package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// BetaSlotStore manages the shared beta slot counter, a single row whose
// conditional increment enforces the program cap across server instances.
type BetaSlotStore struct {
	db *pgxpool.Pool
}

// NewBetaSlotStore creates a new BetaSlotStore.
func NewBetaSlotStore(db *pgxpool.Pool) *BetaSlotStore {
	return &BetaSlotStore{db: db}
}

// EnsureInitialized seeds the counter row from the current promoted count.
// The insert is a no-op when the row already exists, so concurrent startups
// cannot reset an in-use counter.
func (s *BetaSlotStore) EnsureInitialized(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO beta_slots (id, used)
		SELECT 1, count(*) FROM accounts WHERE is_beta_tester
		ON CONFLICT (id) DO NOTHING`,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize beta slot counter: %w", err)
	}
	return nil
}

// TryClaim atomically takes one slot if any remain below the cap. The
// increment and the cap check are a single statement, so two racing claims
// for the last slot cannot both succeed.
func (s *BetaSlotStore) TryClaim(ctx context.Context, cap int32) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE beta_slots
		SET used = used + 1
		WHERE id = 1 AND used < $1`,
		cap,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim beta slot: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// Release returns a slot claimed by a promotion that did not go through.
// Guarded so a double release cannot drive the counter negative.
func (s *BetaSlotStore) Release(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		UPDATE beta_slots
		SET used = used - 1
		WHERE id = 1 AND used > 0`,
	)
	if err != nil {
		return fmt.Errorf("failed to release beta slot: %w", err)
	}
	return nil
}

// InUse returns the number of slots currently claimed.
func (s *BetaSlotStore) InUse(ctx context.Context) (int32, error) {
	var used int32
	err := s.db.QueryRow(ctx, `SELECT used FROM beta_slots WHERE id = 1`).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("failed to read beta slot counter: %w", err)
	}
	return used, nil
}
