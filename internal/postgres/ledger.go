package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wrenchly/wrenchly/internal/domain"
)

// LedgerStore persists the webhook dedup ledger.
//
// The unique constraint on the provider event id is the dedup mechanism:
// two handlers racing on the same delivery both attempt the insert, exactly
// one wins, and the loser observes domain.ErrDuplicateEvent. There is no
// read-before-insert window to exploit.
type LedgerStore struct {
	db *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore.
func NewLedgerStore(db *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{db: db}
}

// InsertEvent records a webhook event before any side effect runs. Returns
// domain.ErrDuplicateEvent when the provider event id was already recorded.
func (s *LedgerStore) InsertEvent(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO webhook_events (event_id, event_type)
		VALUES ($1, $2)`,
		eventID, eventType,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateEvent
		}
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	return nil
}

// MarkProcessed stamps the event's processing time after its side effects
// completed.
func (s *LedgerStore) MarkProcessed(ctx context.Context, eventID string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE webhook_events
		SET processed_at = now()
		WHERE event_id = $1`,
		eventID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark webhook event processed: %w", err)
	}
	return nil
}

// LedgerEntry is a recorded webhook delivery.
type LedgerEntry struct {
	EventID     string
	EventType   string
	ReceivedAt  pgtype.Timestamptz
	ProcessedAt pgtype.Timestamptz
}

// ListUnprocessed returns events recorded before the cutoff that never got a
// processing stamp, for operator inspection.
func (s *LedgerStore) ListUnprocessed(ctx context.Context, before time.Time) ([]LedgerEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT event_id, event_type, received_at, processed_at
		FROM webhook_events
		WHERE processed_at IS NULL AND received_at < $1
		ORDER BY received_at`,
		timestamptz(before),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list unprocessed events: %w", err)
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.EventID, &e.EventType, &e.ReceivedAt, &e.ProcessedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		out = append(out, e)
	}

	return out, rows.Err()
}
