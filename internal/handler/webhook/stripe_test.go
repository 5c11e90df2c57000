package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrenchly/wrenchly/internal/billing"
	"github.com/wrenchly/wrenchly/internal/domain"
)

// ============================================================================
// Mock Implementations
// ============================================================================

// mockLedger implements service.LedgerStore.
type mockLedger struct {
	seen          map[string]bool
	insertErr     error
	markErr       error
	processed     []string
	insertedTypes map[string]string
}

func newMockLedger() *mockLedger {
	return &mockLedger{seen: make(map[string]bool), insertedTypes: make(map[string]string)}
}

func (m *mockLedger) InsertEvent(ctx context.Context, eventID, eventType string) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	if m.seen[eventID] {
		return domain.ErrDuplicateEvent
	}
	m.seen[eventID] = true
	m.insertedTypes[eventID] = eventType
	return nil
}

func (m *mockLedger) MarkProcessed(ctx context.Context, eventID string) error {
	if m.markErr != nil {
		return m.markErr
	}
	m.processed = append(m.processed, eventID)
	return nil
}

// mockLifecycle implements service.LifecycleService with per-method hooks.
type mockLifecycle struct {
	activateSubErr error
	activateInvErr error
	pastDueErr     error
	cancelErr      error
	activateSubIDs []string
	activateInvIDs []string
	pastDueInvIDs  []string
	canceledSubIDs []string
}

func (m *mockLifecycle) ActivateFromSubscription(ctx context.Context, subscriptionID string) error {
	m.activateSubIDs = append(m.activateSubIDs, subscriptionID)
	return m.activateSubErr
}

func (m *mockLifecycle) ActivateFromInvoice(ctx context.Context, invoiceID string) error {
	m.activateInvIDs = append(m.activateInvIDs, invoiceID)
	return m.activateInvErr
}

func (m *mockLifecycle) MarkPastDueFromInvoice(ctx context.Context, invoiceID string) error {
	m.pastDueInvIDs = append(m.pastDueInvIDs, invoiceID)
	return m.pastDueErr
}

func (m *mockLifecycle) CancelFromSubscription(ctx context.Context, subscriptionID string) error {
	m.canceledSubIDs = append(m.canceledSubIDs, subscriptionID)
	return m.cancelErr
}

func (m *mockLifecycle) ExpireGracePeriods(ctx context.Context) (int, error) {
	return 0, nil
}

func (m *mockLifecycle) CreateCheckoutSession(ctx context.Context, tenantID pgtype.UUID) (string, error) {
	return "", errors.New("not implemented in mock")
}

func (m *mockLifecycle) CreateBillingPortalSession(ctx context.Context, tenantID pgtype.UUID, returnURL string) (string, error) {
	return "", errors.New("not implemented in mock")
}

func (m *mockLifecycle) GetAccountStatus(ctx context.Context, tenantID pgtype.UUID) (*domain.Account, domain.AccessStatus, error) {
	return nil, domain.AccessStatus{}, errors.New("not implemented in mock")
}

// ============================================================================
// Helpers
// ============================================================================

func eventBody(eventID, eventType, objectID string) string {
	return fmt.Sprintf(`{"id":%q,"type":%q,"data":{"object":{"id":%q}}}`, eventID, eventType, objectID)
}

func postEvent(h *StripeHandler, body string, sign bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(body))
	if sign {
		req.Header.Set("Stripe-Signature", "t=123,v1=valid")
	}
	w := httptest.NewRecorder()
	h.HandleWebhook(w, req)
	return w
}

func newHandler(ledger *mockLedger, lifecycle *mockLifecycle) *StripeHandler {
	provider := billing.NewMockProvider()
	return NewStripeHandler(provider, ledger, lifecycle, StripeWebhookConfig{
		WebhookSecret: "whsec_test",
	}, nil)
}

// ============================================================================
// Tests
// ============================================================================

func TestHandleWebhook_MissingSignature(t *testing.T) {
	h := newHandler(newMockLedger(), &mockLifecycle{})

	w := postEvent(h, eventBody("evt_1", "invoice.paid", "in_1"), false)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleWebhook_InvalidSignature(t *testing.T) {
	ledger := newMockLedger()
	lifecycle := &mockLifecycle{}
	provider := billing.NewMockProvider()
	provider.VerifyWebhookSignatureFunc = func(payload []byte, signature, secret string) error {
		return billing.ErrInvalidWebhookSignature
	}
	h := NewStripeHandler(provider, ledger, lifecycle, StripeWebhookConfig{WebhookSecret: "whsec_test"}, nil)

	w := postEvent(h, eventBody("evt_2", "invoice.paid", "in_2"), true)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, ledger.seen, "unverified events must not reach the ledger")
	assert.Empty(t, lifecycle.activateInvIDs)
}

func TestHandleWebhook_Dispatch(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		objectID  string
		calls     func(*mockLifecycle) []string
	}{
		{
			name:      "subscription created activates",
			eventType: "customer.subscription.created",
			objectID:  "sub_1",
			calls:     func(m *mockLifecycle) []string { return m.activateSubIDs },
		},
		{
			name:      "subscription updated activates",
			eventType: "customer.subscription.updated",
			objectID:  "sub_2",
			calls:     func(m *mockLifecycle) []string { return m.activateSubIDs },
		},
		{
			name:      "subscription deleted cancels",
			eventType: "customer.subscription.deleted",
			objectID:  "sub_3",
			calls:     func(m *mockLifecycle) []string { return m.canceledSubIDs },
		},
		{
			name:      "invoice paid activates",
			eventType: "invoice.paid",
			objectID:  "in_3",
			calls:     func(m *mockLifecycle) []string { return m.activateInvIDs },
		},
		{
			name:      "invoice payment failed marks past due",
			eventType: "invoice.payment_failed",
			objectID:  "in_4",
			calls:     func(m *mockLifecycle) []string { return m.pastDueInvIDs },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := newMockLedger()
			lifecycle := &mockLifecycle{}
			h := newHandler(ledger, lifecycle)

			w := postEvent(h, eventBody("evt_d", tt.eventType, tt.objectID), true)

			require.Equal(t, http.StatusOK, w.Code)
			assert.JSONEq(t, `{"received":true}`, w.Body.String())
			assert.Equal(t, []string{tt.objectID}, tt.calls(lifecycle))
			assert.Equal(t, []string{"evt_d"}, ledger.processed)
		})
	}
}

func TestHandleWebhook_DuplicateDelivery(t *testing.T) {
	ledger := newMockLedger()
	lifecycle := &mockLifecycle{}
	h := newHandler(ledger, lifecycle)

	first := postEvent(h, eventBody("evt_dup", "invoice.paid", "in_5"), true)
	require.Equal(t, http.StatusOK, first.Code)

	second := postEvent(h, eventBody("evt_dup", "invoice.paid", "in_5"), true)

	assert.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, `{"received":true,"duplicate":true}`, second.Body.String())
	assert.Len(t, lifecycle.activateInvIDs, 1, "side effects must run exactly once")
	assert.Len(t, ledger.processed, 1)
}

func TestHandleWebhook_SideEffectFailureReturns500(t *testing.T) {
	ledger := newMockLedger()
	lifecycle := &mockLifecycle{pastDueErr: errors.New("store unavailable")}
	h := newHandler(ledger, lifecycle)

	w := postEvent(h, eventBody("evt_fail", "invoice.payment_failed", "in_6"), true)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, ledger.processed, "failed events must stay unprocessed for the retry")
}

func TestHandleWebhook_UnresolvedAccountAcknowledged(t *testing.T) {
	ledger := newMockLedger()
	lifecycle := &mockLifecycle{
		cancelErr: domain.Errorf(domain.ENOTFOUND, "", "No account matches this billing event"),
	}
	h := newHandler(ledger, lifecycle)

	w := postEvent(h, eventBody("evt_orphan", "customer.subscription.deleted", "sub_gone"), true)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"evt_orphan"}, ledger.processed,
		"orphaned events are finalized so the provider stops retrying")
}

func TestHandleWebhook_UnknownEventTypeAcknowledged(t *testing.T) {
	ledger := newMockLedger()
	lifecycle := &mockLifecycle{}
	h := newHandler(ledger, lifecycle)

	w := postEvent(h, eventBody("evt_meta", "customer.created", "cus_1"), true)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, lifecycle.activateSubIDs)
	assert.Empty(t, lifecycle.activateInvIDs)
	assert.Equal(t, []string{"evt_meta"}, ledger.processed)
}

func TestHandleWebhook_MissingEventID(t *testing.T) {
	h := newHandler(newMockLedger(), &mockLifecycle{})

	w := postEvent(h, `{"type":"invoice.paid","data":{"object":{"id":"in_7"}}}`, true)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleWebhook_MethodNotAllowed(t *testing.T) {
	h := newHandler(newMockLedger(), &mockLifecycle{})

	req := httptest.NewRequest(http.MethodGet, "/webhooks/stripe", nil)
	w := httptest.NewRecorder()
	h.HandleWebhook(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleWebhook_LedgerInsertFailure(t *testing.T) {
	ledger := newMockLedger()
	ledger.insertErr = errors.New("connection refused")
	lifecycle := &mockLifecycle{}
	h := newHandler(ledger, lifecycle)

	w := postEvent(h, eventBody("evt_down", "invoice.paid", "in_8"), true)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, lifecycle.activateInvIDs, "no side effects without a ledger record")
}

func TestHandleWebhook_MarkProcessedFailure(t *testing.T) {
	ledger := newMockLedger()
	ledger.markErr = errors.New("connection refused")
	h := newHandler(ledger, &mockLifecycle{})

	w := postEvent(h, eventBody("evt_late", "invoice.paid", "in_9"), true)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
