// Package webhook handles billing provider event ingestion.
package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/wrenchly/wrenchly/internal/billing"
	"github.com/wrenchly/wrenchly/internal/domain"
	"github.com/wrenchly/wrenchly/internal/handler"
	"github.com/wrenchly/wrenchly/internal/service"
	"github.com/wrenchly/wrenchly/internal/telemetry"
)

// maxPayloadBytes bounds webhook request bodies.
const maxPayloadBytes = 64 * 1024

// StripeHandler handles Stripe webhook events.
//
// Processing order is fixed: verify the signature, record the event in the
// dedup ledger, run the side effects, then stamp the ledger entry processed.
// Recording before acting is what makes retried deliveries safe; a failed
// side effect returns 500 so the provider retries, and the unprocessed
// ledger row marks the delivery for operator inspection.
type StripeHandler struct {
	provider  billing.Provider
	ledger    service.LedgerStore
	lifecycle service.LifecycleService
	config    StripeWebhookConfig
	logger    *slog.Logger
}

// StripeWebhookConfig contains configuration for Stripe webhook handling
type StripeWebhookConfig struct {
	// WebhookSecret is the webhook signing secret from the Stripe dashboard
	WebhookSecret string
}

// NewStripeHandler creates a new Stripe webhook handler
func NewStripeHandler(
	provider billing.Provider,
	ledger service.LedgerStore,
	lifecycle service.LifecycleService,
	config StripeWebhookConfig,
	logger *slog.Logger,
) *StripeHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &StripeHandler{
		provider:  provider,
		ledger:    ledger,
		lifecycle: lifecycle,
		config:    config,
		logger:    logger.With("handler", "stripe_webhook"),
	}
}

// webhookAck is the acknowledgement body for accepted deliveries.
type webhookAck struct {
	Received  bool `json:"received"`
	Duplicate bool `json:"duplicate,omitempty"`
}

// HandleWebhook processes incoming Stripe webhook events.
//
// Stripe CLI testing:
//
//	stripe listen --forward-to localhost:3000/webhooks/stripe
//	stripe trigger invoice.payment_failed
func (h *StripeHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	if r.Method != http.MethodPost {
		handler.ErrorResponse(w, r, domain.Errorf(domain.EINVALID, "", "Method not allowed"))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		handler.ErrorResponse(w, r, domain.Errorf(domain.EINVALID, "", "Error reading request body"))
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		handler.ErrorResponse(w, r, domain.Errorf(domain.EINVALID, "", "Missing signature"))
		return
	}

	// Nothing gets recorded or acted on for an unverified payload.
	if err := h.provider.VerifyWebhookSignature(payload, signature, h.config.WebhookSecret); err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		handler.ErrorResponse(w, r, domain.Errorf(domain.EINVALID, "", "Invalid signature"))
		return
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		handler.ErrorResponse(w, r, domain.Errorf(domain.EINVALID, "", "Invalid JSON"))
		return
	}
	if event.ID == "" {
		handler.ErrorResponse(w, r, domain.Errorf(domain.EINVALID, "", "Missing event id"))
		return
	}

	eventType := string(event.Type)
	h.logger.Info("webhook received", "event_id", event.ID, "event_type", eventType)

	if telemetry.Business != nil {
		telemetry.Business.WebhookReceived.WithLabelValues(eventType).Inc()
		defer func() {
			telemetry.Business.WebhookLatency.WithLabelValues(eventType).Observe(time.Since(startTime).Seconds())
		}()
	}

	// The ledger insert is the dedup point. Losing the insert race means
	// another delivery of this event owns the side effects.
	if err := h.ledger.InsertEvent(r.Context(), event.ID, eventType); err != nil {
		if errors.Is(err, domain.ErrDuplicateEvent) {
			h.logger.Info("duplicate webhook delivery acknowledged", "event_id", event.ID)
			if telemetry.Business != nil {
				telemetry.Business.WebhookDuplicate.WithLabelValues(eventType).Inc()
			}
			handler.RespondJSON(w, http.StatusOK, webhookAck{Received: true, Duplicate: true})
			return
		}
		handler.ErrorResponse(w, r, domain.Internal(err, "webhook.ledger", "Failed to record event"))
		return
	}

	if err := h.dispatch(r, &event); err != nil {
		// Events that resolve to no account are acknowledged, not retried;
		// a shop deleted between delivery attempts would loop forever.
		if domain.IsCode(err, domain.ENOTFOUND) {
			h.logger.Warn("webhook event matched no account, acknowledging",
				"event_id", event.ID, "event_type", eventType, "error", err)
		} else {
			h.logger.Error("webhook processing failed",
				"event_id", event.ID, "event_type", eventType, "error", err)
			if telemetry.Business != nil {
				telemetry.Business.WebhookFailed.WithLabelValues(eventType, "processing_error").Inc()
			}
			telemetry.CaptureError(err, map[string]interface{}{
				"event_id":   event.ID,
				"event_type": eventType,
			})
			handler.ErrorResponse(w, r, domain.Internal(err, "webhook.dispatch", "Event processing failed"))
			return
		}
	}

	if err := h.ledger.MarkProcessed(r.Context(), event.ID); err != nil {
		handler.ErrorResponse(w, r, domain.Internal(err, "webhook.ledger", "Failed to finalize event"))
		return
	}

	if telemetry.Business != nil {
		telemetry.Business.WebhookProcessed.WithLabelValues(eventType).Inc()
	}

	handler.RespondJSON(w, http.StatusOK, webhookAck{Received: true})
}

// dispatch routes a verified, ledger-recorded event to its transition.
// Unknown event types are deliberate no-ops; Stripe sends whatever the
// dashboard endpoint is configured for.
func (h *StripeHandler) dispatch(r *http.Request, event *stripe.Event) error {
	ctx := r.Context()

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return domain.Invalid("webhook.dispatch", "malformed subscription payload")
		}
		return h.lifecycle.ActivateFromSubscription(ctx, sub.ID)

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return domain.Invalid("webhook.dispatch", "malformed subscription payload")
		}
		return h.lifecycle.CancelFromSubscription(ctx, sub.ID)

	case "invoice.paid":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return domain.Invalid("webhook.dispatch", "malformed invoice payload")
		}
		return h.lifecycle.ActivateFromInvoice(ctx, inv.ID)

	case "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return domain.Invalid("webhook.dispatch", "malformed invoice payload")
		}
		return h.lifecycle.MarkPastDueFromInvoice(ctx, inv.ID)

	default:
		h.logger.Info("unhandled event type acknowledged", "event_type", event.Type)
		return nil
	}
}
