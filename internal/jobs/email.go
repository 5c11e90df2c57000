package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/wrenchly/wrenchly/internal/email"
	"github.com/wrenchly/wrenchly/internal/postgres"
	"github.com/wrenchly/wrenchly/internal/telemetry"
)

// Job type constants for email jobs
const (
	JobTypeWelcome              = "email:welcome"
	JobTypePaymentFailed        = "email:payment_failed"
	JobTypeSubscriptionCanceled = "email:subscription_canceled"
	JobTypeAccessSuspended      = "email:access_suspended"
	JobTypeBetaPromoted         = "email:beta_promoted"
)

// Queuer enqueues background jobs.
type Queuer interface {
	EnqueueJob(ctx context.Context, params postgres.EnqueueJobParams) (pgtype.UUID, error)
}

// Email job payloads (JSON-serializable)

// WelcomePayload represents the payload for a welcome email job
type WelcomePayload struct {
	Email        string `json:"email"`
	ShopName     string `json:"shop_name"`
	DashboardURL string `json:"dashboard_url"`
}

// PaymentFailedPayload represents the payload for a payment failed email job
type PaymentFailedPayload struct {
	Email            string    `json:"email"`
	ShopName         string    `json:"shop_name"`
	GraceEndsAt      time.Time `json:"grace_ends_at"`
	UpdatePaymentURL string    `json:"update_payment_url"`
}

// SubscriptionCanceledPayload represents the payload for a cancellation email job
type SubscriptionCanceledPayload struct {
	Email           string    `json:"email"`
	ShopName        string    `json:"shop_name"`
	CanceledDate    time.Time `json:"canceled_date"`
	ReactivationURL string    `json:"reactivation_url"`
}

// AccessSuspendedPayload represents the payload for a suspension email job
type AccessSuspendedPayload struct {
	Email            string `json:"email"`
	ShopName         string `json:"shop_name"`
	UpdatePaymentURL string `json:"update_payment_url"`
}

// BetaPromotedPayload represents the payload for a beta promotion email job
type BetaPromotedPayload struct {
	Email    string `json:"email"`
	ShopName string `json:"shop_name"`
}

// Job enqueueing functions

func enqueueEmail(ctx context.Context, q Queuer, tenantID pgtype.UUID, jobType string, payload any, priority int32) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = q.EnqueueJob(ctx, postgres.EnqueueJobParams{
		TenantID:       tenantID,
		JobType:        jobType,
		Queue:          "email",
		Payload:        payloadJSON,
		Priority:       priority,
		MaxRetries:     3,
		ScheduledAt:    time.Now(),
		TimeoutSeconds: 30,
	})
	if err != nil {
		return err
	}

	if telemetry.Business != nil {
		telemetry.Business.JobsEnqueued.WithLabelValues(jobType).Inc()
	}

	return nil
}

// EnqueueWelcomeEmail enqueues a welcome email job
func EnqueueWelcomeEmail(ctx context.Context, q Queuer, tenantID pgtype.UUID, payload WelcomePayload) error {
	return enqueueEmail(ctx, q, tenantID, JobTypeWelcome, payload, 100)
}

// EnqueuePaymentFailedEmail enqueues a payment failed email job
func EnqueuePaymentFailedEmail(ctx context.Context, q Queuer, tenantID pgtype.UUID, payload PaymentFailedPayload) error {
	// Higher priority for payment issues
	return enqueueEmail(ctx, q, tenantID, JobTypePaymentFailed, payload, 75)
}

// EnqueueSubscriptionCanceledEmail enqueues a cancellation email job
func EnqueueSubscriptionCanceledEmail(ctx context.Context, q Queuer, tenantID pgtype.UUID, payload SubscriptionCanceledPayload) error {
	return enqueueEmail(ctx, q, tenantID, JobTypeSubscriptionCanceled, payload, 100)
}

// EnqueueAccessSuspendedEmail enqueues a suspension email job
func EnqueueAccessSuspendedEmail(ctx context.Context, q Queuer, tenantID pgtype.UUID, payload AccessSuspendedPayload) error {
	return enqueueEmail(ctx, q, tenantID, JobTypeAccessSuspended, payload, 80)
}

// EnqueueBetaPromotedEmail enqueues a beta promotion email job
func EnqueueBetaPromotedEmail(ctx context.Context, q Queuer, tenantID pgtype.UUID, payload BetaPromotedPayload) error {
	return enqueueEmail(ctx, q, tenantID, JobTypeBetaPromoted, payload, 100)
}

// IsEmailJob checks if a job type is an email job
func IsEmailJob(jobType string) bool {
	switch jobType {
	case JobTypeWelcome,
		JobTypePaymentFailed,
		JobTypeSubscriptionCanceled,
		JobTypeAccessSuspended,
		JobTypeBetaPromoted:
		return true
	}
	return false
}

// ProcessEmailJob processes an email job based on its type
func ProcessEmailJob(ctx context.Context, job *postgres.Job, emailService *email.Service) error {
	err := sendEmail(ctx, job, emailService)

	if telemetry.Business != nil {
		tenantID := uuidLabel(job.TenantID)
		if err != nil {
			telemetry.Business.EmailFailed.WithLabelValues(tenantID, job.JobType).Inc()
		} else {
			telemetry.Business.EmailSent.WithLabelValues(tenantID, job.JobType).Inc()
		}
	}

	return err
}

func sendEmail(ctx context.Context, job *postgres.Job, emailService *email.Service) error {
	switch job.JobType {
	case JobTypeWelcome:
		var payload WelcomePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("failed to unmarshal welcome payload: %w", err)
		}

		return emailService.SendWelcome(ctx, email.WelcomeEmail{
			Email:        payload.Email,
			ShopName:     payload.ShopName,
			DashboardURL: payload.DashboardURL,
		})

	case JobTypePaymentFailed:
		var payload PaymentFailedPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("failed to unmarshal payment failed payload: %w", err)
		}

		return emailService.SendPaymentFailed(ctx, email.PaymentFailedEmail{
			Email:            payload.Email,
			ShopName:         payload.ShopName,
			GraceEndsAt:      payload.GraceEndsAt,
			UpdatePaymentURL: payload.UpdatePaymentURL,
		})

	case JobTypeSubscriptionCanceled:
		var payload SubscriptionCanceledPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("failed to unmarshal cancellation payload: %w", err)
		}

		return emailService.SendSubscriptionCanceled(ctx, email.SubscriptionCanceledEmail{
			Email:           payload.Email,
			ShopName:        payload.ShopName,
			CanceledDate:    payload.CanceledDate,
			ReactivationURL: payload.ReactivationURL,
		})

	case JobTypeAccessSuspended:
		var payload AccessSuspendedPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("failed to unmarshal suspension payload: %w", err)
		}

		return emailService.SendAccessSuspended(ctx, email.AccessSuspendedEmail{
			Email:            payload.Email,
			ShopName:         payload.ShopName,
			UpdatePaymentURL: payload.UpdatePaymentURL,
		})

	case JobTypeBetaPromoted:
		var payload BetaPromotedPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("failed to unmarshal beta promotion payload: %w", err)
		}

		return emailService.SendBetaPromoted(ctx, email.BetaPromotedEmail{
			Email:    payload.Email,
			ShopName: payload.ShopName,
		})

	default:
		return fmt.Errorf("unknown job type: %s", job.JobType)
	}
}

// uuidLabel formats a pgtype.UUID for metric labels.
func uuidLabel(id pgtype.UUID) string {
	if !id.Valid {
		return ""
	}
	b := id.Bytes
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
