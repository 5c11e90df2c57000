package email

import "time"

// EmailTemplate defines the interface for email templates
type EmailTemplate interface {
	Subject() string
	TemplateName() string
}

// WelcomeEmail is sent when a shop's subscription first activates.
type WelcomeEmail struct {
	Email        string
	ShopName     string
	DashboardURL string
}

func (e WelcomeEmail) Subject() string {
	return "Welcome to Wrenchly"
}

func (e WelcomeEmail) TemplateName() string {
	return "welcome.html"
}

// PaymentFailedEmail is sent when a subscription payment fails and the
// shop enters its grace period.
type PaymentFailedEmail struct {
	Email            string
	ShopName         string
	GraceEndsAt      time.Time
	UpdatePaymentURL string
}

func (e PaymentFailedEmail) Subject() string {
	return "Payment Issue With Your Wrenchly Subscription"
}

func (e PaymentFailedEmail) TemplateName() string {
	return "payment_failed.html"
}

// SubscriptionCanceledEmail is sent when a shop's subscription ends.
type SubscriptionCanceledEmail struct {
	Email           string
	ShopName        string
	CanceledDate    time.Time
	ReactivationURL string
}

func (e SubscriptionCanceledEmail) Subject() string {
	return "Your Wrenchly Subscription Has Ended"
}

func (e SubscriptionCanceledEmail) TemplateName() string {
	return "subscription_canceled.html"
}

// AccessSuspendedEmail is sent when a shop's grace period lapses without
// payment and the dashboard locks.
type AccessSuspendedEmail struct {
	Email            string
	ShopName         string
	UpdatePaymentURL string
}

func (e AccessSuspendedEmail) Subject() string {
	return "Your Wrenchly Account Is Locked"
}

func (e AccessSuspendedEmail) TemplateName() string {
	return "access_suspended.html"
}

// BetaPromotedEmail is sent when an active shop earns a beta tester slot.
type BetaPromotedEmail struct {
	Email    string
	ShopName string
}

func (e BetaPromotedEmail) Subject() string {
	return "You're In: Wrenchly Beta Program"
}

func (e BetaPromotedEmail) TemplateName() string {
	return "beta_promoted.html"
}
