package core

import (
	"context"
	"time"
)

// SubscriptionStatus is the billing state of a user account.
type SubscriptionStatus string

const (
	SubscriptionActive        SubscriptionStatus = "ACTIVE"
	SubscriptionCancelled     SubscriptionStatus = "CANCELLED"
	SubscriptionPaymentFailed SubscriptionStatus = "PAYMENT_FAILED"
	SubscriptionExpired       SubscriptionStatus = "EXPIRED"
)

type (
	// Subscription is the per-user billing record maintained from payment
	// provider webhooks.
	Subscription struct {
		UserID     string             `json:"userId"`
		Status     SubscriptionStatus `json:"status"`
		SubscrID   string             `json:"subscrId,omitempty"`
		PayerEmail string             `json:"payerEmail,omitempty"`
		Gross      string             `json:"gross,omitempty"`
		UpdatedAt  time.Time          `json:"updatedAt"`
	}

	// SubscriptionStore defines the persistence layer for billing records.
	SubscriptionStore interface {
		GetSubscription(ctx context.Context, userID string) (*Subscription, error)
		SaveSubscription(ctx context.Context, sub *Subscription) error
	}
)
