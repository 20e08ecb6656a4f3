package billing

import (
	"context"
	"net/http"

	"designboard/core"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type SubscriptionStore interface {
	GetSubscription(ctx context.Context, userID string) (*core.Subscription, error)
	SaveSubscription(ctx context.Context, sub *core.Subscription) error
}

// statusForTxnType maps payment-provider transaction types to subscription
// statuses. Unknown types are rejected.
func statusForTxnType(txnType string) (core.SubscriptionStatus, bool) {
	switch txnType {
	case "subscr_signup", "subscr_payment":
		return core.SubscriptionActive, true
	case "subscr_cancel":
		return core.SubscriptionCancelled, true
	case "subscr_failed":
		return core.SubscriptionPaymentFailed, true
	case "subscr_eot":
		return core.SubscriptionExpired, true
	default:
		return "", false
	}
}

// HandleWebhook processes form-encoded payment notifications. The provider
// puts our user id in the custom field; everything else is provider state we
// mirror into the subscription record.
func HandleWebhook(store SubscriptionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid form body"})
			return
		}

		userID := r.PostFormValue("custom")
		if userID == "" {
			logrus.Warn("Billing webhook without a custom field")
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Missing custom field"})
			return
		}

		txnType := r.PostFormValue("txn_type")
		status, ok := statusForTxnType(txnType)
		if !ok {
			logrus.WithFields(logrus.Fields{
				"txnType": txnType,
				"userId":  userID,
			}).Warn("Unknown billing transaction type")
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Unknown transaction type"})
			return
		}

		sub := &core.Subscription{
			UserID:     userID,
			Status:     status,
			SubscrID:   r.PostFormValue("subscr_id"),
			PayerEmail: r.PostFormValue("payer_email"),
			Gross:      r.PostFormValue("mc_gross"),
		}
		if err := store.SaveSubscription(r.Context(), sub); err != nil {
			logrus.WithFields(logrus.Fields{
				"error":  err,
				"userId": userID,
			}).Error("Failed to save subscription")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to update subscription"})
			return
		}

		logrus.WithFields(logrus.Fields{
			"userId":        userID,
			"status":        status,
			"paymentStatus": r.PostFormValue("payment_status"),
		}).Info("Subscription updated from billing webhook")
		render.JSON(w, r, map[string]string{"status": "ok"})
	}
}

// HandleGetSubscription returns the caller's current subscription record.
func HandleGetSubscription(store SubscriptionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("userId")
		if userID == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Missing userId"})
			return
		}

		sub, err := store.GetSubscription(r.Context(), userID)
		if err != nil {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, map[string]string{"error": "Subscription not found"})
			return
		}
		render.JSON(w, r, sub)
	}
}
