package billing

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"designboard/core"
)

type mockSubscriptionStore struct {
	subscriptions map[string]*core.Subscription
	saveErr       error
}

func newMockSubscriptionStore() *mockSubscriptionStore {
	return &mockSubscriptionStore{subscriptions: make(map[string]*core.Subscription)}
}

func (m *mockSubscriptionStore) GetSubscription(ctx context.Context, userID string) (*core.Subscription, error) {
	sub, ok := m.subscriptions[userID]
	if !ok {
		return nil, fmt.Errorf("subscription for user %s not found", userID)
	}
	return sub, nil
}

func (m *mockSubscriptionStore) SaveSubscription(ctx context.Context, sub *core.Subscription) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.subscriptions[sub.UserID] = sub
	return nil
}

func postWebhook(handler http.HandlerFunc, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v2/billing/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestHandleWebhook_TxnTypeMapping(t *testing.T) {
	testCases := []struct {
		txnType string
		want    core.SubscriptionStatus
	}{
		{"subscr_signup", core.SubscriptionActive},
		{"subscr_payment", core.SubscriptionActive},
		{"subscr_cancel", core.SubscriptionCancelled},
		{"subscr_failed", core.SubscriptionPaymentFailed},
		{"subscr_eot", core.SubscriptionExpired},
	}

	for _, tc := range testCases {
		t.Run(tc.txnType, func(t *testing.T) {
			store := newMockSubscriptionStore()
			handler := HandleWebhook(store)

			rec := postWebhook(handler, url.Values{
				"custom":         {"user-1"},
				"txn_type":       {tc.txnType},
				"payment_status": {"Completed"},
				"subscr_id":      {"S-001"},
				"payer_email":    {"payer@example.com"},
				"mc_gross":       {"9.99"},
			})

			if rec.Code != http.StatusOK {
				t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusOK)
			}

			sub, err := store.GetSubscription(context.Background(), "user-1")
			if err != nil {
				t.Fatalf("GetSubscription failed: %v", err)
			}
			if sub.Status != tc.want {
				t.Errorf("Status mismatch: got %q, want %q", sub.Status, tc.want)
			}
			if sub.SubscrID != "S-001" || sub.PayerEmail != "payer@example.com" || sub.Gross != "9.99" {
				t.Errorf("Provider fields mismatch: %+v", sub)
			}
		})
	}
}

func TestHandleWebhook_MissingCustom(t *testing.T) {
	store := newMockSubscriptionStore()
	handler := HandleWebhook(store)

	rec := postWebhook(handler, url.Values{
		"txn_type": {"subscr_signup"},
	})

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if len(store.subscriptions) != 0 {
		t.Error("No subscription should be written without a user id")
	}
}

func TestHandleWebhook_UnknownTxnType(t *testing.T) {
	store := newMockSubscriptionStore()
	handler := HandleWebhook(store)

	rec := postWebhook(handler, url.Values{
		"custom":   {"user-1"},
		"txn_type": {"subscr_modify"},
	})

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleWebhook_StoreError(t *testing.T) {
	store := newMockSubscriptionStore()
	store.saveErr = fmt.Errorf("database error")
	handler := HandleWebhook(store)

	rec := postWebhook(handler, url.Values{
		"custom":   {"user-1"},
		"txn_type": {"subscr_payment"},
	})

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestHandleGetSubscription(t *testing.T) {
	store := newMockSubscriptionStore()
	store.subscriptions["user-1"] = &core.Subscription{
		UserID: "user-1",
		Status: core.SubscriptionActive,
	}
	handler := HandleGetSubscription(store)

	req := httptest.NewRequest(http.MethodGet, "/api/v2/subscription?userId=user-1", http.NoBody)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestHandleGetSubscription_Unknown(t *testing.T) {
	store := newMockSubscriptionStore()
	handler := HandleGetSubscription(store)

	req := httptest.NewRequest(http.MethodGet, "/api/v2/subscription?userId=ghost", http.NoBody)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusNotFound)
	}
}
