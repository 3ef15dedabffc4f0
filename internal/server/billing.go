package server

import (
	"errors"
	"io"
	"net/http"

	"vitafit/internal/auth"
	"vitafit/internal/models"
	"vitafit/internal/payment"
)

type checkoutResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

func (a *api) handleCheckout(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	if a.billing == nil || !a.billing.CheckoutEnabled() {
		writeError(w, http.StatusServiceUnavailable, "checkout is not available")
		return
	}

	// premium is a profile flag, so the buyer needs a profile first
	if _, err := a.store.GetProfile(r.Context(), userID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		a.logger.Errorw("failed to load profile", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	checkout, err := a.billing.CreateCheckoutSession(userID)
	if err != nil {
		a.logger.Errorw("Failed to create Stripe session", "user_id", userID, "error", err)
		writeError(w, http.StatusBadGateway, "failed to create checkout session")
		return
	}

	p := &models.Payment{
		UserID:          userID,
		Amount:          checkout.Amount,
		Currency:        checkout.Currency,
		StripeSessionID: checkout.SessionID,
		Status:          models.PaymentPending,
	}
	if err := a.store.SavePayment(r.Context(), p); err != nil {
		// the webhook records the payment if this row is missing
		a.logger.Errorw("Failed to save payment record", "session_id", checkout.SessionID, "error", err)
	}

	writeJSON(w, http.StatusOK, checkoutResponse{SessionID: checkout.SessionID, URL: checkout.URL})
}

func (a *api) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		a.logger.Errorw("Failed to read webhook body", "error", err)
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	if a.billing == nil {
		a.logger.Errorw("Webhook received but billing is not configured")
		http.Error(w, "Webhook not configured", http.StatusInternalServerError)
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		a.logger.Warnw("Missing Stripe signature header")
		http.Error(w, "Missing signature", http.StatusBadRequest)
		return
	}

	event, err := a.billing.VerifyWebhookSignature(body, signature)
	if errors.Is(err, payment.ErrNotConfigured) {
		a.logger.Errorw("Webhook secret is not configured")
		http.Error(w, "Webhook not configured", http.StatusInternalServerError)
		return
	}
	if err != nil {
		a.logger.Warnw("Failed to verify webhook signature", "error", err)
		http.Error(w, "Invalid signature", http.StatusBadRequest)
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		checkout, err := payment.ParseCompletedCheckout(event)
		if err != nil {
			a.logger.Errorw("Failed to parse checkout session", "event_id", event.ID, "error", err)
			http.Error(w, "Failed to parse event data", http.StatusBadRequest)
			return
		}
		if !checkout.Paid {
			a.logger.Infow("Checkout completed without payment yet", "session_id", checkout.SessionID)
			break
		}
		if err := a.grantPremium(r, checkout); err != nil {
			a.logger.Errorw("Failed to grant premium", "session_id", checkout.SessionID, "user_id", checkout.UserID, "error", err)
			http.Error(w, "Failed to process payment", http.StatusInternalServerError)
			return
		}
		a.logger.Infow("Premium granted", "user_id", checkout.UserID, "session_id", checkout.SessionID)

	case "payment_intent.payment_failed":
		a.logger.Warnw("Payment failed", "event_id", event.ID)

	default:
		a.logger.Debugw("Ignoring webhook event", "type", event.Type)
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Webhook received"))
}

// grantPremium is idempotent so that Stripe redeliveries are harmless.
func (a *api) grantPremium(r *http.Request, checkout *payment.CompletedCheckout) error {
	ctx := r.Context()

	err := a.store.UpdatePaymentStatus(ctx, checkout.SessionID, models.PaymentCompleted)
	if errors.Is(err, models.ErrNotFound) {
		err = a.store.SavePayment(ctx, &models.Payment{
			UserID:          checkout.UserID,
			Amount:          checkout.Amount,
			Currency:        checkout.Currency,
			StripeSessionID: checkout.SessionID,
			Status:          models.PaymentCompleted,
		})
	}
	if err != nil {
		return err
	}

	err = a.store.SetPremium(ctx, checkout.UserID, true)
	if errors.Is(err, models.ErrNotFound) {
		a.logger.Warnw("Paid checkout for unknown user", "user_id", checkout.UserID)
		return nil
	}
	return err
}
