package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/diagnosis/afyaplus/internal/http/response"
	"github.com/diagnosis/afyaplus/pkg/logger"
	"github.com/diagnosis/afyaplus/services/api/internal/domain"
	"github.com/diagnosis/afyaplus/services/api/internal/service"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const maxWebhookBytes = 65536

// BillingWebhook handles POST /subscriptions/billing/webhook
func (h *Handlers) BillingWebhook(w http.ResponseWriter, r *http.Request) {
	if h.opts.StripeWebhookSecret == "" {
		response.ServiceUnavailable(w, "Billing webhook is not configured")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		response.BadRequest(w, "Unreadable payload")
		return
	}

	// Only ids and metadata are read from the payload, which every API version carries.
	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), h.opts.StripeWebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		logger.WarnContext(r.Context(), "Rejected billing webhook", logger.Err(err))
		response.BadRequest(w, "Invalid signature")
		return
	}

	if err := h.applyBillingEvent(r.Context(), event); err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrValidation) {
			// Nothing to retry against; acknowledge so the provider stops resending.
			logger.WarnContext(r.Context(), "Billing event ignored",
				"event_id", event.ID, "type", event.Type, logger.Err(err))
			response.JSON(w, http.StatusOK, map[string]bool{"received": true})
			return
		}
		logger.ErrorContext(r.Context(), "Billing event failed",
			"event_id", event.ID, "type", event.Type, logger.Err(err))
		response.InternalError(w, "Internal server error")
		return
	}

	response.JSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *Handlers) applyBillingEvent(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		ref, err := billingRef(subscriptionID(inv.Subscription), inv.Metadata)
		if err != nil {
			return err
		}
		if event.Type == "invoice.payment_succeeded" {
			_, err = h.subscriptions.PaymentSucceeded(ctx, ref)
		} else {
			_, err = h.subscriptions.PaymentFailed(ctx, ref)
		}
		return err

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		ref, err := billingRef(sub.ID, sub.Metadata)
		if err != nil {
			return err
		}
		_, err = h.subscriptions.BillingCanceled(ctx, ref)
		return err

	default:
		logger.DebugContext(ctx, "Unhandled billing event", "type", event.Type)
		return nil
	}
}

func subscriptionID(s *stripe.Subscription) string {
	if s == nil {
		return ""
	}
	return s.ID
}

func billingRef(subID string, metadata map[string]string) (service.BillingRef, error) {
	ref := service.BillingRef{SubscriptionID: subID}
	if raw := metadata["user_id"]; raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return ref, domain.NewValidationError("metadata.user_id", "must be an integer")
		}
		ref.UserID = id
	}
	if ref.SubscriptionID == "" && ref.UserID == 0 {
		return ref, domain.NewValidationError("subscription", "event carries no subscription reference")
	}
	return ref, nil
}
