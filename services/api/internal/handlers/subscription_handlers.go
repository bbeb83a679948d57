package handlers

import (
	"net/http"

	"github.com/diagnosis/afyaplus/internal/http/response"
	"github.com/diagnosis/afyaplus/pkg/logger"
	"github.com/diagnosis/afyaplus/services/api/internal/domain"
)

// SubscriptionStatus handles GET /subscriptions/status
func (h *Handlers) SubscriptionStatus(w http.ResponseWriter, r *http.Request) {
	view, err := h.subscriptions.Status(r.Context(), currentUser(r).ID)
	if err != nil {
		fail(w, r, err, "Subscription not found")
		return
	}
	response.JSON(w, http.StatusOK, view)
}

// SaveFCMToken handles POST /subscriptions/fcm-token and its legacy alias.
func (h *Handlers) SaveFCMToken(w http.ResponseWriter, r *http.Request) {
	var req domain.FCMTokenReq
	if err := h.decode(w, r, &req); err != nil {
		fail(w, r, err, "")
		return
	}

	if err := h.profiles.SavePushToken(r.Context(), currentUser(r), req.Token); err != nil {
		fail(w, r, err, "User not found")
		return
	}

	logger.DebugContext(r.Context(), "Push token saved")
	response.JSON(w, http.StatusOK, map[string]string{"status": "FCM token saved successfully"})
}

// CancelSubscription handles POST /subscriptions/cancel
func (h *Handlers) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.subscriptions.Cancel(r.Context(), currentUser(r).ID)
	if err != nil {
		fail(w, r, err, "Subscription not found")
		return
	}
	response.JSON(w, http.StatusOK, sub.View())
}
