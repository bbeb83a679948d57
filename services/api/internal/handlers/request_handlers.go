package handlers

import (
	"net/http"

	"github.com/diagnosis/afyaplus/internal/http/response"
	"github.com/diagnosis/afyaplus/pkg/logger"
	"github.com/diagnosis/afyaplus/services/api/internal/domain"
)

// CreateRequest handles POST /requests
func (h *Handlers) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateRequestReq
	if err := h.decode(w, r, &req); err != nil {
		fail(w, r, err, "")
		return
	}

	created, err := h.marketplace.CreateRequest(r.Context(), currentUser(r), &req)
	if err != nil {
		fail(w, r, err, "Request not found")
		return
	}

	logger.InfoContext(r.Context(), "Request created", "request_id", created.ID)
	response.JSON(w, http.StatusCreated, created.DTO())
}

// ListMyRequests handles GET /requests
func (h *Handlers) ListMyRequests(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	requests, err := h.marketplace.ListPatientRequests(r.Context(), currentUser(r), limit, offset)
	if err != nil {
		fail(w, r, err, "")
		return
	}
	response.JSON(w, http.StatusOK, requestDTOs(requests))
}

// ListOpenRequests handles GET /requests/open
func (h *Handlers) ListOpenRequests(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	requests, err := h.marketplace.ListOpenRequests(r.Context(), limit, offset)
	if err != nil {
		fail(w, r, err, "")
		return
	}
	response.JSON(w, http.StatusOK, requestDTOs(requests))
}

func requestDTOs(requests []domain.Request) []domain.RequestDTO {
	out := make([]domain.RequestDTO, 0, len(requests))
	for i := range requests {
		out = append(out, requests[i].DTO())
	}
	return out
}

// CreateOffer handles POST /requests/{id}/offers
func (h *Handlers) CreateOffer(w http.ResponseWriter, r *http.Request) {
	requestID, err := pathID(r)
	if err != nil {
		fail(w, r, err, "")
		return
	}

	var req domain.CreateOfferReq
	if err := h.decode(w, r, &req); err != nil {
		fail(w, r, err, "")
		return
	}

	offer, err := h.marketplace.CreateOffer(r.Context(), currentUser(r), requestID, req)
	if err != nil {
		fail(w, r, err, "Request not found or no longer open")
		return
	}

	logger.InfoContext(r.Context(), "Offer created", "request_id", requestID, "offer_id", offer.ID)
	response.JSON(w, http.StatusCreated, offer.DTO())
}

// AcceptOffer handles POST /offers/{id}/accept
func (h *Handlers) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	offerID, err := pathID(r)
	if err != nil {
		fail(w, r, err, "")
		return
	}

	acceptance, err := h.marketplace.AcceptOffer(r.Context(), currentUser(r), offerID)
	if err != nil {
		fail(w, r, err, "Offer not found or no longer pending")
		return
	}

	logger.InfoContext(r.Context(), "Offer accepted",
		"request_id", acceptance.Request.ID,
		"offer_id", offerID,
		"rejected", len(acceptance.Rejected))
	response.JSON(w, http.StatusOK, acceptance.DTO())
}
