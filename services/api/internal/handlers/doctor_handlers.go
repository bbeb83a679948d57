package handlers

import (
	"net/http"

	"github.com/diagnosis/afyaplus/internal/http/response"
	"github.com/diagnosis/afyaplus/services/api/internal/domain"
)

// RegisterDoctor handles POST /doctors/register. Re-registering overwrites.
func (h *Handlers) RegisterDoctor(w http.ResponseWriter, r *http.Request) {
	var req domain.DoctorRegistrationReq
	if err := h.decode(w, r, &req); err != nil {
		fail(w, r, err, "")
		return
	}

	profile, err := h.profiles.RegisterDoctor(r.Context(), currentUser(r), &req)
	if err != nil {
		fail(w, r, err, "")
		return
	}
	response.JSON(w, http.StatusOK, profile)
}

// GetDoctorProfile handles GET /doctors/me
func (h *Handlers) GetDoctorProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.profiles.GetDoctorProfile(r.Context(), currentUser(r))
	if err != nil {
		fail(w, r, err, "Doctor profile not found")
		return
	}
	response.JSON(w, http.StatusOK, profile)
}
