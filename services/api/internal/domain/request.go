package domain

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

type RequestStatus string

const (
	RequestOpen   RequestStatus = "open"
	RequestClosed RequestStatus = "closed"
)

type OfferStatus string

const (
	OfferPending  OfferStatus = "pending"
	OfferAccepted OfferStatus = "accepted"
	OfferRejected OfferStatus = "rejected"
)

type Request struct {
	ID          int64
	PatientID   int64
	PatientName string
	Symptoms    string
	Latitude    float64
	Longitude   float64
	Address     string
	Status      RequestStatus
	CreatedAt   time.Time
	ClosedAt    *time.Time
	Offers      []Offer
}

func (r *Request) IsOpen() bool {
	return r.Status == RequestOpen
}

func (r *Request) IsOwnedBy(userID int64) bool {
	return r.PatientID == userID
}

type Offer struct {
	ID         int64
	RequestID  int64
	DoctorID   int64
	DoctorName string
	Price      int64
	ETAMinutes int
	Message    string
	Status     OfferStatus
	CreatedAt  time.Time
}

func (o *Offer) IsPending() bool {
	return o.Status == OfferPending
}

// Acceptance is the outcome of a successful accept: the winning offer, the
// now-closed request and the siblings that were rejected with it.
type Acceptance struct {
	Offer    Offer
	Request  Request
	Rejected []Offer
}

// CheckAccept applies the accept rules in order: ownership, request state,
// offer state. Callers must hold whatever lock serialises the request.
func CheckAccept(req *Request, offer *Offer, patientID int64) error {
	if !req.IsOwnedBy(patientID) {
		return ErrForbidden
	}
	if !req.IsOpen() {
		return ErrConflict
	}
	if !offer.IsPending() {
		return ErrNotFound
	}
	return nil
}

// Business rules
const (
	MaxMessageLength = 1000
	MaxETAMinutes    = 24 * 60
)

type CreateRequestReq struct {
	Symptoms  string   `json:"symptoms" validate:"required,max=2000"`
	Latitude  *float64 `json:"latitude" validate:"required,latitude"`
	Longitude *float64 `json:"longitude" validate:"required,longitude"`
	Address   string   `json:"address" validate:"omitempty,max=255"`
}

// CreateOfferReq accepts price and eta as JSON numbers or numeric strings.
type CreateOfferReq struct {
	Price      json.Number `json:"price"`
	ETAMinutes json.Number `json:"eta_minutes"`
	Message    string      `json:"message"`
}

// OfferInput is a validated offer.
type OfferInput struct {
	Price      int64
	ETAMinutes int
	Message    string
}

func (r CreateOfferReq) Validate() (OfferInput, error) {
	price, err := parseWhole("price", r.Price)
	if err != nil {
		return OfferInput{}, err
	}
	if price <= 0 {
		return OfferInput{}, NewValidationError("price", "must be a positive amount")
	}

	eta, err := parseWhole("eta_minutes", r.ETAMinutes)
	if err != nil {
		return OfferInput{}, err
	}
	if eta < 0 || eta > MaxETAMinutes {
		return OfferInput{}, NewValidationError("eta_minutes", "must be between 0 and 1440")
	}

	msg := strings.TrimSpace(r.Message)
	if len(msg) > MaxMessageLength {
		return OfferInput{}, NewValidationError("message", "is too long")
	}
	return OfferInput{Price: price, ETAMinutes: int(eta), Message: msg}, nil
}

// parseWhole accepts integral values, including "5000" and 5000.0.
func parseWhole(field string, n json.Number) (int64, error) {
	s := strings.TrimSpace(n.String())
	if s == "" {
		return 0, NewValidationError(field, "is required")
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, NewValidationError(field, "must be a number")
	}
	if f != float64(int64(f)) {
		return 0, NewValidationError(field, "must be a whole number")
	}
	return int64(f), nil
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type OfferDTO struct {
	ID         int64     `json:"id"`
	RequestID  int64     `json:"request_id"`
	DoctorID   int64     `json:"doctor_id"`
	DoctorName string    `json:"doctor_name"`
	Price      int64     `json:"price"`
	ETAMinutes int       `json:"eta_minutes"`
	Message    string    `json:"message"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

type RequestDTO struct {
	ID          int64      `json:"id"`
	PatientID   int64      `json:"patient_id"`
	PatientName string     `json:"patient_name"`
	Symptoms    string     `json:"symptoms"`
	Latitude    float64    `json:"latitude"`
	Longitude   float64    `json:"longitude"`
	Address     string     `json:"address"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	Offers      []OfferDTO `json:"offers"`
}

type AcceptanceDTO struct {
	Message         string    `json:"message"`
	RequestID       int64     `json:"request_id"`
	OfferID         int64     `json:"offer_id"`
	PatientLocation Location  `json:"patient_location"`
	DoctorLocation  *Location `json:"doctor_location"`
}

func (o *Offer) DTO() OfferDTO {
	return OfferDTO{
		ID:         o.ID,
		RequestID:  o.RequestID,
		DoctorID:   o.DoctorID,
		DoctorName: o.DoctorName,
		Price:      o.Price,
		ETAMinutes: o.ETAMinutes,
		Message:    o.Message,
		Status:     string(o.Status),
		CreatedAt:  o.CreatedAt,
	}
}

func (r *Request) DTO() RequestDTO {
	offers := make([]OfferDTO, 0, len(r.Offers))
	for i := range r.Offers {
		offers = append(offers, r.Offers[i].DTO())
	}
	return RequestDTO{
		ID:          r.ID,
		PatientID:   r.PatientID,
		PatientName: r.PatientName,
		Symptoms:    r.Symptoms,
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
		Address:     r.Address,
		Status:      string(r.Status),
		CreatedAt:   r.CreatedAt,
		Offers:      offers,
	}
}

func (a *Acceptance) DTO() AcceptanceDTO {
	return AcceptanceDTO{
		Message:   "Offer accepted",
		RequestID: a.Request.ID,
		OfferID:   a.Offer.ID,
		PatientLocation: Location{
			Latitude:  a.Request.Latitude,
			Longitude: a.Request.Longitude,
		},
	}
}
