package domain

import "time"

type SubscriptionStatus string

const (
	SubscriptionInactive SubscriptionStatus = "INACTIVE"
	SubscriptionActive   SubscriptionStatus = "ACTIVE"
	SubscriptionPaused   SubscriptionStatus = "PAUSED"
	SubscriptionCanceled SubscriptionStatus = "CANCELED"
)

func ParseSubscriptionStatus(s string) (SubscriptionStatus, bool) {
	switch SubscriptionStatus(s) {
	case SubscriptionInactive, SubscriptionActive, SubscriptionPaused, SubscriptionCanceled:
		return SubscriptionStatus(s), true
	default:
		return "", false
	}
}

type Subscription struct {
	UserID                     int64
	Status                     SubscriptionStatus
	StartDate                  *time.Time
	ValidUntil                 *time.Time
	ConsecutivePaymentFailures int
	BillingSubscriptionID      string
	CreatedAt                  time.Time
	UpdatedAt                  time.Time
}

// NewSubscription is the initial state: inactive, no dates.
func NewSubscription(userID int64) *Subscription {
	return &Subscription{UserID: userID, Status: SubscriptionInactive}
}

// Expired reports an ACTIVE subscription whose cover ended strictly before now.
func (s *Subscription) Expired(now time.Time) bool {
	return s.Status == SubscriptionActive && s.ValidUntil != nil && s.ValidUntil.Before(now)
}

// Normalize applies lazy expiry and reports whether anything changed.
func (s *Subscription) Normalize(now time.Time) bool {
	if !s.Expired(now) {
		return false
	}
	s.Status = SubscriptionInactive
	return true
}

// IsActive is true only for ACTIVE cover that has not lapsed at now.
func (s *Subscription) IsActive(now time.Time) bool {
	return s.Status == SubscriptionActive && !s.Expired(now)
}

// Activate starts a fresh cover period of days from now.
func (s *Subscription) Activate(now time.Time, days int) {
	start := now
	until := now.AddDate(0, 0, days)
	s.Status = SubscriptionActive
	s.StartDate = &start
	s.ValidUntil = &until
	s.ConsecutivePaymentFailures = 0
}

// RecordPaymentFailure counts a failed renewal and pauses cover once
// graceFailures consecutive failures are reached.
func (s *Subscription) RecordPaymentFailure(graceFailures int) {
	s.ConsecutivePaymentFailures++
	if graceFailures > 0 && s.ConsecutivePaymentFailures >= graceFailures && s.Status != SubscriptionCanceled {
		s.Status = SubscriptionPaused
	}
}

func (s *Subscription) Cancel() {
	s.Status = SubscriptionCanceled
}

// View is the client-facing projection. Billing ids and counters stay internal.
type SubscriptionView struct {
	Status     SubscriptionStatus `json:"status"`
	StartDate  *time.Time         `json:"start_date"`
	ValidUntil *time.Time         `json:"valid_until"`
}

func (s *Subscription) View() SubscriptionView {
	return SubscriptionView{
		Status:     s.Status,
		StartDate:  s.StartDate,
		ValidUntil: s.ValidUntil,
	}
}

type FCMTokenReq struct {
	Token string `json:"token" validate:"required,max=4096"`
}
