// Package memstore keeps every aggregate in process memory behind one mutex.
// It implements the repository contracts for local runs and tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/diagnosis/afyaplus/services/api/internal/domain"
	"github.com/diagnosis/afyaplus/services/api/internal/repository"
)

type Store struct {
	mu  sync.Mutex
	now func() time.Time

	nextUserID    int64
	nextRequestID int64
	nextOfferID   int64

	users         map[int64]*domain.User
	identities    map[identityKey]int64
	doctors       map[int64]*domain.DoctorProfile
	requests      map[int64]*domain.Request
	offers        map[int64]*domain.Offer
	subscriptions map[int64]*domain.Subscription
}

type identityKey struct {
	origin     domain.IdentityOrigin
	externalID string
}

func New() *Store {
	return &Store{
		now:           func() time.Time { return time.Now().UTC() },
		users:         make(map[int64]*domain.User),
		identities:    make(map[identityKey]int64),
		doctors:       make(map[int64]*domain.DoctorProfile),
		requests:      make(map[int64]*domain.Request),
		offers:        make(map[int64]*domain.Offer),
		subscriptions: make(map[int64]*domain.Subscription),
	}
}

// WithClock replaces the timestamp source. Offers and requests created in the
// same instant still order by id.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Users() repository.UserRepository                 { return (*users)(s) }
func (s *Store) Doctors() repository.DoctorRepository             { return (*doctors)(s) }
func (s *Store) Requests() repository.RequestRepository           { return (*requests)(s) }
func (s *Store) Subscriptions() repository.SubscriptionRepository { return (*subscriptions)(s) }

type users Store

func (u *users) GetOrCreate(_ context.Context, in *domain.User) (*domain.User, bool, error) {
	s := (*Store)(u)
	s.mu.Lock()
	defer s.mu.Unlock()

	key := identityKey{in.Origin, in.ExternalID}
	if id, ok := s.identities[key]; ok {
		cp := *s.users[id]
		return &cp, false, nil
	}

	s.nextUserID++
	now := s.now()
	user := *in
	user.ID = s.nextUserID
	user.CreatedAt = now
	user.UpdatedAt = now
	s.users[user.ID] = &user
	s.identities[key] = user.ID

	cp := user
	return &cp, true, nil
}

func (u *users) FindByID(_ context.Context, id int64) (*domain.User, error) {
	s := (*Store)(u)
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *user
	return &cp, nil
}

func (u *users) FindByExternalID(_ context.Context, origin domain.IdentityOrigin, externalID string) (*domain.User, error) {
	s := (*Store)(u)
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.identities[identityKey{origin, externalID}]
	if !ok {
		return nil, nil
	}
	cp := *s.users[id]
	return &cp, nil
}

func (u *users) BackfillEmail(_ context.Context, id int64, email string) error {
	s := (*Store)(u)
	s.mu.Lock()
	defer s.mu.Unlock()

	if user, ok := s.users[id]; ok && user.Email == "" {
		user.Email = email
		user.UpdatedAt = s.now()
	}
	return nil
}

func (u *users) SetPushToken(_ context.Context, id int64, token string) error {
	s := (*Store)(u)
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return domain.ErrNotFound
	}
	user.PushToken = token
	user.UpdatedAt = s.now()
	return nil
}

type doctors Store

func (d *doctors) Upsert(_ context.Context, p *domain.DoctorProfile) (*domain.DoctorProfile, error) {
	s := (*Store)(d)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	profile := *p
	profile.UpdatedAt = now
	if existing, ok := s.doctors[p.UserID]; ok {
		profile.CreatedAt = existing.CreatedAt
	} else {
		profile.CreatedAt = now
	}
	s.doctors[p.UserID] = &profile

	cp := profile
	return &cp, nil
}

func (d *doctors) FindByUserID(_ context.Context, userID int64) (*domain.DoctorProfile, error) {
	s := (*Store)(d)
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.doctors[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

type requests Store

func (r *requests) Create(_ context.Context, in *domain.Request) (*domain.Request, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextRequestID++
	req := *in
	req.ID = s.nextRequestID
	req.Status = domain.RequestOpen
	req.CreatedAt = s.now()
	req.ClosedAt = nil
	req.Offers = nil
	s.requests[req.ID] = &req

	return s.snapshotRequest(&req), nil
}

func (r *requests) ListOpen(_ context.Context, limit, offset int) ([]domain.Request, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Request
	for _, req := range s.requests {
		if req.IsOpen() {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return s.page(out, limit, offset), nil
}

func (r *requests) ListByPatient(_ context.Context, patientID int64, limit, offset int) ([]domain.Request, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Request
	for _, req := range s.requests {
		if req.PatientID == patientID {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return s.page(out, limit, offset), nil
}

func (r *requests) CreateOffer(_ context.Context, requestID, doctorID int64, in domain.OfferInput) (*domain.Offer, *domain.Request, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[requestID]
	if !ok || !req.IsOpen() {
		return nil, nil, domain.ErrNotFound
	}

	s.nextOfferID++
	o := &domain.Offer{
		ID:         s.nextOfferID,
		RequestID:  requestID,
		DoctorID:   doctorID,
		Price:      in.Price,
		ETAMinutes: in.ETAMinutes,
		Message:    in.Message,
		Status:     domain.OfferPending,
		CreatedAt:  s.now(),
	}
	s.offers[o.ID] = o

	cp := s.snapshotOffer(o)
	return &cp, s.snapshotRequest(req), nil
}

func (r *requests) AcceptOffer(_ context.Context, offerID, patientID int64) (*domain.Acceptance, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	offer, ok := s.offers[offerID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	req := s.requests[offer.RequestID]

	if err := domain.CheckAccept(req, offer, patientID); err != nil {
		return nil, err
	}

	now := s.now()
	offer.Status = domain.OfferAccepted
	req.Status = domain.RequestClosed
	req.ClosedAt = &now

	var rejected []domain.Offer
	for _, o := range s.offersOf(req.ID) {
		if o.ID != offerID && o.IsPending() {
			o.Status = domain.OfferRejected
			rejected = append(rejected, s.snapshotOffer(o))
		}
	}
	if rejected == nil {
		rejected = []domain.Offer{}
	}

	return &domain.Acceptance{
		Offer:    s.snapshotOffer(offer),
		Request:  *s.snapshotRequest(req),
		Rejected: rejected,
	}, nil
}

// offersOf returns the request's offers newest first. Caller holds mu.
func (s *Store) offersOf(requestID int64) []*domain.Offer {
	var out []*domain.Offer
	for _, o := range s.offers {
		if o.RequestID == requestID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (s *Store) snapshotOffer(o *domain.Offer) domain.Offer {
	cp := *o
	if p, ok := s.doctors[o.DoctorID]; ok && p.FullName != "" {
		cp.DoctorName = p.FullName
	} else if u, ok := s.users[o.DoctorID]; ok {
		cp.DoctorName = u.DisplayName
	}
	return cp
}

func (s *Store) snapshotRequest(req *domain.Request) *domain.Request {
	cp := *req
	if u, ok := s.users[req.PatientID]; ok {
		cp.PatientName = u.DisplayName
	}
	cp.Offers = []domain.Offer{}
	for _, o := range s.offersOf(req.ID) {
		cp.Offers = append(cp.Offers, s.snapshotOffer(o))
	}
	return &cp
}

func (s *Store) page(in []*domain.Request, limit, offset int) []domain.Request {
	out := []domain.Request{}
	if offset >= len(in) {
		return out
	}
	end := len(in)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	for _, req := range in[offset:end] {
		out = append(out, *s.snapshotRequest(req))
	}
	return out
}

type subscriptions Store

func (r *subscriptions) GetOrCreate(_ context.Context, userID int64) (*domain.Subscription, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[userID]
	if !ok {
		now := s.now()
		sub = domain.NewSubscription(userID)
		sub.CreatedAt = now
		sub.UpdatedAt = now
		s.subscriptions[userID] = sub
	}
	return copySubscription(sub), nil
}

func (r *subscriptions) Update(_ context.Context, userID int64, fn func(*domain.Subscription) error) (*domain.Subscription, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.subscriptions[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	sub := copySubscription(existing)
	if err := fn(sub); err != nil {
		return nil, err
	}
	if sub.BillingSubscriptionID != "" {
		for uid, other := range s.subscriptions {
			if uid != userID && other.BillingSubscriptionID == sub.BillingSubscriptionID {
				return nil, domain.ErrConflict
			}
		}
	}
	sub.UserID = userID
	sub.CreatedAt = existing.CreatedAt
	sub.UpdatedAt = s.now()
	s.subscriptions[userID] = sub
	return copySubscription(sub), nil
}

func (r *subscriptions) MarkExpired(_ context.Context, userID int64, observedValidUntil time.Time) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[userID]
	if !ok || sub.Status != domain.SubscriptionActive || sub.ValidUntil == nil || !sub.ValidUntil.Equal(observedValidUntil) {
		return false, nil
	}
	sub.Status = domain.SubscriptionInactive
	sub.UpdatedAt = s.now()
	return true, nil
}

func (r *subscriptions) FindByBillingID(_ context.Context, billingID string) (*domain.Subscription, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subscriptions {
		if sub.BillingSubscriptionID == billingID {
			return copySubscription(sub), nil
		}
	}
	return nil, nil
}

func copySubscription(in *domain.Subscription) *domain.Subscription {
	cp := *in
	if in.StartDate != nil {
		t := *in.StartDate
		cp.StartDate = &t
	}
	if in.ValidUntil != nil {
		t := *in.ValidUntil
		cp.ValidUntil = &t
	}
	return &cp
}
