package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/diagnosis/afyaplus/internal/utils"
	"github.com/diagnosis/afyaplus/pkg/events"
	"github.com/diagnosis/afyaplus/pkg/logger"
	"github.com/diagnosis/afyaplus/pkg/notify"
	"github.com/diagnosis/afyaplus/services/api/internal/domain"
	"github.com/diagnosis/afyaplus/services/api/internal/repository"
)

// MarketplaceService runs the request/offer lifecycle.
type MarketplaceService interface {
	CreateRequest(ctx context.Context, patient *domain.User, req *domain.CreateRequestReq) (*domain.Request, error)
	ListOpenRequests(ctx context.Context, limit, offset int) ([]domain.Request, error)
	ListPatientRequests(ctx context.Context, patient *domain.User, limit, offset int) ([]domain.Request, error)
	CreateOffer(ctx context.Context, doctor *domain.User, requestID int64, req domain.CreateOfferReq) (*domain.Offer, error)
	AcceptOffer(ctx context.Context, patient *domain.User, offerID int64) (*domain.Acceptance, error)
}

type marketplaceService struct {
	requestRepo repository.RequestRepository
	userRepo    repository.UserRepository
	dispatcher  notify.Dispatcher
	publisher   events.Publisher
	currency    string
	now         Clock
}

func NewMarketplaceService(
	requestRepo repository.RequestRepository,
	userRepo repository.UserRepository,
	dispatcher notify.Dispatcher,
	publisher events.Publisher,
	currency string,
	now Clock,
) MarketplaceService {
	return &marketplaceService{
		requestRepo: requestRepo,
		userRepo:    userRepo,
		dispatcher:  dispatcher,
		publisher:   publisher,
		currency:    currency,
		now:         orSystemClock(now),
	}
}

func (s *marketplaceService) CreateRequest(ctx context.Context, patient *domain.User, req *domain.CreateRequestReq) (*domain.Request, error) {
	if patient == nil {
		return nil, domain.ErrUnauthenticated
	}
	symptoms := utils.NormalizeString(req.Symptoms)
	if symptoms == "" {
		return nil, domain.NewValidationError("symptoms", "is required")
	}
	if req.Latitude == nil || req.Longitude == nil {
		return nil, domain.NewValidationError("location", "latitude and longitude are required")
	}

	created, err := s.requestRepo.Create(ctx, &domain.Request{
		PatientID: patient.ID,
		Symptoms:  symptoms,
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
		Address:   utils.NormalizeString(req.Address),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	event := events.RequestCreatedEvent{
		RequestID: created.ID,
		PatientID: created.PatientID,
		Latitude:  created.Latitude,
		Longitude: created.Longitude,
		CreatedAt: created.CreatedAt,
	}
	if err := s.publisher.Publish(ctx, events.RequestCreated, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish request created event", logger.Err(err), "request_id", created.ID)
	}

	return created, nil
}

func (s *marketplaceService) ListOpenRequests(ctx context.Context, limit, offset int) ([]domain.Request, error) {
	requests, err := s.requestRepo.ListOpen(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list open requests: %w", err)
	}
	return requests, nil
}

func (s *marketplaceService) ListPatientRequests(ctx context.Context, patient *domain.User, limit, offset int) ([]domain.Request, error) {
	if patient == nil {
		return nil, domain.ErrUnauthenticated
	}
	requests, err := s.requestRepo.ListByPatient(ctx, patient.ID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list patient requests: %w", err)
	}
	return requests, nil
}

func (s *marketplaceService) CreateOffer(ctx context.Context, doctor *domain.User, requestID int64, req domain.CreateOfferReq) (*domain.Offer, error) {
	if doctor == nil {
		return nil, domain.ErrUnauthenticated
	}
	in, err := req.Validate()
	if err != nil {
		return nil, err
	}

	offer, request, err := s.requestRepo.CreateOffer(ctx, requestID, doctor.ID, in)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}

	logger.InfoContext(ctx, "Offer created", "offer_id", offer.ID, "request_id", request.ID, "price", offer.Price)

	event := events.OfferCreatedEvent{
		OfferID:    offer.ID,
		RequestID:  offer.RequestID,
		DoctorID:   offer.DoctorID,
		Price:      offer.Price,
		ETAMinutes: offer.ETAMinutes,
		CreatedAt:  offer.CreatedAt,
	}
	if err := s.publisher.Publish(ctx, events.OfferCreated, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish offer created event", logger.Err(err), "offer_id", offer.ID)
	}

	s.notifyUser(ctx, request.PatientID, notify.Message{
		Type:  "new_offer",
		Title: "New Offer",
		Body:  fmt.Sprintf("A doctor has offered to visit you (%s %d).", s.currency, offer.Price),
		Data: map[string]string{
			"type":       "new_offer",
			"offer_id":   strconv.FormatInt(offer.ID, 10),
			"request_id": strconv.FormatInt(offer.RequestID, 10),
			"price":      strconv.FormatInt(offer.Price, 10),
		},
	})

	return offer, nil
}

func (s *marketplaceService) AcceptOffer(ctx context.Context, patient *domain.User, offerID int64) (*domain.Acceptance, error) {
	if patient == nil {
		return nil, domain.ErrUnauthenticated
	}

	acc, err := s.requestRepo.AcceptOffer(ctx, offerID, patient.ID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrForbidden), errors.Is(err, domain.ErrConflict):
			return nil, err
		default:
			return nil, fmt.Errorf("failed to accept offer: %w", err)
		}
	}

	logger.InfoContext(ctx, "Offer accepted",
		"offer_id", acc.Offer.ID,
		"request_id", acc.Request.ID,
		"rejected", len(acc.Rejected),
	)

	rejectedIDs := make([]int64, 0, len(acc.Rejected))
	for _, o := range acc.Rejected {
		rejectedIDs = append(rejectedIDs, o.ID)
	}
	event := events.OfferAcceptedEvent{
		OfferID:          acc.Offer.ID,
		RequestID:        acc.Request.ID,
		PatientID:        acc.Request.PatientID,
		DoctorID:         acc.Offer.DoctorID,
		RejectedOfferIDs: rejectedIDs,
		AcceptedAt:       s.now(),
	}
	if err := s.publisher.Publish(ctx, events.OfferAccepted, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish offer accepted event", logger.Err(err), "offer_id", acc.Offer.ID)
	}

	s.notifyUser(ctx, acc.Offer.DoctorID, notify.Message{
		Type:  "offer_accepted",
		Title: "Offer Accepted",
		Body:  "Your offer was accepted by the patient.",
		Data: map[string]string{
			"type":       "offer_accepted",
			"offer_id":   strconv.FormatInt(acc.Offer.ID, 10),
			"request_id": strconv.FormatInt(acc.Request.ID, 10),
		},
	})
	for _, o := range acc.Rejected {
		s.notifyUser(ctx, o.DoctorID, notify.Message{
			Type:  "offer_rejected",
			Title: "Offer Declined",
			Body:  "The patient chose another doctor for this request.",
			Data: map[string]string{
				"type":       "offer_rejected",
				"offer_id":   strconv.FormatInt(o.ID, 10),
				"request_id": strconv.FormatInt(o.RequestID, 10),
			},
		})
	}

	return acc, nil
}

// notifyUser fills in the recipient's delivery routes and hands the message
// off. Lookup failures are logged and the notification is dropped.
func (s *marketplaceService) notifyUser(ctx context.Context, userID int64, msg notify.Message) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to load notification recipient", logger.Err(err), "recipient", userID)
		return
	}
	if user == nil || (user.PushToken == "" && user.Email == "") {
		logger.DebugContext(ctx, "Recipient has no delivery route", "recipient", userID, "type", msg.Type)
		return
	}

	msg.Recipient = user.ID
	msg.Token = user.PushToken
	msg.Email = user.Email
	s.dispatcher.Dispatch(ctx, msg)
}
