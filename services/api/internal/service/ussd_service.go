package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/diagnosis/afyaplus/pkg/logger"
	"github.com/diagnosis/afyaplus/services/api/internal/domain"
)

// USSDService answers gateway callbacks. It keeps no session state: every
// turn is recomputed from the subscription record and the accumulated text.
type USSDService interface {
	Handle(ctx context.Context, session domain.USSDSession) string
}

type ussdService struct {
	phones        PhoneResolver
	subscriptions SubscriptionService
	productName   string
	days          int
	now           Clock
}

func NewUSSDService(phones PhoneResolver, subscriptions SubscriptionService, productName string, days int, now Clock) USSDService {
	return &ussdService{
		phones:        phones,
		subscriptions: subscriptions,
		productName:   productName,
		days:          days,
		now:           orSystemClock(now),
	}
}

func (s *ussdService) Handle(ctx context.Context, session domain.USSDSession) string {
	text := strings.TrimSpace(session.Text)
	logger.InfoContext(ctx, "USSD incoming", "session_id", session.SessionID, "text", text)

	if strings.TrimSpace(session.PhoneNumber) == "" {
		return domain.USSDMsgError
	}

	user, err := s.phones.ResolveByPhone(ctx, session.PhoneNumber)
	if err != nil {
		logger.ErrorContext(ctx, "USSD user lookup failed", logger.Err(err), "session_id", session.SessionID)
		return domain.USSDMsgError
	}

	sub, err := s.subscriptions.Get(ctx, user.ID)
	if err != nil {
		logger.ErrorContext(ctx, "USSD subscription lookup failed", logger.Err(err), "user_id", user.ID)
		return domain.USSDMsgError
	}

	switch text {
	case "":
		return s.menu()
	case domain.USSDOptionSubscribe:
		if _, err := s.subscriptions.Activate(ctx, user.ID, "ussd"); err != nil {
			logger.ErrorContext(ctx, "USSD activation failed", logger.Err(err), "user_id", user.ID)
			return domain.USSDMsgError
		}
		return domain.USSDMsgSubscribed
	case domain.USSDOptionStatus:
		if sub.IsActive(s.now()) {
			return fmt.Sprintf("%sYour %s cover is ACTIVE until %s",
				domain.USSDEnd, s.productName, sub.ValidUntil.Format(domain.USSDDateLayout))
		}
		return fmt.Sprintf("%sYour %s cover is INACTIVE.", domain.USSDEnd, s.productName)
	default:
		return domain.USSDMsgInvalidChoice
	}
}

func (s *ussdService) menu() string {
	period := "1 Week"
	if s.days != 7 {
		period = fmt.Sprintf("%d Days", s.days)
	}
	return fmt.Sprintf("%sWelcome to %s\n1. Subscribe (%s)\n2. Check My Status", domain.USSDContinue, s.productName, period)
}
