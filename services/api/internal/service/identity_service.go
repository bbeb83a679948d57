package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/diagnosis/afyaplus/internal/utils"
	"github.com/diagnosis/afyaplus/pkg/auth"
	"github.com/diagnosis/afyaplus/pkg/logger"
	"github.com/diagnosis/afyaplus/services/api/internal/domain"
	"github.com/diagnosis/afyaplus/services/api/internal/repository"
)

// IdentityService maps bearer credentials to local users.
type IdentityService interface {
	Resolve(ctx context.Context, credential string) (*domain.User, error)
}

type identityService struct {
	verifier auth.Verifier
	userRepo repository.UserRepository
}

func NewIdentityService(verifier auth.Verifier, userRepo repository.UserRepository) IdentityService {
	return &identityService{verifier: verifier, userRepo: userRepo}
}

func (s *identityService) Resolve(ctx context.Context, credential string) (*domain.User, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, domain.ErrUnauthenticated
	}

	id, err := s.verifier.Verify(ctx, credential)
	if err != nil {
		if errors.Is(err, auth.ErrVerifierUnavailable) {
			return nil, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}

	user, created, err := s.userRepo.GetOrCreate(ctx, &domain.User{
		Origin:      domain.OriginFirebase,
		ExternalID:  id.Subject,
		DisplayName: displayName(id),
		Email:       utils.NormalizeEmail(id.Email),
		Phone:       utils.NormalizePhone(id.Phone),
	})
	if err != nil {
		return nil, fmt.Errorf("provision user: %w", err)
	}

	if created {
		logger.InfoContext(ctx, "Provisioned user", "user_id", user.ID, "origin", user.Origin)
	} else if user.Email == "" && id.Email != "" {
		email := utils.NormalizeEmail(id.Email)
		if err := s.userRepo.BackfillEmail(ctx, user.ID, email); err != nil {
			logger.WarnContext(ctx, "Failed to backfill user email", logger.Err(err), "user_id", user.ID)
		} else {
			user.Email = email
		}
	}
	return user, nil
}

func displayName(id *auth.Identity) string {
	if name := utils.NormalizeString(id.Name); name != "" {
		return name
	}
	if local, _, ok := strings.Cut(id.Email, "@"); ok && local != "" {
		return local
	}
	return id.Subject
}

// PhoneResolver provisions users keyed by phone number. The telecom gateway is
// the only authority for these identities; nothing on the bearer-token API
// surface receives this resolver.
type PhoneResolver interface {
	ResolveByPhone(ctx context.Context, phone string) (*domain.User, error)
}

type phoneResolver struct {
	userRepo repository.UserRepository
}

func NewPhoneResolver(userRepo repository.UserRepository) PhoneResolver {
	return &phoneResolver{userRepo: userRepo}
}

func (r *phoneResolver) ResolveByPhone(ctx context.Context, phone string) (*domain.User, error) {
	phone = utils.NormalizePhone(phone)
	if !utils.IsValidPhone(phone) {
		return nil, domain.NewValidationError("phoneNumber", "is not a valid phone number")
	}

	user, created, err := r.userRepo.GetOrCreate(ctx, &domain.User{
		Origin:      domain.OriginUSSD,
		ExternalID:  phone,
		DisplayName: domain.USSDUsername(phone),
		Phone:       phone,
	})
	if err != nil {
		return nil, fmt.Errorf("provision ussd user: %w", err)
	}
	if created {
		logger.InfoContext(ctx, "Provisioned USSD user", "user_id", user.ID)
	}
	return user, nil
}
