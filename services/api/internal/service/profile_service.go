package service

import (
	"context"
	"fmt"

	"github.com/diagnosis/afyaplus/internal/utils"
	"github.com/diagnosis/afyaplus/pkg/logger"
	"github.com/diagnosis/afyaplus/services/api/internal/domain"
	"github.com/diagnosis/afyaplus/services/api/internal/repository"
)

// ProfileService covers doctor registration and device registration.
type ProfileService interface {
	RegisterDoctor(ctx context.Context, user *domain.User, req *domain.DoctorRegistrationReq) (*domain.DoctorProfile, error)
	GetDoctorProfile(ctx context.Context, user *domain.User) (*domain.DoctorProfile, error)
	SavePushToken(ctx context.Context, user *domain.User, token string) error
}

type profileService struct {
	doctorRepo repository.DoctorRepository
	userRepo   repository.UserRepository
}

func NewProfileService(doctorRepo repository.DoctorRepository, userRepo repository.UserRepository) ProfileService {
	return &profileService{doctorRepo: doctorRepo, userRepo: userRepo}
}

func (s *profileService) RegisterDoctor(ctx context.Context, user *domain.User, req *domain.DoctorRegistrationReq) (*domain.DoctorProfile, error) {
	if user == nil {
		return nil, domain.ErrUnauthenticated
	}
	fullName := utils.NormalizeString(req.FullName)
	if fullName == "" {
		return nil, domain.NewValidationError("full_name", "is required")
	}

	profile, err := s.doctorRepo.Upsert(ctx, &domain.DoctorProfile{
		UserID:   user.ID,
		FullName: fullName,
		Phone:    utils.NormalizePhone(req.Phone),
		Region:   utils.NormalizeString(req.Region),
		Location: utils.NormalizeString(req.Location),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register doctor: %w", err)
	}

	logger.InfoContext(ctx, "Doctor profile saved", "user_id", user.ID, "region", profile.Region)
	return profile, nil
}

func (s *profileService) GetDoctorProfile(ctx context.Context, user *domain.User) (*domain.DoctorProfile, error) {
	if user == nil {
		return nil, domain.ErrUnauthenticated
	}
	profile, err := s.doctorRepo.FindByUserID(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load doctor profile: %w", err)
	}
	if profile == nil {
		return nil, domain.ErrNotFound
	}
	return profile, nil
}

func (s *profileService) SavePushToken(ctx context.Context, user *domain.User, token string) error {
	if user == nil {
		return domain.ErrUnauthenticated
	}
	token = utils.NormalizeString(token)
	if token == "" {
		return domain.NewValidationError("token", "is required")
	}
	if err := s.userRepo.SetPushToken(ctx, user.ID, token); err != nil {
		return fmt.Errorf("failed to save push token: %w", err)
	}
	return nil
}
