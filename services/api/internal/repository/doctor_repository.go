package repository

import (
	"context"
	"errors"
	"time"

	"github.com/diagnosis/afyaplus/services/api/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DoctorRepository interface {
	Upsert(ctx context.Context, p *domain.DoctorProfile) (*domain.DoctorProfile, error)
	FindByUserID(ctx context.Context, userID int64) (*domain.DoctorProfile, error)
}

type doctorRepository struct {
	pool *pgxpool.Pool
}

func NewDoctorRepository(pool *pgxpool.Pool) DoctorRepository {
	return &doctorRepository{pool: pool}
}

const doctorCols = `user_id, full_name, phone, region, location, created_at, updated_at`

func (r *doctorRepository) Upsert(ctx context.Context, p *domain.DoctorProfile) (*domain.DoctorProfile, error) {
	const q = `INSERT INTO doctor_profiles (user_id, full_name, phone, region, location)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (user_id) DO UPDATE SET
		full_name = EXCLUDED.full_name,
		phone = EXCLUDED.phone,
		region = EXCLUDED.region,
		location = EXCLUDED.location,
		updated_at = now()
	RETURNING ` + doctorCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var d domain.DoctorProfile
	err := r.pool.QueryRow(ctx, q, p.UserID, p.FullName, p.Phone, p.Region, p.Location).Scan(
		&d.UserID, &d.FullName, &d.Phone, &d.Region, &d.Location, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *doctorRepository) FindByUserID(ctx context.Context, userID int64) (*domain.DoctorProfile, error) {
	const q = `SELECT ` + doctorCols + ` FROM doctor_profiles WHERE user_id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var d domain.DoctorProfile
	err := r.pool.QueryRow(ctx, q, userID).Scan(
		&d.UserID, &d.FullName, &d.Phone, &d.Region, &d.Location, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}
