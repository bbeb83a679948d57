package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diagnosis/afyaplus/services/api/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepository interface {
	// GetOrCreate returns the user for (origin, external id), inserting it on
	// first sight. The bool reports whether a row was created.
	GetOrCreate(ctx context.Context, u *domain.User) (*domain.User, bool, error)
	FindByID(ctx context.Context, id int64) (*domain.User, error)
	FindByExternalID(ctx context.Context, origin domain.IdentityOrigin, externalID string) (*domain.User, error)
	BackfillEmail(ctx context.Context, id int64, email string) error
	SetPushToken(ctx context.Context, id int64, token string) error
}

type userRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

const userCols = `id, origin, external_id, display_name, email, phone, push_token, created_at, updated_at`

// maxCreateAttempts bounds the find/insert loop when concurrent inserts collide.
const maxCreateAttempts = 3

func scanUser(row scanner) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Origin, &u.ExternalID, &u.DisplayName, &u.Email, &u.Phone, &u.PushToken, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepository) GetOrCreate(ctx context.Context, u *domain.User) (*domain.User, bool, error) {
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		existing, err := r.FindByExternalID(ctx, u.Origin, u.ExternalID)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}

		created, err := r.insert(ctx, u)
		if err == nil {
			return created, true, nil
		}
		if !isUniqueViolation(err) {
			return nil, false, err
		}
		// Another request inserted the same identity first; read it back.
	}
	return nil, false, fmt.Errorf("get or create user %s/%s: retries exhausted", u.Origin, u.ExternalID)
}

func (r *userRepository) insert(ctx context.Context, u *domain.User) (*domain.User, error) {
	const q = `INSERT INTO users (origin, external_id, display_name, email, phone)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING ` + userCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanUser(r.pool.QueryRow(ctx, q, u.Origin, u.ExternalID, u.DisplayName, u.Email, u.Phone))
}

func (r *userRepository) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	const q = `SELECT ` + userCols + ` FROM users WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	u, err := scanUser(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

func (r *userRepository) FindByExternalID(ctx context.Context, origin domain.IdentityOrigin, externalID string) (*domain.User, error) {
	const q = `SELECT ` + userCols + ` FROM users WHERE origin=$1 AND external_id=$2`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	u, err := scanUser(r.pool.QueryRow(ctx, q, origin, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

func (r *userRepository) BackfillEmail(ctx context.Context, id int64, email string) error {
	const q = `UPDATE users SET email=$2, updated_at=now() WHERE id=$1 AND email=''`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q, id, email)
	return err
}

func (r *userRepository) SetPushToken(ctx context.Context, id int64, token string) error {
	const q = `UPDATE users SET push_token=$2, updated_at=now() WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tag, err := r.pool.Exec(ctx, q, id, token)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
