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

type RequestRepository interface {
	Create(ctx context.Context, req *domain.Request) (*domain.Request, error)
	ListOpen(ctx context.Context, limit, offset int) ([]domain.Request, error)
	ListByPatient(ctx context.Context, patientID int64, limit, offset int) ([]domain.Request, error)
	// CreateOffer inserts a pending offer on an open request. Missing and closed
	// requests both yield domain.ErrNotFound.
	CreateOffer(ctx context.Context, requestID, doctorID int64, in domain.OfferInput) (*domain.Offer, *domain.Request, error)
	// AcceptOffer accepts the offer, rejects its pending siblings and closes the
	// request in one transaction.
	AcceptOffer(ctx context.Context, offerID, patientID int64) (*domain.Acceptance, error)
}

type requestRepository struct {
	pool *pgxpool.Pool
}

func NewRequestRepository(pool *pgxpool.Pool) RequestRepository {
	return &requestRepository{pool: pool}
}

const requestCols = `r.id, r.patient_id, u.display_name, r.symptoms, r.latitude, r.longitude,
r.address, r.status, r.created_at, r.closed_at`

const requestJoin = ` JOIN users u ON u.id = r.patient_id`

const requestFrom = ` FROM requests r` + requestJoin

const offerCols = `o.id, o.request_id, o.doctor_id, COALESCE(NULLIF(dp.full_name, ''), d.display_name),
o.price, o.eta_minutes, o.message, o.status, o.created_at`

const offerJoin = `
JOIN users d ON d.id = o.doctor_id
LEFT JOIN doctor_profiles dp ON dp.user_id = o.doctor_id`

const offerFrom = ` FROM offers o` + offerJoin

func scanRequest(row scanner) (*domain.Request, error) {
	var req domain.Request
	err := row.Scan(
		&req.ID, &req.PatientID, &req.PatientName, &req.Symptoms, &req.Latitude, &req.Longitude,
		&req.Address, &req.Status, &req.CreatedAt, &req.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	req.Offers = []domain.Offer{}
	return &req, nil
}

func scanOffer(row scanner) (*domain.Offer, error) {
	var o domain.Offer
	err := row.Scan(
		&o.ID, &o.RequestID, &o.DoctorID, &o.DoctorName,
		&o.Price, &o.ETAMinutes, &o.Message, &o.Status, &o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *requestRepository) Create(ctx context.Context, req *domain.Request) (*domain.Request, error) {
	const q = `WITH ins AS (
		INSERT INTO requests (patient_id, symptoms, latitude, longitude, address, status)
		VALUES ($1, $2, $3, $4, $5, 'open')
		RETURNING *
	)
	SELECT ` + requestCols + ` FROM ins r` + requestJoin

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanRequest(r.pool.QueryRow(ctx, q, req.PatientID, req.Symptoms, req.Latitude, req.Longitude, req.Address))
}

func (r *requestRepository) ListOpen(ctx context.Context, limit, offset int) ([]domain.Request, error) {
	const q = `SELECT ` + requestCols + requestFrom + `
	WHERE r.status = 'open'
	ORDER BY r.created_at ASC, r.id ASC
	LIMIT $1 OFFSET $2`
	return r.list(ctx, q, limit, offset)
}

func (r *requestRepository) ListByPatient(ctx context.Context, patientID int64, limit, offset int) ([]domain.Request, error) {
	const q = `SELECT ` + requestCols + requestFrom + `
	WHERE r.patient_id = $3
	ORDER BY r.created_at DESC, r.id DESC
	LIMIT $1 OFFSET $2`
	return r.list(ctx, q, limit, offset, patientID)
}

func (r *requestRepository) list(ctx context.Context, q string, limit, offset int, args ...any) ([]domain.Request, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, append([]any{limit, offset}, args...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	requests := []domain.Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.attachOffers(ctx, requests); err != nil {
		return nil, err
	}
	return requests, nil
}

// attachOffers loads every offer of the given requests, newest first.
func (r *requestRepository) attachOffers(ctx context.Context, requests []domain.Request) error {
	if len(requests) == 0 {
		return nil
	}
	ids := make([]int64, len(requests))
	index := make(map[int64]int, len(requests))
	for i := range requests {
		ids[i] = requests[i].ID
		index[requests[i].ID] = i
	}

	const q = `SELECT ` + offerCols + offerFrom + `
	WHERE o.request_id = ANY($1)
	ORDER BY o.created_at DESC, o.id DESC`

	rows, err := r.pool.Query(ctx, q, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return err
		}
		i := index[o.RequestID]
		requests[i].Offers = append(requests[i].Offers, *o)
	}
	return rows.Err()
}

func (r *requestRepository) CreateOffer(ctx context.Context, requestID, doctorID int64, in domain.OfferInput) (*domain.Offer, *domain.Request, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// FOR SHARE blocks a concurrent accept until this offer is committed, and
	// waits for an in-flight accept before reading the status.
	const lockQ = `SELECT ` + requestCols + requestFrom + ` WHERE r.id=$1 FOR SHARE OF r`
	req, err := scanRequest(tx.QueryRow(ctx, lockQ, requestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if !req.IsOpen() {
		return nil, nil, domain.ErrNotFound
	}

	const insertQ = `WITH ins AS (
		INSERT INTO offers (request_id, doctor_id, price, eta_minutes, message, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		RETURNING *
	)
	SELECT ` + offerCols + ` FROM ins o` + offerJoin

	offer, err := scanOffer(tx.QueryRow(ctx, insertQ, requestID, doctorID, in.Price, in.ETAMinutes, in.Message))
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}
	return offer, req, nil
}

func (r *requestRepository) AcceptOffer(ctx context.Context, offerID, patientID int64) (*domain.Acceptance, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var requestID int64
	err = tx.QueryRow(ctx, `SELECT request_id FROM offers WHERE id=$1`, offerID).Scan(&requestID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	// Serialises concurrent accepts on the same request.
	const lockQ = `SELECT ` + requestCols + requestFrom + ` WHERE r.id=$1 FOR UPDATE OF r`
	req, err := scanRequest(tx.QueryRow(ctx, lockQ, requestID))
	if err != nil {
		return nil, err
	}

	const offerQ = `SELECT ` + offerCols + offerFrom + ` WHERE o.id=$1`
	offer, err := scanOffer(tx.QueryRow(ctx, offerQ, offerID))
	if err != nil {
		return nil, err
	}

	if err := domain.CheckAccept(req, offer, patientID); err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx, `UPDATE offers SET status='accepted' WHERE id=$1 AND status='pending'`, offerID)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() != 1 {
		return nil, domain.ErrConflict
	}

	const rejectQ = `WITH rej AS (
		UPDATE offers SET status='rejected'
		WHERE request_id=$1 AND id<>$2 AND status='pending'
		RETURNING *
	)
	SELECT ` + offerCols + ` FROM rej o` + offerJoin + ` ORDER BY o.created_at DESC, o.id DESC`

	rows, err := tx.Query(ctx, rejectQ, requestID, offerID)
	if err != nil {
		return nil, err
	}
	rejected := []domain.Offer{}
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		rejected = append(rejected, *o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var closedAt time.Time
	err = tx.QueryRow(ctx,
		`UPDATE requests SET status='closed', closed_at=now() WHERE id=$1 AND status='open' RETURNING closed_at`,
		requestID,
	).Scan(&closedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrConflict
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	offer.Status = domain.OfferAccepted
	req.Status = domain.RequestClosed
	req.ClosedAt = &closedAt
	return &domain.Acceptance{Offer: *offer, Request: *req, Rejected: rejected}, nil
}
