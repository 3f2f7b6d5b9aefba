// Package postgres is the default production reservation.Store, wrapping a
// shared pgxpool.Pool with the same insert-detect-conflict-reread shape the
// corpus uses for idempotent ticket creation.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rukataka0505/ailuna-call-engine/internal/reservation"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ reservation.Store = (*Store)(nil)

// Insert performs an idempotent insert: a single INSERT ... ON CONFLICT
// (call_id) DO NOTHING RETURNING, with a zero-row Scan (pgx.ErrNoRows) read
// as "this call_id already has a row" and handled by re-selecting the
// existing one.
func (s *Store) Insert(ctx context.Context, r reservation.Reservation) (string, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", false, fmt.Errorf("reservation: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	answersJSON, err := json.Marshal(r.Answers)
	if err != nil {
		return "", false, fmt.Errorf("reservation: marshal answers: %w", err)
	}

	id := uuid.NewString()
	var reservationID string
	row := tx.QueryRow(ctx, `
		INSERT INTO reservations (
			reservation_id, tenant_id, call_id, customer_name, party_size,
			requested_date, requested_time, answers, status, source, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (call_id) DO NOTHING
		RETURNING reservation_id
	`, id, r.TenantID, r.CallID, nullIfEmpty(r.CustomerName), r.PartySize,
		nullIfEmpty(r.RequestedDate), nullIfEmpty(r.RequestedTime), answersJSON,
		r.Status, r.Source, time.Now().UTC())

	if err := row.Scan(&reservationID); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return "", false, fmt.Errorf("reservation: insert: %w", err)
		}

		existingID, readErr := findByCallID(ctx, tx, r.TenantID, r.CallID)
		if readErr != nil {
			return "", false, fmt.Errorf("reservation: re-read after conflict: %w", readErr)
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			return "", false, fmt.Errorf("reservation: commit: %w", commitErr)
		}
		return existingID, false, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return "", false, fmt.Errorf("reservation: commit: %w", err)
	}
	return reservationID, true, nil
}

func findByCallID(ctx context.Context, tx pgx.Tx, tenantID, callID string) (string, error) {
	var id string
	err := tx.QueryRow(ctx,
		`SELECT reservation_id FROM reservations WHERE tenant_id = $1 AND call_id = $2`,
		tenantID, callID).Scan(&id)
	return id, err
}

// SetCallLogID links a reservation to the call log written once the call
// ends, keyed by call_id.
func (s *Store) SetCallLogID(ctx context.Context, callID, callLogID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reservations SET call_log_id = $1 WHERE call_id = $2`, callLogID, callID)
	if err != nil {
		return fmt.Errorf("reservation: set call_log_id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return reservation.ErrNoReservationForCall
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
