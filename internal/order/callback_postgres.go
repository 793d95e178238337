package order

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/wichananm65/storefront-backend/internal/database"
)

type PostgresCallbackLog struct {
	db database.Querier
}

const (
	insertCallbackQuery = `
		INSERT INTO payment_callbacks (checkout_request_id, result_code, outcome, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	unmatchedCallbacksQuery = `
		SELECT id, checkout_request_id, result_code, outcome, payload, received_at
		FROM payment_callbacks
		WHERE checkout_request_id = $1 AND outcome = 'unmatched'
		ORDER BY id
		FOR UPDATE
	`
	markCallbackQuery = `UPDATE payment_callbacks SET outcome = $2 WHERE id = $1`
	lockCallbackQuery = `SELECT pg_advisory_xact_lock(hashtext($1))`
)

func NewPostgresCallbackLog(db database.Querier) *PostgresCallbackLog {
	return &PostgresCallbackLog{db: db}
}

func (l *PostgresCallbackLog) Record(ctx context.Context, rec CallbackRecord) (int64, error) {
	var code any
	if rec.ResultCode != nil {
		code = *rec.ResultCode
	}
	var id int64
	err := l.db.QueryRowContext(ctx, insertCallbackQuery,
		nullString(rec.CheckoutRequestID), code, string(rec.Outcome), rec.Payload,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("record callback: %w", err)
	}
	return id, nil
}

func (l *PostgresCallbackLog) Unmatched(ctx context.Context, checkoutRequestID string) ([]CallbackRecord, error) {
	rows, err := l.db.QueryContext(ctx, unmatchedCallbacksQuery, checkoutRequestID)
	if err != nil {
		return nil, fmt.Errorf("list unmatched callbacks: %w", err)
	}
	defer rows.Close()

	out := make([]CallbackRecord, 0)
	for rows.Next() {
		var rec CallbackRecord
		var checkoutID sql.NullString
		var code sql.NullInt64
		var outcome string
		if err := rows.Scan(&rec.ID, &checkoutID, &code, &outcome, &rec.Payload, &rec.ReceivedAt); err != nil {
			return nil, err
		}
		rec.CheckoutRequestID = checkoutID.String
		if code.Valid {
			c := int(code.Int64)
			rec.ResultCode = &c
		}
		rec.Outcome = CallbackOutcome(outcome)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (l *PostgresCallbackLog) MarkOutcome(ctx context.Context, id int64, outcome CallbackOutcome) error {
	result, err := l.db.ExecContext(ctx, markCallbackQuery, id, string(outcome))
	if err != nil {
		return fmt.Errorf("mark callback: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (l *PostgresCallbackLog) Lock(ctx context.Context, checkoutRequestID string) error {
	if checkoutRequestID == "" {
		return nil
	}
	if _, err := l.db.ExecContext(ctx, lockCallbackQuery, checkoutRequestID); err != nil {
		return fmt.Errorf("lock checkout request: %w", err)
	}
	return nil
}
