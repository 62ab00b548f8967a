package payments

import (
	"context"
	"database/sql"
)

// PostgresStore persists payment data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed payment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateCharge(ctx context.Context, c *PendingCharge) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO pending_charges (
			checkout_request_id, payment_id, client_id, amount, phone, state, created_at, updated_at
		) VALUES ($1, $2, $3, $4::NUMERIC(12,2), $5, $6, $7, $8)`,
		c.CheckoutRequestID, c.PaymentID, c.ClientID, c.Amount, c.Phone,
		string(c.State), c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) GetCharge(ctx context.Context, checkoutRequestID string) (*PendingCharge, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT checkout_request_id, payment_id, client_id, amount::TEXT, phone, state, created_at, updated_at
		FROM pending_charges WHERE checkout_request_id = $1`, checkoutRequestID)

	var c PendingCharge
	var state string
	err := row.Scan(&c.CheckoutRequestID, &c.PaymentID, &c.ClientID, &c.Amount,
		&c.Phone, &state, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrChargeNotFound
	}
	if err != nil {
		return nil, err
	}
	c.State = ChargeState(state)
	return &c, nil
}

func (p *PostgresStore) UpdateChargeState(ctx context.Context, checkoutRequestID string, state ChargeState) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE pending_charges SET state = $1, updated_at = NOW()
		WHERE checkout_request_id = $2`,
		string(state), checkoutRequestID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrChargeNotFound
	}
	return nil
}

func (p *PostgresStore) CreateUnmatched(ctx context.Context, u *UnmatchedPayment) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO unmatched_payments (id, amount, receipt, phone, received_at)
		VALUES ($1, $2::NUMERIC(12,2), $3, $4, $5)`,
		u.ID, u.Amount, u.Receipt, u.Phone, u.ReceivedAt,
	)
	return err
}

func (p *PostgresStore) GetUnmatched(ctx context.Context, id string) (*UnmatchedPayment, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, amount::TEXT, receipt, phone, received_at
		FROM unmatched_payments WHERE id = $1`, id)

	var u UnmatchedPayment
	err := row.Scan(&u.ID, &u.Amount, &u.Receipt, &u.Phone, &u.ReceivedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (p *PostgresStore) ListUnmatched(ctx context.Context, limit int) ([]*UnmatchedPayment, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, amount::TEXT, receipt, phone, received_at
		FROM unmatched_payments
		ORDER BY received_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*UnmatchedPayment
	for rows.Next() {
		var u UnmatchedPayment
		if err := rows.Scan(&u.ID, &u.Amount, &u.Receipt, &u.Phone, &u.ReceivedAt); err != nil {
			return nil, err
		}
		result = append(result, &u)
	}
	return result, rows.Err()
}

func (p *PostgresStore) DeleteUnmatched(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx,
		`DELETE FROM unmatched_payments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrPaymentNotFound
	}
	return nil
}
