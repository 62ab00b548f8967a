package clients

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists client data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed client store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, c *Client) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO clients (
			id, name, phone, email, status, wallet_balance, monthly_rate,
			subscription_end, package_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6::NUMERIC(12,2), $7::NUMERIC(12,2), $8, $9, $10, $11)`,
		c.ID, c.Name, c.Phone, c.Email, string(c.Status), c.WalletBalance, c.MonthlyRate,
		clientNullTime(c.SubscriptionEnd), c.PackageID, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Client, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, name, phone, email, status, wallet_balance::TEXT, monthly_rate::TEXT,
		       subscription_end, package_id, created_at, updated_at
		FROM clients WHERE id = $1`, id)

	c, err := scanClient(row)
	if err == sql.ErrNoRows {
		return nil, ErrClientNotFound
	}
	return c, err
}

func (p *PostgresStore) Update(ctx context.Context, c *Client) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE clients SET
			name = $1, phone = $2, email = $3, status = $4,
			wallet_balance = $5::NUMERIC(12,2), monthly_rate = $6::NUMERIC(12,2),
			subscription_end = $7, package_id = $8, updated_at = NOW()
		WHERE id = $9`,
		c.Name, c.Phone, c.Email, string(c.Status),
		c.WalletBalance, c.MonthlyRate,
		clientNullTime(c.SubscriptionEnd), c.PackageID, c.ID,
	)
	if err != nil {
		return err
	}
	return checkAffected(result)
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE clients SET status = $1, updated_at = NOW() WHERE id = $2`,
		string(status), id,
	)
	if err != nil {
		return err
	}
	return checkAffected(result)
}

func (p *PostgresStore) AdvanceSubscription(ctx context.Context, id string, status Status, end time.Time) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE clients SET status = $1, subscription_end = $2, updated_at = NOW()
		WHERE id = $3`,
		string(status), end, id,
	)
	if err != nil {
		return err
	}
	return checkAffected(result)
}

func (p *PostgresStore) CreditWallet(ctx context.Context, id string, amount string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE clients
		SET wallet_balance = wallet_balance + $1::NUMERIC(12,2), updated_at = NOW()
		WHERE id = $2`, amount, id,
	)
	if err != nil {
		return err
	}
	return checkAffected(result)
}

func (p *PostgresStore) DebitWallet(ctx context.Context, id string, amount string) error {
	// Guard in the WHERE clause so the debit is atomic: no row is touched
	// when the balance does not cover the amount.
	result, err := p.db.ExecContext(ctx, `
		UPDATE clients
		SET wallet_balance = wallet_balance - $1::NUMERIC(12,2), updated_at = NOW()
		WHERE id = $2 AND wallet_balance >= $1::NUMERIC(12,2)`, amount, id,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Distinguish missing client from insufficient funds.
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM clients WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrClientNotFound
		}
		return ErrInsufficientBalance
	}
	return nil
}

func (p *PostgresStore) ListExpiring(ctx context.Context, before time.Time, limit int) ([]*Client, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, phone, email, status, wallet_balance::TEXT, monthly_rate::TEXT,
		       subscription_end, package_id, created_at, updated_at
		FROM clients
		WHERE status = 'active' AND subscription_end IS NOT NULL AND subscription_end < $1
		ORDER BY subscription_end ASC
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (p *PostgresStore) CreatePackage(ctx context.Context, pkg *Package) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO packages (id, name, speed, monthly_price, session_timeout_sec, idle_timeout_sec)
		VALUES ($1, $2, $3, $4::NUMERIC(12,2), $5, $6)`,
		pkg.ID, pkg.Name, pkg.Speed, pkg.MonthlyPrice, pkg.SessionTimeoutSec, pkg.IdleTimeoutSec,
	)
	return err
}

func (p *PostgresStore) GetPackage(ctx context.Context, id string) (*Package, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, name, speed, monthly_price::TEXT, session_timeout_sec, idle_timeout_sec
		FROM packages WHERE id = $1`, id)

	var pkg Package
	err := row.Scan(&pkg.ID, &pkg.Name, &pkg.Speed, &pkg.MonthlyPrice,
		&pkg.SessionTimeoutSec, &pkg.IdleTimeoutSec)
	if err == sql.ErrNoRows {
		return nil, ErrPackageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanClient(row rowScanner) (*Client, error) {
	var c Client
	var status string
	var email sql.NullString
	var subEnd sql.NullTime
	err := row.Scan(&c.ID, &c.Name, &c.Phone, &email, &status, &c.WalletBalance,
		&c.MonthlyRate, &subEnd, &c.PackageID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = Status(status)
	if email.Valid {
		c.Email = email.String
	}
	if subEnd.Valid {
		t := subEnd.Time
		c.SubscriptionEnd = &t
	}
	return &c, nil
}

func clientNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func checkAffected(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrClientNotFound
	}
	return nil
}
