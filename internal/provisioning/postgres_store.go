package provisioning

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists provisioning data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed provisioning store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateCredential(ctx context.Context, c *Credential) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO network_credentials (
			client_id, username, secret, active, download_kbps, upload_kbps,
			session_timeout_sec, idle_timeout_sec, last_synced_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ClientID, c.Username, c.Secret, c.Active, c.DownloadKbps, c.UploadKbps,
		c.SessionTimeoutSec, c.IdleTimeoutSec, credNullTime(c.LastSyncedAt),
		c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) GetCredential(ctx context.Context, clientID string) (*Credential, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT client_id, username, secret, active, download_kbps, upload_kbps,
		       session_timeout_sec, idle_timeout_sec, last_synced_at, created_at, updated_at
		FROM network_credentials WHERE client_id = $1`, clientID)

	var c Credential
	var lastSynced sql.NullTime
	err := row.Scan(&c.ClientID, &c.Username, &c.Secret, &c.Active,
		&c.DownloadKbps, &c.UploadKbps, &c.SessionTimeoutSec, &c.IdleTimeoutSec,
		&lastSynced, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastSynced.Valid {
		t := lastSynced.Time
		c.LastSyncedAt = &t
	}
	return &c, nil
}

func (p *PostgresStore) UpdateCredential(ctx context.Context, c *Credential) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE network_credentials SET
			username = $1, secret = $2, active = $3, download_kbps = $4,
			upload_kbps = $5, session_timeout_sec = $6, idle_timeout_sec = $7,
			last_synced_at = $8, updated_at = NOW()
		WHERE client_id = $9`,
		c.Username, c.Secret, c.Active, c.DownloadKbps, c.UploadKbps,
		c.SessionTimeoutSec, c.IdleTimeoutSec, credNullTime(c.LastSyncedAt), c.ClientID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

func (p *PostgresStore) GetRouter(ctx context.Context, id string) (*Router, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, name, address, status, last_error, details, last_seen_at
		FROM routers WHERE id = $1`, id)

	r, err := scanRouter(row)
	if err == sql.ErrNoRows {
		return nil, ErrRouterNotFound
	}
	return r, err
}

func (p *PostgresStore) UpsertRouter(ctx context.Context, r *Router) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO routers (id, name, address, status, last_error, details, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			last_error = EXCLUDED.last_error,
			details = EXCLUDED.details,
			last_seen_at = EXCLUDED.last_seen_at`,
		r.ID, r.Name, r.Address, r.Status, r.LastError, r.Details,
		credNullTime(r.LastSeenAt),
	)
	return err
}

func (p *PostgresStore) ListRouters(ctx context.Context, limit int) ([]*Router, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, address, status, last_error, details, last_seen_at
		FROM routers ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Router
	for rows.Next() {
		r, err := scanRouter(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (p *PostgresStore) AppendAudit(ctx context.Context, e *AuditEntry) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sync_audit (id, client_id, action, payload, success, message, created_at)
		VALUES ($1, $2, $3, $4::JSONB, $5, $6, $7)`,
		e.ID, e.ClientID, e.Action, nullJSON(e.Payload), e.Success, e.Message, e.CreatedAt,
	)
	return err
}

func (p *PostgresStore) ListAudit(ctx context.Context, clientID string, limit int) ([]*AuditEntry, error) {
	var rows *sql.Rows
	var err error
	if clientID != "" {
		rows, err = p.db.QueryContext(ctx, `
			SELECT id, client_id, action, COALESCE(payload::TEXT, ''), success, message, created_at
			FROM sync_audit WHERE client_id = $1
			ORDER BY created_at DESC LIMIT $2`, clientID, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT id, client_id, action, COALESCE(payload::TEXT, ''), success, message, created_at
			FROM sync_audit
			ORDER BY created_at DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		var payload string
		if err := rows.Scan(&e.ID, &e.ClientID, &e.Action, &payload, &e.Success, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		if payload != "" {
			e.Payload = []byte(payload)
		}
		result = append(result, &e)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRouter(row rowScanner) (*Router, error) {
	var r Router
	var lastSeen sql.NullTime
	err := row.Scan(&r.ID, &r.Name, &r.Address, &r.Status, &r.LastError, &r.Details, &lastSeen)
	if err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		t := lastSeen.Time
		r.LastSeenAt = &t
	}
	return &r, nil
}

func credNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
