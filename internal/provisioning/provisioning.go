// Package provisioning keeps the RADIUS-style access server in step with
// billing state.
//
// Local state is the source of truth: connect/disconnect/QoS changes
// commit locally first and push a sync request to the access server
// without waiting for confirmation. The access server acknowledges
// asynchronously via the sync callback, which is the only path that marks
// remote state confirmed. Every push and callback leaves an audit entry.
package provisioning

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrCredentialNotFound = errors.New("network credential not found")
	ErrRouterNotFound     = errors.New("router not found")
)

// Sync actions pushed to the access server.
const (
	ActionConnect    = "connect"
	ActionDisconnect = "disconnect"
	ActionUpdateQoS  = "update_qos"
)

// Router connection states reported through router-scoped callbacks.
const (
	RouterConnected    = "connected"
	RouterConfigFailed = "configuration_failed"
)

// Credential is a client's network-access record. One live credential per
// client; deactivated on disconnect, never hard-deleted.
type Credential struct {
	ClientID          string     `json:"clientId"`
	Username          string     `json:"username"`
	Secret            string     `json:"-"`
	Active            bool       `json:"active"`
	DownloadKbps      int        `json:"downloadKbps"`
	UploadKbps        int        `json:"uploadKbps"`
	SessionTimeoutSec int        `json:"sessionTimeoutSec"`
	IdleTimeoutSec    int        `json:"idleTimeoutSec"`
	LastSyncedAt      *time.Time `json:"lastSyncedAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// Router is an access-server device record.
type Router struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Address    string     `json:"address"`
	Status     string     `json:"status"`
	LastError  string     `json:"lastError,omitempty"`
	Details    string     `json:"details,omitempty"` // raw diagnostic payload
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`
}

// AuditEntry is an append-only record of a provisioning action and its
// outcome.
type AuditEntry struct {
	ID        string          `json:"id"`
	ClientID  string          `json:"clientId,omitempty"`
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Success   bool            `json:"success"`
	Message   string          `json:"message,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// SyncRequest is the payload pushed to the access server.
type SyncRequest struct {
	Action            string `json:"action"`
	Priority          string `json:"priority,omitempty"`
	ClientID          string `json:"clientId"`
	Username          string `json:"username"`
	Secret            string `json:"secret,omitempty"`
	DownloadKbps      int    `json:"downloadKbps"`
	UploadKbps        int    `json:"uploadKbps"`
	SessionTimeoutSec int    `json:"sessionTimeoutSec"`
	IdleTimeoutSec    int    `json:"idleTimeoutSec"`
}

// CallbackRequest is the access server's asynchronous acknowledgement.
// Client-scoped and router-scoped sections are independent; either or
// both may be present.
type CallbackRequest struct {
	ClientID     string          `json:"clientId,omitempty"`
	RouterID     string          `json:"routerId,omitempty"`
	SyncStatus   string          `json:"syncStatus"` // "synced" or "failed"
	ErrorMessage string          `json:"errorMessage,omitempty"`
	Details      json.RawMessage `json:"details,omitempty"`
}

// Store persists credentials, routers, and the audit trail.
type Store interface {
	CreateCredential(ctx context.Context, c *Credential) error
	GetCredential(ctx context.Context, clientID string) (*Credential, error)
	UpdateCredential(ctx context.Context, c *Credential) error

	GetRouter(ctx context.Context, id string) (*Router, error)
	UpsertRouter(ctx context.Context, r *Router) error
	ListRouters(ctx context.Context, limit int) ([]*Router, error)

	AppendAudit(ctx context.Context, e *AuditEntry) error
	ListAudit(ctx context.Context, clientID string, limit int) ([]*AuditEntry, error)
}
