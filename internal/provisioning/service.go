package provisioning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/helanet/helanet/internal/clients"
	"github.com/helanet/helanet/internal/idgen"
	"github.com/helanet/helanet/internal/speed"
	"github.com/helanet/helanet/internal/syncutil"
	"github.com/helanet/helanet/internal/traces"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	syncPushTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "helanet",
		Subsystem: "provisioning",
		Name:      "sync_push_total",
		Help:      "Sync pushes to the access server by action and result.",
	}, []string{"action", "result"})

	syncCallbackTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "helanet",
		Subsystem: "provisioning",
		Name:      "sync_callback_total",
		Help:      "Sync callbacks received by scope and result.",
	}, []string{"scope", "result"})
)

func init() {
	prometheus.MustRegister(syncPushTotal, syncCallbackTotal)
}

// EventEmitter broadcasts provisioning events to realtime subscribers.
type EventEmitter interface {
	EmitSync(clientID, action, result string)
}

// Service implements network access provisioning.
type Service struct {
	store       Store
	clientStore clients.Store
	pusher      Pusher
	logger      *slog.Logger
	events      EventEmitter
	locks       *syncutil.ContextShardedMutex
}

// NewService creates a provisioning service.
func NewService(store Store, clientStore clients.Store, pusher Pusher, logger *slog.Logger) *Service {
	return &Service{
		store:       store,
		clientStore: clientStore,
		pusher:      pusher,
		logger:      logger,
		locks:       syncutil.NewContextShardedMutex(),
	}
}

// WithEvents attaches a realtime event emitter.
func (s *Service) WithEvents(e EventEmitter) *Service {
	s.events = e
	return s
}

// Connect provisions or reactivates a client's network credential and
// requests a sync. Idempotent: a second call leaves one active
// credential. Returning nil means local state is committed and the sync
// was requested, not that the remote server confirmed it.
func (s *Service) Connect(ctx context.Context, clientID string) error {
	ctx, span := traces.StartSpan(ctx, "provisioning.Connect", traces.ClientID(clientID))
	defer span.End()

	unlock, err := s.locks.LockContext(ctx, clientID)
	if err != nil {
		return err
	}
	defer unlock()

	client, err := s.clientStore.Get(ctx, clientID)
	if err != nil {
		return err
	}
	pkg, err := s.clientStore.GetPackage(ctx, client.PackageID)
	if err != nil {
		return err
	}

	bw := speed.Parse(pkg.Speed)
	now := time.Now()

	cred, err := s.store.GetCredential(ctx, clientID)
	switch {
	case errors.Is(err, ErrCredentialNotFound):
		cred = &Credential{
			ClientID:          clientID,
			Username:          deriveUsername(client.Name, clientID),
			Secret:            idgen.Hex(12),
			Active:            true,
			DownloadKbps:      bw.DownloadKbps,
			UploadKbps:        bw.UploadKbps,
			SessionTimeoutSec: pkg.SessionTimeoutSec,
			IdleTimeoutSec:    pkg.IdleTimeoutSec,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := s.store.CreateCredential(ctx, cred); err != nil {
			return fmt.Errorf("failed to create credential: %w", err)
		}
	case err != nil:
		return err
	default:
		cred.Active = true
		cred.DownloadKbps = bw.DownloadKbps
		cred.UploadKbps = bw.UploadKbps
		cred.SessionTimeoutSec = pkg.SessionTimeoutSec
		cred.IdleTimeoutSec = pkg.IdleTimeoutSec
		cred.UpdatedAt = now
		if err := s.store.UpdateCredential(ctx, cred); err != nil {
			return fmt.Errorf("failed to reactivate credential: %w", err)
		}
	}

	if err := s.clientStore.UpdateStatus(ctx, clientID, clients.StatusActive); err != nil {
		return fmt.Errorf("failed to activate client: %w", err)
	}

	s.pushSync(ctx, cred, &SyncRequest{
		Action:            ActionConnect,
		ClientID:          clientID,
		Username:          cred.Username,
		Secret:            cred.Secret,
		DownloadKbps:      cred.DownloadKbps,
		UploadKbps:        cred.UploadKbps,
		SessionTimeoutSec: cred.SessionTimeoutSec,
		IdleTimeoutSec:    cred.IdleTimeoutSec,
	})
	return nil
}

// Disconnect deactivates the credential, suspends the client, and
// requests a high-priority sync.
func (s *Service) Disconnect(ctx context.Context, clientID string) error {
	ctx, span := traces.StartSpan(ctx, "provisioning.Disconnect", traces.ClientID(clientID))
	defer span.End()

	unlock, err := s.locks.LockContext(ctx, clientID)
	if err != nil {
		return err
	}
	defer unlock()

	cred, err := s.store.GetCredential(ctx, clientID)
	if errors.Is(err, ErrCredentialNotFound) {
		// Never provisioned, so there is no network access to revoke.
		// Suspend the billing status so the client leaves the renewal
		// batch instead of erroring on every sweep.
		if err := s.clientStore.UpdateStatus(ctx, clientID, clients.StatusSuspended); err != nil {
			return fmt.Errorf("failed to suspend client: %w", err)
		}
		s.logger.Info("suspended client without credential", "clientId", clientID)
		return nil
	}
	if err != nil {
		return err
	}

	cred.Active = false
	cred.UpdatedAt = time.Now()
	if err := s.store.UpdateCredential(ctx, cred); err != nil {
		return fmt.Errorf("failed to deactivate credential: %w", err)
	}

	if err := s.clientStore.UpdateStatus(ctx, clientID, clients.StatusSuspended); err != nil {
		return fmt.Errorf("failed to suspend client: %w", err)
	}

	s.pushSync(ctx, cred, &SyncRequest{
		Action:   ActionDisconnect,
		Priority: "high",
		ClientID: clientID,
		Username: cred.Username,
	})
	return nil
}

// UpdateQoS recomputes bandwidth from the client's current package and
// pushes an update without changing activation state.
func (s *Service) UpdateQoS(ctx context.Context, clientID string) error {
	ctx, span := traces.StartSpan(ctx, "provisioning.UpdateQoS", traces.ClientID(clientID))
	defer span.End()

	unlock, err := s.locks.LockContext(ctx, clientID)
	if err != nil {
		return err
	}
	defer unlock()

	client, err := s.clientStore.Get(ctx, clientID)
	if err != nil {
		return err
	}
	pkg, err := s.clientStore.GetPackage(ctx, client.PackageID)
	if err != nil {
		return err
	}
	cred, err := s.store.GetCredential(ctx, clientID)
	if err != nil {
		return err
	}

	bw := speed.Parse(pkg.Speed)
	cred.DownloadKbps = bw.DownloadKbps
	cred.UploadKbps = bw.UploadKbps
	cred.SessionTimeoutSec = pkg.SessionTimeoutSec
	cred.IdleTimeoutSec = pkg.IdleTimeoutSec
	cred.UpdatedAt = time.Now()
	if err := s.store.UpdateCredential(ctx, cred); err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}

	s.pushSync(ctx, cred, &SyncRequest{
		Action:            ActionUpdateQoS,
		ClientID:          clientID,
		Username:          cred.Username,
		DownloadKbps:      cred.DownloadKbps,
		UploadKbps:        cred.UploadKbps,
		SessionTimeoutSec: cred.SessionTimeoutSec,
		IdleTimeoutSec:    cred.IdleTimeoutSec,
	})
	return nil
}

// pushSync delivers a sync request and records the attempt. A push
// failure is logged, audited, and swallowed: local state stays committed
// and the access server reconciles via retry or callback.
func (s *Service) pushSync(ctx context.Context, cred *Credential, req *SyncRequest) {
	err := s.pusher.PushSync(ctx, req)

	result := "ok"
	message := ""
	if err != nil {
		result = "error"
		message = err.Error()
		s.logger.Error("sync push failed",
			"clientId", req.ClientID,
			"action", req.Action,
			"error", err,
		)
	} else {
		s.logger.Info("sync requested",
			"clientId", req.ClientID,
			"action", req.Action,
			"username", req.Username,
		)
	}
	syncPushTotal.WithLabelValues(req.Action, result).Inc()

	// The audited payload must not leak the credential secret.
	redacted := *req
	redacted.Secret = ""
	payload, _ := json.Marshal(&redacted)
	s.appendAudit(ctx, &AuditEntry{
		ID:        idgen.WithPrefix("aud_"),
		ClientID:  req.ClientID,
		Action:    req.Action,
		Payload:   payload,
		Success:   err == nil,
		Message:   message,
		CreatedAt: time.Now(),
	})

	if s.events != nil {
		s.events.EmitSync(req.ClientID, req.Action, result)
	}
}

// HandleSyncCallback applies the access server's acknowledgement. Client
// and router sections are processed independently; an error in one does
// not short-circuit the other, and partial failure is surfaced joined.
func (s *Service) HandleSyncCallback(ctx context.Context, req *CallbackRequest) error {
	if req.ClientID == "" && req.RouterID == "" {
		return errors.New("callback names neither a client nor a router")
	}

	ctx, span := traces.StartSpan(ctx, "provisioning.HandleSyncCallback",
		traces.ClientID(req.ClientID), traces.RouterID(req.RouterID))
	defer span.End()

	var clientErr, routerErr error
	if req.ClientID != "" {
		clientErr = s.applyClientCallback(ctx, req)
	}
	if req.RouterID != "" {
		routerErr = s.applyRouterCallback(ctx, req)
	}
	return errors.Join(clientErr, routerErr)
}

func (s *Service) applyClientCallback(ctx context.Context, req *CallbackRequest) error {
	synced := req.SyncStatus == "synced"

	cred, err := s.store.GetCredential(ctx, req.ClientID)
	if err != nil {
		syncCallbackTotal.WithLabelValues("client", "error").Inc()
		return err
	}

	now := time.Now()
	cred.LastSyncedAt = &now
	cred.Active = synced
	cred.UpdatedAt = now
	if err := s.store.UpdateCredential(ctx, cred); err != nil {
		syncCallbackTotal.WithLabelValues("client", "error").Inc()
		return fmt.Errorf("failed to record sync result: %w", err)
	}

	result := "synced"
	if !synced {
		result = "failed"
	}
	syncCallbackTotal.WithLabelValues("client", result).Inc()

	s.appendAudit(ctx, &AuditEntry{
		ID:        idgen.WithPrefix("aud_"),
		ClientID:  req.ClientID,
		Action:    "sync_callback",
		Payload:   req.Details,
		Success:   synced,
		Message:   req.ErrorMessage,
		CreatedAt: now,
	})

	s.logger.Info("sync callback applied",
		"clientId", req.ClientID,
		"syncStatus", req.SyncStatus,
	)
	if s.events != nil {
		s.events.EmitSync(req.ClientID, "sync_callback", result)
	}
	return nil
}

func (s *Service) applyRouterCallback(ctx context.Context, req *CallbackRequest) error {
	status := RouterConnected
	if req.SyncStatus != "synced" {
		status = RouterConfigFailed
	}

	now := time.Now()
	router, err := s.store.GetRouter(ctx, req.RouterID)
	if errors.Is(err, ErrRouterNotFound) {
		router = &Router{ID: req.RouterID}
	} else if err != nil {
		syncCallbackTotal.WithLabelValues("router", "error").Inc()
		return err
	}

	router.Status = status
	router.LastError = req.ErrorMessage
	router.Details = string(req.Details)
	router.LastSeenAt = &now
	if err := s.store.UpsertRouter(ctx, router); err != nil {
		syncCallbackTotal.WithLabelValues("router", "error").Inc()
		return fmt.Errorf("failed to update router status: %w", err)
	}

	syncCallbackTotal.WithLabelValues("router", status).Inc()
	s.logger.Info("router callback applied",
		"routerId", req.RouterID,
		"status", status,
	)
	return nil
}

// appendAudit writes an audit entry; the trail is best-effort and never
// blocks the provisioning action itself.
func (s *Service) appendAudit(ctx context.Context, e *AuditEntry) {
	if err := s.store.AppendAudit(ctx, e); err != nil {
		s.logger.Error("failed to append audit entry",
			"clientId", e.ClientID,
			"action", e.Action,
			"error", err,
		)
	}
}

// deriveUsername builds a deterministic RADIUS username from the client's
// name and id prefix.
func deriveUsername(name, id string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
		if b.Len() >= 8 {
			break
		}
	}
	prefix := b.String()
	if prefix == "" {
		prefix = "client"
	}
	idPart := id
	if len(idPart) > 6 {
		idPart = idPart[:6]
	}
	return prefix + "_" + idPart
}
