package provisioning

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/helanet/helanet/internal/testutil"
)

func TestPostgresStore_Credentials(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	now := time.Now()
	cred := &Credential{
		ClientID:          "cl_pg1",
		Username:          "janewanj_cl_pg1",
		Secret:            "s3cret",
		Active:            true,
		DownloadKbps:      10000,
		UploadKbps:        5000,
		SessionTimeoutSec: 3600,
		IdleTimeoutSec:    600,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := store.CreateCredential(ctx, cred); err != nil {
		t.Fatalf("CreateCredential: %v", err)
	}

	got, err := store.GetCredential(ctx, "cl_pg1")
	if err != nil {
		t.Fatalf("GetCredential: %v", err)
	}
	if got.Username != "janewanj_cl_pg1" || got.Secret != "s3cret" || !got.Active {
		t.Errorf("got %+v", got)
	}
	if got.DownloadKbps != 10000 || got.UploadKbps != 5000 {
		t.Errorf("speed = %d/%d", got.DownloadKbps, got.UploadKbps)
	}
	if got.LastSyncedAt != nil {
		t.Errorf("LastSyncedAt should be nil before any sync")
	}

	synced := time.Now()
	got.Active = false
	got.DownloadKbps = 20000
	got.LastSyncedAt = &synced
	if err := store.UpdateCredential(ctx, got); err != nil {
		t.Fatalf("UpdateCredential: %v", err)
	}
	got, _ = store.GetCredential(ctx, "cl_pg1")
	if got.Active || got.DownloadKbps != 20000 || got.LastSyncedAt == nil {
		t.Errorf("after update: %+v", got)
	}

	if _, err := store.GetCredential(ctx, "cl_nope"); !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("expected ErrCredentialNotFound, got %v", err)
	}
	if err := store.UpdateCredential(ctx, &Credential{ClientID: "cl_nope"}); !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("expected ErrCredentialNotFound on update, got %v", err)
	}
}

func TestPostgresStore_Routers(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	seen := time.Now()
	router := &Router{
		ID:         "rt_pg1",
		Name:       "hq-core",
		Address:    "10.0.0.1",
		Status:     RouterConnected,
		LastSeenAt: &seen,
	}
	if err := store.UpsertRouter(ctx, router); err != nil {
		t.Fatalf("UpsertRouter: %v", err)
	}

	got, err := store.GetRouter(ctx, "rt_pg1")
	if err != nil {
		t.Fatalf("GetRouter: %v", err)
	}
	if got.Name != "hq-core" || got.Status != RouterConnected {
		t.Errorf("got %+v", got)
	}

	router.Status = RouterConfigFailed
	router.LastError = "queue full"
	if err := store.UpsertRouter(ctx, router); err != nil {
		t.Fatalf("UpsertRouter update: %v", err)
	}
	got, _ = store.GetRouter(ctx, "rt_pg1")
	if got.Status != RouterConfigFailed || got.LastError != "queue full" {
		t.Errorf("after upsert: %+v", got)
	}

	if err := store.UpsertRouter(ctx, &Router{ID: "rt_pg2", Status: RouterConnected}); err != nil {
		t.Fatalf("UpsertRouter second: %v", err)
	}
	list, err := store.ListRouters(ctx, 10)
	if err != nil {
		t.Fatalf("ListRouters: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("listed %d, want 2", len(list))
	}

	if _, err := store.GetRouter(ctx, "rt_nope"); !errors.Is(err, ErrRouterNotFound) {
		t.Errorf("expected ErrRouterNotFound, got %v", err)
	}
}

func TestPostgresStore_Audit(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	entries := []*AuditEntry{
		{ID: "aud_1", ClientID: "cl_pg1", Action: "connect", Payload: []byte(`{"username":"jane"}`), Success: true, CreatedAt: base},
		{ID: "aud_2", ClientID: "cl_pg1", Action: "disconnect", Success: false, Message: "push failed", CreatedAt: base.Add(time.Second)},
		{ID: "aud_3", ClientID: "cl_pg2", Action: "connect", Success: true, CreatedAt: base.Add(2 * time.Second)},
	}
	for _, e := range entries {
		if err := store.AppendAudit(ctx, e); err != nil {
			t.Fatalf("AppendAudit(%s): %v", e.ID, err)
		}
	}

	list, err := store.ListAudit(ctx, "cl_pg1", 10)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("listed %d, want 2", len(list))
	}
	if list[0].ID != "aud_2" || list[1].ID != "aud_1" {
		t.Errorf("expected newest first, got %s, %s", list[0].ID, list[1].ID)
	}
	if list[0].Success || list[0].Message != "push failed" {
		t.Errorf("got %+v", list[0])
	}
	if len(list[1].Payload) == 0 {
		t.Errorf("payload not preserved")
	}

	all, err := store.ListAudit(ctx, "", 2)
	if err != nil {
		t.Fatalf("ListAudit all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("limit not honored, got %d", len(all))
	}
}
