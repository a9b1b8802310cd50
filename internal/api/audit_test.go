package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/ravenholt/forgepanel/internal/audit"
)

// seedAuditEntries writes entries directly through the repository; the
// API server's async channel is not running in tests.
func (e *testEnv) seedAuditEntries(t *testing.T, entries []audit.AuditLog) {
	t.Helper()

	repo := audit.NewSQLiteRepository(e.db)
	for i := range entries {
		if err := repo.Create(context.Background(), &entries[i]); err != nil {
			t.Fatalf("seeding audit entry: %v", err)
		}
	}
}

func TestListAuditLogs(t *testing.T) {
	env := newTestEnv(t)
	admin := env.createUser(t, "admin@example.com", "rol-admin")
	token := env.tokenFor(t, admin)

	env.seedAuditEntries(t, []audit.AuditLog{
		{Action: "create", EntityType: "server", EntityID: "srv-11111111", UserID: admin.ID, Source: "api"},
		{Action: "start", EntityType: "server", EntityID: "srv-11111111", UserID: admin.ID, Source: "api"},
		{Action: "login", EntityType: "session", UserID: admin.ID, Source: "api"},
	})

	rec := env.do(t, http.MethodGet, "/api/v1/audit", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result audit.ListResult
	decode(t, rec, &result)
	if result.Total != 3 {
		t.Errorf("Total = %d, want 3", result.Total)
	}
	if result.Limit != 50 {
		t.Errorf("Limit = %d, want default 50", result.Limit)
	}
}

func TestListAuditLogs_Filtered(t *testing.T) {
	env := newTestEnv(t)
	admin := env.createUser(t, "admin@example.com", "rol-admin")
	token := env.tokenFor(t, admin)

	env.seedAuditEntries(t, []audit.AuditLog{
		{Action: "create", EntityType: "server", EntityID: "srv-11111111", UserID: admin.ID, Source: "api"},
		{Action: "delete", EntityType: "server", EntityID: "srv-22222222", UserID: admin.ID, Source: "api"},
		{Action: "create", EntityType: "user", EntityID: "usr-33333333", UserID: admin.ID, Source: "api"},
	})

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"by action", "?action=create", 2},
		{"by entity type", "?entity_type=server", 2},
		{"by action and type", "?action=create&entity_type=server", 1},
		{"by entity id", "?entity_id=srv-22222222", 1},
		{"no match", "?action=transfer", 0},
		{"limit", "?limit=1", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/api/v1/audit"+tt.query, token, nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
			}
			var result audit.ListResult
			decode(t, rec, &result)
			if len(result.Logs) != tt.want {
				t.Errorf("got %d logs, want %d", len(result.Logs), tt.want)
			}
		})
	}
}

func TestListAuditLogs_RequiresPermission(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "user@example.com", "rol-user")

	rec := env.do(t, http.MethodGet, "/api/v1/audit", env.tokenFor(t, user), nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
}
