package api

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/ravenholt/forgepanel/internal/auth"
)

func TestListRoles_IncludesSystemRoles(t *testing.T) {
	env := newTestEnv(t)
	admin := env.createUser(t, "admin@example.com", "rol-admin")
	token := env.tokenFor(t, admin)

	rec := env.do(t, http.MethodGet, "/api/v1/roles/", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Roles []auth.Role `json:"roles"`
		Count int         `json:"count"`
	}
	decode(t, rec, &body)
	if body.Count < 3 {
		t.Errorf("expected at least the 3 system roles, got %d", body.Count)
	}
}

func TestCreateRole(t *testing.T) {
	env := newTestEnv(t)
	admin := env.createUser(t, "admin@example.com", "rol-admin")
	token := env.tokenFor(t, admin)

	rec := env.do(t, http.MethodPost, "/api/v1/roles/", token, createRoleRequest{
		Name:        "Auditor",
		Description: "Read-only audit access",
		Permissions: []auth.Permission{auth.PermAuditView},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var role auth.Role
	decode(t, rec, &role)
	if !strings.HasPrefix(role.ID, "rol-") {
		t.Errorf("expected rol- ID prefix, got %q", role.ID)
	}
	if !role.Permissions.Has(auth.PermAuditView) {
		t.Error("expected audit.view in permission set")
	}
	if role.IsSystem {
		t.Error("created roles must not be system roles")
	}
}

func TestCreateRole_Invalid(t *testing.T) {
	env := newTestEnv(t)
	admin := env.createUser(t, "admin@example.com", "rol-admin")
	token := env.tokenFor(t, admin)

	unknown := env.do(t, http.MethodPost, "/api/v1/roles/", token, createRoleRequest{
		Name:        "Broken",
		Permissions: []auth.Permission{"servers.fly"},
	})
	if unknown.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for unknown permission, got %d", unknown.Code)
	}

	dup := env.do(t, http.MethodPost, "/api/v1/roles/", token, createRoleRequest{
		Name: auth.RoleNameAdmin,
	})
	if dup.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate name, got %d", dup.Code)
	}
}

func TestUpdateRole_SystemRoleImmutable(t *testing.T) {
	env := newTestEnv(t)
	admin := env.createUser(t, "admin@example.com", "rol-admin")
	token := env.tokenFor(t, admin)

	name := "Renamed Admin"
	rec := env.do(t, http.MethodPatch, "/api/v1/roles/rol-admin", token, updateRoleRequest{
		Name: &name,
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for system role edit, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDeleteRole(t *testing.T) {
	env := newTestEnv(t)
	admin := env.createUser(t, "admin@example.com", "rol-admin")
	token := env.tokenFor(t, admin)

	role := &auth.Role{Name: "Temporary"}
	if err := env.roles.Create(context.Background(), role); err != nil {
		t.Fatalf("creating role: %v", err)
	}

	rec := env.do(t, http.MethodDelete, "/api/v1/roles/"+role.ID, token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDeleteRole_InUse(t *testing.T) {
	env := newTestEnv(t)
	admin := env.createUser(t, "admin@example.com", "rol-admin")
	token := env.tokenFor(t, admin)

	role := &auth.Role{Name: "Assigned"}
	if err := env.roles.Create(context.Background(), role); err != nil {
		t.Fatalf("creating role: %v", err)
	}
	env.createUser(t, "holder@example.com", role.ID)

	rec := env.do(t, http.MethodDelete, "/api/v1/roles/"+role.ID, token, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for role in use, got %d: %s", rec.Code, rec.Body.String())
	}
}
