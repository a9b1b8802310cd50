package auth

import (
	"context"
	"errors"
	"testing"
)

func TestUserRepository_CreateAndGet(t *testing.T) {
	db := testDB(t)
	seedSystemRoles(t, db)
	repo := NewUserRepository(db)
	ctx := context.Background()

	user := &User{
		Email:        "Jack@Example.com",
		DisplayName:  "Jack",
		PasswordHash: "fake-hash",
		RoleID:       "rol-user",
		IsActive:     true,
	}
	if err := repo.Create(ctx, user); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if user.ID == "" {
		t.Error("Create() should generate an ID")
	}
	if user.Email != "jack@example.com" {
		t.Errorf("Create() should normalise email, got %q", user.Email)
	}

	got, err := repo.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Email != "jack@example.com" {
		t.Errorf("Email = %q", got.Email)
	}
	if got.RoleID != "rol-user" {
		t.Errorf("RoleID = %q", got.RoleID)
	}

	// Lookup is case-insensitive through normalisation
	byEmail, err := repo.GetByEmail(ctx, "JACK@example.COM")
	if err != nil {
		t.Fatalf("GetByEmail() error = %v", err)
	}
	if byEmail.ID != user.ID {
		t.Errorf("GetByEmail ID = %q, want %q", byEmail.ID, user.ID)
	}
}

func TestUserRepository_DuplicateEmail(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	first := &User{Email: "dup@example.com", DisplayName: "First", PasswordHash: "h"}
	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("first Create() error = %v", err)
	}

	// Same address with different casing still collides
	second := &User{Email: "DUP@example.com", DisplayName: "Second", PasswordHash: "h"}
	if err := repo.Create(ctx, second); !errors.Is(err, ErrEmailExists) {
		t.Errorf("duplicate Create() error = %v, want ErrEmailExists", err)
	}
}

func TestUserRepository_GetMissing(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)

	if _, err := repo.GetByID(context.Background(), "usr-missing"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetByID() error = %v, want ErrUserNotFound", err)
	}
	if _, err := repo.GetByEmail(context.Background(), "ghost@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetByEmail() error = %v, want ErrUserNotFound", err)
	}
}

func TestUserRepository_Update(t *testing.T) {
	db := testDB(t)
	seedSystemRoles(t, db)
	repo := NewUserRepository(db)
	ctx := context.Background()

	user := seedTestUser(t, db, "edit@example.com", "rol-user")

	user.DisplayName = "Edited"
	user.RoleID = "rol-moderator"
	user.IsActive = false
	if err := repo.Update(ctx, user); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := repo.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.DisplayName != "Edited" || got.RoleID != "rol-moderator" || got.IsActive {
		t.Errorf("Update() not persisted: %+v", got)
	}
}

func TestUserRepository_UpdateMissing(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)

	ghost := &User{ID: "usr-ghost", Email: "g@example.com", DisplayName: "g"}
	if err := repo.Update(context.Background(), ghost); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Update() error = %v, want ErrUserNotFound", err)
	}
}

func TestUserRepository_UpdatePassword(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	user := seedTestUser(t, db, "pw@example.com", "")

	if err := repo.UpdatePassword(ctx, user.ID, "new-hash"); err != nil {
		t.Fatalf("UpdatePassword() error = %v", err)
	}

	got, err := repo.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.PasswordHash != "new-hash" {
		t.Errorf("PasswordHash = %q", got.PasswordHash)
	}

	if err := repo.UpdatePassword(ctx, "usr-missing", "h"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("UpdatePassword() missing user error = %v, want ErrUserNotFound", err)
	}
}

func TestUserRepository_Delete(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	user := seedTestUser(t, db, "gone@example.com", "")

	if err := repo.Delete(ctx, user.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.GetByID(ctx, user.ID); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetByID() after delete error = %v, want ErrUserNotFound", err)
	}
	if err := repo.Delete(ctx, user.ID); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("second Delete() error = %v, want ErrUserNotFound", err)
	}
}

func TestUserRepository_ListAndCount(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	count, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 0 {
		t.Errorf("Count() = %d, want 0", count)
	}

	seedTestUser(t, db, "a@example.com", "")
	seedTestUser(t, db, "b@example.com", "")

	users, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(users) != 2 {
		t.Errorf("List() returned %d users, want 2", len(users))
	}

	count, err = repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 2 {
		t.Errorf("Count() = %d, want 2", count)
	}
}

func TestUserRepository_CountActiveWithPermission(t *testing.T) {
	db := testDB(t)
	seedSystemRoles(t, db)
	repo := NewUserRepository(db)
	ctx := context.Background()

	admin := seedTestUser(t, db, "admin1@example.com", "rol-admin")
	seedTestUser(t, db, "mod@example.com", "rol-moderator")
	seedTestUser(t, db, "plain@example.com", "rol-user")
	seedTestUser(t, db, "roleless@example.com", "")

	count, err := repo.CountActiveWithPermission(ctx, PermPanelAdmin)
	if err != nil {
		t.Fatalf("CountActiveWithPermission() error = %v", err)
	}
	if count != 1 {
		t.Errorf("panel.admin count = %d, want 1", count)
	}

	count, err = repo.CountActiveWithPermission(ctx, PermServersCreate)
	if err != nil {
		t.Fatalf("CountActiveWithPermission() error = %v", err)
	}
	if count != 2 { // admin + moderator
		t.Errorf("servers.create count = %d, want 2", count)
	}

	// Deactivated admins don't count
	admin.IsActive = false
	if err := repo.Update(ctx, admin); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	count, err = repo.CountActiveWithPermission(ctx, PermPanelAdmin)
	if err != nil {
		t.Fatalf("CountActiveWithPermission() error = %v", err)
	}
	if count != 0 {
		t.Errorf("panel.admin count after deactivation = %d, want 0", count)
	}
}
