package auth

import (
	"context"
	"sync"
	"testing"
	"time"
)

// Resilience tests verify that the auth subsystem handles failure scenarios
// gracefully. These tests use the TestResilience_ prefix for easy filtering:
//
//	go test -run TestResilience -race ./internal/auth/...

// TestResilience_SessionRotation_ConcurrentRefresh verifies that concurrent
// refresh requests don't corrupt state. When two goroutines present the same
// refresh token simultaneously, one should succeed and the other should see
// the session as revoked (theft detection).
func TestResilience_SessionRotation_ConcurrentRefresh(t *testing.T) {
	db := testDB(t)
	userRepo := NewUserRepository(db)
	sessionRepo := NewSessionRepository(db)
	ctx := context.Background()

	user := seedTestUser(t, db, "concurrent@example.com", "")

	rawToken := "test-raw-token-concurrent"
	tokenHash := HashToken(rawToken)

	initial := &Session{
		UserID:    user.ID,
		TokenHash: tokenHash,
		ExpiresAt: time.Now().UTC().Add(24 * time.Hour),
	}
	if err := sessionRepo.Create(ctx, initial); err != nil {
		t.Fatalf("creating initial session: %v", err)
	}

	// Simulate concurrent refresh: two goroutines try to rotate the same session
	var wg sync.WaitGroup
	results := make(chan error, 2) //nolint:mnd // two concurrent attempts

	for n := 0; n < 2; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			stored, err := sessionRepo.GetByTokenHash(ctx, tokenHash)
			if err != nil {
				results <- err
				return
			}

			next := &Session{
				UserID:    user.ID,
				FamilyID:  stored.FamilyID,
				TokenHash: HashToken("new-token-" + time.Now().String()),
				ExpiresAt: time.Now().UTC().Add(24 * time.Hour),
			}
			results <- sessionRepo.Rotate(ctx, stored.ID, next)
		}()
	}

	wg.Wait()
	close(results)

	// At least one should succeed; both may succeed since SQLite serialises writes.
	// The key invariant: no panic, no data corruption, and the original session is revoked.
	var successes int
	for err := range results {
		if err == nil {
			successes++
		}
	}

	if successes == 0 {
		t.Error("expected at least one concurrent rotation to succeed")
	}

	stored, err := sessionRepo.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		t.Fatalf("retrieving rotated session: %v", err)
	}
	if !stored.Revoked {
		t.Error("original session should be revoked after rotation")
	}

	if _, err := userRepo.GetByID(ctx, user.ID); err != nil {
		t.Errorf("user lookup after concurrent rotation failed: %v", err)
	}
}

// TestResilience_OwnershipTransfer_Concurrent verifies that racing transfer
// calls never leave a server with zero or multiple owners. Only transfers
// presenting the true current owner may win.
func TestResilience_OwnershipTransfer_Concurrent(t *testing.T) {
	db := testDB(t)
	repo := NewAccessRepository(db)
	ctx := context.Background()

	owner := seedTestUser(t, db, "race-owner@example.com", "")
	candA := seedTestUser(t, db, "race-a@example.com", "")
	candB := seedTestUser(t, db, "race-b@example.com", "")
	seedTestServer(t, db, "srv-race", "race")

	if _, err := repo.GrantOwnerOnCreate(ctx, owner.ID, "srv-race"); err != nil {
		t.Fatalf("GrantOwnerOnCreate() error = %v", err)
	}

	var wg sync.WaitGroup
	results := make(chan error, 2) //nolint:mnd // two racing transfers

	for _, target := range []string{candA.ID, candB.ID} {
		target := target
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- repo.TransferOwnership(ctx, "srv-race", target, owner.ID)
		}()
	}

	wg.Wait()
	close(results)

	// Exactly one transfer may win: the loser fails the in-transaction
	// owner check, or gets rejected by SQLite's write serialisation.
	var successes int
	for err := range results {
		if err == nil {
			successes++
		}
	}
	if successes != 1 {
		t.Errorf("%d transfers succeeded, want exactly 1", successes)
	}

	// Exactly one owner remains, and it is one of the candidates
	grants, err := repo.ListByServer(ctx, "srv-race")
	if err != nil {
		t.Fatalf("ListByServer() error = %v", err)
	}
	var owners []string
	for _, g := range grants {
		if g.Level == LevelOwner {
			owners = append(owners, g.UserID)
		}
	}
	if len(owners) != 1 {
		t.Fatalf("server has %d owners after racing transfers, want 1", len(owners))
	}
	if owners[0] != candA.ID && owners[0] != candB.ID {
		t.Errorf("owner = %q, want one of the transfer targets", owners[0])
	}
}

// TestResilience_UserDeletion_CascadesCleanly verifies that deleting a user
// cascades to sessions and server access grants (via FK ON DELETE CASCADE),
// leaving no orphaned references.
func TestResilience_UserDeletion_CascadesCleanly(t *testing.T) {
	db := testDB(t)
	userRepo := NewUserRepository(db)
	sessionRepo := NewSessionRepository(db)
	accessRepo := NewAccessRepository(db)
	ctx := context.Background()

	user := seedTestUser(t, db, "cascade@example.com", "")
	seedTestServer(t, db, "srv-one", "one")
	seedTestServer(t, db, "srv-two", "two")

	for i := 0; i < 3; i++ {
		s := &Session{
			UserID:    user.ID,
			TokenHash: HashToken("token-" + string(rune('a'+i))),
			ExpiresAt: time.Now().UTC().Add(24 * time.Hour),
		}
		if err := sessionRepo.Create(ctx, s); err != nil {
			t.Fatalf("creating session %d: %v", i, err)
		}
	}

	if _, err := accessRepo.Grant(ctx, user.ID, "srv-one", LevelOperator); err != nil {
		t.Fatalf("granting access: %v", err)
	}
	if _, err := accessRepo.Grant(ctx, user.ID, "srv-two", LevelViewer); err != nil {
		t.Fatalf("granting access: %v", err)
	}

	// Verify pre-deletion state
	sessions, err := sessionRepo.ListActiveByUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("listing sessions pre-delete: %v", err)
	}
	if len(sessions) != 3 { //nolint:mnd // 3 sessions created above
		t.Errorf("expected 3 sessions pre-delete, got %d", len(sessions))
	}

	grants, err := accessRepo.ListByUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("listing grants pre-delete: %v", err)
	}
	if len(grants) != 2 { //nolint:mnd // 2 grants created above
		t.Errorf("expected 2 grants pre-delete, got %d", len(grants))
	}

	if err := userRepo.Delete(ctx, user.ID); err != nil {
		t.Fatalf("deleting user: %v", err)
	}

	// Verify cascade: sessions should be gone
	sessions, err = sessionRepo.ListActiveByUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("listing sessions post-delete: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("expected 0 sessions post-delete (FK cascade), got %d", len(sessions))
	}

	// Verify cascade: access grants should be gone
	grants, err = accessRepo.ListByUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("listing grants post-delete: %v", err)
	}
	if len(grants) != 0 {
		t.Errorf("expected 0 grants post-delete (FK cascade), got %d", len(grants))
	}
}

// TestResilience_ContextCancellation_RepositoryOps verifies that repository
// operations respect context cancellation and return clean errors rather
// than panicking or leaving partial state.
func TestResilience_ContextCancellation_RepositoryOps(t *testing.T) {
	db := testDB(t)
	userRepo := NewUserRepository(db)

	// Create a pre-cancelled context
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	// All operations should return a context error, not panic
	_, err := userRepo.List(ctx)
	if err == nil {
		t.Error("List with cancelled context should return error")
	}

	_, err = userRepo.GetByEmail(ctx, "nonexistent@example.com")
	if err == nil {
		t.Error("GetByEmail with cancelled context should return error")
	}

	_, err = userRepo.Count(ctx)
	if err == nil {
		t.Error("Count with cancelled context should return error")
	}

	user := &User{
		Email:        "cancel-test@example.com",
		DisplayName:  "Cancel Test",
		PasswordHash: "$argon2id$v=19$m=65536,t=3,p=1$dGVzdHNhbHQ$dGVzdGhhc2g",
		IsActive:     true,
	}
	err = userRepo.Create(ctx, user)
	if err == nil {
		t.Error("Create with cancelled context should return error")
	}
}
