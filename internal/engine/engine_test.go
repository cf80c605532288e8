package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"flashflow/internal/config"
	"flashflow/internal/db"
	"flashflow/internal/domain"
	"flashflow/internal/engine"
	"flashflow/internal/engine/auth"
	"flashflow/internal/migrate"
	"flashflow/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Clock  *testClock
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Admins = []string{"boss"}
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	eng := engine.New(conn, cfg)
	eng.Now = clock.Now
	eng.Audit.Now = clock.Now
	return testEnv{Engine: eng, Ctx: context.Background(), Clock: clock}
}

func worker(id string) auth.Actor { return auth.Actor{ID: id} }

func admin(id string) auth.Actor { return auth.Actor{ID: id, Admin: true} }

func mustCreate(t *testing.T, env testEnv, title string) domain.Video {
	t.Helper()
	v, _, err := env.Engine.CreateVideo(env.Ctx, engine.CreateVideoOptions{
		Title: title,
		Actor: worker("seed"),
	})
	if err != nil {
		t.Fatalf("create video: %v", err)
	}
	return v
}

func TestClaimConflictAndRenewal(t *testing.T) {
	env := newTestEnv(t)
	v := mustCreate(t, env, "ep-001")

	got, err := env.Engine.ClaimVideo(env.Ctx, engine.ClaimOptions{
		VideoID: v.ID, Role: domain.RoleRecorder, Actor: worker("alice"),
	})
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if got.ClaimHolder == nil || *got.ClaimHolder != "alice" {
		t.Fatalf("claim holder = %v, want alice", got.ClaimHolder)
	}

	_, err = env.Engine.ClaimVideo(env.Ctx, engine.ClaimOptions{
		VideoID: v.ID, Role: domain.RoleRecorder, Actor: worker("bob"),
	})
	var conflict engine.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("second claim err = %v, want ConflictError", err)
	}
	if conflict.Holder != "alice" {
		t.Fatalf("conflict holder = %q, want alice", conflict.Holder)
	}

	// Same holder re-claiming renews the lease.
	firstExpiry := *got.ClaimExpiresAt
	env.Clock.Advance(10 * time.Minute)
	got, err = env.Engine.ClaimVideo(env.Ctx, engine.ClaimOptions{
		VideoID: v.ID, Role: domain.RoleRecorder, Actor: worker("alice"),
	})
	if err != nil {
		t.Fatalf("renewal: %v", err)
	}
	if *got.ClaimExpiresAt <= firstExpiry {
		t.Fatalf("expiry not extended: %s -> %s", firstExpiry, *got.ClaimExpiresAt)
	}
}

func TestConcurrentClaimsExactlyOneWins(t *testing.T) {
	env := newTestEnv(t)
	v := mustCreate(t, env, "ep-002")

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.ClaimVideo(env.Ctx, engine.ClaimOptions{
				VideoID: v.ID,
				Role:    domain.RoleRecorder,
				Actor:   worker(string(rune('a' + i))),
			})
		}(i)
	}
	wg.Wait()

	wins := 0
	for i, err := range errs {
		if err == nil {
			wins++
			continue
		}
		var conflict engine.ConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("claimer %d: unexpected error %v", i, err)
		}
	}
	if wins != 1 {
		t.Fatalf("winners = %d, want exactly 1", wins)
	}
}

func TestReleaseIdempotentAndOwned(t *testing.T) {
	env := newTestEnv(t)
	v := mustCreate(t, env, "ep-003")

	// Releasing an unclaimed video succeeds.
	if _, err := env.Engine.ReleaseVideo(env.Ctx, engine.ReleaseOptions{VideoID: v.ID, Actor: worker("alice")}); err != nil {
		t.Fatalf("release unclaimed: %v", err)
	}

	if _, err := env.Engine.ClaimVideo(env.Ctx, engine.ClaimOptions{
		VideoID: v.ID, Role: domain.RoleRecorder, Actor: worker("alice"),
	}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	_, err := env.Engine.ReleaseVideo(env.Ctx, engine.ReleaseOptions{VideoID: v.ID, Actor: worker("carol")})
	var owner engine.NotClaimOwnerError
	if !errors.As(err, &owner) || owner.Holder != "alice" {
		t.Fatalf("non-owner release err = %v, want NotClaimOwnerError{alice}", err)
	}

	got, err := env.Engine.ReleaseVideo(env.Ctx, engine.ReleaseOptions{VideoID: v.ID, Actor: worker("alice")})
	if err != nil {
		t.Fatalf("owner release: %v", err)
	}
	if got.Claimed() {
		t.Fatalf("still claimed after release")
	}

	// And releasing again is still fine.
	if _, err := env.Engine.ReleaseVideo(env.Ctx, engine.ReleaseOptions{VideoID: v.ID, Actor: worker("alice")}); err != nil {
		t.Fatalf("repeat release: %v", err)
	}
}

func TestForceIsAdminOnly(t *testing.T) {
	env := newTestEnv(t)
	v := mustCreate(t, env, "ep-004")

	if _, err := env.Engine.ClaimVideo(env.Ctx, engine.ClaimOptions{
		VideoID: v.ID, Role: domain.RoleRecorder, Actor: worker("alice"),
	}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	_, err := env.Engine.ReleaseVideo(env.Ctx, engine.ReleaseOptions{VideoID: v.ID, Actor: worker("carol"), Force: true})
	var forbidden auth.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("non-admin force err = %v, want ForbiddenError", err)
	}

	// Alice's lease must be untouched by the rejected force.
	cur, err := env.Engine.Repo.GetVideo(env.Ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cur.ClaimHolder == nil || *cur.ClaimHolder != "alice" {
		t.Fatalf("lease disturbed by rejected force: %v", cur.ClaimHolder)
	}

	got, err := env.Engine.ReleaseVideo(env.Ctx, engine.ReleaseOptions{VideoID: v.ID, Actor: admin("boss"), Force: true})
	if err != nil {
		t.Fatalf("admin force release: %v", err)
	}
	if got.Claimed() {
		t.Fatalf("still claimed after forced release")
	}
}

func TestExpiredLeaseIsReclaimable(t *testing.T) {
	env := newTestEnv(t)
	v := mustCreate(t, env, "ep-005")

	if _, err := env.Engine.ClaimVideo(env.Ctx, engine.ClaimOptions{
		VideoID: v.ID, Role: domain.RoleRecorder, Actor: worker("alice"), TTL: time.Minute,
	}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Before expiry another worker is rejected.
	if _, err := env.Engine.ClaimVideo(env.Ctx, engine.ClaimOptions{
		VideoID: v.ID, Role: domain.RoleEditor, Actor: worker("bob"),
	}); err == nil {
		t.Fatalf("expected conflict before expiry")
	}

	env.Clock.Advance(2 * time.Minute)
	got, err := env.Engine.ClaimVideo(env.Ctx, engine.ClaimOptions{
		VideoID: v.ID, Role: domain.RoleEditor, Actor: worker("bob"),
	})
	if err != nil {
		t.Fatalf("claim after expiry: %v", err)
	}
	if *got.ClaimHolder != "bob" {
		t.Fatalf("holder = %q, want bob", *got.ClaimHolder)
	}
}

func TestHandoffTransfersLeaseAndAssigns(t *testing.T) {
	env := newTestEnv(t)
	v := mustCreate(t, env, "ep-006")

	// Handoff of an unclaimed video fails.
	_, err := env.Engine.HandoffVideo(env.Ctx, engine.HandoffOptions{
		VideoID: v.ID, Actor: worker("alice"), ToUser: "bob", ToRole: domain.RoleEditor,
	})
	if !errors.Is(err, engine.ErrNotClaimed) {
		t.Fatalf("unclaimed handoff err = %v, want ErrNotClaimed", err)
	}

	if _, err := env.Engine.ClaimVideo(env.Ctx, engine.ClaimOptions{
		VideoID: v.ID, Role: domain.RoleRecorder, Actor: worker("alice"),
	}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Only the holder may hand off.
	_, err = env.Engine.HandoffVideo(env.Ctx, engine.HandoffOptions{
		VideoID: v.ID, Actor: worker("carol"), ToUser: "bob", ToRole: domain.RoleEditor,
	})
	var owner engine.NotClaimOwnerError
	if !errors.As(err, &owner) {
		t.Fatalf("non-holder handoff err = %v, want NotClaimOwnerError", err)
	}

	got, err := env.Engine.HandoffVideo(env.Ctx, engine.HandoffOptions{
		VideoID: v.ID, Actor: worker("alice"), ToUser: "bob", ToRole: domain.RoleEditor, Notes: "rough cut ready",
	})
	if err != nil {
		t.Fatalf("handoff: %v", err)
	}
	if *got.ClaimHolder != "bob" || *got.ClaimRole != domain.RoleEditor {
		t.Fatalf("lease after handoff = %v/%v", got.ClaimHolder, got.ClaimRole)
	}
	if *got.AssignedTo != "bob" || *got.AssignmentState != domain.AssignmentAssigned {
		t.Fatalf("assignment after handoff = %v/%v", got.AssignedTo, got.AssignmentState)
	}
	if *got.AssignedBy != "alice" {
		t.Fatalf("assigned_by = %q, want alice", *got.AssignedBy)
	}
}

func TestAssignmentSurvivesRelease(t *testing.T) {
	env := newTestEnv(t)
	v := mustCreate(t, env, "ep-007")

	if _, err := env.Engine.ClaimVideo(env.Ctx, engine.ClaimOptions{
		VideoID: v.ID, Role: domain.RoleRecorder, Actor: worker("alice"),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.HandoffVideo(env.Ctx, engine.HandoffOptions{
		VideoID: v.ID, Actor: worker("alice"), ToUser: "bob", ToRole: domain.RoleEditor,
	}); err != nil {
		t.Fatal(err)
	}

	got, err := env.Engine.ReleaseVideo(env.Ctx, engine.ReleaseOptions{VideoID: v.ID, Actor: worker("bob")})
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if got.Claimed() {
		t.Fatalf("lease survived release")
	}
	if got.AssignedTo == nil || *got.AssignedTo != "bob" {
		t.Fatalf("assignment lost on release: %v", got.AssignedTo)
	}
	if *got.AssignmentState != domain.AssignmentAssigned {
		t.Fatalf("assignment state = %q, want assigned", *got.AssignmentState)
	}
}

func TestCompletionIsGatedAndTerminal(t *testing.T) {
	env := newTestEnv(t)
	v := mustCreate(t, env, "ep-008")

	// No assignment yet.
	_, err := env.Engine.CompleteVideoAssignment(env.Ctx, engine.CompleteOptions{VideoID: v.ID, Actor: worker("bob")})
	if !errors.Is(err, engine.ErrAssignmentNotActive) {
		t.Fatalf("complete without assignment err = %v", err)
	}

	if _, err := env.Engine.ClaimVideo(env.Ctx, engine.ClaimOptions{
		VideoID: v.ID, Role: domain.RoleRecorder, Actor: worker("alice"),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.HandoffVideo(env.Ctx, engine.HandoffOptions{
		VideoID: v.ID, Actor: worker("alice"), ToUser: "bob", ToRole: domain.RoleEditor,
	}); err != nil {
		t.Fatal(err)
	}

	_, err = env.Engine.CompleteVideoAssignment(env.Ctx, engine.CompleteOptions{VideoID: v.ID, Actor: worker("carol")})
	var na engine.NotAssignedError
	if !errors.As(err, &na) || na.AssignedTo != "bob" {
		t.Fatalf("non-assignee complete err = %v, want NotAssignedError{bob}", err)
	}

	got, err := env.Engine.CompleteVideoAssignment(env.Ctx, engine.CompleteOptions{VideoID: v.ID, Actor: worker("bob")})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if *got.AssignmentState != domain.AssignmentCompleted {
		t.Fatalf("state = %q, want completed", *got.AssignmentState)
	}

	// Completion is one-way.
	_, err = env.Engine.CompleteVideoAssignment(env.Ctx, engine.CompleteOptions{VideoID: v.ID, Actor: worker("bob")})
	if !errors.Is(err, engine.ErrAssignmentNotActive) {
		t.Fatalf("repeat complete err = %v, want ErrAssignmentNotActive", err)
	}
}

func TestCreateDedupesPickupEligible(t *testing.T) {
	env := newTestEnv(t)

	first, deduped, err := env.Engine.CreateVideo(env.Ctx, engine.CreateVideoOptions{
		Title: "ep-009", VariantID: "var-1", AccountID: "acct-1", Actor: worker("seed"),
	})
	if err != nil || deduped {
		t.Fatalf("first create: %v deduped=%v", err, deduped)
	}

	second, deduped, err := env.Engine.CreateVideo(env.Ctx, engine.CreateVideoOptions{
		Title: "ep-009 retry", VariantID: "var-1", AccountID: "acct-1", Actor: worker("seed"),
	})
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if !deduped || second.ID != first.ID {
		t.Fatalf("expected dedupe to return %s, got %s (deduped=%v)", first.ID, second.ID, deduped)
	}

	// A different variant is a different video.
	third, deduped, err := env.Engine.CreateVideo(env.Ctx, engine.CreateVideoOptions{
		Title: "ep-010", VariantID: "var-2", AccountID: "acct-1", Actor: worker("seed"),
	})
	if err != nil || deduped {
		t.Fatalf("third create: %v deduped=%v", err, deduped)
	}
	if third.ID == first.ID {
		t.Fatalf("distinct variant collapsed into same video")
	}
}

func TestAuditTrailRecordsTransitions(t *testing.T) {
	env := newTestEnv(t)
	v := mustCreate(t, env, "ep-011")

	if _, err := env.Engine.ClaimVideo(env.Ctx, engine.ClaimOptions{
		VideoID: v.ID, Role: domain.RoleRecorder, Actor: worker("alice"), CorrelationID: "corr-1",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.HandoffVideo(env.Ctx, engine.HandoffOptions{
		VideoID: v.ID, Actor: worker("alice"), ToUser: "bob", ToRole: domain.RoleEditor, CorrelationID: "corr-2",
	}); err != nil {
		t.Fatal(err)
	}

	evs, err := env.Engine.Repo.ListAuditEvents(env.Ctx, repo.AuditFilters{VideoID: v.ID})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	// Newest first: handoff, claim, create.
	if len(evs) != 3 {
		t.Fatalf("audit events = %d, want 3", len(evs))
	}
	if evs[0].EventType != domain.EventHandoff || evs[0].ToHolder != "bob" || evs[0].FromHolder != "alice" {
		t.Fatalf("handoff event = %+v", evs[0])
	}
	if evs[0].CorrelationID != "corr-2" || evs[1].CorrelationID != "corr-1" {
		t.Fatalf("correlation ids = %q, %q", evs[0].CorrelationID, evs[1].CorrelationID)
	}
	if evs[2].EventType != domain.EventCreate {
		t.Fatalf("oldest event = %q, want create", evs[2].EventType)
	}
}

func TestRotationScenario(t *testing.T) {
	env := newTestEnv(t)
	v := mustCreate(t, env, "ep-012")

	if _, err := env.Engine.ClaimVideo(env.Ctx, engine.ClaimOptions{
		VideoID: v.ID, Role: domain.RoleRecorder, Actor: worker("rec-1"),
	}); err != nil {
		t.Fatalf("recorder claim: %v", err)
	}
	if _, err := env.Engine.HandoffVideo(env.Ctx, engine.HandoffOptions{
		VideoID: v.ID, Actor: worker("rec-1"), ToUser: "ed-1", ToRole: domain.RoleEditor,
	}); err != nil {
		t.Fatalf("handoff to editor: %v", err)
	}

	// A bystander cannot release the editor's lease.
	if _, err := env.Engine.ReleaseVideo(env.Ctx, engine.ReleaseOptions{VideoID: v.ID, Actor: worker("up-1")}); err == nil {
		t.Fatalf("expected bystander release to fail")
	}

	if _, err := env.Engine.ReleaseVideo(env.Ctx, engine.ReleaseOptions{VideoID: v.ID, Actor: worker("ed-1")}); err != nil {
		t.Fatalf("editor release: %v", err)
	}
	got, err := env.Engine.CompleteVideoAssignment(env.Ctx, engine.CompleteOptions{VideoID: v.ID, Actor: worker("ed-1")})
	if err != nil {
		t.Fatalf("editor complete: %v", err)
	}
	if *got.AssignmentState != domain.AssignmentCompleted {
		t.Fatalf("assignment state = %q", *got.AssignmentState)
	}
}

func TestClaimUnknownVideo(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.ClaimVideo(env.Ctx, engine.ClaimOptions{
		VideoID: "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d",
		Role:    domain.RoleRecorder,
		Actor:   worker("alice"),
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
