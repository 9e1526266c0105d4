package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// openTestStore connects to the database named by SIDEQUEST_TEST_DATABASE_URL,
// resets the public schema, and applies every migration. Tests that need a
// real database skip when the variable is unset.
func openTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("SIDEQUEST_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("SIDEQUEST_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(ctx, db, testMigrationsDir()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db, TxOptions{})
}

func testMigrationsDir() string {
	return filepath.Join("..", "..", "db", "migrations")
}

func questContentFixture(title string) QuestContent {
	return QuestContent{
		Domain:      "fitness",
		Archetype:   "habit",
		Title:       title,
		Description: "Run before breakfast.",
		XPReward:    50,
		Weight:      10,
	}
}

func TestMigrationsReapplyPostgres(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// A second pass must be a no-op: the ledger already records every file.
	if err := ApplyMigrations(ctx, s.DB(), testMigrationsDir()); err != nil {
		t.Fatalf("reapply migrations: %v", err)
	}

	var applied int
	if err := s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM sidequest_migrations`).Scan(&applied); err != nil {
		t.Fatalf("count ledger rows: %v", err)
	}
	if applied == 0 {
		t.Fatal("migration ledger is empty after apply")
	}
}

func TestQuestVersionHistoryPostgres(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.CreateQuest(ctx, "morning-run", questContentFixture("Morning Run"), "casey")
	if err != nil {
		t.Fatalf("create quest: %v", err)
	}
	if created.VersionCounter != 1 {
		t.Fatalf("version counter = %d after create, want 1", created.VersionCounter)
	}

	updated, err := s.UpdateQuestContent(ctx, "morning-run", questContentFixture("Dawn Patrol"), "casey")
	if err != nil {
		t.Fatalf("update quest: %v", err)
	}
	if updated.VersionCounter != 2 {
		t.Fatalf("version counter = %d after update, want 2", updated.VersionCounter)
	}

	// The version-1 snapshot keeps the content as it was at create time.
	v1, err := s.GetQuestVersion(ctx, "morning-run", "1")
	if err != nil {
		t.Fatalf("get version 1: %v", err)
	}
	if v1.Content.Title != "Morning Run" {
		t.Fatalf("version 1 title = %q, want the original", v1.Content.Title)
	}
	v2, err := s.GetQuestVersion(ctx, "morning-run", "2")
	if err != nil {
		t.Fatalf("get version 2: %v", err)
	}
	if v2.Content.Title != "Dawn Patrol" {
		t.Fatalf("version 2 title = %q, want the update", v2.Content.Title)
	}

	versions, err := s.ListQuestVersions(ctx, "morning-run")
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("got %d versions, want 2", len(versions))
	}
}

func TestConcurrentQuestUpdatesSerializePostgres(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateQuest(ctx, "morning-run", questContentFixture("Morning Run"), "casey"); err != nil {
		t.Fatalf("create quest: %v", err)
	}

	// Two writers race on the same quest. The row lock serializes them, so
	// each claims a distinct version instead of both writing version 2.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.UpdateQuestContent(ctx, "morning-run", questContentFixture("Racing Update"), "casey")
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("concurrent update %d: %v", i, err)
		}
	}

	quest, err := s.GetQuest(ctx, "morning-run")
	if err != nil {
		t.Fatalf("get quest: %v", err)
	}
	if quest.VersionCounter != 3 {
		t.Fatalf("version counter = %d after two updates, want 3", quest.VersionCounter)
	}
	versions, err := s.ListQuestVersions(ctx, "morning-run")
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("got %d snapshots, want 3", len(versions))
	}
}

func TestDeleteVariantPostgres(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Fresh deployments have a config row with a NULL pointer; deleting a
	// draft variant must still work.
	if err := s.EnsureMentorConfig(ctx); err != nil {
		t.Fatalf("ensure config: %v", err)
	}
	if _, err := s.CreateVariant(ctx, MentorVariant{ID: "season-one", Name: "Season One", Status: VariantStatusDraft}); err != nil {
		t.Fatalf("create variant: %v", err)
	}
	if err := s.DeleteVariant(ctx, "season-one"); err != nil {
		t.Fatalf("delete draft variant with unset pointer: %v", err)
	}
	if _, err := s.GetVariant(ctx, "season-one"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("get deleted variant error = %v, want sql.ErrNoRows", err)
	}

	// A published variant survives deletion attempts.
	if _, err := s.CreateVariant(ctx, MentorVariant{ID: "season-two", Name: "Season Two", Status: VariantStatusDraft}); err != nil {
		t.Fatalf("create variant: %v", err)
	}
	if _, err := s.PublishVariant(ctx, "season-two", false, "casey"); err != nil {
		t.Fatalf("publish variant: %v", err)
	}
	if err := s.DeleteVariant(ctx, "season-two"); !errors.Is(err, ErrVariantNotDraft) {
		t.Fatalf("delete published variant error = %v, want ErrVariantNotDraft", err)
	}

	// The variant the config points at is protected even from itself.
	if _, err := s.CreateVariant(ctx, MentorVariant{ID: "season-three", Name: "Season Three", Status: VariantStatusDraft}); err != nil {
		t.Fatalf("create variant: %v", err)
	}
	if _, err := s.PublishVariant(ctx, "season-three", true, "casey"); err != nil {
		t.Fatalf("publish and activate variant: %v", err)
	}
	if err := s.DeleteVariant(ctx, "season-three"); !errors.Is(err, ErrVariantActive) {
		t.Fatalf("delete active variant error = %v, want ErrVariantActive", err)
	}
}

func TestReplaceStatsRoundTripPostgres(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	last := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	stats := []QuestStats{{
		QuestID: "morning-run", Presented: 4, Accepted: 2, Completed: 1, Skipped: 1,
		RatingSum: 9, RatingCount: 2, RewardTotal: 125,
		ChaosPresented: 1, ChaosAccepted: 1, ChaosCompleted: 1,
		LastPresentedAt: &last,
	}}
	summary := StatsSummary{
		QuestCount: 1, TotalPresented: 4, TotalAccepted: 2, TotalCompleted: 1, TotalSkipped: 1,
		TotalRatingSum: 9, TotalRatingCount: 2, TotalReward: 125,
		TotalChaosPresented: 1, TotalChaosAccepted: 1, TotalChaosCompleted: 1,
		LastPresentedAt: &last,
	}

	// Writing the same batch twice upserts in place.
	for i := 0; i < 2; i++ {
		if err := s.ReplaceStats(ctx, stats, summary); err != nil {
			t.Fatalf("replace stats (pass %d): %v", i+1, err)
		}
	}

	got, err := s.GetQuestStats(ctx, "morning-run")
	if err != nil {
		t.Fatalf("get quest stats: %v", err)
	}
	if got.Presented != 4 || got.ChaosPresented != 1 {
		t.Fatalf("stats = %+v, counters did not round-trip", got)
	}
	if got.LastPresentedAt == nil || !got.LastPresentedAt.Equal(last) {
		t.Fatalf("lastPresentedAt = %v, want %v", got.LastPresentedAt, last)
	}

	gotSummary, err := s.GetStatsSummary(ctx)
	if err != nil {
		t.Fatalf("get stats summary: %v", err)
	}
	if gotSummary.TotalPresented != 4 || gotSummary.TotalChaosCompleted != 1 {
		t.Fatalf("summary = %+v, totals did not round-trip", gotSummary)
	}
	if gotSummary.LastPresentedAt == nil || !gotSummary.LastPresentedAt.Equal(last) {
		t.Fatalf("summary lastPresentedAt = %v, want %v", gotSummary.LastPresentedAt, last)
	}
}
