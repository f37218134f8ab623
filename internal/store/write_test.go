package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/roach88/guildmark/internal/domain"
	"github.com/roach88/guildmark/internal/engine"
)

func TestUpsertRecord_InsertsNewRow(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	cmd := createTestUpsert("u1", "journeyman", "", false)
	cmd.History = []domain.HistoryEntry{{ID: "h-1", UserID: "u1", TemplateID: "journeyman", GrantorID: "m1", UnlockedAt: testTime}}

	rec, err := s.UpsertRecord(ctx, cmd)
	if err != nil {
		t.Fatalf("UpsertRecord() failed: %v", err)
	}
	if rec.ID == 0 || rec.Locked || rec.Version != 1 {
		t.Errorf("unexpected record %+v", rec)
	}
	if !rec.GrantorID.IsNull() {
		t.Errorf("grantor = %q, want null", rec.GrantorID)
	}
	if rec.EarnedAt == nil || !rec.EarnedAt.Equal(testTime) {
		t.Errorf("earned_at = %v, want %v", rec.EarnedAt, testTime)
	}

	history, err := s.History(ctx, "u1", "journeyman")
	if err != nil {
		t.Fatalf("History() failed: %v", err)
	}
	if len(history) != 1 || history[0].ID != "h-1" {
		t.Errorf("history = %+v, want the entry written with the upsert", history)
	}
}

func TestUpsertRecord_SingleRowPerKey(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	cmd := createTestUpsert("u1", "journeyman", "", false)
	cmd.ExpectedVersion = engine.AnyVersion
	for i := 0; i < 3; i++ {
		if _, err := s.UpsertRecord(ctx, cmd); err != nil {
			t.Fatalf("UpsertRecord() #%d failed: %v", i, err)
		}
	}

	records, err := s.AllRecords(ctx)
	if err != nil {
		t.Fatalf("AllRecords() failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].Version != 3 {
		t.Errorf("version = %d, want 3", records[0].Version)
	}
}

func TestUpsertRecord_LockKeepsEarnedAt(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	unlocked, err := s.UpsertRecord(ctx, createTestUpsert("u1", "journeyman", "", false))
	if err != nil {
		t.Fatalf("unlock failed: %v", err)
	}

	lock := createTestUpsert("u1", "journeyman", "", true)
	lock.ExpectedVersion = unlocked.Version
	lock.EarnedAt = testTime.Add(time.Hour)
	locked, err := s.UpsertRecord(ctx, lock)
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	if !locked.Locked {
		t.Error("record should be locked")
	}
	if locked.EarnedAt == nil || !locked.EarnedAt.Equal(testTime) {
		t.Errorf("earned_at = %v, want preserved %v", locked.EarnedAt, testTime)
	}

	unlockAgain := createTestUpsert("u1", "journeyman", "", false)
	unlockAgain.ExpectedVersion = locked.Version
	unlockAgain.EarnedAt = testTime.Add(2 * time.Hour)
	again, err := s.UpsertRecord(ctx, unlockAgain)
	if err != nil {
		t.Fatalf("re-unlock failed: %v", err)
	}
	if !again.EarnedAt.Equal(testTime.Add(2 * time.Hour)) {
		t.Errorf("re-unlock earned_at = %v, want new stamp", again.EarnedAt)
	}
}

func TestUpsertRecord_StaleVersionConflicts(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first, err := s.UpsertRecord(ctx, createTestUpsert("u1", "journeyman", "", false))
	if err != nil {
		t.Fatalf("UpsertRecord() failed: %v", err)
	}

	// A second writer read "no row" and wants to lock: the row has moved on.
	stale := createTestUpsert("u1", "journeyman", "", true)
	stale.ExpectedVersion = 0
	_, err = s.UpsertRecord(ctx, stale)
	if !engine.IsSyncConflict(err) {
		t.Fatalf("expected SYNC_CONFLICT, got %v", err)
	}

	records, _ := s.AllRecords(ctx)
	if len(records) != 1 || records[0].Locked || records[0].Version != first.Version {
		t.Errorf("conflicting write must not change the row: %+v", records)
	}
}

func TestUpsertRecord_StaleVersionAlreadyAppliedSucceeds(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertRecord(ctx, createTestUpsert("u1", "journeyman", "", false)); err != nil {
		t.Fatalf("UpsertRecord() failed: %v", err)
	}

	// A concurrent run reached the same decision from the same stale read.
	same := createTestUpsert("u1", "journeyman", "", false)
	same.History = []domain.HistoryEntry{{ID: "h-dup", UserID: "u1", TemplateID: "journeyman", GrantorID: "m1", UnlockedAt: testTime}}
	rec, err := s.UpsertRecord(ctx, same)
	if err != nil {
		t.Fatalf("converging write should succeed, got %v", err)
	}
	if rec.Version != 1 {
		t.Errorf("version = %d, want untouched 1", rec.Version)
	}

	history, _ := s.AllHistory(ctx)
	if len(history) != 0 {
		t.Errorf("converging write must not append history, got %+v", history)
	}
}

func TestUpsertRecord_ConcurrentWritersConverge(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpsertRecord(ctx, createTestUpsert("u1", "journeyman", "", false))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent upsert failed: %v", err)
		}
	}
	records, _ := s.AllRecords(ctx)
	if len(records) != 1 {
		t.Errorf("got %d records, want exactly 1", len(records))
	}
}

func TestUpsertRecord_FailedHistoryRollsBack(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	cmd := createTestUpsert("u1", "journeyman", "", false)
	cmd.History = []domain.HistoryEntry{{ID: "", UserID: "u1", TemplateID: "journeyman", GrantorID: "m1"}}
	if _, err := s.UpsertRecord(ctx, cmd); err == nil {
		t.Fatal("expected error for history entry without id")
	}

	records, _ := s.AllRecords(ctx)
	if len(records) != 0 {
		t.Errorf("record written without its history: %+v", records)
	}
}

func TestAppendHistory_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	entry := domain.HistoryEntry{ID: "h-1", UserID: "u1", TemplateID: "master-cert", GrantorID: "m1", UnlockedAt: testTime}
	for i := 0; i < 2; i++ {
		if err := s.AppendHistory(ctx, entry); err != nil {
			t.Fatalf("AppendHistory() #%d failed: %v", i, err)
		}
	}

	history, _ := s.AllHistory(ctx)
	if len(history) != 1 {
		t.Errorf("got %d entries, want 1", len(history))
	}
}

func TestAppendHistory_RequiresGrantor(t *testing.T) {
	s := createTestStore(t)

	err := s.AppendHistory(context.Background(), domain.HistoryEntry{ID: "h-1", UserID: "u1", TemplateID: "t1"})
	if err == nil {
		t.Error("expected error for history entry without grantor")
	}
}

func TestDeleteRecords_IdempotentAndChunked(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < deleteChunk+20; i++ {
		res, err := s.db.Exec(
			`INSERT INTO records (identity_key, user_id, template_id, locked) VALUES (?, 'u1', 't1', 1)`,
			domain.NewIdentityKey("u1", "t1", domain.NormalizeID(i)).Hash(),
		)
		if err != nil {
			t.Fatalf("insert failed: %v", err)
		}
		id, _ := res.LastInsertId()
		ids = append(ids, id)
	}

	n, err := s.DeleteRecords(ctx, ids[1:])
	if err != nil {
		t.Fatalf("DeleteRecords() failed: %v", err)
	}
	if n != int64(len(ids)-1) {
		t.Errorf("deleted %d, want %d", n, len(ids)-1)
	}

	n, err = s.DeleteRecords(ctx, []int64{ids[1], ids[2], 999999})
	if err != nil {
		t.Fatalf("repeat DeleteRecords() failed: %v", err)
	}
	if n != 0 {
		t.Errorf("repeat delete removed %d rows, want 0", n)
	}

	records, _ := s.AllRecords(ctx)
	if len(records) != 1 || records[0].ID != ids[0] {
		t.Errorf("remaining records = %+v", records)
	}
}

func TestDeleteRecords_Empty(t *testing.T) {
	s := createTestStore(t)

	n, err := s.DeleteRecords(context.Background(), nil)
	if err != nil || n != 0 {
		t.Errorf("DeleteRecords(nil) = %d, %v", n, err)
	}
}
