package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/guildmark/internal/domain"
	"github.com/roach88/guildmark/internal/engine"
)

var testTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedCatalog stores one AND badge (20 work hours, 1 project) and one
// certificate.
func seedCatalog(t *testing.T, s *Store) {
	t.Helper()
	templates := []domain.Template{
		{ID: "journeyman", Title: "Journeyman", Points: 50, Category: domain.CategoryBadge, Logic: domain.LogicAnd},
		{ID: "master-cert", Title: "Master Certificate", Category: domain.CategoryCertificate, Logic: domain.LogicAnd},
	}
	rules := []domain.Rule{
		{ID: "r-work", TemplateID: "journeyman", Kind: domain.RuleAutomatic, Condition: domain.ConditionWorkHours, Threshold: 20},
		{ID: "r-project", TemplateID: "journeyman", Kind: domain.RuleAutomatic, Condition: domain.ConditionProjectCount, Threshold: 1},
		{ID: "r-manual", TemplateID: "master-cert", Kind: domain.RuleManual},
	}
	if err := s.SaveCatalog(context.Background(), templates, rules); err != nil {
		t.Fatalf("SaveCatalog() failed: %v", err)
	}
}

// createTestUpsert builds an unlock command for a fresh key.
func createTestUpsert(user, template, grantor string, locked bool) engine.UpsertCommand {
	return engine.UpsertCommand{
		Key:      domain.NewIdentityKey(domain.ID(user), domain.ID(template), domain.ID(grantor)),
		Locked:   locked,
		EarnedAt: testTime,
	}
}

func mustRecordActivity(t *testing.T, s *Store, user, master string, kind domain.ActivityKind, hours float64) {
	t.Helper()
	_, err := s.RecordActivity(context.Background(), domain.Activity{
		UserID:     domain.ID(user),
		MasterID:   domain.ID(master),
		Kind:       kind,
		Hours:      hours,
		OccurredAt: testTime,
	})
	if err != nil {
		t.Fatalf("RecordActivity() failed: %v", err)
	}
}
