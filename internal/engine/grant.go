package engine

import (
	"context"
	"fmt"

	"github.com/roach88/guildmark/internal/domain"
)

// GrantCertificate records an explicit master unlock of a certificate.
//
// The record (keyed by the master) and its history entry are written in one
// atomic call; no "met" computation is involved. Granting an already
// unlocked certificate keeps its original earnedAt but still appends a
// history line for the new unlock action.
func (e *Engine) GrantCertificate(ctx context.Context, userID, templateID, masterID domain.ID) (domain.Record, error) {
	key, err := e.certificateKey(ctx, userID, templateID, masterID)
	if err != nil {
		return domain.Record{}, fmt.Errorf("grant certificate: %w", err)
	}

	now := e.clock.Now()
	rec, err := e.writer.UpsertRecord(ctx, UpsertCommand{
		Key:             key,
		Locked:          false,
		EarnedAt:        now,
		ExpectedVersion: AnyVersion,
		History: []domain.HistoryEntry{{
			ID:         e.ids.Generate(),
			UserID:     key.UserID,
			TemplateID: key.TemplateID,
			GrantorID:  key.GrantorID,
			UnlockedAt: now,
		}},
	})
	if err != nil {
		return domain.Record{}, fmt.Errorf("grant certificate: %w", err)
	}

	e.logger.Info("certificate granted", "key", key.String())
	return rec, nil
}

// RevokeCertificate locks a master's certificate grant.
//
// The row is kept (locking never deletes) and earnedAt is preserved.
// Revoking a grant that was never made is a no-op: no row already means locked.
func (e *Engine) RevokeCertificate(ctx context.Context, userID, templateID, masterID domain.ID) (*domain.Record, error) {
	key, err := e.certificateKey(ctx, userID, templateID, masterID)
	if err != nil {
		return nil, fmt.Errorf("revoke certificate: %w", err)
	}

	records, err := e.reader.Records(ctx, key.UserID, key.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("revoke certificate: read records: %w", err)
	}
	exists := false
	for _, r := range records {
		if r.Key() == key {
			exists = true
			break
		}
	}
	if !exists {
		e.logger.Debug("revoke skipped, no grant recorded", "key", key.String())
		return nil, nil
	}

	rec, err := e.writer.UpsertRecord(ctx, UpsertCommand{
		Key:             key,
		Locked:          true,
		EarnedAt:        e.clock.Now(),
		ExpectedVersion: AnyVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("revoke certificate: %w", err)
	}

	e.logger.Info("certificate revoked", "key", key.String())
	return &rec, nil
}

// certificateKey validates an explicit master action and returns its key.
func (e *Engine) certificateKey(ctx context.Context, userID, templateID, masterID domain.ID) (domain.IdentityKey, error) {
	key := domain.NewIdentityKey(userID, templateID, masterID)
	if key.UserID.IsNull() {
		return key, newInvalidGrant("user id is required")
	}
	if key.GrantorID.IsNull() {
		return key, newInvalidGrant("certificates must be granted by a master")
	}

	templates, err := e.reader.Templates(ctx)
	if err != nil {
		return key, fmt.Errorf("read templates: %w", err)
	}
	for _, t := range templates {
		if domain.NormalizeID(t.ID) != key.TemplateID {
			continue
		}
		if t.IsBadge() {
			return key, newInvalidGrant(fmt.Sprintf("template %s is a badge; badges unlock automatically", t.ID))
		}
		return key, nil
	}
	return key, newInvalidGrant(fmt.Sprintf("unknown template %s", key.TemplateID))
}
