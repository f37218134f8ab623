package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/guildmark/internal/domain"
	"github.com/roach88/guildmark/internal/engine"
)

// deleteChunk keeps each DELETE under SQLite's bound-parameter limit.
const deleteChunk = 500

// UpsertRecord applies one insert-or-update on an identity key, together
// with the command's history entries, in a single transaction.
//
// The write is guarded by cmd.ExpectedVersion (engine.AnyVersion skips
// the guard). Unlocking a locked row stamps earned_at; locking keeps it.
// When the guard rejects the write the row is re-read: if it is already in
// the requested lock state the call succeeds without writing (someone else
// applied the same decision), otherwise it returns a SYNC_CONFLICT error
// and nothing is written.
func (s *Store) UpsertRecord(ctx context.Context, cmd engine.UpsertCommand) (domain.Record, error) {
	key := domain.NewIdentityKey(cmd.Key.UserID, cmd.Key.TemplateID, cmd.Key.GrantorID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Record{}, fmt.Errorf("upsert record: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var earned any
	if !cmd.Locked {
		earned = formatTime(cmd.EarnedAt)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO records
		(identity_key, user_id, template_id, grantor_id, locked, earned_at, version)
		VALUES (?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(identity_key) DO UPDATE SET
			locked = excluded.locked,
			earned_at = CASE
				WHEN records.locked = 1 AND excluded.locked = 0 THEN excluded.earned_at
				ELSE records.earned_at
			END,
			version = records.version + 1
		WHERE ? = -1 OR records.version = ?
	`,
		key.Hash(),
		string(key.UserID),
		string(key.TemplateID),
		nullableID(key.GrantorID),
		cmd.Locked,
		earned,
		cmd.ExpectedVersion,
		cmd.ExpectedVersion,
	)
	if err != nil {
		return domain.Record{}, fmt.Errorf("upsert record %s: %w", key, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return domain.Record{}, fmt.Errorf("upsert record %s: rows affected: %w", key, err)
	}

	current, err := recordByKey(ctx, tx, key)
	if err != nil {
		return domain.Record{}, fmt.Errorf("upsert record %s: %w", key, err)
	}
	if current == nil {
		return domain.Record{}, fmt.Errorf("upsert record %s: row missing after write", key)
	}

	if affected == 0 {
		if current.Locked != cmd.Locked {
			return domain.Record{}, engine.NewSyncConflict(key, cmd.ExpectedVersion, current.Version)
		}
		s.logger.Debug("upsert already applied", "key", key.String(), "version", current.Version)
		return *current, nil
	}

	for _, entry := range cmd.History {
		if err := insertHistory(ctx, tx, entry); err != nil {
			return domain.Record{}, fmt.Errorf("upsert record %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Record{}, fmt.Errorf("upsert record %s: commit: %w", key, err)
	}
	return *current, nil
}

// AppendHistory inserts one unlock history entry.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - a replayed entry is
// silently ignored.
func (s *Store) AppendHistory(ctx context.Context, entry domain.HistoryEntry) error {
	if err := insertHistory(ctx, s.db, entry); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func insertHistory(ctx context.Context, q queryer, entry domain.HistoryEntry) error {
	grantor := domain.NormalizeID(entry.GrantorID)
	if entry.ID == "" {
		return fmt.Errorf("history entry id is required")
	}
	if grantor.IsNull() {
		return fmt.Errorf("history entry %s has no grantor", entry.ID)
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO unlock_history
		(id, user_id, template_id, grantor_id, unlocked_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		entry.ID,
		string(domain.NormalizeID(entry.UserID)),
		string(domain.NormalizeID(entry.TemplateID)),
		string(grantor),
		formatTime(entry.UnlockedAt),
	)
	if err != nil {
		return fmt.Errorf("insert history %s: %w", entry.ID, err)
	}
	return nil
}

// DeleteRecords removes records by id and returns how many rows went away.
// Ids that no longer exist are ignored, so retrying a batch is safe.
func (s *Store) DeleteRecords(ctx context.Context, ids []int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("delete records: begin tx: %w", err)
	}
	defer tx.Rollback()

	n, err := deleteRecords(ctx, tx, ids)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("delete records: commit: %w", err)
	}
	return n, nil
}

func deleteRecords(ctx context.Context, q queryer, ids []int64) (int64, error) {
	var total int64
	for start := 0; start < len(ids); start += deleteChunk {
		chunk := ids[start:min(start+deleteChunk, len(ids))]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		result, err := q.ExecContext(ctx,
			`DELETE FROM records WHERE id IN (`+placeholders+`)`, args...)
		if err != nil {
			return total, fmt.Errorf("delete records: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("delete records: rows affected: %w", err)
		}
		total += n
	}
	return total, nil
}
