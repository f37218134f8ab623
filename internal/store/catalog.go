package store

import (
	"context"
	"fmt"

	"github.com/roach88/guildmark/internal/domain"
)

// SaveCatalog upserts templates and replaces their rules, in one
// transaction. Rules keep their slice order as rule-array order.
// Templates not mentioned are left alone.
func (s *Store) SaveCatalog(ctx context.Context, templates []domain.Template, rules []domain.Rule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save catalog: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, t := range templates {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO templates (id, title, description, points, category, logic)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				title = excluded.title,
				description = excluded.description,
				points = excluded.points,
				category = excluded.category,
				logic = excluded.logic
		`,
			string(domain.NormalizeID(t.ID)),
			t.Title,
			t.Description,
			t.Points,
			string(t.Category),
			string(t.Logic),
		)
		if err != nil {
			return fmt.Errorf("save template %s: %w", t.ID, err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM rules WHERE template_id = ?`, string(domain.NormalizeID(t.ID)),
		); err != nil {
			return fmt.Errorf("clear rules of %s: %w", t.ID, err)
		}
	}

	positions := make(map[domain.ID]int)
	for _, r := range rules {
		tid := domain.NormalizeID(r.TemplateID)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO rules (id, template_id, position, kind, condition, threshold)
			VALUES (?, ?, ?, ?, ?, ?)
		`,
			string(domain.NormalizeID(r.ID)),
			string(tid),
			positions[tid],
			string(r.Kind),
			string(r.Condition),
			r.Threshold,
		)
		if err != nil {
			return fmt.Errorf("save rule %s: %w", r.ID, err)
		}
		positions[tid]++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save catalog: commit: %w", err)
	}
	return nil
}

// RecordActivity appends one activity fact and returns its id.
func (s *Store) RecordActivity(ctx context.Context, a domain.Activity) (int64, error) {
	user := domain.NormalizeID(a.UserID)
	master := domain.NormalizeID(a.MasterID)
	if user.IsNull() || master.IsNull() {
		return 0, fmt.Errorf("record activity: user and master are required")
	}
	if a.Hours < 0 {
		return 0, fmt.Errorf("record activity: hours must not be negative, got %v", a.Hours)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO activity (user_id, master_id, kind, hours, occurred_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		string(user),
		string(master),
		string(a.Kind),
		a.Hours,
		formatTime(a.OccurredAt),
	)
	if err != nil {
		return 0, fmt.Errorf("record activity: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("record activity: last insert id: %w", err)
	}
	return id, nil
}
