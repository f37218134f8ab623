package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/guildmark/internal/domain"
)

const recordColumns = `id, user_id, template_id, grantor_id, locked, earned_at, version`

const historyColumns = `id, user_id, template_id, grantor_id, unlocked_at`

// Templates returns every achievement template ordered by id.
//
// Returns an empty slice (not nil) if the catalog is empty.
func (s *Store) Templates(ctx context.Context) ([]domain.Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, points, category, logic
		FROM templates
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	templates := []domain.Template{}
	for rows.Next() {
		var t domain.Template
		var category, logic string
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &t.Points, &category, &logic); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		t.Category = domain.Category(category)
		t.Logic = domain.Logic(logic)
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return templates, nil
}

// Rules returns rules in rule-array order. A null templateID returns the
// rules of every template, grouped by template.
func (s *Store) Rules(ctx context.Context, templateID domain.ID) ([]domain.Rule, error) {
	a, b := optionalFilter(templateID)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, template_id, kind, condition, threshold
		FROM rules
		WHERE (? IS NULL OR template_id = ?)
		ORDER BY template_id COLLATE BINARY ASC, position ASC, id COLLATE BINARY ASC
	`, a, b)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	rules := []domain.Rule{}
	for rows.Next() {
		var r domain.Rule
		var kind, condition string
		if err := rows.Scan(&r.ID, &r.TemplateID, &kind, &condition, &r.Threshold); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		r.Kind = domain.RuleKind(kind)
		r.Condition = domain.ConditionType(condition)
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return rules, nil
}

// ActivityStats aggregates a user's activity. A null masterID aggregates
// across every master; otherwise only that master's activity counts.
func (s *Store) ActivityStats(ctx context.Context, userID, masterID domain.ID) (domain.Stats, error) {
	a, b := optionalFilter(masterID)
	var stats domain.Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN kind = 'WORK' THEN hours END), 0),
			COALESCE(SUM(CASE WHEN kind = 'STUDY' THEN hours END), 0),
			COUNT(CASE WHEN kind = 'PROJECT' THEN 1 END)
		FROM activity
		WHERE user_id = ? AND (? IS NULL OR master_id = ?)
	`, string(domain.NormalizeID(userID)), a, b).Scan(&stats.WorkHours, &stats.StudyHours, &stats.ProjectCount)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("query activity stats: %w", err)
	}
	return stats, nil
}

// ActivityMasters returns every master the user has activity under,
// ordered by id.
func (s *Store) ActivityMasters(ctx context.Context, userID domain.ID) ([]domain.ID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT master_id
		FROM activity
		WHERE user_id = ?
		ORDER BY master_id COLLATE BINARY ASC
	`, string(domain.NormalizeID(userID)))
	if err != nil {
		return nil, fmt.Errorf("query activity masters: %w", err)
	}
	defer rows.Close()

	masters := []domain.ID{}
	for rows.Next() {
		var id domain.ID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan master: %w", err)
		}
		masters = append(masters, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate masters: %w", err)
	}
	return masters, nil
}

// Records returns a user's persisted records ordered by insertion id.
// A null templateID returns every template's records.
func (s *Store) Records(ctx context.Context, userID, templateID domain.ID) ([]domain.Record, error) {
	a, b := optionalFilter(templateID)
	return queryRecords(ctx, s.db, `
		SELECT `+recordColumns+`
		FROM records
		WHERE user_id = ? AND (? IS NULL OR template_id = ?)
		ORDER BY id ASC
	`, string(domain.NormalizeID(userID)), a, b)
}

// AllRecords returns the whole record table ordered by insertion id.
// Only the sweeper reads this.
func (s *Store) AllRecords(ctx context.Context) ([]domain.Record, error) {
	return queryRecords(ctx, s.db, `SELECT `+recordColumns+` FROM records ORDER BY id ASC`)
}

// History returns a user's unlock history in append order.
func (s *Store) History(ctx context.Context, userID, templateID domain.ID) ([]domain.HistoryEntry, error) {
	a, b := optionalFilter(templateID)
	return queryHistory(ctx, s.db, `
		SELECT `+historyColumns+`
		FROM unlock_history
		WHERE user_id = ? AND (? IS NULL OR template_id = ?)
		ORDER BY seq ASC
	`, string(domain.NormalizeID(userID)), a, b)
}

// AllHistory returns the whole unlock history in append order.
func (s *Store) AllHistory(ctx context.Context) ([]domain.HistoryEntry, error) {
	return queryHistory(ctx, s.db, `SELECT `+historyColumns+` FROM unlock_history ORDER BY seq ASC`)
}

// recordByKey returns the row for an identity key, or nil.
func recordByKey(ctx context.Context, q queryer, key domain.IdentityKey) (*domain.Record, error) {
	records, err := queryRecords(ctx, q, `
		SELECT `+recordColumns+`
		FROM records
		WHERE identity_key = ?
		ORDER BY id ASC
	`, key.Hash())
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

func queryRecords(ctx context.Context, q queryer, query string, args ...any) ([]domain.Record, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := []domain.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

func scanRecord(rows *sql.Rows) (domain.Record, error) {
	var (
		r       domain.Record
		grantor sql.NullString
		earned  sql.NullString
	)
	if err := rows.Scan(&r.ID, &r.UserID, &r.TemplateID, &grantor, &r.Locked, &earned, &r.Version); err != nil {
		return domain.Record{}, fmt.Errorf("scan record: %w", err)
	}
	if grantor.Valid {
		r.GrantorID = domain.NormalizeID(grantor.String)
	}
	earnedAt, err := nullableTime(earned)
	if err != nil {
		return domain.Record{}, fmt.Errorf("scan record %d: %w", r.ID, err)
	}
	r.EarnedAt = earnedAt
	return r, nil
}

func queryHistory(ctx context.Context, q queryer, query string, args ...any) ([]domain.HistoryEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	entries := []domain.HistoryEntry{}
	for rows.Next() {
		var h domain.HistoryEntry
		var unlockedAt string
		if err := rows.Scan(&h.ID, &h.UserID, &h.TemplateID, &h.GrantorID, &unlockedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		t, err := parseTime(unlockedAt)
		if err != nil {
			return nil, fmt.Errorf("scan history %s: %w", h.ID, err)
		}
		h.UnlockedAt = t
		entries = append(entries, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}
