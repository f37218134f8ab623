package engine

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/roach88/guildmark/internal/domain"
)

// memStore is an in-memory Reader and Writer with the same upsert contract
// as the SQLite store: one row per identity key, optimistic versions.
type memStore struct {
	mu        sync.Mutex
	templates []domain.Template
	rules     []domain.Rule
	activity  []domain.Activity
	records   []domain.Record
	history   []domain.HistoryEntry
	nextID    int64

	upserts  int
	failNext error
}

func newMemStore() *memStore {
	return &memStore{nextID: 1}
}

func (m *memStore) Templates(ctx context.Context) ([]domain.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Template(nil), m.templates...), nil
}

func (m *memStore) Rules(ctx context.Context, templateID domain.ID) ([]domain.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Rule
	for _, r := range m.rules {
		if templateID.IsNull() || r.TemplateID == templateID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) ActivityStats(ctx context.Context, userID, masterID domain.ID) (domain.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s domain.Stats
	for _, a := range m.activity {
		if a.UserID != userID || (!masterID.IsNull() && a.MasterID != masterID) {
			continue
		}
		switch a.Kind {
		case domain.ActivityWork:
			s.WorkHours += a.Hours
		case domain.ActivityStudy:
			s.StudyHours += a.Hours
		case domain.ActivityProject:
			s.ProjectCount++
		}
	}
	return s, nil
}

func (m *memStore) ActivityMasters(ctx context.Context, userID domain.ID) ([]domain.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[domain.ID]bool{}
	var out []domain.ID
	for _, a := range m.activity {
		if a.UserID == userID && !seen[a.MasterID] {
			seen[a.MasterID] = true
			out = append(out, a.MasterID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *memStore) Records(ctx context.Context, userID, templateID domain.ID) ([]domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Record
	for _, r := range m.records {
		if r.UserID == userID && (templateID.IsNull() || r.TemplateID == templateID) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) History(ctx context.Context, userID, templateID domain.ID) ([]domain.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.HistoryEntry
	for _, h := range m.history {
		if h.UserID == userID && (templateID.IsNull() || h.TemplateID == templateID) {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *memStore) UpsertRecord(ctx context.Context, cmd UpsertCommand) (domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return domain.Record{}, err
	}

	for i, r := range m.records {
		if r.Key() != cmd.Key {
			continue
		}
		if cmd.ExpectedVersion != AnyVersion && r.Version != cmd.ExpectedVersion {
			if r.Locked == cmd.Locked {
				return r, nil
			}
			return domain.Record{}, NewSyncConflict(cmd.Key, cmd.ExpectedVersion, r.Version)
		}
		if !cmd.Locked && r.Locked {
			earned := cmd.EarnedAt
			r.EarnedAt = &earned
		}
		r.Locked = cmd.Locked
		r.Version++
		m.records[i] = r
		m.history = append(m.history, cmd.History...)
		return r, nil
	}

	r := domain.Record{
		ID:         m.nextID,
		UserID:     cmd.Key.UserID,
		TemplateID: cmd.Key.TemplateID,
		GrantorID:  cmd.Key.GrantorID,
		Locked:     cmd.Locked,
		Version:    1,
	}
	if !cmd.Locked {
		earned := cmd.EarnedAt
		r.EarnedAt = &earned
	}
	m.nextID++
	m.records = append(m.records, r)
	m.history = append(m.history, cmd.History...)
	return r, nil
}

func (m *memStore) AppendHistory(ctx context.Context, entry domain.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, entry)
	return nil
}

func (m *memStore) addActivity(user, master domain.ID, kind domain.ActivityKind, hours float64) {
	m.activity = append(m.activity, domain.Activity{UserID: user, MasterID: master, Kind: kind, Hours: hours})
}

var errStorageDown = errors.New("storage unavailable")
