package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/guildmark/internal/domain"
)

// formatTime renders a timestamp for storage. Stored times are always UTC.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime reads a stored timestamp.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}

// nullableTime maps a stored nullable timestamp to a pointer.
func nullableTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// nullableID maps the null grantor to SQL NULL.
func nullableID(id domain.ID) any {
	id = domain.NormalizeID(id)
	if id.IsNull() {
		return nil
	}
	return string(id)
}

// optionalFilter returns the argument pair for "? IS NULL OR col = ?".
func optionalFilter(id domain.ID) (any, any) {
	v := nullableID(id)
	return v, v
}
