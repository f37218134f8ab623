// Package domain provides the canonical achievement data model for guildmark.
//
// This package contains type definitions and small pure helpers only. All
// other internal packages import domain; domain imports nothing internal.
//
// Key design constraints:
//   - Ids are a single canonical string type (ID). Source systems mix numeric
//     and string ids for the same entity, so every id crossing the boundary
//     goes through NormalizeID before it is compared.
//   - A persisted record's identity is (user, template, grantor-or-null).
//     The null grantor is its own bucket and never merges with a concrete one.
//   - TotalHours is derived from work and study hours and never stored.
//   - The "currently selected master" is an explicit ViewingContext value,
//     never ambient state.
package domain
