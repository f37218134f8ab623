// Package store provides SQLite-backed persistence for guildmark.
//
// The store holds the achievement catalog (templates and rules), raw
// activity facts, persisted records, and the unlock history. It implements
// the engine's Reader and Writer and the sweeper's Source and Writer.
//
// # Critical Patterns
//
// One row per identity key:
//   - records.identity_key is the hash of (user, template, grantor-or-null)
//   - a UNIQUE index on it backs every upsert; hashing sidesteps SQLite
//     treating NULL grantors as distinct
//   - migration v1 sweeps legacy duplicates before creating the index
//
// Atomic upsert:
//   - UpsertRecord is INSERT ... ON CONFLICT(identity_key) DO UPDATE guarded
//     by the caller's expected version, plus its history rows, in one
//     transaction
//
// Deterministic reads:
//   - records ORDER BY id ASC, history ORDER BY seq ASC, templates by id,
//     rules by template then position
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
