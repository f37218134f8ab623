// Package engine implements the guildmark achievement unlock engine.
//
// The engine turns raw activity facts, rule definitions and persisted grant
// state into the authoritative locked/unlocked status of every achievement,
// and reconciles that computed truth back into storage.
//
// ARCHITECTURE:
//
// Evaluation pipeline (per user, per template):
// 1. Evaluate: rules + stats -> met / rule text (pure, no I/O)
// 2. Resolve: met + records + history -> responsible grantors (pure)
// 3. Reconcile: computed status vs persisted record -> sync intent (pure)
// 4. Engine.Evaluate executes the intent as ONE atomic upsert on the
//    record's identity key via the Writer interface.
//
// Stateless runs:
// Every Engine.Evaluate call is a fresh computation over freshly read inputs.
// No engine state survives between runs, so there is no in-process locking.
// Concurrent runs for the same user converge because every write is an
// atomic upsert keyed by (user, template, grantor-or-null).
//
// CRITICAL PATTERNS:
//
// Category partition:
// Badges only ever see AUTOMATIC rules; certificates only MANUAL ones.
// The partition is applied before evaluation (EffectiveRules), not per rule.
//
// No vacuous truth:
// A badge with zero effective rules is never met.
//
// Global sync, filtered display:
// Sync intents are always computed from global stats. A ViewingContext only
// narrows attribution and visibility; it never causes a LOCK.
//
// Post-sync display:
// DisplayLocked always reflects the intent the engine just issued, even
// before (or if) the write confirms.
package engine
