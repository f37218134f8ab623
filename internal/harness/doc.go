// Package harness runs guildmark conformance scenarios.
//
// A scenario seeds a fresh store with a catalog, activity and any
// pre-existing records, then drives the engine and the sweeper through a
// list of steps and checks what they report and what ends up persisted.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: journeyman_unlock
//	description: "Twenty work hours under one master unlocks Journeyman"
//	catalog: ../catalogs/guild.yaml     # or an inline templates: list
//	unknown_conditions: open            # optional, open|closed
//	activity:
//	  - {user: ana, master: m1, kind: WORK, hours: 20}
//	  - {user: ana, master: m1, kind: PROJECT}
//	records:                            # optional pre-existing rows
//	  - {user: ana, template: master-cert, grantor: m2, locked: false}
//	history:                            # optional pre-existing history
//	  - {user: ana, template: master-cert, grantor: m2}
//	steps:
//	  - evaluate: {user: ana, viewing: m1}
//	    expect:
//	      - {template: journeyman, met: true, locked: false, intent: UNLOCK, grantors: [m1]}
//	  - grant: {user: ana, template: master-cert, master: m1}
//	  - revoke: {user: ana, template: journeyman, master: m1}
//	    expect_error: INVALID_GRANT
//	  - advance: 24h
//	  - sweep: {dry_run: false}
//	    expect_sweep: {deleted: 0, backfilled: 1}
//	assertions:
//	  - {type: record, user: ana, template: journeyman, locked: false, version: 1}
//	  - {type: record_count, user: ana, count: 2}
//	  - {type: history_count, user: ana, template: journeyman, count: 1}
//
// # Assertion Types
//
//   - record: the row for (user, template, grantor) exists (or not) with
//     the expected lock state and version
//   - record_count: number of rows, optionally filtered by user and template
//   - history_count: number of unlock history entries, optionally filtered
//     by user, template and grantor
//
// # Deterministic Testing
//
// Every scenario runs against its own in-memory SQLite store with a fixed
// clock (testutil.Epoch, moved only by advance steps) and a sequential
// history id generator, so two runs of one scenario produce identical
// results. RunWithGolden snapshots those results with goldie.
package harness
