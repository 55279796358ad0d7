// Package engine provides the reconciliation core of allocsync.
//
// # Overview
//
// allocsync keeps two external systems in line with the allocation database of a
// ColdFront portal: an LDAP directory (Unix group membership) and a filesystem quota
// tool (per-group quotas and usage). Every run works in four steps:
//
//  1. Resolve - derive the desired state of an entity from the system of record (Resolver)
//  2. Observe - read the current state from the external system (Directory, QuotaSource)
//  3. Diff - classify every desired relation as add, remove or no-op
//  4. Apply - issue the corrective actions when sync mode is on and noop is off
//
// The reconcilers in this package implement steps 2 to 4 for a single entity and return
// an Outcome. Enumeration, reporting and run bookkeeping live in package driver.
//
// # Modes
//
// Report-only is the default: actions are computed and reported but never applied.
// Sync mode applies them. Noop suppresses external mutation even in sync mode while
// still producing the same report rows:
//
//	mode := engine.Mode{Sync: true, Noop: true}
//	mode.Apply() // false
//
// # Error Classification
//
// Adapters return *SyncError values carrying an ErrorKind. Benign kinds (already a
// member, not a member) are logged and never fail an entity:
//
//	if engine.IsBenign(err) {
//	    // nothing to do, the relation is already in the desired state
//	}
//
// Fatal kinds abort a run before any entity is processed. Everything else fails only
// the entity being reconciled.
//
// # Thread Safety
//
// Reconcilers are meant to be driven sequentially by a single run. The external
// systems are assumed not to change concurrently within a run.
package engine
