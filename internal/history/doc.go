// Package history persists a ledger of pipeline jobs in SQLite.
//
// Every job the dispatcher runs, successful or aborted, becomes one row keyed
// by its job id. The ledger is append-only apart from retention pruning; it is
// what `intake history` renders. The schema is versioned: a database written
// by a different schema version is rejected with ErrSchemaMismatch rather than
// migrated.
package history
