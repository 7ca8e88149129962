// Package dispatcher wires watcher events into the coalescer and coalescer
// expirations into pipeline jobs.
//
// It owns no business logic. Created and changed notifications refresh the
// coalescer; deleted and renamed ones are only logged. Each expired entry
// starts one job on its own goroutine; evicted entries are skipped with a
// warning. Job failures are logged, counted, and recorded at the job boundary
// and never stop the event loop.
package dispatcher
