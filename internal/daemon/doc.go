// Package daemon coordinates the long-running intake process.
//
// It wires configuration, the history store, the pipeline, the dispatcher and
// the directory watcher into a single lifecycle, with flock-based locking so
// only one watcher runs per state directory. The optional metrics listener is
// started and stopped alongside.
//
// Keep orchestration here: debouncing lives in coalescer, file movement in
// pipeline, and event routing in dispatcher.
package daemon
