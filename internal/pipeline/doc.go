// Package pipeline moves a single triggered file through the archival
// lifecycle: validate, back up, quarantine, dispatch to a handler chosen by
// extension, and archive under a collision-free name.
//
// All directories hang off one explicitly configured root (see Layout). The
// processing directory is a flat namespace shared by every concurrent job;
// the pipeline only ever removes its own entry from it. Quarantine and
// archive moves never replace an existing file, so a name collision in
// processing aborts the job with ErrConflict and leaves the source in place
// for its next trigger.
//
// Process never retries. Failures are classified with the sentinel errors in
// errors.go and returned alongside the aborted Job so the caller can log and
// record them at the job boundary.
package pipeline
