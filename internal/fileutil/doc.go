// Package fileutil holds the filesystem primitives the pipeline builds on:
// verified copies and moves that refuse to overwrite an existing destination.
package fileutil
