// Package main hosts the intake CLI entrypoint and command graph.
//
// The Cobra command tree resolves configuration once, then hands off to the
// internal packages: watch runs the long-lived watcher, process pushes a
// single file through the pipeline, history and check report on the job
// ledger and environment, and config scaffolds the TOML file.
//
// Keep this package thin. New behaviour belongs in internal packages first.
package main
