// Package preflight checks that the directories intake depends on are usable
// before the watcher starts. Results are plain values so the daemon can log
// them and the CLI can render them as a table.
package preflight
