// Package logs reads the watcher's log files for the CLI.
//
// Last returns the trailing lines of a file with bounded memory, and Follow
// streams complete lines appended afterwards, waking on fsnotify writes with
// a slow poll as a fallback.
package logs
