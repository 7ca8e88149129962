// Package watcher turns fsnotify notifications for a single directory into
// Event values on a channel. It does no debouncing: bursts and duplicates are
// delivered as-is for the coalescer to collapse.
package watcher
