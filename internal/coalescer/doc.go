// Package coalescer collapses bursts of filesystem notifications into a single
// trigger per path.
//
// Every path being debounced owns one pending entry whose deadline slides to
// now+window on each Notify. A periodic sweep fires entries that have been
// quiet for at least the window, removing them and invoking the trigger
// callback exactly once with ReasonExpired. Entries removed any other way
// (explicit Remove, capacity pressure) report ReasonEvicted and must not be
// processed by the caller.
//
// Refresh and fire are resolved per key: each entry is a slot with its own
// mutex, and the sweep claims a slot by re-checking its deadline under that
// lock. A Notify that reaches the slot first wins and starts a fresh window;
// a Notify that finds the slot already claimed installs a brand-new entry.
// The map lock is held only for lookups and inserts, never across callbacks,
// so distinct paths never wait on each other.
//
// Trigger latency has a lower bound of window after the last event. The upper
// bound is window plus the sweep interval in practice, and is not guaranteed.
package coalescer
