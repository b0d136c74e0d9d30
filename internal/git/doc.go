// Package git caches working tree status for the file explorer.
//
// A Manager owns one Repository per toplevel. Every tree node under the
// same toplevel shares that Repository by reference, so one git status run
// serves the whole subtree.
//
// # Snapshots
//
// Repository.Status runs
//
//	git status --porcelain=v2 -z --branch --show-stash
//
// and swaps in a new immutable Snapshot. Readers call FlagsFor and DirFlags
// without locking. RefreshPath re-checks one path and layers the result on
// the current snapshot; directory aggregates are only widened by it and are
// narrowed again by the next full Status.
//
// # Index operations
//
// Stage, Unstage, Revert and StageAll shell out to git and then run a fresh
// Status before returning, so the caller observes the new state immediately.
// Each publishes events.TopicGitStatusChanged.
//
// # Sweeping
//
// Manager.Sweep closes repositories that no panel references any more. It
// is the single release path; closed repositories reject further calls with
// ErrRepositoryClosed.
package git
