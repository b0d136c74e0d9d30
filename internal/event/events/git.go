package events

import "github.com/dshills/sidetree/internal/event/topic"

// Git topics.
const (
	// TopicGitDirChanged is published when files under a repository's
	// git directory change (index, HEAD, refs).
	TopicGitDirChanged topic.Topic = "git.dir.changed"

	// TopicGitStatusChanged is published when a repository's status
	// snapshot is replaced with a different one.
	TopicGitStatusChanged topic.Topic = "git.status.changed"
)

// GitDirChanged identifies the repository whose metadata changed.
type GitDirChanged struct {
	Toplevel string
	GitDir   string
	Names    []string
}

// GitStatusChanged describes a new status snapshot. Action is the
// operation that caused it ("status", "stage", "unstage", "revert",
// "refresh_path"). Paths lists the touched paths when known.
type GitStatusChanged struct {
	Toplevel string
	Action   string
	Paths    []string
}
