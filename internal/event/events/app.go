package events

import "github.com/dshills/sidetree/internal/event/topic"

// Application topics.
const (
	// TopicFSChanged is published after directory contents change, either
	// from the watcher or from a file action in a panel.
	TopicFSChanged topic.Topic = "app.fs.changed"

	// TopicDiagnosticsChanged is published, debounced, after the
	// diagnostics store changed for one or more paths.
	TopicDiagnosticsChanged topic.Topic = "app.diagnostics.changed"
)

// FSChanged carries the directory and the sorted, deduplicated base names
// of the entries that changed in it.
type FSChanged struct {
	Dir         string
	Names       []string
	Synthesized bool
}

// DiagnosticsChanged lists the paths whose diagnostics changed, including
// ancestor directories when propagation is enabled.
type DiagnosticsChanged struct {
	Paths []string
}
