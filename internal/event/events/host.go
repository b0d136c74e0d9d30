package events

import "github.com/dshills/sidetree/internal/event/topic"

// Host lifecycle topics.
const (
	// TopicBufEntered is published when the cursor enters a buffer.
	TopicBufEntered topic.Topic = "host.buf.entered"

	// TopicBufAdded is published when a buffer is created or listed.
	TopicBufAdded topic.Topic = "host.buf.added"

	// TopicBufDeleted is published when a buffer is wiped or unlisted.
	TopicBufDeleted topic.Topic = "host.buf.deleted"

	// TopicBufModified is published when a buffer's modified flag flips.
	TopicBufModified topic.Topic = "host.buf.modified"

	// TopicBufWritten is published after a buffer is saved.
	TopicBufWritten topic.Topic = "host.buf.written"

	// TopicTermOpened is published when a terminal buffer starts.
	TopicTermOpened topic.Topic = "host.term.opened"

	// TopicTermClosed is published when a terminal buffer exits.
	TopicTermClosed topic.Topic = "host.term.closed"

	// TopicTabEntered is published when a tab page becomes current.
	TopicTabEntered topic.Topic = "host.tab.entered"

	// TopicTabClosed is published after a tab page is closed.
	TopicTabClosed topic.Topic = "host.tab.closed"

	// TopicDirChanged is published when the working directory changes.
	TopicDirChanged topic.Topic = "host.dir.changed"

	// TopicLSPAttach is published when a language server attaches to a buffer.
	TopicLSPAttach topic.Topic = "host.lsp.attach"

	// TopicDiagnostics is published when a buffer's diagnostics change.
	TopicDiagnostics topic.Topic = "host.diagnostics.changed"

	// TopicLeave is published once when the host is exiting.
	TopicLeave topic.Topic = "host.leave"
)

// Buffer describes an editor buffer in buffer lifecycle events.
type Buffer struct {
	ID       int
	Path     string
	Terminal bool
	Hidden   bool
	Modified bool
}

// Tab identifies a tab page.
type Tab struct {
	ID int
}

// DirChanged carries the new working directory. Tab is zero for a global change.
type DirChanged struct {
	Tab int
	Dir string
}

// LSPAttach identifies a buffer that gained a language server client.
type LSPAttach struct {
	BufferID int
	Path     string
	Client   string
}

// Severity ranks a diagnostic. Lower is more severe.
type Severity int

// Diagnostic severities, numbered as in the LSP.
const (
	SeverityError Severity = iota + 1
	SeverityWarning
	SeverityInfo
	SeverityHint
)

// Diagnostic is one diagnostic reported for a buffer.
type Diagnostic struct {
	Severity Severity
	Line     int
	Message  string
}

// Diagnostics carries the full diagnostic list for one path.
type Diagnostics struct {
	Path  string
	Items []Diagnostic
}

// HostTopics lists every topic sourced from the editor host.
var HostTopics = []topic.Topic{
	TopicBufEntered,
	TopicBufAdded,
	TopicBufDeleted,
	TopicBufModified,
	TopicBufWritten,
	TopicTermOpened,
	TopicTermClosed,
	TopicTabEntered,
	TopicTabClosed,
	TopicDirChanged,
	TopicLSPAttach,
	TopicDiagnostics,
	TopicLeave,
}
