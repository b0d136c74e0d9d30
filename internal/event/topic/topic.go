// Package topic defines dot-separated event topics and wildcard matching.
package topic

import "strings"

// Topic names an event, e.g. "host.buf.entered" or "app.fs.changed".
// The first segment is the event family.
type Topic string

// Wildcards usable in subscription patterns.
const (
	// Any matches exactly one segment.
	Any = "*"
	// AnyDepth matches zero or more segments.
	AnyDepth = "**"

	sep = "."
)

// Families of events.
const (
	// FamilyHost covers lifecycle notifications from the editor host.
	FamilyHost = "host"
	// FamilyGit covers repository metadata and status changes.
	FamilyGit = "git"
	// FamilyApp covers events synthesized inside the sidebar.
	FamilyApp = "app"
)

// String returns the topic as a string.
func (t Topic) String() string { return string(t) }

// Segments returns the topic split on dots.
func (t Topic) Segments() []string {
	if t == "" {
		return nil
	}
	return strings.Split(string(t), sep)
}

// Family returns the first segment.
func (t Topic) Family() string {
	s := string(t)
	if i := strings.Index(s, sep); i >= 0 {
		return s[:i]
	}
	return s
}

// IsPattern reports whether the topic contains a wildcard segment.
func (t Topic) IsPattern() bool {
	return strings.Contains(string(t), Any)
}

// IsValid reports whether t is non-empty with no empty segments.
func (t Topic) IsValid() bool {
	if t == "" {
		return false
	}
	for _, seg := range t.Segments() {
		if seg == "" {
			return false
		}
	}
	return true
}

// Matches reports whether t matches pattern. A pattern without wildcards
// matches only itself.
func (t Topic) Matches(pattern Topic) bool {
	if !pattern.IsPattern() {
		return t == pattern
	}
	return match(t.Segments(), pattern.Segments())
}

func match(segs, pat []string) bool {
	for len(pat) > 0 {
		switch pat[0] {
		case AnyDepth:
			for i := 0; i <= len(segs); i++ {
				if match(segs[i:], pat[1:]) {
					return true
				}
			}
			return false
		case Any:
			if len(segs) == 0 {
				return false
			}
		default:
			if len(segs) == 0 || segs[0] != pat[0] {
				return false
			}
		}
		segs, pat = segs[1:], pat[1:]
	}
	return len(segs) == 0
}

// Join builds a topic from segments.
func Join(segments ...string) Topic {
	return Topic(strings.Join(segments, sep))
}
