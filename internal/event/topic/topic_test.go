package topic

import "testing"

func TestMatches(t *testing.T) {
	tests := []struct {
		topic   Topic
		pattern Topic
		want    bool
	}{
		{"app.fs.changed", "app.fs.changed", true},
		{"app.fs.changed", "app.fs", false},
		{"app.fs.changed", "app.*.changed", true},
		{"app.fs.changed", "app.*", false},
		{"app.fs.changed", "app.**", true},
		{"app", "app.**", true},
		{"host.term.opened", "host.**.opened", true},
		{"host.term.opened", "**", true},
		{"git.dir.changed", "app.**", false},
		{"git.dir.changed", "*.dir.changed", true},
	}

	for _, tt := range tests {
		if got := tt.topic.Matches(tt.pattern); got != tt.want {
			t.Errorf("%q.Matches(%q) = %v, want %v", tt.topic, tt.pattern, got, tt.want)
		}
	}
}

func TestFamily(t *testing.T) {
	if got := Topic("host.buf.entered").Family(); got != FamilyHost {
		t.Errorf("Family() = %q, want %q", got, FamilyHost)
	}
	if got := Topic("app").Family(); got != "app" {
		t.Errorf("Family() = %q, want app", got)
	}
}

func TestIsValid(t *testing.T) {
	valid := []Topic{"app", "app.fs.changed", "host.**"}
	invalid := []Topic{"", ".app", "app.", "app..fs"}

	for _, tp := range valid {
		if !tp.IsValid() {
			t.Errorf("%q should be valid", tp)
		}
	}
	for _, tp := range invalid {
		if tp.IsValid() {
			t.Errorf("%q should be invalid", tp)
		}
	}
}

func TestJoin(t *testing.T) {
	if got := Join("git", "status", "changed"); got != "git.status.changed" {
		t.Errorf("Join = %q", got)
	}
}
