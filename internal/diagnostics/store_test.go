package diagnostics

import (
	"slices"
	"testing"
	"time"

	"github.com/dshills/sidetree/internal/event"
	"github.com/dshills/sidetree/internal/event/events"
	"github.com/dshills/sidetree/internal/event/topic"
)

type recorder struct {
	published []events.DiagnosticsChanged
}

func (r *recorder) Publish(_ topic.Topic, payload any) {
	r.published = append(r.published, payload.(events.DiagnosticsChanged))
}

func diags(sev ...events.Severity) []events.Diagnostic {
	out := make([]events.Diagnostic, len(sev))
	for i, s := range sev {
		out[i] = events.Diagnostic{Severity: s, Line: i}
	}
	return out
}

func TestStoreCounts(t *testing.T) {
	rec := &recorder{}
	s := New(rec)
	s.Set("/p/a.go", diags(events.SeverityError, events.SeverityWarning, events.SeverityWarning))

	c := s.Get("/p/a.go")
	if c.Errors != 1 || c.Warnings != 2 || c.Total() != 3 || c.Worst() != events.SeverityError {
		t.Errorf("counts = %+v", c)
	}
	if s.Get("/p").Total() != 0 {
		t.Error("directory aggregate without propagation")
	}

	// Unchanged counts are not announced.
	s.Set("/p/a.go", diags(events.SeverityWarning, events.SeverityError, events.SeverityWarning))
	if len(rec.published) != 1 {
		t.Errorf("published %d, want 1", len(rec.published))
	}
	if !slices.Equal(rec.published[0].Paths, []string{"/p/a.go"}) {
		t.Errorf("paths = %v", rec.published[0].Paths)
	}
}

func TestStorePropagation(t *testing.T) {
	rec := &recorder{}
	s := New(rec, WithPropagation(true))
	s.Set("/p/src/a.go", diags(events.SeverityWarning))
	s.Set("/p/src/b.go", diags(events.SeverityError))

	if got := s.Get("/p/src"); got.Errors != 1 || got.Warnings != 1 {
		t.Errorf("src aggregate = %+v", got)
	}
	if got := s.Get("/p").Worst(); got != events.SeverityError {
		t.Errorf("root worst = %v", got)
	}
	want := []string{"/", "/p", "/p/src", "/p/src/a.go"}
	if !slices.Equal(rec.published[0].Paths, want) {
		t.Errorf("paths = %v, want %v", rec.published[0].Paths, want)
	}

	s.Set("/p/src/b.go", nil)
	if got := s.Get("/p").Worst(); got != events.SeverityWarning {
		t.Errorf("root worst after clear = %v", got)
	}
	s.Clear()
	if s.Get("/p").Total() != 0 || len(s.Paths()) != 0 {
		t.Error("clear left state behind")
	}
}

func TestStoreFromHostEvents(t *testing.T) {
	bus := event.NewBus(event.WithDebounce(events.TopicDiagnosticsChanged, time.Hour, MergeChanged))
	defer bus.Close()
	s := New(bus)
	s.Subscribe(bus)

	var got []string
	bus.SubscribeFunc("test", "test.diag", events.TopicDiagnosticsChanged, func(ev event.Event) {
		got = ev.Payload.(events.DiagnosticsChanged).Paths
	})

	bus.Publish(events.TopicDiagnostics, events.Diagnostics{Path: "/p/b.go", Items: diags(events.SeverityHint)})
	bus.Publish(events.TopicDiagnostics, events.Diagnostics{Path: "/p/a.go", Items: diags(events.SeverityInfo)})
	bus.Publish(events.TopicDiagnostics, "garbage")
	bus.Flush()

	if !slices.Equal(got, []string{"/p/a.go", "/p/b.go"}) {
		t.Errorf("merged paths = %v", got)
	}
	if s.Get("/p/a.go").Infos != 1 {
		t.Error("store not updated from host event")
	}
}

func TestMergeChanged(t *testing.T) {
	got := MergeChanged(nil, events.DiagnosticsChanged{Paths: []string{"/b", "/a"}})
	got = MergeChanged(got, events.DiagnosticsChanged{Paths: []string{"/a", "/c"}})
	if p := got.(events.DiagnosticsChanged).Paths; !slices.Equal(p, []string{"/a", "/b", "/c"}) {
		t.Errorf("paths = %v", p)
	}
}
