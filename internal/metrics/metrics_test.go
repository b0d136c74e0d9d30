package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.EventPublished("app.fs.changed")
	m.RefreshSkipped("files")
	m.GitStatus("full", time.Millisecond, nil)
	m.WatchHandles(3)
	if m.Registry() != nil {
		t.Error("nil metrics should have nil registry")
	}
}

func TestHandlerServesCollectors(t *testing.T) {
	m := New()
	m.EventPublished("app.fs.changed")
	m.RefreshSkipped("files")
	m.GitStatus("path", 2*time.Millisecond, errors.New("boom"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`sidetree_events_published_total{topic="app.fs.changed"} 1`,
		`sidetree_panel_refreshes_skipped_total{panel="files"} 1`,
		`sidetree_git_status_duration_seconds_count{kind="path",result="error"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
