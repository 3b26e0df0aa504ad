package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/crystal-mush/ospec/pkg/events"
	"github.com/crystal-mush/ospec/pkg/gamedb"
)

// counterValue sums a counter family, optionally restricted to one label value.
func counterValue(t *testing.T, m *Metrics, name, label string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	total := 0.0
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if label != "" {
				match := false
				for _, lp := range metric.GetLabel() {
					if lp.GetValue() == label {
						match = true
					}
				}
				if !match {
					continue
				}
			}
			if c := metric.GetCounter(); c != nil {
				total += c.GetValue()
			}
			if g := metric.GetGauge(); g != nil {
				total += g.GetValue()
			}
			if h := metric.GetHistogram(); h != nil {
				total += float64(h.GetSampleCount())
			}
		}
	}
	return total
}

func TestReceiveCountsOutcomes(t *testing.T) {
	m := New(nil)
	bus := events.NewBus()
	bus.SubscribeGlobal(m)

	bus.Emit(events.Event{Type: events.EvResolve, Actor: 1, Spec: "me", Refs: []gamedb.DBRef{1}, Duration: time.Millisecond})
	bus.Emit(events.Event{Type: events.EvResolve, Actor: 1, Spec: "i:nothing", Duration: time.Millisecond})
	bus.Emit(events.Event{Type: events.EvSyntaxError, Actor: 1, Spec: "f.(", Err: "unbalanced"})
	bus.Emit(events.Event{Type: events.EvResolveError, Actor: 1, Spec: "+(+(me))", Err: "too deep"})
	bus.Emit(events.Event{Type: events.EvOpFailure, Actor: 1, Op: "mapfile"})
	bus.Emit(events.Event{Type: events.EvOpFailure, Actor: 1, Op: "mapfile"})
	bus.Emit(events.Event{Type: events.EvBind, Actor: 1, Op: "targets"})
	bus.Emit(events.Event{Type: events.EvBlueprint, Spec: "/obj/torch"})

	tests := []struct {
		name, label string
		want        float64
	}{
		{"ospec_resolutions_total", "found", 1},
		{"ospec_resolutions_total", "empty", 1},
		{"ospec_resolutions_total", "error", 2},
		{"ospec_operator_failures_total", "mapfile", 2},
		{"ospec_variable_binds_total", "targets", 1},
		{"ospec_blueprint_reloads_total", "", 1},
		{"ospec_result_objects", "", 2},
		{"ospec_resolve_seconds", "", 4},
	}
	for _, tt := range tests {
		if got := counterValue(t, m, tt.name, tt.label); got != tt.want {
			t.Errorf("%s{%s} = %v, want %v", tt.name, tt.label, got, tt.want)
		}
	}
}

func TestObjectsGauge(t *testing.T) {
	n := 3
	m := New(func() int { return n })
	if got := counterValue(t, m, "ospec_objects_total", ""); got != 3 {
		t.Errorf("objects = %v, want 3", got)
	}
	n = 5
	if got := counterValue(t, m, "ospec_objects_total", ""); got != 5 {
		t.Errorf("objects = %v, want 5", got)
	}
}

func TestHandler(t *testing.T) {
	m := New(nil)
	m.Receive(events.Event{Type: events.EvResolve, Refs: []gamedb.DBRef{2}})

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"ospec_resolutions_total", "ospec_goroutines", "ospec_uptime_seconds"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("scrape output missing %s", want)
		}
	}
	if m.Closed() {
		t.Error("metrics subscriber reports closed")
	}
}
