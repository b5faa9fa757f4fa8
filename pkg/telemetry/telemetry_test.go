package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/openfroyo/reconf/pkg/constraint"
	"github.com/openfroyo/reconf/pkg/model"
	"github.com/openfroyo/reconf/pkg/plan"
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

func newTestTelemetry(t *testing.T) (*Telemetry, *eventLog) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Logging.Level = "error"
	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	log := &eventLog{}
	tel.Events.Subscribe(log.add, nil)
	return tel, log
}

func migrationPlan(t *testing.T, dst model.Node) *plan.ReconfigurationPlan {
	t.Helper()
	mo := model.New()
	n0, _ := mo.NewNode()
	n1, _ := mo.NewNode()
	v0, _ := mo.NewVM()
	mo.Mapping().AddOnlineNode(n0)
	mo.Mapping().AddOnlineNode(n1)
	mo.Mapping().AddRunningVM(v0, n0)

	mig, err := plan.NewMigrateVM(v0, n0, dst, 0, 2)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	off, err := plan.NewShutdownNode(n0, 2, 3)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	b := plan.NewBuilder(mo)
	if err := b.Add(mig, off); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	return b.Build()
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"default", func(c *Config) {}, false},
		{"production", func(c *Config) { *c = *ProductionConfig(); c.Tracing.Endpoint = "collector:4317" }, false},
		{"production without endpoint", func(c *Config) { *c = *ProductionConfig() }, true},
		{"no service", func(c *Config) { c.ServiceName = "" }, true},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"bad exporter", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "jaeger" }, true},
		{"bad sampling", func(c *Config) { c.Tracing.SamplingRate = 2 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "telemetry.yaml")
	data := "service_name: reconf-ci\nlogging:\n  level: debug\nmetrics:\n  listen_address: \":9464\"\n"
	if err := os.WriteFile(good, []byte(data), 0o644); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	cfg, err := LoadConfig(good)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.ServiceName != "reconf-ci" || cfg.Logging.Level != "debug" || cfg.Metrics.ListenAddress != ":9464" {
		t.Errorf("Unexpected config %+v", cfg)
	}
	if cfg.Logging.Format != "console" || !cfg.Events.Enabled {
		t.Errorf("Expected defaults to be kept, got %+v", cfg)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("logging:\n  level: loud\n"), 0o644); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, err := LoadConfig(bad); err == nil {
		t.Error("Expected a validation error")
	}
	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Expected an error for a missing file")
	}
}

func TestCommitObserver_Apply(t *testing.T) {
	tel, log := newTestTelemetry(t)
	obs := NewCommitObserver(tel, "run-1")

	applier := plan.NewDependencyApplier(tel.Logger.Zerolog())
	applier.AddListener(obs)
	applier.SetObserver(obs)

	if _, err := applier.Apply(context.Background(), migrationPlan(t, 1)); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if got := testutil.ToFloat64(tel.Metrics.plansApplied.WithLabelValues("succeeded")); got != 1 {
		t.Errorf("Expected 1 successful application, got %v", got)
	}
	if got := testutil.ToFloat64(tel.Metrics.actionsCommitted.WithLabelValues("migrateVM")); got != 1 {
		t.Errorf("Expected 1 committed migration, got %v", got)
	}
	if got := testutil.ToFloat64(tel.Metrics.actionsCommitted.WithLabelValues("shutdownNode")); got != 1 {
		t.Errorf("Expected 1 committed shutdown, got %v", got)
	}

	want := []string{EventTypePlanStarted, EventTypeActionCommitted, EventTypeActionCommitted, EventTypePlanCompleted}
	got := log.types()
	if len(got) != len(want) {
		t.Fatalf("Expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected event %d to be %s, got %s", i, want[i], got[i])
		}
	}
	for _, e := range log.events {
		if e.RunID != "run-1" || e.ID == "" {
			t.Errorf("Unexpected event %+v", e)
		}
	}
}

func TestCommitObserver_ApplyFailure(t *testing.T) {
	tel, log := newTestTelemetry(t)
	obs := NewCommitObserver(tel, "run-2")

	applier := plan.NewDependencyApplier(tel.Logger.Zerolog())
	applier.SetObserver(obs)

	// The VM stays on node#0, which cannot be shut down.
	if _, err := applier.Apply(context.Background(), migrationPlan(t, 0)); !plan.IsMalformed(err) {
		t.Fatalf("Expected malformed error, got: %v", err)
	}
	if got := testutil.ToFloat64(tel.Metrics.plansApplied.WithLabelValues("failed")); got != 1 {
		t.Errorf("Expected 1 failed application, got %v", got)
	}
	if got := testutil.ToFloat64(tel.Metrics.errorsByClass.WithLabelValues("malformed", plan.ErrCodeApplyFailed)); got != 1 {
		t.Errorf("Expected 1 malformed error, got %v", got)
	}
	types := log.types()
	if types[len(types)-1] != EventTypePlanFailed {
		t.Errorf("Expected a plan.failed event last, got %v", types)
	}
}

func TestCommitObserver_Check(t *testing.T) {
	tel, log := newTestTelemetry(t)
	obs := NewCommitObserver(tel, "")

	p := migrationPlan(t, 1)
	ok := constraint.NewPlanChecker(constraint.NewOffline([]model.Node{0})).WithObserver(obs)
	if err := ok.Check(context.Background(), p); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	ban := constraint.NewBan([]model.VM{0}, []model.Node{1})
	ko := constraint.NewPlanChecker(ban).WithObserver(obs)
	if err := ko.Check(context.Background(), p); !plan.IsViolation(err) {
		t.Fatalf("Expected violation, got: %v", err)
	}

	if got := testutil.ToFloat64(tel.Metrics.planChecks.WithLabelValues(CheckResultOK)); got != 1 {
		t.Errorf("Expected 1 passing check, got %v", got)
	}
	if got := testutil.ToFloat64(tel.Metrics.planChecks.WithLabelValues(CheckResultViolated)); got != 1 {
		t.Errorf("Expected 1 violated check, got %v", got)
	}
	if got := testutil.ToFloat64(tel.Metrics.constraintViolations.WithLabelValues("ban")); got != 1 {
		t.Errorf("Expected 1 ban violation, got %v", got)
	}
	types := log.types()
	if len(types) != 1 || types[0] != EventTypeConstraintViolated {
		t.Errorf("Expected a single constraint.violated event, got %v", types)
	}
	if log.events[0].Constraint != ban.String() {
		t.Errorf("Expected constraint %s, got %s", ban, log.events[0].Constraint)
	}
}

func TestEventPublisher_Async(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 10, MaxBatchSize: 4, EnableAsync: true})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	log := &eventLog{}
	ep.Subscribe(log.add, FilterByType(EventTypeActionCommitted))

	for i := 0; i < 5; i++ {
		if err := ep.PublishActionCommitted("r", "bootVM", "boot"); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
	}
	_ = ep.PublishPlanStarted("r", 5)

	if err := ep.Shutdown(context.Background()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if got := len(log.types()); got != 5 {
		t.Errorf("Expected 5 delivered events, got %d", got)
	}
	if err := ep.PublishPlanStarted("r", 1); err == nil {
		t.Error("Expected publishing after shutdown to fail")
	}
}

func TestEventFilters(t *testing.T) {
	warn := Event{Type: EventTypeConstraintViolated, Level: EventLevelWarning, RunID: "a"}
	info := Event{Type: EventTypePlanStarted, Level: EventLevelInfo, RunID: "b"}

	if !FilterByLevel(EventLevelWarning)(warn) || FilterByLevel(EventLevelWarning)(info) {
		t.Error("Unexpected level filtering")
	}
	if !FilterByRunID("b")(info) || FilterByRunID("b")(warn) {
		t.Error("Unexpected run filtering")
	}
}

func TestMetrics_Disabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	m.RecordPlanApplied("succeeded", 1, 0)
	m.RecordViolation("ban")
	if m.Registry() != nil || m.NewServer() != nil {
		t.Error("Expected disabled metrics to expose nothing")
	}
}
