package plan

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/reconf/pkg/model"
)

// scenario returns n0, n1 online, n2 offline and vm#0 running on n0.
func scenario() *model.Model {
	mo := newCluster(2)
	n2, _ := mo.NewNode()
	mo.Mapping().AddOfflineNode(n2)
	v0, _ := mo.NewVM()
	mo.Mapping().AddRunningVM(v0, 0)
	return mo
}

func TestBuilder_Dependencies(t *testing.T) {
	b := NewBuilder(scenario())
	mig := must(NewMigrateVM(0, 0, 1, 0, 3))
	off := must(NewShutdownNode(0, 3, 5))
	boot := must(NewBootNode(2, 0, 2))
	bootVM := must(NewBootVM(1, 2, 2, 4))
	if err := b.Add(mig, off, boot, bootVM); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	p := b.Build()

	if p.Size() != 4 {
		t.Fatalf("Expected 4 actions, got %d", p.Size())
	}
	if got := p.DirectDependencies(1); !reflect.DeepEqual(got, []int{0}) {
		t.Errorf("Expected shutdownNode to wait for the migration, got %v", got)
	}
	if got := p.DirectDependencies(3); !reflect.DeepEqual(got, []int{2}) {
		t.Errorf("Expected bootVM to wait for bootNode, got %v", got)
	}
	if got := p.Dependents(0); !reflect.DeepEqual(got, []int{1}) {
		t.Errorf("Expected migration dependents [1], got %v", got)
	}
	if got := p.Roots(); !reflect.DeepEqual(got, []int{0, 2}) {
		t.Errorf("Expected roots [0 2], got %v", got)
	}
	if p.Duration() != 5 {
		t.Errorf("Expected duration 5, got %d", p.Duration())
	}

	levels, err := p.Levels()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !reflect.DeepEqual(levels, [][]int{{0, 2}, {1, 3}}) {
		t.Errorf("Unexpected levels %v", levels)
	}

	dot := p.ToDOT()
	if !strings.Contains(dot, "\"a0\" -> \"a1\"") || !strings.Contains(dot, "cluster_level_1") {
		t.Errorf("Unexpected DOT output:\n%s", dot)
	}
}

func TestBuilder_RejectsDuplicatesAndBadRequires(t *testing.T) {
	b := NewBuilder(scenario())
	if err := b.Add(must(NewBootNode(2, 0, 1))); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	err := b.Add(must(NewBootNode(2, 0, 1)))
	if !errors.Is(err, ErrDuplicateAction) || !IsInvalid(err) {
		t.Errorf("Expected invalid duplicate error, got: %v", err)
	}
	if err := b.Require(0, 3); !IsInvalid(err) {
		t.Errorf("Expected out-of-range require to fail, got: %v", err)
	}
	if err := b.Require(0, 0); !IsInvalid(err) {
		t.Errorf("Expected self require to fail, got: %v", err)
	}
}

func TestBuilder_SourceIsCloned(t *testing.T) {
	src := scenario()
	p := NewBuilder(src).Build()
	src.Mapping().AddOnlineNode(2)
	if p.Source().Mapping().IsOnline(2) {
		t.Error("Expected the plan source to be isolated from the builder input")
	}
}

func TestDependencyApplier_Scenario(t *testing.T) {
	src := scenario()
	b := NewBuilder(src)
	_ = b.Add(must(NewMigrateVM(0, 0, 1, 0, 1)), must(NewBootNode(2, 1, 2)))
	p := b.Build()

	if got := p.Roots(); !reflect.DeepEqual(got, []int{0, 1}) {
		t.Fatalf("Expected both actions in the first frontier, got %v", got)
	}

	applier := NewDependencyApplier(zerolog.Nop())
	rec := NewRecorder()
	applier.AddListener(rec)

	res, err := applier.Apply(context.Background(), p)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if loc, _ := res.Mapping().VMLocation(0); loc != 1 {
		t.Errorf("Expected vm#0 on node#1, got %s", loc)
	}
	if !res.Mapping().IsOnline(2) {
		t.Error("Expected node#2 online")
	}
	if !src.Mapping().IsOffline(2) {
		t.Error("Expected the input model untouched")
	}

	committed := rec.Actions()
	if len(committed) != 2 || !committed[0].Equal(p.Action(0)) {
		t.Errorf("Unexpected commit stream %v", committed)
	}
}

func TestDependencyApplier_EmptyPlan(t *testing.T) {
	src := scenario()
	res, err := NewDependencyApplier(zerolog.Nop()).Apply(context.Background(), NewBuilder(src).Build())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !res.Equal(src) {
		t.Error("Expected an empty plan to leave the model unchanged")
	}
	if res == src {
		t.Error("Expected a fresh model")
	}
}

func TestDependencyApplier_Cycle(t *testing.T) {
	mo := scenario()
	mo.Attach(model.NewShareableResource("cpu"))
	b := NewBuilder(mo)
	_ = b.Add(
		must(NewMigrateVM(0, 0, 1, 1, 1)),
		must(NewAllocate(0, 1, "cpu", 2, 1, 1)),
		must(NewBootNode(2, 0, 1)),
	)
	p := b.Build()

	if err := p.Validate(); !IsDeadlock(err) {
		t.Fatalf("Expected deadlock from Validate, got: %v", err)
	}
	if _, err := p.Levels(); !IsDeadlock(err) {
		t.Errorf("Expected deadlock from Levels, got: %v", err)
	}

	_, err := NewDependencyApplier(zerolog.Nop()).Apply(context.Background(), p)
	if !IsDeadlock(err) {
		t.Fatalf("Expected deadlock, got: %v", err)
	}
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("Expected *Error, got %T", err)
	}
	if rounds, _ := e.Details["rounds"].(int); rounds > p.Size() {
		t.Errorf("Expected at most %d rounds, got %d", p.Size(), rounds)
	}
	if blocked, _ := e.Details["blocked"].([]int); !reflect.DeepEqual(blocked, []int{0, 1}) {
		t.Errorf("Expected blocked [0 1], got %v", e.Details["blocked"])
	}
}

func TestDependencyApplier_RequireCycle(t *testing.T) {
	b := NewBuilder(scenario())
	_ = b.Add(must(NewBootNode(2, 0, 1)), must(NewMigrateVM(0, 0, 1, 0, 1)))
	_ = b.Require(0, 1)
	_ = b.Require(1, 0)

	_, err := NewDependencyApplier(zerolog.Nop()).Apply(context.Background(), b.Build())
	if !IsDeadlock(err) {
		t.Errorf("Expected deadlock, got: %v", err)
	}
}

func TestDependencyApplier_MissingEdge(t *testing.T) {
	mo := scenario()
	v1, _ := mo.NewVM()
	mo.Mapping().AddReadyVM(v1)

	// The VM boot ends before the node boot starts: no edge, the boot fails.
	b := NewBuilder(mo)
	_ = b.Add(must(NewBootNode(2, 2, 3)), must(NewBootVM(v1, 2, 0, 1)))
	_, err := NewDependencyApplier(zerolog.Nop()).Apply(context.Background(), b.Build())
	if !IsMalformed(err) {
		t.Fatalf("Expected malformed error, got: %v", err)
	}
	var e *Error
	if errors.As(err, &e) && e.Index != 1 {
		t.Errorf("Expected the boot of the VM to be reported, got index %d", e.Index)
	}

	// With the right interval the edge exists and the plan applies.
	b = NewBuilder(mo)
	_ = b.Add(must(NewBootNode(2, 2, 3)), must(NewBootVM(v1, 2, 3, 4)))
	p := b.Build()
	if got := p.DirectDependencies(1); !reflect.DeepEqual(got, []int{0}) {
		t.Fatalf("Expected an edge from the node boot, got %v", got)
	}
	res, err := NewDependencyApplier(zerolog.Nop()).Apply(context.Background(), p)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if loc, _ := res.Mapping().VMLocation(v1); loc != 2 {
		t.Errorf("Expected the VM on node#2, got %s", loc)
	}
}

// independentPlan returns a plan whose first frontier holds several actions.
func independentPlan() *ReconfigurationPlan {
	mo := newCluster(4)
	mp := mo.Mapping()
	mp.AddRunningVM(0, 0)
	mp.AddRunningVM(1, 1)
	mp.AddRunningVM(2, 2)
	mp.AddReadyVM(3)

	b := NewBuilder(mo)
	_ = b.Add(
		must(NewMigrateVM(0, 0, 3, 2, 4)),
		must(NewShutdownVM(1, 1, 0, 1)),
		must(NewSuspendVM(2, 2, 2, 1, 3)),
		must(NewBootVM(3, 1, 3, 5)),
		must(NewShutdownNode(0, 4, 6)),
	)
	return b.Build()
}

func TestMonitor_AnyOrderGivesSameModel(t *testing.T) {
	p := independentPlan()
	ref, err := NewDependencyApplier(zerolog.Nop()).Apply(context.Background(), p)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// Commit each frontier in reverse order.
	mon := NewMonitor(p)
	frontier := p.Roots()
	for len(frontier) > 0 {
		next := make([]int, 0)
		for k := len(frontier) - 1; k >= 0; k-- {
			released, err := mon.Commit(frontier[k])
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			next = append(next, released...)
		}
		frontier = next
	}
	if mon.Committed() != p.Size() {
		t.Fatalf("Expected %d commits, got %d", p.Size(), mon.Committed())
	}
	if !mon.CurrentModel().Equal(ref) {
		t.Errorf("Expected equal models:\n%s\nvs\n%s", mon.CurrentModel(), ref)
	}

	timed, err := NewTimeBasedApplier(zerolog.Nop()).Apply(context.Background(), p)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !timed.Equal(ref) {
		t.Error("Expected the time-based applier to reach the same model")
	}
}

func TestMonitor_Commit(t *testing.T) {
	p := independentPlan()
	mon := NewMonitor(p)

	if !mon.IsBlocked(3) {
		t.Fatal("Expected bootVM to be blocked by the shutdown of vm#1")
	}
	if _, err := mon.Commit(3); !errors.Is(err, ErrBlocked) {
		t.Errorf("Expected ErrBlocked, got: %v", err)
	}

	released, err := mon.Commit(1)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !reflect.DeepEqual(released, []int{3}) {
		t.Errorf("Expected [3] released, got %v", released)
	}
	if _, err := mon.Commit(1); !errors.Is(err, ErrAlreadyCommitted) {
		t.Errorf("Expected ErrAlreadyCommitted, got: %v", err)
	}
	if _, err := mon.Commit(42); !IsInvalid(err) {
		t.Errorf("Expected invalid index error, got: %v", err)
	}
	if !mon.IsCommitted(1) || mon.Committed() != 1 {
		t.Errorf("Expected one commit, got %d", mon.Committed())
	}
}

func TestMonitor_CommitFailureKeepsActionPending(t *testing.T) {
	b := NewBuilder(scenario())
	_ = b.Add(must(NewMigrateVM(0, 1, 0, 0, 1)))
	mon := NewMonitor(b.Build())

	if _, err := mon.Commit(0); !IsMalformed(err) {
		t.Fatalf("Expected malformed error, got: %v", err)
	}
	if mon.IsCommitted(0) || mon.Committed() != 0 {
		t.Error("Expected the action to stay uncommitted")
	}
}

func TestListeners(t *testing.T) {
	applier := NewDependencyApplier(zerolog.Nop())
	rec := NewRecorder()
	if !applier.AddListener(rec) {
		t.Fatal("Expected first registration to succeed")
	}
	if applier.AddListener(rec) {
		t.Error("Expected duplicate registration to fail")
	}

	count := 0
	fn := CommitListenerFunc(func(Action) { count++ })
	applier.AddListener(&fn)

	p := independentPlan()
	if _, err := applier.Apply(context.Background(), p); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if count != p.Size() || len(rec.Actions()) != p.Size() {
		t.Errorf("Expected %d notifications, got %d and %d", p.Size(), count, len(rec.Actions()))
	}

	if !applier.RemoveListener(rec) {
		t.Error("Expected removal to succeed")
	}
	if applier.RemoveListener(rec) {
		t.Error("Expected second removal to fail")
	}
}

type observer struct {
	started  int
	finished ApplyStats
	err      error
}

func (o *observer) PlanStarted(context.Context, *ReconfigurationPlan) { o.started++ }

func (o *observer) PlanFinished(_ context.Context, _ *ReconfigurationPlan, s ApplyStats, err error) {
	o.finished = s
	o.err = err
}

func TestDependencyApplier_Observer(t *testing.T) {
	applier := NewDependencyApplier(zerolog.Nop())
	obs := &observer{}
	applier.SetObserver(obs)

	p := independentPlan()
	if _, err := applier.Apply(context.Background(), p); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if obs.started != 1 || obs.finished.Committed != p.Size() || obs.err != nil {
		t.Errorf("Unexpected observer state %+v", obs)
	}
	if obs.finished.Rounds != 2 {
		t.Errorf("Expected 2 rounds, got %d", obs.finished.Rounds)
	}
}
