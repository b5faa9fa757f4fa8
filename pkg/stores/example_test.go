package stores_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/openfroyo/reconf/pkg/model"
	"github.com/openfroyo/reconf/pkg/plan"
	"github.com/openfroyo/reconf/pkg/stores"
)

// Example records the application of a plan and reads its history back.
func Example() {
	dir, err := os.MkdirTemp("", "reconf-store")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	store, err := stores.NewSQLiteStore(stores.Config{Path: filepath.Join(dir, "history.db")})
	if err != nil {
		log.Fatal(err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	mo := model.New()
	n0, _ := mo.NewNode()
	mo.Mapping().AddOfflineNode(n0)
	boot, _ := plan.NewBootNode(n0, 0, 1)
	b := plan.NewBuilder(mo)
	_ = b.Add(boot)
	p := b.Build()

	rec := stores.NewRunRecorder(store, "demo", stores.RunModeApply, zerolog.Nop())
	applier := plan.NewDependencyApplier(zerolog.Nop())
	applier.AddListener(rec)
	applier.SetObserver(rec)
	_, err = applier.Apply(ctx, p)
	if err := rec.Finish(ctx, err); err != nil {
		log.Fatal(err)
	}

	runs, _ := store.ListRuns(ctx, nil, 10, 0)
	commits, _ := store.ListCommits(ctx, runs[0].ID)
	fmt.Println(runs[0].Instance, runs[0].Status, len(commits), commits[0].Kind)
	// Output: demo completed 1 bootNode
}
