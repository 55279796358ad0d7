package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/hpcops/allocsync/pkg/engine"
	"github.com/hpcops/allocsync/pkg/stores"
)

// ExampleNewHistoryStore demonstrates creating and migrating a history store.
func ExampleNewHistoryStore() {
	store, err := stores.NewHistoryStore(stores.Config{
		Path: ":memory:", // Use in-memory database for example
	})
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

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleHistoryStore_RecordOutcome demonstrates recording a run and one report row.
func ExampleHistoryStore_RecordOutcome() {
	store, _ := stores.NewHistoryStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	run := &stores.Run{
		ID:        "run-001",
		Job:       "ldap-check",
		Status:    stores.RunStatusRunning,
		StartedAt: time.Now(),
	}
	if err := store.CreateRun(ctx, run); err != nil {
		log.Fatal(err)
	}

	outcome := engine.Outcome{
		Kind:   engine.EntityUser,
		Entity: "alice",
		Result: engine.OutcomeSuccess,
		Row: engine.GroupRow{
			Username:        "alice",
			Added:           []string{"proj1"},
			DirectoryStatus: engine.DirectoryStatusEnabled,
			LocalStatus:     engine.LocalStatus(true),
		},
	}
	if err := store.RecordOutcome(ctx, run.ID, outcome); err != nil {
		log.Fatal(err)
	}

	rows, _ := store.ListRows(ctx, run.ID)
	fmt.Printf("%s %s %q\n", rows[0].Entity, rows[0].Result, rows[0].Row)
	// Output: alice success "alice\tproj1\t\tEnabled\tActive"
}
