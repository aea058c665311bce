package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/rs/zerolog"

	"github.com/fxctl/fxctl/pkg/stores"
	"github.com/fxctl/fxctl/pkg/telemetry"
)

// ExampleOpen demonstrates opening a store and recording an event.
func ExampleOpen() {
	ctx := context.Background()
	store, err := stores.Open(ctx, stores.Config{Path: stores.MemoryPath}, zerolog.Nop())
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	err = store.Record(ctx, telemetry.Event{
		ID:        "evt-001",
		Timestamp: time.Now(),
		Name:      "deploy",
		Level:     telemetry.EventLevelInfo,
	})
	if err != nil {
		log.Fatal(err)
	}

	entries, err := store.List(ctx, stores.ListOptions{Limit: 10})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%s success=%v\n", entries[0].Name, entries[0].Success)
	// Output: deploy success=true
}
