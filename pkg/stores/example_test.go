package stores_test

import (
	"context"
	"fmt"
	"log"

	"github.com/openfroyo/starmod/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path: ":memory:", // Use in-memory database for example
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}

	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_PutModule stores a module and looks it up the way the
// loader does.
func ExampleSQLiteStore_PutModule() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	src := `greeting = "hello"`
	if _, err := store.PutModule(ctx, stores.DefaultCollection, "/greet", &src); err != nil {
		log.Fatal(err)
	}

	rec, err := store.FindByPath(ctx, stores.DefaultCollection, "/greet")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("%s@%d: %s\n", rec.Path, rec.Revision, *rec.Content)
	// Output: /greet@1: greeting = "hello"
}
