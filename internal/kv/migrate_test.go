package kv

import (
	"context"
	"errors"
	"testing"
)

func TestMigrate_RunsPendingInOrder(t *testing.T) {
	store, backend, _ := newTestStore(t)
	ctx := context.Background()

	var ran []int
	step := func(v int) Migration {
		return Migration{Version: v, Description: "step", Up: func(context.Context, *Store) error {
			ran = append(ran, v)
			return nil
		}}
	}

	// Declared out of order on purpose.
	migrations := []Migration{step(3), step(1), step(2)}

	changed, err := store.Migrate(ctx, migrations)
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if !changed || len(ran) != 3 || ran[0] != 1 || ran[2] != 3 {
		t.Errorf("changed=%v ran=%v, want all three in order", changed, ran)
	}
	if raw, _ := backend.Raw(KeySchemaVersion); string(raw) != "3" {
		t.Errorf("stored version = %s, want 3", raw)
	}

	ran = nil
	changed, err = store.Migrate(ctx, append(migrations, step(4)))
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if !changed || len(ran) != 1 || ran[0] != 4 {
		t.Errorf("second run ran %v, want [4]", ran)
	}
}

func TestMigrate_UpToDate(t *testing.T) {
	store, backend, _ := newTestStore(t)
	backend.Put(KeySchemaVersion, []byte("2"))

	changed, err := store.Migrate(context.Background(), []Migration{{Version: 1}, {Version: 2}})
	if err != nil || changed {
		t.Errorf("Migrate = %v, %v; want false, nil", changed, err)
	}
}

func TestMigrate_FailureStopsAtLastGoodVersion(t *testing.T) {
	store, backend, _ := newTestStore(t)

	_, err := store.Migrate(context.Background(), []Migration{
		{Version: 1},
		{Version: 2, Up: func(context.Context, *Store) error { return errors.New("bad data") }},
		{Version: 3},
	})
	if err == nil {
		t.Fatal("expected migration error")
	}
	if raw, _ := backend.Raw(KeySchemaVersion); string(raw) != "1" {
		t.Errorf("stored version = %s, want 1", raw)
	}
}

func TestMigrate_RejectsNewerSchema(t *testing.T) {
	store, backend, _ := newTestStore(t)
	backend.Put(KeySchemaVersion, []byte("9"))

	if _, err := store.Migrate(context.Background(), []Migration{{Version: 1}}); !errors.Is(err, ErrSchemaTooNew) {
		t.Errorf("expected ErrSchemaTooNew, got %v", err)
	}
}
