package postgres

import (
	"context"
	"testing"
	"time"
)

func TestMigrator_PostgresLifecycle(t *testing.T) {
	store := openRawPostgresStoreForIntegrationTest(t)
	m := store.Migrator()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	assertStatus := func(stage string, version int64, applied, pending int) {
		t.Helper()
		st, err := m.Status(ctx)
		if err != nil {
			t.Fatalf("status %s: %v", stage, err)
		}
		if st.Version != version || st.Applied != applied || st.Pending != pending {
			t.Fatalf("unexpected status %s: %+v", stage, st)
		}
	}

	if err := m.Down(ctx, 100); err != nil {
		t.Fatalf("migrate down reset: %v", err)
	}
	assertStatus("after reset", 0, 0, 2)

	if err := m.Up(ctx, 0); err != nil {
		t.Fatalf("migrate up all: %v", err)
	}
	assertStatus("after up", 2, 2, 0)

	if err := m.Up(ctx, 0); err != nil {
		t.Fatalf("idempotent migrate up: %v", err)
	}
	assertStatus("after idempotent up", 2, 2, 0)

	if err := m.Down(ctx, 1); err != nil {
		t.Fatalf("migrate down 1: %v", err)
	}
	assertStatus("after down 1", 1, 1, 1)

	if err := m.Down(ctx, 0); err != nil {
		t.Fatalf("migrate down default step: %v", err)
	}
	assertStatus("after down default", 0, 0, 2)

	if err := m.Down(ctx, 1); err != nil {
		t.Fatalf("migrate down on empty should be no-op: %v", err)
	}
}

func TestMigrator_GuardsAndUnsupportedDirection(t *testing.T) {
	var nilMigrator *Migrator
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := nilMigrator.Up(ctx, 0); err == nil {
		t.Fatal("expected error for nil migrator Up")
	}
	if err := nilMigrator.Down(ctx, 1); err == nil {
		t.Fatal("expected error for nil migrator Down")
	}
	if _, err := nilMigrator.Status(ctx); err == nil {
		t.Fatal("expected error for nil migrator Status")
	}

	store := openRawPostgresStoreForIntegrationTest(t)
	if err := store.Migrator().run(ctx, direction("sideways"), 0); err == nil {
		t.Fatal("expected unsupported direction error")
	}
}
