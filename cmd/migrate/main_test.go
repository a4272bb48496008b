package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/vladislavdragonenkov/podoms/internal/storage/postgres"
)

type fakeMigrator struct {
	calls   []string
	steps   []int
	status  postgres.MigrationStatus
	upErr   error
	closed  bool
	openDSN string
}

func (f *fakeMigrator) Up(_ context.Context, steps int) error {
	f.calls = append(f.calls, "up")
	f.steps = append(f.steps, steps)
	return f.upErr
}

func (f *fakeMigrator) Down(_ context.Context, steps int) error {
	f.calls = append(f.calls, "down")
	f.steps = append(f.steps, steps)
	return nil
}

func (f *fakeMigrator) Status(context.Context) (postgres.MigrationStatus, error) {
	f.calls = append(f.calls, "status")
	return f.status, nil
}

func (f *fakeMigrator) open(_ context.Context, dsn string) (schemaMigrator, func() error, error) {
	f.openDSN = dsn
	return f, func() error { f.closed = true; return nil }, nil
}

func TestMigrateCommands(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantCalls []string
		wantSteps []int
		wantOut   string
	}{
		{name: "up all", args: []string{"up"}, wantCalls: []string{"up", "status"}, wantSteps: []int{0}, wantOut: "migrate up ok: version=3 applied=3 pending=0"},
		{name: "up one", args: []string{"up", "--steps", "1"}, wantCalls: []string{"up", "status"}, wantSteps: []int{1}},
		{name: "down", args: []string{"down", "--steps", "2"}, wantCalls: []string{"down", "status"}, wantSteps: []int{2}, wantOut: "migrate down ok"},
		{name: "status", args: []string{"status"}, wantCalls: []string{"status"}, wantOut: "migration status: version=3"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fake := &fakeMigrator{status: postgres.MigrationStatus{Version: 3, Applied: 3}}
			var out bytes.Buffer

			args := append([]string{"migrate", "--dsn", "postgres://example"}, tc.args...)
			if err := newApp(fake.open, &out).Run(args); err != nil {
				t.Fatalf("run: %v", err)
			}

			if strings.Join(fake.calls, ",") != strings.Join(tc.wantCalls, ",") {
				t.Fatalf("expected calls %v, got %v", tc.wantCalls, fake.calls)
			}
			for i, s := range tc.wantSteps {
				if fake.steps[i] != s {
					t.Fatalf("expected steps %v, got %v", tc.wantSteps, fake.steps)
				}
			}
			if tc.wantOut != "" && !strings.Contains(out.String(), tc.wantOut) {
				t.Fatalf("expected output containing %q, got %q", tc.wantOut, out.String())
			}
			if fake.openDSN != "postgres://example" || !fake.closed {
				t.Fatalf("store must be opened with dsn and closed, dsn=%q closed=%v", fake.openDSN, fake.closed)
			}
		})
	}
}

func TestMigrateDSNFromEnv(t *testing.T) {
	t.Setenv("POD_POSTGRES_DSN", "postgres://from-env")
	fake := &fakeMigrator{}

	if err := newApp(fake.open, &bytes.Buffer{}).Run([]string{"migrate", "status"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if fake.openDSN != "postgres://from-env" {
		t.Fatalf("expected dsn from env, got %q", fake.openDSN)
	}
}

func TestMigrateRequiresDSN(t *testing.T) {
	t.Setenv("POD_POSTGRES_DSN", "")
	_ = os.Unsetenv("POD_POSTGRES_DSN")
	fake := &fakeMigrator{}

	if err := newApp(fake.open, &bytes.Buffer{}).Run([]string{"migrate", "status"}); err == nil {
		t.Fatal("expected error without dsn")
	}
	if len(fake.calls) != 0 {
		t.Fatalf("migrator must not be called, got %v", fake.calls)
	}
}

func TestMigrateUpFailure(t *testing.T) {
	fake := &fakeMigrator{upErr: errors.New("lock timeout")}

	err := newApp(fake.open, &bytes.Buffer{}).Run([]string{"migrate", "--dsn", "postgres://example", "up"})
	if err == nil || !strings.Contains(err.Error(), "migrate up failed") {
		t.Fatalf("expected wrapped up error, got %v", err)
	}
	if !fake.closed {
		t.Fatal("store must be closed after failure")
	}
}
