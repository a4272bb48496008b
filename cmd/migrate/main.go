package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/vladislavdragonenkov/podoms/internal/storage/postgres"
)

const defaultTimeout = 30 * time.Second

// schemaMigrator - операции над встроенными миграциями PostgreSQL.
type schemaMigrator interface {
	Up(ctx context.Context, steps int) error
	Down(ctx context.Context, steps int) error
	Status(ctx context.Context) (postgres.MigrationStatus, error)
}

type openFunc func(ctx context.Context, dsn string) (schemaMigrator, func() error, error)

func openPostgres(ctx context.Context, dsn string) (schemaMigrator, func() error, error) {
	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	return store.Migrator(), store.Close, nil
}

func newApp(open openFunc, out io.Writer) *cli.App {
	stepsFlag := &cli.IntFlag{Name: "steps", Usage: "number of migrations to apply (0 = all for up, 1 for down)"}

	withMigrator := func(fn func(ctx context.Context, m schemaMigrator, c *cli.Context) error) cli.ActionFunc {
		return func(c *cli.Context) error {
			dsn := c.String("dsn")
			if dsn == "" {
				return fmt.Errorf("postgres dsn is required (--dsn or POD_POSTGRES_DSN)")
			}
			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			m, closeFn, err := open(ctx, dsn)
			if err != nil {
				return fmt.Errorf("open postgres store: %w", err)
			}
			defer func() { _ = closeFn() }()
			return fn(ctx, m, c)
		}
	}

	printStatus := func(ctx context.Context, m schemaMigrator, prefix string) error {
		st, err := m.Status(ctx)
		if err != nil {
			return fmt.Errorf("migration status failed: %w", err)
		}
		_, _ = fmt.Fprintf(out, "%s: version=%d applied=%d pending=%d\n", prefix, st.Version, st.Applied, st.Pending)
		return nil
	}

	return &cli.App{
		Name:      "migrate",
		Usage:     "apply embedded PostgreSQL migrations of the order service",
		Writer:    out,
		ErrWriter: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "dsn",
				Usage:    "PostgreSQL DSN",
				EnvVars:  []string{"POD_POSTGRES_DSN"},
				Required: true,
			},
			&cli.DurationFlag{Name: "timeout", Value: defaultTimeout, Usage: "overall command timeout"},
		},
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "apply pending migrations",
				Flags: []cli.Flag{stepsFlag},
				Action: withMigrator(func(ctx context.Context, m schemaMigrator, c *cli.Context) error {
					if err := m.Up(ctx, c.Int("steps")); err != nil {
						return fmt.Errorf("migrate up failed: %w", err)
					}
					return printStatus(ctx, m, "migrate up ok")
				}),
			},
			{
				Name:  "down",
				Usage: "roll back applied migrations",
				Flags: []cli.Flag{stepsFlag},
				Action: withMigrator(func(ctx context.Context, m schemaMigrator, c *cli.Context) error {
					if err := m.Down(ctx, c.Int("steps")); err != nil {
						return fmt.Errorf("migrate down failed: %w", err)
					}
					return printStatus(ctx, m, "migrate down ok")
				}),
			},
			{
				Name:  "status",
				Usage: "print schema version",
				Action: withMigrator(func(ctx context.Context, m schemaMigrator, _ *cli.Context) error {
					return printStatus(ctx, m, "migration status")
				}),
			},
		},
	}
}

func main() {
	_ = godotenv.Load()

	if err := newApp(openPostgres, os.Stdout).Run(os.Args); err != nil {
		log.WithError(err).Fatal("migrate failed")
	}
}
