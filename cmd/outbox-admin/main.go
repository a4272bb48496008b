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

	"github.com/vladislavdragonenkov/podoms/internal/app"
	"github.com/vladislavdragonenkov/podoms/internal/domain"
	"github.com/vladislavdragonenkov/podoms/internal/storage"
)

const (
	defaultListLimit = 100
	defaultTimeout   = 30 * time.Second
)

type openFunc func(ctx context.Context) (*storage.OutboxStore, func() error, error)

// openFromEnv открывает outbox по той же конфигурации POD_*, что и сервис.
func openFromEnv(ctx context.Context) (*storage.OutboxStore, func() error, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	repos, closeFn, err := app.OpenRepositories(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return storage.NewOutboxStore(repos.Outbox), closeFn, nil
}

func newApp(open openFunc, out io.Writer) *cli.App {
	withStore := func(fn func(ctx context.Context, store *storage.OutboxStore, c *cli.Context) error) cli.ActionFunc {
		return func(c *cli.Context) error {
			ctx, cancel := context.WithTimeout(c.Context, defaultTimeout)
			defer cancel()

			store, closeFn, err := open(ctx)
			if err != nil {
				return fmt.Errorf("open outbox: %w", err)
			}
			defer func() { _ = closeFn() }()
			return fn(ctx, store, c)
		}
	}

	return &cli.App{
		Name:      "outbox-admin",
		Usage:     "inspect and requeue transactional outbox messages",
		Writer:    out,
		ErrWriter: out,
		Commands: []*cli.Command{
			{
				Name:  "stats",
				Usage: "print pending backlog",
				Action: withStore(func(ctx context.Context, store *storage.OutboxStore, _ *cli.Context) error {
					stats, err := store.Stats(ctx)
					if err != nil {
						return err
					}
					oldest := "-"
					if !stats.OldestPendingAt.IsZero() {
						oldest = stats.OldestPendingAt.Format(time.RFC3339)
					}
					_, _ = fmt.Fprintf(out, "pending=%d oldest=%s\n", stats.PendingCount, oldest)
					return nil
				}),
			},
			{
				Name:  "list",
				Usage: "list messages by status",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status", Value: string(domain.OutboxStatusFailed), Usage: "pending|sent|failed"},
					&cli.IntFlag{Name: "limit", Value: defaultListLimit},
				},
				Action: withStore(func(ctx context.Context, store *storage.OutboxStore, c *cli.Context) error {
					status := domain.OutboxStatus(c.String("status"))
					switch status {
					case domain.OutboxStatusPending, domain.OutboxStatusSent, domain.OutboxStatusFailed:
					default:
						return fmt.Errorf("unknown outbox status %q", status)
					}

					msgs, err := store.List(ctx, status, c.Int("limit"))
					if err != nil {
						return err
					}
					for _, m := range msgs {
						_, _ = fmt.Fprintf(out, "%s\t%s\t%s\t%s\tattempts=%d\t%s\n",
							m.ID, m.EventType, m.AggregateType, m.AggregateID, m.Attempts, m.CreatedAt.Format(time.RFC3339))
					}
					_, _ = fmt.Fprintf(out, "total=%d\n", len(msgs))
					return nil
				}),
			},
			{
				Name:      "requeue",
				Usage:     "move failed messages back to pending (all when no ids are given)",
				ArgsUsage: "[id...]",
				Action: withStore(func(ctx context.Context, store *storage.OutboxStore, c *cli.Context) error {
					ok, err := store.Requeue(ctx, c.Args().Slice()...)
					if err != nil {
						return err
					}
					if !ok {
						_, _ = fmt.Fprintln(out, "nothing to requeue")
						return nil
					}
					_, _ = fmt.Fprintln(out, "requeued")
					return nil
				}),
			},
		},
	}
}

func main() {
	_ = godotenv.Load()

	if err := newApp(openFromEnv, os.Stdout).Run(os.Args); err != nil {
		log.WithError(err).Fatal("outbox-admin failed")
	}
}
