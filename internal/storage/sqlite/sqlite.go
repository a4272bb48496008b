package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/vladislavdragonenkov/podoms/internal/domain"
)

const defaultConnTimeout = 5 * time.Second

// Store - SQLite-хранилище для локального запуска и тестов.
type Store struct {
	db *bun.DB
}

// Open открывает SQLite по DSN. Используется одно соединение: транзакции
// сериализуются, а in-memory база живёт, пока открыт Store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)
	sqldb.SetConnMaxLifetime(0)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory создаёт изолированную in-memory базу со схемой.
func OpenInMemory(ctx context.Context) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	store, err := Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := store.CreateSchema(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// DB возвращает bun.DB для репозиториев.
func (s *Store) DB() *bun.DB { return s.db }

// Ping проверяет доступность базы.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlite store is not initialized")
	}
	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// Close закрывает базу.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var models = []any{
	(*domain.Product)(nil),
	(*domain.ProductVariant)(nil),
	(*domain.Artwork)(nil),
	(*domain.Order)(nil),
	(*domain.OrderItem)(nil),
	(*domain.SequenceCounter)(nil),
	(*domain.OutboxMessage)(nil),
}

type index struct {
	model   any
	name    string
	columns []string
}

var indexes = []index{
	{(*domain.ProductVariant)(nil), "product_variants_product_id_idx", []string{"product_id"}},
	{(*domain.Order)(nil), "orders_owner_created_idx", []string{"owner_id", "created_at"}},
	{(*domain.OrderItem)(nil), "order_items_order_id_idx", []string{"order_id"}},
	{(*domain.OutboxMessage)(nil), "outbox_messages_status_created_idx", []string{"status", "created_at"}},
}

// CreateSchema создаёт таблицы по моделям домена. Уникальные ограничения
// берутся из тегов bun; повторный вызов ничего не меняет.
func (s *Store) CreateSchema(ctx context.Context) error {
	for _, model := range models {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}
	for _, idx := range indexes {
		if _, err := s.db.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			Column(idx.columns...).
			IfNotExists().
			Exec(ctx); err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}
