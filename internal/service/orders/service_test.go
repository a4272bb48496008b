package orders_test

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/podoms/internal/domain"
	"github.com/vladislavdragonenkov/podoms/internal/metrics"
	"github.com/vladislavdragonenkov/podoms/internal/service/orders"
	"github.com/vladislavdragonenkov/podoms/internal/storage"
	"github.com/vladislavdragonenkov/podoms/internal/storage/repository"
	"github.com/vladislavdragonenkov/podoms/internal/storage/sqlite"
)

type fixture struct {
	repos    *storage.Repositories
	svc      *orders.Service
	product  *domain.Product
	variants []*domain.ProductVariant
	registry *prometheus.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.OpenInMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	repos := storage.NewRepositories(store.DB())
	registry := prometheus.NewRegistry()
	svc := orders.NewService(repos, orders.DefaultConfig(),
		orders.WithMetrics(metrics.NewOrderMetricsWithRegisterer(registry)),
	)

	product, err := repos.Products.Create(ctx, &domain.Product{Title: "Classic Tee", Code: "TEE", StoreCode: "AB"})
	require.NoError(t, err)

	f := &fixture{repos: repos, svc: svc, product: product, registry: registry}
	for _, v := range []struct {
		code  string
		price int64
	}{{"TEE-S", 1000}, {"TEE-M", 1200}, {"TEE-L", 1500}} {
		variant, err := repos.Variants.Create(ctx, &domain.ProductVariant{
			ProductID: product.ID,
			Title:     v.code,
			Code:      v.code,
			Price:     v.price,
			Options:   map[string]string{"size": v.code[len(v.code)-1:]},
		})
		require.NoError(t, err)
		f.variants = append(f.variants, variant)
	}
	return f
}

func (f *fixture) input(items ...orders.ItemInput) orders.CreateOrderInput {
	return orders.CreateOrderInput{
		OwnerID:   "seller-1",
		StoreCode: "AB",
		ShippingAddress: domain.ShippingAddress{
			Name: "Jane Doe", Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US",
		},
		Items: items,
		Actor: "seller-1",
	}
}

// softDeleteCount возвращает значение pod_order_soft_delete_total для op.
func (f *fixture) softDeleteCount(t *testing.T, op string) float64 {
	t.Helper()
	families, err := f.registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "pod_order_soft_delete_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "op" && label.GetValue() == op {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func (f *fixture) item(variant int, front string) orders.ItemInput {
	return orders.ItemInput{
		ProductID:      f.product.ID,
		VariantID:      f.variants[variant].ID,
		Quantity:       1,
		FrontArtworkID: front,
	}
}

func TestCreateOrderMintsNameAndBarcodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for range 6 {
		_, err := f.repos.Sequences.ReserveNext(ctx, "BOAB", nil)
		require.NoError(t, err)
	}

	order, err := f.svc.CreateOrder(ctx, f.input(
		f.item(0, "art-1"),
		f.item(1, "art-2"),
		f.item(2, "art-3"),
	))
	require.NoError(t, err)
	require.Equal(t, "AB-7", order.Name)
	require.Equal(t, domain.OrderStatusPending, order.Status)
	require.Equal(t, "USD", order.Currency)
	require.Len(t, order.LineItemIDs, 3)
	require.Len(t, order.Logs, 1)
	require.Equal(t, domain.OrderStatusPending, order.Logs[0].To)

	got, err := f.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, got.LineItems, 3)
	for i, want := range []string{"BOAB-7-1", "BOAB-7-2", "BOAB-7-3"} {
		require.Equal(t, want, got.LineItems[i].Barcode)
		require.Equal(t, order.ID, got.LineItems[i].OrderID)
		require.NotNil(t, got.LineItems[i].Variant)
	}
}

func TestCreateOrderWithoutFrontArtworkGatesOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, f.input(f.item(0, "art-1"), f.item(1, "")))
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusNoArtwork, order.Status)

	got, err := f.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPending, got.LineItems[0].Status)
	require.Equal(t, domain.OrderStatusNoArtwork, got.LineItems[1].Status)
}

func TestCreateOrderTotalsIgnoreQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.item(0, "art-1")
	first.Quantity = 3
	second := f.item(2, "art-2")
	second.Quantity = 2

	order, err := f.svc.CreateOrder(ctx, f.input(first, second))
	require.NoError(t, err)
	require.EqualValues(t, 2500, order.SubTotal)
	require.EqualValues(t, 2500, order.Total)

	got, err := f.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.EqualValues(t, 3, got.LineItems[0].Quantity)
	require.EqualValues(t, 1000, got.LineItems[0].Total)
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(in *orders.CreateOrderInput)
		want   error
	}{
		{"no store", func(in *orders.CreateOrderInput) { in.StoreCode = "" }, domain.ErrStoreCodeRequired},
		{"no owner", func(in *orders.CreateOrderInput) { in.OwnerID = " " }, domain.ErrOwnerRequired},
		{"no items", func(in *orders.CreateOrderInput) { in.Items = nil }, domain.ErrItemsRequired},
		{"zero quantity", func(in *orders.CreateOrderInput) { in.Items[0].Quantity = 0 }, domain.ErrItemQtyInvalid},
		{"missing variant", func(in *orders.CreateOrderInput) { in.Items[0].VariantID = "" }, domain.ErrItemReferenceRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := f.input(f.item(0, "art"))
			tt.mutate(&in)
			_, err := f.svc.CreateOrder(ctx, in)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if !orders.IsValidationError(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	seq, err := f.repos.Sequences.Current(ctx, "BOAB")
	require.NoError(t, err)
	require.Zero(t, seq)
}

func TestCreateOrderRejectsUnknownReferences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other, err := f.repos.Products.Create(ctx, &domain.Product{Title: "Mug", Code: "MUG"})
	require.NoError(t, err)

	unknown := f.item(0, "art")
	unknown.VariantID = "missing"
	_, err = f.svc.CreateOrder(ctx, f.input(unknown))
	require.ErrorIs(t, err, domain.ErrInvalidReference)
	require.ErrorIs(t, err, domain.ErrTransactionAborted)

	foreign := f.item(0, "art")
	foreign.ProductID = other.ID
	_, err = f.svc.CreateOrder(ctx, f.input(foreign))
	require.ErrorIs(t, err, domain.ErrInvalidReference)

	_, err = f.repos.Variants.SoftDeleteByID(ctx, f.variants[1].ID)
	require.NoError(t, err)
	_, err = f.svc.CreateOrder(ctx, f.input(f.item(1, "art")))
	require.ErrorIs(t, err, domain.ErrInvalidReference)

	count, err := f.repos.Orders.Count(ctx, repository.All())
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestCreateOrderIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := f.input(f.item(0, "art-1"), f.item(1, "art-2"))
	in.ExternalID = "shop-order-1"
	first, err := f.svc.CreateOrder(ctx, in)
	require.NoError(t, err)
	require.Equal(t, "AB-1", first.Name)

	_, err = f.svc.CreateOrder(ctx, in)
	require.Error(t, err)
	require.True(t, domain.IsDuplicateKey(err), "expected duplicate key, got %v", err)
	require.ErrorIs(t, err, domain.ErrTransactionAborted)

	items, err := f.repos.Items.Count(ctx, repository.All(), repository.WithIncludeDeleted())
	require.NoError(t, err)
	require.Equal(t, 2, items)

	outbox, err := f.repos.Outbox.Count(ctx, repository.All())
	require.NoError(t, err)
	require.Equal(t, 1, outbox)

	// Номер второй попытки откатился вместе с транзакцией.
	seq, err := f.repos.Sequences.Current(ctx, "BOAB")
	require.NoError(t, err)
	require.EqualValues(t, 1, seq)

	next, err := f.svc.CreateOrder(ctx, f.input(f.item(0, "art-3")))
	require.NoError(t, err)
	require.Equal(t, "AB-2", next.Name)
}

func TestCreateOrderSnapshotsCatalog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, f.input(f.item(1, "art")))
	require.NoError(t, err)

	_, err = f.repos.Variants.FindOneByIDAndUpdate(ctx, f.variants[1].ID, repository.Patch{"price": 9999, "title": "Medium"})
	require.NoError(t, err)

	got, err := f.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	item := got.LineItems[0]
	require.EqualValues(t, 1200, item.Price)
	require.Equal(t, "TEE-M", item.VariantTitle)
	require.Equal(t, "Classic Tee", item.ProductTitle)
	require.Equal(t, map[string]string{"size": "M"}, item.Options)
	require.EqualValues(t, 9999, item.Variant.Price)
}

func TestCreateOrderEnqueuesEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, f.input(f.item(0, "art")))
	require.NoError(t, err)

	msgs, err := storage.NewOutboxStore(f.repos.Outbox).PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, domain.EventOrderCreated, msgs[0].EventType)
	require.Equal(t, order.ID, msgs[0].AggregateID)

	var event domain.OrderEvent
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &event))
	require.Equal(t, "AB-1", event.Name)
	require.Equal(t, 1, event.ItemCount)
	require.Equal(t, "seller-1", event.Actor)
}

func TestConcurrentCreatesGetDistinctNames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const writers = 10
	names := make(chan string, writers)
	var wg sync.WaitGroup
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			order, err := f.svc.CreateOrder(ctx, f.input(f.item(0, "art")))
			if err != nil {
				t.Errorf("create order: %v", err)
				return
			}
			names <- order.Name
		}()
	}
	wg.Wait()
	close(names)

	var got []string
	for name := range names {
		got = append(got, name)
	}
	sort.Strings(got)
	require.Len(t, got, writers)
	for i := 1; i < len(got); i++ {
		require.NotEqual(t, got[i-1], got[i])
	}

	seq, err := f.repos.Sequences.Current(ctx, "BOAB")
	require.NoError(t, err)
	require.EqualValues(t, writers, seq)
}

func TestChangeStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, f.input(f.item(0, "art")))
	require.NoError(t, err)

	updated, err := f.svc.ChangeStatus(ctx, order.ID, domain.OrderStatusProcessing, "ops", "picked up")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusProcessing, updated.Status)
	require.Len(t, updated.Logs, 2)
	require.Equal(t, domain.OrderLog{
		From:  domain.OrderStatusPending,
		To:    domain.OrderStatusProcessing,
		Actor: "ops",
		Note:  "picked up",
		At:    updated.Logs[1].At,
	}, updated.Logs[1])

	_, err = f.svc.ChangeStatus(ctx, order.ID, domain.OrderStatusDelivered, "ops", "")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.svc.ChangeStatus(ctx, order.ID, domain.OrderStatus("bogus"), "ops", "")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.svc.ChangeStatus(ctx, "missing", domain.OrderStatusProcessing, "ops", "")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	msgs, err := storage.NewOutboxStore(f.repos.Outbox).PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, domain.EventOrderStatusChanged, msgs[1].EventType)

	var event domain.OrderEvent
	require.NoError(t, json.Unmarshal(msgs[1].Payload, &event))
	require.Equal(t, domain.OrderStatusPending, event.PreviousStatus)
	require.Equal(t, domain.OrderStatusProcessing, event.Status)
}

func TestMarkPaidIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, f.input(f.item(0, "art")))
	require.NoError(t, err)
	require.False(t, order.IsPaid)

	paid, err := f.svc.MarkPaid(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, paid.IsPaid)

	again, err := f.svc.MarkPaid(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, again.IsPaid)
	require.True(t, paid.UpdatedAt.Equal(again.UpdatedAt))

	paidEvents, err := f.repos.Outbox.Count(ctx, repository.Eq("event_type", domain.EventOrderPaid))
	require.NoError(t, err)
	require.Equal(t, 1, paidEvents)
}

func TestDeleteAndRestoreOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, f.input(f.item(0, "art"), f.item(1, "art")))
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteOrder(ctx, order.ID))
	require.NoError(t, f.svc.DeleteOrder(ctx, order.ID))

	_, err = f.svc.GetOrder(ctx, order.ID)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	liveItems, err := f.repos.Items.Count(ctx, repository.Eq("order_id", order.ID))
	require.NoError(t, err)
	require.Zero(t, liveItems)

	list, err := f.svc.ListOrders(ctx, orders.ListOrdersQuery{StoreCode: "AB"})
	require.NoError(t, err)
	require.Zero(t, list.Total)

	restored, err := f.svc.RestoreOrder(ctx, order.ID)
	require.NoError(t, err)
	require.False(t, restored.IsDeleted())
	require.Len(t, restored.LineItems, 2)

	_, err = f.svc.RestoreOrder(ctx, order.ID)
	require.NoError(t, err)

	require.ErrorIs(t, f.svc.DeleteOrder(ctx, "missing"), domain.ErrOrderNotFound)
	_, err = f.svc.RestoreOrder(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	deletedEvents, err := f.repos.Outbox.Count(ctx, repository.Eq("event_type", domain.EventOrderDeleted))
	require.NoError(t, err)
	require.Equal(t, 1, deletedEvents)
}

func TestRestoreOrderKeepsItemsDeletedBeforeOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, f.input(f.item(0, "art"), f.item(1, "art"), f.item(2, "art")))
	require.NoError(t, err)

	ok, err := f.repos.Items.SoftDeleteByID(ctx, order.LineItemIDs[0])
	require.NoError(t, err)
	require.True(t, ok)
	time.Sleep(2 * time.Millisecond)

	require.NoError(t, f.svc.DeleteOrder(ctx, order.ID))
	require.Equal(t, float64(1), f.softDeleteCount(t, "delete"))

	restored, err := f.svc.RestoreOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, restored.LineItems, 2)
	for _, item := range restored.LineItems {
		require.NotEqual(t, order.LineItemIDs[0], item.ID)
	}

	liveItems, err := f.repos.Items.Count(ctx, repository.Eq("order_id", order.ID))
	require.NoError(t, err)
	require.Equal(t, 2, liveItems)

	dropped, err := f.repos.Items.FindOneByID(ctx, order.LineItemIDs[0], repository.WithIncludeDeleted())
	require.NoError(t, err)
	require.True(t, dropped.IsDeleted())
}

func TestRestoreLiveOrderIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, f.input(f.item(0, "art")))
	require.NoError(t, err)

	live, err := f.svc.RestoreOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, order.ID, live.ID)
	require.Len(t, live.LineItems, 1)
	require.Zero(t, f.softDeleteCount(t, "restore"))

	require.NoError(t, f.svc.DeleteOrder(ctx, order.ID))
	_, err = f.svc.RestoreOrder(ctx, order.ID)
	require.NoError(t, err)
	_, err = f.svc.RestoreOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, float64(1), f.softDeleteCount(t, "restore"))

	restoredEvents, err := f.repos.Outbox.Count(ctx, repository.Eq("event_type", domain.EventOrderRestored))
	require.NoError(t, err)
	require.Equal(t, 1, restoredEvents)
}

func TestListOrdersPaginates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var created []*domain.Order
	for range 5 {
		order, err := f.svc.CreateOrder(ctx, f.input(f.item(0, "art")))
		require.NoError(t, err)
		created = append(created, order)
		time.Sleep(2 * time.Millisecond)
	}
	other := f.input(f.item(0, "art"))
	other.OwnerID = "seller-2"
	_, err := f.svc.CreateOrder(ctx, other)
	require.NoError(t, err)

	page, err := f.svc.ListOrders(ctx, orders.ListOrdersQuery{OwnerID: "seller-1", Page: 2, Limit: 2, IncludeItems: true})
	require.NoError(t, err)
	require.Equal(t, 5, page.Total)
	require.Len(t, page.Orders, 2)
	require.Equal(t, created[2].Name, page.Orders[0].Name)
	require.Equal(t, created[1].Name, page.Orders[1].Name)
	require.Len(t, page.Orders[0].LineItems, 1)

	_, err = f.svc.ChangeStatus(ctx, created[0].ID, domain.OrderStatusCancelled, "ops", "")
	require.NoError(t, err)
	cancelled, err := f.svc.ListOrders(ctx, orders.ListOrdersQuery{Statuses: []domain.OrderStatus{domain.OrderStatusCancelled}})
	require.NoError(t, err)
	require.Equal(t, 1, cancelled.Total)
	require.Equal(t, 20, cancelled.Limit)
	require.Empty(t, cancelled.Orders[0].LineItems)
}

func TestListItemPreviews(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	front, err := f.repos.Artworks.Create(ctx, &domain.Artwork{Kind: domain.ArtworkKindFront, URL: "https://cdn/front.png", PreviewURL: "https://cdn/front-sm.png"})
	require.NoError(t, err)
	back, err := f.repos.Artworks.Create(ctx, &domain.Artwork{Kind: domain.ArtworkKindBack, URL: "https://cdn/back.png"})
	require.NoError(t, err)
	mockup, err := f.repos.Artworks.Create(ctx, &domain.Artwork{Kind: domain.ArtworkKindMockup, URL: "https://cdn/mockup.png"})
	require.NoError(t, err)

	withArt := f.item(0, front.ID)
	withArt.BackArtworkID = back.ID
	withArt.MockupIDs = []string{mockup.ID, "missing-mockup"}
	bare := f.item(1, "")

	order, err := f.svc.CreateOrder(ctx, f.input(bare, withArt))
	require.NoError(t, err)

	_, err = f.repos.Artworks.SoftDeleteByID(ctx, back.ID)
	require.NoError(t, err)

	previews, err := f.svc.ListItemPreviews(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, previews, 2)

	require.Equal(t, "BOAB-1-1", previews[0].Barcode)
	require.Empty(t, previews[0].FrontURL)
	require.Empty(t, previews[0].Mockups)

	require.Equal(t, "BOAB-1-2", previews[1].Barcode)
	require.Equal(t, "https://cdn/front.png", previews[1].FrontURL)
	require.Equal(t, "https://cdn/front-sm.png", previews[1].FrontPreview)
	require.Equal(t, back.ID, previews[1].BackArtworkID)
	require.Empty(t, previews[1].BackURL)
	require.Equal(t, []orders.ArtworkPreview{{ID: mockup.ID, URL: "https://cdn/mockup.png"}}, previews[1].Mockups)

	_, err = f.svc.ListItemPreviews(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}
