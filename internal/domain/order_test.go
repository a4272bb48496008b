package domain_test

import (
	"testing"

	"github.com/vladislavdragonenkov/podoms/internal/domain"
)

func TestOrderStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to domain.OrderStatus
		want     bool
	}{
		{domain.OrderStatusPending, domain.OrderStatusProcessing, true},
		{domain.OrderStatusNoArtwork, domain.OrderStatusPending, true},
		{domain.OrderStatusProcessing, domain.OrderStatusInProduction, true},
		{domain.OrderStatusInProduction, domain.OrderStatusProduced, true},
		{domain.OrderStatusProduced, domain.OrderStatusShipped, true},
		{domain.OrderStatusShipped, domain.OrderStatusDelivered, true},
		{domain.OrderStatusDelivered, domain.OrderStatusCompleted, true},
		{domain.OrderStatusCancelled, domain.OrderStatusRefunded, true},
		{domain.OrderStatusPending, domain.OrderStatusShipped, false},
		{domain.OrderStatusShipped, domain.OrderStatusCancelled, false},
		{domain.OrderStatusRefunded, domain.OrderStatusPending, false},
		{domain.OrderStatusCompleted, domain.OrderStatusCompleted, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestOrderStatusValid(t *testing.T) {
	for _, s := range []domain.OrderStatus{
		domain.OrderStatusPending, domain.OrderStatusNoArtwork, domain.OrderStatusRefunded, domain.OrderStatusCompleted,
	} {
		if !s.Valid() {
			t.Fatalf("expected %q to be valid", s)
		}
	}
	if domain.OrderStatus("paid").Valid() {
		t.Fatal("expected unknown status to be invalid")
	}
}

func TestOrderAppendLogKeepsHistory(t *testing.T) {
	var order domain.Order
	order.AppendLog(domain.OrderLog{To: domain.OrderStatusPending})
	order.AppendLog(domain.OrderLog{From: domain.OrderStatusPending, To: domain.OrderStatusProcessing})

	if len(order.Logs) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(order.Logs))
	}
	if order.Logs[0].To != domain.OrderStatusPending || order.Logs[1].From != domain.OrderStatusPending {
		t.Fatalf("unexpected log order: %+v", order.Logs)
	}
}

func TestBaseSoftDeleteMarker(t *testing.T) {
	var item domain.OrderItem
	if item.IsDeleted() {
		t.Fatal("fresh entity must not be deleted")
	}
	var e domain.Entity = &item
	if e.EntityBase() != &item.Base {
		t.Fatal("EntityBase must point at the embedded base")
	}
	if item.HasFrontArtwork() {
		t.Fatal("item without artwork reported front artwork")
	}
}
