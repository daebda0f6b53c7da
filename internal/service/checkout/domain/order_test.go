// internal/service/checkout/domain/order_test.go
package domain

import (
	"regexp"
	"testing"
	"time"
)

func TestNewOrderFromCart(t *testing.T) {
	cart := &Cart{
		ID:       "cart_1",
		ClientID: "c1",
		Status:   CartStatusActive,
		Items: []CartItem{
			{ProductID: "p1", Quantity: 2, UnitPriceSnapshot: 10},
			{ProductID: "p2", Quantity: 1, UnitPriceSnapshot: 5.50},
		},
	}

	order, err := NewOrderFromCart(cart, 25.50, "1 Main St", "1 Main St")
	if err != nil {
		t.Fatalf("NewOrderFromCart: %v", err)
	}
	if order.Status != OrderStatusPending {
		t.Errorf("status = %s, want PENDING", order.Status)
	}
	if order.ClientID != "c1" {
		t.Errorf("client id = %q, want c1", order.ClientID)
	}
	if len(order.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(order.Items))
	}
	if order.Items[0].Subtotal != 20 || order.Items[1].Subtotal != 5.50 {
		t.Errorf("subtotals = %v / %v, want 20 / 5.50", order.Items[0].Subtotal, order.Items[1].Subtotal)
	}

	if _, err := NewOrderFromCart(&Cart{ClientID: "c1"}, 0, "", ""); KindOf(err) != KindBadRequest {
		t.Errorf("empty cart: err = %v, want BadRequest", err)
	}
}

func TestNewOrderNumber(t *testing.T) {
	ts := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	pattern := regexp.MustCompile(`^ORD-20260830-[0-9A-F]{12}$`)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		num := NewOrderNumber(ts)
		if !pattern.MatchString(num) {
			t.Fatalf("order number %q does not match %s", num, pattern)
		}
		if seen[num] {
			t.Fatalf("duplicate order number %q", num)
		}
		seen[num] = true
	}
}

func TestOrderTransitions(t *testing.T) {
	order := &Order{OrderNumber: "ORD-X", Status: OrderStatusPending}
	if err := order.MarkProcessing(); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if err := order.MarkProcessing(); KindOf(err) != KindConflict {
		t.Errorf("double processing: err = %v, want Conflict", err)
	}
	if err := order.Cancel(); KindOf(err) != KindConflict {
		t.Errorf("cancel after processing: err = %v, want Conflict", err)
	}

	fresh := &Order{OrderNumber: "ORD-Y", Status: OrderStatusPending}
	if err := fresh.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if fresh.Status != OrderStatusCancelled {
		t.Errorf("status = %s, want CANCELLED", fresh.Status)
	}
}
