package domain

import "testing"

func TestLineSubtotal(t *testing.T) {
	if got := LineSubtotal(3, 2500, 0); got != 7500 {
		t.Fatalf("expected 7500, got %d", got)
	}
	if got := LineSubtotal(2, 1000, 500); got != 1500 {
		t.Fatalf("expected 1500 with discount, got %d", got)
	}
}

func TestCalculateSalesTotalsRoundsTax(t *testing.T) {
	tx := SalesTransaction{
		TaxRatePercent: 11,
		Lines: []TransactionLine{
			{Quantity: 1, UnitPriceCents: 3500},
			{Quantity: 2, UnitPriceCents: 2600, DiscountCents: 200},
		},
	}
	CalculateSalesTotals(&tx)

	if tx.SubtotalCents != 8500 {
		t.Fatalf("expected subtotal 8500, got %d", tx.SubtotalCents)
	}
	// 8500 * 0.11 = 935 exactly.
	if tx.TaxCents != 935 {
		t.Fatalf("expected tax 935, got %d", tx.TaxCents)
	}
	if tx.TotalCents != 9435 {
		t.Fatalf("expected total 9435, got %d", tx.TotalCents)
	}
	if tx.Lines[1].SubtotalCents != 5000 {
		t.Fatalf("expected line subtotal refreshed to 5000, got %d", tx.Lines[1].SubtotalCents)
	}
}

func TestCalculateSalesTotalsHalfCentRoundsUp(t *testing.T) {
	tx := SalesTransaction{
		TaxRatePercent: 5,
		Lines:          []TransactionLine{{Quantity: 1, UnitPriceCents: 1010}},
	}
	CalculateSalesTotals(&tx)

	// 1010 * 0.05 = 50.5, rounded to 51.
	if tx.TaxCents != 51 {
		t.Fatalf("expected tax 51, got %d", tx.TaxCents)
	}
}

func TestCalculateSalesTotalsZeroRate(t *testing.T) {
	tx := SalesTransaction{
		Lines: []TransactionLine{{Quantity: 4, UnitPriceCents: 500}},
	}
	CalculateSalesTotals(&tx)

	if tx.TaxCents != 0 {
		t.Fatalf("expected no tax, got %d", tx.TaxCents)
	}
	if tx.TotalCents != 2000 {
		t.Fatalf("expected total 2000, got %d", tx.TotalCents)
	}
}

func TestCalculateOrderTotalsIncludesShipping(t *testing.T) {
	order := OrderTransaction{
		TaxRatePercent:    10,
		ShippingCostCents: 1500,
		Items: []OrderItem{
			{Quantity: 2, UnitPriceCents: 5000},
		},
	}
	CalculateOrderTotals(&order)

	if order.SubtotalCents != 10000 {
		t.Fatalf("expected subtotal 10000, got %d", order.SubtotalCents)
	}
	if order.TaxCents != 1000 {
		t.Fatalf("expected tax 1000, got %d", order.TaxCents)
	}
	if order.TotalCents != 12500 {
		t.Fatalf("expected total 12500, got %d", order.TotalCents)
	}
}

func TestSalesStatusGuards(t *testing.T) {
	for _, status := range []string{SalesStatusDraft, SalesStatusPending} {
		if !CanVoidSales(status) {
			t.Fatalf("expected %s to be voidable", status)
		}
		if !CanModifySalesLines(status) {
			t.Fatalf("expected %s lines to be mutable", status)
		}
	}
	for _, status := range []string{SalesStatusCompleted, SalesStatusCancelled, SalesStatusReturned} {
		if CanVoidSales(status) {
			t.Fatalf("expected %s not to be voidable", status)
		}
		if !IsTerminalSalesStatus(status) {
			t.Fatalf("expected %s to be terminal", status)
		}
	}
	if !CanReturnSales(SalesStatusCompleted) {
		t.Fatalf("expected completed to be returnable")
	}
	if CanReturnSales(SalesStatusPending) {
		t.Fatalf("expected pending not to be returnable")
	}
}

func TestOrderStatusGuards(t *testing.T) {
	if !CanCancelOrder(OrderStatusPending) || !CanCancelOrder(OrderStatusProcessing) {
		t.Fatalf("expected pending and processing orders to be cancellable")
	}
	if CanCancelOrder(OrderStatusShipped) {
		t.Fatalf("expected shipped order not to be cancellable")
	}
	if !CanRefundOrder(OrderStatusDelivered) || !CanRefundOrder(OrderStatusReturned) {
		t.Fatalf("expected delivered and returned orders to be refundable")
	}
	if CanRefundOrder(OrderStatusPending) {
		t.Fatalf("expected pending order not to be refundable")
	}
	if !CanShipOrder(OrderStatusShipped) {
		t.Fatalf("expected tracking to be re-settable on shipped order")
	}
	if CanShipOrder(OrderStatusDelivered) {
		t.Fatalf("expected delivered order not to accept tracking")
	}
}

func TestIsSupportedPaymentMethod(t *testing.T) {
	for _, method := range []string{"cash", "credit_card", "gift_card", "bank_transfer"} {
		if !IsSupportedPaymentMethod(method) {
			t.Fatalf("expected %s to be supported", method)
		}
	}
	if IsSupportedPaymentMethod("barter") {
		t.Fatalf("expected barter to be unsupported")
	}
}

func TestIsValidRole(t *testing.T) {
	for _, role := range []string{RoleAdmin, RoleManager, RoleEmployee, RoleCashier} {
		if !IsValidRole(role) {
			t.Fatalf("expected %s to be valid", role)
		}
	}
	if IsValidRole("superuser") {
		t.Fatalf("expected superuser to be invalid")
	}
}
