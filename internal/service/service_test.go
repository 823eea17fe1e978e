package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"warungpos/backend/internal/cache"
	"warungpos/backend/internal/domain"
	"warungpos/backend/internal/store"
	"warungpos/backend/internal/store/memory"
)

func newTestService() *Service {
	repo := memory.NewSeeded()
	return New(repo, cache.NoopCatalogCache{}, 5*time.Second, 0, 10)
}

func adminContext() context.Context {
	return WithActor(context.Background(), domain.Actor{
		Username: "admin",
		Role:     "admin",
	})
}

func TestSalesLifecycleCompletesAndRestocksOnReturn(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	tx, err := svc.CreateSalesTransaction(ctx, domain.SalesCreateRequest{TaxRatePercent: 10})
	if err != nil {
		t.Fatalf("create sales transaction failed: %v", err)
	}
	if tx.Status != domain.SalesStatusDraft {
		t.Fatalf("expected draft status, got %s", tx.Status)
	}

	tx, err = svc.AddSalesItem(ctx, tx.ID, domain.SalesLineRequest{
		RefID:          "ITEM-A1B2C3D4",
		Quantity:       2,
		UnitPriceCents: 1000,
	})
	if err != nil {
		t.Fatalf("add sales item failed: %v", err)
	}
	if tx.Status != domain.SalesStatusPending {
		t.Fatalf("expected pending after first line, got %s", tx.Status)
	}
	if tx.SubtotalCents != 2000 || tx.TaxCents != 200 || tx.TotalCents != 2200 {
		t.Fatalf("unexpected totals: subtotal=%d tax=%d total=%d", tx.SubtotalCents, tx.TaxCents, tx.TotalCents)
	}

	tx, err = svc.ProcessSalesPayment(ctx, tx.ID, domain.SalesPaymentRequest{
		Method:      "cash",
		AmountCents: 2200,
	})
	if err != nil {
		t.Fatalf("payment failed: %v", err)
	}
	if tx.Status != domain.SalesStatusCompleted {
		t.Fatalf("expected completed, got %s", tx.Status)
	}
	if tx.CompletedAt == nil {
		t.Fatalf("expected completed_at to be set")
	}

	item, err := svc.GetInventoryItem(ctx, "ITEM-A1B2C3D4")
	if err != nil {
		t.Fatalf("get item failed: %v", err)
	}
	if item.Quantity != 118 {
		t.Fatalf("expected stock 118 after payment, got %d", item.Quantity)
	}

	returned, refund, err := svc.ProcessSalesReturn(ctx, tx.ID)
	if err != nil {
		t.Fatalf("return failed: %v", err)
	}
	if returned.Status != domain.SalesStatusReturned {
		t.Fatalf("expected returned status, got %s", returned.Status)
	}
	if refund.AmountCents != -2200 {
		t.Fatalf("expected refund -2200, got %d", refund.AmountCents)
	}

	item, err = svc.GetInventoryItem(ctx, "ITEM-A1B2C3D4")
	if err != nil {
		t.Fatalf("get item after return failed: %v", err)
	}
	if item.Quantity != 120 {
		t.Fatalf("expected stock restored to 120, got %d", item.Quantity)
	}
}

func TestVoidRejectedAfterCompletion(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	tx, err := svc.CreateSalesTransaction(ctx, domain.SalesCreateRequest{})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := svc.AddSalesItem(ctx, tx.ID, domain.SalesLineRequest{RefID: "ITEM-A1B2C3D4", Quantity: 1}); err != nil {
		t.Fatalf("add item failed: %v", err)
	}
	if _, err := svc.ProcessSalesPayment(ctx, tx.ID, domain.SalesPaymentRequest{Method: "cash", AmountCents: 3500}); err != nil {
		t.Fatalf("payment failed: %v", err)
	}

	if _, err := svc.VoidSalesTransaction(ctx, tx.ID); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for void after completion, got %v", err)
	}
}

func TestPaymentRejectedWhenUnderpaying(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	tx, err := svc.CreateSalesTransaction(ctx, domain.SalesCreateRequest{})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := svc.AddSalesItem(ctx, tx.ID, domain.SalesLineRequest{RefID: "ITEM-A1B2C3D4", Quantity: 2}); err != nil {
		t.Fatalf("add item failed: %v", err)
	}

	_, err = svc.ProcessSalesPayment(ctx, tx.ID, domain.SalesPaymentRequest{Method: "cash", AmountCents: 1000})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for underpayment, got %v", err)
	}
}

func TestPaymentRejectedWithoutSufficientStock(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	tx, err := svc.CreateSalesTransaction(ctx, domain.SalesCreateRequest{})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	// ITEM-F6A7B8C9 is seeded with 12 units.
	if _, err := svc.AddSalesItem(ctx, tx.ID, domain.SalesLineRequest{RefID: "ITEM-F6A7B8C9", Quantity: 13}); err != nil {
		t.Fatalf("add item failed: %v", err)
	}

	_, err = svc.ProcessSalesPayment(ctx, tx.ID, domain.SalesPaymentRequest{Method: "cash", AmountCents: 600000})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	item, err := svc.GetInventoryItem(ctx, "ITEM-F6A7B8C9")
	if err != nil {
		t.Fatalf("get item failed: %v", err)
	}
	if item.Quantity != 12 {
		t.Fatalf("expected ledger untouched at 12, got %d", item.Quantity)
	}
}

func TestDiscountBoundedByLineValue(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	tx, err := svc.CreateSalesTransaction(ctx, domain.SalesCreateRequest{})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	tx, err = svc.AddSalesItem(ctx, tx.ID, domain.SalesLineRequest{RefID: "ITEM-A1B2C3D4", Quantity: 2, UnitPriceCents: 1000})
	if err != nil {
		t.Fatalf("add item failed: %v", err)
	}

	tx, err = svc.ApplySalesItemDiscount(ctx, tx.ID, "ITEM-A1B2C3D4", 500)
	if err != nil {
		t.Fatalf("apply discount failed: %v", err)
	}
	if tx.SubtotalCents != 1500 {
		t.Fatalf("expected subtotal 1500 after discount, got %d", tx.SubtotalCents)
	}

	_, err = svc.ApplySalesItemDiscount(ctx, tx.ID, "ITEM-A1B2C3D4", 2001)
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for discount above line value, got %v", err)
	}
}

func TestAddSalesServiceRejectsInactiveOffering(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	if _, err := svc.SetServiceOfferingActive(ctx, "SRV-30D3C4B5", false); err != nil {
		t.Fatalf("deactivate offering failed: %v", err)
	}

	tx, err := svc.CreateSalesTransaction(ctx, domain.SalesCreateRequest{})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	_, err = svc.AddSalesService(ctx, tx.ID, domain.SalesLineRequest{RefID: "SRV-30D3C4B5", Quantity: 1})
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for inactive offering, got %v", err)
	}
}

func TestMixedLinesUseCatalogPrices(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	tx, err := svc.CreateSalesTransaction(ctx, domain.SalesCreateRequest{})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := svc.AddSalesItem(ctx, tx.ID, domain.SalesLineRequest{RefID: "ITEM-A1B2C3D4", Quantity: 1}); err != nil {
		t.Fatalf("add item failed: %v", err)
	}
	tx, err = svc.AddSalesService(ctx, tx.ID, domain.SalesLineRequest{RefID: "SRV-10F1E2D3", Quantity: 4})
	if err != nil {
		t.Fatalf("add service failed: %v", err)
	}

	// 3500 for the item plus 4 x 500 for the copies.
	if tx.SubtotalCents != 5500 {
		t.Fatalf("expected subtotal 5500, got %d", tx.SubtotalCents)
	}
	if len(tx.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(tx.Lines))
	}
}

func TestCreateProductRequiresManagerRole(t *testing.T) {
	svc := newTestService()
	cashierCtx := WithActor(context.Background(), domain.Actor{
		Username: "cashier",
		Role:     "cashier",
	})

	_, err := svc.CreateProduct(cashierCtx, domain.ProductCreateRequest{
		Name:           "Biskuit Coklat",
		Category:       "snack",
		UnitPriceCents: 8500,
	})
	if err == nil {
		t.Fatalf("expected cashier create product to fail")
	}

	product, err := svc.CreateProduct(adminContext(), domain.ProductCreateRequest{
		Name:           "Biskuit Coklat",
		Category:       "snack",
		Barcode:        "8991002199999",
		UnitPriceCents: 8500,
	})
	if err != nil {
		t.Fatalf("admin create product failed: %v", err)
	}

	byBarcode, err := svc.GetProductByBarcode(adminContext(), "8991002199999")
	if err != nil {
		t.Fatalf("get by barcode failed: %v", err)
	}
	if byBarcode.ID != product.ID {
		t.Fatalf("expected product %s, got %s", product.ID, byBarcode.ID)
	}
}

func TestDuplicateBarcodeRejected(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	_, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{
		Name:           "Mie Goreng Tiruan",
		Category:       "grocery",
		Barcode:        "8991002101234",
		UnitPriceCents: 3000,
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate barcode, got %v", err)
	}
}

func TestOrderLifecycle(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	order, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		CustomerID:        "CUS-0A1B2C3D",
		ShippingAddress:   "Jl. Merdeka 17",
		ShippingCostCents: 1500,
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending order, got %s", order.Status)
	}

	order, err = svc.AddOrderItem(ctx, order.ID, domain.OrderItemRequest{
		ItemID:         "ITEM-B2C3D4E5",
		Quantity:       2,
		UnitPriceCents: 26500,
	})
	if err != nil {
		t.Fatalf("add order item failed: %v", err)
	}
	if order.SubtotalCents != 53000 {
		t.Fatalf("expected subtotal 53000, got %d", order.SubtotalCents)
	}
	if order.TotalCents != 54500 {
		t.Fatalf("expected total with shipping 54500, got %d", order.TotalCents)
	}

	// Adding an order item never moves the ledger.
	item, err := svc.GetInventoryItem(ctx, "ITEM-B2C3D4E5")
	if err != nil {
		t.Fatalf("get item failed: %v", err)
	}
	if item.Quantity != 80 {
		t.Fatalf("expected stock 80, got %d", item.Quantity)
	}

	order, err = svc.UpdateOrderTracking(ctx, order.ID, "JNE-123456")
	if err != nil {
		t.Fatalf("tracking update failed: %v", err)
	}
	if order.Status != domain.OrderStatusShipped {
		t.Fatalf("expected shipped after tracking, got %s", order.Status)
	}

	order, err = svc.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusDelivered)
	if err != nil {
		t.Fatalf("delivered update failed: %v", err)
	}
	if order.ActualDeliveryDate == nil {
		t.Fatalf("expected actual delivery date stamped")
	}

	if _, err := svc.CancelOrder(ctx, order.ID); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState cancelling delivered order, got %v", err)
	}

	order, err = svc.RefundOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("refund order failed: %v", err)
	}
	if order.Status != domain.OrderStatusRefunded {
		t.Fatalf("expected refunded, got %s", order.Status)
	}
}

func TestAddOrderItemRejectsExcessiveQuantity(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	order, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	if _, err := svc.AddOrderItem(ctx, order.ID, domain.OrderItemRequest{ItemID: "ITEM-F6A7B8C9", Quantity: 10, UnitPriceCents: 42500}); err != nil {
		t.Fatalf("first add failed: %v", err)
	}

	// 10 already reserved against the 12 in stock.
	_, err = svc.AddOrderItem(ctx, order.ID, domain.OrderItemRequest{ItemID: "ITEM-F6A7B8C9", Quantity: 3, UnitPriceCents: 42500})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
}

func TestAdjustInventoryRejectsNegativeResult(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	_, err := svc.AdjustInventoryQuantity(ctx, "ITEM-F6A7B8C9", -13)
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	item, err := svc.GetInventoryItem(ctx, "ITEM-F6A7B8C9")
	if err != nil {
		t.Fatalf("get item failed: %v", err)
	}
	if item.Quantity != 12 {
		t.Fatalf("expected quantity unchanged at 12, got %d", item.Quantity)
	}

	item, err = svc.AdjustInventoryQuantity(ctx, "ITEM-F6A7B8C9", 8)
	if err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	if item.Quantity != 20 {
		t.Fatalf("expected quantity 20, got %d", item.Quantity)
	}
}

func TestDeleteInventoryItemBlockedWhileReferenced(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	tx, err := svc.CreateSalesTransaction(ctx, domain.SalesCreateRequest{})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := svc.AddSalesItem(ctx, tx.ID, domain.SalesLineRequest{RefID: "ITEM-C3D4E5F6", Quantity: 1}); err != nil {
		t.Fatalf("add item failed: %v", err)
	}

	if err := svc.DeleteInventoryItem(ctx, "ITEM-C3D4E5F6"); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for referenced item, got %v", err)
	}

	if _, err := svc.VoidSalesTransaction(ctx, tx.ID); err != nil {
		t.Fatalf("void failed: %v", err)
	}
	if err := svc.DeleteInventoryItem(ctx, "ITEM-C3D4E5F6"); err != nil {
		t.Fatalf("delete after void failed: %v", err)
	}
}

func TestSalesReportAggregates(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	first, err := svc.CreateSalesTransaction(ctx, domain.SalesCreateRequest{})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := svc.AddSalesItem(ctx, first.ID, domain.SalesLineRequest{RefID: "ITEM-A1B2C3D4", Quantity: 2, UnitPriceCents: 1000}); err != nil {
		t.Fatalf("add item failed: %v", err)
	}
	if _, err := svc.ProcessSalesPayment(ctx, first.ID, domain.SalesPaymentRequest{Method: "cash", AmountCents: 2000}); err != nil {
		t.Fatalf("payment failed: %v", err)
	}

	second, err := svc.CreateSalesTransaction(ctx, domain.SalesCreateRequest{})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := svc.AddSalesItem(ctx, second.ID, domain.SalesLineRequest{RefID: "ITEM-D4E5F6A7", Quantity: 1, UnitPriceCents: 3000}); err != nil {
		t.Fatalf("add item failed: %v", err)
	}
	if _, err := svc.ProcessSalesPayment(ctx, second.ID, domain.SalesPaymentRequest{Method: "credit_card", AmountCents: 3000}); err != nil {
		t.Fatalf("payment failed: %v", err)
	}
	if _, _, err := svc.ProcessSalesReturn(ctx, second.ID); err != nil {
		t.Fatalf("return failed: %v", err)
	}

	now := time.Now().UTC()
	report, err := svc.GetSalesReport(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if report.Transactions != 2 {
		t.Fatalf("expected 2 transactions, got %d", report.Transactions)
	}
	if report.GrossSalesCents != 5000 {
		t.Fatalf("expected gross 5000, got %d", report.GrossSalesCents)
	}
	if report.RefundedCents != 3000 {
		t.Fatalf("expected refunded 3000, got %d", report.RefundedCents)
	}
	if report.NetSalesCents != 2000 {
		t.Fatalf("expected net 2000, got %d", report.NetSalesCents)
	}
	if len(report.ByPayment) != 2 {
		t.Fatalf("expected 2 payment buckets, got %d", len(report.ByPayment))
	}
}

func TestRestockSuggestionsFlagLowStock(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	if _, err := svc.AdjustInventoryQuantity(ctx, "ITEM-F6A7B8C9", -10); err != nil {
		t.Fatalf("adjust failed: %v", err)
	}

	suggestions, err := svc.GetRestockSuggestions(ctx)
	if err != nil {
		t.Fatalf("restock suggestions failed: %v", err)
	}

	// Down to 2 units against a threshold of 10.
	found := false
	for _, suggestion := range suggestions {
		if suggestion.ItemID == "ITEM-F6A7B8C9" {
			found = true
			if suggestion.SuggestedOrderQty < 1 {
				t.Fatalf("expected positive order quantity, got %d", suggestion.SuggestedOrderQty)
			}
		}
	}
	if !found {
		t.Fatalf("expected restock suggestion for ITEM-F6A7B8C9")
	}
}

func TestAuditLogRecordsActor(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	if _, err := svc.CreateCustomer(ctx, domain.CustomerCreateRequest{Name: "Dewi Lestari"}); err != nil {
		t.Fatalf("create customer failed: %v", err)
	}

	now := time.Now().UTC()
	logs, err := svc.ListAuditLogs(ctx, now.Add(-time.Minute), now.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	if len(logs) == 0 {
		t.Fatalf("expected at least one audit entry")
	}
	if logs[0].ActorUsername != "admin" {
		t.Fatalf("expected actor admin, got %s", logs[0].ActorUsername)
	}
}
