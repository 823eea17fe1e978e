package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"warungpos/backend/internal/domain"
	"warungpos/backend/internal/store"
)

func TestSeededStoreHasWorkingSet(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	items, err := s.ListInventoryItems(ctx, 0)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) == 0 {
		t.Fatalf("expected seeded inventory")
	}

	if _, err := s.GetUserByUsername(ctx, "admin"); err != nil {
		t.Fatalf("expected seeded admin account: %v", err)
	}

	product, err := s.GetProductByBarcode(ctx, "8991002101234")
	if err != nil {
		t.Fatalf("expected seeded barcode lookup: %v", err)
	}
	if product.ID == "" {
		t.Fatalf("expected product id")
	}
}

func TestAdjustQuantityNeverGoesNegative(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	item, err := s.GetInventoryItemByID(ctx, "ITEM-F6A7B8C9")
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	before := item.Quantity

	if _, err := s.AdjustInventoryQuantity(ctx, "ITEM-F6A7B8C9", -(before + 1)); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	after, err := s.GetInventoryItemByID(ctx, "ITEM-F6A7B8C9")
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if after.Quantity != before {
		t.Fatalf("expected quantity unchanged at %d, got %d", before, after.Quantity)
	}
}

func TestCreateProductRejectsDuplicateBarcode(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	_, err := s.CreateProduct(ctx, domain.Product{
		ID:             "PROD-TESTDUP1",
		Name:           "Duplikat",
		Category:       "grocery",
		Barcode:        "8991002101234",
		UnitPriceCents: 1000,
		Status:         domain.ProductStatusActive,
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestAddSalesLineMergesByRef(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	tx, err := s.CreateSalesTransaction(ctx, domain.SalesTransaction{Status: domain.SalesStatusDraft})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	line := domain.TransactionLine{
		RefID:          "ITEM-A1B2C3D4",
		LineType:       domain.LineTypeProduct,
		Name:           "Mie Goreng Instan",
		Quantity:       1,
		UnitPriceCents: 3500,
	}
	if _, err := s.AddSalesLine(ctx, tx.ID, line); err != nil {
		t.Fatalf("first add: %v", err)
	}
	merged, err := s.AddSalesLine(ctx, tx.ID, line)
	if err != nil {
		t.Fatalf("second add: %v", err)
	}

	if len(merged.Lines) != 1 {
		t.Fatalf("expected merged single line, got %d", len(merged.Lines))
	}
	if merged.Lines[0].Quantity != 2 {
		t.Fatalf("expected merged quantity 2, got %d", merged.Lines[0].Quantity)
	}
	if merged.Status != domain.SalesStatusPending {
		t.Fatalf("expected pending after first line, got %s", merged.Status)
	}
}

func TestCompleteSalesPaymentIsAtomic(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	tx, err := s.CreateSalesTransaction(ctx, domain.SalesTransaction{Status: domain.SalesStatusDraft})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Two lines; the second one exceeds available stock, so neither may move.
	if _, err := s.AddSalesLine(ctx, tx.ID, domain.TransactionLine{
		RefID: "ITEM-A1B2C3D4", LineType: domain.LineTypeProduct, Name: "Mie Goreng Instan", Quantity: 1, UnitPriceCents: 3500,
	}); err != nil {
		t.Fatalf("add line: %v", err)
	}
	if _, err := s.AddSalesLine(ctx, tx.ID, domain.TransactionLine{
		RefID: "ITEM-F6A7B8C9", LineType: domain.LineTypeProduct, Name: "Tinta Printer Hitam", Quantity: 500, UnitPriceCents: 42500,
	}); err != nil {
		t.Fatalf("add line: %v", err)
	}

	_, err = s.CompleteSalesPayment(ctx, tx.ID, domain.PaymentTransaction{
		TransactionID: tx.ID,
		AmountCents:   30000000,
		Method:        "cash",
		Status:        domain.PaymentStatusCompleted,
	}, time.Now().UTC())
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	first, err := s.GetInventoryItemByID(ctx, "ITEM-A1B2C3D4")
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if first.Quantity != 120 {
		t.Fatalf("expected first item untouched at 120, got %d", first.Quantity)
	}
}

func TestCompleteSalesPaymentRejectsEmptyTransaction(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	tx, err := s.CreateSalesTransaction(ctx, domain.SalesTransaction{Status: domain.SalesStatusDraft})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = s.CompleteSalesPayment(ctx, tx.ID, domain.PaymentTransaction{
		TransactionID: tx.ID,
		AmountCents:   1000,
		Method:        "cash",
		Status:        domain.PaymentStatusCompleted,
	}, time.Now().UTC())
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty transaction, got %v", err)
	}
}

func TestReturnSkipsItemsDeletedAfterSale(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	item, err := s.CreateInventoryItem(ctx, domain.InventoryItem{
		ID:             "ITEM-RETTEST1",
		Name:           "Barang Sementara",
		Category:       "misc",
		Unit:           "pcs",
		UnitPriceCents: 5000,
		Quantity:       5,
	})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}

	tx, err := s.CreateSalesTransaction(ctx, domain.SalesTransaction{Status: domain.SalesStatusDraft})
	if err != nil {
		t.Fatalf("create tx: %v", err)
	}
	if _, err := s.AddSalesLine(ctx, tx.ID, domain.TransactionLine{
		RefID: item.ID, LineType: domain.LineTypeProduct, Name: item.Name, Quantity: 2, UnitPriceCents: 5000,
	}); err != nil {
		t.Fatalf("add line: %v", err)
	}
	if _, err := s.CompleteSalesPayment(ctx, tx.ID, domain.PaymentTransaction{
		TransactionID: tx.ID, AmountCents: 10000, Method: "cash", Status: domain.PaymentStatusCompleted,
	}, time.Now().UTC()); err != nil {
		t.Fatalf("payment: %v", err)
	}

	if err := s.DeleteInventoryItem(ctx, item.ID); err != nil {
		t.Fatalf("delete item: %v", err)
	}

	returned, refund, err := s.ReturnSalesTransaction(ctx, tx.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if returned.Status != domain.SalesStatusReturned {
		t.Fatalf("expected returned, got %s", returned.Status)
	}
	if refund.AmountCents != -returned.TotalCents {
		t.Fatalf("expected refund %d, got %d", -returned.TotalCents, refund.AmountCents)
	}
	if _, err := s.GetInventoryItemByID(ctx, item.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected item to stay deleted, got %v", err)
	}
}

func TestVoidOnlyChangesStatus(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	tx, err := s.CreateSalesTransaction(ctx, domain.SalesTransaction{Status: domain.SalesStatusDraft})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.AddSalesLine(ctx, tx.ID, domain.TransactionLine{
		RefID: "ITEM-A1B2C3D4", LineType: domain.LineTypeProduct, Name: "Mie Goreng Instan", Quantity: 2, UnitPriceCents: 3500,
	}); err != nil {
		t.Fatalf("add line: %v", err)
	}

	voided, err := s.VoidSalesTransaction(ctx, tx.ID)
	if err != nil {
		t.Fatalf("void: %v", err)
	}
	if voided.Status != domain.SalesStatusCancelled {
		t.Fatalf("expected cancelled, got %s", voided.Status)
	}
	if !voided.CreatedAt.Equal(tx.CreatedAt) {
		t.Fatalf("expected creation time preserved")
	}
	if voided.CompletedAt != nil {
		t.Fatalf("voided transaction must not carry a completion time")
	}

	item, err := s.GetInventoryItemByID(ctx, "ITEM-A1B2C3D4")
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if item.Quantity != 120 {
		t.Fatalf("expected stock untouched at 120, got %d", item.Quantity)
	}
}

func TestDeleteInventoryItemBlockedByOpenOrder(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	order, err := s.CreateOrder(ctx, domain.OrderTransaction{Status: domain.OrderStatusPending})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, err := s.AddOrderItem(ctx, order.ID, domain.OrderItem{
		ItemID: "ITEM-C3D4E5F6", Name: "Susu UHT 1L", Quantity: 1, UnitPriceCents: 18900,
	}); err != nil {
		t.Fatalf("add order item: %v", err)
	}

	if err := s.DeleteInventoryItem(ctx, "ITEM-C3D4E5F6"); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}

	if _, err := s.CancelOrder(ctx, order.ID, time.Now().UTC()); err != nil {
		t.Fatalf("cancel order: %v", err)
	}
	if err := s.DeleteInventoryItem(ctx, "ITEM-C3D4E5F6"); err != nil {
		t.Fatalf("delete after cancel: %v", err)
	}
}

func TestUpdateUserPreservesCredentials(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	original, err := s.GetUserByUsername(ctx, "employee")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}

	updated := *original
	updated.FullName = "Nama Baru"
	updated.PasswordHash = "should-be-ignored"
	updated.ID = "USR-FORGED01"

	saved, err := s.UpdateUser(ctx, updated)
	if err != nil {
		t.Fatalf("update user: %v", err)
	}
	if saved.FullName != "Nama Baru" {
		t.Fatalf("expected full name updated, got %s", saved.FullName)
	}
	if saved.ID != original.ID {
		t.Fatalf("expected id preserved, got %s", saved.ID)
	}
	if saved.PasswordHash != original.PasswordHash {
		t.Fatalf("expected password hash preserved")
	}
}

func TestAuditLogWindowAndLimit(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		if err := s.CreateAuditLog(ctx, domain.AuditLog{
			ActorUsername: "admin",
			ActorRole:     "admin",
			Action:        "test",
			CreatedAt:     base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("create audit log: %v", err)
		}
	}

	logs, err := s.ListAuditLogs(ctx, base.Add(time.Second), base.Add(4*time.Second), 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("expected 3 entries in window, got %d", len(logs))
	}
	if !logs[0].CreatedAt.After(logs[len(logs)-1].CreatedAt) {
		t.Fatalf("expected newest first ordering")
	}

	limited, err := s.ListAuditLogs(ctx, base, base.Add(time.Minute), 2)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected limit 2, got %d", len(limited))
	}
}
