package domain

import "math"

type Totals struct {
	SubtotalCents int64
	TaxCents      int64
	TotalCents    int64
}

// LineSubtotal computes unitPrice*qty - discount for a single line.
func LineSubtotal(quantity int, unitPriceCents int64, discountCents int64) int64 {
	return unitPriceCents*int64(quantity) - discountCents
}

// CalculateSalesTotals recomputes a sales transaction's money fields from its
// lines. Line subtotals are refreshed in place so stored and derived values
// cannot drift.
func CalculateSalesTotals(tx *SalesTransaction) {
	subtotal := int64(0)
	for i := range tx.Lines {
		line := &tx.Lines[i]
		line.SubtotalCents = LineSubtotal(line.Quantity, line.UnitPriceCents, line.DiscountCents)
		subtotal += line.SubtotalCents
	}
	tx.SubtotalCents = subtotal
	tx.TaxCents = taxFor(subtotal, tx.TaxRatePercent)
	tx.TotalCents = tx.SubtotalCents + tx.TaxCents
}

// CalculateOrderTotals recomputes an order's money fields from its items,
// including the shipping cost in the grand total.
func CalculateOrderTotals(order *OrderTransaction) {
	subtotal := int64(0)
	for i := range order.Items {
		item := &order.Items[i]
		item.SubtotalCents = LineSubtotal(item.Quantity, item.UnitPriceCents, item.DiscountCents)
		subtotal += item.SubtotalCents
	}
	order.SubtotalCents = subtotal
	order.TaxCents = taxFor(subtotal, order.TaxRatePercent)
	order.TotalCents = order.SubtotalCents + order.TaxCents + order.ShippingCostCents
}

func taxFor(subtotalCents int64, taxRatePercent float64) int64 {
	if taxRatePercent <= 0 || subtotalCents <= 0 {
		return 0
	}
	return int64(math.Round(float64(subtotalCents) * taxRatePercent / 100))
}

// CanVoidSales reports whether a sales transaction may be cancelled.
// Completed transactions must go through the return path instead.
func CanVoidSales(status string) bool {
	return status == SalesStatusDraft || status == SalesStatusPending
}

// CanReturnSales reports whether a sales transaction may be returned.
func CanReturnSales(status string) bool {
	return status == SalesStatusCompleted
}

// CanModifySalesLines reports whether line items may still be mutated.
func CanModifySalesLines(status string) bool {
	return status == SalesStatusDraft || status == SalesStatusPending
}

func IsTerminalSalesStatus(status string) bool {
	switch status {
	case SalesStatusCompleted, SalesStatusCancelled, SalesStatusReturned:
		return true
	default:
		return false
	}
}

func IsValidSalesStatus(status string) bool {
	switch status {
	case SalesStatusDraft, SalesStatusPending, SalesStatusCompleted, SalesStatusCancelled, SalesStatusReturned:
		return true
	default:
		return false
	}
}

func IsValidOrderStatus(status string) bool {
	switch status {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded, OrderStatusReturned:
		return true
	default:
		return false
	}
}

func IsTerminalOrderStatus(status string) bool {
	switch status {
	case OrderStatusCancelled, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// CanCancelOrder reports whether an order may still be cancelled. Shipped
// and later orders must use the refund path.
func CanCancelOrder(status string) bool {
	return status == OrderStatusPending || status == OrderStatusProcessing
}

// CanRefundOrder reports whether an order qualifies for a refund.
func CanRefundOrder(status string) bool {
	return status == OrderStatusDelivered || status == OrderStatusReturned
}

// CanShipOrder reports whether tracking info may be attached. Re-setting the
// tracking number on an already shipped order is allowed.
func CanShipOrder(status string) bool {
	return status == OrderStatusPending || status == OrderStatusProcessing || status == OrderStatusShipped
}

// CanModifyOrderItems reports whether order items may still be mutated.
func CanModifyOrderItems(status string) bool {
	return status == OrderStatusPending || status == OrderStatusProcessing
}

func IsSupportedPaymentMethod(method string) bool {
	switch method {
	case "cash", "credit_card", "debit_card", "mobile_payment",
		"bank_transfer", "check", "store_credit", "gift_card":
		return true
	default:
		return false
	}
}

func IsValidProductStatus(status string) bool {
	switch status {
	case ProductStatusActive, ProductStatusInactive, ProductStatusDiscontinued:
		return true
	default:
		return false
	}
}

func IsValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleManager, RoleEmployee, RoleCashier:
		return true
	default:
		return false
	}
}
