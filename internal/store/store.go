package store

import (
	"context"
	"errors"
	"time"

	"warungpos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidState      = errors.New("invalid state")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
)

type Repository interface {
	// Customers
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error)
	ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error)
	SearchCustomers(ctx context.Context, query string, limit int) ([]domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	DeleteCustomer(ctx context.Context, id string) error

	// Products
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error)
	ListProducts(ctx context.Context, limit int) ([]domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error

	// Service offerings
	CreateServiceOffering(ctx context.Context, offering domain.ServiceOffering) (*domain.ServiceOffering, error)
	GetServiceOfferingByID(ctx context.Context, id string) (*domain.ServiceOffering, error)
	ListServiceOfferings(ctx context.Context, activeOnly bool) ([]domain.ServiceOffering, error)
	UpdateServiceOffering(ctx context.Context, offering domain.ServiceOffering) (*domain.ServiceOffering, error)
	DeleteServiceOffering(ctx context.Context, id string) error

	// Inventory ledger
	CreateInventoryItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error)
	GetInventoryItemByID(ctx context.Context, id string) (*domain.InventoryItem, error)
	ListInventoryItems(ctx context.Context, limit int) ([]domain.InventoryItem, error)
	SearchInventoryItems(ctx context.Context, query string, limit int) ([]domain.InventoryItem, error)
	ListInventoryByCategory(ctx context.Context, category string) ([]domain.InventoryItem, error)
	ListLowStockItems(ctx context.Context, threshold int) ([]domain.InventoryItem, error)
	UpdateInventoryItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error)
	DeleteInventoryItem(ctx context.Context, id string) error
	AdjustInventoryQuantity(ctx context.Context, id string, delta int) (*domain.InventoryItem, error)

	// Sales transactions
	CreateSalesTransaction(ctx context.Context, tx domain.SalesTransaction) (*domain.SalesTransaction, error)
	GetSalesTransactionByID(ctx context.Context, id string) (*domain.SalesTransaction, error)
	ListSalesTransactions(ctx context.Context, limit int) ([]domain.SalesTransaction, error)
	ListSalesByCustomer(ctx context.Context, customerID string) ([]domain.SalesTransaction, error)
	ListSalesByStatus(ctx context.Context, status string) ([]domain.SalesTransaction, error)
	ListSalesInPeriod(ctx context.Context, from time.Time, to time.Time) ([]domain.SalesTransaction, error)
	AddSalesLine(ctx context.Context, txID string, line domain.TransactionLine) (*domain.SalesTransaction, error)
	RemoveSalesLine(ctx context.Context, txID string, refID string) (*domain.SalesTransaction, error)
	UpdateSalesLineQuantity(ctx context.Context, txID string, refID string, quantity int) (*domain.SalesTransaction, error)
	ApplySalesLineDiscount(ctx context.Context, txID string, refID string, discountCents int64) (*domain.SalesTransaction, error)
	CompleteSalesPayment(ctx context.Context, txID string, payment domain.PaymentTransaction, at time.Time) (*domain.SalesTransaction, error)
	VoidSalesTransaction(ctx context.Context, txID string) (*domain.SalesTransaction, error)
	ReturnSalesTransaction(ctx context.Context, txID string, at time.Time) (*domain.SalesTransaction, *domain.PaymentTransaction, error)
	ListPaymentsByTransaction(ctx context.Context, txID string) ([]domain.PaymentTransaction, error)

	// Orders
	CreateOrder(ctx context.Context, order domain.OrderTransaction) (*domain.OrderTransaction, error)
	GetOrderByID(ctx context.Context, id string) (*domain.OrderTransaction, error)
	ListOrders(ctx context.Context, limit int) ([]domain.OrderTransaction, error)
	ListOrdersByCustomer(ctx context.Context, customerID string) ([]domain.OrderTransaction, error)
	ListOrdersByStatus(ctx context.Context, status string) ([]domain.OrderTransaction, error)
	AddOrderItem(ctx context.Context, orderID string, item domain.OrderItem) (*domain.OrderTransaction, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status string, at time.Time) (*domain.OrderTransaction, error)
	UpdateOrderTracking(ctx context.Context, orderID string, trackingNumber string, at time.Time) (*domain.OrderTransaction, error)
	CancelOrder(ctx context.Context, orderID string, at time.Time) (*domain.OrderTransaction, error)
	RefundOrder(ctx context.Context, orderID string, at time.Time) (*domain.OrderTransaction, error)

	// Users
	CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error)
	DeleteUser(ctx context.Context, username string) error
	UpdateUserPassword(ctx context.Context, username string, passwordHash string) error
	UpdateUserLastLogin(ctx context.Context, username string, at time.Time) error

	// Audit + reporting
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
	GetSalesReport(ctx context.Context, from time.Time, to time.Time) (domain.SalesReport, error)
}
