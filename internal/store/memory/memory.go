package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"warungpos/backend/internal/domain"
	"warungpos/backend/internal/store"
	"warungpos/backend/internal/xid"
)

type Store struct {
	mu               sync.RWMutex
	customers        map[string]domain.Customer
	products         map[string]domain.Product
	offerings        map[string]domain.ServiceOffering
	items            map[string]domain.InventoryItem
	salesByID        map[string]*domain.SalesTransaction
	ordersByID       map[string]*domain.OrderTransaction
	paymentsByTxID   map[string][]domain.PaymentTransaction
	usersByUsername  map[string]domain.UserAccount
	auditLogs        []domain.AuditLog
}

func New() *Store {
	return &Store{
		customers:       make(map[string]domain.Customer),
		products:        make(map[string]domain.Product),
		offerings:       make(map[string]domain.ServiceOffering),
		items:           make(map[string]domain.InventoryItem),
		salesByID:       make(map[string]*domain.SalesTransaction),
		ordersByID:      make(map[string]*domain.OrderTransaction),
		paymentsByTxID:  make(map[string][]domain.PaymentTransaction),
		usersByUsername: make(map[string]domain.UserAccount),
		auditLogs:       make([]domain.AuditLog, 0, 128),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Passwords come from SEED_<ROLE>_PASSWORD environment variables; hardcoded
// dev defaults are used with a warning when unset. The memory store is never
// used in production (the backend requires PostgreSQL when DATABASE_URL is
// set).
func seedUsers() map[string]domain.UserAccount {
	defaults := []struct {
		username string
		envKey   string
		fallback string
		role     string
	}{
		{"admin", "SEED_ADMIN_PASSWORD", "admin123", domain.RoleAdmin},
		{"manager", "SEED_MANAGER_PASSWORD", "manager123", domain.RoleManager},
		{"employee", "SEED_EMPLOYEE_PASSWORD", "employee123", domain.RoleEmployee},
		{"cashier", "SEED_CASHIER_PASSWORD", "cashier123", domain.RoleCashier},
	}

	warned := false
	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range defaults {
		password := envOr(u.envKey, u.fallback)
		if os.Getenv(u.envKey) == "" && !warned {
			log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_*_PASSWORD variables to override.")
			warned = true
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			ID:           xid.New("USR"),
			Username:     u.username,
			PasswordHash: string(hash),
			FullName:     strings.ToUpper(u.username[:1]) + u.username[1:],
			Role:         u.role,
			Active:       true,
			CreatedAt:    now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	items := []domain.InventoryItem{
		{ID: "ITEM-A1B2C3D4", Name: "Mie Goreng Instan", Category: "grocery", Unit: "pcs", UnitPriceCents: 3500, Quantity: 120},
		{ID: "ITEM-B2C3D4E5", Name: "Telur 10 Butir", Category: "grocery", Unit: "pack", UnitPriceCents: 26500, Quantity: 80},
		{ID: "ITEM-C3D4E5F6", Name: "Susu UHT 1L", Category: "dairy", Unit: "box", UnitPriceCents: 18900, Quantity: 60},
		{ID: "ITEM-D4E5F6A7", Name: "Kopi Sachet", Category: "beverage", Unit: "pcs", UnitPriceCents: 2600, Quantity: 200},
		{ID: "ITEM-E5F6A7B8", Name: "Air Mineral 600ml", Category: "beverage", Unit: "bottle", UnitPriceCents: 3900, Quantity: 150},
		{ID: "ITEM-F6A7B8C9", Name: "Tinta Printer Hitam", Category: "stationery", Unit: "pcs", UnitPriceCents: 42500, Quantity: 12},
		{ID: "ITEM-A7B8C9D0", Name: "Kertas HVS A4", Category: "stationery", Unit: "ream", UnitPriceCents: 48000, Quantity: 25},
	}
	for _, item := range items {
		item.CreatedAt = now
		item.UpdatedAt = now
		s.items[item.ID] = item
	}

	products := []domain.Product{
		{ID: "PROD-11A2B3C4", Name: "Mie Goreng Instan", Category: "grocery", Barcode: "8991002101234", UnitPriceCents: 3500, Status: domain.ProductStatusActive},
		{ID: "PROD-22B3C4D5", Name: "Kopi Sachet", Category: "beverage", Barcode: "8991002105678", UnitPriceCents: 2600, Status: domain.ProductStatusActive},
		{ID: "PROD-33C4D5E6", Name: "Air Mineral 600ml", Category: "beverage", Barcode: "8991002109012", UnitPriceCents: 3900, Status: domain.ProductStatusActive},
	}
	for _, p := range products {
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = p
	}

	offerings := []domain.ServiceOffering{
		{ID: "SRV-10F1E2D3", Name: "Fotokopi per Lembar", PriceCents: 500, DurationMinutes: 1, Active: true},
		{ID: "SRV-20E2D3C4", Name: "Print Dokumen A4", PriceCents: 1500, DurationMinutes: 2, Active: true},
		{ID: "SRV-30D3C4B5", Name: "Laminating", PriceCents: 6000, DurationMinutes: 10, Active: true},
	}
	for _, o := range offerings {
		o.CreatedAt = now
		o.UpdatedAt = now
		s.offerings[o.ID] = o
	}

	customers := []domain.Customer{
		{ID: "CUS-0A1B2C3D", Name: "Budi Santoso", Email: "budi@example.com", Phone: "081234567890"},
		{ID: "CUS-1B2C3D4E", Name: "Siti Rahma", Email: "siti@example.com", Phone: "081298765432"},
	}
	for _, c := range customers {
		c.CreatedAt = now
		c.UpdatedAt = now
		s.customers[c.ID] = c
	}

	s.usersByUsername = seedUsers()
	return s
}

// Customers

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if customer.ID == "" {
		customer.ID = xid.New("CUS")
	}
	now := time.Now().UTC()
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = now
	}
	customer.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.customers[customer.ID]; exists {
		return nil, store.ErrConflict
	}
	s.customers[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) GetCustomerByID(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	customer, ok := s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := customer
	return &found, nil
}

func (s *Store) ListCustomers(_ context.Context, limit int) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Customer, 0, len(s.customers))
	for _, customer := range s.customers {
		result = append(result, customer)
	}
	slices.SortFunc(result, func(a, b domain.Customer) int {
		return strings.Compare(a.Name, b.Name)
	})
	return truncate(result, limit), nil
}

func (s *Store) SearchCustomers(_ context.Context, query string, limit int) ([]domain.Customer, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Customer, 0, 16)
	for _, customer := range s.customers {
		haystack := strings.ToLower(customer.Name + " " + customer.Email + " " + customer.Phone)
		if strings.Contains(haystack, needle) {
			result = append(result, customer)
		}
	}
	slices.SortFunc(result, func(a, b domain.Customer) int {
		return strings.Compare(a.Name, b.Name)
	})
	return truncate(result, limit), nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" || customer.Name == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.customers[customer.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	customer.CreatedAt = existing.CreatedAt
	customer.UpdatedAt = time.Now().UTC()
	s.customers[customer.ID] = customer
	updated := customer
	return &updated, nil
}

func (s *Store) DeleteCustomer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.customers[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.customers, id)
	return nil
}

// Products

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.UnitPriceCents < 1 {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New("PROD")
	}
	if product.Status == "" {
		product.Status = domain.ProductStatusActive
	}
	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	if product.Barcode != "" && s.barcodeTakenLocked(product.Barcode, product.ID) {
		return nil, store.ErrConflict
	}
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) barcodeTakenLocked(barcode string, excludeID string) bool {
	for _, p := range s.products {
		if p.Barcode == barcode && p.ID != excludeID {
			return true
		}
	}
	return false
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	product, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := product
	return &found, nil
}

func (s *Store) GetProductByBarcode(_ context.Context, barcode string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, product := range s.products {
		if product.Barcode == barcode {
			found := product
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListProducts(_ context.Context, limit int) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Product, 0, len(s.products))
	for _, product := range s.products {
		result = append(result, product)
	}
	slices.SortFunc(result, func(a, b domain.Product) int {
		if c := strings.Compare(a.Category, b.Category); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return truncate(result, limit), nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.UnitPriceCents < 1 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if product.Barcode != "" && s.barcodeTakenLocked(product.Barcode, product.ID) {
		return nil, store.ErrConflict
	}
	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.products, id)
	return nil
}

// Service offerings

func (s *Store) CreateServiceOffering(_ context.Context, offering domain.ServiceOffering) (*domain.ServiceOffering, error) {
	if offering.Name == "" || offering.PriceCents < 1 {
		return nil, store.ErrInvalidInput
	}
	if offering.ID == "" {
		offering.ID = xid.New("SRV")
	}
	now := time.Now().UTC()
	offering.CreatedAt = now
	offering.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.offerings[offering.ID] = offering
	created := offering
	return &created, nil
}

func (s *Store) GetServiceOfferingByID(_ context.Context, id string) (*domain.ServiceOffering, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	offering, ok := s.offerings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := offering
	return &found, nil
}

func (s *Store) ListServiceOfferings(_ context.Context, activeOnly bool) ([]domain.ServiceOffering, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.ServiceOffering, 0, len(s.offerings))
	for _, offering := range s.offerings {
		if activeOnly && !offering.Active {
			continue
		}
		result = append(result, offering)
	}
	slices.SortFunc(result, func(a, b domain.ServiceOffering) int {
		return strings.Compare(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) UpdateServiceOffering(_ context.Context, offering domain.ServiceOffering) (*domain.ServiceOffering, error) {
	if offering.ID == "" || offering.Name == "" || offering.PriceCents < 1 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.offerings[offering.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	offering.CreatedAt = existing.CreatedAt
	offering.UpdatedAt = time.Now().UTC()
	s.offerings[offering.ID] = offering
	updated := offering
	return &updated, nil
}

func (s *Store) DeleteServiceOffering(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.offerings[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.offerings, id)
	return nil
}

// Inventory ledger

func (s *Store) CreateInventoryItem(_ context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	if item.Name == "" || item.UnitPriceCents < 1 || item.Quantity < 0 {
		return nil, store.ErrInvalidInput
	}
	if item.ID == "" {
		item.ID = xid.New("ITEM")
	}
	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item
	created := item
	return &created, nil
}

func (s *Store) GetInventoryItemByID(_ context.Context, id string) (*domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := item
	return &found, nil
}

func (s *Store) ListInventoryItems(_ context.Context, limit int) ([]domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return truncate(s.sortedItemsLocked(func(domain.InventoryItem) bool { return true }), limit), nil
}

func (s *Store) SearchInventoryItems(_ context.Context, query string, limit int) ([]domain.InventoryItem, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	s.mu.RLock()
	defer s.mu.RUnlock()
	return truncate(s.sortedItemsLocked(func(item domain.InventoryItem) bool {
		return strings.Contains(strings.ToLower(item.Name), needle)
	}), limit), nil
}

func (s *Store) ListInventoryByCategory(_ context.Context, category string) ([]domain.InventoryItem, error) {
	wanted := strings.ToLower(strings.TrimSpace(category))
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedItemsLocked(func(item domain.InventoryItem) bool {
		return strings.ToLower(item.Category) == wanted
	}), nil
}

func (s *Store) ListLowStockItems(_ context.Context, threshold int) ([]domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedItemsLocked(func(item domain.InventoryItem) bool {
		return item.Quantity <= threshold
	}), nil
}

func (s *Store) sortedItemsLocked(keep func(domain.InventoryItem) bool) []domain.InventoryItem {
	result := make([]domain.InventoryItem, 0, len(s.items))
	for _, item := range s.items {
		if keep(item) {
			result = append(result, item)
		}
	}
	slices.SortFunc(result, func(a, b domain.InventoryItem) int {
		if c := strings.Compare(a.Category, b.Category); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return result
}

func (s *Store) UpdateInventoryItem(_ context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	if item.ID == "" || item.Name == "" || item.UnitPriceCents < 1 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.items[item.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	// Quantity is only mutated through the ledger adjustment.
	item.Quantity = existing.Quantity
	item.CreatedAt = existing.CreatedAt
	item.UpdatedAt = time.Now().UTC()
	s.items[item.ID] = item
	updated := item
	return &updated, nil
}

func (s *Store) DeleteInventoryItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return store.ErrNotFound
	}
	if s.itemReferencedLocked(id) {
		return store.ErrInvalidState
	}
	delete(s.items, id)
	return nil
}

// itemReferencedLocked reports whether any open transaction or order still
// carries a line for the item.
func (s *Store) itemReferencedLocked(itemID string) bool {
	for _, tx := range s.salesByID {
		if domain.IsTerminalSalesStatus(tx.Status) {
			continue
		}
		for _, line := range tx.Lines {
			if line.LineType == domain.LineTypeProduct && line.RefID == itemID {
				return true
			}
		}
	}
	for _, order := range s.ordersByID {
		if domain.IsTerminalOrderStatus(order.Status) || order.Status == domain.OrderStatusDelivered {
			continue
		}
		for _, item := range order.Items {
			if item.ItemID == itemID {
				return true
			}
		}
	}
	return false
}

func (s *Store) AdjustInventoryQuantity(_ context.Context, id string, delta int) (*domain.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adjustQuantityLocked(id, delta)
}

func (s *Store) adjustQuantityLocked(id string, delta int) (*domain.InventoryItem, error) {
	item, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	next := item.Quantity + delta
	if next < 0 {
		return nil, store.ErrInsufficientStock
	}
	item.Quantity = next
	item.UpdatedAt = time.Now().UTC()
	s.items[id] = item
	adjusted := item
	return &adjusted, nil
}

// Sales transactions

func (s *Store) CreateSalesTransaction(_ context.Context, tx domain.SalesTransaction) (*domain.SalesTransaction, error) {
	if tx.ID == "" {
		tx.ID = xid.New("TRX")
	}
	if tx.Status == "" {
		tx.Status = domain.SalesStatusDraft
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	if tx.Lines == nil {
		tx.Lines = []domain.TransactionLine{}
	}
	domain.CalculateSalesTotals(&tx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.salesByID[tx.ID]; exists {
		return nil, store.ErrConflict
	}
	s.salesByID[tx.ID] = &tx
	return cloneSales(&tx), nil
}

func (s *Store) GetSalesTransactionByID(_ context.Context, id string) (*domain.SalesTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSales(tx), nil
}

func (s *Store) ListSalesTransactions(_ context.Context, limit int) ([]domain.SalesTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return truncate(s.sortedSalesLocked(func(*domain.SalesTransaction) bool { return true }), limit), nil
}

func (s *Store) ListSalesByCustomer(_ context.Context, customerID string) ([]domain.SalesTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedSalesLocked(func(tx *domain.SalesTransaction) bool {
		return tx.CustomerID == customerID
	}), nil
}

func (s *Store) ListSalesByStatus(_ context.Context, status string) ([]domain.SalesTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedSalesLocked(func(tx *domain.SalesTransaction) bool {
		return tx.Status == status
	}), nil
}

func (s *Store) ListSalesInPeriod(_ context.Context, from time.Time, to time.Time) ([]domain.SalesTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedSalesLocked(func(tx *domain.SalesTransaction) bool {
		return !tx.CreatedAt.Before(from) && tx.CreatedAt.Before(to)
	}), nil
}

func (s *Store) sortedSalesLocked(keep func(*domain.SalesTransaction) bool) []domain.SalesTransaction {
	result := make([]domain.SalesTransaction, 0, len(s.salesByID))
	for _, tx := range s.salesByID {
		if keep(tx) {
			result = append(result, *cloneSales(tx))
		}
	}
	slices.SortFunc(result, func(a, b domain.SalesTransaction) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return result
}

func (s *Store) AddSalesLine(_ context.Context, txID string, line domain.TransactionLine) (*domain.SalesTransaction, error) {
	if line.RefID == "" || line.Quantity < 1 || line.UnitPriceCents < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.salesByID[txID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !domain.CanModifySalesLines(tx.Status) {
		return nil, store.ErrInvalidState
	}

	merged := false
	for i := range tx.Lines {
		if tx.Lines[i].RefID == line.RefID && tx.Lines[i].LineType == line.LineType {
			tx.Lines[i].Quantity += line.Quantity
			merged = true
			break
		}
	}
	if !merged {
		line.DiscountCents = 0
		tx.Lines = append(tx.Lines, line)
	}
	if tx.Status == domain.SalesStatusDraft {
		tx.Status = domain.SalesStatusPending
	}
	domain.CalculateSalesTotals(tx)
	return cloneSales(tx), nil
}

func (s *Store) RemoveSalesLine(_ context.Context, txID string, refID string) (*domain.SalesTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.salesByID[txID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !domain.CanModifySalesLines(tx.Status) {
		return nil, store.ErrInvalidState
	}

	idx := -1
	for i := range tx.Lines {
		if tx.Lines[i].RefID == refID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, store.ErrNotFound
	}
	tx.Lines = append(tx.Lines[:idx], tx.Lines[idx+1:]...)
	domain.CalculateSalesTotals(tx)
	return cloneSales(tx), nil
}

func (s *Store) UpdateSalesLineQuantity(_ context.Context, txID string, refID string, quantity int) (*domain.SalesTransaction, error) {
	if quantity < 1 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.salesByID[txID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !domain.CanModifySalesLines(tx.Status) {
		return nil, store.ErrInvalidState
	}

	for i := range tx.Lines {
		if tx.Lines[i].RefID == refID {
			tx.Lines[i].Quantity = quantity
			domain.CalculateSalesTotals(tx)
			return cloneSales(tx), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ApplySalesLineDiscount(_ context.Context, txID string, refID string, discountCents int64) (*domain.SalesTransaction, error) {
	if discountCents < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.salesByID[txID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !domain.CanModifySalesLines(tx.Status) {
		return nil, store.ErrInvalidState
	}

	for i := range tx.Lines {
		line := &tx.Lines[i]
		if line.RefID != refID {
			continue
		}
		if discountCents > line.UnitPriceCents*int64(line.Quantity) {
			return nil, store.ErrInvalidInput
		}
		line.DiscountCents = discountCents
		domain.CalculateSalesTotals(tx)
		return cloneSales(tx), nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) CompleteSalesPayment(_ context.Context, txID string, payment domain.PaymentTransaction, at time.Time) (*domain.SalesTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.salesByID[txID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if domain.IsTerminalSalesStatus(tx.Status) {
		return nil, store.ErrInvalidState
	}
	if len(tx.Lines) == 0 {
		return nil, store.ErrInvalidInput
	}

	domain.CalculateSalesTotals(tx)
	if payment.AmountCents < tx.TotalCents {
		return nil, store.ErrInvalidInput
	}

	// Verify all product lines before touching any quantity so a failure
	// leaves the ledger untouched.
	for _, line := range tx.Lines {
		if line.LineType != domain.LineTypeProduct {
			continue
		}
		item, exists := s.items[line.RefID]
		if !exists {
			return nil, store.ErrNotFound
		}
		if item.Quantity < line.Quantity {
			return nil, store.ErrInsufficientStock
		}
	}
	for _, line := range tx.Lines {
		if line.LineType != domain.LineTypeProduct {
			continue
		}
		if _, err := s.adjustQuantityLocked(line.RefID, -line.Quantity); err != nil {
			return nil, err
		}
	}

	if payment.ID == "" {
		payment.ID = xid.New("PAY")
	}
	payment.TransactionID = txID
	payment.Status = domain.PaymentStatusCompleted
	payment.CreatedAt = at
	s.paymentsByTxID[txID] = append(s.paymentsByTxID[txID], payment)

	completedAt := at
	tx.Status = domain.SalesStatusCompleted
	tx.PaymentMethod = payment.Method
	tx.AmountPaidCents = payment.AmountCents
	tx.CompletedAt = &completedAt
	return cloneSales(tx), nil
}

func (s *Store) VoidSalesTransaction(_ context.Context, txID string) (*domain.SalesTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.salesByID[txID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !domain.CanVoidSales(tx.Status) {
		return nil, store.ErrInvalidState
	}
	tx.Status = domain.SalesStatusCancelled
	return cloneSales(tx), nil
}

func (s *Store) ReturnSalesTransaction(_ context.Context, txID string, at time.Time) (*domain.SalesTransaction, *domain.PaymentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.salesByID[txID]
	if !ok {
		return nil, nil, store.ErrNotFound
	}
	if !domain.CanReturnSales(tx.Status) {
		return nil, nil, store.ErrInvalidState
	}

	for _, line := range tx.Lines {
		if line.LineType != domain.LineTypeProduct {
			continue
		}
		// Items removed from the catalog after the sale cannot be restocked.
		if _, exists := s.items[line.RefID]; !exists {
			continue
		}
		if _, err := s.adjustQuantityLocked(line.RefID, line.Quantity); err != nil {
			return nil, nil, err
		}
	}

	refund := domain.PaymentTransaction{
		ID:            xid.New("PAY"),
		TransactionID: txID,
		AmountCents:   -tx.TotalCents,
		Method:        tx.PaymentMethod,
		Status:        domain.PaymentStatusRefunded,
		CreatedAt:     at,
	}
	s.paymentsByTxID[txID] = append(s.paymentsByTxID[txID], refund)

	tx.Status = domain.SalesStatusReturned
	returned := refund
	return cloneSales(tx), &returned, nil
}

func (s *Store) ListPaymentsByTransaction(_ context.Context, txID string) ([]domain.PaymentTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.salesByID[txID]; !ok {
		return nil, store.ErrNotFound
	}
	payments := s.paymentsByTxID[txID]
	result := make([]domain.PaymentTransaction, len(payments))
	copy(result, payments)
	return result, nil
}

// Orders

func (s *Store) CreateOrder(_ context.Context, order domain.OrderTransaction) (*domain.OrderTransaction, error) {
	if order.ID == "" {
		order.ID = xid.New("ORD")
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	if order.Items == nil {
		order.Items = []domain.OrderItem{}
	}
	domain.CalculateOrderTotals(&order)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.ordersByID[order.ID]; exists {
		return nil, store.ErrConflict
	}
	s.ordersByID[order.ID] = &order
	return cloneOrder(&order), nil
}

func (s *Store) GetOrderByID(_ context.Context, id string) (*domain.OrderTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.ordersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneOrder(order), nil
}

func (s *Store) ListOrders(_ context.Context, limit int) ([]domain.OrderTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return truncate(s.sortedOrdersLocked(func(*domain.OrderTransaction) bool { return true }), limit), nil
}

func (s *Store) ListOrdersByCustomer(_ context.Context, customerID string) ([]domain.OrderTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedOrdersLocked(func(order *domain.OrderTransaction) bool {
		return order.CustomerID == customerID
	}), nil
}

func (s *Store) ListOrdersByStatus(_ context.Context, status string) ([]domain.OrderTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedOrdersLocked(func(order *domain.OrderTransaction) bool {
		return order.Status == status
	}), nil
}

func (s *Store) sortedOrdersLocked(keep func(*domain.OrderTransaction) bool) []domain.OrderTransaction {
	result := make([]domain.OrderTransaction, 0, len(s.ordersByID))
	for _, order := range s.ordersByID {
		if keep(order) {
			result = append(result, *cloneOrder(order))
		}
	}
	slices.SortFunc(result, func(a, b domain.OrderTransaction) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return result
}

func (s *Store) AddOrderItem(_ context.Context, orderID string, item domain.OrderItem) (*domain.OrderTransaction, error) {
	if item.ItemID == "" || item.Quantity < 1 || item.UnitPriceCents < 0 || item.DiscountCents < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.ordersByID[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !domain.CanModifyOrderItems(order.Status) {
		return nil, store.ErrInvalidState
	}

	stocked, exists := s.items[item.ItemID]
	if !exists {
		return nil, store.ErrNotFound
	}

	requested := item.Quantity
	for _, existing := range order.Items {
		if existing.ItemID == item.ItemID {
			requested += existing.Quantity
		}
	}
	if stocked.Quantity < requested {
		return nil, store.ErrInsufficientStock
	}

	merged := false
	for i := range order.Items {
		if order.Items[i].ItemID == item.ItemID {
			order.Items[i].Quantity += item.Quantity
			merged = true
			break
		}
	}
	if !merged {
		order.Items = append(order.Items, item)
	}
	domain.CalculateOrderTotals(order)
	order.UpdatedAt = time.Now().UTC()
	return cloneOrder(order), nil
}

func (s *Store) UpdateOrderStatus(_ context.Context, orderID string, status string, at time.Time) (*domain.OrderTransaction, error) {
	if !domain.IsValidOrderStatus(status) {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.ordersByID[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if domain.IsTerminalOrderStatus(order.Status) {
		return nil, store.ErrInvalidState
	}

	order.Status = status
	if status == domain.OrderStatusDelivered {
		delivered := at
		order.ActualDeliveryDate = &delivered
	}
	order.UpdatedAt = at
	return cloneOrder(order), nil
}

func (s *Store) UpdateOrderTracking(_ context.Context, orderID string, trackingNumber string, at time.Time) (*domain.OrderTransaction, error) {
	if trackingNumber == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.ordersByID[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !domain.CanShipOrder(order.Status) {
		return nil, store.ErrInvalidState
	}

	order.TrackingNumber = trackingNumber
	order.Status = domain.OrderStatusShipped
	order.UpdatedAt = at
	return cloneOrder(order), nil
}

func (s *Store) CancelOrder(_ context.Context, orderID string, at time.Time) (*domain.OrderTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.ordersByID[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !domain.CanCancelOrder(order.Status) {
		return nil, store.ErrInvalidState
	}
	order.Status = domain.OrderStatusCancelled
	order.UpdatedAt = at
	return cloneOrder(order), nil
}

func (s *Store) RefundOrder(_ context.Context, orderID string, at time.Time) (*domain.OrderTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.ordersByID[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !domain.CanRefundOrder(order.Status) {
		return nil, store.ErrInvalidState
	}
	order.Status = domain.OrderStatusRefunded
	order.UpdatedAt = at
	return cloneOrder(order), nil
}

// Users

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	if user.Username == "" || user.PasswordHash == "" {
		return nil, store.ErrInvalidInput
	}
	if user.ID == "" {
		user.ID = xid.New("USR")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.usersByUsername[user.Username]; exists {
		return nil, store.ErrConflict
	}
	s.usersByUsername[user.Username] = user
	created := user
	return &created, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.usersByUsername[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := user
	return &found, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		result = append(result, user)
	}
	slices.SortFunc(result, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return result, nil
}

func (s *Store) UpdateUser(_ context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	if user.Username == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.usersByUsername[user.Username]
	if !ok {
		return nil, store.ErrNotFound
	}
	user.ID = existing.ID
	user.PasswordHash = existing.PasswordHash
	user.CreatedAt = existing.CreatedAt
	user.LastLoginAt = existing.LastLoginAt
	s.usersByUsername[user.Username] = user
	updated := user
	return &updated, nil
}

func (s *Store) DeleteUser(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.usersByUsername[username]; !ok {
		return store.ErrNotFound
	}
	delete(s.usersByUsername, username)
	return nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.PasswordHash = passwordHash
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) UpdateUserLastLogin(_ context.Context, username string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	login := at
	user.LastLoginAt = &login
	s.usersByUsername[username] = user
	return nil
}

// Audit + reporting

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("AUD")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return truncate(result, limit), nil
}

func (s *Store) GetSalesReport(_ context.Context, from time.Time, to time.Time) (domain.SalesReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := domain.SalesReport{
		From: from.UTC().Format(time.RFC3339),
		To:   to.UTC().Format(time.RFC3339),
	}
	byPayment := make(map[string]*domain.SalesReportPayment)
	byStatus := make(map[string]int64)

	for _, tx := range s.salesByID {
		if tx.CreatedAt.Before(from) || !tx.CreatedAt.Before(to) {
			continue
		}
		byStatus[tx.Status]++

		if tx.Status != domain.SalesStatusCompleted && tx.Status != domain.SalesStatusReturned {
			continue
		}
		report.Transactions++
		report.GrossSalesCents += tx.TotalCents
		report.TaxCents += tx.TaxCents
		if tx.Status == domain.SalesStatusReturned {
			report.RefundedCents += tx.TotalCents
		}

		entry, ok := byPayment[tx.PaymentMethod]
		if !ok {
			entry = &domain.SalesReportPayment{Method: tx.PaymentMethod}
			byPayment[tx.PaymentMethod] = entry
		}
		entry.Transactions++
		entry.TotalCents += tx.TotalCents
	}
	report.NetSalesCents = report.GrossSalesCents - report.RefundedCents

	for _, entry := range byPayment {
		report.ByPayment = append(report.ByPayment, *entry)
	}
	slices.SortFunc(report.ByPayment, func(a, b domain.SalesReportPayment) int {
		return strings.Compare(a.Method, b.Method)
	})
	for status, count := range byStatus {
		report.ByStatus = append(report.ByStatus, domain.SalesReportStatus{Status: status, Transactions: count})
	}
	slices.SortFunc(report.ByStatus, func(a, b domain.SalesReportStatus) int {
		return strings.Compare(a.Status, b.Status)
	})
	return report, nil
}

func cloneSales(src *domain.SalesTransaction) *domain.SalesTransaction {
	cloned := *src
	cloned.Lines = make([]domain.TransactionLine, len(src.Lines))
	copy(cloned.Lines, src.Lines)
	if src.CompletedAt != nil {
		completed := *src.CompletedAt
		cloned.CompletedAt = &completed
	}
	return &cloned
}

func cloneOrder(src *domain.OrderTransaction) *domain.OrderTransaction {
	cloned := *src
	cloned.Items = make([]domain.OrderItem, len(src.Items))
	copy(cloned.Items, src.Items)
	if src.EstimatedDeliveryDate != nil {
		estimated := *src.EstimatedDeliveryDate
		cloned.EstimatedDeliveryDate = &estimated
	}
	if src.ActualDeliveryDate != nil {
		actual := *src.ActualDeliveryDate
		cloned.ActualDeliveryDate = &actual
	}
	return &cloned
}

func truncate[T any](list []T, limit int) []T {
	if limit > 0 && len(list) > limit {
		return list[:limit]
	}
	return list
}
