package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"warungpos/backend/internal/cache"
	"warungpos/backend/internal/domain"
	"warungpos/backend/internal/metrics"
	"warungpos/backend/internal/restock"
	"warungpos/backend/internal/store"
	"warungpos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const (
	productCacheKey  = "catalog:products"
	offeringCacheKey = "catalog:services"
)

type Service struct {
	repo              store.Repository
	catalog           cache.CatalogCache
	catalogTTL        time.Duration
	defaultTaxPercent float64
	lowStockThreshold int
	advisor           *restock.Advisor
}

func New(repo store.Repository, catalog cache.CatalogCache, catalogTTL time.Duration, defaultTaxPercent float64, lowStockThreshold int) *Service {
	if catalog == nil {
		catalog = cache.NoopCatalogCache{}
	}
	if catalogTTL <= 0 {
		catalogTTL = 30 * time.Second
	}
	if lowStockThreshold < 1 {
		lowStockThreshold = 10
	}

	return &Service{
		repo:              repo,
		catalog:           catalog,
		catalogTTL:        catalogTTL,
		defaultTaxPercent: defaultTaxPercent,
		lowStockThreshold: lowStockThreshold,
		advisor:           restock.NewAdvisor(catalog, catalogTTL),
	}
}

func requireRole(ctx context.Context, roles ...string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return fmt.Errorf("authenticated actor required")
	}
	for _, role := range roles {
		if actor.Role == role {
			return nil
		}
	}
	return fmt.Errorf("%s role required", strings.Join(roles, " or "))
}

// Customers

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Customer{}, fmt.Errorf("customer name is required: %w", store.ErrInvalidInput)
	}

	customer := domain.Customer{
		ID:      xid.New("CUS"),
		Name:    req.Name,
		Email:   strings.TrimSpace(req.Email),
		Phone:   strings.TrimSpace(req.Phone),
		Address: strings.TrimSpace(req.Address),
	}

	created, err := s.repo.CreateCustomer(ctx, customer)
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, "customer_create", "customer", created.ID, fmt.Sprintf("name=%s", created.Name))
	return *created, nil
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	customer, err := s.repo.GetCustomerByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) ListCustomers(ctx context.Context, query string, limit int) ([]domain.Customer, error) {
	if strings.TrimSpace(query) != "" {
		return s.repo.SearchCustomers(ctx, query, limit)
	}
	return s.repo.ListCustomers(ctx, limit)
}

func (s *Service) UpdateCustomer(ctx context.Context, id string, req domain.CustomerUpdateRequest) (domain.Customer, error) {
	existing, err := s.repo.GetCustomerByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Customer{}, err
	}

	customer := *existing
	if req.Name != nil {
		customer.Name = strings.TrimSpace(*req.Name)
	}
	if req.Email != nil {
		customer.Email = strings.TrimSpace(*req.Email)
	}
	if req.Phone != nil {
		customer.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.Address != nil {
		customer.Address = strings.TrimSpace(*req.Address)
	}
	if customer.Name == "" {
		return domain.Customer{}, fmt.Errorf("customer name is required: %w", store.ErrInvalidInput)
	}

	updated, err := s.repo.UpdateCustomer(ctx, customer)
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, "customer_update", "customer", updated.ID, fmt.Sprintf("name=%s", updated.Name))
	return *updated, nil
}

func (s *Service) DeleteCustomer(ctx context.Context, id string) error {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return err
	}
	if err := s.repo.DeleteCustomer(ctx, strings.TrimSpace(id)); err != nil {
		return err
	}
	s.logAudit(ctx, "customer_delete", "customer", id, "")
	return nil
}

// Products

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.Product{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	req.Barcode = strings.TrimSpace(req.Barcode)
	if req.Name == "" || req.UnitPriceCents < 1 {
		return domain.Product{}, fmt.Errorf("product name and positive price are required: %w", store.ErrInvalidInput)
	}

	product := domain.Product{
		ID:             xid.New("PROD"),
		Name:           req.Name,
		Description:    strings.TrimSpace(req.Description),
		Category:       req.Category,
		Barcode:        req.Barcode,
		UnitPriceCents: req.UnitPriceCents,
		Status:         domain.ProductStatusActive,
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.invalidateCatalog(ctx, productCacheKey)
	s.logAudit(ctx, "product_create", "product", created.ID, fmt.Sprintf("name=%s,price=%d", created.Name, created.UnitPriceCents))
	return *created, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProductByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) GetProductByBarcode(ctx context.Context, barcode string) (domain.Product, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return domain.Product{}, fmt.Errorf("barcode is required: %w", store.ErrInvalidInput)
	}
	product, err := s.repo.GetProductByBarcode(ctx, barcode)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) ListProducts(ctx context.Context, limit int) ([]domain.Product, error) {
	var cached []domain.Product
	if ok, err := s.catalog.Get(ctx, productCacheKey, &cached); err == nil && ok {
		return truncateList(cached, limit), nil
	}

	products, err := s.repo.ListProducts(ctx, 0)
	if err != nil {
		return nil, err
	}
	if err := s.catalog.Set(ctx, productCacheKey, products, s.catalogTTL); err != nil {
		log.Printf("[service] WARN: failed to cache product catalog: %v", err)
	}
	return truncateList(products, limit), nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProductByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}

	product := *existing
	if req.Name != nil {
		product.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		product.Description = strings.TrimSpace(*req.Description)
	}
	if req.Category != nil {
		product.Category = strings.TrimSpace(*req.Category)
	}
	if req.Barcode != nil {
		product.Barcode = strings.TrimSpace(*req.Barcode)
	}
	if req.UnitPriceCents != nil {
		product.UnitPriceCents = *req.UnitPriceCents
	}
	if req.Status != nil {
		status := strings.ToLower(strings.TrimSpace(*req.Status))
		if !domain.IsValidProductStatus(status) {
			return domain.Product{}, fmt.Errorf("unknown product status %q: %w", status, store.ErrInvalidInput)
		}
		product.Status = status
	}
	if product.Name == "" || product.UnitPriceCents < 1 {
		return domain.Product{}, fmt.Errorf("product name and positive price are required: %w", store.ErrInvalidInput)
	}

	updated, err := s.repo.UpdateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.invalidateCatalog(ctx, productCacheKey)
	s.logAudit(ctx, "product_update", "product", updated.ID, fmt.Sprintf("name=%s,status=%s", updated.Name, updated.Status))
	return *updated, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return err
	}
	if err := s.repo.DeleteProduct(ctx, strings.TrimSpace(id)); err != nil {
		return err
	}
	s.invalidateCatalog(ctx, productCacheKey)
	s.logAudit(ctx, "product_delete", "product", id, "")
	return nil
}

// Service offerings

func (s *Service) CreateServiceOffering(ctx context.Context, req domain.ServiceOfferingCreateRequest) (domain.ServiceOffering, error) {
	if err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.ServiceOffering{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.PriceCents < 1 {
		return domain.ServiceOffering{}, fmt.Errorf("service name and positive price are required: %w", store.ErrInvalidInput)
	}
	if req.DurationMinutes < 0 {
		return domain.ServiceOffering{}, fmt.Errorf("duration must not be negative: %w", store.ErrInvalidInput)
	}

	offering := domain.ServiceOffering{
		ID:              xid.New("SRV"),
		Name:            req.Name,
		Description:     strings.TrimSpace(req.Description),
		PriceCents:      req.PriceCents,
		DurationMinutes: req.DurationMinutes,
		Active:          true,
	}

	created, err := s.repo.CreateServiceOffering(ctx, offering)
	if err != nil {
		return domain.ServiceOffering{}, err
	}

	s.invalidateCatalog(ctx, offeringCacheKey)
	s.logAudit(ctx, "service_create", "service_offering", created.ID, fmt.Sprintf("name=%s,price=%d", created.Name, created.PriceCents))
	return *created, nil
}

func (s *Service) GetServiceOffering(ctx context.Context, id string) (domain.ServiceOffering, error) {
	offering, err := s.repo.GetServiceOfferingByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.ServiceOffering{}, err
	}
	return *offering, nil
}

func (s *Service) ListServiceOfferings(ctx context.Context, activeOnly bool) ([]domain.ServiceOffering, error) {
	if !activeOnly {
		return s.repo.ListServiceOfferings(ctx, false)
	}

	var cached []domain.ServiceOffering
	if ok, err := s.catalog.Get(ctx, offeringCacheKey, &cached); err == nil && ok {
		return cached, nil
	}
	offerings, err := s.repo.ListServiceOfferings(ctx, true)
	if err != nil {
		return nil, err
	}
	if err := s.catalog.Set(ctx, offeringCacheKey, offerings, s.catalogTTL); err != nil {
		log.Printf("[service] WARN: failed to cache service catalog: %v", err)
	}
	return offerings, nil
}

func (s *Service) UpdateServiceOffering(ctx context.Context, id string, req domain.ServiceOfferingUpdateRequest) (domain.ServiceOffering, error) {
	if err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.ServiceOffering{}, err
	}

	existing, err := s.repo.GetServiceOfferingByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.ServiceOffering{}, err
	}

	offering := *existing
	if req.Name != nil {
		offering.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		offering.Description = strings.TrimSpace(*req.Description)
	}
	if req.PriceCents != nil {
		offering.PriceCents = *req.PriceCents
	}
	if req.DurationMinutes != nil {
		offering.DurationMinutes = *req.DurationMinutes
	}
	if offering.Name == "" || offering.PriceCents < 1 || offering.DurationMinutes < 0 {
		return domain.ServiceOffering{}, fmt.Errorf("service name and positive price are required: %w", store.ErrInvalidInput)
	}

	updated, err := s.repo.UpdateServiceOffering(ctx, offering)
	if err != nil {
		return domain.ServiceOffering{}, err
	}

	s.invalidateCatalog(ctx, offeringCacheKey)
	s.logAudit(ctx, "service_update", "service_offering", updated.ID, fmt.Sprintf("name=%s", updated.Name))
	return *updated, nil
}

func (s *Service) SetServiceOfferingActive(ctx context.Context, id string, active bool) (domain.ServiceOffering, error) {
	if err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.ServiceOffering{}, err
	}

	existing, err := s.repo.GetServiceOfferingByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.ServiceOffering{}, err
	}
	offering := *existing
	offering.Active = active

	updated, err := s.repo.UpdateServiceOffering(ctx, offering)
	if err != nil {
		return domain.ServiceOffering{}, err
	}

	s.invalidateCatalog(ctx, offeringCacheKey)
	s.logAudit(ctx, "service_toggle", "service_offering", updated.ID, fmt.Sprintf("active=%t", active))
	return *updated, nil
}

func (s *Service) DeleteServiceOffering(ctx context.Context, id string) error {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return err
	}
	if err := s.repo.DeleteServiceOffering(ctx, strings.TrimSpace(id)); err != nil {
		return err
	}
	s.invalidateCatalog(ctx, offeringCacheKey)
	s.logAudit(ctx, "service_delete", "service_offering", id, "")
	return nil
}

// Inventory

func (s *Service) CreateInventoryItem(ctx context.Context, req domain.InventoryItemCreateRequest) (domain.InventoryItem, error) {
	if err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.InventoryItem{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.UnitPriceCents < 1 || req.Quantity < 0 {
		return domain.InventoryItem{}, fmt.Errorf("item name, positive price and non-negative quantity are required: %w", store.ErrInvalidInput)
	}

	item := domain.InventoryItem{
		ID:             xid.New("ITEM"),
		Name:           req.Name,
		Category:       strings.TrimSpace(req.Category),
		Unit:           defaultString(req.Unit, "pcs"),
		UnitPriceCents: req.UnitPriceCents,
		Quantity:       req.Quantity,
	}

	created, err := s.repo.CreateInventoryItem(ctx, item)
	if err != nil {
		return domain.InventoryItem{}, err
	}

	s.logAudit(ctx, "inventory_create", "inventory_item", created.ID, fmt.Sprintf("name=%s,qty=%d", created.Name, created.Quantity))
	return *created, nil
}

func (s *Service) GetInventoryItem(ctx context.Context, id string) (domain.InventoryItem, error) {
	item, err := s.repo.GetInventoryItemByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.InventoryItem{}, err
	}
	return *item, nil
}

func (s *Service) ListInventoryItems(ctx context.Context, query string, limit int) ([]domain.InventoryItem, error) {
	if strings.TrimSpace(query) != "" {
		return s.repo.SearchInventoryItems(ctx, query, limit)
	}
	return s.repo.ListInventoryItems(ctx, limit)
}

func (s *Service) ListInventoryByCategory(ctx context.Context, category string) ([]domain.InventoryItem, error) {
	if strings.TrimSpace(category) == "" {
		return nil, fmt.Errorf("category is required: %w", store.ErrInvalidInput)
	}
	return s.repo.ListInventoryByCategory(ctx, category)
}

func (s *Service) ListLowStockItems(ctx context.Context, threshold int) ([]domain.InventoryItem, error) {
	if threshold < 1 {
		threshold = s.lowStockThreshold
	}
	return s.repo.ListLowStockItems(ctx, threshold)
}

func (s *Service) UpdateInventoryItem(ctx context.Context, id string, req domain.InventoryItemUpdateRequest) (domain.InventoryItem, error) {
	if err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.InventoryItem{}, err
	}

	existing, err := s.repo.GetInventoryItemByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.InventoryItem{}, err
	}

	item := *existing
	if req.Name != nil {
		item.Name = strings.TrimSpace(*req.Name)
	}
	if req.Category != nil {
		item.Category = strings.TrimSpace(*req.Category)
	}
	if req.Unit != nil {
		item.Unit = strings.TrimSpace(*req.Unit)
	}
	if req.UnitPriceCents != nil {
		item.UnitPriceCents = *req.UnitPriceCents
	}
	if item.Name == "" || item.UnitPriceCents < 1 {
		return domain.InventoryItem{}, fmt.Errorf("item name and positive price are required: %w", store.ErrInvalidInput)
	}

	updated, err := s.repo.UpdateInventoryItem(ctx, item)
	if err != nil {
		return domain.InventoryItem{}, err
	}

	s.logAudit(ctx, "inventory_update", "inventory_item", updated.ID, fmt.Sprintf("name=%s", updated.Name))
	return *updated, nil
}

func (s *Service) DeleteInventoryItem(ctx context.Context, id string) error {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return err
	}
	if err := s.repo.DeleteInventoryItem(ctx, strings.TrimSpace(id)); err != nil {
		return err
	}
	s.logAudit(ctx, "inventory_delete", "inventory_item", id, "")
	return nil
}

// AdjustInventoryQuantity moves the ledger by delta for a single item. The
// non-negative invariant is enforced by the store inside its transaction
// boundary.
func (s *Service) AdjustInventoryQuantity(ctx context.Context, id string, delta int) (domain.InventoryItem, error) {
	if err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager, domain.RoleEmployee); err != nil {
		return domain.InventoryItem{}, err
	}
	if delta == 0 {
		return domain.InventoryItem{}, fmt.Errorf("delta must not be zero: %w", store.ErrInvalidInput)
	}

	adjusted, err := s.repo.AdjustInventoryQuantity(ctx, strings.TrimSpace(id), delta)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			metrics.InsufficientStockTotal.WithLabelValues("adjust").Inc()
		}
		return domain.InventoryItem{}, err
	}

	s.logAudit(ctx, "inventory_adjust", "inventory_item", adjusted.ID, fmt.Sprintf("delta=%d,qty=%d", delta, adjusted.Quantity))
	return *adjusted, nil
}

// GetRestockSuggestions ranks items worth reordering based on the current
// ledger and the last 30 days of sales.
func (s *Service) GetRestockSuggestions(ctx context.Context) ([]domain.RestockSuggestion, error) {
	if err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager, domain.RoleEmployee); err != nil {
		return nil, err
	}

	items, err := s.repo.ListInventoryItems(ctx, 0)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	recent, err := s.repo.ListSalesInPeriod(ctx, now.AddDate(0, 0, -30), now)
	if err != nil {
		return nil, err
	}

	return s.advisor.Suggest(ctx, items, recent, s.lowStockThreshold), nil
}

// Sales transactions

func (s *Service) CreateSalesTransaction(ctx context.Context, req domain.SalesCreateRequest) (domain.SalesTransaction, error) {
	customerID := strings.TrimSpace(req.CustomerID)
	if customerID != "" {
		if _, err := s.repo.GetCustomerByID(ctx, customerID); err != nil {
			return domain.SalesTransaction{}, fmt.Errorf("customer %s: %w", customerID, err)
		}
	}

	taxRate := req.TaxRatePercent
	if taxRate < 0 {
		return domain.SalesTransaction{}, fmt.Errorf("tax rate must not be negative: %w", store.ErrInvalidInput)
	}
	if taxRate == 0 {
		taxRate = s.defaultTaxPercent
	}

	tx := domain.SalesTransaction{
		ID:             xid.New("TRX"),
		CustomerID:     customerID,
		Status:         domain.SalesStatusDraft,
		TaxRatePercent: taxRate,
		Notes:          strings.TrimSpace(req.Notes),
		CreatedAt:      time.Now().UTC(),
	}

	created, err := s.repo.CreateSalesTransaction(ctx, tx)
	if err != nil {
		return domain.SalesTransaction{}, err
	}

	metrics.SalesCreatedTotal.Inc()
	s.logAudit(ctx, "sales_create", "sales_transaction", created.ID, fmt.Sprintf("customer=%s", customerID))
	return *created, nil
}

func (s *Service) GetSalesTransaction(ctx context.Context, id string) (domain.SalesTransaction, error) {
	tx, err := s.repo.GetSalesTransactionByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.SalesTransaction{}, err
	}
	return *tx, nil
}

func (s *Service) ListSalesTransactions(ctx context.Context, limit int) ([]domain.SalesTransaction, error) {
	return s.repo.ListSalesTransactions(ctx, limit)
}

func (s *Service) ListSalesByCustomer(ctx context.Context, customerID string) ([]domain.SalesTransaction, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, fmt.Errorf("customer id is required: %w", store.ErrInvalidInput)
	}
	return s.repo.ListSalesByCustomer(ctx, customerID)
}

func (s *Service) ListSalesByStatus(ctx context.Context, status string) ([]domain.SalesTransaction, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if !domain.IsValidSalesStatus(status) {
		return nil, fmt.Errorf("unknown sales status %q: %w", status, store.ErrInvalidInput)
	}
	return s.repo.ListSalesByStatus(ctx, status)
}

func (s *Service) ListSalesInPeriod(ctx context.Context, from time.Time, to time.Time) ([]domain.SalesTransaction, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("period start must be before end: %w", store.ErrInvalidInput)
	}
	return s.repo.ListSalesInPeriod(ctx, from, to)
}

// AddSalesItem appends or merges a product line. When the request carries no
// unit price the item's catalog price is used.
func (s *Service) AddSalesItem(ctx context.Context, txID string, req domain.SalesLineRequest) (domain.SalesTransaction, error) {
	if req.Quantity < 1 {
		return domain.SalesTransaction{}, fmt.Errorf("quantity must be at least 1: %w", store.ErrInvalidInput)
	}

	item, err := s.repo.GetInventoryItemByID(ctx, strings.TrimSpace(req.RefID))
	if err != nil {
		return domain.SalesTransaction{}, fmt.Errorf("inventory item %s: %w", req.RefID, err)
	}

	unitPrice := req.UnitPriceCents
	if unitPrice <= 0 {
		unitPrice = item.UnitPriceCents
	}

	line := domain.TransactionLine{
		RefID:          item.ID,
		LineType:       domain.LineTypeProduct,
		Name:           item.Name,
		Quantity:       req.Quantity,
		UnitPriceCents: unitPrice,
	}

	updated, err := s.repo.AddSalesLine(ctx, strings.TrimSpace(txID), line)
	if err != nil {
		return domain.SalesTransaction{}, err
	}
	return *updated, nil
}

// AddSalesService appends or merges a service line from the offering catalog.
func (s *Service) AddSalesService(ctx context.Context, txID string, req domain.SalesLineRequest) (domain.SalesTransaction, error) {
	if req.Quantity < 1 {
		return domain.SalesTransaction{}, fmt.Errorf("quantity must be at least 1: %w", store.ErrInvalidInput)
	}

	offering, err := s.repo.GetServiceOfferingByID(ctx, strings.TrimSpace(req.RefID))
	if err != nil {
		return domain.SalesTransaction{}, fmt.Errorf("service offering %s: %w", req.RefID, err)
	}
	if !offering.Active {
		return domain.SalesTransaction{}, fmt.Errorf("service offering %s is inactive: %w", offering.ID, store.ErrInvalidState)
	}

	unitPrice := req.UnitPriceCents
	if unitPrice <= 0 {
		unitPrice = offering.PriceCents
	}

	line := domain.TransactionLine{
		RefID:          offering.ID,
		LineType:       domain.LineTypeService,
		Name:           offering.Name,
		Quantity:       req.Quantity,
		UnitPriceCents: unitPrice,
	}

	updated, err := s.repo.AddSalesLine(ctx, strings.TrimSpace(txID), line)
	if err != nil {
		return domain.SalesTransaction{}, err
	}
	return *updated, nil
}

func (s *Service) RemoveSalesItem(ctx context.Context, txID string, refID string) (domain.SalesTransaction, error) {
	updated, err := s.repo.RemoveSalesLine(ctx, strings.TrimSpace(txID), strings.TrimSpace(refID))
	if err != nil {
		return domain.SalesTransaction{}, err
	}
	return *updated, nil
}

func (s *Service) UpdateSalesItemQuantity(ctx context.Context, txID string, refID string, quantity int) (domain.SalesTransaction, error) {
	if quantity < 1 {
		return domain.SalesTransaction{}, fmt.Errorf("quantity must be at least 1: %w", store.ErrInvalidInput)
	}
	updated, err := s.repo.UpdateSalesLineQuantity(ctx, strings.TrimSpace(txID), strings.TrimSpace(refID), quantity)
	if err != nil {
		return domain.SalesTransaction{}, err
	}
	return *updated, nil
}

func (s *Service) ApplySalesItemDiscount(ctx context.Context, txID string, refID string, discountCents int64) (domain.SalesTransaction, error) {
	if discountCents < 0 {
		return domain.SalesTransaction{}, fmt.Errorf("discount must not be negative: %w", store.ErrInvalidInput)
	}
	updated, err := s.repo.ApplySalesLineDiscount(ctx, strings.TrimSpace(txID), strings.TrimSpace(refID), discountCents)
	if err != nil {
		return domain.SalesTransaction{}, err
	}
	return *updated, nil
}

// ProcessSalesPayment completes a transaction: the payment record, the status
// flip and the stock decrement commit atomically in the store.
func (s *Service) ProcessSalesPayment(ctx context.Context, txID string, req domain.SalesPaymentRequest) (domain.SalesTransaction, error) {
	method := strings.ToLower(strings.TrimSpace(req.Method))
	if !domain.IsSupportedPaymentMethod(method) {
		return domain.SalesTransaction{}, fmt.Errorf("unsupported payment method %q: %w", method, store.ErrInvalidInput)
	}
	if req.AmountCents < 1 {
		return domain.SalesTransaction{}, fmt.Errorf("payment amount must be positive: %w", store.ErrInvalidInput)
	}

	payment := domain.PaymentTransaction{
		ID:          xid.New("PAY"),
		AmountCents: req.AmountCents,
		Method:      method,
		Reference:   strings.TrimSpace(req.Reference),
	}

	completed, err := s.repo.CompleteSalesPayment(ctx, strings.TrimSpace(txID), payment, time.Now().UTC())
	if err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			metrics.InsufficientStockTotal.WithLabelValues("payment").Inc()
		}
		return domain.SalesTransaction{}, err
	}

	metrics.SalesCompletedTotal.Inc()
	metrics.PaymentAmountCents.Observe(float64(req.AmountCents))
	s.logAudit(ctx, "sales_payment", "sales_transaction", completed.ID, fmt.Sprintf("method=%s,amount=%d", method, req.AmountCents))
	return *completed, nil
}

func (s *Service) VoidSalesTransaction(ctx context.Context, txID string) (domain.SalesTransaction, error) {
	voided, err := s.repo.VoidSalesTransaction(ctx, strings.TrimSpace(txID))
	if err != nil {
		return domain.SalesTransaction{}, err
	}

	metrics.SalesVoidedTotal.Inc()
	s.logAudit(ctx, "sales_void", "sales_transaction", voided.ID, "")
	return *voided, nil
}

// ProcessSalesReturn reverses a completed transaction: refund record, stock
// increments and the status flip commit atomically in the store.
func (s *Service) ProcessSalesReturn(ctx context.Context, txID string) (domain.SalesTransaction, domain.PaymentTransaction, error) {
	returned, refund, err := s.repo.ReturnSalesTransaction(ctx, strings.TrimSpace(txID), time.Now().UTC())
	if err != nil {
		return domain.SalesTransaction{}, domain.PaymentTransaction{}, err
	}

	metrics.SalesReturnedTotal.Inc()
	s.logAudit(ctx, "sales_return", "sales_transaction", returned.ID, fmt.Sprintf("refund=%d", refund.AmountCents))
	return *returned, *refund, nil
}

func (s *Service) ListSalesPayments(ctx context.Context, txID string) ([]domain.PaymentTransaction, error) {
	return s.repo.ListPaymentsByTransaction(ctx, strings.TrimSpace(txID))
}

// Orders

func (s *Service) CreateOrder(ctx context.Context, req domain.OrderCreateRequest) (domain.OrderTransaction, error) {
	customerID := strings.TrimSpace(req.CustomerID)
	if customerID != "" {
		if _, err := s.repo.GetCustomerByID(ctx, customerID); err != nil {
			return domain.OrderTransaction{}, fmt.Errorf("customer %s: %w", customerID, err)
		}
	}
	if req.ShippingCostCents < 0 {
		return domain.OrderTransaction{}, fmt.Errorf("shipping cost must not be negative: %w", store.ErrInvalidInput)
	}

	taxRate := req.TaxRatePercent
	if taxRate < 0 {
		return domain.OrderTransaction{}, fmt.Errorf("tax rate must not be negative: %w", store.ErrInvalidInput)
	}
	if taxRate == 0 {
		taxRate = s.defaultTaxPercent
	}

	order := domain.OrderTransaction{
		ID:                xid.New("ORD"),
		CustomerID:        customerID,
		Status:            domain.OrderStatusPending,
		ShippingAddress:   strings.TrimSpace(req.ShippingAddress),
		ShippingCostCents: req.ShippingCostCents,
		TaxRatePercent:    taxRate,
		CreatedAt:         time.Now().UTC(),
	}

	if estimated := strings.TrimSpace(req.EstimatedDeliveryDate); estimated != "" {
		parsed, err := time.Parse("2006-01-02", estimated)
		if err != nil {
			return domain.OrderTransaction{}, fmt.Errorf("estimated delivery date must be YYYY-MM-DD: %w", store.ErrInvalidInput)
		}
		order.EstimatedDeliveryDate = &parsed
	}

	created, err := s.repo.CreateOrder(ctx, order)
	if err != nil {
		return domain.OrderTransaction{}, err
	}

	metrics.OrdersCreatedTotal.Inc()
	s.logAudit(ctx, "order_create", "order", created.ID, fmt.Sprintf("customer=%s", customerID))
	return *created, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (domain.OrderTransaction, error) {
	order, err := s.repo.GetOrderByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.OrderTransaction{}, err
	}
	return *order, nil
}

func (s *Service) ListOrders(ctx context.Context, limit int) ([]domain.OrderTransaction, error) {
	return s.repo.ListOrders(ctx, limit)
}

func (s *Service) ListOrdersByCustomer(ctx context.Context, customerID string) ([]domain.OrderTransaction, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, fmt.Errorf("customer id is required: %w", store.ErrInvalidInput)
	}
	return s.repo.ListOrdersByCustomer(ctx, customerID)
}

func (s *Service) ListOrdersByStatus(ctx context.Context, status string) ([]domain.OrderTransaction, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if !domain.IsValidOrderStatus(status) {
		return nil, fmt.Errorf("unknown order status %q: %w", status, store.ErrInvalidInput)
	}
	return s.repo.ListOrdersByStatus(ctx, status)
}

// AddOrderItem appends or merges an order line after checking ledger
// availability. Stock is only reserved logically; the ledger itself moves on
// sales payment, not on order placement.
func (s *Service) AddOrderItem(ctx context.Context, orderID string, req domain.OrderItemRequest) (domain.OrderTransaction, error) {
	if req.Quantity < 1 {
		return domain.OrderTransaction{}, fmt.Errorf("quantity must be at least 1: %w", store.ErrInvalidInput)
	}
	if req.DiscountCents < 0 {
		return domain.OrderTransaction{}, fmt.Errorf("discount must not be negative: %w", store.ErrInvalidInput)
	}

	item, err := s.repo.GetInventoryItemByID(ctx, strings.TrimSpace(req.ItemID))
	if err != nil {
		return domain.OrderTransaction{}, fmt.Errorf("inventory item %s: %w", req.ItemID, err)
	}

	unitPrice := req.UnitPriceCents
	if unitPrice <= 0 {
		unitPrice = item.UnitPriceCents
	}
	if req.DiscountCents > unitPrice*int64(req.Quantity) {
		return domain.OrderTransaction{}, fmt.Errorf("discount exceeds line subtotal: %w", store.ErrInvalidInput)
	}

	orderItem := domain.OrderItem{
		ItemID:         item.ID,
		Name:           item.Name,
		Quantity:       req.Quantity,
		UnitPriceCents: unitPrice,
		DiscountCents:  req.DiscountCents,
	}

	updated, err := s.repo.AddOrderItem(ctx, strings.TrimSpace(orderID), orderItem)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			metrics.InsufficientStockTotal.WithLabelValues("order_item").Inc()
		}
		return domain.OrderTransaction{}, err
	}
	return *updated, nil
}

func (s *Service) UpdateOrderStatus(ctx context.Context, orderID string, status string) (domain.OrderTransaction, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if !domain.IsValidOrderStatus(status) {
		return domain.OrderTransaction{}, fmt.Errorf("unknown order status %q: %w", status, store.ErrInvalidInput)
	}

	updated, err := s.repo.UpdateOrderStatus(ctx, strings.TrimSpace(orderID), status, time.Now().UTC())
	if err != nil {
		return domain.OrderTransaction{}, err
	}

	s.logAudit(ctx, "order_status", "order", updated.ID, fmt.Sprintf("status=%s", status))
	return *updated, nil
}

// UpdateOrderTracking stores the tracking number and marks the order shipped.
func (s *Service) UpdateOrderTracking(ctx context.Context, orderID string, trackingNumber string) (domain.OrderTransaction, error) {
	trackingNumber = strings.TrimSpace(trackingNumber)
	if trackingNumber == "" {
		return domain.OrderTransaction{}, fmt.Errorf("tracking number is required: %w", store.ErrInvalidInput)
	}

	updated, err := s.repo.UpdateOrderTracking(ctx, strings.TrimSpace(orderID), trackingNumber, time.Now().UTC())
	if err != nil {
		return domain.OrderTransaction{}, err
	}

	s.logAudit(ctx, "order_tracking", "order", updated.ID, fmt.Sprintf("tracking=%s", trackingNumber))
	return *updated, nil
}

func (s *Service) CancelOrder(ctx context.Context, orderID string) (domain.OrderTransaction, error) {
	cancelled, err := s.repo.CancelOrder(ctx, strings.TrimSpace(orderID), time.Now().UTC())
	if err != nil {
		return domain.OrderTransaction{}, err
	}

	metrics.OrdersCancelledTotal.Inc()
	s.logAudit(ctx, "order_cancel", "order", cancelled.ID, "")
	return *cancelled, nil
}

func (s *Service) RefundOrder(ctx context.Context, orderID string) (domain.OrderTransaction, error) {
	refunded, err := s.repo.RefundOrder(ctx, strings.TrimSpace(orderID), time.Now().UTC())
	if err != nil {
		return domain.OrderTransaction{}, err
	}

	metrics.OrdersRefundedTotal.Inc()
	s.logAudit(ctx, "order_refund", "order", refunded.ID, "")
	return *refunded, nil
}

// Audit + reporting

func (s *Service) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}
	if !from.Before(to) {
		return nil, fmt.Errorf("period start must be before end: %w", store.ErrInvalidInput)
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) GetSalesReport(ctx context.Context, from time.Time, to time.Time) (domain.SalesReport, error) {
	if err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.SalesReport{}, err
	}
	if !from.Before(to) {
		return domain.SalesReport{}, fmt.Errorf("period start must be before end: %w", store.ErrInvalidInput)
	}
	return s.repo.GetSalesReport(ctx, from, to)
}

// logAudit records a best-effort audit entry; failures are logged, never
// surfaced to the caller.
func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, _ := ActorFromContext(ctx)
	entry := domain.AuditLog{
		ID:            xid.New("AUD"),
		ActorUsername: defaultString(actor.Username, "system"),
		ActorRole:     defaultString(actor.Role, "system"),
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		log.Printf("[service] WARN: failed to write audit log action=%s entity=%s: %v", action, entityID, err)
	}
}

func (s *Service) invalidateCatalog(ctx context.Context, keys ...string) {
	if err := s.catalog.Delete(ctx, keys...); err != nil {
		log.Printf("[service] WARN: failed to invalidate catalog cache: %v", err)
	}
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func truncateList[T any](list []T, limit int) []T {
	if limit > 0 && len(list) > limit {
		return list[:limit]
	}
	return list
}
