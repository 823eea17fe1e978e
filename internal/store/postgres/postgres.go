package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"warungpos/backend/internal/domain"
	"warungpos/backend/internal/store"
	"warungpos/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// querier lets the sales and order loaders run against either the pool or an
// open transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Customers

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, email, phone, address, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, customer.ID, customer.Name, customer.Email, customer.Phone, customer.Address, customer.CreatedAt, customer.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := customer
	return &created, nil
}

func (s *Store) GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error) {
	var customer domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, phone, address, created_at, updated_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&customer.ID, &customer.Name, &customer.Email, &customer.Phone, &customer.Address, &customer.CreatedAt, &customer.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &customer, nil
}

func (s *Store) ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error) {
	if limit < 1 {
		limit = 100
	}
	return s.queryCustomers(ctx, `
		SELECT id, name, email, phone, address, created_at, updated_at
		FROM customers
		ORDER BY name
		LIMIT $1
	`, limit)
}

func (s *Store) SearchCustomers(ctx context.Context, query string, limit int) ([]domain.Customer, error) {
	if limit < 1 {
		limit = 100
	}
	needle := "%" + strings.TrimSpace(query) + "%"
	return s.queryCustomers(ctx, `
		SELECT id, name, email, phone, address, created_at, updated_at
		FROM customers
		WHERE name ILIKE $1 OR email ILIKE $1 OR phone ILIKE $1
		ORDER BY name
		LIMIT $2
	`, needle, limit)
}

func (s *Store) queryCustomers(ctx context.Context, query string, args ...any) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 32)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" || customer.Name == "" {
		return nil, store.ErrInvalidInput
	}
	customer.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE customers
		SET name = $2, email = $3, phone = $4, address = $5, updated_at = $6
		WHERE id = $1
	`, customer.ID, customer.Name, customer.Email, customer.Phone, customer.Address, customer.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return s.GetCustomerByID(ctx, customer.ID)
}

func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// Products

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, description, category, barcode, unit_price_cents, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, product.ID, product.Name, product.Description, product.Category, nullIfEmpty(product.Barcode), product.UnitPriceCents, product.Status, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	return s.getProduct(ctx, `WHERE id = $1`, id)
}

func (s *Store) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	return s.getProduct(ctx, `WHERE barcode = $1`, barcode)
}

func (s *Store) getProduct(ctx context.Context, where string, arg any) (*domain.Product, error) {
	var product domain.Product
	var barcode sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, category, barcode, unit_price_cents, status, created_at, updated_at
		FROM products
	`+where, arg).Scan(&product.ID, &product.Name, &product.Description, &product.Category, &barcode, &product.UnitPriceCents, &product.Status, &product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if barcode.Valid {
		product.Barcode = barcode.String
	}
	return &product, nil
}

func (s *Store) ListProducts(ctx context.Context, limit int) ([]domain.Product, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, category, barcode, unit_price_cents, status, created_at, updated_at
		FROM products
		ORDER BY category, name
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, limit)
	for rows.Next() {
		var p domain.Product
		var barcode sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &barcode, &p.UnitPriceCents, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if barcode.Valid {
			p.Barcode = barcode.String
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.UnitPriceCents < 1 {
		return nil, store.ErrInvalidInput
	}
	product.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, description = $3, category = $4, barcode = $5, unit_price_cents = $6, status = $7, updated_at = $8
		WHERE id = $1
	`, product.ID, product.Name, product.Description, product.Category, nullIfEmpty(product.Barcode), product.UnitPriceCents, product.Status, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return s.GetProductByID(ctx, product.ID)
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// Service offerings

func (s *Store) CreateServiceOffering(ctx context.Context, offering domain.ServiceOffering) (*domain.ServiceOffering, error) {
	if offering.Name == "" || offering.PriceCents < 1 {
		return nil, store.ErrInvalidInput
	}
	if offering.ID == "" {
		offering.ID = xid.New("SRV")
	}
	now := time.Now().UTC()
	offering.CreatedAt = now
	offering.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO service_offerings (id, name, description, price_cents, duration_minutes, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, offering.ID, offering.Name, offering.Description, offering.PriceCents, offering.DurationMinutes, offering.Active, offering.CreatedAt, offering.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := offering
	return &created, nil
}

func (s *Store) GetServiceOfferingByID(ctx context.Context, id string) (*domain.ServiceOffering, error) {
	var offering domain.ServiceOffering
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, price_cents, duration_minutes, active, created_at, updated_at
		FROM service_offerings
		WHERE id = $1
	`, id).Scan(&offering.ID, &offering.Name, &offering.Description, &offering.PriceCents, &offering.DurationMinutes, &offering.Active, &offering.CreatedAt, &offering.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &offering, nil
}

func (s *Store) ListServiceOfferings(ctx context.Context, activeOnly bool) ([]domain.ServiceOffering, error) {
	query := `
		SELECT id, name, description, price_cents, duration_minutes, active, created_at, updated_at
		FROM service_offerings
	`
	if activeOnly {
		query += ` WHERE active = true`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	offerings := make([]domain.ServiceOffering, 0, 32)
	for rows.Next() {
		var o domain.ServiceOffering
		if err := rows.Scan(&o.ID, &o.Name, &o.Description, &o.PriceCents, &o.DurationMinutes, &o.Active, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		offerings = append(offerings, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return offerings, nil
}

func (s *Store) UpdateServiceOffering(ctx context.Context, offering domain.ServiceOffering) (*domain.ServiceOffering, error) {
	if offering.ID == "" || offering.Name == "" || offering.PriceCents < 1 {
		return nil, store.ErrInvalidInput
	}
	offering.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE service_offerings
		SET name = $2, description = $3, price_cents = $4, duration_minutes = $5, active = $6, updated_at = $7
		WHERE id = $1
	`, offering.ID, offering.Name, offering.Description, offering.PriceCents, offering.DurationMinutes, offering.Active, offering.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return s.GetServiceOfferingByID(ctx, offering.ID)
}

func (s *Store) DeleteServiceOffering(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM service_offerings WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// Inventory

func (s *Store) CreateInventoryItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	if item.Name == "" || item.UnitPriceCents < 1 || item.Quantity < 0 {
		return nil, store.ErrInvalidInput
	}
	if item.ID == "" {
		item.ID = xid.New("ITEM")
	}
	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_items (id, name, category, unit, unit_price_cents, quantity, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, item.ID, item.Name, item.Category, item.Unit, item.UnitPriceCents, item.Quantity, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := item
	return &created, nil
}

func (s *Store) GetInventoryItemByID(ctx context.Context, id string) (*domain.InventoryItem, error) {
	var item domain.InventoryItem
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, unit, unit_price_cents, quantity, created_at, updated_at
		FROM inventory_items
		WHERE id = $1
	`, id).Scan(&item.ID, &item.Name, &item.Category, &item.Unit, &item.UnitPriceCents, &item.Quantity, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListInventoryItems(ctx context.Context, limit int) ([]domain.InventoryItem, error) {
	if limit < 1 {
		limit = 100
	}
	return s.queryItems(ctx, `
		SELECT id, name, category, unit, unit_price_cents, quantity, created_at, updated_at
		FROM inventory_items
		ORDER BY category, name
		LIMIT $1
	`, limit)
}

func (s *Store) SearchInventoryItems(ctx context.Context, query string, limit int) ([]domain.InventoryItem, error) {
	if limit < 1 {
		limit = 100
	}
	needle := "%" + strings.TrimSpace(query) + "%"
	return s.queryItems(ctx, `
		SELECT id, name, category, unit, unit_price_cents, quantity, created_at, updated_at
		FROM inventory_items
		WHERE name ILIKE $1
		ORDER BY category, name
		LIMIT $2
	`, needle, limit)
}

func (s *Store) ListInventoryByCategory(ctx context.Context, category string) ([]domain.InventoryItem, error) {
	return s.queryItems(ctx, `
		SELECT id, name, category, unit, unit_price_cents, quantity, created_at, updated_at
		FROM inventory_items
		WHERE lower(category) = lower($1)
		ORDER BY name
	`, strings.TrimSpace(category))
}

func (s *Store) ListLowStockItems(ctx context.Context, threshold int) ([]domain.InventoryItem, error) {
	return s.queryItems(ctx, `
		SELECT id, name, category, unit, unit_price_cents, quantity, created_at, updated_at
		FROM inventory_items
		WHERE quantity <= $1
		ORDER BY category, name
	`, threshold)
}

func (s *Store) queryItems(ctx context.Context, query string, args ...any) ([]domain.InventoryItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.InventoryItem, 0, 64)
	for rows.Next() {
		var item domain.InventoryItem
		if err := rows.Scan(&item.ID, &item.Name, &item.Category, &item.Unit, &item.UnitPriceCents, &item.Quantity, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateInventoryItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	if item.ID == "" || item.Name == "" || item.UnitPriceCents < 1 {
		return nil, store.ErrInvalidInput
	}

	// Quantity is only mutated through the ledger adjustment.
	res, err := s.db.ExecContext(ctx, `
		UPDATE inventory_items
		SET name = $2, category = $3, unit = $4, unit_price_cents = $5, updated_at = $6
		WHERE id = $1
	`, item.ID, item.Name, item.Category, item.Unit, item.UnitPriceCents, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return s.GetInventoryItemByID(ctx, item.ID)
}

func (s *Store) DeleteInventoryItem(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM inventory_items WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}

	var referenced bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM sales_lines l
			JOIN sales_transactions t ON t.id = l.transaction_id
			WHERE l.ref_id = $1 AND l.line_type = 'product' AND t.status IN ('draft','pending')
		) OR EXISTS (
			SELECT 1
			FROM order_items i
			JOIN orders o ON o.id = i.order_id
			WHERE i.item_id = $1 AND o.status NOT IN ('cancelled','refunded','delivered')
		)
	`, id).Scan(&referenced)
	if err != nil {
		return err
	}
	if referenced {
		return store.ErrInvalidState
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM inventory_items WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) AdjustInventoryQuantity(ctx context.Context, id string, delta int) (*domain.InventoryItem, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	item, err := adjustQuantityTx(ctx, tx, id, delta)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return item, nil
}

func adjustQuantityTx(ctx context.Context, tx querier, id string, delta int) (*domain.InventoryItem, error) {
	var item domain.InventoryItem
	err := tx.QueryRowContext(ctx, `
		SELECT id, name, category, unit, unit_price_cents, quantity, created_at, updated_at
		FROM inventory_items
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&item.ID, &item.Name, &item.Category, &item.Unit, &item.UnitPriceCents, &item.Quantity, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	next := item.Quantity + delta
	if next < 0 {
		return nil, store.ErrInsufficientStock
	}

	item.Quantity = next
	item.UpdatedAt = time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE inventory_items SET quantity = $2, updated_at = $3 WHERE id = $1
	`, id, item.Quantity, item.UpdatedAt); err != nil {
		return nil, err
	}
	return &item, nil
}

// Sales transactions

func (s *Store) CreateSalesTransaction(ctx context.Context, tx domain.SalesTransaction) (*domain.SalesTransaction, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sales_transactions (
			id, customer_id, status, tax_rate_percent, subtotal_cents, tax_cents, total_cents,
			payment_method, amount_paid_cents, notes, created_at, completed_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, tx.ID, nullIfEmpty(tx.CustomerID), tx.Status, tx.TaxRatePercent, tx.SubtotalCents, tx.TaxCents, tx.TotalCents,
		nullIfEmpty(tx.PaymentMethod), tx.AmountPaidCents, tx.Notes, tx.CreatedAt, nullTime(tx.CompletedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := tx
	return &created, nil
}

func (s *Store) GetSalesTransactionByID(ctx context.Context, id string) (*domain.SalesTransaction, error) {
	return getSales(ctx, s.db, id, false)
}

func getSales(ctx context.Context, q querier, id string, forUpdate bool) (*domain.SalesTransaction, error) {
	query := `
		SELECT id, customer_id, status, tax_rate_percent, subtotal_cents, tax_cents, total_cents,
			payment_method, amount_paid_cents, notes, created_at, completed_at
		FROM sales_transactions
		WHERE id = $1
	`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var tx domain.SalesTransaction
	var customerID, paymentMethod sql.NullString
	var completedAt sql.NullTime
	err := q.QueryRowContext(ctx, query, id).Scan(&tx.ID, &customerID, &tx.Status, &tx.TaxRatePercent,
		&tx.SubtotalCents, &tx.TaxCents, &tx.TotalCents, &paymentMethod, &tx.AmountPaidCents, &tx.Notes, &tx.CreatedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if customerID.Valid {
		tx.CustomerID = customerID.String
	}
	if paymentMethod.Valid {
		tx.PaymentMethod = paymentMethod.String
	}
	if completedAt.Valid {
		completed := completedAt.Time.UTC()
		tx.CompletedAt = &completed
	}
	tx.CreatedAt = tx.CreatedAt.UTC()

	lines, err := loadSalesLines(ctx, q, id)
	if err != nil {
		return nil, err
	}
	tx.Lines = lines
	return &tx, nil
}

func loadSalesLines(ctx context.Context, q querier, txID string) ([]domain.TransactionLine, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT ref_id, line_type, name, quantity, unit_price_cents, discount_cents, subtotal_cents
		FROM sales_lines
		WHERE transaction_id = $1
		ORDER BY position
	`, txID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.TransactionLine, 0, 8)
	for rows.Next() {
		var line domain.TransactionLine
		if err := rows.Scan(&line.RefID, &line.LineType, &line.Name, &line.Quantity, &line.UnitPriceCents, &line.DiscountCents, &line.SubtotalCents); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// saveSalesState rewrites all lines and the recomputed totals in place.
func saveSalesState(ctx context.Context, q querier, tx *domain.SalesTransaction) error {
	domain.CalculateSalesTotals(tx)

	if _, err := q.ExecContext(ctx, `DELETE FROM sales_lines WHERE transaction_id = $1`, tx.ID); err != nil {
		return err
	}
	for i, line := range tx.Lines {
		_, err := q.ExecContext(ctx, `
			INSERT INTO sales_lines (transaction_id, position, ref_id, line_type, name, quantity, unit_price_cents, discount_cents, subtotal_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, tx.ID, i, line.RefID, line.LineType, line.Name, line.Quantity, line.UnitPriceCents, line.DiscountCents, line.SubtotalCents)
		if err != nil {
			return err
		}
	}

	_, err := q.ExecContext(ctx, `
		UPDATE sales_transactions
		SET status = $2, subtotal_cents = $3, tax_cents = $4, total_cents = $5,
			payment_method = $6, amount_paid_cents = $7, completed_at = $8
		WHERE id = $1
	`, tx.ID, tx.Status, tx.SubtotalCents, tx.TaxCents, tx.TotalCents,
		nullIfEmpty(tx.PaymentMethod), tx.AmountPaidCents, nullTime(tx.CompletedAt))
	return err
}

func (s *Store) ListSalesTransactions(ctx context.Context, limit int) ([]domain.SalesTransaction, error) {
	if limit < 1 {
		limit = 100
	}
	return s.querySales(ctx, `ORDER BY created_at DESC LIMIT $1`, limit)
}

func (s *Store) ListSalesByCustomer(ctx context.Context, customerID string) ([]domain.SalesTransaction, error) {
	return s.querySales(ctx, `WHERE customer_id = $1 ORDER BY created_at DESC`, customerID)
}

func (s *Store) ListSalesByStatus(ctx context.Context, status string) ([]domain.SalesTransaction, error) {
	return s.querySales(ctx, `WHERE status = $1 ORDER BY created_at DESC`, status)
}

func (s *Store) ListSalesInPeriod(ctx context.Context, from time.Time, to time.Time) ([]domain.SalesTransaction, error) {
	return s.querySales(ctx, `WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at DESC`, from, to)
}

func (s *Store) querySales(ctx context.Context, tail string, args ...any) ([]domain.SalesTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, status, tax_rate_percent, subtotal_cents, tax_cents, total_cents,
			payment_method, amount_paid_cents, notes, created_at, completed_at
		FROM sales_transactions
	`+tail, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := make([]domain.SalesTransaction, 0, 32)
	for rows.Next() {
		var tx domain.SalesTransaction
		var customerID, paymentMethod sql.NullString
		var completedAt sql.NullTime
		if err := rows.Scan(&tx.ID, &customerID, &tx.Status, &tx.TaxRatePercent, &tx.SubtotalCents, &tx.TaxCents,
			&tx.TotalCents, &paymentMethod, &tx.AmountPaidCents, &tx.Notes, &tx.CreatedAt, &completedAt); err != nil {
			return nil, err
		}
		if customerID.Valid {
			tx.CustomerID = customerID.String
		}
		if paymentMethod.Valid {
			tx.PaymentMethod = paymentMethod.String
		}
		if completedAt.Valid {
			completed := completedAt.Time.UTC()
			tx.CompletedAt = &completed
		}
		tx.CreatedAt = tx.CreatedAt.UTC()
		transactions = append(transactions, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range transactions {
		lines, err := loadSalesLines(ctx, s.db, transactions[i].ID)
		if err != nil {
			return nil, err
		}
		transactions[i].Lines = lines
	}
	return transactions, nil
}

// mutateSales runs fn against a locked sales transaction inside a serializable
// transaction and persists the result.
func (s *Store) mutateSales(ctx context.Context, txID string, fn func(tx *domain.SalesTransaction) error) (*domain.SalesTransaction, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	tx, err := getSales(ctx, pgTx, txID, true)
	if err != nil {
		return nil, err
	}
	if err := fn(tx); err != nil {
		return nil, err
	}
	if err := saveSalesState(ctx, pgTx, tx); err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *Store) AddSalesLine(ctx context.Context, txID string, line domain.TransactionLine) (*domain.SalesTransaction, error) {
	if line.RefID == "" || line.Quantity < 1 || line.UnitPriceCents < 0 {
		return nil, store.ErrInvalidInput
	}

	return s.mutateSales(ctx, txID, func(tx *domain.SalesTransaction) error {
		if !domain.CanModifySalesLines(tx.Status) {
			return store.ErrInvalidState
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
		return nil
	})
}

func (s *Store) RemoveSalesLine(ctx context.Context, txID string, refID string) (*domain.SalesTransaction, error) {
	return s.mutateSales(ctx, txID, func(tx *domain.SalesTransaction) error {
		if !domain.CanModifySalesLines(tx.Status) {
			return store.ErrInvalidState
		}

		idx := -1
		for i := range tx.Lines {
			if tx.Lines[i].RefID == refID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return store.ErrNotFound
		}
		tx.Lines = append(tx.Lines[:idx], tx.Lines[idx+1:]...)
		return nil
	})
}

func (s *Store) UpdateSalesLineQuantity(ctx context.Context, txID string, refID string, quantity int) (*domain.SalesTransaction, error) {
	if quantity < 1 {
		return nil, store.ErrInvalidInput
	}

	return s.mutateSales(ctx, txID, func(tx *domain.SalesTransaction) error {
		if !domain.CanModifySalesLines(tx.Status) {
			return store.ErrInvalidState
		}
		for i := range tx.Lines {
			if tx.Lines[i].RefID == refID {
				tx.Lines[i].Quantity = quantity
				return nil
			}
		}
		return store.ErrNotFound
	})
}

func (s *Store) ApplySalesLineDiscount(ctx context.Context, txID string, refID string, discountCents int64) (*domain.SalesTransaction, error) {
	if discountCents < 0 {
		return nil, store.ErrInvalidInput
	}

	return s.mutateSales(ctx, txID, func(tx *domain.SalesTransaction) error {
		if !domain.CanModifySalesLines(tx.Status) {
			return store.ErrInvalidState
		}
		for i := range tx.Lines {
			line := &tx.Lines[i]
			if line.RefID != refID {
				continue
			}
			if discountCents > line.UnitPriceCents*int64(line.Quantity) {
				return store.ErrInvalidInput
			}
			line.DiscountCents = discountCents
			return nil
		}
		return store.ErrNotFound
	})
}

func (s *Store) CompleteSalesPayment(ctx context.Context, txID string, payment domain.PaymentTransaction, at time.Time) (*domain.SalesTransaction, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	tx, err := getSales(ctx, pgTx, txID, true)
	if err != nil {
		return nil, err
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

	// Lock and verify every product line before touching any quantity so a
	// failure leaves the ledger untouched.
	stock := make(map[string]int, len(tx.Lines))
	for _, line := range tx.Lines {
		if line.LineType != domain.LineTypeProduct {
			continue
		}
		var qty int
		err := pgTx.QueryRowContext(ctx, `
			SELECT quantity FROM inventory_items WHERE id = $1 FOR UPDATE
		`, line.RefID).Scan(&qty)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, store.ErrNotFound
			}
			return nil, err
		}
		if qty < line.Quantity {
			return nil, store.ErrInsufficientStock
		}
		stock[line.RefID] = qty
	}
	for _, line := range tx.Lines {
		if line.LineType != domain.LineTypeProduct {
			continue
		}
		_, err := pgTx.ExecContext(ctx, `
			UPDATE inventory_items SET quantity = $2, updated_at = $3 WHERE id = $1
		`, line.RefID, stock[line.RefID]-line.Quantity, at)
		if err != nil {
			return nil, err
		}
	}

	if payment.ID == "" {
		payment.ID = xid.New("PAY")
	}
	payment.TransactionID = txID
	payment.Status = domain.PaymentStatusCompleted
	payment.CreatedAt = at
	if err := insertPayment(ctx, pgTx, payment); err != nil {
		return nil, err
	}

	completedAt := at
	tx.Status = domain.SalesStatusCompleted
	tx.PaymentMethod = payment.Method
	tx.AmountPaidCents = payment.AmountCents
	tx.CompletedAt = &completedAt
	if err := saveSalesState(ctx, pgTx, tx); err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *Store) VoidSalesTransaction(ctx context.Context, txID string) (*domain.SalesTransaction, error) {
	return s.mutateSales(ctx, txID, func(tx *domain.SalesTransaction) error {
		if !domain.CanVoidSales(tx.Status) {
			return store.ErrInvalidState
		}
		tx.Status = domain.SalesStatusCancelled
		return nil
	})
}

func (s *Store) ReturnSalesTransaction(ctx context.Context, txID string, at time.Time) (*domain.SalesTransaction, *domain.PaymentTransaction, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	tx, err := getSales(ctx, pgTx, txID, true)
	if err != nil {
		return nil, nil, err
	}
	if !domain.CanReturnSales(tx.Status) {
		return nil, nil, store.ErrInvalidState
	}

	for _, line := range tx.Lines {
		if line.LineType != domain.LineTypeProduct {
			continue
		}
		// Items removed from the catalog after the sale cannot be restocked.
		_, err := pgTx.ExecContext(ctx, `
			UPDATE inventory_items SET quantity = quantity + $2, updated_at = $3 WHERE id = $1
		`, line.RefID, line.Quantity, at)
		if err != nil {
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
	if err := insertPayment(ctx, pgTx, refund); err != nil {
		return nil, nil, err
	}

	tx.Status = domain.SalesStatusReturned
	if err := saveSalesState(ctx, pgTx, tx); err != nil {
		return nil, nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, nil, err
	}
	return tx, &refund, nil
}

func insertPayment(ctx context.Context, q querier, payment domain.PaymentTransaction) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO payments (id, transaction_id, amount_cents, method, status, reference, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, payment.ID, payment.TransactionID, payment.AmountCents, payment.Method, payment.Status, payment.Reference, payment.CreatedAt)
	return err
}

func (s *Store) ListPaymentsByTransaction(ctx context.Context, txID string) ([]domain.PaymentTransaction, error) {
	if _, err := s.GetSalesTransactionByID(ctx, txID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, amount_cents, method, status, reference, created_at
		FROM payments
		WHERE transaction_id = $1
		ORDER BY created_at
	`, txID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.PaymentTransaction, 0, 4)
	for rows.Next() {
		var p domain.PaymentTransaction
		if err := rows.Scan(&p.ID, &p.TransactionID, &p.AmountCents, &p.Method, &p.Status, &p.Reference, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payments, nil
}

// Orders

func (s *Store) CreateOrder(ctx context.Context, order domain.OrderTransaction) (*domain.OrderTransaction, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (
			id, customer_id, status, shipping_address, shipping_cost_cents, tax_rate_percent,
			subtotal_cents, tax_cents, total_cents, tracking_number,
			estimated_delivery_date, actual_delivery_date, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, order.ID, nullIfEmpty(order.CustomerID), order.Status, order.ShippingAddress, order.ShippingCostCents,
		order.TaxRatePercent, order.SubtotalCents, order.TaxCents, order.TotalCents, nullIfEmpty(order.TrackingNumber),
		nullTime(order.EstimatedDeliveryDate), nullTime(order.ActualDeliveryDate), order.CreatedAt, order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := order
	return &created, nil
}

func (s *Store) GetOrderByID(ctx context.Context, id string) (*domain.OrderTransaction, error) {
	return getOrder(ctx, s.db, id, false)
}

func getOrder(ctx context.Context, q querier, id string, forUpdate bool) (*domain.OrderTransaction, error) {
	query := `
		SELECT id, customer_id, status, shipping_address, shipping_cost_cents, tax_rate_percent,
			subtotal_cents, tax_cents, total_cents, tracking_number,
			estimated_delivery_date, actual_delivery_date, created_at, updated_at
		FROM orders
		WHERE id = $1
	`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var order domain.OrderTransaction
	var customerID, trackingNumber sql.NullString
	var estimated, actual sql.NullTime
	err := q.QueryRowContext(ctx, query, id).Scan(&order.ID, &customerID, &order.Status, &order.ShippingAddress,
		&order.ShippingCostCents, &order.TaxRatePercent, &order.SubtotalCents, &order.TaxCents, &order.TotalCents,
		&trackingNumber, &estimated, &actual, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if customerID.Valid {
		order.CustomerID = customerID.String
	}
	if trackingNumber.Valid {
		order.TrackingNumber = trackingNumber.String
	}
	if estimated.Valid {
		e := estimated.Time.UTC()
		order.EstimatedDeliveryDate = &e
	}
	if actual.Valid {
		a := actual.Time.UTC()
		order.ActualDeliveryDate = &a
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()

	items, err := loadOrderItems(ctx, q, id)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return &order, nil
}

func loadOrderItems(ctx context.Context, q querier, orderID string) ([]domain.OrderItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT item_id, name, quantity, unit_price_cents, discount_cents, subtotal_cents
		FROM order_items
		WHERE order_id = $1
		ORDER BY position
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0, 8)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ItemID, &item.Name, &item.Quantity, &item.UnitPriceCents, &item.DiscountCents, &item.SubtotalCents); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func saveOrderState(ctx context.Context, q querier, order *domain.OrderTransaction) error {
	domain.CalculateOrderTotals(order)

	if _, err := q.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, order.ID); err != nil {
		return err
	}
	for i, item := range order.Items {
		_, err := q.ExecContext(ctx, `
			INSERT INTO order_items (order_id, position, item_id, name, quantity, unit_price_cents, discount_cents, subtotal_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, order.ID, i, item.ItemID, item.Name, item.Quantity, item.UnitPriceCents, item.DiscountCents, item.SubtotalCents)
		if err != nil {
			return err
		}
	}

	_, err := q.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, subtotal_cents = $3, tax_cents = $4, total_cents = $5,
			tracking_number = $6, actual_delivery_date = $7, updated_at = $8
		WHERE id = $1
	`, order.ID, order.Status, order.SubtotalCents, order.TaxCents, order.TotalCents,
		nullIfEmpty(order.TrackingNumber), nullTime(order.ActualDeliveryDate), order.UpdatedAt)
	return err
}

func (s *Store) ListOrders(ctx context.Context, limit int) ([]domain.OrderTransaction, error) {
	if limit < 1 {
		limit = 100
	}
	return s.queryOrders(ctx, `ORDER BY created_at DESC LIMIT $1`, limit)
}

func (s *Store) ListOrdersByCustomer(ctx context.Context, customerID string) ([]domain.OrderTransaction, error) {
	return s.queryOrders(ctx, `WHERE customer_id = $1 ORDER BY created_at DESC`, customerID)
}

func (s *Store) ListOrdersByStatus(ctx context.Context, status string) ([]domain.OrderTransaction, error) {
	return s.queryOrders(ctx, `WHERE status = $1 ORDER BY created_at DESC`, status)
}

func (s *Store) queryOrders(ctx context.Context, tail string, args ...any) ([]domain.OrderTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, status, shipping_address, shipping_cost_cents, tax_rate_percent,
			subtotal_cents, tax_cents, total_cents, tracking_number,
			estimated_delivery_date, actual_delivery_date, created_at, updated_at
		FROM orders
	`+tail, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.OrderTransaction, 0, 32)
	for rows.Next() {
		var order domain.OrderTransaction
		var customerID, trackingNumber sql.NullString
		var estimated, actual sql.NullTime
		if err := rows.Scan(&order.ID, &customerID, &order.Status, &order.ShippingAddress, &order.ShippingCostCents,
			&order.TaxRatePercent, &order.SubtotalCents, &order.TaxCents, &order.TotalCents, &trackingNumber,
			&estimated, &actual, &order.CreatedAt, &order.UpdatedAt); err != nil {
			return nil, err
		}
		if customerID.Valid {
			order.CustomerID = customerID.String
		}
		if trackingNumber.Valid {
			order.TrackingNumber = trackingNumber.String
		}
		if estimated.Valid {
			e := estimated.Time.UTC()
			order.EstimatedDeliveryDate = &e
		}
		if actual.Valid {
			a := actual.Time.UTC()
			order.ActualDeliveryDate = &a
		}
		order.CreatedAt = order.CreatedAt.UTC()
		order.UpdatedAt = order.UpdatedAt.UTC()
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		items, err := loadOrderItems(ctx, s.db, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

func (s *Store) mutateOrder(ctx context.Context, orderID string, fn func(pgTx *sql.Tx, order *domain.OrderTransaction) error) (*domain.OrderTransaction, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	order, err := getOrder(ctx, pgTx, orderID, true)
	if err != nil {
		return nil, err
	}
	if err := fn(pgTx, order); err != nil {
		return nil, err
	}
	if err := saveOrderState(ctx, pgTx, order); err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Store) AddOrderItem(ctx context.Context, orderID string, item domain.OrderItem) (*domain.OrderTransaction, error) {
	if item.ItemID == "" || item.Quantity < 1 || item.UnitPriceCents < 0 || item.DiscountCents < 0 {
		return nil, store.ErrInvalidInput
	}

	return s.mutateOrder(ctx, orderID, func(pgTx *sql.Tx, order *domain.OrderTransaction) error {
		if !domain.CanModifyOrderItems(order.Status) {
			return store.ErrInvalidState
		}

		var stocked int
		err := pgTx.QueryRowContext(ctx, `
			SELECT quantity FROM inventory_items WHERE id = $1 FOR UPDATE
		`, item.ItemID).Scan(&stocked)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}

		requested := item.Quantity
		for _, existing := range order.Items {
			if existing.ItemID == item.ItemID {
				requested += existing.Quantity
			}
		}
		if stocked < requested {
			return store.ErrInsufficientStock
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
		order.UpdatedAt = time.Now().UTC()
		return nil
	})
}

func (s *Store) UpdateOrderStatus(ctx context.Context, orderID string, status string, at time.Time) (*domain.OrderTransaction, error) {
	if !domain.IsValidOrderStatus(status) {
		return nil, store.ErrInvalidInput
	}

	return s.mutateOrder(ctx, orderID, func(_ *sql.Tx, order *domain.OrderTransaction) error {
		if domain.IsTerminalOrderStatus(order.Status) {
			return store.ErrInvalidState
		}
		order.Status = status
		if status == domain.OrderStatusDelivered {
			delivered := at
			order.ActualDeliveryDate = &delivered
		}
		order.UpdatedAt = at
		return nil
	})
}

func (s *Store) UpdateOrderTracking(ctx context.Context, orderID string, trackingNumber string, at time.Time) (*domain.OrderTransaction, error) {
	if trackingNumber == "" {
		return nil, store.ErrInvalidInput
	}

	return s.mutateOrder(ctx, orderID, func(_ *sql.Tx, order *domain.OrderTransaction) error {
		if !domain.CanShipOrder(order.Status) {
			return store.ErrInvalidState
		}
		order.TrackingNumber = trackingNumber
		order.Status = domain.OrderStatusShipped
		order.UpdatedAt = at
		return nil
	})
}

func (s *Store) CancelOrder(ctx context.Context, orderID string, at time.Time) (*domain.OrderTransaction, error) {
	return s.mutateOrder(ctx, orderID, func(_ *sql.Tx, order *domain.OrderTransaction) error {
		if !domain.CanCancelOrder(order.Status) {
			return store.ErrInvalidState
		}
		order.Status = domain.OrderStatusCancelled
		order.UpdatedAt = at
		return nil
	})
}

func (s *Store) RefundOrder(ctx context.Context, orderID string, at time.Time) (*domain.OrderTransaction, error) {
	return s.mutateOrder(ctx, orderID, func(_ *sql.Tx, order *domain.OrderTransaction) error {
		if !domain.CanRefundOrder(order.Status) {
			return store.ErrInvalidState
		}
		order.Status = domain.OrderStatusRefunded
		order.UpdatedAt = at
		return nil
	})
}

// Users

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	if user.Username == "" || user.PasswordHash == "" {
		return nil, store.ErrInvalidInput
	}
	if user.ID == "" {
		user.ID = xid.New("USR")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, full_name, email, role, active, last_login_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, user.ID, user.Username, user.PasswordHash, user.FullName, user.Email, user.Role, user.Active, nullTime(user.LastLoginAt), user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := user
	return &created, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	var lastLogin sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, full_name, email, role, active, last_login_at, created_at
		FROM users
		WHERE username = $1
	`, username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.FullName, &user.Email, &user.Role, &user.Active, &lastLogin, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if lastLogin.Valid {
		login := lastLogin.Time.UTC()
		user.LastLoginAt = &login
	}
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password_hash, full_name, email, role, active, last_login_at, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		var lastLogin sql.NullTime
		if err := rows.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.FullName, &user.Email, &user.Role, &user.Active, &lastLogin, &user.CreatedAt); err != nil {
			return nil, err
		}
		if lastLogin.Valid {
			login := lastLogin.Time.UTC()
			user.LastLoginAt = &login
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	if user.Username == "" {
		return nil, store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET full_name = $2, email = $3, role = $4, active = $5
		WHERE username = $1
	`, user.Username, user.FullName, user.Email, user.Role, user.Active)
	if err != nil {
		return nil, err
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return s.GetUserByUsername(ctx, user.Username)
}

func (s *Store) DeleteUser(ctx context.Context, username string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE username = $1`, username)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2 WHERE username = $1
	`, username, passwordHash)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) UpdateUserLastLogin(ctx context.Context, username string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET last_login_at = $2 WHERE username = $1
	`, username, at)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// Audit + reporting

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("AUD")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) GetSalesReport(ctx context.Context, from time.Time, to time.Time) (domain.SalesReport, error) {
	report := domain.SalesReport{
		From: from.UTC().Format(time.RFC3339),
		To:   to.UTC().Format(time.RFC3339),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(total_cents), 0),
			COALESCE(SUM(tax_cents), 0),
			COALESCE(SUM(total_cents) FILTER (WHERE status = 'returned'), 0)
		FROM sales_transactions
		WHERE created_at >= $1 AND created_at < $2 AND status IN ('completed','returned')
	`, from, to).Scan(&report.Transactions, &report.GrossSalesCents, &report.TaxCents, &report.RefundedCents)
	if err != nil {
		return domain.SalesReport{}, err
	}
	report.NetSalesCents = report.GrossSalesCents - report.RefundedCents

	paymentRows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(payment_method, ''), COUNT(*), COALESCE(SUM(total_cents), 0)
		FROM sales_transactions
		WHERE created_at >= $1 AND created_at < $2 AND status IN ('completed','returned')
		GROUP BY payment_method
		ORDER BY payment_method
	`, from, to)
	if err != nil {
		return domain.SalesReport{}, err
	}
	defer paymentRows.Close()

	for paymentRows.Next() {
		var entry domain.SalesReportPayment
		if err := paymentRows.Scan(&entry.Method, &entry.Transactions, &entry.TotalCents); err != nil {
			return domain.SalesReport{}, err
		}
		report.ByPayment = append(report.ByPayment, entry)
	}
	if err := paymentRows.Err(); err != nil {
		return domain.SalesReport{}, err
	}

	statusRows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM sales_transactions
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY status
		ORDER BY status
	`, from, to)
	if err != nil {
		return domain.SalesReport{}, err
	}
	defer statusRows.Close()

	for statusRows.Next() {
		var entry domain.SalesReportStatus
		if err := statusRows.Scan(&entry.Status, &entry.Transactions); err != nil {
			return domain.SalesReport{}, err
		}
		report.ByStatus = append(report.ByStatus, entry)
	}
	if err := statusRows.Err(); err != nil {
		return domain.SalesReport{}, err
	}

	return report, nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
