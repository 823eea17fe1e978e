package domain

import "time"

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CustomerCreateRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type CustomerUpdateRequest struct {
	Name    *string `json:"name,omitempty"`
	Email   *string `json:"email,omitempty"`
	Phone   *string `json:"phone,omitempty"`
	Address *string `json:"address,omitempty"`
}

type Product struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	Category       string    `json:"category"`
	Barcode        string    `json:"barcode,omitempty"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type ProductCreateRequest struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	Category       string `json:"category"`
	Barcode        string `json:"barcode"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type ProductUpdateRequest struct {
	Name           *string `json:"name,omitempty"`
	Description    *string `json:"description,omitempty"`
	Category       *string `json:"category,omitempty"`
	Barcode        *string `json:"barcode,omitempty"`
	UnitPriceCents *int64  `json:"unit_price_cents,omitempty"`
	Status         *string `json:"status,omitempty"`
}

type InventoryItem struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Category       string    `json:"category"`
	Unit           string    `json:"unit"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	Quantity       int       `json:"quantity"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type InventoryItemCreateRequest struct {
	Name           string `json:"name"`
	Category       string `json:"category"`
	Unit           string `json:"unit"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Quantity       int    `json:"quantity"`
}

type InventoryItemUpdateRequest struct {
	Name           *string `json:"name,omitempty"`
	Category       *string `json:"category,omitempty"`
	Unit           *string `json:"unit,omitempty"`
	UnitPriceCents *int64  `json:"unit_price_cents,omitempty"`
}

type InventoryAdjustRequest struct {
	Delta int `json:"delta"`
}

type ServiceOffering struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	PriceCents      int64     `json:"price_cents"`
	DurationMinutes int       `json:"duration_minutes"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type ServiceOfferingCreateRequest struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	PriceCents      int64  `json:"price_cents"`
	DurationMinutes int    `json:"duration_minutes"`
}

type ServiceOfferingUpdateRequest struct {
	Name            *string `json:"name,omitempty"`
	Description     *string `json:"description,omitempty"`
	PriceCents      *int64  `json:"price_cents,omitempty"`
	DurationMinutes *int    `json:"duration_minutes,omitempty"`
}

type ServiceOfferingActiveRequest struct {
	Active bool `json:"active"`
}

// TransactionLine is a single product or service line inside a sales
// transaction. LineType discriminates the two kinds; RefID points at the
// inventory item or the service offering.
type TransactionLine struct {
	RefID          string `json:"ref_id"`
	LineType       string `json:"line_type"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	DiscountCents  int64  `json:"discount_cents"`
	SubtotalCents  int64  `json:"subtotal_cents"`
}

type SalesTransaction struct {
	ID              string            `json:"id"`
	CustomerID      string            `json:"customer_id,omitempty"`
	Status          string            `json:"status"`
	Lines           []TransactionLine `json:"lines"`
	TaxRatePercent  float64           `json:"tax_rate_percent"`
	SubtotalCents   int64             `json:"subtotal_cents"`
	TaxCents        int64             `json:"tax_cents"`
	TotalCents      int64             `json:"total_cents"`
	PaymentMethod   string            `json:"payment_method,omitempty"`
	AmountPaidCents int64             `json:"amount_paid_cents"`
	Notes           string            `json:"notes,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
}

type SalesCreateRequest struct {
	CustomerID     string  `json:"customer_id"`
	TaxRatePercent float64 `json:"tax_rate_percent"`
	Notes          string  `json:"notes"`
}

type SalesLineRequest struct {
	RefID          string `json:"ref_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type SalesQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type SalesDiscountRequest struct {
	DiscountCents int64 `json:"discount_cents"`
}

type SalesPaymentRequest struct {
	Method      string `json:"method"`
	AmountCents int64  `json:"amount_cents"`
	Reference   string `json:"reference"`
}

type PaymentTransaction struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	AmountCents   int64     `json:"amount_cents"`
	Method        string    `json:"method"`
	Status        string    `json:"status"`
	Reference     string    `json:"reference,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type OrderItem struct {
	ItemID         string `json:"item_id"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	DiscountCents  int64  `json:"discount_cents"`
	SubtotalCents  int64  `json:"subtotal_cents"`
}

type OrderTransaction struct {
	ID                    string      `json:"id"`
	CustomerID            string      `json:"customer_id,omitempty"`
	Status                string      `json:"status"`
	Items                 []OrderItem `json:"items"`
	ShippingAddress       string      `json:"shipping_address,omitempty"`
	ShippingCostCents     int64       `json:"shipping_cost_cents"`
	TaxRatePercent        float64     `json:"tax_rate_percent"`
	SubtotalCents         int64       `json:"subtotal_cents"`
	TaxCents              int64       `json:"tax_cents"`
	TotalCents            int64       `json:"total_cents"`
	TrackingNumber        string      `json:"tracking_number,omitempty"`
	EstimatedDeliveryDate *time.Time  `json:"estimated_delivery_date,omitempty"`
	ActualDeliveryDate    *time.Time  `json:"actual_delivery_date,omitempty"`
	CreatedAt             time.Time   `json:"created_at"`
	UpdatedAt             time.Time   `json:"updated_at"`
}

type OrderCreateRequest struct {
	CustomerID            string  `json:"customer_id"`
	ShippingAddress       string  `json:"shipping_address"`
	ShippingCostCents     int64   `json:"shipping_cost_cents"`
	TaxRatePercent        float64 `json:"tax_rate_percent"`
	EstimatedDeliveryDate string  `json:"estimated_delivery_date"`
}

type OrderItemRequest struct {
	ItemID         string `json:"item_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	DiscountCents  int64  `json:"discount_cents"`
}

type OrderStatusRequest struct {
	Status string `json:"status"`
}

type OrderTrackingRequest struct {
	TrackingNumber string `json:"tracking_number"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Username    string `json:"username"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

type Actor struct {
	Username string
	Role     string
}

type User struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	FullName    string     `json:"full_name,omitempty"`
	Email       string     `json:"email,omitempty"`
	Role        string     `json:"role"`
	Active      bool       `json:"active"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// UserAccount is the persistence model for auth credentials. PasswordHash
// never leaves the store/auth boundary.
type UserAccount struct {
	ID           string
	Username     string
	PasswordHash string
	FullName     string
	Email        string
	Role         string
	Active       bool
	LastLoginAt  *time.Time
	CreatedAt    time.Time
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

type UserUpdateRequest struct {
	FullName *string `json:"full_name,omitempty"`
	Email    *string `json:"email,omitempty"`
	Role     *string `json:"role,omitempty"`
	Active   *bool   `json:"active,omitempty"`
}

type PasswordChangeRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type PasswordResetRequest struct {
	NewPassword string `json:"new_password"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type RestockSuggestion struct {
	ItemID            string  `json:"item_id"`
	Name              string  `json:"name"`
	Category          string  `json:"category"`
	Quantity          int     `json:"quantity"`
	SoldLast30Days    int     `json:"sold_last_30_days"`
	SuggestedOrderQty int     `json:"suggested_order_qty"`
	Urgency           float64 `json:"urgency"`
	ReasonCode        string  `json:"reason_code"`
}

type SalesReportPayment struct {
	Method       string `json:"method"`
	Transactions int64  `json:"transactions"`
	TotalCents   int64  `json:"total_cents"`
}

type SalesReportStatus struct {
	Status       string `json:"status"`
	Transactions int64  `json:"transactions"`
}

type SalesReport struct {
	From            string               `json:"from"`
	To              string               `json:"to"`
	Transactions    int64                `json:"transactions"`
	GrossSalesCents int64                `json:"gross_sales_cents"`
	TaxCents        int64                `json:"tax_cents"`
	NetSalesCents   int64                `json:"net_sales_cents"`
	RefundedCents   int64                `json:"refunded_cents"`
	ByPayment       []SalesReportPayment `json:"by_payment"`
	ByStatus        []SalesReportStatus  `json:"by_status"`
}

const (
	LineTypeProduct = "product"
	LineTypeService = "service"
)

const (
	SalesStatusDraft     = "draft"
	SalesStatusPending   = "pending"
	SalesStatusCompleted = "completed"
	SalesStatusCancelled = "cancelled"
	SalesStatusReturned  = "returned"
)

const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
	OrderStatusRefunded   = "refunded"
	OrderStatusReturned   = "returned"
)

const (
	PaymentStatusCompleted = "completed"
	PaymentStatusRefunded  = "refunded"
)

const (
	ProductStatusActive       = "active"
	ProductStatusInactive     = "inactive"
	ProductStatusDiscontinued = "discontinued"
)

const (
	RoleAdmin    = "admin"
	RoleManager  = "manager"
	RoleEmployee = "employee"
	RoleCashier  = "cashier"
)
