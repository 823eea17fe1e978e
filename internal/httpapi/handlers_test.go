package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"warungpos/backend/internal/cache"
	"warungpos/backend/internal/service"
	"warungpos/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NoopCatalogCache{}, 5*time.Second, 11, 10)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*")
}

func doJSON(handler http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// loginAs authenticates one of the seeded accounts and returns a bearer token.
func loginAs(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()

	rec := doJSON(handler, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s failed with %d: %s", username, rec.Code, rec.Body.String())
	}

	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatalf("expected non-empty access token")
	}
	return resp.AccessToken
}

func fetchCSRFToken(t *testing.T, handler http.Handler) string {
	t.Helper()

	rec := doJSON(handler, http.MethodGet, "/api/v1/auth/csrf-token", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("csrf token fetch failed with %d", rec.Code)
	}
	var resp struct {
		Token string `json:"csrf_token"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode csrf response: %v", err)
	}
	return resp.Token
}

func authHeaders(token, csrf string) map[string]string {
	headers := map[string]string{"Authorization": "Bearer " + token}
	if csrf != "" {
		headers["X-CSRF-Token"] = csrf
	}
	return headers
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	rec := doJSON(handler, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	rec := doJSON(handler, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"username": "admin",
		"password": "admin123",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		AccessToken string `json:"access_token"`
		Role        string `json:"role"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatalf("expected access token in response")
	}
	if resp.Role != "admin" {
		t.Fatalf("expected role admin, got %s", resp.Role)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	rec := doJSON(handler, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"username": "admin",
		"password": "wrong-password",
	}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	rec := doJSON(handler, http.MethodGet, "/api/v1/products", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestHandleProducts_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "cashier", "cashier123")

	rec := doJSON(handler, http.MethodGet, "/api/v1/products", nil, authHeaders(token, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Products []map[string]any `json:"products"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Products) == 0 {
		t.Fatalf("expected seeded products in response")
	}
}

func TestHandleProductByBarcode(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "cashier", "cashier123")

	rec := doJSON(handler, http.MethodGet, "/api/v1/products/barcode/8991002101234", nil, authHeaders(token, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(handler, http.MethodGet, "/api/v1/products/barcode/0000000000000", nil, authHeaders(token, ""))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown barcode, got %d", rec.Code)
	}
}

func TestCustomersForbiddenForCashier(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "cashier", "cashier123")

	rec := doJSON(handler, http.MethodGet, "/api/v1/customers", nil, authHeaders(token, ""))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d", rec.Code)
	}
}

func TestSalesCheckoutFlow(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, handler)
	headers := authHeaders(token, csrf)

	rec := doJSON(handler, http.MethodPost, "/api/v1/sales", map[string]any{}, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create sale: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Transaction struct {
			ID string `json:"id"`
		} `json:"transaction"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	txID := created.Transaction.ID
	if txID == "" {
		t.Fatalf("expected transaction id")
	}

	rec = doJSON(handler, http.MethodPost, "/api/v1/sales/"+txID+"/items", map[string]any{
		"ref_id":   "ITEM-A1B2C3D4",
		"quantity": 2,
	}, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("add item: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(handler, http.MethodPost, "/api/v1/sales/"+txID+"/payment", map[string]any{
		"method":       "cash",
		"amount_cents": 10000,
	}, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("payment: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var paid struct {
		Transaction struct {
			Status     string `json:"status"`
			TotalCents int64  `json:"total_cents"`
		} `json:"transaction"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&paid); err != nil {
		t.Fatalf("decode payment response: %v", err)
	}
	if paid.Transaction.Status != "completed" {
		t.Fatalf("expected completed, got %s", paid.Transaction.Status)
	}

	rec = doJSON(handler, http.MethodGet, "/api/v1/sales/"+txID+"/payments", nil, authHeaders(token, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("payments: expected 200, got %d", rec.Code)
	}
}

func TestVoidConflictReturns409(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "admin", "admin123")
	csrf := fetchCSRFToken(t, handler)
	headers := authHeaders(token, csrf)

	rec := doJSON(handler, http.MethodPost, "/api/v1/sales", map[string]any{}, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create sale: expected 201, got %d", rec.Code)
	}
	var created struct {
		Transaction struct {
			ID string `json:"id"`
		} `json:"transaction"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	txID := created.Transaction.ID

	rec = doJSON(handler, http.MethodPost, fmt.Sprintf("/api/v1/sales/%s/items", txID), map[string]any{
		"ref_id":   "ITEM-D4E5F6A7",
		"quantity": 1,
	}, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("add item: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(handler, http.MethodPost, fmt.Sprintf("/api/v1/sales/%s/payment", txID), map[string]any{
		"method":       "cash",
		"amount_cents": 5000,
	}, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("payment: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(handler, http.MethodPost, fmt.Sprintf("/api/v1/sales/%s/void", txID), nil, headers)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 voiding a completed sale, got %d", rec.Code)
	}
}

func TestSalesLineEditEndpoints(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, handler)
	headers := authHeaders(token, csrf)

	rec := doJSON(handler, http.MethodPost, "/api/v1/sales", map[string]any{}, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create sale: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Transaction struct {
			ID string `json:"id"`
		} `json:"transaction"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	txID := created.Transaction.ID

	decodeTx := func(rec *httptest.ResponseRecorder) (string, int64) {
		t.Helper()
		var body struct {
			Transaction struct {
				Status        string `json:"status"`
				SubtotalCents int64  `json:"subtotal_cents"`
			} `json:"transaction"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode transaction: %v", err)
		}
		return body.Transaction.Status, body.Transaction.SubtotalCents
	}

	rec = doJSON(handler, http.MethodPost, "/api/v1/sales/"+txID+"/items", map[string]any{
		"ref_id":   "ITEM-A1B2C3D4",
		"quantity": 1,
	}, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("add item: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(handler, http.MethodPut, "/api/v1/sales/"+txID+"/items/ITEM-A1B2C3D4/quantity", map[string]any{
		"quantity": 3,
	}, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("update quantity: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, subtotal := decodeTx(rec); subtotal != 10500 {
		t.Fatalf("expected subtotal 10500 after quantity 3, got %d", subtotal)
	}

	rec = doJSON(handler, http.MethodPut, "/api/v1/sales/"+txID+"/items/ITEM-A1B2C3D4/discount", map[string]any{
		"discount_cents": 500,
	}, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("apply discount: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, subtotal := decodeTx(rec); subtotal != 10000 {
		t.Fatalf("expected subtotal 10000 after discount, got %d", subtotal)
	}

	rec = doJSON(handler, http.MethodPost, "/api/v1/sales/"+txID+"/services", map[string]any{
		"ref_id":   "SRV-10F1E2D3",
		"quantity": 2,
	}, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("add service: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, subtotal := decodeTx(rec); subtotal != 11000 {
		t.Fatalf("expected subtotal 11000 with service line, got %d", subtotal)
	}

	rec = doJSON(handler, http.MethodDelete, "/api/v1/sales/"+txID+"/items/ITEM-A1B2C3D4", nil, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("remove item: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, subtotal := decodeTx(rec); subtotal != 1000 {
		t.Fatalf("expected subtotal 1000 after item removal, got %d", subtotal)
	}

	rec = doJSON(handler, http.MethodPost, "/api/v1/sales/"+txID+"/void", nil, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("void: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if status, _ := decodeTx(rec); status != "cancelled" {
		t.Fatalf("expected cancelled after void, got %s", status)
	}
}

func TestOrderActionEndpoints(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "employee", "employee123")
	csrf := fetchCSRFToken(t, handler)
	headers := authHeaders(token, csrf)

	rec := doJSON(handler, http.MethodPost, "/api/v1/orders", map[string]any{
		"customer_id":         "CUS-0A1B2C3D",
		"shipping_address":    "Jl. Melati No. 5, Bandung",
		"shipping_cost_cents": 1500,
	}, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create order: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Order struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"order"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	orderID := created.Order.ID
	if created.Order.Status != "pending" {
		t.Fatalf("expected pending order, got %s", created.Order.Status)
	}

	decodeOrder := func(rec *httptest.ResponseRecorder) (string, int64) {
		t.Helper()
		var body struct {
			Order struct {
				Status     string `json:"status"`
				TotalCents int64  `json:"total_cents"`
			} `json:"order"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode order: %v", err)
		}
		return body.Order.Status, body.Order.TotalCents
	}

	rec = doJSON(handler, http.MethodPost, "/api/v1/orders/"+orderID+"/items", map[string]any{
		"item_id":  "ITEM-B2C3D4E5",
		"quantity": 2,
	}, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("add order item: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, total := decodeOrder(rec); total != 60330 {
		t.Fatalf("expected total 60330 with default tax and shipping, got %d", total)
	}

	rec = doJSON(handler, http.MethodPut, "/api/v1/orders/"+orderID+"/tracking", map[string]any{
		"tracking_number": "JNE-0099112233",
	}, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("tracking: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if status, _ := decodeOrder(rec); status != "shipped" {
		t.Fatalf("expected shipped after tracking, got %s", status)
	}

	rec = doJSON(handler, http.MethodPut, "/api/v1/orders/"+orderID+"/status", map[string]any{
		"status": "delivered",
	}, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if status, _ := decodeOrder(rec); status != "delivered" {
		t.Fatalf("expected delivered, got %s", status)
	}

	rec = doJSON(handler, http.MethodPost, "/api/v1/orders/"+orderID+"/cancel", nil, headers)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 cancelling a delivered order, got %d", rec.Code)
	}

	rec = doJSON(handler, http.MethodPost, "/api/v1/orders/"+orderID+"/refund", nil, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("refund: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if status, _ := decodeOrder(rec); status != "refunded" {
		t.Fatalf("expected refunded, got %s", status)
	}
}

func TestInventoryAdjustRequiresStaffRole(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	csrf := fetchCSRFToken(t, handler)

	cashierToken := loginAs(t, handler, "cashier", "cashier123")
	rec := doJSON(handler, http.MethodPost, "/api/v1/inventory/ITEM-A1B2C3D4/adjust", map[string]any{
		"delta": 5,
	}, authHeaders(cashierToken, csrf))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier adjust, got %d", rec.Code)
	}

	managerToken := loginAs(t, handler, "manager", "manager123")
	rec = doJSON(handler, http.MethodPost, "/api/v1/inventory/ITEM-A1B2C3D4/adjust", map[string]any{
		"delta": 5,
	}, authHeaders(managerToken, csrf))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for manager adjust, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Item struct {
			Quantity int `json:"quantity"`
		} `json:"item"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Item.Quantity != 125 {
		t.Fatalf("expected quantity 125 after +5, got %d", body.Item.Quantity)
	}
}

func TestRestockSuggestionsEndpoint(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "employee", "employee123")

	rec := doJSON(handler, http.MethodGet, "/api/v1/inventory/restock-suggestions", nil, authHeaders(token, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Suggestions []map[string]any `json:"suggestions"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Suggestions == nil {
		t.Fatalf("expected suggestions array in response")
	}
}

func TestUsersAdminOnly(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	managerToken := loginAs(t, handler, "manager", "manager123")
	rec := doJSON(handler, http.MethodGet, "/api/v1/users", nil, authHeaders(managerToken, ""))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for manager listing users, got %d", rec.Code)
	}

	adminToken := loginAs(t, handler, "admin", "admin123")
	rec = doJSON(handler, http.MethodGet, "/api/v1/users", nil, authHeaders(adminToken, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin listing users, got %d", rec.Code)
	}
}

func TestOwnPasswordChangeForAnyRole(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, handler)

	rec := doJSON(handler, http.MethodPost, "/api/v1/users/me/password", map[string]any{
		"old_password": "cashier123",
		"new_password": "kasir-baru-456",
	}, authHeaders(token, csrf))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// Old password no longer valid.
	rec = doJSON(handler, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"username": "cashier",
		"password": "cashier123",
	}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with old password, got %d", rec.Code)
	}
	loginAs(t, handler, "cashier", "kasir-baru-456")
}

func TestSalesReportJSONAndCSV(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "manager", "manager123")

	rec := doJSON(handler, http.MethodGet, "/api/v1/reports/sales", nil, authHeaders(token, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Report map[string]any `json:"report"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Report == nil {
		t.Fatalf("expected report object")
	}

	rec = doJSON(handler, http.MethodGet, "/api/v1/reports/sales?format=csv", nil, authHeaders(token, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for csv, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/csv" {
		t.Fatalf("expected text/csv content type, got %s", got)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("section,key,value")) {
		t.Fatalf("expected csv header row, got %q", rec.Body.String())
	}
}

func TestUnknownJSONFieldRejected(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "admin", "admin123")
	csrf := fetchCSRFToken(t, handler)

	rec := doJSON(handler, http.MethodPost, "/api/v1/customers", map[string]any{
		"name":     "Pak Joko",
		"nickname": "joko",
	}, authHeaders(token, csrf))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}
