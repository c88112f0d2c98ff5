package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tokopos/backend/internal/cache"
	"tokopos/backend/internal/domain"
	"tokopos/backend/internal/service"
	"tokopos/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NoopBillCache{}, "TokoPOS Test", 5*time.Minute)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*")
}

func loginToken(t *testing.T, handler http.Handler, username string, password string) string {
	t.Helper()

	payload, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return body.AccessToken
}

func authedRequest(t *testing.T, method string, path string, token string, payload any) *http.Request {
	t.Helper()

	var req *http.Request
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

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

func TestHandleLoginSuccess(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	token := loginToken(t, handler, "admin", "admin123")
	if token == "" {
		t.Fatalf("expected non-empty access token")
	}
}

func TestHandleLoginWrongPassword(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "wrong",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestLoginRateLimited(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{"username": "admin", "password": "wrong"})
	var last int
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "10.1.2.3:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after repeated attempts, got %d", last)
	}
}

func TestItemsRequireAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestCheckoutEndToEnd(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginToken(t, handler, "cashier", "cashier123")

	req := authedRequest(t, http.MethodPost, "/api/checkout", token, domain.CheckoutRequest{
		Lines: []domain.CartLine{
			{ItemID: "item-pen-01", UnitPriceCents: 3500, Qty: 2},
		},
		PaidCents: 10000,
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Bill domain.Bill `json:"bill"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Bill.TotalCents != 7000 || body.Bill.ChangeCents != 3000 {
		t.Fatalf("unexpected bill amounts: %+v", body.Bill)
	}

	// Scanned receipt lookup round-trips through the barcode endpoint.
	lookup := authedRequest(t, http.MethodGet, "/api/bills/barcode/"+body.Bill.Barcode, token, nil)
	lookupRec := httptest.NewRecorder()
	handler.ServeHTTP(lookupRec, lookup)
	if lookupRec.Code != http.StatusOK {
		t.Fatalf("barcode lookup failed: %d", lookupRec.Code)
	}

	reprint := authedRequest(t, http.MethodPost, fmt.Sprintf("/api/bills/%s/reprint", body.Bill.ID), token, nil)
	reprintRec := httptest.NewRecorder()
	handler.ServeHTTP(reprintRec, reprint)
	if reprintRec.Code != http.StatusOK {
		t.Fatalf("reprint failed: %d (body: %s)", reprintRec.Code, reprintRec.Body.String())
	}
}

func TestCheckoutInsufficientPaymentReturnsShortfall(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginToken(t, handler, "cashier", "cashier123")

	req := authedRequest(t, http.MethodPost, "/api/checkout", token, domain.CheckoutRequest{
		Lines: []domain.CartLine{
			{ItemID: "item-sabun-01", UnitPriceCents: 7400, Qty: 1},
		},
		PaidCents: 5000,
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["shortfall_cents"] != float64(2400) {
		t.Fatalf("expected shortfall 2400, got %v", body["shortfall_cents"])
	}
}

func TestCheckoutInsufficientStockReturnsConflict(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginToken(t, handler, "cashier", "cashier123")

	req := authedRequest(t, http.MethodPost, "/api/checkout", token, domain.CheckoutRequest{
		Lines: []domain.CartLine{
			{ItemID: "item-sabun-01", UnitPriceCents: 7400, Qty: 61},
		},
		PaidCents: 1000000,
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["available"] != float64(60) || body["requested"] != float64(61) {
		t.Fatalf("unexpected stock error payload: %v", body)
	}
}

func TestItemCreateForbiddenForCashier(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginToken(t, handler, "cashier", "cashier123")

	req := authedRequest(t, http.MethodPost, "/api/items", token, domain.ItemCreateRequest{
		Name: "Permen", PriceCents: 500, InitialStock: 5,
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestItemLifecycleAsAdmin(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginToken(t, handler, "admin", "admin123")

	createReq := authedRequest(t, http.MethodPost, "/api/items", token, domain.ItemCreateRequest{
		Name: "Gula Pasir 1kg", Category: "grocery", PriceCents: 15500, InitialStock: 40, LowStockAlert: 8,
	})
	createRec := httptest.NewRecorder()
	handler.ServeHTTP(createRec, createReq)
	if createRec.Code != http.StatusCreated {
		t.Fatalf("create failed: %d (body: %s)", createRec.Code, createRec.Body.String())
	}

	var created struct {
		Item domain.StockItem `json:"item"`
	}
	if err := json.NewDecoder(createRec.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}

	newPrice := int64(14900)
	patchReq := authedRequest(t, http.MethodPatch, "/api/items/"+created.Item.ID, token, domain.ItemUpdateRequest{
		PriceCents: &newPrice,
	})
	patchRec := httptest.NewRecorder()
	handler.ServeHTTP(patchRec, patchReq)
	if patchRec.Code != http.StatusOK {
		t.Fatalf("patch failed: %d (body: %s)", patchRec.Code, patchRec.Body.String())
	}

	deleteReq := authedRequest(t, http.MethodDelete, "/api/items/"+created.Item.ID, token, nil)
	deleteRec := httptest.NewRecorder()
	handler.ServeHTTP(deleteRec, deleteReq)
	if deleteRec.Code != http.StatusNoContent {
		t.Fatalf("delete failed: %d", deleteRec.Code)
	}

	getReq := authedRequest(t, http.MethodGet, "/api/items/"+created.Item.ID, token, nil)
	getRec := httptest.NewRecorder()
	handler.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", getRec.Code)
	}
}

func TestSalesReportAdminOnly(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	cashierToken := loginToken(t, handler, "cashier", "cashier123")
	req := authedRequest(t, http.MethodGet, "/api/reports/sales", cashierToken, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d", rec.Code)
	}

	adminToken := loginToken(t, handler, "admin", "admin123")
	adminReq := authedRequest(t, http.MethodGet, "/api/reports/sales", adminToken, nil)
	adminRec := httptest.NewRecorder()
	handler.ServeHTTP(adminRec, adminReq)
	if adminRec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d (body: %s)", adminRec.Code, adminRec.Body.String())
	}
}
