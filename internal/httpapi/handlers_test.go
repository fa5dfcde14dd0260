package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/ratelimit"
	"tokoledger/backend/internal/service"
	"tokoledger/backend/internal/store/memory"
)

const (
	testOwnerPassword   = "owner-test-pw"
	testCashierPassword = "cashier-test-pw"
)

// newTestAPI builds a full API over the seeded in-memory store so handler
// tests exercise the complete request path.
func newTestAPI(t *testing.T, opts ...Option) *API {
	t.Helper()
	t.Setenv("SEED_OWNER_PASSWORD", testOwnerPassword)
	t.Setenv("SEED_CASHIER_PASSWORD", testCashierPassword)

	repo := memory.NewSeeded()
	svc := service.New(repo)
	auth := NewAuthManager("test-secret-key", time.Hour, repo, zerolog.Nop())
	return New(svc, auth, "*", opts...)
}

func login(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{"username": username, "password": password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d (body: %s)", username, rec.Code, rec.Body.String())
	}
	var body domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return body.AccessToken
}

func do(t *testing.T, handler http.Handler, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("decode body: %v (raw: %s)", err, rec.Body.String())
	}
}

func TestHandleHealth(t *testing.T) {
	handler := newTestAPI(t).Handler()
	rec := do(t, handler, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	handler := newTestAPI(t).Handler()
	rec := do(t, handler, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "owner", "password": "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRoutesRequireAuth(t *testing.T) {
	handler := newTestAPI(t).Handler()
	rec := do(t, handler, http.MethodGet, "/api/v1/products", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	rec = do(t, handler, http.MethodGet, "/api/v1/products", "not-a-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec.Code)
	}
}

func TestCashierCannotTransferOrAdjust(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "cashier", testCashierPassword)

	rec := do(t, handler, http.MethodPost, "/api/v1/transfers", token, map[string]any{
		"from_branch_id": memory.DemoMainBranch, "to_branch_id": memory.DemoEastBranch,
		"items": []map[string]any{{"product_id": "p-mie", "quantity": 1}},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier transfer, got %d", rec.Code)
	}
	rec = do(t, handler, http.MethodPost, "/api/v1/stock/adjustments", token, map[string]any{
		"branch_id": memory.DemoMainBranch, "product_id": "p-mie", "delta": 5,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier adjustment, got %d", rec.Code)
	}
}

func TestSaleAndReturnFlow(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "cashier", testCashierPassword)

	rec := do(t, handler, http.MethodPost, "/api/v1/sales", token, map[string]any{
		"payment_method": "cash",
		"offline_id":     "till-1-0001",
		"items":          []map[string]any{{"product_id": "p-telur", "quantity": 3, "unit_price": "26.50"}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created struct {
		Sale domain.Sale `json:"sale"`
	}
	decodeBody(t, rec, &created)
	if created.Sale.BranchID != memory.DemoMainBranch {
		t.Fatalf("expected sale at cashier branch, got %q", created.Sale.BranchID)
	}
	if created.Sale.TotalAmount.StringFixed(2) != "79.50" {
		t.Fatalf("expected total 79.50, got %s", created.Sale.TotalAmount.StringFixed(2))
	}

	rec = do(t, handler, http.MethodPost, "/api/v1/sales", token, map[string]any{
		"payment_method": "cash",
		"offline_id":     "till-1-0001",
		"items":          []map[string]any{{"product_id": "p-telur", "quantity": 3, "unit_price": "26.50"}},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for replayed offline id, got %d", rec.Code)
	}
	var conflict map[string]any
	decodeBody(t, rec, &conflict)
	if conflict["existing_id"] != created.Sale.ID {
		t.Fatalf("expected existing_id %s, got %v", created.Sale.ID, conflict["existing_id"])
	}

	rec = do(t, handler, http.MethodGet, "/api/v1/sales/"+created.Sale.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for sale lookup, got %d", rec.Code)
	}

	returnBody := map[string]any{
		"sale_id": created.Sale.ID,
		"items":   []map[string]any{{"product_id": "p-telur", "quantity": 2}},
	}
	rec = do(t, handler, http.MethodPost, "/api/v1/returns", token, returnBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for return, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var createdReturn struct {
		Return domain.Return `json:"return"`
	}
	decodeBody(t, rec, &createdReturn)

	rec = do(t, handler, http.MethodGet, "/api/v1/returns/"+createdReturn.Return.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for return lookup, got %d", rec.Code)
	}
	rec = do(t, handler, http.MethodGet, "/api/v1/returns?sale_id="+created.Sale.ID, token, nil)
	var listed struct {
		Returns []domain.Return `json:"returns"`
	}
	decodeBody(t, rec, &listed)
	if len(listed.Returns) != 1 || listed.Returns[0].TotalAmount.StringFixed(2) != "53.00" {
		t.Fatalf("expected one return worth 53.00, got %+v", listed.Returns)
	}

	rec = do(t, handler, http.MethodPost, "/api/v1/returns", token, returnBody)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for over-return, got %d", rec.Code)
	}

	rec = do(t, handler, http.MethodGet, "/api/v1/stock?branch_id="+memory.DemoMainBranch+"&product_id=p-telur", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for stock, got %d", rec.Code)
	}
	var stock struct {
		Stock []domain.StockLevel `json:"stock"`
	}
	decodeBody(t, rec, &stock)
	if len(stock.Stock) != 1 || stock.Stock[0].Quantity != 39 {
		t.Fatalf("expected 39 eggs left, got %+v", stock.Stock)
	}
}

func TestCashierIsKeptOnOwnBranch(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "cashier", testCashierPassword)

	rec := do(t, handler, http.MethodPost, "/api/v1/sales", token, map[string]any{
		"branch_id":      memory.DemoEastBranch,
		"payment_method": "cash",
		"items":          []map[string]any{{"product_id": "p-mie", "quantity": 1, "unit_price": "3.50"}},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestCashierCannotReturnSaleFromOtherBranch(t *testing.T) {
	handler := newTestAPI(t).Handler()
	owner := login(t, handler, "owner", testOwnerPassword)
	cashier := login(t, handler, "cashier", testCashierPassword)

	rec := do(t, handler, http.MethodPost, "/api/v1/sales", owner, map[string]any{
		"branch_id":      memory.DemoEastBranch,
		"payment_method": "cash",
		"items":          []map[string]any{{"product_id": "p-kopi", "quantity": 4, "unit_price": "2.60"}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for owner sale, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created struct {
		Sale domain.Sale `json:"sale"`
	}
	decodeBody(t, rec, &created)

	returnBody := map[string]any{
		"sale_id": created.Sale.ID,
		"items":   []map[string]any{{"product_id": "p-kopi", "quantity": 2}},
	}
	rec = do(t, handler, http.MethodPost, "/api/v1/returns", cashier, returnBody)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for return of another branch's sale, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	returnBody["branch_id"] = memory.DemoEastBranch
	rec = do(t, handler, http.MethodPost, "/api/v1/returns", cashier, returnBody)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 when naming another branch, got %d", rec.Code)
	}

	rec = do(t, handler, http.MethodGet, "/api/v1/stock?branch_id="+memory.DemoEastBranch+"&product_id=p-kopi", owner, nil)
	var stock struct {
		Stock []domain.StockLevel `json:"stock"`
	}
	decodeBody(t, rec, &stock)
	if len(stock.Stock) != 1 || stock.Stock[0].Quantity != -4 {
		t.Fatalf("expected east kopi at -4 with no return applied, got %+v", stock.Stock)
	}

	rec = do(t, handler, http.MethodGet, "/api/v1/sales/"+created.Sale.ID, cashier, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another branch's sale, got %d", rec.Code)
	}
}

func TestCashierListsOnlyOwnBranch(t *testing.T) {
	handler := newTestAPI(t).Handler()
	owner := login(t, handler, "owner", testOwnerPassword)
	cashier := login(t, handler, "cashier", testCashierPassword)

	for _, branch := range []string{memory.DemoMainBranch, memory.DemoEastBranch} {
		rec := do(t, handler, http.MethodPost, "/api/v1/sales", owner, map[string]any{
			"branch_id":      branch,
			"payment_method": "cash",
			"items":          []map[string]any{{"product_id": "p-mie", "quantity": 1, "unit_price": "3.50"}},
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201 for sale at %s, got %d", branch, rec.Code)
		}
	}

	rec := do(t, handler, http.MethodGet, "/api/v1/sales", cashier, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var listed struct {
		Sales []domain.Sale `json:"sales"`
	}
	decodeBody(t, rec, &listed)
	if len(listed.Sales) != 1 || listed.Sales[0].BranchID != memory.DemoMainBranch {
		t.Fatalf("expected only the main branch sale, got %+v", listed.Sales)
	}

	for _, path := range []string{
		"/api/v1/sales?branch_id=" + memory.DemoEastBranch,
		"/api/v1/returns?branch_id=" + memory.DemoEastBranch,
		"/api/v1/stock?branch_id=" + memory.DemoEastBranch,
		"/api/v1/stock/movements?branch_id=" + memory.DemoEastBranch,
		"/api/v1/transfers?branch_id=" + memory.DemoEastBranch,
	} {
		if rec := do(t, handler, http.MethodGet, path, cashier, nil); rec.Code != http.StatusForbidden {
			t.Fatalf("%s: expected 403, got %d", path, rec.Code)
		}
	}

	rec = do(t, handler, http.MethodGet, "/api/v1/sales", owner, nil)
	decodeBody(t, rec, &listed)
	if len(listed.Sales) != 2 {
		t.Fatalf("expected owner to see both sales, got %d", len(listed.Sales))
	}
}

func TestTransferEndpoints(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "owner", testOwnerPassword)

	rec := do(t, handler, http.MethodPost, "/api/v1/transfers", token, map[string]any{
		"from_branch_id": memory.DemoMainBranch, "to_branch_id": memory.DemoEastBranch,
		"items": []map[string]any{{"product_id": "p-susu", "quantity": 500}},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for insufficient stock, got %d", rec.Code)
	}

	rec = do(t, handler, http.MethodPost, "/api/v1/transfers", token, map[string]any{
		"from_branch_id": memory.DemoMainBranch, "to_branch_id": memory.DemoMainBranch,
		"items": []map[string]any{{"product_id": "p-susu", "quantity": 1}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for same-branch transfer, got %d", rec.Code)
	}

	rec = do(t, handler, http.MethodPost, "/api/v1/transfers", token, map[string]any{
		"from_branch_id": memory.DemoMainBranch, "to_branch_id": memory.DemoEastBranch,
		"items": []map[string]any{{"product_id": "p-susu", "quantity": 10}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created struct {
		Transfer domain.StockTransfer `json:"transfer"`
	}
	decodeBody(t, rec, &created)

	rec = do(t, handler, http.MethodPatch, "/api/v1/transfers/"+created.Transfer.ID+"/status", token, map[string]string{"status": "in-transit"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for status update, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	rec = do(t, handler, http.MethodPatch, "/api/v1/transfers/"+created.Transfer.ID+"/status", token, map[string]string{"status": "pending"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 moving status backwards, got %d", rec.Code)
	}
	rec = do(t, handler, http.MethodGet, "/api/v1/transfers/missing", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = do(t, handler, http.MethodGet, "/api/v1/stock/movements?type=adjustment&branch_id="+memory.DemoEastBranch, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for movements, got %d", rec.Code)
	}
	var moves struct {
		Movements []domain.StockMovement `json:"movements"`
	}
	decodeBody(t, rec, &moves)
	if len(moves.Movements) != 1 || moves.Movements[0].Quantity != 10 {
		t.Fatalf("expected one +10 movement at east, got %+v", moves.Movements)
	}
}

func TestOfflineSyncEndpoint(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "cashier", testCashierPassword)

	payload := map[string]any{
		"envelope_id": "env-7",
		"sales": []map[string]any{
			{"client_sale_id": "c-1", "sale": map[string]any{"payment_method": "cash", "items": []map[string]any{{"product_id": "p-kopi", "quantity": 2, "unit_price": "2.60"}}}},
			{"client_sale_id": "c-2", "sale": map[string]any{"payment_method": "cash", "items": []map[string]any{{"product_id": "ghost", "quantity": 1, "unit_price": "1"}}}},
		},
	}
	rec := do(t, handler, http.MethodPost, "/api/v1/sync/offline-sales", token, payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var result domain.OfflineSyncResult
	decodeBody(t, rec, &result)
	if len(result.Statuses) != 2 || result.Statuses[0].Status != domain.OfflineStatusAccepted || result.Statuses[1].Status != domain.OfflineStatusRejected {
		t.Fatalf("unexpected statuses: %+v", result.Statuses)
	}

	rec = do(t, handler, http.MethodPost, "/api/v1/sync/offline-sales", token, payload)
	decodeBody(t, rec, &result)
	if result.Statuses[0].Status != domain.OfflineStatusDuplicate {
		t.Fatalf("expected replay to report duplicate, got %+v", result.Statuses[0])
	}
}

func TestListFilterValidation(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "owner", testOwnerPassword)

	for _, path := range []string{
		"/api/v1/sales?from=yesterday",
		"/api/v1/returns?offset=-1",
		"/api/v1/sales?from=2026-01-02T00:00:00Z&to=2026-01-01T00:00:00Z",
		"/api/v1/transfers?status=lost",
	} {
		rec := do(t, handler, http.MethodGet, path, token, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", path, rec.Code)
		}
	}
}

func TestStatusForKind(t *testing.T) {
	cases := map[domain.ErrorKind]int{
		domain.KindNotFound:          http.StatusNotFound,
		domain.KindInvalidArgument:   http.StatusBadRequest,
		domain.KindConflict:          http.StatusConflict,
		domain.KindInsufficientStock: http.StatusConflict,
		domain.KindInternal:          http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := statusForKind(kind); got != want {
			t.Fatalf("%s: expected %d, got %d", kind, want, got)
		}
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	rec := httptest.NewRecorder()
	writeServiceError(rec, domain.Internal("create sale", errTestDB))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("pq:")) {
		t.Fatalf("internal detail leaked: %s", rec.Body.String())
	}
}

var errTestDB = &testDBError{}

type testDBError struct{}

func (*testDBError) Error() string { return "pq: relation does not exist" }

func TestThrottleOptionLimitsRequests(t *testing.T) {
	handler := newTestAPI(t, WithThrottle(ratelimit.NewThrottle(0.01, 2))).Handler()
	token := login(t, handler, "owner", testOwnerPassword)

	rec := do(t, handler, http.MethodGet, "/api/v1/branches", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 within burst, got %d", rec.Code)
	}
	rec = do(t, handler, http.MethodGet, "/api/v1/branches", token, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once burst is spent, got %d", rec.Code)
	}
	rec = do(t, handler, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz must not be throttled, got %d", rec.Code)
	}
}

func TestOwnerCreatesStaffAccount(t *testing.T) {
	handler := newTestAPI(t).Handler()
	owner := login(t, handler, "owner", testOwnerPassword)
	cashier := login(t, handler, "cashier", testCashierPassword)

	body := map[string]string{"username": "kasir-east", "password": "east-pass-1", "role": "cashier", "branch_id": memory.DemoEastBranch}
	if rec := do(t, handler, http.MethodPost, "/api/v1/users", cashier, body); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d", rec.Code)
	}
	if rec := do(t, handler, http.MethodPost, "/api/v1/users", owner, map[string]string{"username": "kasir-x", "password": "east-pass-1", "role": "cashier", "branch_id": "nowhere"}); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown branch, got %d", rec.Code)
	}
	if rec := do(t, handler, http.MethodPost, "/api/v1/users", owner, body); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	token := login(t, handler, "kasir-east", "east-pass-1")
	rec := do(t, handler, http.MethodPost, "/api/v1/sales", token, map[string]any{
		"payment_method": "cash",
		"items":          []map[string]any{{"product_id": "p-kopi", "quantity": 1, "unit_price": "2.60"}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created struct {
		Sale domain.Sale `json:"sale"`
	}
	decodeBody(t, rec, &created)
	if created.Sale.BranchID != memory.DemoEastBranch {
		t.Fatalf("expected sale at east branch, got %s", created.Sale.BranchID)
	}
}
