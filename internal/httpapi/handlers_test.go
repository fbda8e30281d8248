package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labelstock/backend/internal/domain"
	"labelstock/backend/internal/service"
	"labelstock/backend/internal/store/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testAPI struct {
	api     *API
	handler http.Handler
	admin   string
	staff   string
}

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", "admin123")
	t.Setenv("SEED_STAFF_PASSWORD", "staff123")

	repo := memory.NewSeeded()
	svc := service.New(repo, service.Options{DefaultStoreID: "test-store"})
	auth := NewAuthManager(context.Background(), "test-secret-key-with-enough-bytes", time.Hour, repo)
	api := New(svc, auth, Options{AllowedOrigin: "https://gudang.example"})

	admin, err := auth.sign("admin", domain.RoleAdmin, time.Now().Add(time.Hour))
	require.NoError(t, err)
	staff, err := auth.sign("staff", domain.RoleStaff, time.Now().Add(time.Hour))
	require.NoError(t, err)

	return &testAPI{api: api, handler: api.Handler(), admin: admin, staff: staff}
}

func (ta *testAPI) do(t *testing.T, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (ta *testAPI) registerReceipt(t *testing.T, code string, lines ...map[string]any) domain.ReceiptView {
	t.Helper()
	rec := ta.do(t, http.MethodPost, "/api/v1/purchase-order-receipts", ta.admin, map[string]any{
		"code":              code,
		"purchaseOrderCode": "PO-2026-0042",
		"supplierId":        "sup-sumber-elektronik",
		"lines":             lines,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[domain.ReceiptView](t, rec)
}

func phoneLine(qty int) map[string]any {
	return map[string]any{"sku": "PHONE-X1", "name": "Phone X1", "qty": qty, "unitCost": "150000", "serialTracked": true}
}

func TestHandleHealth(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.do(t, http.MethodGet, "/healthz", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, true, body["ok"])
}

func TestHandleHealthReportsStorageFailure(t *testing.T) {
	repo := memory.NewSeeded()
	api := New(service.New(repo, service.Options{}), NewAuthManager(context.Background(), "secret", time.Hour, repo), Options{
		Ping: func(context.Context) error { return context.DeadlineExceeded },
	})
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleLoginSuccess(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.do(t, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "admin123"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[domain.LoginResponse](t, rec)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, domain.RoleAdmin, resp.Role)

	actor, err := ta.api.auth.ParseToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "admin", actor.Username)
}

func TestHandleLoginWrongPassword(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.do(t, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedRoutesRequireBearerToken(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodGet, "/api/v1/barcodes/with-barcodes", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ta.do(t, http.MethodGet, "/api/v1/barcodes/with-barcodes", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStaffCannotRegisterOrFinalize(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodPost, "/api/v1/purchase-order-receipts", ta.staff, map[string]any{
		"purchaseOrderCode": "PO-1",
		"supplierId":        "sup-sumber-elektronik",
		"lines":             []map[string]any{phoneLine(1)},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	view := ta.registerReceipt(t, "RC-000200-0001", phoneLine(1))
	rec = ta.do(t, http.MethodPatch, "/api/v1/purchase-order-receipts/"+view.Receipt.ID+"/finalize", ta.staff, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestReceiptLifecycleOverHTTP(t *testing.T) {
	ta := newTestAPI(t)
	view := ta.registerReceipt(t, "RC-000123-0001", phoneLine(3))
	receiptID := view.Receipt.ID
	assert.Equal(t, domain.ReceiptStatusPending, view.Receipt.Status)

	rec := ta.do(t, http.MethodPost, "/api/v1/barcodes/generate-missing/"+receiptID, ta.staff, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	set := decodeBody[domain.BarcodeSet](t, rec)
	require.Len(t, set.Barcodes, 3)
	assert.Equal(t, "RC0001230001-01-001", set.Barcodes[0].Code)

	var raw struct {
		Barcodes []map[string]any `json:"barcodes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	stockItem, ok := raw.Barcodes[0]["stockItem"].(map[string]any)
	require.True(t, ok, "stockItem must always be present")
	serial, present := stockItem["serialNumber"]
	assert.True(t, present)
	assert.Nil(t, serial)

	rec = ta.do(t, http.MethodPatch, "/api/v1/barcodes/mark-printed", ta.staff, domain.MarkPrintedRequest{PurchaseOrderReceiptID: receiptID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ta.do(t, http.MethodGet, "/api/v1/barcodes/reprint-search?mode=RC&query=000123", ta.staff, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	found := decodeBody[[]domain.ReceiptBarcodeSummary](t, rec)
	require.Len(t, found, 1)
	assert.Equal(t, receiptID, found[0].ReceiptID)

	sn1, sn2 := "SN-1", "SN-2"
	rec = ta.do(t, http.MethodPost, "/api/v1/receipts/"+receiptID+"/commit-scans", ta.staff, domain.CommitScansRequest{
		Items: []domain.ScanEntry{
			{Barcode: set.Barcodes[0].Code, SerialNumber: &sn1},
			{Barcode: set.Barcodes[1].Code, SerialNumber: &sn1},
			{Barcode: "NOPE-01-001", SerialNumber: &sn2},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decodeBody[domain.CommitResult](t, rec)
	assert.False(t, result.OK)
	assert.Equal(t, []string{set.Barcodes[0].Code}, result.Committed)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, domain.CodeDuplicateSerial, result.Errors[0].Code)
	assert.Equal(t, domain.CodeUnknownBarcode, result.Errors[1].Code)

	rec = ta.do(t, http.MethodPatch, "/api/v1/stock-items/update-sn/"+set.Barcodes[2].Code, ta.staff, domain.SerialUpdateRequest{SerialNumber: &sn1})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ta.do(t, http.MethodPatch, "/api/v1/stock-items/update-sn/"+set.Barcodes[1].Code, ta.staff, domain.SerialUpdateRequest{SerialNumber: &sn2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	sn3 := "SN-3"
	rec = ta.do(t, http.MethodPost, "/api/v1/stock-items/receive-sn", ta.staff, domain.ReceiveSerialRequest{Barcode: set.Barcodes[2].Code, SerialNumber: &sn3})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ta.do(t, http.MethodGet, "/api/v1/purchase-order-receipts/"+receiptID, ta.staff, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	after := decodeBody[domain.ReceiptView](t, rec)
	assert.Equal(t, domain.ReceiptStatusFinalized, after.Receipt.Status)

	rec = ta.do(t, http.MethodPatch, "/api/v1/purchase-order-receipts/"+receiptID+"/finalize", ta.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	finalize := decodeBody[domain.FinalizeResult](t, rec)
	assert.False(t, finalize.Finalized, "already finalized by the last binding")

	rec = ta.do(t, http.MethodGet, "/api/v1/suppliers/sup-sumber-elektronik/ledger", ta.staff, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ledger := decodeBody[struct {
		Entries []domain.SupplierLedgerEntry `json:"entries"`
	}](t, rec)
	require.Len(t, ledger.Entries, 1)
	assert.Equal(t, "450000", ledger.Entries[0].Amount.String())

	rec = ta.do(t, http.MethodGet, "/api/v1/audit-logs?receiptId="+receiptID, ta.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	logs := decodeBody[struct {
		Logs []domain.AuditLog `json:"logs"`
	}](t, rec)
	assert.NotEmpty(t, logs.Logs)
}

func TestReprintReturnsOriginalCodes(t *testing.T) {
	ta := newTestAPI(t)
	view := ta.registerReceipt(t, "RC-000300-0001", phoneLine(2))

	rec := ta.do(t, http.MethodPost, "/api/v1/barcodes/generate-missing/"+view.Receipt.ID, ta.staff, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	generated := decodeBody[domain.BarcodeSet](t, rec)

	rec = ta.do(t, http.MethodPatch, "/api/v1/barcodes/reprint/"+view.Receipt.ID, ta.staff, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	reprinted := decodeBody[domain.BarcodeSet](t, rec)

	require.Len(t, reprinted.Barcodes, len(generated.Barcodes))
	for i := range generated.Barcodes {
		assert.Equal(t, generated.Barcodes[i].Code, reprinted.Barcodes[i].Code)
		assert.Equal(t, generated.Barcodes[i].ID, reprinted.Barcodes[i].ID)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodGet, "/api/v1/barcodes/by-receipt/missing-receipt", ta.staff, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ta.do(t, http.MethodGet, "/api/v1/barcodes/with-barcodes?printed=maybe", ta.staff, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ta.do(t, http.MethodGet, "/api/v1/barcodes/reprint-search?mode=XX&query=1", ta.staff, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ta.do(t, http.MethodPost, "/api/v1/stock-items/receive-sn", ta.staff, domain.ReceiveSerialRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ta.do(t, http.MethodPost, "/api/v1/purchase-order-receipts", ta.admin, map[string]any{
		"code":              "BAD",
		"purchaseOrderCode": "PO-1",
		"supplierId":        "sup-sumber-elektronik",
		"lines":             []map[string]any{phoneLine(1)},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ta.registerReceipt(t, "RC-000400-0001", phoneLine(1))
	rec = ta.do(t, http.MethodPost, "/api/v1/purchase-order-receipts", ta.admin, map[string]any{
		"code":              "RC-000400-0001",
		"purchaseOrderCode": "PO-1",
		"supplierId":        "sup-sumber-elektronik",
		"lines":             []map[string]any{phoneLine(1)},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStatusForHidesInternalErrors(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))

	ta := newTestAPI(t)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/x", nil)
	ta.api.writeServiceError(c, assert.AnError)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
}

func (ta *testAPI) postRaw(t *testing.T, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+ta.staff)
	rec := httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, req)
	return rec
}

func TestCommitScansTreatsMalformedItemsAsEmptyBatch(t *testing.T) {
	ta := newTestAPI(t)
	view := ta.registerReceipt(t, "RC-000321-0001", phoneLine(1))
	path := "/api/v1/receipts/" + view.Receipt.ID + "/commit-scans"

	for _, body := range []string{``, `  `, `{}`, `{"items":null}`, `{"items":"nope"}`, `{"items":{}}`, `{"items":[]}`, `[]`} {
		rec := ta.postRaw(t, path, body)
		require.Equal(t, http.StatusOK, rec.Code, "body %q: %s", body, rec.Body.String())
		result := decodeBody[domain.CommitResult](t, rec)
		assert.True(t, result.OK, "body %q", body)
		assert.NotNil(t, result.Committed, "body %q", body)
		assert.Empty(t, result.Committed, "body %q", body)
		assert.Empty(t, result.Errors, "body %q", body)
	}

	rec := ta.postRaw(t, "/api/v1/receipts/missing-receipt/commit-scans", `{"items":"nope"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ta.postRaw(t, path, `{"items": [`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCommitScansReportsMalformedEntries(t *testing.T) {
	ta := newTestAPI(t)
	view := ta.registerReceipt(t, "RC-000322-0001", phoneLine(1))
	rec := ta.do(t, http.MethodPost, "/api/v1/barcodes/generate-missing/"+view.Receipt.ID, ta.staff, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	set := decodeBody[domain.BarcodeSet](t, rec)
	require.Len(t, set.Barcodes, 1)

	body := `{"items":[42,{"barcode":{"x":1}},{"barcode":"` + set.Barcodes[0].Code + `","serialNumber":778899}]}`
	rec = ta.postRaw(t, "/api/v1/receipts/"+view.Receipt.ID+"/commit-scans", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decodeBody[domain.CommitResult](t, rec)
	assert.False(t, result.OK)
	assert.Equal(t, []string{set.Barcodes[0].Code}, result.Committed)
	require.Len(t, result.Errors, 2)
	for _, e := range result.Errors {
		assert.Equal(t, domain.CodeInvalidEntry, e.Code)
	}
}

func TestDecodeScanBatch(t *testing.T) {
	req, err := decodeScanBatch([]byte(`{"items":[{"barcode":" B1 ","serialNumber":"SN-1"},{"barcode":"B2","serialNumber":null}]}`))
	require.NoError(t, err)
	require.Len(t, req.Items, 2)
	assert.Equal(t, " B1 ", req.Items[0].Barcode)
	require.NotNil(t, req.Items[0].SerialNumber)
	assert.Equal(t, "SN-1", *req.Items[0].SerialNumber)
	assert.Nil(t, req.Items[1].SerialNumber)

	_, err = decodeScanBatch([]byte(`not json`))
	assert.Error(t, err)
}
