package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labelstock/backend/internal/domain"
	"labelstock/backend/internal/httpapi"
	"labelstock/backend/internal/service"
	"labelstock/backend/internal/store/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newServer runs the real API on the memory store. wrap, when set, sits in
// front of the API handler.
func newServer(t *testing.T, wrap func(http.Handler) http.Handler) *httptest.Server {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", "admin123")
	t.Setenv("SEED_STAFF_PASSWORD", "staff123")

	repo := memory.NewSeeded()
	svc := service.New(repo, service.Options{})
	auth := httpapi.NewAuthManager(context.Background(), "client-test-secret-with-enough-bytes", time.Hour, repo)
	handler := httpapi.New(svc, auth, httpapi.Options{}).Handler()
	if wrap != nil {
		handler = wrap(handler)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func newAdminClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := New(srv.URL + "/api/v1")
	require.NoError(t, err)
	_, err = c.Login(context.Background(), "admin", "admin123")
	require.NoError(t, err)
	return c
}

func registerTracked(t *testing.T, c *Client, code string, qty int) domain.ReceiptView {
	t.Helper()
	view, err := c.RegisterReceipt(context.Background(), domain.ReceiptCreateRequest{
		Code:              code,
		PurchaseOrderCode: "PO-" + code,
		SupplierID:        "sup-mitra-gadget",
		Lines: []domain.ReceiptLineRequest{
			{SKU: "TAB-7", Name: "Tablet 7", Qty: qty, UnitCost: decimal.RequireFromString("2000000"), SerialTracked: true},
		},
	})
	require.NoError(t, err)
	return view
}

func TestValidationHappensBeforeRoundTrip(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.CommitScans(ctx, " ", nil)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "receiptId", vErr.Field)

	_, err = c.UpdateSerial(ctx, "", nil)
	require.ErrorAs(t, err, &vErr)
	_, err = c.GenerateMissing(ctx, "")
	require.ErrorAs(t, err, &vErr)
	_, err = c.MarkPrinted(ctx, "", false)
	require.ErrorAs(t, err, &vErr)
	_, err = c.ReprintSearch(ctx, domain.ReprintSearch{Mode: "XX"})
	require.ErrorAs(t, err, &vErr)

	assert.Zero(t, hits.Load())
}

func TestNetworkErrorIsDistinctFromAPIError(t *testing.T) {
	srv := newServer(t, nil)
	c := newAdminClient(t, srv)

	_, err := c.BarcodesByReceipt(context.Background(), "no-such-receipt")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsNetworkError(err))

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	offline, err := New(deadURL, WithToken("x"))
	require.NoError(t, err)
	_, err = offline.CommitScans(context.Background(), "rcp-1", []domain.ScanEntry{{Barcode: "A"}})
	require.Error(t, err)
	assert.True(t, IsNetworkError(err))
	assert.False(t, IsNotFound(err))
}

func TestCommitScansPartialFailureAndResubmission(t *testing.T) {
	srv := newServer(t, nil)
	c := newAdminClient(t, srv)
	ctx := context.Background()

	view := registerTracked(t, c, "RC-000777-0001", 2)
	barcodes, err := c.GenerateMissing(ctx, view.Receipt.ID)
	require.NoError(t, err)
	require.Len(t, barcodes, 2)

	sn := "TAB-SN-1"
	items := []domain.ScanEntry{
		{Barcode: barcodes[0].Code, SerialNumber: &sn},
		{Barcode: barcodes[1].Code, SerialNumber: &sn},
	}
	first, err := c.CommitScans(ctx, view.Receipt.ID, items)
	require.NoError(t, err)
	assert.Equal(t, []string{barcodes[0].Code}, first.Committed)
	require.Len(t, first.Errors, 1)
	assert.Equal(t, domain.CodeDuplicateSerial, first.Errors[0].Code)

	second, err := c.CommitScans(ctx, view.Receipt.ID, items[:1])
	require.NoError(t, err)
	assert.True(t, second.OK)
	assert.Equal(t, []string{barcodes[0].Code}, second.Committed)
}

func TestBarcodeCacheIsDroppedAfterCommit(t *testing.T) {
	srv := newServer(t, nil)
	c := newAdminClient(t, srv)
	ctx := context.Background()

	view := registerTracked(t, c, "RC-000778-0001", 2)
	_, err := c.GenerateMissing(ctx, view.Receipt.ID)
	require.NoError(t, err)

	before, err := c.BarcodesByReceipt(ctx, view.Receipt.ID)
	require.NoError(t, err)
	require.Nil(t, before[0].StockItem.SerialNumber)
	assert.Equal(t, domain.StockItemUnscanned, before[0].StockItem.Status)

	sn := "TAB-SN-9"
	_, err = c.CommitScans(ctx, view.Receipt.ID, []domain.ScanEntry{{Barcode: before[0].Code, SerialNumber: &sn}})
	require.NoError(t, err)

	after, err := c.BarcodesByReceipt(ctx, view.Receipt.ID)
	require.NoError(t, err)
	require.NotNil(t, after[0].StockItem.SerialNumber)
	assert.Equal(t, sn, *after[0].StockItem.SerialNumber)
}

func TestReprintSearchFallsBackToListing(t *testing.T) {
	var searchHits atomic.Int32
	srv := newServer(t, func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/barcodes/reprint-search") {
				searchHits.Add(1)
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	direct := newServer(t, nil)

	ctx := context.Background()
	viaFallback := newAdminClient(t, srv)
	viaSearch := newAdminClient(t, direct)
	for _, c := range []*Client{viaFallback, viaSearch} {
		for _, code := range []string{"RC-000501-0001", "RC-000502-0001", "RC-000601-0001"} {
			view := registerTracked(t, c, code, 1)
			_, err := c.GenerateMissing(ctx, view.Receipt.ID)
			require.NoError(t, err)
		}
	}

	printed := false
	for _, query := range []domain.ReprintSearch{
		{Mode: domain.SearchModeReceiptCode, Query: "0005", Printed: &printed},
		{Mode: domain.SearchModePurchaseOrder, Query: "po-rc-000601", Printed: &printed},
	} {
		fallback, err := viaFallback.ReprintSearch(ctx, query)
		require.NoError(t, err)
		searched, err := viaSearch.ReprintSearch(ctx, query)
		require.NoError(t, err)

		assert.Equal(t, receiptCodes(searched), receiptCodes(fallback), "mode %s", query.Mode)
		assert.NotEmpty(t, fallback)
	}
	assert.Equal(t, int32(2), searchHits.Load())
}

func TestReprintSearchDoesNotFallBackOnAuthFailure(t *testing.T) {
	srv := newServer(t, nil)
	c, err := New(srv.URL+"/api/v1", WithToken("bogus"))
	require.NoError(t, err)

	_, err = c.ReprintSearch(context.Background(), domain.ReprintSearch{Mode: domain.SearchModeReceiptCode, Query: "1"})
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestListResponsesAcceptDataEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []domain.ReceiptBarcodeSummary{{ReceiptID: "r1", ReceiptCode: "RC-000001-0001", BarcodeCount: 2, PrintedCount: 1}},
		})
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	results, err := c.ReprintSearch(context.Background(), domain.ReprintSearch{Mode: domain.SearchModeReceiptCode, Query: "000001"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "r1", results[0].ReceiptID)
}

func TestReprintKeepsIdentifiers(t *testing.T) {
	srv := newServer(t, nil)
	c := newAdminClient(t, srv)
	ctx := context.Background()

	view := registerTracked(t, c, "RC-000880-0001", 3)
	generated, err := c.GenerateMissing(ctx, view.Receipt.ID)
	require.NoError(t, err)
	_, err = c.MarkPrinted(ctx, view.Receipt.ID, false)
	require.NoError(t, err)

	reprinted, err := c.Reprint(ctx, view.Receipt.ID)
	require.NoError(t, err)
	require.Len(t, reprinted, len(generated))
	for i := range generated {
		assert.Equal(t, generated[i].Code, reprinted[i].Code)
	}
}

func receiptCodes(results []domain.ReceiptBarcodeSummary) []string {
	codes := make([]string, 0, len(results))
	for _, r := range results {
		codes = append(codes, r.ReceiptCode)
	}
	return codes
}

func TestReprintSearchDefaultsToPrintedOnBothPaths(t *testing.T) {
	srv := newServer(t, func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/barcodes/reprint-search") {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	direct := newServer(t, nil)

	ctx := context.Background()
	viaFallback := newAdminClient(t, srv)
	viaSearch := newAdminClient(t, direct)
	for _, c := range []*Client{viaFallback, viaSearch} {
		printedView := registerTracked(t, c, "RC-000701-0001", 1)
		_, err := c.GenerateMissing(ctx, printedView.Receipt.ID)
		require.NoError(t, err)
		_, err = c.MarkPrinted(ctx, printedView.Receipt.ID, false)
		require.NoError(t, err)

		pendingView := registerTracked(t, c, "RC-000701-0002", 1)
		_, err = c.GenerateMissing(ctx, pendingView.Receipt.ID)
		require.NoError(t, err)
	}

	query := domain.ReprintSearch{Mode: domain.SearchModeReceiptCode, Query: "000701"}
	fallback, err := viaFallback.ReprintSearch(ctx, query)
	require.NoError(t, err)
	searched, err := viaSearch.ReprintSearch(ctx, query)
	require.NoError(t, err)

	assert.Equal(t, []string{"RC-000701-0001"}, receiptCodes(searched))
	assert.Equal(t, receiptCodes(searched), receiptCodes(fallback))
}
