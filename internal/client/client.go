// Package client is the scanning-station side of the reconciliation API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"labelstock/backend/internal/cache"
	"labelstock/backend/internal/domain"
)

type Client struct {
	baseURL  string
	http     *http.Client
	token    string
	logger   *zap.Logger
	barcodes *cache.ReadThrough
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New returns a client for the API rooted at baseURL, for example
// http://localhost:8080/api/v1.
func New(baseURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", baseURL)
	}

	c := &Client{
		baseURL: strings.TrimRight(parsed.String(), "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.barcodes = cache.NewReadThrough(cache.NewMemoryBarcodeCache(), time.Minute, c.logger)
	return c, nil
}

func (c *Client) Login(ctx context.Context, username string, password string) (domain.LoginResponse, error) {
	if strings.TrimSpace(username) == "" {
		return domain.LoginResponse{}, &ValidationError{Field: "username"}
	}
	var resp domain.LoginResponse
	if err := c.do(ctx, "login", http.MethodPost, "/auth/login", domain.LoginRequest{Username: username, Password: password}, &resp); err != nil {
		return domain.LoginResponse{}, err
	}
	c.token = resp.AccessToken
	return resp, nil
}

func (c *Client) RegisterReceipt(ctx context.Context, req domain.ReceiptCreateRequest) (domain.ReceiptView, error) {
	if strings.TrimSpace(req.SupplierID) == "" {
		return domain.ReceiptView{}, &ValidationError{Field: "supplierId"}
	}
	var view domain.ReceiptView
	if err := c.do(ctx, "register receipt", http.MethodPost, "/purchase-order-receipts", req, &view); err != nil {
		return domain.ReceiptView{}, err
	}
	return view, nil
}

func (c *Client) GetReceipt(ctx context.Context, receiptID string) (domain.ReceiptView, error) {
	receiptID = strings.TrimSpace(receiptID)
	if receiptID == "" {
		return domain.ReceiptView{}, &ValidationError{Field: "receiptId"}
	}
	var view domain.ReceiptView
	if err := c.do(ctx, "get receipt", http.MethodGet, "/purchase-order-receipts/"+url.PathEscape(receiptID), nil, &view); err != nil {
		return domain.ReceiptView{}, err
	}
	return view, nil
}

func (c *Client) GenerateMissing(ctx context.Context, receiptID string) ([]domain.Barcode, error) {
	receiptID = strings.TrimSpace(receiptID)
	if receiptID == "" {
		return nil, &ValidationError{Field: "receiptId"}
	}
	var set domain.BarcodeSet
	if err := c.do(ctx, "generate missing", http.MethodPost, "/barcodes/generate-missing/"+url.PathEscape(receiptID), nil, &set); err != nil {
		return nil, err
	}
	c.barcodes.Invalidate(ctx, receiptID)
	return normalized(set.Barcodes), nil
}

// BarcodesByReceipt serves from the local cache when possible. Commits and
// print changes made through this client drop the cached set.
func (c *Client) BarcodesByReceipt(ctx context.Context, receiptID string) ([]domain.Barcode, error) {
	receiptID = strings.TrimSpace(receiptID)
	if receiptID == "" {
		return nil, &ValidationError{Field: "receiptId"}
	}
	return c.barcodes.Load(ctx, receiptID, func(ctx context.Context) ([]domain.Barcode, error) {
		var set domain.BarcodeSet
		if err := c.do(ctx, "barcodes by receipt", http.MethodGet, "/barcodes/by-receipt/"+url.PathEscape(receiptID), nil, &set); err != nil {
			return nil, err
		}
		return normalized(set.Barcodes), nil
	})
}

func (c *Client) ReceiptsWithBarcodes(ctx context.Context, filter domain.ReceiptListFilter) ([]domain.ReceiptBarcodeSummary, error) {
	path := "/barcodes/with-barcodes"
	if filter.Printed != nil {
		path += "?printed=" + strconv.FormatBool(*filter.Printed)
	}
	var out []domain.ReceiptBarcodeSummary
	if err := c.doList(ctx, "receipts with barcodes", path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) MarkPrinted(ctx context.Context, receiptID string, reprint bool) ([]domain.Barcode, error) {
	receiptID = strings.TrimSpace(receiptID)
	if receiptID == "" {
		return nil, &ValidationError{Field: "purchaseOrderReceiptId"}
	}
	var set domain.BarcodeSet
	req := domain.MarkPrintedRequest{PurchaseOrderReceiptID: receiptID, Reprint: reprint}
	err := c.do(ctx, "mark printed", http.MethodPatch, "/barcodes/mark-printed", req, &set)
	c.barcodes.Invalidate(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	return normalized(set.Barcodes), nil
}

// Reprint fetches the already-issued identifiers. It never generates.
func (c *Client) Reprint(ctx context.Context, receiptID string) ([]domain.Barcode, error) {
	receiptID = strings.TrimSpace(receiptID)
	if receiptID == "" {
		return nil, &ValidationError{Field: "receiptId"}
	}
	var set domain.BarcodeSet
	if err := c.do(ctx, "reprint", http.MethodPatch, "/barcodes/reprint/"+url.PathEscape(receiptID), nil, &set); err != nil {
		return nil, err
	}
	return normalized(set.Barcodes), nil
}

// ReprintSearch asks the dedicated search endpoint and falls back to the
// listing filtered locally when that endpoint is missing or unavailable.
func (c *Client) ReprintSearch(ctx context.Context, query domain.ReprintSearch) ([]domain.ReceiptBarcodeSummary, error) {
	mode, ok := domain.ParseSearchMode(string(query.Mode))
	if !ok {
		return nil, &ValidationError{Field: "mode"}
	}
	query.Mode = mode
	query = query.WithDefaults()

	resolver := domain.ReprintResolver{
		Search:      c.searchEndpoint,
		Listing:     c.ReceiptsWithBarcodes,
		Unavailable: searchUnavailable,
	}
	results, usedFallback, err := resolver.Resolve(ctx, query)
	if err != nil {
		return nil, err
	}
	if usedFallback {
		c.logger.Debug("reprint search served from listing", zap.String("mode", string(query.Mode)))
	}
	return results, nil
}

func (c *Client) searchEndpoint(ctx context.Context, query domain.ReprintSearch) ([]domain.ReceiptBarcodeSummary, error) {
	values := url.Values{}
	values.Set("mode", string(query.Mode))
	values.Set("query", query.Query)
	if query.Printed != nil {
		values.Set("printed", strconv.FormatBool(*query.Printed))
	}
	var out []domain.ReceiptBarcodeSummary
	if err := c.doList(ctx, "reprint search", "/barcodes/reprint-search?"+values.Encode(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CommitScans submits a batch. Per-entry failures come back in
// CommitResult.Errors; a NetworkError means the whole batch may be resent.
func (c *Client) CommitScans(ctx context.Context, receiptID string, items []domain.ScanEntry) (domain.CommitResult, error) {
	receiptID = strings.TrimSpace(receiptID)
	if receiptID == "" {
		return domain.CommitResult{}, &ValidationError{Field: "receiptId"}
	}
	if items == nil {
		items = []domain.ScanEntry{}
	}

	var result domain.CommitResult
	err := c.do(ctx, "commit scans", http.MethodPost, "/receipts/"+url.PathEscape(receiptID)+"/commit-scans", domain.CommitScansRequest{Items: items}, &result)
	if !IsNetworkError(err) {
		c.barcodes.Invalidate(ctx, receiptID)
	}
	if err != nil {
		return domain.CommitResult{}, err
	}
	return result, nil
}

// UpdateSerial binds serial to the barcode; a nil serial clears it.
func (c *Client) UpdateSerial(ctx context.Context, barcode string, serial *string) (domain.Barcode, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return domain.Barcode{}, &ValidationError{Field: "barcode"}
	}
	var out domain.Barcode
	if err := c.do(ctx, "update serial", http.MethodPatch, "/stock-items/update-sn/"+url.PathEscape(barcode), domain.SerialUpdateRequest{SerialNumber: serial}, &out); err != nil {
		return domain.Barcode{}, err
	}
	out.Normalize()
	c.barcodes.Invalidate(ctx, out.ReceiptID)
	return out, nil
}

func (c *Client) ReceiveSerial(ctx context.Context, barcode string, serial *string) (domain.Barcode, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return domain.Barcode{}, &ValidationError{Field: "barcode"}
	}
	var out domain.Barcode
	if err := c.do(ctx, "receive serial", http.MethodPost, "/stock-items/receive-sn", domain.ReceiveSerialRequest{Barcode: barcode, SerialNumber: serial}, &out); err != nil {
		return domain.Barcode{}, err
	}
	out.Normalize()
	c.barcodes.Invalidate(ctx, out.ReceiptID)
	return out, nil
}

func (c *Client) FinalizeReceipt(ctx context.Context, receiptID string) (domain.FinalizeResult, error) {
	receiptID = strings.TrimSpace(receiptID)
	if receiptID == "" {
		return domain.FinalizeResult{}, &ValidationError{Field: "receiptId"}
	}
	var out domain.FinalizeResult
	if err := c.do(ctx, "finalize receipt", http.MethodPatch, "/purchase-order-receipts/"+url.PathEscape(receiptID)+"/finalize", nil, &out); err != nil {
		return domain.FinalizeResult{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, op string, method string, path string, body any, out any) error {
	raw, err := c.roundTrip(ctx, op, method, path, body)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// doList decodes list responses served either as a bare array or wrapped
// in {"data": [...]}.
func (c *Client) doList(ctx context.Context, op string, path string, out any) error {
	raw, err := c.roundTrip(ctx, op, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	parsed := gjson.ParseBytes(raw)
	if !parsed.IsArray() {
		parsed = parsed.Get("data")
	}
	if !parsed.IsArray() {
		return fmt.Errorf("%s: unexpected list response", op)
	}
	if err := json.Unmarshal([]byte(parsed.Raw), out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, op string, method string, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	if resp.StatusCode >= 300 {
		return nil, &APIError{
			Op:      op,
			Status:  resp.StatusCode,
			Message: gjson.GetBytes(raw, "error").String(),
		}
	}
	return raw, nil
}

// normalized guarantees every barcode carries a stockItem-shaped record.
func normalized(barcodes []domain.Barcode) []domain.Barcode {
	for i := range barcodes {
		barcodes[i].Normalize()
	}
	if barcodes == nil {
		return []domain.Barcode{}
	}
	return barcodes
}
