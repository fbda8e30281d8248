package httpapi

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"labelstock/backend/internal/domain"
	"labelstock/backend/internal/logger"
	"labelstock/backend/internal/service"
	"labelstock/backend/internal/store"
)

const actorKey = "actor"

type Options struct {
	AllowedOrigin string
	Logger        *zap.Logger
	// Ping reports storage health for /healthz. Nil means always healthy.
	Ping func(ctx context.Context) error
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	logger        *zap.Logger
	ping          func(ctx context.Context) error
	loginLimiter  *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: opts.AllowedOrigin,
		logger:        opts.Logger,
		ping:          opts.Ping,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func (a *API) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.CustomRecovery(a.recover))
	router.Use(logger.RequestID())
	router.Use(logger.GinMiddleware(a.logger))
	router.Use(a.securityHeaders())
	router.HandleMethodNotAllowed = true
	router.NoMethod(func(c *gin.Context) {
		writeError(c, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})
	router.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, errors.New("route not found"))
	})

	router.GET("/healthz", a.handleHealth)

	v1 := router.Group("/api/v1")
	v1.POST("/auth/login", a.handleLogin)

	authed := v1.Group("", a.requireAuth(domain.RoleAdmin, domain.RoleStaff))
	{
		barcodes := authed.Group("/barcodes")
		barcodes.POST("/generate-missing/:receiptId", a.handleGenerateMissing)
		barcodes.GET("/by-receipt/:receiptId", a.handleBarcodesByReceipt)
		barcodes.GET("/with-barcodes", a.handleReceiptsWithBarcodes)
		barcodes.PATCH("/mark-printed", a.handleMarkPrinted)
		barcodes.PATCH("/reprint/:receiptId", a.handleReprint)
		barcodes.GET("/reprint-search", a.handleReprintSearch)

		authed.POST("/receipts/:receiptId/commit-scans", a.handleCommitScans)

		authed.PATCH("/stock-items/update-sn/:barcode", a.handleUpdateSerial)
		authed.POST("/stock-items/receive-sn", a.handleReceiveSerial)

		authed.POST("/purchase-order-receipts", a.handleRegisterReceipt)
		authed.GET("/purchase-order-receipts/:id", a.handleGetReceipt)
		authed.PATCH("/purchase-order-receipts/:id/finalize", a.handleFinalize)

		authed.GET("/suppliers/:id", a.handleGetSupplier)
		authed.GET("/suppliers/:id/ledger", a.handleSupplierLedger)
		authed.GET("/audit-logs", a.handleAuditLogs)
	}

	return router
}

func (a *API) requireAuth(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authorization := strings.TrimSpace(c.GetHeader("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			abortWithError(c, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		actor, err := a.auth.ParseToken(strings.TrimSpace(authorization[len("Bearer "):]))
		if err != nil {
			abortWithError(c, http.StatusUnauthorized, err)
			return
		}
		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			abortWithError(c, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		c.Set(actorKey, actor)
		c.Request = c.Request.WithContext(service.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		if a.allowedOrigin != "" {
			h.Set("Access-Control-Allow-Origin", a.allowedOrigin)
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
			h.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,OPTIONS")
			h.Set("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		if c.Request.Body != nil && (c.Request.Method == http.MethodPost || c.Request.Method == http.MethodPatch) {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
		}
		c.Next()
	}
}

func (a *API) recover(c *gin.Context, recovered any) {
	a.logger.Error("panic recovered",
		zap.Any("panic", recovered),
		zap.String("path", c.Request.URL.Path),
	)
	abortWithError(c, http.StatusInternalServerError, errors.New("panic"))
}

func (a *API) handleHealth(c *gin.Context) {
	if a.ping != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := a.ping(ctx); err != nil {
			a.logger.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "at": time.Now().UTC().Format(time.RFC3339)})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "at": time.Now().UTC().Format(time.RFC3339)})
}

func (a *API) handleLogin(c *gin.Context) {
	if !a.loginLimiter.Allow(c.ClientIP()) {
		writeError(c, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(c.Request.Context(), req)
	if err != nil {
		writeError(c, http.StatusUnauthorized, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a *API) handleGenerateMissing(c *gin.Context) {
	receiptID := c.Param("receiptId")
	barcodes, err := a.service.GenerateMissingIdentities(c.Request.Context(), receiptID)
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, domain.BarcodeSet{ReceiptID: receiptID, Barcodes: barcodes})
}

func (a *API) handleBarcodesByReceipt(c *gin.Context) {
	receiptID := c.Param("receiptId")
	barcodes, err := a.service.BarcodesByReceipt(c.Request.Context(), receiptID)
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, domain.BarcodeSet{ReceiptID: receiptID, Barcodes: barcodes})
}

func (a *API) handleReceiptsWithBarcodes(c *gin.Context) {
	printed, err := parseOptionalBool(c.Query("printed"))
	if err != nil {
		writeError(c, http.StatusBadRequest, errors.New("printed must be true or false"))
		return
	}

	receipts, err := a.service.ListReceiptsWithBarcodes(c.Request.Context(), printed)
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipts)
}

func (a *API) handleMarkPrinted(c *gin.Context) {
	var req domain.MarkPrintedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}

	barcodes, err := a.service.MarkPrinted(c.Request.Context(), req)
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, domain.BarcodeSet{ReceiptID: req.PurchaseOrderReceiptID, Barcodes: barcodes})
}

func (a *API) handleReprint(c *gin.Context) {
	receiptID := c.Param("receiptId")
	barcodes, err := a.service.Reprint(c.Request.Context(), receiptID)
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, domain.BarcodeSet{ReceiptID: receiptID, Barcodes: barcodes})
}

func (a *API) handleReprintSearch(c *gin.Context) {
	printed, err := parseOptionalBool(c.Query("printed"))
	if err != nil {
		writeError(c, http.StatusBadRequest, errors.New("printed must be true or false"))
		return
	}

	results, err := a.service.ReprintSearch(c.Request.Context(), domain.ReprintSearch{
		Mode:    domain.SearchMode(c.DefaultQuery("mode", string(domain.SearchModeReceiptCode))),
		Query:   c.Query("query"),
		Printed: printed,
	})
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

func (a *API) handleCommitScans(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	req, err := decodeScanBatch(body)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}

	result, err := a.service.CommitScans(c.Request.Context(), c.Param("receiptId"), req)
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *API) handleUpdateSerial(c *gin.Context) {
	var req domain.SerialUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}

	barcode, err := a.service.UpdateSerial(c.Request.Context(), c.Param("barcode"), req)
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, barcode)
}

func (a *API) handleReceiveSerial(c *gin.Context) {
	var req domain.ReceiveSerialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}

	barcode, err := a.service.ReceiveSerial(c.Request.Context(), req)
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, barcode)
}

func (a *API) handleRegisterReceipt(c *gin.Context) {
	var req domain.ReceiptCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}

	view, err := a.service.RegisterReceipt(c.Request.Context(), req)
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (a *API) handleGetReceipt(c *gin.Context) {
	view, err := a.service.GetReceipt(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (a *API) handleFinalize(c *gin.Context) {
	result, err := a.service.FinalizeReceipt(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *API) handleGetSupplier(c *gin.Context) {
	supplier, err := a.service.GetSupplier(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, supplier)
}

func (a *API) handleSupplierLedger(c *gin.Context) {
	limit := parsePositiveLimit(c.Query("limit"), 50, 500)
	entries, err := a.service.ListSupplierLedger(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (a *API) handleAuditLogs(c *gin.Context) {
	limit := parsePositiveLimit(c.Query("limit"), 100, 500)
	logs, err := a.service.ListAuditLogs(c.Request.Context(), c.Query("receiptId"), limit)
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// statusFor maps service and store errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrDuplicateSerial):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalidState), errors.Is(err, store.ErrBarcodeNotInReceipt),
		errors.Is(err, store.ErrSerialRequired):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrSearchUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeServiceError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= 500 {
		_ = c.Error(err)
		a.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	writeError(c, status, err)
}

// decodeScanBatch reads a commit-scans body. Only a body that is not JSON
// is an error. An empty body or a missing or non-array items field is an
// empty batch. Entries whose barcode or serial has the wrong type keep a
// blank barcode so the batch reports them as invalid.
func decodeScanBatch(body []byte) (domain.CommitScansRequest, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return domain.CommitScansRequest{}, nil
	}
	if !gjson.ValidBytes(body) {
		return domain.CommitScansRequest{}, errors.New("request body must be JSON")
	}

	items := gjson.GetBytes(body, "items")
	if !items.IsArray() {
		return domain.CommitScansRequest{}, nil
	}
	entries := items.Array()
	req := domain.CommitScansRequest{Items: make([]domain.ScanEntry, 0, len(entries))}
	for _, item := range entries {
		req.Items = append(req.Items, scanEntryFrom(item))
	}
	return req, nil
}

func scanEntryFrom(item gjson.Result) domain.ScanEntry {
	if !item.IsObject() {
		return domain.ScanEntry{}
	}
	barcode := item.Get("barcode")
	if barcode.Type != gjson.String && barcode.Type != gjson.Number {
		return domain.ScanEntry{}
	}
	entry := domain.ScanEntry{Barcode: barcode.String()}

	serial := item.Get("serialNumber")
	switch serial.Type {
	case gjson.Null:
	case gjson.String, gjson.Number:
		value := serial.String()
		entry.SerialNumber = &value
	default:
		return domain.ScanEntry{}
	}
	return entry
}

func parseOptionalBool(raw string) (*bool, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	value, err := strconv.ParseBool(trimmed)
	if err != nil {
		return nil, err
	}
	return &value, nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// writeError hides the detail of 5xx responses; 4xx messages are user-facing.
func writeError(c *gin.Context, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
		if status == http.StatusServiceUnavailable {
			msg = "service unavailable"
		}
	}
	c.JSON(status, gin.H{"error": msg})
}

func abortWithError(c *gin.Context, status int, err error) {
	writeError(c, status, err)
	c.Abort()
}
