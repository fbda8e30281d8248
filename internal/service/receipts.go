package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"labelstock/backend/internal/domain"
	"labelstock/backend/internal/store"
	"labelstock/backend/internal/xid"
)

const (
	maxReceiptLines = 99
	maxUnitsPerLine = 999
)

// RegisterReceipt records a purchase-order receipt. Receipts without a code
// get one in the RC-YYMMDD-NNNN format.
func (s *Service) RegisterReceipt(ctx context.Context, req domain.ReceiptCreateRequest) (domain.ReceiptView, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.ReceiptView{}, err
	}

	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	req.PurchaseOrderCode = strings.TrimSpace(req.PurchaseOrderCode)
	req.SupplierID = strings.TrimSpace(req.SupplierID)
	if req.StoreID == "" {
		req.StoreID = s.defaultStoreID
	}

	if req.Code != "" && !domain.ValidReceiptCode(req.Code) {
		return domain.ReceiptView{}, invalid("code", "must look like RC-000000-0000")
	}
	if req.PurchaseOrderCode == "" {
		return domain.ReceiptView{}, invalid("purchaseOrderCode", "is required")
	}
	if req.SupplierID == "" {
		return domain.ReceiptView{}, invalid("supplierId", "is required")
	}
	if len(req.Lines) == 0 || len(req.Lines) > maxReceiptLines {
		return domain.ReceiptView{}, invalid("lines", fmt.Sprintf("must contain 1 to %d lines", maxReceiptLines))
	}

	lines := make([]domain.ReceiptLine, 0, len(req.Lines))
	for i, line := range req.Lines {
		sku := strings.ToUpper(strings.TrimSpace(line.SKU))
		name := strings.TrimSpace(line.Name)
		if sku == "" || name == "" {
			return domain.ReceiptView{}, invalid(fmt.Sprintf("lines[%d]", i), "sku and name are required")
		}
		if line.Qty < 1 || line.Qty > maxUnitsPerLine {
			return domain.ReceiptView{}, invalid(fmt.Sprintf("lines[%d].qty", i), fmt.Sprintf("must be between 1 and %d", maxUnitsPerLine))
		}
		if line.UnitCost.IsNegative() {
			return domain.ReceiptView{}, invalid(fmt.Sprintf("lines[%d].unitCost", i), "must not be negative")
		}
		lines = append(lines, domain.ReceiptLine{
			ID:            xid.UUID(),
			LineNo:        i + 1,
			SKU:           sku,
			Name:          name,
			Qty:           line.Qty,
			UnitCost:      line.UnitCost,
			SerialTracked: line.SerialTracked,
		})
	}

	if _, err := s.repo.GetSupplier(ctx, req.SupplierID); err != nil {
		return domain.ReceiptView{}, fmt.Errorf("supplier %s: %w", req.SupplierID, err)
	}

	receipt := domain.Receipt{
		ID:                xid.UUID(),
		Code:              req.Code,
		PurchaseOrderCode: req.PurchaseOrderCode,
		SupplierID:        req.SupplierID,
		StoreID:           req.StoreID,
		Lines:             lines,
		CreatedAt:         time.Now().UTC(),
	}

	created, err := s.createReceipt(ctx, receipt, req.Code == "")
	if err != nil {
		return domain.ReceiptView{}, err
	}
	s.logAudit(ctx, created.StoreID, "receipt_register", "receipt", created.ID,
		fmt.Sprintf("code=%s,po=%s,units=%d", created.Code, created.PurchaseOrderCode, created.ExpectedUnits()))

	return domain.ReceiptView{Receipt: *created, Summary: domain.Summarize(*created, nil)}, nil
}

func (s *Service) createReceipt(ctx context.Context, receipt domain.Receipt, assignCode bool) (*domain.Receipt, error) {
	attempts := 1
	if assignCode {
		attempts = 3
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if assignCode {
			receipt.Code = xid.ReceiptCode(receipt.CreatedAt)
		}
		created, err := s.repo.CreateReceipt(ctx, receipt)
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("receipt code %s: %w", receipt.Code, lastErr)
}

func (s *Service) GetReceipt(ctx context.Context, receiptID string) (domain.ReceiptView, error) {
	receiptID = strings.TrimSpace(receiptID)
	if receiptID == "" {
		return domain.ReceiptView{}, invalid("receiptId", "is required")
	}
	receipt, err := s.repo.GetReceipt(ctx, receiptID)
	if err != nil {
		return domain.ReceiptView{}, err
	}
	summary, err := s.repo.BindingSummary(ctx, receiptID)
	if err != nil {
		return domain.ReceiptView{}, err
	}
	return domain.ReceiptView{Receipt: *receipt, Summary: summary}, nil
}

func (s *Service) ListSupplierLedger(ctx context.Context, supplierID string, limit int) ([]domain.SupplierLedgerEntry, error) {
	supplierID = strings.TrimSpace(supplierID)
	if supplierID == "" {
		return nil, invalid("supplierId", "is required")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListSupplierLedger(ctx, supplierID, limit)
}

func (s *Service) GetSupplier(ctx context.Context, supplierID string) (domain.Supplier, error) {
	supplier, err := s.repo.GetSupplier(ctx, strings.TrimSpace(supplierID))
	if err != nil {
		return domain.Supplier{}, err
	}
	return *supplier, nil
}
