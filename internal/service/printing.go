package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"labelstock/backend/internal/domain"
)

// MarkPrinted flips every barcode of the receipt to printed, or to
// reprinted when req.Reprint is set. Stock-item state is untouched.
func (s *Service) MarkPrinted(ctx context.Context, req domain.MarkPrintedRequest) ([]domain.Barcode, error) {
	receiptID := strings.TrimSpace(req.PurchaseOrderReceiptID)
	if receiptID == "" {
		return nil, invalid("purchaseOrderReceiptId", "is required")
	}

	barcodes, err := s.repo.MarkReceiptPrinted(ctx, receiptID, req.Reprint, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	s.barcodes.Invalidate(ctx, receiptID)
	s.logAudit(ctx, "", "barcodes_mark_printed", "receipt", receiptID,
		fmt.Sprintf("count=%d,reprint=%t", len(barcodes), req.Reprint))
	return barcodes, nil
}

// Reprint returns the identifiers issued for the receipt, read fresh from
// the store. It never generates.
func (s *Service) Reprint(ctx context.Context, receiptID string) ([]domain.Barcode, error) {
	receiptID = strings.TrimSpace(receiptID)
	if receiptID == "" {
		return nil, invalid("receiptId", "is required")
	}

	barcodes, err := s.repo.ListBarcodesByReceipt(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "", "barcodes_reprint", "receipt", receiptID, fmt.Sprintf("count=%d", len(barcodes)))
	return barcodes, nil
}
