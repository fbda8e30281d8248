package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"labelstock/backend/internal/domain"
	"labelstock/backend/internal/xid"
)

// GenerateMissingIdentities issues one barcode for every expected unit that
// has none and returns the complete set. Repeated or concurrent calls never
// issue a second barcode for a unit.
func (s *Service) GenerateMissingIdentities(ctx context.Context, receiptID string) ([]domain.Barcode, error) {
	receiptID = strings.TrimSpace(receiptID)
	if receiptID == "" {
		return nil, invalid("receiptId", "is required")
	}

	receipt, err := s.repo.GetReceipt(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	existing, err := s.repo.ListBarcodesByReceipt(ctx, receiptID)
	if err != nil {
		return nil, err
	}

	missing := domain.MissingUnits(*receipt, existing)
	if len(missing) == 0 {
		return existing, nil
	}

	now := time.Now().UTC()
	candidates := make([]domain.Barcode, 0, len(missing))
	for _, unit := range missing {
		candidates = append(candidates, domain.Barcode{
			ID:            xid.UUID(),
			Code:          domain.BarcodeCode(receipt.Code, unit.Line.LineNo, unit.UnitSeq),
			ReceiptID:     receipt.ID,
			ReceiptLineID: unit.Line.ID,
			UnitSeq:       unit.UnitSeq,
			SerialTracked: unit.Line.SerialTracked,
			PrintStatus:   domain.PrintStatusUnprinted,
			CreatedAt:     now,
			StockItem:     domain.StockItem{Status: domain.StockItemUnscanned},
		})
	}

	all, err := s.repo.InsertMissingBarcodes(ctx, receiptID, candidates)
	if err != nil {
		return nil, err
	}
	s.barcodes.Invalidate(ctx, receiptID)
	s.logAudit(ctx, receipt.StoreID, "barcodes_generate", "receipt", receipt.ID,
		fmt.Sprintf("code=%s,requested=%d,total=%d", receipt.Code, len(candidates), len(all)))
	return all, nil
}

// BarcodesByReceipt returns the current barcode set through the cache.
func (s *Service) BarcodesByReceipt(ctx context.Context, receiptID string) ([]domain.Barcode, error) {
	receiptID = strings.TrimSpace(receiptID)
	if receiptID == "" {
		return nil, invalid("receiptId", "is required")
	}
	return s.barcodes.Load(ctx, receiptID, func(ctx context.Context) ([]domain.Barcode, error) {
		return s.repo.ListBarcodesByReceipt(ctx, receiptID)
	})
}
