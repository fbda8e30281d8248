package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"labelstock/backend/internal/domain"
	"labelstock/backend/internal/events"
	"labelstock/backend/internal/store"
)

// CommitScans reconciles a scanning-station batch against server state.
// Each entry is applied in its own unit of work, so a failed entry is
// reported in Errors and never blocks its siblings. Entries already bound
// with the same serial are reported as committed. Committed only lists
// barcodes that end up bound, so a serial-tracked unit scanned without a
// serial is reported as SERIAL_REQUIRED and left untouched.
func (s *Service) CommitScans(ctx context.Context, receiptID string, req domain.CommitScansRequest) (domain.CommitResult, error) {
	receiptID = strings.TrimSpace(receiptID)
	if receiptID == "" {
		return domain.CommitResult{}, invalid("receiptId", "is required")
	}
	receipt, err := s.repo.GetReceipt(ctx, receiptID)
	if err != nil {
		return domain.CommitResult{}, err
	}

	result := domain.CommitResult{
		Committed: make([]string, 0, len(req.Items)),
		Errors:    make([]domain.CommitError, 0),
	}
	entries, blank := domain.CollapseEntries(req.Items)
	for _, entry := range blank {
		result.Errors = append(result.Errors, domain.CommitError{
			Barcode:      entry.Barcode,
			SerialNumber: entry.SerialNumber,
			Code:         domain.CodeInvalidEntry,
			Message:      "barcode is required",
		})
	}

	wrote := false
	for _, entry := range entries {
		outcome, err := s.repo.ApplyBinding(ctx, domain.BindingRequest{
			Barcode:       entry.Barcode,
			ReceiptID:     receiptID,
			SerialNumber:  entry.SerialNumber,
			RequireSerial: true,
			At:            time.Now().UTC(),
		})
		if err != nil {
			result.Errors = append(result.Errors, s.commitError(receiptID, entry, err))
			continue
		}
		if !outcome.AlreadyApplied {
			wrote = true
		}
		result.Committed = append(result.Committed, entry.Barcode)
	}

	result.OK = len(result.Errors) == 0
	if !result.OK {
		result.Message = fmt.Sprintf("%d of %d entries could not be applied", len(result.Errors), len(entries)+len(blank))
	}
	if len(entries)+len(blank) == 0 {
		return result, nil
	}

	if wrote {
		s.barcodes.Invalidate(ctx, receiptID)
	}
	s.logAudit(ctx, receipt.StoreID, "scan_batch_commit", "receipt", receiptID,
		fmt.Sprintf("committed=%d,failed=%d", len(result.Committed), len(result.Errors)))

	failed := make([]string, 0, len(result.Errors))
	for _, e := range result.Errors {
		failed = append(failed, e.Barcode)
	}
	s.publish(ctx, events.ScanBatchCommitted{
		ReceiptID:   receiptID,
		Committed:   result.Committed,
		Failed:      failed,
		CommittedAt: time.Now().UTC(),
	})

	s.finalizeAfterBinding(ctx, receiptID)
	return result, nil
}

func (s *Service) commitError(receiptID string, entry domain.ScanEntry, err error) domain.CommitError {
	out := domain.CommitError{Barcode: entry.Barcode, SerialNumber: entry.SerialNumber}
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrBarcodeNotInReceipt):
		out.Code = domain.CodeUnknownBarcode
		out.Message = "barcode is not part of this receipt"
	case errors.Is(err, store.ErrDuplicateSerial):
		out.Code = domain.CodeDuplicateSerial
		out.Message = "serial number is already bound to another barcode"
	case errors.Is(err, store.ErrInvalidState):
		out.Code = domain.CodeInvalidState
		out.Message = "stock item has left receiving and cannot be rebound"
	case errors.Is(err, store.ErrSerialRequired):
		out.Code = domain.CodeSerialRequired
		out.Message = "serial number is required for this item"
	default:
		s.logger.Error("scan entry failed",
			zap.String("receipt_id", receiptID),
			zap.String("barcode", entry.Barcode),
			zap.Error(err),
		)
		out.Code = domain.CodeInternal
		out.Message = "entry could not be applied, retry later"
	}
	return out
}
