package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"labelstock/backend/internal/domain"
	"labelstock/backend/internal/events"
	"labelstock/backend/internal/xid"
)

// FinalizeReceipt runs the finalization check on demand and returns the
// receipt with its current status. It is a no-op for receipts that are
// already finalized or not yet fully bound.
func (s *Service) FinalizeReceipt(ctx context.Context, receiptID string) (domain.FinalizeResult, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.FinalizeResult{}, err
	}
	receiptID = strings.TrimSpace(receiptID)
	if receiptID == "" {
		return domain.FinalizeResult{}, invalid("receiptId", "is required")
	}
	return s.checkFinalization(ctx, receiptID)
}

// checkFinalization recounts the binding state and, when the receipt is
// complete, performs the one-time settlement. The store guards the
// transition, so concurrent checks settle at most once.
func (s *Service) checkFinalization(ctx context.Context, receiptID string) (domain.FinalizeResult, error) {
	summary, err := s.repo.BindingSummary(ctx, receiptID)
	if err != nil {
		return domain.FinalizeResult{}, err
	}
	if !summary.Complete() {
		receipt, err := s.repo.GetReceipt(ctx, receiptID)
		if err != nil {
			return domain.FinalizeResult{}, err
		}
		return domain.FinalizeResult{Receipt: *receipt}, nil
	}

	result, err := s.repo.FinalizeReceipt(ctx, receiptID, xid.New("ledger"), time.Now().UTC())
	if err != nil {
		return domain.FinalizeResult{}, err
	}
	if !result.Finalized || result.Settlement == nil {
		return *result, nil
	}

	settlement := result.Settlement
	s.logAudit(ctx, result.Receipt.StoreID, "receipt_finalize", "receipt", receiptID,
		fmt.Sprintf("code=%s,supplier=%s,amount=%s", result.Receipt.Code, settlement.SupplierID, settlement.Amount.StringFixed(2)))
	s.publish(ctx, events.ReceiptFinalized{
		ReceiptID:     receiptID,
		ReceiptCode:   result.Receipt.Code,
		SupplierID:    settlement.SupplierID,
		LedgerEntryID: settlement.ID,
		Amount:        settlement.Amount,
		FinalizedAt:   settlement.CreatedAt,
	})
	return *result, nil
}

// finalizeAfterBinding runs the check on a context detached from the caller
// so a cancelled request cannot interrupt settlement. Failures are logged
// and never change the caller's result.
func (s *Service) finalizeAfterBinding(ctx context.Context, receiptID string) {
	if receiptID == "" {
		return
	}
	checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.finalizeTimeout)
	defer cancel()

	if _, err := s.checkFinalization(checkCtx, receiptID); err != nil {
		s.logger.Warn("finalization check failed",
			zap.String("receipt_id", receiptID),
			zap.Error(err),
		)
	}
}
