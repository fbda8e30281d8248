package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"labelstock/backend/internal/domain"
	"labelstock/backend/internal/store"
)

// ReprintSearch finds receipts with barcodes by receipt or purchase-order
// code. Printed defaults to true. When the dedicated search is unavailable
// the listing is filtered with the same matching rule.
func (s *Service) ReprintSearch(ctx context.Context, query domain.ReprintSearch) ([]domain.ReceiptBarcodeSummary, error) {
	mode, ok := domain.ParseSearchMode(string(query.Mode))
	if !ok {
		return nil, invalid("mode", "must be RC or PO")
	}
	query.Mode = mode
	query = query.WithDefaults()

	resolver := domain.ReprintResolver{
		Search:  s.repo.SearchReceiptsWithBarcodes,
		Listing: s.repo.ListReceiptsWithBarcodes,
		Unavailable: func(err error) bool {
			return errors.Is(err, store.ErrSearchUnavailable)
		},
	}
	results, usedFallback, err := resolver.Resolve(ctx, query)
	if err != nil {
		return nil, err
	}
	if usedFallback {
		s.logger.Warn("reprint search unavailable, served from listing",
			zap.String("mode", string(query.Mode)),
			zap.Int("results", len(results)),
		)
	}
	return results, nil
}

func (s *Service) ListReceiptsWithBarcodes(ctx context.Context, printed *bool) ([]domain.ReceiptBarcodeSummary, error) {
	return s.repo.ListReceiptsWithBarcodes(ctx, domain.ReceiptListFilter{Printed: printed})
}
