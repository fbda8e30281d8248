package domain

import "context"

type SearchFunc func(ctx context.Context, query ReprintSearch) ([]ReceiptBarcodeSummary, error)

type ListingFunc func(ctx context.Context, filter ReceiptListFilter) ([]ReceiptBarcodeSummary, error)

// ReprintResolver locates barcode sets for reprint. It asks the dedicated
// search first and, only when that surface reports itself unavailable,
// loads the broader listing and filters it with MatchesReprint. Both stages
// therefore return the same receipts for the same query.
type ReprintResolver struct {
	Search      SearchFunc
	Listing     ListingFunc
	Unavailable func(error) bool
}

// Resolve reports whether the fallback stage produced the result. Both
// stages see the query after WithDefaults.
func (r ReprintResolver) Resolve(ctx context.Context, query ReprintSearch) ([]ReceiptBarcodeSummary, bool, error) {
	query = query.WithDefaults()
	if r.Search != nil {
		results, err := r.Search(ctx, query)
		if err == nil {
			return results, false, nil
		}
		if r.Unavailable == nil || !r.Unavailable(err) || r.Listing == nil {
			return nil, false, err
		}
	}

	listing, err := r.Listing(ctx, ReceiptListFilter{Printed: query.Printed})
	if err != nil {
		return nil, true, err
	}
	matched := make([]ReceiptBarcodeSummary, 0, len(listing))
	for _, summary := range listing {
		if MatchesReprint(summary, query) {
			matched = append(matched, summary)
		}
	}
	return matched, true, nil
}
