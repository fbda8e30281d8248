package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"

	"labelstock/backend/internal/domain"
	"labelstock/backend/internal/store"
)

var dialect = goqu.Dialect("postgres")

const (
	printedCountExpr   = "COUNT(*) FILTER (WHERE b.print_status <> 'unprinted')"
	unprintedCountExpr = "COUNT(*) FILTER (WHERE b.print_status = 'unprinted')"
	boundCountExpr     = "COUNT(*) FILTER (WHERE si.status <> 'unscanned' AND (NOT l.serial_tracked OR si.serial_number IS NOT NULL))"
)

// summaryDataset groups every receipt that has at least one barcode into a
// ReceiptBarcodeSummary row, newest receipt first.
func summaryDataset() *goqu.SelectDataset {
	return dialect.
		From(goqu.T("purchase_order_receipts").As("r")).
		Join(goqu.T("barcodes").As("b"), goqu.On(goqu.I("b.receipt_id").Eq(goqu.I("r.id")))).
		Join(goqu.T("purchase_order_receipt_lines").As("l"), goqu.On(goqu.I("l.id").Eq(goqu.I("b.receipt_line_id")))).
		Join(goqu.T("stock_items").As("si"), goqu.On(goqu.I("si.barcode_id").Eq(goqu.I("b.id")))).
		Select(
			goqu.I("r.id"),
			goqu.I("r.code"),
			goqu.I("r.purchase_order_code"),
			goqu.I("r.supplier_id"),
			goqu.I("r.finalized_at"),
			goqu.I("r.created_at"),
			goqu.COUNT(goqu.I("b.id")).As("barcode_count"),
			goqu.L(printedCountExpr).As("printed_count"),
			goqu.L(boundCountExpr).As("bound_count"),
		).
		GroupBy(goqu.I("r.id")).
		Order(goqu.I("r.created_at").Desc(), goqu.I("r.code").Desc()).
		Prepared(true)
}

func printedHaving(printed *bool) exp.Expression {
	if printed == nil {
		return nil
	}
	if *printed {
		return goqu.L(printedCountExpr + " > 0")
	}
	return goqu.L(unprintedCountExpr + " > 0")
}

func (s *Store) ListReceiptsWithBarcodes(ctx context.Context, filter domain.ReceiptListFilter) ([]domain.ReceiptBarcodeSummary, error) {
	ds := summaryDataset()
	if having := printedHaving(filter.Printed); having != nil {
		ds = ds.Having(having)
	}
	return s.querySummaries(ctx, ds)
}

func (s *Store) SearchReceiptsWithBarcodes(ctx context.Context, query domain.ReprintSearch) ([]domain.ReceiptBarcodeSummary, error) {
	ds := summaryDataset()
	if needle := strings.TrimSpace(query.Query); needle != "" {
		column := "r.code"
		if query.Mode == domain.SearchModePurchaseOrder {
			column = "r.purchase_order_code"
		}
		ds = ds.Where(goqu.I(column).ILike("%" + escapeLike(needle) + "%"))
	}
	if having := printedHaving(query.Printed); having != nil {
		ds = ds.Having(having)
	}

	results, err := s.querySummaries(ctx, ds)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", store.ErrSearchUnavailable, err)
	}
	return results, nil
}

func (s *Store) querySummaries(ctx context.Context, ds *goqu.SelectDataset) ([]domain.ReceiptBarcodeSummary, error) {
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build receipt summary query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.ReceiptBarcodeSummary, 0, 32)
	for rows.Next() {
		var (
			summary     domain.ReceiptBarcodeSummary
			finalizedAt sql.NullTime
			bound       int
		)
		if err := rows.Scan(
			&summary.ReceiptID,
			&summary.ReceiptCode,
			&summary.PurchaseOrderCode,
			&summary.SupplierID,
			&finalizedAt,
			&summary.CreatedAt,
			&summary.BarcodeCount,
			&summary.PrintedCount,
			&bound,
		); err != nil {
			return nil, err
		}
		summary.CreatedAt = summary.CreatedAt.UTC()
		var finalized *time.Time
		if finalizedAt.Valid {
			finalized = &finalizedAt.Time
		}
		summary.Status = domain.DeriveStatus(finalized, domain.BindingSummary{Bound: bound})
		results = append(results, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(value string) string {
	return likeEscaper.Replace(value)
}
