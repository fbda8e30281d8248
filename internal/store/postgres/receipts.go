package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"labelstock/backend/internal/domain"
	"labelstock/backend/internal/store"
)

const bindingSummaryQuery = `
	SELECT
		COALESCE((SELECT SUM(l.qty) FROM purchase_order_receipt_lines l WHERE l.receipt_id = r.id), 0),
		(SELECT COUNT(*) FROM barcodes b WHERE b.receipt_id = r.id),
		(SELECT COUNT(*)
			FROM barcodes b
			JOIN purchase_order_receipt_lines l ON l.id = b.receipt_line_id
			JOIN stock_items si ON si.barcode_id = b.id
			WHERE b.receipt_id = r.id
				AND si.status <> 'unscanned'
				AND (NOT l.serial_tracked OR si.serial_number IS NOT NULL))
	FROM purchase_order_receipts r
	WHERE r.id = $1
`

func (s *Store) CreateReceipt(ctx context.Context, receipt domain.Receipt) (*domain.Receipt, error) {
	if receipt.ID == "" || receipt.Code == "" || len(receipt.Lines) == 0 {
		return nil, store.ErrInvalidInput
	}
	if receipt.CreatedAt.IsZero() {
		receipt.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO purchase_order_receipts (id, code, purchase_order_code, supplier_id, store_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, receipt.ID, receipt.Code, receipt.PurchaseOrderCode, receipt.SupplierID, receipt.StoreID, receipt.CreatedAt)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return nil, store.ErrConflict
		case isForeignKeyViolation(err):
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	for _, line := range receipt.Lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO purchase_order_receipt_lines (id, receipt_id, line_no, sku, name, qty, unit_cost, serial_tracked)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, line.ID, receipt.ID, line.LineNo, line.SKU, line.Name, line.Qty, line.UnitCost, line.SerialTracked)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, store.ErrConflict
			}
			return nil, fmt.Errorf("insert receipt line %d: %w", line.LineNo, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetReceipt(ctx, receipt.ID)
}

func (s *Store) GetReceipt(ctx context.Context, receiptID string) (*domain.Receipt, error) {
	return loadReceipt(ctx, s.db, receiptID, false)
}

// loadReceipt reads a receipt with its lines and derived status. With lock
// set the receipt row is held FOR UPDATE until the transaction ends.
func loadReceipt(ctx context.Context, q queryer, receiptID string, lock bool) (*domain.Receipt, error) {
	query := `
		SELECT id, code, purchase_order_code, supplier_id, store_id, finalized_at, created_at
		FROM purchase_order_receipts
		WHERE id = $1
	`
	if lock {
		query += " FOR UPDATE"
	}

	var receipt domain.Receipt
	var finalizedAt sql.NullTime
	err := q.QueryRowContext(ctx, query, receiptID).Scan(
		&receipt.ID, &receipt.Code, &receipt.PurchaseOrderCode, &receipt.SupplierID, &receipt.StoreID, &finalizedAt, &receipt.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	receipt.CreatedAt = receipt.CreatedAt.UTC()
	if finalizedAt.Valid {
		at := finalizedAt.Time.UTC()
		receipt.FinalizedAt = &at
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, line_no, sku, name, qty, unit_cost, serial_tracked
		FROM purchase_order_receipt_lines
		WHERE receipt_id = $1
		ORDER BY line_no
	`, receiptID)
	if err != nil {
		return nil, err
	}
	lines := make([]domain.ReceiptLine, 0, 8)
	for rows.Next() {
		var line domain.ReceiptLine
		if err := rows.Scan(&line.ID, &line.LineNo, &line.SKU, &line.Name, &line.Qty, &line.UnitCost, &line.SerialTracked); err != nil {
			_ = rows.Close()
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()
	receipt.Lines = lines

	summary, err := bindingSummary(ctx, q, receiptID)
	if err != nil {
		return nil, err
	}
	receipt.Status = domain.DeriveStatus(receipt.FinalizedAt, summary)
	return &receipt, nil
}

func (s *Store) BindingSummary(ctx context.Context, receiptID string) (domain.BindingSummary, error) {
	return bindingSummary(ctx, s.db, receiptID)
}

func bindingSummary(ctx context.Context, q queryer, receiptID string) (domain.BindingSummary, error) {
	summary := domain.BindingSummary{ReceiptID: receiptID}
	err := q.QueryRowContext(ctx, bindingSummaryQuery, receiptID).Scan(&summary.Expected, &summary.Generated, &summary.Bound)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.BindingSummary{}, store.ErrNotFound
		}
		return domain.BindingSummary{}, err
	}
	summary.Required = summary.Expected
	return summary, nil
}

func (s *Store) FinalizeReceipt(ctx context.Context, receiptID string, ledgerEntryID string, at time.Time) (*domain.FinalizeResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	receipt, err := loadReceipt(ctx, tx, receiptID, true)
	if err != nil {
		return nil, err
	}
	if receipt.FinalizedAt != nil {
		return &domain.FinalizeResult{Receipt: *receipt}, nil
	}
	summary, err := bindingSummary(ctx, tx, receiptID)
	if err != nil {
		return nil, err
	}
	if !summary.Complete() {
		return &domain.FinalizeResult{Receipt: *receipt}, nil
	}

	finalizedAt := at.UTC()
	entry := domain.SupplierLedgerEntry{
		ID:         ledgerEntryID,
		SupplierID: receipt.SupplierID,
		ReceiptID:  receipt.ID,
		Kind:       domain.LedgerKindReceiptCredit,
		Amount:     receipt.Total(),
		CreatedAt:  finalizedAt,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO supplier_ledger (id, supplier_id, receipt_id, kind, amount, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, entry.ID, entry.SupplierID, entry.ReceiptID, entry.Kind, entry.Amount, entry.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.FinalizeResult{Receipt: *receipt}, nil
		}
		return nil, fmt.Errorf("insert settlement: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE suppliers
		SET credit_balance = credit_balance + $2
		WHERE id = $1
	`, entry.SupplierID, entry.Amount)
	if err != nil {
		return nil, fmt.Errorf("credit supplier: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return nil, store.ErrNotFound
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE purchase_order_receipts
		SET finalized_at = $2
		WHERE id = $1 AND finalized_at IS NULL
	`, receiptID, finalizedAt)
	if err != nil {
		return nil, err
	}
	if affected, err := res.RowsAffected(); err != nil || affected == 0 {
		return &domain.FinalizeResult{Receipt: *receipt}, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	receipt.FinalizedAt = &finalizedAt
	receipt.Status = domain.ReceiptStatusFinalized
	return &domain.FinalizeResult{Receipt: *receipt, Finalized: true, Settlement: &entry}, nil
}
