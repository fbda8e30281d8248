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

const barcodeColumns = `
	b.id, b.code, b.receipt_id, b.receipt_line_id, b.unit_seq, l.serial_tracked,
	b.print_status, b.printed_at, b.created_at,
	si.serial_number, si.status, si.bound_at
`

const barcodeJoins = `
	FROM barcodes b
	JOIN purchase_order_receipt_lines l ON l.id = b.receipt_line_id
	JOIN stock_items si ON si.barcode_id = b.id
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBarcode(row rowScanner) (domain.Barcode, error) {
	var (
		b         domain.Barcode
		printedAt sql.NullTime
		serial    sql.NullString
		boundAt   sql.NullTime
		status    string
		printSt   string
	)
	if err := row.Scan(
		&b.ID, &b.Code, &b.ReceiptID, &b.ReceiptLineID, &b.UnitSeq, &b.SerialTracked,
		&printSt, &printedAt, &b.CreatedAt,
		&serial, &status, &boundAt,
	); err != nil {
		return domain.Barcode{}, err
	}
	b.CreatedAt = b.CreatedAt.UTC()
	b.PrintStatus = domain.PrintStatus(printSt)
	if printedAt.Valid {
		at := printedAt.Time.UTC()
		b.PrintedAt = &at
	}
	b.StockItem.Status = domain.StockItemStatus(status)
	if serial.Valid {
		value := serial.String
		b.StockItem.SerialNumber = &value
	}
	if boundAt.Valid {
		at := boundAt.Time.UTC()
		b.StockItem.BoundAt = &at
	}
	b.Normalize()
	return b, nil
}

func (s *Store) ListBarcodesByReceipt(ctx context.Context, receiptID string) ([]domain.Barcode, error) {
	if err := receiptExists(ctx, s.db, receiptID); err != nil {
		return nil, err
	}
	return listBarcodes(ctx, s.db, receiptID)
}

func receiptExists(ctx context.Context, q queryer, receiptID string) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM purchase_order_receipts WHERE id = $1`, receiptID).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	return nil
}

func listBarcodes(ctx context.Context, q queryer, receiptID string) ([]domain.Barcode, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+barcodeColumns+barcodeJoins+`
		WHERE b.receipt_id = $1
		ORDER BY l.line_no, b.unit_seq
	`, receiptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	barcodes := make([]domain.Barcode, 0, 32)
	for rows.Next() {
		b, err := scanBarcode(rows)
		if err != nil {
			return nil, err
		}
		barcodes = append(barcodes, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return barcodes, nil
}

func (s *Store) InsertMissingBarcodes(ctx context.Context, receiptID string, candidates []domain.Barcode) ([]domain.Barcode, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	receipt, err := loadReceipt(ctx, tx, receiptID, true)
	if err != nil {
		return nil, err
	}

	for _, candidate := range candidates {
		if candidate.ReceiptID != receiptID {
			return nil, store.ErrInvalidInput
		}
		if _, ok := receipt.Line(candidate.ReceiptLineID); !ok {
			return nil, store.ErrInvalidInput
		}
		createdAt := candidate.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}

		var insertedID string
		err := tx.QueryRowContext(ctx, `
			INSERT INTO barcodes (id, code, receipt_id, receipt_line_id, unit_seq, print_status, created_at)
			VALUES ($1,$2,$3,$4,$5,'unprinted',$6)
			ON CONFLICT (receipt_line_id, unit_seq) DO NOTHING
			RETURNING id
		`, candidate.ID, candidate.Code, receiptID, candidate.ReceiptLineID, candidate.UnitSeq, createdAt).Scan(&insertedID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if isUniqueViolation(err) {
				return nil, store.ErrConflict
			}
			return nil, fmt.Errorf("insert barcode %s: %w", candidate.Code, err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO stock_items (barcode_id, status, updated_at)
			VALUES ($1,'unscanned',now())
		`, insertedID); err != nil {
			return nil, fmt.Errorf("insert stock item %s: %w", candidate.Code, err)
		}
	}

	barcodes, err := listBarcodes(ctx, tx, receiptID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return barcodes, nil
}

func (s *Store) MarkReceiptPrinted(ctx context.Context, receiptID string, reprint bool, at time.Time) ([]domain.Barcode, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := receiptExists(ctx, tx, receiptID); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE barcodes
		SET print_status = CASE
				WHEN $2::boolean AND print_status <> 'unprinted' THEN 'reprinted'
				WHEN print_status = 'unprinted' THEN 'printed'
				ELSE print_status
			END,
			printed_at = $3
		WHERE receipt_id = $1
	`, receiptID, reprint, at.UTC())
	if err != nil {
		return nil, err
	}

	barcodes, err := listBarcodes(ctx, tx, receiptID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return barcodes, nil
}

func (s *Store) GetBarcode(ctx context.Context, code string) (*domain.Barcode, error) {
	b, err := scanBarcode(s.db.QueryRowContext(ctx, `SELECT `+barcodeColumns+barcodeJoins+`WHERE b.code = $1`, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (s *Store) ApplyBinding(ctx context.Context, req domain.BindingRequest) (*domain.BindingOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanBarcode(tx.QueryRowContext(ctx, `SELECT `+barcodeColumns+barcodeJoins+`
		WHERE b.code = $1
		FOR UPDATE OF b, si
	`, req.Barcode))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if req.ReceiptID != "" && current.ReceiptID != req.ReceiptID {
		return nil, store.ErrBarcodeNotInReceipt
	}

	plan := domain.PlanBinding(current, req)
	switch plan.Action {
	case domain.BindingRejectState:
		return nil, store.ErrInvalidState
	case domain.BindingRejectSerialRequired:
		return nil, store.ErrSerialRequired
	case domain.BindingAlreadyApplied:
		return &domain.BindingOutcome{Barcode: current, AlreadyApplied: true}, nil
	}

	if plan.CheckSerial != nil {
		var owner string
		err := tx.QueryRowContext(ctx, `
			SELECT barcode_id FROM stock_items
			WHERE serial_number = $1 AND barcode_id <> $2
		`, *plan.CheckSerial, current.ID).Scan(&owner)
		switch {
		case err == nil:
			return nil, store.ErrDuplicateSerial
		case !errors.Is(err, sql.ErrNoRows):
			return nil, err
		}
	}

	var serial sql.NullString
	if plan.Next.SerialNumber != nil {
		serial = sql.NullString{String: *plan.Next.SerialNumber, Valid: true}
	}
	var boundAt sql.NullTime
	if plan.Next.BoundAt != nil {
		boundAt = sql.NullTime{Time: plan.Next.BoundAt.UTC(), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE stock_items
		SET serial_number = $2, status = $3, bound_at = $4, updated_at = now()
		WHERE barcode_id = $1
	`, current.ID, serial, string(plan.Next.Status), boundAt)
	if err != nil {
		if isUniqueViolation(err) && pgConstraint(err) == "stock_items_serial_unique" {
			return nil, store.ErrDuplicateSerial
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateSerial
		}
		return nil, err
	}

	current.StockItem = plan.Next
	current.Normalize()
	return &domain.BindingOutcome{Barcode: current}, nil
}
