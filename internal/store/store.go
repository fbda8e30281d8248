package store

import (
	"context"
	"errors"
	"time"

	"labelstock/backend/internal/domain"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrConflict            = errors.New("conflict")
	ErrDuplicateSerial     = errors.New("serial number already bound to another barcode")
	ErrBarcodeNotInReceipt = errors.New("barcode does not belong to receipt")
	ErrInvalidState        = errors.New("stock item is in a state that cannot be rebound")
	ErrSerialRequired      = errors.New("serial number required for serial-tracked unit")
	ErrSearchUnavailable   = errors.New("reprint search unavailable")
)

// Repository is the persistence boundary of the reconciliation pipeline.
// A single barcode row is the unit of locking for every binding writer.
type Repository interface {
	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	GetSupplier(ctx context.Context, supplierID string) (*domain.Supplier, error)
	ListSupplierLedger(ctx context.Context, supplierID string, limit int) ([]domain.SupplierLedgerEntry, error)

	CreateReceipt(ctx context.Context, receipt domain.Receipt) (*domain.Receipt, error)
	GetReceipt(ctx context.Context, receiptID string) (*domain.Receipt, error)

	ListBarcodesByReceipt(ctx context.Context, receiptID string) ([]domain.Barcode, error)
	// InsertMissingBarcodes inserts the candidates whose unit has no barcode
	// yet and returns the full set for the receipt.
	InsertMissingBarcodes(ctx context.Context, receiptID string, candidates []domain.Barcode) ([]domain.Barcode, error)
	MarkReceiptPrinted(ctx context.Context, receiptID string, reprint bool, at time.Time) ([]domain.Barcode, error)
	GetBarcode(ctx context.Context, code string) (*domain.Barcode, error)
	// ApplyBinding is the single choke point for serial binding. It locks the
	// barcode row, checks ownership, state and serial uniqueness, and writes.
	ApplyBinding(ctx context.Context, req domain.BindingRequest) (*domain.BindingOutcome, error)
	// BindingSummary recounts the binding state from storage on every call.
	BindingSummary(ctx context.Context, receiptID string) (domain.BindingSummary, error)
	// FinalizeReceipt sets the finalization marker and writes the supplier
	// settlement in one unit of work when the receipt is complete. Result.Finalized
	// is true only for the call that performed the transition.
	FinalizeReceipt(ctx context.Context, receiptID string, ledgerEntryID string, at time.Time) (*domain.FinalizeResult, error)

	ListReceiptsWithBarcodes(ctx context.Context, filter domain.ReceiptListFilter) ([]domain.ReceiptBarcodeSummary, error)
	SearchReceiptsWithBarcodes(ctx context.Context, query domain.ReprintSearch) ([]domain.ReceiptBarcodeSummary, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, storeID string, entityID string, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
