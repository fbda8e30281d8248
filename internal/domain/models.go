package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type ReceiptStatus string

const (
	ReceiptStatusPending        ReceiptStatus = "PENDING"
	ReceiptStatusPartiallyBound ReceiptStatus = "PARTIALLY_BOUND"
	ReceiptStatusFinalized      ReceiptStatus = "FINALIZED"
)

type PrintStatus string

const (
	PrintStatusUnprinted PrintStatus = "unprinted"
	PrintStatusPrinted   PrintStatus = "printed"
	PrintStatusReprinted PrintStatus = "reprinted"
)

type StockItemStatus string

const (
	StockItemUnscanned StockItemStatus = "unscanned"
	StockItemScanned   StockItemStatus = "scanned"
	StockItemSold      StockItemStatus = "sold"
	StockItemClaimed   StockItemStatus = "claimed"
	StockItemLost      StockItemStatus = "lost"
)

// Downstream reports whether the unit left the receiving flow (sold, claimed
// or lost) and must no longer be rebound.
func (s StockItemStatus) Downstream() bool {
	switch s {
	case StockItemSold, StockItemClaimed, StockItemLost:
		return true
	default:
		return false
	}
}

// Per-entry error codes reported in a CommitResult.
const (
	CodeUnknownBarcode  = "UNKNOWN_BARCODE"
	CodeDuplicateSerial = "DUPLICATE_SERIAL"
	CodeInvalidState    = "INVALID_STATE"
	CodeInvalidEntry    = "INVALID_ENTRY"
	CodeInternal        = "INTERNAL"
	CodeSerialRequired  = "SERIAL_REQUIRED"
)

type Supplier struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	CreditBalance decimal.Decimal `json:"creditBalance"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type ReceiptLine struct {
	ID            string          `json:"id"`
	LineNo        int             `json:"lineNo"`
	SKU           string          `json:"sku"`
	Name          string          `json:"name"`
	Qty           int             `json:"qty"`
	UnitCost      decimal.Decimal `json:"unitCost"`
	SerialTracked bool            `json:"serialTracked"`
}

type Receipt struct {
	ID                string        `json:"id"`
	Code              string        `json:"code"`
	PurchaseOrderCode string        `json:"purchaseOrderCode"`
	SupplierID        string        `json:"supplierId"`
	StoreID           string        `json:"storeId"`
	Lines             []ReceiptLine `json:"lines"`
	Status            ReceiptStatus `json:"status"`
	FinalizedAt       *time.Time    `json:"finalizedAt,omitempty"`
	CreatedAt         time.Time     `json:"createdAt"`
}

// ExpectedUnits is the number of physical units the receipt lines announce.
func (r Receipt) ExpectedUnits() int {
	total := 0
	for _, line := range r.Lines {
		total += line.Qty
	}
	return total
}

// Total is Σ qty × unit cost over all lines.
func (r Receipt) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range r.Lines {
		total = total.Add(line.UnitCost.Mul(decimal.NewFromInt(int64(line.Qty))))
	}
	return total
}

func (r Receipt) Line(lineID string) (ReceiptLine, bool) {
	for _, line := range r.Lines {
		if line.ID == lineID {
			return line, true
		}
	}
	return ReceiptLine{}, false
}

// StockItem is the binding half of a barcode. It is always present on a
// Barcode, unbound units carry a nil serial and status unscanned.
type StockItem struct {
	SerialNumber *string         `json:"serialNumber"`
	Status       StockItemStatus `json:"status"`
	BoundAt      *time.Time      `json:"boundAt"`
}

type Barcode struct {
	ID            string      `json:"id"`
	Code          string      `json:"barcode"`
	ReceiptID     string      `json:"receiptId"`
	ReceiptLineID string      `json:"receiptLineId"`
	UnitSeq       int         `json:"unitSeq"`
	SerialTracked bool        `json:"serialTracked"`
	PrintStatus   PrintStatus `json:"printStatus"`
	Printed       bool        `json:"printed"`
	PrintedAt     *time.Time  `json:"printedAt,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
	StockItem     StockItem   `json:"stockItem"`
}

// Normalize fills the fields every consumer relies on so that a barcode read
// from any store has the same shape.
func (b *Barcode) Normalize() {
	if b.PrintStatus == "" {
		b.PrintStatus = PrintStatusUnprinted
	}
	b.Printed = b.PrintStatus != PrintStatusUnprinted
	if b.StockItem.Status == "" {
		b.StockItem.Status = StockItemUnscanned
	}
}

// Bound reports whether the unit carries the binding its line requires.
func (b Barcode) Bound() bool {
	if b.StockItem.Status == StockItemUnscanned {
		return false
	}
	if b.SerialTracked {
		return b.StockItem.SerialNumber != nil
	}
	return true
}

// Clone returns a copy that shares no pointers with b.
func (b Barcode) Clone() Barcode {
	dup := b
	if b.PrintedAt != nil {
		printedAt := *b.PrintedAt
		dup.PrintedAt = &printedAt
	}
	if b.StockItem.SerialNumber != nil {
		serial := *b.StockItem.SerialNumber
		dup.StockItem.SerialNumber = &serial
	}
	if b.StockItem.BoundAt != nil {
		boundAt := *b.StockItem.BoundAt
		dup.StockItem.BoundAt = &boundAt
	}
	return dup
}

type BarcodeSet struct {
	ReceiptID string    `json:"receiptId"`
	Barcodes  []Barcode `json:"barcodes"`
}

type ScanEntry struct {
	Barcode      string  `json:"barcode"`
	SerialNumber *string `json:"serialNumber,omitempty"`
}

type CommitScansRequest struct {
	Items []ScanEntry `json:"items"`
}

type CommitError struct {
	Barcode      string  `json:"barcode"`
	SerialNumber *string `json:"serialNumber,omitempty"`
	Code         string  `json:"code,omitempty"`
	Message      string  `json:"message,omitempty"`
}

type CommitResult struct {
	OK        bool          `json:"ok"`
	Committed []string      `json:"committed"`
	Errors    []CommitError `json:"errors"`
	Message   string        `json:"message,omitempty"`
}

type SerialUpdateRequest struct {
	SerialNumber *string `json:"serialNumber"`
}

type ReceiveSerialRequest struct {
	Barcode      string  `json:"barcode"`
	SerialNumber *string `json:"serialNumber,omitempty"`
}

// BindingRequest is the single-unit mutation every binding path funnels
// through. An empty ReceiptID skips the receipt ownership check. Clear
// unbinds the serial and resets the unit to unscanned. RequireSerial
// rejects a scan that would leave a serial-tracked unit without a serial.
type BindingRequest struct {
	Barcode       string
	ReceiptID     string
	SerialNumber  *string
	Clear         bool
	RequireSerial bool
	At            time.Time
}

type BindingOutcome struct {
	Barcode        Barcode
	AlreadyApplied bool
}

type BindingSummary struct {
	ReceiptID string `json:"receiptId"`
	Expected  int    `json:"expected"`
	Generated int    `json:"generated"`
	Required  int    `json:"required"`
	Bound     int    `json:"bound"`
}

// Complete reports whether every expected unit has an identity and every
// identity carries its required binding.
func (s BindingSummary) Complete() bool {
	return s.Expected > 0 && s.Generated >= s.Expected && s.Bound >= s.Required
}

type ReceiptView struct {
	Receipt Receipt        `json:"receipt"`
	Summary BindingSummary `json:"summary"`
}

type MarkPrintedRequest struct {
	PurchaseOrderReceiptID string `json:"purchaseOrderReceiptId"`
	Reprint                bool   `json:"reprint,omitempty"`
}

type SearchMode string

const (
	SearchModeReceiptCode   SearchMode = "RC"
	SearchModePurchaseOrder SearchMode = "PO"
)

type ReprintSearch struct {
	Mode    SearchMode `json:"mode"`
	Query   string     `json:"query"`
	Printed *bool      `json:"printed,omitempty"`
}

// WithDefaults trims the query and applies printed=true when the filter is
// omitted.
func (q ReprintSearch) WithDefaults() ReprintSearch {
	q.Query = strings.TrimSpace(q.Query)
	if q.Printed == nil {
		printed := true
		q.Printed = &printed
	}
	return q
}

type ReceiptListFilter struct {
	Printed *bool
}

type ReceiptBarcodeSummary struct {
	ReceiptID         string        `json:"receiptId"`
	ReceiptCode       string        `json:"receiptCode"`
	PurchaseOrderCode string        `json:"purchaseOrderCode"`
	SupplierID        string        `json:"supplierId"`
	Status            ReceiptStatus `json:"status"`
	BarcodeCount      int           `json:"barcodeCount"`
	PrintedCount      int           `json:"printedCount"`
	CreatedAt         time.Time     `json:"createdAt"`
}

type ReceiptCreateRequest struct {
	Code              string               `json:"code"`
	PurchaseOrderCode string               `json:"purchaseOrderCode"`
	SupplierID        string               `json:"supplierId"`
	StoreID           string               `json:"storeId"`
	Lines             []ReceiptLineRequest `json:"lines"`
}

type ReceiptLineRequest struct {
	SKU           string          `json:"sku"`
	Name          string          `json:"name"`
	Qty           int             `json:"qty"`
	UnitCost      decimal.Decimal `json:"unitCost"`
	SerialTracked bool            `json:"serialTracked"`
}

type SupplierLedgerEntry struct {
	ID         string          `json:"id"`
	SupplierID string          `json:"supplierId"`
	ReceiptID  string          `json:"receiptId"`
	Kind       string          `json:"kind"`
	Amount     decimal.Decimal `json:"amount"`
	CreatedAt  time.Time       `json:"createdAt"`
}

const LedgerKindReceiptCredit = "receipt_credit"

type FinalizeResult struct {
	Receipt    Receipt              `json:"receipt"`
	Finalized  bool                 `json:"finalized"`
	Settlement *SupplierLedgerEntry `json:"settlement,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"accessToken"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expiresAt"`
}

type Actor struct {
	Username string
	Role     string
}

const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	StoreID       string    `json:"storeId"`
	ActorUsername string    `json:"actorUsername"`
	ActorRole     string    `json:"actorRole"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entityType"`
	EntityID      string    `json:"entityId"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"createdAt"`
}
