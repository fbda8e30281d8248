package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var receiptCodePattern = regexp.MustCompile(`^RC-\d{6}-\d{4}$`)

// ValidReceiptCode reports whether code has the RC-000000-0000 shape.
func ValidReceiptCode(code string) bool {
	return receiptCodePattern.MatchString(code)
}

// BarcodeCode builds the scannable identifier of one expected unit. The same
// inputs always yield the same code, so regeneration is detectable as a
// collision rather than a silent re-issue.
func BarcodeCode(receiptCode string, lineNo int, unitSeq int) string {
	return fmt.Sprintf("%s-%02d-%03d", strings.ReplaceAll(receiptCode, "-", ""), lineNo, unitSeq)
}

// MissingUnit is an expected unit that has no barcode yet.
type MissingUnit struct {
	Line    ReceiptLine
	UnitSeq int
}

// MissingUnits lists the units of receipt that are not covered by existing.
func MissingUnits(receipt Receipt, existing []Barcode) []MissingUnit {
	have := make(map[string]struct{}, len(existing))
	for _, b := range existing {
		have[unitKey(b.ReceiptLineID, b.UnitSeq)] = struct{}{}
	}
	missing := make([]MissingUnit, 0)
	for _, line := range receipt.Lines {
		for seq := 1; seq <= line.Qty; seq++ {
			if _, ok := have[unitKey(line.ID, seq)]; ok {
				continue
			}
			missing = append(missing, MissingUnit{Line: line, UnitSeq: seq})
		}
	}
	return missing
}

func unitKey(lineID string, seq int) string {
	return fmt.Sprintf("%s#%d", lineID, seq)
}

// NormalizeSerial trims the serial and maps blank values to nil.
func NormalizeSerial(serial *string) *string {
	if serial == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*serial)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

type BindingAction int

const (
	BindingWrite BindingAction = iota
	BindingAlreadyApplied
	BindingRejectState
	BindingRejectSerialRequired
)

// BindingPlan is the outcome of comparing a requested binding with the
// current state of one unit.
type BindingPlan struct {
	Action BindingAction
	// CheckSerial is set when the write attaches a serial that must be
	// unique across all stock items.
	CheckSerial *string
	Next        StockItem
}

// PlanBinding decides what a binding request does to current. Lines that
// are not serial tracked never keep a serial. A scan without a serial keeps
// whatever serial the unit already carries, unless the request requires one
// and the unit has none.
func PlanBinding(current Barcode, req BindingRequest) BindingPlan {
	item := current.StockItem
	if item.Status.Downstream() {
		return BindingPlan{Action: BindingRejectState, Next: item}
	}

	if req.Clear {
		if item.Status == StockItemUnscanned && item.SerialNumber == nil {
			return BindingPlan{Action: BindingAlreadyApplied, Next: item}
		}
		return BindingPlan{Action: BindingWrite, Next: StockItem{Status: StockItemUnscanned}}
	}

	serial := NormalizeSerial(req.SerialNumber)
	if !current.SerialTracked {
		serial = nil
	}
	at := req.At.UTC()

	if serial == nil {
		if req.RequireSerial && current.SerialTracked && item.SerialNumber == nil {
			return BindingPlan{Action: BindingRejectSerialRequired, Next: item}
		}
		if item.Status == StockItemScanned {
			return BindingPlan{Action: BindingAlreadyApplied, Next: item}
		}
		return BindingPlan{Action: BindingWrite, Next: StockItem{Status: StockItemScanned, BoundAt: &at}}
	}

	if item.Status == StockItemScanned && item.SerialNumber != nil && *item.SerialNumber == *serial {
		return BindingPlan{Action: BindingAlreadyApplied, Next: item}
	}
	return BindingPlan{
		Action:      BindingWrite,
		CheckSerial: serial,
		Next:        StockItem{SerialNumber: serial, Status: StockItemScanned, BoundAt: &at},
	}
}

// Summarize counts the binding state of barcodes against receipt.
func Summarize(receipt Receipt, barcodes []Barcode) BindingSummary {
	summary := BindingSummary{
		ReceiptID: receipt.ID,
		Expected:  receipt.ExpectedUnits(),
		Generated: len(barcodes),
	}
	summary.Required = summary.Expected
	for _, b := range barcodes {
		if b.Bound() {
			summary.Bound++
		}
	}
	return summary
}

// DeriveStatus maps the finalization marker and the binding counts onto the
// receipt state machine. FINALIZED is terminal.
func DeriveStatus(finalizedAt *time.Time, summary BindingSummary) ReceiptStatus {
	if finalizedAt != nil {
		return ReceiptStatusFinalized
	}
	if summary.Bound > 0 {
		return ReceiptStatusPartiallyBound
	}
	return ReceiptStatusPending
}

// MatchesReprint is the matching rule shared by the dedicated search and the
// listing fallback: case-insensitive substring on the receipt or purchase
// order code, then the printed filter.
func MatchesReprint(summary ReceiptBarcodeSummary, query ReprintSearch) bool {
	if summary.BarcodeCount == 0 {
		return false
	}
	needle := strings.ToLower(strings.TrimSpace(query.Query))
	var haystack string
	switch query.Mode {
	case SearchModePurchaseOrder:
		haystack = summary.PurchaseOrderCode
	default:
		haystack = summary.ReceiptCode
	}
	if needle != "" && !strings.Contains(strings.ToLower(haystack), needle) {
		return false
	}
	return MatchesPrinted(summary, query.Printed)
}

// MatchesPrinted applies the printed filter: true keeps receipts with at
// least one printed unit, false keeps receipts with at least one unprinted
// unit, nil keeps everything.
func MatchesPrinted(summary ReceiptBarcodeSummary, printed *bool) bool {
	if printed == nil {
		return true
	}
	if *printed {
		return summary.PrintedCount > 0
	}
	return summary.BarcodeCount-summary.PrintedCount > 0
}

// ParseSearchMode accepts RC or PO in any case.
func ParseSearchMode(raw string) (SearchMode, bool) {
	switch SearchMode(strings.ToUpper(strings.TrimSpace(raw))) {
	case SearchModeReceiptCode:
		return SearchModeReceiptCode, true
	case SearchModePurchaseOrder:
		return SearchModePurchaseOrder, true
	default:
		return "", false
	}
}

// CollapseEntries keeps the last entry per barcode, ordered by that last
// occurrence. Entries with a blank barcode are returned separately, in
// input order.
func CollapseEntries(entries []ScanEntry) (kept []ScanEntry, blank []ScanEntry) {
	last := make(map[string]int, len(entries))
	for i, entry := range entries {
		code := strings.TrimSpace(entry.Barcode)
		if code == "" {
			continue
		}
		last[code] = i
	}
	for i, entry := range entries {
		code := strings.TrimSpace(entry.Barcode)
		if code == "" {
			blank = append(blank, entry)
			continue
		}
		if last[code] != i {
			continue
		}
		entry.Barcode = code
		kept = append(kept, entry)
	}
	return kept, blank
}
