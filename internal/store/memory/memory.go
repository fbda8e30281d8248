package memory

import (
	"context"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"labelstock/backend/internal/domain"
	"labelstock/backend/internal/store"
	"labelstock/backend/internal/xid"
)

type Store struct {
	mu                sync.RWMutex
	suppliersByID     map[string]domain.Supplier
	ledger            []domain.SupplierLedgerEntry
	receiptsByID      map[string]domain.Receipt
	receiptIDByCode   map[string]string
	barcodesByCode    map[string]domain.Barcode
	barcodeCodesByRcp map[string][]string
	serialOwner       map[string]string
	auditLogs         []domain.AuditLog
	usersByUsername   map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD.
// These accounts are never used when DATABASE_URL is set.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		zap.L().Warn("memory store using default dev credentials",
			zap.String("override", "SEED_ADMIN_PASSWORD, SEED_STAFF_PASSWORD"))
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"staff", staffPwd, domain.RoleStaff},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.MinCost)
		if err != nil {
			zap.L().Fatal("failed to hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	suppliers := []domain.Supplier{
		{ID: "sup-sumber-elektronik", Name: "PT Sumber Elektronik", CreditBalance: decimal.Zero, CreatedAt: now},
		{ID: "sup-mitra-gadget", Name: "CV Mitra Gadget", CreditBalance: decimal.Zero, CreatedAt: now},
	}
	supplierMap := make(map[string]domain.Supplier, len(suppliers))
	for _, supplier := range suppliers {
		supplierMap[supplier.ID] = supplier
	}

	return &Store{
		suppliersByID:     supplierMap,
		ledger:            make([]domain.SupplierLedgerEntry, 0, 16),
		receiptsByID:      make(map[string]domain.Receipt),
		receiptIDByCode:   make(map[string]string),
		barcodesByCode:    make(map[string]domain.Barcode),
		barcodeCodesByRcp: make(map[string][]string),
		serialOwner:       make(map[string]string),
		auditLogs:         make([]domain.AuditLog, 0, 128),
		usersByUsername:   seedUsers(),
	}
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	supplier.Name = strings.TrimSpace(supplier.Name)
	if supplier.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if _, exists := s.suppliersByID[supplier.ID]; exists {
		return nil, store.ErrConflict
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}

	s.suppliersByID[supplier.ID] = supplier
	copySupplier := supplier
	return &copySupplier, nil
}

func (s *Store) GetSupplier(_ context.Context, supplierID string) (*domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	supplier, ok := s.suppliersByID[supplierID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &supplier, nil
}

func (s *Store) ListSupplierLedger(_ context.Context, supplierID string, limit int) ([]domain.SupplierLedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.suppliersByID[supplierID]; !ok {
		return nil, store.ErrNotFound
	}
	result := make([]domain.SupplierLedgerEntry, 0, 8)
	for _, entry := range s.ledger {
		if entry.SupplierID == supplierID {
			result = append(result, entry)
		}
	}
	slices.SortFunc(result, func(a, b domain.SupplierLedgerEntry) int {
		return compareNewestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateReceipt(_ context.Context, receipt domain.Receipt) (*domain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if receipt.ID == "" || receipt.Code == "" || len(receipt.Lines) == 0 {
		return nil, store.ErrInvalidInput
	}
	if _, ok := s.suppliersByID[receipt.SupplierID]; !ok {
		return nil, store.ErrNotFound
	}
	if _, exists := s.receiptIDByCode[receipt.Code]; exists {
		return nil, store.ErrConflict
	}
	if _, exists := s.receiptsByID[receipt.ID]; exists {
		return nil, store.ErrConflict
	}
	if receipt.CreatedAt.IsZero() {
		receipt.CreatedAt = time.Now().UTC()
	}
	receipt.FinalizedAt = nil

	stored := cloneReceipt(receipt)
	s.receiptsByID[receipt.ID] = stored
	s.receiptIDByCode[receipt.Code] = receipt.ID
	return s.receiptViewLocked(stored), nil
}

func (s *Store) GetReceipt(_ context.Context, receiptID string) (*domain.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	receipt, ok := s.receiptsByID[receiptID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.receiptViewLocked(receipt), nil
}

func (s *Store) ListBarcodesByReceipt(_ context.Context, receiptID string) ([]domain.Barcode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.receiptsByID[receiptID]; !ok {
		return nil, store.ErrNotFound
	}
	return s.barcodesLocked(receiptID), nil
}

func (s *Store) InsertMissingBarcodes(_ context.Context, receiptID string, candidates []domain.Barcode) ([]domain.Barcode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	receipt, ok := s.receiptsByID[receiptID]
	if !ok {
		return nil, store.ErrNotFound
	}

	existingUnits := make(map[string]struct{})
	for _, code := range s.barcodeCodesByRcp[receiptID] {
		b := s.barcodesByCode[code]
		existingUnits[unitKey(b.ReceiptLineID, b.UnitSeq)] = struct{}{}
	}

	toInsert := make([]domain.Barcode, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate.ReceiptID != receiptID {
			return nil, store.ErrInvalidInput
		}
		if _, ok := receipt.Line(candidate.ReceiptLineID); !ok {
			return nil, store.ErrInvalidInput
		}
		key := unitKey(candidate.ReceiptLineID, candidate.UnitSeq)
		if _, exists := existingUnits[key]; exists {
			continue
		}
		if _, taken := s.barcodesByCode[candidate.Code]; taken {
			return nil, store.ErrConflict
		}
		existingUnits[key] = struct{}{}
		toInsert = append(toInsert, candidate)
	}

	for _, b := range toInsert {
		b.PrintStatus = domain.PrintStatusUnprinted
		b.PrintedAt = nil
		b.StockItem = domain.StockItem{Status: domain.StockItemUnscanned}
		b.Normalize()
		s.barcodesByCode[b.Code] = b
		s.barcodeCodesByRcp[receiptID] = append(s.barcodeCodesByRcp[receiptID], b.Code)
	}
	return s.barcodesLocked(receiptID), nil
}

func (s *Store) MarkReceiptPrinted(_ context.Context, receiptID string, reprint bool, at time.Time) ([]domain.Barcode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.receiptsByID[receiptID]; !ok {
		return nil, store.ErrNotFound
	}
	printedAt := at.UTC()
	for _, code := range s.barcodeCodesByRcp[receiptID] {
		b := s.barcodesByCode[code]
		b.PrintStatus = nextPrintStatus(b.PrintStatus, reprint)
		b.PrintedAt = &printedAt
		b.Normalize()
		s.barcodesByCode[code] = b
	}
	return s.barcodesLocked(receiptID), nil
}

func (s *Store) GetBarcode(_ context.Context, code string) (*domain.Barcode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.barcodesByCode[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneBarcode(b)
	return &dup, nil
}

func (s *Store) ApplyBinding(_ context.Context, req domain.BindingRequest) (*domain.BindingOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.barcodesByCode[req.Barcode]
	if !ok {
		return nil, store.ErrNotFound
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
		return &domain.BindingOutcome{Barcode: cloneBarcode(current), AlreadyApplied: true}, nil
	}

	if plan.CheckSerial != nil {
		if owner, taken := s.serialOwner[*plan.CheckSerial]; taken && owner != current.Code {
			return nil, store.ErrDuplicateSerial
		}
	}
	if current.StockItem.SerialNumber != nil {
		delete(s.serialOwner, *current.StockItem.SerialNumber)
	}
	if plan.Next.SerialNumber != nil {
		s.serialOwner[*plan.Next.SerialNumber] = current.Code
	}
	current.StockItem = plan.Next
	current.Normalize()
	s.barcodesByCode[current.Code] = current
	return &domain.BindingOutcome{Barcode: cloneBarcode(current)}, nil
}

func (s *Store) BindingSummary(_ context.Context, receiptID string) (domain.BindingSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	receipt, ok := s.receiptsByID[receiptID]
	if !ok {
		return domain.BindingSummary{}, store.ErrNotFound
	}
	return domain.Summarize(receipt, s.barcodesLocked(receiptID)), nil
}

func (s *Store) FinalizeReceipt(_ context.Context, receiptID string, ledgerEntryID string, at time.Time) (*domain.FinalizeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	receipt, ok := s.receiptsByID[receiptID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if receipt.FinalizedAt != nil {
		return &domain.FinalizeResult{Receipt: *s.receiptViewLocked(receipt)}, nil
	}
	summary := domain.Summarize(receipt, s.barcodesLocked(receiptID))
	if !summary.Complete() {
		return &domain.FinalizeResult{Receipt: *s.receiptViewLocked(receipt)}, nil
	}
	supplier, ok := s.suppliersByID[receipt.SupplierID]
	if !ok {
		return nil, store.ErrNotFound
	}

	finalizedAt := at.UTC()
	entry := domain.SupplierLedgerEntry{
		ID:         ledgerEntryID,
		SupplierID: supplier.ID,
		ReceiptID:  receipt.ID,
		Kind:       domain.LedgerKindReceiptCredit,
		Amount:     receipt.Total(),
		CreatedAt:  finalizedAt,
	}
	supplier.CreditBalance = supplier.CreditBalance.Add(entry.Amount)
	receipt.FinalizedAt = &finalizedAt

	s.suppliersByID[supplier.ID] = supplier
	s.ledger = append(s.ledger, entry)
	s.receiptsByID[receipt.ID] = receipt

	return &domain.FinalizeResult{
		Receipt:    *s.receiptViewLocked(receipt),
		Finalized:  true,
		Settlement: &entry,
	}, nil
}

func (s *Store) ListReceiptsWithBarcodes(_ context.Context, filter domain.ReceiptListFilter) ([]domain.ReceiptBarcodeSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collectSummariesLocked(func(summary domain.ReceiptBarcodeSummary) bool {
		return domain.MatchesPrinted(summary, filter.Printed)
	}), nil
}

func (s *Store) SearchReceiptsWithBarcodes(_ context.Context, query domain.ReprintSearch) ([]domain.ReceiptBarcodeSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collectSummariesLocked(func(summary domain.ReceiptBarcodeSummary) bool {
		return domain.MatchesReprint(summary, query)
	}), nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, storeID string, entityID string, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if storeID != "" && entry.StoreID != storeID {
			continue
		}
		if entityID != "" && entry.EntityID != entityID {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		return compareNewestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleStaff
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) barcodesLocked(receiptID string) []domain.Barcode {
	codes := s.barcodeCodesByRcp[receiptID]
	result := make([]domain.Barcode, 0, len(codes))
	for _, code := range codes {
		result = append(result, cloneBarcode(s.barcodesByCode[code]))
	}
	receipt := s.receiptsByID[receiptID]
	lineNo := make(map[string]int, len(receipt.Lines))
	for _, line := range receipt.Lines {
		lineNo[line.ID] = line.LineNo
	}
	slices.SortFunc(result, func(a, b domain.Barcode) int {
		if lineNo[a.ReceiptLineID] != lineNo[b.ReceiptLineID] {
			return lineNo[a.ReceiptLineID] - lineNo[b.ReceiptLineID]
		}
		return a.UnitSeq - b.UnitSeq
	})
	return result
}

func (s *Store) receiptViewLocked(receipt domain.Receipt) *domain.Receipt {
	view := cloneReceipt(receipt)
	view.Status = domain.DeriveStatus(receipt.FinalizedAt, domain.Summarize(receipt, s.barcodesLocked(receipt.ID)))
	return &view
}

func (s *Store) collectSummariesLocked(keep func(domain.ReceiptBarcodeSummary) bool) []domain.ReceiptBarcodeSummary {
	result := make([]domain.ReceiptBarcodeSummary, 0, len(s.barcodeCodesByRcp))
	for receiptID, codes := range s.barcodeCodesByRcp {
		if len(codes) == 0 {
			continue
		}
		receipt := s.receiptsByID[receiptID]
		barcodes := s.barcodesLocked(receiptID)
		summary := domain.ReceiptBarcodeSummary{
			ReceiptID:         receipt.ID,
			ReceiptCode:       receipt.Code,
			PurchaseOrderCode: receipt.PurchaseOrderCode,
			SupplierID:        receipt.SupplierID,
			Status:            domain.DeriveStatus(receipt.FinalizedAt, domain.Summarize(receipt, barcodes)),
			BarcodeCount:      len(barcodes),
			CreatedAt:         receipt.CreatedAt,
		}
		for _, b := range barcodes {
			if b.Printed {
				summary.PrintedCount++
			}
		}
		if keep(summary) {
			result = append(result, summary)
		}
	}
	slices.SortFunc(result, func(a, b domain.ReceiptBarcodeSummary) int {
		return compareNewestFirst(a.CreatedAt, b.CreatedAt, a.ReceiptCode, b.ReceiptCode)
	})
	return result
}

func nextPrintStatus(current domain.PrintStatus, reprint bool) domain.PrintStatus {
	if reprint && current != domain.PrintStatusUnprinted {
		return domain.PrintStatusReprinted
	}
	if current == domain.PrintStatusUnprinted || current == "" {
		return domain.PrintStatusPrinted
	}
	return current
}

func unitKey(lineID string, seq int) string {
	return lineID + "#" + strconv.Itoa(seq)
}

func compareNewestFirst(a, b time.Time, aKey, bKey string) int {
	if a.Equal(b) {
		return strings.Compare(bKey, aKey)
	}
	if a.After(b) {
		return -1
	}
	return 1
}

func cloneReceipt(src domain.Receipt) domain.Receipt {
	dup := src
	lines := make([]domain.ReceiptLine, len(src.Lines))
	copy(lines, src.Lines)
	dup.Lines = lines
	if src.FinalizedAt != nil {
		finalizedAt := src.FinalizedAt.UTC()
		dup.FinalizedAt = &finalizedAt
	}
	return dup
}

func cloneBarcode(src domain.Barcode) domain.Barcode {
	return src.Clone()
}
