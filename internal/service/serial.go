package service

import (
	"context"
	"strings"
	"time"

	"labelstock/backend/internal/domain"
)

// UpdateSerial binds req.SerialNumber to the barcode, or clears the binding
// when it is null or blank. Both paths go through the same store choke
// point as batch commits.
func (s *Service) UpdateSerial(ctx context.Context, code string, req domain.SerialUpdateRequest) (domain.Barcode, error) {
	serial := domain.NormalizeSerial(req.SerialNumber)
	return s.applySingle(ctx, "serial_update", domain.BindingRequest{
		Barcode:      strings.TrimSpace(code),
		SerialNumber: serial,
		Clear:        serial == nil,
		At:           time.Now().UTC(),
	})
}

// BindSerial attaches a non-blank serial to the barcode.
func (s *Service) BindSerial(ctx context.Context, code string, serial string) (domain.Barcode, error) {
	if strings.TrimSpace(serial) == "" {
		return domain.Barcode{}, invalid("serialNumber", "is required")
	}
	return s.UpdateSerial(ctx, code, domain.SerialUpdateRequest{SerialNumber: &serial})
}

// ClearSerial unbinds the serial. The barcode and its receipt stay intact.
func (s *Service) ClearSerial(ctx context.Context, code string) (domain.Barcode, error) {
	return s.UpdateSerial(ctx, code, domain.SerialUpdateRequest{})
}

// ReceiveSerial records an ad hoc scan outside a batch. A missing serial
// marks the unit scanned and keeps any serial it already carries.
func (s *Service) ReceiveSerial(ctx context.Context, req domain.ReceiveSerialRequest) (domain.Barcode, error) {
	return s.applySingle(ctx, "serial_receive", domain.BindingRequest{
		Barcode:      strings.TrimSpace(req.Barcode),
		SerialNumber: domain.NormalizeSerial(req.SerialNumber),
		At:           time.Now().UTC(),
	})
}

func (s *Service) applySingle(ctx context.Context, action string, req domain.BindingRequest) (domain.Barcode, error) {
	if req.Barcode == "" {
		return domain.Barcode{}, invalid("barcode", "is required")
	}

	outcome, err := s.repo.ApplyBinding(ctx, req)
	if err != nil {
		return domain.Barcode{}, err
	}
	receiptID := outcome.Barcode.ReceiptID
	if !outcome.AlreadyApplied {
		s.barcodes.Invalidate(ctx, receiptID)
		s.logAudit(ctx, "", action, "receipt", receiptID,
			"barcode="+outcome.Barcode.Code+","+serialDetail(outcome.Barcode.StockItem.SerialNumber))
	}
	s.finalizeAfterBinding(ctx, receiptID)
	return outcome.Barcode, nil
}
