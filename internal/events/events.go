package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	TypeReceiptFinalized   = "ReceiptFinalized"
	TypeScanBatchCommitted = "ScanBatchCommitted"
)

// Event is a domain event published after the unit of work that produced it
// has committed.
type Event interface {
	EventType() string
	// PartitionKey keeps all events of one receipt on one partition.
	PartitionKey() string
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

type ReceiptFinalized struct {
	ReceiptID     string          `json:"receiptId"`
	ReceiptCode   string          `json:"receiptCode"`
	SupplierID    string          `json:"supplierId"`
	LedgerEntryID string          `json:"ledgerEntryId"`
	Amount        decimal.Decimal `json:"amount"`
	FinalizedAt   time.Time       `json:"finalizedAt"`
}

func (ReceiptFinalized) EventType() string { return TypeReceiptFinalized }

func (e ReceiptFinalized) PartitionKey() string { return e.ReceiptID }

type ScanBatchCommitted struct {
	ReceiptID   string    `json:"receiptId"`
	Committed   []string  `json:"committed"`
	Failed      []string  `json:"failed"`
	CommittedAt time.Time `json:"committedAt"`
}

func (ScanBatchCommitted) EventType() string { return TypeScanBatchCommitted }

func (e ScanBatchCommitted) PartitionKey() string { return e.ReceiptID }

// LogPublisher writes events to the structured log. It is used when no
// broker is configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, event Event) error {
	p.logger.Info("event published",
		zap.String("event_type", event.EventType()),
		zap.String("partition_key", event.PartitionKey()),
		zap.Any("event", event),
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
