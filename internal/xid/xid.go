package xid

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

// New returns a prefixed random identifier such as audit-3f2c9a0e1b7d4c55.
func New(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s-%s", prefix, id[:16])
}

// UUID returns a random RFC 4122 identifier for barcode rows and events.
func UUID() string {
	return uuid.NewString()
}

// ReceiptCode returns a code in the RC-YYMMDD-NNNN format for receipts
// registered without one.
func ReceiptCode(at time.Time) string {
	seq, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return fmt.Sprintf("RC-%s-%04d", at.UTC().Format("060102"), at.UnixNano()%10000)
	}
	return fmt.Sprintf("RC-%s-%04d", at.UTC().Format("060102"), seq.Int64())
}
