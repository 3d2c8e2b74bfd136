// Package xid generates identifiers for persisted records.
package xid

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New returns a prefixed unique id, e.g. "sale-6f1c...".
func New(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// ReturnInvoice synthesizes an invoice id for a return sale.
func ReturnInvoice(at time.Time) string {
	return fmt.Sprintf("RTN-%d", at.UnixMilli())
}
