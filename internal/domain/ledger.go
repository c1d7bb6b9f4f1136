package domain

import "time"

// UsageLog is one ledger deduction; RefundedAt is set once it is refunded.
type UsageLog struct {
	ID          string
	UserID      string
	Amount      int
	Description string
	RefundedAt  *time.Time
	CreatedAt   time.Time
}

// IsRefunded reports whether the deduction has already been returned.
func (u UsageLog) IsRefunded() bool {
	return u.RefundedAt != nil
}
