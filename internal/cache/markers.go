package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// PendingDeduction records a ledger deduction made before its job row exists.
type PendingDeduction struct {
	UserID     string
	UsageLogID string
	Amount     int
	RecordedAt time.Time
}

// Markers tracks pending deductions keyed by usage log id. A marker that
// outlives its job creation points at credits taken without a job.
type Markers struct {
	lru *expirable.LRU[string, PendingDeduction]
}

func NewMarkers(size int, ttl time.Duration) *Markers {
	if size <= 0 {
		size = 1024
	}
	return &Markers{lru: expirable.NewLRU[string, PendingDeduction](size, nil, ttl)}
}

func (m *Markers) Record(d PendingDeduction) {
	if d.UsageLogID == "" {
		return
	}
	if d.RecordedAt.IsZero() {
		d.RecordedAt = time.Now()
	}
	m.lru.Add(d.UsageLogID, d)
}

// Clear drops the marker for usageLogID.
func (m *Markers) Clear(usageLogID string) {
	if usageLogID == "" {
		return
	}
	m.lru.Remove(usageLogID)
}

// Pending lists markers that are still open, oldest first.
func (m *Markers) Pending() []PendingDeduction {
	return m.lru.Values()
}
