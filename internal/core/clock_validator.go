package core

import (
	"fmt"
)

// Clock partitions. Settlement and epoch configuration share one clock: an
// epoch reconfigured at time T must not see a settlement stamped before T.
const ClockPartitionEpoch = "epoch"

// ClockValidator enforces non-decreasing injected time per partition.
// Not thread-safe: only accessed under the core's write lock.
type ClockValidator struct {
	lastSeen map[string]uint64 // partition -> last accepted unix seconds
	metrics  *ClockMetrics
}

func NewClockValidator() *ClockValidator {
	return &ClockValidator{
		lastSeen: make(map[string]uint64),
		metrics:  NewClockMetrics(),
	}
}

// Validate checks now against the partition's clock without advancing it.
// Equal timestamps are accepted.
func (cv *ClockValidator) Validate(partition string, now uint64) error {
	last, ok := cv.lastSeen[partition]
	if ok && now < last {
		cv.metrics.RecordRegression(partition)
		return fmt.Errorf("%w: partition=%s, last=%d, got=%d", ErrClockRegression, partition, last, now)
	}
	return nil
}

// Advance commits now as the partition's latest time
func (cv *ClockValidator) Advance(partition string, now uint64) {
	if last, ok := cv.lastSeen[partition]; !ok || now > last {
		cv.lastSeen[partition] = now
	}
}

// LastSeen returns the partition's clock and whether it was ever set
func (cv *ClockValidator) LastSeen(partition string) (uint64, bool) {
	t, ok := cv.lastSeen[partition]
	return t, ok
}

// GetAllPartitions returns a copy of the clock state for snapshots
func (cv *ClockValidator) GetAllPartitions() map[string]uint64 {
	out := make(map[string]uint64, len(cv.lastSeen))
	for p, t := range cv.lastSeen {
		out[p] = t
	}
	return out
}

// RestorePartition sets a partition's clock (used during recovery)
func (cv *ClockValidator) RestorePartition(partition string, t uint64) {
	cv.lastSeen[partition] = t
}

// --- Metrics ---

// ClockMetrics counts rejected regressions per partition.
type ClockMetrics struct {
	regressions map[string]int64
}

func NewClockMetrics() *ClockMetrics {
	return &ClockMetrics{regressions: make(map[string]int64)}
}

func (m *ClockMetrics) RecordRegression(partition string) {
	m.regressions[partition]++
}

func (m *ClockMetrics) GetRegressions(partition string) int64 {
	return m.regressions[partition]
}
