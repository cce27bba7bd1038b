package rowflow

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
)

const (
	// maxMemoryLimitMB caps configured limits at 64GB
	maxMemoryLimitMB = 64 * 1024
	// defaultWarningThreshold is the share of the limit that raises a warning
	defaultWarningThreshold = 0.8
	// memoryCheckInterval is the number of rows read between two heap checks.
	// runtime.ReadMemStats stops the world, so it must stay off the per-row path.
	memoryCheckInterval = 1024

	bytesPerMB = 1024 * 1024
)

// ErrMemoryLimit indicates that the heap outgrew the configured limit
var ErrMemoryLimit = errors.New("rowflow: memory limit exceeded")

// MemoryStatus classifies heap usage against a MemoryLimit
type MemoryStatus int

const (
	// MemoryStatusOK means usage is below the warning threshold
	MemoryStatusOK MemoryStatus = iota
	// MemoryStatusWarning means usage crossed the warning threshold
	MemoryStatusWarning
	// MemoryStatusExceeded means usage reached the limit
	MemoryStatusExceeded
)

// String returns the status name
func (s MemoryStatus) String() string {
	switch s {
	case MemoryStatusOK:
		return "ok"
	case MemoryStatusWarning:
		return "warning"
	case MemoryStatusExceeded:
		return "exceeded"
	default:
		return "unknown"
	}
}

// MemoryInfo is one heap measurement
type MemoryInfo struct {
	CurrentMB int64
	LimitMB   int64
	// Usage is CurrentMB / LimitMB
	Usage  float64
	Status MemoryStatus
}

// MemoryLimit watches the heap while an import materializes its rows or an export pages
// through its source. Imports fail with ErrMemoryLimit once the limit is reached; exports
// shrink their page size instead.
//
// All methods are safe for concurrent use.
type MemoryLimit struct {
	limitMB   int64
	warning   float64
	disabled  atomic.Bool
	heapAlloc func() uint64
}

// NewMemoryLimit returns a limit of limitMB megabytes, capped at 64GB.
// A limit of zero or less returns nil, which disables every check.
func NewMemoryLimit(limitMB int64) *MemoryLimit {
	if limitMB <= 0 {
		return nil
	}
	return &MemoryLimit{
		limitMB:   min(limitMB, maxMemoryLimitMB),
		warning:   defaultWarningThreshold,
		heapAlloc: readHeapAlloc,
	}
}

func readHeapAlloc() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

// SetWarningThreshold sets the warning share of the limit. Values outside (0, 1] are ignored.
func (m *MemoryLimit) SetWarningThreshold(threshold float64) {
	if m != nil && threshold > 0 && threshold <= 1 {
		m.warning = threshold
	}
}

// Enable turns checking back on after Disable
func (m *MemoryLimit) Enable() {
	if m != nil {
		m.disabled.Store(false)
	}
}

// Disable makes every check report MemoryStatusOK
func (m *MemoryLimit) Disable() {
	if m != nil {
		m.disabled.Store(true)
	}
}

// Info measures the heap
func (m *MemoryLimit) Info() MemoryInfo {
	if m == nil || m.disabled.Load() {
		return MemoryInfo{Status: MemoryStatusOK}
	}

	current := int64(min(m.heapAlloc()/bytesPerMB, uint64(maxMemoryLimitMB*2)))
	info := MemoryInfo{
		CurrentMB: current,
		LimitMB:   m.limitMB,
		Usage:     float64(current) / float64(m.limitMB),
	}
	switch {
	case current >= m.limitMB:
		info.Status = MemoryStatusExceeded
	case info.Usage >= m.warning:
		info.Status = MemoryStatusWarning
	default:
		info.Status = MemoryStatusOK
	}
	return info
}

// Check returns the current status
func (m *MemoryLimit) Check() MemoryStatus {
	return m.Info().Status
}

// Guard returns an error wrapping ErrMemoryLimit when the limit is reached during operation
func (m *MemoryLimit) Guard(operation string) (MemoryInfo, error) {
	info := m.Info()
	if info.Status != MemoryStatusExceeded {
		return info, nil
	}
	return info, fmt.Errorf("%w during %s: using %d MB of %d MB (%.1f%%)",
		ErrMemoryLimit, operation, info.CurrentMB, info.LimitMB, info.Usage*100)
}

// ChunkSize halves size under a warning and quarters it once the limit is reached.
// The result is never below 1.
func (m *MemoryLimit) ChunkSize(size int) int {
	switch m.Check() {
	case MemoryStatusWarning:
		return max(size/2, 1)
	case MemoryStatusExceeded:
		return max(size/4, 1)
	default:
		return size
	}
}
