package metrics

import (
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
)

// Metrics defines the interface for collecting and reporting the statistics
// of one reconciliation run.
type Metrics interface {
	AddCopiedAToB(n int64)
	AddCopiedBToA(n int64)
	AddBytesCopied(n int64)
	AddQuarantined(n int64)
	AddPurged(n int64)
	AddUnchanged(n int64)
	AddFailed(n int64)
	Log(elapsed time.Duration)
}

// RunMetrics holds the atomic counters for tracking a run's progress.
// It is the concrete implementation of the Metrics interface.
type RunMetrics struct {
	CopiedAToB  atomic.Int64
	CopiedBToA  atomic.Int64
	BytesCopied atomic.Int64
	Quarantined atomic.Int64
	Purged      atomic.Int64
	Unchanged   atomic.Int64
	Failed      atomic.Int64
}

func (m *RunMetrics) AddCopiedAToB(n int64)  { m.CopiedAToB.Add(n) }
func (m *RunMetrics) AddCopiedBToA(n int64)  { m.CopiedBToA.Add(n) }
func (m *RunMetrics) AddBytesCopied(n int64) { m.BytesCopied.Add(n) }
func (m *RunMetrics) AddQuarantined(n int64) { m.Quarantined.Add(n) }
func (m *RunMetrics) AddPurged(n int64)      { m.Purged.Add(n) }
func (m *RunMetrics) AddUnchanged(n int64)   { m.Unchanged.Add(n) }
func (m *RunMetrics) AddFailed(n int64)      { m.Failed.Add(n) }

// Log prints a summary of the run.
func (m *RunMetrics) Log(elapsed time.Duration) {
	plog.Info("SUM",
		"copiedAToB", m.CopiedAToB.Load(),
		"copiedBToA", m.CopiedBToA.Load(),
		"bytesCopied", humanize.IBytes(uint64(m.BytesCopied.Load())),
		"quarantined", m.Quarantined.Load(),
		"purged", m.Purged.Load(),
		"unchanged", m.Unchanged.Load(),
		"failed", m.Failed.Load(),
		"duration", elapsed.Round(time.Millisecond),
	)
}

// NoopMetrics is an implementation of the Metrics interface that performs no operations.
// It can be used to disable metrics collection without changing the calling code.
type NoopMetrics struct{}

func (m *NoopMetrics) AddCopiedAToB(n int64)  {}
func (m *NoopMetrics) AddCopiedBToA(n int64)  {}
func (m *NoopMetrics) AddBytesCopied(n int64) {}
func (m *NoopMetrics) AddQuarantined(n int64) {}
func (m *NoopMetrics) AddPurged(n int64)      {}
func (m *NoopMetrics) AddUnchanged(n int64)   {}
func (m *NoopMetrics) AddFailed(n int64)      {}
func (m *NoopMetrics) Log(time.Duration)      {}

// Statically assert that our types implement the interface.
var _ Metrics = (*RunMetrics)(nil)
var _ Metrics = (*NoopMetrics)(nil)
