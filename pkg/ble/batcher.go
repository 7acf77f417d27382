package ble

import (
	"sync"
	"time"

	"github.com/btproxy/btproxyd/pkg/logger"
	"github.com/btproxy/btproxyd/pkg/metrics"
	"github.com/btproxy/btproxyd/pkg/wire"
)

// FlushBatchSize is the maximum number of advertisements held in one
// batch before a size-triggered flush fires.
const FlushBatchSize = 16

// FlushTimeout is the maximum time an advertisement waits in an
// otherwise-empty batch before a time-triggered flush fires.
const FlushTimeout = 100 * time.Millisecond

// freePoolCap bounds the reusable-slice pool so memory doesn't grow
// without limit under bursty traffic.
const freePoolCap = FlushBatchSize * 2

// Batcher coalesces scanned advertisements into bounded, time-bounded
// batches, matching FLUSH_BATCH_SIZE/FLUSH_TIMEOUT_MS from the reference
// implementation's AdvertisementBatcher.
type Batcher struct {
	mu    sync.Mutex
	log   *logger.Logger
	batch []wire.BluetoothLEAdvertisement
	pool  [][]wire.BluetoothLEAdvertisement

	timer        *time.Timer
	lastFlush    time.Time
	sendCallback func([]wire.BluetoothLEAdvertisement)

	flushed uint64
	dropped uint64
}

// NewBatcher creates a Batcher that invokes sendCallback with each
// completed batch, in arrival order, on the goroutine that triggers the
// flush (size-triggered flushes run on the caller's goroutine; the
// timeout-triggered flush runs on its own timer goroutine).
func NewBatcher(log *logger.Logger, sendCallback func([]wire.BluetoothLEAdvertisement)) *Batcher {
	return &Batcher{
		log:          log,
		sendCallback: sendCallback,
		lastFlush:    time.Now(),
	}
}

// Add appends one advertisement to the current batch, flushing
// immediately if the batch has now reached FlushBatchSize.
func (b *Batcher) Add(adv wire.BluetoothLEAdvertisement) {
	b.mu.Lock()
	b.batch = append(b.batch, adv)
	shouldFlush := len(b.batch) >= FlushBatchSize
	if len(b.batch) == 1 {
		b.startTimerLocked()
	}
	if shouldFlush {
		batch := b.takeLocked()
		b.mu.Unlock()
		b.emit(batch, metrics.FlushReasonSize)
		return
	}
	b.mu.Unlock()
}

func (b *Batcher) startTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(FlushTimeout, b.onTimeout)
}

func (b *Batcher) onTimeout() {
	b.mu.Lock()
	if len(b.batch) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.takeLocked()
	b.mu.Unlock()
	b.emit(batch, metrics.FlushReasonTimeout)
}

// takeLocked detaches the current batch and returns it, resetting
// internal state. Caller must hold b.mu.
func (b *Batcher) takeLocked() []wire.BluetoothLEAdvertisement {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	batch := b.batch
	b.batch = b.takeFromPoolLocked()
	b.lastFlush = time.Now()
	return batch
}

func (b *Batcher) takeFromPoolLocked() []wire.BluetoothLEAdvertisement {
	if len(b.pool) == 0 {
		return nil
	}
	n := len(b.pool) - 1
	s := b.pool[n][:0]
	b.pool = b.pool[:n]
	return s
}

func (b *Batcher) returnToPool(batch []wire.BluetoothLEAdvertisement) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pool) < freePoolCap {
		b.pool = append(b.pool, batch[:0])
	}
}

func (b *Batcher) emit(batch []wire.BluetoothLEAdvertisement, reason string) {
	b.mu.Lock()
	b.flushed++
	b.mu.Unlock()

	if b.log != nil {
		b.log.Debug("flushing advertisement batch", "count", len(batch), "reason", reason)
	}
	metrics.IncBatchFlush(reason)
	if b.sendCallback != nil {
		b.sendCallback(batch)
	}
	b.returnToPool(batch)
}

// ForceFlush flushes whatever is currently buffered, even an empty
// batch's worth of nothing (a no-op when the batch is empty).
func (b *Batcher) ForceFlush() {
	b.mu.Lock()
	if len(b.batch) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.takeLocked()
	b.mu.Unlock()
	b.emit(batch, "force")
}

// Clear discards the current batch without emitting it, counting the
// discarded advertisements as dropped. (When the last subscriber leaves,
// the coordinator calls ForceFlush, not Clear.)
func (b *Batcher) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.dropped += uint64(len(b.batch))
	b.batch = nil
}

// Stats reports instantaneous batcher counters, for the metrics surface.
type Stats struct {
	Pending int
	Flushed uint64
	Dropped uint64
}

// Stats returns a snapshot of the batcher's counters.
func (b *Batcher) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{Pending: len(b.batch), Flushed: b.flushed, Dropped: b.dropped}
}
