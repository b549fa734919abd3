package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zboyco/gt06hub/internal/observability"
)

// QueuedUpdate pairs a committed device snapshot with its per-IMEI sequence
// number and a process-unique trace ID. It exists from enqueue until the
// broadcast attempt for it returns.
type QueuedUpdate struct {
	QueueID string
	Seq     uint64
	State   DeviceSnapshot
}

// BroadcastFunc delivers one update to every observer. It must swallow
// per-observer failures; the drainer never retries and never aborts the
// queue on its account.
type BroadcastFunc func(QueuedUpdate)

// QueueManager owns one FIFO per IMEI together with its draining flag.
//
// Guarantees, per IMEI:
//   - Enqueue appends and returns without waiting for broadcast latency.
//   - At most one drainer runs at any instant; different IMEIs drain in
//     parallel.
//   - Sequence numbers are assigned under the append lock, so sequence
//     order equals queue order equals delivery order.
//   - Every dequeued update causes exactly one broadcast invocation.
type QueueManager struct {
	mu     sync.Mutex
	queues map[string]*deviceQueue

	sink BroadcastFunc

	// cap bounds each queue; zero means unbounded. Overflow drops the
	// oldest pending update.
	cap int
}

type deviceQueue struct {
	imei string

	mu       sync.Mutex
	pending  []QueuedUpdate
	draining bool
	nextSeq  uint64
}

func NewQueueManager(cap int, sink BroadcastFunc) *QueueManager {
	return &QueueManager{
		queues: make(map[string]*deviceQueue),
		sink:   sink,
		cap:    cap,
	}
}

// Enqueue appends a snapshot to its IMEI's queue and wakes a drainer if
// none is running. It never blocks on broadcast latency.
func (m *QueueManager) Enqueue(state DeviceSnapshot) QueuedUpdate {
	q := m.queueFor(state.IMEI)

	q.mu.Lock()
	q.nextSeq++
	update := QueuedUpdate{
		QueueID: uuid.NewString(),
		Seq:     q.nextSeq,
		State:   state,
	}
	if m.cap > 0 && len(q.pending) >= m.cap {
		dropped := q.pending[0]
		q.pending = q.pending[1:]
		observability.QueueDropped.Inc()
		slog.Warn("queue cap exceeded, dropping oldest update",
			"imei", q.imei, "seq", dropped.Seq, "cap", m.cap)
	}
	q.pending = append(q.pending, update)
	if q.draining {
		// the running drainer will pick this up before it exits
		q.mu.Unlock()
		return update
	}
	q.draining = true
	q.mu.Unlock()

	go m.drain(q)
	return update
}

// drain pops updates one at a time until the queue is empty, then clears
// the flag. The lock is never held across the broadcast call.
func (m *QueueManager) drain(q *deviceQueue) {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		update := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		m.sink(update)
	}
}

// Flush waits until every queue has drained or the timeout elapses.
// Reported false when updates were still pending at the deadline.
func (m *QueueManager) Flush(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if m.idle() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Pending reports the number of undelivered updates for one IMEI.
func (m *QueueManager) Pending(imei string) int {
	m.mu.Lock()
	q, ok := m.queues[imei]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (m *QueueManager) idle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range m.queues {
		q.mu.Lock()
		busy := q.draining || len(q.pending) > 0
		q.mu.Unlock()
		if busy {
			return false
		}
	}
	return true
}

func (m *QueueManager) queueFor(imei string) *deviceQueue {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[imei]
	if !ok {
		q = &deviceQueue{imei: imei}
		m.queues[imei] = q
	}
	return q
}
