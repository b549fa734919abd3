package server

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// collectingSink records delivered updates in arrival order.
type collectingSink struct {
	mu      sync.Mutex
	updates []QueuedUpdate
	delay   time.Duration
}

func (s *collectingSink) sink(u QueuedUpdate) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	s.updates = append(s.updates, u)
	s.mu.Unlock()
}

func (s *collectingSink) snapshot() []QueuedUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]QueuedUpdate(nil), s.updates...)
}

func TestEnqueueAssignsSequentialSeqs(t *testing.T) {
	sink := &collectingSink{}
	qm := NewQueueManager(0, sink.sink)

	for i := 0; i < 5; i++ {
		u := qm.Enqueue(DeviceSnapshot{IMEI: "868022038531725"})
		require.Equal(t, uint64(i+1), u.Seq)
		require.NotEmpty(t, u.QueueID)
	}
	require.True(t, qm.Flush(time.Second))
}

func TestBurstDeliveredInOrder(t *testing.T) {
	sink := &collectingSink{delay: time.Millisecond}
	qm := NewQueueManager(0, sink.sink)

	const n = 100
	for i := 0; i < n; i++ {
		qm.Enqueue(DeviceSnapshot{IMEI: "868022038531725", Speed: i})
	}
	require.True(t, qm.Flush(5*time.Second))

	got := sink.snapshot()
	require.Len(t, got, n)
	for i, u := range got {
		require.Equal(t, uint64(i+1), u.Seq, "delivery order must match enqueue order")
		require.Equal(t, i, u.State.Speed)
	}
}

func TestIndependentQueuesPerDevice(t *testing.T) {
	sink := &collectingSink{}
	qm := NewQueueManager(0, sink.sink)

	const n = 100
	var wg sync.WaitGroup
	for _, imei := range []string{"111111111111111", "222222222222222"} {
		wg.Add(1)
		go func(imei string) {
			defer wg.Done()
			for i := 0; i < n; i++ {
				qm.Enqueue(DeviceSnapshot{IMEI: imei})
			}
		}(imei)
	}
	wg.Wait()
	require.True(t, qm.Flush(5*time.Second))

	perDevice := map[string][]uint64{}
	for _, u := range sink.snapshot() {
		perDevice[u.State.IMEI] = append(perDevice[u.State.IMEI], u.Seq)
	}
	require.Len(t, perDevice, 2)
	for imei, seqs := range perDevice {
		require.Len(t, seqs, n, imei)
		for i, seq := range seqs {
			require.Equal(t, uint64(i+1), seq, "each device numbers from 1 without gaps")
		}
	}
}

func TestSingleDrainerPerDevice(t *testing.T) {
	var concurrent, peak int64
	qm := NewQueueManager(0, func(QueuedUpdate) {
		cur := atomic.AddInt64(&concurrent, 1)
		for {
			old := atomic.LoadInt64(&peak)
			if cur <= old || atomic.CompareAndSwapInt64(&peak, old, cur) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt64(&concurrent, -1)
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				qm.Enqueue(DeviceSnapshot{IMEI: "868022038531725"})
			}
		}()
	}
	wg.Wait()
	require.True(t, qm.Flush(10*time.Second))
	require.Equal(t, int64(1), atomic.LoadInt64(&peak), "one device never has two drainers")
}

func TestQueueCapDropsOldest(t *testing.T) {
	release := make(chan struct{})
	sink := &collectingSink{}
	var gate sync.Once
	qm := NewQueueManager(2, func(u QueuedUpdate) {
		gate.Do(func() { <-release })
		sink.sink(u)
	})

	// first enqueue is picked up by the drainer and parks on the gate;
	// three more overflow a cap of 2, evicting seq 2
	qm.Enqueue(DeviceSnapshot{IMEI: "868022038531725"})
	waitFor(t, time.Second, func() bool { return qm.Pending("868022038531725") == 0 })
	for i := 0; i < 3; i++ {
		qm.Enqueue(DeviceSnapshot{IMEI: "868022038531725"})
	}
	waitFor(t, time.Second, func() bool { return qm.Pending("868022038531725") == 2 })
	close(release)
	require.True(t, qm.Flush(time.Second))

	var seqs []uint64
	for _, u := range sink.snapshot() {
		seqs = append(seqs, u.Seq)
	}
	require.Equal(t, []uint64{1, 3, 4}, seqs)
}

func TestFlushTimesOut(t *testing.T) {
	block := make(chan struct{})
	qm := NewQueueManager(0, func(QueuedUpdate) { <-block })
	qm.Enqueue(DeviceSnapshot{IMEI: "868022038531725"})

	require.False(t, qm.Flush(50*time.Millisecond))
	close(block)
	require.True(t, qm.Flush(time.Second))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached within %v", timeout)
}
