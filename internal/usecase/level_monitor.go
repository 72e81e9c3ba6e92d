package usecase

import (
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"

	"hotmic/internal/metrics"
	"hotmic/internal/ports"
)

const levelBuffer = 4

// levelMonitor samples input amplitude from the shared stream for visual
// feedback. It never influences recognition.
type levelMonitor struct {
	metrics *metrics.Recorder

	level atomic.Uint64

	mu     sync.Mutex
	cancel func()
	done   chan struct{}
}

func newLevelMonitor(recorder *metrics.Recorder) *levelMonitor {
	return &levelMonitor{metrics: recorder}
}

// Attach starts sampling stream, replacing any previous subscription.
func (m *levelMonitor) Attach(stream ports.MediaStream) {
	m.Detach()
	if stream == nil {
		return
	}

	chunks, unsubscribe := stream.Subscribe(levelBuffer)
	done := make(chan struct{})

	m.mu.Lock()
	m.cancel = unsubscribe
	m.done = done
	m.mu.Unlock()

	go m.pump(chunks, done)
}

// Detach stops sampling and resets the level to zero.
func (m *levelMonitor) Detach() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	m.store(0)
}

func (m *levelMonitor) Level() float64 {
	return math.Float64frombits(m.level.Load())
}

func (m *levelMonitor) pump(chunks <-chan []byte, done chan struct{}) {
	defer close(done)
	for chunk := range chunks {
		m.store(rms16(chunk))
	}
}

func (m *levelMonitor) store(level float64) {
	m.level.Store(math.Float64bits(level))
	m.metrics.SetAudioLevel(level)
}

// rms16 returns the root mean square of little-endian signed 16-bit samples
// scaled to [0, 1].
func rms16(chunk []byte) float64 {
	samples := len(chunk) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < samples; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(chunk[i*2:]))) / math.MaxInt16
		sum += v * v
	}
	return math.Min(1, math.Sqrt(sum/float64(samples)))
}
