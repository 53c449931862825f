package detection

import "sync"

// Mock replays scripted detections, one slice per Detect call.
// After the script runs out it keeps returning the last entry.
type Mock struct {
	mu     sync.Mutex
	script [][]Detection
	errs   map[int]error
	calls  int
}

// NewMock creates a mock that returns script[i] on the i-th call.
func NewMock(script ...[]Detection) *Mock {
	return &Mock{script: script, errs: make(map[int]error)}
}

// FailOn makes the n-th call (0-based) return err.
func (m *Mock) FailOn(n int, err error) {
	m.mu.Lock()
	m.errs[n] = err
	m.mu.Unlock()
}

// Detect returns the next scripted frame.
func (m *Mock) Detect(frame []byte) ([]Detection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.calls
	m.calls++
	if err, ok := m.errs[n]; ok {
		return nil, err
	}
	if len(m.script) == 0 {
		return nil, nil
	}
	if n >= len(m.script) {
		n = len(m.script) - 1
	}
	out := make([]Detection, len(m.script[n]))
	copy(out, m.script[n])
	return out, nil
}

// Calls returns how many times Detect ran.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Close is a no-op.
func (m *Mock) Close() error { return nil }

var _ Detector = (*Mock)(nil)
