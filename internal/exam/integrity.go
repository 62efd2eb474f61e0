package exam

import "fmt"

// integrityMonitor counts focus-loss/visibility-loss signals. It never
// changes session phase itself; it only tells the session when the limit is
// crossed, and the force signal fires exactly once.
type integrityMonitor struct {
	limit  int
	count  int
	forced bool
}

func newIntegrityMonitor(limit int) *integrityMonitor {
	return &integrityMonitor{limit: limit}
}

func (m *integrityMonitor) record() (count int, warning string, force bool) {
	m.count++
	if m.count < m.limit {
		return m.count, fmt.Sprintf("warning %d", m.count), false
	}
	if !m.forced {
		m.forced = true
		return m.count, "", true
	}
	return m.count, "", false
}
