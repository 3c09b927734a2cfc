package queue

import "github.com/scholarrelay/inkgate/pkg/models"

// StatusChange is broadcast after every persisted job transition.
type StatusChange struct {
	JobID  string
	Status models.JobStatus
}

const subscriberBuffer = 32

// Subscribe returns a channel of status changes and a cancel func. Slow
// subscribers drop events rather than stall the dispatcher; the durable
// store, not this stream, is the source of truth.
func (m *Manager) Subscribe() (<-chan StatusChange, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextSubID
	m.nextSubID++
	ch := make(chan StatusChange, subscriberBuffer)
	m.subscribers[id] = ch

	return ch, func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if _, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(ch)
		}
	}
}

func (m *Manager) publish(jobID string, status models.JobStatus) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- StatusChange{JobID: jobID, Status: status}:
		default:
		}
	}
}
