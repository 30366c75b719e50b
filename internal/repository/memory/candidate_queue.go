package memory

import (
	"sync"

	"github.com/nguyenquan715/kurento-one2many/internal/domain"
	"github.com/nguyenquan715/kurento-one2many/internal/metrics"
	"github.com/pion/webrtc/v4"
)

// DefaultMaxCandidatesPerSession bounds the backlog of a single session.
const DefaultMaxCandidatesPerSession = 256

// CandidateQueue is an in-memory domain.CandidateQueue.
type CandidateQueue struct {
	queues     map[string][]webrtc.ICECandidateInit
	maxPending int
	total      int
	mu         sync.Mutex
}

// NewCandidateQueue creates a queue holding at most maxPending candidates per
// session. A non-positive maxPending selects DefaultMaxCandidatesPerSession.
func NewCandidateQueue(maxPending int) *CandidateQueue {
	if maxPending <= 0 {
		maxPending = DefaultMaxCandidatesPerSession
	}
	return &CandidateQueue{
		queues:     make(map[string][]webrtc.ICECandidateInit),
		maxPending: maxPending,
	}
}

func (q *CandidateQueue) Enqueue(sessionID string, candidate webrtc.ICECandidateInit) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending := q.queues[sessionID]
	if len(pending) >= q.maxPending {
		return domain.ErrCandidateQueueFull
	}
	q.queues[sessionID] = append(pending, candidate)
	q.total++
	metrics.QueuedICECandidates.Set(float64(q.total))
	return nil
}

// Drain removes and returns the backlog of sessionID in arrival order.
func (q *CandidateQueue) Drain(sessionID string) []webrtc.ICECandidateInit {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending, ok := q.queues[sessionID]
	if !ok {
		return nil
	}
	delete(q.queues, sessionID)
	q.total -= len(pending)
	metrics.QueuedICECandidates.Set(float64(q.total))
	return pending
}

func (q *CandidateQueue) Clear(sessionID string) {
	q.Drain(sessionID)
}

func (q *CandidateQueue) Len(sessionID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[sessionID])
}
