package queue

import (
	"container/heap"
	"sort"
	"sync"
	"time"

	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/domain"
	"github.com/rohitwanchoo/lsc-marketing-sub000/pkg/telemetry"
)

// Store holds one ordered job queue per agent. Jobs are owned by the store
// while waiting or active. Claim is the single atomic operation of the
// subsystem: two concurrent callers can never receive the same job. The
// store is an owned, injectable component — construct a fresh one per test.
type Store struct {
	mu     sync.Mutex
	queues map[string]*waitingHeap
	active map[string]*domain.Job
	seq    uint64
}

// NewStore creates a Store with a queue per named agent.
func NewStore(agents ...string) *Store {
	s := &Store{
		queues: make(map[string]*waitingHeap, len(agents)),
		active: make(map[string]*domain.Job),
	}
	for _, a := range agents {
		s.queues[a] = &waitingHeap{}
	}
	return s
}

// RegisterAgent adds a queue for an agent if one does not exist yet.
func (s *Store) RegisterAgent(agent string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queues[agent]; !ok {
		s.queues[agent] = &waitingHeap{}
	}
}

// HasAgent reports whether a queue exists for the agent.
func (s *Store) HasAgent(agent string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.queues[agent]
	return ok
}

// Enqueue inserts a waiting job into its agent's queue. Ordering key is
// (priority ascending, insertion order); QueuedAt is stamped here.
func (s *Store) Enqueue(job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[job.AgentName]
	if !ok {
		return &domain.UnknownAgentError{AgentName: job.AgentName}
	}

	job.State = domain.JobWaiting
	if job.QueuedAt.IsZero() {
		job.QueuedAt = time.Now().UTC()
	}
	s.seq++
	heap.Push(q, &waitingJob{job: job, seq: s.seq})
	telemetry.QueueWaiting.WithLabelValues(job.AgentName).Inc()
	return nil
}

// Claim atomically removes and returns the highest-priority waiting job for
// the agent, transitioning it to active and stamping StartedAt. Returns
// false when the queue is empty or unknown.
func (s *Store) Claim(agent string) (*domain.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[agent]
	if !ok || q.Len() == 0 {
		return nil, false
	}

	wj := heap.Pop(q).(*waitingJob)
	job := wj.job
	now := time.Now().UTC()
	job.State = domain.JobActive
	job.StartedAt = &now
	job.Attempts++
	s.active[job.ID] = job

	telemetry.QueueWaiting.WithLabelValues(agent).Dec()
	return job, true
}

// Complete transitions an active job to completed. Write-once per job.
func (s *Store) Complete(jobID string) error {
	return s.finish(jobID, domain.JobCompleted, "")
}

// Fail transitions an active job to failed, recording the error text.
func (s *Store) Fail(jobID, errText string) error {
	return s.finish(jobID, domain.JobFailed, errText)
}

func (s *Store) finish(jobID string, state domain.JobState, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.active[jobID]
	if !ok {
		return &domain.JobNotFoundError{JobID: jobID, State: domain.JobActive}
	}
	now := time.Now().UTC()
	job.State = state
	job.CompletedAt = &now
	job.Error = errText
	delete(s.active, jobID)
	return nil
}

// Withdraw removes a waiting job before it is claimed. Active jobs have no
// cancellation contract; they run to completion or failure.
func (s *Store) Withdraw(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for agent, q := range s.queues {
		for i, wj := range *q {
			if wj.job.ID == jobID {
				heap.Remove(q, i)
				telemetry.QueueWaiting.WithLabelValues(agent).Dec()
				return nil
			}
		}
	}
	return &domain.JobNotFoundError{JobID: jobID, State: domain.JobWaiting}
}

// ActiveJobs returns a snapshot of all active jobs across agents.
func (s *Store) ActiveJobs() []domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Job, 0, len(s.active))
	for _, job := range s.active {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(*out[j].StartedAt)
	})
	return out
}

// WaitingJob pairs a queued job with its computed position (0 = next to run).
type WaitingJob struct {
	Job      domain.Job `json:"job"`
	Position int        `json:"position"`
}

// WaitingJobs returns a snapshot of an agent's waiting jobs in claim order.
// An empty agent returns the waiting jobs of every agent, each queue ordered
// independently.
func (s *Store) WaitingJobs(agent string) []WaitingJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	if agent != "" {
		q, ok := s.queues[agent]
		if !ok {
			return nil
		}
		return snapshotQueue(q)
	}

	agents := make([]string, 0, len(s.queues))
	for a := range s.queues {
		agents = append(agents, a)
	}
	sort.Strings(agents)

	var out []WaitingJob
	for _, a := range agents {
		out = append(out, snapshotQueue(s.queues[a])...)
	}
	return out
}

// Lookup returns a copy of a job the store still owns (waiting or active).
func (s *Store) Lookup(jobID string) (domain.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, ok := s.active[jobID]; ok {
		return *job, true
	}
	for _, q := range s.queues {
		for _, wj := range *q {
			if wj.job.ID == jobID {
				return *wj.job, true
			}
		}
	}
	return domain.Job{}, false
}

// Depth returns the number of waiting jobs for an agent.
func (s *Store) Depth(agent string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[agent]
	if !ok {
		return 0
	}
	return q.Len()
}

func snapshotQueue(q *waitingHeap) []WaitingJob {
	ordered := make([]*waitingJob, len(*q))
	copy(ordered, *q)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].less(ordered[j]) })

	out := make([]WaitingJob, len(ordered))
	for i, wj := range ordered {
		out[i] = WaitingJob{Job: *wj.job, Position: i}
	}
	return out
}

// waitingJob carries the insertion sequence used for the FIFO tie-break.
type waitingJob struct {
	job   *domain.Job
	seq   uint64
	index int
}

func (a *waitingJob) less(b *waitingJob) bool {
	if a.job.Priority != b.job.Priority {
		return a.job.Priority < b.job.Priority
	}
	return a.seq < b.seq
}

type waitingHeap []*waitingJob

func (h waitingHeap) Len() int            { return len(h) }
func (h waitingHeap) Less(i, j int) bool  { return h[i].less(h[j]) }
func (h waitingHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *waitingHeap) Push(x any)         { wj := x.(*waitingJob); wj.index = len(*h); *h = append(*h, wj) }
func (h *waitingHeap) Pop() any {
	old := *h
	n := len(old)
	wj := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return wj
}
