package queue

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/domain"
)

func newJob(id, agent string, priority int) *domain.Job {
	return &domain.Job{
		ID:        id,
		AgentName: agent,
		JobType:   "generate",
		Priority:  priority,
	}
}

func TestStore_PriorityOrdering(t *testing.T) {
	s := NewStore("seo")

	require.NoError(t, s.Enqueue(newJob("j-5", "seo", 5)))
	require.NoError(t, s.Enqueue(newJob("j-1", "seo", 1)))
	require.NoError(t, s.Enqueue(newJob("j-3", "seo", 3)))

	var got []string
	for {
		job, ok := s.Claim("seo")
		if !ok {
			break
		}
		got = append(got, job.ID)
	}
	assert.Equal(t, []string{"j-1", "j-3", "j-5"}, got,
		"lower priority number must execute first")
}

func TestStore_FIFOTieBreak(t *testing.T) {
	s := NewStore("seo")

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Enqueue(newJob(fmt.Sprintf("j-%d", i), "seo", 5)))
	}

	for i := 0; i < 5; i++ {
		job, ok := s.Claim("seo")
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("j-%d", i), job.ID, "equal priorities must be FIFO")
	}
}

func TestStore_Claim_TransitionsToActive(t *testing.T) {
	s := NewStore("seo")
	require.NoError(t, s.Enqueue(newJob("j-1", "seo", 5)))

	job, ok := s.Claim("seo")
	require.True(t, ok)
	assert.Equal(t, domain.JobActive, job.State)
	require.NotNil(t, job.StartedAt)
	assert.Equal(t, 1, job.Attempts)

	active := s.ActiveJobs()
	require.Len(t, active, 1)
	assert.Equal(t, "j-1", active[0].ID)
}

func TestStore_Claim_EmptyQueue(t *testing.T) {
	s := NewStore("seo")
	_, ok := s.Claim("seo")
	assert.False(t, ok)
	_, ok = s.Claim("unknown")
	assert.False(t, ok)
}

func TestStore_Enqueue_UnknownAgent(t *testing.T) {
	s := NewStore("seo")
	err := s.Enqueue(newJob("j-1", "content", 5))
	require.Error(t, err)

	var unknown *domain.UnknownAgentError
	assert.True(t, errors.As(err, &unknown))
	assert.Equal(t, "content", unknown.AgentName)
}

func TestStore_AtMostOneClaim_Concurrent(t *testing.T) {
	const jobs = 50
	const claimers = 200

	s := NewStore("seo")
	for i := 0; i < jobs; i++ {
		require.NoError(t, s.Enqueue(newJob(fmt.Sprintf("j-%d", i), "seo", 5)))
	}

	var mu sync.Mutex
	claimed := make(map[string]int)

	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if job, ok := s.Claim("seo"); ok {
				mu.Lock()
				claimed[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, jobs, "exactly M jobs must transition to active")
	for id, n := range claimed {
		assert.Equal(t, 1, n, "job %s claimed more than once", id)
	}
}

func TestStore_CompleteAndFail(t *testing.T) {
	s := NewStore("seo")
	require.NoError(t, s.Enqueue(newJob("j-1", "seo", 5)))
	require.NoError(t, s.Enqueue(newJob("j-2", "seo", 5)))

	j1, ok := s.Claim("seo")
	require.True(t, ok)
	j2, ok := s.Claim("seo")
	require.True(t, ok)

	require.NoError(t, s.Complete(j1.ID))
	require.NoError(t, s.Fail(j2.ID, "handler exploded"))

	assert.Equal(t, domain.JobCompleted, j1.State)
	assert.Equal(t, domain.JobFailed, j2.State)
	assert.Equal(t, "handler exploded", j2.Error)
	assert.Empty(t, s.ActiveJobs())

	// Write-once: a second transition must fail.
	var notFound *domain.JobNotFoundError
	err := s.Complete(j1.ID)
	require.Error(t, err)
	assert.True(t, errors.As(err, &notFound))
}

func TestStore_Withdraw_WaitingOnly(t *testing.T) {
	s := NewStore("seo")
	require.NoError(t, s.Enqueue(newJob("j-1", "seo", 5)))
	require.NoError(t, s.Enqueue(newJob("j-2", "seo", 5)))

	require.NoError(t, s.Withdraw("j-1"))
	assert.Equal(t, 1, s.Depth("seo"))

	job, ok := s.Claim("seo")
	require.True(t, ok)
	assert.Equal(t, "j-2", job.ID)

	// Active jobs cannot be withdrawn.
	err := s.Withdraw("j-2")
	require.Error(t, err)
}

func TestStore_WaitingJobs_Positions(t *testing.T) {
	s := NewStore("seo")
	require.NoError(t, s.Enqueue(newJob("slow", "seo", 9)))
	require.NoError(t, s.Enqueue(newJob("urgent", "seo", 1)))
	require.NoError(t, s.Enqueue(newJob("mid", "seo", 5)))

	waiting := s.WaitingJobs("seo")
	require.Len(t, waiting, 3)
	assert.Equal(t, "urgent", waiting[0].Job.ID)
	assert.Equal(t, 0, waiting[0].Position)
	assert.Equal(t, "mid", waiting[1].Job.ID)
	assert.Equal(t, "slow", waiting[2].Job.ID)
	assert.Equal(t, 2, waiting[2].Position)
}

func TestStore_NoCrossAgentOrdering(t *testing.T) {
	s := NewStore("seo", "content")
	require.NoError(t, s.Enqueue(newJob("c-1", "content", 9)))
	require.NoError(t, s.Enqueue(newJob("s-1", "seo", 1)))

	// Each agent's queue is independent; claiming content must not see seo.
	job, ok := s.Claim("content")
	require.True(t, ok)
	assert.Equal(t, "c-1", job.ID)
}

func TestStore_Lookup(t *testing.T) {
	s := NewStore("seo")
	require.NoError(t, s.Enqueue(newJob("j-1", "seo", 5)))

	got, ok := s.Lookup("j-1")
	require.True(t, ok)
	assert.Equal(t, domain.JobWaiting, got.State)

	_, ok = s.Lookup("nope")
	assert.False(t, ok)
}
