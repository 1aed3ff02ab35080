package archiver

import (
	"sync"

	"github.com/google/uuid"

	"github.com/bobmcallan/quiz-archive-worker/internal/models"
)

// History keeps the most recent jobs for the status endpoints. Old entries
// are evicted once the configured capacity is reached, including jobs that
// never finished.
type History struct {
	mu       sync.RWMutex
	capacity int
	jobs     []*Job
}

// NewHistory creates a history holding up to capacity jobs.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{capacity: capacity}
}

// Append records a job, evicting the oldest entry when full.
func (h *History) Append(job *Job) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.jobs) == h.capacity {
		h.jobs = h.jobs[1:]
	}
	h.jobs = append(h.jobs, job)
}

// Find returns the job with the given ID, or ErrJobNotFound.
func (h *History) Find(id uuid.UUID) (*Job, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, job := range h.jobs {
		if job.ID() == id {
			return job, nil
		}
	}
	return nil, ErrJobNotFound
}

// Summaries returns the wire representation of all recorded jobs, oldest
// first.
func (h *History) Summaries() []models.JobSummary {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]models.JobSummary, len(h.jobs))
	for i, job := range h.jobs {
		out[i] = job.Summary()
	}
	return out
}

// Len returns the number of recorded jobs.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.jobs)
}
