package archiver

import "errors"

var (
	// ErrQueueFull is returned by Enqueue when the job queue has no free slot.
	ErrQueueFull = errors.New("job queue is full")

	// ErrJobNotFound is returned when a job ID is unknown to the history.
	ErrJobNotFound = errors.New("job not found")
)
