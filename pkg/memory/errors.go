package memory

import "errors"

var (
	// ErrEmpty reports peek/pop on an empty queue.
	ErrEmpty = errors.New("queue is empty")

	// ErrPersonaTooLong reports a persona write over the word cap.
	ErrPersonaTooLong = errors.New("persona exceeds maximum word count")

	// ErrTaskQueueEmpty reports pop on an empty task queue.
	ErrTaskQueueEmpty = errors.New("task queue is empty")
)
