package agent

import (
	"context"
	"time"
)

// closeGrace is how long Close waits for a cooperative halt before the
// worker is forcibly cancelled.
const closeGrace = 5 * time.Second

// Session is a live connection to a running worker: an event stream plus a
// command sink. Exactly one session exists per running agent.
type Session struct {
	worker *Worker
	cancel context.CancelFunc
	done   chan struct{}
}

// Events returns the worker's outbound frame stream. The stream ends with
// a halt event and is then closed.
func (s *Session) Events() <-chan Event {
	return s.worker.Events()
}

// Send injects a control command into the run.
func (s *Session) Send(cmd Command) {
	s.worker.Send(cmd)
}

// Done is closed once the worker has terminated and the agent lock is
// released.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close requests a halt and waits for the worker to terminate, cancelling
// it outright after the grace window.
func (s *Session) Close() {
	s.worker.Send(CommandHalt)

	select {
	case <-s.done:
	case <-time.After(closeGrace):
		s.cancel()
		<-s.done
	}
}

// run supervises one worker lifetime: it executes the run and performs the
// teardown handed to it by the service.
func (s *Session) run(ctx context.Context, teardown func()) {
	defer close(s.done)
	defer teardown()
	s.worker.Run(ctx)
}
