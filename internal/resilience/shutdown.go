package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Cleanup is a shutdown task.
type Cleanup func(ctx context.Context) error

type cleanupTask struct {
	name string
	fn   Cleanup
}

// Shutdown holds the shutdown-requested flag and the ordered cleanup tasks.
type Shutdown struct {
	logger logrus.FieldLogger

	mu        sync.Mutex
	requested bool
	done      chan struct{}
	tasks     []cleanupTask
}

// NewShutdown creates a Shutdown. A nil logger discards output.
func NewShutdown(logger logrus.FieldLogger) *Shutdown {
	if logger == nil {
		logger = discardLogger()
	}
	return &Shutdown{logger: logger, done: make(chan struct{})}
}

// Request sets the flag. Repeated requests are no-ops.
func (s *Shutdown) Request() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.requested {
		return
	}
	s.requested = true
	close(s.done)
	s.logger.Warn("graceful shutdown requested")
}

// Requested reports whether shutdown was requested.
func (s *Shutdown) Requested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requested
}

// Done is closed once shutdown is requested.
func (s *Shutdown) Done() <-chan struct{} {
	return s.done
}

// RegisterCleanup appends a task. Tasks run in registration order.
func (s *Shutdown) RegisterCleanup(name string, fn Cleanup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, cleanupTask{name: name, fn: fn})
}

// ExecuteCleanup runs every task. A failing or panicking task is logged and
// the rest still run; all failures are returned joined.
func (s *Shutdown) ExecuteCleanup(ctx context.Context) error {
	s.mu.Lock()
	tasks := append([]cleanupTask(nil), s.tasks...)
	s.mu.Unlock()

	s.logger.WithField("tasks", len(tasks)).Info("executing cleanup tasks")
	var errs []error
	for _, t := range tasks {
		if err := runCleanup(ctx, t.fn); err != nil {
			s.logger.WithField("task", t.name).WithError(err).Error("cleanup task failed")
			errs = append(errs, fmt.Errorf("%s: %w", t.name, err))
		}
	}
	s.logger.Info("cleanup completed")
	return errors.Join(errs...)
}

func runCleanup(ctx context.Context, fn Cleanup) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cleanup panic: %v", r)
		}
	}()
	return fn(ctx)
}
