package scheduler

import (
	"sync"
	"time"
)

// Logger defines the logging interface used by the Scheduler.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Error(string, ...any) {}

// Scheduler runs named one-shot and recurring jobs on timers.
//
// Jobs are identified by name: installing a job under a name that is
// already scheduled first cancels the existing job, so there is never
// more than one live schedule per name. This is the mechanism that
// prevents overlapping duplicate poll schedules when the interval changes.
//
// All public methods are thread-safe. Job callbacks run in their own
// goroutines with panic recovery.
type Scheduler struct {
	mu     sync.Mutex
	jobs   map[string]*job
	closed bool
	wg     sync.WaitGroup
	logger Logger
}

// job is a single scheduled entry. Closing cancel stops its timer loop.
type job struct {
	name   string
	cancel chan struct{}
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{
		jobs:   make(map[string]*job),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the scheduler.
func (s *Scheduler) SetLogger(logger Logger) {
	s.mu.Lock()
	s.logger = logger
	s.mu.Unlock()
}

// ScheduleOnce runs fn once after delay. Any existing job with the same
// name is cancelled first. The job removes itself once it has fired.
func (s *Scheduler) ScheduleOnce(name string, delay time.Duration, fn func()) {
	j := s.install(name)
	if j == nil {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-j.cancel:
			return
		case <-timer.C:
		}

		s.remove(j)
		s.run(name, fn)
	}()
}

// ScheduleEvery runs fn repeatedly at the given interval. Any existing
// job with the same name is cancelled first.
//
// When aligned is true, the first firing is deferred to the next wall
// clock boundary of the interval (e.g. a 5-minute interval fires at
// :00, :05, :10...), which keeps poll times predictable across restarts.
// When false, the first firing is one full interval from now.
func (s *Scheduler) ScheduleEvery(name string, interval time.Duration, aligned bool, fn func()) {
	j := s.install(name)
	if j == nil {
		return
	}

	initial := interval
	if aligned {
		now := time.Now()
		initial = time.Until(now.Truncate(interval).Add(interval))
		if initial <= 0 {
			initial = interval
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timer := time.NewTimer(initial)
		defer timer.Stop()

		for {
			select {
			case <-j.cancel:
				return
			case <-timer.C:
			}

			s.run(name, fn)
			timer.Reset(interval)
		}
	}()
}

// Cancel removes a scheduled job by name. Cancelling a name that is not
// scheduled is a no-op.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.jobs[name]; ok {
		close(j.cancel)
		delete(s.jobs, name)
	}
}

// IsScheduled reports whether a job with the given name is currently scheduled.
func (s *Scheduler) IsScheduled(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.jobs[name]
	return ok
}

// JobNames returns the names of all currently scheduled jobs.
func (s *Scheduler) JobNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	return names
}

// Close cancels all jobs and waits for in-flight timer loops to exit.
// The scheduler cannot be reused after Close.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for name, j := range s.jobs {
		close(j.cancel)
		delete(s.jobs, name)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// install registers a fresh job under name, cancelling any existing one.
// Returns nil if the scheduler is closed.
func (s *Scheduler) install(name string) *job {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	if existing, ok := s.jobs[name]; ok {
		close(existing.cancel)
	}

	j := &job{
		name:   name,
		cancel: make(chan struct{}),
	}
	s.jobs[name] = j
	return j
}

// remove deletes j from the job table if it is still the registered entry.
// A replacement installed under the same name is left untouched.
func (s *Scheduler) remove(j *job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.jobs[j.name]; ok && current == j {
		delete(s.jobs, j.name)
	}
}

// run invokes a job callback with panic recovery.
func (s *Scheduler) run(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled job panic recovered", "job", name, "panic", r)
		}
	}()

	s.logger.Debug("running scheduled job", "job", name)
	fn()
}
