// Package scheduler runs tasks one at a time on a single worker goroutine.
// Every operation that mutates the index goes through it, so mutations of
// one workspace never interleave.
package scheduler

import (
	"errors"
	"sync"
	"time"

	"github.com/igor-prusov/dts-lsp/internal/logging"
)

var ErrStopped = errors.New("scheduler: stopped")

type Task struct {
	Name    string
	Execute func() error
}

type job struct {
	task Task
	done chan error
}

type Scheduler struct {
	taskQueue chan job
	stopChan  chan struct{}
	mu        sync.RWMutex
	stopped   bool
	wg        sync.WaitGroup
	log       logging.Logger
}

// NewScheduler creates a new Scheduler with the specified queue size
func NewScheduler(queueSize int, log logging.Logger) *Scheduler {
	return &Scheduler{
		taskQueue: make(chan job, queueSize),
		stopChan:  make(chan struct{}),
		log:       log,
	}
}

// RunScheduler starts the scheduler loop
func (s *Scheduler) RunScheduler() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for j := range s.taskQueue {
			s.execute(j)
		}
	}()
}

func (s *Scheduler) execute(j job) {
	s.log.Debugf("Executing %s task...", j.task.Name)
	err := j.task.Execute()
	if err != nil {
		s.log.Errorf("task %s failed: %v", j.task.Name, err)
	}
	if j.done != nil {
		j.done <- err
	}
}

func (s *Scheduler) submit(j job) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return ErrStopped
	}
	s.taskQueue <- j
	return nil
}

// Run queues task and waits for it to finish. It must not be called from
// inside another task.
func (s *Scheduler) Run(task Task) error {
	done := make(chan error, 1)
	if err := s.submit(job{task: task, done: done}); err != nil {
		return err
	}
	return <-done
}

// Schedule queues task without waiting for it.
func (s *Scheduler) Schedule(task Task) error {
	return s.submit(job{task: task})
}

// SchedulePeriodicTask queues task every interval until the scheduler stops.
// A tick is skipped when the queue is full.
func (s *Scheduler) SchedulePeriodicTask(interval time.Duration, task Task) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.mu.RLock()
				if s.stopped {
					s.mu.RUnlock()
					return
				}
				select {
				case s.taskQueue <- job{task: task}:
					s.log.Debugf("Scheduled %s.", task.Name)
				default:
					s.log.Warningf("Skipped scheduling %s. Queue is full.", task.Name)
				}
				s.mu.RUnlock()
			case <-s.stopChan:
				return
			}
		}
	}()
}

// StopScheduler refuses new tasks, drains the queue and waits for the
// worker to exit. Calling it twice is a no-op.
func (s *Scheduler) StopScheduler() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.log.Infof("Stopping scheduler.")
	s.stopped = true
	close(s.stopChan)
	close(s.taskQueue)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Infof("Scheduler stopped.")
}
