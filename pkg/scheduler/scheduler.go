// Package scheduler runs tasks on a fixed pool of workers in FIFO order, with
// at most one live task per consumer handle.
package scheduler

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Task is a unit of work bound to a consumer handle.
type Task[H comparable] interface {
	Handle() H
	// Run does the work. Returning a Retry puts the task back on the queue
	// after a delay if it is still current for its handle.
	Run(ctx context.Context) error
	// Cancel marks the task cancelled. It is called with the scheduler lock
	// held, so it must not block or call back into the scheduler. It returns
	// false when the task already finished or was cancelled before.
	Cancel() bool
	// Cancelled runs outside the lock after a successful Cancel.
	Cancelled()
}

// Retry asks the scheduler to queue the task again after a delay.
type Retry struct {
	After time.Duration
}

func (r Retry) Error() string {
	return fmt.Sprintf("retry after %s", r.After)
}

type entry[H comparable] struct {
	task    Task[H]
	elem    *list.Element
	running bool
}

// Mutable
type Scheduler[H comparable] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    *list.List
	byHandle map[H]*entry[H]
	paused   bool
	closed   bool

	ctx           context.Context
	cancel        context.CancelFunc
	group         errgroup.Group
	onQueueChange func(depth int)
}

// New starts workers goroutines. Call Shutdown to stop them.
func New[H comparable](workers int) *Scheduler[H] {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler[H]{
		queue:    list.New(),
		byHandle: make(map[H]*entry[H]),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.cond = sync.NewCond(&s.mu)
	for i := 0; i < workers; i++ {
		id := i
		s.group.Go(func() error {
			s.work(id)
			return nil
		})
	}
	return s
}

// OnQueueChange registers fn to receive the queue depth after it changes.
// fn runs with the lock held and must not call into the scheduler.
func (s *Scheduler[H]) OnQueueChange(fn func(depth int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onQueueChange = fn
}

// Enqueue makes t the current task for its handle. A task already current for
// that handle is removed from the queue if waiting, and cancelled either way.
// Both steps happen in one critical section.
func (s *Scheduler[H]) Enqueue(t Task[H]) error {
	h := t.Handle()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	superseded := s.detachLocked(h)
	e := &entry[H]{task: t}
	e.elem = s.queue.PushBack(e)
	s.byHandle[h] = e
	s.notifyLocked()
	s.cond.Signal()
	s.mu.Unlock()

	if superseded != nil {
		superseded.Cancelled()
	}
	return nil
}

// CancelForHandle cancels whatever task is current for h.
// It reports whether there was one to cancel.
func (s *Scheduler[H]) CancelForHandle(h H) bool {
	s.mu.Lock()
	cancelled := s.detachLocked(h)
	s.notifyLocked()
	s.mu.Unlock()

	if cancelled != nil {
		cancelled.Cancelled()
		return true
	}
	return false
}

// detachLocked drops the current task of h from the queue and the handle map
// and marks it cancelled. It returns the task if Cancelled should be fired.
func (s *Scheduler[H]) detachLocked(h H) Task[H] {
	old, ok := s.byHandle[h]
	if !ok {
		return nil
	}
	delete(s.byHandle, h)
	if old.elem != nil {
		s.queue.Remove(old.elem)
		old.elem = nil
	}
	if old.task.Cancel() {
		return old.task
	}
	return nil
}

// SetPaused stops or resumes dequeuing. Running tasks are not interrupted.
func (s *Scheduler[H]) SetPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = paused
	if !paused {
		s.cond.Broadcast()
	}
}

func (s *Scheduler[H]) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Len returns the number of waiting tasks.
func (s *Scheduler[H]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Current reports whether t is the live task for its handle.
func (s *Scheduler[H]) Current(t Task[H]) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byHandle[t.Handle()]
	return ok && e.task == t
}

// Shutdown cancels every waiting and running task, stops the workers and
// waits for them to exit. Later Enqueue calls fail with ErrClosed.
func (s *Scheduler[H]) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.group.Wait()
		return
	}
	s.closed = true
	var cancelled []Task[H]
	for h := range s.byHandle {
		if t := s.detachLocked(h); t != nil {
			cancelled = append(cancelled, t)
		}
	}
	s.queue.Init()
	s.notifyLocked()
	s.cond.Broadcast()
	s.mu.Unlock()

	for _, t := range cancelled {
		t.Cancelled()
	}
	s.cancel()
	s.group.Wait()
	slog.Debug("Scheduler stopped", "cancelled", len(cancelled))
}

// ErrClosed is returned by Enqueue after Shutdown.
var ErrClosed = errors.New("scheduler is shut down")

func (s *Scheduler[H]) work(id int) {
	for {
		s.mu.Lock()
		for !s.closed && (s.paused || s.queue.Len() == 0) {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		e := s.queue.Remove(s.queue.Front()).(*entry[H])
		e.elem = nil
		e.running = true
		s.notifyLocked()
		s.mu.Unlock()

		err := s.execute(id, e.task)

		var retry Retry
		s.mu.Lock()
		e.running = false
		current := s.byHandle[e.task.Handle()] == e
		if errors.As(err, &retry) && current && !s.closed {
			s.mu.Unlock()
			s.requeueAfter(e, retry.After)
			continue
		}
		if current {
			delete(s.byHandle, e.task.Handle())
		}
		s.mu.Unlock()
	}
}

func (s *Scheduler[H]) execute(id int, t Task[H]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Task panicked", "worker", id, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	err = t.Run(s.ctx)
	if err != nil {
		var retry Retry
		if !errors.As(err, &retry) {
			slog.Debug("Task ended with error", "worker", id, "error", err)
		}
	}
	return err
}

func (s *Scheduler[H]) requeueAfter(e *entry[H], d time.Duration) {
	time.AfterFunc(d, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || s.byHandle[e.task.Handle()] != e || e.elem != nil || e.running {
			return
		}
		e.elem = s.queue.PushBack(e)
		s.notifyLocked()
		s.cond.Signal()
	})
}

func (s *Scheduler[H]) notifyLocked() {
	if s.onQueueChange != nil {
		s.onQueueChange(s.queue.Len())
	}
}
