package workflow

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Task is one asynchronous unit of work.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Dispatcher runs tasks on a bounded queue with a fixed worker pool. Requests
// enqueue work and return immediately; the eventual state transition is
// observed later by polling the loan status.
type Dispatcher struct {
	queue chan Task
	log   *logrus.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewDispatcher(workers, queueSize int, log *logrus.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	d := &Dispatcher{
		queue: make(chan Task, queueSize),
		log:   log,
	}

	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for task := range d.queue {
		if err := task.Run(context.Background()); err != nil {
			d.log.WithField("task", task.Name).Errorf("task failed: %v", err)
		}
	}
}

// Enqueue adds a task to the queue. Returns false when the queue is full;
// the caller decides whether that is fatal. Must not be called after Stop.
func (d *Dispatcher) Enqueue(task Task) bool {
	select {
	case d.queue <- task:
		return true
	default:
		d.log.WithField("task", task.Name).Warn("task queue full, dropping task")
		return false
	}
}

// Stop drains queued tasks and waits for workers to finish.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.queue)
	})
	d.wg.Wait()
}
