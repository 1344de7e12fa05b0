package runner

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Task represents a unit of work.
type Task func() error

// WorkerPool manages a pool of worker goroutines. Units submitted to one pool
// run concurrently; Wait is the barrier between pipeline stages.
type WorkerPool struct {
	NumWorkers  int
	Tasks       chan Task
	wg          sync.WaitGroup // Workers WG
	taskWG      sync.WaitGroup // Tasks WG
	activeTasks int64
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(numWorkers int) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	// Buffered channel so submitting a large batch never deadlocks the producer.
	bufferSize := numWorkers * 10
	if bufferSize < 100 {
		bufferSize = 100
	}
	return &WorkerPool{
		NumWorkers: numWorkers,
		Tasks:      make(chan Task, bufferSize),
	}
}

// Start launches the worker goroutines.
func (p *WorkerPool) Start() {
	for i := 0; i < p.NumWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	for task := range p.Tasks {
		atomic.AddInt64(&p.activeTasks, 1)
		if err := task(); err != nil {
			slog.Warn("worker task failed", "worker", id, "error", err)
		}
		atomic.AddInt64(&p.activeTasks, -1)
		p.taskWG.Done()
	}
}

// Submit adds a task to the pool.
func (p *WorkerPool) Submit(t Task) {
	p.taskWG.Add(1)
	p.Tasks <- t
}

// Wait waits for all submitted tasks to complete.
func (p *WorkerPool) Wait() {
	p.taskWG.Wait()
}

// Stop closes the task channel and waits for workers to finish.
func (p *WorkerPool) Stop() {
	close(p.Tasks)
	p.wg.Wait()
}

// ActiveCount returns the number of currently executing tasks.
func (p *WorkerPool) ActiveCount() int {
	return int(atomic.LoadInt64(&p.activeTasks))
}
