// Package dispatch provides the thread pools the document model uses to run
// deferred work off the calling goroutine.
package dispatch

import (
	"sync"

	"github.com/golang/glog"
)

// ThreadPool queues funcs and runs them on worker goroutines started with
// Start. Tests drain the queue synchronously with RunAll or RunOne instead of
// starting workers.
type ThreadPool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	closed  bool
	workers sync.WaitGroup
}

func NewThreadPool() *ThreadPool {
	p := &ThreadPool{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Queue adds a task. Tasks queued after Close are dropped.
func (p *ThreadPool) Queue(task func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.queue = append(p.queue, task)
	p.cond.Signal()
}

// Start launches n worker goroutines.
func (p *ThreadPool) Start(n int) {
	for i := 0; i < n; i++ {
		p.workers.Add(1)
		go p.run()
	}
}

func (p *ThreadPool) run() {
	defer p.workers.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed && len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		task := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()
		p.invoke(task)
	}
}

func (p *ThreadPool) invoke(task func()) {
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("pool task panic: %v", r)
		}
	}()
	task()
}

// RunAll drains the queue on the calling goroutine, including tasks queued by
// tasks it runs.
func (p *ThreadPool) RunAll() {
	for p.RunOne() {
	}
}

// RunOne runs the next queued task on the calling goroutine. It reports
// whether a task ran.
func (p *ThreadPool) RunOne() bool {
	p.mu.Lock()
	if len(p.queue) == 0 {
		p.mu.Unlock()
		return false
	}
	task := p.queue[0]
	p.queue = p.queue[1:]
	p.mu.Unlock()
	p.invoke(task)
	return true
}

// Close stops the workers after the queue drains and waits for them.
func (p *ThreadPool) Close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.workers.Wait()
}
