package dispatch

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunAllDrainsQueue(t *testing.T) {
	pool := NewThreadPool()
	count := 0
	for i := 0; i < 3; i++ {
		pool.Queue(func() { count++ })
	}
	pool.RunAll()
	assert.Equal(t, 3, count)
	assert.False(t, pool.RunOne())
}

func TestRunAllIncludesTasksQueuedByTasks(t *testing.T) {
	pool := NewThreadPool()
	count := 0
	pool.Queue(func() {
		count++
		pool.Queue(func() { count++ })
	})
	pool.RunAll()
	assert.Equal(t, 2, count)
}

func TestRunOneRunsSingleTask(t *testing.T) {
	pool := NewThreadPool()
	count := 0
	pool.Queue(func() { count++ })
	pool.Queue(func() { count++ })
	assert.True(t, pool.RunOne())
	assert.Equal(t, 1, count)
	pool.RunAll()
	assert.Equal(t, 2, count)
}

func TestWorkersRunQueuedTasks(t *testing.T) {
	pool := NewThreadPool()
	pool.Start(2)
	var count int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		pool.Queue(func() {
			atomic.AddInt64(&count, 1)
			wg.Done()
		})
	}
	wg.Wait()
	pool.Close()
	assert.EqualValues(t, 10, atomic.LoadInt64(&count))
}

func TestQueueAfterCloseIsDropped(t *testing.T) {
	pool := NewThreadPool()
	pool.Close()
	pool.Queue(func() { t.Fatal("task ran after close") })
	assert.False(t, pool.RunOne())
}

func TestPanicInTaskDoesNotStopPool(t *testing.T) {
	pool := NewThreadPool()
	ran := false
	pool.Queue(func() { panic("boom") })
	pool.Queue(func() { ran = true })
	pool.RunAll()
	assert.True(t, ran)
}
