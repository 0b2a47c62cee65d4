// Package workerpool provides a shared pool of workers with per-call-site
// result rooms, used by the object write pipeline to seal chunks in parallel.
package workerpool

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

type WorkerPool struct {
	config    Config
	taskQueue chan Task
}

type Config struct {
	WorkerCount  int
	GlobalBuffer int
}

// Room collects the results of one batch of tasks submitted to the shared
// pool. Results arrive in completion order, not submission order.
type Room struct {
	result               []interface{}
	resultMutex          sync.Mutex
	asyncCollectorWait   sync.WaitGroup
	asyncCollectorActive atomic.Bool
	resultChan           chan interface{}
	wg                   sync.WaitGroup
	wp                   *WorkerPool
}

type Task struct {
	run  func() interface{}
	room *Room
}

func NewWorkerPool(config Config) *WorkerPool {
	if config.WorkerCount < 1 {
		config.WorkerCount = runtime.NumCPU() * 3
	}

	if config.GlobalBuffer < 1 {
		config.GlobalBuffer = 10000
	}

	wp := &WorkerPool{
		config:    config,
		taskQueue: make(chan Task, config.GlobalBuffer),
	}

	for i := 0; i < config.WorkerCount; i++ {
		go wp.worker()
	}

	return wp
}

func (wp *WorkerPool) worker() {
	for t := range wp.taskQueue {
		t.room.resultChan <- t.run()
		t.room.wg.Done()
	}
}

func (wp *WorkerPool) CreateRoom(size int) *Room {
	return &Room{
		resultChan: make(chan interface{}, size),
		wp:         wp,
	}
}

// NewTaskWaitForFreeSlot submits a task, blocking until the global queue has
// room.
func (ro *Room) NewTaskWaitForFreeSlot(job func() interface{}) {
	ro.wg.Add(1)
	ro.wp.taskQueue <- Task{run: job, room: ro}
}

// NewTask submits a task or fails immediately when either buffer is full.
func (ro *Room) NewTask(job func() interface{}) error {
	if len(ro.wp.taskQueue) == cap(ro.wp.taskQueue) {
		return fmt.Errorf("global task buffer is full")
	}

	if len(ro.resultChan) == cap(ro.resultChan) {
		return fmt.Errorf("room result buffer is full")
	}

	ro.NewTaskWaitForFreeSlot(job)

	return nil
}

// Collect blocks until all submitted tasks finished and returns their
// results.
func (ro *Room) Collect() []interface{} {
	go ro.WaitAndClose()

	results := make([]interface{}, 0)
	for result := range ro.resultChan {
		results = append(results, result)
	}

	return results
}

// AsyncCollector starts draining results in the background so submitters are
// never blocked on a full result channel. Pair with GetAsyncResults.
func (ro *Room) AsyncCollector() {
	if ro.asyncCollectorActive.Load() {
		return
	}

	ro.asyncCollectorActive.Store(true)
	ro.asyncCollectorWait.Add(1)

	go func() {
		defer ro.asyncCollectorActive.Store(false)
		defer ro.asyncCollectorWait.Done()

		ro.resultMutex.Lock()
		for result := range ro.resultChan {
			ro.result = append(ro.result, result)
		}
		ro.resultMutex.Unlock()
	}()
}

func (ro *Room) GetAsyncResults() ([]interface{}, error) {
	go ro.WaitAndClose()
	ro.asyncCollectorWait.Wait()

	ro.resultMutex.Lock()
	defer ro.resultMutex.Unlock()

	return ro.result, nil
}

func (ro *Room) WaitAndClose() {
	ro.wg.Wait()
	close(ro.resultChan)
}
