package vm

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrWorkerStopped is returned by Do after Stop.
var ErrWorkerStopped = errors.New("worker stopped")

// workerRequest is a unit of host work executed between ticks.
type workerRequest struct {
	fn   func(*VM) interface{}
	done chan workerResult
}

// workerResult holds the return value from a host request.
type workerResult struct {
	value interface{}
	err   error
}

// Worker drives a VM's tick loop on a dedicated goroutine and serializes
// host access through the same goroutine. Host requests only ever run
// between two ticks, so no handler observes a concurrent change.
type Worker struct {
	vm       *VM
	interval time.Duration
	requests chan workerRequest
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewWorker starts ticking v every interval.
func NewWorker(v *VM, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = time.Millisecond
	}
	w := &Worker{
		vm:       v,
		interval: interval,
		requests: make(chan workerRequest, 64),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop alternates ticks and host requests on one goroutine.
func (w *Worker) loop() {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-ticker.C:
			w.vm.Tick()
		case <-w.quit:
			return
		}
	}
}

// execute runs a request, recovering from panics.
func (w *Worker) execute(fn func(*VM) interface{}) workerResult {
	var result workerResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				result.err = fmt.Errorf("%v", r)
			}
		}()
		result.value = fn(w.vm)
	}()
	return result
}

// Do runs fn on the worker goroutine between two ticks and blocks until
// it completes. Returns the result and any error (including panics).
func (w *Worker) Do(fn func(*VM) interface{}) (interface{}, error) {
	req := workerRequest{
		fn:   fn,
		done: make(chan workerResult, 1),
	}
	select {
	case w.requests <- req:
	case <-w.done:
		return nil, ErrWorkerStopped
	}
	select {
	case result := <-req.done:
		return result.value, result.err
	case <-w.done:
		// The loop may have exited right after taking the request.
		select {
		case result := <-req.done:
			return result.value, result.err
		default:
			return nil, ErrWorkerStopped
		}
	}
}

// Stop shuts down the worker goroutine and waits for it to exit.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
	<-w.done
}

// Done is closed once the worker has stopped.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// VM returns the underlying VM. Use Do for anything that touches script
// state.
func (w *Worker) VM() *VM {
	return w.vm
}
