// Package timerwheel schedules deadline-driven callbacks off the
// session's hot path on heap-ordered worker goroutines rather than
// spawning a bespoke goroutine each. The orchestrator uses it for relay
// lease expiry checks only.
package timerwheel

import (
	"container/heap"
	"runtime"
	"sync"
	"time"
)

// DefaultScheduler is a shared scheduler sized to the host's CPU count.
var DefaultScheduler *Scheduler = NewScheduler(runtime.NumCPU())

type timedFunc struct {
	execute func()
	ts      time.Time
}

// Scheduler runs timedFunc callbacks at their deadline across a small
// pool of worker goroutines, using a per-worker min-heap rather than
// one timer per task.
type Scheduler struct {
	prependTasks    []timedFunc
	prependLock     sync.Mutex
	chPrependNotify chan struct{}

	chTask chan timedFunc

	closeOnce sync.Once
	close     chan struct{}
}

// NewScheduler starts parallel worker goroutines plus one dispatcher.
func NewScheduler(parallel int) *Scheduler {
	if parallel < 1 {
		parallel = 1
	}
	s := &Scheduler{
		chTask:          make(chan timedFunc),
		close:           make(chan struct{}),
		chPrependNotify: make(chan struct{}, 1),
	}
	for i := 0; i < parallel; i++ {
		go s.runWorker()
	}
	go s.dispatch()
	return s
}

type timeFuncHeap []timedFunc

func (h timeFuncHeap) Len() int            { return len(h) }
func (h timeFuncHeap) Less(i, j int) bool  { return h[i].ts.Before(h[j].ts) }
func (h timeFuncHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timeFuncHeap) Push(x any)         { *h = append(*h, x.(timedFunc)) }
func (h *timeFuncHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

func (s *Scheduler) runWorker() {
	timer := time.NewTimer(0)
	defer timer.Stop()
	if !timer.Stop() {
		<-timer.C
	}

	var tasks timeFuncHeap
	armed := false

	for {
		select {
		case task := <-s.chTask:
			now := time.Now()
			if !now.Before(task.ts) {
				go task.execute()
				continue
			}
			heap.Push(&tasks, task)
			if armed {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
			}
			timer.Reset(tasks[0].ts.Sub(now))
			armed = true
		case now := <-timer.C:
			armed = false
			for tasks.Len() > 0 {
				if !now.Before(tasks[0].ts) {
					task := heap.Pop(&tasks).(timedFunc)
					go task.execute()
					continue
				}
				timer.Reset(tasks[0].ts.Sub(now))
				armed = true
				break
			}
		case <-s.close:
			return
		}
	}
}

func (s *Scheduler) dispatch() {
	var tasks []timedFunc
	for {
		select {
		case <-s.chPrependNotify:
			s.prependLock.Lock()
			tasks = append(tasks[:0], s.prependTasks...)
			s.prependTasks = s.prependTasks[:0]
			s.prependLock.Unlock()

			for _, t := range tasks {
				select {
				case s.chTask <- t:
				case <-s.close:
					return
				}
			}
		case <-s.close:
			return
		}
	}
}

// At schedules f to run at deadline on one of the worker goroutines.
func (s *Scheduler) At(f func(), deadline time.Time) {
	s.prependLock.Lock()
	s.prependTasks = append(s.prependTasks, timedFunc{f, deadline})
	s.prependLock.Unlock()

	select {
	case s.chPrependNotify <- struct{}{}:
	default:
	}
}

// After schedules f to run after d elapses.
func (s *Scheduler) After(f func(), d time.Duration) {
	s.At(f, time.Now().Add(d))
}

// Close stops all worker goroutines. Safe to call more than once.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		close(s.close)
	})
}
