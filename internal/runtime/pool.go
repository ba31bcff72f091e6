package runtime

import "sync"

type poolTask struct {
	fn     func(lo, hi int)
	lo, hi int
	done   chan struct{}
}

// Pool runs range-partitioned work on a fixed set of goroutines. A nil Pool,
// or one of size 1, runs everything on the caller.
type Pool struct {
	size      int
	tasks     chan poolTask
	doneSlots chan chan struct{}
	closeOnce sync.Once
}

func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{size: size}
	if size == 1 {
		return p
	}
	p.tasks = make(chan poolTask, size*2)
	p.doneSlots = make(chan chan struct{}, size)
	for i := 0; i < size; i++ {
		p.doneSlots <- make(chan struct{}, size)
	}
	for i := 0; i < size; i++ {
		go func() {
			for task := range p.tasks {
				task.fn(task.lo, task.hi)
				task.done <- struct{}{}
			}
		}()
	}
	return p
}

func (p *Pool) Size() int {
	if p == nil {
		return 1
	}
	return p.size
}

// Parallel splits [0, n) into at most Size contiguous chunks, runs fn on each
// and waits for all of them. Chunks smaller than grain are merged so tiny
// workloads stay on the caller.
func (p *Pool) Parallel(n, grain int, fn func(lo, hi int)) {
	if n <= 0 {
		return
	}
	if grain < 1 {
		grain = 1
	}
	workers := p.Size()
	if limit := (n + grain - 1) / grain; workers > limit {
		workers = limit
	}
	if workers <= 1 || p.tasks == nil {
		fn(0, n)
		return
	}

	chunk := (n + workers - 1) / workers
	done := <-p.doneSlots

	active := 0
	for lo := 0; lo < n; lo += chunk {
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		active++
		p.tasks <- poolTask{fn: fn, lo: lo, hi: hi, done: done}
	}
	for i := 0; i < active; i++ {
		<-done
	}
	p.doneSlots <- done
}

// Close stops the workers. Parallel must not be called afterwards.
func (p *Pool) Close() {
	if p == nil {
		return
	}
	p.closeOnce.Do(func() {
		if p.tasks != nil {
			close(p.tasks)
		}
	})
}
