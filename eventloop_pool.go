package reactor

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// ThreadInitCallback runs once on each worker loop's own goroutine,
// immediately after it starts and before it accepts any work.
type ThreadInitCallback func(loop *EventLoop)

// EventLoopThreadPool is muduo's "one loop per thread" fan-out for
// accepted connections: a base loop (normally the Acceptor's loop)
// plus zero or more worker loops, each running in its own goroutine.
// With zero worker loops every connection is handled on the base loop
// itself.
type EventLoopThreadPool struct {
	baseLoop *EventLoop
	name     string

	mu      sync.Mutex
	started bool
	loops   []*EventLoop
	next    int // round-robin cursor, guarded by mu

	wg sync.WaitGroup
}

// NewEventLoopThreadPool creates a pool anchored on baseLoop.
func NewEventLoopThreadPool(baseLoop *EventLoop, name string) *EventLoopThreadPool {
	return &EventLoopThreadPool{baseLoop: baseLoop, name: name}
}

// Start launches numThreads worker loops, each in its own goroutine,
// running initCb (if non-nil) before the loop begins polling. Start
// blocks until every worker loop has been constructed and its initCb
// has run; each worker then calls Loop().
func (p *EventLoopThreadPool) Start(numThreads int, initCb ThreadInitCallback) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		panic("goreactor: EventLoopThreadPool.Start() called twice")
	}
	p.started = true

	p.loops = make([]*EventLoop, numThreads)

	for i := 0; i < numThreads; i++ {
		started := make(chan error, 1)
		p.wg.Add(1)
		go func(idx int) {
			defer p.wg.Done()
			// NewEventLoop must run on the same goroutine that calls
			// Loop(): the loop binds to its constructing goroutine.
			loop, err := NewEventLoop(EventLoopConfig{LockOSThread: true})
			if err != nil {
				started <- fmt.Errorf("goreactor: starting worker %d/%s: %w", idx, p.name, err)
				return
			}
			// Start holds p.mu while it waits on started below, so this
			// write is already guarded.
			p.loops[idx] = loop
			if initCb != nil {
				initCb(loop)
			}
			started <- nil
			loop.Loop()
			log.Debug().Str("pool", p.name).Int("worker", idx).Msg("worker loop exited")
		}(i)
		if err := <-started; err != nil {
			return err
		}
	}
	return nil
}

// Stop asks every worker loop to quit and waits for all of them to
// return from Loop().
func (p *EventLoopThreadPool) Stop() {
	p.mu.Lock()
	loops := append([]*EventLoop(nil), p.loops...)
	p.mu.Unlock()

	for _, l := range loops {
		l.Quit()
	}
	p.wg.Wait()
}

// GetNextLoop returns the next loop in round-robin order, or the base
// loop if the pool has no workers.
func (p *EventLoopThreadPool) GetNextLoop() *EventLoop {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.loops) == 0 {
		return p.baseLoop
	}
	loop := p.loops[p.next]
	p.next = (p.next + 1) % len(p.loops)
	return loop
}

// GetLoopForHash pins key to the same worker loop every time the pool
// size is unchanged, via jump consistent hashing, which survives pool
// resizing much better than key % N. Falls back to the base loop when
// there are no workers.
func (p *EventLoopThreadPool) GetLoopForHash(key uint64) *EventLoop {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.loops) == 0 {
		return p.baseLoop
	}
	return p.loops[JumpHash(key, len(p.loops))]
}

// GetLoops returns a snapshot of the worker loops, or nil if the pool
// has none.
func (p *EventLoopThreadPool) GetLoops() []*EventLoop {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*EventLoop(nil), p.loops...)
}
