package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestLoop(t *testing.T) *EventLoop {
	t.Helper()
	// NewEventLoop binds to its constructing goroutine, so construction
	// has to happen inside the goroutine that will call Loop().
	started := make(chan *EventLoop, 1)
	errs := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		loop, err := NewEventLoop(EventLoopConfig{PollTimeout: 50 * time.Millisecond})
		if err != nil {
			errs <- err
			started <- nil
			return
		}
		started <- loop
		loop.Loop()
		close(done)
	}()
	loop := <-started
	select {
	case err := <-errs:
		require.NoError(t, err)
	default:
	}
	t.Cleanup(func() {
		loop.Quit()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("loop did not exit after Quit")
		}
	})
	return loop
}

func TestEventLoopRunInLoopFromOtherGoroutine(t *testing.T) {
	loop := startTestLoop(t)
	result := make(chan bool, 1)
	loop.RunInLoop(func() {
		result <- loop.isInLoopThread()
	})
	select {
	case ok := <-result:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("RunInLoop task never ran")
	}
}

func TestEventLoopQueueInLoopFromOtherGoroutine(t *testing.T) {
	loop := startTestLoop(t)
	result := make(chan bool, 1)
	loop.QueueInLoop(func() {
		result <- loop.isInLoopThread()
	})
	select {
	case ok := <-result:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("QueueInLoop task never ran")
	}
}

func TestEventLoopRunAfterFires(t *testing.T) {
	loop := startTestLoop(t)
	fired := make(chan time.Time, 1)
	start := time.Now()
	loop.RunAfter(20*time.Millisecond, func() {
		fired <- time.Now()
	})
	select {
	case when := <-fired:
		assert.GreaterOrEqual(t, when.Sub(start), 15*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestEventLoopRunEveryRepeats(t *testing.T) {
	loop := startTestLoop(t)
	ticks := make(chan struct{}, 10)
	id := loop.RunEvery(10*time.Millisecond, func() {
		select {
		case ticks <- struct{}{}:
		default:
		}
	})
	for i := 0; i < 3; i++ {
		select {
		case <-ticks:
		case <-time.After(time.Second):
			t.Fatalf("tick %d never arrived", i)
		}
	}
	loop.Cancel(id)
}

func TestEventLoopCancelStopsRepeatingTimer(t *testing.T) {
	loop := startTestLoop(t)
	count := make(chan struct{}, 100)
	var id TimerId
	idReady := make(chan struct{})
	loop.RunInLoop(func() {
		id = loop.RunEvery(5*time.Millisecond, func() {
			select {
			case count <- struct{}{}:
			default:
			}
		})
		close(idReady)
	})
	<-idReady
	<-count // at least one tick before cancelling

	loop.Cancel(id)
	// Drain whatever was already in flight when Cancel raced the timer.
	drain := time.After(30 * time.Millisecond)
drainLoop:
	for {
		select {
		case <-count:
		case <-drain:
			break drainLoop
		}
	}

	select {
	case <-count:
		t.Fatal("timer fired again well after Cancel")
	case <-time.After(50 * time.Millisecond):
		// expected: no further ticks.
	}
}
