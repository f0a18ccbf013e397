package jobqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManagerStopReleasesFlushWorker(t *testing.T) {
	m := &Manager{
		queue:  NewQueue(1),
		stopCh: make(chan struct{}),
	}
	m.counterFlushTicker = time.NewTicker(time.Hour)
	m.running = true
	m.wg.Add(1)
	go m.counterFlushWorker()

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return; flush worker never observed the stop signal")
	}

	assert.False(t, m.IsRunning())
	// The closed channel must stay reachable so a worker mid-loop still
	// selects on it instead of blocking on nil.
	assert.NotNil(t, m.stopCh)
	select {
	case <-m.stopCh:
	default:
		t.Fatal("stop channel is not closed")
	}
}
