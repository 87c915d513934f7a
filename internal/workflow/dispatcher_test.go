package workflow

import (
	"context"
	"io"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestDispatcherRunsQueuedTasks(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	d := NewDispatcher(4, 16, log)

	var ran int64
	for i := 0; i < 10; i++ {
		ok := d.Enqueue(Task{
			Name: "count",
			Run: func(ctx context.Context) error {
				atomic.AddInt64(&ran, 1)
				return nil
			},
		})
		assert.True(t, ok)
	}

	d.Stop()
	assert.Equal(t, int64(10), atomic.LoadInt64(&ran))
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	started := make(chan struct{})
	release := make(chan struct{})
	d := NewDispatcher(1, 1, log)

	// Occupy the single worker, then fill the single queue slot.
	d.Enqueue(Task{Name: "block", Run: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}})
	<-started

	assert.True(t, d.Enqueue(Task{Name: "fill", Run: func(ctx context.Context) error { return nil }}))
	assert.False(t, d.Enqueue(Task{Name: "overflow", Run: func(ctx context.Context) error { return nil }}),
		"a full queue rejects instead of blocking the caller")

	close(release)
	d.Stop()
}
