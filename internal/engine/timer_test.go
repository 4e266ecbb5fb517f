package engine

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestTimerFiresOnTimeout(t *testing.T) {
	tm := newTimerManager(zap.NewNop())
	var fired int32

	tm.start("s1", 0, 20*time.Millisecond, func(sessionID string, ordinal int32) {
		atomic.AddInt32(&fired, 1)
	})

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&fired) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, time.Duration(0), tm.remaining("s1", 0))
}

func TestTimerCancelPreventsCallback(t *testing.T) {
	tm := newTimerManager(zap.NewNop())
	var fired int32

	tm.start("s1", 0, 30*time.Millisecond, func(sessionID string, ordinal int32) {
		atomic.AddInt32(&fired, 1)
	})
	assert.Greater(t, tm.remaining("s1", 0), time.Duration(0))
	assert.True(t, tm.cancel("s1", 0))

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&fired))
	assert.False(t, tm.cancel("s1", 0))
}

func TestTimerRestartReplacesPrevious(t *testing.T) {
	tm := newTimerManager(zap.NewNop())
	var first, second int32

	tm.start("s1", 0, 25*time.Millisecond, func(string, int32) { atomic.AddInt32(&first, 1) })
	tm.start("s1", 0, 25*time.Millisecond, func(string, int32) { atomic.AddInt32(&second, 1) })

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&second) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&first))
}

func TestCleanupSessionCancelsAllTimers(t *testing.T) {
	tm := newTimerManager(zap.NewNop())
	var fired int32
	cb := func(string, int32) { atomic.AddInt32(&fired, 1) }

	tm.start("s1", 0, 30*time.Millisecond, cb)
	tm.start("s1", 1, 30*time.Millisecond, cb)
	tm.start("s2", 0, 30*time.Millisecond, cb)
	tm.cleanupSession("s1")

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&fired) == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
}
