package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// questionTimer tracks the countdown of one fetched question.
type questionTimer struct {
	sessionID  string
	ordinal    int32
	startTime  time.Time
	limit      time.Duration
	cancelFunc context.CancelFunc
	done       chan struct{}
}

// timerManager auto-skips questions whose time limit elapsed. Timers are
// keyed "sessionID:ordinal"; starting a timer replaces any previous one for
// the same question.
type timerManager struct {
	timers sync.Map // key: "sessionID:ordinal", value: *questionTimer
	logger *zap.Logger
}

func newTimerManager(logger *zap.Logger) *timerManager {
	return &timerManager{logger: logger}
}

func timerKey(sessionID string, ordinal int32) string {
	return fmt.Sprintf("%s:%d", sessionID, ordinal)
}

func (tm *timerManager) start(sessionID string, ordinal int32, limit time.Duration, onTimeout func(sessionID string, ordinal int32)) {
	key := timerKey(sessionID, ordinal)
	tm.cancel(sessionID, ordinal)

	ctx, cancel := context.WithCancel(context.Background())
	timer := &questionTimer{
		sessionID:  sessionID,
		ordinal:    ordinal,
		startTime:  time.Now(),
		limit:      limit,
		cancelFunc: cancel,
		done:       make(chan struct{}),
	}
	tm.timers.Store(key, timer)

	go tm.run(ctx, timer, onTimeout)
}

func (tm *timerManager) cancel(sessionID string, ordinal int32) bool {
	key := timerKey(sessionID, ordinal)
	if val, ok := tm.timers.LoadAndDelete(key); ok {
		if timer, ok := val.(*questionTimer); ok {
			timer.cancelFunc()
			select {
			case <-timer.done:
			case <-time.After(100 * time.Millisecond):
				tm.logger.Warn("Timer cancellation timeout", zap.String("timerKey", key))
			}
			return true
		}
	}
	return false
}

func (tm *timerManager) run(ctx context.Context, timer *questionTimer, onTimeout func(sessionID string, ordinal int32)) {
	defer close(timer.done)

	key := timerKey(timer.sessionID, timer.ordinal)

	select {
	case <-time.After(timer.limit):
		if _, exists := tm.timers.Load(key); exists {
			tm.logger.Info("Question time limit reached",
				zap.String("sessionID", timer.sessionID),
				zap.Int32("ordinal", timer.ordinal))
			onTimeout(timer.sessionID, timer.ordinal)
			tm.timers.Delete(key)
		}
	case <-ctx.Done():
		tm.logger.Debug("Timer cancelled",
			zap.String("sessionID", timer.sessionID),
			zap.Int32("ordinal", timer.ordinal))
	}
}

// remaining reports the time left on a question, zero when no timer runs.
func (tm *timerManager) remaining(sessionID string, ordinal int32) time.Duration {
	if val, ok := tm.timers.Load(timerKey(sessionID, ordinal)); ok {
		if timer, ok := val.(*questionTimer); ok {
			left := timer.limit - time.Since(timer.startTime)
			if left < 0 {
				return 0
			}
			return left
		}
	}
	return 0
}

// cleanupSession cancels every timer belonging to a session.
func (tm *timerManager) cleanupSession(sessionID string) {
	tm.timers.Range(func(key, value interface{}) bool {
		if timer, ok := value.(*questionTimer); ok {
			if timer.sessionID == sessionID {
				tm.cancel(timer.sessionID, timer.ordinal)
			}
		}
		return true
	})
}

func (tm *timerManager) shutdown() {
	tm.timers.Range(func(key, value interface{}) bool {
		if timer, ok := value.(*questionTimer); ok {
			timer.cancelFunc()
		}
		return true
	})
}
