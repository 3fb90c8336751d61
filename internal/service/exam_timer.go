package service

import (
	"exam_proctor_backend/pkg/logger"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RemainingSeconds = max(0, duration*60 - (now - startedAt))，每次请求都按服务端开始时间重新计算
func RemainingSeconds(durationMinutes int, startedAt, now time.Time) int {
	total := time.Duration(durationMinutes) * time.Minute
	left := total - now.Sub(startedAt)
	if left <= 0 {
		return 0
	}
	// 不足一秒按一秒算，避免提前显示 0 而服务端尚未到期
	return int((left + time.Second - 1) / time.Second)
}

// Deadline 考试截止时刻
func Deadline(durationMinutes int, startedAt time.Time) time.Time {
	return startedAt.Add(time.Duration(durationMinutes) * time.Minute)
}

// ExamTimer 每个进行中考生一个到期定时器，到期回调触发自动交卷
type ExamTimer struct {
	mu       sync.Mutex
	timers   map[string]*time.Timer
	now      func() time.Time
	onExpire func(candidateID string)
	stopped  bool
}

func NewExamTimer(now func() time.Time, onExpire func(candidateID string)) *ExamTimer {
	if now == nil {
		now = time.Now
	}
	return &ExamTimer{
		timers:   make(map[string]*time.Timer),
		now:      now,
		onExpire: onExpire,
	}
}

// Arm 设置（或重置）考生的到期时刻，重复调用只保留最新一个
func (t *ExamTimer) Arm(candidateID string, deadline time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if old, ok := t.timers[candidateID]; ok {
		old.Stop()
	}
	wait := deadline.Sub(t.now())
	if wait < 0 {
		wait = 0
	}
	var timer *time.Timer
	timer = time.AfterFunc(wait, func() {
		t.mu.Lock()
		current, ok := t.timers[candidateID]
		if ok && current == timer {
			delete(t.timers, candidateID)
		}
		t.mu.Unlock()
		if !ok || current != timer {
			return
		}
		logger.Log.Info("exam deadline reached", zap.String("candidateId", candidateID))
		if t.onExpire != nil {
			t.onExpire(candidateID)
		}
	})
	t.timers[candidateID] = timer
}

func (t *ExamTimer) Disarm(candidateID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[candidateID]; ok {
		timer.Stop()
		delete(t.timers, candidateID)
	}
}

func (t *ExamTimer) Armed(candidateID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.timers[candidateID]
	return ok
}

func (t *ExamTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
}
