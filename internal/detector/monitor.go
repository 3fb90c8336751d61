package detector

import (
	"context"
	"fmt"
	"sync"
)

// Options 按试卷配置启用检测器
type Options struct {
	Webcam       bool // 人脸 + 音频
	TabDetection bool // 页面可见性 + 全屏
	Thresholds   Thresholds
}

// Monitor 一个考生的全部检测器，每个检测器一个 goroutine。
// Close 在任何退出路径上都必须调用，可重复调用。
type Monitor struct {
	runners map[Kind]*Runner
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
}

func NewMonitor(parent context.Context, opts Options, sink Sink) *Monitor {
	ctx, cancel := context.WithCancel(parent)
	m := &Monitor{
		runners: make(map[Kind]*Runner),
		cancel:  cancel,
	}

	var dets []Detector
	if opts.Webcam {
		dets = append(dets, NewFacePresence(opts.Thresholds), NewAudioAnomaly(opts.Thresholds))
	}
	if opts.TabDetection {
		dets = append(dets, NewTabVisibility(), NewFullscreenGuard())
	}

	for _, d := range dets {
		r := NewRunner(d, sink)
		m.runners[d.Kind()] = r
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			r.Run(ctx)
		}()
	}
	return m
}

// Feed 按信号类型分发采样；未启用的检测器忽略
func (m *Monitor) Feed(s Sample) error {
	if !s.Kind.Valid() {
		return fmt.Errorf("unknown signal kind %q", s.Kind)
	}
	r, ok := m.runners[s.Kind]
	if !ok {
		return nil
	}
	r.Offer(s)
	return nil
}

// States 各检测器当前状态
func (m *Monitor) States() map[Kind]State {
	out := make(map[Kind]State, len(m.runners))
	for k, r := range m.runners {
		out[k] = r.State()
	}
	return out
}

func (m *Monitor) Close() {
	m.once.Do(func() {
		m.cancel()
		m.wg.Wait()
	})
}
