package detector

import (
	"context"
	"sync/atomic"
)

const sampleBuffer = 64

// Sink 接收检测结果，可能被多个 Runner 并发调用
type Sink func(kind Kind, res Result)

// Runner 在独立 goroutine 中驱动一个检测器，防抖状态只在该 goroutine 内修改
type Runner struct {
	det     Detector
	samples chan Sample
	sink    Sink
	dropped atomic.Uint64
	state   atomic.Value // State
}

func NewRunner(det Detector, sink Sink) *Runner {
	r := &Runner{
		det:     det,
		samples: make(chan Sample, sampleBuffer),
		sink:    sink,
	}
	r.state.Store(StateIdle)
	return r
}

func (r *Runner) Kind() Kind { return r.det.Kind() }

// Offer 非阻塞投递采样，缓冲区满时丢弃并计数
func (r *Runner) Offer(s Sample) bool {
	select {
	case r.samples <- s:
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}

func (r *Runner) Dropped() uint64 { return r.dropped.Load() }

func (r *Runner) State() State { return r.state.Load().(State) }

// Run 阻塞直到 ctx 取消
func (r *Runner) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-r.samples:
			res := r.det.Observe(s)
			r.state.Store(r.det.State())
			if !res.Empty() && r.sink != nil {
				r.sink(r.det.Kind(), res)
			}
		}
	}
}
