// Package detector 监考信号检测状态机。
//
// 每个检测器独立消费一种原始信号（摄像头人脸数、麦克风音量、页面可见性、全屏状态），
// 只有条件持续超过防抖窗口才确认为违规事件。确认后重置起始时间，条件持续则每个窗口再触发一次。
package detector

import (
	"errors"
	"exam_proctor_backend/internal/model"
	"time"
)

// Kind 信号类型
type Kind string

const (
	KindFace       Kind = "face"
	KindAudio      Kind = "audio"
	KindVisibility Kind = "visibility"
	KindFullscreen Kind = "fullscreen"
)

func (k Kind) Valid() bool {
	switch k {
	case KindFace, KindAudio, KindVisibility, KindFullscreen:
		return true
	}
	return false
}

// State 检测器状态
type State string

const (
	StateIdle      State = "idle"
	StatePending   State = "condition_pending"
	StateConfirmed State = "confirmed"
	StateDegraded  State = "degraded"
)

// ErrSensorUnavailable 设备不可用（权限被拒绝等），只降级不终止考试
var ErrSensorUnavailable = errors.New("sensor unavailable")

// Sample 一次原始采样
type Sample struct {
	Kind        Kind      `json:"kind"`
	At          time.Time `json:"at"`
	Unavailable bool      `json:"unavailable,omitempty"`
	FaceCount   int       `json:"faceCount,omitempty"`
	Amplitude   float64   `json:"amplitude,omitempty"`
	Hidden      bool      `json:"hidden,omitempty"`
	Fullscreen  bool      `json:"fullscreen,omitempty"`
}

// Action 需要客户端执行的动作
type Action string

const ActionRequestFullscreen Action = "request_fullscreen"

// Event 已确认的违规
type Event struct {
	Type     model.ProctorEventType
	Severity model.Severity
	At       time.Time
	Metadata model.ProctorMetadata
}

// Result 一次采样的处理结果
type Result struct {
	Events  []Event
	Actions []Action
	// Warning 非致命告警，仅在进入降级状态时返回一次
	Warning error
}

func (r Result) Empty() bool {
	return len(r.Events) == 0 && len(r.Actions) == 0 && r.Warning == nil
}

// Detector 单一信号的状态机，非并发安全，由 Runner 独占调用
type Detector interface {
	Kind() Kind
	Observe(s Sample) Result
	State() State
}

// Thresholds 防抖窗口与音量阈值
type Thresholds struct {
	FaceAbsentWindow    time.Duration
	MultipleFacesWindow time.Duration
	NoiseWindow         time.Duration
	SilenceWindow       time.Duration
	NoiseThreshold      float64
	SilenceFloor        float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		FaceAbsentWindow:    10 * time.Second,
		MultipleFacesWindow: 5 * time.Second,
		NoiseWindow:         3 * time.Second,
		SilenceWindow:       30 * time.Second,
		NoiseThreshold:      0.3,
		SilenceFloor:        0.01,
	}
}

func newEvent(t model.ProctorEventType, at time.Time, md model.ProctorMetadata) Event {
	return Event{Type: t, Severity: t.DefaultSeverity(), At: at, Metadata: md}
}

// degradable 设备不可用时的公共处理
type degradable struct {
	degraded bool
}

// enter 返回是否首次进入降级
func (d *degradable) enter() bool {
	if d.degraded {
		return false
	}
	d.degraded = true
	return true
}

func (d *degradable) recover() {
	d.degraded = false
}
