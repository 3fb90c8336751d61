package service

import (
	"context"
	"encoding/json"
	"exam_proctor_backend/internal/detector"
	"exam_proctor_backend/internal/model"
	"exam_proctor_backend/pkg/logger"
	"exam_proctor_backend/pkg/monitoring"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	MsgRegister          = "register"
	MsgSignal            = "signal"
	MsgVideoFrame        = "video_frame"
	MsgProctorEvent      = "proctor_event"
	MsgProctorWarning    = "proctor_warning"
	MsgRequestFullscreen = "request_fullscreen"
	MsgTimeSync          = "time_sync"
	MsgAutoSubmitted     = "auto_submitted"
	MsgError             = "error"

	ClientTypeAdmin     = "admin"
	ClientTypeCandidate = "candidate"

	observerBuffer = 256
)

// WSMessage 实时通道消息
type WSMessage struct {
	Type        string          `json:"type"`
	ClientType  string          `json:"clientType,omitempty"`
	CandidateID string          `json:"candidateId,omitempty"`
	Frame       string          `json:"frame,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// outboundMessage 服务端下发消息
type outboundMessage struct {
	Type          string      `json:"type"`
	CandidateID   string      `json:"candidateId,omitempty"`
	Frame         string      `json:"frame,omitempty"`
	Data          interface{} `json:"data,omitempty"`
	TimeRemaining *int        `json:"timeRemaining,omitempty"`
}

// Observer 一个实时连接的下行队列。
// 事件走 Send 队列；视频帧按考生只保留最新一帧（后到覆盖未发出的），
// 由 FrameReady 通知写协程取走。Hub 不关闭任何通道，只通过 Done 通知连接退出。
type Observer struct {
	ID     string
	UserID uint
	Send   chan []byte

	mu         sync.Mutex
	frames     map[string][]byte
	frameReady chan struct{}
	closed     bool

	done      chan struct{}
	closeOnce sync.Once
}

func NewObserver(userID uint) *Observer {
	return &Observer{
		ID:         uuid.New().String(),
		UserID:     userID,
		Send:       make(chan []byte, observerBuffer),
		frames:     make(map[string][]byte),
		frameReady: make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// offer 非阻塞入队，队列满返回 false
func (o *Observer) offer(payload []byte) bool {
	select {
	case <-o.done:
		return false
	default:
	}
	select {
	case o.Send <- payload:
		return true
	default:
		return false
	}
}

// offerFrame 覆盖该考生未发出的帧，返回是否覆盖了旧帧
func (o *Observer) offerFrame(candidateID string, payload []byte) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	_, overwrote := o.frames[candidateID]
	o.frames[candidateID] = payload
	o.mu.Unlock()

	select {
	case o.frameReady <- struct{}{}:
	default:
	}
	return overwrote
}

// TakeFrames 取走所有待发帧，每个考生最多一帧
func (o *Observer) TakeFrames() [][]byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.frames) == 0 {
		return nil
	}
	out := make([][]byte, 0, len(o.frames))
	for id, f := range o.frames {
		out = append(out, f)
		delete(o.frames, id)
	}
	return out
}

func (o *Observer) FrameReady() <-chan struct{} { return o.frameReady }

func (o *Observer) Done() <-chan struct{} { return o.done }

// Close 通知写协程退出，可重复调用
func (o *Observer) Close() {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		o.frames = map[string][]byte{}
		o.mu.Unlock()
		close(o.done)
	})
}

// relayEnvelope 多实例之间转发的消息
type relayEnvelope struct {
	Kind        string          `json:"kind"` // event | frame | notify
	CandidateID string          `json:"candidateId"`
	Payload     json.RawMessage `json:"payload"`
}

// Relay 跨实例广播，未配置时只在本地投递
type Relay interface {
	Publish(ctx context.Context, payload []byte) error
	Subscribe(ctx context.Context) (<-chan []byte, func() error)
}

// monitorEntry 一个考生的检测器及引用它的连接数
type monitorEntry struct {
	m    *detector.Monitor
	refs int
}

// ProctorHub 只向已注册的监考端广播违规事件与视频帧。
// 考生连接单独登记，只接收发给本人的提示（告警、计时同步、自动交卷），从不接收广播。
// 每个考生在本实例上最多一组检测器，由该考生的所有连接共用。
type ProctorHub struct {
	mu         sync.RWMutex
	observers  map[string]*Observer
	candidates map[string]map[string]*Observer
	monitors   map[string]*monitorEntry

	relay  Relay
	ctx    context.Context
	cancel context.CancelFunc

	framesDropped atomic.Uint64
}

func NewProctorHub(relay Relay) *ProctorHub {
	ctx, cancel := context.WithCancel(context.Background())
	return &ProctorHub{
		observers:  make(map[string]*Observer),
		candidates: make(map[string]map[string]*Observer),
		monitors:   make(map[string]*monitorEntry),
		relay:      relay,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// AttachCandidate 登记考生连接，同一考生可有多个连接
func (h *ProctorHub) AttachCandidate(candidateID string, o *Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.candidates[candidateID]
	if !ok {
		conns = make(map[string]*Observer)
		h.candidates[candidateID] = conns
	}
	conns[o.ID] = o
}

func (h *ProctorHub) DetachCandidate(candidateID string, o *Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.candidates[candidateID]; ok {
		delete(conns, o.ID)
		if len(conns) == 0 {
			delete(h.candidates, candidateID)
		}
	}
}

// AcquireMonitor 返回考生已有的检测器，没有时用 open 创建。
// open 拿到的 ctx 随 Hub 停止而取消，不随单个连接退出。
func (h *ProctorHub) AcquireMonitor(candidateID string, open func(ctx context.Context) *detector.Monitor) *detector.Monitor {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.monitors[candidateID]; ok {
		e.refs++
		return e.m
	}
	m := open(h.ctx)
	h.monitors[candidateID] = &monitorEntry{m: m, refs: 1}
	return m
}

// ReleaseMonitor 连接退出时调用，最后一个连接退出后关闭检测器。
// m 已被 CloseMonitor 替换或移除时不做任何事。
func (h *ProctorHub) ReleaseMonitor(candidateID string, m *detector.Monitor) {
	h.mu.Lock()
	e, ok := h.monitors[candidateID]
	if !ok || e.m != m {
		h.mu.Unlock()
		return
	}
	e.refs--
	if e.refs > 0 {
		h.mu.Unlock()
		return
	}
	delete(h.monitors, candidateID)
	h.mu.Unlock()
	m.Close()
}

// CloseMonitor 交卷后立即停止考生的检测器，不等连接退出
func (h *ProctorHub) CloseMonitor(candidateID string) {
	h.mu.Lock()
	e, ok := h.monitors[candidateID]
	delete(h.monitors, candidateID)
	h.mu.Unlock()
	if ok {
		e.m.Close()
	}
}

// Monitor 考生当前的检测器，没有时返回 nil
func (h *ProctorHub) Monitor(candidateID string) *detector.Monitor {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if e, ok := h.monitors[candidateID]; ok {
		return e.m
	}
	return nil
}

// NotifyCandidate 发给某个考生的所有连接
func (h *ProctorHub) NotifyCandidate(candidateID, msgType string, data interface{}, timeRemaining *int) {
	payload, err := json.Marshal(outboundMessage{Type: msgType, CandidateID: candidateID, Data: data, TimeRemaining: timeRemaining})
	if err != nil {
		logger.Log.Error("marshal candidate notice failed", zap.Error(err))
		return
	}
	h.dispatch("notify", candidateID, payload)
}

func (h *ProctorHub) Register(o *Observer) {
	h.mu.Lock()
	h.observers[o.ID] = o
	n := len(h.observers)
	h.mu.Unlock()
	monitoring.ProctorObservers.Set(float64(n))
	logger.Log.Info("proctor observer registered", zap.String("observerId", o.ID), zap.Uint("userId", o.UserID))
}

// Unregister 移除监考端，重复调用无副作用
func (h *ProctorHub) Unregister(o *Observer) {
	h.mu.Lock()
	_, ok := h.observers[o.ID]
	delete(h.observers, o.ID)
	n := len(h.observers)
	h.mu.Unlock()
	if ok {
		monitoring.ProctorObservers.Set(float64(n))
		logger.Log.Info("proctor observer removed", zap.String("observerId", o.ID))
	}
}

func (h *ProctorHub) ObserverCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

func (h *ProctorHub) FramesDropped() uint64 { return h.framesDropped.Load() }

// PublishEvent 广播一条已落库的监考日志
func (h *ProctorHub) PublishEvent(log *model.ProctorLog) {
	payload, err := json.Marshal(outboundMessage{Type: MsgProctorEvent, Data: log})
	if err != nil {
		logger.Log.Error("marshal proctor event failed", zap.Error(err))
		return
	}
	h.dispatch("event", log.CandidateID, payload)
}

// PublishFrame 广播考生视频帧，不落库
func (h *ProctorHub) PublishFrame(candidateID, frame string) {
	payload, err := json.Marshal(outboundMessage{Type: MsgVideoFrame, CandidateID: candidateID, Frame: frame})
	if err != nil {
		return
	}
	h.dispatch("frame", candidateID, payload)
}

func (h *ProctorHub) dispatch(kind, candidateID string, payload []byte) {
	if h.relay != nil {
		env, _ := json.Marshal(relayEnvelope{Kind: kind, CandidateID: candidateID, Payload: payload})
		if err := h.relay.Publish(h.ctx, env); err == nil {
			return
		} else {
			logger.Log.Warn("proctor relay publish failed, delivering locally", zap.Error(err))
		}
	}
	h.deliverLocal(kind, candidateID, payload)
}

func (h *ProctorHub) deliverLocal(kind, candidateID string, payload []byte) {
	if kind == "notify" {
		h.mu.RLock()
		for _, o := range h.candidates[candidateID] {
			o.offer(payload)
		}
		h.mu.RUnlock()
		return
	}

	var slow []*Observer

	h.mu.RLock()
	for _, o := range h.observers {
		if kind == "frame" {
			if o.offerFrame(candidateID, payload) {
				h.framesDropped.Add(1)
				monitoring.FramesDropped.Inc()
			}
			continue
		}
		if !o.offer(payload) {
			slow = append(slow, o)
		}
	}
	h.mu.RUnlock()

	// 队列写满的监考端视为失效，单独移除，不影响其他人
	for _, o := range slow {
		logger.Log.Warn("proctor observer too slow, disconnecting", zap.String("observerId", o.ID))
		h.Unregister(o)
		o.Close()
	}
}

// Run 订阅跨实例转发，阻塞直到 Stop
func (h *ProctorHub) Run() {
	if h.relay == nil {
		<-h.ctx.Done()
		return
	}
	ch, closeFn := h.relay.Subscribe(h.ctx)
	defer closeFn()
	for {
		select {
		case <-h.ctx.Done():
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}
			var env relayEnvelope
			if err := json.Unmarshal(raw, &env); err != nil {
				logger.Log.Error("proctor relay unmarshal error", zap.Error(err))
				continue
			}
			h.deliverLocal(env.Kind, env.CandidateID, env.Payload)
		}
	}
}

// Stop 断开所有监考端
func (h *ProctorHub) Stop() {
	h.cancel()
	h.mu.Lock()
	all := make([]*Observer, 0, len(h.observers))
	for id, o := range h.observers {
		all = append(all, o)
		delete(h.observers, id)
	}
	for id, conns := range h.candidates {
		for _, o := range conns {
			all = append(all, o)
		}
		delete(h.candidates, id)
	}
	monitors := make([]*detector.Monitor, 0, len(h.monitors))
	for id, e := range h.monitors {
		monitors = append(monitors, e.m)
		delete(h.monitors, id)
	}
	h.mu.Unlock()
	for _, m := range monitors {
		m.Close()
	}
	for _, o := range all {
		o.Close()
	}
	monitoring.ProctorObservers.Set(0)
	logger.Log.Info("ProctorHub stopped", zap.Int("closedConnections", len(all)))
}
