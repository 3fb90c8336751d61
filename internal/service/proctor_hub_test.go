package service

import (
	"context"
	"encoding/json"
	"errors"
	"exam_proctor_backend/internal/detector"
	"exam_proctor_backend/internal/model"
	"sync"
	"testing"
	"time"
)

func drain(o *Observer) []outboundMessage {
	var out []outboundMessage
	for {
		select {
		case raw := <-o.Send:
			var m outboundMessage
			_ = json.Unmarshal(raw, &m)
			out = append(out, m)
		default:
			return out
		}
	}
}

func sampleLog(candidateID string) *model.ProctorLog {
	return &model.ProctorLog{
		ID:          1,
		CandidateID: candidateID,
		EventType:   model.EventFaceAbsent,
		Severity:    model.SeverityHigh,
		Timestamp:   t0,
	}
}

func TestHubBroadcastToObservers(t *testing.T) {
	hub := NewProctorHub(nil)
	defer hub.Stop()
	a, b := NewObserver(1), NewObserver(2)
	hub.Register(a)
	hub.Register(b)
	if hub.ObserverCount() != 2 {
		t.Fatalf("ObserverCount() = %d, want 2", hub.ObserverCount())
	}

	hub.PublishEvent(sampleLog("cand-1"))
	for name, o := range map[string]*Observer{"a": a, "b": b} {
		msgs := drain(o)
		if len(msgs) != 1 || msgs[0].Type != MsgProctorEvent {
			t.Errorf("observer %s got %+v, want one proctor_event", name, msgs)
		}
	}

	hub.Unregister(a)
	hub.Unregister(a)
	hub.PublishEvent(sampleLog("cand-1"))
	if msgs := drain(a); len(msgs) != 0 {
		t.Errorf("unregistered observer received %d messages", len(msgs))
	}
	if msgs := drain(b); len(msgs) != 1 {
		t.Errorf("remaining observer received %d messages, want 1", len(msgs))
	}
}

func TestHubCandidatesNeverReceiveBroadcasts(t *testing.T) {
	hub := NewProctorHub(nil)
	defer hub.Stop()
	admin, cand, other := NewObserver(1), NewObserver(2), NewObserver(3)
	hub.Register(admin)
	hub.AttachCandidate("cand-1", cand)
	hub.AttachCandidate("cand-2", other)

	hub.PublishEvent(sampleLog("cand-1"))
	hub.PublishFrame("cand-1", "data:image/jpeg;base64,AAAA")
	if msgs := drain(cand); len(msgs) != 0 {
		t.Fatalf("candidate received broadcast: %+v", msgs)
	}
	if frames := cand.TakeFrames(); len(frames) != 0 {
		t.Fatalf("candidate received frames")
	}

	left := 42
	hub.NotifyCandidate("cand-1", MsgTimeSync, nil, &left)
	msgs := drain(cand)
	if len(msgs) != 1 || msgs[0].Type != MsgTimeSync || msgs[0].TimeRemaining == nil || *msgs[0].TimeRemaining != 42 {
		t.Errorf("candidate notice = %+v", msgs)
	}
	if msgs := drain(other); len(msgs) != 0 {
		t.Errorf("other candidate received %+v", msgs)
	}
	// 监考端只收到之前的一条事件
	if msgs := drain(admin); len(msgs) != 1 {
		t.Errorf("admin received %d events, want 1", len(msgs))
	}

	hub.DetachCandidate("cand-1", cand)
	hub.NotifyCandidate("cand-1", MsgTimeSync, nil, &left)
	if msgs := drain(cand); len(msgs) != 0 {
		t.Errorf("detached candidate received %+v", msgs)
	}
}

func TestHubFrameLastValueWins(t *testing.T) {
	hub := NewProctorHub(nil)
	defer hub.Stop()
	o := NewObserver(1)
	hub.Register(o)

	hub.PublishFrame("cand-1", "frame-1")
	hub.PublishFrame("cand-1", "frame-2")
	hub.PublishFrame("cand-1", "frame-3")
	hub.PublishFrame("cand-2", "other-1")

	select {
	case <-o.FrameReady():
	default:
		t.Fatal("FrameReady not signalled")
	}
	frames := o.TakeFrames()
	if len(frames) != 2 {
		t.Fatalf("pending frames = %d, want one per candidate", len(frames))
	}
	got := make(map[string]string)
	for _, raw := range frames {
		var m outboundMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		got[m.CandidateID] = m.Frame
	}
	if got["cand-1"] != "frame-3" || got["cand-2"] != "other-1" {
		t.Errorf("frames = %v, want latest per candidate", got)
	}
	if hub.FramesDropped() != 2 {
		t.Errorf("FramesDropped() = %d, want 2", hub.FramesDropped())
	}
	if len(drain(o)) != 0 {
		t.Error("frames must not use the event queue")
	}
}

func TestHubEvictsSlowObserver(t *testing.T) {
	hub := NewProctorHub(nil)
	defer hub.Stop()
	slow, fast := NewObserver(1), NewObserver(2)
	hub.Register(slow)
	hub.Register(fast)

	for i := 0; i < observerBuffer; i++ {
		hub.PublishEvent(sampleLog("cand-1"))
		drain(fast)
	}
	// 慢监考端队列已满
	hub.PublishEvent(sampleLog("cand-1"))

	select {
	case <-slow.Done():
	default:
		t.Fatal("slow observer was not closed")
	}
	if hub.ObserverCount() != 1 {
		t.Errorf("ObserverCount() = %d, want 1", hub.ObserverCount())
	}
	if msgs := drain(fast); len(msgs) != 1 {
		t.Errorf("fast observer received %d, want 1", len(msgs))
	}
}

func TestHubConcurrentRegisterAndPublish(t *testing.T) {
	hub := NewProctorHub(nil)
	defer hub.Stop()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			o := NewObserver(uint(i))
			hub.Register(o)
			drain(o)
			hub.Unregister(o)
			o.Close()
		}(i)
		go func() {
			defer wg.Done()
			hub.PublishEvent(sampleLog("cand-1"))
			hub.PublishFrame("cand-1", "f")
		}()
	}
	wg.Wait()
	if hub.ObserverCount() != 0 {
		t.Errorf("ObserverCount() = %d, want 0", hub.ObserverCount())
	}
}

// chanRelay 进程内模拟 redis 频道，两个 Hub 共用
type chanRelay struct {
	mu   sync.Mutex
	subs []chan []byte
	fail bool
}

func (r *chanRelay) Publish(ctx context.Context, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("relay down")
	}
	for _, s := range r.subs {
		s <- payload
	}
	return nil
}

func (r *chanRelay) Subscribe(ctx context.Context) (<-chan []byte, func() error) {
	ch := make(chan []byte, 16)
	r.mu.Lock()
	r.subs = append(r.subs, ch)
	r.mu.Unlock()
	return ch, func() error { return nil }
}

func waitMessages(t *testing.T, o *Observer, want int) []outboundMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var got []outboundMessage
	for time.Now().Before(deadline) {
		got = append(got, drain(o)...)
		if len(got) >= want {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("received %d messages, want %d", len(got), want)
	return nil
}

func TestHubRelayAcrossInstances(t *testing.T) {
	relay := &chanRelay{}
	h1, h2 := NewProctorHub(relay), NewProctorHub(relay)
	defer h1.Stop()
	defer h2.Stop()

	o1, o2 := NewObserver(1), NewObserver(2)
	h1.Register(o1)
	h2.Register(o2)
	cand := NewObserver(3)
	h2.AttachCandidate("cand-1", cand)

	go h1.Run()
	go h2.Run()
	for {
		relay.mu.Lock()
		n := len(relay.subs)
		relay.mu.Unlock()
		if n == 2 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	h1.PublishEvent(sampleLog("cand-1"))
	waitMessages(t, o1, 1)
	waitMessages(t, o2, 1)

	h1.NotifyCandidate("cand-1", MsgAutoSubmitted, nil, nil)
	if msgs := waitMessages(t, cand, 1); msgs[0].Type != MsgAutoSubmitted {
		t.Errorf("candidate notice = %s, want %s", msgs[0].Type, MsgAutoSubmitted)
	}

	relay.mu.Lock()
	relay.fail = true
	relay.mu.Unlock()
	h1.PublishEvent(sampleLog("cand-1"))
	// 转发失败时仍在本地投递
	waitMessages(t, o1, 1)
}

func TestHubMonitorLifecycle(t *testing.T) {
	hub := NewProctorHub(nil)
	opened := 0
	open := func(ctx context.Context) *detector.Monitor {
		opened++
		return detector.NewMonitor(ctx, detector.Options{TabDetection: true}, nil)
	}

	a := hub.AcquireMonitor("cand-1", open)
	b := hub.AcquireMonitor("cand-1", open)
	if a != b || opened != 1 {
		t.Fatalf("opened %d monitors for one candidate, want 1", opened)
	}
	hub.AcquireMonitor("cand-2", open)
	if opened != 2 {
		t.Fatalf("opened = %d, want one per candidate", opened)
	}

	// 交卷关闭后，旧连接归还的是已失效的检测器，不能影响新开的
	hub.CloseMonitor("cand-1")
	if hub.Monitor("cand-1") != nil {
		t.Fatal("CloseMonitor left the monitor registered")
	}
	c := hub.AcquireMonitor("cand-1", open)
	hub.ReleaseMonitor("cand-1", a)
	hub.ReleaseMonitor("cand-1", b)
	if hub.Monitor("cand-1") != c {
		t.Fatal("stale release closed the new monitor")
	}
	hub.ReleaseMonitor("cand-1", c)
	if hub.Monitor("cand-1") != nil {
		t.Error("monitor kept after its last release")
	}

	hub.Stop()
	if hub.Monitor("cand-2") != nil {
		t.Error("Stop left monitors running")
	}
}
