package service

import (
	"context"
	"encoding/json"
	"errors"
	"exam_proctor_backend/internal/detector"
	"exam_proctor_backend/internal/model"
	"exam_proctor_backend/internal/util"
	"testing"
)

func TestRecordDefaultsSeverity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tests := []struct {
		event model.ProctorEventType
		want  model.Severity
	}{
		{model.EventFaceAbsent, model.SeverityHigh},
		{model.EventMultipleFaces, model.SeverityHigh},
		{model.EventBackgroundNoise, model.SeverityMedium},
		{model.EventVoiceAbsence, model.SeverityLow},
		{model.EventTabSwitch, model.SeverityMedium},
		{model.EventFullscreenExit, model.SeverityHigh},
	}
	for _, tt := range tests {
		l, err := f.proctor.Record(ctx, "cand-1", tt.event, "", nil)
		if err != nil {
			t.Fatalf("Record(%s) error = %v", tt.event, err)
		}
		if l.Severity != tt.want {
			t.Errorf("Record(%s) severity = %s, want %s", tt.event, l.Severity, tt.want)
		}
		if !l.Timestamp.Equal(t0) {
			t.Errorf("timestamp = %v, want server time %v", l.Timestamp, t0)
		}
	}
}

func TestRecordRejectsInvalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.proctor.Record(ctx, "cand-1", "phone_detected", "", nil); !errors.Is(err, util.ErrInvalidEventType) {
		t.Errorf("err = %v, want ErrInvalidEventType", err)
	}
	if _, err := f.proctor.Record(ctx, "cand-1", model.EventTabSwitch, "critical", nil); !errors.Is(err, util.ErrInvalidSeverity) {
		t.Errorf("err = %v, want ErrInvalidSeverity", err)
	}
	if logs, _ := f.store.ListLogs(ctx, "cand-1"); len(logs) != 0 {
		t.Errorf("invalid events were stored: %+v", logs)
	}
}

func TestRecordPublishesToObservers(t *testing.T) {
	f := newFixture(t)
	obs := NewObserver(teacherID)
	f.hub.Register(obs)

	if _, err := f.proctor.Record(context.Background(), "cand-1", model.EventMultipleFaces, "", model.FaceMetadata{Kind: model.EventMultipleFaces, FaceCount: 2}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	msgs := drain(obs)
	if len(msgs) != 1 || msgs[0].Type != MsgProctorEvent {
		t.Fatalf("observer messages = %+v", msgs)
	}
	raw, _ := json.Marshal(msgs[0].Data)
	var l model.ProctorLog
	if err := json.Unmarshal(raw, &l); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if l.CandidateID != "cand-1" || l.EventType != model.EventMultipleFaces {
		t.Errorf("broadcast = %+v", l)
	}
	var md model.FaceMetadata
	if err := json.Unmarshal(l.Metadata, &md); err != nil || md.FaceCount != 2 {
		t.Errorf("metadata = %s, want faceCount 2", l.Metadata)
	}
}

func TestRecordFromClient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := RecordLogRequest{EventType: string(model.EventTabSwitch)}

	if _, err := f.proctor.RecordFromClient(ctx, f.owner, "cand-1", req); !errors.Is(err, util.ErrExamNotStarted) {
		t.Fatalf("before start err = %v, want ErrExamNotStarted", err)
	}
	f.start(t)

	tests := []struct {
		name string
		v    Viewer
		req  RecordLogRequest
		want error
	}{
		{"not owner", Viewer{UserID: strangerID, Role: model.RoleCandidate}, req, util.ErrSessionNotOwned},
		{"lifecycle event", f.owner, RecordLogRequest{EventType: string(model.EventExamComplete)}, util.ErrInvalidEventType},
		{"unknown event", f.owner, RecordLogRequest{EventType: "gaze_away"}, util.ErrInvalidEventType},
		{"metadata mismatch", f.owner, RecordLogRequest{EventType: string(model.EventFaceAbsent), Metadata: json.RawMessage(`{"amplitude":0.9}`)}, util.ErrInvalidMetadata},
		{"bad severity", f.owner, RecordLogRequest{EventType: string(model.EventTabSwitch), Severity: "urgent"}, util.ErrInvalidSeverity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.proctor.RecordFromClient(ctx, tt.v, "cand-1", tt.req); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	l, err := f.proctor.RecordFromClient(ctx, f.owner, "cand-1", RecordLogRequest{
		EventType: string(model.EventBackgroundNoise),
		Severity:  string(model.SeverityHigh),
		Metadata:  json.RawMessage(`{"amplitude":0.8,"durationMs":3000}`),
	})
	if err != nil {
		t.Fatalf("RecordFromClient() error = %v", err)
	}
	if l.Severity != model.SeverityHigh {
		t.Errorf("severity = %s, want explicit high", l.Severity)
	}

	if _, err := f.sessions.Submit(ctx, f.owner, "cand-1", false); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := f.proctor.RecordFromClient(ctx, f.owner, "cand-1", req); !errors.Is(err, util.ErrAlreadySubmitted) {
		t.Errorf("after submit err = %v, want ErrAlreadySubmitted", err)
	}
}

func TestAttachMonitorRecordsAndNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t)

	cand, _ := f.store.FindCandidateByID(ctx, "cand-1")
	exam, _ := f.store.FindExamByID(ctx, "exam-1")
	notices := NewObserver(ownerID)
	f.hub.AttachCandidate("cand-1", notices)

	m := f.proctor.AttachMonitor(cand, exam)
	defer f.hub.ReleaseMonitor("cand-1", m)
	if err := m.Feed(detector.Sample{Kind: detector.KindFullscreen, At: t0, Fullscreen: false}); err != nil {
		t.Fatalf("Feed() error = %v", err)
	}
	if err := m.Feed(detector.Sample{Kind: "gaze"}); err == nil {
		t.Error("unknown signal kind accepted")
	}

	msgs := waitMessages(t, notices, 1)
	if msgs[0].Type != MsgRequestFullscreen {
		t.Errorf("candidate notice = %s, want %s", msgs[0].Type, MsgRequestFullscreen)
	}
	if n := f.store.countLogs("cand-1", model.EventFullscreenExit); n != 1 {
		t.Fatalf("fullscreen_exit logged %d times, want 1", n)
	}
}

func TestSubmitFreezesProctorLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.exams["exam-1"].ProctoringMode = model.ProctoringNegativeMarking
	f.start(t)
	f.answer(t, "q4", "4")

	cand, _ := f.store.FindCandidateByID(ctx, "cand-1")
	exam, _ := f.store.FindExamByID(ctx, "exam-1")
	notices := NewObserver(ownerID)
	f.hub.AttachCandidate("cand-1", notices)

	live := f.proctor.AttachMonitor(cand, exam)
	defer f.hub.ReleaseMonitor("cand-1", live)
	if _, err := f.sessions.Submit(ctx, f.owner, "cand-1", false); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if f.hub.Monitor("cand-1") != nil {
		t.Fatal("detectors still running after submit")
	}

	// 连接在交卷前拿到的考生记录仍是 in_progress，检测结果必须按最新状态丢弃
	late := f.proctor.AttachMonitor(cand, exam)
	defer f.hub.ReleaseMonitor("cand-1", late)
	for i := 0; i < 5; i++ {
		late.Feed(detector.Sample{Kind: detector.KindFullscreen, At: t0, Fullscreen: false})
		late.Feed(detector.Sample{Kind: detector.KindFullscreen, At: t0, Fullscreen: true})
	}
	waitMessages(t, notices, 5)

	if n := f.store.countLogs("cand-1", model.EventFullscreenExit); n != 0 {
		t.Errorf("fullscreen_exit logged %d times after submit, want 0", n)
	}
	logs, _ := f.store.ListLogs(ctx, "cand-1")
	if last := logs[len(logs)-1]; last.EventType != model.EventExamComplete {
		t.Errorf("last log = %s, want exam_complete", last.EventType)
	}
	res, err := f.sessions.Result(ctx, f.owner, "cand-1")
	if err != nil {
		t.Fatalf("Result() error = %v", err)
	}
	if res.Breakdown.DisplayedScore != 100 || res.Breakdown.HighViolations != 0 {
		t.Errorf("breakdown = %+v, want untouched 100", res.Breakdown)
	}
}

func TestCandidateConnectionsShareMonitor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t)

	cand, _ := f.store.FindCandidateByID(ctx, "cand-1")
	exam, _ := f.store.FindExamByID(ctx, "exam-1")
	notices := NewObserver(ownerID)
	f.hub.AttachCandidate("cand-1", notices)

	tab1 := f.proctor.AttachMonitor(cand, exam)
	tab2 := f.proctor.AttachMonitor(cand, exam)
	if tab1 != tab2 {
		t.Fatal("second connection got its own detectors")
	}

	// 两个标签页同时报告退出全屏只算一次违规
	tab1.Feed(detector.Sample{Kind: detector.KindFullscreen, At: t0, Fullscreen: false})
	tab2.Feed(detector.Sample{Kind: detector.KindFullscreen, At: t0, Fullscreen: false})
	tab1.Feed(detector.Sample{Kind: detector.KindFullscreen, At: t0, Fullscreen: true})
	tab2.Feed(detector.Sample{Kind: detector.KindFullscreen, At: t0, Fullscreen: false})
	waitMessages(t, notices, 2)
	if n := f.store.countLogs("cand-1", model.EventFullscreenExit); n != 2 {
		t.Errorf("fullscreen_exit logged %d times, want 2", n)
	}

	f.hub.ReleaseMonitor("cand-1", tab1)
	if f.hub.Monitor("cand-1") == nil {
		t.Fatal("monitor closed while another connection still uses it")
	}
	f.hub.ReleaseMonitor("cand-1", tab2)
	if f.hub.Monitor("cand-1") != nil {
		t.Error("monitor kept after last connection left")
	}
}
