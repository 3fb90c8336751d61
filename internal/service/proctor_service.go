package service

import (
	"context"
	"encoding/json"
	"exam_proctor_backend/internal/detector"
	"exam_proctor_backend/internal/model"
	"exam_proctor_backend/internal/util"
	"exam_proctor_backend/pkg/logger"
	"exam_proctor_backend/pkg/monitoring"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ProctorService 监考日志：校验、落库、计数，再交给 Hub 广播
type ProctorService struct {
	Logs       ProctorLogStore
	Candidates CandidateStore
	Hub        *ProctorHub
	Settings   *ProctorSettings
	now        func() time.Time
}

func NewProctorService(logs ProctorLogStore, candidates CandidateStore, hub *ProctorHub, settings *ProctorSettings) *ProctorService {
	return &ProctorService{
		Logs:       logs,
		Candidates: candidates,
		Hub:        hub,
		Settings:   settings,
		now:        time.Now,
	}
}

// RecordLogRequest 客户端上报的监考事件
type RecordLogRequest struct {
	EventType string          `json:"eventType" binding:"required,proctor_event"`
	Severity  string          `json:"severity" binding:"omitempty,severity"`
	Metadata  json.RawMessage `json:"metadata" swaggertype:"object"`
}

// Record 追加一条监考日志，记在考生当前的作答次数下。severity 为空时使用事件类型的默认级别。
func (s *ProctorService) Record(ctx context.Context, candidateID string, eventType model.ProctorEventType, severity model.Severity, md model.ProctorMetadata) (*model.ProctorLog, error) {
	c, err := s.Candidates.FindCandidateByID(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	return s.record(ctx, c, eventType, severity, md, s.now())
}

func (s *ProctorService) record(ctx context.Context, c *model.Candidate, eventType model.ProctorEventType, severity model.Severity, md model.ProctorMetadata, at time.Time) (*model.ProctorLog, error) {
	if !eventType.Valid() {
		return nil, fmt.Errorf("%w: %q", util.ErrInvalidEventType, eventType)
	}
	if severity == "" {
		severity = eventType.DefaultSeverity()
	}
	if !severity.Valid() {
		return nil, fmt.Errorf("%w: %q", util.ErrInvalidSeverity, severity)
	}
	raw, err := model.EncodeMetadata(md)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrInvalidMetadata, err)
	}

	entry := &model.ProctorLog{
		CandidateID: c.ID,
		Attempt:     c.Attempt,
		EventType:   eventType,
		Severity:    severity,
		Timestamp:   at,
		Metadata:    raw,
	}
	if err := s.Logs.AppendLog(ctx, entry); err != nil {
		return nil, fmt.Errorf("append proctor log: %w", err)
	}

	monitoring.ProctorEvents.WithLabelValues(string(eventType), string(severity)).Inc()
	logger.Candidate(c.ID, c.Attempt).Info("proctor event recorded",
		zap.String("eventType", string(eventType)),
		zap.String("severity", string(severity)))

	if s.Hub != nil {
		s.Hub.PublishEvent(entry)
	}
	return entry, nil
}

// RecordFromClient 处理考生端上报，只接受本人进行中的考试
func (s *ProctorService) RecordFromClient(ctx context.Context, viewer Viewer, candidateID string, req RecordLogRequest) (*model.ProctorLog, error) {
	c, err := loadOwned(ctx, s.Candidates, viewer, candidateID)
	if err != nil {
		return nil, err
	}
	if c.Status != model.CandidateInProgress {
		if c.Status.Finished() {
			return nil, util.ErrAlreadySubmitted
		}
		return nil, util.ErrExamNotStarted
	}

	eventType := model.ProctorEventType(req.EventType)
	if !eventType.Valid() {
		return nil, fmt.Errorf("%w: %q", util.ErrInvalidEventType, req.EventType)
	}
	// 开始/交卷事件只由服务端写入
	if eventType.IsLifecycle() {
		return nil, fmt.Errorf("%w: %q is recorded by the server", util.ErrInvalidEventType, req.EventType)
	}
	md, err := model.DecodeMetadata(eventType, req.Metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrInvalidMetadata, err)
	}
	return s.record(ctx, c, eventType, model.Severity(req.Severity), md, s.now())
}

// ListLogs 按写入顺序返回考生的监考日志
func (s *ProctorService) ListLogs(ctx context.Context, candidateID string) ([]model.ProctorLog, error) {
	if _, err := s.Candidates.FindCandidateByID(ctx, candidateID); err != nil {
		return nil, err
	}
	return s.Logs.ListLogs(ctx, candidateID)
}

// AttachMonitor 为考生的实时连接取得检测器，同一考生的多个连接共用一组。
// 调用方在连接退出时通过 Hub.ReleaseMonitor 归还；交卷时 SessionService 直接关闭。
func (s *ProctorService) AttachMonitor(candidate *model.Candidate, exam *model.Exam) *detector.Monitor {
	open := func(ctx context.Context) *detector.Monitor {
		return s.openMonitor(ctx, candidate.ID, exam)
	}
	if s.Hub == nil {
		return open(context.Background())
	}
	return s.Hub.AcquireMonitor(candidate.ID, open)
}

// openMonitor 确认的违规写入日志，需要考生处理的动作和降级告警通过 Hub 发回考生。
// 考生已不在作答中时丢弃违规事件，交卷后的日志不再变化。
func (s *ProctorService) openMonitor(ctx context.Context, candidateID string, exam *model.Exam) *detector.Monitor {
	opts := detector.Options{
		Webcam:       exam.EnableWebcam,
		TabDetection: exam.EnableTabDetection,
		Thresholds:   s.Settings.Thresholds(),
	}

	sink := func(kind detector.Kind, res detector.Result) {
		if len(res.Events) > 0 {
			s.recordDetected(ctx, candidateID, res.Events)
		}
		if s.Hub == nil {
			return
		}
		for _, a := range res.Actions {
			if a == detector.ActionRequestFullscreen {
				s.Hub.NotifyCandidate(candidateID, MsgRequestFullscreen, nil, nil)
			}
		}
		if res.Warning != nil {
			logger.Log.Warn("proctoring sensor degraded",
				zap.String("candidateId", candidateID),
				zap.String("kind", string(kind)),
				zap.Error(res.Warning))
			s.Hub.NotifyCandidate(candidateID, MsgProctorWarning, gin.H{
				"kind":    kind,
				"message": fmt.Errorf("%w: %v", util.ErrMediaUnavailable, res.Warning).Error(),
			}, nil)
		}
	}
	return detector.NewMonitor(ctx, opts, sink)
}

func (s *ProctorService) recordDetected(ctx context.Context, candidateID string, events []detector.Event) {
	c, err := s.Candidates.FindCandidateByID(ctx, candidateID)
	if err != nil {
		logger.Log.Error("load candidate for detector event failed", zap.String("candidateId", candidateID), zap.Error(err))
		return
	}
	if c.Status != model.CandidateInProgress {
		logger.Log.Debug("detector events dropped",
			zap.String("candidateId", candidateID),
			zap.String("status", string(c.Status)),
			zap.Int("count", len(events)))
		return
	}
	for _, ev := range events {
		if _, err := s.record(ctx, c, ev.Type, ev.Severity, ev.Metadata, ev.At); err != nil {
			logger.Log.Error("record detector event failed", zap.String("candidateId", candidateID), zap.Error(err))
		}
	}
}
