package service

import (
	"context"
	"errors"
	"exam_proctor_backend/internal/model"
	"exam_proctor_backend/internal/util"
	"exam_proctor_backend/pkg/logger"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AdminService 监考端操作：分配考生、允许重考、查看日志与考试报表
type AdminService struct {
	Sessions *SessionService
	Users    UserStore
}

func NewAdminService(sessions *SessionService, users UserStore) *AdminService {
	return &AdminService{Sessions: sessions, Users: users}
}

type AssignRequest struct {
	UserID uint `json:"userId" binding:"required"`
}

// newSeed 种子在分配时生成一次，之后不再变化（重考另有规则）
func newSeed() string {
	return uuid.New().String()
}

// Assign 为用户分配考试，生成并固定随机种子
func (s *AdminService) Assign(ctx context.Context, examID string, req AssignRequest) (*model.Candidate, error) {
	exam, err := s.Sessions.Exams.FindExamByID(ctx, examID)
	if err != nil {
		return nil, err
	}
	if exam.Status == model.ExamArchived {
		return nil, util.ErrExamNotActive
	}
	user, err := s.Users.FindUserByID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if user.Role != model.RoleCandidate {
		return nil, fmt.Errorf("%w: user %d is not a candidate", util.ErrPermissionDenied, user.ID)
	}

	_, err = s.Sessions.Candidates.FindCandidateByUserAndExam(ctx, user.ID, exam.ID)
	if err == nil {
		return nil, util.ErrCandidateAssigned
	} else if !errors.Is(err, util.ErrCandidateNotFound) {
		return nil, err
	}

	c := &model.Candidate{
		UserID:     user.ID,
		ExamID:     exam.ID,
		RandomSeed: newSeed(),
		Status:     model.CandidateAssigned,
		Attempt:    1,
	}
	if err := s.Sessions.Candidates.CreateCandidate(ctx, c); err != nil {
		return nil, fmt.Errorf("create candidate: %w", err)
	}
	logger.Log.Info("candidate assigned", zap.String("candidateId", c.ID), zap.String("examId", exam.ID), zap.Uint("userId", user.ID))
	return c, nil
}

// Retake 允许已交卷的考生重考：在同一事务中清空作答、开始/结束时间与成绩。
// 之前作答的监考日志保留，按 attempt 区分。
// 默认为新一次作答生成新种子，proctoring.retake_reuse_seed 为 true 时沿用原种子。
func (s *AdminService) Retake(ctx context.Context, candidateID string) (*model.Candidate, error) {
	c, err := s.Sessions.Candidates.FindCandidateByID(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	if !c.Status.Finished() {
		return nil, util.ErrRetakeNotAllowed
	}

	seed := c.RandomSeed
	if !s.Sessions.Settings.Get().RetakeReuseSeed {
		seed = newSeed()
	}
	if err := s.Sessions.Candidates.ResetForRetake(ctx, c.ID, seed); err != nil {
		if errors.Is(err, util.ErrRetakeNotAllowed) {
			return nil, err
		}
		return nil, fmt.Errorf("reset candidate: %w", err)
	}
	s.Sessions.Timer.Disarm(c.ID)

	logger.Log.Info("retake granted", zap.String("candidateId", c.ID), zap.Bool("seedRotated", seed != c.RandomSeed))
	return s.Sessions.Candidates.FindCandidateByID(ctx, c.ID)
}

// Logs 考生的全部监考日志
func (s *AdminService) Logs(ctx context.Context, candidateID string) ([]model.ProctorLog, error) {
	return s.Sessions.Proctor.ListLogs(ctx, candidateID)
}

// Preview 带正确答案的考生试卷
func (s *AdminService) Preview(ctx context.Context, candidateID string) (*SessionView, error) {
	return s.Sessions.Preview(ctx, candidateID)
}

type ReportEntry struct {
	CandidateID string                         `json:"candidateId"`
	UserID      uint                           `json:"userId"`
	Status      model.CandidateStatus          `json:"status"`
	Attempt     int                            `json:"attempt"`
	Violations  map[model.ProctorEventType]int `json:"violations"`
	Breakdown   *ScoreBreakdown                `json:"breakdown,omitempty"`
}

type ExamReport struct {
	ExamID         string               `json:"examId"`
	Title          string               `json:"title"`
	ProctoringMode model.ProctoringMode `json:"proctoringMode"`
	Candidates     []ReportEntry        `json:"candidates"`
}

// Report 考试报表，违规统计与扣分只看考生当前这次作答，与成绩页使用同一规则
func (s *AdminService) Report(ctx context.Context, examID string) (*ExamReport, error) {
	exam, err := s.Sessions.Exams.FindExamByID(ctx, examID)
	if err != nil {
		return nil, err
	}
	candidates, err := s.Sessions.Candidates.ListCandidatesByExam(ctx, exam.ID)
	if err != nil {
		return nil, err
	}
	penalty := s.Sessions.Settings.Get().PenaltyPerViolation

	report := &ExamReport{
		ExamID:         exam.ID,
		Title:          exam.Title,
		ProctoringMode: exam.ProctoringMode,
		Candidates:     make([]ReportEntry, 0, len(candidates)),
	}
	for _, c := range candidates {
		logs, err := s.Sessions.Proctor.Logs.ListLogs(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		logs = AttemptLogs(logs, c.Attempt)
		entry := ReportEntry{
			CandidateID: c.ID,
			UserID:      c.UserID,
			Status:      c.Status,
			Attempt:     c.Attempt,
			Violations:  make(map[model.ProctorEventType]int),
		}
		for _, l := range logs {
			if !l.EventType.IsLifecycle() {
				entry.Violations[l.EventType]++
			}
		}
		if c.Status.Finished() && c.Score != nil {
			b := Breakdown(*c.Score, logs, exam.ProctoringMode, penalty)
			entry.Breakdown = &b
		}
		report.Candidates = append(report.Candidates, entry)
	}
	return report, nil
}
