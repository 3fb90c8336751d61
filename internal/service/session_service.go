package service

import (
	"context"
	"errors"
	"exam_proctor_backend/internal/model"
	"exam_proctor_backend/internal/util"
	"exam_proctor_backend/pkg/logger"
	"exam_proctor_backend/pkg/monitoring"
	"exam_proctor_backend/pkg/tracing"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	TriggerManual     = "manual"
	TriggerClientAuto = "client_auto"
	TriggerTimer      = "timer"
	TriggerSweeper    = "sweeper"
	TriggerReconcile  = "reconcile"

	sweepLockKey = "proctor:sweep"
)

// Viewer 当前请求的用户
type Viewer struct {
	UserID uint
	Role   model.UserRole
}

func ViewerFromClaims(claims *util.Claims) Viewer {
	return Viewer{UserID: claims.UserID, Role: claims.Role}
}

// SweepLock 多实例部署时保证同一时刻只有一个实例扫描超时考生
type SweepLock interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// QuestionView 下发给考生的题目，正确答案只在管理端预览中出现
type QuestionView struct {
	ID            string             `json:"id"`
	Type          model.QuestionType `json:"type"`
	Content       string             `json:"content"`
	Options       []string           `json:"options"`
	OptionOrder   []int              `json:"optionOrder"`
	CorrectAnswer string             `json:"correctAnswer,omitempty"`
}

// ResponseView 考生作答，不包含判分结果
type ResponseView struct {
	QuestionID     string    `json:"questionId"`
	SelectedAnswer string    `json:"selectedAnswer"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type SessionView struct {
	CandidateID         string                `json:"candidateId"`
	ExamID              string                `json:"examId"`
	ExamTitle           string                `json:"examTitle"`
	Duration            int                   `json:"duration"`
	Status              model.CandidateStatus `json:"status"`
	Attempt             int                   `json:"attempt"`
	StartedAt           *time.Time            `json:"startedAt"`
	RandomizedQuestions []QuestionView        `json:"randomizedQuestions"`
	Responses           []ResponseView        `json:"responses"`
	TimeRemaining       int                   `json:"timeRemaining"`
	EnableWebcam        bool                  `json:"enableWebcam"`
	EnableTabDetection  bool                  `json:"enableTabDetection"`
}

type SaveResponseRequest struct {
	QuestionID     string `json:"questionId" binding:"required"`
	SelectedAnswer string `json:"selectedAnswer" binding:"required"`
}

type SubmitRequest struct {
	Auto bool `json:"auto"`
}

type SubmitResult struct {
	Score       int                   `json:"score"`
	Status      model.CandidateStatus `json:"status"`
	CompletedAt *time.Time            `json:"completedAt"`
}

// ResultView 成绩页。Released 为 false 时不含分数
type ResultView struct {
	CandidateID string                `json:"candidateId"`
	ExamTitle   string                `json:"examTitle"`
	Status      model.CandidateStatus `json:"status"`
	CompletedAt *time.Time            `json:"completedAt"`
	Released    bool                  `json:"released"`
	Answered    int                   `json:"answered"`
	Correct     int                   `json:"correct,omitempty"`
	Breakdown   *ScoreBreakdown       `json:"breakdown,omitempty"`
}

type SessionService struct {
	Exams      ExamStore
	Candidates CandidateStore
	Responses  ResponseStore
	Proctor    *ProctorService
	Settings   *ProctorSettings
	Timer      *ExamTimer
	Lock       SweepLock
	now        func() time.Time
}

func NewSessionService(exams ExamStore, candidates CandidateStore, responses ResponseStore, proctor *ProctorService, settings *ProctorSettings) *SessionService {
	s := &SessionService{
		Exams:      exams,
		Candidates: candidates,
		Responses:  responses,
		Proctor:    proctor,
		Settings:   settings,
		now:        time.Now,
	}
	s.Timer = NewExamTimer(s.clock, s.onDeadline)
	return s
}

func (s *SessionService) clock() time.Time { return s.now() }

func loadOwned(ctx context.Context, store CandidateStore, v Viewer, candidateID string) (*model.Candidate, error) {
	c, err := store.FindCandidateByID(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	if c.UserID != v.UserID {
		return nil, util.ErrSessionNotOwned
	}
	return c, nil
}

// remaining 未开始时为完整时长
func (s *SessionService) remaining(exam *model.Exam, c *model.Candidate) int {
	switch {
	case c.Status.Finished():
		return 0
	case c.StartedAt == nil:
		return exam.Duration * 60
	}
	return RemainingSeconds(exam.Duration, *c.StartedAt, s.now())
}

// Remaining 考生剩余秒数，供实时通道做计时同步
func (s *SessionService) Remaining(ctx context.Context, candidateID string) (int, error) {
	c, err := s.Candidates.FindCandidateByID(ctx, candidateID)
	if err != nil {
		return 0, err
	}
	exam, err := s.Exams.FindExamByID(ctx, c.ExamID)
	if err != nil {
		return 0, err
	}
	return s.remaining(exam, c), nil
}

// arm 为进行中的考生设置到期定时器
func (s *SessionService) arm(exam *model.Exam, c *model.Candidate) {
	if c.StartedAt == nil {
		return
	}
	s.Timer.Arm(c.ID, Deadline(exam.Duration, *c.StartedAt))
}

func (s *SessionService) loadPool(ctx context.Context, exam *model.Exam) ([]model.Question, error) {
	questions, links, err := s.Exams.ListExamQuestions(ctx, exam.ID)
	if err != nil {
		return nil, err
	}
	order := make(map[string]int, len(links))
	for _, l := range links {
		order[l.QuestionID] = l.Order
	}
	sortPool(questions, order)
	return questions, nil
}

func (s *SessionService) buildView(ctx context.Context, c *model.Candidate, exam *model.Exam) ([]RandomizedQuestion, error) {
	pool, err := s.loadPool(ctx, exam)
	if err != nil {
		return nil, err
	}
	view, err := BuildView(c.RandomSeed, pool, exam.QuestionCount)
	if err != nil {
		logger.Log.Error("exam question pool is empty",
			zap.String("examId", exam.ID),
			zap.String("candidateId", c.ID))
		return view, fmt.Errorf("exam %s: %w", exam.ID, err)
	}
	return view, nil
}

func questionViews(view []RandomizedQuestion, withAnswerKey bool) []QuestionView {
	out := make([]QuestionView, len(view))
	for i, rq := range view {
		qv := QuestionView{
			ID:          rq.Question.ID,
			Type:        rq.Question.Type,
			Content:     rq.Question.Content,
			Options:     rq.DisplayOptions(),
			OptionOrder: rq.OptionOrder,
		}
		if withAnswerKey {
			qv.CorrectAnswer = rq.Question.CorrectAnswer
		}
		out[i] = qv
	}
	return out
}

func responseViews(rs []model.Response) []ResponseView {
	out := make([]ResponseView, len(rs))
	for i, r := range rs {
		out[i] = ResponseView{QuestionID: r.QuestionID, SelectedAnswer: r.SelectedAnswer, UpdatedAt: r.UpdatedAt}
	}
	return out
}

// reconcile 进行中且服务端计时已到 0 时立即自动交卷，返回最新的考生记录
func (s *SessionService) reconcile(ctx context.Context, c *model.Candidate, exam *model.Exam) (*model.Candidate, error) {
	if c.Status != model.CandidateInProgress {
		return c, nil
	}
	if s.remaining(exam, c) > 0 {
		if !s.Timer.Armed(c.ID) {
			s.arm(exam, c)
		}
		return c, nil
	}
	if _, err := s.finish(ctx, c, exam, model.CandidateAutoSubmitted, TriggerReconcile); err != nil {
		return nil, err
	}
	return s.Candidates.FindCandidateByID(ctx, c.ID)
}

// GetSession 返回考生的个性化试卷、已保存作答和服务端剩余时间
func (s *SessionService) GetSession(ctx context.Context, v Viewer, candidateID string) (*SessionView, error) {
	c, err := loadOwned(ctx, s.Candidates, v, candidateID)
	if err != nil {
		return nil, err
	}
	exam, err := s.Exams.FindExamByID(ctx, c.ExamID)
	if err != nil {
		return nil, err
	}
	if c, err = s.reconcile(ctx, c, exam); err != nil {
		return nil, err
	}

	view, err := s.buildView(ctx, c, exam)
	if err != nil {
		return nil, err
	}
	responses, err := s.Responses.ListResponses(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	return &SessionView{
		CandidateID:         c.ID,
		ExamID:              exam.ID,
		ExamTitle:           exam.Title,
		Duration:            exam.Duration,
		Status:              c.Status,
		Attempt:             c.Attempt,
		StartedAt:           c.StartedAt,
		RandomizedQuestions: questionViews(view, false),
		Responses:           responseViews(responses),
		TimeRemaining:       s.remaining(exam, c),
		EnableWebcam:        exam.EnableWebcam,
		EnableTabDetection:  exam.EnableTabDetection,
	}, nil
}

// Start 开始考试，仅试卷处于 active 时允许；重复调用不会重置开始时间
func (s *SessionService) Start(ctx context.Context, v Viewer, candidateID string) (*SessionView, error) {
	c, err := loadOwned(ctx, s.Candidates, v, candidateID)
	if err != nil {
		return nil, err
	}
	if c.Status.Finished() {
		return nil, util.ErrAlreadySubmitted
	}
	if c.Status == model.CandidateInProgress {
		return s.GetSession(ctx, v, candidateID)
	}

	exam, err := s.Exams.FindExamByID(ctx, c.ExamID)
	if err != nil {
		return nil, err
	}
	if exam.Status != model.ExamActive {
		return nil, util.ErrExamNotActive
	}
	// 题库为空时不允许开始计时
	if _, err := s.buildView(ctx, c, exam); err != nil {
		return nil, err
	}

	ctx, span := tracing.StartCandidateSpan(ctx, "exam.start", c.ID)
	defer span.End()

	now := s.now()
	started, err := s.Candidates.MarkStarted(ctx, c.ID, now)
	if err != nil {
		return nil, fmt.Errorf("mark candidate started: %w", err)
	}
	if started {
		s.Timer.Arm(c.ID, Deadline(exam.Duration, now))
		if _, err := s.Proctor.record(ctx, c, model.EventExamStart, "", model.LifecycleMetadata{
			Kind:    model.EventExamStart,
			Attempt: c.Attempt,
		}, now); err != nil {
			logger.Log.Error("record exam start failed", zap.String("candidateId", c.ID), zap.Error(err))
		}
		logger.Candidate(c.ID, c.Attempt).Info("exam started",
			zap.String("examId", exam.ID),
			zap.Int("duration", exam.Duration))
	}
	return s.GetSession(ctx, v, candidateID)
}

// SaveResponse 自动保存作答，正确性在写入时按当前答案确定且之后不再重算
func (s *SessionService) SaveResponse(ctx context.Context, v Viewer, candidateID string, req SaveResponseRequest) (*ResponseView, error) {
	c, err := loadOwned(ctx, s.Candidates, v, candidateID)
	if err != nil {
		return nil, err
	}
	switch {
	case c.Status.Finished():
		return nil, util.ErrAlreadySubmitted
	case c.Status != model.CandidateInProgress:
		return nil, util.ErrExamNotStarted
	}

	exam, err := s.Exams.FindExamByID(ctx, c.ExamID)
	if err != nil {
		return nil, err
	}
	if s.remaining(exam, c) == 0 {
		if _, err := s.reconcile(ctx, c, exam); err != nil {
			logger.Log.Error("auto submit on late answer failed", zap.String("candidateId", c.ID), zap.Error(err))
		}
		return nil, util.ErrTimeExpired
	}

	view, err := s.buildView(ctx, c, exam)
	if err != nil {
		return nil, err
	}
	var question *model.Question
	for i := range view {
		if view[i].Question.ID == req.QuestionID {
			question = &view[i].Question
			break
		}
	}
	if question == nil {
		return nil, util.ErrQuestionNotFound
	}
	if !question.HasOption(req.SelectedAnswer) {
		return nil, util.ErrInvalidAnswer
	}

	r := &model.Response{
		CandidateID:    c.ID,
		QuestionID:     question.ID,
		SelectedAnswer: req.SelectedAnswer,
		IsCorrect:      req.SelectedAnswer == question.CorrectAnswer,
	}
	if err := s.Responses.UpsertResponse(ctx, r); err != nil {
		return nil, fmt.Errorf("save response: %w", err)
	}
	return &ResponseView{QuestionID: r.QuestionID, SelectedAnswer: r.SelectedAnswer, UpdatedAt: r.UpdatedAt}, nil
}

// Submit 交卷。已交卷时直接返回已保存的成绩
func (s *SessionService) Submit(ctx context.Context, v Viewer, candidateID string, auto bool) (*SubmitResult, error) {
	c, err := loadOwned(ctx, s.Candidates, v, candidateID)
	if err != nil {
		return nil, err
	}
	if c.Status.Finished() {
		return storedResult(c), nil
	}
	if c.Status != model.CandidateInProgress {
		return nil, util.ErrExamNotStarted
	}
	exam, err := s.Exams.FindExamByID(ctx, c.ExamID)
	if err != nil {
		return nil, err
	}

	status, trigger := model.CandidateCompleted, TriggerManual
	if auto {
		status, trigger = model.CandidateAutoSubmitted, TriggerClientAuto
	} else if s.remaining(exam, c) == 0 {
		status = model.CandidateAutoSubmitted
	}
	return s.finish(ctx, c, exam, status, trigger)
}

// AutoSubmit 服务端到期交卷，时间未到时只重新设置定时器并返回 nil
func (s *SessionService) AutoSubmit(ctx context.Context, candidateID, trigger string) (*SubmitResult, error) {
	c, err := s.Candidates.FindCandidateByID(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	if c.Status.Finished() {
		return storedResult(c), nil
	}
	if c.Status != model.CandidateInProgress {
		return nil, util.ErrExamNotStarted
	}
	exam, err := s.Exams.FindExamByID(ctx, c.ExamID)
	if err != nil {
		return nil, err
	}
	if s.remaining(exam, c) > 0 {
		s.arm(exam, c)
		return nil, nil
	}
	return s.finish(ctx, c, exam, model.CandidateAutoSubmitted, trigger)
}

func storedResult(c *model.Candidate) *SubmitResult {
	res := &SubmitResult{Status: c.Status, CompletedAt: c.CompletedAt}
	if c.Score != nil {
		res.Score = *c.Score
	}
	return res
}

// finish 计分并做条件更新（仅 in_progress 生效），只有成功的一方写 exam_complete。
// 失败方重新读取并返回已保存的成绩。
func (s *SessionService) finish(ctx context.Context, c *model.Candidate, exam *model.Exam, status model.CandidateStatus, trigger string) (*SubmitResult, error) {
	ctx, span := tracing.StartCandidateSpan(ctx, "exam.finish", c.ID)
	defer span.End()

	responses, err := s.Responses.ListResponses(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	score := Score(responses)
	now := s.now()

	won, err := s.Candidates.MarkFinished(ctx, c.ID, status, score, now)
	if err != nil {
		return nil, fmt.Errorf("mark candidate finished: %w", err)
	}
	s.Timer.Disarm(c.ID)

	if !won {
		current, err := s.Candidates.FindCandidateByID(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if !current.Status.Finished() {
			return nil, util.ErrExamNotStarted
		}
		return storedResult(current), nil
	}

	monitoring.Submissions.WithLabelValues(trigger).Inc()
	logger.Candidate(c.ID, c.Attempt).Info("exam submitted",
		zap.String("examId", exam.ID),
		zap.String("status", string(status)),
		zap.String("trigger", trigger),
		zap.Int("score", score))

	// 先停检测器，等正在处理的违规写完，exam_complete 是本次作答的最后一条日志
	if s.Proctor.Hub != nil {
		s.Proctor.Hub.CloseMonitor(c.ID)
	}
	if _, err := s.Proctor.record(ctx, c, model.EventExamComplete, "", model.LifecycleMetadata{
		Kind:    model.EventExamComplete,
		Attempt: c.Attempt,
		Auto:    status == model.CandidateAutoSubmitted,
		Score:   &score,
	}, now); err != nil {
		logger.Log.Error("record exam complete failed", zap.String("candidateId", c.ID), zap.Error(err))
	}
	if status == model.CandidateAutoSubmitted && s.Proctor.Hub != nil {
		s.Proctor.Hub.NotifyCandidate(c.ID, MsgAutoSubmitted, gin.H{"score": score, "trigger": trigger}, nil)
	}
	return &SubmitResult{Score: score, Status: status, CompletedAt: &now}, nil
}

func (s *SessionService) onDeadline(candidateID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := s.AutoSubmit(ctx, candidateID, TriggerTimer); err != nil && !errors.Is(err, util.ErrExamNotStarted) {
		logger.Log.Error("deadline auto submit failed", zap.String("candidateId", candidateID), zap.Error(err))
	}
}

// SweepExpired 扫描进行中的考生：到期的自动交卷，未到期但没有定时器的补设定时器（进程重启后恢复）
func (s *SessionService) SweepExpired(ctx context.Context) (int, error) {
	if s.Lock != nil {
		ok, err := s.Lock.Acquire(ctx, sweepLockKey, s.Settings.Get().SweepInterval)
		if err != nil {
			logger.Log.Warn("sweep lock unavailable, sweeping locally", zap.Error(err))
		} else if !ok {
			return 0, nil
		}
	}

	list, err := s.Candidates.ListInProgress(ctx)
	if err != nil {
		return 0, err
	}
	exams := make(map[string]*model.Exam)
	submitted := 0
	for i := range list {
		c := &list[i]
		exam, ok := exams[c.ExamID]
		if !ok {
			exam, err = s.Exams.FindExamByID(ctx, c.ExamID)
			if err != nil {
				logger.Log.Error("sweep: load exam failed", zap.String("examId", c.ExamID), zap.Error(err))
				continue
			}
			exams[c.ExamID] = exam
		}
		if s.remaining(exam, c) > 0 {
			if !s.Timer.Armed(c.ID) {
				s.arm(exam, c)
			}
			continue
		}
		if _, err := s.finish(ctx, c, exam, model.CandidateAutoSubmitted, TriggerSweeper); err != nil {
			logger.Log.Error("sweep: auto submit failed", zap.String("candidateId", c.ID), zap.Error(err))
			continue
		}
		submitted++
	}
	if submitted > 0 {
		logger.Log.Info("expired sessions auto submitted", zap.Int("count", submitted))
	}
	return submitted, nil
}

// RunSweeper 周期扫描，阻塞直到 ctx 取消
func (s *SessionService) RunSweeper(ctx context.Context) {
	if _, err := s.SweepExpired(ctx); err != nil {
		logger.Log.Error("initial session sweep failed", zap.Error(err))
	}
	ticker := time.NewTicker(s.Settings.Get().SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Timer.Stop()
			return
		case <-ticker.C:
			if _, err := s.SweepExpired(ctx); err != nil {
				logger.Log.Error("session sweep failed", zap.Error(err))
			}
			ticker.Reset(s.Settings.Get().SweepInterval)
		}
	}
}

// resultReleased 监考端始终可见；考生端按试卷的成绩公布方式
func resultReleased(v Viewer, exam *model.Exam) bool {
	if v.Role.IsObserver() {
		return true
	}
	switch exam.ShowResults {
	case model.ShowResultsImmediate:
		return true
	case model.ShowResultsDelayed:
		return exam.Status == model.ExamArchived
	}
	return false
}

// Result 成绩页，负分模式下展示分 = max(0, 原始分 - 本次作答的高严重违规数 * 每条扣分)
func (s *SessionService) Result(ctx context.Context, v Viewer, candidateID string) (*ResultView, error) {
	var (
		c   *model.Candidate
		err error
	)
	if v.Role.IsObserver() {
		c, err = s.Candidates.FindCandidateByID(ctx, candidateID)
	} else {
		c, err = loadOwned(ctx, s.Candidates, v, candidateID)
	}
	if err != nil {
		return nil, err
	}
	exam, err := s.Exams.FindExamByID(ctx, c.ExamID)
	if err != nil {
		return nil, err
	}
	if c, err = s.reconcile(ctx, c, exam); err != nil {
		return nil, err
	}
	if !c.Status.Finished() {
		return nil, util.ErrResultNotReady
	}

	responses, err := s.Responses.ListResponses(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	out := &ResultView{
		CandidateID: c.ID,
		ExamTitle:   exam.Title,
		Status:      c.Status,
		CompletedAt: c.CompletedAt,
		Answered:    len(responses),
		Released:    resultReleased(v, exam),
	}
	if !out.Released {
		return out, nil
	}

	logs, err := s.Proctor.Logs.ListLogs(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	logs = AttemptLogs(logs, c.Attempt)
	score := Score(responses)
	if c.Score != nil {
		score = *c.Score
	}
	for _, r := range responses {
		if r.IsCorrect {
			out.Correct++
		}
	}
	b := Breakdown(score, logs, exam.ProctoringMode, s.Settings.Get().PenaltyPerViolation)
	out.Breakdown = &b
	return out, nil
}

// Preview 管理端查看考生的试卷，包含正确答案
func (s *SessionService) Preview(ctx context.Context, candidateID string) (*SessionView, error) {
	c, err := s.Candidates.FindCandidateByID(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	exam, err := s.Exams.FindExamByID(ctx, c.ExamID)
	if err != nil {
		return nil, err
	}
	view, err := s.buildView(ctx, c, exam)
	if err != nil {
		return nil, err
	}
	responses, err := s.Responses.ListResponses(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	return &SessionView{
		CandidateID:         c.ID,
		ExamID:              exam.ID,
		ExamTitle:           exam.Title,
		Duration:            exam.Duration,
		Status:              c.Status,
		Attempt:             c.Attempt,
		StartedAt:           c.StartedAt,
		RandomizedQuestions: questionViews(view, true),
		Responses:           responseViews(responses),
		TimeRemaining:       s.remaining(exam, c),
		EnableWebcam:        exam.EnableWebcam,
		EnableTabDetection:  exam.EnableTabDetection,
	}, nil
}
