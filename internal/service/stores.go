package service

import (
	"context"
	"exam_proctor_backend/internal/model"
	"time"
)

// 记录存储接口，由 repository 包的 gorm 实现提供。
// 找不到记录时返回 util.ErrExamNotFound / util.ErrCandidateNotFound。

type ExamStore interface {
	FindExamByID(ctx context.Context, id string) (*model.Exam, error)
	// ListExamQuestions 按 exam_questions.order 返回试卷题库
	ListExamQuestions(ctx context.Context, examID string) ([]model.Question, []model.ExamQuestion, error)
}

type CandidateStore interface {
	FindCandidateByID(ctx context.Context, id string) (*model.Candidate, error)
	FindCandidateByUserAndExam(ctx context.Context, userID uint, examID string) (*model.Candidate, error)
	CreateCandidate(ctx context.Context, c *model.Candidate) error
	// MarkStarted 仅当状态为 assigned 时写入开始时间，返回是否生效
	MarkStarted(ctx context.Context, id string, at time.Time) (bool, error)
	// MarkFinished 仅当状态为 in_progress 时交卷，返回是否生效
	MarkFinished(ctx context.Context, id string, status model.CandidateStatus, score int, at time.Time) (bool, error)
	// ResetForRetake 仅当已交卷时生效：清空作答、开始/结束时间与成绩，attempt 加一，状态回到 assigned。
	// 两步在同一事务内完成，不满足条件时返回 util.ErrRetakeNotAllowed 且不改动任何数据。
	ResetForRetake(ctx context.Context, id string, seed string) error
	ListCandidatesByExam(ctx context.Context, examID string) ([]model.Candidate, error)
	ListInProgress(ctx context.Context) ([]model.Candidate, error)
}

type ResponseStore interface {
	// UpsertResponse 按 (candidate_id, question_id) 唯一写入
	UpsertResponse(ctx context.Context, r *model.Response) error
	ListResponses(ctx context.Context, candidateID string) ([]model.Response, error)
}

type ProctorLogStore interface {
	AppendLog(ctx context.Context, l *model.ProctorLog) error
	// ListLogs 按写入顺序返回
	ListLogs(ctx context.Context, candidateID string) ([]model.ProctorLog, error)
}

type UserStore interface {
	FindUserByID(ctx context.Context, id uint) (*model.User, error)
	FindUserByEmail(ctx context.Context, email string) (*model.User, error)
	CreateUser(ctx context.Context, u *model.User) error
}
