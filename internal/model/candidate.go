package model

import "time"

type CandidateStatus string

const (
	CandidateAssigned      CandidateStatus = "assigned"
	CandidateInProgress    CandidateStatus = "in_progress"
	CandidateCompleted     CandidateStatus = "completed"
	CandidateAutoSubmitted CandidateStatus = "auto_submitted"
)

// Finished 已交卷（手动或自动）
func (s CandidateStatus) Finished() bool {
	return s == CandidateCompleted || s == CandidateAutoSubmitted
}

// swagger:model Candidate
type Candidate struct {
	UUIDBase
	UserID      uint            `gorm:"index;type:bigint unsigned" json:"userId"`
	ExamID      string          `gorm:"index;type:varchar(36)" json:"examId"`
	RandomSeed  string          `gorm:"size:64;not null" json:"-"`
	Status      CandidateStatus `gorm:"size:20;default:'assigned'" json:"status"`
	Attempt     int             `gorm:"default:1" json:"attempt"`
	StartedAt   *time.Time      `json:"startedAt"`
	CompletedAt *time.Time      `json:"completedAt"`
	Score       *int            `json:"score"`
}

func (Candidate) TableName() string {
	return "candidates"
}

// swagger:model Response
type Response struct {
	UUIDBase
	CandidateID    string `gorm:"uniqueIndex:idx_candidate_question;type:varchar(36)" json:"candidateId"`
	QuestionID     string `gorm:"uniqueIndex:idx_candidate_question;type:varchar(36)" json:"questionId"`
	SelectedAnswer string `gorm:"type:text" json:"selectedAnswer"`
	IsCorrect      bool   `gorm:"default:false" json:"isCorrect"`
}

func (Response) TableName() string {
	return "responses"
}
