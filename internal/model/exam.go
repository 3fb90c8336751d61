package model

type ShowResults string

const (
	ShowResultsImmediate ShowResults = "immediate"
	ShowResultsDelayed   ShowResults = "delayed"
	ShowResultsHidden    ShowResults = "hidden"
)

type ExamStatus string

const (
	ExamDraft    ExamStatus = "draft"
	ExamActive   ExamStatus = "active"
	ExamArchived ExamStatus = "archived"
)

type ProctoringMode string

const (
	ProctoringStandard        ProctoringMode = "standard"
	ProctoringNegativeMarking ProctoringMode = "negative_marking"
)

// swagger:model Exam
type Exam struct {
	UUIDBase
	DomainID           string         `gorm:"index;type:varchar(36)" json:"domainId"`
	Title              string         `gorm:"size:255;not null" json:"title"`
	Duration           int            `gorm:"not null" json:"duration"` // Minutes
	QuestionCount      int            `gorm:"default:0" json:"questionCount"`
	ShowResults        ShowResults    `gorm:"size:20;default:'immediate'" json:"showResults"`
	Status             ExamStatus     `gorm:"size:20;default:'draft'" json:"status"`
	ProctoringMode     ProctoringMode `gorm:"size:30;default:'standard'" json:"proctoringMode"`
	EnableWebcam       bool           `gorm:"default:true" json:"enableWebcam"`
	EnableTabDetection bool           `gorm:"default:true" json:"enableTabDetection"`
}

func (Exam) TableName() string {
	return "exams"
}

type QuestionType string

const (
	MultipleChoice QuestionType = "multiple_choice"
	TrueFalse      QuestionType = "true_false"
)

// swagger:model Question
type Question struct {
	UUIDBase
	DomainID      string       `gorm:"index;type:varchar(36)" json:"domainId"`
	Type          QuestionType `gorm:"size:30;not null" json:"type"`
	Content       string       `gorm:"type:text;not null" json:"content"`
	Options       []string     `gorm:"type:json;serializer:json" json:"options"`
	CorrectAnswer string       `gorm:"type:text" json:"correctAnswer"`
}

func (Question) TableName() string {
	return "questions"
}

// HasOption 答案必须是题目选项之一
func (q *Question) HasOption(answer string) bool {
	for _, o := range q.Options {
		if o == answer {
			return true
		}
	}
	return false
}

// ExamQuestion 试卷与题目的有序关联
type ExamQuestion struct {
	ExamID     string `gorm:"primaryKey;type:varchar(36)" json:"examId"`
	QuestionID string `gorm:"primaryKey;type:varchar(36)" json:"questionId"`
	Order      int    `gorm:"default:0" json:"order"`
}

func (ExamQuestion) TableName() string {
	return "exam_questions"
}
