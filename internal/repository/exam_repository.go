package repository

import (
	"context"
	"errors"
	"exam_proctor_backend/internal/model"
	"exam_proctor_backend/internal/util"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ExamRepository struct {
	DB *gorm.DB
}

func NewExamRepository(db *gorm.DB) *ExamRepository {
	return &ExamRepository{DB: db}
}

func (r *ExamRepository) FindExamByID(ctx context.Context, id string) (*model.Exam, error) {
	var exam model.Exam
	err := r.DB.WithContext(ctx).Where("id = ?", id).First(&exam).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrExamNotFound
	}
	return &exam, err
}

// ListExamQuestions 返回试卷关联的题目，按关联顺序排列
func (r *ExamRepository) ListExamQuestions(ctx context.Context, examID string) ([]model.Question, []model.ExamQuestion, error) {
	var links []model.ExamQuestion
	if err := r.DB.WithContext(ctx).
		Where("exam_id = ?", examID).
		Order(clause.OrderBy{Columns: []clause.OrderByColumn{
			{Column: clause.Column{Name: "order"}},
			{Column: clause.Column{Name: "question_id"}},
		}}).
		Find(&links).Error; err != nil {
		return nil, nil, err
	}
	if len(links) == 0 {
		return []model.Question{}, links, nil
	}

	ids := make([]string, len(links))
	for i, l := range links {
		ids[i] = l.QuestionID
	}
	var questions []model.Question
	if err := r.DB.WithContext(ctx).Where("id IN ?", ids).Find(&questions).Error; err != nil {
		return nil, nil, err
	}
	return questions, links, nil
}

// CreateExam 创建试卷及其题目关联
func (r *ExamRepository) CreateExam(ctx context.Context, exam *model.Exam, questions []model.Question) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(exam).Error; err != nil {
			return err
		}
		for i := range questions {
			if err := tx.Create(&questions[i]).Error; err != nil {
				return err
			}
			link := model.ExamQuestion{ExamID: exam.ID, QuestionID: questions[i].ID, Order: i}
			if err := tx.Create(&link).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
