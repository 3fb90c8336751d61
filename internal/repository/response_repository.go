package repository

import (
	"context"
	"exam_proctor_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ResponseRepository struct {
	DB *gorm.DB
}

func NewResponseRepository(db *gorm.DB) *ResponseRepository {
	return &ResponseRepository{DB: db}
}

// UpsertResponse 同一题重复作答时覆盖答案与判分
func (r *ResponseRepository) UpsertResponse(ctx context.Context, resp *model.Response) error {
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "candidate_id"}, {Name: "question_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"selected_answer", "is_correct", "updated_at"}),
	}).Create(resp).Error
}

func (r *ResponseRepository) ListResponses(ctx context.Context, candidateID string) ([]model.Response, error) {
	var list []model.Response
	err := r.DB.WithContext(ctx).Where("candidate_id = ?", candidateID).Order("created_at ASC").Find(&list).Error
	return list, err
}
