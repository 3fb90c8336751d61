package repository

import (
	"context"
	"exam_proctor_backend/internal/model"

	"gorm.io/gorm"
)

// ProctorLogRepository 只追加，不提供更新与删除
type ProctorLogRepository struct {
	DB *gorm.DB
}

func NewProctorLogRepository(db *gorm.DB) *ProctorLogRepository {
	return &ProctorLogRepository{DB: db}
}

func (r *ProctorLogRepository) AppendLog(ctx context.Context, l *model.ProctorLog) error {
	return r.DB.WithContext(ctx).Create(l).Error
}

// ListLogs 按自增 ID 排序即写入顺序
func (r *ProctorLogRepository) ListLogs(ctx context.Context, candidateID string) ([]model.ProctorLog, error) {
	var list []model.ProctorLog
	err := r.DB.WithContext(ctx).Where("candidate_id = ?", candidateID).Order("id ASC").Find(&list).Error
	return list, err
}
