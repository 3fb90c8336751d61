package repository

import (
	"context"
	"errors"
	"exam_proctor_backend/internal/model"
	"exam_proctor_backend/internal/util"
	"time"

	"gorm.io/gorm"
)

type CandidateRepository struct {
	DB *gorm.DB
}

func NewCandidateRepository(db *gorm.DB) *CandidateRepository {
	return &CandidateRepository{DB: db}
}

func (r *CandidateRepository) FindCandidateByID(ctx context.Context, id string) (*model.Candidate, error) {
	var c model.Candidate
	err := r.DB.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrCandidateNotFound
	}
	return &c, err
}

func (r *CandidateRepository) FindCandidateByUserAndExam(ctx context.Context, userID uint, examID string) (*model.Candidate, error) {
	var c model.Candidate
	err := r.DB.WithContext(ctx).Where("user_id = ? AND exam_id = ?", userID, examID).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrCandidateNotFound
	}
	return &c, err
}

func (r *CandidateRepository) CreateCandidate(ctx context.Context, c *model.Candidate) error {
	return r.DB.WithContext(ctx).Create(c).Error
}

// MarkStarted 条件更新，只有 assigned 状态的记录会被写入开始时间
func (r *CandidateRepository) MarkStarted(ctx context.Context, id string, at time.Time) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&model.Candidate{}).
		Where("id = ? AND status = ?", id, model.CandidateAssigned).
		Updates(map[string]interface{}{
			"status":     model.CandidateInProgress,
			"started_at": at,
		})
	return res.RowsAffected == 1, res.Error
}

// MarkFinished 条件更新，并发交卷时只有一方生效
func (r *CandidateRepository) MarkFinished(ctx context.Context, id string, status model.CandidateStatus, score int, at time.Time) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&model.Candidate{}).
		Where("id = ? AND status = ?", id, model.CandidateInProgress).
		Updates(map[string]interface{}{
			"status":       status,
			"score":        score,
			"completed_at": at,
		})
	return res.RowsAffected == 1, res.Error
}

// ResetForRetake 条件重置与清空作答在同一事务中，任一步失败都整体回滚
func (r *CandidateRepository) ResetForRetake(ctx context.Context, id string, seed string) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Candidate{}).
			Where("id = ? AND status IN ?", id, []model.CandidateStatus{model.CandidateCompleted, model.CandidateAutoSubmitted}).
			Updates(map[string]interface{}{
				"status":       model.CandidateAssigned,
				"random_seed":  seed,
				"started_at":   nil,
				"completed_at": nil,
				"score":        nil,
				"attempt":      gorm.Expr("attempt + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return util.ErrRetakeNotAllowed
		}
		return tx.Where("candidate_id = ?", id).Delete(&model.Response{}).Error
	})
}

func (r *CandidateRepository) ListCandidatesByExam(ctx context.Context, examID string) ([]model.Candidate, error) {
	var list []model.Candidate
	err := r.DB.WithContext(ctx).Where("exam_id = ?", examID).Order("created_at ASC").Find(&list).Error
	return list, err
}

func (r *CandidateRepository) ListInProgress(ctx context.Context) ([]model.Candidate, error) {
	var list []model.Candidate
	err := r.DB.WithContext(ctx).Where("status = ?", model.CandidateInProgress).Find(&list).Error
	return list, err
}
