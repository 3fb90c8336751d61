package controller

import (
	"exam_proctor_backend/internal/service"
	"exam_proctor_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type AdminController struct {
	Admin *service.AdminService
}

func NewAdminController(admin *service.AdminService) *AdminController {
	return &AdminController{Admin: admin}
}

// @Summary 分配考生
// @Description 为用户分配考试并固定随机种子
// @Tags 监考管理
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param examId path string true "试卷ID"
// @Param body body service.AssignRequest true "用户"
// @Success 201 {object} util.Response{data=model.Candidate}
// @Failure 409 {object} util.Response "已分配"
// @Router /api/admin/exams/{examId}/candidates [post]
func (c *AdminController) Assign(ctx *gin.Context) {
	var req service.AssignRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	cand, err := c.Admin.Assign(ctx.Request.Context(), ctx.Param("examId"), req)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Created(ctx, cand)
}

// @Summary 允许重考
// @Tags 监考管理
// @Produce json
// @Security ApiKeyAuth
// @Param candidateId path string true "考生ID"
// @Success 200 {object} util.Response{data=model.Candidate}
// @Failure 409 {object} util.Response "未交卷不能重考"
// @Router /api/admin/candidates/{candidateId}/retake [post]
func (c *AdminController) Retake(ctx *gin.Context) {
	cand, err := c.Admin.Retake(ctx.Request.Context(), ctx.Param("candidateId"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, cand)
}

// @Summary 考生监考日志
// @Tags 监考管理
// @Produce json
// @Security ApiKeyAuth
// @Param candidateId path string true "考生ID"
// @Success 200 {object} util.Response{data=[]model.ProctorLog}
// @Router /api/admin/candidates/{candidateId}/logs [get]
func (c *AdminController) Logs(ctx *gin.Context) {
	logs, err := c.Admin.Logs(ctx.Request.Context(), ctx.Param("candidateId"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"items": logs, "total": len(logs)})
}

// @Summary 考试报表
// @Tags 监考管理
// @Produce json
// @Security ApiKeyAuth
// @Param examId path string true "试卷ID"
// @Success 200 {object} util.Response{data=service.ExamReport}
// @Router /api/admin/exams/{examId}/report [get]
func (c *AdminController) Report(ctx *gin.Context) {
	report, err := c.Admin.Report(ctx.Request.Context(), ctx.Param("examId"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, report)
}

// @Summary 预览考生试卷
// @Description 与考生看到的顺序一致，附带正确答案
// @Tags 监考管理
// @Produce json
// @Security ApiKeyAuth
// @Param candidateId path string true "考生ID"
// @Success 200 {object} util.Response{data=service.SessionView}
// @Router /api/admin/sessions/{candidateId}/preview [get]
func (c *AdminController) Preview(ctx *gin.Context) {
	view, err := c.Admin.Preview(ctx.Request.Context(), ctx.Param("candidateId"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, view)
}
