package controller

import (
	"exam_proctor_backend/internal/service"
	"exam_proctor_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type SessionController struct {
	Sessions *service.SessionService
	Proctor  *service.ProctorService
}

func NewSessionController(sessions *service.SessionService, proctor *service.ProctorService) *SessionController {
	return &SessionController{Sessions: sessions, Proctor: proctor}
}

func currentViewer(ctx *gin.Context) (service.Viewer, bool) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return service.Viewer{}, false
	}
	return service.ViewerFromClaims(claims), true
}

// @Summary 获取考试会话
// @Description 返回按考生种子打乱的题目与选项、已保存的作答以及服务端剩余时间
// @Tags 考试会话
// @Produce json
// @Security ApiKeyAuth
// @Param candidateId path string true "考生ID"
// @Success 200 {object} util.Response{data=service.SessionView}
// @Failure 403 {object} util.Response "不是本人的考试"
// @Failure 404 {object} util.Response "考生不存在"
// @Failure 503 {object} util.Response "试卷未配置题目"
// @Router /api/sessions/{candidateId} [get]
func (c *SessionController) GetSession(ctx *gin.Context) {
	viewer, ok := currentViewer(ctx)
	if !ok {
		return
	}
	view, err := c.Sessions.GetSession(ctx.Request.Context(), viewer, ctx.Param("candidateId"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, view)
}

// @Summary 开始考试
// @Description 仅试卷为 active 时允许；重复调用返回已开始的会话，不会重置开始时间
// @Tags 考试会话
// @Produce json
// @Security ApiKeyAuth
// @Param candidateId path string true "考生ID"
// @Success 200 {object} util.Response{data=service.SessionView}
// @Failure 409 {object} util.Response "试卷未开放或已交卷"
// @Router /api/sessions/{candidateId}/start [post]
func (c *SessionController) Start(ctx *gin.Context) {
	viewer, ok := currentViewer(ctx)
	if !ok {
		return
	}
	view, err := c.Sessions.Start(ctx.Request.Context(), viewer, ctx.Param("candidateId"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, view)
}

// @Summary 保存作答
// @Tags 考试会话
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param candidateId path string true "考生ID"
// @Param body body service.SaveResponseRequest true "作答"
// @Success 200 {object} util.Response{data=service.ResponseView}
// @Failure 400 {object} util.Response "答案不在选项中"
// @Failure 409 {object} util.Response "考试时间已到"
// @Router /api/sessions/{candidateId}/responses [post]
func (c *SessionController) SaveResponse(ctx *gin.Context) {
	viewer, ok := currentViewer(ctx)
	if !ok {
		return
	}
	var req service.SaveResponseRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	resp, err := c.Sessions.SaveResponse(ctx.Request.Context(), viewer, ctx.Param("candidateId"), req)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, resp)
}

// @Summary 交卷
// @Description 幂等：已交卷时返回已保存的成绩
// @Tags 考试会话
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param candidateId path string true "考生ID"
// @Param body body service.SubmitRequest false "auto=true 表示客户端倒计时结束自动提交"
// @Success 200 {object} util.Response{data=service.SubmitResult}
// @Router /api/sessions/{candidateId}/submit [post]
func (c *SessionController) Submit(ctx *gin.Context) {
	viewer, ok := currentViewer(ctx)
	if !ok {
		return
	}
	var req service.SubmitRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			util.BadRequest(ctx, err.Error())
			return
		}
	}
	res, err := c.Sessions.Submit(ctx.Request.Context(), viewer, ctx.Param("candidateId"), req.Auto)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, res)
}

// @Summary 上报监考事件
// @Description 客户端检测到的违规事件，severity 省略时使用事件类型默认级别
// @Tags 考试会话
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param candidateId path string true "考生ID"
// @Param body body service.RecordLogRequest true "监考事件"
// @Success 201 {object} util.Response{data=model.ProctorLog}
// @Failure 400 {object} util.Response "事件类型或附加信息不合法"
// @Router /api/sessions/{candidateId}/proctor-logs [post]
func (c *SessionController) RecordLog(ctx *gin.Context) {
	viewer, ok := currentViewer(ctx)
	if !ok {
		return
	}
	var req service.RecordLogRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	entry, err := c.Proctor.RecordFromClient(ctx.Request.Context(), viewer, ctx.Param("candidateId"), req)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Created(ctx, entry)
}

// @Summary 查看成绩
// @Description 按试卷的成绩公布方式返回；负分模式下展示扣分后的成绩
// @Tags 考试会话
// @Produce json
// @Security ApiKeyAuth
// @Param candidateId path string true "考生ID"
// @Success 200 {object} util.Response{data=service.ResultView}
// @Failure 409 {object} util.Response "尚未交卷"
// @Router /api/sessions/{candidateId}/result [get]
func (c *SessionController) Result(ctx *gin.Context) {
	viewer, ok := currentViewer(ctx)
	if !ok {
		return
	}
	res, err := c.Sessions.Result(ctx.Request.Context(), viewer, ctx.Param("candidateId"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, res)
}
