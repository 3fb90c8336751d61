package controller

import (
	"exam_proctor_backend/internal/service"

	"github.com/gin-gonic/gin"
)

type ProctorController struct {
	Gateway *service.ProctorGateway
}

func NewProctorController(gw *service.ProctorGateway) *ProctorController {
	return &ProctorController{Gateway: gw}
}

// @Summary 监考实时通道
// @Description WebSocket。连接后发送 {type: register, clientType: admin} 接收广播，
// @Description 或 {type: register, clientType: candidate, candidateId} 上报信号与视频帧
// @Tags 监考管理
// @Security ApiKeyAuth
// @Param token query string false "JWT（浏览器无法设置握手请求头时使用）"
// @Router /api/proctor/ws [get]
func (c *ProctorController) Connect(ctx *gin.Context) {
	viewer, ok := currentViewer(ctx)
	if !ok {
		return
	}
	c.Gateway.Serve(ctx.Writer, ctx.Request, viewer)
}
