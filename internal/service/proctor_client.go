package service

import (
	"context"
	"encoding/json"
	"errors"
	"exam_proctor_backend/internal/detector"
	"exam_proctor_backend/internal/model"
	"exam_proctor_backend/internal/util"
	"exam_proctor_backend/pkg/logger"
	"exam_proctor_backend/pkg/monitoring"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	controlMsgSize = 4096
)

var messagePool = sync.Pool{
	New: func() interface{} {
		return &WSMessage{}
	},
}

// ProctorGateway 实时通道入口：考生上报信号与视频帧，监考端接收广播
type ProctorGateway struct {
	Hub      *ProctorHub
	Sessions *SessionService
	Proctor  *ProctorService
	upgrader websocket.Upgrader
}

func NewProctorGateway(hub *ProctorHub, sessions *SessionService, proctor *ProctorService, allowedOrigins []string) *ProctorGateway {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &ProctorGateway{
		Hub:      hub,
		Sessions: sessions,
		Proctor:  proctor,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin]
			},
		},
	}
}

type proctorClient struct {
	gw      *ProctorGateway
	conn    *websocket.Conn
	obs     *Observer
	viewer  Viewer
	limiter *rate.Limiter
	ctx     context.Context
	cancel  context.CancelFunc

	clientType  string
	candidateID string
	monitor     *detector.Monitor
}

// Serve 升级连接并启动读写协程
func (g *ProctorGateway) Serve(w http.ResponseWriter, r *http.Request, v Viewer) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Error("WebSocket upgrade failed", zap.Error(err), zap.Uint("userId", v.UserID))
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	client := &proctorClient{
		gw:      g,
		conn:    conn,
		obs:     NewObserver(v.UserID),
		viewer:  v,
		limiter: rate.NewLimiter(rate.Limit(30), 60), // 每秒30条，允许突发60条
		ctx:     ctx,
		cancel:  cancel,
	}

	go client.writePump()
	go client.readPump()
}

func (c *proctorClient) readPump() {
	defer func() {
		if c.monitor != nil {
			c.gw.Hub.ReleaseMonitor(c.candidateID, c.monitor)
		}
		c.gw.Hub.Unregister(c.obs)
		if c.candidateID != "" {
			c.gw.Hub.DetachCandidate(c.candidateID, c.obs)
		}
		c.obs.Close()
		c.cancel()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(c.gw.Sessions.Settings.Get().FrameMaxBytes + controlMsgSize))
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Log.Error("WebSocket unexpected close", zap.Error(err), zap.Uint("userId", c.viewer.UserID))
			}
			return
		}

		if !c.limiter.Allow() {
			continue
		}

		msg := messagePool.Get().(*WSMessage)
		*msg = WSMessage{}
		if err := json.Unmarshal(message, msg); err != nil {
			messagePool.Put(msg)
			c.sendError(util.ErrInvalidMetadata)
			continue
		}
		monitoring.WSMessages.WithLabelValues(msg.Type, "in").Inc()
		c.handle(msg)
		messagePool.Put(msg)
	}
}

func (c *proctorClient) handle(msg *WSMessage) {
	switch msg.Type {
	case MsgRegister:
		c.register(msg)
	case MsgSignal:
		c.signal(msg)
	case MsgVideoFrame:
		c.frame(msg)
	case MsgTimeSync:
		c.timeSync()
	default:
		c.sendError(errors.New("unknown message type"))
	}
}

func (c *proctorClient) register(msg *WSMessage) {
	if c.clientType != "" {
		return
	}
	switch msg.ClientType {
	case ClientTypeAdmin:
		if !c.viewer.Role.IsObserver() {
			c.sendError(util.ErrObserverNotAllowed)
			return
		}
		c.clientType = ClientTypeAdmin
		c.gw.Hub.Register(c.obs)

	case ClientTypeCandidate:
		cand, err := loadOwned(c.ctx, c.gw.Sessions.Candidates, c.viewer, msg.CandidateID)
		if err != nil {
			c.sendError(err)
			return
		}
		if cand.Status != model.CandidateInProgress {
			c.sendError(util.ErrExamNotStarted)
			return
		}
		exam, err := c.gw.Sessions.Exams.FindExamByID(c.ctx, cand.ExamID)
		if err != nil {
			c.sendError(err)
			return
		}
		c.clientType = ClientTypeCandidate
		c.candidateID = cand.ID
		c.gw.Hub.AttachCandidate(cand.ID, c.obs)
		c.monitor = c.gw.Proctor.AttachMonitor(cand, exam)
		logger.Log.Info("candidate live channel opened", zap.String("candidateId", cand.ID))
		c.timeSync()

	default:
		c.sendError(errors.New("clientType must be admin or candidate"))
	}
}

func (c *proctorClient) signal(msg *WSMessage) {
	if c.monitor == nil {
		c.sendError(util.ErrExamNotStarted)
		return
	}
	// 交卷后检测器已被关闭
	m := c.gw.Hub.Monitor(c.candidateID)
	if m == nil {
		c.sendError(util.ErrAlreadySubmitted)
		return
	}
	var s detector.Sample
	if err := json.Unmarshal(msg.Data, &s); err != nil {
		c.sendError(util.ErrInvalidMetadata)
		return
	}
	// 以服务端接收时刻为准
	s.At = time.Now()
	if err := m.Feed(s); err != nil {
		c.sendError(err)
	}
}

func (c *proctorClient) frame(msg *WSMessage) {
	if c.clientType != ClientTypeCandidate {
		c.sendError(util.ErrPermissionDenied)
		return
	}
	if msg.Frame == "" || len(msg.Frame) > c.gw.Sessions.Settings.Get().FrameMaxBytes {
		return
	}
	c.gw.Hub.PublishFrame(c.candidateID, msg.Frame)
}

// timeSync 下发服务端剩余时间，到 0 时立即触发自动交卷
func (c *proctorClient) timeSync() {
	if c.candidateID == "" {
		return
	}
	left, err := c.gw.Sessions.Remaining(c.ctx, c.candidateID)
	if err != nil {
		c.sendError(err)
		return
	}
	c.send(outboundMessage{Type: MsgTimeSync, CandidateID: c.candidateID, TimeRemaining: &left})
	if left == 0 {
		if _, err := c.gw.Sessions.AutoSubmit(c.ctx, c.candidateID, TriggerReconcile); err != nil {
			logger.Log.Error("live channel auto submit failed", zap.String("candidateId", c.candidateID), zap.Error(err))
		}
	}
}

func (c *proctorClient) send(m outboundMessage) {
	payload, err := json.Marshal(m)
	if err != nil {
		return
	}
	c.obs.offer(payload)
}

func (c *proctorClient) sendError(err error) {
	c.send(outboundMessage{Type: MsgError, Data: gin.H{"message": err.Error(), "status": util.HTTPStatus(err)}})
}

func (c *proctorClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message := <-c.obs.Send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}
			monitoring.WSMessages.WithLabelValues("event", "out").Inc()

		case <-c.obs.FrameReady():
			for _, f := range c.obs.TakeFrames() {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, f); err != nil {
					return
				}
			}

		case <-c.obs.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
