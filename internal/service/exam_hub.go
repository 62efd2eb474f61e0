package service

import (
	"context"
	"encoding/json"
	"fmt"
	"mockexam_backend/pkg/logger"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	presenceTTL    = 2 * time.Minute // 考试在线状态过期时间
	examChannel    = "exam_events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSMessage is the event envelope pushed to an examinee's live connection:
// PHASE, TICK, VIOLATION and RESULT events all use it.
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type Client struct {
	Hub     *ExamHub
	Conn    *websocket.Conn
	Send    chan []byte
	UserID  uint
	Limiter *rate.Limiter
}

// readPump drains the connection. Examinees send nothing meaningful over the
// socket (all mutations go through the REST API); reading is still required
// to process control frames and notice disconnects.
func (c *Client) readPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Log.Error("WebSocket unexpected close", zap.Error(err), zap.Uint("userId", c.UserID))
			}
			break
		}
		if !c.Limiter.Allow() {
			continue
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if n := len(c.Send); n > 0 {
				for i := 0; i < n; i++ {
					w.Write(<-c.Send)
				}
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ExamHub pushes live session events to examinees. Delivery goes through
// Redis pub/sub so ticks reach the right node when the API runs replicated.
type ExamHub struct {
	mu         sync.RWMutex
	clients    map[uint]*Client
	register   chan *Client
	unregister chan *Client
	Redis      *redis.Client
	ctx        context.Context
}

type PubSubMessage struct {
	TargetUser uint            `json:"targetUser"`
	Payload    json.RawMessage `json:"payload"`
}

func NewExamHub(rdb *redis.Client) *ExamHub {
	return &ExamHub{
		clients:    make(map[uint]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		Redis:      rdb,
		ctx:        context.Background(),
	}
}

func (h *ExamHub) Run() {
	pubsub := h.Redis.Subscribe(h.ctx, examChannel)
	go func() {
		ch := pubsub.Channel()
		for msg := range ch {
			var psMsg PubSubMessage
			if err := json.Unmarshal([]byte(msg.Payload), &psMsg); err != nil {
				logger.Log.Error("PubSub unmarshal error", zap.Error(err))
				continue
			}
			h.pushToLocal(psMsg.TargetUser, psMsg.Payload)
		}
	}()

	heartbeat := time.NewTicker(1 * time.Minute)
	defer heartbeat.Stop()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if old, ok := h.clients[client.UserID]; ok {
				// 同一用户重复连接时断开旧连接
				close(old.Send)
			}
			h.clients[client.UserID] = client
			h.mu.Unlock()
			h.Redis.Set(h.ctx, presenceKey(client.UserID), "true", presenceTTL)

		case client := <-h.unregister:
			h.mu.Lock()
			if cur, ok := h.clients[client.UserID]; ok && cur == client {
				delete(h.clients, client.UserID)
				close(client.Send)
			}
			h.mu.Unlock()
			h.Redis.Del(h.ctx, presenceKey(client.UserID))

		case <-heartbeat.C:
			h.refreshPresence()
		}
	}
}

func presenceKey(userID uint) string {
	return fmt.Sprintf("exam:online:%d", userID)
}

// refreshPresence 为本地在线用户批量续期
func (h *ExamHub) refreshPresence() {
	pipe := h.Redis.Pipeline()
	count := 0
	h.mu.RLock()
	for userID := range h.clients {
		pipe.Expire(h.ctx, presenceKey(userID), presenceTTL)
		count++
	}
	h.mu.RUnlock()
	if count > 0 {
		pipe.Exec(h.ctx)
	}
}

// PushToUser publishes one event for one examinee. Best effort: a closed or
// absent connection loses the event, the REST snapshot endpoint remains the
// source of truth.
func (h *ExamHub) PushToUser(userID uint, msg WSMessage) {
	if h == nil || h.Redis == nil {
		return
	}
	msgBytes, _ := json.Marshal(msg)
	psMsg := PubSubMessage{
		TargetUser: userID,
		Payload:    msgBytes,
	}
	payload, _ := json.Marshal(psMsg)
	h.Redis.Publish(h.ctx, examChannel, payload)
}

func (h *ExamHub) pushToLocal(userID uint, payload []byte) {
	h.mu.RLock()
	client, ok := h.clients[userID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case client.Send <- payload:
	default:
		// 写缓冲已满，丢弃而不是阻塞推送链路
	}
}

// ServeWS upgrades the request and hands the connection to the hub.
func (h *ExamHub) ServeWS(c *gin.Context, userID uint) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		Hub:     h,
		Conn:    conn,
		Send:    make(chan []byte, 64),
		UserID:  userID,
		Limiter: rate.NewLimiter(30, 50),
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// Stop 关闭所有连接并清理在线状态
func (h *ExamHub) Stop() {
	h.mu.Lock()
	var userIDs []uint
	for userID, client := range h.clients {
		userIDs = append(userIDs, userID)
		close(client.Send)
		delete(h.clients, userID)
	}
	h.mu.Unlock()

	if len(userIDs) > 0 {
		pipe := h.Redis.Pipeline()
		for _, userID := range userIDs {
			pipe.Del(h.ctx, presenceKey(userID))
		}
		pipe.Exec(h.ctx)
	}

	logger.Log.Info("ExamHub stopped", zap.Int("closedConnections", len(userIDs)))
}
