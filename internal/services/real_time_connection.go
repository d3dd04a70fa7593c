package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type WSMessage struct {
	Type string      `json:"type"` // auth/pong/order.paid/order.completed/order.refunded
	Data interface{} `json:"data,omitempty"`
}

// WSManager 用户的订单状态推送连接，一个连接对应一个浏览器页面
type WSManager struct {
	connections     map[TerminalKey]*websocket.Conn
	userIndex       map[uint][]TerminalKey
	jwt             JWTService
	cleanupInterval time.Duration
	writeMu         sync.Mutex // gorilla 连接不支持并发写
	sync.RWMutex
}

func NewWsManager(ctx context.Context, jwt JWTService, cleanupInterval time.Duration) *WSManager {
	m := &WSManager{
		jwt:             jwt,
		cleanupInterval: cleanupInterval,
		connections:     make(map[TerminalKey]*websocket.Conn),
		userIndex:       make(map[uint][]TerminalKey),
	}
	m.start(ctx)
	return m
}

type TerminalKey struct {
	UserID uint
	Random string //随机短串
}

func (t TerminalKey) ToString() string {
	return fmt.Sprintf("%d:%s", t.UserID, t.Random)
}

func (m *WSManager) SetConnection(key TerminalKey, conn *websocket.Conn) {
	m.Lock()
	defer m.Unlock()
	m.connections[key] = conn
	m.userIndex[key.UserID] = append(m.userIndex[key.UserID], key)
}

// 按UserID批量获取连接
func (m *WSManager) GetConnectionsByUser(userID uint) []*websocket.Conn {
	m.RLock()
	defer m.RUnlock()

	var conns []*websocket.Conn
	for _, key := range m.userIndex[userID] {
		if conn, exists := m.connections[key]; exists {
			conns = append(conns, conn)
		}
	}
	return conns
}

func (m *WSManager) RemoveConnection(key TerminalKey) {
	m.Lock()
	defer m.Unlock()
	m.removeLocked(key)
}

// 调用方需持有写锁
func (m *WSManager) removeLocked(key TerminalKey) {
	delete(m.connections, key)
	keys := m.userIndex[key.UserID]
	kept := keys[:0]
	for _, k := range keys {
		if k != key {
			kept = append(kept, k)
		}
	}
	if len(kept) == 0 {
		delete(m.userIndex, key.UserID)
	} else {
		m.userIndex[key.UserID] = kept
	}
}

// AuthenticateAndRegister 首帧必须是 {"token": "..."}，5 秒内未完成鉴权即断开
func (m *WSManager) AuthenticateAndRegister(conn *websocket.Conn) {
	defer func() {
		if err := recover(); err != nil {
			slog.Error("ws register panic", "error", err)
			conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "Server Error"),
				time.Now().Add(5*time.Second),
			)
			conn.Close()
		}
	}()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}

	var auth struct {
		Token string `json:"token"`
	}
	if json.Unmarshal(msg, &auth) != nil {
		closeWithReason(conn, "Invalid auth msg")
		return
	}
	id, err := m.jwt.ValidateToken(auth.Token)
	if err != nil {
		closeWithReason(conn, "Invalid Token")
		return
	}

	key := TerminalKey{UserID: id.UserID, Random: uuid.New().String()[:8]}
	m.SetConnection(key, conn)
	if err := m.writeWsJson(conn, WSMessage{Type: "auth", Data: map[string]interface{}{"terminal_key": key.ToString()}}); err != nil {
		slog.Error("push auth msg failed", "error", err)
	}

	go m.handleConnection(key, conn)
}

func closeWithReason(conn *websocket.Conn, reason string) {
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason))
	conn.Close()
}

// handleConnection 客户端只会发 ping，其余消息忽略
func (m *WSManager) handleConnection(key TerminalKey, conn *websocket.Conn) {
	defer func() {
		m.RemoveConnection(key)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Time{})
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("ws terminal disconnected", "key", key.ToString(), "error", err)
			}
			return
		}

		var in WSMessage
		if err := json.Unmarshal(msg, &in); err != nil {
			slog.Debug("ws bad message", "key", key.ToString(), "error", err)
			continue
		}
		if in.Type == "ping" {
			if err := m.writeWsJson(conn, WSMessage{Type: "pong"}); err != nil {
				slog.Error("ws pong failed", "key", key.ToString(), "error", err)
			}
		}
	}
}

func (m *WSManager) writeWsJson(conn *websocket.Conn, v interface{}) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(v)
}

// BroadcastToUser 向用户所有在线连接发送消息
func (m *WSManager) BroadcastToUser(userID uint, v interface{}) error {
	conns := m.GetConnectionsByUser(userID)
	var failed []error

	for _, conn := range conns {
		if err := m.writeWsJson(conn, v); err != nil {
			slog.Error("WriteJSON 失败", "user", userID, "error", err, "conn_ptr", fmt.Sprintf("%p", conn))
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("部分发送失败: %v", failed)
	}
	return nil
}

func (m *WSManager) start(ctx context.Context) {
	if m.cleanupInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(m.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.cleanupDeadConnections()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *WSManager) cleanupDeadConnections() {
	m.Lock()
	defer m.Unlock()

	for key, conn := range m.connections {
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(100*time.Millisecond)); err != nil {
			m.removeLocked(key)
			conn.Close()
		}
	}
}
