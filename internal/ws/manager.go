// Package ws 管理与服务器的推送通道连接
// 每个客户端同一时刻只允许一条连接，且始终绑定到单个会话
package ws

import (
	"fmt"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// State 连接状态
type State string

// 状态机: unbound → connecting → open → closed → unbound
const (
	StateUnbound    State = "unbound"    // 未绑定
	StateConnecting State = "connecting" // 连接中
	StateOpen       State = "open"       // 已连接
	StateClosed     State = "closed"     // 已断开
)

// Conn 底层连接抽象
// *websocket.Conn 直接满足该接口，测试时可注入假实现
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer 建立底层连接
type Dialer interface {
	Dial(url string) (Conn, error)
}

// gorillaDialer 默认拨号器
type gorillaDialer struct{}

func (gorillaDialer) Dial(url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Manager 推送通道连接管理器
type Manager struct {
	mu        sync.Mutex
	baseURL   string // WebSocket 地址，例如 ws://127.0.0.1:8000
	dialer    Dialer
	state     State
	sessionID string // 当前绑定的会话 ID，空表示未绑定
	conn      Conn
	gen       uint64 // 连接代数，绑定/解绑时递增，用于丢弃被取代连接的残留帧

	onFrame func(sessionID string, raw []byte) // 收到帧的回调，原样转发不做解析
	onState func(state State, sessionID string)
	onError func(err error)
}

// NewManager 创建连接管理器
// baseURL: WebSocket 服务器地址（如 ws://127.0.0.1:8000）
func NewManager(baseURL string) *Manager {
	return &Manager{
		baseURL: baseURL,
		dialer:  gorillaDialer{},
		state:   StateUnbound,
	}
}

// NewManagerWithDialer 创建使用自定义拨号器的连接管理器（测试用）
func NewManagerWithDialer(baseURL string, dialer Dialer) *Manager {
	return &Manager{
		baseURL: baseURL,
		dialer:  dialer,
		state:   StateUnbound,
	}
}

// OnFrame 设置收到帧的回调
func (m *Manager) OnFrame(handler func(sessionID string, raw []byte)) {
	m.mu.Lock()
	m.onFrame = handler
	m.mu.Unlock()
}

// OnState 设置状态变更回调
func (m *Manager) OnState(handler func(state State, sessionID string)) {
	m.mu.Lock()
	m.onState = handler
	m.mu.Unlock()
}

// OnError 设置连接错误回调
func (m *Manager) OnError(handler func(err error)) {
	m.mu.Lock()
	m.onError = handler
	m.mu.Unlock()
}

// Bind 绑定到指定会话并建立连接
// 已绑定到同一会话时为 no-op；绑定到其他会话时先完全关闭旧连接再建立新连接
func (m *Manager) Bind(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("会话 ID 为空")
	}

	m.mu.Lock()
	if m.sessionID == sessionID && (m.state == StateConnecting || m.state == StateOpen) {
		m.mu.Unlock()
		return nil
	}

	// 先关闭旧连接，closeLocked 会使旧连接的读取循环失效
	m.closeLocked()
	m.gen++
	gen := m.gen
	m.sessionID = sessionID
	m.state = StateConnecting
	m.mu.Unlock()

	m.notifyState(StateConnecting, sessionID)

	conn, err := m.dialer.Dial(fmt.Sprintf("%s/ws/%s", m.baseURL, sessionID))

	m.mu.Lock()
	if m.gen != gen {
		// 拨号期间被新的 Bind/Unbind 取代，本次连接作废
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return nil
	}
	if err != nil {
		m.state = StateUnbound
		m.sessionID = ""
		m.mu.Unlock()
		connErr := fmt.Errorf("连接失败: %w", err)
		m.reportError(connErr)
		m.notifyState(StateUnbound, "")
		return connErr
	}
	m.conn = conn
	m.state = StateOpen
	m.mu.Unlock()

	m.notifyState(StateOpen, sessionID)

	go m.readPump(conn, sessionID, gen)
	return nil
}

// Unbind 关闭当前连接并回到未绑定状态
// 重复调用是安全的 no-op
func (m *Manager) Unbind() {
	m.mu.Lock()
	if m.state == StateUnbound {
		m.mu.Unlock()
		return
	}
	m.closeLocked()
	m.gen++
	m.sessionID = ""
	m.state = StateUnbound
	m.mu.Unlock()

	m.notifyState(StateUnbound, "")
}

// State 当前连接状态
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// BoundSession 当前绑定的会话 ID，未绑定时返回空字符串
func (m *Manager) BoundSession() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// closeLocked 关闭当前连接（需持有锁）
func (m *Manager) closeLocked() {
	if m.conn != nil {
		// 发送关闭帧
		m.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		m.conn.Close()
		m.conn = nil
	}
}

// readPump 读取消息
// 每条连接对应一个读取循环；连接被取代后循环自行退出，残留帧被丢弃
func (m *Manager) readPump(conn Conn, sessionID string, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.mu.Lock()
			if m.gen != gen {
				// 已被新的绑定取代，旧连接的收尾不影响当前状态
				m.mu.Unlock()
				return
			}
			m.conn = nil
			m.gen++
			m.sessionID = ""
			m.state = StateUnbound
			m.mu.Unlock()

			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[WS] 读取错误: %v", err)
				m.reportError(fmt.Errorf("连接断开: %w", err))
			}
			// 断开后不自动重连，由下一次显式 Bind 重建
			m.notifyState(StateClosed, sessionID)
			m.notifyState(StateUnbound, "")
			return
		}

		m.mu.Lock()
		stale := m.gen != gen
		handler := m.onFrame
		m.mu.Unlock()
		if stale {
			return
		}
		if handler != nil {
			handler(sessionID, data)
		}
	}
}

func (m *Manager) notifyState(state State, sessionID string) {
	m.mu.Lock()
	handler := m.onState
	m.mu.Unlock()
	if handler != nil {
		handler(state, sessionID)
	}
}

func (m *Manager) reportError(err error) {
	m.mu.Lock()
	handler := m.onError
	m.mu.Unlock()
	if handler != nil {
		handler(err)
	}
}
