// Package store 维护各资源在客户端侧的投影
// 投影 = 服务端已确认的状态 + 尚未确认的乐观条目
// 所有操作都显式携带目标会话 ID，不属于当前绑定会话的操作会被拒绝或丢弃
package store

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"agent-console-cli/internal/model"
)

// pendingMatchWindow 无关联 ID 时，乐观消息与确认消息按内容对账的时间窗口
const pendingMatchWindow = 5 * time.Second

// MessageStore 消息投影
// 只追加的有序序列，顺序等于服务端下发顺序；乐观条目先于其确认条目出现
type MessageStore struct {
	mu        sync.Mutex
	sessionID string // 当前绑定的会话 ID，空表示未绑定
	messages  []model.Message
	waiting   bool // 是否在等待助手响应
	onChange  func()
}

// NewMessageStore 创建消息投影
func NewMessageStore() *MessageStore {
	return &MessageStore{}
}

// OnChange 设置投影变更回调
func (s *MessageStore) OnChange(handler func()) {
	s.mu.Lock()
	s.onChange = handler
	s.mu.Unlock()
}

// Reset 清空投影并绑定到新会话
// sessionID 为空表示解绑；切换会话时必须调用，防止跨会话串数据
func (s *MessageStore) Reset(sessionID string) {
	s.mu.Lock()
	s.sessionID = sessionID
	s.messages = nil
	s.waiting = false
	s.mu.Unlock()
	s.notify()
}

// Load 用 REST 历史消息填充投影
func (s *MessageStore) Load(sessionID string, messages []model.Message) error {
	s.mu.Lock()
	if sessionID == "" || sessionID != s.sessionID {
		s.mu.Unlock()
		return fmt.Errorf("会话 %q 未绑定到消息投影", sessionID)
	}
	s.messages = append([]model.Message(nil), messages...)
	s.mu.Unlock()
	s.notify()
	return nil
}

// AppendLocal 追加一条乐观的用户消息，立即可见，不等待网络往返
// 返回的消息带有本地生成的 ID 和关联 ID
func (s *MessageStore) AppendLocal(sessionID, content string) (*model.Message, error) {
	s.mu.Lock()
	if sessionID == "" || sessionID != s.sessionID {
		s.mu.Unlock()
		return nil, fmt.Errorf("会话 %q 未绑定到消息投影", sessionID)
	}
	msg := model.Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      model.RoleUser,
		Content:   content,
		ClientID:  uuid.New().String(),
		CreatedAt: time.Now(),
		Pending:   true,
	}
	s.messages = append(s.messages, msg)
	s.waiting = true
	s.mu.Unlock()
	s.notify()
	return &msg, nil
}

// Apply 应用一条服务端确认的事件
// 不属于当前绑定会话的事件静默丢弃（会话切换后的残留事件）
func (s *MessageStore) Apply(sessionID, action string, data json.RawMessage) {
	s.mu.Lock()
	if sessionID == "" || sessionID != s.sessionID {
		s.mu.Unlock()
		return
	}

	// 助手响应结束，只清除等待标记
	if action == model.ActionEnd {
		s.waiting = false
		s.mu.Unlock()
		s.notify()
		return
	}

	var msg model.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.mu.Unlock()
		log.Printf("[Store] 解析消息事件失败: %v", err)
		return
	}
	// 角色为空的负载不是消息（如 end 事件的空 data）
	if msg.Role == "" {
		s.mu.Unlock()
		return
	}
	msg.Pending = false

	// 对账：优先按关联 ID 精确匹配乐观消息
	if idx := s.findPendingByClientID(msg.ClientID); idx >= 0 {
		s.messages[idx] = msg
		s.mu.Unlock()
		s.notify()
		return
	}
	// 回退：时间窗口内按角色+内容匹配最近的乐观消息
	if idx := s.findPendingByContent(msg.Role, msg.Content); idx >= 0 {
		s.messages[idx] = msg
		s.mu.Unlock()
		s.notify()
		return
	}
	// 匹配不到则作为独立消息追加：宁可出现可见的重复，也不悄悄丢消息
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	s.notify()
}

// Messages 返回当前投影的副本
func (s *MessageStore) Messages(sessionID string) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sessionID == "" || sessionID != s.sessionID {
		return nil, fmt.Errorf("会话 %q 未绑定到消息投影", sessionID)
	}
	return append([]model.Message(nil), s.messages...), nil
}

// Waiting 是否在等待助手响应
func (s *MessageStore) Waiting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiting
}

// findPendingByClientID 按关联 ID 查找乐观消息（需持有锁）
func (s *MessageStore) findPendingByClientID(clientID string) int {
	if clientID == "" {
		return -1
	}
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Pending && s.messages[i].ClientID == clientID {
			return i
		}
	}
	return -1
}

// findPendingByContent 按角色+内容查找时间窗口内最近的乐观消息（需持有锁）
func (s *MessageStore) findPendingByContent(role, content string) int {
	for i := len(s.messages) - 1; i >= 0; i-- {
		m := s.messages[i]
		if !m.Pending || m.Role != role || m.Content != content {
			continue
		}
		if time.Since(m.CreatedAt) > pendingMatchWindow {
			return -1
		}
		return i
	}
	return -1
}

func (s *MessageStore) notify() {
	s.mu.Lock()
	handler := s.onChange
	s.mu.Unlock()
	if handler != nil {
		handler()
	}
}
