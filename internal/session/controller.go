// Package session 管理活跃会话及其生命周期
// 控制器是整个同步核心的编排者：选择活跃会话 → 重建连接 → 重置并填充各投影
package session

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"agent-console-cli/internal/api"
	"agent-console-cli/internal/model"
	"agent-console-cli/internal/store"
	"agent-console-cli/internal/ws"
)

// Notifier 面向用户的非致命通知
// REST 请求失败不会中断程序，只通过该接口提示用户
type Notifier interface {
	Success(msg string)
	Error(msg string)
}

// Controller 会话控制器
// 持有活跃会话 ID、连接管理器、各投影和 API 客户端
// 依赖在应用入口显式注入，不使用任何全局查找
type Controller struct {
	mu       sync.Mutex
	api      *api.Client
	conn     *ws.Manager
	messages *store.MessageStore
	files    *store.FileStore
	notifier Notifier

	active   *model.Session
	sessions []model.Session // 会话列表缓存
}

// NewController 创建会话控制器
func NewController(apiClient *api.Client, conn *ws.Manager, messages *store.MessageStore, files *store.FileStore, notifier Notifier) *Controller {
	return &Controller{
		api:      apiClient,
		conn:     conn,
		messages: messages,
		files:    files,
		notifier: notifier,
	}
}

// Refresh 从服务端拉取会话列表并更新缓存
func (c *Controller) Refresh() error {
	sessions, err := c.api.ListSessions()
	if err != nil {
		c.notifyError(err.Error())
		return err
	}
	c.mu.Lock()
	c.sessions = sessions
	c.mu.Unlock()
	return nil
}

// Sessions 返回会话列表缓存的副本
func (c *Controller) Sessions() []model.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Session(nil), c.sessions...)
}

// Active 返回活跃会话的副本，无活跃会话时返回 nil
func (c *Controller) Active() *model.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil
	}
	s := *c.active
	return &s
}

// ActiveID 返回活跃会话 ID，无活跃会话时返回空字符串
func (c *Controller) ActiveID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return ""
	}
	return c.active.ID
}

// Create 创建新会话并切换为活跃会话
func (c *Controller) Create(title string) (*model.Session, error) {
	session, err := c.api.CreateSession(title)
	if err != nil {
		// 创建失败不改动任何本地状态
		c.notifyError(err.Error())
		return nil, err
	}

	c.mu.Lock()
	c.sessions = append(c.sessions, *session)
	c.mu.Unlock()

	if err := c.Select(session); err != nil {
		return session, err
	}
	return session, nil
}

// Select 切换活跃会话
// 传入 nil 表示取消选择：解绑连接并清空所有投影
// 切换顺序：先解绑旧连接（含重置投影），再填充历史，最后绑定新会话的推送通道
func (c *Controller) Select(session *model.Session) error {
	if session == nil {
		c.conn.Unbind()
		c.messages.Reset("")
		c.files.Reset("")
		c.mu.Lock()
		c.active = nil
		c.mu.Unlock()
		return nil
	}

	c.mu.Lock()
	s := *session
	c.active = &s
	c.mu.Unlock()

	// 重置投影并绑定到新会话，旧会话的残留事件从此被丢弃
	c.messages.Reset(session.ID)
	c.files.Reset(session.ID)

	// 填充历史（失败只提示，不阻止绑定推送通道）
	if messages, err := c.api.ListMessages(session.ID); err != nil {
		c.notifyError(err.Error())
	} else if err := c.messages.Load(session.ID, messages); err != nil {
		log.Printf("[Session] 填充历史消息失败: %v", err)
	}
	if files, err := c.api.ListFiles(session.ID); err != nil {
		c.notifyError(err.Error())
	} else if err := c.files.Load(session.ID, files); err != nil {
		log.Printf("[Session] 填充文件列表失败: %v", err)
	}

	if err := c.conn.Bind(session.ID); err != nil {
		// 连接失败可通过重新选择会话重试
		c.notifyError(err.Error())
		return err
	}
	return nil
}

// Delete 删除会话
// 删除的是活跃会话时，等价于 Select(nil)；删除失败时本地状态保持不变
func (c *Controller) Delete(sessionID string) error {
	if err := c.api.DeleteSession(sessionID); err != nil {
		c.notifyError(err.Error())
		return err
	}

	c.mu.Lock()
	for i, s := range c.sessions {
		if s.ID == sessionID {
			c.sessions = append(c.sessions[:i], c.sessions[i+1:]...)
			break
		}
	}
	wasActive := c.active != nil && c.active.ID == sessionID
	c.mu.Unlock()

	if wasActive {
		return c.Select(nil)
	}
	return nil
}

// Update 更新活跃会话的元数据
// 不做乐观合并：以服务端返回的权威结果整体替换本地记录，失败时保持原值
func (c *Controller) Update(patch api.SessionPatch) error {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return fmt.Errorf("当前没有活跃会话")
	}
	sessionID := c.active.ID
	c.mu.Unlock()

	session, err := c.api.UpdateSession(sessionID, patch)
	if err != nil {
		c.notifyError(err.Error())
		return err
	}

	c.replaceSession(session)
	return nil
}

// ApplyRemoteUpdate 应用推送通道下发的会话元数据事件
// 不属于活跃会话的事件静默丢弃
func (c *Controller) ApplyRemoteUpdate(sessionID string, data json.RawMessage) {
	var session model.Session
	if err := json.Unmarshal(data, &session); err != nil {
		log.Printf("[Session] 解析会话事件失败: %v", err)
		return
	}

	c.mu.Lock()
	stale := c.active == nil || c.active.ID != sessionID || session.ID != sessionID
	c.mu.Unlock()
	if stale {
		return
	}
	c.replaceSession(&session)
}

// SendMessage 发送用户消息
// 乐观条目立即写入投影，REST 请求在后台完成；
// 请求完成时会话已切换的话，结果直接丢弃
func (c *Controller) SendMessage(content string) error {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return fmt.Errorf("当前没有活跃会话")
	}
	sessionID := c.active.ID
	c.mu.Unlock()

	msg, err := c.messages.AppendLocal(sessionID, content)
	if err != nil {
		return err
	}

	go func() {
		err := c.api.SendMessage(sessionID, content, msg.ClientID)
		if err == nil {
			return
		}
		// 完成时校验会话身份，迟到的失败不提示
		if c.ActiveID() != sessionID {
			return
		}
		c.notifyError(err.Error())
	}()
	return nil
}

// StageFile 把本地文件加入活跃会话的待上传列表
func (c *Controller) StageFile(path string) (*model.StagedFile, error) {
	sessionID := c.ActiveID()
	if sessionID == "" {
		return nil, fmt.Errorf("当前没有活跃会话")
	}
	return c.files.Stage(sessionID, path)
}

// UploadStaged 上传全部待上传文件
// 每个文件独立上传：失败的文件保留在待上传列表以便重试并提示用户，
// 成功的文件立即转为已确认记录；上传途中会话切换则丢弃剩余结果
func (c *Controller) UploadStaged() error {
	sessionID := c.ActiveID()
	if sessionID == "" {
		return fmt.Errorf("当前没有活跃会话")
	}

	staged, err := c.files.Staged(sessionID)
	if err != nil {
		return err
	}

	for i := range staged {
		f := staged[i]
		record, err := c.api.UploadFile(sessionID, &f)

		// 上传期间可能发生会话切换，迟到的结果不得影响新会话
		if c.ActiveID() != sessionID {
			return nil
		}
		if err != nil {
			c.notifyError(fmt.Sprintf("上传文件失败: %s", f.Filename))
			continue
		}
		c.files.CommitUpload(sessionID, f.LocalID, *record)
		c.notifySuccess(fmt.Sprintf("文件已上传: %s", record.Filename))
	}
	return nil
}

// DeleteFile 删除活跃会话的文件
// 删除失败时本地记录保持不变
func (c *Controller) DeleteFile(fileID string) error {
	sessionID := c.ActiveID()
	if sessionID == "" {
		return fmt.Errorf("当前没有活跃会话")
	}

	if err := c.api.DeleteFile(fileID, sessionID); err != nil {
		c.notifyError(err.Error())
		return err
	}
	if c.ActiveID() != sessionID {
		return nil
	}
	c.files.ApplyDeletion(sessionID, fileID)
	c.notifySuccess("文件已删除")
	return nil
}

// Close 解绑连接，程序退出时调用
func (c *Controller) Close() {
	c.conn.Unbind()
}

// replaceSession 用服务端的权威结果替换活跃会话和缓存条目
func (c *Controller) replaceSession(session *model.Session) {
	c.mu.Lock()
	if c.active != nil && c.active.ID == session.ID {
		s := *session
		c.active = &s
	}
	for i := range c.sessions {
		if c.sessions[i].ID == session.ID {
			c.sessions[i] = *session
			break
		}
	}
	c.mu.Unlock()
}

func (c *Controller) notifyError(msg string) {
	if c.notifier != nil {
		c.notifier.Error(msg)
	}
}

func (c *Controller) notifySuccess(msg string) {
	if c.notifier != nil {
		c.notifier.Success(msg)
	}
}
