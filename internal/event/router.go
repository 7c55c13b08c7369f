// Package event 解析推送通道的事件信封并分发到各资源
package event

import (
	"encoding/json"
	"log"

	"agent-console-cli/internal/model"
)

// MessageSink 接收消息类事件的投影
type MessageSink interface {
	Apply(sessionID, action string, data json.RawMessage)
}

// FileSink 接收文件类事件的投影
type FileSink interface {
	Apply(sessionID, action string, data json.RawMessage)
}

// SessionSink 接收会话元数据事件的接收方
type SessionSink interface {
	ApplyRemoteUpdate(sessionID string, data json.RawMessage)
}

// Router 事件路由器
// 按事件类型将负载分发到对应的资源投影，保持到达顺序，不做重排或批处理
type Router struct {
	messages MessageSink
	files    FileSink
	sessions SessionSink
}

// NewRouter 创建事件路由器
func NewRouter(messages MessageSink, files FileSink, sessions SessionSink) *Router {
	return &Router{
		messages: messages,
		files:    files,
		sessions: sessions,
	}
}

// Route 解析并分发一帧事件
// sessionID 为该帧所属连接绑定的会话
func (r *Router) Route(sessionID string, raw []byte) {
	var update model.Update
	if err := json.Unmarshal(raw, &update); err != nil {
		// 解析失败只记录不中断，后续事件不受影响
		log.Printf("[Router] 解析事件失败: %v", err)
		return
	}

	switch update.Type {
	case model.UpdateTypeMessage, model.UpdateTypeAssistantResponse:
		if r.messages != nil {
			r.messages.Apply(sessionID, update.Action, update.Data)
		}
	case model.UpdateTypeFile:
		if r.files != nil {
			r.files.Apply(sessionID, update.Action, update.Data)
		}
	case model.UpdateTypeSession:
		if r.sessions != nil {
			r.sessions.ApplyRemoteUpdate(sessionID, update.Data)
		}
	case model.UpdateTypeTask:
		// 预留类型，暂不处理
	default:
		// 未知类型静默丢弃，保持向前兼容
	}
}
