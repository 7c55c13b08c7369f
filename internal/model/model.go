// Package model 定义客户端侧使用的数据结构
// 字段与后端 REST / 推送通道的 JSON 格式一一对应
package model

import (
	"encoding/json"
	"time"
)

// SessionStatus 会话状态常量
const (
	SessionStatusActive = "active" // 活跃中
	SessionStatusIdle   = "idle"   // 空闲
	SessionStatusClosed = "closed" // 已关闭
)

// MessageRole 消息角色常量
const (
	RoleUser      = "user"      // 用户消息
	RoleAssistant = "assistant" // AI 助手响应
)

// Session 会话
// 客户端同一时刻只有一个"活跃"会话，切换活跃会话是整个同步核心的枢纽事件
type Session struct {
	// ID 会话唯一标识（服务端生成的 UUID）
	ID string `json:"id"`

	// Title 会话标题
	Title string `json:"title"`

	// Status 会话状态：active / idle / closed
	Status string `json:"status"`

	// CreatedAt 创建时间
	CreatedAt time.Time `json:"created_at"`
}

// Message 会话中的一条消息
// 按 created_at 排序，时间相同按到达顺序排序
type Message struct {
	// ID 消息唯一标识
	// 乐观消息使用本地生成的 UUID，服务端确认后替换为服务端 ID
	ID string `json:"id"`

	// SessionID 所属会话 ID
	SessionID string `json:"session_id"`

	// Role 消息角色：user / assistant
	Role string `json:"role"`

	// Content 消息内容
	Content string `json:"content"`

	// ClientID 客户端生成的关联 ID
	// 发送消息时随 REST 请求携带，服务端在推送事件中原样回传，
	// 用于将服务端确认的消息与本地乐观消息精确对账
	ClientID string `json:"client_id,omitempty"`

	// CreatedAt 消息创建时间
	CreatedAt time.Time `json:"created_at"`

	// Pending 是否为尚未经服务端确认的乐观消息（仅本地使用）
	Pending bool `json:"-"`
}

// FileRecord 服务端已确认的文件记录
// 按 ID 唯一，会话内去重
type FileRecord struct {
	// ID 文件唯一标识
	ID string `json:"id"`

	// Filename 原始文件名
	Filename string `json:"filename"`

	// MimeType 文件 MIME 类型
	MimeType string `json:"mime_type"`

	// Size 文件大小（字节）
	Size int64 `json:"size"`

	// UploadedAt 上传时间
	UploadedAt time.Time `json:"uploaded_at"`
}

// StagedFile 待上传文件
// 纯本地状态，从不经过推送通道；上传成功后转为 FileRecord，或被用户丢弃
type StagedFile struct {
	// LocalID 本地生成的唯一标识
	LocalID string `json:"local_id"`

	// Path 文件在本地磁盘上的路径
	Path string `json:"path"`

	// Filename 文件名
	Filename string `json:"filename"`

	// Size 文件大小（字节）
	Size int64 `json:"size"`
}

// UpdateType 推送事件类型常量
const (
	UpdateTypeFile              = "file"               // 文件变更
	UpdateTypeTask              = "task"               // 任务变更（预留）
	UpdateTypeMessage           = "message"            // 消息
	UpdateTypeSession           = "session"            // 会话元数据变更
	UpdateTypeAssistantResponse = "assistant_response" // 助手响应
)

// UpdateAction 推送事件动作常量
const (
	ActionCreated  = "created"  // 创建
	ActionMessage  = "message"  // 助手消息
	ActionEnd      = "end"      // 助手响应结束
	ActionUploaded = "uploaded" // 文件已上传
	ActionDeleted  = "deleted"  // 文件已删除
	ActionUpdated  = "updated"  // 元数据更新
)

// Update 推送通道的事件信封
// 服务端 → 客户端，消费一次即丢弃，不做持久化
type Update struct {
	// Type 事件类型，决定路由到哪个资源
	Type string `json:"type"`

	// Action 事件动作，含义由 Type 决定
	Action string `json:"action"`

	// Data 事件负载，形状由 Type 决定，由各资源自行解析
	Data json.RawMessage `json:"data"`
}
