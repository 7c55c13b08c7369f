// Package api 封装与后端的 HTTP API 交互
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"time"

	"agent-console-cli/internal/model"
)

// Client API 客户端
// baseURL: 例如 http://127.0.0.1:8000
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient 创建 API 客户端
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// NewClientWithTimeout 创建带自定义超时的 API 客户端
func NewClientWithTimeout(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Error API 请求返回非 2xx 时的错误
type Error struct {
	StatusCode int    // HTTP 状态码
	Body       string // 响应体（截断）
}

func (e *Error) Error() string {
	return fmt.Sprintf("API 错误: HTTP %d: %s", e.StatusCode, e.Body)
}

// --- 会话 ---

// SessionPatch 会话元数据更新请求
// 字段为 nil 表示不修改
type SessionPatch struct {
	Title  *string `json:"title,omitempty"`
	Status *string `json:"status,omitempty"`
}

// ListSessions 获取全部会话列表
func (c *Client) ListSessions() ([]model.Session, error) {
	var sessions []model.Session
	if err := c.get("/api/sessions", &sessions); err != nil {
		return nil, fmt.Errorf("获取会话列表失败: %w", err)
	}
	return sessions, nil
}

// CreateSession 创建新会话
func (c *Client) CreateSession(title string) (*model.Session, error) {
	body := map[string]string{"title": title}
	var session model.Session
	if err := c.post("/api/sessions", body, &session); err != nil {
		return nil, fmt.Errorf("创建会话失败: %w", err)
	}
	return &session, nil
}

// UpdateSession 更新会话元数据，返回服务端的权威结果
func (c *Client) UpdateSession(sessionID string, patch SessionPatch) (*model.Session, error) {
	var session model.Session
	if err := c.patch("/api/sessions/"+url.PathEscape(sessionID), patch, &session); err != nil {
		return nil, fmt.Errorf("更新会话失败: %w", err)
	}
	return &session, nil
}

// DeleteSession 删除会话
func (c *Client) DeleteSession(sessionID string) error {
	if err := c.delete("/api/sessions/" + url.PathEscape(sessionID)); err != nil {
		return fmt.Errorf("删除会话失败: %w", err)
	}
	return nil
}

// --- 消息 ---

// ListMessages 获取会话的全部历史消息（按时间顺序）
func (c *Client) ListMessages(sessionID string) ([]model.Message, error) {
	var messages []model.Message
	if err := c.get("/api/chat/"+url.PathEscape(sessionID)+"/messages", &messages); err != nil {
		return nil, fmt.Errorf("获取历史消息失败: %w", err)
	}
	return messages, nil
}

// SendMessage 发送用户消息
// clientID 为客户端生成的关联 ID，服务端会在推送事件中回传，
// 用于将服务端确认的消息与本地乐观消息对账。
// 实际的消息内容通过推送通道下发，此接口只返回确认。
func (c *Client) SendMessage(sessionID, content, clientID string) error {
	body := map[string]string{"content": content}
	if clientID != "" {
		body["client_id"] = clientID
	}
	if err := c.post("/api/chat/"+url.PathEscape(sessionID)+"/messages", body, nil); err != nil {
		return fmt.Errorf("发送消息失败: %w", err)
	}
	return nil
}

// --- 文件 ---

// ListFiles 获取会话的全部文件记录
func (c *Client) ListFiles(sessionID string) ([]model.FileRecord, error) {
	var files []model.FileRecord
	if err := c.get("/api/files?session_id="+url.QueryEscape(sessionID), &files); err != nil {
		return nil, fmt.Errorf("获取文件列表失败: %w", err)
	}
	return files, nil
}

// UploadFile 上传待上传文件（multipart），返回服务端的文件记录
func (c *Client) UploadFile(sessionID string, staged *model.StagedFile) (*model.FileRecord, error) {
	if staged == nil {
		return nil, fmt.Errorf("待上传文件为空")
	}

	f, err := os.Open(staged.Path)
	if err != nil {
		return nil, fmt.Errorf("打开文件失败: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", staged.Filename)
	if err != nil {
		return nil, fmt.Errorf("构造上传请求失败: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("构造上传请求失败: %w", err)
	}

	reqURL := c.baseURL + "/api/files?session_id=" + url.QueryEscape(sessionID)
	req, err := http.NewRequest("POST", reqURL, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var record model.FileRecord
	if err := c.do(req, &record); err != nil {
		return nil, fmt.Errorf("上传文件失败: %w", err)
	}
	return &record, nil
}

// DeleteFile 删除文件记录
func (c *Client) DeleteFile(fileID, sessionID string) error {
	path := "/api/files/" + url.PathEscape(fileID) + "?session_id=" + url.QueryEscape(sessionID)
	if err := c.delete(path); err != nil {
		return fmt.Errorf("删除文件失败: %w", err)
	}
	return nil
}

// --- 通用请求封装 ---

func (c *Client) get(path string, out interface{}) error {
	req, err := http.NewRequest("GET", c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(path string, body interface{}, out interface{}) error {
	return c.send("POST", path, body, out)
}

func (c *Client) patch(path string, body interface{}, out interface{}) error {
	return c.send("PATCH", path, body, out)
}

func (c *Client) delete(path string) error {
	req, err := http.NewRequest("DELETE", c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) send(method, path string, body interface{}, out interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 200)}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("解析响应失败: %w", err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
