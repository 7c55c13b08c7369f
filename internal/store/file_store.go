package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"agent-console-cli/internal/model"
)

// FileStore 文件投影
// 已确认的文件记录按 ID 唯一、按上传顺序保存；
// 待上传文件是纯本地状态，上传成功后转为记录，或被用户丢弃
type FileStore struct {
	mu        sync.Mutex
	sessionID string // 当前绑定的会话 ID，空表示未绑定
	files     []model.FileRecord
	staged    []model.StagedFile
	onChange  func()
}

// NewFileStore 创建文件投影
func NewFileStore() *FileStore {
	return &FileStore{}
}

// OnChange 设置投影变更回调
func (s *FileStore) OnChange(handler func()) {
	s.mu.Lock()
	s.onChange = handler
	s.mu.Unlock()
}

// Reset 清空投影并绑定到新会话
// sessionID 为空表示解绑；待上传文件一并清空
func (s *FileStore) Reset(sessionID string) {
	s.mu.Lock()
	s.sessionID = sessionID
	s.files = nil
	s.staged = nil
	s.mu.Unlock()
	s.notify()
}

// Load 用 REST 文件列表填充投影
func (s *FileStore) Load(sessionID string, files []model.FileRecord) error {
	s.mu.Lock()
	if sessionID == "" || sessionID != s.sessionID {
		s.mu.Unlock()
		return fmt.Errorf("会话 %q 未绑定到文件投影", sessionID)
	}
	s.files = append([]model.FileRecord(nil), files...)
	s.mu.Unlock()
	s.notify()
	return nil
}

// Stage 将本地文件加入待上传列表
// 只读取文件元信息，内容在上传时才读取
func (s *FileStore) Stage(sessionID, path string) (*model.StagedFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("读取文件信息失败: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s 是目录，无法上传", path)
	}

	s.mu.Lock()
	if sessionID == "" || sessionID != s.sessionID {
		s.mu.Unlock()
		return nil, fmt.Errorf("会话 %q 未绑定到文件投影", sessionID)
	}
	staged := model.StagedFile{
		LocalID:  uuid.New().String(),
		Path:     path,
		Filename: filepath.Base(path),
		Size:     info.Size(),
	}
	s.staged = append(s.staged, staged)
	s.mu.Unlock()
	s.notify()
	return &staged, nil
}

// DiscardStaged 丢弃一个待上传文件
func (s *FileStore) DiscardStaged(sessionID, localID string) error {
	s.mu.Lock()
	if sessionID == "" || sessionID != s.sessionID {
		s.mu.Unlock()
		return fmt.Errorf("会话 %q 未绑定到文件投影", sessionID)
	}
	for i, f := range s.staged {
		if f.LocalID == localID {
			s.staged = append(s.staged[:i], s.staged[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	s.notify()
	return nil
}

// CommitUpload 上传成功：移除待上传条目并追加服务端记录
// 会话已切换时整体丢弃（迟到的上传结果不得污染新会话的投影）
func (s *FileStore) CommitUpload(sessionID, localID string, record model.FileRecord) {
	s.mu.Lock()
	if sessionID == "" || sessionID != s.sessionID {
		s.mu.Unlock()
		return
	}
	for i, f := range s.staged {
		if f.LocalID == localID {
			s.staged = append(s.staged[:i], s.staged[i+1:]...)
			break
		}
	}
	s.appendRecordLocked(record)
	s.mu.Unlock()
	s.notify()
}

// Apply 应用一条服务端确认的文件事件
// 不属于当前绑定会话的事件静默丢弃
func (s *FileStore) Apply(sessionID, action string, data json.RawMessage) {
	s.mu.Lock()
	if sessionID == "" || sessionID != s.sessionID {
		s.mu.Unlock()
		return
	}

	switch action {
	case model.ActionUploaded:
		var record model.FileRecord
		if err := json.Unmarshal(data, &record); err != nil {
			s.mu.Unlock()
			log.Printf("[Store] 解析文件事件失败: %v", err)
			return
		}
		s.appendRecordLocked(record)
	case model.ActionDeleted:
		var record model.FileRecord
		if err := json.Unmarshal(data, &record); err != nil {
			s.mu.Unlock()
			log.Printf("[Store] 解析文件事件失败: %v", err)
			return
		}
		s.removeRecordLocked(record.ID)
	default:
		// 未知动作丢弃
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.notify()
}

// ApplyDeletion 按 ID 移除文件记录，ID 不存在时为 no-op
func (s *FileStore) ApplyDeletion(sessionID, fileID string) {
	s.mu.Lock()
	if sessionID == "" || sessionID != s.sessionID {
		s.mu.Unlock()
		return
	}
	s.removeRecordLocked(fileID)
	s.mu.Unlock()
	s.notify()
}

// Files 返回当前文件记录的副本
func (s *FileStore) Files(sessionID string) ([]model.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sessionID == "" || sessionID != s.sessionID {
		return nil, fmt.Errorf("会话 %q 未绑定到文件投影", sessionID)
	}
	return append([]model.FileRecord(nil), s.files...), nil
}

// Staged 返回当前待上传文件的副本
func (s *FileStore) Staged(sessionID string) ([]model.StagedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sessionID == "" || sessionID != s.sessionID {
		return nil, fmt.Errorf("会话 %q 未绑定到文件投影", sessionID)
	}
	return append([]model.StagedFile(nil), s.staged...), nil
}

// appendRecordLocked 追加记录，按 ID 去重（需持有锁）
// REST 响应和推送事件都会送达同一条记录，只保留先到的一份
func (s *FileStore) appendRecordLocked(record model.FileRecord) {
	for _, f := range s.files {
		if f.ID == record.ID {
			return
		}
	}
	s.files = append(s.files, record)
}

// removeRecordLocked 按 ID 移除记录（需持有锁）
func (s *FileStore) removeRecordLocked(fileID string) {
	for i, f := range s.files {
		if f.ID == fileID {
			s.files = append(s.files[:i], s.files[i+1:]...)
			return
		}
	}
}

func (s *FileStore) notify() {
	s.mu.Lock()
	handler := s.onChange
	s.mu.Unlock()
	if handler != nil {
		handler()
	}
}
