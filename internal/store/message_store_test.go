package store

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-console-cli/internal/model"
)

func confirmedMessage(t *testing.T, msg model.Message) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	return data
}

func TestAppendLocalVisibleImmediately(t *testing.T) {
	// 乐观消息不等网络往返，立即出现在投影中
	s := NewMessageStore()
	s.Reset("s1")

	msg, err := s.AppendLocal("s1", "hi")
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.NotEmpty(t, msg.ClientID)
	assert.True(t, msg.Pending)

	messages, err := s.Messages("s1")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "hi", messages[0].Content)
	assert.Equal(t, model.RoleUser, messages[0].Role)
	assert.True(t, s.Waiting())
}

func TestAppendLocalRequiresBoundSession(t *testing.T) {
	// 未绑定会话时的写入是对调用方的契约错误
	s := NewMessageStore()

	_, err := s.AppendLocal("s1", "hi")
	assert.Error(t, err)

	s.Reset("s1")
	_, err = s.AppendLocal("s2", "hi")
	assert.Error(t, err)
}

func TestApplyReconcilesByClientID(t *testing.T) {
	// 服务端回传关联 ID 时精确对账，不产生重复
	s := NewMessageStore()
	s.Reset("s1")

	local, err := s.AppendLocal("s1", "hi")
	require.NoError(t, err)

	s.Apply("s1", model.ActionCreated, confirmedMessage(t, model.Message{
		ID:        "srv-1",
		SessionID: "s1",
		Role:      model.RoleUser,
		Content:   "hi",
		ClientID:  local.ClientID,
	}))

	messages, err := s.Messages("s1")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "srv-1", messages[0].ID)
	assert.False(t, messages[0].Pending)
}

func TestApplyReconcilesByContentFallback(t *testing.T) {
	// 服务端不回传关联 ID 时，按角色+内容匹配最近的乐观消息
	s := NewMessageStore()
	s.Reset("s1")

	_, err := s.AppendLocal("s1", "hi")
	require.NoError(t, err)

	s.Apply("s1", model.ActionCreated, confirmedMessage(t, model.Message{
		ID:        "srv-1",
		SessionID: "s1",
		Role:      model.RoleUser,
		Content:   "hi",
	}))

	messages, err := s.Messages("s1")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "srv-1", messages[0].ID)
	assert.False(t, messages[0].Pending)
}

func TestApplyUnmatchedAppendsAsIndependent(t *testing.T) {
	// 匹配不到乐观消息的确认消息作为独立条目追加：宁重复不丢失
	s := NewMessageStore()
	s.Reset("s1")

	_, err := s.AppendLocal("s1", "hi")
	require.NoError(t, err)

	s.Apply("s1", model.ActionCreated, confirmedMessage(t, model.Message{
		ID:      "srv-1",
		Role:    model.RoleUser,
		Content: "别的内容",
	}))

	messages, err := s.Messages("s1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.True(t, messages[0].Pending)
	assert.Equal(t, "别的内容", messages[1].Content)
}

func TestApplyAssistantMessagesAppendInOrder(t *testing.T) {
	// 确认消息的投影顺序等于服务端下发顺序
	s := NewMessageStore()
	s.Reset("s1")

	for i := 0; i < 3; i++ {
		s.Apply("s1", model.ActionMessage, confirmedMessage(t, model.Message{
			ID:      fmt.Sprintf("srv-%d", i),
			Role:    model.RoleAssistant,
			Content: fmt.Sprintf("第 %d 条", i),
		}))
	}

	messages, err := s.Messages("s1")
	require.NoError(t, err)
	require.Len(t, messages, 3)
	for i, msg := range messages {
		assert.Equal(t, fmt.Sprintf("srv-%d", i), msg.ID)
	}
}

func TestOptimisticNeverAfterConfirmed(t *testing.T) {
	// 乐观条目始终先于其确认条目出现（被原位替换），绝不排在其后
	s := NewMessageStore()
	s.Reset("s1")

	local, err := s.AppendLocal("s1", "hi")
	require.NoError(t, err)

	s.Apply("s1", model.ActionMessage, confirmedMessage(t, model.Message{
		ID: "a-1", Role: model.RoleAssistant, Content: "回答",
	}))
	s.Apply("s1", model.ActionCreated, confirmedMessage(t, model.Message{
		ID: "srv-1", Role: model.RoleUser, Content: "hi", ClientID: local.ClientID,
	}))

	messages, err := s.Messages("s1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "srv-1", messages[0].ID, "确认消息应原位替换乐观消息，保持原有位置")
	assert.Equal(t, "a-1", messages[1].ID)
}

func TestApplyEndClearsWaiting(t *testing.T) {
	// assistant_response 的 end 事件只清除等待标记
	s := NewMessageStore()
	s.Reset("s1")

	_, err := s.AppendLocal("s1", "hi")
	require.NoError(t, err)
	require.True(t, s.Waiting())

	s.Apply("s1", model.ActionEnd, json.RawMessage(`null`))

	assert.False(t, s.Waiting())
	messages, err := s.Messages("s1")
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

func TestApplyStaleSessionDropped(t *testing.T) {
	// 非当前绑定会话的事件静默丢弃
	s := NewMessageStore()
	s.Reset("b")

	s.Apply("a", model.ActionCreated, confirmedMessage(t, model.Message{
		ID: "srv-1", Role: model.RoleUser, Content: "来自旧会话",
	}))

	messages, err := s.Messages("b")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestApplyRoleLessPayloadDropped(t *testing.T) {
	// 角色为空的负载不是消息，不进入投影
	s := NewMessageStore()
	s.Reset("s1")

	s.Apply("s1", model.ActionMessage, json.RawMessage(`{"id":"x"}`))
	s.Apply("s1", model.ActionMessage, json.RawMessage(`not json`))

	messages, err := s.Messages("s1")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestResetClearsProjection(t *testing.T) {
	// 切换会话时 Reset 防止跨会话串数据
	s := NewMessageStore()
	s.Reset("a")
	_, err := s.AppendLocal("a", "hi")
	require.NoError(t, err)

	s.Reset("b")

	messages, err := s.Messages("b")
	require.NoError(t, err)
	assert.Empty(t, messages)
	assert.False(t, s.Waiting())

	_, err = s.Messages("a")
	assert.Error(t, err)
}

func TestLoadSeedsHistory(t *testing.T) {
	s := NewMessageStore()
	s.Reset("s1")

	history := []model.Message{
		{ID: "1", Role: model.RoleUser, Content: "早"},
		{ID: "2", Role: model.RoleAssistant, Content: "你好"},
	}
	require.NoError(t, s.Load("s1", history))
	require.Error(t, s.Load("other", history))

	messages, err := s.Messages("s1")
	require.NoError(t, err)
	assert.Len(t, messages, 2)
}

func TestOnChangeFires(t *testing.T) {
	s := NewMessageStore()
	var fired int
	s.OnChange(func() { fired++ })

	s.Reset("s1")
	_, err := s.AppendLocal("s1", "hi")
	require.NoError(t, err)

	assert.GreaterOrEqual(t, fired, 2)
}
