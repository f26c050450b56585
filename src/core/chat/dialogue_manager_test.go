package chat

import (
	"encoding/json"
	"testing"

	"am-chat-server/src/core/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMemory 记录保存调用的内存桩
type fakeMemory struct {
	saved  []Message
	stored string
}

func (f *fakeMemory) QueryMemory(_ string) (string, error) { return f.stored, nil }

func (f *fakeMemory) SaveMemory(dialogue []Message) error {
	f.saved = append(f.saved, dialogue...)
	return nil
}

func (f *fakeMemory) ClearMemory() error {
	f.saved = nil
	f.stored = ""
	return nil
}

func (f *fakeMemory) QueryMessagesLimit(limit int) ([]Message, error) { return nil, nil }

func TestDialogueManager_SetSystemMessage(t *testing.T) {
	dm := NewDialogueManager(utils.NewTestLogger(), nil)

	dm.SetSystemMessage("你是一个助手")
	dm.Put(Message{Role: "user", Content: "你好"})

	// 重复设置应更新而非追加
	dm.SetSystemMessage("新的提示词")

	dialogue := dm.GetLLMDialogue()
	require.Len(t, dialogue, 2)
	assert.Equal(t, "system", dialogue[0].Role)
	assert.Equal(t, "新的提示词", dialogue[0].Content)
}

func TestDialogueManager_PutPersistsUserAndAssistant(t *testing.T) {
	mem := &fakeMemory{}
	dm := NewDialogueManager(utils.NewTestLogger(), mem)

	dm.SetSystemMessage("提示词")
	dm.Put(Message{Role: "user", Content: "你好"})
	dm.Put(Message{Role: "assistant", Content: "你好！"})
	dm.Put(Message{Role: "assistant", Content: ""})         // 空内容不落库
	dm.Put(Message{Role: "tool", Content: "result", ToolCallID: "c1"}) // tool消息不经memory落库

	require.Len(t, mem.saved, 2)
	assert.Equal(t, "user", mem.saved[0].Role)
	assert.Equal(t, "assistant", mem.saved[1].Role)
	assert.Equal(t, 5, dm.Length())
}

func TestDialogueManager_KeepRecentMessages(t *testing.T) {
	dm := NewDialogueManager(utils.NewTestLogger(), nil)
	dm.SetSystemMessage("提示词")
	dm.Put(Message{Role: "user", Content: "q1"})
	dm.Put(Message{Role: "assistant", Content: "a1"})
	dm.Put(Message{Role: "tool", Content: "r1", ToolCallID: "c1"})
	dm.Put(Message{Role: "assistant", Content: "a2"})
	dm.Put(Message{Role: "user", Content: "q2"})
	dm.Put(Message{Role: "assistant", Content: "a3"})

	dm.KeepRecentMessages(4)

	dialogue := dm.GetLLMDialogue()
	assert.Equal(t, "system", dialogue[0].Role)
	// 截断后不应以tool消息开头
	for _, msg := range dialogue[1:] {
		require.NotEqual(t, "tool", msg.Role)
		break
	}
	assert.Equal(t, "a3", dialogue[len(dialogue)-1].Content)
}

func TestDialogueManager_KeepRecentMessagesTrimsLeadingTool(t *testing.T) {
	dm := NewDialogueManager(utils.NewTestLogger(), nil)
	dm.SetSystemMessage("提示词")
	dm.Put(Message{Role: "user", Content: "q1"})
	dm.Put(Message{Role: "tool", Content: "r1", ToolCallID: "c1"})
	dm.Put(Message{Role: "assistant", Content: "a1"})

	dm.KeepRecentMessages(2)

	dialogue := dm.GetLLMDialogue()
	require.Len(t, dialogue, 2)
	assert.Equal(t, "system", dialogue[0].Role)
	assert.Equal(t, "assistant", dialogue[1].Role)
}

func TestDialogueManager_LoadFromJSONKeepsSystem(t *testing.T) {
	dm := NewDialogueManager(utils.NewTestLogger(), nil)
	dm.SetSystemMessage("提示词")

	history, err := json.Marshal([]Message{
		{Role: "user", Content: "q1"},
		{Role: "assistant", Content: "a1"},
	})
	require.NoError(t, err)
	require.NoError(t, dm.LoadFromJSON(string(history)))

	dialogue := dm.GetLLMDialogue()
	require.Len(t, dialogue, 3)
	assert.Equal(t, "system", dialogue[0].Role)
	assert.Equal(t, "q1", dialogue[1].Content)

	// 空字符串是无历史，不报错
	require.NoError(t, dm.LoadFromJSON(""))
	assert.Equal(t, 3, dm.Length())
}

func TestDialogueManager_LoadFromStorage(t *testing.T) {
	history, err := json.Marshal([]Message{{Role: "user", Content: "历史消息"}})
	require.NoError(t, err)
	mem := &fakeMemory{stored: string(history)}

	dm := NewDialogueManager(utils.NewTestLogger(), mem)
	dm.SetSystemMessage("提示词")
	require.NoError(t, dm.LoadFromStorage())

	dialogue := dm.GetLLMDialogue()
	require.Len(t, dialogue, 2)
	assert.Equal(t, "历史消息", dialogue[1].Content)
}

func TestDialogueManager_ToJSON(t *testing.T) {
	dm := NewDialogueManager(utils.NewTestLogger(), nil)
	dm.SetSystemMessage("提示词")
	dm.Put(Message{Role: "user", Content: "你好"})

	withSystem, err := dm.ToJSON(true)
	require.NoError(t, err)
	withoutSystem, err := dm.ToJSON(false)
	require.NoError(t, err)

	var msgs []Message
	require.NoError(t, json.Unmarshal([]byte(withSystem), &msgs))
	assert.Len(t, msgs, 2)
	require.NoError(t, json.Unmarshal([]byte(withoutSystem), &msgs))
	assert.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].Role)
}

func TestDialogueManager_Clear(t *testing.T) {
	mem := &fakeMemory{}
	dm := NewDialogueManager(utils.NewTestLogger(), mem)
	dm.Put(Message{Role: "user", Content: "你好"})

	dm.Clear()
	assert.Equal(t, 0, dm.Length())
	assert.Empty(t, mem.saved)
}
