package chat

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"am-chat-server/src/core/providers"
	"am-chat-server/src/core/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessingQueue_FIFOOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	var active atomic.Int32
	var overlapped atomic.Bool

	handler := func(chunk providers.Chunk, tc TurnContext) (ProcessResult, error) {
		if active.Add(1) > 1 {
			overlapped.Store(true)
		}
		// 模拟较慢的落库操作，让后续分片在处理期间到达
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		order = append(order, chunk.Content)
		mu.Unlock()
		active.Add(-1)
		return ProcessResult{GeneratedText: tc.GeneratedText + chunk.Content, Success: true}, nil
	}

	queue := NewProcessingQueue(handler, TurnContext{ChatID: "c1", TurnID: 1}, utils.NewTestLogger())

	tasks := make([]*QueuedTask, 0, 10)
	for i := 0; i < 10; i++ {
		tasks = append(tasks, queue.Enqueue(providers.Chunk{Content: fmt.Sprintf("%d", i)}))
	}

	for _, task := range tasks {
		_, err := task.Wait()
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 10)
	for i := 0; i < 10; i++ {
		assert.Equal(t, fmt.Sprintf("%d", i), order[i])
	}
	assert.False(t, overlapped.Load(), "handlers must never run concurrently")
}

func TestProcessingQueue_DrainsToIdle(t *testing.T) {
	handler := func(chunk providers.Chunk, tc TurnContext) (ProcessResult, error) {
		return ProcessResult{GeneratedText: tc.GeneratedText + chunk.Content, Success: true}, nil
	}
	queue := NewProcessingQueue(handler, TurnContext{ChatID: "c1", TurnID: 1}, utils.NewTestLogger())

	var tasks []*QueuedTask
	for i := 0; i < 5; i++ {
		tasks = append(tasks, queue.Enqueue(providers.Chunk{Content: "x"}))
	}
	for _, task := range tasks {
		_, err := task.Wait()
		require.NoError(t, err)
	}

	assert.Equal(t, 0, queue.QueueLength())
	assert.False(t, queue.IsProcessing())
}

func TestProcessingQueue_ThreadsContextBetweenTasks(t *testing.T) {
	handler := func(chunk providers.Chunk, tc TurnContext) (ProcessResult, error) {
		// 每个任务都应观察到前序任务累积的文本
		return ProcessResult{
			MessageOrder:  tc.MessageOrder + 1,
			GeneratedText: tc.GeneratedText + chunk.Content,
			Success:       true,
		}, nil
	}
	queue := NewProcessingQueue(handler, TurnContext{ChatID: "c1", TurnID: 1}, utils.NewTestLogger())

	var last *QueuedTask
	for _, s := range []string{"你好", "，", "世界"} {
		last = queue.Enqueue(providers.Chunk{Content: s})
	}
	result, err := last.Wait()
	require.NoError(t, err)
	assert.Equal(t, "你好，世界", result.GeneratedText)

	snapshot := queue.Snapshot()
	assert.Equal(t, "你好，世界", snapshot.GeneratedText)
	assert.Equal(t, 3, snapshot.MessageOrder)
}

func TestProcessingQueue_ErrorDoesNotBlockSiblings(t *testing.T) {
	handler := func(chunk providers.Chunk, tc TurnContext) (ProcessResult, error) {
		if chunk.Content == "bad" {
			return ProcessResult{}, fmt.Errorf("处理失败")
		}
		return ProcessResult{GeneratedText: tc.GeneratedText + chunk.Content, Success: true}, nil
	}
	queue := NewProcessingQueue(handler, TurnContext{ChatID: "c1", TurnID: 1}, utils.NewTestLogger())

	taskA := queue.Enqueue(providers.Chunk{Content: "bad"})
	taskB := queue.Enqueue(providers.Chunk{Content: "ok"})

	_, errA := taskA.Wait()
	assert.Error(t, errA)

	resultB, errB := taskB.Wait()
	require.NoError(t, errB)
	assert.Equal(t, "ok", resultB.GeneratedText)

	// 失败任务不更新快照，后续任务从上一个成功状态继续
	assert.Equal(t, "ok", queue.Snapshot().GeneratedText)
	assert.Equal(t, 0, queue.QueueLength())
	assert.False(t, queue.IsProcessing())
}

func TestProcessingQueue_RestartsAfterIdle(t *testing.T) {
	handler := func(chunk providers.Chunk, tc TurnContext) (ProcessResult, error) {
		return ProcessResult{GeneratedText: tc.GeneratedText + chunk.Content, Success: true}, nil
	}
	queue := NewProcessingQueue(handler, TurnContext{ChatID: "c1", TurnID: 1}, utils.NewTestLogger())

	_, err := queue.Enqueue(providers.Chunk{Content: "a"}).Wait()
	require.NoError(t, err)
	assert.False(t, queue.IsProcessing())

	// 队列排空后再次入队应重新启动处理
	result, err := queue.Enqueue(providers.Chunk{Content: "b"}).Wait()
	require.NoError(t, err)
	assert.Equal(t, "ab", result.GeneratedText)
}

func TestProcessingQueue_SequenceIDsMonotonic(t *testing.T) {
	handler := func(chunk providers.Chunk, tc TurnContext) (ProcessResult, error) {
		return ProcessResult{Success: true}, nil
	}
	queue := NewProcessingQueue(handler, TurnContext{}, utils.NewTestLogger())

	var prev int64
	for i := 0; i < 5; i++ {
		task := queue.Enqueue(providers.Chunk{})
		assert.Greater(t, task.Seq(), prev)
		prev = task.Seq()
	}
}
