package chat

import (
	"sync"

	"am-chat-server/src/core/providers"
	"am-chat-server/src/core/utils"
)

// ProcessResult 分片处理器返回的结果
type ProcessResult struct {
	MessageOrder  int    // 当前助手消息在对话中的顺序
	GeneratedText string // 累积生成的文本
	Success       bool
}

// ChunkHandler 分片处理器（外部注入的协作方）
// 接收流式分片和当前轮次上下文快照，完成落库等副作用
type ChunkHandler func(chunk providers.Chunk, tc TurnContext) (ProcessResult, error)

type taskOutcome struct {
	result ProcessResult
	err    error
}

// QueuedTask 入队的单个分片任务
type QueuedTask struct {
	seq   int64
	chunk providers.Chunk
	done  chan taskOutcome
}

// Seq 任务的单调序号（按入队顺序分配）
func (t *QueuedTask) Seq() int64 { return t.seq }

// Wait 阻塞等待该任务的处理器执行完毕，返回其结果或错误
func (t *QueuedTask) Wait() (ProcessResult, error) {
	out := <-t.done
	return out.result, out.err
}

// ProcessingQueue 顺序处理队列
// 保证同一轮次内分片处理器严格按入队顺序一次执行一个，
// 即使分片到达快于上一个分片的落库速度。
// 单个任务失败只体现在它自己的 Wait 上，不影响后续任务。
// 未实现取消和超时：处理器挂起会无限期阻塞队列。
type ProcessingQueue struct {
	mu         sync.Mutex
	tasks      []*QueuedTask
	pending    int
	processing bool
	nextSeq    int64
	snapshot   TurnContext
	handler    ChunkHandler
	logger     *utils.Logger
}

// NewProcessingQueue 创建顺序处理队列
// tc 是本轮次的初始上下文快照
func NewProcessingQueue(handler ChunkHandler, tc TurnContext, logger *utils.Logger) *ProcessingQueue {
	return &ProcessingQueue{
		snapshot: tc,
		handler:  handler,
		logger:   logger,
	}
}

// Enqueue 追加一个分片任务并返回其句柄
// 队列空闲时立即（异步）开始处理，否则任务排在所有未完成任务之后
func (q *ProcessingQueue) Enqueue(chunk providers.Chunk) *QueuedTask {
	q.mu.Lock()
	q.nextSeq++
	task := &QueuedTask{
		seq:   q.nextSeq,
		chunk: chunk,
		done:  make(chan taskOutcome, 1),
	}
	q.tasks = append(q.tasks, task)
	q.pending++
	start := !q.processing
	if start {
		q.processing = true
	}
	q.mu.Unlock()

	if start {
		go q.drain()
	}
	return task
}

// QueueLength 已入队但尚未完成的任务数（执行中或等待中）
func (q *ProcessingQueue) QueueLength() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// IsProcessing 是否有处理器正在执行
func (q *ProcessingQueue) IsProcessing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing
}

// Snapshot 当前上下文快照（队列随任务完成更新）
func (q *ProcessingQueue) Snapshot() TurnContext {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshot
}

// drain 排空循环：逐个取出队首任务并执行处理器
// 处理器成功后把返回的 MessageOrder/GeneratedText 写回快照，
// 后续任务由此观察到前序任务的结果
func (q *ProcessingQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.processing = false
			q.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks = q.tasks[1:]
		snapshot := q.snapshot
		q.mu.Unlock()

		result, err := q.handler(task.chunk, snapshot)

		q.mu.Lock()
		if err == nil {
			q.snapshot.MessageOrder = result.MessageOrder
			q.snapshot.GeneratedText = result.GeneratedText
		}
		q.pending--
		finished := len(q.tasks) == 0
		if finished {
			q.processing = false
		}
		q.mu.Unlock()

		if err != nil {
			q.logger.Error("处理流式分片失败: seq=%d, %v", task.seq, err)
		}
		task.done <- taskOutcome{result: result, err: err}

		if finished {
			return
		}
	}
}
