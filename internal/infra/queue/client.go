package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dbaudit/internal/config"
	"dbaudit/internal/worker/tasks"

	"github.com/hibiken/asynq"
)

// 定时执行任务使用固定可推导的任务 ID，取消时无需查表
func timedExecutionTaskID(workflowID uint) string {
	return fmt.Sprintf("sqlreview-timed-%d", workflowID)
}

// Client 任务队列客户端接口
type Client interface {
	// EnqueueNotify 投递审批事件通知，发后即忘
	EnqueueNotify(payload tasks.NotifyAuditPayload) error
	// EnqueueExecute 立即投递 SQL 工单执行
	EnqueueExecute(payload tasks.ExecuteWorkflowPayload) error
	// ScheduleExecute 在指定时间投递 SQL 工单执行（定时上线）
	ScheduleExecute(payload tasks.ExecuteWorkflowPayload, runAt time.Time) error
	// CancelScheduledExecute 取消尚未触发的定时执行
	CancelScheduledExecute(workflowID uint) error
	// EnqueueArchive 投递一次归档执行
	EnqueueArchive(payload tasks.RunArchivePayload) error
	Close() error
}

type asynqClient struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewClient 创建任务队列客户端
func NewClient(cfg config.RedisConfig) Client {
	opt := asynq.RedisClientOpt{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	return &asynqClient{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
	}
}

func (c *asynqClient) EnqueueNotify(payload tasks.NotifyAuditPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(tasks.TypeNotifyAudit, data)

	// 通知失败重试由队列兜底，绝不反压审批流程
	_, err = c.client.Enqueue(task,
		asynq.MaxRetry(3),
		asynq.Timeout(time.Minute),
		asynq.Queue("notify"),
	)
	if err != nil {
		return fmt.Errorf("enqueue task failed: %w", err)
	}
	return nil
}

func (c *asynqClient) EnqueueExecute(payload tasks.ExecuteWorkflowPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(tasks.TypeExecuteWorkflow, data)

	// 执行不自动重试：失败结果回写工单，由人工决定后续
	_, err = c.client.Enqueue(task,
		asynq.MaxRetry(0),
		asynq.Timeout(30*time.Minute),
		asynq.Queue("sqlreview"),
	)
	if err != nil {
		return fmt.Errorf("enqueue task failed: %w", err)
	}
	return nil
}

func (c *asynqClient) ScheduleExecute(payload tasks.ExecuteWorkflowPayload, runAt time.Time) error {
	payload.ScheduledAt = runAt
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(tasks.TypeExecuteWorkflow, data)

	_, err = c.client.Enqueue(task,
		asynq.ProcessAt(runAt),
		asynq.TaskID(timedExecutionTaskID(payload.WorkflowID)),
		asynq.MaxRetry(0),
		asynq.Timeout(30*time.Minute),
		asynq.Queue("sqlreview"),
	)
	if err != nil {
		return fmt.Errorf("schedule task failed: %w", err)
	}
	return nil
}

func (c *asynqClient) CancelScheduledExecute(workflowID uint) error {
	err := c.inspector.DeleteTask("sqlreview", timedExecutionTaskID(workflowID))
	if err != nil {
		// 任务不存在视为已取消
		if errors.Is(err, asynq.ErrTaskNotFound) {
			return nil
		}
		return fmt.Errorf("cancel scheduled task failed: %w", err)
	}
	return nil
}

func (c *asynqClient) EnqueueArchive(payload tasks.RunArchivePayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(tasks.TypeRunArchive, data)

	_, err = c.client.Enqueue(task,
		asynq.MaxRetry(1),
		asynq.Timeout(time.Hour),
		asynq.Queue("default"),
	)
	if err != nil {
		return fmt.Errorf("enqueue task failed: %w", err)
	}
	return nil
}

func (c *asynqClient) Close() error {
	if err := c.inspector.Close(); err != nil {
		return err
	}
	return c.client.Close()
}
