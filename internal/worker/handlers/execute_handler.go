package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"dbaudit/internal/audit"
	"dbaudit/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// WorkflowExecutor SQL 工单执行器抽象，便于注入 mock
type WorkflowExecutor interface {
	ExecuteWorkflow(ctx context.Context, cfg audit.ReviewConfig, workflowID uint, operator audit.User) error
}

type ExecuteHandler struct {
	executor WorkflowExecutor
	cfg      audit.ReviewConfig
	logger   *zap.Logger
}

func NewExecuteHandler(executor WorkflowExecutor, cfg audit.ReviewConfig, logger *zap.Logger) *ExecuteHandler {
	return &ExecuteHandler{
		executor: executor,
		cfg:      cfg,
		logger:   logger,
	}
}

func (h *ExecuteHandler) HandleExecuteWorkflow(ctx context.Context, t *asynq.Task) error {
	var p tasks.ExecuteWorkflowPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json unmarshal failed: %w", err)
	}

	h.logger.Info("开始执行工单",
		zap.Uint("workflow_id", p.WorkflowID),
		zap.String("operator", p.Operator),
	)

	operator := audit.User{Username: p.Operator}
	if err := h.executor.ExecuteWorkflow(ctx, h.cfg, p.WorkflowID, operator); err != nil {
		h.logger.Error("工单执行失败",
			zap.Uint("workflow_id", p.WorkflowID),
			zap.Error(err),
		)
		return err
	}

	h.logger.Info("工单执行完成", zap.Uint("workflow_id", p.WorkflowID))
	return nil
}
