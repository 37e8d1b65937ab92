package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"dbaudit/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// ArchiveRunner 归档执行抽象，便于注入 mock
type ArchiveRunner interface {
	RunArchive(ctx context.Context, archiveID uint) error
}

type ArchiveHandler struct {
	runner ArchiveRunner
	logger *zap.Logger
}

func NewArchiveHandler(runner ArchiveRunner, logger *zap.Logger) *ArchiveHandler {
	return &ArchiveHandler{
		runner: runner,
		logger: logger,
	}
}

func (h *ArchiveHandler) HandleRunArchive(ctx context.Context, t *asynq.Task) error {
	var p tasks.RunArchivePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json unmarshal failed: %w", err)
	}

	if err := h.runner.RunArchive(ctx, p.ArchiveID); err != nil {
		h.logger.Error("归档任务执行失败",
			zap.Uint("archive_id", p.ArchiveID),
			zap.Error(err),
		)
		return err
	}
	return nil
}
