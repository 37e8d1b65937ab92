package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"dbaudit/internal/notification"
	"dbaudit/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// MessageSender 通知发送器抽象，便于注入 mock
type MessageSender interface {
	Send(ctx context.Context, msg *notification.Message) error
}

// MessageRenderer 事件到消息的渲染器抽象
type MessageRenderer interface {
	Render(ctx context.Context, p *tasks.NotifyAuditPayload) (*notification.Message, error)
}

type NotifyHandler struct {
	renderer MessageRenderer
	sender   MessageSender
	logger   *zap.Logger
}

func NewNotifyHandler(renderer MessageRenderer, sender MessageSender, logger *zap.Logger) *NotifyHandler {
	return &NotifyHandler{
		renderer: renderer,
		sender:   sender,
		logger:   logger,
	}
}

func (h *NotifyHandler) HandleNotifyAudit(ctx context.Context, t *asynq.Task) error {
	var p tasks.NotifyAuditPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json unmarshal failed: %w", err)
	}

	msg, err := h.renderer.Render(ctx, &p)
	if err != nil {
		h.logger.Error("渲染通知消息失败",
			zap.Uint("audit_id", p.AuditID),
			zap.Error(err),
		)
		return err
	}

	if err := h.sender.Send(ctx, msg); err != nil {
		h.logger.Error("通知发送失败",
			zap.Uint("audit_id", p.AuditID),
			zap.String("subject", msg.Subject),
			zap.Error(err),
		)
		return err
	}

	h.logger.Info("通知已发送",
		zap.Uint("audit_id", p.AuditID),
		zap.String("action", p.Action),
	)
	return nil
}
