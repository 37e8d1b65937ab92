package sqlreview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dbaudit/internal/audit"
	"dbaudit/internal/checker"
	"dbaudit/internal/common"
	"dbaudit/internal/infra/queue"
	"dbaudit/internal/logger"
	"dbaudit/internal/metrics"
	"dbaudit/internal/resource"
	"dbaudit/internal/worker/tasks"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 通知阶段名，与 audit.ReviewConfig.NotifyPhases 对应
const (
	phaseApply   = "apply"
	phasePass    = "pass"
	phaseCancel  = "cancel"
	phaseExecute = "execute"
)

// Service SQL 上线工单服务
type Service struct {
	db       *gorm.DB
	engine   *audit.Engine
	checker  checker.Checker
	queue    queue.Client
	resolver *resource.Resolver
	logger   *zap.Logger
}

// NewService 创建工单服务
func NewService(db *gorm.DB, engine *audit.Engine, chk checker.Checker, q queue.Client, resolver *resource.Resolver) *Service {
	return &Service{
		db:       db,
		engine:   engine,
		checker:  chk,
		queue:    q,
		resolver: resolver,
		logger:   logger.Get(),
	}
}

// SubmitRequest 工单提交请求
type SubmitRequest struct {
	WorkflowName string
	GroupID      uint
	GroupName    string
	InstanceID   uint
	DBName       string
	SQLContent   string
	Remark       string
	IsBackup     bool
	RunDateStart *time.Time
	RunDateEnd   *time.Time
}

// SubmitWorkflow 提交 SQL 上线工单：先过网关审核，再创建审批流。
// 网关返回错误级别结果时工单标记人工，自动审核对其一律失效。
func (s *Service) SubmitWorkflow(ctx context.Context, cfg audit.ReviewConfig, req SubmitRequest, submitter audit.User) (*SqlWorkflow, error) {
	inst, err := s.resolver.GetInstance(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}

	reviewSet, err := s.checker.ExecuteCheck(ctx, inst, req.DBName, req.SQLContent)
	if err != nil {
		return nil, common.NewBusinessError(common.CodeCheckerUnavailable, "")
	}
	reviewJSON, err := json.Marshal(reviewSet)
	if err != nil {
		return nil, fmt.Errorf("序列化审核结果失败: %w", err)
	}

	wf := &SqlWorkflow{
		WorkflowName:    req.WorkflowName,
		GroupID:         req.GroupID,
		GroupName:       req.GroupName,
		InstanceID:      req.InstanceID,
		DBName:          req.DBName,
		Engineer:        submitter.Username,
		EngineerDisplay: submitter.DisplayName,
		Status:          StatusManReviewing,
		IsManual:        reviewSet.HasError(),
		IsBackup:        req.IsBackup,
		RunDateStart:    req.RunDateStart,
		RunDateEnd:      req.RunDateEnd,
		WorkflowRemark:  req.Remark,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(wf).Error; err != nil {
			return fmt.Errorf("创建工单失败: %w", err)
		}
		return tx.Create(&SqlWorkflowContent{
			WorkflowID:    wf.ID,
			SQLContent:    req.SQLContent,
			ReviewContent: string(reviewJSON),
		}).Error
	})
	if err != nil {
		return nil, err
	}

	auditRec, err := s.engine.CreateAudit(ctx, cfg, wf)
	if err != nil {
		return nil, err
	}

	s.notify(cfg, phaseApply, auditRec.AuditID, wf, string(audit.ActionSubmit),
		int(auditRec.CurrentStatus), submitter.Username, "", auditRec.CurrentStatus == audit.StatusPassed)

	s.logger.Info("SQL 工单已提交",
		zap.Uint("workflow_id", wf.ID),
		zap.String("status", wf.Status),
		zap.Bool("auto_passed", auditRec.CurrentStatus == audit.StatusPassed),
	)
	return wf, nil
}

// OperateWorkflow 审核通过/驳回/取消工单。
// 通过与驳回要求操作人是当前审批组成员；取消仅允许提交人或超级用户。
func (s *Service) OperateWorkflow(ctx context.Context, cfg audit.ReviewConfig, workflowID uint, action audit.WorkflowAction, operator audit.User, remark string) (*audit.WorkflowAuditDetail, error) {
	wf, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	auditRec, err := s.engine.GetAuditByWorkflow(ctx, workflowID, audit.TypeSQLReview)
	if err != nil {
		return nil, err
	}

	switch action {
	case audit.ActionPass, audit.ActionReject:
		if err := s.engine.CanReview(ctx, cfg, operator, auditRec.AuditID); err != nil {
			return nil, err
		}
	case audit.ActionAbort:
		if !operator.IsSuperuser && operator.Username != wf.Engineer {
			return nil, audit.ErrNotReviewer
		}
	default:
		return nil, audit.ErrIllegalTransition
	}

	detail, err := s.engine.Operate(ctx, auditRec.AuditID, action, operator, remark)
	if err != nil {
		return nil, err
	}

	// 审批结论投影到业务状态，终止态顺带取消定时任务
	updated, err := s.engine.GetAudit(ctx, auditRec.AuditID)
	if err != nil {
		return nil, err
	}
	if updated.CurrentStatus != audit.StatusWaiting {
		if err := wf.OnAuditResult(ctx, s.db, updated.CurrentStatus); err != nil {
			return nil, err
		}
		if updated.CurrentStatus.Terminal() {
			if err := s.queue.CancelScheduledExecute(workflowID); err != nil {
				s.logger.Warn("取消定时执行失败", zap.Uint("workflow_id", workflowID), zap.Error(err))
			}
		}
	}

	phase := phasePass
	if updated.CurrentStatus.Terminal() {
		phase = phaseCancel
	}
	s.notify(cfg, phase, auditRec.AuditID, wf, string(action), int(updated.CurrentStatus), operator.Username, remark, false)

	return detail, nil
}

// SetTimedExecution 设置定时上线。只有审核通过的工单可以定时。
func (s *Service) SetTimedExecution(ctx context.Context, cfg audit.ReviewConfig, workflowID uint, runAt time.Time, operator audit.User) error {
	wf, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if wf.Status != StatusReviewPass && wf.Status != StatusTimingTask {
		return common.NewBusinessError(common.CodeWorkflowNotReady, "")
	}
	if runAt.Before(time.Now()) {
		return common.NewBusinessError(common.CodeInvalidRequest, "定时时间不能早于当前时间")
	}

	auditRec, err := s.engine.GetAuditByWorkflow(ctx, workflowID, audit.TypeSQLReview)
	if err != nil {
		return err
	}

	// 重复定时先清掉旧任务
	if err := s.queue.CancelScheduledExecute(workflowID); err != nil {
		return err
	}
	if err := s.queue.ScheduleExecute(tasks.ExecuteWorkflowPayload{
		WorkflowID: workflowID,
		Operator:   operator.Username,
	}, runAt); err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Model(&SqlWorkflow{}).
		Where("id = ?", workflowID).
		Update("status", StatusTimingTask).Error; err != nil {
		return fmt.Errorf("更新工单状态失败: %w", err)
	}

	_, err = s.engine.Operate(ctx, auditRec.AuditID, audit.ActionExecuteSetTime, operator,
		fmt.Sprintf("定时执行时间：%s", runAt.Format("2006-01-02 15:04:05")))
	return err
}

// EnqueueExecution 审核通过的工单进入执行队列
func (s *Service) EnqueueExecution(ctx context.Context, workflowID uint, operator audit.User) error {
	wf, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if wf.Status != StatusReviewPass {
		return common.NewBusinessError(common.CodeWorkflowNotReady, "")
	}

	if err := s.db.WithContext(ctx).Model(&SqlWorkflow{}).
		Where("id = ?", workflowID).
		Update("status", StatusQueuing).Error; err != nil {
		return fmt.Errorf("更新工单状态失败: %w", err)
	}

	return s.queue.EnqueueExecute(tasks.ExecuteWorkflowPayload{
		WorkflowID: workflowID,
		Operator:   operator.Username,
	})
}

// ExecuteWorkflow 真正执行工单，由队列消费者调用。
// 执行失败不回滚审批结论，结果只落在工单自身与操作日志里。
func (s *Service) ExecuteWorkflow(ctx context.Context, cfg audit.ReviewConfig, workflowID uint, operator audit.User) error {
	wf, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	switch wf.Status {
	case StatusReviewPass, StatusQueuing, StatusTimingTask:
	default:
		return common.NewBusinessError(common.CodeWorkflowNotReady, "")
	}

	auditRec, err := s.engine.GetAuditByWorkflow(ctx, workflowID, audit.TypeSQLReview)
	if err != nil {
		return err
	}
	content, err := s.GetContent(ctx, workflowID)
	if err != nil {
		return err
	}
	inst, err := s.resolver.GetInstance(ctx, wf.InstanceID)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Model(&SqlWorkflow{}).
		Where("id = ?", workflowID).
		Update("status", StatusExecuting).Error; err != nil {
		return fmt.Errorf("更新工单状态失败: %w", err)
	}
	if _, err := s.engine.Operate(ctx, auditRec.AuditID, audit.ActionExecuteStart, operator, "工单开始执行"); err != nil {
		return err
	}

	start := time.Now()
	result, execErr := s.checker.Execute(ctx, inst, wf.DBName, content.SQLContent, wf.IsBackup)
	elapsed := time.Since(start)

	finalStatus := StatusFinish
	var resultJSON []byte
	if execErr != nil {
		finalStatus = StatusException
		resultJSON, _ = json.Marshal(map[string]string{"error": execErr.Error()})
	} else {
		if result.HasError() {
			finalStatus = StatusException
		}
		resultJSON, _ = json.Marshal(result)
	}

	now := time.Now().UTC()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&SqlWorkflow{}).Where("id = ?", workflowID).
			Updates(map[string]any{"status": finalStatus, "finish_time": now}).Error; err != nil {
			return err
		}
		return tx.Model(&SqlWorkflowContent{}).Where("workflow_id = ?", workflowID).
			Update("execute_result", string(resultJSON)).Error
	})
	if err != nil {
		return fmt.Errorf("回写执行结果失败: %w", err)
	}

	info := fmt.Sprintf("执行结束，状态：%s，耗时：%s", finalStatus, elapsed.Round(time.Millisecond))
	if _, err := s.engine.Operate(ctx, auditRec.AuditID, audit.ActionExecuteEnd, operator, info); err != nil {
		return err
	}

	metrics.WorkflowExecutionsTotal.WithLabelValues(audit.TypeSQLReview.Label(), execLabel(finalStatus)).Inc()
	metrics.WorkflowExecutionDuration.WithLabelValues(audit.TypeSQLReview.Label()).Observe(elapsed.Seconds())

	s.notify(cfg, phaseExecute, auditRec.AuditID, wf, string(audit.ActionExecuteEnd), int(audit.StatusPassed), operator.Username, info, false)

	if execErr != nil {
		return fmt.Errorf("工单执行失败: %w", execErr)
	}
	return nil
}

// GetWorkflow 按主键查询工单
func (s *Service) GetWorkflow(ctx context.Context, workflowID uint) (*SqlWorkflow, error) {
	var wf SqlWorkflow
	err := s.db.WithContext(ctx).Where("id = ?", workflowID).First(&wf).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NewBusinessError(common.CodeWorkflowNotFound, "")
		}
		return nil, fmt.Errorf("查询工单失败: %w", err)
	}
	return &wf, nil
}

// GetContent 工单 SQL 正文
func (s *Service) GetContent(ctx context.Context, workflowID uint) (*SqlWorkflowContent, error) {
	var content SqlWorkflowContent
	err := s.db.WithContext(ctx).Where("workflow_id = ?", workflowID).First(&content).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NewBusinessError(common.CodeWorkflowNotFound, "")
		}
		return nil, fmt.Errorf("查询工单内容失败: %w", err)
	}
	return &content, nil
}

// ListWorkflows 按资源组可见性列出工单
func (s *Service) ListWorkflows(ctx context.Context, user audit.User, page common.PaginationRequest) ([]SqlWorkflow, int64, error) {
	groups, err := s.resolver.UserGroups(ctx, user)
	if err != nil {
		return nil, 0, err
	}
	if len(groups) == 0 {
		return nil, 0, nil
	}
	groupIDs := make([]uint, 0, len(groups))
	for _, g := range groups {
		groupIDs = append(groupIDs, g.GroupID)
	}

	query := s.db.WithContext(ctx).Model(&SqlWorkflow{}).Where("group_id IN ?", groupIDs)
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计工单失败: %w", err)
	}
	var workflows []SqlWorkflow
	err = query.Order("id DESC").
		Offset(page.GetOffset()).
		Limit(page.GetPageSize()).
		Find(&workflows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("查询工单列表失败: %w", err)
	}
	return workflows, total, nil
}

func (s *Service) notify(cfg audit.ReviewConfig, phase string, auditID uint, wf *SqlWorkflow, action string, status int, operator, remark string, autoPassed bool) {
	if !cfg.NotifyEnabled(phase) {
		metrics.NotificationsTotal.WithLabelValues("all", "skipped").Inc()
		return
	}
	err := s.queue.EnqueueNotify(tasks.NotifyAuditPayload{
		AuditID:      auditID,
		WorkflowID:   wf.ID,
		WorkflowType: int(audit.TypeSQLReview),
		Title:        wf.WorkflowName,
		GroupName:    wf.GroupName,
		Action:       action,
		Status:       status,
		Operator:     operator,
		Remark:       remark,
		AutoPassed:   autoPassed,
	})
	if err != nil {
		// 通知失败绝不阻断审批流程
		s.logger.Warn("投递通知任务失败", zap.Uint("workflow_id", wf.ID), zap.Error(err))
	}
}

func execLabel(status string) string {
	if status == StatusFinish {
		return "finish"
	}
	return "exception"
}
