package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dbaudit/internal/logger"
	"dbaudit/internal/metrics"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GroupDirectory 审批组目录，由资源组模块实现。
// 引擎通过它校验审批组存在性与审核资格，不直接依赖具体表结构。
type GroupDirectory interface {
	// AuthGroupExists 审批组是否真实存在
	AuthGroupExists(ctx context.Context, authGroupID string) (bool, error)
	// IsReviewer 用户是否属于该审批组且持有对应工单类型的审核权限
	IsReviewer(ctx context.Context, username, authGroupID string, workflowType WorkflowType) (bool, error)
}

// AutoReviewer SQL 上线工单的自动审核决策钩子
type AutoReviewer interface {
	Decide(ctx context.Context, cfg ReviewConfig, p Payload) (bool, error)
}

// Engine 审批流状态机引擎
type Engine struct {
	db           *gorm.DB
	settings     *SettingsStore
	directory    GroupDirectory
	autoReviewer AutoReviewer
	eventBus     *EventBus
	logger       *zap.Logger
}

// EngineOption 自定义配置
type EngineOption func(*Engine)

// WithGroupDirectory 注入审批组目录
func WithGroupDirectory(d GroupDirectory) EngineOption {
	return func(e *Engine) { e.directory = d }
}

// WithAutoReviewer 注入自动审核决策器
func WithAutoReviewer(r AutoReviewer) EngineOption {
	return func(e *Engine) { e.autoReviewer = r }
}

// WithEventBus 注入事件总线
func WithEventBus(bus *EventBus) EngineOption {
	return func(e *Engine) { e.eventBus = bus }
}

// WithEngineLogger 注入自定义日志器
func WithEngineLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine 创建审批流引擎
func NewEngine(db *gorm.DB, opts ...EngineOption) *Engine {
	e := &Engine{
		db:       db,
		settings: NewSettingsStore(db),
		logger:   logger.Get(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Settings 审批流配置存取器
func (e *Engine) Settings() *SettingsStore {
	return e.settings
}

// 动作合法性矩阵。动作不在当前状态的允许集合内时直接拒绝，不产生任何变更。
var allowedActions = map[WorkflowStatus][]WorkflowAction{
	StatusWaiting:  {ActionPass, ActionReject, ActionAbort},
	StatusPassed:   {ActionAbort, ActionExecuteSetTime, ActionExecuteStart, ActionExecuteEnd},
	StatusRejected: {},
	StatusAborted:  {},
}

// forUpdate 对查询加行锁。sqlite 没有行锁语法，靠其单写事务保证互斥。
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func actionAllowed(status WorkflowStatus, action WorkflowAction) bool {
	for _, a := range allowedActions[status] {
		if a == action {
			return true
		}
	}
	return false
}

// CreateAudit 为业务工单创建审批流。
// 自动审核决策仅对 SQL 上线工单生效，且先于审批流配置读取。
// 已存在未决审批流时返回重复提交错误；重复提交的最终保证是
// (workflow_id, workflow_type) 上的唯一索引，存在性预检只是更友好的提示。
func (e *Engine) CreateAudit(ctx context.Context, cfg ReviewConfig, p Payload) (*WorkflowAudit, error) {
	autoPass := false
	if p.Kind() == TypeSQLReview && e.autoReviewer != nil {
		pass, err := e.autoReviewer.Decide(ctx, cfg, p)
		if err != nil {
			return nil, fmt.Errorf("自动审核决策失败: %w", err)
		}
		autoPass = pass
	}

	var authGroups GroupList
	if !autoPass {
		groups, err := e.settings.GetSettings(ctx, p.Kind(), p.PayloadGroupID())
		if err != nil {
			return nil, err
		}
		if len(groups) == 0 {
			metrics.AuditCreateFailuresTotal.WithLabelValues(p.Kind().Label(), "no_flow").Inc()
			return nil, ErrNoAuditFlow
		}
		authGroups = groups
	}

	var auditRec *WorkflowAudit
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing WorkflowAudit
		err := forUpdate(tx).
			Where("workflow_id = ? AND workflow_type = ?", p.PayloadID(), p.Kind()).
			First(&existing).Error
		switch {
		case err == nil:
			if existing.CurrentStatus == StatusWaiting {
				return ErrDuplicateSubmission
			}
			// 历史审批流已终结，重新提交复用同一行，重置整条链
			auditRec = &existing
		case errors.Is(err, gorm.ErrRecordNotFound):
			auditRec = &WorkflowAudit{
				WorkflowID:   p.PayloadID(),
				WorkflowType: p.Kind(),
			}
		default:
			return fmt.Errorf("查询历史审批流失败: %w", err)
		}

		auditRec.GroupID = p.PayloadGroupID()
		auditRec.GroupName = p.PayloadGroupName()
		auditRec.WorkflowTitle = p.Title()
		auditRec.WorkflowRemark = p.Remark()
		auditRec.AuditAuthGroups = authGroups
		auditRec.CreateUser = p.Submitter()
		auditRec.CreateUserDisplay = p.SubmitterDisplay()

		var logInfo string
		if autoPass {
			auditRec.CurrentAudit = NoAudit
			auditRec.NextAudit = NoAudit
			auditRec.CurrentStatus = StatusPassed
			logInfo = "自动审核通过，无需人工审批"
		} else {
			auditRec.CurrentAudit = authGroups[0]
			if len(authGroups) > 1 {
				auditRec.NextAudit = authGroups[1]
			} else {
				auditRec.NextAudit = NoAudit
			}
			auditRec.CurrentStatus = StatusWaiting
			logInfo = fmt.Sprintf("等待审批，审批流程：%s", JoinGroups(authGroups))
		}

		if err := tx.Save(auditRec).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateSubmission
			}
			return fmt.Errorf("保存审批流失败: %w", err)
		}

		// 审批链镜像写回业务表，下游查询无需再访问审批引擎
		if err := p.SetAuditChain(ctx, tx, authGroups); err != nil {
			return fmt.Errorf("回写审批链失败: %w", err)
		}

		if autoPass {
			if err := p.OnAuditResult(ctx, tx, StatusPassed); err != nil {
				return fmt.Errorf("自动通过后业务状态回写失败: %w", err)
			}
		}

		return tx.Create(&WorkflowLog{
			AuditID:         auditRec.AuditID,
			OperationType:   ActionSubmit,
			OperationDesc:   ActionSubmit.Desc(),
			OperationInfo:   logInfo,
			Operator:        p.Submitter(),
			OperatorDisplay: p.SubmitterDisplay(),
		}).Error
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateSubmission) {
			metrics.AuditCreateFailuresTotal.WithLabelValues(p.Kind().Label(), "duplicate").Inc()
		}
		return nil, err
	}

	if autoPass {
		metrics.AuditDecisionsTotal.WithLabelValues(p.Kind().Label(), "passed", "auto").Inc()
	} else {
		metrics.AuditPendingGauge.WithLabelValues(p.Kind().Label()).Inc()
	}

	e.publish(AuditEvent{
		AuditID:      auditRec.AuditID,
		WorkflowID:   auditRec.WorkflowID,
		WorkflowType: auditRec.WorkflowType,
		Title:        auditRec.WorkflowTitle,
		GroupName:    auditRec.GroupName,
		Action:       ActionSubmit,
		Status:       auditRec.CurrentStatus,
		Operator:     p.Submitter(),
		AutoPassed:   autoPass,
	})

	return auditRec, nil
}

// Operate 推进审批流状态机。
// 整个读改写包裹在事务内并对审批流记录加行锁，
// 并发操作同一审批流时至多一次状态迁移生效。
func (e *Engine) Operate(ctx context.Context, auditID uint, action WorkflowAction, operator User, remark string) (*WorkflowAuditDetail, error) {
	var (
		detail *WorkflowAuditDetail
		evt    AuditEvent
	)

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var a WorkflowAudit
		err := forUpdate(tx).
			Where("audit_id = ?", auditID).
			First(&a).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAuditNotFound
			}
			return fmt.Errorf("查询审批流失败: %w", err)
		}

		if !actionAllowed(a.CurrentStatus, action) {
			return ErrIllegalTransition
		}

		wasWaiting := a.CurrentStatus == StatusWaiting

		switch action {
		case ActionPass:
			if a.NextAudit == NoAudit {
				// 最后一级审批人，整条链通过
				a.CurrentAudit = NoAudit
				a.CurrentStatus = StatusPassed
			} else {
				// 推进到下一级，链条仍处于等待状态
				a.CurrentAudit = a.NextAudit
				a.NextAudit = NextInChain(a.AuditAuthGroups, a.CurrentAudit)
			}
		case ActionReject:
			a.CurrentAudit = NoAudit
			a.NextAudit = NoAudit
			a.CurrentStatus = StatusRejected
		case ActionAbort:
			// 任何终止态都统一清空当前审批组
			a.CurrentAudit = NoAudit
			a.NextAudit = NoAudit
			a.CurrentStatus = StatusAborted
		case ActionExecuteSetTime, ActionExecuteStart, ActionExecuteEnd:
			// 执行阶段只记录日志，不改变审批结论
			if err := tx.Create(&WorkflowLog{
				AuditID:         a.AuditID,
				OperationType:   action,
				OperationDesc:   action.Desc(),
				OperationInfo:   remark,
				Operator:        operator.Username,
				OperatorDisplay: operator.DisplayName,
			}).Error; err != nil {
				return err
			}
			evt = e.buildEvent(&a, action, operator.Username, remark, false)
			return nil
		default:
			return ErrIllegalTransition
		}

		if err := tx.Save(&a).Error; err != nil {
			return fmt.Errorf("保存审批流状态失败: %w", err)
		}

		detail = &WorkflowAuditDetail{
			AuditID:     a.AuditID,
			AuditUser:   operator.Username,
			AuditStatus: decisionStatus(action),
			Remark:      remark,
		}
		if err := tx.Create(detail).Error; err != nil {
			return fmt.Errorf("保存审批明细失败: %w", err)
		}

		if err := tx.Create(&WorkflowLog{
			AuditID:         a.AuditID,
			OperationType:   action,
			OperationDesc:   action.Desc(),
			OperationInfo:   remark,
			Operator:        operator.Username,
			OperatorDisplay: operator.DisplayName,
		}).Error; err != nil {
			return err
		}

		if wasWaiting && a.CurrentStatus != StatusWaiting {
			metrics.AuditPendingGauge.WithLabelValues(a.WorkflowType.Label()).Dec()
			metrics.AuditDecisionsTotal.
				WithLabelValues(a.WorkflowType.Label(), resultLabel(a.CurrentStatus), "manual").Inc()
		}

		evt = e.buildEvent(&a, action, operator.Username, remark, false)
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.publish(evt)
	return detail, nil
}

// CanReview 校验用户能否对指定审批流执行通过/驳回。
// 默认拒绝：所有条件同时满足才放行。引擎的 Operate 不重复该校验，
// 调用方必须在 Operate 之前调用。
func (e *Engine) CanReview(ctx context.Context, cfg ReviewConfig, user User, auditID uint) error {
	audit, err := e.GetAudit(ctx, auditID)
	if err != nil {
		return err
	}

	if audit.CurrentStatus != StatusWaiting {
		return ErrIllegalTransition
	}

	if cfg.BanSelfAudit && !user.IsSuperuser && user.Username == audit.CreateUser {
		return ErrNotReviewer
	}

	if e.directory == nil {
		return ErrGroupIntegrity
	}

	exists, err := e.directory.AuthGroupExists(ctx, audit.CurrentAudit)
	if err != nil {
		return fmt.Errorf("查询审批组失败: %w", err)
	}
	if !exists {
		// 审批组被删而历史链仍引用它：必须显式暴露，
		// 静默跳过会让工单永远无人可审
		return ErrGroupIntegrity
	}

	if user.IsSuperuser {
		return nil
	}

	ok, err := e.directory.IsReviewer(ctx, user.Username, audit.CurrentAudit, audit.WorkflowType)
	if err != nil {
		return fmt.Errorf("查询审核资格失败: %w", err)
	}
	if !ok {
		return ErrNotReviewer
	}
	return nil
}

// GetAudit 按主键查询审批流
func (e *Engine) GetAudit(ctx context.Context, auditID uint) (*WorkflowAudit, error) {
	var a WorkflowAudit
	err := e.db.WithContext(ctx).Where("audit_id = ?", auditID).First(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAuditNotFound
		}
		return nil, fmt.Errorf("查询审批流失败: %w", err)
	}
	return &a, nil
}

// GetAuditByWorkflow 按业务工单查询审批流
func (e *Engine) GetAuditByWorkflow(ctx context.Context, workflowID uint, workflowType WorkflowType) (*WorkflowAudit, error) {
	var a WorkflowAudit
	err := e.db.WithContext(ctx).
		Where("workflow_id = ? AND workflow_type = ?", workflowID, workflowType).
		First(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAuditNotFound
		}
		return nil, fmt.Errorf("查询审批流失败: %w", err)
	}
	return &a, nil
}

// ListDetails 审批链决策明细，按时间正序
func (e *Engine) ListDetails(ctx context.Context, auditID uint) ([]WorkflowAuditDetail, error) {
	var details []WorkflowAuditDetail
	err := e.db.WithContext(ctx).
		Where("audit_id = ?", auditID).
		Order("audit_time ASC, audit_detail_id ASC").
		Find(&details).Error
	if err != nil {
		return nil, fmt.Errorf("查询审批明细失败: %w", err)
	}
	return details, nil
}

// ListLogs 工单操作日志，按时间正序
func (e *Engine) ListLogs(ctx context.Context, auditID uint) ([]WorkflowLog, error) {
	var logs []WorkflowLog
	err := e.db.WithContext(ctx).
		Where("audit_id = ?", auditID).
		Order("operation_time ASC, id ASC").
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("查询操作日志失败: %w", err)
	}
	return logs, nil
}

// PendingForGroups 指定审批组集合名下的待办审批流
func (e *Engine) PendingForGroups(ctx context.Context, authGroupIDs []string) ([]WorkflowAudit, error) {
	if len(authGroupIDs) == 0 {
		return nil, nil
	}
	var audits []WorkflowAudit
	err := e.db.WithContext(ctx).
		Where("current_status = ? AND current_audit IN ?", StatusWaiting, authGroupIDs).
		Order("create_time DESC").
		Find(&audits).Error
	if err != nil {
		return nil, fmt.Errorf("查询待办审批流失败: %w", err)
	}
	return audits, nil
}

// SubscribeAudit 订阅审批流事件
func (e *Engine) SubscribeAudit(auditID uint) (<-chan AuditEvent, func()) {
	if e.eventBus == nil {
		return nil, nil
	}
	return e.eventBus.Subscribe(auditID)
}

func (e *Engine) buildEvent(a *WorkflowAudit, action WorkflowAction, operator, remark string, autoPassed bool) AuditEvent {
	return AuditEvent{
		AuditID:      a.AuditID,
		WorkflowID:   a.WorkflowID,
		WorkflowType: a.WorkflowType,
		Title:        a.WorkflowTitle,
		GroupName:    a.GroupName,
		Action:       action,
		Status:       a.CurrentStatus,
		Operator:     operator,
		AutoPassed:   autoPassed,
		Remark:       remark,
	}
}

func (e *Engine) publish(evt AuditEvent) {
	if e.eventBus == nil {
		return
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	e.eventBus.Publish(evt)
	if e.logger != nil {
		e.logger.Debug("审批事件已发布",
			zap.Uint("audit_id", evt.AuditID),
			zap.String("action", string(evt.Action)),
			zap.Int("status", int(evt.Status)),
		)
	}
}

// decisionStatus 某一步决策产生的状态
func decisionStatus(action WorkflowAction) WorkflowStatus {
	switch action {
	case ActionPass:
		return StatusPassed
	case ActionReject:
		return StatusRejected
	case ActionAbort:
		return StatusAborted
	default:
		return StatusWaiting
	}
}

func resultLabel(s WorkflowStatus) string {
	switch s {
	case StatusPassed:
		return "passed"
	case StatusRejected:
		return "rejected"
	case StatusAborted:
		return "aborted"
	default:
		return "waiting"
	}
}
