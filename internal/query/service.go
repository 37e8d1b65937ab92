package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dbaudit/internal/audit"
	"dbaudit/internal/common"
	"dbaudit/internal/infra/queue"
	"dbaudit/internal/logger"
	"dbaudit/internal/resource"
	"dbaudit/internal/worker/tasks"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 通知阶段名，与 audit.ReviewConfig.NotifyPhases 对应
const (
	phaseApply  = "apply"
	phasePass   = "pass"
	phaseCancel = "cancel"
)

// SubmitRequest 查询权限申请参数
type SubmitRequest struct {
	Title      string
	InstanceID uint
	GroupID    uint
	PrivType   int
	DBList     []string
	TableList  []string
	LimitNum   int
	ValidDays  int
	Remark     string
}

// Service 查询权限申请服务
type Service struct {
	db       *gorm.DB
	engine   *audit.Engine
	queue    queue.Client
	resolver *resource.Resolver
	logger   *zap.Logger
}

// NewService 创建查询权限服务
func NewService(db *gorm.DB, engine *audit.Engine, q queue.Client, resolver *resource.Resolver) *Service {
	return &Service{
		db:       db,
		engine:   engine,
		queue:    q,
		resolver: resolver,
		logger:   logger.Get(),
	}
}

// SubmitApply 提交查询权限申请并发起审批
func (s *Service) SubmitApply(ctx context.Context, cfg audit.ReviewConfig, req SubmitRequest, submitter audit.User) (*QueryPrivilegesApply, error) {
	group, err := s.resolver.GetGroup(ctx, req.GroupID)
	if err != nil {
		return nil, err
	}
	if req.PrivType != PrivTypeDatabase && req.PrivType != PrivTypeTable {
		return nil, common.NewBusinessError(common.CodeInvalidRequest, fmt.Sprintf("不支持的权限级别: %d", req.PrivType))
	}
	if req.PrivType == PrivTypeDatabase && len(req.DBList) == 0 {
		return nil, common.NewBusinessError(common.CodeInvalidRequest, "库级权限申请需要至少一个数据库")
	}
	if req.PrivType == PrivTypeTable && len(req.TableList) == 0 {
		return nil, common.NewBusinessError(common.CodeInvalidRequest, "表级权限申请需要至少一张表")
	}
	limitNum := req.LimitNum
	if limitNum <= 0 {
		limitNum = 100
	}
	validDays := req.ValidDays
	if validDays <= 0 {
		validDays = 30
	}

	apply := &QueryPrivilegesApply{
		TitleText:   req.Title,
		GroupID:     group.GroupID,
		GroupName:   group.GroupName,
		UserName:    submitter.Username,
		UserDisplay: submitter.DisplayName,
		InstanceID:  req.InstanceID,
		PrivType:    req.PrivType,
		DBList:      req.DBList,
		TableList:   req.TableList,
		LimitNum:    limitNum,
		ValidDate:   time.Now().AddDate(0, 0, validDays),
		Status:      audit.StatusWaiting,
		ApplyRemark: req.Remark,
	}
	if err := s.db.WithContext(ctx).Create(apply).Error; err != nil {
		return nil, fmt.Errorf("创建权限申请失败: %w", err)
	}

	auditRec, err := s.engine.CreateAudit(ctx, cfg, apply)
	if err != nil {
		return nil, err
	}

	s.notify(cfg, phaseApply, auditRec.AuditID, apply, string(audit.ActionSubmit),
		int(auditRec.CurrentStatus), submitter.Username, "")

	s.logger.Info("查询权限申请已提交",
		zap.Uint("apply_id", apply.ID),
		zap.String("user", submitter.Username),
	)
	return apply, nil
}

// OperateApply 审批查询权限申请。
// 通过与驳回要求操作人是当前审批组成员；取消仅允许申请人或超级用户。
func (s *Service) OperateApply(ctx context.Context, cfg audit.ReviewConfig, applyID uint, action audit.WorkflowAction, operator audit.User, remark string) (*audit.WorkflowAuditDetail, error) {
	apply, err := s.GetApply(ctx, applyID)
	if err != nil {
		return nil, err
	}
	auditRec, err := s.engine.GetAuditByWorkflow(ctx, applyID, audit.TypeQueryPriv)
	if err != nil {
		return nil, err
	}

	switch action {
	case audit.ActionPass, audit.ActionReject:
		if err := s.engine.CanReview(ctx, cfg, operator, auditRec.AuditID); err != nil {
			return nil, err
		}
	case audit.ActionAbort:
		if !operator.IsSuperuser && operator.Username != apply.UserName {
			return nil, audit.ErrNotReviewer
		}
	default:
		return nil, audit.ErrIllegalTransition
	}

	detail, err := s.engine.Operate(ctx, auditRec.AuditID, action, operator, remark)
	if err != nil {
		return nil, err
	}

	// 审批结论投影，通过时物化权限行
	updated, err := s.engine.GetAudit(ctx, auditRec.AuditID)
	if err != nil {
		return nil, err
	}
	if updated.CurrentStatus != audit.StatusWaiting {
		if err := apply.OnAuditResult(ctx, s.db, updated.CurrentStatus); err != nil {
			return nil, err
		}
	}

	phase := phasePass
	if updated.CurrentStatus.Terminal() {
		phase = phaseCancel
	}
	s.notify(cfg, phase, auditRec.AuditID, apply, string(action), int(updated.CurrentStatus), operator.Username, remark)

	return detail, nil
}

// GetApply 按主键查询权限申请
func (s *Service) GetApply(ctx context.Context, applyID uint) (*QueryPrivilegesApply, error) {
	var apply QueryPrivilegesApply
	err := s.db.WithContext(ctx).Where("id = ?", applyID).First(&apply).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NewBusinessError(common.CodeWorkflowNotFound, "")
		}
		return nil, fmt.Errorf("查询权限申请失败: %w", err)
	}
	return &apply, nil
}

// ListApplies 按资源组可见性列出权限申请，申请人始终可见自己的申请
func (s *Service) ListApplies(ctx context.Context, user audit.User, page common.PaginationRequest) ([]QueryPrivilegesApply, int64, error) {
	groups, err := s.resolver.UserGroups(ctx, user)
	if err != nil {
		return nil, 0, err
	}
	groupIDs := make([]uint, 0, len(groups))
	for _, g := range groups {
		groupIDs = append(groupIDs, g.GroupID)
	}

	query := s.db.WithContext(ctx).Model(&QueryPrivilegesApply{}).
		Where("group_id IN ? OR user_name = ?", groupIDs, user.Username)
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计权限申请失败: %w", err)
	}
	var applies []QueryPrivilegesApply
	err = query.Order("id DESC").
		Offset(page.GetOffset()).
		Limit(page.GetPageSize()).
		Find(&applies).Error
	if err != nil {
		return nil, 0, fmt.Errorf("查询权限申请列表失败: %w", err)
	}
	return applies, total, nil
}

// ListPrivileges 用户名下未回收的权限行
func (s *Service) ListPrivileges(ctx context.Context, userName string) ([]QueryPrivilege, error) {
	var privs []QueryPrivilege
	err := s.db.WithContext(ctx).
		Where("user_name = ? AND is_deleted = ?", userName, false).
		Order("id DESC").
		Find(&privs).Error
	if err != nil {
		return nil, fmt.Errorf("查询权限列表失败: %w", err)
	}
	return privs, nil
}

func (s *Service) notify(cfg audit.ReviewConfig, phase string, auditID uint, apply *QueryPrivilegesApply, action string, status int, operator, remark string) {
	if !cfg.NotifyEnabled(phase) {
		return
	}
	err := s.queue.EnqueueNotify(tasks.NotifyAuditPayload{
		AuditID:      auditID,
		WorkflowID:   apply.ID,
		WorkflowType: int(audit.TypeQueryPriv),
		Title:        apply.TitleText,
		GroupName:    apply.GroupName,
		Action:       action,
		Status:       status,
		Operator:     operator,
		Remark:       remark,
	})
	if err != nil {
		// 通知失败绝不阻断审批流程
		s.logger.Warn("投递通知任务失败", zap.Uint("apply_id", apply.ID), zap.Error(err))
	}
}
