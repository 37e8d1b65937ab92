package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dbaudit/internal/audit"
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
	phaseApply  = "apply"
	phasePass   = "pass"
	phaseCancel = "cancel"
)

// 归档方式
const (
	ModeDest  = "dest"  // 归档到目标实例
	ModePurge = "purge" // 仅清理源表
	ModeFile  = "file"  // 归档到文件
)

// Archiver 归档执行器，pt-archiver 等外部工具的窄接口
type Archiver interface {
	// Run 执行一次归档，返回归档行数
	Run(ctx context.Context, cfg *ArchiveConfig, src, dest *resource.Instance) (int64, error)
}

// SubmitRequest 归档配置申请参数
type SubmitRequest struct {
	Title          string
	GroupID        uint
	SrcInstanceID  uint
	SrcDBName      string
	SrcTableName   string
	DestInstanceID uint
	DestDBName     string
	DestTableName  string
	Condition      string
	Mode           string
	NoDelete       bool
	SleepSeconds   int
	Remark         string
}

// Service 数据归档配置服务
type Service struct {
	db       *gorm.DB
	engine   *audit.Engine
	queue    queue.Client
	resolver *resource.Resolver
	archiver Archiver
	logger   *zap.Logger
}

// NewService 创建归档服务
func NewService(db *gorm.DB, engine *audit.Engine, q queue.Client, resolver *resource.Resolver, archiver Archiver) *Service {
	return &Service{
		db:       db,
		engine:   engine,
		queue:    q,
		resolver: resolver,
		archiver: archiver,
		logger:   logger.Get(),
	}
}

// SubmitConfig 提交归档配置并发起审批
func (s *Service) SubmitConfig(ctx context.Context, cfg audit.ReviewConfig, req SubmitRequest, submitter audit.User) (*ArchiveConfig, error) {
	group, err := s.resolver.GetGroup(ctx, req.GroupID)
	if err != nil {
		return nil, err
	}
	switch req.Mode {
	case ModeDest, ModePurge, ModeFile:
	default:
		return nil, common.NewBusinessError(common.CodeInvalidRequest, fmt.Sprintf("不支持的归档方式: %s", req.Mode))
	}
	if req.Mode == ModeDest && req.DestInstanceID == 0 {
		return nil, common.NewBusinessError(common.CodeInvalidRequest, "归档到目标实例时必须指定目标")
	}
	if req.Condition == "" {
		return nil, common.NewBusinessError(common.CodeInvalidRequest, "归档条件不能为空")
	}
	sleep := req.SleepSeconds
	if sleep <= 0 {
		sleep = 1
	}

	conf := &ArchiveConfig{
		TitleText:      req.Title,
		GroupID:        group.GroupID,
		GroupName:      group.GroupName,
		UserName:       submitter.Username,
		UserDisplay:    submitter.DisplayName,
		SrcInstanceID:  req.SrcInstanceID,
		SrcDBName:      req.SrcDBName,
		SrcTableName:   req.SrcTableName,
		DestInstanceID: req.DestInstanceID,
		DestDBName:     req.DestDBName,
		DestTableName:  req.DestTableName,
		Condition:      req.Condition,
		Mode:           req.Mode,
		NoDelete:       req.NoDelete,
		SleepSeconds:   sleep,
		Status:         audit.StatusWaiting,
		State:          false,
		ApplyRemark:    req.Remark,
	}
	if err := s.db.WithContext(ctx).Create(conf).Error; err != nil {
		return nil, fmt.Errorf("创建归档配置失败: %w", err)
	}

	auditRec, err := s.engine.CreateAudit(ctx, cfg, conf)
	if err != nil {
		return nil, err
	}

	s.notify(cfg, phaseApply, auditRec.AuditID, conf, string(audit.ActionSubmit),
		int(auditRec.CurrentStatus), submitter.Username, "")

	s.logger.Info("归档配置已提交",
		zap.Uint("archive_id", conf.ID),
		zap.String("user", submitter.Username),
	)
	return conf, nil
}

// OperateConfig 审批归档配置。
// 通过与驳回要求操作人是当前审批组成员；取消仅允许申请人或超级用户。
func (s *Service) OperateConfig(ctx context.Context, cfg audit.ReviewConfig, archiveID uint, action audit.WorkflowAction, operator audit.User, remark string) (*audit.WorkflowAuditDetail, error) {
	conf, err := s.GetConfig(ctx, archiveID)
	if err != nil {
		return nil, err
	}
	auditRec, err := s.engine.GetAuditByWorkflow(ctx, archiveID, audit.TypeArchive)
	if err != nil {
		return nil, err
	}

	switch action {
	case audit.ActionPass, audit.ActionReject:
		if err := s.engine.CanReview(ctx, cfg, operator, auditRec.AuditID); err != nil {
			return nil, err
		}
	case audit.ActionAbort:
		if !operator.IsSuperuser && operator.Username != conf.UserName {
			return nil, audit.ErrNotReviewer
		}
	default:
		return nil, audit.ErrIllegalTransition
	}

	detail, err := s.engine.Operate(ctx, auditRec.AuditID, action, operator, remark)
	if err != nil {
		return nil, err
	}

	// 审批结论投影：仅通过时启用调度
	updated, err := s.engine.GetAudit(ctx, auditRec.AuditID)
	if err != nil {
		return nil, err
	}
	if updated.CurrentStatus != audit.StatusWaiting {
		if err := conf.OnAuditResult(ctx, s.db, updated.CurrentStatus); err != nil {
			return nil, err
		}
	}

	phase := phasePass
	if updated.CurrentStatus.Terminal() {
		phase = phaseCancel
	}
	s.notify(cfg, phase, auditRec.AuditID, conf, string(action), int(updated.CurrentStatus), operator.Username, remark)

	return detail, nil
}

// DisableConfig 停用已启用的归档调度，不走审批
func (s *Service) DisableConfig(ctx context.Context, archiveID uint, operator audit.User) error {
	conf, err := s.GetConfig(ctx, archiveID)
	if err != nil {
		return err
	}
	if !operator.IsSuperuser && operator.Username != conf.UserName {
		return audit.ErrNotReviewer
	}
	return s.db.WithContext(ctx).Model(&ArchiveConfig{}).
		Where("id = ?", archiveID).
		Update("state", false).Error
}

// RunArchive 执行一次归档并记录日志。由队列任务触发。
func (s *Service) RunArchive(ctx context.Context, archiveID uint) error {
	conf, err := s.GetConfig(ctx, archiveID)
	if err != nil {
		return err
	}
	if !conf.State {
		s.logger.Warn("归档配置未启用，跳过执行", zap.Uint("archive_id", archiveID))
		return nil
	}

	src, err := s.resolver.GetInstance(ctx, conf.SrcInstanceID)
	if err != nil {
		return err
	}
	var dest *resource.Instance
	if conf.Mode == ModeDest {
		if dest, err = s.resolver.GetInstance(ctx, conf.DestInstanceID); err != nil {
			return err
		}
	}

	start := time.Now()
	rows, runErr := s.archiver.Run(ctx, conf, src, dest)
	end := time.Now()

	log := &ArchiveLog{
		ArchiveID:    conf.ID,
		Condition:    conf.Condition,
		ArchivedRows: rows,
		Status:       RunStatusSuccess,
		StartTime:    start,
		EndTime:      end,
	}
	if runErr != nil {
		log.Status = RunStatusFailed
		log.ErrorInfo = runErr.Error()
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(log).Error; err != nil {
			return err
		}
		return tx.Model(&ArchiveConfig{}).
			Where("id = ?", conf.ID).
			Update("last_archive_time", end).Error
	})
	if err != nil {
		return fmt.Errorf("记录归档日志失败: %w", err)
	}

	metrics.WorkflowExecutionsTotal.WithLabelValues(audit.TypeArchive.Label(), log.Status).Inc()
	metrics.WorkflowExecutionDuration.WithLabelValues(audit.TypeArchive.Label()).Observe(end.Sub(start).Seconds())

	if runErr != nil {
		return fmt.Errorf("归档执行失败: %w", runErr)
	}
	s.logger.Info("归档执行完成",
		zap.Uint("archive_id", conf.ID),
		zap.Int64("archived_rows", rows),
	)
	return nil
}

// GetConfig 按主键查询归档配置
func (s *Service) GetConfig(ctx context.Context, archiveID uint) (*ArchiveConfig, error) {
	var conf ArchiveConfig
	err := s.db.WithContext(ctx).Where("id = ?", archiveID).First(&conf).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NewBusinessError(common.CodeWorkflowNotFound, "")
		}
		return nil, fmt.Errorf("查询归档配置失败: %w", err)
	}
	return &conf, nil
}

// ListConfigs 按资源组可见性列出归档配置
func (s *Service) ListConfigs(ctx context.Context, user audit.User, page common.PaginationRequest) ([]ArchiveConfig, int64, error) {
	groups, err := s.resolver.UserGroups(ctx, user)
	if err != nil {
		return nil, 0, err
	}
	groupIDs := make([]uint, 0, len(groups))
	for _, g := range groups {
		groupIDs = append(groupIDs, g.GroupID)
	}

	query := s.db.WithContext(ctx).Model(&ArchiveConfig{}).
		Where("group_id IN ? OR user_name = ?", groupIDs, user.Username)
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计归档配置失败: %w", err)
	}
	var configs []ArchiveConfig
	err = query.Order("id DESC").
		Offset(page.GetOffset()).
		Limit(page.GetPageSize()).
		Find(&configs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("查询归档配置列表失败: %w", err)
	}
	return configs, total, nil
}

// ListLogs 归档配置的执行记录
func (s *Service) ListLogs(ctx context.Context, archiveID uint) ([]ArchiveLog, error) {
	var logs []ArchiveLog
	err := s.db.WithContext(ctx).
		Where("archive_id = ?", archiveID).
		Order("id DESC").
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("查询归档日志失败: %w", err)
	}
	return logs, nil
}

func (s *Service) notify(cfg audit.ReviewConfig, phase string, auditID uint, conf *ArchiveConfig, action string, status int, operator, remark string) {
	if !cfg.NotifyEnabled(phase) {
		return
	}
	err := s.queue.EnqueueNotify(tasks.NotifyAuditPayload{
		AuditID:      auditID,
		WorkflowID:   conf.ID,
		WorkflowType: int(audit.TypeArchive),
		Title:        conf.TitleText,
		GroupName:    conf.GroupName,
		Action:       action,
		Status:       status,
		Operator:     operator,
		Remark:       remark,
	})
	if err != nil {
		// 通知失败绝不阻断审批流程
		s.logger.Warn("投递通知任务失败", zap.Uint("archive_id", conf.ID), zap.Error(err))
	}
}
