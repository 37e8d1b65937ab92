package audit

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettingsStore 审批流配置存取
type SettingsStore struct {
	db *gorm.DB
}

// NewSettingsStore 创建配置存取器
func NewSettingsStore(db *gorm.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

// GetSettings 返回（工单类型，资源组）对应的有序审批组列表。
// 未配置时返回 nil，由调用方决定如何失败。
func (s *SettingsStore) GetSettings(ctx context.Context, workflowType WorkflowType, groupID uint) (GroupList, error) {
	var setting WorkflowAuditSetting
	err := s.db.WithContext(ctx).
		Where("workflow_type = ? AND group_id = ?", workflowType, groupID).
		First(&setting).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询审批流配置失败: %w", err)
	}
	if len(setting.AuditAuthGroups) == 0 {
		return nil, nil
	}
	return setting.AuditAuthGroups, nil
}

// ChangeSettings 新增或覆盖审批流配置（upsert 语义）
func (s *SettingsStore) ChangeSettings(ctx context.Context, workflowType WorkflowType, groupID uint, groupName string, authGroups []string) error {
	if len(authGroups) == 0 {
		return fmt.Errorf("审批组列表不能为空")
	}
	setting := WorkflowAuditSetting{
		WorkflowType:    workflowType,
		GroupID:         groupID,
		GroupName:       groupName,
		AuditAuthGroups: GroupList(authGroups),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "workflow_type"}, {Name: "group_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"group_name", "audit_auth_groups", "sys_time"}),
	}).Create(&setting).Error
	if err != nil {
		return fmt.Errorf("保存审批流配置失败: %w", err)
	}
	return nil
}

// ListSettings 列出某资源组的全部审批流配置
func (s *SettingsStore) ListSettings(ctx context.Context, groupID uint) ([]WorkflowAuditSetting, error) {
	var settings []WorkflowAuditSetting
	err := s.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("workflow_type ASC").
		Find(&settings).Error
	if err != nil {
		return nil, fmt.Errorf("查询审批流配置失败: %w", err)
	}
	return settings, nil
}
