package resource

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"dbaudit/internal/audit"
	"dbaudit/internal/common"

	"gorm.io/gorm"
)

// Resolver 资源组与权限组成员关系的只读投影。
// 没有内部状态机，但它的输出决定了所有下游的列表、过滤与授权判断。
type Resolver struct {
	db *gorm.DB
}

// NewResolver 创建解析器
func NewResolver(db *gorm.DB) *Resolver {
	return &Resolver{db: db}
}

// UserGroups 返回用户可见的资源组。
// 超级用户可见全部未删除资源组，普通用户仅可见显式关联的组。
func (r *Resolver) UserGroups(ctx context.Context, user audit.User) ([]ResourceGroup, error) {
	var groups []ResourceGroup
	query := r.db.WithContext(ctx).Where("is_deleted = ?", false)
	if !user.IsSuperuser {
		query = query.Where(
			"group_id IN (?)",
			r.db.Model(&UserResourceGroup{}).Select("group_id").Where("username = ?", user.Username),
		)
	}
	if err := query.Order("group_id ASC").Find(&groups).Error; err != nil {
		return nil, fmt.Errorf("查询用户资源组失败: %w", err)
	}
	return groups, nil
}

// UserInstances 通过资源组投影出用户可见的实例，可按主从、引擎类型与标签进一步过滤
func (r *Resolver) UserInstances(ctx context.Context, user audit.User, filter InstanceFilter) ([]Instance, error) {
	groups, err := r.UserGroups(ctx, user)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, nil
	}
	groupIDs := make([]uint, 0, len(groups))
	for _, g := range groups {
		groupIDs = append(groupIDs, g.GroupID)
	}

	query := r.db.WithContext(ctx).Where("group_id IN ?", groupIDs)
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.DBType != "" {
		query = query.Where("db_type = ?", filter.DBType)
	}
	for _, tag := range filter.Tags {
		query = query.Where(
			"instance_id IN (?)",
			r.db.Model(&InstanceTag{}).Select("instance_id").Where("tag_name = ?", tag),
		)
	}

	var instances []Instance
	if err := query.Order("instance_id ASC").Find(&instances).Error; err != nil {
		return nil, fmt.Errorf("查询用户实例失败: %w", err)
	}
	return instances, nil
}

// UserAuthGroupIDs 用户所属的权限组 ID 集合（审批链节点使用字符串 ID）
func (r *Resolver) UserAuthGroupIDs(ctx context.Context, username string) ([]string, error) {
	var relations []UserAuthGroup
	err := r.db.WithContext(ctx).Where("username = ?", username).Find(&relations).Error
	if err != nil {
		return nil, fmt.Errorf("查询用户权限组失败: %w", err)
	}
	ids := make([]string, 0, len(relations))
	for _, rel := range relations {
		ids = append(ids, strconv.FormatUint(uint64(rel.AuthGroupID), 10))
	}
	return ids, nil
}

// GetGroup 按主键查询资源组
func (r *Resolver) GetGroup(ctx context.Context, groupID uint) (*ResourceGroup, error) {
	var group ResourceGroup
	err := r.db.WithContext(ctx).
		Where("group_id = ? AND is_deleted = ?", groupID, false).
		First(&group).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NewBusinessError(common.CodeGroupNotFound, "")
		}
		return nil, fmt.Errorf("查询资源组失败: %w", err)
	}
	return &group, nil
}

// GetInstance 按主键查询实例
func (r *Resolver) GetInstance(ctx context.Context, instanceID uint) (*Instance, error) {
	var inst Instance
	err := r.db.WithContext(ctx).Where("instance_id = ?", instanceID).First(&inst).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("实例不存在: %d", instanceID)
		}
		return nil, fmt.Errorf("查询实例失败: %w", err)
	}
	return &inst, nil
}

// InstanceTags 实例携带的标签名
func (r *Resolver) InstanceTags(ctx context.Context, instanceID uint) ([]string, error) {
	var tags []InstanceTag
	err := r.db.WithContext(ctx).Where("instance_id = ?", instanceID).Find(&tags).Error
	if err != nil {
		return nil, fmt.Errorf("查询实例标签失败: %w", err)
	}
	names := make([]string, 0, len(tags))
	for _, t := range tags {
		names = append(names, t.TagName)
	}
	return names, nil
}

// AuthGroupExists 审批组是否存在，实现 audit.GroupDirectory
func (r *Resolver) AuthGroupExists(ctx context.Context, authGroupID string) (bool, error) {
	id, err := strconv.ParseUint(authGroupID, 10, 64)
	if err != nil {
		return false, nil
	}
	var count int64
	err = r.db.WithContext(ctx).Model(&AuthGroup{}).
		Where("auth_group_id = ?", id).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("查询权限组失败: %w", err)
	}
	return count > 0, nil
}

// IsReviewer 用户是否属于审批组且持有对应工单类型的审核权限，
// 实现 audit.GroupDirectory
func (r *Resolver) IsReviewer(ctx context.Context, username, authGroupID string, workflowType audit.WorkflowType) (bool, error) {
	id, err := strconv.ParseUint(authGroupID, 10, 64)
	if err != nil {
		return false, nil
	}

	var member int64
	err = r.db.WithContext(ctx).Model(&UserAuthGroup{}).
		Where("username = ? AND auth_group_id = ?", username, id).
		Count(&member).Error
	if err != nil {
		return false, fmt.Errorf("查询组成员关系失败: %w", err)
	}
	if member == 0 {
		return false, nil
	}

	var group AuthGroup
	if err := r.db.WithContext(ctx).Where("auth_group_id = ?", id).First(&group).Error; err != nil {
		return false, fmt.Errorf("查询权限组失败: %w", err)
	}
	required := PermissionFor(workflowType)
	for _, perm := range group.Permissions {
		if perm == required {
			return true, nil
		}
	}
	return false, nil
}

// PermissionFor 工单类型对应的审核权限名
func PermissionFor(workflowType audit.WorkflowType) string {
	switch workflowType {
	case audit.TypeSQLReview:
		return "sql_review"
	case audit.TypeQueryPriv:
		return "query_review"
	case audit.TypeArchive:
		return "archive_review"
	default:
		return ""
	}
}
