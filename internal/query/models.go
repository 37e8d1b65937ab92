package query

import (
	"context"
	"time"

	"dbaudit/internal/audit"
	"dbaudit/internal/common"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 权限级别
const (
	PrivTypeDatabase = 1 // 库级权限
	PrivTypeTable    = 2 // 表级权限
)

// QueryPrivilegesApply 查询权限申请工单。
// status 与审批流状态共用同一套数字枚举。
type QueryPrivilegesApply struct {
	ID              uint                        `json:"id" gorm:"primaryKey;autoIncrement"`
	TitleText       string                      `json:"title" gorm:"column:title;size:200;not null"`
	GroupID         uint                        `json:"groupId" gorm:"not null;index"`
	GroupName       string                      `json:"groupName" gorm:"size:100;not null"`
	UserName        string                      `json:"userName" gorm:"size:100;not null;index"`
	UserDisplay     string                      `json:"userDisplay" gorm:"size:100"`
	InstanceID      uint                        `json:"instanceId" gorm:"not null"`
	PrivType        int                         `json:"privType" gorm:"not null"` // 1 库级，2 表级
	DBList          datatypes.JSONSlice[string] `json:"dbList" gorm:"type:json"`
	TableList       datatypes.JSONSlice[string] `json:"tableList" gorm:"type:json"` // 表级权限时为 db.table
	LimitNum        int                         `json:"limitNum" gorm:"not null;default:100"` // 单次查询行数上限
	ValidDate       time.Time                   `json:"validDate" gorm:"not null"`            // 权限有效期
	Status          audit.WorkflowStatus        `json:"status" gorm:"not null;index"`
	AuditAuthGroups audit.GroupList             `json:"auditAuthGroups" gorm:"type:json"`
	ApplyRemark     string                      `json:"applyRemark" gorm:"size:500"`
	common.TimestampModel
}

func (QueryPrivilegesApply) TableName() string {
	return "query_privileges_apply"
}

// QueryPrivilege 已生效的查询权限，审批通过后按 db/table 展开物化
type QueryPrivilege struct {
	ID         uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	ApplyID    uint      `json:"applyId" gorm:"not null;index;uniqueIndex:uniq_apply_object"`
	UserName   string    `json:"userName" gorm:"size:100;not null;index"`
	InstanceID uint      `json:"instanceId" gorm:"not null"`
	PrivType   int       `json:"privType" gorm:"not null"`
	DBName     string    `json:"dbName" gorm:"size:100;not null;uniqueIndex:uniq_apply_object"`
	TableName_ string    `json:"tableName" gorm:"column:table_name;size:100;not null;default:'';uniqueIndex:uniq_apply_object"`
	LimitNum   int       `json:"limitNum" gorm:"not null"`
	ValidDate  time.Time `json:"validDate" gorm:"not null"`
	IsDeleted  bool      `json:"isDeleted" gorm:"not null;default:false"`
	common.TimestampModel
}

func (QueryPrivilege) TableName() string {
	return "query_privileges"
}

// ============ audit.Payload 实现 ============

// Kind 工单类型
func (a *QueryPrivilegesApply) Kind() audit.WorkflowType {
	return audit.TypeQueryPriv
}

// PayloadID 工单主键
func (a *QueryPrivilegesApply) PayloadID() uint {
	return a.ID
}

// PayloadGroupID 所属资源组
func (a *QueryPrivilegesApply) PayloadGroupID() uint {
	return a.GroupID
}

// PayloadGroupName 所属资源组名
func (a *QueryPrivilegesApply) PayloadGroupName() string {
	return a.GroupName
}

// Title 工单标题
func (a *QueryPrivilegesApply) Title() string {
	return a.TitleText
}

// Remark 工单备注
func (a *QueryPrivilegesApply) Remark() string {
	return a.ApplyRemark
}

// Submitter 申请人
func (a *QueryPrivilegesApply) Submitter() string {
	return a.UserName
}

// SubmitterDisplay 申请人显示名
func (a *QueryPrivilegesApply) SubmitterDisplay() string {
	return a.UserDisplay
}

// SetAuditChain 审批链镜像写回申请单
func (a *QueryPrivilegesApply) SetAuditChain(ctx context.Context, tx *gorm.DB, groups audit.GroupList) error {
	a.AuditAuthGroups = groups
	return tx.WithContext(ctx).Model(&QueryPrivilegesApply{}).
		Where("id = ?", a.ID).
		Update("audit_auth_groups", groups).Error
}

// OnAuditResult 审批结论投影：
// 通过时物化权限行，未通过时仅更新状态，
// 历史已生效的权限行不在此处回收。
func (a *QueryPrivilegesApply) OnAuditResult(ctx context.Context, tx *gorm.DB, status audit.WorkflowStatus) error {
	a.Status = status
	if err := tx.WithContext(ctx).Model(&QueryPrivilegesApply{}).
		Where("id = ?", a.ID).
		Update("status", status).Error; err != nil {
		return err
	}
	if status == audit.StatusPassed {
		return materializePrivileges(ctx, tx, a)
	}
	return nil
}
