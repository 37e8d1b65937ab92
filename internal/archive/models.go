package archive

import (
	"context"
	"time"

	"dbaudit/internal/audit"
	"dbaudit/internal/common"

	"gorm.io/gorm"
)

// 归档执行状态
const (
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)

// ArchiveConfig 数据归档配置工单。
// state 表示是否纳入定时归档调度，仅审批通过后为 true。
type ArchiveConfig struct {
	ID              uint                 `json:"id" gorm:"primaryKey;autoIncrement"`
	TitleText       string               `json:"title" gorm:"column:title;size:200;not null"`
	GroupID         uint                 `json:"groupId" gorm:"not null;index"`
	GroupName       string               `json:"groupName" gorm:"size:100;not null"`
	UserName        string               `json:"userName" gorm:"size:100;not null;index"`
	UserDisplay     string               `json:"userDisplay" gorm:"size:100"`
	SrcInstanceID   uint                 `json:"srcInstanceId" gorm:"not null"`
	SrcDBName       string               `json:"srcDbName" gorm:"size:100;not null"`
	SrcTableName    string               `json:"srcTableName" gorm:"size:100;not null"`
	DestInstanceID  uint                 `json:"destInstanceId"`
	DestDBName      string               `json:"destDbName" gorm:"size:100"`
	DestTableName   string               `json:"destTableName" gorm:"size:100"`
	Condition       string               `json:"condition" gorm:"size:500;not null"` // 归档行筛选条件
	Mode            string               `json:"mode" gorm:"size:20;not null"`       // dest/purge/file
	NoDelete        bool                 `json:"noDelete" gorm:"not null;default:false"`
	SleepSeconds    int                  `json:"sleepSeconds" gorm:"not null;default:1"`
	Status          audit.WorkflowStatus `json:"status" gorm:"not null;index"`
	State           bool                 `json:"state" gorm:"not null;default:false;index"` // 是否启用调度
	AuditAuthGroups audit.GroupList      `json:"auditAuthGroups" gorm:"type:json"`
	ApplyRemark     string               `json:"applyRemark" gorm:"size:500"`
	LastArchiveTime *time.Time           `json:"lastArchiveTime"`
	common.TimestampModel
}

func (ArchiveConfig) TableName() string {
	return "archive_config"
}

// ArchiveLog 单次归档执行记录
type ArchiveLog struct {
	ID           uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	ArchiveID    uint      `json:"archiveId" gorm:"not null;index"`
	CmdText      string    `json:"cmd" gorm:"column:cmd;size:1000"`
	Condition    string    `json:"condition" gorm:"size:500"`
	ArchivedRows int64     `json:"archivedRows" gorm:"not null;default:0"`
	Status       string    `json:"status" gorm:"size:20;not null"`
	ErrorInfo    string    `json:"errorInfo" gorm:"size:2000"`
	StartTime    time.Time `json:"startTime" gorm:"not null"`
	EndTime      time.Time `json:"endTime" gorm:"not null"`
	common.TimestampModel
}

func (ArchiveLog) TableName() string {
	return "archive_log"
}

// ============ audit.Payload 实现 ============

func (c *ArchiveConfig) Kind() audit.WorkflowType {
	return audit.TypeArchive
}

func (c *ArchiveConfig) PayloadID() uint {
	return c.ID
}

func (c *ArchiveConfig) PayloadGroupID() uint {
	return c.GroupID
}

func (c *ArchiveConfig) PayloadGroupName() string {
	return c.GroupName
}

func (c *ArchiveConfig) Title() string {
	return c.TitleText
}

func (c *ArchiveConfig) Remark() string {
	return c.ApplyRemark
}

func (c *ArchiveConfig) Submitter() string {
	return c.UserName
}

func (c *ArchiveConfig) SubmitterDisplay() string {
	return c.UserDisplay
}

// SetAuditChain 审批链镜像写回配置
func (c *ArchiveConfig) SetAuditChain(ctx context.Context, tx *gorm.DB, groups audit.GroupList) error {
	c.AuditAuthGroups = groups
	return tx.WithContext(ctx).Model(&ArchiveConfig{}).
		Where("id = ?", c.ID).
		Update("audit_auth_groups", groups).Error
}

// OnAuditResult 审批结论投影：
// 仅审批通过时启用调度，其余结论一律停用。
func (c *ArchiveConfig) OnAuditResult(ctx context.Context, tx *gorm.DB, status audit.WorkflowStatus) error {
	c.Status = status
	c.State = status == audit.StatusPassed
	return tx.WithContext(ctx).Model(&ArchiveConfig{}).
		Where("id = ?", c.ID).
		Updates(map[string]any{
			"status": status,
			"state":  c.State,
		}).Error
}

var _ audit.Payload = (*ArchiveConfig)(nil)
