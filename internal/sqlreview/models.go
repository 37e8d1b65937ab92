package sqlreview

import (
	"context"
	"time"

	"dbaudit/internal/audit"
	"dbaudit/internal/common"

	"gorm.io/gorm"
)

// 工单状态机（业务侧字符串枚举，和审批流的数字状态彼此独立）
const (
	StatusManReviewing = "workflow_manreviewing" // 人工审核中
	StatusReviewPass   = "workflow_review_pass"  // 审核通过，等待执行
	StatusAbort        = "workflow_abort"        // 已终止（驳回或取消）
	StatusQueuing      = "workflow_queuing"      // 已进入执行队列
	StatusTimingTask   = "workflow_timingtask"   // 定时执行中
	StatusExecuting    = "workflow_executing"    // 执行中
	StatusFinish       = "workflow_finish"       // 执行结束
	StatusException    = "workflow_exception"    // 执行异常
)

// SqlWorkflow SQL 上线工单
type SqlWorkflow struct {
	ID               uint            `json:"id" gorm:"primaryKey;autoIncrement"`
	WorkflowName     string          `json:"workflowName" gorm:"size:200;not null"`
	GroupID          uint            `json:"groupId" gorm:"not null;index"`
	GroupName        string          `json:"groupName" gorm:"size:100;not null"`
	InstanceID       uint            `json:"instanceId" gorm:"not null;index"`
	DBName           string          `json:"dbName" gorm:"size:100;not null"`
	Engineer         string          `json:"engineer" gorm:"size:100;not null;index"`
	EngineerDisplay  string          `json:"engineerDisplay" gorm:"size:100"`
	AuditAuthGroups  audit.GroupList `json:"auditAuthGroups" gorm:"type:json"` // 审批链镜像，由审批引擎回写
	Status           string          `json:"status" gorm:"size:50;not null;index"`
	IsManual         bool            `json:"isManual" gorm:"not null;default:false"` // 网关无法完整解析，强制人工
	IsBackup         bool            `json:"isBackup" gorm:"not null;default:true"`  // 执行时是否备份
	RunDateStart     *time.Time      `json:"runDateStart"`                           // 可执行时间窗口
	RunDateEnd       *time.Time      `json:"runDateEnd"`
	FinishTime       *time.Time      `json:"finishTime"`
	WorkflowRemark   string          `json:"workflowRemark" gorm:"size:500"`
	common.TimestampModel
}

func (SqlWorkflow) TableName() string {
	return "sql_workflow"
}

// SqlWorkflowContent 工单 SQL 正文与审核/执行结果，单独成表避免主表膨胀
type SqlWorkflowContent struct {
	ID            uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	WorkflowID    uint   `json:"workflowId" gorm:"not null;uniqueIndex"`
	SQLContent    string `json:"sqlContent" gorm:"type:longtext;not null"`
	ReviewContent string `json:"reviewContent" gorm:"type:longtext"` // 审核结果 JSON
	ExecuteResult string `json:"executeResult" gorm:"type:longtext"` // 执行结果 JSON
	common.TimestampModel
}

func (SqlWorkflowContent) TableName() string {
	return "sql_workflow_content"
}

// ============ audit.Payload 实现 ============

// Kind 工单类型
func (w *SqlWorkflow) Kind() audit.WorkflowType {
	return audit.TypeSQLReview
}

// PayloadID 工单主键
func (w *SqlWorkflow) PayloadID() uint {
	return w.ID
}

// PayloadGroupID 所属资源组
func (w *SqlWorkflow) PayloadGroupID() uint {
	return w.GroupID
}

// PayloadGroupName 所属资源组名
func (w *SqlWorkflow) PayloadGroupName() string {
	return w.GroupName
}

// Title 工单标题
func (w *SqlWorkflow) Title() string {
	return w.WorkflowName
}

// Remark 工单备注
func (w *SqlWorkflow) Remark() string {
	return w.WorkflowRemark
}

// Submitter 提交人
func (w *SqlWorkflow) Submitter() string {
	return w.Engineer
}

// SubmitterDisplay 提交人显示名
func (w *SqlWorkflow) SubmitterDisplay() string {
	return w.EngineerDisplay
}

// SetAuditChain 审批链镜像写回工单
func (w *SqlWorkflow) SetAuditChain(ctx context.Context, tx *gorm.DB, groups audit.GroupList) error {
	w.AuditAuthGroups = groups
	return tx.WithContext(ctx).Model(&SqlWorkflow{}).
		Where("id = ?", w.ID).
		Update("audit_auth_groups", groups).Error
}

// OnAuditResult 审批结论落定后的状态翻转。
// 定时任务取消等队列侧副作用由服务层在事务外处理。
func (w *SqlWorkflow) OnAuditResult(ctx context.Context, tx *gorm.DB, status audit.WorkflowStatus) error {
	var next string
	switch status {
	case audit.StatusPassed:
		next = StatusReviewPass
	case audit.StatusRejected, audit.StatusAborted:
		next = StatusAbort
	default:
		return nil
	}
	w.Status = next
	return tx.WithContext(ctx).Model(&SqlWorkflow{}).
		Where("id = ?", w.ID).
		Update("status", next).Error
}
