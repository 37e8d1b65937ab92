package audit

import (
	"context"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// WorkflowType 工单类型
type WorkflowType int

const (
	TypeSQLReview WorkflowType = iota + 1 // SQL 上线工单
	TypeQueryPriv                         // 查询权限申请
	TypeArchive                           // 数据归档申请
)

// String 工单类型描述
func (t WorkflowType) String() string {
	switch t {
	case TypeSQLReview:
		return "SQL上线"
	case TypeQueryPriv:
		return "查询权限"
	case TypeArchive:
		return "数据归档"
	default:
		return "未知"
	}
}

// Label 指标与日志使用的英文标签
func (t WorkflowType) Label() string {
	switch t {
	case TypeSQLReview:
		return "sqlreview"
	case TypeQueryPriv:
		return "query"
	case TypeArchive:
		return "archive"
	default:
		return "unknown"
	}
}

// WorkflowStatus 审核状态
type WorkflowStatus int

const (
	StatusWaiting  WorkflowStatus = iota // 等待审核
	StatusPassed                         // 审核通过
	StatusRejected                       // 审核不通过
	StatusAborted                        // 审核取消
)

// String 状态描述
func (s WorkflowStatus) String() string {
	switch s {
	case StatusWaiting:
		return "待审核"
	case StatusPassed:
		return "审核通过"
	case StatusRejected:
		return "审核不通过"
	case StatusAborted:
		return "审核取消"
	default:
		return "未知"
	}
}

// Terminal 是否为终止态
func (s WorkflowStatus) Terminal() bool {
	return s == StatusRejected || s == StatusAborted
}

// WorkflowAction 工单生命周期动作
type WorkflowAction string

const (
	ActionSubmit         WorkflowAction = "submit"
	ActionPass           WorkflowAction = "pass"
	ActionReject         WorkflowAction = "reject"
	ActionAbort          WorkflowAction = "abort"
	ActionExecuteSetTime WorkflowAction = "execute_set_time"
	ActionExecuteStart   WorkflowAction = "execute_start"
	ActionExecuteEnd     WorkflowAction = "execute_end"
)

// Desc 动作描述
func (a WorkflowAction) Desc() string {
	switch a {
	case ActionSubmit:
		return "提交"
	case ActionPass:
		return "审核通过"
	case ActionReject:
		return "审核不通过"
	case ActionAbort:
		return "审核取消"
	case ActionExecuteSetTime:
		return "定时执行"
	case ActionExecuteStart:
		return "开始执行"
	case ActionExecuteEnd:
		return "执行结束"
	default:
		return string(a)
	}
}

// NoAudit 表示当前/下一审批组为空的哨兵值
const NoAudit = "-1"

// GroupList 有序审批组列表，落库为 JSON 数组
type GroupList = datatypes.JSONSlice[string]

// NextInChain 返回链条中 current 的后继组，没有则返回 NoAudit
func NextInChain(groups []string, current string) string {
	for i, g := range groups {
		if g == current {
			if i+1 < len(groups) {
				return groups[i+1]
			}
			return NoAudit
		}
	}
	return NoAudit
}

// JoinGroups 逗号串投影，仅用于展示与历史接口兼容
func JoinGroups(groups []string) string {
	return strings.Join(groups, ",")
}

// WorkflowAudit 审批流主记录，每个业务工单至多一条
type WorkflowAudit struct {
	AuditID           uint           `json:"auditId" gorm:"primaryKey;autoIncrement;column:audit_id"`
	GroupID           uint           `json:"groupId" gorm:"not null;index"`
	GroupName         string         `json:"groupName" gorm:"size:100;not null"`
	WorkflowID        uint           `json:"workflowId" gorm:"not null;uniqueIndex:uniq_workflow"`
	WorkflowType      WorkflowType   `json:"workflowType" gorm:"not null;uniqueIndex:uniq_workflow"`
	WorkflowTitle     string         `json:"workflowTitle" gorm:"size:200;not null"`
	WorkflowRemark    string         `json:"workflowRemark" gorm:"size:500"`
	AuditAuthGroups   GroupList      `json:"auditAuthGroups" gorm:"type:json"` // 创建时冻结的有序审批组
	CurrentAudit      string         `json:"currentAudit" gorm:"size:32;not null;default:-1"`
	NextAudit         string         `json:"nextAudit" gorm:"size:32;not null;default:-1"`
	CurrentStatus     WorkflowStatus `json:"currentStatus" gorm:"not null;index"`
	CreateUser        string         `json:"createUser" gorm:"size:100;not null;index"`
	CreateUserDisplay string         `json:"createUserDisplay" gorm:"size:100"`
	CreateTime        time.Time      `json:"createTime" gorm:"not null;autoCreateTime"`
	UpdateTime        time.Time      `json:"updateTime" gorm:"not null;autoUpdateTime"`
}

func (WorkflowAudit) TableName() string {
	return "workflow_audit"
}

// AuthGroupsDisplay 审批组逗号串投影
func (a *WorkflowAudit) AuthGroupsDisplay() string {
	return JoinGroups(a.AuditAuthGroups)
}

// WorkflowAuditDetail 审批链每次决策的明细，只增不改
type WorkflowAuditDetail struct {
	AuditDetailID uint           `json:"auditDetailId" gorm:"primaryKey;autoIncrement;column:audit_detail_id"`
	AuditID       uint           `json:"auditId" gorm:"not null;index"`
	AuditUser     string         `json:"auditUser" gorm:"size:100;not null"`
	AuditStatus   WorkflowStatus `json:"auditStatus" gorm:"not null"`
	AuditTime     time.Time      `json:"auditTime" gorm:"not null;autoCreateTime"`
	Remark        string         `json:"remark" gorm:"size:500"`
}

func (WorkflowAuditDetail) TableName() string {
	return "workflow_audit_detail"
}

// WorkflowAuditSetting 按（工单类型，资源组）维度的审批流配置
type WorkflowAuditSetting struct {
	AuditSettingID  uint         `json:"auditSettingId" gorm:"primaryKey;autoIncrement;column:audit_setting_id"`
	WorkflowType    WorkflowType `json:"workflowType" gorm:"not null;uniqueIndex:uniq_group_type"`
	GroupID         uint         `json:"groupId" gorm:"not null;uniqueIndex:uniq_group_type"`
	GroupName       string       `json:"groupName" gorm:"size:100;not null"`
	AuditAuthGroups GroupList    `json:"auditAuthGroups" gorm:"type:json"`
	CreateTime      time.Time    `json:"createTime" gorm:"not null;autoCreateTime"`
	SysTime         time.Time    `json:"sysTime" gorm:"not null;autoUpdateTime"`
}

func (WorkflowAuditSetting) TableName() string {
	return "workflow_audit_setting"
}

// WorkflowLog 工单操作日志，覆盖审核决策之外的执行阶段
type WorkflowLog struct {
	ID              uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	AuditID         uint           `json:"auditId" gorm:"not null;index"`
	OperationType   WorkflowAction `json:"operationType" gorm:"size:32;not null"`
	OperationDesc   string         `json:"operationDesc" gorm:"size:50"`
	OperationInfo   string         `json:"operationInfo" gorm:"size:1000"`
	Operator        string         `json:"operator" gorm:"size:100"`
	OperatorDisplay string         `json:"operatorDisplay" gorm:"size:100"`
	OperationTime   time.Time      `json:"operationTime" gorm:"not null;autoCreateTime"`
}

func (WorkflowLog) TableName() string {
	return "workflow_log"
}

// Payload 业务工单载体能力接口。
// 审批引擎只依赖该接口，不感知具体工单类型。
type Payload interface {
	Kind() WorkflowType
	PayloadID() uint
	PayloadGroupID() uint
	PayloadGroupName() string
	Title() string
	Remark() string
	Submitter() string
	SubmitterDisplay() string

	// SetAuditChain 将解析后的审批链镜像写回业务表，
	// 下游查询无需再访问审批引擎。
	SetAuditChain(ctx context.Context, tx *gorm.DB, groups GroupList) error

	// OnAuditResult 审批结论落定后的业务侧投影（状态翻转、权限生效等）。
	OnAuditResult(ctx context.Context, tx *gorm.DB, status WorkflowStatus) error
}

// User 审批操作人
type User struct {
	Username    string
	DisplayName string
	IsSuperuser bool
}
